package core

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmailTemplates_Render(t *testing.T) {
	tmpls, err := NewEmailTemplates(&Config{AppName: "Kidogo", FrontendBaseURL: "https://kidogo.test", TestMode: true})
	require.NoError(t, err)
	for _, name := range []string{"welcome", "password_reset", "registration_approved"} {
		assert.True(t, tmpls.Has(name), name)
	}
	assert.False(t, tmpls.Has("_base"))

	tests := []struct {
		name     string
		msg      EmailMessage
		wantErr  error
		wantText []string
		wantHTML []string
	}{
		{name: "plain body", msg: EmailMessage{BodyStr: "Hello"}, wantText: []string{"Hello"}},
		{
			name:     "welcome",
			msg:      EmailMessage{TemplateName: "welcome", TemplateData: map[string]interface{}{"Name": "Jane"}},
			wantText: []string{"Hello Jane,", "https://kidogo.test/login", "The Kidogo team"},
			wantHTML: []string{"<p>Hello Jane,</p>", "<title>Kidogo</title>"},
		},
		{
			name: "registration approved",
			msg: EmailMessage{
				TemplateName: "registration_approved",
				TemplateData: map[string]interface{}{"ParentName": "Jane", "ChildName": "Ada <Lovelace>"},
			},
			wantText: []string{"registration of Ada <Lovelace> has been approved"},
			wantHTML: []string{"Ada &lt;Lovelace&gt;"},
		},
		{name: "unknown template", msg: EmailMessage{TemplateName: "nope"}, wantErr: ErrUnknownTemplate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.msg
			err := tmpls.Render(&msg)
			if tt.wantErr != nil {
				assert.Equal(t, tt.wantErr, errors.Cause(err))
				return
			}
			require.NoError(t, err)
			for _, want := range tt.wantText {
				assert.Contains(t, msg.TextContent, want)
			}
			for _, want := range tt.wantHTML {
				assert.Contains(t, msg.HTMLContent, want)
			}
		})
	}

	// missing keys are errors in test mode
	msg := EmailMessage{TemplateName: "welcome", TemplateData: map[string]interface{}{}}
	assert.Error(t, tmpls.Render(&msg))
}

func TestEmailMessage_Attach(t *testing.T) {
	var msg EmailMessage
	require.NoError(t, msg.Attach(strings.NewReader("%PDF-1.4 menu"), "menu.pdf"))
	require.NoError(t, msg.Attach(strings.NewReader("a,b"), "list.csv", "text/csv"))

	require.True(t, msg.HasAttachments())
	assert.Equal(t, "application/pdf", msg.Attachments[0].ContentType)
	assert.Equal(t, "text/csv", msg.Attachments[1].ContentType)
	decoded, err := base64.StdEncoding.DecodeString(msg.Attachments[1].Content.String())
	require.NoError(t, err)
	assert.Equal(t, "a,b", string(decoded))
	assert.False(t, msg.HasRecipients())
	assert.False(t, msg.HasContent())
}
