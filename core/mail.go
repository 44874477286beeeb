package core

import (
	"bytes"
	"encoding/base64"
	htmltmpl "html/template"
	"io"
	"io/fs"
	"net/http"
	"net/mail"
	"os"
	"path"
	"path/filepath"
	"strings"
	texttmpl "text/template"

	"github.com/pkg/errors"

	appfs "github.com/trezcool/kidogo/fs"
)

const (
	emailTemplatesDir = "templates/email"
	textTmplExt       = ".txt"
	htmlTmplExt       = ".gohtml"
)

var ErrUnknownTemplate = errors.New("unknown email template")

type (
	Attachment struct {
		Content     *bytes.Buffer // base64 encoded
		ContentType string
		Filename    string
	}

	EmailMessage struct {
		To          []mail.Address
		Cc          []mail.Address
		Bcc         []mail.Address
		Subject     string
		BodyStr     string // simple text/plain, non-templated content
		Attachments []Attachment

		// templated contents
		TemplateName string // without ext
		TemplateData interface{}
		TextContent  string
		HTMLContent  string
	}

	// ContextData is what email templates are executed with.
	ContextData struct {
		AppName         string
		FrontendBaseURL string
		Data            interface{}
	}

	// EmailService is any service that can send emails
	EmailService interface {
		// SendMessages sends messages concurrently
		SendMessages(messages ...*EmailMessage)
	}

	// EmailTemplates renders messages with the embedded templates/email files.
	// Every "<name>.txt" and "<name>.gohtml" is parsed along with its "_base" layout.
	EmailTemplates struct {
		appName         string
		frontendBaseURL string
		text            map[string]*texttmpl.Template
		html            map[string]*htmltmpl.Template
	}
)

// NewEmailTemplates parses the email templates once. Missing keys fail rendering in debug and test mode.
func NewEmailTemplates(conf *Config) (*EmailTemplates, error) {
	et := &EmailTemplates{
		appName:         conf.AppName,
		frontendBaseURL: conf.FrontendBaseURL,
		text:            make(map[string]*texttmpl.Template),
		html:            make(map[string]*htmltmpl.Template),
	}
	strict := conf.Debug || conf.TestMode

	fps, err := fs.Glob(appfs.FS, path.Join(emailTemplatesDir, "*"))
	if err != nil {
		return nil, errors.Wrap(err, "listing email templates")
	}
	for _, fp := range fps {
		fname := path.Base(fp)
		ext := path.Ext(fname)
		name := strings.TrimSuffix(fname, ext)
		if strings.HasPrefix(fname, "_") {
			continue
		}

		switch ext {
		case textTmplExt:
			tmpl, err := texttmpl.ParseFS(appfs.FS, path.Join(emailTemplatesDir, "_base"+ext), fp)
			if err != nil {
				return nil, errors.Wrapf(err, "parsing %s", fp)
			}
			if strict {
				tmpl = tmpl.Option("missingkey=error")
			}
			et.text[name] = tmpl
		case htmlTmplExt:
			tmpl, err := htmltmpl.ParseFS(appfs.FS, path.Join(emailTemplatesDir, "_base"+ext), fp)
			if err != nil {
				return nil, errors.Wrapf(err, "parsing %s", fp)
			}
			if strict {
				tmpl = tmpl.Option("missingkey=error")
			}
			et.html[name] = tmpl
		}
	}
	return et, nil
}

// Has reports whether a text or html template is named name.
func (et *EmailTemplates) Has(name string) bool {
	_, txt := et.text[name]
	_, html := et.html[name]
	return txt || html
}

// Render fills m.TextContent and m.HTMLContent.
// BodyStr takes precedence over the text template; messages without a template are left as is.
func (et *EmailTemplates) Render(m *EmailMessage) error {
	if m.BodyStr != "" {
		m.TextContent = m.BodyStr
	}
	if m.TemplateName == "" {
		return nil
	}
	if !et.Has(m.TemplateName) {
		return errors.Wrap(ErrUnknownTemplate, m.TemplateName)
	}

	data := ContextData{AppName: et.appName, FrontendBaseURL: et.frontendBaseURL, Data: m.TemplateData}
	var buff bytes.Buffer

	if tmpl, ok := et.text[m.TemplateName]; ok && m.BodyStr == "" {
		if err := tmpl.Execute(&buff, data); err != nil {
			return errors.Wrapf(err, "rendering %s%s", m.TemplateName, textTmplExt)
		}
		m.TextContent = buff.String()
	}
	if tmpl, ok := et.html[m.TemplateName]; ok {
		buff.Reset()
		if err := tmpl.Execute(&buff, data); err != nil {
			return errors.Wrapf(err, "rendering %s%s", m.TemplateName, htmlTmplExt)
		}
		m.HTMLContent = buff.String()
	}
	return nil
}

func (m *EmailMessage) Attach(r io.Reader, filename string, ct ...string) error {
	content, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	at := Attachment{Filename: filename, Content: new(bytes.Buffer)}
	encoder := base64.NewEncoder(base64.StdEncoding, at.Content)
	if _, err := encoder.Write(content); err != nil {
		return err
	}
	if err := encoder.Close(); err != nil {
		return err
	}

	if len(ct) > 0 {
		at.ContentType = ct[0]
	} else {
		at.ContentType = http.DetectContentType(content)
	}
	m.Attachments = append(m.Attachments, at)
	return nil
}

func (m *EmailMessage) AttachFile(path string, contentType ...string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return m.Attach(f, filepath.Base(path), contentType...)
}

func (m *EmailMessage) HasRecipients() bool  { return len(m.To) > 0 }
func (m *EmailMessage) HasContent() bool     { return (m.TextContent != "") || (m.HTMLContent != "") }
func (m *EmailMessage) HasAttachments() bool { return len(m.Attachments) > 0 }
