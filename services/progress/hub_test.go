package progress

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/kidogo/core"
	"github.com/trezcool/kidogo/core/upload"
)

func dialHub(t *testing.T, hub *Hub, topic string, current *upload.Session) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = hub.ServeWS(w, r, topic, current)
	}))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestHub(t *testing.T) {
	hub := NewHub(nopLogger{})
	current := &upload.Session{ID: "s1", State: upload.StateInProgress, Progress: 10}
	conn := dialHub(t, hub, "s1", current)

	msg := readMessage(t, conn)
	assert.Equal(t, MsgConnected, msg.Type)
	msg = readMessage(t, conn)
	assert.Equal(t, MsgProgress, msg.Type)
	require.NotNil(t, msg.Session)
	assert.Equal(t, 10.0, msg.Session.Progress)

	require.Eventually(t, func() bool { return hub.Listeners("s1") == 1 }, time.Second, 10*time.Millisecond)

	hub.Observe(upload.Session{ID: "other", Progress: 50}) // not for this client
	hub.Observe(upload.Session{ID: "s1", State: upload.StateInProgress, Progress: 60})
	msg = readMessage(t, conn)
	assert.Equal(t, MsgProgress, msg.Type)
	assert.Equal(t, 60.0, msg.Session.Progress)

	hub.Notify(core.Notification{Topic: "s1", Level: core.NotifyError, Title: "Upload failed", Message: "a.png could not be uploaded."})
	msg = readMessage(t, conn)
	assert.Equal(t, MsgNotification, msg.Type)
	require.NotNil(t, msg.Notification)
	assert.Equal(t, core.NotifyError, msg.Notification.Level)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return hub.Listeners("s1") == 0 }, 2*time.Second, 10*time.Millisecond)
}
