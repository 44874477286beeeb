package core

// Logger logs messages and reports them to the error tracker.
// args may contain an error, a map[string]interface{} of extras and the current user.User.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Fatal(msg string, args ...interface{})
}

// Notification levels
const (
	NotifyInfo  = "info"
	NotifyError = "error"
)

// Notification is a user-facing message delivered outside of the request/response cycle.
type Notification struct {
	Topic   string `json:"topic"` // eg. an upload session ID
	Level   string `json:"level"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

// Notifier delivers Notifications to the users listening on a topic.
type Notifier interface {
	Notify(n Notification)
}
