package flow

import "github.com/pkg/errors"

// Kind classifies flow failures.
type Kind int

const (
	KindUnavailable Kind = iota
	KindMissingCredential
	KindInvalidCredential
	KindQuotaExceeded
	KindInvalidOutput
)

var kindNames = map[Kind]string{
	KindUnavailable:       "unavailable",
	KindMissingCredential: "missing_credential",
	KindInvalidCredential: "invalid_credential",
	KindQuotaExceeded:     "quota_exceeded",
	KindInvalidOutput:     "invalid_output",
}

var kindMessages = map[Kind]string{
	KindUnavailable:       "The content assistant is unavailable right now. Please try again later.",
	KindMissingCredential: "The content assistant is not configured. Please contact an administrator.",
	KindInvalidCredential: "The content assistant credentials were rejected. Please contact an administrator.",
	KindQuotaExceeded:     "The content assistant quota has been reached. Please try again later.",
	KindInvalidOutput:     "The content assistant returned an unexpected answer. Please try again.",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Message is the user-facing text for the kind.
func (k Kind) Message() string {
	if msg, ok := kindMessages[k]; ok {
		return msg
	}
	return kindMessages[KindUnavailable]
}

// Error is returned by flows and Generators for every generation failure.
type Error struct {
	Kind Kind
	Err  error
}

func NewError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of err. Errors that are not flow errors are KindUnavailable.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnavailable
}
