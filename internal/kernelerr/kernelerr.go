// Package kernelerr defines the typed error kinds carried in the canonical
// tool-result envelope and classified by the kernel dispatcher.
package kernelerr

import "fmt"

// Kind is a stable machine string identifying a category of dispatch failure.
type Kind string

const (
	ToolNotFound       Kind = "tool_not_found"
	PermissionDenied   Kind = "permission_denied"
	InvalidArguments   Kind = "invalid_arguments"
	TimeoutIdle        Kind = "timeout_idle"
	TimeoutTotal       Kind = "timeout_total"
	Cancelled          Kind = "cancelled"
	SessionRequired    Kind = "session_required"
	SessionNotFound    Kind = "session_not_found"
	InvalidBatchIndex  Kind = "invalid_batch_index"
	EmbedderUnavailable Kind = "embedder_unavailable"
	IndexUnavailable   Kind = "index_unavailable"
	Internal           Kind = "internal"
)

// Error is a typed dispatch error carrying a stable Kind and human message.
type Error struct {
	Kind    Kind
	Message string
	// Fields carries structured context, e.g. skill_name/tool_name/required_permission
	// for permission_denied. Never includes permission lists themselves.
	Fields map[string]string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is supports errors.Is(err, kernelerr.New(kind, "")) style sentinel comparison
// by Kind rather than pointer identity.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New builds an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf builds an Error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithField attaches a structured field and returns the same error for chaining.
func (e *Error) WithField(key, value string) *Error {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	e.Fields[key] = value
	return e
}

// Sentinel returns a zero-message error of the given kind, suitable as an
// errors.Is() comparison target.
func Sentinel(kind Kind) *Error { return &Error{Kind: kind} }
