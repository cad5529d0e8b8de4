package chat

import "fmt"

// ErrorCode is the short machine-readable code carried on error events.
type ErrorCode string

const (
	// CodeInvalidJoin indicates a join attempt with a missing or empty tenant identifier.
	CodeInvalidJoin ErrorCode = "invalid_join"
	// CodeNotJoined indicates a message or typing event arrived before a successful join.
	CodeNotJoined ErrorCode = "not_joined"
	// CodeNotFound indicates an operation referenced an unknown connection or session.
	CodeNotFound ErrorCode = "not_found"
	// CodePersistenceFailure indicates the message store rejected a save; nothing was broadcast.
	CodePersistenceFailure ErrorCode = "persistence_failure"
	// CodeUnauthorized indicates a role-gated operation by an insufficiently privileged caller.
	CodeUnauthorized ErrorCode = "unauthorized"
	// CodeInvalidEvent indicates a payload that does not decode into any known event variant.
	CodeInvalidEvent ErrorCode = "invalid_event"
)

// Error is a coded chat error reported back to the originating connection only.
type Error struct {
	Code    ErrorCode
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newError(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the machine-readable code from an error, defaulting to
// invalid_event for anything that is not a chat error.
func CodeOf(err error) ErrorCode {
	if chatErr, ok := err.(*Error); ok {
		return chatErr.Code
	}
	return CodeInvalidEvent
}
