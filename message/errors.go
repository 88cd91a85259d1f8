package message

import (
	"errors"
	"fmt"
)

// Code classifies a call-level failure reported by the server.
type Code uint8

const (
	CodeApplication Code = 1 // the handler returned an error
	CodeUnknownRPC  Code = 2 // no handler registered for the ID
	CodeDecode      Code = 3 // request payload did not decode as the handler's request type
	CodeInternal    Code = 4 // handler panicked or the result could not be encoded
	CodeRateLimited Code = 5
	CodeTimeout     Code = 6
)

func (c Code) String() string {
	switch c {
	case CodeApplication:
		return "application"
	case CodeUnknownRPC:
		return "unknown rpc"
	case CodeDecode:
		return "decode"
	case CodeInternal:
		return "internal"
	case CodeRateLimited:
		return "rate limited"
	case CodeTimeout:
		return "timeout"
	default:
		return fmt.Sprintf("code(%d)", uint8(c))
	}
}

// Error is the payload of a StatusError response.
type Error struct {
	Code    Code   `json:"code" msgpack:"code"`
	Message string `json:"message" msgpack:"message"`
}

var (
	ErrUnknownRPC  = errors.New("unknown rpc")
	ErrBadRequest  = errors.New("request payload decode failed")
	ErrRateLimited = errors.New("rate limit exceeded")
	ErrTimedOut    = errors.New("request timed out")
	ErrInternal    = errors.New("internal server error")
)

// RemoteError is returned to a caller when the server answered with a StatusError
// response. The connection that carried it remains usable.
type RemoteError struct {
	ID      ID
	Code    Code
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.ID, e.Code, e.Message)
}

// Is matches the sentinel for the error's code, so callers can write
// errors.Is(err, message.ErrUnknownRPC).
func (e *RemoteError) Is(target error) bool {
	switch target {
	case ErrUnknownRPC:
		return e.Code == CodeUnknownRPC
	case ErrBadRequest:
		return e.Code == CodeDecode
	case ErrRateLimited:
		return e.Code == CodeRateLimited
	case ErrTimedOut:
		return e.Code == CodeTimeout
	case ErrInternal:
		return e.Code == CodeInternal
	}
	return false
}

// Application reports whether the error came from the handler itself.
func (e *RemoteError) Application() bool {
	return e.Code == CodeApplication
}

// Remote converts a decoded Error payload into the caller-facing error.
func (e Error) Remote(id ID) *RemoteError {
	return &RemoteError{ID: id, Code: e.Code, Message: e.Message}
}
