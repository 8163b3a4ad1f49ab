package platform

import (
	"errors"

	"github.com/go-drift/videoplayer/pkg/player"
	"github.com/go-drift/videoplayer/pkg/source"
)

// Sentinel errors for plugin operations.
var (
	// ErrMethodNotFound indicates the plugin has no handler for the method.
	ErrMethodNotFound = errors.New("platform: method not implemented")

	// ErrInvalidArguments indicates the arguments passed to the method were invalid.
	ErrInvalidArguments = errors.New("platform: invalid arguments")

	// ErrPlayerNotFound indicates no live player has the given texture id.
	ErrPlayerNotFound = errors.New("platform: player not found")

	// ErrClosed is returned when the plugin has been shut down.
	ErrClosed = errors.New("platform: plugin closed")
)

// Error codes reported to the host in ChannelError.Code.
const (
	CodeUnsupportedFormat = "unsupported_format"
	CodeDisposed          = "disposed"
	CodeNotFound          = "not_found"
	CodeInvalidArguments  = "invalid_arguments"
	CodeNotImplemented    = "not_implemented"
	CodeClosed            = "closed"
	CodeInternal          = "internal"
)

// ChannelError is an error in the shape the host receives it.
type ChannelError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func (e *ChannelError) Error() string {
	if e.Message != "" {
		return e.Code + ": " + e.Message
	}
	return e.Code
}

// NewChannelError creates a new ChannelError with the given code and message.
func NewChannelError(code, message string) *ChannelError {
	return &ChannelError{Code: code, Message: message}
}

// AsChannelError maps err to the code the host understands. A nil error maps
// to nil.
func AsChannelError(err error) *ChannelError {
	if err == nil {
		return nil
	}
	var ce *ChannelError
	if errors.As(err, &ce) {
		return ce
	}
	code := CodeInternal
	switch {
	case errors.Is(err, source.ErrUnsupportedFormat):
		code = CodeUnsupportedFormat
	case errors.Is(err, player.ErrDisposed):
		code = CodeDisposed
	case errors.Is(err, ErrPlayerNotFound):
		code = CodeNotFound
	case errors.Is(err, ErrInvalidArguments):
		code = CodeInvalidArguments
	case errors.Is(err, ErrMethodNotFound):
		code = CodeNotImplemented
	case errors.Is(err, ErrClosed):
		code = CodeClosed
	}
	return NewChannelError(code, err.Error())
}
