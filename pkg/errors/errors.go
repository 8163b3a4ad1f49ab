// Package errors provides structured error reporting for video player sessions.
//
// Faults that cannot be returned to a caller (engine callbacks, IPC reader
// goroutines, recovered panics) are reported here and routed to a single
// process-wide ErrorHandler.
package errors

import (
	"fmt"
	"time"
)

// ErrorKind identifies the category of an error.
type ErrorKind int

const (
	// KindUnknown indicates an error of unknown type.
	KindUnknown ErrorKind = iota
	// KindPlatform indicates a host channel or method-call error.
	KindPlatform
	// KindParsing indicates a payload that could not be decoded.
	KindParsing
	// KindInit indicates a failure while creating a player session.
	KindInit
	// KindEngine indicates a fault reported by the media engine.
	KindEngine
	// KindSource indicates a media source that could not be resolved.
	KindSource
	// KindPanic indicates a recovered panic.
	KindPanic
)

func (k ErrorKind) String() string {
	switch k {
	case KindPlatform:
		return "platform"
	case KindParsing:
		return "parsing"
	case KindInit:
		return "init"
	case KindEngine:
		return "engine"
	case KindSource:
		return "source"
	case KindPanic:
		return "panic"
	default:
		return "unknown"
	}
}

// PlayerError is a structured error tied to a player operation.
type PlayerError struct {
	// Op is the operation that failed (e.g., "player.SelectTrack").
	Op string
	// Kind categorizes the error.
	Kind ErrorKind
	// Err is the underlying error.
	Err error
	// Channel is the event channel name, if applicable.
	Channel string
	// PlayerID is the texture id of the session, zero when not tied to one.
	PlayerID int64
	// StackTrace contains the call stack at the time of the error.
	StackTrace string
	// Timestamp is when the error occurred.
	Timestamp time.Time
}

func (e *PlayerError) Error() string {
	if e.Channel != "" {
		return fmt.Sprintf("%s [%s] channel=%s: %v", e.Op, e.Kind, e.Channel, e.Err)
	}
	return fmt.Sprintf("%s [%s]: %v", e.Op, e.Kind, e.Err)
}

func (e *PlayerError) Unwrap() error {
	return e.Err
}

// PanicError represents a recovered panic.
type PanicError struct {
	// Op is the operation that panicked (e.g., "mpv.readLoop").
	Op string
	// Value is the value passed to panic().
	Value any
	// StackTrace contains the call stack at the time of the panic.
	StackTrace string
	// Timestamp is when the panic occurred.
	Timestamp time.Time
}

func (e *PanicError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("panic in %s: %v", e.Op, e.Value)
	}
	return fmt.Sprintf("panic: %v", e.Value)
}

// ParseError represents a payload that did not have the expected shape.
type ParseError struct {
	// Source names where the payload came from (a channel or IPC property).
	Source string
	// DataType is the expected type name.
	DataType string
	// Got is the actual data received.
	Got any
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse %s from %s: got %T", e.DataType, e.Source, e.Got)
}

// ErrorHandler receives reported errors.
type ErrorHandler interface {
	// HandleError is called when an error is reported.
	HandleError(err *PlayerError)
	// HandlePanic is called when a panic is recovered.
	HandlePanic(err *PanicError)
}
