// Package worker is the boundary to the external worker process that
// performs downloads and transcriptions. Calls are request/response over a
// websocket; the worker also pushes download events on the same socket.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnavailableRuntime is returned when no worker is reachable.
var ErrUnavailableRuntime = errors.New("worker runtime unavailable")

// Invoker sends one named command to the worker and returns its raw result.
// Every call yields exactly one outcome.
type Invoker interface {
	Invoke(ctx context.Context, command string, args any) (json.RawMessage, error)
}

// InvocationError is a failure reported by the worker itself.
type InvocationError struct {
	Command string
	Message string
}

// Error formats the failure for logs.
func (e *InvocationError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Command, e.Message)
}

// Unavailable is the Invoker used when the worker cannot be dialled. Every
// call fails immediately.
type Unavailable struct{}

// Invoke always returns ErrUnavailableRuntime.
func (Unavailable) Invoke(context.Context, string, any) (json.RawMessage, error) {
	return nil, ErrUnavailableRuntime
}

// Message returns the user-facing text for err: the worker's own message
// for an InvocationError, otherwise err's text.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var invErr *InvocationError
	if errors.As(err, &invErr) {
		return invErr.Message
	}
	return err.Error()
}
