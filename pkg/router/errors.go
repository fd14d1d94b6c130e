package router

import (
	"fmt"
	"time"

	"github.com/hapt-protocol/hapt-go/pkg/wire"
)

// TimeoutError reports a request that received no response within its
// configured timeout.
type TimeoutError struct {
	// Operation is the message kind that timed out.
	Operation string

	// Timeout is the configured duration that elapsed.
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Operation, e.Timeout)
}

// ServerError reports an error response from the server.
type ServerError struct {
	Code    wire.ErrorCode
	Message string
}

func (e *ServerError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("server error %s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("server error %s", e.Code)
}
