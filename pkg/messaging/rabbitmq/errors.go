package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNoConsumers           = errors.New("rabbitmq: no consumers registered")
	ErrAlreadyRunning        = errors.New("rabbitmq: runtime is already running")
	ErrRegisterWhileRunning  = errors.New("rabbitmq: consumers must be registered before start")
	ErrNotConnected          = errors.New("rabbitmq: not connected")
	ErrInvalidTransition     = errors.New("rabbitmq: invalid lifecycle transition")
	ErrDeliveriesClosed      = errors.New("rabbitmq: delivery stream closed by broker")
	ErrConnectionBlocked     = errors.New("rabbitmq: connection blocked by broker for too long")
	ErrProcessingInterrupted = errors.New("rabbitmq: processing interrupted by shutdown")
	ErrMissingURL            = errors.New("rabbitmq: broker url is required")
	ErrInvalidCertificate    = errors.New("rabbitmq: invalid CA certificate")
)

// ConnectivityError reports a failure to open or use the broker connection
// or one of its channels.
type ConnectivityError struct {
	Op  string
	Err error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("rabbitmq: connectivity error [%s]: %v", e.Op, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// RegistrationError rejects a register or start call made in the wrong
// lifecycle state or with an unusable consumer configuration.
type RegistrationError struct {
	Queue string
	Err   error
}

func (e *RegistrationError) Error() string {
	if e.Queue == "" {
		return fmt.Sprintf("rabbitmq: registration error: %v", e.Err)
	}
	return fmt.Sprintf("rabbitmq: registration error for queue %q: %v", e.Queue, e.Err)
}

func (e *RegistrationError) Unwrap() error { return e.Err }

// TopologyError reports a failed exchange, queue or binding declaration.
// It stops the runner of Queue only.
type TopologyError struct {
	Queue    string
	Exchange string
	Op       string
	Err      error
}

func (e *TopologyError) Error() string {
	return fmt.Sprintf("rabbitmq: topology error for queue %q on exchange %q [%s]: %v", e.Queue, e.Exchange, e.Op, e.Err)
}

func (e *TopologyError) Unwrap() error { return e.Err }

// HandlerTimeoutError is returned for an attempt whose handler did not
// finish within the consumer's handler timeout.
type HandlerTimeoutError struct {
	Queue   string
	Timeout time.Duration
}

func (e *HandlerTimeoutError) Error() string {
	return fmt.Sprintf("rabbitmq: handler for queue %q timed out after %s", e.Queue, e.Timeout)
}

func (e *HandlerTimeoutError) Unwrap() error { return context.DeadlineExceeded }

// PermanentProcessingFailure is returned once every attempt for a message
// failed. The message has been rejected without requeue.
type PermanentProcessingFailure struct {
	Queue    string
	Attempts int
	Err      error
}

func (e *PermanentProcessingFailure) Error() string {
	return fmt.Sprintf("rabbitmq: message on queue %q failed permanently after %d attempt(s): %v", e.Queue, e.Attempts, e.Err)
}

func (e *PermanentProcessingFailure) Unwrap() error { return e.Err }

// PanicError wraps a value recovered from a panicking handler.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("rabbitmq: handler panicked: %v", e.Value)
}

// ShutdownError is returned by Stop when the drain did not finish before
// the deadline.
type ShutdownError struct {
	Message string
	Err     error
}

func (e *ShutdownError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("rabbitmq: shutdown error: %s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("rabbitmq: shutdown error: %s", e.Message)
}

func (e *ShutdownError) Unwrap() error { return e.Err }

// IsRetryable reports whether restarting the runtime could fix err.
// Registration errors need a code or configuration change.
func IsRetryable(err error) bool {
	var regErr *RegistrationError
	return err != nil && !errors.As(err, &regErr)
}
