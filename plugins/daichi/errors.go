package daichi

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies every failure that leaves the Daichi client.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindInvalidAuth
	KindCannotConnect
	KindDeviceNotFound
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidAuth:
		return "invalid_auth"
	case KindCannotConnect:
		return "cannot_connect"
	case KindDeviceNotFound:
		return "device_not_found"
	default:
		return "unknown"
	}
}

var (
	// ErrInvalidAuth means the account credentials were rejected.
	ErrInvalidAuth = errors.New("daichi: invalid auth")
	// ErrCannotConnect covers transport failures, exhausted retries and
	// unexpected responses.
	ErrCannotConnect = errors.New("daichi: cannot connect")
	// ErrDeviceNotFound is returned when the service does not know a device id.
	ErrDeviceNotFound = errors.New("daichi: device not found")
)

// Error is the single error type returned by the client.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("daichi %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("daichi %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the kind sentinels so callers can use errors.Is(err, ErrInvalidAuth).
func (e *Error) Is(target error) bool {
	switch target {
	case ErrInvalidAuth:
		return e.Kind == KindInvalidAuth
	case ErrCannotConnect:
		return e.Kind == KindCannotConnect
	case ErrDeviceNotFound:
		return e.Kind == KindDeviceNotFound
	}
	return false
}

// KindOf reports the classification of err, or KindUnknown.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindUnknown
}

func invalidAuth(op string, err error) error {
	return &Error{Kind: KindInvalidAuth, Op: op, Err: err}
}

func cannotConnect(op string, err error) error {
	return &Error{Kind: KindCannotConnect, Op: op, Err: err}
}

func deviceNotFound(op string, err error) error {
	return &Error{Kind: KindDeviceNotFound, Op: op, Err: err}
}

// classify is the translation boundary for one external call. Already
// classified errors pass through; everything else becomes CannotConnect.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return err
	}
	return cannotConnect(op, err)
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
