package retry

import (
	"errors"
	"runtime/debug"

	"example.com/fulfillment/pkg/events"
)

// permanentError — ошибка, которую повтор не исправит.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent помечает ошибку как неисправимую повтором: сообщение сразу уходит в DLT.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent сообщает, что повтор бессмысленен.
// Непонятный тип события и битый payload неисправимы по определению.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p) ||
		errors.Is(err, events.ErrMalformedPayload) ||
		errors.Is(err, events.ErrUnknownEventType)
}

// stackError — ошибка со стеком вызовов в точке сбоя.
type stackError struct {
	err   error
	stack []byte
}

func (e *stackError) Error() string { return e.err.Error() }
func (e *stackError) Unwrap() error { return e.err }

// WithStack прикрепляет к ошибке текущий стек, если его ещё нет.
func WithStack(err error) error {
	if err == nil || StackOf(err) != "" {
		return err
	}
	return &stackError{err: err, stack: debug.Stack()}
}

// WithStackTrace прикрепляет к ошибке готовый стек (например, снятый в recover).
func WithStackTrace(err error, stack []byte) error {
	if err == nil {
		return nil
	}
	return &stackError{err: err, stack: stack}
}

// StackOf возвращает стек, прикреплённый к ошибке, или пустую строку.
func StackOf(err error) string {
	var s *stackError
	if errors.As(err, &s) {
		return string(s.stack)
	}
	return ""
}
