package rabbit

import (
	"errors"
	"net"
	"strings"
	"syscall"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Errors returned by TranslateError and the client itself. They abstract the
// AMQP error codes so callers can decide on retries without importing amqp091.
var (
	ErrConnectionFailed     = errors.New("connection failed")
	ErrConnectionLost       = errors.New("connection lost")
	ErrConnectionClosed     = errors.New("connection closed")
	ErrChannelClosed        = errors.New("channel closed")
	ErrChannelError         = errors.New("channel error")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrAccessDenied         = errors.New("access denied")
	ErrExchangeNotFound     = errors.New("exchange not found")
	ErrQueueNotFound        = errors.New("queue not found")
	ErrPreconditionFailed   = errors.New("precondition failed")
	ErrMessageTooLarge      = errors.New("message too large")
	ErrMessageNacked        = errors.New("message nacked")
	ErrPublishFailed        = errors.New("publish failed")
	ErrResourceError        = errors.New("resource error")
	ErrNotAllowed           = errors.New("not allowed")
	ErrInternalError        = errors.New("internal error")
	ErrProtocolError        = errors.New("protocol error")
	ErrTimeout              = errors.New("timeout")
	ErrNetworkError         = errors.New("network error")
	ErrShutdown             = errors.New("shutdown")
	ErrUnknownError         = errors.New("unknown error")
)

// TranslateError maps AMQP, network and syscall errors to the errors above.
// The original error stays in the chain.
func TranslateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrShutdown) {
		return err
	}

	if errors.Is(err, amqp.ErrClosed) {
		return wrap(ErrConnectionClosed, err)
	}

	var amqpErr *amqp.Error
	if errors.As(err, &amqpErr) {
		return wrap(translateAMQPError(amqpErr), err)
	}

	var syscallErr syscall.Errno
	if errors.As(err, &syscallErr) {
		return wrap(translateSyscallError(syscallErr), err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return wrap(ErrTimeout, err)
		}
		return wrap(ErrNetworkError, err)
	}

	return wrap(translateByErrorMessage(strings.ToLower(err.Error())), err)
}

func wrap(kind, err error) error {
	if kind == nil || errors.Is(err, kind) {
		return err
	}
	return errors.Join(kind, err)
}

func translateAMQPError(amqpErr *amqp.Error) error {
	switch amqpErr.Code {
	case amqp.ConnectionForced:
		return ErrConnectionClosed
	case amqp.AccessRefused:
		return ErrAccessDenied
	case amqp.NotFound:
		if strings.Contains(strings.ToLower(amqpErr.Reason), "exchange") {
			return ErrExchangeNotFound
		}
		return ErrQueueNotFound
	case amqp.PreconditionFailed:
		return ErrPreconditionFailed
	case amqp.ContentTooLarge:
		return ErrMessageTooLarge
	case amqp.NoRoute, amqp.NoConsumers:
		return ErrPublishFailed
	case amqp.ChannelError:
		return ErrChannelError
	case amqp.ResourceError:
		return ErrResourceError
	case amqp.NotAllowed:
		return ErrNotAllowed
	case amqp.InternalError:
		return ErrInternalError
	case amqp.SyntaxError, amqp.CommandInvalid, amqp.FrameError, amqp.UnexpectedFrame:
		return ErrProtocolError
	default:
		return translateByErrorMessage(strings.ToLower(amqpErr.Reason))
	}
}

func translateSyscallError(errno syscall.Errno) error {
	switch errno {
	case syscall.ECONNREFUSED:
		return ErrConnectionFailed
	case syscall.ECONNRESET, syscall.ECONNABORTED, syscall.EPIPE, syscall.ENOTCONN:
		return ErrConnectionLost
	case syscall.ETIMEDOUT:
		return ErrTimeout
	default:
		return ErrNetworkError
	}
}

func translateByErrorMessage(msg string) error {
	switch {
	case strings.Contains(msg, "exchange") && strings.Contains(msg, "not found"):
		return ErrExchangeNotFound
	case strings.Contains(msg, "queue") && strings.Contains(msg, "not found"):
		return ErrQueueNotFound
	case strings.Contains(msg, "access refused"), strings.Contains(msg, "access denied"):
		return ErrAccessDenied
	case strings.Contains(msg, "login refused"), strings.Contains(msg, "authentication failed"):
		return ErrAuthenticationFailed
	case strings.Contains(msg, "channel") && strings.Contains(msg, "closed"):
		return ErrChannelClosed
	case strings.Contains(msg, "connection refused"):
		return ErrConnectionFailed
	case strings.Contains(msg, "connection reset"), strings.Contains(msg, "broken pipe"):
		return ErrConnectionLost
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
		return ErrTimeout
	default:
		return ErrUnknownError
	}
}

// IsRetryableError reports whether err is transient: the operation may
// succeed once the connection or the broker recovers.
func IsRetryableError(err error) bool {
	switch {
	case errors.Is(err, ErrConnectionFailed),
		errors.Is(err, ErrConnectionLost),
		errors.Is(err, ErrConnectionClosed),
		errors.Is(err, ErrChannelClosed),
		errors.Is(err, ErrChannelError),
		errors.Is(err, ErrTimeout),
		errors.Is(err, ErrNetworkError),
		errors.Is(err, ErrInternalError),
		errors.Is(err, ErrResourceError):
		return true
	default:
		return false
	}
}

// IsPermanentError reports whether retrying err is pointless.
func IsPermanentError(err error) bool {
	switch {
	case errors.Is(err, ErrAuthenticationFailed),
		errors.Is(err, ErrAccessDenied),
		errors.Is(err, ErrExchangeNotFound),
		errors.Is(err, ErrQueueNotFound),
		errors.Is(err, ErrPreconditionFailed),
		errors.Is(err, ErrMessageTooLarge),
		errors.Is(err, ErrNotAllowed),
		errors.Is(err, ErrProtocolError),
		errors.Is(err, ErrShutdown):
		return true
	default:
		return false
	}
}
