package bank

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrAuthentication возвращается при отказе банка во входе (401/403).
	ErrAuthentication = errors.New("bank authentication failed")
	// ErrRateLimited возвращается при ответе 429.
	ErrRateLimited = errors.New("bank rate limited")
	// ErrTransientServer возвращается при ответе 5xx.
	ErrTransientServer = errors.New("bank server error")
	// ErrTimeout возвращается при истечении таймаута запроса.
	ErrTimeout = errors.New("bank request timed out")
	// ErrReAuthenticationFailed возвращается, если 401 повторился после повторного входа.
	ErrReAuthenticationFailed = errors.New("bank re-authentication failed")
	// ErrUnknown возвращается при прочих ошибках обмена с банком.
	ErrUnknown = errors.New("bank request failed")
)

// StatusError описывает неуспешный HTTP-ответ банка.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
	Kind       error
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: %v: status %d", e.Op, e.Kind, e.StatusCode)
	}
	return fmt.Sprintf("%s: %v: status %d: %s", e.Op, e.Kind, e.StatusCode, e.Body)
}

func (e *StatusError) Unwrap() error {
	return e.Kind
}

type outcomeKind int

const (
	outcomeOK outcomeKind = iota
	outcomeUnauthorized
	outcomeForbidden
	outcomeRateLimited
	outcomeServerError
	outcomeTimeout
	outcomeOther
)

func (k outcomeKind) String() string {
	switch k {
	case outcomeOK:
		return "ok"
	case outcomeUnauthorized:
		return "unauthorized"
	case outcomeForbidden:
		return "forbidden"
	case outcomeRateLimited:
		return "rate_limited"
	case outcomeServerError:
		return "server_error"
	case outcomeTimeout:
		return "timeout"
	default:
		return "other"
	}
}

func (k outcomeKind) sentinel() error {
	switch k {
	case outcomeUnauthorized, outcomeForbidden:
		return ErrAuthentication
	case outcomeRateLimited:
		return ErrRateLimited
	case outcomeServerError:
		return ErrTransientServer
	case outcomeTimeout:
		return ErrTimeout
	default:
		return ErrUnknown
	}
}

// outcome результат одного HTTP-обмена с банком.
type outcome struct {
	kind   outcomeKind
	status int
	body   []byte
	err    error
}

const maxErrorBody = 256

func classify(status int, body []byte) outcome {
	res := outcome{status: status, body: body}
	switch {
	case status >= 200 && status < 300:
		res.kind = outcomeOK
	case status == http.StatusUnauthorized:
		res.kind = outcomeUnauthorized
	case status == http.StatusForbidden:
		res.kind = outcomeForbidden
	case status == http.StatusTooManyRequests:
		res.kind = outcomeRateLimited
	case status >= 500:
		res.kind = outcomeServerError
	default:
		res.kind = outcomeOther
	}
	return res
}

func (o outcome) asError(op string, kind error) error {
	if o.status == 0 {
		if o.err == nil {
			return fmt.Errorf("%s: %w", op, kind)
		}
		return fmt.Errorf("%s: %w: %w", op, kind, o.err)
	}

	body := string(o.body)
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return &StatusError{
		Op:         op,
		StatusCode: o.status,
		Body:       body,
		Kind:       kind,
	}
}
