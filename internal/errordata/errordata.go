package errordata

import (
	"errors"
	"net/http"
)

type Kind int

const (
	KindInternal Kind = iota
	KindAuth
	KindNotFound
	KindStore
	KindProvider
	KindInvalid
)

func (k Kind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindNotFound:
		return "not_found"
	case KindStore:
		return "store"
	case KindProvider:
		return "provider"
	case KindInvalid:
		return "invalid"
	default:
		return "internal"
	}
}

// Error is the typed error carried across repos, services and handlers.
// Message is safe to show to clients; Err is the underlying cause.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, op, message string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

func Auth(op, message string, err error) *Error {
	return newError(KindAuth, op, message, err)
}

func NotFound(op, message string, err error) *Error {
	return newError(KindNotFound, op, message, err)
}

func Store(op, message string, err error) *Error {
	return newError(KindStore, op, message, err)
}

func Provider(op, message string, err error) *Error {
	return newError(KindProvider, op, message, err)
}

func Invalid(op, message string, err error) *Error {
	return newError(KindInvalid, op, message, err)
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func IsAuth(err error) bool     { return err != nil && KindOf(err) == KindAuth }
func IsNotFound(err error) bool { return err != nil && KindOf(err) == KindNotFound }
func IsStore(err error) bool    { return err != nil && KindOf(err) == KindStore }
func IsProvider(err error) bool { return err != nil && KindOf(err) == KindProvider }
func IsInvalid(err error) bool  { return err != nil && KindOf(err) == KindInvalid }

// PublicMessage returns the client-facing message for err.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return "internal server error"
}

func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindAuth:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalid:
		return http.StatusBadRequest
	case KindProvider:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
