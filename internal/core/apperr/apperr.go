// Package apperr classifies pipeline failures so the HTTP boundary can map
// them to a status, a user-facing message and a metric label.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindAuth
	KindFetch
	KindDerivation
	KindRender
	KindFilesystem
	KindBusy
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuth:
		return "auth"
	case KindFetch:
		return "fetch"
	case KindDerivation:
		return "derivation"
	case KindRender:
		return "render"
	case KindFilesystem:
		return "filesystem"
	case KindBusy:
		return "busy"
	default:
		return "unknown"
	}
}

type Error struct {
	Kind   Kind
	Field  string // validation only
	NoData bool   // fetch only: the query matched no scenes
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Field != "":
		return fmt.Sprintf("%s error: invalid %s: %v", e.Kind, e.Field, e.Err)
	case e.NoData:
		return fmt.Sprintf("%s error: no data available: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

func Validation(field string, err error) error {
	return &Error{Kind: KindValidation, Field: field, Err: err}
}

func Auth(err error) error { return &Error{Kind: KindAuth, Err: err} }

func Fetch(err error) error { return &Error{Kind: KindFetch, Err: err} }

func NoData(err error) error { return &Error{Kind: KindFetch, NoData: true, Err: err} }

func Derivation(err error) error { return &Error{Kind: KindDerivation, Err: err} }

func Render(err error) error { return &Error{Kind: KindRender, Err: err} }

func Filesystem(err error) error { return &Error{Kind: KindFilesystem, Err: err} }

// Busy reports a request that gave up waiting for a pipeline slot.
func Busy(err error) error { return &Error{Kind: KindBusy, Err: err} }

func as(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

func KindOf(err error) Kind {
	if e, ok := as(err); ok {
		return e.Kind
	}
	return KindUnknown
}

func FieldOf(err error) string {
	if e, ok := as(err); ok {
		return e.Field
	}
	return ""
}

func IsNoData(err error) bool {
	e, ok := as(err)
	return ok && e.NoData
}

func HTTPStatus(err error) int {
	e, ok := as(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusBadGateway
	case KindFetch:
		if e.NoData {
			return http.StatusNotFound
		}
		return http.StatusBadGateway
	case KindDerivation:
		return http.StatusUnprocessableEntity
	case KindBusy:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// UserMessage never leaks upstream detail except for validation failures,
// where the cause is the user's own input.
func UserMessage(err error) string {
	e, ok := as(err)
	if !ok {
		return "internal error while processing the request"
	}
	switch e.Kind {
	case KindValidation:
		return fmt.Sprintf("invalid %s: %v", e.Field, e.Err)
	case KindAuth:
		return "could not authenticate with the imagery backend"
	case KindFetch:
		if e.NoData {
			return "no scenes available for this area, date range and cloud cover"
		}
		return "failed to fetch imagery from the backend"
	case KindDerivation:
		return "downloaded imagery could not be processed"
	case KindRender:
		return "failed to render the image"
	case KindBusy:
		return "the server is busy, try again shortly"
	default:
		return "internal error while processing the request"
	}
}
