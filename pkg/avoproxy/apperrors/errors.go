// Package apperrors carries the error taxonomy of the proxy: client errors
// that may be shown to the caller, and server errors that are logged with
// their full context but reach the browser only as a generic message plus a
// correlation id.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Kind classifies an error by its HTTP facing severity.
type Kind int

const (
	KindBadRequest Kind = iota
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindConflict
	KindExternalServer
	KindInternalServer
)

var kindNames = map[Kind]string{
	KindBadRequest:     "BAD_REQUEST",
	KindUnauthorized:   "UNAUTHORIZED",
	KindForbidden:      "FORBIDDEN",
	KindNotFound:       "NOT_FOUND",
	KindConflict:       "CONFLICT",
	KindExternalServer: "EXTERNAL_SERVER_ERROR",
	KindInternalServer: "INTERNAL_SERVER_ERROR",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "UNKNOWN"
}

// Status maps the kind to its HTTP status code.
func (k Kind) Status() int {
	switch k {
	case KindBadRequest:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindExternalServer:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// IsServerSide reports whether errors of this kind must be hidden from the caller.
func (k Kind) IsServerSide() bool {
	return k == KindExternalServer || k == KindInternalServer
}

// GenericMessage is the only text a browser sees for server side errors.
const GenericMessage = "something went wrong"

// Error is an error with a kind, a caller safe message, a logging context
// and a correlation id.
type Error struct {
	Kind    Kind
	Message string
	// Context is logged, never returned to the caller.
	Context map[string]any
	Cause   error
	ID      string
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates an error of the given kind.
func New(kind Kind, message string, context map[string]any) *Error {
	return &Error{Kind: kind, Message: message, Context: context, ID: uuid.NewString()}
}

// Wrap creates an error of the given kind around cause.
func Wrap(kind Kind, message string, cause error, context map[string]any) *Error {
	e := New(kind, message, context)
	e.Cause = cause
	return e
}

func BadRequest(message string, context map[string]any) *Error {
	return New(KindBadRequest, message, context)
}

func Unauthorized(message string) *Error {
	return New(KindUnauthorized, message, nil)
}

func Forbidden(message string, context map[string]any) *Error {
	return New(KindForbidden, message, context)
}

func NotFound(message string, context map[string]any) *Error {
	return New(KindNotFound, message, context)
}

func Conflict(message string, context map[string]any) *Error {
	return New(KindConflict, message, context)
}

func External(message string, cause error, context map[string]any) *Error {
	return Wrap(KindExternalServer, message, cause, context)
}

func Internal(message string, cause error, context map[string]any) *Error {
	return Wrap(KindInternalServer, message, cause, context)
}

// From returns err as an *Error, wrapping anything else as an internal error.
func From(err error) *Error {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return Internal("unexpected error", err, nil)
}

// Log writes the error with its full context.
func Log(err *Error) {
	event := log.Warn()
	if err.Kind.IsServerSide() {
		event = log.Error()
	}
	event.
		Str("error_id", err.ID).
		Str("kind", err.Kind.String()).
		Fields(err.Context).
		Err(err.Cause).
		Msg(err.Message)
}

// Respond logs err and writes the caller safe JSON body.
func Respond(c *gin.Context, err error) {
	appErr := From(err)
	Log(appErr)

	if appErr.Kind.IsServerSide() {
		c.AbortWithStatusJSON(appErr.Kind.Status(), gin.H{
			"error":   GenericMessage,
			"errorId": appErr.ID,
		})
		return
	}
	c.AbortWithStatusJSON(appErr.Kind.Status(), gin.H{"error": appErr.Message})
}

// RedirectToErrorPage is used by the login flows: the browser lands on the
// client error page with a message key and the correlation id instead of a
// JSON body.
func RedirectToErrorPage(c *gin.Context, clientURL, messageKey string, err error) {
	appErr := From(err)
	Log(appErr)

	query := url.Values{}
	query.Set("message", messageKey)
	query.Set("errorId", appErr.ID)
	c.Redirect(http.StatusFound, clientURL+"/error?"+query.Encode())
	c.Abort()
}
