package herr

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

type Error struct {
	Error       error
	HTTPMessage string
	Desc        string
	Code        int
}

type Wrap func(w http.ResponseWriter, r *http.Request) *Error

func (fn Wrap) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if e := fn(w, r); e != nil {
		e.Write(w)
	}
}

// Write logs the error and renders {"error": HTTPMessage} with Code.
func (e *Error) Write(w http.ResponseWriter) {
	if e.Code >= http.StatusInternalServerError {
		slog.Error("Error in handler:", "desc", e.Desc, "httpMessage", e.HTTPMessage, "code", e.Code, "err", e.Error)
	} else {
		slog.Warn("Request rejected:", "desc", e.Desc, "httpMessage", e.HTTPMessage, "code", e.Code, "err", e.Error)
	}
	JSON(w, e.Code, map[string]string{"error": e.HTTPMessage})
}

// JSON writes v with the given status code.
func JSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "err", err)
	}
}

func Internal(err error, desc string) *Error {
	return &Error{
		HTTPMessage: "Internal server error",
		Desc:        desc,
		Code:        http.StatusInternalServerError,
		Error:       err,
	}
}

func BadRequest(err error, desc string) *Error {
	return &Error{
		HTTPMessage: "Bad request",
		Desc:        desc,
		Code:        http.StatusBadRequest,
		Error:       err,
	}
}

func Unauthorized(err error, desc string) *Error {
	return &Error{
		HTTPMessage: "Unauthorized",
		Desc:        desc,
		Code:        http.StatusUnauthorized,
		Error:       err,
	}
}

func NotFound(err error, desc string) *Error {
	return &Error{
		HTTPMessage: "Not found",
		Desc:        desc,
		Code:        http.StatusNotFound,
		Error:       err,
	}
}

func Conflict(err error, desc string) *Error {
	return &Error{
		HTTPMessage: "Conflict",
		Desc:        desc,
		Code:        http.StatusConflict,
		Error:       err,
	}
}

// WithMessage replaces the client-facing message.
func (e *Error) WithMessage(msg string) *Error {
	e.HTTPMessage = msg
	return e
}
