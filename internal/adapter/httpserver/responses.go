// Package httpserver contains the ingress HTTP handlers and middleware.
//
// Every JSON response is wrapped in the tenant envelope:
// {status bool, message string, code int, data any}.
package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fairyhunter13/ai-inference-pipeline/internal/domain"
)

type envelope struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Code    int    `json:"code"`
	Data    any    `json:"data"`
}

func writeData(w http.ResponseWriter, httpStatus int, message string, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(httpStatus)
	_ = json.NewEncoder(w).Encode(envelope{
		Status:  httpStatus < 400,
		Message: message,
		Code:    httpStatus,
		Data:    data,
	})
}

// writeError maps the domain sentinel wrapped in err to an HTTP status and
// writes the error envelope.
func writeError(w http.ResponseWriter, _ *http.Request, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		code = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		code = http.StatusConflict
	case errors.Is(err, domain.ErrRateLimited):
		code = http.StatusTooManyRequests
	case errors.Is(err, domain.ErrUnavailable):
		code = http.StatusServiceUnavailable
	}
	writeData(w, code, err.Error(), nil)
}
