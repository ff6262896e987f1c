// Package httpserver contains the control plane's HTTP handlers and
// middleware. It keeps HTTP concerns (decoding, validation, status
// mapping) out of the usecase layer: handlers translate requests into
// usecase calls and map the domain error taxonomy onto status codes.
package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fairyhunter13/face-recognition-service/internal/domain"
)

type errorEnvelope struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the domain taxonomy onto HTTP statuses. Client faults
// (bad input, unknown resources, no face in the image) are 4xx; transport
// and worker faults are 5xx with the bus kinds kept distinguishable.
func writeError(w http.ResponseWriter, _ *http.Request, err error, details interface{}) {
	code := http.StatusInternalServerError
	codeStr := "INTERNAL"
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		code = http.StatusBadRequest
		codeStr = "INVALID_INPUT"
	case errors.Is(err, domain.ErrNoFaceDetected):
		code = http.StatusBadRequest
		codeStr = "NO_FACE_DETECTED"
	case errors.Is(err, domain.ErrNotFound):
		code = http.StatusNotFound
		codeStr = "NOT_FOUND"
	case errors.Is(err, domain.ErrConflict):
		code = http.StatusConflict
		codeStr = "CONFLICT"
	case errors.Is(err, domain.ErrTimeout):
		code = http.StatusGatewayTimeout
		codeStr = "TIMEOUT"
	case errors.Is(err, domain.ErrBusUnavailable):
		code = http.StatusServiceUnavailable
		codeStr = "BUS_UNAVAILABLE"
	case errors.Is(err, domain.ErrBusReset):
		code = http.StatusServiceUnavailable
		codeStr = "BUS_RESET"
	case errors.Is(err, domain.ErrWorkerError):
		code = http.StatusInternalServerError
		codeStr = "WORKER_ERROR"
	}
	writeJSON(w, code, errorEnvelope{Error: apiError{Code: codeStr, Message: err.Error(), Details: details}})
}
