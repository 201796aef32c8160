package server

import (
	"encoding/json"
	"net/http"
	"strings"

	apperr "github.com/menta2k/photo-album/pkg/errors"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    apperr.Code `json:"code"`
	Message string      `json:"message"`
}

// statusFor maps an error to an HTTP status by its code
func statusFor(err error) int {
	if apperr.IsNotFound(err) {
		return http.StatusNotFound
	}
	code := apperr.GetCode(err)
	switch code {
	case apperr.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case apperr.ErrCodeOutOfBounds:
		return http.StatusUnprocessableEntity
	case apperr.ErrCodeDecode:
		return http.StatusUnsupportedMediaType
	case apperr.ErrCodeImageTooLarge:
		return http.StatusRequestEntityTooLarge
	case apperr.ErrCodeNetwork:
		return http.StatusBadGateway
	case apperr.ErrCodeUnsupported:
		return http.StatusNotImplemented
	}
	if strings.HasPrefix(string(code), "INVALID_") {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := apperr.GetCode(err)
	if code == "" {
		code = apperr.ErrCodeInternal
	}
	status := statusFor(err)

	msg := apperr.UserMessage(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "code", code, "err", err)
		if code == apperr.ErrCodeInternal {
			msg = "internal error"
		}
	} else {
		s.logger.Debug("request rejected", "method", r.Method, "path", r.URL.Path, "code", code, "err", err)
	}
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: msg}})
}
