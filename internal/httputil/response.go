package httputil

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/streamify/streamify/internal/apperr"
)

type ErrorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, ErrorBody{Error: message, Kind: string(kindForStatus(status))})
}

// WriteAppError renders err with the status of its kind. Messages of
// internal errors are replaced so causes never reach the client.
func WriteAppError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	WriteJSON(w, StatusForKind(kind), ErrorBody{Error: apperr.MessageOf(err), Kind: string(kind)})
}

func StatusForKind(kind apperr.Kind) int {
	switch kind {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindInvalidRequest:
		return http.StatusBadRequest
	case apperr.KindUnauthorized:
		return http.StatusUnauthorized
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func kindForStatus(status int) apperr.Kind {
	switch status {
	case http.StatusNotFound:
		return apperr.KindNotFound
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge:
		return apperr.KindInvalidRequest
	case http.StatusUnauthorized:
		return apperr.KindUnauthorized
	case http.StatusForbidden:
		return apperr.KindForbidden
	case http.StatusConflict:
		return apperr.KindConflict
	case http.StatusTooManyRequests:
		return ""
	default:
		return apperr.KindInternal
	}
}

// DecodeJSON reads a JSON body into v. An empty body leaves v untouched.
func DecodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return apperr.InvalidRequest("invalid request body")
	}
	return nil
}
