package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jmcleod/chorus/auth"
)

// maxAuthBodySize bounds request bodies on the auth endpoints.
const maxAuthBodySize = 64 << 10

const msgMalformedBody = "request body must be a JSON object with username and password"

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, StatusResponse{Success: false, Message: msg})
}

// errorStatus maps an auth error code to its HTTP status.
func errorStatus(err error) int {
	switch auth.ErrorCode(err) {
	case auth.CodeInvalidInput, auth.CodeUsernameTaken:
		return http.StatusBadRequest
	case auth.CodeInvalidCredentials:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// mapError writes err as a failure response. Only the error's public
// message reaches the client.
func mapError(w http.ResponseWriter, err error) {
	writeError(w, errorStatus(err), auth.PublicMessage(err))
}

// decodeJSON reads a single JSON object of type T from the request body.
// On failure it writes the response itself and returns false.
func decodeJSON[T any](w http.ResponseWriter, r *http.Request, limit int64) (T, bool) {
	var v T
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		} else {
			writeError(w, http.StatusBadRequest, msgMalformedBody)
		}
		return v, false
	}
	return v, true
}
