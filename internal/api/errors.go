package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/wrenware/lattice/internal/onem2m"
)

// badRequestf builds a binding-level decode error. It wraps the canonical
// bad-request sentinel so the dispatcher-side status mapping applies.
func badRequestf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, onem2m.ErrBadRequest)...)
}

// writeJSON writes a JSON response with the given status code and payload.
// Used by the operational endpoints; resource responses go through
// writeResult instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeUnauthorized writes a 401 with a debug body, matching the shape
// resource error responses use.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusUnauthorized, map[string]any{"m2m:dbg": message})
}

// writeInternalError writes a 500 with a debug body.
func writeInternalError(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusInternalServerError, map[string]any{"m2m:dbg": message})
}
