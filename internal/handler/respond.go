package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/titlescout/titlescout/internal/domain"
)

// maxRequestBody caps JSON request bodies at 1 MiB.
const maxRequestBody = 1 << 20

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON decodes a JSON request body into dst, rejecting unknown fields
// and oversized bodies with a typed EINVALID error.
func decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return domain.Wrap(err, domain.EINVALID, "", "Invalid request body")
	}
	// One JSON value per request.
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return domain.Invalid("", "Request body must contain a single JSON object")
	}
	return nil
}
