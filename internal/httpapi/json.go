package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/agent-racer/relaybroker/internal/apierr"
)

// maxBodyBytes enforces spec §6's "Content-Length ≤ 10 MiB" at the
// transport boundary, before any core component sees the body.
const maxBodyBytes = 10 << 20

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// decodeJSON reads and validates r's body into dst, capped at
// maxBodyBytes. Decode/validation failures are reported as ClientInput.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		apierr.Write(w, apierr.ClientInput("INVALID_JSON", "request body is not valid JSON: "+err.Error()))
		return false
	}

	if err := s.validate.Struct(dst); err != nil {
		apierr.Write(w, apierr.ClientInput("VALIDATION_FAILED", err.Error()))
		return false
	}

	return true
}
