package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/puppeteer-mcp/puppeteer-mcp/internal/types"
)

// errorEnvelope wraps the wire error the way every JSON surface renders
// failures.
type errorEnvelope struct {
	Error types.WireError `json:"error"`
}

// WriteJSON writes a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

// WriteError classifies err and writes the standard error envelope. The
// request ID comes from the context so clients can correlate failures
// with logs.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	app := types.Classify(err)
	WriteJSON(w, app.HTTPStatus(), errorEnvelope{Error: app.ToWire(RequestIDFrom(r.Context()))})
}
