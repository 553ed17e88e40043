package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/nomadbarefoot/surf/internal/types"
)

// maxRequestBody bounds request bodies; batch payloads with embedded
// operation params stay well under this.
const maxRequestBody = 1 << 20

// envelope is the uniform success wrapper.
type envelope struct {
	Success bool `json:"success"`
	Data    any  `json:"data,omitempty"`
}

// errorBody is the wire form of a failure.
type errorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// errorEnvelope is the uniform failure wrapper.
type errorEnvelope struct {
	Success bool      `json:"success"`
	Error   errorBody `json:"error"`
}

// httpStatusFor maps a stable error code to an HTTP status. An invalid
// (expired or over-quota) session reads as a gone resource, same as an
// unknown one.
func httpStatusFor(code string) int {
	switch code {
	case types.CodeSessionNotFound, types.CodeInvalidSession:
		return http.StatusNotFound
	case types.CodeValidation:
		return http.StatusBadRequest
	case types.CodeResourceLimit, types.CodeRateLimitExceeded:
		return http.StatusTooManyRequests
	case types.CodeAuthentication:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// errorDetails extracts the structured details map when the error carries one.
func errorDetails(err error) map[string]any {
	var boe *types.BrowserOperationError
	if errors.As(err, &boe) {
		return boe.Details
	}
	return nil
}

// writeJSON encodes v into a pooled buffer before touching the wire, so a
// marshal failure can still produce a clean 500 instead of a torn body.
func writeJSON(w http.ResponseWriter, status int, v any) {
	buf := getResponseBuffer()
	defer putResponseBuffer(buf)

	if err := json.NewEncoder(buf).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
		http.Error(w, `{"success":false,"error":{"code":"INTERNAL_ERROR","message":"encoding failed"}}`,
			http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		log.Debug().Err(err).Msg("Failed to write response body")
	}
}

// writeData sends a success envelope.
func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Success: true, Data: data})
}

// writeError sends a failure envelope derived from err.
func writeError(w http.ResponseWriter, err error) {
	code := types.ErrorCode(err)
	writeJSON(w, httpStatusFor(code), errorEnvelope{
		Error: errorBody{
			Code:    code,
			Message: err.Error(),
			Details: errorDetails(err),
		},
	})
}

// decodeJSON reads the request body through a pooled buffer and decodes it
// strictly. A nil error means v holds a fully decoded request.
func decodeJSON(r *http.Request, v any) error {
	buf := getBuffer()
	defer putBuffer(buf)

	if _, err := io.Copy(buf, io.LimitReader(r.Body, maxRequestBody)); err != nil {
		return types.NewValidationError("body", "failed to read request body")
	}
	if buf.Len() == 0 {
		return types.NewValidationError("body", "request body is required")
	}

	dec := json.NewDecoder(buf)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return types.NewValidationError("body", "invalid JSON: "+err.Error())
	}
	return nil
}
