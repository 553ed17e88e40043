package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/rs/zerolog/log"
)

// Recovery converts handler panics into 500 responses instead of letting
// them tear down the connection. The panic value and stack are logged.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			v := recover()
			if v == nil {
				return
			}
			log.Error().
				Interface("error", v).
				Str("stack", string(debug.Stack())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Msg("Panic recovered")

			writeErrorResponse(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
		}()
		next.ServeHTTP(w, r)
	})
}
