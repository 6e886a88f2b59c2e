package identity

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/design-smith/vocalbridge/internal/gwerrors"
	"github.com/design-smith/vocalbridge/internal/requestid"
)

// credentialHeader is the header carrying the opaque API credential.
const credentialHeader = "X-API-Key"

// Middleware resolves the request's credential via gate and injects the
// resulting Identity into the request context. Unresolvable credentials are
// rejected with 401 before the request reaches any handler.
func Middleware(gate *Gate, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rawKey := r.Header.Get(credentialHeader)

			id, err := gate.Resolve(r.Context(), rawKey)
			if err != nil {
				if err != ErrInvalidCredential {
					logger.Error("resolving credential", "error", err)
				}
				writeUnauthorized(w, r)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithContext(r.Context(), id)))
		})
	}
}

// writeUnauthorized writes the same {code, message, requestId} envelope the
// rest of the gateway uses (spec §6). identity cannot import httpserver's
// Respond helper — httpserver already imports identity for this
// middleware — so the envelope is serialized directly here instead.
func writeUnauthorized(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(gwerrors.ErrorEnvelope{
		Code:      string(gwerrors.CodeInvalidAPIKey),
		Message:   "invalid or missing API key",
		RequestID: requestid.FromContext(r.Context()),
	})
}
