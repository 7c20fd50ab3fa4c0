// Package auth guards the operator and admin surfaces with a shared
// secret presented in the X-Admin-Key header.
package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"

	"github.com/wisbric/redbutton/internal/httpserver"
)

type ctxKey string

const actorKey ctxKey = "admin_actor"

// AdminKeyHeader carries the shared admin secret.
const AdminKeyHeader = "X-Admin-Key"

// AdminEmailHeader optionally identifies the acting operator.
const AdminEmailHeader = "X-Admin-Email"

// RequireAdmin enforces the shared admin key. An unset key fails closed:
// every request is rejected with 403 rather than leaving the surface open.
// Comparison runs in constant time over SHA-256 digests so neither length
// nor content leaks through timing.
func RequireAdmin(configuredKey string) func(http.Handler) http.Handler {
	configured := sha256.Sum256([]byte(configuredKey))
	fingerprint := Fingerprint(configuredKey)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if configuredKey == "" {
				httpserver.RespondError(w, http.StatusForbidden, "forbidden", "admin access is not configured")
				return
			}

			presented := sha256.Sum256([]byte(r.Header.Get(AdminKeyHeader)))
			if subtle.ConstantTimeCompare(configured[:], presented[:]) != 1 {
				httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "invalid admin key")
				return
			}

			ctx := context.WithValue(r.Context(), actorKey, "admin:"+fingerprint)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ActorFromContext returns the acting admin identity set by RequireAdmin,
// or "" for unauthenticated requests.
func ActorFromContext(ctx context.Context) string {
	actor, _ := ctx.Value(actorKey).(string)
	return actor
}

// OperatorFromRequest resolves who performed an operator action: an
// explicit name wins, then the admin email header, then "admin".
func OperatorFromRequest(r *http.Request, explicit string) string {
	if explicit != "" {
		return explicit
	}
	if email := r.Header.Get(AdminEmailHeader); email != "" {
		return email
	}
	return "admin"
}

// Fingerprint derives a short non-reversible identifier from the admin
// key, safe to persist in audit columns.
func Fingerprint(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:4]) + "..."
}
