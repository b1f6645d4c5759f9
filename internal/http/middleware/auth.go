package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sparkclean/sparkclean-platform/internal/tenancy"
	"github.com/sparkclean/sparkclean-platform/pkg/logging"
)

// Claims are the application claims carried by access tokens. Subject is the
// user id.
type Claims struct {
	Role     string `json:"role"`
	TenantID string `json:"tenant_id"`
	jwt.RegisteredClaims
}

// Auth validates an HMAC-signed bearer token and stores the caller as a
// tenancy.Principal.
func Auth(secret string, logger *logging.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = logging.Default()
	}
	key := []byte(secret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				logger.Error("jwt secret not configured")
				unauthorized(w)
				return
			}
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				unauthorized(w)
				return
			}
			claims := Claims{}
			token, err := jwt.ParseWithClaims(strings.TrimPrefix(auth, "Bearer "), &claims, func(token *jwt.Token) (any, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return key, nil
			})
			if err != nil || !token.Valid {
				logger.Debug("rejected access token", "error", err)
				unauthorized(w)
				return
			}
			if claims.Subject == "" || claims.TenantID == "" {
				unauthorized(w)
				return
			}
			p := tenancy.Principal{ID: claims.Subject, Role: claims.Role, TenantID: claims.TenantID}
			next.ServeHTTP(w, r.WithContext(tenancy.WithPrincipal(r.Context(), p)))
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "Unauthorized"})
}
