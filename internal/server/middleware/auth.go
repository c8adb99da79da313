package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/storekit/storesync/internal/server/jwt"
)

// contextKey is a private type for request context keys.
type contextKey string

const (
	// TenantIDKey holds the authenticated tenant (store) id.
	TenantIDKey contextKey = "tenant_id"
	// DeviceIDKey holds the POS device id from the token, if present.
	DeviceIDKey contextKey = "device_id"
)

// TenantID returns the authenticated tenant id bound into the context.
func TenantID(ctx context.Context) string {
	tenantID, _ := ctx.Value(TenantIDKey).(string)
	return tenantID
}

// DeviceID returns the POS device id bound into the context, if any.
func DeviceID(ctx context.Context) string {
	deviceID, _ := ctx.Value(DeviceIDKey).(string)
	return deviceID
}

// AuthMiddleware создает middleware для проверки JWT токена.
// Tenant id берется только из токена: значения из пути или тела запроса
// его никогда не переопределяют.
func AuthMiddleware(logger *slog.Logger, jwtService *jwt.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				logger.Warn("Missing Authorization header")
				writeUnauthorized(w, "missing token")
				return
			}

			// Ожидаем формат: "Bearer <token>"
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				logger.Warn("Invalid Authorization header format")
				writeUnauthorized(w, "invalid token format")
				return
			}

			claims, err := jwtService.ValidateAccessToken(parts[1])
			if err != nil {
				logger.Warn("Invalid access token", "error", err)
				writeUnauthorized(w, "invalid token")
				return
			}

			ctx := context.WithValue(r.Context(), TenantIDKey, claims.TenantID)
			ctx = context.WithValue(ctx, DeviceIDKey, claims.DeviceID)

			logger.Debug("Tenant authenticated", "tenant_id", claims.TenantID, "device_id", claims.DeviceID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized: ` + message + `","statusCode":401}`))
}
