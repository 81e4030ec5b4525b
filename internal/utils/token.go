package utils

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// InspectToken logs the expiry of a JWT bearer token. The signature is not
// checked; the remote queue is the authority. Opaque tokens are ignored.
// It returns the expiry when one was found.
func InspectToken(token string, log *zap.Logger) (time.Time, bool) {
	if token == "" {
		log.Info("no auth token configured, queue calls are unauthenticated")
		return time.Time{}, false
	}

	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}

	exp := claims.ExpiresAt.Time
	if time.Now().After(exp) {
		log.Warn("auth token already expired, queue calls will be rejected", zap.Time("expires_at", exp))
	} else {
		log.Info("auth token expiry", zap.Time("expires_at", exp))
	}
	return exp, true
}
