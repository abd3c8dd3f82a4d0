package middleware

import (
	"crypto/subtle"

	"codesandbox/pkg/errors"
	"codesandbox/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// SharedSecretConfig configures the caller authentication header.
type SharedSecretConfig struct {
	Header   string
	Secret   string
	Disabled bool
}

// SharedSecretMiddleware rejects requests whose header does not carry the shared secret.
// With no secret configured every request is rejected unless Disabled is set.
func SharedSecretMiddleware(cfg SharedSecretConfig) gin.HandlerFunc {
	header := cfg.Header
	if header == "" {
		header = "auth"
	}
	secret := []byte(cfg.Secret)
	return func(c *gin.Context) {
		if cfg.Disabled {
			c.Next()
			return
		}
		got := []byte(c.GetHeader(header))
		if len(secret) == 0 || subtle.ConstantTimeCompare(got, secret) != 1 {
			response.AbortWithErrorCode(c, errors.Forbidden, "invalid credentials")
			return
		}
		c.Next()
	}
}
