package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	iauth "github.com/pushbeam/pushbeam/internal/auth"
	"github.com/pushbeam/pushbeam/pkg/errors"
	"github.com/pushbeam/pushbeam/pkg/response"
)

const (
	CtxClaimsKey    = "authClaims"
	CtxRecipientKey = "recipient"
)

// Auth enforces JWT authentication using the supplied JWT service.
func Auth(jwt *iauth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if len(authz) < 8 || !strings.EqualFold(authz[:7], "Bearer ") {
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		token := strings.TrimSpace(authz[7:])
		claims, err := jwt.ValidateAccessToken(token)
		if err != nil {
			// Normalise all validation failures to 401
			c.Header("WWW-Authenticate", "Bearer")
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		c.Set(CtxClaimsKey, claims)
		c.Set(CtxRecipientKey, claims.Recipient)

		c.Next()
	}
}

// RecipientFromContext returns the authenticated recipient identity, if any.
func RecipientFromContext(c *gin.Context) (string, bool) {
	value, ok := c.Get(CtxRecipientKey)
	if !ok {
		return "", false
	}
	recipient, ok := value.(string)
	return recipient, ok && recipient != ""
}
