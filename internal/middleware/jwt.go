package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/mflix/internal/pkg/errcode"
	appErr "github.com/xxxsen/mflix/internal/pkg/errors"
	"github.com/xxxsen/mflix/internal/pkg/jwt"
	"github.com/xxxsen/mflix/internal/pkg/response"
)

const (
	ContextUserIDKey = "user_id"
	ContextTokenKey  = "user_token"
)

type SessionValidator interface {
	ValidateSession(ctx context.Context, userID, token string) error
}

// JWTAuth accepts a bearer token only if it verifies against secret and is
// still the stored session of its user.
func JWTAuth(secret []byte, sessions SessionValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Error(c, errcode.ErrUnauthorized, "missing authorization")
			c.Abort()
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			response.Error(c, errcode.ErrUnauthorized, "invalid authorization")
			c.Abort()
			return
		}
		claims, err := jwt.ParseToken(parts[1], secret)
		if err != nil {
			response.Error(c, errcode.ErrUnauthorized, "invalid token")
			c.Abort()
			return
		}
		if err := sessions.ValidateSession(c.Request.Context(), claims.UserID, parts[1]); err != nil {
			if appErr.IsUnavailable(err) {
				response.Error(c, errcode.ErrUnavailable, "service unavailable")
			} else {
				response.Error(c, errcode.ErrUnauthorized, "session expired")
			}
			c.Abort()
			return
		}
		c.Set(ContextUserIDKey, claims.UserID)
		c.Set(ContextTokenKey, parts[1])
		c.Next()
	}
}
