package middleware

import (
	"slices"
	"strings"

	"github.com/gin-gonic/gin"

	"codealloc/internal/core/apperror"
	appctx "codealloc/internal/core/context"
)

// JWTValidator interface for token validation.
type JWTValidator interface {
	ValidateToken(tokenString string) (*appctx.Actor, error)
}

// Auth middleware validates bearer tokens and puts the actor into context.
func Auth(validator JWTValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			abortUnauthorized(c, "missing or malformed authorization header")
			return
		}

		actor, err := validator.ValidateToken(token)
		if err != nil {
			_ = c.Error(apperror.NewUnauthorized("invalid token").WithCause(err))
			c.Abort()
			return
		}

		setActor(c, actor)
		c.Next()
	}
}

// OptionalAuth records the actor when a valid token is present, so audit
// rows name the caller, but never rejects a request.
func OptionalAuth(validator JWTValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token, ok := bearerToken(c); ok {
			if actor, err := validator.ValidateToken(token); err == nil && actor != nil {
				setActor(c, actor)
			}
		}
		c.Next()
	}
}

// RequireRole middleware checks if the actor has one of roles.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := appctx.GetActor(c.Request.Context())
		if actor == nil {
			abortUnauthorized(c, "authentication required")
			return
		}
		for _, required := range roles {
			if slices.Contains(actor.Roles, required) {
				c.Next()
				return
			}
		}
		_ = c.Error(
			apperror.NewForbidden("insufficient permissions").
				WithDetail("required_roles", roles),
		)
		c.Abort()
	}
}

func bearerToken(c *gin.Context) (string, bool) {
	scheme, token, ok := strings.Cut(c.GetHeader("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || token == "" {
		return "", false
	}
	return token, true
}

func setActor(c *gin.Context, actor *appctx.Actor) {
	c.Request = c.Request.WithContext(appctx.WithActor(c.Request.Context(), actor))
	c.Set("actor", actor.Subject)
}

func abortUnauthorized(c *gin.Context, message string) {
	_ = c.Error(apperror.NewUnauthorized(message))
	c.Abort()
}
