package middleware

import (
	"context"
	"strings"

	"github.com/labstack/echo/v4"

	"chatsync/pkg/errors"
	"chatsync/pkg/response"
)

// TokenVerifier checks a Firebase ID token and returns its uid.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (string, error)
}

type AuthMiddleware struct {
	verifier TokenVerifier
	required bool
}

// NewAuthMiddleware builds the middleware. With required unset, requests
// without a valid token pass through anonymously.
func NewAuthMiddleware(verifier TokenVerifier, required bool) *AuthMiddleware {
	return &AuthMiddleware{
		verifier: verifier,
		required: required,
	}
}

func (m *AuthMiddleware) Authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token, ok := bearerToken(c)
		if !ok {
			if m.required {
				return response.Error(c, errors.Unauthorized("Authorization header is required", nil))
			}
			return next(c)
		}

		if m.verifier == nil {
			if m.required {
				return response.Error(c, errors.Unauthorized("Token verification is unavailable", nil))
			}
			return next(c)
		}

		uid, err := m.verifier.VerifyToken(c.Request().Context(), token)
		if err != nil {
			if m.required {
				return response.Error(c, errors.Unauthorized("Invalid or expired token", err))
			}
			return next(c)
		}

		c.Set("uid", uid)
		return next(c)
	}
}

func bearerToken(c echo.Context) (string, bool) {
	authHeader := c.Request().Header.Get("Authorization")
	if authHeader == "" {
		// Browsers cannot set headers on websocket upgrades.
		if token := c.QueryParam("token"); token != "" {
			return token, true
		}
		return "", false
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", false
	}
	return parts[1], true
}
