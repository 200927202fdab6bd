package middleware

import (
	"net/http"

	httpdto "github.com/vibast-solutions/ms-go-accounts/app/dto/http"
	"github.com/vibast-solutions/ms-go-accounts/app/service"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

const (
	ContextKeyUserID = "user_id"
	ContextKeyClaims = "claims"
)

type sessionVerifier interface {
	VerifySessionToken(token string) (*service.Claims, error)
}

// AuthMiddleware authenticates requests by the session cookie.
type AuthMiddleware struct {
	verifier   sessionVerifier
	cookieName string
}

func NewAuthMiddleware(verifier sessionVerifier, cookieName string) *AuthMiddleware {
	return &AuthMiddleware{verifier: verifier, cookieName: cookieName}
}

func (m *AuthMiddleware) RequireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		cookie, err := c.Cookie(m.cookieName)
		if err != nil || cookie.Value == "" {
			logrus.Debug("Missing session cookie")
			return c.JSON(http.StatusUnauthorized, httpdto.ErrorResponse{Error: "not authenticated"})
		}

		claims, err := m.verifier.VerifySessionToken(cookie.Value)
		if err != nil {
			logrus.WithError(err).Debug("Invalid or expired session token")
			return c.JSON(http.StatusUnauthorized, httpdto.ErrorResponse{Error: "invalid or expired session"})
		}

		c.Set(ContextKeyUserID, claims.UserID)
		c.Set(ContextKeyClaims, claims)

		return next(c)
	}
}
