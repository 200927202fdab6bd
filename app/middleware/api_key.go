package middleware

import (
	"net/http"

	httpdto "github.com/vibast-solutions/ms-go-accounts/app/dto/http"
	"github.com/vibast-solutions/ms-go-accounts/app/service"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

const HeaderAPIKey = "X-API-Key"

// APIKeyMiddleware guards internal routes with the shared INTERNAL_API_KEY.
type APIKeyMiddleware struct {
	verifier *service.APIKeyVerifier
}

func NewAPIKeyMiddleware(verifier *service.APIKeyVerifier) *APIKeyMiddleware {
	return &APIKeyMiddleware{verifier: verifier}
}

func (m *APIKeyMiddleware) RequireAPIKey(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		// Let CORS preflight pass.
		if c.Request().Method == http.MethodOptions {
			return next(c)
		}

		apiKey := c.Request().Header.Get(HeaderAPIKey)
		if apiKey == "" {
			logrus.Debug("Missing x-api-key header")
			return c.JSON(http.StatusUnauthorized, httpdto.ErrorResponse{Error: "unauthorized"})
		}

		if err := m.verifier.Verify(apiKey); err != nil {
			logrus.WithField("path", c.Path()).Warn("Invalid x-api-key header")
			return c.JSON(http.StatusUnauthorized, httpdto.ErrorResponse{Error: "unauthorized"})
		}

		return next(c)
	}
}
