package controller

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// SessionCookie writes and clears the cookie that carries the session token.
type SessionCookie struct {
	name   string
	maxAge int
	secure bool
}

func NewSessionCookie(name string, ttl time.Duration, secure bool) *SessionCookie {
	return &SessionCookie{name: name, maxAge: int(ttl.Seconds()), secure: secure}
}

func (s *SessionCookie) Name() string {
	return s.name
}

func (s *SessionCookie) Set(ctx echo.Context, token string) {
	ctx.SetCookie(&http.Cookie{
		Name:     s.name,
		Value:    token,
		Path:     "/",
		MaxAge:   s.maxAge,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *SessionCookie) Clear(ctx echo.Context) {
	ctx.SetCookie(&http.Cookie{
		Name:     s.name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Read returns the token from the request cookie or "" when absent.
func (s *SessionCookie) Read(ctx echo.Context) string {
	cookie, err := ctx.Cookie(s.name)
	if err != nil {
		return ""
	}
	return cookie.Value
}
