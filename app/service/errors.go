package service

import (
	"errors"
	"fmt"
)

var (
	ErrUserExists         = errors.New("user already exists")
	ErrUserNotFound       = errors.New("user not found")
	ErrResetTokenNotFound = errors.New("token not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnauthenticated    = errors.New("not authenticated")
	ErrForbidden          = errors.New("not allowed to act on another user")
	ErrWeakPassword       = errors.New("password does not meet policy requirements")
	ErrInternal           = errors.New("internal server error")
	ErrInvalidAPIKey      = errors.New("invalid api key")

	// Login failures keep their cause for logs; callers match ErrInvalidCredentials.
	ErrUnknownEmail  = fmt.Errorf("%w: incorrect email", ErrInvalidCredentials)
	ErrWrongPassword = fmt.Errorf("%w: incorrect password", ErrInvalidCredentials)
)
