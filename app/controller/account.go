package controller

import (
	"errors"
	"net/http"
	"strconv"

	httpdto "github.com/vibast-solutions/ms-go-accounts/app/dto/http"
	"github.com/vibast-solutions/ms-go-accounts/app/middleware"
	"github.com/vibast-solutions/ms-go-accounts/app/service"
	"github.com/vibast-solutions/ms-go-accounts/app/types"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

type AccountController struct {
	accounts service.AccountService
	cookie   *SessionCookie
}

func NewAccountController(accounts service.AccountService, cookie *SessionCookie) *AccountController {
	return &AccountController{accounts: accounts, cookie: cookie}
}

func (c *AccountController) List(ctx echo.Context) error {
	users, err := c.accounts.ListUsers(ctx.Request().Context())
	if err != nil {
		logrus.WithError(err).Error("List users failed")
		return internalError(ctx)
	}
	return ctx.JSON(http.StatusOK, httpdto.NewUserListResponse(users))
}

func (c *AccountController) Register(ctx echo.Context) error {
	req, err := types.NewRegisterRequestFromContext(ctx)
	if err != nil {
		logrus.WithError(err).Debug("Failed to bind register request")
		return ctx.JSON(http.StatusBadRequest, httpdto.ErrorResponse{Error: "invalid request body"})
	}

	if err = req.Validate(); err != nil {
		logrus.WithField("email", req.Email).Debug("Register validation failed")
		return ctx.JSON(http.StatusBadRequest, httpdto.ErrorResponse{Error: err.Error()})
	}

	logrus.WithField("email", req.Email).Info("Register request received")
	session, err := c.accounts.Register(ctx.Request().Context(), req)
	if err != nil {
		if errors.Is(err, service.ErrUserExists) {
			logrus.WithField("email", req.Email).Warn("Register failed: user already exists")
			return ctx.JSON(http.StatusConflict, httpdto.ErrorResponse{Error: "user already exists"})
		}
		if errors.Is(err, service.ErrWeakPassword) {
			logrus.WithField("email", req.Email).Warn("Register failed: weak password")
			return ctx.JSON(http.StatusBadRequest, httpdto.ErrorResponse{Error: err.Error()})
		}
		logrus.WithError(err).WithField("email", req.Email).Error("Register failed")
		return internalError(ctx)
	}

	c.cookie.Set(ctx, session.Token)
	logrus.WithField("user_id", session.UserID).Info("User registered")
	return ctx.JSON(http.StatusOK, httpdto.UserIDResponse{UserID: session.UserID})
}

func (c *AccountController) Login(ctx echo.Context) error {
	req, err := types.NewLoginRequestFromContext(ctx)
	if err != nil {
		logrus.WithError(err).Debug("Failed to bind login request")
		return ctx.JSON(http.StatusBadRequest, httpdto.ErrorResponse{Error: "invalid request body"})
	}

	if err = req.Validate(); err != nil {
		logrus.WithField("email", req.Email).Debug("Login validation failed")
		return ctx.JSON(http.StatusBadRequest, httpdto.ErrorResponse{Error: err.Error()})
	}

	logrus.WithField("email", req.Email).Info("Login request received")
	session, err := c.accounts.Login(ctx.Request().Context(), req)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			logrus.WithError(err).WithField("email", req.Email).Warn("Login failed")
			return ctx.JSON(http.StatusUnauthorized, httpdto.ErrorResponse{Error: "invalid credentials"})
		}
		logrus.WithError(err).WithField("email", req.Email).Error("Login failed")
		return internalError(ctx)
	}

	c.cookie.Set(ctx, session.Token)
	logrus.WithField("user_id", session.UserID).Info("Login successful")
	return ctx.JSON(http.StatusOK, httpdto.UserIDResponse{UserID: session.UserID})
}

func (c *AccountController) Logout(ctx echo.Context) error {
	c.cookie.Clear(ctx)
	return ctx.JSON(http.StatusOK, httpdto.MessageResponse{Message: "logged out successfully"})
}

func (c *AccountController) CurrentUser(ctx echo.Context) error {
	token := c.cookie.Read(ctx)
	if token == "" {
		logrus.Debug("Current user requested without session cookie")
		return ctx.JSON(http.StatusUnauthorized, httpdto.ErrorResponse{Error: "no token provided"})
	}

	claims, err := c.accounts.CurrentUser(token)
	if err != nil {
		logrus.WithError(err).Debug("Current user requested with invalid session")
		return ctx.JSON(http.StatusUnauthorized, httpdto.ErrorResponse{Error: "invalid or expired session"})
	}

	return ctx.JSON(http.StatusOK, httpdto.CurrentUserResponse{
		ID:        claims.Subject,
		Role:      claims.Role,
		Email:     claims.Email,
		FirstName: claims.FirstName,
		LastName:  claims.LastName,
	})
}

func (c *AccountController) Update(ctx echo.Context) error {
	req, err := types.NewUpdateUserRequestFromContext(ctx)
	if err != nil {
		logrus.WithError(err).Debug("Failed to bind update user request")
		return ctx.JSON(http.StatusBadRequest, httpdto.ErrorResponse{Error: "invalid request body"})
	}

	if err = req.Validate(); err != nil {
		logrus.WithField("user_id", req.UserID).Debug("Update user validation failed")
		return ctx.JSON(http.StatusBadRequest, httpdto.ErrorResponse{Error: err.Error()})
	}

	actorID, ok := ctx.Get(middleware.ContextKeyUserID).(uint64)
	if !ok {
		logrus.Warn("Update user failed: missing user_id in context")
		return ctx.JSON(http.StatusUnauthorized, httpdto.ErrorResponse{Error: "unauthorized"})
	}

	logrus.WithField("user_id", req.UserID).Info("Update user request received")
	result, err := c.accounts.UpdateUser(ctx.Request().Context(), actorID, req)
	if err != nil {
		return c.writeUserError(ctx, "Update user", req.UserID, err)
	}

	c.cookie.Clear(ctx)
	c.cookie.Set(ctx, result.Session.Token)
	logrus.WithField("user_id", result.User.ID).Info("User updated")
	return ctx.JSON(http.StatusOK, httpdto.UpdateUserResponse{
		Message: "user updated successfully",
		Data:    httpdto.NewUserResponse(result.User),
	})
}

func (c *AccountController) Delete(ctx echo.Context) error {
	userID, err := strconv.ParseUint(ctx.Param("user_id"), 10, 64)
	if err != nil || userID == 0 {
		return ctx.JSON(http.StatusBadRequest, httpdto.ErrorResponse{Error: "invalid user id"})
	}

	actorID, ok := ctx.Get(middleware.ContextKeyUserID).(uint64)
	if !ok {
		logrus.Warn("Delete user failed: missing user_id in context")
		return ctx.JSON(http.StatusUnauthorized, httpdto.ErrorResponse{Error: "unauthorized"})
	}

	logrus.WithField("user_id", userID).Info("Delete user request received")
	if err = c.accounts.DeleteUser(ctx.Request().Context(), actorID, userID); err != nil {
		return c.writeUserError(ctx, "Delete user", userID, err)
	}

	c.cookie.Clear(ctx)
	logrus.WithField("user_id", userID).Info("User deleted")
	return ctx.JSON(http.StatusOK, httpdto.MessageResponse{Message: "user deleted successfully"})
}

func (c *AccountController) ForgotPassword(ctx echo.Context) error {
	req, err := types.NewForgotPasswordRequestFromContext(ctx)
	if err != nil {
		logrus.WithError(err).Debug("Failed to bind forgot password request")
		return ctx.JSON(http.StatusBadRequest, httpdto.ErrorResponse{Error: "invalid request body"})
	}

	if err = req.Validate(); err != nil {
		logrus.Debug("Forgot password validation failed")
		return ctx.JSON(http.StatusBadRequest, httpdto.ErrorResponse{Error: err.Error()})
	}

	logrus.WithField("email", req.Email).Info("Forgot password request received")
	if err = c.accounts.ForgotPassword(ctx.Request().Context(), req); err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			logrus.WithField("email", req.Email).Warn("Forgot password failed: user not found")
			return ctx.JSON(http.StatusNotFound, httpdto.ErrorResponse{Error: "user not found"})
		}
		logrus.WithError(err).WithField("email", req.Email).Error("Forgot password failed")
		return internalError(ctx)
	}

	return ctx.JSON(http.StatusOK, httpdto.MessageResponse{Message: "reset token created and sent to email"})
}

func (c *AccountController) ResetPassword(ctx echo.Context) error {
	req, err := types.NewResetPasswordRequestFromContext(ctx)
	if err != nil {
		logrus.WithError(err).Debug("Failed to bind reset password request")
		return ctx.JSON(http.StatusBadRequest, httpdto.ErrorResponse{Error: "invalid request body"})
	}

	if err = req.Validate(); err != nil {
		logrus.Debug("Reset password validation failed")
		return ctx.JSON(http.StatusBadRequest, httpdto.ErrorResponse{Error: err.Error()})
	}

	logrus.Info("Reset password request received")
	if err = c.accounts.ResetPassword(ctx.Request().Context(), req); err != nil {
		if errors.Is(err, service.ErrResetTokenNotFound) {
			logrus.Warn("Reset password failed: token not found")
			return ctx.JSON(http.StatusNotFound, httpdto.ErrorResponse{Error: "token not found"})
		}
		if errors.Is(err, service.ErrWeakPassword) {
			logrus.Warn("Reset password failed: weak password")
			return ctx.JSON(http.StatusBadRequest, httpdto.ErrorResponse{Error: err.Error()})
		}
		logrus.WithError(err).Error("Reset password failed")
		return internalError(ctx)
	}

	logrus.Info("Password reset")
	return ctx.JSON(http.StatusOK, httpdto.MessageResponse{Message: "password changed successfully"})
}

func (c *AccountController) writeUserError(ctx echo.Context, op string, userID uint64, err error) error {
	log := logrus.WithField("user_id", userID)
	switch {
	case errors.Is(err, service.ErrForbidden):
		log.Warn(op + " failed: forbidden")
		return ctx.JSON(http.StatusForbidden, httpdto.ErrorResponse{Error: "forbidden"})
	case errors.Is(err, service.ErrUserNotFound):
		log.Warn(op + " failed: user not found")
		return ctx.JSON(http.StatusNotFound, httpdto.ErrorResponse{Error: "user not found"})
	case errors.Is(err, service.ErrUserExists):
		log.Warn(op + " failed: email already in use")
		return ctx.JSON(http.StatusConflict, httpdto.ErrorResponse{Error: "user already exists"})
	}
	log.WithError(err).Error(op + " failed")
	return internalError(ctx)
}

func internalError(ctx echo.Context) error {
	return ctx.JSON(http.StatusInternalServerError, httpdto.ErrorResponse{Error: "internal server error"})
}
