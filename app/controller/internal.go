package controller

import (
	"net/http"

	httpdto "github.com/vibast-solutions/ms-go-accounts/app/dto/http"
	"github.com/vibast-solutions/ms-go-accounts/app/service"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

type InternalController struct {
	accounts service.AccountService
}

func NewInternalController(accounts service.AccountService) *InternalController {
	return &InternalController{accounts: accounts}
}

func (c *InternalController) Stats(ctx echo.Context) error {
	stats, err := c.accounts.Stats(ctx.Request().Context())
	if err != nil {
		logrus.WithError(err).Error("User stats failed")
		return internalError(ctx)
	}

	top := make([]httpdto.LastNameCountResponse, 0, len(stats.TopLastNames))
	for _, ln := range stats.TopLastNames {
		top = append(top, httpdto.LastNameCountResponse{LastName: ln.LastName, Users: ln.Users})
	}
	return ctx.JSON(http.StatusOK, httpdto.UserStatsResponse{
		TotalUsers:    stats.TotalUsers,
		PendingResets: stats.PendingResets,
		MinUserID:     stats.MinUserID,
		MaxUserID:     stats.MaxUserID,
		TopLastNames:  top,
	})
}

func Health(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, httpdto.HealthResponse{Status: "ok"})
}
