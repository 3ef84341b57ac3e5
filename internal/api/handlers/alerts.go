package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/gridlens/gridlens/internal/thermal"
)

func (c *Controller) initAlertRoutes() {
	c.Group.GET("/alerts", c.ListAlerts)
	c.Group.POST("/alerts", c.CreateAlert)
	c.Group.PUT("/alerts/:id/read", c.MarkAlertRead)
}

// ListAlerts returns alerts newest first.
func (c *Controller) ListAlerts(ctx echo.Context) error {
	list, err := c.svc.Alerts.List(ctx.Request().Context())
	if err != nil {
		return c.HandleError(ctx, err, "Failed to list alerts")
	}
	return ctx.JSON(http.StatusOK, list)
}

// CreateAlert stores a manual alert.
func (c *Controller) CreateAlert(ctx echo.Context) error {
	var in thermal.AlertInput
	if err := bind(ctx, &in); err != nil {
		return c.HandleError(ctx, err, "Invalid alert")
	}
	a, err := c.svc.Alerts.Create(ctx.Request().Context(), in)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to create alert")
	}
	return ctx.JSON(http.StatusOK, a)
}

// MarkAlertRead flags an alert as read.
func (c *Controller) MarkAlertRead(ctx echo.Context) error {
	if err := c.svc.Alerts.MarkRead(ctx.Request().Context(), ctx.Param("id")); err != nil {
		return c.HandleError(ctx, err, "Failed to mark alert read")
	}
	return ctx.NoContent(http.StatusOK)
}
