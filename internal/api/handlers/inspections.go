package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/gridlens/gridlens/internal/thermal"
)

func (c *Controller) initInspectionRoutes() {
	g := c.Group.Group("/inspections")
	g.GET("", c.ListInspections)
	g.POST("", c.CreateInspection)
	g.GET("/:id", c.GetInspection)
	g.PUT("/:id", c.UpdateInspection)
	g.DELETE("/:id", c.DeleteInspection)
}

// ListInspections returns inspections, optionally for one transformer.
func (c *Controller) ListInspections(ctx echo.Context) error {
	list, err := c.svc.Inspections.List(ctx.Request().Context(), ctx.QueryParam("transformerId"))
	if err != nil {
		return c.HandleError(ctx, err, "Failed to list inspections")
	}
	return ctx.JSON(http.StatusOK, list)
}

// GetInspection returns one inspection.
func (c *Controller) GetInspection(ctx echo.Context) error {
	insp, err := c.svc.Inspections.Get(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return c.HandleError(ctx, err, "Failed to get inspection")
	}
	return ctx.JSON(http.StatusOK, insp)
}

// CreateInspection stores an inspection for an existing transformer.
func (c *Controller) CreateInspection(ctx echo.Context) error {
	var req thermal.InspectionRequest
	if err := bind(ctx, &req); err != nil {
		return c.HandleError(ctx, err, "Invalid inspection")
	}
	insp, err := c.svc.Inspections.Create(ctx.Request().Context(), req)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to create inspection")
	}
	return ctx.JSON(http.StatusOK, insp)
}

// UpdateInspection applies the non-null fields of the body.
func (c *Controller) UpdateInspection(ctx echo.Context) error {
	var req thermal.InspectionRequest
	if err := bind(ctx, &req); err != nil {
		return c.HandleError(ctx, err, "Invalid inspection")
	}
	insp, err := c.svc.Inspections.Update(ctx.Request().Context(), ctx.Param("id"), req)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to update inspection")
	}
	return ctx.JSON(http.StatusOK, insp)
}

// DeleteInspection removes an inspection and its images.
func (c *Controller) DeleteInspection(ctx echo.Context) error {
	if err := c.svc.Inspections.Delete(ctx.Request().Context(), ctx.Param("id")); err != nil {
		return c.HandleError(ctx, err, "Failed to delete inspection")
	}
	return ctx.NoContent(http.StatusOK)
}
