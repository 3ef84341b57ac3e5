package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/gridlens/gridlens/internal/annotation"
)

func (c *Controller) initAnnotationRoutes() {
	g := c.Group.Group("/annotations")
	g.GET("/thermal-image/:id", c.ListAnnotations)
	g.POST("/thermal-image/:id", c.CreateAnnotation)
	g.POST("/thermal-image/:id/sync", c.SyncAnnotations)
	g.PUT("/:id", c.UpdateAnnotation)
	g.DELETE("/:id", c.DeleteAnnotation)
}

// ListAnnotations returns the annotations of an image. Soft-deleted rows
// are included only with includeDeleted=true.
func (c *Controller) ListAnnotations(ctx echo.Context) error {
	includeDeleted, err := boolParam(ctx, "includeDeleted")
	if err != nil {
		return c.HandleError(ctx, err, "Invalid query")
	}
	list, err := c.svc.Annotations.List(ctx.Request().Context(), ctx.Param("id"), includeDeleted)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to list annotations")
	}
	return ctx.JSON(http.StatusOK, list)
}

// CreateAnnotation adds one annotation to an image.
func (c *Controller) CreateAnnotation(ctx echo.Context) error {
	var in annotation.Input
	if err := bind(ctx, &in); err != nil {
		return c.HandleError(ctx, err, "Invalid annotation")
	}
	rec, err := c.svc.Annotations.Create(ctx.Request().Context(), ctx.Param("id"), in, userID(ctx))
	if err != nil {
		return c.HandleError(ctx, err, "Failed to create annotation")
	}
	return ctx.JSON(http.StatusOK, rec)
}

// SyncAnnotations reconciles the image's annotations with the posted
// detection list and returns the resulting live set.
func (c *Controller) SyncAnnotations(ctx echo.Context) error {
	var detections []annotation.Detection
	if err := bind(ctx, &detections); err != nil {
		return c.HandleError(ctx, err, "Invalid detections")
	}
	out, err := c.svc.Annotations.Sync(ctx.Request().Context(), ctx.Param("id"), detections, userID(ctx))
	if err != nil {
		return c.HandleError(ctx, err, "Failed to sync annotations")
	}
	return ctx.JSON(http.StatusOK, out)
}

// UpdateAnnotation edits an annotation.
func (c *Controller) UpdateAnnotation(ctx echo.Context) error {
	var in annotation.Input
	if err := bind(ctx, &in); err != nil {
		return c.HandleError(ctx, err, "Invalid annotation")
	}
	rec, err := c.svc.Annotations.Update(ctx.Request().Context(), ctx.Param("id"), in, userID(ctx))
	if err != nil {
		return c.HandleError(ctx, err, "Failed to update annotation")
	}
	return ctx.JSON(http.StatusOK, rec)
}

// DeleteAnnotation soft-deletes an annotation, or purges it with
// hardDelete=true.
func (c *Controller) DeleteAnnotation(ctx echo.Context) error {
	hard, err := boolParam(ctx, "hardDelete")
	if err != nil {
		return c.HandleError(ctx, err, "Invalid query")
	}
	if err := c.svc.Annotations.Delete(ctx.Request().Context(), ctx.Param("id"), userID(ctx), hard); err != nil {
		return c.HandleError(ctx, err, "Failed to delete annotation")
	}
	return ctx.NoContent(http.StatusOK)
}
