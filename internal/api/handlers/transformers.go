package handlers

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/gridlens/gridlens/internal/errors"
	"github.com/gridlens/gridlens/internal/thermal"
)

func (c *Controller) initTransformerRoutes() {
	g := c.Group.Group("/transformers")
	g.GET("", c.ListTransformers)
	g.POST("", c.CreateTransformer)
	g.GET("/:id", c.GetTransformer)
	g.PUT("/:id", c.UpdateTransformer)
	g.DELETE("/:id", c.DeleteTransformer)
	g.POST("/:id/baseline", c.UploadBaseline)
	g.GET("/:id/baseline", c.GetBaseline)
}

// ListTransformers returns every transformer.
func (c *Controller) ListTransformers(ctx echo.Context) error {
	list, err := c.svc.Transformers.List(ctx.Request().Context())
	if err != nil {
		return c.HandleError(ctx, err, "Failed to list transformers")
	}
	return ctx.JSON(http.StatusOK, list)
}

// GetTransformer returns one transformer.
func (c *Controller) GetTransformer(ctx echo.Context) error {
	t, err := c.svc.Transformers.Get(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return c.HandleError(ctx, err, "Failed to get transformer")
	}
	return ctx.JSON(http.StatusOK, t)
}

// CreateTransformer stores a new transformer.
func (c *Controller) CreateTransformer(ctx echo.Context) error {
	var in thermal.TransformerInput
	if err := bind(ctx, &in); err != nil {
		return c.HandleError(ctx, err, "Invalid transformer")
	}
	t, err := c.svc.Transformers.Create(ctx.Request().Context(), in)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to create transformer")
	}
	return ctx.JSON(http.StatusOK, t)
}

// UpdateTransformer replaces the editable fields of a transformer.
func (c *Controller) UpdateTransformer(ctx echo.Context) error {
	var in thermal.TransformerInput
	if err := bind(ctx, &in); err != nil {
		return c.HandleError(ctx, err, "Invalid transformer")
	}
	t, err := c.svc.Transformers.Update(ctx.Request().Context(), ctx.Param("id"), in)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to update transformer")
	}
	return ctx.JSON(http.StatusOK, t)
}

// DeleteTransformer removes a transformer and its inspections.
func (c *Controller) DeleteTransformer(ctx echo.Context) error {
	if err := c.svc.Transformers.Delete(ctx.Request().Context(), ctx.Param("id")); err != nil {
		return c.HandleError(ctx, err, "Failed to delete transformer")
	}
	return ctx.NoContent(http.StatusOK)
}

// UploadBaseline stores the multipart "file" as the baseline image for
// the weatherCondition form or query value.
func (c *Controller) UploadBaseline(ctx echo.Context) error {
	weather := ctx.FormValue("weatherCondition")
	if weather == "" {
		weather = ctx.QueryParam("weatherCondition")
	}
	name, contentType, data, err := readFormFile(ctx, "file")
	if err != nil {
		return c.HandleError(ctx, err, "Baseline image file is required")
	}
	t, err := c.svc.Transformers.UploadBaseline(ctx.Request().Context(), ctx.Param("id"), weather, name, data, contentType)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to upload baseline image")
	}
	return ctx.JSON(http.StatusOK, t)
}

// GetBaseline returns the baseline image URL for a weather condition.
func (c *Controller) GetBaseline(ctx echo.Context) error {
	weather := ctx.QueryParam("weatherCondition")
	url, err := c.svc.Transformers.Baseline(ctx.Request().Context(), ctx.Param("id"), weather)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to get baseline image")
	}
	return ctx.JSON(http.StatusOK, map[string]string{
		"transformerId":    ctx.Param("id"),
		"weatherCondition": weather,
		"imageUrl":         url,
	})
}

// readFormFile reads a multipart file part fully.
func readFormFile(ctx echo.Context, field string) (name, contentType string, data []byte, err error) {
	fh, err := ctx.FormFile(field)
	if err != nil {
		return "", "", nil, errors.Newf("multipart part %q is required", field).
			Component("api").
			Category(errors.CategoryValidation).
			Build()
	}
	f, err := fh.Open()
	if err != nil {
		return "", "", nil, errors.New(err).
			Component("api").
			Category(errors.CategoryFileIO).
			Build()
	}
	defer func() { _ = f.Close() }()

	data, err = io.ReadAll(f)
	if err != nil {
		return "", "", nil, errors.New(err).
			Component("api").
			Category(errors.CategoryFileIO).
			Build()
	}
	return fh.Filename, fh.Header.Get(echo.HeaderContentType), data, nil
}
