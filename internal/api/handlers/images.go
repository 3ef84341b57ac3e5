package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/gridlens/gridlens/internal/errors"
	"github.com/gridlens/gridlens/internal/thermal"
)

func (c *Controller) initImageRoutes() {
	g := c.Group.Group("/thermal-images")
	g.GET("", c.ListImages)
	g.POST("/upload", c.UploadImage)
	g.GET("/:id", c.GetImage)
	g.PUT("/:id/detections", c.UpdateDetections)
	g.DELETE("/:id", c.DeleteImage)
}

// ListImages returns images filtered by inspectionId and imageType.
func (c *Controller) ListImages(ctx echo.Context) error {
	list, err := c.svc.Images.List(ctx.Request().Context(), ctx.QueryParam("inspectionId"), ctx.QueryParam("imageType"))
	if err != nil {
		return c.HandleError(ctx, err, "Failed to list thermal images")
	}
	return ctx.JSON(http.StatusOK, list)
}

// GetImage returns one image.
func (c *Controller) GetImage(ctx echo.Context) error {
	img, err := c.svc.Images.Get(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return c.HandleError(ctx, err, "Failed to get thermal image")
	}
	return ctx.JSON(http.StatusOK, img)
}

// UploadImage accepts a multipart form with an "image" JSON part, a
// "file" part and the inspectionId query parameter.
func (c *Controller) UploadImage(ctx echo.Context) error {
	inspectionID := ctx.QueryParam("inspectionId")
	if inspectionID == "" {
		return c.HandleError(ctx, errors.ValidationError("inspectionId is required"), "Invalid upload")
	}
	meta, err := readImageMeta(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "Invalid upload")
	}
	name, contentType, data, err := readFormFile(ctx, "file")
	if err != nil {
		return c.HandleError(ctx, err, "Invalid upload")
	}

	img, err := c.svc.Images.Upload(ctx.Request().Context(), thermal.UploadRequest{
		InspectionID: inspectionID,
		Meta:         meta,
		FileName:     name,
		ContentType:  contentType,
		Data:         data,
	})
	if err != nil {
		return c.HandleError(ctx, err, "Failed to upload thermal image")
	}
	return ctx.JSON(http.StatusOK, img)
}

// readImageMeta decodes the "image" part, sent either as a plain form
// field or as a JSON file part.
func readImageMeta(ctx echo.Context) (thermal.ImageMeta, error) {
	var meta thermal.ImageMeta

	raw := []byte(ctx.FormValue("image"))
	if len(raw) == 0 {
		fh, err := ctx.FormFile("image")
		if err != nil {
			return meta, errors.ValidationError("multipart part \"image\" is required")
		}
		f, err := fh.Open()
		if err != nil {
			return meta, err
		}
		defer func() { _ = f.Close() }()
		if raw, err = io.ReadAll(f); err != nil {
			return meta, err
		}
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return meta, errors.Newf("invalid image metadata: %v", err).
			Component("api").
			Category(errors.CategoryValidation).
			Build()
	}
	return meta, nil
}

// UpdateDetections replaces the legacy detection JSON with the raw body.
func (c *Controller) UpdateDetections(ctx echo.Context) error {
	raw, err := io.ReadAll(ctx.Request().Body)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to read request body")
	}
	img, err := c.svc.Images.UpdateDetections(ctx.Request().Context(), ctx.Param("id"), raw)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to update detections")
	}
	return ctx.JSON(http.StatusOK, img)
}

// DeleteImage removes an image and its stored file.
func (c *Controller) DeleteImage(ctx echo.Context) error {
	if err := c.svc.Images.Delete(ctx.Request().Context(), ctx.Param("id")); err != nil {
		return c.HandleError(ctx, err, "Failed to delete thermal image")
	}
	return ctx.NoContent(http.StatusOK)
}
