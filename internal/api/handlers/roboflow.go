package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/gridlens/gridlens/internal/errors"
	"github.com/gridlens/gridlens/internal/logger"
	"github.com/gridlens/gridlens/internal/roboflow"
)

var errRoboflowDisabled = errors.NewSentinel("Roboflow integration is not configured", errors.CategoryConfiguration)

func (c *Controller) initRoboflowRoutes() {
	g := c.Group.Group("/roboflow")
	g.POST("/upload/batch", c.BatchUploadToDataset)
	g.POST("/upload/user-corrections", c.UploadUserCorrections)
	g.POST("/upload/:id", c.UploadToDataset)
	g.GET("/export/yolo/:id", c.ExportYOLO)
	g.POST("/train", c.TriggerTraining)
}

// roboflowError writes the {success:false, error} body these endpoints use.
func (c *Controller) roboflowError(ctx echo.Context, err error) error {
	code := StatusFor(err)
	if errors.Is(err, errRoboflowDisabled) || errors.IsCategory(err, errors.CategoryConfiguration) {
		code = http.StatusServiceUnavailable
	}
	msg := logger.RedactSensitiveData(err.Error())
	c.log.WithContext(ctx.Request().Context()).Warn("roboflow request failed",
		logger.String("path", ctx.Request().URL.Path),
		logger.Int("code", code),
		logger.String("error", msg))
	return ctx.JSON(code, map[string]any{"success": false, "error": msg})
}

func (c *Controller) roboflowService() (*roboflow.Service, error) {
	if c.svc.Roboflow == nil {
		return nil, errRoboflowDisabled
	}
	return c.svc.Roboflow, nil
}

func split(ctx echo.Context) string {
	if s := ctx.QueryParam("split"); s != "" {
		return s
	}
	return "train"
}

// UploadToDataset uploads one image and its annotations.
func (c *Controller) UploadToDataset(ctx echo.Context) error {
	svc, err := c.roboflowService()
	if err != nil {
		return c.roboflowError(ctx, err)
	}
	id := ctx.Param("id")
	s := split(ctx)
	summary, err := svc.UploadWithAnnotations(ctx.Request().Context(), id, s)
	if err != nil {
		return c.roboflowError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"success":          true,
		"thermalImageId":   id,
		"split":            s,
		"roboflowResponse": summary,
		"message":          "Image and annotations uploaded successfully to Roboflow",
	})
}

// BatchUploadToDataset uploads every image id in the JSON array body.
func (c *Controller) BatchUploadToDataset(ctx echo.Context) error {
	svc, err := c.roboflowService()
	if err != nil {
		return c.roboflowError(ctx, err)
	}
	var ids []string
	if err := bind(ctx, &ids); err != nil {
		return c.roboflowError(ctx, err)
	}
	summary, err := svc.BatchUpload(ctx.Request().Context(), ids, split(ctx))
	if err != nil {
		return c.roboflowError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, batchBody(summary))
}

// batchBody reports the batch counts. "success" is the request outcome;
// the per-image success count is "uploaded".
func batchBody(summary *roboflow.BatchSummary) map[string]any {
	return map[string]any{
		"success":  true,
		"total":    summary.Total,
		"uploaded": summary.Success,
		"failure":  summary.Failure,
		"split":    summary.Split,
	}
}

// UploadUserCorrections uploads every image with user-corrected annotations.
func (c *Controller) UploadUserCorrections(ctx echo.Context) error {
	svc, err := c.roboflowService()
	if err != nil {
		return c.roboflowError(ctx, err)
	}
	summary, err := svc.UploadUserCorrections(ctx.Request().Context(), split(ctx))
	if err != nil {
		return c.roboflowError(ctx, err)
	}
	body := batchBody(summary)
	body["message"] = "User-corrected annotations uploaded to Roboflow for retraining"
	return ctx.JSON(http.StatusOK, body)
}

// ExportYOLO returns the image's annotations as YOLO label text.
func (c *Controller) ExportYOLO(ctx echo.Context) error {
	svc, err := c.roboflowService()
	if err != nil {
		return c.roboflowError(ctx, err)
	}
	id := ctx.Param("id")
	yolo, err := svc.ExportYOLO(ctx.Request().Context(), id)
	if err != nil {
		return c.roboflowError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"success":         true,
		"thermalImageId":  id,
		"yoloAnnotations": yolo,
	})
}

// TriggerTraining starts training on a dataset version.
func (c *Controller) TriggerTraining(ctx echo.Context) error {
	svc, err := c.roboflowService()
	if err != nil {
		return c.roboflowError(ctx, err)
	}
	res, err := svc.Train(ctx.Request().Context(), ctx.QueryParam("version"))
	if err != nil {
		return c.roboflowError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"success":          true,
		"message":          "Model training triggered successfully",
		"roboflowResponse": res,
	})
}
