package handlers

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/gridlens/gridlens/internal/errors"
)

var errTrainingDisabled = errors.NewSentinel("training queue is disabled", errors.CategoryJobQueue)

func (c *Controller) initTrainingRoutes() {
	c.Group.POST("/training/jobs", c.SubmitTrainingJob)
	c.Group.GET("/training/jobs/:id", c.GetTrainingJob)
}

// SubmitTrainingJob queues a retrain. An optional version query parameter
// trains an existing dataset version instead of generating a new one.
func (c *Controller) SubmitTrainingJob(ctx echo.Context) error {
	if c.svc.Training == nil {
		return c.HandleError(ctx, errTrainingDisabled, "Training is not available")
	}
	var version *int
	if raw := ctx.QueryParam("version"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			return c.HandleError(ctx, errors.ValidationError("version must be a positive integer"), "Invalid query")
		}
		version = &v
	}
	job, err := c.svc.Training.Submit(ctx.Request().Context(), version)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to queue training job")
	}
	return ctx.JSON(http.StatusOK, map[string]string{"job_id": job.ID, "status": job.Status})
}

// GetTrainingJob returns a job, or status "unknown" for an unknown id.
func (c *Controller) GetTrainingJob(ctx echo.Context) error {
	if c.svc.Training == nil {
		return c.HandleError(ctx, errTrainingDisabled, "Training is not available")
	}
	id := ctx.Param("id")
	job, err := c.svc.Training.Get(ctx.Request().Context(), id)
	switch {
	case errors.IsNotFound(err):
		return ctx.JSON(http.StatusOK, map[string]string{"status": "unknown", "job_id": id})
	case err != nil:
		return c.HandleError(ctx, err, "Failed to get training job")
	}
	return ctx.JSON(http.StatusOK, job)
}
