package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/gridlens/gridlens/internal/datastore/entities"
	"github.com/gridlens/gridlens/internal/errors"
	"github.com/gridlens/gridlens/internal/feedback"
	"github.com/gridlens/gridlens/internal/logger"
	"github.com/gridlens/gridlens/internal/observability/metrics"
)

func (c *Controller) initFeedbackRoutes() {
	g := c.Group.Group("/feedback-logs")
	g.GET("", c.ListFeedbackLogs)
	g.GET("/unused", c.ListUnusedFeedbackLogs)
	g.GET("/thermal-image/:id", c.ListImageFeedbackLogs)
	g.GET("/stats", c.FeedbackStats)

	g.GET("/export/json", c.exportAll(feedback.FormatJSON))
	g.GET("/export/csv", c.exportAll(feedback.FormatCSV))
	g.GET("/export/json/unused", c.exportUnused(feedback.FormatJSON))
	g.GET("/export/csv/unused", c.exportUnused(feedback.FormatCSV))
	g.GET("/export/json/thermal-image/:id", c.ExportImageFeedbackLogs)

	g.POST("/mark-used", c.MarkFeedbackUsed)
	g.POST("/create", c.CreateFeedbackLog)
}

// ListFeedbackLogs returns logs, optionally filtered by feedbackType,
// annotatorId or a from/to date range.
func (c *Controller) ListFeedbackLogs(ctx echo.Context) error {
	f := feedback.Filter{
		Type:        ctx.QueryParam("feedbackType"),
		AnnotatorID: ctx.QueryParam("annotatorId"),
	}
	var err error
	if f.From, err = timeParam(ctx, "from", false); err != nil {
		return c.HandleError(ctx, err, "Invalid query")
	}
	if f.To, err = timeParam(ctx, "to", true); err != nil {
		return c.HandleError(ctx, err, "Invalid query")
	}
	logs, err := c.svc.Feedback.List(ctx.Request().Context(), f)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to list feedback logs")
	}
	return ctx.JSON(http.StatusOK, logs)
}

// ListUnusedFeedbackLogs returns logs not yet used for training.
func (c *Controller) ListUnusedFeedbackLogs(ctx echo.Context) error {
	logs, err := c.svc.Feedback.ListUnused(ctx.Request().Context())
	if err != nil {
		return c.HandleError(ctx, err, "Failed to list unused feedback logs")
	}
	return ctx.JSON(http.StatusOK, logs)
}

// ListImageFeedbackLogs returns the logs of one image.
func (c *Controller) ListImageFeedbackLogs(ctx echo.Context) error {
	logs, err := c.svc.Feedback.ListByImage(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return c.HandleError(ctx, err, "Failed to list feedback logs")
	}
	return ctx.JSON(http.StatusOK, logs)
}

// FeedbackStats returns log counts.
func (c *Controller) FeedbackStats(ctx echo.Context) error {
	st, err := c.svc.Feedback.Stats(ctx.Request().Context())
	if err != nil {
		return c.HandleError(ctx, err, "Failed to compute feedback statistics")
	}
	return ctx.JSON(http.StatusOK, st)
}

func (c *Controller) exportAll(format string) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		logs, err := c.svc.Feedback.List(ctx.Request().Context(), feedback.Filter{})
		if err != nil {
			return c.HandleError(ctx, err, "Failed to export feedback logs")
		}
		return c.writeExport(ctx, format, logs, feedback.ExportFilename(format, time.Now()))
	}
}

func (c *Controller) exportUnused(format string) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		logs, err := c.svc.Feedback.ListUnused(ctx.Request().Context())
		if err != nil {
			return c.HandleError(ctx, err, "Failed to export feedback logs")
		}
		return c.writeExport(ctx, format, logs, feedback.ExportFilename(format, time.Now()))
	}
}

// ExportImageFeedbackLogs exports the logs of one image as JSON.
func (c *Controller) ExportImageFeedbackLogs(ctx echo.Context) error {
	id := ctx.Param("id")
	logs, err := c.svc.Feedback.ListByImage(ctx.Request().Context(), id)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to export feedback logs")
	}
	return c.writeExport(ctx, feedback.FormatJSON, logs, fmt.Sprintf("feedback_logs_%s.json", id))
}

func (c *Controller) writeExport(ctx echo.Context, format string, logs []entities.FeedbackLog, filename string) error {
	body, err := c.svc.Feedback.Export(ctx.Request().Context(), format, logs)
	if c.svc.Exports != nil {
		status := metrics.StatusSuccess
		if err != nil {
			status = metrics.StatusError
		}
		c.svc.Exports.RecordExport(format, status)
	}
	if err != nil {
		return c.HandleError(ctx, err, "Failed to export feedback logs")
	}
	contentType := echo.MIMEApplicationJSON
	if format == feedback.FormatCSV {
		contentType = "text/csv"
	}
	ctx.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", filename))
	return ctx.Blob(http.StatusOK, contentType, body)
}

// MarkFeedbackUsed flags the posted log ids as used for training.
func (c *Controller) MarkFeedbackUsed(ctx echo.Context) error {
	var ids []string
	if err := bind(ctx, &ids); err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]any{"success": false, "error": err.Error()})
	}
	n, err := c.svc.Feedback.MarkUsed(ctx.Request().Context(), ids)
	if err != nil {
		return ctx.JSON(StatusFor(err), map[string]any{"success": false, "error": err.Error()})
	}
	c.log.Debug("feedback logs marked", logger.Int("requested", len(ids)), logger.Int64("updated", n))
	return ctx.JSON(http.StatusOK, map[string]any{
		"success": true,
		"message": fmt.Sprintf("Marked %d feedback logs as used for training", len(ids)),
		"count":   len(ids),
	})
}

// CreateFeedbackLog stores a manual feedback log. thermalImageId and
// annotationId come from the query string.
func (c *Controller) CreateFeedbackLog(ctx echo.Context) error {
	var in feedback.CreateInput
	if err := bind(ctx, &in); err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]any{"success": false, "error": err.Error()})
	}
	in.ThermalImageID = ctx.QueryParam("thermalImageId")
	if id := ctx.QueryParam("annotationId"); id != "" {
		in.AnnotationID = &id
	}

	fl, err := c.svc.Feedback.Create(ctx.Request().Context(), in)
	if err != nil {
		return ctx.JSON(StatusFor(err), map[string]any{"success": false, "error": err.Error()})
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"success":       true,
		"feedbackLogId": fl.ID,
		"message":       "Feedback log created successfully",
	})
}

// timeParam parses an optional RFC 3339 timestamp or YYYY-MM-DD date. With
// endOfDay a bare date means the last instant of that day, so an inclusive
// range covers it.
func timeParam(ctx echo.Context, name string, endOfDay bool) (time.Time, error) {
	raw := ctx.QueryParam(name)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		if endOfDay {
			t = t.AddDate(0, 0, 1).Add(-time.Nanosecond)
		}
		return t, nil
	}
	return time.Time{}, errors.Newf("invalid %s: %q", name, raw).
		Component("api").
		Category(errors.CategoryValidation).
		Build()
}
