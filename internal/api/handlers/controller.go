// Package handlers implements the gridlens JSON API.
package handlers

import (
	"crypto/rand"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/gridlens/gridlens/internal/annotation"
	"github.com/gridlens/gridlens/internal/errors"
	"github.com/gridlens/gridlens/internal/feedback"
	"github.com/gridlens/gridlens/internal/logger"
	"github.com/gridlens/gridlens/internal/roboflow"
	"github.com/gridlens/gridlens/internal/thermal"
	"github.com/gridlens/gridlens/internal/training"
)

// UserIDHeader identifies the acting user on mutating annotation calls.
const UserIDHeader = "X-User-Id"

// Services are the domain services behind the API. Roboflow and Training
// may be nil when the integration is not configured.
type Services struct {
	Transformers *thermal.TransformerService
	Inspections  *thermal.InspectionService
	Images       *thermal.ImageService
	Alerts       *thermal.AlertService
	Annotations  *annotation.Service
	Feedback     *feedback.Service
	Roboflow     *roboflow.Service
	Training     *training.Queue

	// Exports receives feedback export outcomes. Optional.
	Exports ExportRecorder
}

// ExportRecorder receives export metrics.
type ExportRecorder interface {
	RecordExport(format, status string)
}

// Controller holds the services and registers the API routes.
type Controller struct {
	Group *echo.Group
	svc   Services
	log   logger.Logger
}

// New registers every API route on group.
func New(group *echo.Group, svc Services, log logger.Logger) *Controller {
	if log == nil {
		log = logger.Global().Module("api")
	}
	c := &Controller{Group: group, svc: svc, log: log}
	c.initTransformerRoutes()
	c.initInspectionRoutes()
	c.initImageRoutes()
	c.initAnnotationRoutes()
	c.initAlertRoutes()
	c.initFeedbackRoutes()
	c.initRoboflowRoutes()
	c.initTrainingRoutes()
	return c
}

// ErrorResponse is the body of every failed request outside /roboflow.
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Code          int    `json:"code"`
	CorrelationID string `json:"correlation_id"`
}

// NewErrorResponse builds an ErrorResponse with a fresh correlation id.
func NewErrorResponse(err error, message string, code int) *ErrorResponse {
	errorStr := message
	if err != nil {
		errorStr = logger.RedactSensitiveData(err.Error())
	}
	return &ErrorResponse{
		Error:         errorStr,
		Message:       message,
		Code:          code,
		CorrelationID: generateCorrelationID(),
	}
}

func generateCorrelationID() string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	const length = 8

	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "ERR-RAND"
	}
	for i := range b {
		b[i] = charset[int(b[i])%len(charset)]
	}
	return string(b)
}

// StatusFor maps an error category to an HTTP status.
func StatusFor(err error) int {
	switch errors.CategoryOf(err) {
	case errors.CategoryNotFound:
		return http.StatusNotFound
	case errors.CategoryValidation:
		return http.StatusBadRequest
	case errors.CategoryConflict:
		return http.StatusConflict
	case errors.CategoryIntegration, errors.CategoryNetwork, errors.CategoryHTTP:
		return http.StatusBadGateway
	case errors.CategoryJobQueue, errors.CategoryLock:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// HandleError writes an ErrorResponse with the status derived from err.
func (c *Controller) HandleError(ctx echo.Context, err error, message string) error {
	return c.HandleErrorCode(ctx, err, message, StatusFor(err))
}

// HandleErrorCode writes an ErrorResponse with an explicit status.
func (c *Controller) HandleErrorCode(ctx echo.Context, err error, message string, code int) error {
	resp := NewErrorResponse(err, message, code)

	log := c.log.WithContext(ctx.Request().Context())
	fields := []logger.Field{
		logger.String("correlation_id", resp.CorrelationID),
		logger.String("message", message),
		logger.String("error", resp.Error),
		logger.Int("code", code),
		logger.String("path", ctx.Request().URL.Path),
		logger.String("method", ctx.Request().Method),
		logger.String("ip", ctx.RealIP()),
	}
	if code >= http.StatusInternalServerError {
		log.Error("API error", fields...)
	} else {
		log.Debug("API error", fields...)
	}
	return ctx.JSON(code, resp)
}

// userID returns the X-User-Id header or the default user.
func userID(ctx echo.Context) string {
	if id := strings.TrimSpace(ctx.Request().Header.Get(UserIDHeader)); id != "" {
		return id
	}
	return annotation.DefaultUserID
}

// boolParam parses an optional boolean query parameter.
func boolParam(ctx echo.Context, name string) (bool, error) {
	raw := ctx.QueryParam(name)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, errors.Newf("invalid %s: %q", name, raw).
			Component("api").
			Category(errors.CategoryValidation).
			Build()
	}
	return v, nil
}

// bind decodes the request body into dst as a validation error on failure.
func bind(ctx echo.Context, dst any) error {
	if err := ctx.Bind(dst); err != nil {
		return errors.Newf("invalid request body: %v", err).
			Component("api").
			Category(errors.CategoryValidation).
			Build()
	}
	return nil
}
