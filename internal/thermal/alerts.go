package thermal

import (
	"context"
	"fmt"
	"strings"

	"github.com/gridlens/gridlens/internal/datastore/entities"
	"github.com/gridlens/gridlens/internal/datastore/repository"
	"github.com/gridlens/gridlens/internal/errors"
	"github.com/gridlens/gridlens/internal/logger"
	"github.com/gridlens/gridlens/internal/roboflow"
)

// Notifier delivers alerts to operators outside the dashboard. Delivery is
// asynchronous; Notify must not block on the network.
type Notifier interface {
	Notify(ctx context.Context, alert *entities.Alert)
}

// AlertInput is the body of a manual alert.
type AlertInput struct {
	TransformerID string `json:"transformerId"`
	Transformer   *struct {
		ID string `json:"id"`
	} `json:"transformer"`
	AlertType string `json:"alertType"`
	Message   string `json:"message"`
	Severity  string `json:"severity"`
}

// AlertService stores alerts and fans them out to the notifier.
type AlertService struct {
	store         *repository.Store
	notifier      Notifier
	minConfidence float64
	log           logger.Logger
}

// NewAlertService creates an AlertService. Predictions below minConfidence
// never raise an alert. notifier may be nil.
func NewAlertService(store *repository.Store, notifier Notifier, minConfidence float64, log logger.Logger) *AlertService {
	if log == nil {
		log = logger.Global().Module("thermal")
	}
	return &AlertService{store: store, notifier: notifier, minConfidence: minConfidence, log: log}
}

// List returns alerts newest first.
func (s *AlertService) List(ctx context.Context) ([]entities.Alert, error) {
	return s.store.Alerts.List(ctx)
}

// Create stores a manual alert.
func (s *AlertService) Create(ctx context.Context, in AlertInput) (*entities.Alert, error) {
	if strings.TrimSpace(in.AlertType) == "" {
		return nil, errors.ValidationError("alertType is required")
	}
	if strings.TrimSpace(in.Message) == "" {
		return nil, errors.ValidationError("message is required")
	}

	transformerID := in.TransformerID
	if transformerID == "" && in.Transformer != nil {
		transformerID = in.Transformer.ID
	}
	a := &entities.Alert{AlertType: in.AlertType, Message: in.Message, Severity: in.Severity}
	if transformerID != "" {
		if _, err := s.store.Transformers.GetByID(ctx, transformerID); err != nil {
			return nil, err
		}
		a.TransformerID = &transformerID
	}
	return s.save(ctx, a)
}

// MarkRead flags an alert as read.
func (s *AlertService) MarkRead(ctx context.Context, id string) error {
	return s.store.Alerts.MarkRead(ctx, id)
}

// RaiseForImage creates a thermal-anomaly alert when predictions at or
// above the confidence floor exist. It returns nil when nothing qualifies.
func (s *AlertService) RaiseForImage(ctx context.Context, img *entities.ThermalImage, predictions []roboflow.Prediction) (*entities.Alert, error) {
	var count int
	severity := entities.SeverityLow
	for _, p := range predictions {
		if p.Confidence < s.minConfidence {
			continue
		}
		count++
		severity = maxSeverity(severity, severityForClass(p.Class))
	}
	if count == 0 {
		return nil, nil
	}

	a := &entities.Alert{
		TransformerID: img.TransformerID(),
		AlertType:     entities.AlertTypeThermalAnomaly,
		Severity:      severity,
		Message:       anomalyMessage(img, count),
	}
	return s.save(ctx, a)
}

func (s *AlertService) save(ctx context.Context, a *entities.Alert) (*entities.Alert, error) {
	if err := s.store.Alerts.Create(ctx, a); err != nil {
		return nil, err
	}
	s.log.Info("alert raised",
		logger.String("alert_id", a.ID),
		logger.String("alert_type", a.AlertType),
		logger.String("severity", a.Severity))
	if s.notifier != nil {
		s.notifier.Notify(ctx, a)
	}
	return a, nil
}

func anomalyMessage(img *entities.ThermalImage, count int) string {
	noun := "anomaly"
	if count != 1 {
		noun = "anomalies"
	}
	msg := fmt.Sprintf("%d thermal %s detected", count, noun)
	if img.Inspection != nil {
		if img.Inspection.Transformer != nil {
			msg += " on transformer " + img.Inspection.Transformer.TransformerNo
		}
		msg += " during inspection " + img.Inspection.InspectionNo
	}
	return msg
}

func severityForClass(class string) string {
	switch strings.ToLower(class) {
	case "faulty":
		return entities.SeverityHigh
	case "potentially_faulty":
		return entities.SeverityMedium
	}
	return entities.SeverityLow
}

func severityRank(s string) int {
	switch s {
	case entities.SeverityHigh:
		return 2
	case entities.SeverityMedium:
		return 1
	}
	return 0
}

func maxSeverity(a, b string) string {
	if severityRank(b) > severityRank(a) {
		return b
	}
	return a
}
