// Package notification delivers raised alerts to operators outside the
// dashboard: MQTT subscribers and shoutrrr services (Slack, Telegram,
// e-mail and the rest).
package notification

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gridlens/gridlens/internal/datastore/entities"
)

// Provider is an alert delivery backend. Implementations must be safe for
// concurrent use.
type Provider interface {
	Name() string
	Send(ctx context.Context, alert *entities.Alert) error
}

// Closer is implemented by providers holding connections.
type Closer interface {
	Close()
}

// Payload is the wire form of an alert published to subscribers.
type Payload struct {
	ID            string    `json:"id"`
	Instance      string    `json:"instance,omitempty"`
	AlertType     string    `json:"alertType"`
	Severity      string    `json:"severity,omitempty"`
	Message       string    `json:"message"`
	TransformerID string    `json:"transformerId,omitempty"`
	TransformerNo string    `json:"transformerNo,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// NewPayload flattens an alert for publishing.
func NewPayload(a *entities.Alert, instance string) Payload {
	p := Payload{
		ID:        a.ID,
		Instance:  instance,
		AlertType: a.AlertType,
		Severity:  a.Severity,
		Message:   a.Message,
		CreatedAt: a.CreatedAt,
	}
	if a.TransformerID != nil {
		p.TransformerID = *a.TransformerID
	}
	if a.Transformer != nil {
		p.TransformerID = a.Transformer.ID
		p.TransformerNo = a.Transformer.TransformerNo
	}
	return p
}

// Title is the one-line subject used by chat and push services.
func Title(a *entities.Alert, instance string) string {
	var b strings.Builder
	if instance != "" {
		b.WriteString("[" + instance + "] ")
	}
	if a.Severity != "" {
		fmt.Fprintf(&b, "%s ", strings.ToUpper(a.Severity))
	}
	b.WriteString(strings.ReplaceAll(a.AlertType, "_", " "))
	if a.Transformer != nil && a.Transformer.TransformerNo != "" {
		b.WriteString(" on " + a.Transformer.TransformerNo)
	}
	return b.String()
}
