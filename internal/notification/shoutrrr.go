package notification

import (
	"context"
	"io"
	"log"
	"strings"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/gridlens/gridlens/internal/datastore/entities"
	"github.com/gridlens/gridlens/internal/errors"
	"github.com/gridlens/gridlens/internal/logger"
)

// sender is the part of the shoutrrr router used for delivery.
type sender interface {
	Send(message string, params *stypes.Params) []error
}

// ShoutrrrProvider sends alerts to every configured shoutrrr URL through a
// single router.
type ShoutrrrProvider struct {
	instance string
	sender   sender
}

// NewShoutrrrProvider validates urls and builds the router.
func NewShoutrrrProvider(urls []string, timeout time.Duration, instance string) (*ShoutrrrProvider, error) {
	if len(urls) == 0 {
		return nil, errors.Newf("at least one shoutrrr URL is required").
			Component("notification").
			Category(errors.CategoryConfiguration).
			Build()
	}
	router, err := shoutrrr.CreateSender(urls...)
	if err != nil {
		// the router error can echo the URL, which carries tokens
		return nil, errors.Newf("invalid shoutrrr URL: %s", logger.RedactSensitiveData(err.Error())).
			Component("notification").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if timeout > 0 {
		router.Timeout = timeout
	}
	router.SetLogger(log.New(io.Discard, "", 0))
	return &ShoutrrrProvider{instance: instance, sender: router}, nil
}

// Name implements Provider.
func (s *ShoutrrrProvider) Name() string { return "shoutrrr" }

// Send implements Provider. The router applies its own timeout.
func (s *ShoutrrrProvider) Send(_ context.Context, alert *entities.Alert) error {
	params := stypes.Params{}
	params.SetTitle(Title(alert, s.instance))

	var failed []error
	for _, err := range s.sender.Send(body(alert), &params) {
		if err != nil {
			failed = append(failed, err)
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return errors.Newf("%d of the shoutrrr services failed: %s", len(failed), logger.RedactSensitiveData(failed[0].Error())).
		Component("notification").
		Category(errors.CategoryNotification).
		Build()
}

func body(alert *entities.Alert) string {
	var b strings.Builder
	b.WriteString(alert.Message)
	if alert.Transformer != nil {
		b.WriteString("\nTransformer: " + alert.Transformer.TransformerNo)
		if alert.Transformer.Region != "" {
			b.WriteString(" (" + alert.Transformer.Region + ")")
		}
	}
	if !alert.CreatedAt.IsZero() {
		b.WriteString("\nRaised: " + alert.CreatedAt.UTC().Format(time.RFC3339))
	}
	return b.String()
}
