package notification

import (
	"context"

	"github.com/gridlens/gridlens/internal/conf"
	"github.com/gridlens/gridlens/internal/logger"
)

// ProvidersFromSettings builds the enabled providers. A provider that
// cannot be configured or connected is logged and skipped so a broken
// alert channel never prevents the server from starting.
func ProvidersFromSettings(ctx context.Context, settings *conf.AlertSettings, instance string, log logger.Logger) []Provider {
	if log == nil {
		log = logger.Global().Module("notification")
	}
	var providers []Provider

	if settings.MQTT.Enabled {
		p := NewMQTTProvider(MQTTConfig{
			Broker:   settings.MQTT.Broker,
			ClientID: settings.MQTT.ClientID,
			Username: settings.MQTT.Username,
			Password: settings.MQTT.Password,
			Topic:    settings.MQTT.Topic,
			QoS:      settings.MQTT.QoS,
			Retain:   settings.MQTT.Retain,
		}, instance, log)
		if err := p.Connect(ctx); err != nil {
			log.Error("MQTT alerts disabled", logger.String("broker", settings.MQTT.Broker), logger.Error(err))
		} else {
			providers = append(providers, p)
		}
	}

	if settings.Shoutrrr.Enabled {
		p, err := NewShoutrrrProvider(settings.Shoutrrr.URLs, settings.Shoutrrr.Timeout, instance)
		if err != nil {
			log.Error("shoutrrr alerts disabled", logger.Error(err))
		} else {
			providers = append(providers, p)
		}
	}
	return providers
}
