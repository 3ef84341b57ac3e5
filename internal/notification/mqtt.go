package notification

import (
	"context"
	"encoding/json"
	"net"
	"net/url"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/gridlens/gridlens/internal/datastore/entities"
	"github.com/gridlens/gridlens/internal/errors"
	"github.com/gridlens/gridlens/internal/logger"
)

// MQTTConfig holds broker settings for alert publishing.
type MQTTConfig struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	Topic          string
	QoS            byte
	Retain         bool
	ConnectTimeout time.Duration
}

// MQTTProvider publishes alerts as JSON to a broker topic. Severity is
// appended as a sub-topic: gridlens/alerts/high.
type MQTTProvider struct {
	config    MQTTConfig
	instance  string
	log       logger.Logger
	newClient func(*mqtt.ClientOptions) mqtt.Client

	mu     sync.Mutex
	client mqtt.Client
}

// NewMQTTProvider creates an unconnected provider.
func NewMQTTProvider(config MQTTConfig, instance string, log logger.Logger) *MQTTProvider {
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = 30 * time.Second
	}
	if log == nil {
		log = logger.Global().Module("notification")
	}
	return &MQTTProvider{config: config, instance: instance, log: log, newClient: mqtt.NewClient}
}

// Name implements Provider.
func (p *MQTTProvider) Name() string { return "mqtt" }

// Connect dials the broker. The client reconnects on its own afterwards.
func (p *MQTTProvider) Connect(ctx context.Context) error {
	u, err := url.Parse(p.config.Broker)
	if err != nil || u.Host == "" {
		return errors.Newf("invalid MQTT broker URL %q", p.config.Broker).
			Component("notification").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if host := u.Hostname(); net.ParseIP(host) == nil {
		if _, err := net.DefaultResolver.LookupHost(ctx, host); err != nil {
			return errors.New(err).
				Component("notification").
				Category(errors.CategoryNetwork).
				Context("broker", p.config.Broker).
				Build()
		}
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(p.config.Broker)
	opts.SetClientID(p.config.ClientID)
	opts.SetUsername(p.config.Username)
	opts.SetPassword(p.config.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(p.config.ConnectTimeout)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		p.log.Info("connected to MQTT broker", logger.String("broker", p.config.Broker))
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		p.log.Warn("MQTT connection lost", logger.String("broker", p.config.Broker), logger.Error(err))
	})

	client := p.newClient(opts)
	if err := wait(ctx, client.Connect(), p.config.ConnectTimeout); err != nil {
		return errors.New(err).
			Component("notification").
			Category(errors.CategoryNetwork).
			Context("broker", p.config.Broker).
			Build()
	}

	p.mu.Lock()
	p.client = client
	p.mu.Unlock()
	return nil
}

// Send implements Provider.
func (p *MQTTProvider) Send(ctx context.Context, alert *entities.Alert) error {
	p.mu.Lock()
	client := p.client
	p.mu.Unlock()
	if client == nil || !client.IsConnected() {
		return errors.Newf("not connected to MQTT broker").
			Component("notification").
			Category(errors.CategoryMQTTPublish).
			Build()
	}

	payload, err := json.Marshal(NewPayload(alert, p.instance))
	if err != nil {
		return err
	}
	topic := p.topic(alert)
	if err := wait(ctx, client.Publish(topic, p.config.QoS, p.config.Retain, payload), 0); err != nil {
		return errors.New(err).
			Component("notification").
			Category(errors.CategoryMQTTPublish).
			Context("topic", topic).
			Build()
	}
	return nil
}

func (p *MQTTProvider) topic(alert *entities.Alert) string {
	if alert.Severity == "" {
		return p.config.Topic
	}
	return p.config.Topic + "/" + alert.Severity
}

// Close disconnects from the broker.
func (p *MQTTProvider) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
	}
	p.client = nil
}

// wait blocks until the token completes, ctx ends or timeout (when > 0)
// elapses.
func wait(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-expired:
		return errors.NewStd("MQTT operation timed out")
	}
}
