// Package mqtt connects the engine to the grid side: per-timeslot capacity
// reports go out on a topic for the broker, and exercised-regulation signals
// come back in.
package mqtt

import (
	"encoding/json"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	coremetrics "github.com/kilianp07/evflex/core/metrics"
	"github.com/kilianp07/evflex/infra/logger"
)

// Config defines the connection parameters for the Paho MQTT client.
type Config struct {
	Enabled          bool   `json:"enabled"`
	Broker           string `json:"broker"`
	ClientID         string `json:"client_id"`
	Username         string `json:"username"`
	Password         string `json:"password"`
	CapacityTopic    string `json:"capacity_topic"`
	RegulationTopic  string `json:"regulation_topic"`
	QoS              byte   `json:"qos"`
	ConnectTimeoutMS int    `json:"connect_timeout_ms"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.CapacityTopic == "" {
		c.CapacityTopic = "evflex/capacity"
	}
	if c.RegulationTopic == "" {
		c.RegulationTopic = "evflex/regulation"
	}
	if c.ClientID == "" {
		c.ClientID = "evflex-" + uuid.NewString()[:8]
	}
	if c.ConnectTimeoutMS == 0 {
		c.ConnectTimeoutMS = 5000
	}
}

// Validate checks mandatory fields when the transport is enabled.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Broker == "" {
		return fmt.Errorf("mqtt broker is required")
	}
	return nil
}

// CapacityMessage is the wire form of a capacity report.
type CapacityMessage struct {
	Timeslot   int     `json:"timeslot"`
	Tariff     string  `json:"tariff"`
	MinKWh     float64 `json:"min_kwh"`
	MaxKWh     float64 `json:"max_kwh"`
	NominalKWh float64 `json:"nominal_kwh"`
}

// RegulationMessage is the wire form of an exercised-regulation signal.
type RegulationMessage struct {
	Tariff string  `json:"tariff"`
	KWh    float64 `json:"kwh"`
}

// Publisher publishes capacity reports and receives regulation signals over
// an MQTT broker.
type Publisher struct {
	cli paho.Client
	cfg Config
	log logger.Logger
}

// NewPublisher connects to the broker. The returned publisher implements
// sim.CapacityPublisher.
func NewPublisher(cfg Config, log logger.Logger) (*Publisher, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetAutoReconnect(true)
	cli := paho.NewClient(opts)
	token := cli.Connect()
	if !token.WaitTimeout(time.Duration(cfg.ConnectTimeoutMS) * time.Millisecond) {
		return nil, fmt.Errorf("mqtt connect timeout after %dms", cfg.ConnectTimeoutMS)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return &Publisher{cli: cli, cfg: cfg, log: log}, nil
}

// PublishCapacity sends the demand bounds for one timeslot.
func (p *Publisher) PublishCapacity(rec coremetrics.CapacityRecord) error {
	payload, err := json.Marshal(CapacityMessage{
		Timeslot:   rec.Timeslot,
		Tariff:     rec.Tariff,
		MinKWh:     rec.MinKWh,
		MaxKWh:     rec.MaxKWh,
		NominalKWh: rec.NominalKWh,
	})
	if err != nil {
		return err
	}
	token := p.cli.Publish(p.cfg.CapacityTopic, p.cfg.QoS, false, payload)
	token.Wait()
	return token.Error()
}

// SubscribeRegulation delivers incoming regulation signals to the handler.
// Malformed payloads are logged and dropped.
func (p *Publisher) SubscribeRegulation(handler func(tariff string, kwh float64)) error {
	token := p.cli.Subscribe(p.cfg.RegulationTopic, p.cfg.QoS, func(_ paho.Client, m paho.Message) {
		var msg RegulationMessage
		if err := json.Unmarshal(m.Payload(), &msg); err != nil {
			p.log.Errorf("regulation payload: %v", err)
			return
		}
		handler(msg.Tariff, msg.KWh)
	})
	token.Wait()
	return token.Error()
}

// Close disconnects from the broker.
func (p *Publisher) Close() {
	p.cli.Disconnect(250)
}
