package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	coremetrics "github.com/kilianp07/evflex/core/metrics"
	"github.com/kilianp07/evflex/core/sim"
	"github.com/kilianp07/evflex/infra/mqtt"
)

// Config is the root configuration of the simulation service.
type Config struct {
	Engine     EngineConfig       `json:"engine"`
	Tariffs    []TariffConfig     `json:"tariffs"`
	Demand     sim.DemandConfig   `json:"demand"`
	Simulation SimulationConfig   `json:"simulation"`
	Metrics    coremetrics.Config `json:"metrics"`
	MQTT       mqtt.Config        `json:"mqtt"`
	Store      StoreConfig        `json:"store"`
}

// EngineConfig holds the storage-engine parameters shared by all tariffs.
type EngineConfig struct {
	// UnitCapacity is the rated per-charger power in kW.
	UnitCapacity float64 `json:"unit_capacity"`
	// MaxHorizon bounds the commitment lookahead in timeslots.
	MaxHorizon int `json:"max_horizon"`
}

// SetDefaults applies sane defaults.
func (c *EngineConfig) SetDefaults() {
	if c.UnitCapacity == 0 {
		c.UnitCapacity = 6.0
	}
	if c.MaxHorizon == 0 {
		c.MaxHorizon = 96
	}
}

// Validate checks mandatory fields.
func (c EngineConfig) Validate() error {
	if c.UnitCapacity <= 0 {
		return fmt.Errorf("unit_capacity must be positive")
	}
	if c.MaxHorizon < 2 || c.MaxHorizon > 96 {
		return fmt.Errorf("max_horizon must be between 2 and 96")
	}
	return nil
}

// TariffConfig declares one tariff and its initial subscriber count.
type TariffConfig struct {
	Name        string `json:"name"`
	Subscribers int    `json:"subscribers"`
}

// SimulationConfig drives the timeslot loop.
type SimulationConfig struct {
	StartTimeslot int `json:"start_timeslot"`
	Timeslots     int `json:"timeslots"`
	// SnapshotEvery persists boot records every N timeslots; 0 disables.
	SnapshotEvery int `json:"snapshot_every"`
}

// SetDefaults applies sane defaults.
func (c *SimulationConfig) SetDefaults() {
	if c.Timeslots == 0 {
		c.Timeslots = 168
	}
}

// Validate checks mandatory fields.
func (c SimulationConfig) Validate() error {
	if c.Timeslots <= 0 {
		return fmt.Errorf("timeslots must be positive")
	}
	if c.StartTimeslot < 0 {
		return fmt.Errorf("start_timeslot must not be negative")
	}
	return nil
}

// StoreConfig locates the boot-record database.
type StoreConfig struct {
	Path string `json:"path"`
}

// SetDefaults applies sane defaults.
func (c *StoreConfig) SetDefaults() {
	if c.Path == "" {
		c.Path = "evflex.db"
	}
}

// Load reads the configuration file, applies EV_-prefixed environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	// Optional environment overrides
	if err := k.Load(env.Provider("EV_", ".", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "ev_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.Engine.SetDefaults()
	cfg.Demand.SetDefaults()
	cfg.Simulation.SetDefaults()
	cfg.Metrics.SetDefaults()
	cfg.MQTT.SetDefaults()
	cfg.Store.SetDefaults()

	if err := cfg.Engine.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Simulation.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Demand.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.MQTT.Validate(); err != nil {
		return nil, err
	}
	if len(cfg.Tariffs) == 0 {
		return nil, fmt.Errorf("at least one tariff is required")
	}
	if cfg.Demand.MaxHorizon >= cfg.Engine.MaxHorizon {
		return nil, fmt.Errorf("demand max_horizon %d must stay below engine max_horizon %d",
			cfg.Demand.MaxHorizon, cfg.Engine.MaxHorizon)
	}
	return &cfg, nil
}
