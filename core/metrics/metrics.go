package metrics

// CapacityRecord captures the demand bounds reported for one subscription in
// one timeslot.
type CapacityRecord struct {
	Timeslot       int
	Tariff         string
	MinKWh         float64
	MaxKWh         float64
	NominalKWh     float64
	ActiveChargers float64
}

// UsageRecord captures the energy actually delivered to a subscription in
// one timeslot, together with any regulation folded back into the horizon.
type UsageRecord struct {
	Timeslot      int
	Tariff        string
	UsageKWh      float64
	RegulationKWh float64
}

// MetricsSink records per-timeslot engine output for observability purposes.
type MetricsSink interface {
	RecordCapacity(rec CapacityRecord) error
	RecordUsage(rec UsageRecord) error
}

// Config selects and parameterises the metrics sinks.
type Config struct {
	PrometheusEnabled bool   `json:"prometheus_enabled"`
	PrometheusPort    int    `json:"prometheus_port"`
	InfluxEnabled     bool   `json:"influx_enabled"`
	InfluxURL         string `json:"influx_url"`
	InfluxToken       string `json:"influx_token"`
	InfluxOrg         string `json:"influx_org"`
	InfluxBucket      string `json:"influx_bucket"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.PrometheusPort == 0 {
		c.PrometheusPort = 2112
	}
}
