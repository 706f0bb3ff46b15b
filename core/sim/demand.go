package sim

import (
	"errors"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/kilianp07/evflex/core/storage"
)

// DemandConfig defines the stochastic arrival model.
type DemandConfig struct {
	// ArrivalRate is the expected number of vehicles plugging in per
	// timeslot, before the daily modulation.
	ArrivalRate float64 `json:"arrival_rate"`
	// MeanHorizon is the average number of timeslots a vehicle stays
	// plugged in.
	MeanHorizon float64 `json:"mean_horizon"`
	// MaxHorizon caps how far ahead departures are scheduled. It must stay
	// below the engine's ring capacity.
	MaxHorizon int `json:"max_horizon"`
	// UnitCapacity is the rated charger power in kW, used to express the
	// total energy of each cohort.
	UnitCapacity float64 `json:"unit_capacity"`
	Seed         uint64  `json:"seed"`
}

// SetDefaults applies sane defaults.
func (c *DemandConfig) SetDefaults() {
	if c.ArrivalRate == 0 {
		c.ArrivalRate = 12
	}
	if c.MeanHorizon == 0 {
		c.MeanHorizon = 8
	}
	if c.MaxHorizon == 0 {
		c.MaxHorizon = 36
	}
	if c.UnitCapacity == 0 {
		c.UnitCapacity = 6
	}
	if c.Seed == 0 {
		c.Seed = 1
	}
}

// Validate checks mandatory fields.
func (c DemandConfig) Validate() error {
	if c.ArrivalRate <= 0 {
		return errors.New("arrival_rate must be positive")
	}
	if c.MeanHorizon <= 0 {
		return errors.New("mean_horizon must be positive")
	}
	if c.MaxHorizon < 2 {
		return errors.New("max_horizon must be at least 2")
	}
	return nil
}

// Generator synthesises sorted demand lists for the storage engine. It
// stands in for the customer-side demand sampler: arrivals are Poisson with
// a daily modulation, plug-in durations follow a Poisson profile around the
// mean horizon, and the per-cohort need histogram is a discretised normal.
type Generator struct {
	cfg      DemandConfig
	arrivals distuv.Poisson
	horizons []float64
}

// NewGenerator creates a deterministic generator for the given seed.
func NewGenerator(cfg DemandConfig) (*Generator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	src := rand.NewPCG(cfg.Seed, cfg.Seed)
	g := &Generator{
		cfg:      cfg,
		arrivals: distuv.Poisson{Lambda: cfg.ArrivalRate, Src: src},
	}

	// weight of each plug-in duration, normalised over the allowed range
	duration := distuv.Poisson{Lambda: cfg.MeanHorizon}
	g.horizons = make([]float64, cfg.MaxHorizon)
	sum := 0.0
	for h := 0; h < cfg.MaxHorizon; h++ {
		g.horizons[h] = duration.Prob(float64(h))
		sum += g.horizons[h]
	}
	for h := range g.horizons {
		g.horizons[h] /= sum
	}
	return g, nil
}

// Demand returns the new arrivals for the given timeslot as a list sorted by
// ascending horizon. Histograms are normalised to sum to 1.
func (g *Generator) Demand(timeslot int) []storage.DemandElement {
	// commuter-style daily swell, peaking in the evening hours
	hour := timeslot % 24
	modulation := 1.0 + 0.5*math.Sin(2*math.Pi*float64(hour-12)/24.0)
	total := g.arrivals.Rand() * modulation
	if total <= 0 {
		return nil
	}

	var out []storage.DemandElement
	for h := 0; h < g.cfg.MaxHorizon; h++ {
		n := total * g.horizons[h]
		if n < 1e-3 {
			continue
		}
		dist := needHistogram(h)
		energy := 0.0
		for ix, share := range dist {
			energy += g.cfg.UnitCapacity * n * share * (float64(h-ix) + 0.5)
		}
		out = append(out, storage.NewDemandElement(h, n, energy, dist))
	}
	return out
}

// needHistogram spreads a cohort over its h+1 need bands with a discretised
// normal centred on half the horizon: most vehicles arrive half charged.
func needHistogram(h int) []float64 {
	dist := make([]float64, h+1)
	if h == 0 {
		dist[0] = 1.0
		return dist
	}
	shape := distuv.Normal{Mu: float64(h) / 2.0, Sigma: float64(h)/4.0 + 0.5}
	sum := 0.0
	for i := range dist {
		dist[i] = shape.Prob(float64(i))
		sum += dist[i]
	}
	for i := range dist {
		dist[i] /= sum
	}
	return dist
}
