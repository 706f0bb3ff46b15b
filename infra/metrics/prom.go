package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	coremetrics "github.com/kilianp07/evflex/core/metrics"
)

// PromSink exposes engine output as Prometheus metrics.
type PromSink struct {
	capacityMin     *prometheus.GaugeVec
	capacityMax     *prometheus.GaugeVec
	capacityNominal *prometheus.GaugeVec
	activeChargers  *prometheus.GaugeVec
	usageTotal      *prometheus.CounterVec
	regulationTotal *prometheus.CounterVec
}

// NewPromSink registers the engine metrics on the provided registerer. If
// reg is nil, the default registerer is used. Collectors that are already
// registered are reused.
func NewPromSink(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PromSink{
		capacityMin: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "storage_capacity_min_kwh",
			Help: "Minimum energy that must be consumed this timeslot",
		}, []string{"tariff"}),
		capacityMax: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "storage_capacity_max_kwh",
			Help: "Maximum energy that can be consumed this timeslot",
		}, []string{"tariff"}),
		capacityNominal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "storage_capacity_nominal_kwh",
			Help: "Nominal energy demand for this timeslot",
		}, []string{"tariff"}),
		activeChargers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "storage_active_chargers",
			Help: "Expected number of occupied chargers this timeslot",
		}, []string{"tariff"}),
		usageTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storage_usage_kwh_total",
			Help: "Cumulative energy delivered to the subscription",
		}, []string{"tariff"}),
		regulationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storage_regulation_kwh_total",
			Help: "Cumulative absolute regulation absorbed by the horizon",
		}, []string{"tariff"}),
	}
	var err error
	if s.capacityMin, err = registerGauge(reg, s.capacityMin); err != nil {
		return nil, err
	}
	if s.capacityMax, err = registerGauge(reg, s.capacityMax); err != nil {
		return nil, err
	}
	if s.capacityNominal, err = registerGauge(reg, s.capacityNominal); err != nil {
		return nil, err
	}
	if s.activeChargers, err = registerGauge(reg, s.activeChargers); err != nil {
		return nil, err
	}
	if s.usageTotal, err = registerCounter(reg, s.usageTotal); err != nil {
		return nil, err
	}
	if s.regulationTotal, err = registerCounter(reg, s.regulationTotal); err != nil {
		return nil, err
	}
	return s, nil
}

func registerGauge(reg prometheus.Registerer, gv *prometheus.GaugeVec) (*prometheus.GaugeVec, error) {
	if err := reg.Register(gv); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector.(*prometheus.GaugeVec), nil
		}
		return nil, err
	}
	return gv, nil
}

func registerCounter(reg prometheus.Registerer, cv *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	if err := reg.Register(cv); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector.(*prometheus.CounterVec), nil
		}
		return nil, err
	}
	return cv, nil
}

// RecordCapacity updates the per-tariff capacity gauges.
func (s *PromSink) RecordCapacity(rec coremetrics.CapacityRecord) error {
	s.capacityMin.WithLabelValues(rec.Tariff).Set(rec.MinKWh)
	s.capacityMax.WithLabelValues(rec.Tariff).Set(rec.MaxKWh)
	s.capacityNominal.WithLabelValues(rec.Tariff).Set(rec.NominalKWh)
	s.activeChargers.WithLabelValues(rec.Tariff).Set(rec.ActiveChargers)
	return nil
}

// RecordUsage accumulates delivered energy and absorbed regulation.
func (s *PromSink) RecordUsage(rec coremetrics.UsageRecord) error {
	s.usageTotal.WithLabelValues(rec.Tariff).Add(rec.UsageKWh)
	if rec.RegulationKWh < 0 {
		s.regulationTotal.WithLabelValues(rec.Tariff).Add(-rec.RegulationKWh)
	} else {
		s.regulationTotal.WithLabelValues(rec.Tariff).Add(rec.RegulationKWh)
	}
	return nil
}

// StartPromServer serves the default registry on /metrics.
func StartPromServer(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return srv.ListenAndServe()
}
