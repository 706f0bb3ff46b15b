package metrics

import (
	"errors"

	coremetrics "github.com/kilianp07/evflex/core/metrics"
)

// MultiSink fans records out to several sinks, collecting their errors.
type MultiSink struct {
	sinks []coremetrics.MetricsSink
}

// NewMultiSink combines the given sinks into one.
func NewMultiSink(sinks ...coremetrics.MetricsSink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

func (m *MultiSink) RecordCapacity(rec coremetrics.CapacityRecord) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.RecordCapacity(rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *MultiSink) RecordUsage(rec coremetrics.UsageRecord) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.RecordUsage(rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
