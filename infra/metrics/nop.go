package metrics

import coremetrics "github.com/kilianp07/evflex/core/metrics"

// NopSink discards all records.
type NopSink struct{}

func (NopSink) RecordCapacity(coremetrics.CapacityRecord) error { return nil }
func (NopSink) RecordUsage(coremetrics.UsageRecord) error       { return nil }
