package metrics

import (
	"context"
	"math"
	"net/http"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/kilianp07/evflex/core/metrics"
	"github.com/kilianp07/evflex/infra/logger"
)

// InfluxSink writes engine records to an InfluxDB instance using the
// official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a new sink configured for the given InfluxDB
// endpoint.
func NewInfluxSink(url, token, org, bucket string) *InfluxSink {
	base := strings.TrimSuffix(url, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback tries to ping the InfluxDB instance and returns
// a NopSink if the health check fails.
func NewInfluxSinkWithFallback(cfg coremetrics.Config) coremetrics.MetricsSink {
	sink := NewInfluxSink(cfg.InfluxURL, cfg.InfluxToken, cfg.InfluxOrg, cfg.InfluxBucket)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return NopSink{}
	}
	return sink
}

// RecordCapacity writes the capacity bounds as a point.
func (s *InfluxSink) RecordCapacity(rec coremetrics.CapacityRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("storage_capacity").
		AddTag("tariff", rec.Tariff).
		AddField("timeslot", rec.Timeslot).
		AddField("min_kwh", round3(rec.MinKWh)).
		AddField("max_kwh", round3(rec.MaxKWh)).
		AddField("nominal_kwh", round3(rec.NominalKWh)).
		AddField("active_chargers", round3(rec.ActiveChargers)).
		SetTime(time.Now())
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordUsage writes the delivered energy as a point.
func (s *InfluxSink) RecordUsage(rec coremetrics.UsageRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("storage_usage").
		AddTag("tariff", rec.Tariff).
		AddField("timeslot", rec.Timeslot).
		AddField("usage_kwh", round3(rec.UsageKWh)).
		AddField("regulation_kwh", round3(rec.RegulationKWh)).
		SetTime(time.Now())
	return s.writeAPI.WritePoint(ctx, p)
}

// Close flushes and releases the client.
func (s *InfluxSink) Close() {
	s.client.Close()
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
