package sim

import (
	"context"
	"fmt"
	"sync"

	"github.com/kilianp07/evflex/core/events"
	"github.com/kilianp07/evflex/core/logger"
	coremetrics "github.com/kilianp07/evflex/core/metrics"
	"github.com/kilianp07/evflex/core/tariff"
	"github.com/kilianp07/evflex/internal/eventbus"
)

// CapacityPublisher pushes the per-timeslot demand bounds to an external
// transport, typically MQTT.
type CapacityPublisher interface {
	PublishCapacity(rec coremetrics.CapacityRecord) error
}

// SnapshotStore persists boot records for deterministic restart.
type SnapshotStore interface {
	SaveRecord(tariff string, timeslot int, record string) error
}

// Driver runs the per-timeslot protocol over every subscription: regulation,
// collapse, rebalance, demand, capacity query, usage. It owns the calling
// order the engines depend on.
type Driver struct {
	registry  *tariff.Registry
	generator *Generator
	sink      coremetrics.MetricsSink
	bus       eventbus.EventBus
	log       logger.Logger

	publisher     CapacityPublisher
	store         SnapshotStore
	snapshotEvery int

	mu      sync.Mutex
	pending map[string]float64
}

// NewDriver wires a driver. The bus may be nil; sink and log must not be.
func NewDriver(registry *tariff.Registry, generator *Generator, sink coremetrics.MetricsSink, bus eventbus.EventBus, log logger.Logger) (*Driver, error) {
	if registry == nil || generator == nil || sink == nil || log == nil {
		return nil, fmt.Errorf("sim: nil parameter provided to NewDriver")
	}
	return &Driver{
		registry:  registry,
		generator: generator,
		sink:      sink,
		bus:       bus,
		log:       log,
		pending:   make(map[string]float64),
	}, nil
}

// SetPublisher configures an optional capacity report transport.
func (d *Driver) SetPublisher(p CapacityPublisher) {
	d.publisher = p
}

// SetSnapshots persists a boot record for every tariff each time the
// timeslot index is a multiple of every.
func (d *Driver) SetSnapshots(store SnapshotStore, every int) {
	d.store = store
	d.snapshotEvery = every
}

// AddRegulation queues an exercised-regulation signal for the named tariff.
// It is folded into the horizon at the start of the next timeslot. Safe for
// concurrent use; transport callbacks deliver signals on their own
// goroutines.
func (d *Driver) AddRegulation(tariffName string, kwh float64) {
	d.mu.Lock()
	d.pending[tariffName] += kwh
	d.mu.Unlock()
}

// RunTimeslot executes one full tick for every subscription.
func (d *Driver) RunTimeslot(timeslot int) error {
	d.mu.Lock()
	regulation := d.pending
	d.pending = make(map[string]float64)
	d.mu.Unlock()

	demand := d.generator.Demand(timeslot)
	total := d.registry.TotalPopulation()
	if total == 0 {
		return fmt.Errorf("sim: no subscribers registered")
	}

	for _, entry := range d.registry.Entries() {
		state := entry.State
		name := entry.Sub.Tariff()

		reg := regulation[name]
		if reg != 0 {
			err := state.DistributeRegulation(timeslot, reg)
			if d.bus != nil {
				d.bus.Publish(events.RegulationEvent{Timeslot: timeslot, Tariff: name, KWh: reg, Err: err})
			}
		}

		state.CollapseElements(timeslot)
		state.Rebalance(timeslot)

		ratio := float64(entry.Sub.CustomersCommitted()) / float64(total)
		state.DistributeDemand(timeslot, demand, ratio)

		min, max, nominal := state.GetMinMax(timeslot)
		chargers := 0.0
		if se := state.Element(timeslot); se != nil {
			chargers = se.ActiveChargers()
		}
		rec := coremetrics.CapacityRecord{
			Timeslot:       timeslot,
			Tariff:         name,
			MinKWh:         min,
			MaxKWh:         max,
			NominalKWh:     nominal,
			ActiveChargers: chargers,
		}
		if err := d.sink.RecordCapacity(rec); err != nil {
			d.log.Warnf("capacity record for %s: %v", name, err)
		}
		if d.publisher != nil {
			if err := d.publisher.PublishCapacity(rec); err != nil {
				d.log.Warnf("capacity publish for %s: %v", name, err)
			}
		}
		if d.bus != nil {
			d.bus.Publish(events.CapacityEvent{
				Timeslot: timeslot, Tariff: name,
				MinKWh: min, MaxKWh: max, NominalKWh: nominal,
			})
		}

		// the broker stand-in buys the nominal profile
		state.DistributeUsage(timeslot, nominal)
		if err := d.sink.RecordUsage(coremetrics.UsageRecord{
			Timeslot: timeslot, Tariff: name,
			UsageKWh: nominal, RegulationKWh: reg,
		}); err != nil {
			d.log.Warnf("usage record for %s: %v", name, err)
		}
		if d.bus != nil {
			d.bus.Publish(events.UsageEvent{Timeslot: timeslot, Tariff: name, KWh: nominal})
		}

		if d.store != nil && d.snapshotEvery > 0 && timeslot%d.snapshotEvery == 0 {
			if err := d.store.SaveRecord(name, timeslot, state.GatherState(timeslot)); err != nil {
				d.log.Errorf("snapshot for %s: %v", name, err)
			}
		}
	}
	return nil
}

// Run executes count timeslots starting at from, stopping early when the
// context is cancelled.
func (d *Driver) Run(ctx context.Context, from, count int) error {
	for ts := from; ts < from+count; ts++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := d.RunTimeslot(ts); err != nil {
			return err
		}
	}
	return nil
}
