package tariff

import (
	"fmt"

	"github.com/kilianp07/evflex/core/events"
	"github.com/kilianp07/evflex/core/logger"
	"github.com/kilianp07/evflex/core/storage"
	"github.com/kilianp07/evflex/internal/eventbus"
)

// Entry couples a subscription with the storage state bound to it.
type Entry struct {
	Sub   *Subscription
	State *storage.StorageState
}

// Registry holds every tariff subscription of one charger population and
// performs tariff switches. All engines share the same unit capacity and
// horizon because the chargers are homogeneous.
type Registry struct {
	unitCapacity float64
	maxHorizon   int
	bus          eventbus.EventBus
	log          logger.Logger
	entries      []*Entry
	byName       map[string]*Entry
}

// NewRegistry creates an empty registry. The bus may be nil.
func NewRegistry(unitCapacity float64, maxHorizon int, bus eventbus.EventBus, log logger.Logger) *Registry {
	return &Registry{
		unitCapacity: unitCapacity,
		maxHorizon:   maxHorizon,
		bus:          bus,
		log:          log,
		byName:       make(map[string]*Entry),
	}
}

// AddTariff registers a tariff with an initial subscriber count and binds a
// fresh storage state to it.
func (r *Registry) AddTariff(name string, subscribers int) (*Entry, error) {
	if _, ok := r.byName[name]; ok {
		return nil, fmt.Errorf("tariff %s already registered", name)
	}
	sub := NewSubscription(name, subscribers)
	entry := &Entry{
		Sub:   sub,
		State: storage.NewStorageState(sub, r.unitCapacity, r.maxHorizon, r.log),
	}
	r.entries = append(r.entries, entry)
	r.byName[name] = entry
	return entry, nil
}

// Entry looks up a tariff by name.
func (r *Registry) Entry(name string) (*Entry, bool) {
	e, ok := r.byName[name]
	return e, ok
}

// Entries returns all entries in registration order.
func (r *Registry) Entries() []*Entry {
	return r.entries
}

// TotalPopulation returns the customer count across all tariffs.
func (r *Registry) TotalPopulation() int {
	total := 0
	for _, e := range r.entries {
		total += e.Sub.CustomersCommitted()
	}
	return total
}

// SwitchSubscribers moves count customers from one tariff to another,
// splitting the stored commitments first. The storage migration must see the
// pre-move populations, so the subscription counts are only updated after
// MoveSubscribers has run.
func (r *Registry) SwitchSubscribers(timeslot int, from, to string, count int) error {
	src, ok := r.byName[from]
	if !ok {
		return fmt.Errorf("unknown tariff %s", from)
	}
	dst, ok := r.byName[to]
	if !ok {
		return fmt.Errorf("unknown tariff %s", to)
	}
	if count <= 0 {
		return fmt.Errorf("switch count must be positive, got %d", count)
	}
	if count > src.Sub.CustomersCommitted() {
		return fmt.Errorf("cannot switch %d of %d customers from %s",
			count, src.Sub.CustomersCommitted(), from)
	}

	dst.State.MoveSubscribers(timeslot, count, src.State)

	if err := src.Sub.Unsubscribe(count); err != nil {
		return err
	}
	dst.Sub.Subscribe(count)

	if r.log != nil {
		r.log.Infof("moved %d subscribers from %s to %s in timeslot %d",
			count, from, to, timeslot)
	}
	if r.bus != nil {
		r.bus.Publish(events.MigrationEvent{
			Timeslot: timeslot,
			From:     from,
			To:       to,
			Count:    count,
		})
	}
	return nil
}
