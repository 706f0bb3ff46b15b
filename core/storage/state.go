package storage

import (
	"math"

	"github.com/kilianp07/evflex/core/logger"
)

// PopulationProvider is the handle through which the engine reads the
// customer count of the tariff subscription it is bound to. The engine never
// owns or mutates the subscription.
type PopulationProvider interface {
	CustomersCommitted() int
}

// StorageState tracks the forward-looking charging commitments of a
// population of EV chargers subscribed to a single tariff. The code here
// depends strongly on being called in the canonical per-timeslot order:
// DistributeRegulation, CollapseElements, Rebalance, DistributeDemand,
// GetMinMax, DistributeUsage. Subscription migration via MoveSubscribers
// happens between timeslots, before subscription counts are updated.
//
// Energy and population values are population-level expectations, not
// per-vehicle quantities. Vehicles draw energy in every timeslot from their
// arrival through their departure timeslot, both included.
type StorageState struct {
	sub          PopulationProvider
	unitCapacity float64
	ring         *RingHorizon
	log          logger.Logger
}

// NewStorageState binds a fresh engine to a subscription. unitCapacity is
// the rated per-charger power in kW and maxHorizon bounds the commitment
// lookahead in timeslots.
func NewStorageState(sub PopulationProvider, unitCapacity float64, maxHorizon int, log logger.Logger) *StorageState {
	if log == nil {
		log = nopLogger{}
	}
	return &StorageState{
		sub:          sub,
		unitCapacity: unitCapacity,
		ring:         NewRingHorizon(maxHorizon),
		log:          log,
	}
}

// Population returns the customer count committed to this subscription,
// before any pending transfer takes effect.
func (ss *StorageState) Population() int {
	if ss.sub == nil {
		return 0
	}
	return ss.sub.CustomersCommitted()
}

// UnitCapacity returns the rated per-charger power in kW.
func (ss *StorageState) UnitCapacity() float64 {
	return ss.unitCapacity
}

// Horizon returns the number of contiguous future timeslots, starting at
// timeslot, holding active charging commitments.
func (ss *StorageState) Horizon(timeslot int) int {
	return ss.ring.ActiveLength(timeslot)
}

// Element returns the cell for the given absolute timeslot, or nil.
func (ss *StorageState) Element(timeslot int) *StorageElement {
	return ss.ring.Get(timeslot)
}

// Elements returns the contiguous active cells starting at timeslot.
func (ss *StorageState) Elements(timeslot int) []*StorageElement {
	return ss.ring.AsList(timeslot)
}

// DistributeDemand spreads newly-arrived demand over the horizon. Demand for
// this subscription is the offered demand scaled by ratio, the fraction of
// the total customer population subscribed to this tariff. The newDemand
// list must be sorted by increasing horizon; the histograms are trusted to
// be normalised.
func (ss *StorageState) DistributeDemand(timeslot int, newDemand []DemandElement, ratio float64) {
	if len(newDemand) == 0 {
		return
	}

	// Stale cells beyond the active horizon must go before the ring is
	// extended.
	ss.ring.Clean(timeslot)

	// All vehicles in newDemand start charging now, so every written cell
	// sees the full activation count until its cohort departs.
	activations := 0.0
	maxTimeslot := timeslot
	for _, de := range newDemand {
		activations += de.NVehicles() * ratio
		if ts := timeslot + de.Horizon(); ts > maxTimeslot {
			maxTimeslot = ts
		}
	}

	next := 0
	for i := timeslot; i <= maxTimeslot && next < len(newDemand); i++ {
		arrayLength := i - timeslot + 1
		se := ss.ring.Get(i)
		if se == nil {
			se = NewStorageElement(arrayLength)
			ss.ring.Set(i, se)
		}

		// Departing vehicles still occupy their chargers in the departure
		// hour, so the count is credited before it is decremented below.
		se.AddChargers(activations)

		de := newDemand[next]
		if i == timeslot+de.Horizon() {
			activations -= de.NVehicles() * ratio
			allocations := de.Distribution()
			nValues := arrayLength
			if len(allocations) < nValues {
				nValues = len(allocations)
			}
			pop := make([]float64, nValues)
			energy := make([]float64, nValues)
			for ix := 0; ix < nValues; ix++ {
				pop[ix] = de.NVehicles() * allocations[ix] * ratio
				energy[ix] = ss.unitCapacity * pop[ix] * (float64(arrayLength-ix) - 0.5)
			}
			if err := se.AddCommitments(pop, energy); err != nil {
				ss.log.Errorf("demand injection at timeslot %d: %v", i, err)
			}
			next++
		}
	}

	ss.log.Debugw("demand distributed", map[string]any{
		"timeslot": timeslot,
		"horizon":  maxTimeslot - timeslot,
		"cells":    ss.Horizon(timeslot),
	})
}

// DistributeUsage spreads the energy actually delivered in the current
// timeslot across the connected vehicles. Demand of vehicles unplugging this
// timeslot is covered first, then a full charger-hour for the must-run
// cohort of every future timeslot, and the remainder is shared across the
// flexible cohorts in proportion to their hourly draw limit.
//
// capacity is the amount for this subscription, not the whole customer.
func (ss *StorageState) DistributeUsage(timeslot int, capacity float64) {
	remaining := capacity

	// Finish off the departing cohort.
	if target := ss.ring.Get(timeslot); target != nil {
		energy := target.Energy()
		if len(energy) > 1 {
			// The current cell should have collapsed to a single cohort.
			ss.log.Errorf("unsatisfiable demand %v in current timeslot %d", energy, timeslot)
			for i := 0; i < len(energy)-1; i++ {
				remaining -= ss.unitCapacity * target.Population()[i]
			}
		} else if len(energy) == 1 {
			remaining -= energy[0]
			energy[0] = 0.0
		}
	}

	// Must-run cohorts in future timeslots draw a full charger-hour.
	horizon := ss.ring.ActiveLength(timeslot)
	for ts := timeslot + 1; ts < timeslot+horizon; ts++ {
		target := ss.ring.Get(ts)
		usage := ss.unitCapacity * target.Population()[0]
		target.Energy()[0] -= usage
		remaining -= usage
	}

	// The rest is shared across the flexible cohorts, each bounded by its
	// hourly draw limit.
	remainingDemand := 0.0
	for ts := timeslot + 1; ts < timeslot+horizon; ts++ {
		target := ss.ring.Get(ts)
		for i := 1; i < target.Length(); i++ {
			remainingDemand += hourlyEnergy(target, i, ss.unitCapacity)
		}
	}
	if remainingDemand < epsilon {
		if remaining > zeroTolerance {
			ss.log.Warnf("unused capacity %.3f kWh with no flexible demand in timeslot %d",
				remaining, timeslot)
		}
		return
	}

	capacityRatio := remaining / remainingDemand
	for ts := timeslot + 1; ts < timeslot+horizon; ts++ {
		target := ss.ring.Get(ts)
		for i := 1; i < target.Length(); i++ {
			target.Energy()[i] -= hourlyEnergy(target, i, ss.unitCapacity) * capacityRatio
		}
	}
}

// CollapseElements closes out a timeslot by folding the trailing cohort of
// every cell into its neighbour and shrinking the histograms by one. The
// trailing cohort needs at most one charger-hour to finish, as does the one
// before it, so the fold cannot violate capacity. One-cohort cells are left
// unchanged.
func (ss *StorageState) CollapseElements(timeslot int) {
	for ts := timeslot; ts < timeslot+ss.ring.ActiveLength(timeslot); ts++ {
		target := ss.ring.Get(ts)
		energy := target.Energy()
		pop := target.Population()
		last := len(energy) - 1
		if last < 1 {
			continue
		}
		if energy[last] < -zeroTolerance {
			ss.log.Errorf("negative demand %f in timeslot %d", energy[last], ts)
			energy[last] = 0.0
			pop[last] = 0.0
		} else if energy[last] > 0.0 {
			energy[last-1] += energy[last]
			pop[last-1] += pop[last]
		}
		target.CollapseArrays()
	}
}

// Rebalance shifts population toward higher-need cohorts where less than the
// expected energy was delivered in the previous timeslot. A cohort i of a
// k-wide cell should need (k-i-0.5) charger-hours per vehicle; any surplus
// beyond half an hour moves up one cohort, restoring the histogram
// invariant. Must run after regulation and collapse, before demand and
// usage.
func (ss *StorageState) Rebalance(timeslot int) {
	for ts := timeslot + 1; ts < timeslot+ss.ring.ActiveLength(timeslot); ts++ {
		// the current cell is already fully satisfied
		target := ss.ring.Get(ts)
		energy := target.Energy()
		pop := target.Population()
		k := len(energy)
		for i := 1; i < k; i++ {
			chunk := ss.unitCapacity * pop[i]
			if chunk < epsilon {
				continue
			}
			ratio := (energy[i] - chunk*float64(k-i-1)) / chunk
			if ratio <= 0.5 {
				continue
			}
			if ratio > 1.5 {
				ss.log.Errorf("rebalance ratio %.3f out of range in timeslot %d cohort %d", ratio, ts, i)
				ratio = 1.0
			}
			move := ratio - 0.5
			mp := pop[i] * move
			pop[i-1] += mp
			energy[i-1] = pop[i-1] * ss.unitCapacity * (0.5 + float64(k-i))
			pop[i] -= mp
			energy[i] = pop[i] * ss.unitCapacity * (0.5 + float64(k-i-1))
		}
	}
}

// DistributeRegulation spreads exercised regulation over the horizon. A
// positive value means up-regulation was delivered in the previous timeslot:
// that energy must be added back to future commitments. Negative is
// down-regulation and reduces future need. The must-run cohort of every cell
// is never touched.
//
// This must run before DistributeDemand, because the regulation applies to
// the population that was present when the capacity was reported.
func (ss *StorageState) DistributeRegulation(timeslot int, regulation float64) error {
	if regulation == 0.0 {
		return nil
	}

	regulable := 0.0
	for ts := timeslot; ts < timeslot+ss.ring.ActiveLength(timeslot); ts++ {
		target := ss.ring.Get(ts)
		for i := 1; i < target.Length(); i++ {
			regulable += hourlyEnergy(target, i, ss.unitCapacity)
		}
	}
	if regulable < epsilon {
		ss.log.Errorf("regulation %.3f kWh with no regulable flexibility in timeslot %d",
			regulation, timeslot)
		return ErrInfeasibleRegulation
	}

	// positive ratio removes energy (down-regulation), negative adds it back
	ratio := -regulation / regulable
	if ratio > 1.0 {
		ss.log.Warnf("down-regulation %.3f kWh clipped to flexibility %.3f kWh in timeslot %d",
			-regulation, regulable, timeslot)
		ratio = 1.0
	}
	for ts := timeslot; ts < timeslot+ss.ring.ActiveLength(timeslot); ts++ {
		target := ss.ring.Get(ts)
		for i := 1; i < target.Length(); i++ {
			target.Energy()[i] -= hourlyEnergy(target, i, ss.unitCapacity) * ratio
		}
	}
	return nil
}

// GetMinMax computes the bounds on what may be consumed in the current
// timeslot. Minimum covers the departing cohort plus, for every future
// must-run cohort, a full charger-hour bounded by its remaining need;
// anything less breaks a charging commitment.
// Maximum adds the hourly draw limit of every flexible cohort. Nominal is
// the midpoint.
func (ss *StorageState) GetMinMax(timeslot int) (min, max, nominal float64) {
	if target := ss.ring.Get(timeslot); target != nil && target.Length() > 0 {
		min = target.Energy()[0]
	}
	for ts := timeslot + 1; ts < timeslot+ss.ring.ActiveLength(timeslot); ts++ {
		target := ss.ring.Get(ts)
		pop := target.Population()
		min += math.Min(target.Energy()[0], pop[0]*ss.unitCapacity)
		for i := 1; i < len(pop); i++ {
			max += hourlyEnergy(target, i, ss.unitCapacity)
		}
	}
	max += min
	return min, max, min + (max-min)/2.0
}

// MoveSubscribers transfers count subscribers from the subscription behind
// oldState into this one, splitting the stored commitments by the moved
// fraction. It must be called before either subscription's customer count is
// updated, so the fraction is computed against the pre-move population.
func (ss *StorageState) MoveSubscribers(timeslot, count int, oldState *StorageState) {
	fraction := float64(count) / float64(oldState.Population())

	if ss.Population() == 0 {
		// an empty destination takes a scaled copy of the source horizon
		ss.ring.Clear()
		ss.copyScaled(timeslot, oldState, fraction)
	} else if count > 0 {
		ss.addScaled(timeslot, oldState, fraction)
	}
	// in either case the source keeps the complementary share
	ss.scaleState(timeslot, oldState, 1.0-fraction)
}

func (ss *StorageState) copyScaled(timeslot int, from *StorageState, fraction float64) {
	for ts := timeslot; ts < timeslot+from.Horizon(timeslot); ts++ {
		ss.ring.Set(ts, from.Element(ts).CopyScaled(fraction))
	}
}

func (ss *StorageState) addScaled(timeslot int, from *StorageState, fraction float64) {
	ss.ring.Clean(timeslot)
	for ts := timeslot; ts < timeslot+from.Horizon(timeslot); ts++ {
		dst := ss.ring.Get(ts)
		if dst == nil {
			ss.ring.Set(ts, from.Element(ts).CopyScaled(fraction))
			continue
		}
		if err := dst.AddScaled(from.Element(ts), fraction); err != nil {
			// source and destination horizons disagree; the overlapping
			// cohorts have still been transferred
			ss.log.Errorf("subscriber migration at timeslot %d: %v", ts, err)
		}
	}
}

func (ss *StorageState) scaleState(timeslot int, old *StorageState, fraction float64) {
	if fraction > 1.0 {
		ss.log.Errorf("scaleState called with fraction %.3f > 1", fraction)
		return
	}
	if fraction < 0.0 {
		ss.log.Errorf("scaleState called with negative fraction %.3f", fraction)
		return
	}
	for _, element := range old.Elements(timeslot) {
		element.Scale(fraction)
	}
}

// hourlyEnergy returns what cohort i of the cell can draw this hour: its
// remaining need bounded by the rated power of its chargers.
func hourlyEnergy(se *StorageElement, i int, unitCapacity float64) float64 {
	return math.Min(se.Population()[i]*unitCapacity, se.Energy()[i])
}

type nopLogger struct{}

func (nopLogger) Debugf(string, ...any)         {}
func (nopLogger) Debugw(string, map[string]any) {}
func (nopLogger) Infof(string, ...any)          {}
func (nopLogger) Warnf(string, ...any)          {}
func (nopLogger) Errorf(string, ...any)         {}
