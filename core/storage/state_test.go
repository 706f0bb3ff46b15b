package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const maxHorizon = 48

type testSubscription struct {
	committed int
}

func (s *testSubscription) CustomersCommitted() int { return s.committed }

func newTestState(committed int, unitCapacity float64) *StorageState {
	return NewStorageState(&testSubscription{committed: committed}, unitCapacity, maxHorizon, nil)
}

// totals sums population and energy over the active horizon.
func totals(ss *StorageState, timeslot int) (pop, energy float64) {
	for _, se := range ss.Elements(timeslot) {
		for i := 0; i < se.Length(); i++ {
			pop += se.Population()[i]
			energy += se.Energy()[i]
		}
	}
	return pop, energy
}

func TestInitial(t *testing.T) {
	ss := newTestState(1000, 5.0)
	assert.Equal(t, 1000, ss.Population())
	assert.InDelta(t, 5.0, ss.UnitCapacity(), 1e-6)
	assert.Equal(t, 0, ss.Horizon(0))
}

// a single cohort departing in the current timeslot, at exactly half power
func TestDemandSingleExact(t *testing.T) {
	ss := newTestState(800, 6.0)
	demand := []DemandElement{
		NewDemandElement(0, 4.0, 0.0, []float64{1.0}),
	}
	ss.DistributeDemand(36, demand, 0.8)

	se := ss.Element(36)
	require.NotNil(t, se)
	assert.InDelta(t, 3.2, se.ActiveChargers(), 1e-6)
	assert.InDeltaSlice(t, []float64{3.2}, se.Population(), 1e-6)
	assert.InDeltaSlice(t, []float64{9.6}, se.Energy(), 1e-6)
}

func TestDemandTwoTimeslots(t *testing.T) {
	ss := newTestState(500, 6.0)
	demand := []DemandElement{
		NewDemandElement(0, 4.0, 0.0, []float64{1.0}),
		NewDemandElement(1, 6.0, 0.0, []float64{0.4, 0.6}),
	}
	ss.DistributeDemand(42, demand, 0.5)

	assert.Nil(t, ss.Element(41))
	se := ss.Element(42)
	require.NotNil(t, se)
	assert.InDelta(t, 5.0, se.ActiveChargers(), 1e-6)
	assert.InDeltaSlice(t, []float64{2.0}, se.Population(), 1e-6)
	assert.InDeltaSlice(t, []float64{6.0}, se.Energy(), 1e-6)

	se = ss.Element(43)
	require.NotNil(t, se)
	assert.InDelta(t, 3.0, se.ActiveChargers(), 1e-6)
	assert.InDeltaSlice(t, []float64{1.2, 1.8}, se.Population(), 1e-6)
	assert.InDeltaSlice(t, []float64{10.8, 5.4}, se.Energy(), 1e-6)
	assert.Equal(t, 2, ss.Horizon(42))
}

// activeChargers at any hour must equal the vehicles not yet departed
func TestActivationInvariant(t *testing.T) {
	ss := newTestState(1000, 6.0)
	demand := []DemandElement{
		NewDemandElement(1, 4.0, 0.0, []float64{0.5, 0.5}),
		NewDemandElement(3, 6.0, 0.0, []float64{0.25, 0.25, 0.25, 0.25}),
		NewDemandElement(5, 10.0, 0.0, []float64{0.2, 0.2, 0.2, 0.2, 0.1, 0.1}),
	}
	ss.DistributeDemand(20, demand, 1.0)
	require.Equal(t, 6, ss.Horizon(20))

	for ts := 20; ts < 26; ts++ {
		remaining := 0.0
		for s := ts; s < 26; s++ {
			se := ss.Element(s)
			for i := 0; i < se.Length(); i++ {
				remaining += se.Population()[i]
			}
		}
		assert.InDelta(t, remaining, ss.Element(ts).ActiveChargers(), 1e-6,
			"timeslot %d", ts)
	}
}

// up-regulation is paid back by the flexible cohorts only
func TestRegulationUpSkipsMustRun(t *testing.T) {
	ss := newTestState(1000, 6.0)
	demand := []DemandElement{
		NewDemandElement(0, 2.0, 0.0, []float64{1.0}),
		NewDemandElement(2, 4.0, 0.0, []float64{0.5, 0.5, 0.0}),
	}
	ss.DistributeDemand(43, demand, 1.0)

	// cell 45: pop [2 2 0], energy [30 18 0]; only cohort 1 is regulable
	require.InDeltaSlice(t, []float64{30, 18, 0}, ss.Element(45).Energy(), 1e-6)

	require.NoError(t, ss.DistributeRegulation(43, 7.0))

	assert.InDelta(t, 6.0, ss.Element(43).Energy()[0], 1e-6)
	assert.InDelta(t, 30.0, ss.Element(45).Energy()[0], 1e-6)
	assert.InDelta(t, 25.0, ss.Element(45).Energy()[1], 1e-6)
}

func TestRegulationInfeasible(t *testing.T) {
	ss := newTestState(1000, 6.0)
	err := ss.DistributeRegulation(10, 5.0)
	assert.ErrorIs(t, err, ErrInfeasibleRegulation)
}

func TestRegulationDownClipped(t *testing.T) {
	ss := newTestState(1000, 6.0)
	demand := []DemandElement{
		NewDemandElement(1, 4.0, 0.0, []float64{0.5, 0.5}),
	}
	ss.DistributeDemand(10, demand, 1.0)
	// flexibility is min(2*6, 6) = 6 kWh; ask to shed twice that
	require.NoError(t, ss.DistributeRegulation(10, -12.0))
	assert.InDelta(t, 0.0, ss.Element(11).Energy()[1], 1e-6)
	assert.GreaterOrEqual(t, ss.Element(11).Energy()[1], -1e-6)
}

func TestUsageDistribution(t *testing.T) {
	ss := newTestState(1000, 6.0)
	demand := []DemandElement{
		NewDemandElement(0, 2.0, 0.0, []float64{1.0}),
		NewDemandElement(1, 4.0, 0.0, []float64{0.5, 0.5}),
		NewDemandElement(2, 2.0, 0.0, []float64{0.5, 0.5, 0.0}),
	}
	ss.DistributeDemand(42, demand, 1.0)

	min, max, nominal := ss.GetMinMax(42)
	assert.InDelta(t, 24.0, min, 1e-6)
	assert.InDelta(t, 36.0, max, 1e-6)
	assert.InDelta(t, 30.0, nominal, 1e-6)
	assert.LessOrEqual(t, min, nominal)
	assert.LessOrEqual(t, nominal, max)

	// capacity must never exceed what the active chargers can draw
	chargerBound := 0.0
	for _, se := range ss.Elements(42) {
		chargerBound += se.ActiveChargers() * ss.UnitCapacity()
	}
	assert.LessOrEqual(t, max, chargerBound+1e-6)

	_, before := totals(ss, 42)
	mustRun43 := ss.Element(43).Population()[0] * ss.UnitCapacity()
	mustRun44 := ss.Element(44).Population()[0] * ss.UnitCapacity()
	energy43 := ss.Element(43).Energy()[0]
	energy44 := ss.Element(44).Energy()[0]

	ss.DistributeUsage(42, nominal)

	// the departing cohort is fully satisfied
	assert.InDelta(t, 0.0, ss.Element(42).Energy()[0], 1e-6)
	// must-run cohorts each drew a full charger-hour
	assert.InDelta(t, energy43-mustRun43, ss.Element(43).Energy()[0], 1e-6)
	assert.InDelta(t, energy44-mustRun44, ss.Element(44).Energy()[0], 1e-6)
	// total commitments shrank by exactly the delivered energy
	_, after := totals(ss, 42)
	assert.InDelta(t, nominal, before-after, 1e-6)
}

func TestCollapseFoldsTrailingCohort(t *testing.T) {
	ss := newTestState(1000, 6.0)
	demand := []DemandElement{
		NewDemandElement(0, 2.0, 0.0, []float64{1.0}),
		NewDemandElement(1, 4.0, 0.0, []float64{0.5, 0.5}),
	}
	ss.DistributeDemand(42, demand, 1.0)
	// pretend timeslot 42 is done and close out the next one
	popBefore, energyBefore := totals(ss, 43)

	ss.CollapseElements(43)

	se := ss.Element(43)
	require.Equal(t, 1, se.Length())
	assert.InDelta(t, 4.0, se.Population()[0], 1e-6)
	assert.InDelta(t, 24.0, se.Energy()[0], 1e-6)

	popAfter, energyAfter := totals(ss, 43)
	assert.InDelta(t, popBefore, popAfter, 1e-6)
	assert.InDelta(t, energyBefore, energyAfter, 1e-6)
}

func TestCollapseRepairsNegativeTrailing(t *testing.T) {
	ss := newTestState(1000, 6.0)
	ss.ring.Clean(43)
	ss.ring.Set(43, NewPopulatedElement(3, []float64{12, -0.5}, []float64{2, 1}))

	ss.CollapseElements(43)

	se := ss.Element(43)
	require.Equal(t, 1, se.Length())
	assert.InDelta(t, 2.0, se.Population()[0], 1e-6)
	assert.InDelta(t, 12.0, se.Energy()[0], 1e-6)
}

func TestCollapseLeavesSingleCohort(t *testing.T) {
	ss := newTestState(1000, 6.0)
	ss.ring.Clean(43)
	ss.ring.Set(43, NewPopulatedElement(2, []float64{9}, []float64{2}))
	ss.CollapseElements(43)
	assert.Equal(t, 1, ss.Element(43).Length())
	assert.InDelta(t, 9.0, ss.Element(43).Energy()[0], 1e-6)
}

func TestRebalanceRestoresCohortWidths(t *testing.T) {
	ss := newTestState(1000, 6.0)
	ss.ring.Clean(43)
	ss.ring.Set(43, NewPopulatedElement(3, []float64{6}, []float64{1}))
	// cohort 1 carries 3 kWh more than its band allows after up-regulation
	ss.ring.Set(44, NewPopulatedElement(3, []float64{15, 21, 0}, []float64{1, 2, 0}))

	chargers := ss.Element(44).ActiveChargers()
	popBefore, energyBefore := totals(ss, 43)

	ss.Rebalance(43)

	se := ss.Element(44)
	assert.InDeltaSlice(t, []float64{1.5, 1.5, 0}, se.Population(), 1e-6)
	assert.InDeltaSlice(t, []float64{22.5, 13.5, 0}, se.Energy(), 1e-6)
	assert.InDelta(t, chargers, se.ActiveChargers(), 1e-6)

	popAfter, energyAfter := totals(ss, 43)
	assert.InDelta(t, popBefore, popAfter, 1e-6)
	assert.InDelta(t, energyBefore, energyAfter, 1e-6)
}

func TestRebalanceClipsCorruptRatio(t *testing.T) {
	ss := newTestState(1000, 6.0)
	ss.ring.Clean(43)
	ss.ring.Set(43, NewPopulatedElement(3, []float64{6}, []float64{1}))
	// ratio 31/12 > 1.5 indicates corruption and is clipped
	ss.ring.Set(44, NewPopulatedElement(3, []float64{15, 31}, []float64{1, 2}))

	ss.Rebalance(43)

	se := ss.Element(44)
	assert.InDelta(t, 2.0, se.Population()[0], 1e-6)
	assert.InDelta(t, 1.0, se.Population()[1], 1e-6)
	for i := 0; i < se.Length(); i++ {
		assert.GreaterOrEqual(t, se.Population()[i], 0.0)
	}
}

// moving 40% of the population splits every cell 40/60, conserving both sums
func TestMoveSubscribersToEmpty(t *testing.T) {
	oldSS := newTestState(1000, 5.0)
	demand := []DemandElement{
		NewDemandElement(2, 11.0, 42.0, []float64{0.4, 0.3, 0.3}),
		NewDemandElement(3, 15.0, 80.0, []float64{0.25, 0.25, 0.25, 0.25}),
		NewDemandElement(5, 12.0, 60.0, []float64{0.5, 0.3, 0.2, 0.0, 0.0, 0.0}),
		NewDemandElement(7, 25.0, 130.0, []float64{0.3, 0.2, 0.2, 0.1, 0.1, 0.1, 0.0, 0.0}),
	}
	oldSS.DistributeDemand(40, demand, 1.0)
	require.Equal(t, 8, oldSS.Horizon(40))

	type snapshot struct {
		chargers float64
		pop      []float64
		energy   []float64
	}
	pre := make(map[int]snapshot)
	for ts := 40; ts < 48; ts++ {
		se := oldSS.Element(ts).Copy()
		pre[ts] = snapshot{se.ActiveChargers(), se.Population(), se.Energy()}
	}

	newSS := newTestState(0, 5.0)
	newSS.MoveSubscribers(40, 400, oldSS)

	for ts := 40; ts < 48; ts++ {
		src := oldSS.Element(ts)
		dst := newSS.Element(ts)
		require.NotNil(t, dst, "timeslot %d", ts)
		assert.InDelta(t, pre[ts].chargers*0.4, dst.ActiveChargers(), 1e-6)
		assert.InDelta(t, pre[ts].chargers*0.6, src.ActiveChargers(), 1e-6)
		for i := range pre[ts].pop {
			assert.InDelta(t, pre[ts].pop[i]*0.4, dst.Population()[i], 1e-6)
			assert.InDelta(t, pre[ts].pop[i]*0.6, src.Population()[i], 1e-6)
			assert.InDelta(t, pre[ts].energy[i]*0.4, dst.Energy()[i], 1e-6)
			assert.InDelta(t, pre[ts].energy[i]*0.6, src.Energy()[i], 1e-6)
			// conservation, cohort by cohort
			assert.InDelta(t, pre[ts].pop[i], dst.Population()[i]+src.Population()[i], 1e-6)
			assert.InDelta(t, pre[ts].energy[i], dst.Energy()[i]+src.Energy()[i], 1e-6)
		}
	}
}

func TestMoveSubscribersAdditive(t *testing.T) {
	oldSS := newTestState(1000, 6.0)
	oldDemand := []DemandElement{
		NewDemandElement(1, 10.0, 0.0, []float64{0.5, 0.5}),
	}
	oldSS.DistributeDemand(40, oldDemand, 1.0)

	newSS := newTestState(200, 6.0)
	newDemand := []DemandElement{
		NewDemandElement(1, 4.0, 0.0, []float64{0.5, 0.5}),
	}
	newSS.DistributeDemand(40, newDemand, 1.0)

	_, oldEnergy := totals(oldSS, 40)
	_, newEnergy := totals(newSS, 40)

	newSS.MoveSubscribers(40, 250, oldSS)

	// destination gained a quarter of the source, source kept the rest
	_, oldAfter := totals(oldSS, 40)
	_, newAfter := totals(newSS, 40)
	assert.InDelta(t, oldEnergy*0.75, oldAfter, 1e-6)
	assert.InDelta(t, newEnergy+oldEnergy*0.25, newAfter, 1e-6)
	assert.InDelta(t, oldEnergy+newEnergy, oldAfter+newAfter, 1e-6)
}

// every reachable state keeps equal-length, non-negative histograms
func TestHistogramInvariants(t *testing.T) {
	ss := newTestState(1000, 6.0)
	demand := []DemandElement{
		NewDemandElement(0, 3.0, 0.0, []float64{1.0}),
		NewDemandElement(2, 6.0, 0.0, []float64{0.5, 0.3, 0.2}),
		NewDemandElement(4, 8.0, 0.0, []float64{0.4, 0.3, 0.2, 0.1, 0.0}),
	}
	ss.DistributeDemand(30, demand, 0.9)
	min, max, _ := ss.GetMinMax(30)
	require.LessOrEqual(t, min, max)
	ss.DistributeUsage(30, (min+max)/2)
	ss.CollapseElements(31)
	ss.Rebalance(31)

	for _, se := range ss.Elements(31) {
		require.Equal(t, len(se.Population()), len(se.Energy()))
		for i := 0; i < se.Length(); i++ {
			assert.GreaterOrEqual(t, se.Population()[i], -1e-3)
			assert.GreaterOrEqual(t, se.Energy()[i], -1e-3)
		}
	}
}
