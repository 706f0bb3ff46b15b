package storage

import "fmt"

// DemandElement is an immutable carrier describing the energy need of a
// cohort of vehicles that all unplug at the same future timeslot. If t is the
// current timeslot, the cohort departs at t + Horizon and charges in every
// timeslot from t through t + Horizon.
//
// Distribution is a histogram of horizon+1 entries summing to 1. The first
// entry is the fraction of the cohort needing roughly the full horizon of
// charger-hours, the last the fraction that is essentially charged already.
// Callers are trusted to normalise the histogram and to respect the ring
// capacity; the engine does not re-check either.
type DemandElement struct {
	horizon      int
	nVehicles    float64
	energy       float64
	distribution []float64
}

// NewDemandElement builds a demand carrier. NVehicles is a weighted
// expectation, not a count, so it is a float.
func NewDemandElement(horizon int, nVehicles, energy float64, distribution []float64) DemandElement {
	return DemandElement{
		horizon:      horizon,
		nVehicles:    nVehicles,
		energy:       energy,
		distribution: distribution,
	}
}

// Horizon returns the number of timeslots until the cohort departs.
func (de DemandElement) Horizon() int {
	return de.horizon
}

// NVehicles returns the expected number of vehicles in the cohort.
func (de DemandElement) NVehicles() float64 {
	return de.nVehicles
}

// Energy returns the total energy in kWh the cohort must receive.
func (de DemandElement) Energy() float64 {
	return de.energy
}

// Distribution returns the need histogram. The slice is shared, not copied.
func (de DemandElement) Distribution() []float64 {
	return de.distribution
}

func (de DemandElement) String() string {
	return fmt.Sprintf("(h%d,n%.3f,e%.3f,%v)", de.horizon, de.nVehicles, de.energy, de.distribution)
}
