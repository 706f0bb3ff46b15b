package storage

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// The boot record grammar is regular:
//
//	state := '[' cell (', ' cell)* ']'
//	cell  := '[' ts ', ' chargers ', ' array ', ' array ']'
//	array := '[' num (', ' num)* ']'
//	num   := digits '.' digits
//
// Numbers carry six decimal places. The first array is the population
// histogram, the second the energy histogram.
var (
	cellPrefix  = regexp.MustCompile(`^\[(\d+), (\d+\.\d+), `)
	recordValue = regexp.MustCompile(`^\d+\.\d+`)
)

// GatherState renders the active horizon starting at timeslot as a boot
// record. Round-trip fidelity through RestoreState holds to six decimal
// places.
func (ss *StorageState) GatherState(timeslot int) string {
	var b strings.Builder
	b.WriteString("[")
	for ts := timeslot; ts < timeslot+ss.Horizon(timeslot); ts++ {
		se := ss.ring.Get(ts)
		if ts > timeslot {
			b.WriteString(", ")
		}
		// the grammar has no sign; negative values are written as zero
		fmt.Fprintf(&b, "[%d, %.6f, %s, %s]", ts, clampZero(se.ActiveChargers()),
			formatRecordSlice(se.Population()), formatRecordSlice(se.Energy()))
	}
	b.WriteString("]")
	return b.String()
}

// RestoreState rebuilds the horizon from a boot record produced by
// GatherState, storing cells at their absolute timeslot indices. On any
// grammar mismatch the parse aborts, the offending prefix is logged and the
// state is left empty.
func (ss *StorageState) RestoreState(timeslot int, bootRecord string) error {
	ss.ring.Clear()
	if !strings.HasPrefix(bootRecord, "[") {
		return ss.abortParse(bootRecord)
	}
	remains := bootRecord[1:]
	if strings.HasPrefix(remains, "]") {
		// an empty horizon round-trips as "[]"
		return nil
	}
	for {
		m := cellPrefix.FindStringSubmatch(remains)
		if m == nil {
			return ss.abortParse(remains)
		}
		ts, err := strconv.Atoi(m[1])
		if err != nil {
			return ss.abortParse(remains)
		}
		chargers, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			return ss.abortParse(remains)
		}
		remains = remains[len(m[0]):]

		var population, energy []float64
		population, remains, err = parseArray(remains)
		if err != nil {
			return ss.abortParse(remains)
		}
		if !strings.HasPrefix(remains, ", ") {
			return ss.abortParse(remains)
		}
		energy, remains, err = parseArray(remains[2:])
		if err != nil {
			return ss.abortParse(remains)
		}
		if !strings.HasPrefix(remains, "]") {
			return ss.abortParse(remains)
		}
		remains = remains[1:]

		if len(population) != len(energy) {
			return ss.abortParse(remains)
		}
		ss.ring.Set(ts, NewPopulatedElement(chargers, energy, population))

		if strings.HasPrefix(remains, "]") {
			return nil
		}
		if !strings.HasPrefix(remains, ", ") {
			return ss.abortParse(remains)
		}
		remains = remains[2:]
	}
}

func formatRecordSlice(vals []float64) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = fmt.Sprintf("%.6f", clampZero(v))
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func clampZero(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

// parseArray consumes a bracketed number list and returns the values along
// with the unconsumed remainder.
func parseArray(s string) ([]float64, string, error) {
	if !strings.HasPrefix(s, "[") {
		return nil, s, ErrParse
	}
	s = s[1:]
	var values []float64
	for {
		m := recordValue.FindString(s)
		if m == "" {
			return nil, s, ErrParse
		}
		v, err := strconv.ParseFloat(m, 64)
		if err != nil {
			return nil, s, ErrParse
		}
		values = append(values, v)
		s = s[len(m):]
		if strings.HasPrefix(s, "]") {
			return values, s[1:], nil
		}
		if !strings.HasPrefix(s, ", ") {
			return nil, s, ErrParse
		}
		s = s[2:]
	}
}

func (ss *StorageState) abortParse(remains string) error {
	prefix := remains
	if len(prefix) > 16 {
		prefix = prefix[:16]
	}
	ss.log.Errorf("invalid boot record at %q", prefix)
	ss.ring.Clear()
	return fmt.Errorf("%w at %q", ErrParse, prefix)
}
