// Package safety implements the pure phase-threshold check that backs the
// "any phase > threshold => MCB OFF" invariant. It has no shared state and
// makes no adapter calls; it is deterministic given its inputs.
package safety

import "fmt"

// Phase identifies one leg of the three-phase supply, in the fixed
// reporting order L1, L2, L3.
type Phase uint8

const (
	L1 Phase = iota
	L2
	L3
)

func (p Phase) String() string {
	switch p {
	case L1:
		return "L1"
	case L2:
		return "L2"
	case L3:
		return "L3"
	default:
		return "?"
	}
}

// Reading is the three-phase current sample evaluated against a threshold.
type Reading struct {
	L1, L2, L3 float64
}

// Offender pairs a phase with the amperage it was observed at.
type Offender struct {
	Phase Phase
	Amps  float64
}

// Result is the outcome of CheckThresholds.
type Result struct {
	Exceeds   bool
	Offenders []Offender
}

// CheckThresholds compares each phase against threshold using strict `>`;
// equality never trips. Offenders are listed in fixed order L1, L2, L3.
func CheckThresholds(reading Reading, threshold float64) Result {
	var offenders []Offender
	if reading.L1 > threshold {
		offenders = append(offenders, Offender{Phase: L1, Amps: reading.L1})
	}
	if reading.L2 > threshold {
		offenders = append(offenders, Offender{Phase: L2, Amps: reading.L2})
	}
	if reading.L3 > threshold {
		offenders = append(offenders, Offender{Phase: L3, Amps: reading.L3})
	}
	return Result{Exceeds: len(offenders) > 0, Offenders: offenders}
}

// FormatOffenders renders offenders as "L1 (26A), L3 (28A)" — integer
// printout of the amperage as received, no additional rounding.
func FormatOffenders(offenders []Offender) string {
	out := ""
	for i, o := range offenders {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf("%s (%dA)", o.Phase, int(o.Amps))
	}
	return out
}
