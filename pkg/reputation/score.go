// Package reputation computes work-report score deltas and applies the
// anti-gaming caps, orchestrating the rate limiter and the event ledger.
// All arithmetic is integer centis (hundredths of a reputation point);
// floats appear only at the public boundary.
package reputation

import "time"

// WorkReport is the signed submission payload. The canonical signing form
// is the JSON serialization of exactly these keys in this order.
type WorkReport struct {
	DID              string  `json:"did"`
	Period           string  `json:"period"`
	TasksCompleted   float64 `json:"tasks_completed"`
	Corrections      float64 `json:"corrections"`
	PositiveFeedback float64 `json:"positive_feedback"`
	Errors           float64 `json:"errors"`
}

// Documented bounds for report fields. Out-of-range values are clamped,
// never rejected.
const (
	MaxTasksCompleted = 1000
	MaxCorrections    = 100
	MaxPositive       = 100
	MaxErrors         = 100

	// DailyCapCentis bounds the net signed work-report delta per agent per
	// UTC day to ±0.5 points.
	DailyCapCentis = 50
)

// ValidatedReport holds the clamped, floored integer report fields.
type ValidatedReport struct {
	Period      string `json:"period"`
	Tasks       int    `json:"tasks_completed"`
	Corrections int    `json:"corrections"`
	Positive    int    `json:"positive_feedback"`
	Errors      int    `json:"errors"`
}

// ClampReport floors each numeric field to an integer and clamps it to its
// documented range.
func ClampReport(r WorkReport) ValidatedReport {
	return ValidatedReport{
		Period:      r.Period,
		Tasks:       clampInt(int(r.TasksCompleted), 0, MaxTasksCompleted),
		Corrections: clampInt(int(r.Corrections), 0, MaxCorrections),
		Positive:    clampInt(int(r.PositiveFeedback), 0, MaxPositive),
		Errors:      clampInt(int(r.Errors), 0, MaxErrors),
	}
}

// RawDeltaCentis evaluates the scoring formula
//
//	0.01·tasks − 0.05·corrections + 0.02·positive − 0.03·errors
//
// in centis, where it is exact integer arithmetic.
func RawDeltaCentis(v ValidatedReport) int {
	return v.Tasks - 5*v.Corrections + 2*v.Positive - 3*v.Errors
}

// ClampDailyCentis shrinks a raw delta so the day's net work-report change
// stays within ±DailyCapCentis. appliedToday is the signed sum of
// work-report deltas already committed for the agent today.
func ClampDailyCentis(raw, appliedToday int) int {
	lo := -DailyCapCentis - appliedToday
	if lo < -DailyCapCentis {
		lo = -DailyCapCentis
	}
	hi := DailyCapCentis - appliedToday
	if hi > DailyCapCentis {
		hi = DailyCapCentis
	}
	if hi < lo {
		// Allowance already exhausted in this direction.
		if raw > 0 {
			return 0
		}
		return clampInt(raw, lo, 0)
	}
	return clampInt(raw, lo, hi)
}

// StartOfDayUTC returns midnight UTC of t's day, the boundary the daily cap
// folds from.
func StartOfDayUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
