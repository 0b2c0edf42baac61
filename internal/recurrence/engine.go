package recurrence

import (
	"errors"
	"time"
)

// MaxSpanDays bounds how many calendar days a single expansion may cover.
const MaxSpanDays = 366

// Frequency represents supported recurrence intervals.
type Frequency int

const (
	// FrequencyUnspecified indicates the rule frequency is not set.
	FrequencyUnspecified Frequency = iota
	// FrequencyDaily generates a day for each date within the range.
	FrequencyDaily
	// FrequencyWeekly generates days for the selected weekdays.
	FrequencyWeekly
)

// Rule describes a repeating office-day pattern.
type Rule struct {
	Frequency Frequency
	Weekdays  []time.Weekday
	StartsOn  time.Time
	EndsOn    *time.Time
}

// GenerateOptions defines optional range bounds for day generation.
type GenerateOptions struct {
	RangeStart *time.Time
	RangeEnd   *time.Time
}

// Engine expands recurrence rules into calendar days.
type Engine struct {
	location *time.Location
}

// NewEngine constructs an Engine that reads calendar dates in the provided location.
// If loc is nil, UTC is used.
func NewEngine(loc *time.Location) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	return &Engine{location: loc}
}

// ErrInvalidFrequency indicates the recurrence frequency is not supported.
var ErrInvalidFrequency = errors.New("recurrence: invalid frequency")

// ErrInvalidWindow indicates the generation window is unbounded.
var ErrInvalidWindow = errors.New("recurrence: generation window requires an end bound")

// ErrWindowTooLong indicates the generation window exceeds MaxSpanDays.
var ErrWindowTooLong = errors.New("recurrence: generation window is too long")

// GenerateDays produces the calendar days matched by rule within the window.
//
// The engine enforces the following semantics:
//   - Dates are read in the engine's location and returned as UTC midnights.
//   - The window is bounded by the rule's EndsOn and the optional range end, both inclusive.
//   - Weekly rules require weekdays; daily rules may optionally filter by weekdays.
func (e *Engine) GenerateDays(rule Rule, opts GenerateOptions) ([]time.Time, error) {
	loc := e.location
	if loc == nil {
		loc = time.UTC
	}

	lower := dayIn(rule.StartsOn, loc)
	if opts.RangeStart != nil {
		if start := dayIn(*opts.RangeStart, loc); start.After(lower) {
			lower = start
		}
	}

	var upper time.Time
	hasUpper := false
	if rule.EndsOn != nil {
		upper = dayIn(*rule.EndsOn, loc)
		hasUpper = true
	}
	if opts.RangeEnd != nil {
		end := dayIn(*opts.RangeEnd, loc)
		if !hasUpper || end.Before(upper) {
			upper = end
		}
		hasUpper = true
	}
	if !hasUpper {
		return nil, ErrInvalidWindow
	}
	if lower.After(upper) {
		return nil, nil
	}
	if upper.Sub(lower) >= MaxSpanDays*24*time.Hour {
		return nil, ErrWindowTooLong
	}

	weekdaySet := make(map[time.Weekday]struct{}, len(rule.Weekdays))
	for _, day := range rule.Weekdays {
		weekdaySet[day] = struct{}{}
	}

	days := make([]time.Time, 0)
	for current := lower; !current.After(upper); current = current.AddDate(0, 0, 1) {
		include, err := shouldInclude(rule.Frequency, weekdaySet, current.Weekday())
		if err != nil {
			return nil, err
		}
		if include {
			days = append(days, current)
		}
	}

	return days, nil
}

// dayIn returns UTC midnight of the calendar date t falls on in loc.
func dayIn(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func shouldInclude(freq Frequency, weekdaySet map[time.Weekday]struct{}, day time.Weekday) (bool, error) {
	switch freq {
	case FrequencyDaily:
		if len(weekdaySet) == 0 {
			return true, nil
		}
		_, ok := weekdaySet[day]
		return ok, nil
	case FrequencyWeekly:
		if len(weekdaySet) == 0 {
			return false, nil
		}
		_, ok := weekdaySet[day]
		return ok, nil
	case FrequencyUnspecified:
		fallthrough
	default:
		return false, ErrInvalidFrequency
	}
}
