package application

import (
	"sort"
	"strings"
	"time"

	"github.com/example/attendance-coordinator/internal/persistence"
)

// ParseDate parses a calendar day in YYYY-MM-DD form.
func ParseDate(value string) (time.Time, error) {
	return time.Parse(persistence.DateLayout, strings.TrimSpace(value))
}

// FormatDate renders a calendar day as YYYY-MM-DD.
func FormatDate(day time.Time) string {
	return day.Format(persistence.DateLayout)
}

// normalizeDay keeps the calendar fields of t and drops the clock, returning UTC midnight.
func normalizeDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func normalizeDayPtr(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	day := normalizeDay(*t)
	return &day
}

func uniqueDays(days []time.Time) []time.Time {
	seen := make(map[time.Time]struct{}, len(days))
	result := make([]time.Time, 0, len(days))
	for _, d := range days {
		day := normalizeDay(d)
		if _, ok := seen[day]; ok {
			continue
		}
		seen[day] = struct{}{}
		result = append(result, day)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Before(result[j]) })
	return result
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		result = append(result, trimmed)
	}
	return result
}
