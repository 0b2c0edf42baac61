package recurrence

import (
	"testing"
	"time"
)

func BenchmarkEngineGenerateDays(b *testing.B) {
	engine := NewEngine(nil)
	start := time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC)

	until := start.AddDate(0, 3, 0)
	rule := Rule{
		Frequency: FrequencyWeekly,
		Weekdays: []time.Weekday{
			time.Monday,
			time.Tuesday,
			time.Wednesday,
			time.Thursday,
			time.Friday,
		},
		StartsOn: start,
		EndsOn:   &until,
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		days, err := engine.GenerateDays(rule, GenerateOptions{})
		if err != nil {
			b.Fatalf("unexpected error: %v", err)
		}
		if len(days) == 0 {
			b.Fatal("expected days to be generated")
		}
	}
}
