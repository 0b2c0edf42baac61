package scheduler

import (
	"errors"
	"testing"
	"time"
)

func day(d int) *time.Time {
	t := time.Date(2024, time.March, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func TestClassify(t *testing.T) {
	t.Run("both dates absent is rejected", func(t *testing.T) {
		if _, err := Classify(nil, nil); !errors.Is(err, ErrNoDates) {
			t.Fatalf("expected ErrNoDates, got %v", err)
		}
	})

	t.Run("same day is rejected regardless of clock", func(t *testing.T) {
		later := day(4).Add(15 * time.Hour)
		if _, err := Classify(day(4), &later); !errors.Is(err, ErrSameDate) {
			t.Fatalf("expected ErrSameDate, got %v", err)
		}
	})

	tests := []struct {
		name     string
		original *time.Time
		proposed *time.Time
		want     Shape
	}{
		{name: "move", original: day(4), proposed: day(6), want: ShapeMove},
		{name: "add", proposed: day(6), want: ShapeAdd},
		{name: "delete", original: day(4), want: ShapeDelete},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Classify(tt.original, tt.proposed)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestPlan(t *testing.T) {
	t.Run("move removes original and adds new", func(t *testing.T) {
		effects, err := Plan(day(4), day(6))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if effects.Remove == nil || !effects.Remove.Equal(*day(4)) {
			t.Fatalf("expected removal of original day, got %v", effects.Remove)
		}
		if effects.Add == nil || !effects.Add.Equal(*day(6)) {
			t.Fatalf("expected addition of new day, got %v", effects.Add)
		}
	})

	t.Run("add never removes", func(t *testing.T) {
		effects, err := Plan(nil, day(6))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if effects.Remove != nil {
			t.Fatalf("expected no removal, got %v", effects.Remove)
		}
		if effects.Add == nil {
			t.Fatalf("expected an addition")
		}
	})

	t.Run("delete never adds", func(t *testing.T) {
		effects, err := Plan(day(4), nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if effects.Add != nil {
			t.Fatalf("expected no addition, got %v", effects.Add)
		}
		if effects.Remove == nil {
			t.Fatalf("expected a removal")
		}
	})

	t.Run("plan copies dates", func(t *testing.T) {
		original := day(4)
		effects, _ := Plan(original, nil)
		*original = original.AddDate(0, 0, 1)
		if !effects.Remove.Equal(*day(4)) {
			t.Fatalf("expected plan to be unaffected by caller mutation")
		}
	})
}
