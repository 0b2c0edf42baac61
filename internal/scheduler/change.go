package scheduler

import (
	"errors"
	"time"
)

// Shape classifies a change request by which of its dates are present.
type Shape string

const (
	// ShapeMove moves an office day from the original date to the new date.
	ShapeMove Shape = "move"
	// ShapeAdd adds an office day on the new date.
	ShapeAdd Shape = "add"
	// ShapeDelete removes the office day on the original date.
	ShapeDelete Shape = "delete"
)

var (
	// ErrNoDates indicates neither an original nor a new date was given.
	ErrNoDates = errors.New("scheduler: a change needs an original or a new date")
	// ErrSameDate indicates the original and new dates are the same day.
	ErrSameDate = errors.New("scheduler: original and new date are the same day")
)

// Classify returns the shape of a change between original and proposed dates.
func Classify(original, proposed *time.Time) (Shape, error) {
	switch {
	case original == nil && proposed == nil:
		return "", ErrNoDates
	case original == nil:
		return ShapeAdd, nil
	case proposed == nil:
		return ShapeDelete, nil
	case sameDay(*original, *proposed):
		return "", ErrSameDate
	default:
		return ShapeMove, nil
	}
}

// Effects lists the schedule mutations an approved change implies.
// Remove and Add are calendar days; nil means no mutation.
type Effects struct {
	Shape  Shape
	Remove *time.Time
	Add    *time.Time
}

// Plan derives the schedule mutations for approving a change.
// Move removes the original day and adds the new day; Add never removes; Delete never adds.
func Plan(original, proposed *time.Time) (Effects, error) {
	shape, err := Classify(original, proposed)
	if err != nil {
		return Effects{}, err
	}

	effects := Effects{Shape: shape}
	if shape == ShapeMove || shape == ShapeDelete {
		day := *original
		effects.Remove = &day
	}
	if shape == ShapeMove || shape == ShapeAdd {
		day := *proposed
		effects.Add = &day
	}
	return effects, nil
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
