// Package assign resolves and memoizes one variant per experiment.
//
// Assignments are drawn once from weighted allocations and persisted under
// store.KeyAssignments. An experiment that already has an assignment is
// never re-rolled, so a session sees the same variant for its lifetime.
package assign

import (
	"errors"
	"fmt"
)

// Variant is one arm of an experiment.
// Allocation is a percentage-point weight; variants of one experiment
// need not sum to 100.
type Variant struct {
	Name       string  `json:"name" yaml:"name"`
	Allocation float64 `json:"allocation" yaml:"allocation"`
}

// Experiment is a named, ordered set of variants. Order defines both the
// cumulative walk in Select and the fallback choice.
type Experiment struct {
	ID       string    `json:"id" yaml:"id"`
	Variants []Variant `json:"variants" yaml:"variants"`
}

// Validation errors.
var (
	ErrEmptyID        = errors.New("experiment id is empty")
	ErrNoVariants     = errors.New("experiment has no variants")
	ErrEmptyVariant   = errors.New("variant name is empty")
	ErrNegativeWeight = errors.New("variant allocation is negative")
)

// Validate checks that the experiment can be assigned.
func (e Experiment) Validate() error {
	if e.ID == "" {
		return ErrEmptyID
	}
	if len(e.Variants) == 0 {
		return fmt.Errorf("%s: %w", e.ID, ErrNoVariants)
	}
	for i, v := range e.Variants {
		if v.Name == "" {
			return fmt.Errorf("%s: variant %d: %w", e.ID, i, ErrEmptyVariant)
		}
		if v.Allocation < 0 {
			return fmt.Errorf("%s: variant %q: %w", e.ID, v.Name, ErrNegativeWeight)
		}
	}
	return nil
}
