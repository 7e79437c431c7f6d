package assign

import (
	"errors"
	"log/slog"
	"maps"
	"math/rand/v2"
	"sync"
	"time"

	aberrors "github.com/randalmurphal/abtrack/pkg/abtrack/errors"
	"github.com/randalmurphal/abtrack/pkg/abtrack/observability"
	"github.com/randalmurphal/abtrack/pkg/abtrack/store"
)

// Source supplies uniform draws in [0, 1).
// *rand.Rand satisfies it.
type Source interface {
	Float64() float64
}

// Option configures an Assigner.
type Option func(*Assigner)

// WithSource sets the random source used by Select.
func WithSource(src Source) Option {
	return func(a *Assigner) {
		if src != nil {
			a.rng = src
		}
	}
}

// WithSeed makes assignment reproducible by seeding a PCG source.
func WithSeed(seed uint64) Option {
	return func(a *Assigner) {
		a.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
}

// WithLogger sets the logger. Nil disables logging.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Assigner) {
		a.logger = logger
	}
}

// Assigner assigns variants and keeps the assignment map in sync with the store.
// It is safe for concurrent use.
type Assigner struct {
	store  store.Store
	logger *slog.Logger

	mu          sync.Mutex
	rng         Source
	assignments map[string]string
}

// NewAssigner loads existing assignments from s, dropping entries with an
// empty variant.
//
// A missing key starts empty. An unreadable or corrupt key also starts empty;
// the returned error is then a persistence failure and the Assigner is still usable.
func NewAssigner(s store.Store, opts ...Option) (*Assigner, error) {
	now := uint64(time.Now().UnixNano())
	a := &Assigner{
		store:       s,
		rng:         rand.New(rand.NewPCG(now, now>>1)),
		assignments: make(map[string]string),
	}
	for _, opt := range opts {
		opt(a)
	}

	loaded := make(map[string]string)
	ok, err := store.LoadJSON(s, store.KeyAssignments, &loaded)
	if err != nil {
		observability.LogPersistError(a.logger, store.KeyAssignments, "load", err)
		return a, aberrors.Persistence(err, "load", store.KeyAssignments)
	}
	if ok && loaded != nil {
		// An empty variant is not an assignment; the next AssignAll redraws it.
		maps.DeleteFunc(loaded, func(_, v string) bool { return v == "" })
		a.assignments = loaded
	}
	return a, nil
}

// Select draws a variant for exp without recording it.
//
// The draw is uniform in [0, 100). Variants are walked in order, accumulating
// allocation, and the first whose cumulative weight reaches the draw wins.
// When the draw lands beyond the total, the first variant is returned.
// Select returns "" for an experiment with no variants.
func (a *Assigner) Select(exp Experiment) string {
	a.mu.Lock()
	draw := a.rng.Float64() * 100
	a.mu.Unlock()
	return pick(exp, draw)
}

func pick(exp Experiment, draw float64) string {
	if len(exp.Variants) == 0 {
		return ""
	}
	var cumulative float64
	for _, v := range exp.Variants {
		cumulative += v.Allocation
		if draw <= cumulative {
			return v.Name
		}
	}
	return exp.Variants[0].Name
}

// AssignAll assigns every experiment not yet in the map and persists the map once.
//
// Already-assigned experiments are left untouched. Invalid experiments are
// skipped and reported in the joined error; a persistence failure is reported
// as a KindPersistence error while the in-memory map keeps the new assignments.
func (a *Assigner) AssignAll(experiments []Experiment) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var errs []error
	added := false
	for _, exp := range experiments {
		if err := exp.Validate(); err != nil {
			observability.LogInvalidExperiment(a.logger, exp.ID, err)
			errs = append(errs, err)
			continue
		}
		if v, ok := a.assignments[exp.ID]; ok && v != "" {
			continue
		}
		variant := pick(exp, a.rng.Float64()*100)
		a.assignments[exp.ID] = variant
		added = true
		observability.LogAssigned(a.logger, exp.ID, variant)
	}

	if added {
		if err := store.SaveJSON(a.store, store.KeyAssignments, a.assignments); err != nil {
			observability.LogPersistError(a.logger, store.KeyAssignments, "persist", err)
			errs = append(errs, aberrors.Persistence(err, "persist", store.KeyAssignments))
		}
	}
	return errors.Join(errs...)
}

// Get returns the assigned variant for experimentID.
func (a *Assigner) Get(experimentID string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	v, ok := a.assignments[experimentID]
	if !ok || v == "" {
		return "", aberrors.AssignmentMissing(experimentID)
	}
	return v, nil
}

// Assignments returns a copy of the assignment map.
func (a *Assigner) Assignments() map[string]string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return maps.Clone(a.assignments)
}
