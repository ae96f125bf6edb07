package core

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"offsetcore/pkg/domain"
)

// MemoryStore owns the snapshots of every open run, keyed by run ID.
// Writers are serialised; each transaction works on its own snapshot and
// replaces the stored one only when no rule blocks it.
type MemoryStore struct {
	mu     sync.RWMutex
	runs   map[string]RunState
	engine *domain.RulesEngine
	nowFn  func() time.Time
}

// NewMemoryStore constructs an in-memory store backed by the provided rules engine.
func NewMemoryStore(engine *domain.RulesEngine) *MemoryStore {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &MemoryStore{
		runs:   make(map[string]RunState),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

// RulesEngine exposes the engine evaluated on commit.
func (s *MemoryStore) RulesEngine() *domain.RulesEngine { return s.engine }

// NowFunc returns the store's clock.
func (s *MemoryStore) NowFunc() func() time.Time { return s.nowFn }

// SetNowFunc replaces the store's clock. A nil fn is ignored.
func (s *MemoryStore) SetNowFunc(fn func() time.Time) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.nowFn = fn
	s.mu.Unlock()
}

// Transaction represents a mutation set applied to one run snapshot.
type Transaction struct {
	ctx         context.Context
	state       RunState
	changes     []Change
	diagnostics Result
	now         time.Time
}

// Context returns the context the transaction was started with.
func (tx *Transaction) Context() context.Context { return tx.ctx }

// State returns the transaction's working snapshot.
func (tx *Transaction) State() RunState { return tx.state }

// Now is the timestamp shared by every change in the transaction.
func (tx *Transaction) Now() time.Time { return tx.now }

// Report merges diagnostics raised by engine operations into the
// transaction result.
func (tx *Transaction) Report(res Result) { tx.diagnostics.Merge(res) }

// Labware returns the run's labware for uri.
func (tx *Transaction) Labware(uri string) (LabwareGeometryDetails, error) {
	lw, ok := tx.state.Labware[uri]
	if !ok {
		return LabwareGeometryDetails{}, fmt.Errorf("%s: %w", uri, domain.ErrUnknownLabware)
	}
	return lw, nil
}

// PutLabware replaces the labware record for lw.DefinitionURI.
func (tx *Transaction) PutLabware(lw LabwareGeometryDetails) error {
	before, ok := tx.state.Labware[lw.DefinitionURI]
	if !ok {
		return fmt.Errorf("%s: %w", lw.DefinitionURI, domain.ErrUnknownLabware)
	}
	tx.state = tx.state.withLabware(lw)
	tx.recordChange(Change{Target: domain.TargetLabware, Action: domain.ActionUpdate, URI: lw.DefinitionURI, Before: before, After: lw})
	return nil
}

// SetSubstep replaces the substep state and selection.
func (tx *Transaction) SetSubstep(next SubstepState) {
	before := tx.state.Substep
	tx.state.Substep = next
	if before.Current != next.Current {
		tx.recordChange(Change{Target: domain.TargetSubstep, Action: domain.ActionUpdate, Before: before.Current, After: next.Current})
	}
	if !sameSelection(before.Selected, next.Selected) {
		tx.recordChange(Change{Target: domain.TargetSelection, Action: domain.ActionUpdate, URI: selectedURI(next.Selected), Before: before.Selected, After: next.Selected})
	}
}

// SetSteps replaces the top-level step state.
func (tx *Transaction) SetSteps(next StepState) {
	before := tx.state.Steps
	tx.state.Steps = next
	if before.Current != next.Current {
		tx.recordChange(Change{Target: domain.TargetStep, Action: domain.ActionUpdate, Before: before.Step(), After: next.Step()})
	}
}

func (tx *Transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// RunInTransaction executes fn within a transactional copy of the run. The
// rules engine is evaluated against the resulting snapshot; a blocking
// violation discards it. Diagnostics reported by fn are returned alongside
// rule results, including when fn fails.
func (s *MemoryStore) RunInTransaction(ctx context.Context, runID string, fn func(tx *Transaction) error) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.runs[runID]
	if !ok {
		return Result{}, fmt.Errorf("%s: %w", runID, domain.ErrRunNotFound)
	}
	tx := &Transaction{
		ctx:   ctx,
		state: current.clone(),
		now:   s.nowFn(),
	}
	result, err := s.evaluate(ctx, tx, fn)
	if err != nil {
		return result, err
	}
	tx.state.Revision = current.Revision + 1
	s.runs[runID] = tx.state
	return result, nil
}

// Preview runs fn and the rules exactly like RunInTransaction but never
// stores the outcome. The store lock is released before fn runs, so fn may
// block. The returned snapshot carries the revision it was computed from.
func (s *MemoryStore) Preview(ctx context.Context, runID string, fn func(tx *Transaction) error) (RunState, Result, error) {
	if err := ctx.Err(); err != nil {
		return RunState{}, Result{}, err
	}
	s.mu.RLock()
	current, ok := s.runs[runID]
	now := s.nowFn()
	s.mu.RUnlock()
	if !ok {
		return RunState{}, Result{}, fmt.Errorf("%s: %w", runID, domain.ErrRunNotFound)
	}
	tx := &Transaction{ctx: ctx, state: current.clone(), now: now}
	result, err := s.evaluate(ctx, tx, fn)
	if err != nil {
		return RunState{}, result, err
	}
	return tx.state, result, nil
}

func (s *MemoryStore) evaluate(ctx context.Context, tx *Transaction, fn func(tx *Transaction) error) (Result, error) {
	if err := fn(tx); err != nil {
		return tx.diagnostics, err
	}
	result := tx.diagnostics
	if len(tx.changes) > 0 {
		tx.state.UpdatedAt = tx.now
	}
	if s.engine == nil {
		return result, nil
	}
	res, err := s.engine.Evaluate(ctx, newRunView(&tx.state), tx.changes)
	if err != nil {
		return result, err
	}
	result.Merge(res)
	if res.HasBlocking() {
		return result, RuleViolationError{Result: res}
	}
	return result, nil
}

// Create registers a new run snapshot after evaluating the rules against it.
func (s *MemoryStore) Create(ctx context.Context, state RunState) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[state.RunID]; exists {
		return Result{}, fmt.Errorf("%s: %w", state.RunID, domain.ErrRunExists)
	}
	changes := []Change{{Target: domain.TargetRun, Action: domain.ActionCreate, After: state.RunID}}
	for _, uri := range state.URIs() {
		changes = append(changes, Change{Target: domain.TargetLabware, Action: domain.ActionCreate, URI: uri, After: state.Labware[uri]})
	}
	var result Result
	if s.engine != nil {
		res, err := s.engine.Evaluate(ctx, newRunView(&state), changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, RuleViolationError{Result: res}
		}
	}
	s.runs[state.RunID] = state.clone()
	return result, nil
}

// Delete discards a run and returns its final snapshot.
func (s *MemoryStore) Delete(_ context.Context, runID string) (RunState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.runs[runID]
	if !ok {
		return RunState{}, fmt.Errorf("%s: %w", runID, domain.ErrRunNotFound)
	}
	delete(s.runs, runID)
	return state, nil
}

// View executes fn against a read-only copy of the run.
func (s *MemoryStore) View(_ context.Context, runID string, fn func(RunState) error) error {
	s.mu.RLock()
	state, ok := s.runs[runID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%s: %w", runID, domain.ErrRunNotFound)
	}
	return fn(state.clone())
}

// Get returns a copy of the run snapshot.
func (s *MemoryStore) Get(runID string) (RunState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.runs[runID]
	if !ok {
		return RunState{}, false
	}
	return state.clone(), true
}

// List returns copies of every open run ordered by creation time.
func (s *MemoryStore) List() []RunState {
	s.mu.RLock()
	out := make([]RunState, 0, len(s.runs))
	for _, state := range s.runs {
		out = append(out, state.clone())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].RunID < out[j].RunID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Len reports how many runs are open.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.runs)
}

func sameSelection(a, b *SelectedLabwareInfo) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.URI == b.URI && a.ID == b.ID && domain.SameLocation(a.Location, b.Location)
}
