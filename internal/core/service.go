package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"offsetcore/pkg/domain"
)

// Service drives calibration runs: it applies the offset engine's pure
// operations to stored run snapshots inside transactions and persists
// applied offsets through the configured repository.
type Service struct {
	store   *MemoryStore
	repo    domain.OffsetRepository
	logger  Logger
	metrics MetricsRecorder
	tracer  Tracer
	audit   AuditRecorder
	clock   Clock

	// applying holds the IDs of runs with an apply in flight.
	applying sync.Map
}

type serviceOptions struct {
	logger  Logger
	metrics MetricsRecorder
	tracer  Tracer
	audit   AuditRecorder
	clock   Clock
	repo    domain.OffsetRepository
}

// Option configures a Service.
type Option func(*serviceOptions)

// WithLogger sets the service logger.
func WithLogger(l Logger) Option {
	return func(o *serviceOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetricsRecorder sets the recorder observing each operation.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(o *serviceOptions) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithTracer sets the tracer wrapping each operation in a span.
func WithTracer(t Tracer) Option {
	return func(o *serviceOptions) {
		if t != nil {
			o.tracer = t
		}
	}
}

// WithAuditRecorder sets the audit sink.
func WithAuditRecorder(a AuditRecorder) Option {
	return func(o *serviceOptions) {
		if a != nil {
			o.audit = a
		}
	}
}

// WithClock overrides the clock used for timestamps.
func WithClock(c Clock) Option {
	return func(o *serviceOptions) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithOffsetRepository sets where applied offsets are persisted and from
// where new runs are seeded. Without one, runs start empty and applied
// offsets live only in memory.
func WithOffsetRepository(r domain.OffsetRepository) Option {
	return func(o *serviceOptions) {
		o.repo = r
	}
}

func defaultServiceOptions() serviceOptions {
	return serviceOptions{
		logger:  noopLogger{},
		metrics: noopMetricsRecorder{},
		tracer:  noopTracer{},
		audit:   noopAuditRecorder{},
	}
}

// NewService constructs a service backed by the supplied store.
func NewService(store *MemoryStore, opts ...Option) *Service {
	if store == nil {
		panic("core: NewService requires a store")
	}
	cfg := defaultServiceOptions()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.clock == nil {
		cfg.clock = ClockFunc(store.NowFunc())
	} else {
		store.SetNowFunc(cfg.clock.Now)
	}
	return &Service{
		store:   store,
		repo:    cfg.repo,
		logger:  cfg.logger,
		metrics: cfg.metrics,
		tracer:  cfg.tracer,
		audit:   cfg.audit,
		clock:   cfg.clock,
	}
}

// NewInMemoryService creates a service and in-memory store with the given
// rules engine. A nil engine selects the built-in rules.
func NewInMemoryService(engine *domain.RulesEngine, opts ...Option) *Service {
	if engine == nil {
		engine = NewDefaultRulesEngine()
	}
	return NewService(NewMemoryStore(engine), opts...)
}

// Store returns the underlying run store.
func (s *Service) Store() *MemoryStore {
	return s.store
}

// operation describes what a service call touches, for audit entries.
type operation struct {
	name   string
	target domain.Target
	action domain.Action
	uri    string
}

// run wraps fn in a transaction on runID with tracing, metrics, logging and
// auditing, and returns the committed snapshot.
func (s *Service) run(ctx context.Context, op operation, runID string, fn func(tx *Transaction) error) (RunState, Result, error) {
	ctx, span := s.tracer.Start(ctx, op.name)
	start := time.Now()
	var txn *Transaction
	res, err := s.store.RunInTransaction(ctx, runID, func(tx *Transaction) error {
		txn = tx
		return fn(tx)
	})
	var committed RunState
	if err == nil {
		committed = txn.state.clone()
	}
	s.finish(ctx, op, runID, time.Since(start), res, err)
	span.End(err)
	return committed, res, err
}

func (s *Service) finish(ctx context.Context, op operation, runID string, elapsed time.Duration, res Result, err error) {
	for _, v := range res.Warnings() {
		s.logger.Warn("offset diagnostic", "operation", op.name, "run", runID, "rule", v.Rule, "code", string(v.Code), "uri", v.URI, "location", v.Location, "message", v.Message)
	}
	entry := AuditEntry{
		Operation: op.name,
		RunID:     runID,
		Target:    op.target,
		Action:    op.action,
		URI:       op.uri,
		Status:    AuditStatusSuccess,
		Duration:  elapsed,
		Timestamp: s.clock.Now(),
	}
	if err != nil {
		s.logger.Error("operation rejected", "operation", op.name, "run", runID, "error", err)
		entry.Status = AuditStatusError
		entry.Error = err.Error()
	} else {
		s.logger.Debug("operation committed", "operation", op.name, "run", runID, "duration", elapsed)
	}
	s.metrics.Observe(ctx, op.name, err == nil, elapsed)
	s.audit.Record(ctx, entry)
}

func (s *Service) reportActiveRuns() {
	if rec, ok := s.metrics.(ActiveRunsRecorder); ok {
		rec.SetActiveRuns(s.store.Len())
	}
}

// StartRun opens a calibration run over labware. When a repository is
// configured each labware entry is seeded with the offsets persisted for its
// URI. An empty runID is replaced with a generated one.
func (s *Service) StartRun(ctx context.Context, runID string, labware []LabwareGeometryDetails) (RunState, Result, error) {
	ctx, span := s.tracer.Start(ctx, "start_run")
	start := time.Now()
	if runID == "" {
		runID = uuid.NewString()
	}
	op := operation{name: "start_run", target: domain.TargetRun, action: domain.ActionCreate}

	state, res, err := s.startRun(ctx, runID, labware)
	s.finish(ctx, op, runID, time.Since(start), res, err)
	span.End(err)
	if err == nil {
		s.logger.Info("run started", "run", runID, "labware", len(state.Labware))
		s.reportActiveRuns()
	}
	return state, res, err
}

func (s *Service) startRun(ctx context.Context, runID string, labware []LabwareGeometryDetails) (RunState, Result, error) {
	seeded := make([]LabwareGeometryDetails, 0, len(labware))
	for _, lw := range labware {
		if s.repo != nil {
			persisted, err := s.repo.ListOffsets(ctx, lw.DefinitionURI)
			if err != nil {
				return RunState{}, Result{}, fmt.Errorf("load offsets for %s: %w", lw.DefinitionURI, err)
			}
			if lw, err = SeedExisting(lw, persisted); err != nil {
				return RunState{}, Result{}, err
			}
		}
		seeded = append(seeded, lw)
	}
	state, err := NewRunState(runID, seeded, s.clock.Now())
	if err != nil {
		return RunState{}, Result{}, err
	}
	res, err := s.store.Create(ctx, state)
	if err != nil {
		return RunState{}, res, err
	}
	return state.clone(), res, nil
}

// FinishRun discards a run and returns its final snapshot. Unapplied working
// offsets are dropped; a warning is logged when there were any.
func (s *Service) FinishRun(ctx context.Context, runID string) (RunState, error) {
	ctx, span := s.tracer.Start(ctx, "finish_run")
	start := time.Now()
	state, err := s.store.Delete(ctx, runID)
	if err == nil && HasUnsavedChanges(state) {
		s.logger.Warn("run finished with unsaved offsets", "run", runID)
	}
	s.finish(ctx, operation{name: "finish_run", target: domain.TargetRun, action: domain.ActionDelete}, runID, time.Since(start), Result{}, err)
	span.End(err)
	if err == nil {
		s.reportActiveRuns()
	}
	return state, err
}

// Run returns the current snapshot of runID.
func (s *Service) Run(runID string) (RunState, bool) {
	return s.store.Get(runID)
}

// Runs returns every open run.
func (s *Service) Runs() []RunState {
	return s.store.List()
}

// SelectLabware selects the labware to calibrate, clearing any location.
func (s *Service) SelectLabware(ctx context.Context, runID, uri, id string) (RunState, Result, error) {
	op := operation{name: "select_labware", target: domain.TargetSelection, action: domain.ActionUpdate, uri: uri}
	return s.run(ctx, op, runID, func(tx *Transaction) error {
		if _, err := tx.Labware(uri); err != nil {
			return err
		}
		tx.SetSubstep(SelectLabware(tx.state.Substep, uri, id))
		return nil
	})
}

// SelectLocation chooses the offset location on the current selection.
func (s *Service) SelectLocation(ctx context.Context, runID string, loc OffsetLocation) (RunState, Result, error) {
	op := operation{name: "select_location", target: domain.TargetSelection, action: domain.ActionUpdate, uri: uriOf(loc)}
	return s.run(ctx, op, runID, func(tx *Transaction) error {
		next, err := SelectLocation(tx.state.Substep, loc)
		if err != nil {
			return err
		}
		tx.SetSubstep(next)
		return nil
	})
}

// ClearSelection drops the selected labware.
func (s *Service) ClearSelection(ctx context.Context, runID string) (RunState, Result, error) {
	op := operation{name: "clear_selection", target: domain.TargetSelection, action: domain.ActionDelete}
	return s.run(ctx, op, runID, func(tx *Transaction) error {
		tx.SetSubstep(ClearSelection(tx.state.Substep))
		return nil
	})
}

// ProceedSubstep advances the offset-editing workflow.
func (s *Service) ProceedSubstep(ctx context.Context, runID string) (RunState, Result, error) {
	op := operation{name: "proceed_substep", target: domain.TargetSubstep, action: domain.ActionUpdate}
	return s.run(ctx, op, runID, func(tx *Transaction) error {
		next, res, err := ProceedSubstep(tx.state.Substep)
		tx.Report(res)
		if err != nil {
			return err
		}
		tx.SetSubstep(next)
		return nil
	})
}

// GoBackSubstep moves the offset-editing workflow back one state.
func (s *Service) GoBackSubstep(ctx context.Context, runID string) (RunState, Result, error) {
	op := operation{name: "go_back_substep", target: domain.TargetSubstep, action: domain.ActionUpdate}
	return s.run(ctx, op, runID, func(tx *Transaction) error {
		next, err := GoBackSubstep(tx.state.Substep)
		if err != nil {
			return err
		}
		tx.SetSubstep(next)
		return nil
	})
}

// RecordInitialPosition starts a jog session at loc from pos.
func (s *Service) RecordInitialPosition(ctx context.Context, runID string, loc OffsetLocation, pos Vector3) (RunState, Result, error) {
	op := operation{name: "record_initial_position", target: domain.TargetLabware, action: domain.ActionUpdate, uri: uriOf(loc)}
	return s.run(ctx, op, runID, func(tx *Transaction) error {
		return s.updateLabware(tx, "record_initial_position", loc, func(lw LabwareGeometryDetails) (LabwareGeometryDetails, Result, error) {
			return RecordInitialPosition(lw, loc, pos)
		})
	})
}

// RecordFinalPosition completes the jog session at loc. The confirmed vector
// composes against the baseline pinned when the session started.
func (s *Service) RecordFinalPosition(ctx context.Context, runID string, loc OffsetLocation, pos Vector3) (RunState, Result, error) {
	op := operation{name: "record_final_position", target: domain.TargetLabware, action: domain.ActionUpdate, uri: uriOf(loc)}
	return s.run(ctx, op, runID, func(tx *Transaction) error {
		return s.updateLabware(tx, "record_final_position", loc, func(lw LabwareGeometryDetails) (LabwareGeometryDetails, Result, error) {
			return RecordFinalPosition(lw, loc, pos, PinnedBaseline(lw, loc))
		})
	})
}

// ResetLocationToDefault queues the location-specific offset at loc for
// deletion so it cascades to the default again.
func (s *Service) ResetLocationToDefault(ctx context.Context, runID string, loc OffsetLocation) (RunState, Result, error) {
	op := operation{name: "reset_location_to_default", target: domain.TargetLabware, action: domain.ActionUpdate, uri: uriOf(loc)}
	return s.run(ctx, op, runID, func(tx *Transaction) error {
		return s.updateLabware(tx, "reset_location_to_default", loc, func(lw LabwareGeometryDetails) (LabwareGeometryDetails, Result, error) {
			return ResetLocationToDefault(lw, loc)
		})
	})
}

// updateLabware applies fn to the labware owning loc. Locations on labware
// the run does not know are stale references: reported, not failed.
func (s *Service) updateLabware(tx *Transaction, rule string, loc OffsetLocation, fn func(LabwareGeometryDetails) (LabwareGeometryDetails, Result, error)) error {
	if loc == nil {
		return domain.ErrMissingLocation
	}
	lw, err := tx.Labware(loc.URI())
	if err != nil {
		tx.Report(staleLocation(rule, loc.URI(), loc))
		return nil
	}
	next, res, err := fn(lw)
	tx.Report(res)
	if err != nil {
		return err
	}
	if res.Has(domain.CodeStaleLocation) {
		return nil
	}
	return tx.PutLabware(next)
}

// ClearWorkingOffsets drops every working offset in the run without saving.
func (s *Service) ClearWorkingOffsets(ctx context.Context, runID string) (RunState, Result, error) {
	op := operation{name: "clear_working_offsets", target: domain.TargetLabware, action: domain.ActionUpdate}
	return s.run(ctx, op, runID, func(tx *Transaction) error {
		for _, uri := range tx.state.URIs() {
			lw := tx.state.Labware[uri]
			if !hasWorking(lw) {
				continue
			}
			if err := tx.PutLabware(ClearWorkingOffsets(lw)); err != nil {
				return err
			}
		}
		return nil
	})
}

// ApplyWorkingOffsets saves every confirmed working offset in the run. The
// apply is planned against a snapshot first: every labware is validated and
// the rules are evaluated, and an incomplete calibration anywhere fails the
// whole apply before anything is persisted. The planned changes are then
// written through the repository without holding the run store, and
// finally committed if the run has not changed in the meantime.
func (s *Service) ApplyWorkingOffsets(ctx context.Context, runID string) (RunState, Result, error) {
	op := operation{name: "apply_working_offsets", target: domain.TargetLabware, action: domain.ActionUpdate}
	ctx, span := s.tracer.Start(ctx, op.name)
	start := time.Now()
	state, res, err := s.applyWorkingOffsets(ctx, runID)
	s.finish(ctx, op, runID, time.Since(start), res, err)
	span.End(err)
	return state, res, err
}

func (s *Service) applyWorkingOffsets(ctx context.Context, runID string) (RunState, Result, error) {
	if _, busy := s.applying.LoadOrStore(runID, struct{}{}); busy {
		return RunState{}, Result{}, fmt.Errorf("%s: %w", runID, domain.ErrApplyInProgress)
	}
	defer s.applying.Delete(runID)

	var changes domain.OffsetChangeSet
	planned, res, err := s.store.Preview(ctx, runID, func(tx *Transaction) error {
		var err error
		changes, err = stageApply(tx, nil)
		return err
	})
	if err != nil {
		return RunState{}, res, err
	}

	persisted, err := s.persist(ctx, changes)
	if err != nil {
		return RunState{}, res, err
	}

	var txn *Transaction
	res, err = s.store.RunInTransaction(context.WithoutCancel(ctx), runID, func(tx *Transaction) error {
		txn = tx
		if tx.state.Revision != planned.Revision {
			return fmt.Errorf("%s: %w", runID, domain.ErrRunChanged)
		}
		_, err := stageApply(tx, persisted)
		return err
	})
	if err != nil {
		if s.repo != nil && !changes.Empty() {
			s.logger.Error("offsets persisted but run not updated", "run", runID, "error", err)
		}
		return RunState{}, res, err
	}
	s.logger.Info("offsets applied", "run", runID, "upserts", len(changes.Upserts), "resets", len(changes.Resets))
	return txn.state.clone(), res, nil
}

// stageApply validates every labware of the transaction's run, promotes the
// confirmed working offsets and stamps the persisted records onto them. It
// returns the changes the repository has to receive.
func stageApply(tx *Transaction, persisted []domain.PersistedOffset) (domain.OffsetChangeSet, error) {
	var all domain.OffsetChangeSet
	for _, uri := range tx.state.URIs() {
		changes, err := PendingChanges(tx.state.Labware[uri])
		if err != nil {
			tx.Report(blocking("apply_working_offsets", domain.CodeIncompleteCalibration, uri, nil, err))
			return domain.OffsetChangeSet{}, err
		}
		all.Upserts = append(all.Upserts, changes.Upserts...)
		all.Deletes = append(all.Deletes, changes.Deletes...)
		all.Resets = append(all.Resets, changes.Resets...)
	}
	for _, uri := range tx.state.URIs() {
		lw := tx.state.Labware[uri]
		if !hasWorking(lw) {
			continue
		}
		applied, err := ApplyWorkingOffsets(lw, tx.Now())
		if err != nil {
			return domain.OffsetChangeSet{}, err
		}
		if err := tx.PutLabware(RecordPersisted(applied, persisted)); err != nil {
			return domain.OffsetChangeSet{}, err
		}
	}
	return all, nil
}

// persist writes changes through the repository. A reset removes every
// record stored for its location, including older ones the repository keeps
// as history, so a later run cannot reseed a superseded offset.
func (s *Service) persist(ctx context.Context, changes domain.OffsetChangeSet) ([]domain.PersistedOffset, error) {
	if s.repo == nil || changes.Empty() {
		return nil, nil
	}
	deletes := changes.Deletes
	listed := make(map[string]bool)
	for _, loc := range changes.Resets {
		uri := loc.URI()
		if listed[uri] {
			continue
		}
		listed[uri] = true
		stored, err := s.repo.ListOffsets(ctx, uri)
		if err != nil {
			return nil, fmt.Errorf("list offsets for %s: %w", uri, err)
		}
		deletes = SupersededIDs(deletes, changes.Resets, stored)
	}
	if len(deletes) > 0 {
		if err := s.repo.DeleteOffsets(ctx, deletes); err != nil {
			return nil, fmt.Errorf("delete offsets: %w", err)
		}
	}
	if len(changes.Upserts) == 0 {
		return nil, nil
	}
	persisted, err := s.repo.ApplyOffsets(ctx, changes.Upserts)
	if err != nil {
		return nil, fmt.Errorf("apply offsets: %w", err)
	}
	return persisted, nil
}

// ProceedStep advances the run to its next top-level step. Entering the
// labware step opens the offset list.
func (s *Service) ProceedStep(ctx context.Context, runID string) (RunState, Result, error) {
	op := operation{name: "proceed_step", target: domain.TargetStep, action: domain.ActionUpdate}
	return s.run(ctx, op, runID, func(tx *Transaction) error {
		next := ProceedStep(tx.state.Steps)
		tx.SetSteps(next)
		if next.handlesLabware() && tx.state.Substep.Current == domain.SubstepNone {
			sub, res, err := ProceedSubstep(tx.state.Substep)
			tx.Report(res)
			if err != nil {
				return err
			}
			tx.SetSubstep(sub)
		}
		return nil
	})
}

// GoBackStep returns the run to the previously visited step.
func (s *Service) GoBackStep(ctx context.Context, runID string) (RunState, Result, error) {
	op := operation{name: "go_back_step", target: domain.TargetStep, action: domain.ActionUpdate}
	return s.run(ctx, op, runID, func(tx *Transaction) error {
		tx.SetSteps(GoBackStep(tx.state.Steps))
		return nil
	})
}

// ProceedToStep jumps the run to target.
func (s *Service) ProceedToStep(ctx context.Context, runID string, target Step) (RunState, Result, error) {
	op := operation{name: "proceed_to_step", target: domain.TargetStep, action: domain.ActionUpdate}
	return s.run(ctx, op, runID, func(tx *Transaction) error {
		next, err := ProceedToStep(tx.state.Steps, target)
		if err != nil {
			return err
		}
		tx.SetSteps(next)
		return nil
	})
}

func hasWorking(lw LabwareGeometryDetails) bool {
	if lw.Default.Working != nil {
		return true
	}
	for _, entry := range lw.LocationSpecific {
		if entry.Working != nil {
			return true
		}
	}
	return false
}

func uriOf(loc OffsetLocation) string {
	if loc == nil {
		return ""
	}
	return loc.URI()
}
