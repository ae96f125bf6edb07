// Package exports renders run reports asynchronously and stores them in a
// blob store under runs/<run id>/<export id>.<format>.
package exports

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"offsetcore/internal/blob"
	"offsetcore/internal/core"
	"offsetcore/pkg/domain"
)

// Status describes the lifecycle stage of an export.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

var (
	// ErrQueueFull is returned by Enqueue when the backlog is at capacity.
	ErrQueueFull = errors.New("export queue full")
	// ErrStopped is returned by Enqueue after Stop.
	ErrStopped = errors.New("export worker stopped")
)

// Artifact is one stored rendering.
type Artifact struct {
	Key         string    `json:"key"`
	Format      Format    `json:"format"`
	ContentType string    `json:"contentType"`
	SizeBytes   int64     `json:"sizeBytes"`
	URL         string    `json:"url,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Record tracks an export request.
type Record struct {
	ID          string     `json:"id"`
	RunID       string     `json:"runId"`
	Formats     []Format   `json:"formats"`
	Status      Status     `json:"status"`
	Error       string     `json:"error,omitempty"`
	Artifacts   []Artifact `json:"artifacts,omitempty"`
	RequestedBy string     `json:"requestedBy,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

func (r *Record) copy() Record {
	out := *r
	out.Formats = append([]Format(nil), r.Formats...)
	out.Artifacts = append([]Artifact(nil), r.Artifacts...)
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		out.CompletedAt = &t
	}
	return out
}

// Input is an enqueue request. Formats default to JSON and CSV.
type Input struct {
	RunID       string
	Formats     []Format
	RequestedBy string
}

// RunSource looks runs up by ID. core.Service satisfies it.
type RunSource interface {
	Run(runID string) (core.RunState, bool)
}

// Observer is told about every finished export. metrics.Recorder
// satisfies it.
type Observer interface {
	ExportFinished(err error)
}

// Option configures a Worker.
type Option func(*Worker)

// WithWorkers sets the number of concurrent renderers.
func WithWorkers(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.workers = n
		}
	}
}

// WithQueueSize sets the backlog capacity.
func WithQueueSize(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.queueSize = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l core.Logger) Option {
	return func(w *Worker) {
		if l != nil {
			w.log = l
		}
	}
}

// WithObserver sets the completion observer.
func WithObserver(o Observer) Option {
	return func(w *Worker) { w.obs = o }
}

// WithClock overrides the time source.
func WithClock(c core.Clock) Option {
	return func(w *Worker) {
		if c != nil {
			w.clock = c
		}
	}
}

// Worker executes exports in the background.
type Worker struct {
	source    RunSource
	store     blob.Store
	log       core.Logger
	obs       Observer
	clock     core.Clock
	workers   int
	queueSize int

	queue chan string

	mu      sync.RWMutex
	jobs    map[string]*Record
	stopped bool

	cancel context.CancelFunc
	group  *errgroup.Group
}

// NewWorker builds a worker; call Start before enqueueing.
func NewWorker(source RunSource, store blob.Store, opts ...Option) *Worker {
	w := &Worker{
		source:    source,
		store:     store,
		log:       nopLogger{},
		clock:     core.ClockFunc(nil),
		workers:   1,
		queueSize: 16,
		jobs:      make(map[string]*Record),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.queue = make(chan string, w.queueSize)
	return w
}

// Start launches the renderers. They exit when ctx is cancelled or Stop
// is called.
func (w *Worker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < w.workers; i++ {
		g.Go(func() error {
			w.loop(gctx)
			return nil
		})
	}
	w.group = g
}

// Stop halts the renderers and waits for them, or for ctx. Queued exports
// that never started stay queued.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	w.stopped = true
	w.mu.Unlock()
	if w.cancel == nil {
		return nil
	}
	w.cancel()
	done := make(chan struct{})
	go func() {
		_ = w.group.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-w.queue:
			w.process(ctx, id)
		}
	}
}

// Enqueue validates in and schedules it.
func (w *Worker) Enqueue(_ context.Context, in Input) (Record, error) {
	if _, ok := w.source.Run(in.RunID); !ok {
		return Record{}, fmt.Errorf("%w: %s", domain.ErrRunNotFound, in.RunID)
	}
	formats, err := normaliseFormats(in.Formats)
	if err != nil {
		return Record{}, err
	}
	now := w.clock.Now()
	rec := &Record{
		ID:          uuid.NewString(),
		RunID:       in.RunID,
		Formats:     formats,
		Status:      StatusQueued,
		RequestedBy: in.RequestedBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return Record{}, ErrStopped
	}
	select {
	case w.queue <- rec.ID:
	default:
		return Record{}, ErrQueueFull
	}
	w.jobs[rec.ID] = rec
	w.log.Info("export queued", "export", rec.ID, "run", rec.RunID)
	return rec.copy(), nil
}

// Get returns a snapshot of an export.
func (w *Worker) Get(id string) (Record, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	rec, ok := w.jobs[id]
	if !ok {
		return Record{}, false
	}
	return rec.copy(), true
}

// List returns every export for runID ("" for all), oldest first.
func (w *Worker) List(runID string) []Record {
	w.mu.RLock()
	out := make([]Record, 0, len(w.jobs))
	for _, rec := range w.jobs {
		if runID == "" || rec.RunID == runID {
			out = append(out, rec.copy())
		}
	}
	w.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (w *Worker) process(ctx context.Context, id string) {
	rec, ok := w.Get(id)
	if !ok {
		return
	}
	w.update(id, func(r *Record) { r.Status = StatusRunning })

	artifacts, err := w.render(ctx, rec)
	now := w.clock.Now()
	w.update(id, func(r *Record) {
		r.CompletedAt = &now
		if err != nil {
			r.Status = StatusFailed
			r.Error = err.Error()
			return
		}
		r.Status = StatusSucceeded
		r.Artifacts = artifacts
	})
	if w.obs != nil {
		w.obs.ExportFinished(err)
	}
	if err != nil {
		w.log.Error("export failed", "export", id, "run", rec.RunID, "error", err)
		return
	}
	w.log.Info("export stored", "export", id, "run", rec.RunID, "artifacts", len(artifacts))
}

func (w *Worker) render(ctx context.Context, rec Record) ([]Artifact, error) {
	run, ok := w.source.Run(rec.RunID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrRunNotFound, rec.RunID)
	}
	report := BuildReport(run, w.clock.Now())
	out := make([]Artifact, 0, len(rec.Formats))
	for _, f := range rec.Formats {
		payload, err := Render(report, f)
		if err != nil {
			return nil, err
		}
		key := fmt.Sprintf("runs/%s/%s.%s", rec.RunID, rec.ID, f)
		info, err := w.store.Put(ctx, key, bytes.NewReader(payload), blob.PutOptions{
			ContentType: f.ContentType(),
			Metadata:    map[string]string{"run": rec.RunID, "export": rec.ID},
		})
		if err != nil {
			return nil, fmt.Errorf("store %s: %w", key, err)
		}
		out = append(out, Artifact{
			Key:         info.Key,
			Format:      f,
			ContentType: f.ContentType(),
			SizeBytes:   int64(len(payload)),
			URL:         info.URL,
			CreatedAt:   info.LastModified,
		})
	}
	return out, nil
}

func (w *Worker) update(id string, fn func(*Record)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if rec, ok := w.jobs[id]; ok {
		fn(rec)
		rec.UpdatedAt = w.clock.Now()
	}
}

func normaliseFormats(in []Format) ([]Format, error) {
	if len(in) == 0 {
		return []Format{FormatJSON, FormatCSV}, nil
	}
	seen := make(map[Format]struct{}, len(in))
	out := make([]Format, 0, len(in))
	for _, f := range in {
		if !f.Valid() {
			return nil, fmt.Errorf("unsupported export format %q", f)
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out, nil
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
