// Package jog bounds concurrent relative moves sent to the robot. A jog
// that arrives while the limit is reached is dropped rather than queued, so
// a held-down key never builds a backlog of stale moves.
package jog

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"offsetcore/pkg/domain"
)

// DefaultMaxOutstanding is the number of jogs allowed in flight at once.
const DefaultMaxOutstanding = 3

var (
	// ErrDropped is returned when a jog arrives with the limit reached.
	ErrDropped = errors.New("jog dropped: too many outstanding")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("jog dispatcher closed")
	// ErrInvalidAxis rejects jogs along an unknown axis.
	ErrInvalidAxis = errors.New("invalid jog axis")
)

// Executor performs one relative move and reports where the pipette ended
// up. robot.Client satisfies it.
type Executor interface {
	Jog(ctx context.Context, j domain.Jog) (domain.Vector3, error)
}

// Observer receives dispatch events. metrics.Recorder satisfies it.
type Observer interface {
	JogStarted()
	JogFinished(err error)
	JogDropped()
}

type noopObserver struct{}

func (noopObserver) JogStarted()       {}
func (noopObserver) JogFinished(error) {}
func (noopObserver) JogDropped()       {}

// Callback receives the outcome of an asynchronous jog.
type Callback func(pos domain.Vector3, err error)

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithObserver sets the event observer.
func WithObserver(o Observer) Option {
	return func(d *Dispatcher) {
		if o != nil {
			d.obs = o
		}
	}
}

// WithMaxOutstanding overrides DefaultMaxOutstanding. Non-positive values
// are ignored.
func WithMaxOutstanding(n int64) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.max = n
		}
	}
}

// Dispatcher forwards jogs to an Executor with at most max outstanding.
type Dispatcher struct {
	exec Executor
	obs  Observer
	max  int64
	sem  *semaphore.Weighted

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher wraps exec.
func NewDispatcher(exec Executor, opts ...Option) *Dispatcher {
	if exec == nil {
		panic("jog: nil executor")
	}
	d := &Dispatcher{exec: exec, obs: noopObserver{}, max: DefaultMaxOutstanding}
	for _, opt := range opts {
		opt(d)
	}
	d.sem = semaphore.NewWeighted(d.max)
	return d
}

// MaxOutstanding reports the configured limit.
func (d *Dispatcher) MaxOutstanding() int64 { return d.max }

// Do runs j synchronously, returning ErrDropped without contacting the
// robot when the limit is reached.
func (d *Dispatcher) Do(ctx context.Context, j domain.Jog) (domain.Vector3, error) {
	if err := d.acquire(j); err != nil {
		return domain.Vector3{}, err
	}
	defer d.release()
	return d.execute(ctx, j)
}

// Submit runs j in the background and reports through cb. The error is
// non-nil only when the jog was not started.
func (d *Dispatcher) Submit(ctx context.Context, j domain.Jog, cb Callback) error {
	if err := d.acquire(j); err != nil {
		return err
	}
	go func() {
		defer d.release()
		pos, err := d.execute(ctx, j)
		if cb != nil {
			cb(pos, err)
		}
	}()
	return nil
}

// Close rejects new jogs and waits for in-flight ones.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) acquire(j domain.Jog) error {
	if !j.Axis.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidAxis, j.Axis)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if !d.sem.TryAcquire(1) {
		d.obs.JogDropped()
		return ErrDropped
	}
	d.wg.Add(1)
	d.obs.JogStarted()
	return nil
}

func (d *Dispatcher) release() {
	d.sem.Release(1)
	d.wg.Done()
}

func (d *Dispatcher) execute(ctx context.Context, j domain.Jog) (domain.Vector3, error) {
	pos, err := d.exec.Jog(ctx, j)
	d.obs.JogFinished(err)
	if err != nil {
		return domain.Vector3{}, err
	}
	return pos, nil
}
