// Package worker runs background units of work submitted from request handling.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/bryanwahyu/metro-bim/internal/application"
	"github.com/bryanwahyu/metro-bim/internal/domain/failures"
)

// DefaultConcurrency bounds running units when none is configured.
const DefaultConcurrency = 4

// ErrClosed is returned by Submit after Shutdown.
var ErrClosed = errors.New("executor is shut down")

// Task is one unit of work. The context is canceled on Shutdown.
type Task func(ctx context.Context) error

// Key identifies a unit by its kind and the entity it works on.
type Key struct {
	Unit     failures.Unit
	EntityID string
}

func (k Key) String() string { return fmt.Sprintf("%s/%s", k.Unit, k.EntityID) }

// Executor runs tasks in their own goroutines, at most Concurrency at a time.
// Submitting the same key twice runs both; last write wins in the store.
type Executor struct {
	Failures failures.Repository
	Clock    application.Clock
	Log      logrus.FieldLogger
	// OnDone is called after every unit, with its error or nil.
	OnDone func(k Key, err error)

	sem    *semaphore.Weighted
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	closed   bool
	inFlight map[Key]int
}

func New(concurrency int) *Executor {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Executor{
		sem:      semaphore.NewWeighted(int64(concurrency)),
		ctx:      ctx,
		cancel:   cancel,
		inFlight: make(map[Key]int),
	}
}

// Submit queues task and returns immediately.
func (e *Executor) Submit(k Key, task Task) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	e.inFlight[k]++
	e.wg.Add(1)
	e.mu.Unlock()

	go e.run(k, task)
	return nil
}

// InFlight reports how many units for k are queued or running.
func (e *Executor) InFlight(k Key) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inFlight[k]
}

// Wait blocks until every submitted unit has finished.
func (e *Executor) Wait() { e.wg.Wait() }

// Shutdown stops accepting work, cancels running units and waits for them
// until ctx is done.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.cancel()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Executor) run(k Key, task Task) {
	defer e.wg.Done()
	defer e.release(k)

	log := e.logger().WithFields(logrus.Fields{"unit": k.Unit, "entity_id": k.EntityID})
	if err := e.sem.Acquire(e.ctx, 1); err != nil {
		log.WithError(err).Warn("unit dropped before start")
		e.journal(k, "submit", err)
		e.done(k, err)
		return
	}
	defer e.sem.Release(1)

	panicked, err := e.safeRun(task)
	switch {
	case panicked:
		log.WithError(err).Error("unit panicked")
		e.journal(k, "panic", err)
	case err != nil:
		// the services journal their own failures
		log.WithError(err).Warn("unit failed")
	default:
		log.Debug("unit done")
	}
	e.done(k, err)
}

func (e *Executor) safeRun(task Task) (panicked bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			panicked, err = true, fmt.Errorf("panic: %v", r)
		}
	}()
	return false, task(e.ctx)
}

func (e *Executor) done(k Key, err error) {
	if e.OnDone != nil {
		e.OnDone(k, err)
	}
}

// journal records failures the unit never got to record itself.
func (e *Executor) journal(k Key, phase string, cause error) {
	if e.Failures == nil {
		return
	}
	details, _ := json.Marshal(map[string]string{"error": cause.Error(), "key": k.String()})
	entry := &failures.Entry{
		Unit:        k.Unit,
		EntityID:    k.EntityID,
		Phase:       phase,
		Message:     cause.Error(),
		DetailsJSON: string(details),
		CreatedAt:   e.now(),
	}
	if err := e.Failures.Save(context.Background(), entry); err != nil {
		e.logger().WithError(err).Warn("save failure entry")
	}
}

func (e *Executor) release(k Key) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.inFlight[k]--
	if e.inFlight[k] <= 0 {
		delete(e.inFlight, k)
	}
}

func (e *Executor) now() time.Time {
	if e.Clock == nil {
		return application.SystemClock{}.Now()
	}
	return e.Clock.Now()
}

func (e *Executor) logger() logrus.FieldLogger {
	if e.Log == nil {
		return logrus.StandardLogger()
	}
	return e.Log
}
