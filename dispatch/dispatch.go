// Package dispatch keeps a fixed-size pool of workers saturated with work
// pulled lazily from a producer. Each time a worker finishes an item, the
// controller pulls the next item from the producer and hands it to the same
// worker slot, until the producer is exhausted and in-flight work drains.
package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/wbrown/tokenfreq/pkg/logging"
)

var (
	ErrInvalidConfig = errors.New("dispatch: invalid configuration")
	ErrWorkerPanic   = errors.New("dispatch: worker panicked")
)

// Producer yields the next work item. The boolean is false once the
// producer is exhausted, and stays false on every later call.
type Producer[T any] func() (T, bool)

// ProducerFactory returns a fresh Producer for a single run.
type ProducerFactory[T any] func() Producer[T]

// WorkFunc processes one item. It is invoked from worker goroutines and
// should only depend on its arguments and process-global setup.
type WorkFunc[T, R any] func(ctx context.Context, item T) (R, error)

// Observer is notified as items enter and leave worker slots. Calls are
// made from the goroutine running Run, never concurrently.
type Observer interface {
	Submitted(slot int)
	Completed(slot int, elapsed time.Duration, err error)
}

type options struct {
	timeout  time.Duration
	logger   *slog.Logger
	observer Observer
}

// Option configures a Dispatcher.
type Option func(*options)

// WithTimeout bounds the whole run. Zero disables the deadline.
func WithTimeout(timeout time.Duration) Option {
	return func(o *options) { o.timeout = timeout }
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

func WithObserver(observer Observer) Option {
	return func(o *options) { o.observer = observer }
}

// Observers fans notifications out to every non-nil observer in order.
func Observers(observers ...Observer) Observer {
	var multi multiObserver
	for _, observer := range observers {
		if observer != nil {
			multi = append(multi, observer)
		}
	}
	return multi
}

type multiObserver []Observer

func (m multiObserver) Submitted(slot int) {
	for _, observer := range m {
		observer.Submitted(slot)
	}
}

func (m multiObserver) Completed(slot int, elapsed time.Duration, err error) {
	for _, observer := range m {
		observer.Completed(slot, elapsed, err)
	}
}

type nopObserver struct{}

func (nopObserver) Submitted(int)                       {}
func (nopObserver) Completed(int, time.Duration, error) {}

// Dispatcher runs every item of a producer through a WorkFunc with at most
// numWorkers items in flight.
type Dispatcher[T, R any] struct {
	numWorkers  int
	newProducer ProducerFactory[T]
	work        WorkFunc[T, R]
	timeout     time.Duration
	logger      *slog.Logger
	observer    Observer
}

// New
// Creates a Dispatcher with numWorkers slots. A fresh producer is obtained
// from newProducer on every call to Run.
func New[T, R any](
	numWorkers int,
	newProducer ProducerFactory[T],
	work WorkFunc[T, R],
	opts ...Option,
) (*Dispatcher[T, R], error) {
	if numWorkers < 1 {
		return nil, errors.Wrapf(ErrInvalidConfig,
			"numWorkers must be positive, got %d", numWorkers)
	}
	if newProducer == nil {
		return nil, errors.Wrap(ErrInvalidConfig, "nil producer factory")
	}
	if work == nil {
		return nil, errors.Wrap(ErrInvalidConfig, "nil work function")
	}
	o := options{observer: nopObserver{}}
	for _, opt := range opts {
		opt(&o)
	}
	if o.observer == nil {
		o.observer = nopObserver{}
	}
	return &Dispatcher[T, R]{
		numWorkers:  numWorkers,
		newProducer: newProducer,
		work:        work,
		timeout:     o.timeout,
		logger:      logging.WithComponent(o.logger, "dispatch"),
		observer:    o.observer,
	}, nil
}

// NumWorkers returns the pool size.
func (d *Dispatcher[T, R]) NumWorkers() int {
	return d.numWorkers
}

type completion[T, R any] struct {
	slot     int
	item     T
	value    R
	err      error
	panicked bool
	elapsed  time.Duration
}

// Run
// Primes every slot with one item, refills each slot as its item completes,
// and returns once the producer is exhausted and all slots have drained.
//
// Results of successful items are returned in completion order. If any item
// failed, the returned error is a *RunError listing every failure; the
// results of the other items are still returned. A panicking WorkFunc fails
// only its own item, recorded with an error wrapping ErrWorkerPanic.
// If ctx ends first, Run returns without waiting for in-flight items.
func (d *Dispatcher[T, R]) Run(ctx context.Context) ([]R, error) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	next := d.newProducer()
	if next == nil {
		return nil, errors.Wrap(ErrInvalidConfig, "producer factory returned nil")
	}

	// One completion per slot at most is ever outstanding, so workers never
	// block on delivery, even after Run has returned.
	done := make(chan completion[T, R], d.numWorkers)
	inputs := make([]chan T, d.numWorkers)
	var workers sync.WaitGroup
	for slot := range inputs {
		inputs[slot] = make(chan T, 1)
		workers.Add(1)
		go d.worker(ctx, slot, inputs[slot], done, &workers)
	}
	closeInputs := func() {
		for _, in := range inputs {
			close(in)
		}
	}

	submit := func(slot int, item T) {
		d.observer.Submitted(slot)
		inputs[slot] <- item
	}

	// Slots the producer could not fill during priming never receive work
	// and never complete, so they are not counted.
	remaining := 0
	for slot := 0; slot < d.numWorkers; slot++ {
		item, ok := next()
		if !ok {
			break
		}
		submit(slot, item)
		remaining++
	}
	d.logger.Debug("primed worker slots",
		"primed", remaining, "workers", d.numWorkers)

	results := make([]R, 0, remaining)
	var failed []ItemError[T]

	for remaining > 0 {
		select {
		case <-ctx.Done():
			closeInputs()
			d.logger.Warn("run interrupted",
				"in_flight", remaining, "error", ctx.Err())
			return results, errors.Wrap(ctx.Err(), "dispatch: run interrupted")
		case c := <-done:
			d.observer.Completed(c.slot, c.elapsed, c.err)
			switch {
			case c.panicked:
				d.logger.Error("worker panicked", "slot", c.slot,
					"item", c.item, "error", c.err)
				failed = append(failed, ItemError[T]{Item: c.item, Err: c.err})
			case c.err != nil:
				d.logger.Warn("item failed", "slot", c.slot,
					"item", c.item, "error", c.err)
				failed = append(failed, ItemError[T]{Item: c.item, Err: c.err})
			default:
				results = append(results, c.value)
			}
			if item, ok := next(); ok {
				submit(c.slot, item)
			} else {
				remaining--
			}
		}
	}

	closeInputs()
	workers.Wait()

	if len(failed) > 0 {
		return results, &RunError[T]{Failed: failed, Succeeded: len(results)}
	}
	return results, nil
}

func (d *Dispatcher[T, R]) worker(
	ctx context.Context,
	slot int,
	in <-chan T,
	done chan<- completion[T, R],
	wg *sync.WaitGroup,
) {
	defer wg.Done()
	for item := range in {
		done <- d.call(ctx, slot, item)
	}
}

func (d *Dispatcher[T, R]) call(
	ctx context.Context,
	slot int,
	item T,
) (c completion[T, R]) {
	c.slot = slot
	c.item = item
	begin := time.Now()
	defer func() {
		if p := recover(); p != nil {
			c.err = errors.Wrapf(ErrWorkerPanic, "slot %d: %v", slot, p)
			c.panicked = true
		}
		c.elapsed = time.Since(begin)
	}()
	c.value, c.err = d.work(ctx, item)
	return c
}

// FromSlice returns a factory whose producers yield items in order.
func FromSlice[T any](items []T) ProducerFactory[T] {
	return func() Producer[T] {
		idx := 0
		return func() (item T, ok bool) {
			if idx >= len(items) {
				return item, false
			}
			item = items[idx]
			idx++
			return item, true
		}
	}
}

// Range returns a factory whose producers yield 0 through n-1.
func Range(n int) ProducerFactory[int] {
	return func() Producer[int] {
		idx := 0
		return func() (int, bool) {
			if idx >= n {
				return 0, false
			}
			idx++
			return idx - 1, true
		}
	}
}
