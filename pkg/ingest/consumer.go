package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bitechdev/tagstream/pkg/errortracking"
	"github.com/bitechdev/tagstream/pkg/fanout"
	"github.com/bitechdev/tagstream/pkg/logger"
	"github.com/bitechdev/tagstream/pkg/metrics"
)

// State is the consumer's position in its lifecycle
type State int32

const (
	StateStopped State = iota
	StateConnecting
	StateConsuming
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateConnecting:
		return "connecting"
	case StateConsuming:
		return "consuming"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

const (
	DefaultMaxRetries = 5
	DefaultRetryDelay = 5 * time.Second
)

// Sink accepts decoded messages. *fanout.Dispatcher implements it.
type Sink interface {
	Publish(ctx context.Context, msg fanout.Message) error
}

// Options configures retry behaviour
type Options struct {
	// MaxRetries consecutive connection failures move the consumer to StateFailed
	MaxRetries int
	// RetryDelay is multiplied by the attempt number between attempts
	RetryDelay time.Duration
}

// Stats is a snapshot of consumer counters
type Stats struct {
	State        string `json:"state"`
	Source       string `json:"source"`
	RetryCount   int    `json:"retry_count"`
	Ingested     uint64 `json:"ingested"`
	DecodeErrors uint64 `json:"decode_errors"`
	Error        string `json:"error,omitempty"`
}

// Consumer reads from a Source, decodes payloads and pushes them to a Sink.
// It owns reconnection: on failure the delay grows linearly with the attempt
// number and a successful connect resets the count. Once MaxRetries
// consecutive attempts fail the consumer stops for good in StateFailed.
type Consumer struct {
	source Source
	sink   Sink
	opts   Options

	state      atomic.Int32
	retryCount atomic.Int32
	isRunning  atomic.Bool

	ingested     atomic.Uint64
	decodeErrors atomic.Uint64

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// NewConsumer creates a stopped consumer
func NewConsumer(source Source, sink Sink, opts Options) *Consumer {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.RetryDelay < 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	c := &Consumer{
		source: source,
		sink:   sink,
		opts:   opts,
		done:   make(chan struct{}),
	}
	close(c.done)
	return c
}

// Start launches the consume loop and waits for the first outcome: it returns
// true once the source is consuming, or false with a *ConnectionError wrapping
// ErrMaxRetries when every attempt failed. The loop keeps running in the
// background after a successful start.
func (c *Consumer) Start(ctx context.Context) (bool, error) {
	if !c.isRunning.CompareAndSwap(false, true) {
		return false, ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(context.Background())
	ready := make(chan error, 1)

	c.mu.Lock()
	c.cancel = cancel
	c.done = make(chan struct{})
	c.err = nil
	done := c.done
	c.mu.Unlock()

	c.retryCount.Store(0)
	go c.run(runCtx, done, ready)

	select {
	case err := <-ready:
		if err != nil {
			return false, err
		}
		return true, nil
	case <-ctx.Done():
		// The loop keeps trying; the caller just stopped waiting
		return false, ctx.Err()
	}
}

// Stop cancels the loop, waits for it and closes the source
func (c *Consumer) Stop() (bool, error) {
	c.mu.Lock()
	cancel := c.cancel
	done := c.done
	c.mu.Unlock()

	if cancel == nil {
		return false, ErrNotRunning
	}

	cancel()
	<-done

	c.mu.Lock()
	c.cancel = nil
	c.mu.Unlock()

	if err := c.source.Close(); err != nil {
		return true, fmt.Errorf("failed to close %s source: %w", c.source.Name(), err)
	}
	logger.Info("[Ingest] Consumer stopped")
	return true, nil
}

// Done is closed when the consume loop exits, after Stop or on StateFailed
func (c *Consumer) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// Err returns the error that moved the consumer to StateFailed, if any
func (c *Consumer) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// State returns the current lifecycle state
func (c *Consumer) State() State {
	return State(c.state.Load())
}

// IsRunning reports whether the consume loop is active
func (c *Consumer) IsRunning() bool {
	return c.isRunning.Load()
}

// RetryCount returns the number of consecutive failed connection attempts
func (c *Consumer) RetryCount() int {
	return int(c.retryCount.Load())
}

// Stats returns a snapshot of the consumer counters
func (c *Consumer) Stats() Stats {
	s := Stats{
		State:        c.State().String(),
		Source:       c.source.Name(),
		RetryCount:   c.RetryCount(),
		Ingested:     c.ingested.Load(),
		DecodeErrors: c.decodeErrors.Load(),
	}
	if err := c.Err(); err != nil {
		s.Error = err.Error()
	}
	return s
}

func (c *Consumer) setState(s State) {
	c.state.Store(int32(s))
	metrics.GetProvider().SetBrokerState(s.String())
}

func (c *Consumer) run(ctx context.Context, done chan struct{}, ready chan<- error) {
	defer close(done)
	defer c.isRunning.Store(false)
	defer logger.CatchPanicCallback("ingest.Consumer", func(r any) {
		metrics.GetProvider().RecordPanic("consumer")
		c.fail(fmt.Errorf("consumer panic: %v", r))
		signal(ready, c.Err())
	})

	name := c.source.Name()
	for {
		c.setState(StateConnecting)
		logger.Info("[Ingest] Connecting to %s", name)

		if err := c.source.Connect(ctx); err != nil {
			if ctx.Err() != nil {
				c.setState(StateStopped)
				return
			}

			attempt := int(c.retryCount.Add(1))
			metrics.GetProvider().RecordBrokerRetry()
			cerr := &ConnectionError{Source: name, Attempt: attempt, Err: err}

			if attempt >= c.opts.MaxRetries {
				final := &ConnectionError{Source: name, Attempt: attempt, Err: fmt.Errorf("%w: %w", ErrMaxRetries, err)}
				c.fail(final)
				signal(ready, final)
				return
			}

			delay := c.opts.RetryDelay * time.Duration(attempt)
			logger.Warn("[Ingest] %v, retrying in %s (%d/%d)", cerr, delay, attempt, c.opts.MaxRetries)
			if !sleep(ctx, delay) {
				c.setState(StateStopped)
				return
			}
			continue
		}

		c.retryCount.Store(0)
		c.setState(StateConsuming)
		logger.Info("[Ingest] Consuming from %s", name)
		signal(ready, nil)

		err := c.source.Consume(ctx, func(payload []byte) { c.handle(ctx, payload) })
		if ctx.Err() != nil {
			c.setState(StateStopped)
			return
		}
		if err == nil {
			err = errors.New("stream ended")
		}

		logger.Warn("[Ingest] Lost connection to %s: %v", name, err)
		if !sleep(ctx, c.opts.RetryDelay) {
			c.setState(StateStopped)
			return
		}
	}
}

func (c *Consumer) handle(ctx context.Context, payload []byte) {
	msg, err := fanout.DecodeMessage(payload)
	if err != nil {
		c.decodeErrors.Add(1)
		metrics.GetProvider().RecordDecodeError()
		logger.Warn("[Ingest] Dropping payload: %v", err)
		return
	}

	c.ingested.Add(1)
	metrics.GetProvider().RecordIngested()

	if err := c.sink.Publish(ctx, msg); err != nil && ctx.Err() == nil {
		metrics.GetProvider().RecordDropped("sink")
		logger.Warn("[Ingest] Failed to hand off message for tag %s: %v", msg.TagID, err)
	}
}

func (c *Consumer) fail(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
	c.setState(StateFailed)

	logger.Error("[Ingest] Consumer failed, giving up: %v", err)
	if tracker := logger.GetErrorTracker(); tracker != nil {
		tracker.CaptureError(context.Background(), err, errortracking.SeverityError, map[string]interface{}{
			"component": "ingest",
			"source":    c.source.Name(),
			"attempts":  c.RetryCount(),
		})
	}
}

// signal reports the first outcome of Start; later calls are ignored
func signal(ready chan<- error, err error) {
	select {
	case ready <- err:
	default:
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
