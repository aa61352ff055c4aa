package fanout

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/bitechdev/tagstream/pkg/logger"
	"github.com/bitechdev/tagstream/pkg/metrics"
)

const DefaultInputSize = 1000

// Stats is a point-in-time view of the dispatcher counters
type Stats struct {
	Dispatched  uint64     `json:"dispatched"`
	Delivered   uint64     `json:"delivered"`
	Unrouted    uint64     `json:"unrouted"`
	Dropped     uint64     `json:"dropped"`
	Pending     int        `json:"pending"`
	Subscribers int        `json:"subscribers"`
	DropPolicy  DropPolicy `json:"drop_policy"`
}

// Dispatcher drains the internal queue on a single goroutine and fans each
// message out to the registry. Delivery never blocks on a subscriber.
type Dispatcher struct {
	registry *Registry
	input    chan Message

	isRunning atomic.Bool
	stopOnce  sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}

	dispatched atomic.Uint64
	delivered  atomic.Uint64
	unrouted   atomic.Uint64
}

// NewDispatcher creates a dispatcher feeding registry. inputSize bounds the internal queue.
func NewDispatcher(registry *Registry, inputSize int) *Dispatcher {
	if inputSize <= 0 {
		inputSize = DefaultInputSize
	}
	return &Dispatcher{
		registry: registry,
		input:    make(chan Message, inputSize),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Publish hands msg to the dispatcher, waiting for room in the internal queue
func (d *Dispatcher) Publish(ctx context.Context, msg Message) error {
	select {
	case <-d.stopCh:
		return ErrDispatcherStopped
	default:
	}

	select {
	case d.input <- msg:
		return nil
	case <-d.stopCh:
		return ErrDispatcherStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start launches the dispatch loop. The loop ends when ctx is cancelled or Stop is called.
func (d *Dispatcher) Start(ctx context.Context) error {
	if !d.isRunning.CompareAndSwap(false, true) {
		return ErrDispatcherRunning
	}

	go d.run(ctx)
	logger.Info("[Fanout] Dispatcher started")
	return nil
}

// Stop ends the loop and waits for it to exit. Queued messages are discarded.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.stopCh)
	})
	if d.isRunning.Load() {
		<-d.doneCh
	}
}

// Done is closed once the dispatch loop has exited
func (d *Dispatcher) Done() <-chan struct{} {
	return d.doneCh
}

func (d *Dispatcher) run(ctx context.Context) {
	defer close(d.doneCh)
	defer d.discardPending()

	for {
		select {
		case <-ctx.Done():
			logger.Info("[Fanout] Dispatcher stopping: %v", ctx.Err())
			return
		case <-d.stopCh:
			logger.Info("[Fanout] Dispatcher stopped")
			return
		case msg := <-d.input:
			d.safeDispatch(msg)
		}
	}
}

func (d *Dispatcher) safeDispatch(msg Message) {
	defer logger.CatchPanicCallback("fanout.Dispatcher", func(any) {
		metrics.GetProvider().RecordPanic("dispatcher")
	})
	d.Dispatch(msg)
}

// Dispatch delivers one message synchronously and returns the number of
// subscriber queues that received it
func (d *Dispatcher) Dispatch(msg Message) int {
	delivered, dropped := d.registry.Deliver(msg)

	d.dispatched.Add(1)
	d.delivered.Add(uint64(delivered))

	m := metrics.GetProvider()
	m.RecordDispatched(delivered)
	for i := 0; i < dropped; i++ {
		m.RecordDropped("queue_full")
	}

	if delivered == 0 && dropped == 0 {
		d.unrouted.Add(1)
		logger.Debug("[Fanout] No subscribers for tag %s, message dropped", msg.TagID)
	}
	if dropped > 0 {
		logger.Debug("[Fanout] Tag %s: %d full subscriber queue(s), policy %s", msg.TagID, dropped, d.registry.Policy())
	}
	return delivered
}

func (d *Dispatcher) discardPending() {
	for {
		select {
		case <-d.input:
			metrics.GetProvider().RecordDropped("shutdown")
		default:
			return
		}
	}
}

// Stats returns the dispatcher counters
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Dispatched:  d.dispatched.Load(),
		Delivered:   d.delivered.Load(),
		Unrouted:    d.unrouted.Load(),
		Dropped:     d.registry.Dropped(),
		Pending:     len(d.input),
		Subscribers: d.registry.Count(),
		DropPolicy:  d.registry.Policy(),
	}
}
