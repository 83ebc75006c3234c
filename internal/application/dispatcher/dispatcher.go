package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/garyjia/fleet-maintenance/internal/domain/event"
	"github.com/garyjia/fleet-maintenance/internal/metrics"
)

// Dispatcher routes events to registered handlers
type Dispatcher interface {
	// SubscribeNamed registers a named handler for an event type
	SubscribeNamed(eventType event.Type, name string, handler Handler)

	// DispatchAsync queues the event for the worker pool and returns immediately.
	// Handlers run detached from ctx cancellation, each under the handler timeout.
	DispatchAsync(ctx context.Context, evt *event.Event)

	// ListHandlers returns registered handlers for an event type
	ListHandlers(eventType event.Type) []HandlerInfo

	// Close shuts down the dispatcher and waits for queued handlers
	Close() error
}

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

const (
	defaultWorkers        = 4
	defaultQueueSize      = 256
	defaultHandlerTimeout = 10 * time.Second
)

type job struct {
	ctx  context.Context
	evt  *event.Event
	info HandlerInfo
}

// eventDispatcher is the concrete implementation of Dispatcher
type eventDispatcher struct {
	mu       sync.RWMutex
	handlers map[event.Type][]HandlerInfo
	logger   Logger

	workers        int
	queueSize      int
	handlerTimeout time.Duration

	// async pool; sendMu guards jobs against send-after-close
	sendMu sync.RWMutex
	jobs   chan job
	wg     sync.WaitGroup
	closed atomic.Bool
}

// Option configures the dispatcher
type Option func(*eventDispatcher)

// WithLogger sets a logger for the dispatcher
func WithLogger(logger Logger) Option {
	return func(d *eventDispatcher) {
		d.logger = logger
	}
}

// WithWorkers bounds the number of handlers running concurrently
func WithWorkers(n int) Option {
	return func(d *eventDispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithQueueSize bounds the number of pending async handler runs; overflow is dropped, logged and counted
func WithQueueSize(n int) Option {
	return func(d *eventDispatcher) {
		if n > 0 {
			d.queueSize = n
		}
	}
}

// WithHandlerTimeout sets the deadline applied to each async handler run
func WithHandlerTimeout(timeout time.Duration) Option {
	return func(d *eventDispatcher) {
		if timeout > 0 {
			d.handlerTimeout = timeout
		}
	}
}

// NewDispatcher creates a new event dispatcher and starts its worker pool
func NewDispatcher(opts ...Option) Dispatcher {
	d := &eventDispatcher{
		handlers:       make(map[event.Type][]HandlerInfo),
		workers:        defaultWorkers,
		queueSize:      defaultQueueSize,
		handlerTimeout: defaultHandlerTimeout,
	}

	for _, opt := range opts {
		opt(d)
	}

	d.jobs = make(chan job, d.queueSize)
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}

	return d
}

// SubscribeNamed registers a handler with a specific name for debugging
func (d *eventDispatcher) SubscribeNamed(eventType event.Type, name string, handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()

	info := HandlerInfo{
		Name:      name,
		EventType: eventType,
		Handler:   handler,
	}

	d.handlers[eventType] = append(d.handlers[eventType], info)

	if d.logger != nil {
		d.logger.Info("Handler registered",
			"event_type", eventType,
			"handler_name", name,
		)
	}
}

// DispatchAsync queues one job per handler without blocking the caller
func (d *eventDispatcher) DispatchAsync(ctx context.Context, evt *event.Event) {
	d.sendMu.RLock()
	defer d.sendMu.RUnlock()

	if d.closed.Load() {
		if d.logger != nil {
			d.logger.Error("Cannot dispatch async event, dispatcher is closed",
				"event_type", evt.Type,
				"event_id", evt.ID,
			)
		}
		return
	}

	// keep trace and request values, drop the caller's deadline
	detached := context.WithoutCancel(ctx)

	for _, info := range d.snapshot(evt.Type) {
		select {
		case d.jobs <- job{ctx: detached, evt: evt, info: info}:
		default:
			metrics.RecordDispatchDropped(evt.Type.String(), info.Name)
			if d.logger != nil {
				d.logger.Error("Async handler dropped, queue full",
					"event_type", evt.Type,
					"event_id", evt.ID,
					"handler_name", info.Name,
				)
			}
		}
	}
}

// ListHandlers returns registered handlers for an event type
func (d *eventDispatcher) ListHandlers(eventType event.Type) []HandlerInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()

	handlers := d.handlers[eventType]
	result := make([]HandlerInfo, len(handlers))

	for i, h := range handlers {
		// Handler func is left out on purpose
		result[i] = HandlerInfo{
			Name:        h.Name,
			EventType:   h.EventType,
			Description: h.Description,
		}
	}

	return result
}

// Close shuts down the dispatcher and waits for queued handlers to complete
func (d *eventDispatcher) Close() error {
	d.sendMu.Lock()
	if !d.closed.CompareAndSwap(false, true) {
		d.sendMu.Unlock()
		return fmt.Errorf("dispatcher already closed")
	}
	close(d.jobs)
	d.sendMu.Unlock()

	if d.logger != nil {
		d.logger.Info("Closing dispatcher, waiting for async handlers")
	}

	d.wg.Wait()

	if d.logger != nil {
		d.logger.Info("Dispatcher closed")
	}

	return nil
}

func (d *eventDispatcher) worker() {
	defer d.wg.Done()

	for j := range d.jobs {
		ctx, cancel := context.WithTimeout(j.ctx, d.handlerTimeout)
		err := safeExecute(ctx, j.evt, j.info)
		cancel()

		if err != nil && d.logger != nil {
			d.logger.Error("Async handler error",
				"event_type", j.evt.Type,
				"event_id", j.evt.ID,
				"handler_name", j.info.Name,
				"error", err,
			)
		}
	}
}

func (d *eventDispatcher) snapshot(eventType event.Type) []HandlerInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]HandlerInfo(nil), d.handlers[eventType]...)
}

// safeExecute runs a handler with panic recovery; the panic is returned as an error
func safeExecute(ctx context.Context, evt *event.Event, info HandlerInfo) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	return info.Handler(ctx, evt)
}
