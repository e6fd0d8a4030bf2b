/*
dispatcher.go - Asynchronous delivery of tenancy events

PURPOSE:
  Accepts events from the engines without blocking them, renders each
  event into messages and delivers the messages with a small pool of
  workers. Tenant messages go to the event's recipient, staff messages
  to the configured staff chat id.

DESIGN:
  - Publish enqueues into a bounded buffer; a full buffer is reported as
    ErrQueueFull (the engine logs it, the transition stands)
  - Workers drain the buffer until Stop
  - Stop closes the buffer and waits for in-flight deliveries

USAGE:
  d := notify.NewDispatcher(line, notify.DispatcherConfig{StaffID: adminID}, logger)
  d.Start()
  defer d.Stop()
  svc := tenancy.NewServices(tenancy.Deps{Events: d, ...}, cfg)
*/
package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/smartdorm/tenancy-engine/tenancy"
)

var (
	ErrQueueFull = errors.New("notification queue full")
	ErrStopped   = errors.New("dispatcher stopped")
)

// DispatcherConfig tunes the worker pool.
type DispatcherConfig struct {
	// StaffID is the chat id receiving staff-facing messages. Staff
	// messages are dropped when empty.
	StaffID string

	Workers     int
	Buffer      int
	SendTimeout time.Duration
}

func (c DispatcherConfig) withDefaults() DispatcherConfig {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.Buffer <= 0 {
		c.Buffer = 256
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 15 * time.Second
	}
	return c
}

// Dispatcher implements tenancy.EventSink over a Notifier.
type Dispatcher struct {
	notifier Notifier
	cfg      DispatcherConfig
	logger   *zap.Logger

	queue   chan tenancy.Event
	wg      sync.WaitGroup
	mu      sync.RWMutex
	started bool
	stopped bool
}

// NewDispatcher creates a dispatcher. Call Start before publishing.
func NewDispatcher(n Notifier, cfg DispatcherConfig, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	return &Dispatcher{
		notifier: n,
		cfg:      cfg,
		logger:   logger,
		queue:    make(chan tenancy.Event, cfg.Buffer),
	}
}

// Start launches the workers.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.stopped {
		return
	}
	d.started = true
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.work()
	}
	d.logger.Info("notification dispatcher started", zap.Int("workers", d.cfg.Workers))
}

// Stop drains queued events and waits for the workers to exit.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
	d.logger.Info("notification dispatcher stopped")
}

// Publish enqueues an event without waiting for delivery.
func (d *Dispatcher) Publish(_ context.Context, e tenancy.Event) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		return ErrStopped
	}
	select {
	case d.queue <- e:
		return nil
	default:
		return ErrQueueFull
	}
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for e := range d.queue {
		d.Deliver(context.Background(), e)
	}
}

// Deliver renders and sends one event synchronously. Send failures are
// logged and skipped.
func (d *Dispatcher) Deliver(ctx context.Context, e tenancy.Event) {
	for _, m := range Render(e) {
		to := e.Recipient
		if m.Audience == Staff {
			to = d.cfg.StaffID
		}
		if to == "" {
			continue
		}

		sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
		err := d.notifier.Send(sendCtx, to, m.Text)
		cancel()
		if err != nil {
			d.logger.Warn("notification delivery failed",
				zap.String("event_type", string(e.Type)),
				zap.String("event_id", e.ID),
				zap.Error(err),
			)
		}
	}
}

var _ tenancy.EventSink = (*Dispatcher)(nil)
