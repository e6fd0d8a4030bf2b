package tenancy

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// =============================================================================
// CONFIG & DEPENDENCIES
// =============================================================================

// Config parameterizes the engines. It is built once at process start.
type Config struct {
	Rates Rates

	// Location is the property's time zone; due dates and periods are
	// computed in it.
	Location *time.Location

	// StoreTimeout bounds every store round trip of an operation.
	// Zero means no deadline beyond the caller's context.
	StoreTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Rates:        DefaultRates(),
		Location:     time.UTC,
		StoreTimeout: 5 * time.Second,
	}
}

// Deps are the collaborators shared by all engines.
type Deps struct {
	Store  TxStore
	Events EventSink        // optional, defaults to NopSink
	Slips  SlipStore        // optional, slip cleanup is skipped when nil
	Logger *zap.Logger      // optional, defaults to zap.NewNop()
	Clock  func() time.Time // optional, defaults to time.Now
}

// Services groups the lifecycle engines over one store.
type Services struct {
	Rooms     *RoomService
	Customers *CustomerService
	Bookings  *BookingService
	Billing   *BillingService
	Payments  *PaymentService
}

// NewServices wires every engine to the same dependencies.
func NewServices(deps Deps, cfg Config) *Services {
	e := newEngine(deps, cfg)
	return &Services{
		Rooms:     &RoomService{engine: e},
		Customers: &CustomerService{engine: e},
		Bookings:  &BookingService{engine: e},
		Billing:   &BillingService{engine: e},
		Payments:  &PaymentService{engine: e},
	}
}

// =============================================================================
// ENGINE - Plumbing shared by the services
// =============================================================================

type engine struct {
	store  TxStore
	events EventSink
	slips  SlipStore
	logger *zap.Logger
	clock  func() time.Time
	cfg    Config
}

func newEngine(deps Deps, cfg Config) *engine {
	e := &engine{
		store:  deps.Store,
		events: deps.Events,
		slips:  deps.Slips,
		logger: deps.Logger,
		clock:  deps.Clock,
		cfg:    cfg,
	}
	if e.events == nil {
		e.events = NopSink{}
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if e.clock == nil {
		e.clock = time.Now
	}
	if e.cfg.Location == nil {
		e.cfg.Location = time.UTC
	}
	if e.cfg.Rates.DueDay == 0 {
		e.cfg.Rates = DefaultRates()
	}
	return e
}

func (e *engine) now() time.Time {
	return e.clock().In(e.cfg.Location)
}

func (e *engine) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.cfg.StoreTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, e.cfg.StoreTimeout)
}

// tx runs fn atomically and classifies any failure.
func (e *engine) tx(ctx context.Context, op string, fn func(Store) error) error {
	ctx, cancel := e.bounded(ctx)
	defer cancel()
	return classify(op, e.store.WithTx(ctx, fn))
}

// read runs a read-only function under the store deadline.
func (e *engine) read(ctx context.Context, op string, fn func(Store) error) error {
	ctx, cancel := e.bounded(ctx)
	defer cancel()
	return classify(op, fn(e.store))
}

// emit publishes events after commit. Failures are logged, never returned.
func (e *engine) emit(ctx context.Context, events ...Event) {
	ctx = context.WithoutCancel(ctx)
	for _, ev := range events {
		if ev.ID == "" {
			ev.ID = uuid.NewString()
		}
		if ev.At.IsZero() {
			ev.At = e.now()
		}
		if err := e.events.Publish(ctx, ev); err != nil {
			e.logger.Warn("event publish failed",
				zap.String("event_type", string(ev.Type)),
				zap.String("event_id", ev.ID),
				zap.Error(err),
			)
		}
	}
}

// dropSlips deletes slip files after commit, best-effort.
func (e *engine) dropSlips(ctx context.Context, refs ...SlipRef) {
	if e.slips == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, ref := range refs {
		if ref == "" {
			continue
		}
		if err := e.slips.Delete(ctx, ref); err != nil {
			e.logger.Warn("slip delete failed", zap.String("slip_ref", string(ref)), zap.Error(err))
		}
	}
}

func newID() string {
	return uuid.NewString()
}
