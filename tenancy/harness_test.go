package tenancy_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smartdorm/tenancy-engine/tenancy"
	"github.com/smartdorm/tenancy-engine/tenancy/store"
)

// =============================================================================
// TEST HARNESS
// =============================================================================

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type harness struct {
	svc    *tenancy.Services
	store  *store.TxMemory
	events *tenancy.RecordingSink
	slips  *memSlips
	clock  *testClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:  store.NewTxMemory(),
		events: &tenancy.RecordingSink{},
		slips:  &memSlips{},
		clock:  &testClock{now: time.Date(2024, time.January, 20, 10, 0, 0, 0, time.UTC)},
	}
	h.svc = tenancy.NewServices(tenancy.Deps{
		Store:  h.store,
		Events: h.events,
		Slips:  h.slips,
		Logger: zap.NewNop(),
		Clock:  h.clock.Now,
	}, tenancy.DefaultConfig())
	return h
}

func (h *harness) room(t *testing.T, number string, rent int64) *tenancy.Room {
	t.Helper()
	r, err := h.svc.Rooms.Create(context.Background(), tenancy.CreateRoomInput{
		Number:      number,
		Size:        "24 sqm",
		MonthlyRent: d(rent),
		Deposit:     d(rent * 2),
		BookingFee:  d(500),
	})
	require.NoError(t, err)
	return r
}

func applicant(externalID string) tenancy.CustomerInput {
	return tenancy.CustomerInput{
		ExternalID:  externalID,
		DisplayName: "line-" + externalID,
		Title:       "Ms.",
		FirstName:   "Tenant",
		LastName:    externalID,
		Phone:       "0800000000",
		NationalID:  "1100000000000",
	}
}

func (h *harness) book(t *testing.T, externalID string, room tenancy.RoomID) *tenancy.Booking {
	t.Helper()
	b, err := h.svc.Bookings.Create(context.Background(), tenancy.CreateBookingInput{
		Customer:    applicant(externalID),
		RoomID:      room,
		CheckinDate: date(2024, time.February, 1),
	})
	require.NoError(t, err)
	return b
}

// tenant books and is approved; returns the approved booking.
func (h *harness) tenant(t *testing.T, externalID string, room tenancy.RoomID) *tenancy.Booking {
	t.Helper()
	b := h.book(t, externalID, room)
	approved, err := h.svc.Bookings.Approve(context.Background(), b.ID, "admin-1")
	require.NoError(t, err)
	return approved
}

func (h *harness) roomState(t *testing.T, id tenancy.RoomID) *tenancy.Room {
	t.Helper()
	r, err := h.store.GetRoom(context.Background(), id)
	require.NoError(t, err)
	return r
}

// requireOccupancyInvariant scans the store: at most one active booking per
// room, and a room is occupied exactly when an approved booking holds it.
func (h *harness) requireOccupancyInvariant(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	rooms, err := h.store.ListRooms(ctx, tenancy.RoomFilter{})
	require.NoError(t, err)
	for _, r := range rooms {
		active, err := h.store.ListBookings(ctx, tenancy.BookingFilter{
			RoomID:   &r.ID,
			Statuses: []tenancy.BookingStatus{tenancy.BookingPending, tenancy.BookingApproved},
		})
		require.NoError(t, err)
		require.LessOrEqual(t, len(active), 1, "room %s has %d active bookings", r.Number, len(active))

		approved := 0
		for _, b := range active {
			if b.Status == tenancy.BookingApproved {
				approved++
				require.Equal(t, tenancy.RoomOccupied, r.Status, "room %s has approved booking but is %s", r.Number, r.Status)
				require.NotNil(t, r.OccupiedBy)
				require.Equal(t, b.ID, *r.OccupiedBy)
			}
		}
		if approved == 0 {
			require.Equal(t, tenancy.RoomVacant, r.Status, "room %s occupied without approved booking", r.Number)
		}
	}
}

// =============================================================================
// FAKE COLLABORATORS
// =============================================================================

type memSlips struct {
	mu      sync.Mutex
	n       int
	deleted []tenancy.SlipRef
}

func (m *memSlips) Put(_ context.Context, _ []byte) (tenancy.SlipRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.n++
	return tenancy.SlipRef(fmt.Sprintf("slip-%d", m.n)), nil
}

func (m *memSlips) Delete(_ context.Context, ref tenancy.SlipRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, ref)
	return nil
}

func (m *memSlips) Deleted() []tenancy.SlipRef {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]tenancy.SlipRef(nil), m.deleted...)
}

type failingSink struct{}

func (failingSink) Publish(context.Context, tenancy.Event) error {
	return errors.New("chat api down")
}

// brokenStore fails every transaction the way an unreachable database does.
type brokenStore struct {
	*store.TxMemory
	err error
}

func (b *brokenStore) WithTx(context.Context, func(tenancy.Store) error) error {
	return b.err
}

// roomReadsFail runs real transactions in which every room read fails.
type roomReadsFail struct {
	*store.TxMemory
	err error
}

func (r *roomReadsFail) WithTx(ctx context.Context, fn func(tenancy.Store) error) error {
	return r.TxMemory.WithTx(ctx, func(st tenancy.Store) error {
		return fn(failingRooms{Store: st, err: r.err})
	})
}

type failingRooms struct {
	tenancy.Store
	err error
}

func (f failingRooms) GetRoom(context.Context, tenancy.RoomID) (*tenancy.Room, error) {
	return nil, f.err
}

func ptr[T any](v T) *T { return &v }
