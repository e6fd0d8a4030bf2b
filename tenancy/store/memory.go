// Package store provides an in-memory tenancy.TxStore.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/smartdorm/tenancy-engine/tenancy"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps every record in maps guarded by one mutex. It enforces the
// same uniqueness rules as the SQLite schema.
type Memory struct {
	mu sync.RWMutex
	*state
}

type row[T any] struct {
	v   T
	seq int64
}

type state struct {
	seq       int64
	rooms     map[tenancy.RoomID]row[tenancy.Room]
	customers map[tenancy.CustomerID]row[tenancy.Customer]
	bookings  map[tenancy.BookingID]row[tenancy.Booking]
	bills     map[tenancy.BillID]row[tenancy.Bill]
	payments  map[tenancy.PaymentID]row[tenancy.Payment]
}

func newState() *state {
	return &state{
		rooms:     make(map[tenancy.RoomID]row[tenancy.Room]),
		customers: make(map[tenancy.CustomerID]row[tenancy.Customer]),
		bookings:  make(map[tenancy.BookingID]row[tenancy.Booking]),
		bills:     make(map[tenancy.BillID]row[tenancy.Bill]),
		payments:  make(map[tenancy.PaymentID]row[tenancy.Payment]),
	}
}

func NewMemory() *Memory {
	return &Memory{state: newState()}
}

// =============================================================================
// LOCKED ACCESS (outside transactions)
// =============================================================================

func (m *Memory) GetRoom(ctx context.Context, id tenancy.RoomID) (*tenancy.Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.GetRoom(ctx, id)
}

func (m *Memory) ListRooms(ctx context.Context, f tenancy.RoomFilter) ([]tenancy.Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.ListRooms(ctx, f)
}

func (m *Memory) InsertRoom(ctx context.Context, r *tenancy.Room) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.InsertRoom(ctx, r)
}

func (m *Memory) UpdateRoom(ctx context.Context, r *tenancy.Room) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.UpdateRoom(ctx, r)
}

func (m *Memory) DeleteRoom(ctx context.Context, id tenancy.RoomID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.DeleteRoom(ctx, id)
}

func (m *Memory) GetCustomer(ctx context.Context, id tenancy.CustomerID) (*tenancy.Customer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.GetCustomer(ctx, id)
}

func (m *Memory) GetCustomerByExternalID(ctx context.Context, externalID string) (*tenancy.Customer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.GetCustomerByExternalID(ctx, externalID)
}

func (m *Memory) InsertCustomer(ctx context.Context, c *tenancy.Customer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.InsertCustomer(ctx, c)
}

func (m *Memory) UpdateCustomer(ctx context.Context, c *tenancy.Customer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.UpdateCustomer(ctx, c)
}

func (m *Memory) GetBooking(ctx context.Context, id tenancy.BookingID) (*tenancy.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.GetBooking(ctx, id)
}

func (m *Memory) ListBookings(ctx context.Context, f tenancy.BookingFilter) ([]tenancy.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.ListBookings(ctx, f)
}

func (m *Memory) InsertBooking(ctx context.Context, b *tenancy.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.InsertBooking(ctx, b)
}

func (m *Memory) UpdateBooking(ctx context.Context, b *tenancy.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.UpdateBooking(ctx, b)
}

func (m *Memory) DeleteBooking(ctx context.Context, id tenancy.BookingID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.DeleteBooking(ctx, id)
}

func (m *Memory) GetBill(ctx context.Context, id tenancy.BillID) (*tenancy.Bill, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.GetBill(ctx, id)
}

func (m *Memory) ListBills(ctx context.Context, f tenancy.BillFilter) ([]tenancy.Bill, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.ListBills(ctx, f)
}

func (m *Memory) LatestBillForRoom(ctx context.Context, roomID tenancy.RoomID) (*tenancy.Bill, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.LatestBillForRoom(ctx, roomID)
}

func (m *Memory) InsertBill(ctx context.Context, b *tenancy.Bill) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.InsertBill(ctx, b)
}

func (m *Memory) UpdateBill(ctx context.Context, b *tenancy.Bill) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.UpdateBill(ctx, b)
}

func (m *Memory) DeleteBill(ctx context.Context, id tenancy.BillID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.DeleteBill(ctx, id)
}

func (m *Memory) GetPayment(ctx context.Context, id tenancy.PaymentID) (*tenancy.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.GetPayment(ctx, id)
}

func (m *Memory) ListPayments(ctx context.Context, f tenancy.PaymentFilter) ([]tenancy.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.ListPayments(ctx, f)
}

func (m *Memory) InsertPayment(ctx context.Context, p *tenancy.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.InsertPayment(ctx, p)
}

func (m *Memory) UpdatePayment(ctx context.Context, p *tenancy.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.UpdatePayment(ctx, p)
}

func (m *Memory) DeletePayment(ctx context.Context, id tenancy.PaymentID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.DeletePayment(ctx, id)
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
// Transactions are serialized by the store mutex.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(tenancy.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	// Snapshot current state
	snapshot := tm.state.snapshot()

	// fn sees the unlocked state directly
	if err := fn(tm.state); err != nil {
		tm.state.restore(snapshot)
		return err
	}
	if err := ctx.Err(); err != nil {
		tm.state.restore(snapshot)
		return err
	}
	return nil
}

func (s *state) snapshot() *state {
	return &state{
		seq:       s.seq,
		rooms:     copyMap(s.rooms),
		customers: copyMap(s.customers),
		bookings:  copyMap(s.bookings),
		bills:     copyMap(s.bills),
		payments:  copyMap(s.payments),
	}
}

func (s *state) restore(from *state) {
	*s = *from
}

// copyMap copies rows by value. Stored rows are never mutated in place, so
// shared pointer fields are safe.
func copyMap[K comparable, T any](m map[K]row[T]) map[K]row[T] {
	out := make(map[K]row[T], len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// =============================================================================
// UNLOCKED STATE - implements tenancy.Store
// =============================================================================

func (s *state) next() int64 {
	s.seq++
	return s.seq
}

func missing(entity string, id any) error {
	return fmt.Errorf("%s %v: %w", entity, id, tenancy.ErrNotFound)
}

func duplicate(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, tenancy.ErrConflict)...)
}

func stale(entity string, id any, have, want int64) error {
	return fmt.Errorf("%s %v version %d, expected %d: %w", entity, id, have, want, tenancy.ErrConcurrentModification)
}

// sorted returns the matching rows ordered by creation time, then insertion
// order.
func sorted[K comparable, T any](m map[K]row[T], created func(T) time.Time, match func(T) bool) []T {
	rows := make([]row[T], 0, len(m))
	for _, r := range m {
		if match(r.v) {
			rows = append(rows, r)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		ci, cj := created(rows[i].v), created(rows[j].v)
		if !ci.Equal(cj) {
			return ci.Before(cj)
		}
		return rows[i].seq < rows[j].seq
	})
	out := make([]T, len(rows))
	for i, r := range rows {
		out[i] = r.v
	}
	return out
}

// ----- rooms -----

func (s *state) GetRoom(_ context.Context, id tenancy.RoomID) (*tenancy.Room, error) {
	r, ok := s.rooms[id]
	if !ok {
		return nil, missing("room", id)
	}
	v := r.v
	return &v, nil
}

func (s *state) ListRooms(_ context.Context, f tenancy.RoomFilter) ([]tenancy.Room, error) {
	return sorted(s.rooms, func(r tenancy.Room) time.Time { return r.CreatedAt }, f.Match), nil
}

func (s *state) InsertRoom(_ context.Context, r *tenancy.Room) error {
	if _, ok := s.rooms[r.ID]; ok {
		return duplicate("room %s exists", r.ID)
	}
	for _, other := range s.rooms {
		if other.v.Number == r.Number {
			return duplicate("room number %s exists", r.Number)
		}
	}
	s.rooms[r.ID] = row[tenancy.Room]{v: *r, seq: s.next()}
	return nil
}

func (s *state) UpdateRoom(_ context.Context, r *tenancy.Room) error {
	cur, ok := s.rooms[r.ID]
	if !ok {
		return missing("room", r.ID)
	}
	if cur.v.Version != r.Version {
		return stale("room", r.ID, cur.v.Version, r.Version)
	}
	r.Version++
	cur.v = *r
	s.rooms[r.ID] = cur
	return nil
}

func (s *state) DeleteRoom(_ context.Context, id tenancy.RoomID) error {
	if _, ok := s.rooms[id]; !ok {
		return missing("room", id)
	}
	delete(s.rooms, id)
	return nil
}

// ----- customers -----

func (s *state) GetCustomer(_ context.Context, id tenancy.CustomerID) (*tenancy.Customer, error) {
	c, ok := s.customers[id]
	if !ok {
		return nil, missing("customer", id)
	}
	v := c.v
	return &v, nil
}

func (s *state) GetCustomerByExternalID(_ context.Context, externalID string) (*tenancy.Customer, error) {
	for _, c := range s.customers {
		if c.v.ExternalID == externalID {
			v := c.v
			return &v, nil
		}
	}
	return nil, missing("customer", externalID)
}

func (s *state) InsertCustomer(_ context.Context, c *tenancy.Customer) error {
	if _, ok := s.customers[c.ID]; ok {
		return duplicate("customer %s exists", c.ID)
	}
	for _, other := range s.customers {
		if other.v.ExternalID == c.ExternalID {
			return duplicate("customer with external id %s exists", c.ExternalID)
		}
	}
	s.customers[c.ID] = row[tenancy.Customer]{v: *c, seq: s.next()}
	return nil
}

func (s *state) UpdateCustomer(_ context.Context, c *tenancy.Customer) error {
	cur, ok := s.customers[c.ID]
	if !ok {
		return missing("customer", c.ID)
	}
	cur.v = *c
	s.customers[c.ID] = cur
	return nil
}

// ----- bookings -----

func (s *state) GetBooking(_ context.Context, id tenancy.BookingID) (*tenancy.Booking, error) {
	b, ok := s.bookings[id]
	if !ok {
		return nil, missing("booking", id)
	}
	v := b.v
	return &v, nil
}

func (s *state) ListBookings(_ context.Context, f tenancy.BookingFilter) ([]tenancy.Booking, error) {
	return sorted(s.bookings, func(b tenancy.Booking) time.Time { return b.CreatedAt }, f.Match), nil
}

// checkActiveBooking mirrors the partial unique indexes on active bookings.
func (s *state) checkActiveBooking(b *tenancy.Booking) error {
	if !b.Status.Active() {
		return nil
	}
	for id, other := range s.bookings {
		if id == b.ID || !other.v.Status.Active() {
			continue
		}
		if other.v.RoomID == b.RoomID {
			return duplicate("room %s already has active booking %s", b.RoomID, id)
		}
		if other.v.CustomerID == b.CustomerID {
			return duplicate("customer %s already has active booking %s", b.CustomerID, id)
		}
	}
	return nil
}

func (s *state) InsertBooking(_ context.Context, b *tenancy.Booking) error {
	if _, ok := s.bookings[b.ID]; ok {
		return duplicate("booking %s exists", b.ID)
	}
	if err := s.checkActiveBooking(b); err != nil {
		return err
	}
	s.bookings[b.ID] = row[tenancy.Booking]{v: *b, seq: s.next()}
	return nil
}

func (s *state) UpdateBooking(_ context.Context, b *tenancy.Booking) error {
	cur, ok := s.bookings[b.ID]
	if !ok {
		return missing("booking", b.ID)
	}
	if cur.v.Version != b.Version {
		return stale("booking", b.ID, cur.v.Version, b.Version)
	}
	if err := s.checkActiveBooking(b); err != nil {
		return err
	}
	b.Version++
	cur.v = *b
	s.bookings[b.ID] = cur
	return nil
}

func (s *state) DeleteBooking(_ context.Context, id tenancy.BookingID) error {
	if _, ok := s.bookings[id]; !ok {
		return missing("booking", id)
	}
	delete(s.bookings, id)
	return nil
}

// ----- bills -----

func (s *state) GetBill(_ context.Context, id tenancy.BillID) (*tenancy.Bill, error) {
	b, ok := s.bills[id]
	if !ok {
		return nil, missing("bill", id)
	}
	v := b.v
	return &v, nil
}

func (s *state) ListBills(_ context.Context, f tenancy.BillFilter) ([]tenancy.Bill, error) {
	return sorted(s.bills, func(b tenancy.Bill) time.Time { return b.CreatedAt }, f.Match), nil
}

func (s *state) LatestBillForRoom(_ context.Context, roomID tenancy.RoomID) (*tenancy.Bill, error) {
	bills := sorted(s.bills, func(b tenancy.Bill) time.Time { return b.CreatedAt },
		func(b tenancy.Bill) bool { return b.RoomID == roomID })
	if len(bills) == 0 {
		return nil, nil
	}
	latest := bills[len(bills)-1]
	return &latest, nil
}

func (s *state) InsertBill(_ context.Context, b *tenancy.Bill) error {
	if _, ok := s.bills[b.ID]; ok {
		return duplicate("bill %s exists", b.ID)
	}
	for _, other := range s.bills {
		if other.v.RoomID == b.RoomID && other.v.PeriodMonth.Equal(b.PeriodMonth) {
			return duplicate("room %s already billed for %s", b.RoomID, b.PeriodMonth.Format(tenancy.MonthLayout))
		}
	}
	s.bills[b.ID] = row[tenancy.Bill]{v: *b, seq: s.next()}
	return nil
}

func (s *state) UpdateBill(_ context.Context, b *tenancy.Bill) error {
	cur, ok := s.bills[b.ID]
	if !ok {
		return missing("bill", b.ID)
	}
	if cur.v.Version != b.Version {
		return stale("bill", b.ID, cur.v.Version, b.Version)
	}
	b.Version++
	cur.v = *b
	s.bills[b.ID] = cur
	return nil
}

func (s *state) DeleteBill(_ context.Context, id tenancy.BillID) error {
	if _, ok := s.bills[id]; !ok {
		return missing("bill", id)
	}
	delete(s.bills, id)
	return nil
}

// ----- payments -----

func (s *state) GetPayment(_ context.Context, id tenancy.PaymentID) (*tenancy.Payment, error) {
	p, ok := s.payments[id]
	if !ok {
		return nil, missing("payment", id)
	}
	v := p.v
	return &v, nil
}

func (s *state) ListPayments(_ context.Context, f tenancy.PaymentFilter) ([]tenancy.Payment, error) {
	return sorted(s.payments, func(p tenancy.Payment) time.Time { return p.CreatedAt }, f.Match), nil
}

// checkOpenPayment mirrors the partial unique index on submitted bill
// payments.
func (s *state) checkOpenPayment(p *tenancy.Payment) error {
	if p.Status != tenancy.PaymentSubmitted || p.BillID == nil {
		return nil
	}
	for id, other := range s.payments {
		if id == p.ID || other.v.Status != tenancy.PaymentSubmitted || other.v.BillID == nil {
			continue
		}
		if *other.v.BillID == *p.BillID {
			return duplicate("bill %s already has open payment %s", *p.BillID, id)
		}
	}
	return nil
}

func (s *state) InsertPayment(_ context.Context, p *tenancy.Payment) error {
	if _, ok := s.payments[p.ID]; ok {
		return duplicate("payment %s exists", p.ID)
	}
	if err := s.checkOpenPayment(p); err != nil {
		return err
	}
	s.payments[p.ID] = row[tenancy.Payment]{v: *p, seq: s.next()}
	return nil
}

func (s *state) UpdatePayment(_ context.Context, p *tenancy.Payment) error {
	cur, ok := s.payments[p.ID]
	if !ok {
		return missing("payment", p.ID)
	}
	if err := s.checkOpenPayment(p); err != nil {
		return err
	}
	cur.v = *p
	s.payments[p.ID] = cur
	return nil
}

func (s *state) DeletePayment(_ context.Context, id tenancy.PaymentID) error {
	if _, ok := s.payments[id]; !ok {
		return missing("payment", id)
	}
	delete(s.payments, id)
	return nil
}
