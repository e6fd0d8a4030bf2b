/*
store.go - Persistence interface for rooms, customers, bookings, bills, payments

PURPOSE:
  Defines the interface between the lifecycle engines and the database.
  The Store provides point reads, filtered scans and versioned writes; the
  TxStore adds all-or-nothing execution of a group of writes.

KEY INTERFACES:
  Store:   Point reads, scans, inserts, versioned updates, deletes
  TxStore: Transactional operations (atomic multi-record writes)

CONTRACT:
  - Get* returns an error wrapping ErrNotFound when the record is missing.
  - Update* succeeds only if the stored Version equals the Version of the
    record passed in; the stored Version is then incremented and written
    back into the passed record. A mismatch returns
    ErrConcurrentModification.
  - Insert* fails with an error wrapping ErrConflict when a uniqueness
    rule is violated (duplicate ID, duplicate external identity, second
    bill for a room period, second active booking for a room).
  - Scans return records ordered by CreatedAt ascending.

ATOMIC UPDATES:
  WithTx() ensures all-or-nothing semantics. Approving a booking writes the
  booking and the room; either both are written or neither is. Engines
  re-read every record they write inside the same WithTx call.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - tenancy/store/memory.go: In-memory for testing

SEE ALSO:
  - booking.go, billing.go, payment.go: callers
*/
package tenancy

import "context"

// =============================================================================
// STORE - Interface for entity persistence
// =============================================================================

// Store handles persistence of tenancy records.
type Store interface {
	RoomStore
	CustomerStore
	BookingStore
	BillStore
	PaymentStore
}

type RoomStore interface {
	GetRoom(ctx context.Context, id RoomID) (*Room, error)
	ListRooms(ctx context.Context, filter RoomFilter) ([]Room, error)
	InsertRoom(ctx context.Context, room *Room) error
	UpdateRoom(ctx context.Context, room *Room) error
	DeleteRoom(ctx context.Context, id RoomID) error
}

type CustomerStore interface {
	GetCustomer(ctx context.Context, id CustomerID) (*Customer, error)
	GetCustomerByExternalID(ctx context.Context, externalID string) (*Customer, error)
	InsertCustomer(ctx context.Context, customer *Customer) error
	UpdateCustomer(ctx context.Context, customer *Customer) error
}

type BookingStore interface {
	GetBooking(ctx context.Context, id BookingID) (*Booking, error)
	ListBookings(ctx context.Context, filter BookingFilter) ([]Booking, error)
	InsertBooking(ctx context.Context, booking *Booking) error
	UpdateBooking(ctx context.Context, booking *Booking) error
	DeleteBooking(ctx context.Context, id BookingID) error
}

type BillStore interface {
	GetBill(ctx context.Context, id BillID) (*Bill, error)
	ListBills(ctx context.Context, filter BillFilter) ([]Bill, error)
	// LatestBillForRoom returns the most recently created bill of a room,
	// or nil when the room has never been billed.
	LatestBillForRoom(ctx context.Context, roomID RoomID) (*Bill, error)
	InsertBill(ctx context.Context, bill *Bill) error
	UpdateBill(ctx context.Context, bill *Bill) error
	DeleteBill(ctx context.Context, id BillID) error
}

type PaymentStore interface {
	GetPayment(ctx context.Context, id PaymentID) (*Payment, error)
	ListPayments(ctx context.Context, filter PaymentFilter) ([]Payment, error)
	InsertPayment(ctx context.Context, payment *Payment) error
	UpdatePayment(ctx context.Context, payment *Payment) error
	DeletePayment(ctx context.Context, id PaymentID) error
}

// =============================================================================
// TRANSACTIONAL STORE - For atomic operations across multiple writes
// =============================================================================

// TxStore wraps Store with transaction support.
// Use this when a transition touches more than one record.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// SLIP STORE - External storage of payment slip images
// =============================================================================

// SlipStore stores payment slip images and hands back opaque references.
type SlipStore interface {
	Put(ctx context.Context, data []byte) (SlipRef, error)
	Delete(ctx context.Context, ref SlipRef) error
}
