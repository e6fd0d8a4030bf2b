/*
Package tenancy provides the dormitory tenancy lifecycle and billing engine.

PURPOSE:
  Holds the entities (Room, Customer, Booking, Bill, Payment), their state
  machines, the meter and fee calculator, and the services that drive the
  entities through their lifecycles against a transactional Store.

KEY CONCEPTS IN THIS FILE (types.go):
  - Typed identifiers: RoomID, CustomerID, BookingID, BillID, PaymentID
  - Status enums for every state machine
  - Entity records as persisted by the Store
  - Filters used for scans

DESIGN PRINCIPLES:
  1. Precision: money and meter readings use decimal.Decimal
  2. Type Safety: typed IDs prevent mixing a room ID with a bill ID
  3. Optimistic concurrency: every mutable record carries a Version that
     the Store checks on update

SEE ALSO:
  - store.go: Persistence interfaces
  - room.go, booking.go, billing.go, payment.go: lifecycle engines
  - calculator.go: Meter and fee arithmetic
*/
package tenancy

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type RoomID string
type CustomerID string
type BookingID string
type BillID string
type PaymentID string

// SlipRef is an opaque pointer to a stored payment slip image.
type SlipRef string

// =============================================================================
// ROOM
// =============================================================================

type RoomStatus string

const (
	RoomVacant   RoomStatus = "vacant"
	RoomOccupied RoomStatus = "occupied"
)

// Room is a rentable unit with a single occupancy state.
type Room struct {
	ID          RoomID
	Number      string
	Size        string
	MonthlyRent decimal.Decimal
	Deposit     decimal.Decimal
	BookingFee  decimal.Decimal
	Status      RoomStatus

	// OccupiedBy is the booking holding the room while Status is occupied.
	OccupiedBy *BookingID

	CreatedAt time.Time
	UpdatedAt time.Time
	Version   int64
}

type RoomFilter struct {
	Statuses []RoomStatus
}

// =============================================================================
// CUSTOMER
// =============================================================================

// Customer is a tenant, keyed by the identity of the external chat account.
type Customer struct {
	ID          CustomerID
	ExternalID  string
	DisplayName string
	Title       string
	FirstName   string
	LastName    string
	LegalName   string
	Phone       string
	NationalID  string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CustomerInput carries applicant fields submitted with a booking or a
// registration. Empty fields leave the stored value untouched.
type CustomerInput struct {
	ExternalID  string
	DisplayName string
	Title       string
	FirstName   string
	LastName    string
	Phone       string
	NationalID  string
}

// =============================================================================
// BOOKING
// =============================================================================

type BookingStatus string

const (
	BookingPending    BookingStatus = "pending"
	BookingApproved   BookingStatus = "approved"
	BookingRejected   BookingStatus = "rejected"
	BookingCheckedOut BookingStatus = "checked_out"
)

// Active reports whether the booking still claims its room.
func (s BookingStatus) Active() bool {
	return s == BookingPending || s == BookingApproved
}

type ReturnStatus string

const (
	ReturnNone     ReturnStatus = "none"
	ReturnPending  ReturnStatus = "pending_return"
	ReturnApproved ReturnStatus = "return_approved"
	ReturnRejected ReturnStatus = "return_rejected"
)

// Booking is a tenancy request/agreement linking a Customer to a Room.
type Booking struct {
	ID           BookingID
	RoomID       RoomID
	CustomerID   CustomerID
	CheckinDate  time.Time
	CheckoutDate *time.Time
	SlipRef      SlipRef
	Status       BookingStatus
	ReturnStatus ReturnStatus
	ApprovedBy   string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Version      int64
}

type BookingFilter struct {
	RoomID     *RoomID
	CustomerID *CustomerID
	Statuses   []BookingStatus
}

// =============================================================================
// BILL
// =============================================================================

type BillStatus string

const (
	BillUnpaid        BillStatus = "unpaid"
	BillPendingReview BillStatus = "pending_review"
	BillPaid          BillStatus = "paid"
)

// Bill is a monthly invoice for rent, service fee, utilities and fines.
type Bill struct {
	ID          BillID
	RoomID      RoomID
	CustomerID  CustomerID
	PeriodMonth time.Time

	WaterBefore    decimal.Decimal
	WaterAfter     decimal.Decimal
	WaterUnits     decimal.Decimal
	WaterUnitPrice decimal.Decimal
	WaterCost      decimal.Decimal

	ElectricBefore    decimal.Decimal
	ElectricAfter     decimal.Decimal
	ElectricUnits     decimal.Decimal
	ElectricUnitPrice decimal.Decimal
	ElectricCost      decimal.Decimal

	Rent        decimal.Decimal
	ServiceFee  decimal.Decimal
	Fine        decimal.Decimal
	OverdueDays int
	// FineLocked marks a fine set by staff; fine refresh leaves it alone.
	FineLocked bool
	Total      decimal.Decimal
	DueDate    time.Time

	Status     BillStatus
	SlipRef    SlipRef
	PaymentID  *PaymentID
	ApprovedBy string
	CreatedBy  string

	CreatedAt time.Time
	UpdatedAt time.Time
	Version   int64
}

type BillFilter struct {
	RoomID      *RoomID
	CustomerID  *CustomerID
	PeriodMonth *time.Time
	Statuses    []BillStatus
}

// =============================================================================
// PAYMENT
// =============================================================================

type PaymentStatus string

const (
	PaymentSubmitted PaymentStatus = "submitted"
	PaymentVerified  PaymentStatus = "verified"
)

// Payment is a tenant-submitted proof of payment for a Bill or a Booking
// deposit. Exactly one of BillID and BookingID is set.
type Payment struct {
	ID         PaymentID
	BillID     *BillID
	BookingID  *BookingID
	CustomerID CustomerID
	SlipRef    SlipRef
	Status     PaymentStatus
	VerifiedBy string
	VerifiedAt *time.Time
	CreatedAt  time.Time
}

type PaymentFilter struct {
	BillID     *BillID
	BookingID  *BookingID
	CustomerID *CustomerID
	Statuses   []PaymentStatus
}

// =============================================================================
// FILTER MATCHING (shared by store implementations)
// =============================================================================

func (f RoomFilter) Match(r Room) bool {
	return len(f.Statuses) == 0 || containsStatus(f.Statuses, r.Status)
}

func (f BookingFilter) Match(b Booking) bool {
	if f.RoomID != nil && b.RoomID != *f.RoomID {
		return false
	}
	if f.CustomerID != nil && b.CustomerID != *f.CustomerID {
		return false
	}
	return len(f.Statuses) == 0 || containsStatus(f.Statuses, b.Status)
}

func (f BillFilter) Match(b Bill) bool {
	if f.RoomID != nil && b.RoomID != *f.RoomID {
		return false
	}
	if f.CustomerID != nil && b.CustomerID != *f.CustomerID {
		return false
	}
	if f.PeriodMonth != nil && !b.PeriodMonth.Equal(*f.PeriodMonth) {
		return false
	}
	return len(f.Statuses) == 0 || containsStatus(f.Statuses, b.Status)
}

func (f PaymentFilter) Match(p Payment) bool {
	if f.BillID != nil && (p.BillID == nil || *p.BillID != *f.BillID) {
		return false
	}
	if f.BookingID != nil && (p.BookingID == nil || *p.BookingID != *f.BookingID) {
		return false
	}
	if f.CustomerID != nil && p.CustomerID != *f.CustomerID {
		return false
	}
	return len(f.Statuses) == 0 || containsStatus(f.Statuses, p.Status)
}

func containsStatus[T comparable](list []T, v T) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
