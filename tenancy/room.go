/*
room.go - Room occupancy state machine and room catalog

STATES:
  vacant ──occupy(booking)──▶ occupied ──release(booking)──▶ vacant

  occupy   on booking approval
  release  on return approval, booking rejection, booking deletion

INVARIANT:
  A room occupied by booking A cannot be occupied by booking B. The
  transitions are only called inside the WithTx of the booking transition
  that causes them, so room and booking change together or not at all.

CATALOG:
  RoomService exposes the minimum catalog needed to drive the engine:
  create, get, list, delete. Delete is refused while an active booking
  references the room.
*/
package tenancy

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STATE MACHINE
// =============================================================================

// occupy marks the room occupied by booking.
func (r *Room) occupy(booking BookingID, op string) error {
	if r.Status == RoomOccupied && (r.OccupiedBy == nil || *r.OccupiedBy != booking) {
		return conflict(op, "room", string(r.ID), "room %s is already occupied", r.Number)
	}
	r.Status = RoomOccupied
	r.OccupiedBy = &booking
	return nil
}

// release frees the room if it is held by booking or by nobody. It reports
// whether the room changed.
func (r *Room) release(booking BookingID) bool {
	if r.OccupiedBy != nil && *r.OccupiedBy != booking {
		return false
	}
	if r.Status == RoomVacant && r.OccupiedBy == nil {
		return false
	}
	r.Status = RoomVacant
	r.OccupiedBy = nil
	return true
}

// =============================================================================
// ROOM SERVICE - Catalog operations
// =============================================================================

type RoomService struct {
	*engine
}

type CreateRoomInput struct {
	Number      string
	Size        string
	MonthlyRent decimal.Decimal
	Deposit     decimal.Decimal
	BookingFee  decimal.Decimal
}

// Create adds a vacant room to the catalog.
func (s *RoomService) Create(ctx context.Context, in CreateRoomInput) (*Room, error) {
	const op = "room.create"
	if strings.TrimSpace(in.Number) == "" {
		return nil, invalid(op, "room number is required")
	}
	if in.MonthlyRent.IsNegative() || in.Deposit.IsNegative() || in.BookingFee.IsNegative() {
		return nil, invalid(op, "room prices must not be negative")
	}

	now := s.now()
	room := &Room{
		ID:          RoomID(newID()),
		Number:      strings.TrimSpace(in.Number),
		Size:        in.Size,
		MonthlyRent: in.MonthlyRent,
		Deposit:     in.Deposit,
		BookingFee:  in.BookingFee,
		Status:      RoomVacant,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.tx(ctx, op, func(st Store) error {
		return st.InsertRoom(ctx, room)
	}); err != nil {
		return nil, err
	}
	return room, nil
}

func (s *RoomService) Get(ctx context.Context, id RoomID) (*Room, error) {
	const op = "room.get"
	var room *Room
	err := s.read(ctx, op, func(st Store) error {
		var err error
		room, err = loadRoom(ctx, st, op, id)
		return err
	})
	return room, err
}

func (s *RoomService) List(ctx context.Context, filter RoomFilter) ([]Room, error) {
	var rooms []Room
	err := s.read(ctx, "room.list", func(st Store) error {
		var err error
		rooms, err = st.ListRooms(ctx, filter)
		return err
	})
	return rooms, err
}

// Delete removes a room that no active booking references.
func (s *RoomService) Delete(ctx context.Context, id RoomID) error {
	const op = "room.delete"
	return s.tx(ctx, op, func(st Store) error {
		room, err := loadRoom(ctx, st, op, id)
		if err != nil {
			return err
		}
		active, err := st.ListBookings(ctx, BookingFilter{RoomID: &room.ID, Statuses: activeStatuses})
		if err != nil {
			return err
		}
		if len(active) > 0 || room.Status == RoomOccupied {
			return conflict(op, "room", string(id), "room %s has an active booking", room.Number)
		}
		return st.DeleteRoom(ctx, id)
	})
}

// =============================================================================
// LOADERS - Point reads that turn store misses into classified errors
// =============================================================================

var activeStatuses = []BookingStatus{BookingPending, BookingApproved}

func loadRoom(ctx context.Context, st Store, op string, id RoomID) (*Room, error) {
	room, err := st.GetRoom(ctx, id)
	if IsNotFound(err) {
		return nil, notFound(op, "room", string(id))
	}
	return room, err
}

func loadCustomer(ctx context.Context, st Store, op string, id CustomerID) (*Customer, error) {
	c, err := st.GetCustomer(ctx, id)
	if IsNotFound(err) {
		return nil, notFound(op, "customer", string(id))
	}
	return c, err
}

func loadBooking(ctx context.Context, st Store, op string, id BookingID) (*Booking, error) {
	b, err := st.GetBooking(ctx, id)
	if IsNotFound(err) {
		return nil, notFound(op, "booking", string(id))
	}
	return b, err
}

func loadBill(ctx context.Context, st Store, op string, id BillID) (*Bill, error) {
	b, err := st.GetBill(ctx, id)
	if IsNotFound(err) {
		return nil, notFound(op, "bill", string(id))
	}
	return b, err
}

func loadPayment(ctx context.Context, st Store, op string, id PaymentID) (*Payment, error) {
	p, err := st.GetPayment(ctx, id)
	if IsNotFound(err) {
		return nil, notFound(op, "payment", string(id))
	}
	return p, err
}

// customerByExternalID returns nil when no customer has the identity.
func customerByExternalID(ctx context.Context, st Store, externalID string) (*Customer, error) {
	c, err := st.GetCustomerByExternalID(ctx, externalID)
	if IsNotFound(err) {
		return nil, nil
	}
	return c, err
}
