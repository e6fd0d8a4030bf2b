/*
booking.go - Booking lifecycle engine

PURPOSE:
  Drives a Booking from application to checkout. Every transition that also
  touches the Room (approve, reject, approve return, delete) runs in one
  WithTx call so booking and room can never disagree.

STATUS MACHINE:
  ┌─────────┐  approve   ┌──────────┐  approveReturn   ┌─────────────┐
  │ pending │──────────▶│ approved │────────────────▶│ checked_out │
  └─────────┘            └──────────┘                  └─────────────┘
       │ reject               │
       ▼                      │ returnStatus cycles independently:
  ┌──────────┐                │   none ──requestCheckout──▶ pending_return
  │ rejected │                │   pending_return ──withdraw──▶ none
  └──────────┘                │   pending_return ──rejectReturn──▶ return_rejected
                              │   return_rejected ──requestCheckout──▶ pending_return

ROOM RESERVATION:
  The room is reserved when staff approve the booking, not when the tenant
  applies. A room with an open application stays vacant, but no second
  application for it is accepted until the first is decided.

DUPLICATE TENANCY:
  Create refuses a room that is occupied or already has a pending/approved
  booking, and a customer who already has a pending/approved booking.

SEE ALSO:
  - room.go: occupy/release transitions
  - payment.go: deposit slips attached to bookings
*/
package tenancy

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
)

type BookingService struct {
	*engine
}

// CreateBookingInput is a tenant's application for a room.
type CreateBookingInput struct {
	Customer    CustomerInput
	RoomID      RoomID
	CheckinDate time.Time
	// SlipRef is the optional deposit slip uploaded with the application.
	SlipRef SlipRef
}

// =============================================================================
// APPLICATION
// =============================================================================

// Create records a pending booking and upserts the applicant. When a slip
// is attached, a submitted deposit payment is recorded in the same
// transaction.
func (s *BookingService) Create(ctx context.Context, in CreateBookingInput) (*Booking, error) {
	const op = "booking.create"
	if strings.TrimSpace(in.Customer.ExternalID) == "" {
		return nil, invalid(op, "customer external identity is required")
	}
	if in.RoomID == "" {
		return nil, invalid(op, "room is required")
	}
	if in.CheckinDate.IsZero() {
		return nil, invalid(op, "checkin date is required")
	}

	var (
		booking  *Booking
		customer *Customer
		room     *Room
	)
	err := s.tx(ctx, op, func(st Store) error {
		var err error
		now := s.now()

		// 1. Room must be free and unclaimed
		room, err = loadRoom(ctx, st, op, in.RoomID)
		if err != nil {
			return err
		}
		if room.Status != RoomVacant {
			return conflict(op, "room", string(room.ID), "room %s is not vacant", room.Number)
		}
		claims, err := st.ListBookings(ctx, BookingFilter{RoomID: &room.ID, Statuses: activeStatuses})
		if err != nil {
			return err
		}
		if len(claims) > 0 {
			return conflict(op, "room", string(room.ID), "room %s already has an open booking", room.Number)
		}

		// 2. Customer may hold only one active booking
		customer, err = upsertCustomer(ctx, st, in.Customer, now)
		if err != nil {
			return err
		}
		held, err := st.ListBookings(ctx, BookingFilter{CustomerID: &customer.ID, Statuses: activeStatuses})
		if err != nil {
			return err
		}
		if len(held) > 0 {
			return conflict(op, "customer", string(customer.ID), "customer already has an active booking")
		}

		// 3. Insert booking and optional deposit payment
		booking = &Booking{
			ID:           BookingID(newID()),
			RoomID:       room.ID,
			CustomerID:   customer.ID,
			CheckinDate:  DayOf(in.CheckinDate.In(s.cfg.Location)),
			SlipRef:      in.SlipRef,
			Status:       BookingPending,
			ReturnStatus: ReturnNone,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := st.InsertBooking(ctx, booking); err != nil {
			return err
		}
		if in.SlipRef != "" {
			return st.InsertPayment(ctx, depositPayment(booking, in.SlipRef, now))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("booking created",
		zap.String("booking_id", string(booking.ID)),
		zap.String("room_id", string(room.ID)),
		zap.String("customer_id", string(customer.ID)),
	)
	s.emit(ctx, bookingEvent(EventBookingCreated, booking, customer, room))
	return booking, nil
}

// =============================================================================
// STAFF DECISIONS ON THE APPLICATION
// =============================================================================

// Approve moves a pending booking to approved and occupies its room. Any
// open deposit payment is verified together with the booking.
func (s *BookingService) Approve(ctx context.Context, id BookingID, approverID string) (*Booking, error) {
	const op = "booking.approve"
	return s.transition(ctx, op, id, EventBookingApproved, func(st Store, b *Booking, room *Room) error {
		if b.Status != BookingPending {
			return conflict(op, "booking", string(b.ID), "booking is %s, not pending", b.Status)
		}
		if room == nil {
			return notFound(op, "room", string(b.RoomID))
		}
		if err := room.occupy(b.ID, op); err != nil {
			return err
		}
		now := s.now()
		room.UpdatedAt = now
		if err := st.UpdateRoom(ctx, room); err != nil {
			return err
		}

		b.Status = BookingApproved
		b.ApprovedBy = approverID
		b.UpdatedAt = now
		if err := st.UpdateBooking(ctx, b); err != nil {
			return err
		}
		return verifyDeposits(ctx, st, b.ID, approverID, now)
	})
}

// Reject moves a pending booking to rejected, releases any hold it has on
// the room and discards its open deposit payment. The slip stays referenced
// by the booking for the refund.
func (s *BookingService) Reject(ctx context.Context, id BookingID, approverID string) (*Booking, error) {
	const op = "booking.reject"
	return s.transition(ctx, op, id, EventBookingRejected, func(st Store, b *Booking, room *Room) error {
		if b.Status != BookingPending {
			return conflict(op, "booking", string(b.ID), "booking is %s, not pending", b.Status)
		}
		now := s.now()
		if err := releaseRoom(ctx, st, room, b.ID, now); err != nil {
			return err
		}

		b.Status = BookingRejected
		b.ApprovedBy = approverID
		b.UpdatedAt = now
		if err := st.UpdateBooking(ctx, b); err != nil {
			return err
		}

		open, err := st.ListPayments(ctx, PaymentFilter{BookingID: &b.ID, Statuses: []PaymentStatus{PaymentSubmitted}})
		if err != nil {
			return err
		}
		for _, p := range open {
			if err := st.DeletePayment(ctx, p.ID); err != nil {
				return err
			}
		}
		return nil
	})
}

// =============================================================================
// CHECKOUT (RETURN) FLOW
// =============================================================================

// RequestCheckout is issued by the tenant holding the booking.
func (s *BookingService) RequestCheckout(ctx context.Context, id BookingID, checkoutDate time.Time, requesterExternalID string) (*Booking, error) {
	const op = "booking.request_checkout"
	if checkoutDate.IsZero() {
		return nil, invalid(op, "checkout date is required")
	}
	checkout := DayOf(checkoutDate.In(s.cfg.Location))

	return s.transition(ctx, op, id, EventCheckoutRequested, func(st Store, b *Booking, _ *Room) error {
		if err := s.requireOwner(ctx, st, op, b, requesterExternalID); err != nil {
			return err
		}
		if b.Status != BookingApproved {
			return conflict(op, "booking", string(b.ID), "booking is %s, not approved", b.Status)
		}
		if b.ReturnStatus != ReturnNone && b.ReturnStatus != ReturnRejected {
			return conflict(op, "booking", string(b.ID), "checkout already %s", b.ReturnStatus)
		}
		if checkout.Before(DayOf(b.CheckinDate.In(s.cfg.Location))) {
			return invalid(op, "checkout date %s is before checkin %s",
				checkout.Format(DateLayout), b.CheckinDate.Format(DateLayout))
		}

		b.CheckoutDate = &checkout
		b.ReturnStatus = ReturnPending
		b.UpdatedAt = s.now()
		return st.UpdateBooking(ctx, b)
	})
}

// WithdrawCheckout cancels the tenant's own pending checkout request.
func (s *BookingService) WithdrawCheckout(ctx context.Context, id BookingID, requesterExternalID string) (*Booking, error) {
	const op = "booking.withdraw_checkout"
	return s.transition(ctx, op, id, EventCheckoutWithdrawn, func(st Store, b *Booking, _ *Room) error {
		if err := s.requireOwner(ctx, st, op, b, requesterExternalID); err != nil {
			return err
		}
		if b.Status != BookingApproved || b.ReturnStatus != ReturnPending {
			return conflict(op, "booking", string(b.ID), "no pending checkout request")
		}
		b.CheckoutDate = nil
		b.ReturnStatus = ReturnNone
		b.UpdatedAt = s.now()
		return st.UpdateBooking(ctx, b)
	})
}

// ApproveReturn ends the tenancy and frees the room.
func (s *BookingService) ApproveReturn(ctx context.Context, id BookingID, approverID string) (*Booking, error) {
	const op = "booking.approve_return"
	return s.transition(ctx, op, id, EventReturnApproved, func(st Store, b *Booking, room *Room) error {
		if b.Status != BookingApproved || b.ReturnStatus != ReturnPending {
			return conflict(op, "booking", string(b.ID), "return is %s, not pending", b.ReturnStatus)
		}
		now := s.now()
		if err := releaseRoom(ctx, st, room, b.ID, now); err != nil {
			return err
		}
		b.ReturnStatus = ReturnApproved
		b.Status = BookingCheckedOut
		b.ApprovedBy = approverID
		b.UpdatedAt = now
		return st.UpdateBooking(ctx, b)
	})
}

// RejectReturn refuses the checkout. The tenancy and the room are unchanged.
func (s *BookingService) RejectReturn(ctx context.Context, id BookingID, approverID string) (*Booking, error) {
	const op = "booking.reject_return"
	return s.transition(ctx, op, id, EventReturnRejected, func(st Store, b *Booking, _ *Room) error {
		if b.Status != BookingApproved || b.ReturnStatus != ReturnPending {
			return conflict(op, "booking", string(b.ID), "return is %s, not pending", b.ReturnStatus)
		}
		b.ReturnStatus = ReturnRejected
		b.ApprovedBy = approverID
		b.UpdatedAt = s.now()
		return st.UpdateBooking(ctx, b)
	})
}

// =============================================================================
// STAFF EDITS
// =============================================================================

// BookingUpdate is a staff correction of an application. Empty customer
// fields and a nil date are left unchanged; Customer.ExternalID is ignored.
// Status changes go through Approve/Reject and the return flow.
type BookingUpdate struct {
	Customer    CustomerInput
	CheckinDate *time.Time
}

// Update corrects the applicant's details or the check-in date of a
// pending or approved booking.
func (s *BookingService) Update(ctx context.Context, id BookingID, upd BookingUpdate) (*Booking, error) {
	const op = "booking.update"
	var (
		booking  *Booking
		customer *Customer
		room     *Room
		changed  bool
	)
	err := s.tx(ctx, op, func(st Store) error {
		var err error
		booking, err = loadBooking(ctx, st, op, id)
		if err != nil {
			return err
		}
		if !booking.Status.Active() {
			return conflict(op, "booking", string(booking.ID), "booking is %s", booking.Status)
		}
		now := s.now()

		if upd.CheckinDate != nil {
			checkin := DayOf(upd.CheckinDate.In(s.cfg.Location))
			if booking.CheckoutDate != nil && booking.CheckoutDate.Before(checkin) {
				return invalid(op, "checkin date %s is after checkout %s",
					checkin.Format(DateLayout), booking.CheckoutDate.Format(DateLayout))
			}
			if !checkin.Equal(booking.CheckinDate) {
				booking.CheckinDate = checkin
				booking.UpdatedAt = now
				if err := st.UpdateBooking(ctx, booking); err != nil {
					return err
				}
				changed = true
			}
		}

		customer, err = loadCustomer(ctx, st, op, booking.CustomerID)
		if err != nil {
			return err
		}
		details := upd.Customer
		details.ExternalID = customer.ExternalID
		if customer.apply(details, now) {
			if err := st.UpdateCustomer(ctx, customer); err != nil {
				return err
			}
			changed = true
		}

		room, _, err = s.parties(ctx, st, booking)
		return err
	})
	if err != nil {
		return nil, err
	}

	if changed {
		s.logger.Info("booking updated", zap.String("booking_id", string(booking.ID)))
		s.emit(ctx, bookingEvent(EventBookingUpdated, booking, customer, room))
	}
	return booking, nil
}

// RescheduleCheckout moves the date of a requested checkout. The return
// decision, pending or rejected, is kept.
func (s *BookingService) RescheduleCheckout(ctx context.Context, id BookingID, checkoutDate time.Time) (*Booking, error) {
	const op = "booking.reschedule_checkout"
	if checkoutDate.IsZero() {
		return nil, invalid(op, "checkout date is required")
	}
	checkout := DayOf(checkoutDate.In(s.cfg.Location))

	return s.transition(ctx, op, id, EventBookingUpdated, func(st Store, b *Booking, _ *Room) error {
		if b.Status != BookingApproved || b.CheckoutDate == nil {
			return conflict(op, "booking", string(b.ID), "no checkout has been requested")
		}
		if checkout.Before(DayOf(b.CheckinDate.In(s.cfg.Location))) {
			return invalid(op, "checkout date %s is before checkin %s",
				checkout.Format(DateLayout), b.CheckinDate.Format(DateLayout))
		}
		b.CheckoutDate = &checkout
		b.UpdatedAt = s.now()
		return st.UpdateBooking(ctx, b)
	})
}

// =============================================================================
// CLEANUP
// =============================================================================

// Delete removes a booking in any state. The room is released if this
// booking holds it and the booking's payments are removed. Slip files are
// deleted after commit.
func (s *BookingService) Delete(ctx context.Context, id BookingID) error {
	const op = "booking.delete"
	var (
		booking  *Booking
		customer *Customer
		room     *Room
		slips    []SlipRef
	)
	err := s.tx(ctx, op, func(st Store) error {
		var err error
		booking, err = loadBooking(ctx, st, op, id)
		if err != nil {
			return err
		}
		room, customer, err = s.parties(ctx, st, booking)
		if err != nil {
			return err
		}
		if err := releaseRoom(ctx, st, room, booking.ID, s.now()); err != nil {
			return err
		}

		slips = appendSlip(slips, booking.SlipRef)
		payments, err := st.ListPayments(ctx, PaymentFilter{BookingID: &booking.ID})
		if err != nil {
			return err
		}
		for _, p := range payments {
			slips = appendSlip(slips, p.SlipRef)
			if err := st.DeletePayment(ctx, p.ID); err != nil {
				return err
			}
		}
		return st.DeleteBooking(ctx, booking.ID)
	})
	if err != nil {
		return err
	}

	s.dropSlips(ctx, slips...)
	s.emit(ctx, bookingEvent(EventBookingDeleted, booking, customer, room))
	return nil
}

// =============================================================================
// QUERIES
// =============================================================================

func (s *BookingService) Get(ctx context.Context, id BookingID) (*Booking, error) {
	const op = "booking.get"
	var b *Booking
	err := s.read(ctx, op, func(st Store) error {
		var err error
		b, err = loadBooking(ctx, st, op, id)
		return err
	})
	return b, err
}

func (s *BookingService) List(ctx context.Context, filter BookingFilter) ([]Booking, error) {
	var out []Booking
	err := s.read(ctx, "booking.list", func(st Store) error {
		var err error
		out, err = st.ListBookings(ctx, filter)
		return err
	})
	return out, err
}

// ListForCustomer returns the bookings of the customer with the given
// external identity. An unknown identity has no bookings.
func (s *BookingService) ListForCustomer(ctx context.Context, externalID string) ([]Booking, error) {
	var out []Booking
	err := s.read(ctx, "booking.list_for_customer", func(st Store) error {
		c, err := customerByExternalID(ctx, st, externalID)
		if err != nil || c == nil {
			return err
		}
		out, err = st.ListBookings(ctx, BookingFilter{CustomerID: &c.ID})
		return err
	})
	return out, err
}

// =============================================================================
// INTERNALS
// =============================================================================

// transition loads a booking and its parties inside a transaction, applies
// fn and emits the event after commit.
func (s *BookingService) transition(
	ctx context.Context,
	op string,
	id BookingID,
	eventType EventType,
	fn func(st Store, b *Booking, room *Room) error,
) (*Booking, error) {
	var (
		booking  *Booking
		customer *Customer
		room     *Room
	)
	err := s.tx(ctx, op, func(st Store) error {
		var err error
		booking, err = loadBooking(ctx, st, op, id)
		if err != nil {
			return err
		}
		room, customer, err = s.parties(ctx, st, booking)
		if err != nil {
			return err
		}
		return fn(st, booking, room)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("booking transition",
		zap.String("op", op),
		zap.String("booking_id", string(booking.ID)),
		zap.String("status", string(booking.Status)),
		zap.String("return_status", string(booking.ReturnStatus)),
	)
	s.emit(ctx, bookingEvent(eventType, booking, customer, room))
	return booking, nil
}

// parties loads the room and customer of b. A room or customer that has
// disappeared is returned as nil.
func (s *BookingService) parties(ctx context.Context, st Store, b *Booking) (*Room, *Customer, error) {
	room, err := st.GetRoom(ctx, b.RoomID)
	if err != nil && !IsNotFound(err) {
		return nil, nil, err
	}
	customer, err := st.GetCustomer(ctx, b.CustomerID)
	if err != nil && !IsNotFound(err) {
		return nil, nil, err
	}
	return room, customer, nil
}

func (s *BookingService) requireOwner(ctx context.Context, st Store, op string, b *Booking, externalID string) error {
	c, err := customerByExternalID(ctx, st, externalID)
	if err != nil {
		return err
	}
	if c == nil || c.ID != b.CustomerID {
		return forbidden(op, "booking", string(b.ID), "booking belongs to another customer")
	}
	return nil
}

// releaseRoom frees room if it is held by booking. A nil room is ignored.
func releaseRoom(ctx context.Context, st Store, room *Room, booking BookingID, now time.Time) error {
	if room == nil || !room.release(booking) {
		return nil
	}
	room.UpdatedAt = now
	return st.UpdateRoom(ctx, room)
}

func verifyDeposits(ctx context.Context, st Store, booking BookingID, approverID string, now time.Time) error {
	open, err := st.ListPayments(ctx, PaymentFilter{BookingID: &booking, Statuses: []PaymentStatus{PaymentSubmitted}})
	if err != nil {
		return err
	}
	for i := range open {
		p := open[i]
		p.Status = PaymentVerified
		p.VerifiedBy = approverID
		p.VerifiedAt = &now
		if err := st.UpdatePayment(ctx, &p); err != nil {
			return err
		}
	}
	return nil
}

func depositPayment(b *Booking, slip SlipRef, now time.Time) *Payment {
	id := b.ID
	return &Payment{
		ID:         PaymentID(newID()),
		BookingID:  &id,
		CustomerID: b.CustomerID,
		SlipRef:    slip,
		Status:     PaymentSubmitted,
		CreatedAt:  now,
	}
}

func appendSlip(refs []SlipRef, ref SlipRef) []SlipRef {
	if ref == "" || containsStatus(refs, ref) {
		return refs
	}
	return append(refs, ref)
}

func bookingEvent(t EventType, b *Booking, c *Customer, room *Room) Event {
	e := customerEvent(t, c, room)
	e.BookingID = string(b.ID)
	e.SlipRef = string(b.SlipRef)
	e.CheckinDate = timePtr(b.CheckinDate)
	if b.CheckoutDate != nil {
		e.CheckoutDate = timePtr(*b.CheckoutDate)
	}
	if room != nil {
		e.Amount = decPtr(room.Deposit)
	}
	return e
}
