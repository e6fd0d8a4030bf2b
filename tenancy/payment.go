/*
payment.go - Payment reconciliation engine

PURPOSE:
  Links a tenant's payment slip to a Bill (monthly payment) or a Booking
  (deposit) and lets staff verify or reject it.

BILL STATES:
  unpaid ──submit──▶ pending_review ──verify──▶ paid (terminal)
                          │
                          └──reject──▶ unpaid (slip cleared, payment deleted)

  Submit is refused while the bill is pending_review or paid, so a bill
  never has two open payments.

DEPOSITS:
  A deposit payment hangs off a pending booking. Verifying it alone only
  marks the payment; approving the booking verifies any open deposit in the
  same transaction (booking.go). Rejecting it clears the booking's slip.

SEE ALSO:
  - billing.go: bill creation and fine accrual
  - booking.go: verifyDeposits
*/
package tenancy

import (
	"context"

	"go.uber.org/zap"
)

type PaymentService struct {
	*engine
}

// Settlement is the outcome of a staff decision on a payment. Bill is set
// for bill payments, Booking for deposits.
type Settlement struct {
	Payment *Payment
	Bill    *Bill
	Booking *Booking
}

// =============================================================================
// SUBMISSION
// =============================================================================

// SubmitPayment records a slip against a bill and puts the bill under
// review.
func (s *PaymentService) SubmitPayment(ctx context.Context, billID BillID, customerID CustomerID, slip SlipRef) (*Payment, error) {
	const op = "payment.submit"
	if slip == "" {
		return nil, invalid(op, "payment slip is required")
	}

	var (
		payment  *Payment
		bill     *Bill
		customer *Customer
		room     *Room
	)
	err := s.tx(ctx, op, func(st Store) error {
		var err error
		bill, err = loadBill(ctx, st, op, billID)
		if err != nil {
			return err
		}
		if bill.CustomerID != customerID {
			return forbidden(op, "bill", string(bill.ID), "bill belongs to another customer")
		}
		if bill.Status != BillUnpaid {
			return conflict(op, "bill", string(bill.ID), "bill is %s", bill.Status)
		}
		open, err := st.ListPayments(ctx, PaymentFilter{BillID: &bill.ID, Statuses: []PaymentStatus{PaymentSubmitted}})
		if err != nil {
			return err
		}
		if len(open) > 0 {
			return conflict(op, "bill", string(bill.ID), "bill already has an open payment")
		}

		now := s.now()
		id := bill.ID
		payment = &Payment{
			ID:         PaymentID(newID()),
			BillID:     &id,
			CustomerID: customerID,
			SlipRef:    slip,
			Status:     PaymentSubmitted,
			CreatedAt:  now,
		}
		if err := st.InsertPayment(ctx, payment); err != nil {
			return err
		}

		bill.Status = BillPendingReview
		bill.SlipRef = slip
		bill.PaymentID = &payment.ID
		bill.UpdatedAt = now
		if err := st.UpdateBill(ctx, bill); err != nil {
			return err
		}

		customer, room, err = s.parties(ctx, st, bill.CustomerID, bill.RoomID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("payment submitted",
		zap.String("payment_id", string(payment.ID)),
		zap.String("bill_id", string(bill.ID)),
	)
	s.emit(ctx, billEvent(EventPaymentSubmitted, bill, customer, room))
	return payment, nil
}

// SubmitDepositSlip attaches a deposit slip to the customer's pending
// booking.
func (s *PaymentService) SubmitDepositSlip(ctx context.Context, bookingID BookingID, customerID CustomerID, slip SlipRef) (*Payment, error) {
	const op = "payment.submit_deposit"
	if slip == "" {
		return nil, invalid(op, "payment slip is required")
	}

	var (
		payment  *Payment
		booking  *Booking
		customer *Customer
		room     *Room
		replaced SlipRef
	)
	err := s.tx(ctx, op, func(st Store) error {
		var err error
		booking, err = loadBooking(ctx, st, op, bookingID)
		if err != nil {
			return err
		}
		if booking.CustomerID != customerID {
			return forbidden(op, "booking", string(booking.ID), "booking belongs to another customer")
		}
		if booking.Status != BookingPending {
			return conflict(op, "booking", string(booking.ID), "booking is %s, not pending", booking.Status)
		}
		open, err := st.ListPayments(ctx, PaymentFilter{BookingID: &booking.ID, Statuses: []PaymentStatus{PaymentSubmitted}})
		if err != nil {
			return err
		}
		if len(open) > 0 {
			return conflict(op, "booking", string(booking.ID), "booking already has an open deposit payment")
		}

		now := s.now()
		payment = depositPayment(booking, slip, now)
		if err := st.InsertPayment(ctx, payment); err != nil {
			return err
		}
		if booking.SlipRef != slip {
			replaced = booking.SlipRef
		}
		booking.SlipRef = slip
		booking.UpdatedAt = now
		if err := st.UpdateBooking(ctx, booking); err != nil {
			return err
		}

		customer, room, err = s.parties(ctx, st, booking.CustomerID, booking.RoomID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.dropSlips(ctx, replaced)
	e := bookingEvent(EventDepositSubmitted, booking, customer, room)
	e.PaymentID = string(payment.ID)
	s.emit(ctx, e)
	return payment, nil
}

// =============================================================================
// STAFF DECISIONS
// =============================================================================

// VerifyPayment accepts a submitted payment. A bill payment settles the
// bill.
func (s *PaymentService) VerifyPayment(ctx context.Context, id PaymentID, adminID string) (*Settlement, error) {
	const op = "payment.verify"
	var (
		out      Settlement
		customer *Customer
		room     *Room
	)
	err := s.tx(ctx, op, func(st Store) error {
		p, err := loadPayment(ctx, st, op, id)
		if err != nil {
			return err
		}
		if p.Status != PaymentSubmitted {
			return conflict(op, "payment", string(p.ID), "payment is already %s", p.Status)
		}
		now := s.now()

		switch {
		case p.BillID != nil:
			bill, err := loadBill(ctx, st, op, *p.BillID)
			if err != nil {
				return err
			}
			if bill.Status != BillPendingReview || bill.PaymentID == nil || *bill.PaymentID != p.ID {
				return conflict(op, "bill", string(bill.ID), "bill is %s, not under review for this payment", bill.Status)
			}
			bill.Status = BillPaid
			bill.ApprovedBy = adminID
			bill.UpdatedAt = now
			if err := st.UpdateBill(ctx, bill); err != nil {
				return err
			}
			out.Bill = bill
			if customer, room, err = s.parties(ctx, st, bill.CustomerID, bill.RoomID); err != nil {
				return err
			}

		case p.BookingID != nil:
			booking, err := loadBooking(ctx, st, op, *p.BookingID)
			if err != nil {
				return err
			}
			if !booking.Status.Active() {
				return conflict(op, "booking", string(booking.ID), "booking is %s", booking.Status)
			}
			out.Booking = booking
			if customer, room, err = s.parties(ctx, st, booking.CustomerID, booking.RoomID); err != nil {
				return err
			}
		}

		p.Status = PaymentVerified
		p.VerifiedBy = adminID
		p.VerifiedAt = &now
		out.Payment = p
		return st.UpdatePayment(ctx, p)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("payment verified",
		zap.String("payment_id", string(id)),
		zap.String("admin_id", adminID),
	)
	s.emit(ctx, settlementEvent(EventPaymentVerified, &out, customer, room))
	return &out, nil
}

// RejectPayment discards a submitted payment. A bill returns to unpaid with
// its slip cleared and its fine brought up to date.
func (s *PaymentService) RejectPayment(ctx context.Context, id PaymentID, adminID string) (*Settlement, error) {
	const op = "payment.reject"
	var (
		out      Settlement
		customer *Customer
		room     *Room
	)
	err := s.tx(ctx, op, func(st Store) error {
		p, err := loadPayment(ctx, st, op, id)
		if err != nil {
			return err
		}
		if p.Status != PaymentSubmitted {
			return conflict(op, "payment", string(p.ID), "payment is already %s", p.Status)
		}
		now := s.now()

		switch {
		case p.BillID != nil:
			bill, err := loadBill(ctx, st, op, *p.BillID)
			if err != nil {
				return err
			}
			if bill.PaymentID != nil && *bill.PaymentID == p.ID {
				bill.Status = BillUnpaid
				bill.SlipRef = ""
				bill.PaymentID = nil
				bill.ApprovedBy = ""
				if !bill.FineLocked {
					bill.OverdueDays, bill.Fine = OverdueFine(bill.DueDate, now, s.cfg.Rates.FinePerDay)
				}
				if err := bill.Recompute(); err != nil {
					return err
				}
				bill.UpdatedAt = now
				if err := st.UpdateBill(ctx, bill); err != nil {
					return err
				}
			}
			out.Bill = bill
			if customer, room, err = s.parties(ctx, st, bill.CustomerID, bill.RoomID); err != nil {
				return err
			}

		case p.BookingID != nil:
			booking, err := loadBooking(ctx, st, op, *p.BookingID)
			if err != nil {
				return err
			}
			if booking.SlipRef == p.SlipRef {
				booking.SlipRef = ""
				booking.UpdatedAt = now
				if err := st.UpdateBooking(ctx, booking); err != nil {
					return err
				}
			}
			out.Booking = booking
			if customer, room, err = s.parties(ctx, st, booking.CustomerID, booking.RoomID); err != nil {
				return err
			}
		}

		out.Payment = p
		return st.DeletePayment(ctx, p.ID)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("payment rejected",
		zap.String("payment_id", string(id)),
		zap.String("admin_id", adminID),
	)
	s.dropSlips(ctx, out.Payment.SlipRef)
	s.emit(ctx, settlementEvent(EventPaymentRejected, &out, customer, room))
	return &out, nil
}

// =============================================================================
// QUERIES
// =============================================================================

func (s *PaymentService) Get(ctx context.Context, id PaymentID) (*Payment, error) {
	const op = "payment.get"
	var p *Payment
	err := s.read(ctx, op, func(st Store) error {
		var err error
		p, err = loadPayment(ctx, st, op, id)
		return err
	})
	return p, err
}

func (s *PaymentService) List(ctx context.Context, filter PaymentFilter) ([]Payment, error) {
	var out []Payment
	err := s.read(ctx, "payment.list", func(st Store) error {
		var err error
		out, err = st.ListPayments(ctx, filter)
		return err
	})
	return out, err
}

// =============================================================================
// HELPERS
// =============================================================================

// parties loads the customer and room a payment concerns for event
// rendering. Missing records are returned as nil; other failures abort.
func (s *PaymentService) parties(ctx context.Context, st Store, customerID CustomerID, roomID RoomID) (*Customer, *Room, error) {
	c, err := st.GetCustomer(ctx, customerID)
	if err != nil && !IsNotFound(err) {
		return nil, nil, err
	}
	r, err := st.GetRoom(ctx, roomID)
	if err != nil && !IsNotFound(err) {
		return nil, nil, err
	}
	return c, r, nil
}

func settlementEvent(t EventType, out *Settlement, c *Customer, room *Room) Event {
	var e Event
	switch {
	case out.Bill != nil:
		e = billEvent(t, out.Bill, c, room)
	case out.Booking != nil:
		e = bookingEvent(t, out.Booking, c, room)
	default:
		e = customerEvent(t, c, room)
	}
	e.PaymentID = string(out.Payment.ID)
	e.SlipRef = string(out.Payment.SlipRef)
	return e
}
