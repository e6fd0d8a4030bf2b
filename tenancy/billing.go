/*
billing.go - Billing engine

PURPOSE:
  Creates monthly bills from the room, the room's latest prior bill and new
  meter readings; answers paid/unpaid views per customer; lets staff edit or
  delete bills; accrues overdue fines on unpaid bills.

METER CONTINUITY:
  The prior bill is the latest bill of the ROOM by creation time, whoever
  the tenant was. Meters belong to the room, so a new tenant's first bill
  starts where the previous tenant's last bill ended.

  Bill(room R, Jan): water 100 -> 120
  Bill(room R, Feb): water 120 -> ...   (before taken from January)

TOTAL:
  Total is never accepted as input. Every write path calls Bill.Recompute.

FINE ACCRUAL:
  RefreshFines recomputes OverdueDays, Fine and Total of every unpaid bill
  as of now. Bills whose fine was set by staff (FineLocked) are skipped.
  Bills under review do not accrue.

SEE ALSO:
  - calculator.go: the arithmetic
  - payment.go: moves bills through pending_review and paid
  - api/scheduler.go: periodic RefreshFines
*/
package tenancy

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type BillingService struct {
	*engine
}

type CreateBillInput struct {
	RoomID      RoomID
	CustomerID  CustomerID
	PeriodMonth time.Time
	Readings    MeterReadings
	CreatedBy   string
}

// BillUpdate is a staff edit. Nil fields are left unchanged.
type BillUpdate struct {
	Rent           *decimal.Decimal
	ServiceFee     *decimal.Decimal
	WaterBefore    *decimal.Decimal
	WaterAfter     *decimal.Decimal
	ElectricBefore *decimal.Decimal
	ElectricAfter  *decimal.Decimal
	DueDate        *time.Time

	// Fine overrides the accrued fine and locks it against refresh.
	Fine *decimal.Decimal
	// UnlockFine returns the bill to automatic fine accrual.
	UnlockFine bool
}

// =============================================================================
// CREATION
// =============================================================================

// CreateBill prices and stores the bill of a room for a period.
func (s *BillingService) CreateBill(ctx context.Context, in CreateBillInput) (*Bill, error) {
	const op = "bill.create"
	if err := s.validateCreate(op, in.PeriodMonth, in.Readings); err != nil {
		return nil, err
	}
	if in.CustomerID == "" {
		return nil, invalid(op, "customer is required")
	}
	return s.create(ctx, op, in.RoomID, in.CreatedBy, func(st Store, room *Room) (*Customer, error) {
		return loadCustomer(ctx, st, op, in.CustomerID)
	}, in.PeriodMonth, in.Readings)
}

// CreateBillFromActiveBooking bills the customer of the room's approved
// booking.
func (s *BillingService) CreateBillFromActiveBooking(
	ctx context.Context,
	roomID RoomID,
	periodMonth time.Time,
	readings MeterReadings,
	createdBy string,
) (*Bill, error) {
	const op = "bill.create_from_booking"
	if err := s.validateCreate(op, periodMonth, readings); err != nil {
		return nil, err
	}
	return s.create(ctx, op, roomID, createdBy, func(st Store, room *Room) (*Customer, error) {
		approved, err := st.ListBookings(ctx, BookingFilter{RoomID: &room.ID, Statuses: []BookingStatus{BookingApproved}})
		if err != nil {
			return nil, err
		}
		if len(approved) == 0 {
			return nil, &Error{Kind: ErrNotFound, Op: op, Entity: "booking", ID: string(room.ID),
				Message: "room " + room.Number + " has no approved booking"}
		}
		return loadCustomer(ctx, st, op, approved[len(approved)-1].CustomerID)
	}, periodMonth, readings)
}

func (s *BillingService) validateCreate(op string, period time.Time, r MeterReadings) error {
	if period.IsZero() {
		return invalid(op, "period month is required")
	}
	if r.WaterAfter.IsNegative() || r.ElectricAfter.IsNegative() {
		return invalid(op, "meter readings must not be negative")
	}
	if (r.WaterBefore != nil && r.WaterBefore.IsNegative()) || (r.ElectricBefore != nil && r.ElectricBefore.IsNegative()) {
		return invalid(op, "meter readings must not be negative")
	}
	return nil
}

func (s *BillingService) create(
	ctx context.Context,
	op string,
	roomID RoomID,
	createdBy string,
	resolveCustomer func(Store, *Room) (*Customer, error),
	period time.Time,
	readings MeterReadings,
) (*Bill, error) {
	var (
		bill     *Bill
		customer *Customer
		room     *Room
	)
	err := s.tx(ctx, op, func(st Store) error {
		var err error
		now := s.now()
		month := MonthOf(period.In(s.cfg.Location))

		// 1. Room and the customer being billed
		room, err = loadRoom(ctx, st, op, roomID)
		if err != nil {
			return err
		}
		customer, err = resolveCustomer(st, room)
		if err != nil {
			return err
		}

		// 2. One bill per room per period
		existing, err := st.ListBills(ctx, BillFilter{RoomID: &room.ID, PeriodMonth: &month})
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return conflict(op, "bill", string(existing[0].ID), "room %s is already billed for %s",
				room.Number, month.Format(MonthLayout))
		}

		// 3. Price against the room's latest bill
		prior, err := st.LatestBillForRoom(ctx, room.ID)
		if err != nil {
			return err
		}
		draft, err := ComputeBill(s.cfg.Rates, BillInput{
			Room:        *room,
			Prior:       prior,
			Readings:    readings,
			PeriodMonth: month,
			CreatedAt:   now,
			Now:         now,
		})
		if err != nil {
			return err
		}

		bill = draft.bill(room.ID, customer.ID, createdBy, now)
		return st.InsertBill(ctx, bill)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("bill created",
		zap.String("bill_id", string(bill.ID)),
		zap.String("room_id", string(bill.RoomID)),
		zap.String("period", bill.PeriodMonth.Format(MonthLayout)),
		zap.String("total", bill.Total.String()),
	)
	s.emit(ctx, billEvent(EventBillCreated, bill, customer, room))
	return bill, nil
}

func (d BillDraft) bill(room RoomID, customer CustomerID, createdBy string, now time.Time) *Bill {
	return &Bill{
		ID:                BillID(newID()),
		RoomID:            room,
		CustomerID:        customer,
		PeriodMonth:       d.PeriodMonth,
		WaterBefore:       d.WaterBefore,
		WaterAfter:        d.WaterAfter,
		WaterUnits:        d.WaterUnits,
		WaterUnitPrice:    d.WaterUnitPrice,
		WaterCost:         d.WaterCost,
		ElectricBefore:    d.ElectricBefore,
		ElectricAfter:     d.ElectricAfter,
		ElectricUnits:     d.ElectricUnits,
		ElectricUnitPrice: d.ElectricUnitPrice,
		ElectricCost:      d.ElectricCost,
		Rent:              d.Rent,
		ServiceFee:        d.ServiceFee,
		Fine:              d.Fine,
		OverdueDays:       d.OverdueDays,
		Total:             d.Total,
		DueDate:           d.DueDate,
		Status:            BillUnpaid,
		CreatedBy:         createdBy,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// =============================================================================
// QUERIES
// =============================================================================

// ListUnpaid returns the customer's bills awaiting payment. Bills with a
// payment under review are in neither this list nor ListPaid.
func (s *BillingService) ListUnpaid(ctx context.Context, customerID CustomerID) ([]Bill, error) {
	return s.List(ctx, BillFilter{CustomerID: &customerID, Statuses: []BillStatus{BillUnpaid}})
}

func (s *BillingService) ListPaid(ctx context.Context, customerID CustomerID) ([]Bill, error) {
	return s.List(ctx, BillFilter{CustomerID: &customerID, Statuses: []BillStatus{BillPaid}})
}

func (s *BillingService) List(ctx context.Context, filter BillFilter) ([]Bill, error) {
	var out []Bill
	err := s.read(ctx, "bill.list", func(st Store) error {
		var err error
		out, err = st.ListBills(ctx, filter)
		return err
	})
	return out, err
}

func (s *BillingService) Get(ctx context.Context, id BillID) (*Bill, error) {
	const op = "bill.get"
	var b *Bill
	err := s.read(ctx, op, func(st Store) error {
		var err error
		b, err = loadBill(ctx, st, op, id)
		return err
	})
	return b, err
}

// =============================================================================
// STAFF EDITS
// =============================================================================

// UpdateBill applies a staff edit and recomputes the total. Paid bills are
// closed.
func (s *BillingService) UpdateBill(ctx context.Context, id BillID, upd BillUpdate) (*Bill, error) {
	const op = "bill.update"
	for _, v := range []*decimal.Decimal{upd.Rent, upd.ServiceFee, upd.Fine,
		upd.WaterBefore, upd.WaterAfter, upd.ElectricBefore, upd.ElectricAfter} {
		if v != nil && v.IsNegative() {
			return nil, invalid(op, "bill amounts and readings must not be negative")
		}
	}

	var bill *Bill
	err := s.tx(ctx, op, func(st Store) error {
		var err error
		bill, err = loadBill(ctx, st, op, id)
		if err != nil {
			return err
		}
		if bill.Status == BillPaid {
			return conflict(op, "bill", string(bill.ID), "bill is already paid")
		}

		setDec(&bill.Rent, upd.Rent)
		setDec(&bill.ServiceFee, upd.ServiceFee)
		setDec(&bill.WaterBefore, upd.WaterBefore)
		setDec(&bill.WaterAfter, upd.WaterAfter)
		setDec(&bill.ElectricBefore, upd.ElectricBefore)
		setDec(&bill.ElectricAfter, upd.ElectricAfter)
		if upd.DueDate != nil {
			bill.DueDate = DayOf(upd.DueDate.In(s.cfg.Location))
		}

		now := s.now()
		switch {
		case upd.Fine != nil:
			bill.Fine = *upd.Fine
			bill.FineLocked = true
		case upd.UnlockFine || (upd.DueDate != nil && !bill.FineLocked):
			bill.FineLocked = false
			if bill.Status == BillUnpaid {
				bill.OverdueDays, bill.Fine = OverdueFine(bill.DueDate, now, s.cfg.Rates.FinePerDay)
			}
		}

		if err := bill.Recompute(); err != nil {
			return err
		}
		bill.UpdatedAt = now
		return st.UpdateBill(ctx, bill)
	})
	if err != nil {
		return nil, err
	}
	return bill, nil
}

// DeleteBill removes a bill and its payments. A bill with a payment under
// review must be decided first.
func (s *BillingService) DeleteBill(ctx context.Context, id BillID) error {
	const op = "bill.delete"
	var slips []SlipRef
	err := s.tx(ctx, op, func(st Store) error {
		bill, err := loadBill(ctx, st, op, id)
		if err != nil {
			return err
		}
		if bill.Status == BillPendingReview {
			return conflict(op, "bill", string(bill.ID), "bill has a payment under review")
		}
		slips = appendSlip(slips, bill.SlipRef)
		payments, err := st.ListPayments(ctx, PaymentFilter{BillID: &bill.ID})
		if err != nil {
			return err
		}
		for _, p := range payments {
			slips = appendSlip(slips, p.SlipRef)
			if err := st.DeletePayment(ctx, p.ID); err != nil {
				return err
			}
		}
		return st.DeleteBill(ctx, bill.ID)
	})
	if err != nil {
		return err
	}
	s.dropSlips(ctx, slips...)
	return nil
}

// =============================================================================
// FINE ACCRUAL
// =============================================================================

// RefreshFines brings the fine of every unpaid, unlocked bill up to date and
// returns the number of bills changed.
func (s *BillingService) RefreshFines(ctx context.Context) (int, error) {
	const op = "bill.refresh_fines"
	changed := 0
	err := s.tx(ctx, op, func(st Store) error {
		changed = 0
		bills, err := st.ListBills(ctx, BillFilter{Statuses: []BillStatus{BillUnpaid}})
		if err != nil {
			return err
		}
		now := s.now()
		for i := range bills {
			b := &bills[i]
			if b.FineLocked {
				continue
			}
			days, fine := OverdueFine(b.DueDate, now, s.cfg.Rates.FinePerDay)
			if days == b.OverdueDays && fine.Equal(b.Fine) {
				continue
			}
			b.OverdueDays = days
			b.Fine = fine
			if err := b.Recompute(); err != nil {
				return err
			}
			b.UpdatedAt = now
			if err := st.UpdateBill(ctx, b); err != nil {
				return err
			}
			changed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if changed > 0 {
		s.logger.Info("fines refreshed", zap.Int("bills", changed))
	}
	return changed, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func setDec(dst *decimal.Decimal, v *decimal.Decimal) {
	if v != nil {
		*dst = *v
	}
}

func billEvent(t EventType, b *Bill, c *Customer, room *Room) Event {
	e := customerEvent(t, c, room)
	e.BillID = string(b.ID)
	e.SlipRef = string(b.SlipRef)
	e.PeriodMonth = timePtr(b.PeriodMonth)
	e.DueDate = timePtr(b.DueDate)
	e.Rent = decPtr(b.Rent)
	e.ServiceFee = decPtr(b.ServiceFee)
	e.WaterUnits = decPtr(b.WaterUnits)
	e.WaterCost = decPtr(b.WaterCost)
	e.ElectricUnits = decPtr(b.ElectricUnits)
	e.ElectricCost = decPtr(b.ElectricCost)
	e.Fine = decPtr(b.Fine)
	e.Amount = decPtr(b.Total)
	if b.PaymentID != nil {
		e.PaymentID = string(*b.PaymentID)
	}
	return e
}
