package tenancy_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdorm/tenancy-engine/tenancy"
)

func januaryReadings() tenancy.MeterReadings {
	return tenancy.MeterReadings{
		WaterBefore:    dp(100),
		WaterAfter:     d(110),
		ElectricBefore: dp(1000),
		ElectricAfter:  d(1050),
	}
}

func (h *harness) bill(t *testing.T, b *tenancy.Booking, period time.Time, r tenancy.MeterReadings) *tenancy.Bill {
	t.Helper()
	bill, err := h.svc.Billing.CreateBill(context.Background(), tenancy.CreateBillInput{
		RoomID:      b.RoomID,
		CustomerID:  b.CustomerID,
		PeriodMonth: period,
		Readings:    r,
		CreatedBy:   "admin-1",
	})
	require.NoError(t, err)
	return bill
}

// =============================================================================
// CREATION
// =============================================================================

func TestBilling_CreateBill_PricesAndNotifies(t *testing.T) {
	// GIVEN: Tenant in a 3000/month room
	// WHEN: Staff bill January with 10 water and 50 electric units
	// THEN: Bill is unpaid, total 3560, due Feb 5, tenant notified

	h := newHarness(t)
	booking := h.tenant(t, "U1", h.room(t, "R1", 3000).ID)

	bill := h.bill(t, booking, date(2024, time.January, 1), januaryReadings())

	assert.Equal(t, tenancy.BillUnpaid, bill.Status)
	assert.True(t, d(3560).Equal(bill.Total), "total was %s", bill.Total)
	assert.Equal(t, date(2024, time.February, 5), bill.DueDate)
	assert.Equal(t, "admin-1", bill.CreatedBy)

	events := h.events.Events()
	last := events[len(events)-1]
	assert.Equal(t, tenancy.EventBillCreated, last.Type)
	assert.Equal(t, "U1", last.Recipient)
	require.NotNil(t, last.Amount)
	assert.True(t, d(3560).Equal(*last.Amount))
}

func TestBilling_MeterContinuity(t *testing.T) {
	// GIVEN: Bill 1 with waterAfter = 120
	// WHEN: Bill 2 for the same room is created without a waterBefore
	// THEN: Bill 2 starts at 120

	h := newHarness(t)
	booking := h.tenant(t, "U1", h.room(t, "R1", 3000).ID)

	h.bill(t, booking, date(2024, time.January, 1), tenancy.MeterReadings{
		WaterBefore: dp(100), WaterAfter: d(120), ElectricBefore: dp(1000), ElectricAfter: d(1040),
	})
	h.clock.Set(date(2024, time.February, 20))
	second := h.bill(t, booking, date(2024, time.February, 1), tenancy.MeterReadings{
		WaterAfter: d(130), ElectricAfter: d(1100),
	})

	assert.True(t, d(120).Equal(second.WaterBefore), "waterBefore was %s", second.WaterBefore)
	assert.True(t, d(1040).Equal(second.ElectricBefore))
	assert.True(t, d(10).Equal(second.WaterUnits))
	assert.True(t, d(60).Equal(second.ElectricUnits))
}

func TestBilling_MeterContinuity_AcrossTenants(t *testing.T) {
	// GIVEN: U1's last bill on room R ended at water 150
	// WHEN: U2 moves in and gets their first bill
	// THEN: U2's bill starts at 150; meters belong to the room

	ctx := context.Background()
	h := newHarness(t)
	room := h.room(t, "R1", 3000)
	first := h.tenant(t, "U1", room.ID)
	h.bill(t, first, date(2024, time.January, 1), tenancy.MeterReadings{WaterAfter: d(150), ElectricAfter: d(900)})

	_, err := h.svc.Bookings.RequestCheckout(ctx, first.ID, date(2024, time.February, 20), "U1")
	require.NoError(t, err)
	_, err = h.svc.Bookings.ApproveReturn(ctx, first.ID, "admin-1")
	require.NoError(t, err)

	h.clock.Set(date(2024, time.February, 25))
	second := h.tenant(t, "U2", room.ID)
	bill := h.bill(t, second, date(2024, time.February, 1), tenancy.MeterReadings{
		WaterBefore: dp(0), WaterAfter: d(155), ElectricAfter: d(950),
	})
	assert.True(t, d(150).Equal(bill.WaterBefore))
	assert.Equal(t, second.CustomerID, bill.CustomerID)
}

func TestBilling_CreateBill_Errors(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	booking := h.tenant(t, "U1", h.room(t, "R1", 3000).ID)
	h.bill(t, booking, date(2024, time.January, 1), tenancy.MeterReadings{WaterAfter: d(120), ElectricAfter: d(1000)})

	// Same period twice
	_, err := h.svc.Billing.CreateBill(ctx, tenancy.CreateBillInput{
		RoomID: booking.RoomID, CustomerID: booking.CustomerID,
		PeriodMonth: date(2024, time.January, 15), Readings: tenancy.MeterReadings{WaterAfter: d(130), ElectricAfter: d(1010)},
	})
	assert.ErrorIs(t, err, tenancy.ErrConflict)

	// Meter went backwards
	_, err = h.svc.Billing.CreateBill(ctx, tenancy.CreateBillInput{
		RoomID: booking.RoomID, CustomerID: booking.CustomerID,
		PeriodMonth: date(2024, time.February, 1), Readings: tenancy.MeterReadings{WaterAfter: d(110), ElectricAfter: d(1010)},
	})
	assert.ErrorIs(t, err, tenancy.ErrInvalidInput)

	// Unknown room and customer
	_, err = h.svc.Billing.CreateBill(ctx, tenancy.CreateBillInput{
		RoomID: "nope", CustomerID: booking.CustomerID, PeriodMonth: date(2024, time.February, 1),
	})
	assert.ErrorIs(t, err, tenancy.ErrNotFound)
	_, err = h.svc.Billing.CreateBill(ctx, tenancy.CreateBillInput{
		RoomID: booking.RoomID, CustomerID: "nobody", PeriodMonth: date(2024, time.February, 1),
	})
	assert.ErrorIs(t, err, tenancy.ErrNotFound)

	bills, err := h.svc.Billing.List(ctx, tenancy.BillFilter{RoomID: &booking.RoomID})
	require.NoError(t, err)
	assert.Len(t, bills, 1, "failed creations must not persist")
}

func TestBilling_CreateBillFromActiveBooking(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	room := h.room(t, "R1", 3000)

	// Pending only: no approved booking yet
	pending := h.book(t, "U1", room.ID)
	_, err := h.svc.Billing.CreateBillFromActiveBooking(ctx, room.ID, date(2024, time.January, 1), januaryReadings(), "admin-1")
	assert.ErrorIs(t, err, tenancy.ErrNotFound)

	_, err = h.svc.Bookings.Approve(ctx, pending.ID, "admin-1")
	require.NoError(t, err)
	bill, err := h.svc.Billing.CreateBillFromActiveBooking(ctx, room.ID, date(2024, time.January, 1), januaryReadings(), "admin-1")
	require.NoError(t, err)
	assert.Equal(t, pending.CustomerID, bill.CustomerID)
	assert.True(t, d(3560).Equal(bill.Total))
}

// =============================================================================
// VIEWS
// =============================================================================

func TestBilling_ListPaidAndUnpaid(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	booking := h.tenant(t, "U1", h.room(t, "R1", 3000).ID)

	jan := h.bill(t, booking, date(2024, time.January, 1), januaryReadings())
	h.clock.Set(date(2024, time.February, 2))
	feb := h.bill(t, booking, date(2024, time.February, 1), tenancy.MeterReadings{WaterAfter: d(115), ElectricAfter: d(1080)})

	p, err := h.svc.Payments.SubmitPayment(ctx, jan.ID, booking.CustomerID, "slip-jan")
	require.NoError(t, err)
	_, err = h.svc.Payments.VerifyPayment(ctx, p.ID, "admin-1")
	require.NoError(t, err)
	pFeb, err := h.svc.Payments.SubmitPayment(ctx, feb.ID, booking.CustomerID, "slip-feb")
	require.NoError(t, err)

	// A bill under review is neither unpaid nor paid
	unpaid, err := h.svc.Billing.ListUnpaid(ctx, booking.CustomerID)
	require.NoError(t, err)
	assert.Empty(t, unpaid)

	paid, err := h.svc.Billing.ListPaid(ctx, booking.CustomerID)
	require.NoError(t, err)
	require.Len(t, paid, 1)
	assert.Equal(t, jan.ID, paid[0].ID)

	// Rejecting the slip puts it back on the unpaid list
	_, err = h.svc.Payments.RejectPayment(ctx, pFeb.ID, "admin-1")
	require.NoError(t, err)
	unpaid, err = h.svc.Billing.ListUnpaid(ctx, booking.CustomerID)
	require.NoError(t, err)
	require.Len(t, unpaid, 1)
	assert.Equal(t, feb.ID, unpaid[0].ID)
	assert.Equal(t, tenancy.BillUnpaid, unpaid[0].Status)

	other, err := h.svc.Billing.ListUnpaid(ctx, "someone-else")
	require.NoError(t, err)
	assert.Empty(t, other)
}

// =============================================================================
// STAFF EDITS
// =============================================================================

func TestBilling_UpdateBill_RecomputesTotal(t *testing.T) {
	// GIVEN: A 3560 bill
	// WHEN: Staff change the rent to 2500 and the electric reading to 1060
	// THEN: Total is recomputed, never taken as input

	ctx := context.Background()
	h := newHarness(t)
	booking := h.tenant(t, "U1", h.room(t, "R1", 3000).ID)
	bill := h.bill(t, booking, date(2024, time.January, 1), januaryReadings())

	updated, err := h.svc.Billing.UpdateBill(ctx, bill.ID, tenancy.BillUpdate{Rent: dp(2500), ElectricAfter: dp(1060)})
	require.NoError(t, err)
	// 2500 + 20 + 190 + 60*7
	assert.True(t, d(3130).Equal(updated.Total), "total was %s", updated.Total)
	assert.True(t, d(60).Equal(updated.ElectricUnits))

	_, err = h.svc.Billing.UpdateBill(ctx, bill.ID, tenancy.BillUpdate{ElectricAfter: dp(900)})
	assert.ErrorIs(t, err, tenancy.ErrInvalidInput)

	_, err = h.svc.Billing.UpdateBill(ctx, bill.ID, tenancy.BillUpdate{Rent: dp(-5)})
	assert.ErrorIs(t, err, tenancy.ErrInvalidInput)

	_, err = h.svc.Billing.UpdateBill(ctx, "missing", tenancy.BillUpdate{Rent: dp(1)})
	assert.ErrorIs(t, err, tenancy.ErrNotFound)
}

func TestBilling_UpdateBill_PaidIsClosed(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	booking := h.tenant(t, "U1", h.room(t, "R1", 3000).ID)
	bill := h.bill(t, booking, date(2024, time.January, 1), januaryReadings())

	p, err := h.svc.Payments.SubmitPayment(ctx, bill.ID, booking.CustomerID, "slip-1")
	require.NoError(t, err)
	_, err = h.svc.Payments.VerifyPayment(ctx, p.ID, "admin-1")
	require.NoError(t, err)

	_, err = h.svc.Billing.UpdateBill(ctx, bill.ID, tenancy.BillUpdate{Rent: dp(1)})
	assert.ErrorIs(t, err, tenancy.ErrConflict)
}

// =============================================================================
// FINES
// =============================================================================

func TestBilling_RefreshFines(t *testing.T) {
	// GIVEN: A 3560 bill due 2024-02-05
	// WHEN: Fines are refreshed on 2024-02-10
	// THEN: 5 overdue days, fine 250, total 3810

	ctx := context.Background()
	h := newHarness(t)
	booking := h.tenant(t, "U1", h.room(t, "R1", 3000).ID)
	bill := h.bill(t, booking, date(2024, time.January, 1), januaryReadings())

	n, err := h.svc.Billing.RefreshFines(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "not due yet")

	h.clock.Set(date(2024, time.February, 10))
	n, err = h.svc.Billing.RefreshFines(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := h.svc.Billing.Get(ctx, bill.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.OverdueDays)
	assert.True(t, d(250).Equal(got.Fine), "fine was %s", got.Fine)
	assert.True(t, d(3810).Equal(got.Total), "total was %s", got.Total)

	// Idempotent at the same instant
	n, err = h.svc.Billing.RefreshFines(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestBilling_ManualFine_LockedAgainstRefresh(t *testing.T) {
	// GIVEN: Staff waive the fine of an overdue bill
	// WHEN: Fines are refreshed later
	// THEN: The waived fine stays until unlocked

	ctx := context.Background()
	h := newHarness(t)
	booking := h.tenant(t, "U1", h.room(t, "R1", 3000).ID)
	bill := h.bill(t, booking, date(2024, time.January, 1), januaryReadings())

	h.clock.Set(date(2024, time.February, 10))
	waived, err := h.svc.Billing.UpdateBill(ctx, bill.ID, tenancy.BillUpdate{Fine: dp(0)})
	require.NoError(t, err)
	assert.True(t, waived.FineLocked)
	assert.True(t, d(3560).Equal(waived.Total))

	h.clock.Set(date(2024, time.February, 15))
	n, err := h.svc.Billing.RefreshFines(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	unlocked, err := h.svc.Billing.UpdateBill(ctx, bill.ID, tenancy.BillUpdate{UnlockFine: true})
	require.NoError(t, err)
	assert.False(t, unlocked.FineLocked)
	assert.Equal(t, 10, unlocked.OverdueDays)
	assert.True(t, d(4060).Equal(unlocked.Total), "total was %s", unlocked.Total)
}

func TestBilling_UnderReview_DoesNotAccrue(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	booking := h.tenant(t, "U1", h.room(t, "R1", 3000).ID)
	bill := h.bill(t, booking, date(2024, time.January, 1), januaryReadings())

	_, err := h.svc.Payments.SubmitPayment(ctx, bill.ID, booking.CustomerID, "slip-1")
	require.NoError(t, err)

	h.clock.Set(date(2024, time.February, 10))
	n, err := h.svc.Billing.RefreshFines(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

// =============================================================================
// DELETE
// =============================================================================

func TestBilling_DeleteBill(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	booking := h.tenant(t, "U1", h.room(t, "R1", 3000).ID)
	bill := h.bill(t, booking, date(2024, time.January, 1), januaryReadings())

	p, err := h.svc.Payments.SubmitPayment(ctx, bill.ID, booking.CustomerID, "slip-1")
	require.NoError(t, err)
	assert.ErrorIs(t, h.svc.Billing.DeleteBill(ctx, bill.ID), tenancy.ErrConflict)

	_, err = h.svc.Payments.RejectPayment(ctx, p.ID, "admin-1")
	require.NoError(t, err)
	require.NoError(t, h.svc.Billing.DeleteBill(ctx, bill.ID))

	_, err = h.svc.Billing.Get(ctx, bill.ID)
	assert.ErrorIs(t, err, tenancy.ErrNotFound)
	assert.ErrorIs(t, h.svc.Billing.DeleteBill(ctx, bill.ID), tenancy.ErrNotFound)
}
