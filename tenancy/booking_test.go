package tenancy_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smartdorm/tenancy-engine/tenancy"
	"github.com/smartdorm/tenancy-engine/tenancy/store"
)

// =============================================================================
// APPLICATION
// =============================================================================

func TestBooking_Create_PendingAndRoomStaysVacant(t *testing.T) {
	// GIVEN: A vacant room
	// WHEN: A tenant applies
	// THEN: Booking is pending, room is still vacant, staff are notified

	h := newHarness(t)
	room := h.room(t, "A101", 3000)

	b := h.book(t, "U1", room.ID)

	assert.Equal(t, tenancy.BookingPending, b.Status)
	assert.Equal(t, tenancy.ReturnNone, b.ReturnStatus)
	assert.Nil(t, b.CheckoutDate)
	assert.Equal(t, tenancy.RoomVacant, h.roomState(t, room.ID).Status)
	assert.Equal(t, []tenancy.EventType{tenancy.EventBookingCreated}, h.events.Types())

	ev := h.events.Events()[0]
	assert.Equal(t, "U1", ev.Recipient)
	assert.Equal(t, "A101", ev.RoomNumber)
	assert.Equal(t, "Ms.Tenant U1", ev.CustomerName)
}

func TestBooking_Create_Conflicts(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	a := h.room(t, "A101", 3000)
	b := h.room(t, "A102", 3000)
	c := h.room(t, "A103", 3000)

	h.book(t, "U1", a.ID)

	// Room already has a pending application
	_, err := h.svc.Bookings.Create(ctx, tenancy.CreateBookingInput{
		Customer: applicant("U2"), RoomID: a.ID, CheckinDate: date(2024, time.February, 1),
	})
	assert.ErrorIs(t, err, tenancy.ErrConflict)

	// Customer already has an active booking elsewhere
	_, err = h.svc.Bookings.Create(ctx, tenancy.CreateBookingInput{
		Customer: applicant("U1"), RoomID: b.ID, CheckinDate: date(2024, time.February, 1),
	})
	assert.ErrorIs(t, err, tenancy.ErrConflict)

	// Occupied room
	h.tenant(t, "U3", c.ID)
	_, err = h.svc.Bookings.Create(ctx, tenancy.CreateBookingInput{
		Customer: applicant("U4"), RoomID: c.ID, CheckinDate: date(2024, time.February, 1),
	})
	assert.ErrorIs(t, err, tenancy.ErrConflict)

	// Unknown room
	_, err = h.svc.Bookings.Create(ctx, tenancy.CreateBookingInput{
		Customer: applicant("U5"), RoomID: "nope", CheckinDate: date(2024, time.February, 1),
	})
	assert.ErrorIs(t, err, tenancy.ErrNotFound)

	// Missing identity
	_, err = h.svc.Bookings.Create(ctx, tenancy.CreateBookingInput{RoomID: b.ID, CheckinDate: date(2024, time.February, 1)})
	assert.ErrorIs(t, err, tenancy.ErrInvalidInput)

	h.requireOccupancyInvariant(t)
}

func TestBooking_Create_FailedApplicationLeavesNoCustomer(t *testing.T) {
	// GIVEN: Room A101 already applied for
	// WHEN: A new applicant's booking for A101 is refused
	// THEN: The customer upsert is rolled back with it

	ctx := context.Background()
	h := newHarness(t)
	a := h.room(t, "A101", 3000)
	h.book(t, "U1", a.ID)

	_, err := h.svc.Bookings.Create(ctx, tenancy.CreateBookingInput{
		Customer: applicant("U2"), RoomID: a.ID, CheckinDate: date(2024, time.February, 1),
	})
	require.ErrorIs(t, err, tenancy.ErrConflict)

	_, err = h.svc.Customers.GetByExternalID(ctx, "U2")
	assert.ErrorIs(t, err, tenancy.ErrNotFound)
}

func TestBooking_Create_UpsertsCustomer(t *testing.T) {
	// GIVEN: A customer whose first booking was rejected
	// WHEN: They apply again with a new phone number
	// THEN: The same customer record is updated, not duplicated

	ctx := context.Background()
	h := newHarness(t)
	room := h.room(t, "A101", 3000)

	first := h.book(t, "U1", room.ID)
	_, err := h.svc.Bookings.Reject(ctx, first.ID, "admin-1")
	require.NoError(t, err)

	in := applicant("U1")
	in.Phone = "0899999999"
	second, err := h.svc.Bookings.Create(ctx, tenancy.CreateBookingInput{
		Customer: in, RoomID: room.ID, CheckinDate: date(2024, time.March, 1),
	})
	require.NoError(t, err)
	assert.Equal(t, first.CustomerID, second.CustomerID)

	c, err := h.svc.Customers.GetByExternalID(ctx, "U1")
	require.NoError(t, err)
	assert.Equal(t, "0899999999", c.Phone)
}

// =============================================================================
// APPROVE / REJECT
// =============================================================================

func TestBooking_RejectThenRebook(t *testing.T) {
	// GIVEN: Tenant books room R (vacant) -> pending
	// WHEN: Staff reject
	// THEN: Booking rejected, room vacant, tenant may book R again

	ctx := context.Background()
	h := newHarness(t)
	room := h.room(t, "R1", 3000)

	b := h.book(t, "U1", room.ID)
	rejected, err := h.svc.Bookings.Reject(ctx, b.ID, "admin-1")
	require.NoError(t, err)

	assert.Equal(t, tenancy.BookingRejected, rejected.Status)
	assert.Equal(t, tenancy.RoomVacant, h.roomState(t, room.ID).Status)

	again := h.book(t, "U1", room.ID)
	assert.Equal(t, tenancy.BookingPending, again.Status)
	h.requireOccupancyInvariant(t)
}

func TestBooking_Approve_OccupiesRoom(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	room := h.room(t, "R1", 3000)
	b := h.book(t, "U1", room.ID)

	approved, err := h.svc.Bookings.Approve(ctx, b.ID, "admin-1")
	require.NoError(t, err)

	assert.Equal(t, tenancy.BookingApproved, approved.Status)
	assert.Equal(t, "admin-1", approved.ApprovedBy)
	r := h.roomState(t, room.ID)
	assert.Equal(t, tenancy.RoomOccupied, r.Status)
	require.NotNil(t, r.OccupiedBy)
	assert.Equal(t, b.ID, *r.OccupiedBy)
	assert.Equal(t, []tenancy.EventType{tenancy.EventBookingCreated, tenancy.EventBookingApproved}, h.events.Types())
}

func TestBooking_Approve_Twice_Conflict(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	room := h.room(t, "R1", 3000)
	b := h.book(t, "U1", room.ID)

	_, err := h.svc.Bookings.Approve(ctx, b.ID, "admin-1")
	require.NoError(t, err)
	_, err = h.svc.Bookings.Approve(ctx, b.ID, "admin-2")
	assert.ErrorIs(t, err, tenancy.ErrConflict)

	_, err = h.svc.Bookings.Reject(ctx, b.ID, "admin-2")
	assert.ErrorIs(t, err, tenancy.ErrConflict)

	_, err = h.svc.Bookings.Approve(ctx, "missing", "admin-1")
	assert.ErrorIs(t, err, tenancy.ErrNotFound)
}

func TestBooking_Approve_ConcurrentExactlyOnce(t *testing.T) {
	// GIVEN: One pending booking
	// WHEN: 20 staff sessions approve it at the same time
	// THEN: Exactly one succeeds, the rest observe Conflict

	ctx := context.Background()
	h := newHarness(t)
	room := h.room(t, "R1", 3000)
	b := h.book(t, "U1", room.ID)

	const n = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := h.svc.Bookings.Approve(ctx, b.ID, fmt.Sprintf("admin-%d", i))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, tenancy.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, n-1, conflicts)
	h.requireOccupancyInvariant(t)
}

// =============================================================================
// CHECKOUT FLOW
// =============================================================================

func TestBooking_FullTenancy_RoomReusable(t *testing.T) {
	// GIVEN: Tenant books R -> approve (R occupied)
	// WHEN: requestCheckout -> approveReturn
	// THEN: Booking checked out, R vacant, a second tenant can book R

	ctx := context.Background()
	h := newHarness(t)
	room := h.room(t, "R1", 3000)
	b := h.tenant(t, "U1", room.ID)
	assert.Equal(t, tenancy.RoomOccupied, h.roomState(t, room.ID).Status)

	requested, err := h.svc.Bookings.RequestCheckout(ctx, b.ID, date(2024, time.June, 30), "U1")
	require.NoError(t, err)
	assert.Equal(t, tenancy.ReturnPending, requested.ReturnStatus)
	require.NotNil(t, requested.CheckoutDate)
	assert.Equal(t, date(2024, time.June, 30), *requested.CheckoutDate)

	done, err := h.svc.Bookings.ApproveReturn(ctx, b.ID, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, tenancy.BookingCheckedOut, done.Status)
	assert.Equal(t, tenancy.ReturnApproved, done.ReturnStatus)
	assert.Equal(t, tenancy.RoomVacant, h.roomState(t, room.ID).Status)

	next := h.book(t, "U2", room.ID)
	assert.Equal(t, tenancy.BookingPending, next.Status)

	// U1 is no longer an active tenant and may apply elsewhere
	other := h.room(t, "R2", 2500)
	h.book(t, "U1", other.ID)

	h.requireOccupancyInvariant(t)
	assert.Equal(t, []tenancy.EventType{
		tenancy.EventBookingCreated,
		tenancy.EventBookingApproved,
		tenancy.EventCheckoutRequested,
		tenancy.EventReturnApproved,
		tenancy.EventBookingCreated,
		tenancy.EventBookingCreated,
	}, h.events.Types())
}

func TestBooking_RequestCheckout_Guards(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	room := h.room(t, "R1", 3000)
	pending := h.book(t, "U1", room.ID)

	// Not approved yet
	_, err := h.svc.Bookings.RequestCheckout(ctx, pending.ID, date(2024, time.June, 30), "U1")
	assert.ErrorIs(t, err, tenancy.ErrConflict)

	_, err = h.svc.Bookings.Approve(ctx, pending.ID, "admin-1")
	require.NoError(t, err)

	// Another tenant
	h.book(t, "U2", h.room(t, "R2", 3000).ID)
	_, err = h.svc.Bookings.RequestCheckout(ctx, pending.ID, date(2024, time.June, 30), "U2")
	assert.ErrorIs(t, err, tenancy.ErrForbidden)

	// Unknown identity
	_, err = h.svc.Bookings.RequestCheckout(ctx, pending.ID, date(2024, time.June, 30), "stranger")
	assert.ErrorIs(t, err, tenancy.ErrForbidden)

	// Before checkin
	_, err = h.svc.Bookings.RequestCheckout(ctx, pending.ID, date(2024, time.January, 1), "U1")
	assert.ErrorIs(t, err, tenancy.ErrInvalidInput)

	// Twice
	_, err = h.svc.Bookings.RequestCheckout(ctx, pending.ID, date(2024, time.June, 30), "U1")
	require.NoError(t, err)
	_, err = h.svc.Bookings.RequestCheckout(ctx, pending.ID, date(2024, time.July, 31), "U1")
	assert.ErrorIs(t, err, tenancy.ErrConflict)
}

func TestBooking_RejectReturn_TenancyContinues(t *testing.T) {
	// GIVEN: An approved tenancy with a pending checkout request
	// WHEN: Staff reject the return
	// THEN: Booking stays approved, room stays occupied, tenant may ask again

	ctx := context.Background()
	h := newHarness(t)
	room := h.room(t, "R1", 3000)
	b := h.tenant(t, "U1", room.ID)

	_, err := h.svc.Bookings.RequestCheckout(ctx, b.ID, date(2024, time.June, 30), "U1")
	require.NoError(t, err)

	rejected, err := h.svc.Bookings.RejectReturn(ctx, b.ID, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, tenancy.BookingApproved, rejected.Status)
	assert.Equal(t, tenancy.ReturnRejected, rejected.ReturnStatus)
	assert.Equal(t, tenancy.RoomOccupied, h.roomState(t, room.ID).Status)

	_, err = h.svc.Bookings.RejectReturn(ctx, b.ID, "admin-1")
	assert.ErrorIs(t, err, tenancy.ErrConflict)
	_, err = h.svc.Bookings.ApproveReturn(ctx, b.ID, "admin-1")
	assert.ErrorIs(t, err, tenancy.ErrConflict)

	again, err := h.svc.Bookings.RequestCheckout(ctx, b.ID, date(2024, time.July, 31), "U1")
	require.NoError(t, err)
	assert.Equal(t, tenancy.ReturnPending, again.ReturnStatus)
	h.requireOccupancyInvariant(t)
}

func TestBooking_WithdrawCheckout(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	room := h.room(t, "R1", 3000)
	b := h.tenant(t, "U1", room.ID)

	_, err := h.svc.Bookings.WithdrawCheckout(ctx, b.ID, "U1")
	assert.ErrorIs(t, err, tenancy.ErrConflict, "nothing to withdraw")

	_, err = h.svc.Bookings.RequestCheckout(ctx, b.ID, date(2024, time.June, 30), "U1")
	require.NoError(t, err)

	_, err = h.svc.Bookings.WithdrawCheckout(ctx, b.ID, "U2")
	assert.ErrorIs(t, err, tenancy.ErrForbidden)

	withdrawn, err := h.svc.Bookings.WithdrawCheckout(ctx, b.ID, "U1")
	require.NoError(t, err)
	assert.Equal(t, tenancy.ReturnNone, withdrawn.ReturnStatus)
	assert.Nil(t, withdrawn.CheckoutDate)
	assert.Equal(t, tenancy.BookingApproved, withdrawn.Status)
}

// =============================================================================
// STAFF EDITS
// =============================================================================

func TestBooking_Update_CorrectsApplicantAndCheckin(t *testing.T) {
	// GIVEN: A pending application with a typo in the surname
	// WHEN: Staff correct the surname and move the check-in date
	// THEN: Customer and booking are updated, the identity is kept, the tenant is notified

	ctx := context.Background()
	h := newHarness(t)
	room := h.room(t, "R1", 3000)
	b := h.book(t, "U1", room.ID)

	updated, err := h.svc.Bookings.Update(ctx, b.ID, tenancy.BookingUpdate{
		Customer:    tenancy.CustomerInput{ExternalID: "U9", LastName: "Srisuk"},
		CheckinDate: ptr(date(2024, time.February, 15)),
	})
	require.NoError(t, err)
	assert.Equal(t, "2024-02-15", updated.CheckinDate.Format(tenancy.DateLayout))
	assert.Equal(t, tenancy.BookingPending, updated.Status)

	customer, err := h.svc.Customers.Get(ctx, b.CustomerID)
	require.NoError(t, err)
	assert.Equal(t, "U1", customer.ExternalID)
	assert.Equal(t, "Srisuk", customer.LastName)
	assert.Equal(t, "Tenant", customer.FirstName)
	assert.Equal(t, tenancy.LegalName("Ms.", "Tenant", "Srisuk"), customer.LegalName)

	ev := h.events.Events()[len(h.events.Events())-1]
	assert.Equal(t, tenancy.EventBookingUpdated, ev.Type)
	assert.Equal(t, "U1", ev.Recipient)
	assert.Equal(t, tenancy.RoomVacant, h.roomState(t, room.ID).Status)
}

func TestBooking_Update_NoChangeEmitsNothing(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	b := h.tenant(t, "U1", h.room(t, "R1", 3000).ID)
	before := len(h.events.Events())

	same, err := h.svc.Bookings.Update(ctx, b.ID, tenancy.BookingUpdate{
		Customer:    tenancy.CustomerInput{FirstName: "Tenant"},
		CheckinDate: ptr(b.CheckinDate),
	})
	require.NoError(t, err)
	assert.Equal(t, b.UpdatedAt, same.UpdatedAt)
	assert.Len(t, h.events.Events(), before)
}

func TestBooking_Update_Guards(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	room := h.room(t, "R1", 3000)
	b := h.tenant(t, "U1", room.ID)

	_, err := h.svc.Bookings.Update(ctx, "missing", tenancy.BookingUpdate{})
	assert.ErrorIs(t, err, tenancy.ErrNotFound)

	// Check-in after the requested checkout
	_, err = h.svc.Bookings.RequestCheckout(ctx, b.ID, date(2024, time.June, 30), "U1")
	require.NoError(t, err)
	_, err = h.svc.Bookings.Update(ctx, b.ID, tenancy.BookingUpdate{CheckinDate: ptr(date(2024, time.July, 1))})
	assert.ErrorIs(t, err, tenancy.ErrInvalidInput)

	// Finished tenancy
	_, err = h.svc.Bookings.ApproveReturn(ctx, b.ID, "admin-1")
	require.NoError(t, err)
	_, err = h.svc.Bookings.Update(ctx, b.ID, tenancy.BookingUpdate{
		Customer: tenancy.CustomerInput{Phone: "0899999999"},
	})
	assert.ErrorIs(t, err, tenancy.ErrConflict)

	// Rejected application
	rejected := h.book(t, "U2", room.ID)
	_, err = h.svc.Bookings.Reject(ctx, rejected.ID, "admin-1")
	require.NoError(t, err)
	_, err = h.svc.Bookings.Update(ctx, rejected.ID, tenancy.BookingUpdate{
		Customer: tenancy.CustomerInput{Phone: "0899999999"},
	})
	assert.ErrorIs(t, err, tenancy.ErrConflict)

	customer, err := h.svc.Customers.GetByExternalID(ctx, "U2")
	require.NoError(t, err)
	assert.Equal(t, "0800000000", customer.Phone)
	h.requireOccupancyInvariant(t)
}

func TestBooking_RescheduleCheckout(t *testing.T) {
	// GIVEN: A tenancy whose checkout request was rejected
	// WHEN: Staff move the checkout date
	// THEN: The date moves and the return decision is kept

	ctx := context.Background()
	h := newHarness(t)
	room := h.room(t, "R1", 3000)
	b := h.tenant(t, "U1", room.ID)

	_, err := h.svc.Bookings.RescheduleCheckout(ctx, b.ID, date(2024, time.June, 30))
	assert.ErrorIs(t, err, tenancy.ErrConflict, "no checkout requested")

	_, err = h.svc.Bookings.RequestCheckout(ctx, b.ID, date(2024, time.June, 30), "U1")
	require.NoError(t, err)
	_, err = h.svc.Bookings.RejectReturn(ctx, b.ID, "admin-1")
	require.NoError(t, err)

	_, err = h.svc.Bookings.RescheduleCheckout(ctx, b.ID, date(2024, time.January, 31))
	assert.ErrorIs(t, err, tenancy.ErrInvalidInput, "before checkin")
	_, err = h.svc.Bookings.RescheduleCheckout(ctx, b.ID, time.Time{})
	assert.ErrorIs(t, err, tenancy.ErrInvalidInput)

	moved, err := h.svc.Bookings.RescheduleCheckout(ctx, b.ID, date(2024, time.August, 31))
	require.NoError(t, err)
	require.NotNil(t, moved.CheckoutDate)
	assert.Equal(t, "2024-08-31", moved.CheckoutDate.Format(tenancy.DateLayout))
	assert.Equal(t, tenancy.ReturnRejected, moved.ReturnStatus)
	assert.Equal(t, tenancy.BookingApproved, moved.Status)
	assert.Equal(t, tenancy.EventBookingUpdated, h.events.Types()[len(h.events.Types())-1])
	assert.Equal(t, tenancy.RoomOccupied, h.roomState(t, room.ID).Status)
}

// =============================================================================
// DELETE AND QUERIES
// =============================================================================

func TestBooking_Delete_ReleasesRoomAndPayments(t *testing.T) {
	// GIVEN: An approved booking that came with a deposit slip
	// WHEN: Staff delete it
	// THEN: Room vacant, deposit payment gone, slip file deleted

	ctx := context.Background()
	h := newHarness(t)
	room := h.room(t, "R1", 3000)
	b, err := h.svc.Bookings.Create(ctx, tenancy.CreateBookingInput{
		Customer:    applicant("U1"),
		RoomID:      room.ID,
		CheckinDate: date(2024, time.February, 1),
		SlipRef:     "slip-deposit",
	})
	require.NoError(t, err)
	_, err = h.svc.Bookings.Approve(ctx, b.ID, "admin-1")
	require.NoError(t, err)

	require.NoError(t, h.svc.Bookings.Delete(ctx, b.ID))

	assert.Equal(t, tenancy.RoomVacant, h.roomState(t, room.ID).Status)
	_, err = h.svc.Bookings.Get(ctx, b.ID)
	assert.ErrorIs(t, err, tenancy.ErrNotFound)
	payments, err := h.svc.Payments.List(ctx, tenancy.PaymentFilter{BookingID: &b.ID})
	require.NoError(t, err)
	assert.Empty(t, payments)
	assert.Equal(t, []tenancy.SlipRef{"slip-deposit"}, h.slips.Deleted())

	assert.ErrorIs(t, h.svc.Bookings.Delete(ctx, b.ID), tenancy.ErrNotFound)
	h.requireOccupancyInvariant(t)
}

func TestBooking_Delete_PendingDoesNotTouchOtherHolder(t *testing.T) {
	// GIVEN: Room held by U1's approved booking; a stale pending booking
	//        for the same room exists from before
	// WHEN: Staff delete a rejected booking of the room
	// THEN: U1 keeps the room

	ctx := context.Background()
	h := newHarness(t)
	room := h.room(t, "R1", 3000)

	old := h.book(t, "U0", room.ID)
	_, err := h.svc.Bookings.Reject(ctx, old.ID, "admin-1")
	require.NoError(t, err)
	h.tenant(t, "U1", room.ID)

	require.NoError(t, h.svc.Bookings.Delete(ctx, old.ID))
	assert.Equal(t, tenancy.RoomOccupied, h.roomState(t, room.ID).Status)
	h.requireOccupancyInvariant(t)
}

func TestBooking_ListForCustomer(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	a := h.room(t, "A", 3000)
	b := h.room(t, "B", 3000)

	first := h.book(t, "U1", a.ID)
	_, err := h.svc.Bookings.Reject(ctx, first.ID, "admin-1")
	require.NoError(t, err)
	h.clock.Set(h.clock.Now().Add(time.Hour))
	second := h.book(t, "U1", b.ID)
	h.book(t, "U2", a.ID)

	mine, err := h.svc.Bookings.ListForCustomer(ctx, "U1")
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, first.ID, mine[0].ID)
	assert.Equal(t, second.ID, mine[1].ID)

	none, err := h.svc.Bookings.ListForCustomer(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, none)

	pending, err := h.svc.Bookings.List(ctx, tenancy.BookingFilter{Statuses: []tenancy.BookingStatus{tenancy.BookingPending}})
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

// =============================================================================
// ROOM CATALOG
// =============================================================================

func TestRoom_Delete_RefusedWhileActive(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	room := h.room(t, "R1", 3000)
	b := h.book(t, "U1", room.ID)

	assert.ErrorIs(t, h.svc.Rooms.Delete(ctx, room.ID), tenancy.ErrConflict)

	_, err := h.svc.Bookings.Reject(ctx, b.ID, "admin-1")
	require.NoError(t, err)
	require.NoError(t, h.svc.Rooms.Delete(ctx, room.ID))

	_, err = h.svc.Rooms.Get(ctx, room.ID)
	assert.ErrorIs(t, err, tenancy.ErrNotFound)
}

func TestRoom_Create_Validation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.svc.Rooms.Create(ctx, tenancy.CreateRoomInput{Number: " "})
	assert.ErrorIs(t, err, tenancy.ErrInvalidInput)

	_, err = h.svc.Rooms.Create(ctx, tenancy.CreateRoomInput{Number: "A1", MonthlyRent: d(-1)})
	assert.ErrorIs(t, err, tenancy.ErrInvalidInput)

	h.room(t, "A1", 3000)
	_, err = h.svc.Rooms.Create(ctx, tenancy.CreateRoomInput{Number: "A1", MonthlyRent: d(3000)})
	assert.ErrorIs(t, err, tenancy.ErrConflict)

	vacant, err := h.svc.Rooms.List(ctx, tenancy.RoomFilter{Statuses: []tenancy.RoomStatus{tenancy.RoomVacant}})
	require.NoError(t, err)
	assert.Len(t, vacant, 1)
}

// =============================================================================
// INVARIANT UNDER MIXED TRAFFIC
// =============================================================================

func TestOccupancyInvariant_MixedConcurrentTraffic(t *testing.T) {
	// GIVEN: 3 rooms and 12 applicants
	// WHEN: Applications, approvals, rejections and checkouts run concurrently
	// THEN: Every room has at most one active booking, and occupancy matches

	ctx := context.Background()
	h := newHarness(t)
	rooms := []*tenancy.Room{h.room(t, "R1", 3000), h.room(t, "R2", 3000), h.room(t, "R3", 3000)}

	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ext := fmt.Sprintf("U%d", i)
			room := rooms[i%len(rooms)]
			b, err := h.svc.Bookings.Create(ctx, tenancy.CreateBookingInput{
				Customer: applicant(ext), RoomID: room.ID, CheckinDate: date(2024, time.February, 1),
			})
			if err != nil {
				return
			}
			if i%2 == 0 {
				_, _ = h.svc.Bookings.Reject(ctx, b.ID, "admin")
				return
			}
			if _, err := h.svc.Bookings.Approve(ctx, b.ID, "admin"); err != nil {
				return
			}
			if _, err := h.svc.Bookings.RequestCheckout(ctx, b.ID, date(2024, time.March, 1), ext); err != nil {
				return
			}
			if i%3 == 0 {
				_, _ = h.svc.Bookings.ApproveReturn(ctx, b.ID, "admin")
			}
		}(i)
	}
	wg.Wait()

	h.requireOccupancyInvariant(t)
}

// =============================================================================
// COLLABORATOR FAILURES
// =============================================================================

func TestNotificationFailure_DoesNotFailTransition(t *testing.T) {
	ctx := context.Background()
	st := store.NewTxMemory()
	svc := tenancy.NewServices(tenancy.Deps{Store: st, Events: failingSink{}, Logger: zap.NewNop()}, tenancy.DefaultConfig())

	room, err := svc.Rooms.Create(ctx, tenancy.CreateRoomInput{Number: "R1", MonthlyRent: d(3000)})
	require.NoError(t, err)
	b, err := svc.Bookings.Create(ctx, tenancy.CreateBookingInput{
		Customer: applicant("U1"), RoomID: room.ID, CheckinDate: date(2024, time.February, 1),
	})
	require.NoError(t, err)
	approved, err := svc.Bookings.Approve(ctx, b.ID, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, tenancy.BookingApproved, approved.Status)
}

func TestStoreFailures_AreClassified(t *testing.T) {
	ctx := context.Background()

	broken := &brokenStore{TxMemory: store.NewTxMemory(), err: errors.New("database is locked")}
	svc := tenancy.NewServices(tenancy.Deps{Store: broken}, tenancy.DefaultConfig())
	_, err := svc.Bookings.Approve(ctx, "b1", "admin-1")
	assert.ErrorIs(t, err, tenancy.ErrUnavailable)
	assert.True(t, tenancy.IsRetryable(err))

	h := newHarness(t)
	room := h.room(t, "R1", 3000)
	b := h.book(t, "U1", room.ID)

	expired, cancel := context.WithDeadline(ctx, time.Now().Add(-time.Second))
	defer cancel()
	_, err = h.svc.Bookings.Approve(expired, b.ID, "admin-1")
	assert.ErrorIs(t, err, tenancy.ErrTimeout)

	// Nothing was written
	got, err := h.svc.Bookings.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, tenancy.BookingPending, got.Status)
}
