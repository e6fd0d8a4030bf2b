package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/smartdorm/tenancy-engine/tenancy"
)

// Audience says who a rendered message is for.
type Audience int

const (
	Tenant Audience = iota
	Staff
)

// Message is one rendered notification.
type Message struct {
	Audience Audience
	Text     string
}

const dateLayout = "2 Jan 2006"

// Render returns the messages an event produces. Events with nothing to
// say return nil.
func Render(e tenancy.Event) []Message {
	switch e.Type {
	case tenancy.EventBookingCreated:
		return []Message{
			{Staff, lines(
				"New booking request",
				"Room: "+e.RoomNumber,
				"Name: "+e.CustomerName,
				"Phone: "+e.Phone,
				"Check-in: "+day(e.CheckinDate),
				"Status: awaiting approval",
			)},
			{Tenant, lines(
				"Your booking for room "+e.RoomNumber+" has been received",
				"Name: "+e.CustomerName,
				"Check-in: "+day(e.CheckinDate),
				"Status: awaiting approval",
			)},
		}

	case tenancy.EventBookingApproved:
		return []Message{{Tenant, lines(
			"Your booking for room "+e.RoomNumber+" has been approved",
			"Name: "+e.CustomerName,
			"Check-in: "+day(e.CheckinDate),
		)}}

	case tenancy.EventBookingRejected:
		return []Message{{Tenant, lines(
			"Your booking for room "+e.RoomNumber+" was rejected",
			"Name: "+e.CustomerName,
			"Please send your bank account number to receive your refund of "+money(e.Amount),
		)}}

	case tenancy.EventBookingDeleted:
		return []Message{{Tenant, "Your booking for room " + e.RoomNumber + " has been cancelled"}}

	case tenancy.EventCheckoutRequested:
		return []Message{
			{Staff, lines(
				"Checkout request",
				"Room: "+e.RoomNumber,
				"Name: "+e.CustomerName,
				"Checkout: "+day(e.CheckoutDate),
			)},
			{Tenant, lines(
				"Your checkout request for room "+e.RoomNumber+" has been received",
				"Checkout: "+day(e.CheckoutDate),
				"Status: awaiting approval",
			)},
		}

	case tenancy.EventBookingUpdated:
		return []Message{{Tenant, lines(
			"Your booking for room "+e.RoomNumber+" was updated by staff",
			"Name: "+e.CustomerName,
			"Check-in: "+day(e.CheckinDate),
			"Checkout: "+day(e.CheckoutDate),
		)}}

	case tenancy.EventCheckoutWithdrawn:
		return []Message{{Staff, "Checkout request for room " + e.RoomNumber + " was withdrawn by " + e.CustomerName}}

	case tenancy.EventReturnApproved:
		return []Message{{Tenant, lines(
			"Your checkout from room "+e.RoomNumber+" has been approved",
			"Checkout: "+day(e.CheckoutDate),
			"Thank you for staying with us",
		)}}

	case tenancy.EventReturnRejected:
		return []Message{{Tenant, lines(
			"Your checkout request for room "+e.RoomNumber+" was not approved",
			"Please contact the dormitory office",
		)}}

	case tenancy.EventBillCreated:
		return []Message{{Tenant, billSummary(e)}}

	case tenancy.EventPaymentSubmitted:
		return []Message{
			{Staff, lines(
				"Payment slip received",
				"Room: "+e.RoomNumber,
				"Name: "+e.CustomerName,
				"Period: "+month(e.PeriodMonth),
				"Amount: "+money(e.Amount),
			)},
			{Tenant, lines(
				"We received your payment slip for room "+e.RoomNumber,
				"Period: "+month(e.PeriodMonth),
				"Status: awaiting verification",
			)},
		}

	case tenancy.EventDepositSubmitted:
		return []Message{{Staff, lines(
			"Deposit slip received",
			"Room: "+e.RoomNumber,
			"Name: "+e.CustomerName,
			"Deposit: "+money(e.Amount),
		)}}

	case tenancy.EventPaymentVerified:
		if e.BillID == "" {
			return []Message{{Tenant, "Your deposit for room " + e.RoomNumber + " has been verified"}}
		}
		return []Message{{Tenant, lines(
			"Your payment for room "+e.RoomNumber+" has been verified",
			"Period: "+month(e.PeriodMonth),
			"Amount: "+money(e.Amount),
			"Thank you",
		)}}

	case tenancy.EventPaymentRejected:
		if e.BillID == "" {
			return []Message{{Tenant, "Your deposit slip for room " + e.RoomNumber + " was rejected, please submit a new slip"}}
		}
		return []Message{{Tenant, lines(
			"Your payment slip for room "+e.RoomNumber+" was rejected",
			"Period: "+month(e.PeriodMonth),
			"Amount due: "+money(e.Amount),
			"Please submit a new slip",
		)}}
	}
	return nil
}

func billSummary(e tenancy.Event) string {
	msg := []string{
		"Bill for room " + e.RoomNumber + ", " + month(e.PeriodMonth),
		"Rent: " + money(e.Rent),
		"Service fee: " + money(e.ServiceFee),
		fmt.Sprintf("Water: %s units, %s", units(e.WaterUnits), money(e.WaterCost)),
		fmt.Sprintf("Electricity: %s units, %s", units(e.ElectricUnits), money(e.ElectricCost)),
	}
	if e.Fine != nil && e.Fine.IsPositive() {
		msg = append(msg, "Late fine: "+money(e.Fine))
	}
	msg = append(msg,
		"Total: "+money(e.Amount),
		"Due: "+day(e.DueDate),
	)
	return lines(msg...)
}

func lines(parts ...string) string {
	return strings.Join(parts, "\n")
}

func day(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(dateLayout)
}

func month(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format("January 2006")
}

func money(v *decimal.Decimal) string {
	if v == nil {
		return "-"
	}
	return v.StringFixed(2) + " THB"
}

func units(v *decimal.Decimal) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
