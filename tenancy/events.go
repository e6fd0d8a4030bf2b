/*
events.go - Domain events emitted after a committed transition

PURPOSE:
  Engines do not talk to the notification channel. After a transaction
  commits they publish an Event describing what happened; a dispatcher
  (package notify) turns events into messages. A failed publish is logged
  and swallowed: the committed transition is the durable fact.

EVENT FLOW:
  engine op ──▶ WithTx commit ──▶ EventSink.Publish ──▶ notify.Dispatcher
                                                    └─▶ redis stream (optional)

SEE ALSO:
  - notify/dispatcher.go: renders and delivers events
  - notify/stream.go: redis stream transport
*/
package tenancy

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

type EventType string

const (
	EventBookingCreated    EventType = "booking.created"
	EventBookingApproved   EventType = "booking.approved"
	EventBookingRejected   EventType = "booking.rejected"
	EventBookingDeleted    EventType = "booking.deleted"
	EventBookingUpdated    EventType = "booking.updated"
	EventCheckoutRequested EventType = "booking.checkout_requested"
	EventCheckoutWithdrawn EventType = "booking.checkout_withdrawn"
	EventReturnApproved    EventType = "booking.return_approved"
	EventReturnRejected    EventType = "booking.return_rejected"
	EventBillCreated       EventType = "bill.created"
	EventPaymentSubmitted  EventType = "payment.submitted"
	EventPaymentVerified   EventType = "payment.verified"
	EventPaymentRejected   EventType = "payment.rejected"
	EventDepositSubmitted  EventType = "payment.deposit_submitted"
)

// Event carries enough denormalized detail to render a notification
// without reading the store again.
type Event struct {
	ID   string    `json:"id"`
	Type EventType `json:"type"`
	At   time.Time `json:"at"`

	// Recipient is the tenant's external chat identity. Staff-facing
	// messages are routed by the dispatcher.
	Recipient    string `json:"recipient,omitempty"`
	CustomerName string `json:"customer_name,omitempty"`
	CustomerID   string `json:"customer_id,omitempty"`
	Phone        string `json:"phone,omitempty"`

	RoomID     string `json:"room_id,omitempty"`
	RoomNumber string `json:"room_number,omitempty"`
	BookingID  string `json:"booking_id,omitempty"`
	BillID     string `json:"bill_id,omitempty"`
	PaymentID  string `json:"payment_id,omitempty"`
	SlipRef    string `json:"slip_ref,omitempty"`

	CheckinDate  *time.Time `json:"checkin_date,omitempty"`
	CheckoutDate *time.Time `json:"checkout_date,omitempty"`

	// Bill summary
	PeriodMonth   *time.Time       `json:"period_month,omitempty"`
	DueDate       *time.Time       `json:"due_date,omitempty"`
	Rent          *decimal.Decimal `json:"rent,omitempty"`
	ServiceFee    *decimal.Decimal `json:"service_fee,omitempty"`
	WaterUnits    *decimal.Decimal `json:"water_units,omitempty"`
	WaterCost     *decimal.Decimal `json:"water_cost,omitempty"`
	ElectricUnits *decimal.Decimal `json:"electric_units,omitempty"`
	ElectricCost  *decimal.Decimal `json:"electric_cost,omitempty"`
	Fine          *decimal.Decimal `json:"fine,omitempty"`
	Amount        *decimal.Decimal `json:"amount,omitempty"`
}

// EventSink receives events after commit.
type EventSink interface {
	Publish(ctx context.Context, event Event) error
}

// NopSink discards events.
type NopSink struct{}

func (NopSink) Publish(context.Context, Event) error { return nil }

// RecordingSink keeps published events in memory. Useful in tests and for
// wiring that inspects emitted events.
type RecordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *RecordingSink) Publish(_ context.Context, e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

// Events returns a copy of the recorded events in publish order.
func (s *RecordingSink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

// Types returns the types of the recorded events in order.
func (s *RecordingSink) Types() []EventType {
	events := s.Events()
	out := make([]EventType, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}

func decPtr(d decimal.Decimal) *decimal.Decimal { return &d }

func timePtr(t time.Time) *time.Time { return &t }

func customerEvent(t EventType, c *Customer, room *Room) Event {
	e := Event{Type: t}
	if c != nil {
		e.Recipient = c.ExternalID
		e.CustomerName = c.LegalName
		if e.CustomerName == "" {
			e.CustomerName = c.DisplayName
		}
		e.CustomerID = string(c.ID)
		e.Phone = c.Phone
	}
	if room != nil {
		e.RoomID = string(room.ID)
		e.RoomNumber = room.Number
	}
	return e
}
