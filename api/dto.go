/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the tenancy records from the external API contract. Money and meter
  readings travel as decimal strings ("1234.50"); requests accept either
  strings or JSON numbers.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Small response wrappers

TYPES:
  Rooms:     RoomDTO, CreateRoomRequest
  Customers: CustomerDTO, RegisterCustomerRequest
  Bookings:  BookingDTO, CreateBookingRequest, UpdateBookingRequest,
             CheckoutRequest
  Bills:     BillDTO, CreateBillRequest, MeterReadingsRequest, UpdateBillRequest
  Payments:  PaymentDTO, SettlementDTO, SubmitPaymentRequest, DepositSlipRequest
  Misc:      SlipUploadResponse, RefreshFinesResponse, ErrorResponse,
             LineWebhookRequest
  Scenarios: ScenarioDTO, LoadScenarioRequest

VALIDATION:
  Request types carry go-playground/validator tags; handlers call
  Handler.decode which runs them. Cross-field and state rules stay in the
  tenancy engines.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/smartdorm/tenancy-engine/tenancy"
)

// =============================================================================
// ROOMS
// =============================================================================

type RoomDTO struct {
	ID          string          `json:"id"`
	Number      string          `json:"number"`
	Size        string          `json:"size,omitempty"`
	MonthlyRent decimal.Decimal `json:"monthly_rent"`
	Deposit     decimal.Decimal `json:"deposit"`
	BookingFee  decimal.Decimal `json:"booking_fee"`
	Status      string          `json:"status"`
	OccupiedBy  string          `json:"occupied_by,omitempty"`
	CreatedAt   string          `json:"created_at"`
}

type CreateRoomRequest struct {
	Number      string          `json:"number" validate:"required,max=16"`
	Size        string          `json:"size" validate:"max=32"`
	MonthlyRent decimal.Decimal `json:"monthly_rent"`
	Deposit     decimal.Decimal `json:"deposit"`
	BookingFee  decimal.Decimal `json:"booking_fee"`
}

// =============================================================================
// CUSTOMERS
// =============================================================================

type CustomerDTO struct {
	ID          string `json:"id"`
	ExternalID  string `json:"external_id"`
	DisplayName string `json:"display_name,omitempty"`
	LegalName   string `json:"legal_name,omitempty"`
	Phone       string `json:"phone,omitempty"`
	NationalID  string `json:"national_id,omitempty"`
	CreatedAt   string `json:"created_at"`
}

// RegisterCustomerRequest is also embedded in booking applications.
// ExternalID is only honoured for staff callers; tenants always register
// themselves.
type RegisterCustomerRequest struct {
	ExternalID  string `json:"external_id,omitempty" validate:"omitempty,max=64"`
	DisplayName string `json:"display_name" validate:"max=128"`
	Title       string `json:"title" validate:"max=32"`
	FirstName   string `json:"first_name" validate:"max=64"`
	LastName    string `json:"last_name" validate:"max=64"`
	Phone       string `json:"phone" validate:"omitempty,min=6,max=20"`
	NationalID  string `json:"national_id" validate:"omitempty,numeric,len=13"`
}

// =============================================================================
// BOOKINGS
// =============================================================================

type BookingDTO struct {
	ID           string `json:"id"`
	RoomID       string `json:"room_id"`
	CustomerID   string `json:"customer_id"`
	CheckinDate  string `json:"checkin_date"`
	CheckoutDate string `json:"checkout_date,omitempty"`
	SlipRef      string `json:"slip_ref,omitempty"`
	Status       string `json:"status"`
	ReturnStatus string `json:"return_status"`
	ApprovedBy   string `json:"approved_by,omitempty"`
	CreatedAt    string `json:"created_at"`
}

type CreateBookingRequest struct {
	RegisterCustomerRequest
	RoomID      string `json:"room_id" validate:"required"`
	CheckinDate string `json:"checkin_date" validate:"required"`
	SlipRef     string `json:"slip_ref"`
}

// UpdateBookingRequest is a staff correction; empty fields are unchanged.
type UpdateBookingRequest struct {
	RegisterCustomerRequest
	CheckinDate string `json:"checkin_date"`
}

type CheckoutRequest struct {
	CheckoutDate string `json:"checkout_date" validate:"required"`
}

// =============================================================================
// BILLS
// =============================================================================

type BillDTO struct {
	ID          string `json:"id"`
	RoomID      string `json:"room_id"`
	CustomerID  string `json:"customer_id"`
	PeriodMonth string `json:"period_month"`

	WaterBefore    decimal.Decimal `json:"water_before"`
	WaterAfter     decimal.Decimal `json:"water_after"`
	WaterUnits     decimal.Decimal `json:"water_units"`
	WaterUnitPrice decimal.Decimal `json:"water_unit_price"`
	WaterCost      decimal.Decimal `json:"water_cost"`

	ElectricBefore    decimal.Decimal `json:"electric_before"`
	ElectricAfter     decimal.Decimal `json:"electric_after"`
	ElectricUnits     decimal.Decimal `json:"electric_units"`
	ElectricUnitPrice decimal.Decimal `json:"electric_unit_price"`
	ElectricCost      decimal.Decimal `json:"electric_cost"`

	Rent        decimal.Decimal `json:"rent"`
	ServiceFee  decimal.Decimal `json:"service_fee"`
	Fine        decimal.Decimal `json:"fine"`
	OverdueDays int             `json:"overdue_days"`
	FineLocked  bool            `json:"fine_locked"`
	Total       decimal.Decimal `json:"total"`
	DueDate     string          `json:"due_date"`

	Status     string `json:"status"`
	SlipRef    string `json:"slip_ref,omitempty"`
	PaymentID  string `json:"payment_id,omitempty"`
	ApprovedBy string `json:"approved_by,omitempty"`
	CreatedBy  string `json:"created_by,omitempty"`
	CreatedAt  string `json:"created_at"`
}

// MeterReadingsRequest carries the readings for a period. The before
// readings only matter for a room's first bill.
type MeterReadingsRequest struct {
	WaterAfter     *decimal.Decimal `json:"water_after" validate:"required"`
	ElectricAfter  *decimal.Decimal `json:"electric_after" validate:"required"`
	WaterBefore    *decimal.Decimal `json:"water_before"`
	ElectricBefore *decimal.Decimal `json:"electric_before"`
}

// CreateBillRequest bills an explicit room and customer. On
// POST /api/rooms/{id}/bills both IDs are ignored: the room comes from the
// path and the customer from its approved booking.
type CreateBillRequest struct {
	MeterReadingsRequest
	RoomID      string `json:"room_id"`
	CustomerID  string `json:"customer_id"`
	PeriodMonth string `json:"period_month" validate:"required"`
}

// UpdateBillRequest is a staff correction. Omitted fields stay as they are.
type UpdateBillRequest struct {
	Rent           *decimal.Decimal `json:"rent"`
	ServiceFee     *decimal.Decimal `json:"service_fee"`
	WaterBefore    *decimal.Decimal `json:"water_before"`
	WaterAfter     *decimal.Decimal `json:"water_after"`
	ElectricBefore *decimal.Decimal `json:"electric_before"`
	ElectricAfter  *decimal.Decimal `json:"electric_after"`
	Fine           *decimal.Decimal `json:"fine"`
	UnlockFine     bool             `json:"unlock_fine"`
	DueDate        string           `json:"due_date"`
}

type RefreshFinesResponse struct {
	Updated int `json:"updated"`
}

// =============================================================================
// PAYMENTS
// =============================================================================

type PaymentDTO struct {
	ID         string `json:"id"`
	BillID     string `json:"bill_id,omitempty"`
	BookingID  string `json:"booking_id,omitempty"`
	CustomerID string `json:"customer_id"`
	SlipRef    string `json:"slip_ref"`
	Status     string `json:"status"`
	VerifiedBy string `json:"verified_by,omitempty"`
	VerifiedAt string `json:"verified_at,omitempty"`
	CreatedAt  string `json:"created_at"`
}

// SettlementDTO is the outcome of a verify or reject decision.
type SettlementDTO struct {
	Payment *PaymentDTO `json:"payment"`
	Bill    *BillDTO    `json:"bill,omitempty"`
	Booking *BookingDTO `json:"booking,omitempty"`
}

type SubmitPaymentRequest struct {
	BillID  string `json:"bill_id" validate:"required"`
	SlipRef string `json:"slip_ref" validate:"required"`
}

type DepositSlipRequest struct {
	SlipRef string `json:"slip_ref" validate:"required"`
}

type SlipUploadResponse struct {
	SlipRef string `json:"slip_ref"`
}

// =============================================================================
// WEBHOOK
// =============================================================================

// LineWebhookRequest is the subset of the LINE Messaging API webhook body
// the server reacts to.
type LineWebhookRequest struct {
	Events []LineEvent `json:"events"`
}

type LineEvent struct {
	Type   string `json:"type"`
	Source struct {
		Type   string `json:"type"`
		UserID string `json:"userId"`
	} `json:"source"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse represents an error in API responses.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func formatDate(t time.Time) string {
	return t.Format(tenancy.DateLayout)
}

func formatTimestamp(t time.Time) string {
	return t.Format(time.RFC3339)
}

func toRoomDTO(r *tenancy.Room) RoomDTO {
	dto := RoomDTO{
		ID:          string(r.ID),
		Number:      r.Number,
		Size:        r.Size,
		MonthlyRent: r.MonthlyRent,
		Deposit:     r.Deposit,
		BookingFee:  r.BookingFee,
		Status:      string(r.Status),
		CreatedAt:   formatTimestamp(r.CreatedAt),
	}
	if r.OccupiedBy != nil {
		dto.OccupiedBy = string(*r.OccupiedBy)
	}
	return dto
}

func toCustomerDTO(c *tenancy.Customer) CustomerDTO {
	return CustomerDTO{
		ID:          string(c.ID),
		ExternalID:  c.ExternalID,
		DisplayName: c.DisplayName,
		LegalName:   c.LegalName,
		Phone:       c.Phone,
		NationalID:  c.NationalID,
		CreatedAt:   formatTimestamp(c.CreatedAt),
	}
}

func toBookingDTO(b *tenancy.Booking) BookingDTO {
	dto := BookingDTO{
		ID:           string(b.ID),
		RoomID:       string(b.RoomID),
		CustomerID:   string(b.CustomerID),
		CheckinDate:  formatDate(b.CheckinDate),
		SlipRef:      string(b.SlipRef),
		Status:       string(b.Status),
		ReturnStatus: string(b.ReturnStatus),
		ApprovedBy:   b.ApprovedBy,
		CreatedAt:    formatTimestamp(b.CreatedAt),
	}
	if b.CheckoutDate != nil {
		dto.CheckoutDate = formatDate(*b.CheckoutDate)
	}
	return dto
}

func toBillDTO(b *tenancy.Bill) BillDTO {
	dto := BillDTO{
		ID:                string(b.ID),
		RoomID:            string(b.RoomID),
		CustomerID:        string(b.CustomerID),
		PeriodMonth:       b.PeriodMonth.Format(tenancy.MonthLayout),
		WaterBefore:       b.WaterBefore,
		WaterAfter:        b.WaterAfter,
		WaterUnits:        b.WaterUnits,
		WaterUnitPrice:    b.WaterUnitPrice,
		WaterCost:         b.WaterCost,
		ElectricBefore:    b.ElectricBefore,
		ElectricAfter:     b.ElectricAfter,
		ElectricUnits:     b.ElectricUnits,
		ElectricUnitPrice: b.ElectricUnitPrice,
		ElectricCost:      b.ElectricCost,
		Rent:              b.Rent,
		ServiceFee:        b.ServiceFee,
		Fine:              b.Fine,
		OverdueDays:       b.OverdueDays,
		FineLocked:        b.FineLocked,
		Total:             b.Total,
		DueDate:           formatDate(b.DueDate),
		Status:            string(b.Status),
		SlipRef:           string(b.SlipRef),
		ApprovedBy:        b.ApprovedBy,
		CreatedBy:         b.CreatedBy,
		CreatedAt:         formatTimestamp(b.CreatedAt),
	}
	if b.PaymentID != nil {
		dto.PaymentID = string(*b.PaymentID)
	}
	return dto
}

func toPaymentDTO(p *tenancy.Payment) PaymentDTO {
	dto := PaymentDTO{
		ID:         string(p.ID),
		CustomerID: string(p.CustomerID),
		SlipRef:    string(p.SlipRef),
		Status:     string(p.Status),
		VerifiedBy: p.VerifiedBy,
		CreatedAt:  formatTimestamp(p.CreatedAt),
	}
	if p.BillID != nil {
		dto.BillID = string(*p.BillID)
	}
	if p.BookingID != nil {
		dto.BookingID = string(*p.BookingID)
	}
	if p.VerifiedAt != nil {
		dto.VerifiedAt = formatTimestamp(*p.VerifiedAt)
	}
	return dto
}

func toSettlementDTO(s *tenancy.Settlement) SettlementDTO {
	var dto SettlementDTO
	if s.Payment != nil {
		p := toPaymentDTO(s.Payment)
		dto.Payment = &p
	}
	if s.Bill != nil {
		b := toBillDTO(s.Bill)
		dto.Bill = &b
	}
	if s.Booking != nil {
		b := toBookingDTO(s.Booking)
		dto.Booking = &b
	}
	return dto
}

func mapSlice[T any, D any](items []T, conv func(*T) D) []D {
	out := make([]D, len(items))
	for i := range items {
		out[i] = conv(&items[i])
	}
	return out
}

func (r RegisterCustomerRequest) input(externalID string) tenancy.CustomerInput {
	return tenancy.CustomerInput{
		ExternalID:  externalID,
		DisplayName: r.DisplayName,
		Title:       r.Title,
		FirstName:   r.FirstName,
		LastName:    r.LastName,
		Phone:       r.Phone,
		NationalID:  r.NationalID,
	}
}

func (r MeterReadingsRequest) readings() tenancy.MeterReadings {
	m := tenancy.MeterReadings{
		WaterBefore:    r.WaterBefore,
		ElectricBefore: r.ElectricBefore,
	}
	if r.WaterAfter != nil {
		m.WaterAfter = *r.WaterAfter
	}
	if r.ElectricAfter != nil {
		m.ElectricAfter = *r.ElectricAfter
	}
	return m
}
