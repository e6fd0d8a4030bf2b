/*
handlers.go - HTTP API handlers for the dormitory tenancy engine

PURPOSE:
  Exposes the tenancy engines via REST API. Handles HTTP request/response,
  JSON serialization and actor scoping, and delegates every state change
  to tenancy.Services.

ENDPOINTS:
  Rooms:
    GET    /api/rooms                       List rooms (?status=vacant)
    GET    /api/rooms/{id}                  Get room
    POST   /api/rooms                       Create room               [staff]
    DELETE /api/rooms/{id}                  Delete vacant room        [staff]
    POST   /api/rooms/{id}/bills            Bill the room's tenant    [staff]

  Customers:
    POST   /api/customers                   Register or update profile
    GET    /api/customers/me                Own profile
    GET    /api/customers/{id}              Get customer              [staff]

  Bookings:
    POST   /api/bookings                    Apply for a room
    GET    /api/bookings/mine               Own bookings
    GET    /api/bookings                    List bookings             [staff]
    GET    /api/bookings/{id}               Get booking (staff or owner)
    PATCH  /api/bookings/{id}               Correct applicant/check-in [staff]
    DELETE /api/bookings/{id}               Delete booking            [staff]
    POST   /api/bookings/{id}/approve       Approve application       [staff]
    POST   /api/bookings/{id}/reject        Reject application        [staff]
    POST   /api/bookings/{id}/checkout      Request checkout (owner)
    DELETE /api/bookings/{id}/checkout      Withdraw checkout (owner)
    PATCH  /api/bookings/{id}/checkout      Move checkout date        [staff]
    POST   /api/bookings/{id}/return/approve Approve checkout         [staff]
    POST   /api/bookings/{id}/return/reject  Reject checkout          [staff]
    POST   /api/bookings/{id}/deposit       Submit deposit slip (owner)

  Bills:
    GET    /api/bills/unpaid                Unpaid bills (?customer_id= for staff)
    GET    /api/bills/paid                  Paid bills (?customer_id= for staff)
    GET    /api/bills                       List bills                [staff]
    POST   /api/bills                       Create bill               [staff]
    POST   /api/bills/refresh-fines         Recompute overdue fines   [staff]
    GET    /api/bills/{id}                  Get bill (staff or owner)
    GET    /api/bills/{id}/qr               PromptPay QR (staff or owner)
    PATCH  /api/bills/{id}                  Correct bill              [staff]
    DELETE /api/bills/{id}                  Delete unpaid bill        [staff]

  Payments:
    POST   /api/payments                    Submit bill payment slip
    GET    /api/payments                    List payments (own for tenants)
    GET    /api/payments/{id}               Get payment               [staff]
    POST   /api/payments/{id}/verify        Verify payment            [staff]
    POST   /api/payments/{id}/reject        Reject payment            [staff]

  Slips:
    POST   /api/slips                       Upload slip image (multipart "slip")
    GET    /api/slips/{ref}                 Download slip image       [staff]

  Scenarios:
    GET    /api/scenarios                   List demo scenarios       [staff]
    POST   /api/scenarios/load              Load a demo scenario      [staff]

  Webhook:
    POST   /webhook/line                    LINE events (follow registers)

REQUEST FLOW:
  1. Resolve the actor (auth.go)
  2. Decode and validate the body (validator tags in dto.go)
  3. Call the tenancy engine
  4. Serialize the response
  5. Map error kinds to HTTP status

ERROR HANDLING:
  Errors are returned as JSON {error, details} with the status of their
  kind:
  - 400: ErrInvalidInput, malformed body
  - 401: missing or invalid token
  - 403: ErrForbidden, staff-only route
  - 404: ErrNotFound
  - 409: ErrConflict (state machine, duplicates, lost races)
  - 503: ErrUnavailable
  - 504: ErrTimeout

SEE ALSO:
  - dto.go: Request/response data structures
  - auth.go: Actor resolution
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/smartdorm/tenancy-engine/tenancy"
)

// DefaultMaxSlipBytes bounds slip uploads.
const DefaultMaxSlipBytes = 10 << 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// SlipFiles stores and serves slip images.
type SlipFiles interface {
	tenancy.SlipStore
	Open(ctx context.Context, ref tenancy.SlipRef) (io.ReadCloser, error)
}

// Handler holds all dependencies for HTTP handlers.
// QRCodes renders a payment QR image for an amount.
type QRCodes interface {
	QR(ctx context.Context, amount decimal.Decimal) ([]byte, error)
}

type Handler struct {
	Services *tenancy.Services
	Slips    SlipFiles
	Location *time.Location
	Logger   *zap.Logger

	// QR renders payment QR codes; the QR endpoint answers 503 when nil.
	QR QRCodes

	// LineChannelSecret verifies X-Line-Signature on webhooks when set.
	LineChannelSecret string
	MaxSlipBytes      int64

	validate *validator.Validate
}

// NewHandler creates a handler over the engines.
func NewHandler(services *tenancy.Services, slips SlipFiles, loc *time.Location, logger *zap.Logger) *Handler {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Services:     services,
		Slips:        slips,
		Location:     loc,
		Logger:       logger,
		MaxSlipBytes: DefaultMaxSlipBytes,
		validate:     validator.New(),
	}
}

// =============================================================================
// ROOM HANDLERS
// =============================================================================

// ListRooms returns the catalog, optionally filtered by status.
func (h *Handler) ListRooms(w http.ResponseWriter, r *http.Request) {
	var filter tenancy.RoomFilter
	for _, s := range queryList(r, "status") {
		filter.Statuses = append(filter.Statuses, tenancy.RoomStatus(s))
	}
	rooms, err := h.Services.Rooms.List(r.Context(), filter)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(rooms, toRoomDTO))
}

func (h *Handler) GetRoom(w http.ResponseWriter, r *http.Request) {
	room, err := h.Services.Rooms.Get(r.Context(), tenancy.RoomID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRoomDTO(room))
}

func (h *Handler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	var req CreateRoomRequest
	if !h.decode(w, r, &req) {
		return
	}
	room, err := h.Services.Rooms.Create(r.Context(), tenancy.CreateRoomInput{
		Number:      req.Number,
		Size:        req.Size,
		MonthlyRent: req.MonthlyRent,
		Deposit:     req.Deposit,
		BookingFee:  req.BookingFee,
	})
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRoomDTO(room))
}

func (h *Handler) DeleteRoom(w http.ResponseWriter, r *http.Request) {
	if err := h.Services.Rooms.Delete(r.Context(), tenancy.RoomID(chi.URLParam(r, "id"))); err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// CUSTOMER HANDLERS
// =============================================================================

// RegisterCustomer upserts the caller's profile. Staff may register on
// behalf of any external id.
func (h *Handler) RegisterCustomer(w http.ResponseWriter, r *http.Request) {
	var req RegisterCustomerRequest
	if !h.decode(w, r, &req) {
		return
	}
	customer, err := h.Services.Customers.Register(r.Context(), req.input(h.externalID(r, req.ExternalID)))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCustomerDTO(customer))
}

func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	customer, err := h.Services.Customers.GetByExternalID(r.Context(), actor(r).Subject)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCustomerDTO(customer))
}

func (h *Handler) GetCustomer(w http.ResponseWriter, r *http.Request) {
	customer, err := h.Services.Customers.Get(r.Context(), tenancy.CustomerID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCustomerDTO(customer))
}

// =============================================================================
// BOOKING HANDLERS
// =============================================================================

// CreateBooking records an application. Tenants apply for themselves;
// staff must name the applicant's external id.
func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	var req CreateBookingRequest
	if !h.decode(w, r, &req) {
		return
	}
	checkin, err := tenancy.ParseDate(req.CheckinDate, h.Location)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	booking, err := h.Services.Bookings.Create(r.Context(), tenancy.CreateBookingInput{
		Customer:    req.RegisterCustomerRequest.input(h.externalID(r, req.ExternalID)),
		RoomID:      tenancy.RoomID(req.RoomID),
		CheckinDate: checkin,
		SlipRef:     tenancy.SlipRef(req.SlipRef),
	})
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBookingDTO(booking))
}

// ListBookings supports ?status=, ?room_id= and ?customer_id=.
func (h *Handler) ListBookings(w http.ResponseWriter, r *http.Request) {
	var filter tenancy.BookingFilter
	q := r.URL.Query()
	if v := q.Get("room_id"); v != "" {
		id := tenancy.RoomID(v)
		filter.RoomID = &id
	}
	if v := q.Get("customer_id"); v != "" {
		id := tenancy.CustomerID(v)
		filter.CustomerID = &id
	}
	for _, s := range queryList(r, "status") {
		filter.Statuses = append(filter.Statuses, tenancy.BookingStatus(s))
	}
	bookings, err := h.Services.Bookings.List(r.Context(), filter)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(bookings, toBookingDTO))
}

func (h *Handler) MyBookings(w http.ResponseWriter, r *http.Request) {
	bookings, err := h.Services.Bookings.ListForCustomer(r.Context(), actor(r).Subject)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(bookings, toBookingDTO))
}

func (h *Handler) GetBooking(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	booking, err := h.Services.Bookings.Get(ctx, tenancy.BookingID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	if !h.owns(ctx, booking.CustomerID) {
		writeError(w, http.StatusForbidden, "Forbidden", nil)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTO(booking))
}

func (h *Handler) DeleteBooking(w http.ResponseWriter, r *http.Request) {
	if err := h.Services.Bookings.Delete(r.Context(), tenancy.BookingID(chi.URLParam(r, "id"))); err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ApproveBooking(w http.ResponseWriter, r *http.Request) {
	h.bookingDecision(w, r, h.Services.Bookings.Approve)
}

func (h *Handler) RejectBooking(w http.ResponseWriter, r *http.Request) {
	h.bookingDecision(w, r, h.Services.Bookings.Reject)
}

func (h *Handler) ApproveReturn(w http.ResponseWriter, r *http.Request) {
	h.bookingDecision(w, r, h.Services.Bookings.ApproveReturn)
}

func (h *Handler) RejectReturn(w http.ResponseWriter, r *http.Request) {
	h.bookingDecision(w, r, h.Services.Bookings.RejectReturn)
}

type bookingDecisionFunc func(ctx context.Context, id tenancy.BookingID, approverID string) (*tenancy.Booking, error)

func (h *Handler) bookingDecision(w http.ResponseWriter, r *http.Request, decide bookingDecisionFunc) {
	booking, err := decide(r.Context(), tenancy.BookingID(chi.URLParam(r, "id")), actor(r).Subject)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTO(booking))
}

// RequestCheckout is issued by the tenant holding the booking.
func (h *Handler) RequestCheckout(w http.ResponseWriter, r *http.Request) {
	var req CheckoutRequest
	if !h.decode(w, r, &req) {
		return
	}
	checkout, err := tenancy.ParseDate(req.CheckoutDate, h.Location)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	booking, err := h.Services.Bookings.RequestCheckout(r.Context(),
		tenancy.BookingID(chi.URLParam(r, "id")), checkout, actor(r).Subject)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTO(booking))
}

// UpdateBooking applies a staff correction to an application.
func (h *Handler) UpdateBooking(w http.ResponseWriter, r *http.Request) {
	var req UpdateBookingRequest
	if !h.decode(w, r, &req) {
		return
	}
	upd := tenancy.BookingUpdate{Customer: req.input("")}
	if req.CheckinDate != "" {
		checkin, err := tenancy.ParseDate(req.CheckinDate, h.Location)
		if err != nil {
			h.writeEngineError(w, r, err)
			return
		}
		upd.CheckinDate = &checkin
	}
	booking, err := h.Services.Bookings.Update(r.Context(), tenancy.BookingID(chi.URLParam(r, "id")), upd)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTO(booking))
}

// RescheduleCheckout moves a requested checkout date.
func (h *Handler) RescheduleCheckout(w http.ResponseWriter, r *http.Request) {
	var req CheckoutRequest
	if !h.decode(w, r, &req) {
		return
	}
	checkout, err := tenancy.ParseDate(req.CheckoutDate, h.Location)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	booking, err := h.Services.Bookings.RescheduleCheckout(r.Context(),
		tenancy.BookingID(chi.URLParam(r, "id")), checkout)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTO(booking))
}

func (h *Handler) WithdrawCheckout(w http.ResponseWriter, r *http.Request) {
	booking, err := h.Services.Bookings.WithdrawCheckout(r.Context(),
		tenancy.BookingID(chi.URLParam(r, "id")), actor(r).Subject)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTO(booking))
}

// SubmitDepositSlip attaches a deposit slip to the caller's booking.
func (h *Handler) SubmitDepositSlip(w http.ResponseWriter, r *http.Request) {
	var req DepositSlipRequest
	if !h.decode(w, r, &req) {
		return
	}
	ctx := r.Context()
	customer, err := h.Services.Customers.GetByExternalID(ctx, actor(r).Subject)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	payment, err := h.Services.Payments.SubmitDepositSlip(ctx,
		tenancy.BookingID(chi.URLParam(r, "id")), customer.ID, tenancy.SlipRef(req.SlipRef))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPaymentDTO(payment))
}

// =============================================================================
// BILL HANDLERS
// =============================================================================

// CreateBill bills an explicit room and customer for a period.
func (h *Handler) CreateBill(w http.ResponseWriter, r *http.Request) {
	var req CreateBillRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.RoomID == "" || req.CustomerID == "" {
		writeError(w, http.StatusBadRequest, "room_id and customer_id are required", nil)
		return
	}
	period, err := tenancy.ParseMonth(req.PeriodMonth, h.Location)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	bill, err := h.Services.Billing.CreateBill(r.Context(), tenancy.CreateBillInput{
		RoomID:      tenancy.RoomID(req.RoomID),
		CustomerID:  tenancy.CustomerID(req.CustomerID),
		PeriodMonth: period,
		Readings:    req.readings(),
		CreatedBy:   actor(r).Subject,
	})
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBillDTO(bill))
}

// CreateRoomBill bills the tenant of the room's approved booking.
func (h *Handler) CreateRoomBill(w http.ResponseWriter, r *http.Request) {
	var req CreateBillRequest
	if !h.decode(w, r, &req) {
		return
	}
	period, err := tenancy.ParseMonth(req.PeriodMonth, h.Location)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	bill, err := h.Services.Billing.CreateBillFromActiveBooking(r.Context(),
		tenancy.RoomID(chi.URLParam(r, "id")), period, req.readings(), actor(r).Subject)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBillDTO(bill))
}

// ListBills supports ?status=, ?room_id=, ?customer_id= and ?period=YYYY-MM.
func (h *Handler) ListBills(w http.ResponseWriter, r *http.Request) {
	var filter tenancy.BillFilter
	q := r.URL.Query()
	if v := q.Get("room_id"); v != "" {
		id := tenancy.RoomID(v)
		filter.RoomID = &id
	}
	if v := q.Get("customer_id"); v != "" {
		id := tenancy.CustomerID(v)
		filter.CustomerID = &id
	}
	if v := q.Get("period"); v != "" {
		period, err := tenancy.ParseMonth(v, h.Location)
		if err != nil {
			h.writeEngineError(w, r, err)
			return
		}
		filter.PeriodMonth = &period
	}
	for _, s := range queryList(r, "status") {
		filter.Statuses = append(filter.Statuses, tenancy.BillStatus(s))
	}
	bills, err := h.Services.Billing.List(r.Context(), filter)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(bills, toBillDTO))
}

func (h *Handler) ListUnpaidBills(w http.ResponseWriter, r *http.Request) {
	h.customerBills(w, r, h.Services.Billing.ListUnpaid)
}

func (h *Handler) ListPaidBills(w http.ResponseWriter, r *http.Request) {
	h.customerBills(w, r, h.Services.Billing.ListPaid)
}

func (h *Handler) customerBills(w http.ResponseWriter, r *http.Request, list func(context.Context, tenancy.CustomerID) ([]tenancy.Bill, error)) {
	customerID, ok := h.customerScope(w, r, true)
	if !ok {
		return
	}
	if customerID == "" {
		writeJSON(w, http.StatusOK, []BillDTO{})
		return
	}
	bills, err := list(r.Context(), customerID)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(bills, toBillDTO))
}

func (h *Handler) GetBill(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	bill, err := h.Services.Billing.Get(ctx, tenancy.BillID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	if !h.owns(ctx, bill.CustomerID) {
		writeError(w, http.StatusForbidden, "Forbidden", nil)
		return
	}
	writeJSON(w, http.StatusOK, toBillDTO(bill))
}

// BillQR returns the PromptPay QR image for an unpaid bill's total.
func (h *Handler) BillQR(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.QR == nil {
		writeError(w, http.StatusServiceUnavailable, "QR payments are not configured", nil)
		return
	}
	bill, err := h.Services.Billing.Get(ctx, tenancy.BillID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	if !h.owns(ctx, bill.CustomerID) {
		writeError(w, http.StatusForbidden, "Forbidden", nil)
		return
	}
	if bill.Status != tenancy.BillUnpaid {
		writeError(w, http.StatusConflict, "Bill is "+string(bill.Status), nil)
		return
	}
	img, err := h.QR.QR(ctx, bill.Total)
	if err != nil {
		h.Logger.Error("qr generation failed",
			zap.String("request_id", middleware.GetReqID(ctx)),
			zap.String("bill_id", string(bill.ID)),
			zap.Error(err),
		)
		writeError(w, http.StatusBadGateway, "Failed to generate QR code", err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	w.Write(img)
}

func (h *Handler) UpdateBill(w http.ResponseWriter, r *http.Request) {
	var req UpdateBillRequest
	if !h.decode(w, r, &req) {
		return
	}
	upd := tenancy.BillUpdate{
		Rent:           req.Rent,
		ServiceFee:     req.ServiceFee,
		WaterBefore:    req.WaterBefore,
		WaterAfter:     req.WaterAfter,
		ElectricBefore: req.ElectricBefore,
		ElectricAfter:  req.ElectricAfter,
		Fine:           req.Fine,
		UnlockFine:     req.UnlockFine,
	}
	if req.DueDate != "" {
		due, err := tenancy.ParseDate(req.DueDate, h.Location)
		if err != nil {
			h.writeEngineError(w, r, err)
			return
		}
		upd.DueDate = &due
	}
	bill, err := h.Services.Billing.UpdateBill(r.Context(), tenancy.BillID(chi.URLParam(r, "id")), upd)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBillDTO(bill))
}

func (h *Handler) DeleteBill(w http.ResponseWriter, r *http.Request) {
	if err := h.Services.Billing.DeleteBill(r.Context(), tenancy.BillID(chi.URLParam(r, "id"))); err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RefreshFines runs the overdue fine refresh immediately.
func (h *Handler) RefreshFines(w http.ResponseWriter, r *http.Request) {
	n, err := h.Services.Billing.RefreshFines(r.Context())
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, RefreshFinesResponse{Updated: n})
}

// =============================================================================
// PAYMENT HANDLERS
// =============================================================================

// SubmitPayment records the caller's slip against one of their bills.
func (h *Handler) SubmitPayment(w http.ResponseWriter, r *http.Request) {
	var req SubmitPaymentRequest
	if !h.decode(w, r, &req) {
		return
	}
	ctx := r.Context()
	customer, err := h.Services.Customers.GetByExternalID(ctx, actor(r).Subject)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	payment, err := h.Services.Payments.SubmitPayment(ctx,
		tenancy.BillID(req.BillID), customer.ID, tenancy.SlipRef(req.SlipRef))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPaymentDTO(payment))
}

// ListPayments returns the caller's payments, or for staff any payments
// matching ?status=, ?bill_id=, ?booking_id= and ?customer_id=.
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	var filter tenancy.PaymentFilter
	q := r.URL.Query()
	if v := q.Get("bill_id"); v != "" {
		id := tenancy.BillID(v)
		filter.BillID = &id
	}
	if v := q.Get("booking_id"); v != "" {
		id := tenancy.BookingID(v)
		filter.BookingID = &id
	}
	for _, s := range queryList(r, "status") {
		filter.Statuses = append(filter.Statuses, tenancy.PaymentStatus(s))
	}

	customerID, ok := h.customerScope(w, r, false)
	if !ok {
		return
	}
	if !actor(r).IsStaff() && customerID == "" {
		writeJSON(w, http.StatusOK, []PaymentDTO{})
		return
	}
	if customerID != "" {
		filter.CustomerID = &customerID
	}

	payments, err := h.Services.Payments.List(r.Context(), filter)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(payments, toPaymentDTO))
}

func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	payment, err := h.Services.Payments.Get(r.Context(), tenancy.PaymentID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTO(payment))
}

func (h *Handler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	out, err := h.Services.Payments.VerifyPayment(r.Context(),
		tenancy.PaymentID(chi.URLParam(r, "id")), actor(r).Subject)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSettlementDTO(out))
}

func (h *Handler) RejectPayment(w http.ResponseWriter, r *http.Request) {
	out, err := h.Services.Payments.RejectPayment(r.Context(),
		tenancy.PaymentID(chi.URLParam(r, "id")), actor(r).Subject)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSettlementDTO(out))
}

// =============================================================================
// SLIP HANDLERS
// =============================================================================

// UploadSlip stores the multipart "slip" file and returns its reference.
func (h *Handler) UploadSlip(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.MaxSlipBytes)
	if err := r.ParseMultipartForm(h.MaxSlipBytes); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid slip upload", err)
		return
	}
	file, _, err := r.FormFile("slip")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Missing slip file", err)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read slip", err)
		return
	}
	ref, err := h.Slips.Put(r.Context(), data)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, SlipUploadResponse{SlipRef: string(ref)})
}

func (h *Handler) GetSlip(w http.ResponseWriter, r *http.Request) {
	rc, err := h.Slips.Open(r.Context(), tenancy.SlipRef(chi.URLParam(r, "ref")))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	defer rc.Close()
	w.Header().Set("Content-Type", "image/jpeg")
	if _, err := io.Copy(w, rc); err != nil {
		h.Logger.Warn("slip download interrupted", zap.Error(err))
	}
}

// =============================================================================
// WEBHOOK
// =============================================================================

// LineWebhook registers every user that follows the official account.
// Other event types are acknowledged and ignored.
func (h *Handler) LineWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if h.LineChannelSecret != "" && !validLineSignature(h.LineChannelSecret, body, r.Header.Get("X-Line-Signature")) {
		writeError(w, http.StatusUnauthorized, "Invalid signature", nil)
		return
	}

	var req LineWebhookRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	for _, ev := range req.Events {
		if ev.Type != "follow" || ev.Source.UserID == "" {
			continue
		}
		if _, err := h.Services.Customers.Register(r.Context(), tenancy.CustomerInput{ExternalID: ev.Source.UserID}); err != nil {
			h.writeEngineError(w, r, err)
			return
		}
		h.Logger.Info("customer registered from follow event", zap.String("external_id", ev.Source.UserID))
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "ok"})
}

func validLineSignature(secret string, body []byte, signature string) bool {
	got, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// statusFor maps an engine error kind to its HTTP status.
func statusFor(err error) (int, string) {
	switch tenancy.KindOf(err) {
	case tenancy.ErrNotFound:
		return http.StatusNotFound, "Not found"
	case tenancy.ErrConflict:
		return http.StatusConflict, "Conflict"
	case tenancy.ErrForbidden:
		return http.StatusForbidden, "Forbidden"
	case tenancy.ErrInvalidInput:
		return http.StatusBadRequest, "Invalid input"
	case tenancy.ErrUnavailable:
		return http.StatusServiceUnavailable, "Service unavailable"
	case tenancy.ErrTimeout:
		return http.StatusGatewayTimeout, "Timed out"
	}
	return http.StatusInternalServerError, "Internal error"
}

func (h *Handler) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	status, message := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.Logger.Error("request failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err),
		)
	}
	writeError(w, status, message, err)
}

// decode reads a JSON body into dst and runs its validation tags.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			writeError(w, http.StatusBadRequest, "Validation failed", verrs)
			return false
		}
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

func actor(r *http.Request) Actor {
	a, _ := ActorFrom(r.Context())
	return a
}

// externalID picks the identity a customer write applies to: the caller
// for tenants, the requested id for staff.
func (h *Handler) externalID(r *http.Request, requested string) string {
	a := actor(r)
	if a.IsStaff() {
		return requested
	}
	return a.Subject
}

// owns reports whether the caller may read a record of customerID.
func (h *Handler) owns(ctx context.Context, customerID tenancy.CustomerID) bool {
	a, _ := ActorFrom(ctx)
	if a.IsStaff() {
		return true
	}
	c, err := h.Services.Customers.GetByExternalID(ctx, a.Subject)
	return err == nil && c.ID == customerID
}

// customerScope resolves whose records a listing covers. Tenants get
// their own customer id, or "" if they never registered; staff get
// ?customer_id=.
func (h *Handler) customerScope(w http.ResponseWriter, r *http.Request, required bool) (tenancy.CustomerID, bool) {
	a := actor(r)
	if a.IsStaff() {
		id := tenancy.CustomerID(r.URL.Query().Get("customer_id"))
		if id == "" && required {
			writeError(w, http.StatusBadRequest, "customer_id is required", nil)
			return "", false
		}
		return id, true
	}
	c, err := h.Services.Customers.GetByExternalID(r.Context(), a.Subject)
	if tenancy.IsNotFound(err) {
		return "", true
	}
	if err != nil {
		h.writeEngineError(w, r, err)
		return "", false
	}
	return c.ID, true
}

func queryList(r *http.Request, key string) []string {
	var out []string
	for _, v := range r.URL.Query()[key] {
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
