/*
scenarios.go - Demo data loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with a
	realistic property: a room catalog and, for the richer scenarios,
	tenants moved in through the regular engines so every invariant holds.

AVAILABLE SCENARIOS:

	small-dorm:      Two floors of vacant rooms
	occupied-dorm:   small-dorm plus a tenant with an approved booking and
	                 last month's bill
	pending-review:  occupied-dorm with the bill's payment slip submitted

HOW SCENARIOS WORK:
 1. Create missing rooms (existing room numbers are kept)
 2. Register the demo tenant
 3. Apply for and approve a booking
 4. Bill last month from the active booking
 5. Optionally submit a payment slip

Loading is additive and safe to repeat; nothing is reset.

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "occupied-dorm"}

USAGE VIA CLI:

	tenancy-server seed --scenario occupied-dorm

SEE ALSO:
  - cmd/server/main.go: seed command
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/smartdorm/tenancy-engine/tenancy"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "small-dorm",
		Name:        "Small Dorm",
		Description: "Rooms 101-106 and 201-206, all vacant",
	},
	{
		ID:          "occupied-dorm",
		Name:        "Occupied Dorm",
		Description: "Small dorm with one tenant in room 101 and last month's bill",
	},
	{
		ID:          "pending-review",
		Name:        "Payment Under Review",
		Description: "Occupied dorm with the tenant's payment slip awaiting staff review",
	},
}

const (
	demoTenantID = "U-demo-tenant-101"
	demoSeeder   = "seed"
)

// Scenarios returns the available scenarios.
func Scenarios() []ScenarioDTO {
	return append([]ScenarioDTO(nil), scenarios...)
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := LoadScenario(r.Context(), h.Services, req.ScenarioID, time.Now().In(h.Location)); err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// LoadScenario populates the store with scenario id as of now.
func LoadScenario(ctx context.Context, svc *tenancy.Services, id string, now time.Time) error {
	switch id {
	case "small-dorm":
		_, err := loadRooms(ctx, svc)
		return err
	case "occupied-dorm":
		_, err := loadOccupied(ctx, svc, now)
		return err
	case "pending-review":
		return loadPendingReview(ctx, svc, now)
	default:
		return fmt.Errorf("unknown scenario %q: %w", id, tenancy.ErrInvalidInput)
	}
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func loadRooms(ctx context.Context, svc *tenancy.Services) (map[string]tenancy.Room, error) {
	existing, err := svc.Rooms.List(ctx, tenancy.RoomFilter{})
	if err != nil {
		return nil, err
	}
	byNumber := make(map[string]tenancy.Room, len(existing))
	for _, r := range existing {
		byNumber[r.Number] = r
	}

	for floor := 1; floor <= 2; floor++ {
		// Upper floor rooms are larger and cost more
		rent := decimal.NewFromInt(3500 + int64(floor-1)*500)
		size := "24 sqm"
		if floor == 2 {
			size = "28 sqm"
		}
		for n := 1; n <= 6; n++ {
			number := fmt.Sprintf("%d%02d", floor, n)
			if _, ok := byNumber[number]; ok {
				continue
			}
			room, err := svc.Rooms.Create(ctx, tenancy.CreateRoomInput{
				Number:      number,
				Size:        size,
				MonthlyRent: rent,
				Deposit:     rent.Mul(decimal.NewFromInt(2)),
				BookingFee:  decimal.NewFromInt(1000),
			})
			if err != nil {
				return nil, fmt.Errorf("failed to create room %s: %w", number, err)
			}
			byNumber[number] = *room
		}
	}
	return byNumber, nil
}

func loadOccupied(ctx context.Context, svc *tenancy.Services, now time.Time) (*tenancy.Bill, error) {
	rooms, err := loadRooms(ctx, svc)
	if err != nil {
		return nil, err
	}
	room := rooms["101"]
	period := tenancy.MonthOf(now).AddDate(0, -1, 0)

	// 1. Move the demo tenant in unless a booking already holds the room
	if room.Status == tenancy.RoomVacant {
		booking, err := svc.Bookings.Create(ctx, tenancy.CreateBookingInput{
			Customer: tenancy.CustomerInput{
				ExternalID:  demoTenantID,
				DisplayName: "Somchai",
				Title:       "นาย",
				FirstName:   "สมชาย",
				LastName:    "ใจดี",
				Phone:       "0812345678",
				NationalID:  "1103700000001",
			},
			RoomID:      room.ID,
			CheckinDate: period,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to book room 101: %w", err)
		}
		if _, err := svc.Bookings.Approve(ctx, booking.ID, demoSeeder); err != nil {
			return nil, fmt.Errorf("failed to approve booking: %w", err)
		}
	}

	// 2. Bill last month unless it is already billed
	bills, err := svc.Billing.List(ctx, tenancy.BillFilter{RoomID: &room.ID, PeriodMonth: &period})
	if err != nil {
		return nil, err
	}
	if len(bills) > 0 {
		return &bills[0], nil
	}
	waterBefore := decimal.NewFromInt(120)
	electricBefore := decimal.NewFromInt(1850)
	bill, err := svc.Billing.CreateBillFromActiveBooking(ctx, room.ID, period, tenancy.MeterReadings{
		WaterBefore:    &waterBefore,
		WaterAfter:     decimal.NewFromInt(131),
		ElectricBefore: &electricBefore,
		ElectricAfter:  decimal.NewFromInt(1992),
	}, demoSeeder)
	if err != nil {
		return nil, fmt.Errorf("failed to bill room 101: %w", err)
	}
	return bill, nil
}

func loadPendingReview(ctx context.Context, svc *tenancy.Services, now time.Time) error {
	bill, err := loadOccupied(ctx, svc, now)
	if err != nil {
		return err
	}
	if bill.Status != tenancy.BillUnpaid {
		return nil
	}
	if _, err := svc.Payments.SubmitPayment(ctx, bill.ID, bill.CustomerID, "demo-slip.jpg"); err != nil {
		return fmt.Errorf("failed to submit payment: %w", err)
	}
	return nil
}
