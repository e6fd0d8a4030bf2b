/*
calculator.go - Meter rollover and fee arithmetic

PURPOSE:
  Pure functions that turn a room, the previous bill of that room and new
  meter readings into a bill draft. No storage access; every input is a
  parameter so the arithmetic can be tested in isolation.

RULES:
  before  = prior bill's after reading, else caller-supplied, else 0
            (water and electric independently)
  units   = after - before           (negative -> ErrInvalidInput)
  cost    = units * unit price
  dueDate = DueDay of the month after the bill was created
  overdue = max(0, ceil((now - dueDate) / 24h)) days
  fine    = overdue * FinePerDay
  total   = rent + serviceFee + waterCost + electricCost + fine

EXAMPLE:
  draft, err := ComputeBill(DefaultRates(), BillInput{
      Room:        room,
      Prior:       lastBill,
      Readings:    MeterReadings{WaterAfter: d(130), ElectricAfter: d(2050)},
      PeriodMonth: march,
      CreatedAt:   now,
      Now:         now,
  })

SEE ALSO:
  - billing.go: persists drafts and refreshes fines
*/
package tenancy

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// RATES - Fixed prices, injected from configuration
// =============================================================================

// Rates are the property-wide billing constants.
type Rates struct {
	WaterUnitPrice    decimal.Decimal
	ElectricUnitPrice decimal.Decimal
	ServiceFee        decimal.Decimal
	FinePerDay        decimal.Decimal
	DueDay            int
}

// DefaultRates returns the rates the property has always charged.
func DefaultRates() Rates {
	return Rates{
		WaterUnitPrice:    decimal.NewFromInt(19),
		ElectricUnitPrice: decimal.NewFromInt(7),
		ServiceFee:        decimal.NewFromInt(20),
		FinePerDay:        decimal.NewFromInt(50),
		DueDay:            5,
	}
}

// Validate rejects rates that would produce nonsensical bills.
func (r Rates) Validate() error {
	if r.WaterUnitPrice.IsNegative() || r.ElectricUnitPrice.IsNegative() ||
		r.ServiceFee.IsNegative() || r.FinePerDay.IsNegative() {
		return invalid("rates", "prices must not be negative")
	}
	if r.DueDay < 1 || r.DueDay > 28 {
		return invalid("rates", "due day must be between 1 and 28, got %d", r.DueDay)
	}
	return nil
}

// =============================================================================
// INPUTS / OUTPUT
// =============================================================================

// MeterReadings are the readings taken for a billing period. The Before
// readings are only used when the room has no prior bill.
type MeterReadings struct {
	WaterAfter     decimal.Decimal
	ElectricAfter  decimal.Decimal
	WaterBefore    *decimal.Decimal
	ElectricBefore *decimal.Decimal
}

type BillInput struct {
	Room        Room
	Prior       *Bill
	Readings    MeterReadings
	PeriodMonth time.Time
	CreatedAt   time.Time
	Now         time.Time
}

// BillDraft is a fully priced bill that has not been persisted.
type BillDraft struct {
	PeriodMonth time.Time

	WaterBefore    decimal.Decimal
	WaterAfter     decimal.Decimal
	WaterUnits     decimal.Decimal
	WaterUnitPrice decimal.Decimal
	WaterCost      decimal.Decimal

	ElectricBefore    decimal.Decimal
	ElectricAfter     decimal.Decimal
	ElectricUnits     decimal.Decimal
	ElectricUnitPrice decimal.Decimal
	ElectricCost      decimal.Decimal

	Rent        decimal.Decimal
	ServiceFee  decimal.Decimal
	OverdueDays int
	Fine        decimal.Decimal
	Total       decimal.Decimal
	DueDate     time.Time
}

// =============================================================================
// COMPUTATION
// =============================================================================

// ComputeBill prices a bill. It is deterministic in its inputs.
func ComputeBill(rates Rates, in BillInput) (BillDraft, error) {
	const op = "bill.compute"

	waterBefore := startReading(in.Prior, in.Readings.WaterBefore, func(b *Bill) decimal.Decimal { return b.WaterAfter })
	electricBefore := startReading(in.Prior, in.Readings.ElectricBefore, func(b *Bill) decimal.Decimal { return b.ElectricAfter })

	waterUnits := in.Readings.WaterAfter.Sub(waterBefore)
	if waterUnits.IsNegative() {
		return BillDraft{}, invalid(op, "water reading %s is below previous reading %s", in.Readings.WaterAfter, waterBefore)
	}
	electricUnits := in.Readings.ElectricAfter.Sub(electricBefore)
	if electricUnits.IsNegative() {
		return BillDraft{}, invalid(op, "electric reading %s is below previous reading %s", in.Readings.ElectricAfter, electricBefore)
	}

	dueDate := DueDateFor(in.CreatedAt, rates.DueDay)
	overdue := OverdueDays(dueDate, in.Now)

	d := BillDraft{
		PeriodMonth:       MonthOf(in.PeriodMonth),
		WaterBefore:       waterBefore,
		WaterAfter:        in.Readings.WaterAfter,
		WaterUnits:        waterUnits,
		WaterUnitPrice:    rates.WaterUnitPrice,
		WaterCost:         waterUnits.Mul(rates.WaterUnitPrice),
		ElectricBefore:    electricBefore,
		ElectricAfter:     in.Readings.ElectricAfter,
		ElectricUnits:     electricUnits,
		ElectricUnitPrice: rates.ElectricUnitPrice,
		ElectricCost:      electricUnits.Mul(rates.ElectricUnitPrice),
		Rent:              in.Room.MonthlyRent,
		ServiceFee:        rates.ServiceFee,
		OverdueDays:       overdue,
		Fine:              fineFor(overdue, rates.FinePerDay),
		DueDate:           dueDate,
	}
	d.Total = Total(d.Rent, d.ServiceFee, d.WaterCost, d.ElectricCost, d.Fine)
	return d, nil
}

func startReading(prior *Bill, supplied *decimal.Decimal, after func(*Bill) decimal.Decimal) decimal.Decimal {
	if prior != nil {
		return after(prior)
	}
	if supplied != nil {
		return *supplied
	}
	return decimal.Zero
}

// OverdueDays counts started days between dueDate and now. Zero when now is
// not after dueDate.
func OverdueDays(dueDate, now time.Time) int {
	late := now.Sub(dueDate)
	if late <= 0 {
		return 0
	}
	days := int(late / (24 * time.Hour))
	if late%(24*time.Hour) != 0 {
		days++
	}
	return days
}

// OverdueFine returns the overdue days and fine for a bill due at dueDate.
func OverdueFine(dueDate, now time.Time, finePerDay decimal.Decimal) (int, decimal.Decimal) {
	days := OverdueDays(dueDate, now)
	return days, fineFor(days, finePerDay)
}

func fineFor(days int, perDay decimal.Decimal) decimal.Decimal {
	return decimal.NewFromInt(int64(days)).Mul(perDay)
}

// Total sums the components of a bill.
func Total(rent, serviceFee, waterCost, electricCost, fine decimal.Decimal) decimal.Decimal {
	return rent.Add(serviceFee).Add(waterCost).Add(electricCost).Add(fine)
}

// Recompute derives units, costs and total from the bill's readings, prices
// and fine. Negative units are rejected.
func (b *Bill) Recompute() error {
	waterUnits := b.WaterAfter.Sub(b.WaterBefore)
	electricUnits := b.ElectricAfter.Sub(b.ElectricBefore)
	if waterUnits.IsNegative() || electricUnits.IsNegative() {
		return invalid("bill.recompute", "meter readings must not decrease (water %s -> %s, electric %s -> %s)",
			b.WaterBefore, b.WaterAfter, b.ElectricBefore, b.ElectricAfter)
	}
	b.WaterUnits = waterUnits
	b.WaterCost = waterUnits.Mul(b.WaterUnitPrice)
	b.ElectricUnits = electricUnits
	b.ElectricCost = electricUnits.Mul(b.ElectricUnitPrice)
	b.Total = Total(b.Rent, b.ServiceFee, b.WaterCost, b.ElectricCost, b.Fine)
	return nil
}
