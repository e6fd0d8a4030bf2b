package tenancy_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdorm/tenancy-engine/tenancy"
)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func dp(v int64) *decimal.Decimal {
	x := decimal.NewFromInt(v)
	return &x
}

func date(y int, m time.Month, day int) time.Time {
	return time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
}

// =============================================================================
// FEE ARITHMETIC
// =============================================================================

func TestComputeBill_FeeArithmetic(t *testing.T) {
	// GIVEN: rent 3000, 10 water units at 19, 50 electric units at 7, no fine
	// WHEN: Computing the bill
	// THEN: total = 3000 + 20 + 190 + 350 + 0 = 3560

	created := date(2024, time.January, 20)
	draft, err := tenancy.ComputeBill(tenancy.DefaultRates(), tenancy.BillInput{
		Room: tenancy.Room{MonthlyRent: d(3000)},
		Readings: tenancy.MeterReadings{
			WaterBefore:    dp(100),
			WaterAfter:     d(110),
			ElectricBefore: dp(1000),
			ElectricAfter:  d(1050),
		},
		PeriodMonth: date(2024, time.January, 15),
		CreatedAt:   created,
		Now:         created,
	})
	require.NoError(t, err)

	assert.True(t, d(10).Equal(draft.WaterUnits))
	assert.True(t, d(190).Equal(draft.WaterCost))
	assert.True(t, d(50).Equal(draft.ElectricUnits))
	assert.True(t, d(350).Equal(draft.ElectricCost))
	assert.True(t, d(20).Equal(draft.ServiceFee))
	assert.True(t, draft.Fine.IsZero())
	assert.Equal(t, 0, draft.OverdueDays)
	assert.True(t, d(3560).Equal(draft.Total), "total was %s", draft.Total)
	assert.Equal(t, date(2024, time.January, 1), draft.PeriodMonth)
	assert.Equal(t, date(2024, time.February, 5), draft.DueDate)
}

func TestComputeBill_PriorBillWinsOverSuppliedBaseline(t *testing.T) {
	// GIVEN: A prior bill ending at water 120 / electric 2000
	// WHEN: Computing the next bill with a conflicting caller baseline
	// THEN: The prior bill's readings are the starting point

	prior := &tenancy.Bill{WaterAfter: d(120), ElectricAfter: d(2000)}
	draft, err := tenancy.ComputeBill(tenancy.DefaultRates(), tenancy.BillInput{
		Room:  tenancy.Room{MonthlyRent: d(3000)},
		Prior: prior,
		Readings: tenancy.MeterReadings{
			WaterBefore:   dp(0),
			WaterAfter:    d(125),
			ElectricAfter: d(2000),
		},
		CreatedAt: date(2024, time.February, 20),
		Now:       date(2024, time.February, 20),
	})
	require.NoError(t, err)

	assert.True(t, d(120).Equal(draft.WaterBefore))
	assert.True(t, d(5).Equal(draft.WaterUnits))
	assert.True(t, d(2000).Equal(draft.ElectricBefore))
	assert.True(t, draft.ElectricUnits.IsZero(), "zero units are legitimate")
}

func TestComputeBill_NoPriorNoBaseline_StartsAtZero(t *testing.T) {
	draft, err := tenancy.ComputeBill(tenancy.DefaultRates(), tenancy.BillInput{
		Readings:  tenancy.MeterReadings{WaterAfter: d(7), ElectricAfter: d(3)},
		CreatedAt: date(2024, time.March, 1),
		Now:       date(2024, time.March, 1),
	})
	require.NoError(t, err)
	assert.True(t, draft.WaterBefore.IsZero())
	assert.True(t, d(7).Equal(draft.WaterUnits))
	assert.True(t, d(21).Equal(draft.ElectricCost))
}

func TestComputeBill_NegativeUnits_InvalidInput(t *testing.T) {
	// GIVEN: A prior bill ending at water 120
	// WHEN: The new reading is 110
	// THEN: InvalidInput

	_, err := tenancy.ComputeBill(tenancy.DefaultRates(), tenancy.BillInput{
		Prior:     &tenancy.Bill{WaterAfter: d(120), ElectricAfter: d(10)},
		Readings:  tenancy.MeterReadings{WaterAfter: d(110), ElectricAfter: d(20)},
		CreatedAt: date(2024, time.March, 1),
		Now:       date(2024, time.March, 1),
	})
	assert.ErrorIs(t, err, tenancy.ErrInvalidInput)

	_, err = tenancy.ComputeBill(tenancy.DefaultRates(), tenancy.BillInput{
		Readings:  tenancy.MeterReadings{WaterAfter: d(10), ElectricBefore: dp(30), ElectricAfter: d(20)},
		CreatedAt: date(2024, time.March, 1),
		Now:       date(2024, time.March, 1),
	})
	assert.ErrorIs(t, err, tenancy.ErrInvalidInput)
}

func TestComputeBill_CreatedLate_AccruesFineImmediately(t *testing.T) {
	// GIVEN: Bill created on 2024-01-20, evaluated on 2024-02-07
	// THEN: due 2024-02-05, 2 days overdue, fine 100 included in total

	draft, err := tenancy.ComputeBill(tenancy.DefaultRates(), tenancy.BillInput{
		Room:      tenancy.Room{MonthlyRent: d(1000)},
		Readings:  tenancy.MeterReadings{WaterAfter: d(0), ElectricAfter: d(0)},
		CreatedAt: date(2024, time.January, 20),
		Now:       date(2024, time.February, 7),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, draft.OverdueDays)
	assert.True(t, d(100).Equal(draft.Fine))
	assert.True(t, d(1120).Equal(draft.Total))
}

// =============================================================================
// DUE DATE AND FINES
// =============================================================================

func TestOverdueFine_FiveDaysLate(t *testing.T) {
	// GIVEN: dueDate 2024-02-05, now 2024-02-10, 50 per day
	// THEN: 5 days, fine 250

	days, fine := tenancy.OverdueFine(date(2024, time.February, 5), date(2024, time.February, 10), d(50))
	assert.Equal(t, 5, days)
	assert.True(t, d(250).Equal(fine), "fine was %s", fine)
}

func TestOverdueDays(t *testing.T) {
	due := date(2024, time.February, 5)
	tests := []struct {
		name string
		now  time.Time
		want int
	}{
		{"before due", date(2024, time.February, 1), 0},
		{"exactly due", due, 0},
		{"one hour late counts a day", due.Add(time.Hour), 1},
		{"exactly one day", due.Add(24 * time.Hour), 1},
		{"one day and a minute", due.Add(24*time.Hour + time.Minute), 2},
		{"across month end", date(2024, time.March, 1), 25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tenancy.OverdueDays(due, tt.now))
		})
	}
}

func TestDueDateFor(t *testing.T) {
	assert.Equal(t, date(2024, time.February, 5), tenancy.DueDateFor(date(2024, time.January, 31), 5))
	assert.Equal(t, date(2025, time.January, 5), tenancy.DueDateFor(date(2024, time.December, 1), 5))
	assert.Equal(t, date(2024, time.March, 10), tenancy.DueDateFor(time.Date(2024, time.February, 29, 23, 59, 0, 0, time.UTC), 10))

	bangkok := time.FixedZone("ICT", 7*3600)
	due := tenancy.DueDateFor(time.Date(2024, time.May, 3, 9, 0, 0, 0, bangkok), 5)
	assert.Equal(t, time.Date(2024, time.June, 5, 0, 0, 0, 0, bangkok), due)
}

func TestRates_Validate(t *testing.T) {
	assert.NoError(t, tenancy.DefaultRates().Validate())

	r := tenancy.DefaultRates()
	r.DueDay = 31
	assert.ErrorIs(t, r.Validate(), tenancy.ErrInvalidInput)

	r = tenancy.DefaultRates()
	r.FinePerDay = d(-1)
	assert.ErrorIs(t, r.Validate(), tenancy.ErrInvalidInput)
}

func TestBill_Recompute(t *testing.T) {
	b := &tenancy.Bill{
		WaterBefore: d(10), WaterAfter: d(15), WaterUnitPrice: d(19),
		ElectricBefore: d(100), ElectricAfter: d(120), ElectricUnitPrice: d(7),
		Rent: d(2500), ServiceFee: d(20), Fine: d(150),
		Total: d(1), // stale
	}
	require.NoError(t, b.Recompute())
	// 2500 + 20 + 95 + 140 + 150
	assert.True(t, d(2905).Equal(b.Total), "total was %s", b.Total)

	b.WaterAfter = d(5)
	assert.ErrorIs(t, b.Recompute(), tenancy.ErrInvalidInput)
}

func TestParseMonth(t *testing.T) {
	m, err := tenancy.ParseMonth("2024-03", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, date(2024, time.March, 1), m)

	m, err = tenancy.ParseMonth("2024-03-17", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, date(2024, time.March, 1), m)

	_, err = tenancy.ParseMonth("March", time.UTC)
	assert.ErrorIs(t, err, tenancy.ErrInvalidInput)
}
