/*
Package sqlite provides a SQLite-backed implementation of tenancy.TxStore.

PURPOSE:
  Persists rooms, customers, bookings, bills and payments in SQLite. In
  production the same patterns apply to PostgreSQL with only minor SQL
  dialect differences.

INTERFACES IMPLEMENTED:
  tenancy.Store:   Point reads, scans, inserts, versioned updates, deletes
  tenancy.TxStore: All-or-nothing execution of a group of writes

KEY TABLES:
  rooms:     Rentable units and their occupancy
  customers: Tenants keyed by external chat identity
  bookings:  Tenancy requests and agreements
  bills:     Monthly invoices
  payments:  Submitted slips for bills and deposits

UNIQUENESS (enforced again below the engines):
  - rooms.number
  - customers.external_id
  - idx_bookings_active_room:     one pending/approved booking per room
  - idx_bookings_active_customer: one pending/approved booking per customer
  - bills(room_id, period_month): one bill per room per month
  - idx_payments_open_bill:       one submitted payment per bill
  Violations are reported as errors wrapping tenancy.ErrConflict.

OPTIMISTIC LOCKING:
  rooms, bookings and bills carry a version column. Updates run
  "UPDATE ... WHERE id = ? AND version = ?"; when no row matches and the
  record still exists, tenancy.ErrConcurrentModification is returned.

CONCURRENCY:
  The pool is limited to one connection, so SQLite sees a single writer
  and ":memory:" databases are shared by every caller. WithTx additionally
  serializes transactions with a mutex.

STORAGE FORMATS:
  - Money and meter readings: decimal text (shopspring/decimal Valuer)
  - Timestamps: fixed-width UTC text, so ORDER BY created_at is
    chronological; read back in the store's location (WithLocation)

USAGE:
  store, err := sqlite.New("./data/dorm.db", sqlite.WithLocation(cfg.Location))
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := tenancy.NewServices(tenancy.Deps{Store: store}, cfg)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - tenancy/store.go: Interface definitions
  - tenancy/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/smartdorm/tenancy-engine/tenancy"
)

const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements tenancy.TxStore using SQLite.
type Store struct {
	conn
	db *sql.DB
	mu sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithLocation sets the zone times are returned in. Defaults to UTC.
func WithLocation(loc *time.Location) Option {
	return func(s *Store) {
		if loc != nil {
			s.conn.loc = loc
		}
	}
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := Open(db, opts...)
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Open wraps an existing database handle without migrating it.
func Open(db *sql.DB, opts ...Option) *Store {
	s := &Store{conn: conn{q: db, loc: time.UTC}, db: db}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	schema := `
	-- Rooms
	CREATE TABLE IF NOT EXISTS rooms (
		id TEXT PRIMARY KEY,
		number TEXT NOT NULL UNIQUE,
		size TEXT NOT NULL DEFAULT '',
		monthly_rent TEXT NOT NULL,
		deposit TEXT NOT NULL,
		booking_fee TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'vacant',
		occupied_by TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1
	);

	CREATE INDEX IF NOT EXISTS idx_rooms_status
		ON rooms(status);

	-- Customers
	CREATE TABLE IF NOT EXISTS customers (
		id TEXT PRIMARY KEY,
		external_id TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL DEFAULT '',
		first_name TEXT NOT NULL DEFAULT '',
		last_name TEXT NOT NULL DEFAULT '',
		legal_name TEXT NOT NULL DEFAULT '',
		phone TEXT NOT NULL DEFAULT '',
		national_id TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Bookings
	CREATE TABLE IF NOT EXISTS bookings (
		id TEXT PRIMARY KEY,
		room_id TEXT NOT NULL,
		customer_id TEXT NOT NULL,
		checkin_date TEXT NOT NULL,
		checkout_date TEXT,
		slip_ref TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		return_status TEXT NOT NULL DEFAULT 'none',
		approved_by TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_bookings_active_room
		ON bookings(room_id) WHERE status IN ('pending', 'approved');
	CREATE UNIQUE INDEX IF NOT EXISTS idx_bookings_active_customer
		ON bookings(customer_id) WHERE status IN ('pending', 'approved');
	CREATE INDEX IF NOT EXISTS idx_bookings_customer
		ON bookings(customer_id, created_at);

	-- Bills
	CREATE TABLE IF NOT EXISTS bills (
		id TEXT PRIMARY KEY,
		room_id TEXT NOT NULL,
		customer_id TEXT NOT NULL,
		period_month TEXT NOT NULL,
		water_before TEXT NOT NULL,
		water_after TEXT NOT NULL,
		water_units TEXT NOT NULL,
		water_unit_price TEXT NOT NULL,
		water_cost TEXT NOT NULL,
		electric_before TEXT NOT NULL,
		electric_after TEXT NOT NULL,
		electric_units TEXT NOT NULL,
		electric_unit_price TEXT NOT NULL,
		electric_cost TEXT NOT NULL,
		rent TEXT NOT NULL,
		service_fee TEXT NOT NULL,
		fine TEXT NOT NULL,
		overdue_days INTEGER NOT NULL DEFAULT 0,
		fine_locked BOOLEAN NOT NULL DEFAULT FALSE,
		total TEXT NOT NULL,
		due_date TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'unpaid',
		slip_ref TEXT NOT NULL DEFAULT '',
		payment_id TEXT,
		approved_by TEXT NOT NULL DEFAULT '',
		created_by TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		UNIQUE(room_id, period_month)
	);

	CREATE INDEX IF NOT EXISTS idx_bills_customer_status
		ON bills(customer_id, status);
	CREATE INDEX IF NOT EXISTS idx_bills_room_created
		ON bills(room_id, created_at DESC);

	-- Payments
	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		bill_id TEXT,
		booking_id TEXT,
		customer_id TEXT NOT NULL,
		slip_ref TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'submitted',
		verified_by TEXT NOT NULL DEFAULT '',
		verified_at TEXT,
		created_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_payments_open_bill
		ON payments(bill_id) WHERE status = 'submitted' AND bill_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_payments_booking
		ON payments(booking_id) WHERE booking_id IS NOT NULL;
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tenancy.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&conn{q: sqlTx, loc: s.conn.loc}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// =============================================================================
// CONN - Store methods shared by the pool and an open transaction
// =============================================================================

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type conn struct {
	q   queryer
	loc *time.Location
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// =============================================================================
// ROOMS
// =============================================================================

const roomColumns = `id, number, size, monthly_rent, deposit, booking_fee, status,
	occupied_by, created_at, updated_at, version`

func (c *conn) GetRoom(ctx context.Context, id tenancy.RoomID) (*tenancy.Room, error) {
	row := c.q.QueryRowContext(ctx, `SELECT `+roomColumns+` FROM rooms WHERE id = ?`, id)
	r, err := scanRoom(row, c.loc)
	if err != nil {
		return nil, lookupError(err, "room", string(id))
	}
	return r, nil
}

func (c *conn) ListRooms(ctx context.Context, filter tenancy.RoomFilter) ([]tenancy.Room, error) {
	var w where
	in(&w, "status", filter.Statuses)

	rows, err := c.q.QueryContext(ctx, `SELECT `+roomColumns+` FROM rooms`+w.sql()+` ORDER BY created_at, rowid`, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	defer rows.Close()

	var out []tenancy.Room
	for rows.Next() {
		r, err := scanRoom(rows, c.loc)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (c *conn) InsertRoom(ctx context.Context, r *tenancy.Room) error {
	if r.Version == 0 {
		r.Version = 1
	}
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO rooms (`+roomColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Number, r.Size, r.MonthlyRent, r.Deposit, r.BookingFee, r.Status,
		nullID(r.OccupiedBy), formatTime(r.CreatedAt), formatTime(r.UpdatedAt), r.Version,
	)
	return writeError(err, "room", string(r.ID))
}

func (c *conn) UpdateRoom(ctx context.Context, r *tenancy.Room) error {
	res, err := c.q.ExecContext(ctx, `
		UPDATE rooms SET number = ?, size = ?, monthly_rent = ?, deposit = ?, booking_fee = ?,
			status = ?, occupied_by = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		r.Number, r.Size, r.MonthlyRent, r.Deposit, r.BookingFee,
		r.Status, nullID(r.OccupiedBy), formatTime(r.UpdatedAt),
		r.ID, r.Version,
	)
	if err := c.versioned(ctx, res, err, "rooms", "room", string(r.ID)); err != nil {
		return err
	}
	r.Version++
	return nil
}

func (c *conn) DeleteRoom(ctx context.Context, id tenancy.RoomID) error {
	return c.delete(ctx, "rooms", "room", string(id))
}

func scanRoom(s scanner, loc *time.Location) (*tenancy.Room, error) {
	var (
		r                    tenancy.Room
		occupiedBy           sql.NullString
		createdAt, updatedAt string
	)
	err := s.Scan(&r.ID, &r.Number, &r.Size, &r.MonthlyRent, &r.Deposit, &r.BookingFee, &r.Status,
		&occupiedBy, &createdAt, &updatedAt, &r.Version)
	if err != nil {
		return nil, err
	}
	if occupiedBy.Valid {
		id := tenancy.BookingID(occupiedBy.String)
		r.OccupiedBy = &id
	}
	r.CreatedAt = parseTime(createdAt, loc)
	r.UpdatedAt = parseTime(updatedAt, loc)
	return &r, nil
}

// =============================================================================
// CUSTOMERS
// =============================================================================

const customerColumns = `id, external_id, display_name, title, first_name, last_name,
	legal_name, phone, national_id, created_at, updated_at`

func (c *conn) GetCustomer(ctx context.Context, id tenancy.CustomerID) (*tenancy.Customer, error) {
	row := c.q.QueryRowContext(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = ?`, id)
	cu, err := scanCustomer(row, c.loc)
	if err != nil {
		return nil, lookupError(err, "customer", string(id))
	}
	return cu, nil
}

func (c *conn) GetCustomerByExternalID(ctx context.Context, externalID string) (*tenancy.Customer, error) {
	row := c.q.QueryRowContext(ctx, `SELECT `+customerColumns+` FROM customers WHERE external_id = ?`, externalID)
	cu, err := scanCustomer(row, c.loc)
	if err != nil {
		return nil, lookupError(err, "customer", externalID)
	}
	return cu, nil
}

func (c *conn) InsertCustomer(ctx context.Context, cu *tenancy.Customer) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO customers (`+customerColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cu.ID, cu.ExternalID, cu.DisplayName, cu.Title, cu.FirstName, cu.LastName,
		cu.LegalName, cu.Phone, cu.NationalID, formatTime(cu.CreatedAt), formatTime(cu.UpdatedAt),
	)
	return writeError(err, "customer", string(cu.ID))
}

func (c *conn) UpdateCustomer(ctx context.Context, cu *tenancy.Customer) error {
	res, err := c.q.ExecContext(ctx, `
		UPDATE customers SET external_id = ?, display_name = ?, title = ?, first_name = ?,
			last_name = ?, legal_name = ?, phone = ?, national_id = ?, updated_at = ?
		WHERE id = ?`,
		cu.ExternalID, cu.DisplayName, cu.Title, cu.FirstName,
		cu.LastName, cu.LegalName, cu.Phone, cu.NationalID, formatTime(cu.UpdatedAt),
		cu.ID,
	)
	if err != nil {
		return writeError(err, "customer", string(cu.ID))
	}
	return requireRow(res, "customer", string(cu.ID))
}

func scanCustomer(s scanner, loc *time.Location) (*tenancy.Customer, error) {
	var (
		cu                   tenancy.Customer
		createdAt, updatedAt string
	)
	err := s.Scan(&cu.ID, &cu.ExternalID, &cu.DisplayName, &cu.Title, &cu.FirstName, &cu.LastName,
		&cu.LegalName, &cu.Phone, &cu.NationalID, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	cu.CreatedAt = parseTime(createdAt, loc)
	cu.UpdatedAt = parseTime(updatedAt, loc)
	return &cu, nil
}

// =============================================================================
// BOOKINGS
// =============================================================================

const bookingColumns = `id, room_id, customer_id, checkin_date, checkout_date, slip_ref,
	status, return_status, approved_by, created_at, updated_at, version`

func (c *conn) GetBooking(ctx context.Context, id tenancy.BookingID) (*tenancy.Booking, error) {
	row := c.q.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id)
	b, err := scanBooking(row, c.loc)
	if err != nil {
		return nil, lookupError(err, "booking", string(id))
	}
	return b, nil
}

func (c *conn) ListBookings(ctx context.Context, filter tenancy.BookingFilter) ([]tenancy.Booking, error) {
	var w where
	if filter.RoomID != nil {
		w.eq("room_id", *filter.RoomID)
	}
	if filter.CustomerID != nil {
		w.eq("customer_id", *filter.CustomerID)
	}
	in(&w, "status", filter.Statuses)

	rows, err := c.q.QueryContext(ctx, `SELECT `+bookingColumns+` FROM bookings`+w.sql()+` ORDER BY created_at, rowid`, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}
	defer rows.Close()

	var out []tenancy.Booking
	for rows.Next() {
		b, err := scanBooking(rows, c.loc)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func (c *conn) InsertBooking(ctx context.Context, b *tenancy.Booking) error {
	if b.Version == 0 {
		b.Version = 1
	}
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO bookings (`+bookingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.RoomID, b.CustomerID, formatTime(b.CheckinDate), nullTime(b.CheckoutDate), b.SlipRef,
		b.Status, b.ReturnStatus, b.ApprovedBy, formatTime(b.CreatedAt), formatTime(b.UpdatedAt), b.Version,
	)
	return writeError(err, "booking", string(b.ID))
}

func (c *conn) UpdateBooking(ctx context.Context, b *tenancy.Booking) error {
	res, err := c.q.ExecContext(ctx, `
		UPDATE bookings SET room_id = ?, customer_id = ?, checkin_date = ?, checkout_date = ?,
			slip_ref = ?, status = ?, return_status = ?, approved_by = ?, updated_at = ?,
			version = version + 1
		WHERE id = ? AND version = ?`,
		b.RoomID, b.CustomerID, formatTime(b.CheckinDate), nullTime(b.CheckoutDate),
		b.SlipRef, b.Status, b.ReturnStatus, b.ApprovedBy, formatTime(b.UpdatedAt),
		b.ID, b.Version,
	)
	if err := c.versioned(ctx, res, err, "bookings", "booking", string(b.ID)); err != nil {
		return err
	}
	b.Version++
	return nil
}

func (c *conn) DeleteBooking(ctx context.Context, id tenancy.BookingID) error {
	return c.delete(ctx, "bookings", "booking", string(id))
}

func scanBooking(s scanner, loc *time.Location) (*tenancy.Booking, error) {
	var (
		b                                 tenancy.Booking
		checkoutDate                      sql.NullString
		checkinDate, createdAt, updatedAt string
	)
	err := s.Scan(&b.ID, &b.RoomID, &b.CustomerID, &checkinDate, &checkoutDate, &b.SlipRef,
		&b.Status, &b.ReturnStatus, &b.ApprovedBy, &createdAt, &updatedAt, &b.Version)
	if err != nil {
		return nil, err
	}
	b.CheckinDate = parseTime(checkinDate, loc)
	b.CheckoutDate = parseNullTime(checkoutDate, loc)
	b.CreatedAt = parseTime(createdAt, loc)
	b.UpdatedAt = parseTime(updatedAt, loc)
	return &b, nil
}

// =============================================================================
// BILLS
// =============================================================================

const billColumns = `id, room_id, customer_id, period_month,
	water_before, water_after, water_units, water_unit_price, water_cost,
	electric_before, electric_after, electric_units, electric_unit_price, electric_cost,
	rent, service_fee, fine, overdue_days, fine_locked, total, due_date,
	status, slip_ref, payment_id, approved_by, created_by, created_at, updated_at, version`

func (c *conn) GetBill(ctx context.Context, id tenancy.BillID) (*tenancy.Bill, error) {
	row := c.q.QueryRowContext(ctx, `SELECT `+billColumns+` FROM bills WHERE id = ?`, id)
	b, err := scanBill(row, c.loc)
	if err != nil {
		return nil, lookupError(err, "bill", string(id))
	}
	return b, nil
}

func (c *conn) ListBills(ctx context.Context, filter tenancy.BillFilter) ([]tenancy.Bill, error) {
	var w where
	if filter.RoomID != nil {
		w.eq("room_id", *filter.RoomID)
	}
	if filter.CustomerID != nil {
		w.eq("customer_id", *filter.CustomerID)
	}
	if filter.PeriodMonth != nil {
		w.eq("period_month", formatTime(*filter.PeriodMonth))
	}
	in(&w, "status", filter.Statuses)

	return c.queryBills(ctx, `SELECT `+billColumns+` FROM bills`+w.sql()+` ORDER BY created_at, rowid`, w.args...)
}

func (c *conn) LatestBillForRoom(ctx context.Context, roomID tenancy.RoomID) (*tenancy.Bill, error) {
	bills, err := c.queryBills(ctx,
		`SELECT `+billColumns+` FROM bills WHERE room_id = ? ORDER BY created_at DESC, rowid DESC LIMIT 1`, roomID)
	if err != nil || len(bills) == 0 {
		return nil, err
	}
	return &bills[0], nil
}

func (c *conn) queryBills(ctx context.Context, query string, args ...any) ([]tenancy.Bill, error) {
	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bills: %w", err)
	}
	defer rows.Close()

	var out []tenancy.Bill
	for rows.Next() {
		b, err := scanBill(rows, c.loc)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func (c *conn) InsertBill(ctx context.Context, b *tenancy.Bill) error {
	if b.Version == 0 {
		b.Version = 1
	}
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO bills (`+billColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.RoomID, b.CustomerID, formatTime(b.PeriodMonth),
		b.WaterBefore, b.WaterAfter, b.WaterUnits, b.WaterUnitPrice, b.WaterCost,
		b.ElectricBefore, b.ElectricAfter, b.ElectricUnits, b.ElectricUnitPrice, b.ElectricCost,
		b.Rent, b.ServiceFee, b.Fine, b.OverdueDays, b.FineLocked, b.Total, formatTime(b.DueDate),
		b.Status, b.SlipRef, nullID(b.PaymentID), b.ApprovedBy, b.CreatedBy,
		formatTime(b.CreatedAt), formatTime(b.UpdatedAt), b.Version,
	)
	return writeError(err, "bill", string(b.ID))
}

func (c *conn) UpdateBill(ctx context.Context, b *tenancy.Bill) error {
	res, err := c.q.ExecContext(ctx, `
		UPDATE bills SET
			water_before = ?, water_after = ?, water_units = ?, water_unit_price = ?, water_cost = ?,
			electric_before = ?, electric_after = ?, electric_units = ?, electric_unit_price = ?, electric_cost = ?,
			rent = ?, service_fee = ?, fine = ?, overdue_days = ?, fine_locked = ?, total = ?, due_date = ?,
			status = ?, slip_ref = ?, payment_id = ?, approved_by = ?, updated_at = ?,
			version = version + 1
		WHERE id = ? AND version = ?`,
		b.WaterBefore, b.WaterAfter, b.WaterUnits, b.WaterUnitPrice, b.WaterCost,
		b.ElectricBefore, b.ElectricAfter, b.ElectricUnits, b.ElectricUnitPrice, b.ElectricCost,
		b.Rent, b.ServiceFee, b.Fine, b.OverdueDays, b.FineLocked, b.Total, formatTime(b.DueDate),
		b.Status, b.SlipRef, nullID(b.PaymentID), b.ApprovedBy, formatTime(b.UpdatedAt),
		b.ID, b.Version,
	)
	if err := c.versioned(ctx, res, err, "bills", "bill", string(b.ID)); err != nil {
		return err
	}
	b.Version++
	return nil
}

func (c *conn) DeleteBill(ctx context.Context, id tenancy.BillID) error {
	return c.delete(ctx, "bills", "bill", string(id))
}

func scanBill(s scanner, loc *time.Location) (*tenancy.Bill, error) {
	var (
		b                                     tenancy.Bill
		paymentID                             sql.NullString
		period, dueDate, createdAt, updatedAt string
	)
	err := s.Scan(&b.ID, &b.RoomID, &b.CustomerID, &period,
		&b.WaterBefore, &b.WaterAfter, &b.WaterUnits, &b.WaterUnitPrice, &b.WaterCost,
		&b.ElectricBefore, &b.ElectricAfter, &b.ElectricUnits, &b.ElectricUnitPrice, &b.ElectricCost,
		&b.Rent, &b.ServiceFee, &b.Fine, &b.OverdueDays, &b.FineLocked, &b.Total, &dueDate,
		&b.Status, &b.SlipRef, &paymentID, &b.ApprovedBy, &b.CreatedBy, &createdAt, &updatedAt, &b.Version)
	if err != nil {
		return nil, err
	}
	if paymentID.Valid {
		id := tenancy.PaymentID(paymentID.String)
		b.PaymentID = &id
	}
	b.PeriodMonth = parseTime(period, loc)
	b.DueDate = parseTime(dueDate, loc)
	b.CreatedAt = parseTime(createdAt, loc)
	b.UpdatedAt = parseTime(updatedAt, loc)
	return &b, nil
}

// =============================================================================
// PAYMENTS
// =============================================================================

const paymentColumns = `id, bill_id, booking_id, customer_id, slip_ref, status,
	verified_by, verified_at, created_at`

func (c *conn) GetPayment(ctx context.Context, id tenancy.PaymentID) (*tenancy.Payment, error) {
	row := c.q.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = ?`, id)
	p, err := scanPayment(row, c.loc)
	if err != nil {
		return nil, lookupError(err, "payment", string(id))
	}
	return p, nil
}

func (c *conn) ListPayments(ctx context.Context, filter tenancy.PaymentFilter) ([]tenancy.Payment, error) {
	var w where
	if filter.BillID != nil {
		w.eq("bill_id", *filter.BillID)
	}
	if filter.BookingID != nil {
		w.eq("booking_id", *filter.BookingID)
	}
	if filter.CustomerID != nil {
		w.eq("customer_id", *filter.CustomerID)
	}
	in(&w, "status", filter.Statuses)

	rows, err := c.q.QueryContext(ctx, `SELECT `+paymentColumns+` FROM payments`+w.sql()+` ORDER BY created_at, rowid`, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	var out []tenancy.Payment
	for rows.Next() {
		p, err := scanPayment(rows, c.loc)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (c *conn) InsertPayment(ctx context.Context, p *tenancy.Payment) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO payments (`+paymentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, nullID(p.BillID), nullID(p.BookingID), p.CustomerID, p.SlipRef, p.Status,
		p.VerifiedBy, nullTime(p.VerifiedAt), formatTime(p.CreatedAt),
	)
	return writeError(err, "payment", string(p.ID))
}

func (c *conn) UpdatePayment(ctx context.Context, p *tenancy.Payment) error {
	res, err := c.q.ExecContext(ctx, `
		UPDATE payments SET slip_ref = ?, status = ?, verified_by = ?, verified_at = ?
		WHERE id = ?`,
		p.SlipRef, p.Status, p.VerifiedBy, nullTime(p.VerifiedAt),
		p.ID,
	)
	if err != nil {
		return writeError(err, "payment", string(p.ID))
	}
	return requireRow(res, "payment", string(p.ID))
}

func (c *conn) DeletePayment(ctx context.Context, id tenancy.PaymentID) error {
	return c.delete(ctx, "payments", "payment", string(id))
}

func scanPayment(s scanner, loc *time.Location) (*tenancy.Payment, error) {
	var (
		p                             tenancy.Payment
		billID, bookingID, verifiedAt sql.NullString
		createdAt                     string
	)
	err := s.Scan(&p.ID, &billID, &bookingID, &p.CustomerID, &p.SlipRef, &p.Status,
		&p.VerifiedBy, &verifiedAt, &createdAt)
	if err != nil {
		return nil, err
	}
	if billID.Valid {
		id := tenancy.BillID(billID.String)
		p.BillID = &id
	}
	if bookingID.Valid {
		id := tenancy.BookingID(bookingID.String)
		p.BookingID = &id
	}
	p.VerifiedAt = parseNullTime(verifiedAt, loc)
	p.CreatedAt = parseTime(createdAt, loc)
	return &p, nil
}

// =============================================================================
// SHARED WRITE PATHS
// =============================================================================

// versioned interprets the result of an optimistic UPDATE. When no row
// matched, it tells a missing record apart from a stale version.
func (c *conn) versioned(ctx context.Context, res sql.Result, err error, table, entity, id string) error {
	if err != nil {
		return writeError(err, entity, id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	var exists int
	err = c.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table+` WHERE id = ?`, id).Scan(&exists)
	if err != nil {
		return err
	}
	if exists == 0 {
		return fmt.Errorf("%s %s: %w", entity, id, tenancy.ErrNotFound)
	}
	return fmt.Errorf("%s %s: %w", entity, id, tenancy.ErrConcurrentModification)
}

func (c *conn) delete(ctx context.Context, table, entity, id string) error {
	res, err := c.q.ExecContext(ctx, `DELETE FROM `+table+` WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", entity, err)
	}
	return requireRow(res, entity, id)
}

func requireRow(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", entity, id, tenancy.ErrNotFound)
	}
	return nil
}

func lookupError(err error, entity, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", entity, id, tenancy.ErrNotFound)
	}
	return fmt.Errorf("failed to load %s: %w", entity, err)
}

func writeError(err error, entity, id string) error {
	if err == nil {
		return nil
	}
	if isUniqueConstraintError(err) {
		return fmt.Errorf("%s %s: %v: %w", entity, id, err, tenancy.ErrConflict)
	}
	return fmt.Errorf("failed to write %s: %w", entity, err)
}

// =============================================================================
// QUERY BUILDING
// =============================================================================

// where accumulates AND-ed conditions for a scan.
type where struct {
	conds []string
	args  []any
}

func (w *where) eq(column string, v any) {
	w.conds = append(w.conds, column+" = ?")
	w.args = append(w.args, v)
}

func in[T ~string](w *where, column string, values []T) {
	if len(values) == 0 {
		return
	}
	marks := make([]string, len(values))
	for i, v := range values {
		marks[i] = "?"
		w.args = append(w.args, string(v))
	}
	w.conds = append(w.conds, column+" IN ("+strings.Join(marks, ", ")+")")
}

func (w *where) sql() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

// =============================================================================
// HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string, loc *time.Location) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t.In(loc)
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(s sql.NullString, loc *time.Location) *time.Time {
	if !s.Valid {
		return nil
	}
	t := parseTime(s.String, loc)
	return &t
}

func nullID[T ~string](id *T) sql.NullString {
	if id == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*id), Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

var (
	_ tenancy.TxStore = (*Store)(nil)
	_ tenancy.Store   = (*conn)(nil)
)
