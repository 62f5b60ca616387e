/*
Package sqlite provides a SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements every persistence interface (core.CatalogStore,
  schedule.RuleStore, booking.ReservationStore, pricing.PolicyStore,
  billing.OrderStore, billing.JournalStore, billing.StatementStore) using
  SQLite. In production the same patterns apply to PostgreSQL - only minor
  SQL dialect differences.

APPEND-ONLY ENFORCEMENT:
  journal_rows never sees UPDATE except the void flag and the statement
  stamp; amounts and dates are immutable. Corrections happen through
  reversing rows, never edits.

KEY TABLES:
  resources, accounts, price_groups, memberships: catalog
  schedule_rules, schedule_exceptions:            availability inputs
  reservations:                                   booking state machine
  price_policies:                                 rate/subsidy/cap config
  orders, order_details:                          billable line items
  journal_rows:                                   append-only recognition
  statements:                                     per-period batches

ATOMIC CLAIMS:
  ClaimForJournal stamps unclaimed details with the batch ID in one
  transaction, and CreateStatement inserts the statement and stamps its
  rows in one transaction. A partial unique index on journal_rows keeps
  one live non-reversing row per order detail, and UNIQUE(account_id,
  period_year, period_month) keeps one statement per account-period.
  Constraint violations surface as core.ErrAlreadyJournaled and
  core.ErrStatementClosed.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - store/memory: in-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/facility-engine/billing"
	"github.com/warp/facility-engine/booking"
	"github.com/warp/facility-engine/core"
	"github.com/warp/facility-engine/pricing"
	"github.com/warp/facility-engine/schedule"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Catalog
	CREATE TABLE IF NOT EXISTS resources (
		id TEXT PRIMARY KEY,
		facility_id TEXT NOT NULL,
		name TEXT NOT NULL,
		kind TEXT NOT NULL,
		rules_json TEXT NOT NULL,
		control_json TEXT,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_resources_facility
		ON resources(facility_id);

	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		owner TEXT,
		suspended BOOLEAN DEFAULT FALSE,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS price_groups (
		id TEXT PRIMARY KEY,
		facility_id TEXT NOT NULL,
		name TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_price_groups_facility
		ON price_groups(facility_id);

	CREATE TABLE IF NOT EXISTS memberships (
		account_id TEXT NOT NULL,
		facility_id TEXT NOT NULL,
		price_group_id TEXT NOT NULL,
		from_at TEXT NOT NULL,
		to_at TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_memberships_account
		ON memberships(account_id, facility_id);

	-- Availability inputs
	CREATE TABLE IF NOT EXISTS schedule_rules (
		id TEXT PRIMARY KEY,
		resource_id TEXT NOT NULL,
		days_json TEXT NOT NULL,
		start_minute INTEGER NOT NULL,
		end_minute INTEGER NOT NULL,
		capacity INTEGER NOT NULL,
		effective_from TEXT,
		effective_to TEXT,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_schedule_rules_resource
		ON schedule_rules(resource_id);

	CREATE TABLE IF NOT EXISTS schedule_exceptions (
		id TEXT PRIMARY KEY,
		resource_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		window_start TEXT NOT NULL,
		window_end TEXT NOT NULL,
		capacity INTEGER DEFAULT 0,
		reason TEXT,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_schedule_exceptions_resource
		ON schedule_exceptions(resource_id, window_start, window_end);

	-- Reservations
	CREATE TABLE IF NOT EXISTS reservations (
		id TEXT PRIMARY KEY,
		resource_id TEXT NOT NULL,
		account_id TEXT NOT NULL,
		requested_start TEXT NOT NULL,
		requested_end TEXT NOT NULL,
		actual_start TEXT,
		actual_end TEXT,
		status TEXT NOT NULL,
		order_detail_id TEXT,
		override BOOLEAN DEFAULT FALSE,
		override_by TEXT,
		fee_liable BOOLEAN DEFAULT FALSE,
		cancelled_by TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Hot path: overlap checks scan active reservations per resource
	CREATE INDEX IF NOT EXISTS idx_reservations_resource_status
		ON reservations(resource_id, status, requested_start);
	CREATE INDEX IF NOT EXISTS idx_reservations_account
		ON reservations(account_id, status);

	-- Price policies
	CREATE TABLE IF NOT EXISTS price_policies (
		id TEXT PRIMARY KEY,
		resource_id TEXT NOT NULL,
		price_group_id TEXT NOT NULL,
		effective_from TEXT NOT NULL,
		effective_to TEXT,
		config_json TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_price_policies_resource
		ON price_policies(resource_id, effective_from);

	-- Orders
	CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS order_details (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL,
		resource_id TEXT NOT NULL,
		account_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		reservation_id TEXT,
		quantity TEXT NOT NULL DEFAULT '0',
		status TEXT NOT NULL,
		policy_id TEXT,
		cost_json TEXT,
		cost_kind TEXT,
		billed_units TEXT NOT NULL DEFAULT '0',
		usage_at TEXT,
		problem_note TEXT,
		journal_batch_id TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Hot path: cap checks sum committed units per account+policy+period
	CREATE INDEX IF NOT EXISTS idx_order_details_account_policy
		ON order_details(account_id, policy_id, status, usage_at);
	CREATE INDEX IF NOT EXISTS idx_order_details_claim
		ON order_details(account_id, status, journal_batch_id);

	-- Journal (append-only)
	CREATE TABLE IF NOT EXISTS journal_rows (
		id TEXT PRIMARY KEY,
		order_detail_id TEXT NOT NULL,
		account_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		description TEXT,
		journal_date TEXT NOT NULL,
		batch_id TEXT NOT NULL,
		voided BOOLEAN DEFAULT FALSE,
		voided_at TEXT,
		reverses_row_id TEXT NOT NULL DEFAULT '',
		statement_id TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	-- CRITICAL: one live, non-reversing row per order detail. Reversing
	-- rows and voided rows are exempt.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_journal_one_live_row
		ON journal_rows(order_detail_id)
		WHERE voided = FALSE AND reverses_row_id = '';

	CREATE INDEX IF NOT EXISTS idx_journal_account_statement
		ON journal_rows(account_id, statement_id, journal_date);

	-- Statements
	CREATE TABLE IF NOT EXISTS statements (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		period_year INTEGER NOT NULL,
		period_month INTEGER NOT NULL,
		total TEXT NOT NULL,
		created_at TEXT NOT NULL,
		UNIQUE(account_id, period_year, period_month)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// CATALOG (core.CatalogStore)
// =============================================================================

func (s *Store) SaveResource(ctx context.Context, r core.Resource) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rulesJSON, err := json.Marshal(r.Rules)
	if err != nil {
		return fmt.Errorf("failed to encode booking rules: %w", err)
	}
	controlJSON, _ := json.Marshal(r.ControlMetadata)

	query := `
		INSERT INTO resources (id, facility_id, name, kind, rules_json, control_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			facility_id = excluded.facility_id,
			name = excluded.name,
			kind = excluded.kind,
			rules_json = excluded.rules_json,
			control_json = excluded.control_json
	`
	_, err = s.db.ExecContext(ctx, query,
		r.ID, r.FacilityID, r.Name, string(r.Kind),
		string(rulesJSON), string(controlJSON),
		formatTime(r.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save resource: %w", err)
	}
	return nil
}

func (s *Store) GetResource(ctx context.Context, id core.ResourceID) (*core.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, facility_id, name, kind, rules_json, control_json, created_at
		FROM resources WHERE id = ?`, id)

	r, err := scanResource(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("resource %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (s *Store) ListResources(ctx context.Context, facility core.FacilityID) ([]core.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, facility_id, name, kind, rules_json, control_json, created_at
		FROM resources
		WHERE (? = '' OR facility_id = ?)
		ORDER BY id`, facility, facility)
	if err != nil {
		return nil, fmt.Errorf("failed to query resources: %w", err)
	}
	defer rows.Close()

	var out []core.Resource
	for rows.Next() {
		r, err := scanResource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func scanResource(row scanner) (*core.Resource, error) {
	var (
		r           core.Resource
		kind        string
		rulesJSON   string
		controlJSON sql.NullString
		createdAt   string
	)
	err := row.Scan(&r.ID, &r.FacilityID, &r.Name, &kind, &rulesJSON, &controlJSON, &createdAt)
	if err != nil {
		return nil, err
	}
	r.Kind = core.ResourceKind(kind)
	if err := json.Unmarshal([]byte(rulesJSON), &r.Rules); err != nil {
		return nil, fmt.Errorf("failed to decode booking rules: %w", err)
	}
	if controlJSON.Valid && controlJSON.String != "" {
		json.Unmarshal([]byte(controlJSON.String), &r.ControlMetadata)
	}
	r.CreatedAt = parseTime(createdAt)
	return &r, nil
}

func (s *Store) SaveAccount(ctx context.Context, a core.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO accounts (id, name, owner, suspended, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			owner = excluded.owner,
			suspended = excluded.suspended
	`
	_, err := s.db.ExecContext(ctx, query, a.ID, a.Name, a.Owner, a.Suspended, formatTime(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, id core.AccountID) (*core.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		a         core.Account
		createdAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, owner, suspended, created_at FROM accounts WHERE id = ?`, id).
		Scan(&a.ID, &a.Name, &a.Owner, &a.Suspended, &createdAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("account %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan account: %w", err)
	}
	a.CreatedAt = parseTime(createdAt)
	return &a, nil
}

func (s *Store) ListAccounts(ctx context.Context) ([]core.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, owner, suspended, created_at FROM accounts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var out []core.Account
	for rows.Next() {
		var (
			a         core.Account
			createdAt string
		)
		if err := rows.Scan(&a.ID, &a.Name, &a.Owner, &a.Suspended, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		a.CreatedAt = parseTime(createdAt)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) SavePriceGroup(ctx context.Context, g core.PriceGroup) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO price_groups (id, facility_id, name)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			facility_id = excluded.facility_id,
			name = excluded.name
	`
	_, err := s.db.ExecContext(ctx, query, g.ID, g.FacilityID, g.Name)
	if err != nil {
		return fmt.Errorf("failed to save price group: %w", err)
	}
	return nil
}

func (s *Store) ListPriceGroups(ctx context.Context, facility core.FacilityID) ([]core.PriceGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, facility_id, name FROM price_groups
		WHERE (? = '' OR facility_id = ?)
		ORDER BY id`, facility, facility)
	if err != nil {
		return nil, fmt.Errorf("failed to query price groups: %w", err)
	}
	defer rows.Close()

	var out []core.PriceGroup
	for rows.Next() {
		var g core.PriceGroup
		if err := rows.Scan(&g.ID, &g.FacilityID, &g.Name); err != nil {
			return nil, fmt.Errorf("failed to scan price group: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *Store) SaveMembership(ctx context.Context, m core.Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memberships (account_id, facility_id, price_group_id, from_at, to_at)
		VALUES (?, ?, ?, ?, ?)`,
		m.AccountID, m.FacilityID, m.PriceGroupID,
		formatTime(m.From), nullTimePtr(m.To),
	)
	if err != nil {
		return fmt.Errorf("failed to save membership: %w", err)
	}
	return nil
}

func (s *Store) MembershipsFor(ctx context.Context, account core.AccountID, facility core.FacilityID) ([]core.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT account_id, facility_id, price_group_id, from_at, to_at
		FROM memberships
		WHERE account_id = ? AND facility_id = ?`, account, facility)
	if err != nil {
		return nil, fmt.Errorf("failed to query memberships: %w", err)
	}
	defer rows.Close()

	var out []core.Membership
	for rows.Next() {
		var (
			m      core.Membership
			fromAt string
			toAt   sql.NullString
		)
		if err := rows.Scan(&m.AccountID, &m.FacilityID, &m.PriceGroupID, &fromAt, &toAt); err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		m.From = parseTime(fromAt)
		m.To = parseTimePtr(toAt)
		out = append(out, m)
	}
	return out, rows.Err()
}

// =============================================================================
// SCHEDULE (schedule.RuleStore)
// =============================================================================

func (s *Store) SaveRule(ctx context.Context, r schedule.ScheduleRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	daysJSON, err := json.Marshal(r.Days)
	if err != nil {
		return fmt.Errorf("failed to encode rule days: %w", err)
	}

	query := `
		INSERT INTO schedule_rules
		(id, resource_id, days_json, start_minute, end_minute, capacity, effective_from, effective_to, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			days_json = excluded.days_json,
			start_minute = excluded.start_minute,
			end_minute = excluded.end_minute,
			capacity = excluded.capacity,
			effective_from = excluded.effective_from,
			effective_to = excluded.effective_to
	`
	_, err = s.db.ExecContext(ctx, query,
		r.ID, r.ResourceID, string(daysJSON),
		int(r.StartMinute), int(r.EndMinute), r.Capacity,
		nullTime(r.EffectiveFrom), nullTime(r.EffectiveTo),
		formatTime(r.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save schedule rule: %w", err)
	}
	return nil
}

func (s *Store) RulesFor(ctx context.Context, resource core.ResourceID) ([]schedule.ScheduleRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, resource_id, days_json, start_minute, end_minute, capacity, effective_from, effective_to, created_at
		FROM schedule_rules
		WHERE resource_id = ?
		ORDER BY created_at`, resource)
	if err != nil {
		return nil, fmt.Errorf("failed to query schedule rules: %w", err)
	}
	defer rows.Close()

	var out []schedule.ScheduleRule
	for rows.Next() {
		var (
			r                    schedule.ScheduleRule
			daysJSON             string
			startMinute, endMin  int
			effFrom, effTo       sql.NullString
			createdAt            string
		)
		if err := rows.Scan(&r.ID, &r.ResourceID, &daysJSON, &startMinute, &endMin,
			&r.Capacity, &effFrom, &effTo, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan schedule rule: %w", err)
		}
		if err := json.Unmarshal([]byte(daysJSON), &r.Days); err != nil {
			return nil, fmt.Errorf("failed to decode rule days: %w", err)
		}
		r.StartMinute = schedule.MinuteOfDay(startMinute)
		r.EndMinute = schedule.MinuteOfDay(endMin)
		if effFrom.Valid {
			r.EffectiveFrom = parseTime(effFrom.String)
		}
		if effTo.Valid {
			r.EffectiveTo = parseTime(effTo.String)
		}
		r.CreatedAt = parseTime(createdAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) SaveException(ctx context.Context, e schedule.ScheduleException) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO schedule_exceptions
		(id, resource_id, kind, window_start, window_end, capacity, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			window_start = excluded.window_start,
			window_end = excluded.window_end,
			capacity = excluded.capacity,
			reason = excluded.reason
	`
	_, err := s.db.ExecContext(ctx, query,
		e.ID, e.ResourceID, string(e.Kind),
		formatTime(e.Window.Start), formatTime(e.Window.End),
		e.Capacity, e.Reason, formatTime(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save schedule exception: %w", err)
	}
	return nil
}

func (s *Store) ExceptionsFor(ctx context.Context, resource core.ResourceID, within core.Interval) ([]schedule.ScheduleException, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Half-open overlap: start < within.End AND end > within.Start.
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, resource_id, kind, window_start, window_end, capacity, reason, created_at
		FROM schedule_exceptions
		WHERE resource_id = ? AND window_start < ? AND window_end > ?
		ORDER BY window_start`,
		resource, formatTime(within.End), formatTime(within.Start))
	if err != nil {
		return nil, fmt.Errorf("failed to query schedule exceptions: %w", err)
	}
	defer rows.Close()

	var out []schedule.ScheduleException
	for rows.Next() {
		var (
			e                  schedule.ScheduleException
			kind               string
			wStart, wEnd       string
			reason             sql.NullString
			createdAt          string
		)
		if err := rows.Scan(&e.ID, &e.ResourceID, &kind, &wStart, &wEnd,
			&e.Capacity, &reason, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan schedule exception: %w", err)
		}
		e.Kind = schedule.ExceptionKind(kind)
		e.Window = core.Interval{Start: parseTime(wStart), End: parseTime(wEnd)}
		e.Reason = reason.String
		e.CreatedAt = parseTime(createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// RESERVATIONS (booking.ReservationStore)
// =============================================================================

func (s *Store) SaveReservation(ctx context.Context, r booking.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var actualStart, actualEnd any
	if r.Actual != nil {
		actualStart = formatTime(r.Actual.Start)
		actualEnd = formatTime(r.Actual.End)
	}

	query := `
		INSERT INTO reservations
		(id, resource_id, account_id, requested_start, requested_end, actual_start, actual_end,
		 status, order_detail_id, override, override_by, fee_liable, cancelled_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			actual_start = excluded.actual_start,
			actual_end = excluded.actual_end,
			status = excluded.status,
			order_detail_id = excluded.order_detail_id,
			fee_liable = excluded.fee_liable,
			cancelled_by = excluded.cancelled_by,
			updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, query,
		r.ID, r.ResourceID, r.AccountID,
		formatTime(r.Requested.Start), formatTime(r.Requested.End),
		actualStart, actualEnd,
		string(r.Status), r.OrderDetailID,
		r.Override, r.OverrideBy, r.FeeLiable, r.CancelledBy,
		formatTime(r.CreatedAt), formatTime(r.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save reservation: %w", err)
	}
	return nil
}

func (s *Store) GetReservation(ctx context.Context, id core.ReservationID) (*booking.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, reservationSelect+` WHERE id = ?`, id)
	r, err := scanReservation(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("reservation %s: %w", id, core.ErrNotFound)
	}
	return r, err
}

func (s *Store) ActiveOverlapping(ctx context.Context, resource core.ResourceID, iv core.Interval) ([]booking.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, reservationSelect+`
		WHERE resource_id = ? AND status IN (?, ?)
		  AND requested_start < ? AND requested_end > ?
		ORDER BY requested_start`,
		resource, string(booking.StatusConfirmed), string(booking.StatusInProgress),
		formatTime(iv.End), formatTime(iv.Start))
	if err != nil {
		return nil, fmt.Errorf("failed to query reservations: %w", err)
	}
	defer rows.Close()
	return collectReservations(rows)
}

func (s *Store) CountActiveForAccount(ctx context.Context, resource core.ResourceID, account core.AccountID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM reservations
		WHERE resource_id = ? AND account_id = ? AND status IN (?, ?)`,
		resource, account, string(booking.StatusConfirmed), string(booking.StatusInProgress)).
		Scan(&n)
	return n, err
}

func (s *Store) ListReservations(ctx context.Context, resource core.ResourceID) ([]booking.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, reservationSelect+`
		WHERE (? = '' OR resource_id = ?)
		ORDER BY requested_start`, resource, resource)
	if err != nil {
		return nil, fmt.Errorf("failed to query reservations: %w", err)
	}
	defer rows.Close()
	return collectReservations(rows)
}

const reservationSelect = `
	SELECT id, resource_id, account_id, requested_start, requested_end, actual_start, actual_end,
	       status, order_detail_id, override, override_by, fee_liable, cancelled_by, created_at, updated_at
	FROM reservations`

func scanReservation(row scanner) (*booking.Reservation, error) {
	var (
		r                        booking.Reservation
		reqStart, reqEnd         string
		actStart, actEnd         sql.NullString
		status                   string
		detailID, overrideBy     sql.NullString
		cancelledBy              sql.NullString
		createdAt, updatedAt     string
	)
	err := row.Scan(&r.ID, &r.ResourceID, &r.AccountID, &reqStart, &reqEnd,
		&actStart, &actEnd, &status, &detailID, &r.Override, &overrideBy,
		&r.FeeLiable, &cancelledBy, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	r.Requested = core.Interval{Start: parseTime(reqStart), End: parseTime(reqEnd)}
	if actStart.Valid && actEnd.Valid {
		r.Actual = &core.Interval{Start: parseTime(actStart.String), End: parseTime(actEnd.String)}
	}
	r.Status = booking.ReservationStatus(status)
	r.OrderDetailID = core.OrderDetailID(detailID.String)
	r.OverrideBy = overrideBy.String
	r.CancelledBy = cancelledBy.String
	r.CreatedAt = parseTime(createdAt)
	r.UpdatedAt = parseTime(updatedAt)
	return &r, nil
}

func collectReservations(rows *sql.Rows) ([]booking.Reservation, error) {
	var out []booking.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reservation: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// =============================================================================
// POLICIES (pricing.PolicyStore)
// =============================================================================

// policyConfig is the JSON envelope for the rate machinery.
type policyConfig struct {
	Rate         pricing.RateTable        `json:"rate"`
	Subsidy      pricing.Subsidy          `json:"subsidy"`
	Cancellation pricing.CancellationRule `json:"cancellation"`
	Cap          pricing.UsageCap         `json:"cap"`
}

func (s *Store) SavePolicy(ctx context.Context, p pricing.PricePolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg := policyConfig{Rate: p.Rate, Subsidy: p.Subsidy, Cancellation: p.Cancellation, Cap: p.Cap}
	configJSON, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode policy config: %w", err)
	}

	query := `
		INSERT INTO price_policies
		(id, resource_id, price_group_id, effective_from, effective_to, config_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			effective_from = excluded.effective_from,
			effective_to = excluded.effective_to,
			config_json = excluded.config_json
	`
	_, err = s.db.ExecContext(ctx, query,
		p.ID, p.ResourceID, p.PriceGroupID,
		formatTime(p.EffectiveFrom), nullTimePtr(p.EffectiveTo),
		string(configJSON), formatTime(p.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save policy: %w", err)
	}
	return nil
}

func (s *Store) GetPolicy(ctx context.Context, id core.PolicyID) (*pricing.PricePolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, resource_id, price_group_id, effective_from, effective_to, config_json, created_at
		FROM price_policies WHERE id = ?`, id)
	p, err := scanPolicy(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("policy %s: %w", id, core.ErrNotFound)
	}
	return p, err
}

func (s *Store) PoliciesFor(ctx context.Context, resource core.ResourceID) ([]pricing.PricePolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, resource_id, price_group_id, effective_from, effective_to, config_json, created_at
		FROM price_policies
		WHERE resource_id = ?
		ORDER BY id`, resource)
	if err != nil {
		return nil, fmt.Errorf("failed to query policies: %w", err)
	}
	defer rows.Close()

	var out []pricing.PricePolicy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func scanPolicy(row scanner) (*pricing.PricePolicy, error) {
	var (
		p          pricing.PricePolicy
		effFrom    string
		effTo      sql.NullString
		configJSON string
		createdAt  string
	)
	err := row.Scan(&p.ID, &p.ResourceID, &p.PriceGroupID, &effFrom, &effTo, &configJSON, &createdAt)
	if err != nil {
		return nil, err
	}
	var cfg policyConfig
	if err := json.Unmarshal([]byte(configJSON), &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode policy config: %w", err)
	}
	p.Rate = cfg.Rate
	p.Subsidy = cfg.Subsidy
	p.Cancellation = cfg.Cancellation
	p.Cap = cfg.Cap
	p.EffectiveFrom = parseTime(effFrom)
	p.EffectiveTo = parseTimePtr(effTo)
	p.CreatedAt = parseTime(createdAt)
	return &p, nil
}

// =============================================================================
// ORDERS (billing.OrderStore)
// =============================================================================

func (s *Store) SaveOrder(ctx context.Context, o billing.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (id, account_id, created_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		o.ID, o.AccountID, formatTime(o.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to save order: %w", err)
	}
	return nil
}

func (s *Store) GetOrder(ctx context.Context, id core.OrderID) (*billing.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		o         billing.Order
		createdAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, account_id, created_at FROM orders WHERE id = ?`, id).
		Scan(&o.ID, &o.AccountID, &createdAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("order %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan order: %w", err)
	}
	o.CreatedAt = parseTime(createdAt)
	return &o, nil
}

func (s *Store) SaveDetail(ctx context.Context, d billing.OrderDetail) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveDetail(ctx, s.db, d)
}

func (s *Store) saveDetail(ctx context.Context, db execer, d billing.OrderDetail) error {
	var costJSON any
	if d.Cost != nil {
		b, err := json.Marshal(d.Cost)
		if err != nil {
			return fmt.Errorf("failed to encode cost: %w", err)
		}
		costJSON = string(b)
	}
	var usageAt any
	if !d.UsageAt.IsZero() {
		usageAt = formatTime(d.UsageAt)
	}

	query := `
		INSERT INTO order_details
		(id, order_id, resource_id, account_id, kind, reservation_id, quantity, status,
		 policy_id, cost_json, cost_kind, billed_units, usage_at, problem_note,
		 journal_batch_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			policy_id = excluded.policy_id,
			cost_json = excluded.cost_json,
			cost_kind = excluded.cost_kind,
			billed_units = excluded.billed_units,
			usage_at = excluded.usage_at,
			problem_note = excluded.problem_note,
			journal_batch_id = excluded.journal_batch_id,
			updated_at = excluded.updated_at
	`
	_, err := db.ExecContext(ctx, query,
		d.ID, d.OrderID, d.ResourceID, d.AccountID, string(d.Kind),
		d.ReservationID, d.Quantity.String(), string(d.Status),
		d.PolicyID, costJSON, string(d.CostKind),
		d.BilledUnits.String(), usageAt, d.ProblemNote,
		d.JournalBatchID, formatTime(d.CreatedAt), formatTime(d.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save order detail: %w", err)
	}
	return nil
}

func (s *Store) GetDetail(ctx context.Context, id core.OrderDetailID) (*billing.OrderDetail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, detailSelect+` WHERE id = ?`, id)
	d, err := scanDetail(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("order detail %s: %w", id, core.ErrNotFound)
	}
	return d, err
}

func (s *Store) ListDetailsByAccount(ctx context.Context, account core.AccountID) ([]billing.OrderDetail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, detailSelect+`
		WHERE account_id = ? ORDER BY created_at`, account)
	if err != nil {
		return nil, fmt.Errorf("failed to query order details: %w", err)
	}
	defer rows.Close()
	return collectDetails(rows)
}

func (s *Store) CommittedUnits(ctx context.Context, account core.AccountID, policy core.PolicyID, period core.Period) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	iv := period.Interval()
	rows, err := s.db.QueryContext(ctx, `
		SELECT billed_units FROM order_details
		WHERE account_id = ? AND policy_id = ? AND status = ? AND cost_kind = ?
		  AND usage_at >= ? AND usage_at < ?`,
		account, policy, string(billing.DetailComplete), string(billing.CostUsage),
		formatTime(iv.Start), formatTime(iv.End))
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to query committed units: %w", err)
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var units string
		if err := rows.Scan(&units); err != nil {
			return decimal.Zero, fmt.Errorf("failed to scan billed units: %w", err)
		}
		u, err := decimal.NewFromString(units)
		if err != nil {
			return decimal.Zero, fmt.Errorf("failed to parse billed units: %w", err)
		}
		total = total.Add(u)
	}
	return total, rows.Err()
}

func (s *Store) ClaimForJournal(ctx context.Context, account core.AccountID, asOf time.Time, batchID string) ([]billing.OrderDetail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	// Stamp unclaimed details, plus details whose stamp never produced a
	// live journal row (the claiming batch died before appending). Details
	// already stamped with this batch stay stamped and are re-selected
	// below (re-entrant retry).
	_, err = sqlTx.ExecContext(ctx, `
		UPDATE order_details SET journal_batch_id = ?
		WHERE account_id = ? AND status = ? AND usage_at <= ?
		  AND (journal_batch_id = '' OR NOT EXISTS (
		      SELECT 1 FROM journal_rows r
		      WHERE r.order_detail_id = order_details.id
		        AND r.voided = 0 AND r.reverses_row_id = ''))`,
		batchID, account, string(billing.DetailComplete), formatTime(asOf))
	if err != nil {
		return nil, fmt.Errorf("failed to claim order details: %w", err)
	}

	rows, err := sqlTx.QueryContext(ctx, detailSelect+`
		WHERE account_id = ? AND journal_batch_id = ?
		ORDER BY created_at`, account, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to query claimed details: %w", err)
	}
	claimed, err := collectDetails(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	if err := sqlTx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}
	return claimed, nil
}

const detailSelect = `
	SELECT id, order_id, resource_id, account_id, kind, reservation_id, quantity, status,
	       policy_id, cost_json, cost_kind, billed_units, usage_at, problem_note,
	       journal_batch_id, created_at, updated_at
	FROM order_details`

func scanDetail(row scanner) (*billing.OrderDetail, error) {
	var (
		d                    billing.OrderDetail
		kind                 string
		reservationID        sql.NullString
		quantity, billed     string
		status               string
		policyID             sql.NullString
		costJSON, costKind   sql.NullString
		usageAt              sql.NullString
		problemNote          sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(&d.ID, &d.OrderID, &d.ResourceID, &d.AccountID, &kind,
		&reservationID, &quantity, &status, &policyID, &costJSON, &costKind,
		&billed, &usageAt, &problemNote, &d.JournalBatchID, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	d.Kind = core.ResourceKind(kind)
	d.ReservationID = core.ReservationID(reservationID.String)
	d.Quantity, err = decimal.NewFromString(quantity)
	if err != nil {
		return nil, fmt.Errorf("failed to parse quantity: %w", err)
	}
	d.Status = billing.DetailStatus(status)
	d.PolicyID = core.PolicyID(policyID.String)
	if costJSON.Valid && costJSON.String != "" {
		var cost pricing.Cost
		if err := json.Unmarshal([]byte(costJSON.String), &cost); err != nil {
			return nil, fmt.Errorf("failed to decode cost: %w", err)
		}
		d.Cost = &cost
	}
	d.CostKind = billing.CostKind(costKind.String)
	d.BilledUnits, err = decimal.NewFromString(billed)
	if err != nil {
		return nil, fmt.Errorf("failed to parse billed units: %w", err)
	}
	if usageAt.Valid {
		d.UsageAt = parseTime(usageAt.String)
	}
	d.ProblemNote = problemNote.String
	d.CreatedAt = parseTime(createdAt)
	d.UpdatedAt = parseTime(updatedAt)
	return &d, nil
}

func collectDetails(rows *sql.Rows) ([]billing.OrderDetail, error) {
	var out []billing.OrderDetail
	for rows.Next() {
		d, err := scanDetail(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order detail: %w", err)
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// =============================================================================
// JOURNAL (billing.JournalStore)
// =============================================================================

func (s *Store) AppendRow(ctx context.Context, r billing.JournalRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO journal_rows
		(id, order_detail_id, account_id, amount, description, journal_date, batch_id,
		 voided, voided_at, reverses_row_id, statement_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		r.ID, r.OrderDetailID, r.AccountID, r.Amount.Value.String(),
		r.Description, formatTime(r.JournalDate), r.BatchID,
		r.Voided, nullTimePtr(r.VoidedAt), string(r.ReversesRowID),
		string(r.StatementID), formatTime(r.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("detail %s: %w", r.OrderDetailID, core.ErrAlreadyJournaled)
		}
		return fmt.Errorf("failed to append journal row: %w", err)
	}
	return nil
}

func (s *Store) GetRow(ctx context.Context, id core.JournalRowID) (*billing.JournalRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, journalSelect+` WHERE id = ?`, id)
	r, err := scanJournalRow(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("journal row %s: %w", id, core.ErrNotFound)
	}
	return r, err
}

func (s *Store) RowForDetail(ctx context.Context, detail core.OrderDetailID) (*billing.JournalRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, journalSelect+`
		WHERE order_detail_id = ? AND voided = FALSE AND reverses_row_id = ''`, detail)
	r, err := scanJournalRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return r, err
}

func (s *Store) VoidRow(ctx context.Context, id core.JournalRowID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE journal_rows SET voided = TRUE, voided_at = ? WHERE id = ?`,
		formatTime(at), id)
	if err != nil {
		return fmt.Errorf("failed to void journal row: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("journal row %s: %w", id, core.ErrNotFound)
	}
	return nil
}

func (s *Store) UnassignedRows(ctx context.Context, account core.AccountID, period core.Period) ([]billing.JournalRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	iv := period.Interval()
	rows, err := s.db.QueryContext(ctx, journalSelect+`
		WHERE account_id = ? AND voided = FALSE AND statement_id = ''
		  AND journal_date >= ? AND journal_date < ?
		ORDER BY created_at`,
		account, formatTime(iv.Start), formatTime(iv.End))
	if err != nil {
		return nil, fmt.Errorf("failed to query journal rows: %w", err)
	}
	defer rows.Close()
	return collectJournalRows(rows)
}

func (s *Store) ListRows(ctx context.Context, account core.AccountID) ([]billing.JournalRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, journalSelect+`
		WHERE account_id = ? ORDER BY created_at`, account)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal rows: %w", err)
	}
	defer rows.Close()
	return collectJournalRows(rows)
}

const journalSelect = `
	SELECT id, order_detail_id, account_id, amount, description, journal_date, batch_id,
	       voided, voided_at, reverses_row_id, statement_id, created_at
	FROM journal_rows`

func scanJournalRow(row scanner) (*billing.JournalRow, error) {
	var (
		r            billing.JournalRow
		amount       string
		description  sql.NullString
		journalDate  string
		voidedAt     sql.NullString
		reversesID   string
		statementID  string
		createdAt    string
	)
	err := row.Scan(&r.ID, &r.OrderDetailID, &r.AccountID, &amount, &description,
		&journalDate, &r.BatchID, &r.Voided, &voidedAt, &reversesID, &statementID, &createdAt)
	if err != nil {
		return nil, err
	}
	v, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("failed to parse amount: %w", err)
	}
	r.Amount = core.Money{Value: v}
	r.Description = description.String
	r.JournalDate = parseTime(journalDate)
	r.VoidedAt = parseTimePtr(voidedAt)
	r.ReversesRowID = core.JournalRowID(reversesID)
	r.StatementID = core.StatementID(statementID)
	r.CreatedAt = parseTime(createdAt)
	return &r, nil
}

func collectJournalRows(rows *sql.Rows) ([]billing.JournalRow, error) {
	var out []billing.JournalRow
	for rows.Next() {
		r, err := scanJournalRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan journal row: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// =============================================================================
// STATEMENTS (billing.StatementStore)
// =============================================================================

func (s *Store) CreateStatement(ctx context.Context, st billing.Statement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	_, err = sqlTx.ExecContext(ctx, `
		INSERT INTO statements (id, account_id, period_year, period_month, total, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		st.ID, st.AccountID, st.Period.Year, int(st.Period.Month),
		st.Total.Value.String(), formatTime(st.CreatedAt))
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("account %s period %s: %w", st.AccountID, st.Period, core.ErrStatementClosed)
		}
		return fmt.Errorf("failed to create statement: %w", err)
	}

	// Stamp member rows in the same transaction.
	for _, rowID := range st.RowIDs {
		res, err := sqlTx.ExecContext(ctx, `
			UPDATE journal_rows SET statement_id = ? WHERE id = ? AND statement_id = ''`,
			st.ID, rowID)
		if err != nil {
			return fmt.Errorf("failed to stamp journal row: %w", err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return fmt.Errorf("journal row %s: %w", rowID, core.ErrNotFound)
		}
	}

	return sqlTx.Commit()
}

func (s *Store) GetStatement(ctx context.Context, id core.StatementID) (*billing.Statement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, account_id, period_year, period_month, total, created_at
		FROM statements WHERE id = ?`, id)
	st, err := s.scanStatement(ctx, row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("statement %s: %w", id, core.ErrNotFound)
	}
	return st, err
}

func (s *Store) GetStatementForPeriod(ctx context.Context, account core.AccountID, period core.Period) (*billing.Statement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, account_id, period_year, period_month, total, created_at
		FROM statements WHERE account_id = ? AND period_year = ? AND period_month = ?`,
		account, period.Year, int(period.Month))
	st, err := s.scanStatement(ctx, row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return st, err
}

func (s *Store) ListStatements(ctx context.Context, account core.AccountID) ([]billing.Statement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, period_year, period_month, total, created_at
		FROM statements WHERE account_id = ?
		ORDER BY created_at`, account)
	if err != nil {
		return nil, fmt.Errorf("failed to query statements: %w", err)
	}
	defer rows.Close()

	var out []billing.Statement
	for rows.Next() {
		st, err := s.scanStatement(ctx, rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *st)
	}
	return out, rows.Err()
}

func (s *Store) scanStatement(ctx context.Context, row scanner) (*billing.Statement, error) {
	var (
		st        billing.Statement
		year      int
		month     int
		total     string
		createdAt string
	)
	err := row.Scan(&st.ID, &st.AccountID, &year, &month, &total, &createdAt)
	if err != nil {
		return nil, err
	}
	st.Period = core.Period{Year: year, Month: time.Month(month)}
	v, err := decimal.NewFromString(total)
	if err != nil {
		return nil, fmt.Errorf("failed to parse total: %w", err)
	}
	st.Total = core.Money{Value: v}
	st.CreatedAt = parseTime(createdAt)

	// Member rows live on the journal side; rebuild the ID list.
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM journal_rows WHERE statement_id = ? ORDER BY created_at`, st.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to query statement rows: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan statement row: %w", err)
		}
		st.RowIDs = append(st.RowIDs, core.JournalRowID(id))
	}
	return &st, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

type scanner interface {
	Scan(dest ...any) error
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// RFC3339 without fractional seconds keeps stored times a fixed width,
// so the SQL string comparisons order correctly.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return formatTime(t)
}

func nullTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
