package database

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jgoulah/bchydro/pkg/models"
)

const timeLayout = time.RFC3339

// DB wraps the database connection
type DB struct {
	conn *sql.DB
	now  func() time.Time
}

// New creates a new database connection and initializes the schema
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db := &DB{conn: conn, now: time.Now}
	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// initSchema creates the necessary tables
func (db *DB) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS intervals (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		account TEXT NOT NULL,
		start_time TEXT NOT NULL,
		end_time TEXT NOT NULL,
		kwh REAL NOT NULL,
		cost REAL,
		created_at TEXT NOT NULL,
		UNIQUE(account, start_time)
	);
	CREATE INDEX IF NOT EXISTS idx_intervals_account ON intervals(account);
	CREATE INDEX IF NOT EXISTS idx_intervals_start_time ON intervals(start_time);

	CREATE TABLE IF NOT EXISTS rate_estimates (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		account TEXT NOT NULL,
		period_start TEXT,
		period_end TEXT,
		consumption_to_date REAL,
		cost_to_date REAL,
		estimated_kwh REAL,
		estimated_cost REAL,
		fetched_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_rate_estimates_account ON rate_estimates(account, fetched_at);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// RecordUsage stores a fetched snapshot. Intervals already on file are ignored;
// a rate estimate row is appended per fetch. Returns the number of new intervals.
func (db *DB) RecordUsage(account string, usage *models.DailyUsage) (int, error) {
	if usage == nil {
		return 0, nil
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	createdAt := db.now().UTC().Format(timeLayout)

	stmt, err := tx.Prepare(`
	INSERT OR IGNORE INTO intervals (account, start_time, end_time, kwh, cost, created_at)
	VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, iv := range usage.Electricity {
		res, err := stmt.Exec(account, formatTime(iv.Start), formatTime(iv.End), iv.Consumption, nullable(iv.Cost), createdAt)
		if err != nil {
			return 0, fmt.Errorf("inserting interval: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("reading rows affected: %w", err)
		}
		inserted += int(n)
	}

	if r := usage.Rates; r != nil {
		fetchedAt := usage.FetchedAt
		if fetchedAt.IsZero() {
			fetchedAt = db.now()
		}
		_, err := tx.Exec(`
		INSERT INTO rate_estimates (account, period_start, period_end, consumption_to_date, cost_to_date, estimated_kwh, estimated_cost, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, account, formatTime(r.PeriodStart), formatTime(r.PeriodEnd), nullable(r.ConsumptionToDate), nullable(r.CostToDate),
			nullable(r.EstimatedConsumption), nullable(r.EstimatedCost), formatTime(fetchedAt))
		if err != nil {
			return 0, fmt.Errorf("inserting rate estimate: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing: %w", err)
	}
	return inserted, nil
}

// ListIntervals retrieves all stored intervals for an account, newest first
func (db *DB) ListIntervals(account string) ([]models.Interval, error) {
	query := `
	SELECT start_time, end_time, kwh, cost
	FROM intervals
	WHERE account = ?
	ORDER BY start_time DESC
	`

	rows, err := db.conn.Query(query, account)
	if err != nil {
		return nil, fmt.Errorf("querying intervals: %w", err)
	}
	defer rows.Close()

	var results []models.Interval
	for rows.Next() {
		var iv models.Interval
		var startStr, endStr string
		var cost sql.NullFloat64

		if err := rows.Scan(&startStr, &endStr, &iv.Consumption, &cost); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		iv.Cost = optional(cost)
		if iv.Start, err = parseTime(startStr); err != nil {
			return nil, fmt.Errorf("parsing start_time: %w", err)
		}
		if iv.End, err = parseTime(endStr); err != nil {
			return nil, fmt.Errorf("parsing end_time: %w", err)
		}

		results = append(results, iv)
	}

	return results, rows.Err()
}

// LatestRateEstimate returns the most recently recorded estimate, or nil if none
func (db *DB) LatestRateEstimate(account string) (*models.RateEstimate, error) {
	query := `
	SELECT period_start, period_end, consumption_to_date, cost_to_date, estimated_kwh, estimated_cost
	FROM rate_estimates
	WHERE account = ?
	ORDER BY fetched_at DESC, id DESC
	LIMIT 1
	`

	var est models.RateEstimate
	var startStr, endStr sql.NullString
	var toDateKWh, toDateCost, estKWh, estCost sql.NullFloat64
	err := db.conn.QueryRow(query, account).Scan(&startStr, &endStr,
		&toDateKWh, &toDateCost, &estKWh, &estCost)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying rate estimate: %w", err)
	}
	est.ConsumptionToDate = optional(toDateKWh)
	est.CostToDate = optional(toDateCost)
	est.EstimatedConsumption = optional(estKWh)
	est.EstimatedCost = optional(estCost)

	if est.PeriodStart, err = parseTime(startStr.String); err != nil {
		return nil, fmt.Errorf("parsing period_start: %w", err)
	}
	if est.PeriodEnd, err = parseTime(endStr.String); err != nil {
		return nil, fmt.Errorf("parsing period_end: %w", err)
	}

	return &est, nil
}

// nullable stores unreported amounts as NULL
func nullable(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func optional(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return models.Float(v.Float64)
}

// formatTime stores zero times as the empty string
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(timeLayout, s)
}
