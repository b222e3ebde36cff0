// Package quota enforces the per-user daily message allowance tied to a
// subscription tier. Counters live in a (user, UTC date) keyed table; the
// date key rolling over is the only "reset" — rows are never zeroed.
//
// The check is advisory: two simultaneous requests may both pass it and the
// user gets one message over the nominal limit. That soft bound is accepted.
// The increment is exact — a single atomic upsert at the storage layer — so
// concurrent completions never lose an update.
package quota

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Tier is a named subscription level. Names match the billing collaborator.
type Tier string

const (
	// TierFree is the default tier for accounts without a subscription.
	TierFree Tier = "Free"
	// TierBasic is the paid entry tier.
	TierBasic Tier = "Basic"
	// TierPro has no daily message limit.
	TierPro Tier = "Pro"
)

// Daily message limits per tier. Unknown tiers fall back to the Free limit.
const (
	freeDailyLimit  = 5
	basicDailyLimit = 100

	// Unlimited marks a tier with no daily cap.
	Unlimited = -1
)

// Limit returns the daily message limit for the tier, or Unlimited.
func Limit(tier Tier) int {
	switch tier {
	case TierPro:
		return Unlimited
	case TierBasic:
		return basicDailyLimit
	default:
		return freeDailyLimit
	}
}

// Decision is the outcome of a quota check.
type Decision struct {
	// Allowed reports whether the user may send another message today.
	Allowed bool
	// Remaining is the number of messages left today, 0 when disallowed.
	// Unlimited tiers report Unlimited.
	Remaining int
	// Limit is the tier's daily limit, or Unlimited.
	Limit int
}

// Ledger is the per-user-per-day usage counter consulted and charged by the
// chat pipeline. Implementations must be safe for concurrent use.
type Ledger interface {
	// CheckAndReserve reports whether the user may send a message today.
	// It is advisory — it performs no mutation beyond lazily creating the
	// day's zero row.
	CheckAndReserve(ctx context.Context, userID string, tier Tier) (Decision, error)

	// Increment atomically adds one to the user's counter for today,
	// creating the row at 1 if absent. Called exactly once per completed
	// exchange.
	Increment(ctx context.Context, userID string) error
}

// SQLiteLedger implements Ledger on a SQLite database. It shares the
// connection pool with the conversation store; only its own table is touched.
type SQLiteLedger struct {
	// db is the shared database connection pool.
	db *sql.DB

	// now is the clock used to derive the date key. Overridden in tests.
	now func() time.Time
}

// NewSQLiteLedger creates the usage table if needed and returns a ready
// ledger sharing the given connection pool.
func NewSQLiteLedger(db *sql.DB) (*SQLiteLedger, error) {
	const ddl = `
CREATE TABLE IF NOT EXISTS user_daily_usage (
    user_id       TEXT    NOT NULL,
    date_key      TEXT    NOT NULL,  -- UTC calendar date, yyyy-mm-dd
    used_messages INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (user_id, date_key)
);
`
	if _, err := db.Exec(ddl); err != nil {
		return nil, fmt.Errorf("quota: migrate: %w", err)
	}
	return &SQLiteLedger{db: db, now: time.Now}, nil
}

// dateKey returns the current calendar date in UTC, the fixed reference
// timezone for quota accounting.
func (l *SQLiteLedger) dateKey() string {
	return l.now().UTC().Format("2006-01-02")
}

// CheckAndReserve reports whether the user may send a message today.
// The day's row is created lazily at zero if absent; creation itself never
// counts as consumption. Unlimited tiers short-circuit with no persistence.
func (l *SQLiteLedger) CheckAndReserve(ctx context.Context, userID string, tier Tier) (Decision, error) {
	limit := Limit(tier)
	if limit == Unlimited {
		return Decision{Allowed: true, Remaining: Unlimited, Limit: Unlimited}, nil
	}

	key := l.dateKey()

	// Lazily create the zero row so the first check of a day is visible to
	// admin tooling. ON CONFLICT DO NOTHING keeps concurrent first checks
	// from failing each other.
	const create = `
INSERT INTO user_daily_usage (user_id, date_key, used_messages)
VALUES (?, ?, 0)
ON CONFLICT (user_id, date_key) DO NOTHING`
	if _, err := l.db.ExecContext(ctx, create, userID, key); err != nil {
		return Decision{}, fmt.Errorf("quota: create counter: %w", err)
	}

	var used int
	const query = `SELECT used_messages FROM user_daily_usage WHERE user_id = ? AND date_key = ?`
	if err := l.db.QueryRowContext(ctx, query, userID, key).Scan(&used); err != nil {
		return Decision{}, fmt.Errorf("quota: read counter: %w", err)
	}

	if used >= limit {
		return Decision{Allowed: false, Remaining: 0, Limit: limit}, nil
	}
	return Decision{Allowed: true, Remaining: limit - used, Limit: limit}, nil
}

// Increment atomically adds one to today's counter for the user. The upsert
// is a single statement so concurrent increments never lose an update —
// no read-modify-write round trip exists to race.
func (l *SQLiteLedger) Increment(ctx context.Context, userID string) error {
	const q = `
INSERT INTO user_daily_usage (user_id, date_key, used_messages)
VALUES (?, ?, 1)
ON CONFLICT (user_id, date_key)
DO UPDATE SET used_messages = used_messages + 1`
	if _, err := l.db.ExecContext(ctx, q, userID, l.dateKey()); err != nil {
		return fmt.Errorf("quota: increment: %w", err)
	}
	return nil
}

// Used returns the stored count for the user on the given date key.
// Intended for admin tooling and tests; returns 0 when no row exists.
func (l *SQLiteLedger) Used(ctx context.Context, userID, dateKey string) (int, error) {
	var used int
	const q = `SELECT used_messages FROM user_daily_usage WHERE user_id = ? AND date_key = ?`
	err := l.db.QueryRowContext(ctx, q, userID, dateKey).Scan(&used)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("quota: read counter: %w", err)
	}
	return used, nil
}
