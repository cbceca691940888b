package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx postgres driver registered as 'pgx'
)

// Counter names one of the per-user tallies.
type Counter string

const (
	// Meows counts "meow" in a user's messages.
	Meows Counter = "meows"
	// Barks counts "woof" and "bark" in a user's messages.
	Barks Counter = "barks"
)

func (c Counter) columns() (table, column string, err error) {
	switch c {
	case Meows:
		return "user_meow_counts", "meow_count", nil
	case Barks:
		return "user_infractions", "infractions", nil
	}
	return "", "", fmt.Errorf("unknown counter %q", string(c))
}

// Entry is one row of a leaderboard.
type Entry struct {
	UserID string `json:"user_id"`
	Count  int64  `json:"count"`
}

// Counters is the storage behind the message tallies.
type Counters interface {
	// Increment adds by to userID's tally and returns the new value.
	Increment(ctx context.Context, c Counter, userID string, by int) (int64, error)
	// Get returns userID's tally; ok is false when the user was never counted.
	Get(ctx context.Context, c Counter, userID string) (n int64, ok bool, err error)
	// Top returns the highest tallies, largest first.
	Top(ctx context.Context, c Counter, limit int) ([]Entry, error)
	// Total sums the tally over every user.
	Total(ctx context.Context, c Counter) (int64, error)
}

// Connect opens a Postgres connection pool and verifies it answers.
func Connect(ctx context.Context, dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, errors.New("empty DB_DSN")
	}
	dbx, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	dbx.SetMaxOpenConns(10)
	dbx.SetConnMaxIdleTime(5 * time.Minute)
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := dbx.PingContext(pctx); err != nil {
		_ = dbx.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return dbx, nil
}

// PGCounters stores tallies in Postgres.
type PGCounters struct{ DB *sql.DB }

// Increment is a single upsert so concurrent increments never lose updates.
func (p *PGCounters) Increment(ctx context.Context, c Counter, userID string, by int) (int64, error) {
	table, col, err := c.columns()
	if err != nil {
		return 0, err
	}
	q := fmt.Sprintf(`INSERT INTO %[1]s (user_id, %[2]s, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (user_id) DO UPDATE SET %[2]s = %[1]s.%[2]s + EXCLUDED.%[2]s, updated_at = NOW()
		RETURNING %[2]s`, table, col)
	var n int64
	if err := p.DB.QueryRowContext(ctx, q, userID, by).Scan(&n); err != nil {
		return 0, fmt.Errorf("increment %s for %s: %w", c, userID, err)
	}
	return n, nil
}

func (p *PGCounters) Get(ctx context.Context, c Counter, userID string) (int64, bool, error) {
	table, col, err := c.columns()
	if err != nil {
		return 0, false, err
	}
	var n int64
	err = p.DB.QueryRowContext(ctx, fmt.Sprintf(`SELECT %s FROM %s WHERE user_id = $1`, col, table), userID).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return n, true, nil
}

func (p *PGCounters) Top(ctx context.Context, c Counter, limit int) ([]Entry, error) {
	table, col, err := c.columns()
	if err != nil {
		return nil, err
	}
	rows, err := p.DB.QueryContext(ctx, fmt.Sprintf(`SELECT user_id, %[1]s FROM %[2]s WHERE %[1]s > 0 ORDER BY %[1]s DESC, user_id LIMIT $1`, col, table), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.UserID, &e.Count); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *PGCounters) Total(ctx context.Context, c Counter) (int64, error) {
	table, col, err := c.columns()
	if err != nil {
		return 0, err
	}
	var n int64
	err = p.DB.QueryRowContext(ctx, fmt.Sprintf(`SELECT COALESCE(SUM(%s), 0) FROM %s`, col, table)).Scan(&n)
	return n, err
}

// MemoryCounters keeps tallies in process memory. Used when no database is configured.
type MemoryCounters struct {
	mu     sync.Mutex
	counts map[Counter]map[string]int64
}

func NewMemoryCounters() *MemoryCounters {
	return &MemoryCounters{counts: make(map[Counter]map[string]int64)}
}

func (m *MemoryCounters) Increment(_ context.Context, c Counter, userID string, by int) (int64, error) {
	if _, _, err := c.columns(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counts[c] == nil {
		m.counts[c] = make(map[string]int64)
	}
	m.counts[c][userID] += int64(by)
	return m.counts[c][userID], nil
}

func (m *MemoryCounters) Get(_ context.Context, c Counter, userID string) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.counts[c][userID]
	return n, ok, nil
}

func (m *MemoryCounters) Top(_ context.Context, c Counter, limit int) ([]Entry, error) {
	m.mu.Lock()
	out := make([]Entry, 0, len(m.counts[c]))
	for id, n := range m.counts[c] {
		if n > 0 {
			out = append(out, Entry{UserID: id, Count: n})
		}
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count == out[j].Count {
			return out[i].UserID < out[j].UserID
		}
		return out[i].Count > out[j].Count
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryCounters) Total(_ context.Context, c Counter) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, v := range m.counts[c] {
		n += v
	}
	return n, nil
}
