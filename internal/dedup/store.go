package dedup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/catalyst-agent/backend/internal/models"
	"github.com/catalyst-agent/backend/pkg/logger"
)

// ErrStoreUnavailable signals a durable-storage failure. Callers must
// fail closed: drop the item rather than risk a duplicate alert.
var ErrStoreUnavailable = errors.New("dedup store unavailable")

type Result int

const (
	New Result = iota
	Duplicate
)

func (r Result) String() string {
	if r == New {
		return "new"
	}
	return "duplicate"
}

const lockStripes = 64

// Store is the durable seen-event table. CheckAndMark is atomic per
// fingerprint: a striped mutex serializes the read-modify-write so that
// concurrent callers with the same fingerprint observe exactly one New.
type Store struct {
	db    *sql.DB
	locks [lockStripes]sync.Mutex
}

func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Durability before New is returned: a crash between mark and
	// classification may drop an item, never alert on it twice.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	logger.Info("Dedup store initialized", zap.String("path", dbPath))

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS seen_events (
		fingerprint TEXT PRIMARY KEY,
		first_seen_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL,
		source_count INTEGER NOT NULL DEFAULT 1
	);
	CREATE INDEX IF NOT EXISTS idx_seen_expires ON seen_events(expires_at);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// CheckAndMark records a sighting of fingerprint and reports whether it
// is the first within the window. A record whose expiry has passed is
// treated as absent; borderline records (expires_at == now) count as
// expired so clock skew can only re-admit an event, never suppress one.
func (s *Store) CheckAndMark(ctx context.Context, fingerprint string, window time.Duration) (Result, error) {
	lock := &s.locks[stripeFor(fingerprint)]
	lock.Lock()
	defer lock.Unlock()

	now := time.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Duplicate, storeErr("begin", err)
	}
	defer tx.Rollback()

	var expiresAt int64
	err = tx.QueryRowContext(ctx,
		`SELECT expires_at FROM seen_events WHERE fingerprint = ?`,
		fingerprint,
	).Scan(&expiresAt)

	switch {
	case err == nil && expiresAt > now.UnixMilli():
		_, err = tx.ExecContext(ctx,
			`UPDATE seen_events SET source_count = source_count + 1 WHERE fingerprint = ?`,
			fingerprint,
		)
		if err != nil {
			return Duplicate, storeErr("increment", err)
		}
		if err := tx.Commit(); err != nil {
			return Duplicate, storeErr("commit", err)
		}
		return Duplicate, nil

	case err == nil || err == sql.ErrNoRows:
		_, err = tx.ExecContext(ctx,
			`INSERT INTO seen_events (fingerprint, first_seen_at, expires_at, source_count)
			 VALUES (?, ?, ?, 1)
			 ON CONFLICT(fingerprint) DO UPDATE SET
				first_seen_at = excluded.first_seen_at,
				expires_at = excluded.expires_at,
				source_count = 1`,
			fingerprint, now.UnixMilli(), now.Add(window).UnixMilli(),
		)
		if err != nil {
			return Duplicate, storeErr("insert", err)
		}
		if err := tx.Commit(); err != nil {
			return Duplicate, storeErr("commit", err)
		}
		return New, nil

	default:
		return Duplicate, storeErr("select", err)
	}
}

// Record returns the current SeenRecord for a fingerprint, or nil if
// none exists.
func (s *Store) Record(ctx context.Context, fingerprint string) (*models.SeenRecord, error) {
	var firstSeen, expiresAt int64
	var count int

	err := s.db.QueryRowContext(ctx,
		`SELECT first_seen_at, expires_at, source_count FROM seen_events WHERE fingerprint = ?`,
		fingerprint,
	).Scan(&firstSeen, &expiresAt, &count)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("select", err)
	}

	return &models.SeenRecord{
		Fingerprint: fingerprint,
		FirstSeenAt: time.UnixMilli(firstSeen),
		ExpiresAt:   time.UnixMilli(expiresAt),
		SourceCount: count,
	}, nil
}

// Sweep removes expired records and returns how many were deleted.
func (s *Store) Sweep(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM seen_events WHERE expires_at <= ?`,
		time.Now().UnixMilli(),
	)
	if err != nil {
		return 0, storeErr("sweep", err)
	}

	deleted, _ := res.RowsAffected()
	if deleted > 0 {
		logger.Debug("Dedup sweep completed", zap.Int64("deleted", deleted))
	}

	return deleted, nil
}

func stripeFor(fingerprint string) int {
	h := fnv.New32a()
	h.Write([]byte(fingerprint))
	return int(h.Sum32() % lockStripes)
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %s", ErrStoreUnavailable, op, err)
}
