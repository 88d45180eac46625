// Package txqueue implements the durable, at-most-once transaction queue
// (spec §4.3): idempotent enqueue keyed by a canonical payload hash, atomic
// lease-based claim, and allowlist-gated validation. Storage is a local
// embedded SQLite database opened through sqlx, in the teacher's sqlx-based
// persistence style (see DESIGN.md) but against a single embedded file
// rather than a shared Postgres cluster.
package txqueue

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/jinn-network/jinn-worker/internal/canonicaljson"
	"github.com/jinn-network/jinn-worker/internal/svcerrors"
)

const schema = `
CREATE TABLE IF NOT EXISTS tx_requests (
	id TEXT PRIMARY KEY,
	payload_hash TEXT NOT NULL UNIQUE,
	chain_id INTEGER NOT NULL,
	to_address TEXT NOT NULL,
	data TEXT NOT NULL,
	value TEXT NOT NULL,
	execution_strategy TEXT NOT NULL,
	status TEXT NOT NULL CHECK (status IN ('PENDING','CLAIMED','CONFIRMED','FAILED')),
	worker_id TEXT,
	attempt_count INTEGER NOT NULL DEFAULT 0,
	safe_tx_hash TEXT,
	tx_hash TEXT,
	error_code TEXT,
	error_message TEXT,
	created_at TIMESTAMP NOT NULL,
	claimed_at TIMESTAMP,
	completed_at TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_tx_requests_status_created ON tx_requests(status, created_at);
`

// Store is the Tx Queue's durable backing store.
type Store struct {
	db *sqlx.DB
}

// Open opens (creating if absent) the SQLite-backed queue database at path,
// with WAL, a 30-second busy timeout, and foreign keys enabled per spec §4.3.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, svcerrors.Internal("create tx queue data directory", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?cache=shared&_pragma=journal_mode(WAL)&_pragma=busy_timeout(30000)&_pragma=foreign_keys(1)", path)
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, svcerrors.Internal("open tx queue database", err)
	}
	db.SetMaxOpenConns(1) // SQLite: serialize writers, matches WAL single-writer model

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, svcerrors.Internal("create tx queue schema", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// Enqueue inserts a new row, or returns the pre-existing one if payloadHash
// already exists (idempotent enqueue, per spec §4.3).
func (s *Store) Enqueue(ctx context.Context, p Payload) (*TxRequest, error) {
	hash, err := canonicaljson.Hash(p)
	if err != nil {
		return nil, svcerrors.Internal("hash tx payload", err)
	}

	if existing, err := s.GetByPayloadHash(ctx, hash); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	id := uuid.NewString()
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tx_requests (id, payload_hash, chain_id, to_address, data, value, execution_strategy, status, attempt_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?)
	`, id, hash, p.ChainID, p.To, p.Data, p.Value, p.ExecutionStrategy, StatusPending, now)
	if err != nil {
		// A concurrent insert could race us past the UNIQUE check above;
		// fall back to the row the other writer created.
		if existing, getErr := s.GetByPayloadHash(ctx, hash); getErr == nil && existing != nil {
			return existing, nil
		}
		return nil, svcerrors.Internal("insert tx request", err)
	}

	return s.GetStatus(ctx, id)
}

// Claim atomically selects the oldest PENDING row, or the oldest CLAIMED
// row whose claimedAt is older than claimTimeout, marks it CLAIMED under
// workerID, and bumps attemptCount. Returns nil, nil if nothing is eligible.
func (s *Store) Claim(ctx context.Context, workerID string, claimTimeout time.Duration) (*TxRequest, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, svcerrors.Internal("begin claim transaction", err)
	}
	defer tx.Rollback()

	cutoff := time.Now().UTC().Add(-claimTimeout)

	var row TxRequest
	err = tx.GetContext(ctx, &row, `
		SELECT * FROM tx_requests
		WHERE status = ?
		   OR (status = ? AND claimed_at IS NOT NULL AND claimed_at < ?)
		ORDER BY created_at ASC
		LIMIT 1
	`, StatusPending, StatusClaimed, cutoff)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, svcerrors.Internal("select claimable tx request", err)
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		UPDATE tx_requests SET status = ?, worker_id = ?, claimed_at = ?, attempt_count = attempt_count + 1
		WHERE id = ?
	`, StatusClaimed, workerID, now, row.ID)
	if err != nil {
		return nil, svcerrors.Internal("claim tx request", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, svcerrors.Internal("commit claim transaction", err)
	}

	return s.GetStatus(ctx, row.ID)
}

// UpdateStatus transitions id to the given status and stamps any optional
// metadata fields supplied in upd.
func (s *Store) UpdateStatus(ctx context.Context, id string, upd StatusUpdate) error {
	var completedAt *time.Time
	if upd.Status == StatusConfirmed || upd.Status == StatusFailed {
		now := time.Now().UTC()
		completedAt = &now
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE tx_requests SET
			status = ?,
			safe_tx_hash = COALESCE(?, safe_tx_hash),
			tx_hash = COALESCE(?, tx_hash),
			error_code = COALESCE(?, error_code),
			error_message = COALESCE(?, error_message),
			completed_at = COALESCE(?, completed_at)
		WHERE id = ?
	`, upd.Status, upd.SafeTxHash, upd.TxHash, upd.ErrorCode, upd.ErrorMessage, completedAt, id)
	if err != nil {
		return svcerrors.Internal("update tx request status", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return svcerrors.Internal("read rows affected", err)
	}
	if n == 0 {
		return svcerrors.New(svcerrors.CodeInvalidInput, "tx request not found", 404).WithDetails("id", id)
	}
	return nil
}

// GetStatus retrieves a single row by id.
func (s *Store) GetStatus(ctx context.Context, id string) (*TxRequest, error) {
	var row TxRequest
	err := s.db.GetContext(ctx, &row, `SELECT * FROM tx_requests WHERE id = ?`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, svcerrors.Internal("get tx request", err)
	}
	return &row, nil
}

// GetByPayloadHash retrieves a row by its idempotency key.
func (s *Store) GetByPayloadHash(ctx context.Context, hash string) (*TxRequest, error) {
	var row TxRequest
	err := s.db.GetContext(ctx, &row, `SELECT * FROM tx_requests WHERE payload_hash = ?`, hash)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, svcerrors.Internal("get tx request by payload hash", err)
	}
	return &row, nil
}

// GetPending returns up to limit PENDING rows, oldest first.
func (s *Store) GetPending(ctx context.Context, limit int) ([]TxRequest, error) {
	var rows []TxRequest
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM tx_requests WHERE status = ? ORDER BY created_at ASC LIMIT ?
	`, StatusPending, limit)
	if err != nil {
		return nil, svcerrors.Internal("get pending tx requests", err)
	}
	return rows, nil
}

// GetExpiredClaims returns CLAIMED rows whose claim has outlived timeoutMs.
func (s *Store) GetExpiredClaims(ctx context.Context, timeoutMs int64) ([]TxRequest, error) {
	cutoff := time.Now().UTC().Add(-time.Duration(timeoutMs) * time.Millisecond)
	var rows []TxRequest
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM tx_requests WHERE status = ? AND claimed_at IS NOT NULL AND claimed_at < ?
	`, StatusClaimed, cutoff)
	if err != nil {
		return nil, svcerrors.Internal("get expired claims", err)
	}
	return rows, nil
}

// Cleanup deletes terminal (CONFIRMED/FAILED) rows older than olderThanMs.
func (s *Store) Cleanup(ctx context.Context, olderThanMs int64) (int64, error) {
	cutoff := time.Now().UTC().Add(-time.Duration(olderThanMs) * time.Millisecond)
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM tx_requests WHERE status IN (?, ?) AND completed_at IS NOT NULL AND completed_at < ?
	`, StatusConfirmed, StatusFailed, cutoff)
	if err != nil {
		return 0, svcerrors.Internal("cleanup tx requests", err)
	}
	return result.RowsAffected()
}

// GetMetrics summarizes row counts by status.
func (s *Store) GetMetrics(ctx context.Context) (Metrics, error) {
	var m Metrics
	rows, err := s.db.QueryxContext(ctx, `SELECT status, COUNT(*) FROM tx_requests GROUP BY status`)
	if err != nil {
		return m, svcerrors.Internal("get tx queue metrics", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return m, svcerrors.Internal("scan tx queue metrics", err)
		}
		switch Status(status) {
		case StatusPending:
			m.Pending = count
		case StatusClaimed:
			m.Claimed = count
		case StatusConfirmed:
			m.Confirmed = count
		case StatusFailed:
			m.Failed = count
		}
	}
	return m, rows.Err()
}
