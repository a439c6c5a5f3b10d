package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ledgergate/ledgergate/internal/platform/db"
)

// Store is the keyed outcome cache consulted before every governed write.
// Begin is the linearisation point: the uniqueness constraint on
// (operation_type, idempotency_key) arbitrates racing callers.
type Store interface {
	Probe(ctx context.Context, operationType, key string) (Outcome, error)
	Begin(ctx context.Context, operationType, key string, contextData map[string]any, user string) (Token, error)
	Complete(ctx context.Context, token Token, result map[string]any, ttl time.Duration) error
	Fail(ctx context.Context, token Token, errorCode string) error
	Cleanup(ctx context.Context, now time.Time, batchSize int, maxAge time.Duration) (int64, error)
	GetHealth(ctx context.Context) (Health, error)
	GetStatistics(ctx context.Context) (Statistics, error)
}

// startedTTL bounds how long a started record blocks retries when its
// owner dies without completing or failing.
const startedTTL = 10 * time.Minute

type store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewStore constructs the PostgreSQL-backed store.
func NewStore(pool *pgxpool.Pool) Store {
	return &store{pool: pool, now: time.Now}
}

func (s *store) Probe(ctx context.Context, operationType, key string) (Outcome, error) {
	var (
		status     Status
		resultJSON []byte
		errorCode  *string
		expiresAt  *time.Time
	)
	err := s.pool.QueryRow(ctx, `SELECT status, result_data, error_code, expires_at
FROM idempotency_records WHERE operation_type=$1 AND idempotency_key=$2`, operationType, key).
		Scan(&status, &resultJSON, &errorCode, &expiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Outcome{}, nil
		}
		return Outcome{}, err
	}
	now := s.now().UTC()
	if status == StatusStarted && expiresAt != nil && expiresAt.Before(now) {
		// Abandoned started record; treat as absent so a retry can take over.
		return Outcome{}, nil
	}
	out := Outcome{Found: true, Status: status}
	if len(resultJSON) > 0 {
		_ = json.Unmarshal(resultJSON, &out.Result)
	}
	if errorCode != nil {
		out.ErrorCode = *errorCode
	}
	return out, nil
}

func (s *store) Begin(ctx context.Context, operationType, key string, contextData map[string]any, user string) (Token, error) {
	if key == "" {
		return Token{}, errors.New("idempotency: key required")
	}
	ctxJSON, err := json.Marshal(contextData)
	if err != nil {
		return Token{}, err
	}
	now := s.now().UTC()
	expires := now.Add(startedTTL)
	// Failed records and abandoned started records are reclaimable;
	// completed records and live started records are not.
	tag, err := s.pool.Exec(ctx, `INSERT INTO idempotency_records
(operation_type, idempotency_key, status, context_data, actor, created_at, expires_at)
VALUES ($1, $2, 'STARTED', $3, $4, $5, $6)
ON CONFLICT (operation_type, idempotency_key) DO UPDATE
SET status='STARTED', context_data=EXCLUDED.context_data, actor=EXCLUDED.actor,
    created_at=EXCLUDED.created_at, expires_at=EXCLUDED.expires_at,
    result_data=NULL, error_code=NULL
WHERE idempotency_records.status='FAILED'
   OR (idempotency_records.status='STARTED' AND idempotency_records.expires_at < $5)`,
		operationType, key, ctxJSON, user, now, expires)
	if err != nil {
		if db.IsUniqueViolation(err, "") {
			return Token{}, ErrKeyHeld
		}
		return Token{}, err
	}
	if tag.RowsAffected() == 0 {
		return Token{}, ErrKeyHeld
	}
	return Token{OperationType: operationType, Key: key}, nil
}

func (s *store) Complete(ctx context.Context, token Token, result map[string]any, ttl time.Duration) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return err
	}
	var expires *time.Time
	if ttl > 0 {
		t := s.now().UTC().Add(ttl)
		expires = &t
	}
	tag, err := s.pool.Exec(ctx, `UPDATE idempotency_records
SET status='COMPLETED', result_data=$3, expires_at=$4
WHERE operation_type=$1 AND idempotency_key=$2 AND status='STARTED'`,
		token.OperationType, token.Key, resultJSON, expires)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTokenStale
	}
	return nil
}

func (s *store) Fail(ctx context.Context, token Token, errorCode string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE idempotency_records
SET status='FAILED', error_code=$3
WHERE operation_type=$1 AND idempotency_key=$2 AND status='STARTED'`,
		token.OperationType, token.Key, errorCode)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTokenStale
	}
	return nil
}

func (s *store) Cleanup(ctx context.Context, now time.Time, batchSize int, maxAge time.Duration) (int64, error) {
	if batchSize <= 0 {
		batchSize = 500
	}
	cutoff := now.Add(-maxAge)
	tag, err := s.pool.Exec(ctx, `DELETE FROM idempotency_records WHERE id IN (
SELECT id FROM idempotency_records
WHERE (expires_at IS NOT NULL AND expires_at < $1) OR created_at < $2
ORDER BY id ASC LIMIT $3)`, now, cutoff, batchSize)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *store) GetHealth(ctx context.Context) (Health, error) {
	var h Health
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*), MIN(created_at)
FROM idempotency_records WHERE status='STARTED'`).Scan(&h.StartedCount, &h.OldestActive)
	if err != nil {
		return Health{Reachable: false}, err
	}
	h.Reachable = true
	return h, nil
}

func (s *store) GetStatistics(ctx context.Context) (Statistics, error) {
	var st Statistics
	now := s.now().UTC()
	err := s.pool.QueryRow(ctx, `SELECT
COUNT(*) FILTER (WHERE status='STARTED'),
COUNT(*) FILTER (WHERE status='COMPLETED'),
COUNT(*) FILTER (WHERE status='FAILED'),
COUNT(*) FILTER (WHERE expires_at IS NOT NULL AND expires_at < $1)
FROM idempotency_records`, now).Scan(&st.Started, &st.Completed, &st.Failed, &st.Expired)
	if err != nil {
		return Statistics{}, err
	}
	return st, nil
}
