// Package store is the Postgres persistence layer for the identity ledger.
// Failures the caller cannot act on are wrapped in domain.ErrPersistence;
// unique violations on identity rows surface as domain.ErrDuplicateIdentity.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"agentidentity/pkg/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const queryTimeout = 5 * time.Second

type Store struct{ DB *pgxpool.Pool }

func New(db *pgxpool.Pool) *Store { return &Store{DB: db} }

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, queryTimeout)
}

func persistErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", domain.ErrPersistence, op, err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (s *Store) InsertIdentity(ctx context.Context, id domain.Identity) (domain.Identity, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	err := s.DB.QueryRow(ctx, `
INSERT INTO agents(id,did,name,public_key,parent_did,agent_type,status,metadata)
VALUES($1,$2,$3,$4,$5,$6,$7,$8)
RETURNING created_at
`, id.ID, id.DID, id.Name, id.PublicKey, id.ParentDID, id.AgentType, id.Status, id.Metadata).
		Scan(&id.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Identity{}, fmt.Errorf("%w: did or public key already registered", domain.ErrDuplicateIdentity)
		}
		return domain.Identity{}, persistErr("insert identity", err)
	}
	return id, nil
}

func (s *Store) FindIdentityByDID(ctx context.Context, did string) (domain.Identity, bool, error) {
	return s.findIdentity(ctx, `did=$1`, did)
}

func (s *Store) FindIdentityByID(ctx context.Context, id string) (domain.Identity, bool, error) {
	return s.findIdentity(ctx, `id=$1`, id)
}

func (s *Store) findIdentity(ctx context.Context, where string, arg any) (domain.Identity, bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	var out domain.Identity
	err := s.DB.QueryRow(ctx, `
SELECT id,did,name,public_key,parent_did,agent_type,status,metadata,created_at
FROM agents
WHERE `+where, arg).Scan(
		&out.ID, &out.DID, &out.Name, &out.PublicKey, &out.ParentDID,
		&out.AgentType, &out.Status, &out.Metadata, &out.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Identity{}, false, nil
	}
	if err != nil {
		return domain.Identity{}, false, persistErr("find identity", err)
	}
	return out, true, nil
}

func (s *Store) UpdateIdentityStatus(ctx context.Context, id string, status domain.AgentStatus) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	tag, err := s.DB.Exec(ctx, `UPDATE agents SET status=$2 WHERE id=$1`, id, status)
	if err != nil {
		return persistErr("update identity status", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", domain.ErrIdentityNotFound, id)
	}
	return nil
}

func (s *Store) InsertEvent(ctx context.Context, ev domain.ReputationEvent) (domain.ReputationEvent, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	err := s.DB.QueryRow(ctx, `
INSERT INTO reputation_events(agent_id,event_type,score_delta,description,metadata)
VALUES($1,$2,$3,$4,$5)
RETURNING id,created_at
`, ev.AgentID, ev.EventType, ev.ScoreDelta, ev.Description, ev.Metadata).
		Scan(&ev.ID, &ev.CreatedAt)
	if err != nil {
		return domain.ReputationEvent{}, persistErr("insert event", err)
	}
	return ev, nil
}

func (s *Store) SumEventDeltas(ctx context.Context, agentID string) (int, int, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	var total, count int
	err := s.DB.QueryRow(ctx, `
SELECT COALESCE(SUM(score_delta),0), COUNT(*)
FROM reputation_events
WHERE agent_id=$1
`, agentID).Scan(&total, &count)
	if err != nil {
		return 0, 0, persistErr("sum event deltas", err)
	}
	return total, count, nil
}

func (s *Store) ListEvents(ctx context.Context, agentID string, limit int) ([]domain.ReputationEvent, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	rows, err := s.DB.Query(ctx, `
SELECT id,agent_id,event_type,score_delta,description,metadata,created_at
FROM reputation_events
WHERE agent_id=$1
ORDER BY created_at DESC, id DESC
LIMIT $2
`, agentID, limit)
	if err != nil {
		return nil, persistErr("list events", err)
	}
	defer rows.Close()

	var out []domain.ReputationEvent
	for rows.Next() {
		var ev domain.ReputationEvent
		if err := rows.Scan(&ev.ID, &ev.AgentID, &ev.EventType, &ev.ScoreDelta, &ev.Description, &ev.Metadata, &ev.CreatedAt); err != nil {
			return nil, persistErr("scan event", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("list events", err)
	}
	return out, nil
}

func (s *Store) SumEventDeltasSince(ctx context.Context, agentID string, eventType domain.EventType, since time.Time) (int, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	var total int
	err := s.DB.QueryRow(ctx, `
SELECT COALESCE(SUM(score_delta),0)
FROM reputation_events
WHERE agent_id=$1 AND event_type=$2 AND created_at >= $3
`, agentID, eventType, since).Scan(&total)
	if err != nil {
		return 0, persistErr("sum event deltas since", err)
	}
	return total, nil
}

// SumReportedTasks totals the validated tasks_completed recorded in
// work-report event metadata. Events without the key contribute nothing.
func (s *Store) SumReportedTasks(ctx context.Context, agentID string) (int, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	var total int
	err := s.DB.QueryRow(ctx, `
SELECT COALESCE(SUM((metadata->>'tasks_completed')::int),0)
FROM reputation_events
WHERE agent_id=$1 AND event_type=$2 AND metadata->>'tasks_completed' IS NOT NULL
`, agentID, domain.EventWorkReport).Scan(&total)
	if err != nil {
		return 0, persistErr("sum reported tasks", err)
	}
	return total, nil
}

func (s *Store) InsertClaim(ctx context.Context, c domain.Claim) (domain.Claim, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	err := s.DB.QueryRow(ctx, `
INSERT INTO claims(id,agent_id,verifier_id,claim_type,claim_value,signature,expires_at)
VALUES($1,$2,$3,$4,$5,$6,$7)
RETURNING verified_at
`, c.ID, c.AgentID, c.VerifierID, c.ClaimType, c.ClaimValue, c.Signature, c.ExpiresAt).
		Scan(&c.VerifiedAt)
	if err != nil {
		return domain.Claim{}, persistErr("insert claim", err)
	}
	return c, nil
}

func (s *Store) ListClaims(ctx context.Context, agentID string) ([]domain.Claim, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	rows, err := s.DB.Query(ctx, `
SELECT id,agent_id,verifier_id,claim_type,claim_value,signature,verified_at,expires_at
FROM claims
WHERE agent_id=$1
ORDER BY verified_at DESC, id DESC
`, agentID)
	if err != nil {
		return nil, persistErr("list claims", err)
	}
	defer rows.Close()

	var out []domain.Claim
	for rows.Next() {
		var c domain.Claim
		if err := rows.Scan(&c.ID, &c.AgentID, &c.VerifierID, &c.ClaimType, &c.ClaimValue, &c.Signature, &c.VerifiedAt, &c.ExpiresAt); err != nil {
			return nil, persistErr("scan claim", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("list claims", err)
	}
	return out, nil
}

func (s *Store) DeleteExpiredRateWindow(ctx context.Context, identifier, action string, olderThan time.Time) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	_, err := s.DB.Exec(ctx, `
DELETE FROM rate_limits
WHERE identifier=$1 AND action_type=$2 AND window_start < $3
`, identifier, action, olderThan)
	if err != nil {
		return persistErr("delete expired rate window", err)
	}
	return nil
}

func (s *Store) InsertRateWindow(ctx context.Context, identifier, action string, start time.Time) (bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	tag, err := s.DB.Exec(ctx, `
INSERT INTO rate_limits(identifier,action_type,count,window_start)
VALUES($1,$2,1,$3)
ON CONFLICT (identifier,action_type) DO NOTHING
`, identifier, action, start)
	if err != nil {
		return false, persistErr("insert rate window", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) GetRateWindow(ctx context.Context, identifier, action string) (domain.RateLimitWindow, bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	var win domain.RateLimitWindow
	err := s.DB.QueryRow(ctx, `
SELECT id,identifier,action_type,count,window_start
FROM rate_limits
WHERE identifier=$1 AND action_type=$2
`, identifier, action).Scan(&win.ID, &win.Identifier, &win.ActionType, &win.Count, &win.WindowStart)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.RateLimitWindow{}, false, nil
	}
	if err != nil {
		return domain.RateLimitWindow{}, false, persistErr("get rate window", err)
	}
	return win, true, nil
}

// IncrementRateWindow bumps the window counter only when the caller still
// holds the count it read. A false return means another writer got there
// first.
func (s *Store) IncrementRateWindow(ctx context.Context, id int64, expectedCount int) (bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	tag, err := s.DB.Exec(ctx, `
UPDATE rate_limits SET count=count+1 WHERE id=$1 AND count=$2
`, id, expectedCount)
	if err != nil {
		return false, persistErr("increment rate window", err)
	}
	return tag.RowsAffected() == 1, nil
}

// DeleteExpiredRateWindows sweeps every window older than olderThan,
// regardless of identifier. Run periodically.
func (s *Store) DeleteExpiredRateWindows(ctx context.Context, olderThan time.Time) (int64, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	tag, err := s.DB.Exec(ctx, `DELETE FROM rate_limits WHERE window_start < $1`, olderThan)
	if err != nil {
		return 0, persistErr("sweep rate windows", err)
	}
	return tag.RowsAffected(), nil
}
