package store

import "context"

const schema = `
CREATE TABLE IF NOT EXISTS agents (
  id          TEXT PRIMARY KEY,
  did         TEXT NOT NULL UNIQUE,
  name        TEXT NOT NULL,
  public_key  TEXT NOT NULL UNIQUE,
  parent_did  TEXT,
  agent_type  TEXT NOT NULL DEFAULT 'main',
  status      TEXT NOT NULL DEFAULT 'active',
  metadata    JSONB,
  created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS reputation_events (
  id          BIGSERIAL PRIMARY KEY,
  agent_id    TEXT NOT NULL REFERENCES agents(id),
  event_type  TEXT NOT NULL,
  score_delta INTEGER NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  metadata    JSONB,
  created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_reputation_events_agent
  ON reputation_events(agent_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_reputation_events_agent_type
  ON reputation_events(agent_id, event_type, created_at);

CREATE TABLE IF NOT EXISTS claims (
  id          TEXT PRIMARY KEY,
  agent_id    TEXT NOT NULL REFERENCES agents(id),
  verifier_id TEXT,
  claim_type  TEXT NOT NULL,
  claim_value TEXT,
  signature   TEXT,
  verified_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  expires_at  TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_claims_agent ON claims(agent_id);

CREATE TABLE IF NOT EXISTS rate_limits (
  id           BIGSERIAL PRIMARY KEY,
  identifier   TEXT NOT NULL,
  action_type  TEXT NOT NULL,
  count        INTEGER NOT NULL DEFAULT 1,
  window_start TIMESTAMPTZ NOT NULL DEFAULT now(),
  UNIQUE (identifier, action_type)
);
`

// EnsureSchema creates the tables the ledger needs. Idempotent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.DB.Exec(ctx, schema)
	return err
}
