package domain

import (
	"encoding/json"
	"time"
)

type AgentType string

const (
	AgentMain   AgentType = "main"
	AgentWorker AgentType = "worker"
)

type AgentStatus string

const (
	StatusActive  AgentStatus = "active"
	StatusFlagged AgentStatus = "flagged"
)

// Identity is one registered agent. Immutable after creation except Status.
type Identity struct {
	ID        string          `json:"id"`
	DID       string          `json:"did"`
	Name      string          `json:"name"`
	PublicKey string          `json:"public_key"` // hex-encoded 32-byte Ed25519 key
	ParentDID *string         `json:"parent_did,omitempty"`
	AgentType AgentType       `json:"agent_type"`
	Status    AgentStatus     `json:"status"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

type EventType string

const (
	EventRegistration        EventType = "registration"
	EventVerificationSuccess EventType = "verification_success"
	EventWorkReport          EventType = "work_report"
	EventClaimVerified       EventType = "claim_verified"
)

// ReputationEvent is one append-only score adjustment. ScoreDelta is stored
// in hundredths of a reputation point (centis); +10 means +0.10.
type ReputationEvent struct {
	ID          int64           `json:"id"`
	AgentID     string          `json:"agent_id"`
	EventType   EventType       `json:"event_type"`
	ScoreDelta  int             `json:"score_delta"`
	Description string          `json:"description"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Claim is an attested statement about an agent. A claim past ExpiresAt is
// inactive but never deleted.
type Claim struct {
	ID         string     `json:"id"`
	AgentID    string     `json:"agent_id"`
	VerifierID *string    `json:"verifier_id,omitempty"`
	ClaimType  string     `json:"claim_type"`
	ClaimValue *string    `json:"claim_value,omitempty"`
	Signature  *string    `json:"signature,omitempty"`
	VerifiedAt time.Time  `json:"verified_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

// RateLimitWindow is a fixed counting window for one (identifier, action)
// pair. At most one live window exists per pair.
type RateLimitWindow struct {
	ID          int64     `json:"id"`
	Identifier  string    `json:"identifier"`
	ActionType  string    `json:"action_type"`
	Count       int       `json:"count"`
	WindowStart time.Time `json:"window_start"`
}
