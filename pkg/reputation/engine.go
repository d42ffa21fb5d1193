package reputation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"agentidentity/pkg/canonhash"
	"agentidentity/pkg/domain"
	"agentidentity/pkg/identity"
	"agentidentity/pkg/ledger"
	"agentidentity/pkg/ratelimit"
	"agentidentity/pkg/registry"

	"github.com/google/uuid"
)

// EventStats is the extra slice of persistence the engine needs beyond the
// ledger: the daily-cap fold and the reported-task total.
type EventStats interface {
	SumEventDeltasSince(ctx context.Context, agentID string, eventType domain.EventType, since time.Time) (int, error)
	SumReportedTasks(ctx context.Context, agentID string) (int, error)
}

// ClaimStore persists verification claims.
type ClaimStore interface {
	InsertClaim(ctx context.Context, c domain.Claim) (domain.Claim, error)
	ListClaims(ctx context.Context, agentID string) ([]domain.Claim, error)
}

// RateLimiter throttles work-report submissions per agent.
type RateLimiter interface {
	TryConsume(ctx context.Context, identifier, action string, max int, window time.Duration) (bool, error)
}

// LookupLimiter throttles high-volume public verify lookups. Non-durable.
type LookupLimiter interface {
	Allow(identifier string) bool
}

type Engine struct {
	registry *registry.Registry
	ledger   *ledger.Ledger
	limiter  RateLimiter
	lookups  LookupLimiter
	stats    EventStats
	claims   ClaimStore
	now      func() time.Time
}

func NewEngine(reg *registry.Registry, lg *ledger.Ledger, limiter RateLimiter, lookups LookupLimiter, stats EventStats, claims ClaimStore) *Engine {
	return &Engine{
		registry: reg,
		ledger:   lg,
		limiter:  limiter,
		lookups:  lookups,
		stats:    stats,
		claims:   claims,
		now:      time.Now,
	}
}

// ReportResult is the outcome of one accepted work report.
type ReportResult struct {
	OldReputation float64                `json:"old_reputation"`
	NewReputation float64                `json:"new_reputation"`
	Delta         float64                `json:"delta"`
	DeltaCentis   int                    `json:"delta_centis"`
	Event         domain.ReputationEvent `json:"event"`
}

// SubmitReport runs the work-report pipeline: locate, authenticate, clamp,
// rate-check, score, commit. Authentication and validation failures occur
// before any mutation.
func (e *Engine) SubmitReport(ctx context.Context, idOrDID string, report WorkReport, signatureHex string) (*ReportResult, error) {
	ident, err := e.registry.Resolve(ctx, idOrDID)
	if err != nil {
		return nil, err
	}

	if signatureHex == "" {
		return nil, fmt.Errorf("%w: signature missing", domain.ErrUnauthorizedReport)
	}
	if report.DID != "" && report.DID != ident.DID {
		return nil, fmt.Errorf("%w: report did %q does not match identity", domain.ErrValidation, report.DID)
	}
	canonical, err := canonhash.Canonical(report)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	if !identity.Verify(string(canonical), signatureHex, ident.PublicKey) {
		return nil, fmt.Errorf("%w: signature does not verify", domain.ErrUnauthorizedReport)
	}

	validated := ClampReport(report)

	ok, err := e.limiter.TryConsume(ctx, ident.ID, ratelimit.ActionWorkReport,
		ratelimit.WorkReportsPerAgent, ratelimit.LimitWindow)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %d work reports per agent per 24h", domain.ErrRateLimited, ratelimit.WorkReportsPerAgent)
	}

	appliedToday, err := e.stats.SumEventDeltasSince(ctx, ident.ID, domain.EventWorkReport, StartOfDayUTC(e.now()))
	if err != nil {
		return nil, err
	}
	deltaCentis := ClampDailyCentis(RawDeltaCentis(validated), appliedToday)

	prior, err := e.ledger.ScoreFor(ctx, ident.ID)
	if err != nil {
		return nil, err
	}

	payloadHash, _, err := canonhash.SumObject(validated)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	metadata, _ := json.Marshal(map[string]any{
		"period":             validated.Period,
		"tasks_completed":    validated.Tasks,
		"corrections":        validated.Corrections,
		"positive_feedback":  validated.Positive,
		"errors":             validated.Errors,
		"payload_hash":       payloadHash,
		"signature_verified": true,
	})
	event, err := e.ledger.Append(ctx, domain.ReputationEvent{
		AgentID:     ident.ID,
		EventType:   domain.EventWorkReport,
		ScoreDelta:  deltaCentis,
		Description: "work report for " + validated.Period,
		Metadata:    metadata,
	})
	if err != nil {
		return nil, err
	}

	return &ReportResult{
		OldReputation: ledger.ReputationFromCentis(prior.TotalCentis),
		NewReputation: ledger.ReputationFromCentis(prior.TotalCentis + deltaCentis),
		Delta:         float64(deltaCentis) / 100,
		DeltaCentis:   deltaCentis,
		Event:         event,
	}, nil
}

// VerifyResult is the outcome of an ad-hoc signature verification.
type VerifyResult struct {
	Verified      bool    `json:"verified"`
	DID           string  `json:"did"`
	OldReputation float64 `json:"old_reputation"`
	NewReputation float64 `json:"new_reputation"`
}

// VerifySignature checks a message/signature pair against the agent's
// stored public key. A passing check appends one verification_success
// event; a failing check appends nothing and is not an error.
func (e *Engine) VerifySignature(ctx context.Context, idOrDID, message, signatureHex string) (*VerifyResult, error) {
	ident, err := e.registry.Resolve(ctx, idOrDID)
	if err != nil {
		return nil, err
	}

	prior, err := e.ledger.ScoreFor(ctx, ident.ID)
	if err != nil {
		return nil, err
	}
	out := &VerifyResult{
		DID:           ident.DID,
		OldReputation: ledger.ReputationFromCentis(prior.TotalCentis),
		NewReputation: ledger.ReputationFromCentis(prior.TotalCentis),
	}

	if !identity.Verify(message, signatureHex, ident.PublicKey) {
		return out, nil
	}

	_, err = e.ledger.Append(ctx, domain.ReputationEvent{
		AgentID:     ident.ID,
		EventType:   domain.EventVerificationSuccess,
		ScoreDelta:  ledger.DeltaVerificationSuccess,
		Description: "signature verification passed",
	})
	if err != nil {
		return nil, err
	}
	out.Verified = true
	out.NewReputation = ledger.ReputationFromCentis(prior.TotalCentis + ledger.DeltaVerificationSuccess)
	return out, nil
}

// ClaimParams carries one claim verification request.
type ClaimParams struct {
	AgentIDOrDID string
	ClaimType    string
	ClaimValue   *string
	VerifierID   *string
	Message      string // optional; when set, SignatureHex must verify
	SignatureHex string
	ExpiresAt    *time.Time
}

// ClaimResult is the outcome of a verified claim.
type ClaimResult struct {
	Claim         domain.Claim `json:"claim"`
	OldReputation float64      `json:"old_reputation"`
	NewReputation float64      `json:"new_reputation"`
}

// VerifyClaim records an attested claim and its claim_verified event. When
// a message/signature pair is supplied it must verify before any state is
// written; a failed check aborts the whole claim.
func (e *Engine) VerifyClaim(ctx context.Context, p ClaimParams) (*ClaimResult, error) {
	if p.ClaimType == "" {
		return nil, fmt.Errorf("%w: claim_type is required", domain.ErrValidation)
	}
	ident, err := e.registry.Resolve(ctx, p.AgentIDOrDID)
	if err != nil {
		return nil, err
	}

	var sig *string
	if p.Message != "" || p.SignatureHex != "" {
		if !identity.Verify(p.Message, p.SignatureHex, ident.PublicKey) {
			return nil, fmt.Errorf("%w: claim signature does not verify", domain.ErrUnauthorizedReport)
		}
		sig = &p.SignatureHex
	}

	prior, err := e.ledger.ScoreFor(ctx, ident.ID)
	if err != nil {
		return nil, err
	}

	claim, err := e.claims.InsertClaim(ctx, domain.Claim{
		ID:         "clm_" + uuid.NewString(),
		AgentID:    ident.ID,
		VerifierID: p.VerifierID,
		ClaimType:  p.ClaimType,
		ClaimValue: p.ClaimValue,
		Signature:  sig,
		VerifiedAt: e.now().UTC(),
		ExpiresAt:  p.ExpiresAt,
	})
	if err != nil {
		return nil, err
	}

	metadata, _ := json.Marshal(map[string]any{"claim_id": claim.ID, "claim_type": claim.ClaimType})
	if _, err := e.ledger.Append(ctx, domain.ReputationEvent{
		AgentID:     ident.ID,
		EventType:   domain.EventClaimVerified,
		ScoreDelta:  ledger.DeltaClaimVerified,
		Description: "claim verified: " + claim.ClaimType,
		Metadata:    metadata,
	}); err != nil {
		return nil, err
	}

	return &ClaimResult{
		Claim:         claim,
		OldReputation: ledger.ReputationFromCentis(prior.TotalCentis),
		NewReputation: ledger.ReputationFromCentis(prior.TotalCentis + ledger.DeltaClaimVerified),
	}, nil
}

// Claims lists the recorded claims for an agent, expired ones included.
func (e *Engine) Claims(ctx context.Context, idOrDID string) ([]domain.Claim, error) {
	ident, err := e.registry.Resolve(ctx, idOrDID)
	if err != nil {
		return nil, err
	}
	return e.claims.ListClaims(ctx, ident.ID)
}

// PublicStatus is the response contract of the public verify endpoint,
// consumed by third-party middleware. TasksCompleted is the sum of the
// validated tasks_completed values across accepted work reports, not the
// number of reports.
type PublicStatus struct {
	Verified        bool    `json:"verified"`
	DID             string  `json:"did"`
	Name            string  `json:"name"`
	Reputation      float64 `json:"reputation"`
	TasksCompleted  int     `json:"tasks_completed"`
	RegisteredAt    string  `json:"registered_at"`
	Flags           int     `json:"flags"`
	VerificationURL string  `json:"verification_url"`
}

// PublicVerify answers "is this a registered agent in good standing".
// Guarded by the in-memory lookup limiter; a flagged agent reports
// verified=false.
func (e *Engine) PublicVerify(ctx context.Context, did, clientIP string) (*PublicStatus, error) {
	if e.lookups != nil && clientIP != "" && !e.lookups.Allow(clientIP) {
		return nil, fmt.Errorf("%w: verify lookups", domain.ErrRateLimited)
	}
	ident, err := e.registry.Resolve(ctx, did)
	if err != nil {
		return nil, err
	}
	score, err := e.ledger.ScoreFor(ctx, ident.ID)
	if err != nil {
		return nil, err
	}
	tasks, err := e.stats.SumReportedTasks(ctx, ident.ID)
	if err != nil {
		return nil, err
	}
	flags := 0
	if ident.Status == domain.StatusFlagged {
		flags = 1
	}
	return &PublicStatus{
		Verified:       ident.Status == domain.StatusActive,
		DID:            ident.DID,
		Name:           ident.Name,
		Reputation:     score.Reputation,
		TasksCompleted: tasks,
		RegisteredAt:   ident.CreatedAt.UTC().Format(time.RFC3339),
		Flags:          flags,
	}, nil
}
