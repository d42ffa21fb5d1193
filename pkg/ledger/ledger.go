// Package ledger is the append-only reputation event log. Score reads are a
// fresh fold over every stored delta; there is no cached aggregate to go
// stale. The canonical internal unit is the centi: one hundredth of a
// reputation point.
package ledger

import (
	"context"
	"fmt"

	"agentidentity/pkg/domain"
)

// Score policy, in centis.
const (
	BaseScoreCentis = 300
	MinScoreCentis  = 0
	MaxScoreCentis  = 500

	DeltaRegistration        = 10
	DeltaVerificationSuccess = 1
	DeltaClaimVerified       = 5
)

// Store is the slice of persistence the ledger needs.
type Store interface {
	InsertEvent(ctx context.Context, ev domain.ReputationEvent) (domain.ReputationEvent, error)
	SumEventDeltas(ctx context.Context, agentID string) (total int, count int, err error)
	ListEvents(ctx context.Context, agentID string, limit int) ([]domain.ReputationEvent, error)
}

type Ledger struct {
	store Store
}

func New(store Store) *Ledger { return &Ledger{store: store} }

// Score is the read model for one agent.
type Score struct {
	Reputation  float64 `json:"reputation"`
	TotalCentis int     `json:"total_centis"`
	Events      int     `json:"events"`
}

// Append writes one immutable event row.
func (l *Ledger) Append(ctx context.Context, ev domain.ReputationEvent) (domain.ReputationEvent, error) {
	stored, err := l.store.InsertEvent(ctx, ev)
	if err != nil {
		return domain.ReputationEvent{}, fmt.Errorf("append %s event: %w", ev.EventType, err)
	}
	return stored, nil
}

// ScoreFor folds every stored delta for the agent into its current
// reputation, clamped to [0.0, 5.0].
func (l *Ledger) ScoreFor(ctx context.Context, agentID string) (Score, error) {
	total, count, err := l.store.SumEventDeltas(ctx, agentID)
	if err != nil {
		return Score{}, fmt.Errorf("sum deltas: %w", err)
	}
	return Score{
		Reputation:  ReputationFromCentis(total),
		TotalCentis: total,
		Events:      count,
	}, nil
}

// Recent returns up to limit events for the agent, newest first.
func (l *Ledger) Recent(ctx context.Context, agentID string, limit int) ([]domain.ReputationEvent, error) {
	if limit <= 0 {
		limit = 20
	}
	events, err := l.store.ListEvents(ctx, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events, nil
}

// ReputationFromCentis converts a summed delta into the public score:
// 3.0 + total/100, clamped to [0.0, 5.0].
func ReputationFromCentis(total int) float64 {
	c := BaseScoreCentis + total
	if c < MinScoreCentis {
		c = MinScoreCentis
	}
	if c > MaxScoreCentis {
		c = MaxScoreCentis
	}
	return float64(c) / 100
}
