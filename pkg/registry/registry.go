// Package registry creates and resolves agent identities, including the
// depth-1 parent/worker hierarchy.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"agentidentity/pkg/domain"
	"agentidentity/pkg/identity"
	"agentidentity/pkg/ledger"
	"agentidentity/pkg/ratelimit"

	"github.com/google/uuid"
)

const maxNameLength = 100

var markupPattern = regexp.MustCompile(`<[^>]*>`)

// Store is the slice of persistence the registry needs. Find methods report
// not-found through their bool; InsertIdentity reports a DID collision as a
// domain.ErrDuplicateIdentity wrap.
type Store interface {
	InsertIdentity(ctx context.Context, id domain.Identity) (domain.Identity, error)
	FindIdentityByDID(ctx context.Context, did string) (domain.Identity, bool, error)
	FindIdentityByID(ctx context.Context, id string) (domain.Identity, bool, error)
	UpdateIdentityStatus(ctx context.Context, id string, status domain.AgentStatus) error
}

// RateLimiter throttles registrations per originating IP.
type RateLimiter interface {
	TryConsume(ctx context.Context, identifier, action string, max int, window time.Duration) (bool, error)
}

type Registry struct {
	store   Store
	ledger  *ledger.Ledger
	limiter RateLimiter
}

func New(store Store, lg *ledger.Ledger, limiter RateLimiter) *Registry {
	return &Registry{store: store, ledger: lg, limiter: limiter}
}

// RegisterParams carries one registration request.
type RegisterParams struct {
	Name         string
	PublicKeyHex string // optional; generated when empty
	ParentDID    string // optional; marks the new identity as a worker
	ClientIP     string // rate-limit identifier; empty skips the IP limit
	Metadata     json.RawMessage
}

// Registered is the result of a successful registration. PrivateKeyHex is
// populated only when the registry generated the keypair, and is the sole
// copy: it is never stored. Warning is non-nil (wrapping
// domain.ErrPartialRegistration) when the identity row was created but its
// registration event could not be appended.
type Registered struct {
	Identity      domain.Identity
	PrivateKeyHex string
	Score         ledger.Score
	Warning       error
}

// Register creates a new identity and its registration event.
func (r *Registry) Register(ctx context.Context, p RegisterParams) (*Registered, error) {
	name := SanitizeName(p.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}

	if p.ClientIP != "" {
		ok, err := r.limiter.TryConsume(ctx, p.ClientIP, ratelimit.ActionRegistration,
			ratelimit.RegistrationsPerIP, ratelimit.LimitWindow)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: %d registrations per IP per 24h", domain.ErrRateLimited, ratelimit.RegistrationsPerIP)
		}
	}

	var parent *domain.Identity
	if p.ParentDID != "" {
		found, ok, err := r.store.FindIdentityByDID(ctx, p.ParentDID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s", domain.ErrParentNotFound, p.ParentDID)
		}
		if found.AgentType != domain.AgentMain {
			// Depth-1 invariant: workers cannot parent workers.
			return nil, fmt.Errorf("%w: parent %s is a worker identity", domain.ErrValidation, p.ParentDID)
		}
		parent = &found
	}

	pubHex := strings.TrimSpace(p.PublicKeyHex)
	privHex := ""
	if pubHex == "" {
		kp, err := identity.GenerateKeyPair()
		if err != nil {
			return nil, fmt.Errorf("generate keypair: %w", err)
		}
		pubHex, privHex = kp.PublicKeyHex, kp.PrivateKeyHex
	} else if !identity.ValidPublicKeyHex(pubHex) {
		return nil, fmt.Errorf("%w: public_key must be a hex-encoded 32-byte Ed25519 key", domain.ErrValidation)
	}

	agentType := domain.AgentMain
	did := identity.DeriveDID(pubHex)
	var parentDID *string
	if parent != nil {
		agentType = domain.AgentWorker
		did = identity.DeriveWorkerDID(parent.DID, pubHex)
		parentDID = &parent.DID
	}

	ident := domain.Identity{
		ID:        "agt_" + uuid.NewString(),
		DID:       did,
		Name:      name,
		PublicKey: pubHex,
		ParentDID: parentDID,
		AgentType: agentType,
		Status:    domain.StatusActive,
		Metadata:  p.Metadata,
		CreatedAt: time.Now().UTC(),
	}
	stored, err := r.store.InsertIdentity(ctx, ident)
	if err != nil {
		return nil, err
	}

	out := &Registered{Identity: stored, PrivateKeyHex: privHex}

	// The event append is a separate durable write. A failure here must not
	// orphan the identity silently, so it surfaces as a warning the caller
	// can retry, never as a rollback.
	_, err = r.ledger.Append(ctx, domain.ReputationEvent{
		AgentID:     stored.ID,
		EventType:   domain.EventRegistration,
		ScoreDelta:  ledger.DeltaRegistration,
		Description: "agent registered",
	})
	if err != nil {
		out.Warning = fmt.Errorf("%w: registration event not recorded: %v", domain.ErrPartialRegistration, err)
		out.Score = ledger.Score{Reputation: ledger.ReputationFromCentis(0)}
		return out, nil
	}

	score, err := r.ledger.ScoreFor(ctx, stored.ID)
	if err != nil {
		// Registration itself succeeded; report the base score.
		score = ledger.Score{Reputation: ledger.ReputationFromCentis(ledger.DeltaRegistration), TotalCentis: ledger.DeltaRegistration, Events: 1}
	}
	out.Score = score
	return out, nil
}

// Resolve looks an identity up by DID (any "did:"-prefixed identifier) or by
// primary key.
func (r *Registry) Resolve(ctx context.Context, idOrDID string) (domain.Identity, error) {
	idOrDID = strings.TrimSpace(idOrDID)
	var (
		found domain.Identity
		ok    bool
		err   error
	)
	if strings.HasPrefix(idOrDID, "did:") {
		found, ok, err = r.store.FindIdentityByDID(ctx, idOrDID)
	} else {
		found, ok, err = r.store.FindIdentityByID(ctx, idOrDID)
	}
	if err != nil {
		return domain.Identity{}, err
	}
	if !ok {
		return domain.Identity{}, fmt.Errorf("%w: %s", domain.ErrIdentityNotFound, idOrDID)
	}
	return found, nil
}

// Flag marks an identity as flagged. Flagged agents fail public
// verification checks.
func (r *Registry) Flag(ctx context.Context, idOrDID string) (domain.Identity, error) {
	ident, err := r.Resolve(ctx, idOrDID)
	if err != nil {
		return domain.Identity{}, err
	}
	if err := r.store.UpdateIdentityStatus(ctx, ident.ID, domain.StatusFlagged); err != nil {
		return domain.Identity{}, err
	}
	ident.Status = domain.StatusFlagged
	return ident, nil
}

// SanitizeName strips markup, trims whitespace, and caps length.
func SanitizeName(name string) string {
	name = markupPattern.ReplaceAllString(name, "")
	name = strings.TrimSpace(name)
	runes := []rune(name)
	if len(runes) > maxNameLength {
		name = string(runes[:maxNameLength])
	}
	return name
}
