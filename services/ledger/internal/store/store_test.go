package store

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"agentidentity/pkg/db"
	"agentidentity/pkg/domain"
	"agentidentity/pkg/identity"

	"github.com/google/uuid"
)

func liveStore(t *testing.T) *Store {
	t.Helper()
	if os.Getenv("AID_INTEGRATION") != "1" {
		t.Skip("set AID_INTEGRATION=1 to run live integration")
	}
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("set DATABASE_URL to run live integration")
	}
	pool, err := db.Connect(context.Background(), dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)
	s := New(pool)
	if err := s.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return s
}

func liveIdentity(t *testing.T, s *Store) domain.Identity {
	t.Helper()
	kp, err := identity.GenerateKeyPair()
	if err != nil {
		t.Fatalf("keypair: %v", err)
	}
	ident := domain.Identity{
		ID:        "agt_" + uuid.NewString(),
		DID:       identity.DeriveDID(kp.PublicKeyHex),
		Name:      "Live Test Agent",
		PublicKey: kp.PublicKeyHex,
		AgentType: domain.AgentMain,
		Status:    domain.StatusActive,
	}
	created, err := s.InsertIdentity(context.Background(), ident)
	if err != nil {
		t.Fatalf("insert identity: %v", err)
	}
	return created
}

func TestIdentityRoundTripLive(t *testing.T) {
	s := liveStore(t)
	ctx := context.Background()
	ident := liveIdentity(t, s)

	got, ok, err := s.FindIdentityByDID(ctx, ident.DID)
	if err != nil || !ok {
		t.Fatalf("find by did: ok=%v err=%v", ok, err)
	}
	if got.ID != ident.ID || got.PublicKey != ident.PublicKey {
		t.Fatalf("round trip mismatch: %+v vs %+v", got, ident)
	}

	if _, ok, err := s.FindIdentityByID(ctx, "agt_"+uuid.NewString()); err != nil || ok {
		t.Fatalf("expected miss without error, ok=%v err=%v", ok, err)
	}

	if _, err := s.InsertIdentity(ctx, ident); !errors.Is(err, domain.ErrDuplicateIdentity) {
		t.Fatalf("expected ErrDuplicateIdentity, got %v", err)
	}

	if err := s.UpdateIdentityStatus(ctx, ident.ID, domain.StatusFlagged); err != nil {
		t.Fatalf("update status: %v", err)
	}
	got, _, _ = s.FindIdentityByID(ctx, ident.ID)
	if got.Status != domain.StatusFlagged {
		t.Fatalf("status = %q, want flagged", got.Status)
	}
}

func TestEventLedgerLive(t *testing.T) {
	s := liveStore(t)
	ctx := context.Background()
	ident := liveIdentity(t, s)

	events := []domain.ReputationEvent{
		{AgentID: ident.ID, EventType: domain.EventWorkReport, ScoreDelta: 10, Metadata: json.RawMessage(`{"tasks_completed":12}`)},
		{AgentID: ident.ID, EventType: domain.EventWorkReport, ScoreDelta: 27, Metadata: json.RawMessage(`{"tasks_completed":30}`)},
		{AgentID: ident.ID, EventType: domain.EventWorkReport, ScoreDelta: -5},
	}
	for _, ev := range events {
		if _, err := s.InsertEvent(ctx, ev); err != nil {
			t.Fatalf("insert event: %v", err)
		}
	}

	total, count, err := s.SumEventDeltas(ctx, ident.ID)
	if err != nil {
		t.Fatalf("sum deltas: %v", err)
	}
	if total != 32 || count != 3 {
		t.Fatalf("total=%d count=%d, want 32/3", total, count)
	}

	events, err = s.ListEvents(ctx, ident.ID, 2)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("len=%d, want 2", len(events))
	}
	if events[0].ScoreDelta != -5 {
		t.Fatalf("newest first: got delta %d", events[0].ScoreDelta)
	}

	since, err := s.SumEventDeltasSince(ctx, ident.ID, domain.EventWorkReport, time.Now().Add(-time.Hour))
	if err != nil || since != 32 {
		t.Fatalf("sum since = %d err=%v, want 32", since, err)
	}
	tasks, err := s.SumReportedTasks(ctx, ident.ID)
	if err != nil || tasks != 42 {
		t.Fatalf("reported tasks = %d err=%v, want 42 (nil metadata ignored)", tasks, err)
	}
}

func TestClaimsLive(t *testing.T) {
	s := liveStore(t)
	ctx := context.Background()
	ident := liveIdentity(t, s)

	value := "Example Org"
	claim := domain.Claim{
		ID:         "clm_" + uuid.NewString(),
		AgentID:    ident.ID,
		ClaimType:  "operated-by",
		ClaimValue: &value,
	}
	created, err := s.InsertClaim(ctx, claim)
	if err != nil {
		t.Fatalf("insert claim: %v", err)
	}
	if created.VerifiedAt.IsZero() {
		t.Fatal("expected verified_at to be set")
	}

	claims, err := s.ListClaims(ctx, ident.ID)
	if err != nil {
		t.Fatalf("list claims: %v", err)
	}
	if len(claims) != 1 || claims[0].ID != claim.ID {
		t.Fatalf("claims = %+v", claims)
	}
}

func TestRateWindowLifecycleLive(t *testing.T) {
	s := liveStore(t)
	ctx := context.Background()
	identifier := "ip-" + hex.EncodeToString([]byte(uuid.NewString()))[:12]
	now := time.Now().UTC()

	created, err := s.InsertRateWindow(ctx, identifier, "registration", now)
	if err != nil || !created {
		t.Fatalf("insert window: created=%v err=%v", created, err)
	}
	created, err = s.InsertRateWindow(ctx, identifier, "registration", now)
	if err != nil || created {
		t.Fatalf("second insert should conflict: created=%v err=%v", created, err)
	}

	win, ok, err := s.GetRateWindow(ctx, identifier, "registration")
	if err != nil || !ok {
		t.Fatalf("get window: ok=%v err=%v", ok, err)
	}
	if win.Count != 1 {
		t.Fatalf("count = %d, want 1", win.Count)
	}

	bumped, err := s.IncrementRateWindow(ctx, win.ID, win.Count)
	if err != nil || !bumped {
		t.Fatalf("increment: bumped=%v err=%v", bumped, err)
	}
	bumped, err = s.IncrementRateWindow(ctx, win.ID, win.Count)
	if err != nil || bumped {
		t.Fatalf("stale increment should lose: bumped=%v err=%v", bumped, err)
	}

	if err := s.DeleteExpiredRateWindow(ctx, identifier, "registration", now.Add(time.Minute)); err != nil {
		t.Fatalf("delete expired: %v", err)
	}
	if _, ok, _ := s.GetRateWindow(ctx, identifier, "registration"); ok {
		t.Fatal("window should be gone")
	}
}
