package identity

import (
	"strings"
	"testing"
)

func TestDeriveDIDDeterministic(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	a := DeriveDID(kp.PublicKeyHex)
	b := DeriveDID(kp.PublicKeyHex)
	if a != b {
		t.Fatalf("DID derivation not deterministic: %q vs %q", a, b)
	}
	if !strings.HasPrefix(a, DIDPrefix) {
		t.Fatalf("missing prefix: %q", a)
	}
	if len(a) != len(DIDPrefix)+didHashLen {
		t.Fatalf("unexpected DID length: %q", a)
	}
}

func TestDeriveDIDNoCollisionsAcrossKeys(t *testing.T) {
	seen := make(map[string]string)
	for i := 0; i < 200; i++ {
		kp, err := GenerateKeyPair()
		if err != nil {
			t.Fatalf("GenerateKeyPair: %v", err)
		}
		did := DeriveDID(kp.PublicKeyHex)
		if prev, ok := seen[did]; ok && prev != kp.PublicKeyHex {
			t.Fatalf("collision: %q for keys %q and %q", did, prev, kp.PublicKeyHex)
		}
		seen[did] = kp.PublicKeyHex
	}
}

func TestDeriveWorkerDID(t *testing.T) {
	parent, _ := GenerateKeyPair()
	worker, _ := GenerateKeyPair()
	parentDID := DeriveDID(parent.PublicKeyHex)
	workerDID := DeriveWorkerDID(parentDID, worker.PublicKeyHex)

	if !strings.HasPrefix(workerDID, parentDID+WorkerInfix) {
		t.Fatalf("worker DID %q not scoped under parent %q", workerDID, parentDID)
	}
	suffix := strings.TrimPrefix(workerDID, parentDID+WorkerInfix)
	if len(suffix) != workerSuffixLen {
		t.Fatalf("unexpected worker suffix %q", suffix)
	}
	if !IsWorkerDID(workerDID) {
		t.Fatal("IsWorkerDID should report true for a worker DID")
	}
	if IsWorkerDID(parentDID) {
		t.Fatal("IsWorkerDID should report false for a main DID")
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	sig, err := Sign("ping", kp.PrivateKeyHex)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if !Verify("ping", sig, kp.PublicKeyHex) {
		t.Fatal("valid signature did not verify")
	}
	if Verify("pong", sig, kp.PublicKeyHex) {
		t.Fatal("signature verified against the wrong message")
	}
}

func TestVerifyMalformedInputReturnsFalse(t *testing.T) {
	kp, _ := GenerateKeyPair()
	sig, _ := Sign("hello", kp.PrivateKeyHex)

	cases := []struct {
		name string
		sig  string
		pub  string
	}{
		{"truncated signature", sig[:10], kp.PublicKeyHex},
		{"garbled signature hex", "zz" + sig[2:], kp.PublicKeyHex},
		{"empty signature", "", kp.PublicKeyHex},
		{"truncated key", sig, kp.PublicKeyHex[:8]},
		{"garbled key hex", sig, "not-hex-at-all"},
		{"empty key", sig, ""},
	}
	for _, tc := range cases {
		if Verify("hello", tc.sig, tc.pub) {
			t.Errorf("%s: Verify returned true", tc.name)
		}
	}
}

func TestSignRejectsBadPrivateKey(t *testing.T) {
	if _, err := Sign("m", "abcd"); err == nil {
		t.Fatal("expected error for short private key")
	}
	if _, err := Sign("m", strings.Repeat("zz", 64)); err == nil {
		t.Fatal("expected error for non-hex private key")
	}
}

func TestValidPublicKeyHex(t *testing.T) {
	kp, _ := GenerateKeyPair()
	if !ValidPublicKeyHex(kp.PublicKeyHex) {
		t.Fatal("generated key should be valid")
	}
	if ValidPublicKeyHex(kp.PublicKeyHex[:10]) {
		t.Fatal("short key should be invalid")
	}
	if ValidPublicKeyHex(strings.Repeat("zz", 32)) {
		t.Fatal("non-hex key should be invalid")
	}
}
