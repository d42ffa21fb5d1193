// Package identity implements keypair generation, DID derivation, and
// Ed25519 signing for agent identities. All keys and signatures cross
// package boundaries hex-encoded.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

const (
	// DIDPrefix is the scheme prefix for main agent DIDs.
	DIDPrefix = "did:agent:"

	// WorkerInfix separates a parent DID from its worker suffix.
	WorkerInfix = ":w:"

	didHashLen          = 32 // hex chars of SHA-256 kept for a main DID
	workerSuffixLen     = 8  // hex chars kept for a worker suffix
	publicKeyHexLength  = ed25519.PublicKeySize * 2
	privateKeyHexLength = ed25519.PrivateKeySize * 2
)

var (
	ErrInvalidPublicKey  = errors.New("invalid public key")
	ErrInvalidPrivateKey = errors.New("invalid private key")
)

// KeyPair is a freshly generated Ed25519 keypair. The private key is never
// persisted server-side; callers receive it exactly once.
type KeyPair struct {
	PublicKeyHex  string
	PrivateKeyHex string
}

// GenerateKeyPair produces a new Ed25519 keypair from crypto/rand.
func GenerateKeyPair() (KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, err
	}
	return KeyPair{
		PublicKeyHex:  hex.EncodeToString(pub),
		PrivateKeyHex: hex.EncodeToString(priv),
	}, nil
}

// DeriveDID maps a hex-encoded public key to its DID:
//
//	"did:agent:" + first 32 hex chars of SHA256(publicKeyHex)
//
// The hash is taken over the hex string bytes, not the raw key, so the
// derivation is stable across any caller that holds the published key form.
func DeriveDID(publicKeyHex string) string {
	sum := sha256.Sum256([]byte(publicKeyHex))
	return DIDPrefix + hex.EncodeToString(sum[:])[:didHashLen]
}

// DeriveWorkerDID derives a depth-1 worker DID scoped under parentDID:
//
//	parentDID + ":w:" + first 8 chars of the worker's own derived id
func DeriveWorkerDID(parentDID, publicKeyHex string) string {
	sum := sha256.Sum256([]byte(publicKeyHex))
	return parentDID + WorkerInfix + hex.EncodeToString(sum[:])[:workerSuffixLen]
}

// IsWorkerDID reports whether did carries a worker suffix.
func IsWorkerDID(did string) bool {
	return strings.Contains(did, WorkerInfix)
}

// ValidPublicKeyHex reports whether s is a well-formed hex-encoded 32-byte
// Ed25519 public key.
func ValidPublicKeyHex(s string) bool {
	if len(s) != publicKeyHexLength {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// Sign signs the UTF-8 bytes of message with a hex-encoded private key and
// returns the hex-encoded 64-byte signature.
func Sign(message, privateKeyHex string) (string, error) {
	if len(privateKeyHex) != privateKeyHexLength {
		return "", ErrInvalidPrivateKey
	}
	priv, err := hex.DecodeString(privateKeyHex)
	if err != nil {
		return "", ErrInvalidPrivateKey
	}
	sig := ed25519.Sign(ed25519.PrivateKey(priv), []byte(message))
	return hex.EncodeToString(sig), nil
}

// Verify checks an Ed25519 signature over the UTF-8 bytes of message.
// Malformed hex, wrong lengths, and failed checks all return false; Verify
// never returns an error.
func Verify(message, signatureHex, publicKeyHex string) bool {
	pub, err := hex.DecodeString(publicKeyHex)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}
	sig, err := hex.DecodeString(signatureHex)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), []byte(message), sig)
}
