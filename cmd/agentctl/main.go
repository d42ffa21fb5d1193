package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"agentidentity/pkg/canonhash"
	"agentidentity/pkg/identity"
	"agentidentity/pkg/reputation"
)

const usage = "usage: agentctl key generate | agentctl did derive --public-key <hex> [--parent-did <did>] | agentctl report sign --private-key <hex> --report <path>"

func main() {
	if len(os.Args) < 2 {
		fail(usage)
	}
	switch os.Args[1] {
	case "key":
		runKey(os.Args[2:])
	case "did":
		runDID(os.Args[2:])
	case "report":
		runReport(os.Args[2:])
	default:
		fail(usage)
	}
}

func runKey(args []string) {
	if len(args) < 1 || args[0] != "generate" {
		fail(usage)
	}
	kp, err := identity.GenerateKeyPair()
	if err != nil {
		fail("generate keypair failed: " + err.Error())
	}
	writeJSON(map[string]any{
		"public_key":  kp.PublicKeyHex,
		"private_key": kp.PrivateKeyHex,
		"did":         identity.DeriveDID(kp.PublicKeyHex),
		"key_hint":    "store once; not retrievable again",
	})
}

func runDID(args []string) {
	if len(args) < 1 || args[0] != "derive" {
		fail(usage)
	}
	fs := flag.NewFlagSet("did derive", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	publicKey := fs.String("public-key", "", "hex-encoded 32-byte Ed25519 public key")
	parentDID := fs.String("parent-did", "", "parent DID for a worker identity")
	if err := fs.Parse(args[1:]); err != nil {
		fail(err.Error())
	}
	pub := strings.TrimSpace(*publicKey)
	if !identity.ValidPublicKeyHex(pub) {
		fail("--public-key must be a hex-encoded 32-byte Ed25519 key")
	}
	out := map[string]any{"public_key": pub}
	if parent := strings.TrimSpace(*parentDID); parent != "" {
		out["did"] = identity.DeriveWorkerDID(parent, pub)
		out["parent_did"] = parent
	} else {
		out["did"] = identity.DeriveDID(pub)
	}
	writeJSON(out)
}

func runReport(args []string) {
	if len(args) < 1 || args[0] != "sign" {
		fail(usage)
	}
	fs := flag.NewFlagSet("report sign", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	privateKey := fs.String("private-key", "", "hex-encoded Ed25519 private key")
	reportPath := fs.String("report", "", "path to work report json")
	if err := fs.Parse(args[1:]); err != nil {
		fail(err.Error())
	}
	if strings.TrimSpace(*privateKey) == "" || strings.TrimSpace(*reportPath) == "" {
		fail("both --private-key and --report are required")
	}

	raw, err := os.ReadFile(*reportPath)
	if err != nil {
		fail("read report failed: " + err.Error())
	}
	var report reputation.WorkReport
	if err := json.Unmarshal(raw, &report); err != nil {
		fail("parse report failed: " + err.Error())
	}

	// The server verifies against this exact canonical form, so the signed
	// bytes come from the struct, not the input file.
	canonical, err := canonhash.Canonical(report)
	if err != nil {
		fail("canonicalize report failed: " + err.Error())
	}
	sig, err := identity.Sign(string(canonical), strings.TrimSpace(*privateKey))
	if err != nil {
		fail("sign report failed: " + err.Error())
	}
	writeJSON(map[string]any{
		"report":    report,
		"signature": sig,
	})
}

func writeJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func fail(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(2)
}
