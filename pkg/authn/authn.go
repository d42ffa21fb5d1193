// Package authn authenticates HTTP requests made by registered agents.
// Agents sign method + path + timestamp + body with their identity key and
// present the result in X-Agent-* headers; verification resolves the DID
// and checks the signature against the stored public key.
package authn

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"agentidentity/pkg/domain"
	"agentidentity/pkg/identity"
)

// Header names for signed agent requests.
const (
	HeaderDID       = "X-Agent-DID"
	HeaderTimestamp = "X-Agent-Timestamp"
	HeaderSignature = "X-Agent-Signature"
)

// TimestampWindow is the maximum clock drift before a signed request is
// rejected.
const TimestampWindow = 5 * time.Minute

var ErrUnauthorized = errors.New("unauthorized")

// Resolver looks up the identity a request claims to come from.
type Resolver interface {
	Resolve(ctx context.Context, idOrDID string) (domain.Identity, error)
}

// SignRequest attaches the signed-agent headers to an outgoing request.
// The signature covers method + path + timestamp + body.
func SignRequest(req *http.Request, did, privateKeyHex string, body []byte) error {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	msg := req.Method + req.URL.Path + ts + string(body)
	sig, err := identity.Sign(msg, privateKeyHex)
	if err != nil {
		return err
	}
	req.Header.Set(HeaderDID, did)
	req.Header.Set(HeaderTimestamp, ts)
	req.Header.Set(HeaderSignature, sig)
	return nil
}

// VerifyRequest authenticates an incoming signed request and returns the
// agent identity it came from. All failures wrap ErrUnauthorized except
// resolver errors other than not-found, which pass through unchanged.
func VerifyRequest(ctx context.Context, resolver Resolver, req *http.Request, body []byte) (domain.Identity, error) {
	did := req.Header.Get(HeaderDID)
	tsStr := req.Header.Get(HeaderTimestamp)
	sigHex := req.Header.Get(HeaderSignature)
	if did == "" || tsStr == "" || sigHex == "" {
		return domain.Identity{}, fmt.Errorf("%w: missing agent headers", ErrUnauthorized)
	}

	ts, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%w: invalid timestamp", ErrUnauthorized)
	}
	drift := math.Abs(float64(time.Now().Unix() - ts))
	if drift > TimestampWindow.Seconds() {
		return domain.Identity{}, fmt.Errorf("%w: timestamp outside %v window", ErrUnauthorized, TimestampWindow)
	}

	ident, err := resolver.Resolve(ctx, did)
	if err != nil {
		if errors.Is(err, domain.ErrIdentityNotFound) {
			return domain.Identity{}, fmt.Errorf("%w: unknown agent %s", ErrUnauthorized, did)
		}
		return domain.Identity{}, err
	}

	msg := req.Method + req.URL.Path + tsStr + string(body)
	if !identity.Verify(msg, sigHex, ident.PublicKey) {
		return domain.Identity{}, fmt.Errorf("%w: request signature does not verify", ErrUnauthorized)
	}
	return ident, nil
}
