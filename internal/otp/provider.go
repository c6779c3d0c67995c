package otp

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/amplio/onboard/internal/challenge"
)

// ErrNoPendingVerification is returned by a Provider when it holds no open
// verification for the destination, typically because it expired.
var ErrNoPendingVerification = errors.New("otp: no pending verification")

// Provider is an external service that both generates and validates codes.
type Provider interface {
	// Start sends a code to the E.164 destination and returns an opaque
	// reference for the verification.
	Start(ctx context.Context, to string) (string, error)
	// Check reports whether code is approved for the destination.
	Check(ctx context.Context, to, code string) (bool, error)
}

// providerStrategy delegates generation and matching to a Provider. The
// store only remembers the provider reference so resends within the TTL are
// deduplicated and consumed verifications cannot be replayed.
type providerStrategy struct {
	store    challenge.Store
	provider Provider
	prefix   string
	ttl      time.Duration
}

func (p *providerStrategy) request(ctx context.Context, key challenge.Key) (RequestResult, error) {
	_, err := p.store.Get(ctx, key)
	switch {
	case err == nil:
		return RequestResult{Reused: true}, nil
	case errors.Is(err, challenge.ErrAbsent), errors.Is(err, challenge.ErrConsumed):
	default:
		return RequestResult{}, err
	}

	ref, err := p.provider.Start(ctx, E164(p.prefix, key.Identifier))
	if err != nil {
		return RequestResult{}, err
	}
	_, stored, err := p.store.Put(ctx, key, ref, p.ttl)
	if err != nil {
		return RequestResult{}, err
	}
	// The provider has already dispatched a message. If a concurrent request
	// stored its reference first, that one stays live.
	return RequestResult{Sent: true, Reused: !stored}, nil
}

func (p *providerStrategy) verify(ctx context.Context, key challenge.Key, code string) (Result, error) {
	live, err := p.store.Get(ctx, key)
	switch {
	case errors.Is(err, challenge.ErrAbsent):
		return Expired, nil
	case errors.Is(err, challenge.ErrConsumed):
		return Invalid, nil
	case err != nil:
		return "", err
	}

	approved, err := p.provider.Check(ctx, E164(p.prefix, key.Identifier), code)
	if errors.Is(err, ErrNoPendingVerification) {
		if clearErr := p.store.Clear(ctx, key); clearErr != nil {
			return "", clearErr
		}
		return Expired, nil
	}
	if err != nil {
		return "", err
	}
	if !approved {
		return Invalid, nil
	}

	res, err := p.store.TakeIfMatches(ctx, key, live.Code)
	if err != nil {
		return "", err
	}
	if res != challenge.Taken {
		return Invalid, nil
	}
	return Valid, nil
}

// E164 formats a phone identifier for the provider. Identifiers already
// carrying a '+' are passed through.
func E164(prefix, phone string) string {
	phone = strings.TrimSpace(phone)
	if strings.HasPrefix(phone, "+") {
		return phone
	}
	var b strings.Builder
	b.WriteString(prefix)
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
