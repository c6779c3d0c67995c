// Package challenge holds outstanding one-time codes in an external keyed
// cache. At most one live code exists per (channel, identifier) and a code can
// be consumed at most once.
package challenge

import (
	"context"
	"errors"
	"time"
)

// Channel is the delivery channel a code is bound to.
type Channel string

const (
	ChannelPhone Channel = "phone"
	ChannelEmail Channel = "email"
)

var (
	// ErrAbsent is returned by Get when no code was issued or its TTL elapsed.
	ErrAbsent = errors.New("challenge: absent")
	// ErrConsumed is returned by Get when the code was taken and its TTL has
	// not elapsed yet.
	ErrConsumed = errors.New("challenge: consumed")
)

// Key identifies a challenge.
type Key struct {
	Channel    Channel
	Identifier string
}

func (k Key) String() string {
	return "otp:" + string(k.Channel) + ":" + k.Identifier
}

// Challenge is a live code and the instant it stops being accepted.
type Challenge struct {
	Code      string
	ExpiresAt time.Time
}

// TakeResult is the outcome of an atomic compare-and-consume.
type TakeResult int

const (
	// Absent means no code was ever issued or its TTL elapsed.
	Absent TakeResult = iota
	// Taken means the code matched and is now consumed.
	Taken
	// Mismatch means a different code is live, or the code was already consumed.
	Mismatch
)

func (r TakeResult) String() string {
	switch r {
	case Taken:
		return "taken"
	case Mismatch:
		return "mismatch"
	default:
		return "absent"
	}
}

// Store is the ChallengeStore contract.
type Store interface {
	// Get returns the live challenge for key, ErrAbsent or ErrConsumed.
	Get(ctx context.Context, key Key) (Challenge, error)
	// Put stores code under key only if no live challenge exists. When one
	// does, it is returned unchanged with stored=false.
	Put(ctx context.Context, key Key, code string, ttl time.Duration) (Challenge, bool, error)
	// TakeIfMatches checks and consumes code in one indivisible step.
	TakeIfMatches(ctx context.Context, key Key, code string) (TakeResult, error)
	// Clear drops whatever is stored under key.
	Clear(ctx context.Context, key Key) error
}
