package otp

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/amplio/onboard/internal/challenge"
	"github.com/amplio/onboard/internal/notification"
)

// localStrategy generates codes in-process and matches them against the store.
type localStrategy struct {
	store      challenge.Store
	notifier   notification.Notifier
	ttl        time.Duration
	codeLength int
	logger     *slog.Logger
}

func (l *localStrategy) request(ctx context.Context, key challenge.Key) (RequestResult, error) {
	code, err := generateCode(l.codeLength)
	if err != nil {
		return RequestResult{}, err
	}
	current, stored, err := l.store.Put(ctx, key, code, l.ttl)
	if err != nil {
		return RequestResult{}, err
	}
	if !stored {
		return RequestResult{Reused: true, DevCode: current.Code}, nil
	}

	if l.notifier != nil {
		err := l.notifier.Send(ctx, notification.Message{
			Kind:        notification.KindOTPCode,
			Destination: key.Identifier,
			Subject:     "Your verification code",
			Body:        fmt.Sprintf("Your verification code is %s. It expires in %d minutes.", code, int(l.ttl.Minutes())),
		})
		if err != nil {
			// Drop the undelivered code so the next request issues a fresh one.
			if clearErr := l.store.Clear(context.WithoutCancel(ctx), key); clearErr != nil {
				l.logger.Warn("clear undelivered code", slog.Any("error", clearErr))
			}
			return RequestResult{}, fmt.Errorf("deliver code: %w", err)
		}
	}
	return RequestResult{Sent: true, DevCode: code}, nil
}

func (l *localStrategy) verify(ctx context.Context, key challenge.Key, code string) (Result, error) {
	res, err := l.store.TakeIfMatches(ctx, key, code)
	if err != nil {
		return "", err
	}
	switch res {
	case challenge.Taken:
		return Valid, nil
	case challenge.Mismatch:
		return Invalid, nil
	default:
		return Expired, nil
	}
}

func generateCode(length int) (string, error) {
	if length <= 0 || length > 18 {
		return "", errors.New("otp: code length out of range")
	}
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(length)), nil)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", fmt.Errorf("otp: generate code: %w", err)
	}
	return fmt.Sprintf("%0*d", length, n.Int64()), nil
}
