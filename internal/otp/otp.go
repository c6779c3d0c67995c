// Package otp issues and verifies one-time codes bound to a phone number or an
// email address. Codes are either generated and matched locally against the
// challenge store, or delegated to an external verification provider.
package otp

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/amplio/onboard/internal/apperr"
	"github.com/amplio/onboard/internal/challenge"
	"github.com/amplio/onboard/internal/logging"
	"github.com/amplio/onboard/internal/metrics"
	"github.com/amplio/onboard/internal/notification"
)

// Result is the outcome of a verification attempt.
type Result string

const (
	Valid   Result = "valid"
	Invalid Result = "invalid"
	Expired Result = "expired"
)

// RequestResult describes what RequestCode did.
type RequestResult struct {
	Channel challenge.Channel
	// Sent is true when this call dispatched a message.
	Sent bool
	// Reused is true when the live code belongs to an earlier or concurrent
	// request. Both are set when this call sent a message but lost the race
	// to store its code; only the stored one verifies.
	Reused bool
	// DevCode is the code itself, populated in development only.
	DevCode string
}

// Classify maps an identifier onto its delivery channel.
func Classify(identifier string) challenge.Channel {
	if strings.Contains(identifier, "@") {
		return challenge.ChannelEmail
	}
	return challenge.ChannelPhone
}

// strategy generates, delivers and checks codes for one validation mode.
type strategy interface {
	request(ctx context.Context, key challenge.Key) (RequestResult, error)
	verify(ctx context.Context, key challenge.Key, code string) (Result, error)
}

var errVerification = errors.New("verification error")

// Service is the one-time code service.
type Service struct {
	store       challenge.Store
	notifiers   map[challenge.Channel]notification.Notifier
	provider    Provider
	prefix      string
	development bool
	ttl         time.Duration
	codeLength  int
	timeout     time.Duration
	logger      *slog.Logger
	metrics     *metrics.Metrics
	tracer      trace.Tracer
}

// Option configures a Service.
type Option func(*Service)

// WithProvider delegates phone codes to p outside development. Phone numbers
// without a leading '+' are prefixed with countryPrefix.
func WithProvider(p Provider, countryPrefix string) Option {
	return func(s *Service) {
		s.provider = p
		s.prefix = countryPrefix
	}
}

// WithNotifier sets the delivery channel for locally generated codes.
func WithNotifier(channel challenge.Channel, n notification.Notifier) Option {
	return func(s *Service) { s.notifiers[channel] = n }
}

// WithDevelopment enables local phone codes and echoes codes to the caller.
func WithDevelopment(dev bool) Option { return func(s *Service) { s.development = dev } }

func WithTTL(ttl time.Duration) Option { return func(s *Service) { s.ttl = ttl } }

func WithCodeLength(n int) Option { return func(s *Service) { s.codeLength = n } }

// WithTimeout bounds every store and provider call.
func WithTimeout(d time.Duration) Option { return func(s *Service) { s.timeout = d } }

func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(s *Service) { s.metrics = m } }

// NewService builds the service on top of store.
func NewService(store challenge.Store, opts ...Option) *Service {
	s := &Service{
		store:      store,
		notifiers:  make(map[challenge.Channel]notification.Notifier),
		ttl:        120 * time.Second,
		codeLength: 6,
		timeout:    5 * time.Second,
		logger:     logging.Discard(),
		tracer:     otel.Tracer("github.com/amplio/onboard/internal/otp"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RequestCode issues a code for identifier, or reports that a live one exists.
func (s *Service) RequestCode(ctx context.Context, identifier string) (RequestResult, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return RequestResult{}, apperr.Validation("contact is required")
	}
	key := challenge.Key{Channel: Classify(identifier), Identifier: identifier}

	ctx, span := s.tracer.Start(ctx, "otp.RequestCode", trace.WithAttributes(attribute.String("otp.channel", string(key.Channel))))
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.strategyFor(key.Channel).request(ctx, key)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request code")
		s.logger.Error("otp request failed",
			slog.String("channel", string(key.Channel)),
			slog.String("contact", logging.MaskContact(identifier)),
			slog.Any("error", err),
		)
		return RequestResult{}, apperr.Transport("could not send verification code", err)
	}
	res.Channel = key.Channel
	if !s.development {
		res.DevCode = ""
	}
	span.SetAttributes(attribute.Bool("otp.reused", res.Reused))
	s.metrics.ObserveOTPRequest(string(key.Channel), res.Reused)
	s.logger.Info("otp requested",
		slog.String("channel", string(key.Channel)),
		slog.String("contact", logging.MaskContact(identifier)),
		slog.Bool("reused", res.Reused),
	)
	return res, nil
}

// VerifyCode checks a submitted code. Business outcomes are returned as a
// Result; only store or provider failures produce an error.
func (s *Service) VerifyCode(ctx context.Context, identifier, code string) (Result, error) {
	identifier = strings.TrimSpace(identifier)
	code = strings.TrimSpace(code)
	if identifier == "" || code == "" {
		return "", apperr.Validation("contact and code are required")
	}
	key := challenge.Key{Channel: Classify(identifier), Identifier: identifier}

	ctx, span := s.tracer.Start(ctx, "otp.VerifyCode", trace.WithAttributes(attribute.String("otp.channel", string(key.Channel))))
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	result, err := s.strategyFor(key.Channel).verify(ctx, key, code)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "verify code")
		s.logger.Error("otp verification failed",
			slog.String("channel", string(key.Channel)),
			slog.String("contact", logging.MaskContact(identifier)),
			slog.Any("error", err),
		)
		return "", apperr.Transport(errVerification.Error(), err)
	}
	span.SetAttributes(attribute.String("otp.result", string(result)))
	s.metrics.ObserveOTPVerification(string(key.Channel), string(result))
	return result, nil
}

func (s *Service) strategyFor(channel challenge.Channel) strategy {
	if channel == challenge.ChannelPhone && !s.development && s.provider != nil {
		return &providerStrategy{store: s.store, provider: s.provider, prefix: s.prefix, ttl: s.ttl}
	}
	return &localStrategy{
		store:      s.store,
		notifier:   s.notifiers[channel],
		ttl:        s.ttl,
		codeLength: s.codeLength,
		logger:     s.logger,
	}
}
