package routes

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/amplio/onboard/internal/auth"
	"github.com/amplio/onboard/internal/challenge"
	"github.com/amplio/onboard/internal/config"
	"github.com/amplio/onboard/internal/identity"
	"github.com/amplio/onboard/internal/metrics"
	"github.com/amplio/onboard/internal/middleware"
	"github.com/amplio/onboard/internal/notification"
	"github.com/amplio/onboard/internal/otp"
	"github.com/amplio/onboard/internal/session"
)

// APIPrefix is where every JSON endpoint is mounted.
const APIPrefix = "/api/v1"

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Kafka  *kgo.Client
	Logger *slog.Logger

	// Registry receives the service collectors and backs /metrics. A fresh
	// registry is used when nil.
	Registry *prometheus.Registry
	// Identities overrides the identity repository chosen from DB.
	Identities identity.Repository
	// Provider overrides the verification provider built from Cfg.Verify.
	Provider otp.Provider
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	if d.Cache == nil {
		return fmt.Errorf("redis is required")
	}
	if !d.Cfg.IsDevelopment() && d.DB == nil && d.Identities == nil {
		return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
	}
	if !d.Cfg.IsDevelopment() && d.Cfg.SMTP.Addr == "" {
		return fmt.Errorf("smtp relay is required when APP_ENV=%s", d.Cfg.AppEnv)
	}
	if d.Registry == nil {
		d.Registry = prometheus.NewRegistry()
	}
	m := metrics.New(d.Registry)

	issuer, err := session.NewIssuer(d.Cfg.Session.Secret, d.Cfg.Session.Issuer, d.Cfg.Session.TTL)
	if err != nil {
		return err
	}

	identityRepo, err := identityRepository(d)
	if err != nil {
		return err
	}
	identitySvc := identity.NewService(identityRepo,
		identity.WithPublisher(eventPublisher(d)),
		identity.WithMetrics(m),
		identity.WithLogger(d.Logger),
		identity.WithPolicy(identity.Policy{MaxKYCSubmissions: d.Cfg.Onboarding.MaxKYCSubmissions}),
		identity.WithTimeout(d.Cfg.PersistenceTimeout),
	)
	otpSvc := otp.NewService(challenge.NewRedisStore(d.Cache), otpOptions(d, m)...)

	// Middlewares
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	if d.Cfg.IsDevelopment() {
		app.Use(logger.New(logger.Config{
			Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
			TimeFormat: "15:04:05",
			TimeZone:   "Local",
		}))
	}
	app.Use(corsMiddleware(d.Cfg.CORSOrigins))
	app.Use(middleware.Metrics(m))
	app.Use(middleware.Audit(d.Logger))

	RegisterHealthRoutes(app, d, d.Registry)

	api := app.Group(APIPrefix)
	api.Get("/ping", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": middleware.RequestIDFrom(c),
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	// Public routes
	authHandler := auth.NewHandler(otpSvc, identitySvc, issuer, auth.CookieConfig{
		Name:   d.Cfg.Session.CookieName,
		Secure: d.Cfg.Session.CookieSecure,
	}, d.Logger)
	RegisterAuthRoutes(api, authHandler, middleware.ChallengeRateLimit(d.Cache, d.Cfg.Challenge.RateLimitPerMin, d.Logger))

	// Protected routes
	protected := api.Group("",
		middleware.SessionAuth(issuer, identitySvc, d.Cfg.Session.CookieName),
		middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger),
	)
	RegisterOnboardingRoutes(protected, identity.NewHandler(identitySvc), m)

	return nil
}

func identityRepository(d Deps) (identity.Repository, error) {
	if d.Identities != nil {
		return d.Identities, nil
	}
	if d.DB == nil {
		d.Logger.Warn("no database configured, identities are kept in memory")
		return identity.NewMemoryRepository(), nil
	}
	repo := identity.NewPostgresRepository(d.DB)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := repo.Migrate(ctx); err != nil {
		return nil, err
	}
	return repo, nil
}

func eventPublisher(d Deps) notification.Publisher {
	if d.Kafka != nil {
		return notification.NewKafkaPublisher(d.Kafka, d.Cfg.Kafka.Topic)
	}
	return notification.NewLogPublisher(d.Logger)
}

func otpOptions(d Deps, m *metrics.Metrics) []otp.Option {
	var emailNotifier notification.Notifier = notification.NewLoggerNotifier(d.Logger)
	if d.Cfg.SMTP.Addr != "" {
		emailNotifier = notification.NewSMTPNotifier(d.Cfg.SMTP.Addr, d.Cfg.SMTP.Username, d.Cfg.SMTP.Password, d.Cfg.SMTP.From)
	}
	opts := []otp.Option{
		otp.WithDevelopment(d.Cfg.IsDevelopment()),
		otp.WithTTL(d.Cfg.Challenge.TTL),
		otp.WithCodeLength(d.Cfg.Challenge.CodeLength),
		otp.WithTimeout(d.Cfg.Verify.Timeout),
		otp.WithNotifier(challenge.ChannelEmail, emailNotifier),
		otp.WithNotifier(challenge.ChannelPhone, notification.NewLoggerNotifier(d.Logger)),
		otp.WithLogger(d.Logger),
		otp.WithMetrics(m),
	}
	provider := d.Provider
	if provider == nil && d.Cfg.Verify.Enabled() {
		provider = otp.NewHTTPProvider(d.Cfg.Verify.BaseURL, d.Cfg.Verify.AccountSID, d.Cfg.Verify.AuthToken, d.Cfg.Verify.ServiceSID, d.Cfg.Verify.Timeout)
	}
	if provider != nil {
		opts = append(opts, otp.WithProvider(provider, d.Cfg.Verify.CountryPrefix))
	}
	return opts
}

func corsMiddleware(origins []string) fiber.Handler {
	cfg := cors.Config{
		AllowOrigins: strings.Join(origins, ","),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, Idempotency-Key, X-Request-ID",
		AllowMethods: "GET,POST,PATCH,OPTIONS",
	}
	if len(origins) > 0 && !slices.Contains(origins, "*") {
		cfg.AllowCredentials = true
	}
	if len(origins) == 0 {
		cfg.AllowOrigins = "*"
	}
	return cors.New(cfg)
}
