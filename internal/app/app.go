package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/avelkova/mira/internal/entitlements"
	"github.com/avelkova/mira/internal/eventlog"
	"github.com/avelkova/mira/internal/guestbuf"
	"github.com/avelkova/mira/internal/httpapi"
	"github.com/avelkova/mira/internal/jobs"
	"github.com/avelkova/mira/internal/notifications"
	"github.com/avelkova/mira/internal/store"
)

type App struct {
	cfg      Config
	logger   *log.Logger
	db       *pgxpool.Pool
	redis    *redis.Client // nil when running on the in-memory drivers
	store    *store.Store
	eventLog *eventlog.Logger
	ledger   entitlements.Ledger
	guestBuf guestbuf.Store
	notifier *notifications.Discord
	digest   *jobs.UsageDigestJob
}

func New(cfg Config, logger *log.Logger) (*App, error) {
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, err
	}

	a := &App{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		store:    store.New(db),
		eventLog: eventlog.New(db),
	}

	// The usage ledger and the guest adoption buffer share one Redis when
	// configured; without it the in-memory drivers serve single-instance
	// deployments.
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			db.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		a.redis = client
		a.ledger = entitlements.NewRedisLedger(client, a.limitsFor)
		a.guestBuf = guestbuf.NewRedisStore(client, cfg.GuestBufferTTL)
		logger.Printf("app: usage ledger and guest buffer on redis")
	} else {
		a.ledger = entitlements.NewMemoryLedger(a.limitsFor)
		a.guestBuf = guestbuf.NewMemoryStore(cfg.GuestBufferTTL, 0)
		logger.Printf("app: usage ledger and guest buffer in memory (single instance)")
	}

	a.notifier = notifications.NewDiscord(cfg.DiscordWebhookURL, logger)
	if a.notifier.Enabled() {
		a.digest = jobs.NewUsageDigestJob(a.store, a.notifier, logger, cfg.DigestInterval)
		a.digest.Start()
	}

	// Migrations are applied externally by the CI deploy job.
	// No automatic migration runner at startup.

	return a, nil
}

// limitsFor resolves metering caps. Guests get a small daily budget that
// doubles as their chat cap; signed-in users are capped by plan, with pro
// uncapped.
func (a *App) limitsFor(ctx context.Context, id entitlements.Identity) (entitlements.Limits, error) {
	if id.IsGuest() {
		return entitlements.Limits{
			Plan:         entitlements.PlanFree,
			DailySeconds: a.cfg.GuestDailySeconds,
			ChatSeconds:  a.cfg.GuestDailySeconds,
		}, nil
	}

	plan, err := a.store.GetUserPlan(ctx, id.ID)
	if err != nil {
		return entitlements.Limits{}, err
	}
	if plan == entitlements.PlanPro {
		return entitlements.Limits{Plan: entitlements.PlanPro}, nil
	}
	return entitlements.Limits{
		Plan:         plan,
		DailySeconds: a.cfg.FreeDailySeconds,
		ChatSeconds:  a.cfg.FreeChatSeconds,
	}, nil
}

func (a *App) Router(registry *httpapi.SessionRegistry) http.Handler {
	routerCfg := httpapi.RouterConfig{
		STTProvider:       a.cfg.STTProvider,
		TTSProvider:       a.cfg.TTSProvider,
		STTAPIKey:         a.cfg.STTAPIKey(),
		TTSAPIKey:         a.cfg.TTSAPIKey(),
		OpenAIAPIKey:      a.cfg.OpenAIAPIKey,
		OpenAIModel:       a.cfg.OpenAIModel,
		STTLanguage:       a.cfg.STTLanguage,
		STTModel:          a.cfg.STTModel,
		STTSampleRate:     a.cfg.STTSampleRate,
		STTEncoding:       a.cfg.STTEncoding,
		STTEndpointingMs:  a.cfg.STTEndpointingMs,
		TTSVoiceID:        a.cfg.TTSVoiceID,
		TTSModelID:        a.cfg.TTSModelID,
		HeartbeatInterval: a.cfg.HeartbeatInterval,
		TickSeconds:       a.cfg.TickSeconds,
		JWTSecret:         a.cfg.JWTSecret,
		JWTExpiry:         a.cfg.JWTExpiry,
	}
	return httpapi.NewRouter(routerCfg, a.logger, a.store, a.eventLog, a.ledger, a.guestBuf, a.notifier, registry)
}

func (a *App) Close() error {
	if a.digest != nil {
		a.digest.Stop()
	}
	if a.guestBuf != nil {
		_ = a.guestBuf.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
	return nil
}
