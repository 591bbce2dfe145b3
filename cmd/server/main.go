package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"session-control-plane/internal/anomaly"
	"session-control-plane/internal/audit"
	audithandler "session-control-plane/internal/audit/handler"
	auditrepo "session-control-plane/internal/audit/repository"
	auditstream "session-control-plane/internal/audit/stream"
	"session-control-plane/internal/config"
	"session-control-plane/internal/credential"
	"session-control-plane/internal/db"
	healthhandler "session-control-plane/internal/health/handler"
	identityhandler "session-control-plane/internal/identity/handler"
	identityservice "session-control-plane/internal/identity/service"
	"session-control-plane/internal/kv"
	"session-control-plane/internal/security"
	"session-control-plane/internal/server"
	sessionhandler "session-control-plane/internal/session/handler"
	sessionrepo "session-control-plane/internal/session/repository"
	sessionservice "session-control-plane/internal/session/service"
	"session-control-plane/internal/telemetry"
	otelsetup "session-control-plane/internal/telemetry/otel"
	userrepo "session-control-plane/internal/user/repository"
)

const serviceName = "session-control-plane"

func main() {
	log := logrus.New()

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("config")
	}
	if cfg.Env == "production" {
		log.SetFormatter(&logrus.JSONFormatter{})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, err := otelsetup.NewProviders(ctx, cfg.OTLPEndpoint, serviceName, cfg.OTLPInsecure)
	if err != nil {
		log.WithError(err).Fatal("telemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("telemetry shutdown")
		}
	}()

	metrics, err := telemetry.NewAuthMetrics(providers.MeterProvider.Meter(serviceName))
	if err != nil {
		log.WithError(err).Fatal("metrics")
	}

	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL must be set")
	}
	sqlDB, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Fatal("database")
	}
	defer sqlDB.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer redisClient.Close()
	store := kv.NewRedisStore(redisClient)
	if err := store.Ping(ctx); err != nil {
		log.WithError(err).Fatal("redis")
	}

	tokens, err := security.NewTokenProvider(
		signerConfig(cfg.AccessSecret, cfg.AccessPrivateKey, cfg.AccessPublicKey, log),
		signerConfig(cfg.RefreshSecret, cfg.RefreshPrivateKey, cfg.RefreshPublicKey, log),
		cfg.JWTIssuer,
		cfg.JWTAudience,
		cfg.AccessTTL(),
		cfg.RefreshTTL(),
	)
	if err != nil {
		log.WithError(err).Fatal("token provider")
	}

	sessions := sessionrepo.NewKVRepository(store, cfg.SessionTTL(), cfg.UsedTokenHistoryMax)
	rotator := sessionservice.NewRotationEngine(tokens, sessions)
	detector := anomaly.NewDetector(sessions, store, cfg.AnomalyRefreshRateThreshold, cfg.SessionTTL())
	verifier := credential.NewVerifier(
		security.NewHasher(cfg.BcryptCost),
		store,
		cfg.LockoutThreshold,
		cfg.LockoutDuration(),
		cfg.LoginAttemptWindow(),
	)
	publisher := auditstream.NewPublisher(cfg.KafkaBrokersList(), cfg.AuditKafkaTopic, log)
	defer publisher.Close()

	auditLogs := auditrepo.NewPostgresRepository(sqlDB)
	auditor := audit.Multi(
		audit.NewLogger(auditLogs, nil, log),
		publisher,
	)
	users := userrepo.NewPostgresRepository(sqlDB)

	authService := identityservice.NewAuthService(
		users, sessions, rotator, verifier, detector,
		tokens, auditor, metrics, log, cfg.RevokeOnReuse,
	)

	srv := server.New(server.Options{
		Addr:           cfg.HTTPAddr,
		Tokens:         tokens,
		Auth:           identityhandler.NewAuthHandler(authService, log),
		Sessions:       sessionhandler.NewSessionHandler(authService, log),
		Audit:          audithandler.NewHandler(auditLogs, log),
		Health:         healthhandler.NewHandler(sqlDB, store),
		Users:          users,
		LoginRateLimit: cfg.LoginRateLimit,
		LoginRateBurst: cfg.LoginRateBurst,
		Log:            log,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			log.WithError(err).Fatal("serve")
		}
		return
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("shutdown")
	}
}

// signerConfig picks HMAC when a secret is set, otherwise loads the PEM key pair.
func signerConfig(secret, privPEM, pubPEM string, log *logrus.Logger) security.SignerConfig {
	if secret != "" {
		log.WithField("alg", "HS256").Debug("token signer configured")
		return security.SignerConfig{Secret: secret}
	}
	priv, err := security.ParsePrivateKey(privPEM)
	if err != nil {
		log.WithError(err).Fatal("private key")
	}
	pub, err := security.ParsePublicKey(pubPEM)
	if err != nil {
		log.WithError(err).Fatal("public key")
	}
	alg := security.KeyAlg(pub)
	if alg == "" {
		log.Fatal("unsupported public key type")
	}
	log.WithField("alg", alg).Debug("token signer configured")
	return security.SignerConfig{PrivateKey: priv, PublicKey: pub}
}
