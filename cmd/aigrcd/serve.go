package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/aigrc/pipeline/pkg/api"
	"github.com/aigrc/pipeline/pkg/archive"
	"github.com/aigrc/pipeline/pkg/auth"
	"github.com/aigrc/pipeline/pkg/config"
	"github.com/aigrc/pipeline/pkg/crypto"
	"github.com/aigrc/pipeline/pkg/events"
	"github.com/aigrc/pipeline/pkg/observability"
	"github.com/aigrc/pipeline/pkg/policy"
	"github.com/aigrc/pipeline/pkg/ratelimit"
	"github.com/aigrc/pipeline/pkg/store"
)

const shutdownTimeout = 10 * time.Second

// runServe boots the ingestion server from environment configuration
// and blocks until SIGINT or SIGTERM.
func runServe(stdout, stderr io.Writer) int {
	_, _ = fmt.Fprintf(stdout, "%sAIGRC Event Pipeline starting...%s\n", ColorBold+ColorBlue, ColorReset)
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "aigrcd: %v\n", err)
		return 1
	}

	logger, err := newLogger(cfg.LogLevel, stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "aigrcd: %v\n", err)
		return 1
	}
	slog.SetDefault(logger)

	ocfg := observability.DefaultConfig()
	ocfg.ServiceName = api.ServiceName
	ocfg.ServiceVersion = version
	ocfg.Environment = cfg.Environment
	ocfg.Endpoint = cfg.OTelEndpoint
	ocfg.SampleRate = cfg.OTelSampleRate
	ocfg.Enabled = cfg.OTelEnabled
	ocfg.Insecure = cfg.OTelInsecure
	obs, err := observability.New(ctx, ocfg)
	if err != nil {
		logger.Error("observability init failed", "error", err)
		return 1
	}

	st, err := openEventStore(cfg, logger)
	if err != nil {
		logger.Error("event store init failed", "error", err)
		return 1
	}
	logger.Info("event store ready")

	authn, err := buildAuthenticator(cfg, logger)
	if err != nil {
		logger.Error("authentication init failed", "error", err)
		return 1
	}

	limiter := buildLimiter(cfg, logger)

	validator, err := buildValidator(cfg)
	if err != nil {
		logger.Error("validator init failed", "error", err)
		return 1
	}

	var engine *policy.Engine
	if cfg.RulesFile != "" {
		set, err := policy.LoadFile(cfg.RulesFile)
		if err != nil {
			logger.Error("ingest rules init failed", "error", err)
			return 1
		}
		engine, err = policy.NewEngine(set, policy.EngineConfig{
			Logger: logger.With("component", "rules"),
			OnFinding: func(f policy.Finding) {
				obs.RuleMatched(context.Background(), f.RuleID, string(f.Action))
			},
		})
		if err != nil {
			logger.Error("ingest rules init failed", "error", err)
			return 1
		}
		logger.Info("ingest rules ready", "rules", engine.RuleCount())
	}

	var sink *archive.Sink
	if cfg.ArchiveEnabled() {
		astore, err := archive.NewStore(ctx, archive.StoreConfig{
			Backend:  archive.Backend(cfg.ArchiveBackend),
			Dir:      cfg.ArchiveDir,
			Bucket:   cfg.ArchiveBucket,
			Region:   cfg.ArchiveRegion,
			Endpoint: cfg.ArchiveEndpoint,
			Prefix:   cfg.ArchivePrefix,
		})
		if err != nil {
			logger.Error("archive init failed", "error", err)
			return 1
		}
		sink = archive.NewSink(astore, archive.SinkConfig{
			SegmentEvents: cfg.ArchiveSegmentEvents,
			FlushInterval: cfg.ArchiveFlushInterval,
			Logger:        logger.With("component", "archive"),
			OnExport: func(hash string, n int) {
				obs.EventsArchived(context.Background(), n)
			},
		})
		logger.Info("archive sink ready", "backend", cfg.ArchiveBackend)
	}

	var onAccepted func(context.Context, *events.Event)
	if engine != nil || sink != nil {
		onAccepted = func(ctx context.Context, e *events.Event) {
			if engine != nil {
				engine.Evaluate(ctx, e)
			}
			if sink != nil {
				sink.Record(ctx, e)
			}
		}
	}

	srv, err := api.NewServer(api.Config{
		Store:      st,
		Validator:  validator,
		Auth:       authn,
		Limiter:    limiter,
		Logger:     logger,
		Metrics:    obs,
		MaxBatch:   cfg.MaxBatch,
		OnAccepted: onAccepted,
	})
	if err != nil {
		logger.Error("server init failed", "error", err)
		return 1
	}

	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           obs.Middleware(srv.Handler()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", httpSrv.Addr, "service", api.ServiceName, "version", version)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	exit := 0
	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		logger.Error("server failed", "error", err)
		exit = 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	if sink != nil {
		sink.Close()
	}
	if c, ok := limiter.(io.Closer); ok {
		_ = c.Close()
	}
	if err := st.Close(); err != nil {
		logger.Error("store close", "error", err)
	}
	if err := obs.Shutdown(shutdownCtx); err != nil {
		logger.Error("observability shutdown", "error", err)
	}
	logger.Info("stopped")
	return exit
}

// newLogger builds the process logger at the configured level. Unknown
// levels fail the boot the same way malformed config values do.
func newLogger(level string, w io.Writer) (*slog.Logger, error) {
	var lv slog.Level
	if err := lv.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("unknown log level %q", level)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lv})), nil
}

// openEventStore selects the persistence backend. Without DATABASE_URL
// the server runs in lite mode on a single-file SQLite database under
// the data directory.
func openEventStore(cfg *config.Config, logger *slog.Logger) (store.EventStore, error) {
	if cfg.LiteMode() {
		if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		path := filepath.Join(cfg.DataDir, "aigrc.db")
		logger.Info("DATABASE_URL not set, falling back to lite mode", "sqlite", path)
		return store.Open(path)
	}
	return store.Open(cfg.DatabaseURL)
}

// buildAuthenticator loads the API key ring and the service token
// validator. With neither configured the server still boots, but only
// the health endpoint answers.
func buildAuthenticator(cfg *config.Config, logger *slog.Logger) (*auth.Authenticator, error) {
	a := &auth.Authenticator{}
	if cfg.KeysFile != "" {
		kf, err := config.LoadKeys(cfg.KeysFile)
		if err != nil {
			return nil, err
		}
		ring := auth.NewKeyRing()
		for _, org := range kf.Orgs {
			for _, key := range org.Keys {
				ring.Add(key, org.OrgID, org.Name)
			}
		}
		a.Keys = ring
		logger.Info("api keys loaded", "orgs", len(kf.Orgs), "keys", ring.Len())
	}
	if cfg.ServiceTokenSecret != "" {
		a.Tokens = auth.NewTokenValidator([]byte(cfg.ServiceTokenSecret))
		logger.Info("service tokens enabled")
	}
	if a.Keys == nil && a.Tokens == nil {
		logger.Warn("no API keys or service token secret configured, every request will be rejected")
	}
	return a, nil
}

// buildLimiter picks Redis when configured, else the in-process
// limiter. An unreachable Redis is logged, not fatal: the server guard
// fails open on limiter errors.
func buildLimiter(cfg *config.Config, logger *slog.Logger) ratelimit.Limiter {
	pol := ratelimit.Policy{PerMinute: cfg.RateLimitPerMinute, Burst: cfg.RateLimitBurst}
	if cfg.RedisAddr == "" {
		return ratelimit.NewLocalLimiter(pol)
	}
	lim := ratelimit.NewRedisLimiter(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, pol)
	pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := lim.Ping(pingCtx); err != nil {
		logger.Warn("redis unreachable at startup", "addr", cfg.RedisAddr, "error", err)
	} else {
		logger.Info("redis rate limiter ready", "addr", cfg.RedisAddr)
	}
	return lim
}

// buildValidator wires envelope signature verification when enabled.
func buildValidator(cfg *config.Config) (*events.Validator, error) {
	v := events.NewValidator()
	if !cfg.SignatureVerification {
		return v, nil
	}
	master, err := hex.DecodeString(cfg.SigningMasterKey)
	if err != nil {
		return nil, fmt.Errorf("SIGNING_MASTER_KEY is not hex: %w", err)
	}
	verifier, err := crypto.NewHMACVerifier(master)
	if err != nil {
		return nil, err
	}
	return v.WithVerifier(verifier), nil
}
