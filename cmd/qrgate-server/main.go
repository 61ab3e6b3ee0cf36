package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/campusops/qrgate/internal/config"
	dbpkg "github.com/campusops/qrgate/internal/db"
	"github.com/campusops/qrgate/internal/httpapi"
	"github.com/campusops/qrgate/internal/logging"
	"github.com/campusops/qrgate/internal/qrgate/catalog"
	"github.com/campusops/qrgate/internal/qrgate/handlers"
	"github.com/campusops/qrgate/internal/qrgate/metrics"
	"github.com/campusops/qrgate/internal/qrgate/service"
	"github.com/campusops/qrgate/internal/qrgate/token"
	"github.com/campusops/qrgate/internal/qrgate/types"
)

func main() {
	cfg := config.FromEnv()

	logger, err := logging.New(cfg.Env, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, "qrgate-server: logger:", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return fmt.Errorf("timezone: %w", err)
	}

	secret := cfg.MasterSecret
	if secret == "" {
		// Only reachable in dev; Validate requires a secret in prod.
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return fmt.Errorf("generate dev secret: %w", err)
		}
		secret = hex.EncodeToString(buf)
		logger.Warn("QRGATE_MASTER_SECRET not set; using an ephemeral secret, issued tokens will not survive a restart")
	}
	keys, err := token.DeriveKeys([]byte(secret))
	if err != nil {
		return fmt.Errorf("derive keys: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	// Stores
	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	// Catalog and policy
	var policies map[string][]string
	actionTypes := []string{
		types.ActionMessEntry,
		types.ActionLibraryCheckout,
		types.ActionAttendanceMark,
		types.ActionHostelCheckin,
	}
	switch {
	case cfg.CatalogPath != "":
		c, err := catalog.Load(cfg.CatalogPath)
		if err != nil {
			return err
		}
		if _, err := catalog.Sync(ctx, c, st.points, time.Now(), logger); err != nil {
			return fmt.Errorf("catalog sync: %w", err)
		}
		policies = c.Policies
		for _, ap := range c.ActionPoints {
			actionTypes = append(actionTypes, ap.ActionType)
		}
	case cfg.Env == "dev" && st.db != nil:
		if err := dbpkg.SeedDev(ctx, st.db, dbpkg.SeedDevOptions{}); err != nil {
			return fmt.Errorf("seed dev: %w", err)
		}
	}

	policy := accessPolicy(cfg.Env, policies, logger)

	// Action handlers
	var sink handlers.Handler = handlers.NewLog(logger)
	if len(cfg.KafkaBrokers) > 0 {
		k := handlers.NewKafka(cfg.KafkaBrokers, cfg.KafkaTopicPrefix, logger)
		defer func() { _ = k.Close() }()
		sink = handlers.Chain(sink, k)
		logger.Info("publishing action events to kafka", zap.Strings("brokers", cfg.KafkaBrokers))
	}
	registry := handlers.NewRegistry()
	for _, at := range actionTypes {
		registry.Register(at, sink)
	}

	// Services
	registrar := service.NewRegistrar(st.devices, token.NewDeviceSigner(keys), st.limiter, service.RegistrarConfig{
		DevAutoVerify:       cfg.DevAutoVerify,
		VerificationTimeout: cfg.VerificationTimeout,
		PollInterval:        cfg.PollInterval,
		DeviceTrustTTL:      cfg.DeviceTrustTTL,
		InboundNumber:       cfg.InboundSMSNumber,
		RateLimit:           cfg.RegistrationLimit,
		RateLimitWindow:     cfg.RegistrationLimitWindow,
	}, m, logger)
	issuer := token.NewIdentityIssuer(keys, cfg.IdentityTokenTTL, cfg.ClockSkew)

	engine := service.NewEngine(service.EngineDeps{
		ActionPoints: st.points,
		Devices:      registrar,
		Identity:     issuer,
		Dedup:        st.dedup,
		Authorizer:   policy,
		Handlers:     registry,
		ScanLog:      st.scanLog,
		Metrics:      m,
		Logger:       logger,
	}, service.EngineConfig{
		DedupWindow:        cfg.DedupWindow,
		GeofenceToleranceM: cfg.GeofenceToleranceM,
		Location:           loc,
	})

	sweeper := service.NewSweeper(st.devices, st.claims, service.SweeperConfig{
		Interval:            cfg.SweepInterval,
		VerificationTimeout: cfg.VerificationTimeout,
		AttemptRetention:    cfg.AttemptRetention,
	}, m, logger)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	// HTTP
	srv := httpapi.NewServer(httpapi.Dependencies{
		Logger:        logger,
		Addr:          cfg.HTTPAddr,
		Registrar:     registrar,
		Identity:      service.NewIdentityService(registrar, issuer, nil),
		Engine:        engine,
		ScanLogs:      service.NewScanLogService(st.scanLog, service.AnomalyConfig{SpikeFactor: cfg.AnomalySpikeFactor, MinCount: cfg.AnomalyMinCount}),
		ActionPoints:  service.NewActionPointService(st.points, logger),
		Metrics:       m,
		Gatherer:      reg,
		CORSOrigins:   cfg.CORSOrigins,
		WebhookSecret: cfg.SMSWebhookSecret,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening",
			zap.String("addr", cfg.HTTPAddr),
			zap.String("env", cfg.Env),
			zap.String("store", cfg.StoreBackend),
			zap.String("dedup", cfg.DedupBackend),
			zap.Bool("dev_auto_verify", cfg.DevAutoVerify))
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
