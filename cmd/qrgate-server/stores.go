package main

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/campusops/qrgate/internal/config"
	dbpkg "github.com/campusops/qrgate/internal/db"
	"github.com/campusops/qrgate/internal/qrgate/service"
	"github.com/campusops/qrgate/internal/qrgate/store"
	"github.com/campusops/qrgate/internal/qrgate/store/memory"
	redisstore "github.com/campusops/qrgate/internal/qrgate/store/redis"
	"github.com/campusops/qrgate/internal/qrgate/store/sqlite"
)

// stores is the persistence selected by config.
type stores struct {
	points  store.ActionPointStore
	devices store.DeviceStore
	scanLog store.ScanLogStore
	dedup   store.DedupGuard
	limiter store.RateLimiter
	// claims is nil when the dedup backend expires claims on its own.
	claims service.ClaimPurger

	// db is set for the sqlite backend.
	db *sql.DB

	closers []func() error
}

func (s *stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		_ = s.closers[i]()
	}
}

func openStores(ctx context.Context, cfg config.Config, logger *zap.Logger) (*stores, error) {
	s := &stores{}

	switch cfg.StoreBackend {
	case "memory":
		s.points = memory.NewActionPointStore()
		s.devices = memory.NewDeviceStore()
		s.scanLog = memory.NewScanLogStore()
		logger.Warn("using in-memory stores; state is lost on restart")
	default:
		db, err := dbpkg.Open(ctx, dbpkg.Config{Path: cfg.DBPath, Env: cfg.Env})
		if err != nil {
			return nil, fmt.Errorf("open db: %w", err)
		}
		writer := dbpkg.NewWorker(db)
		s.db = db
		s.closers = append(s.closers, db.Close, func() error { writer.Close(); return nil })

		s.points = sqlite.NewActionPointStore(db, writer)
		s.devices = sqlite.NewDeviceStore(db, writer)
		s.scanLog = sqlite.NewScanLogStore(db, writer)

		if cfg.DedupBackend == "sqlite" {
			guard := sqlite.NewDedupGuard(writer)
			s.dedup, s.claims = guard, guard
		}
		logger.Info("sqlite store opened", zap.String("path", cfg.DBPath))
	}

	switch cfg.DedupBackend {
	case "redis":
		client, err := redisstore.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.closers = append(s.closers, client.Close)
		s.dedup = redisstore.NewDedupGuard(client)
		s.limiter = redisstore.NewRateLimiter(client)
		logger.Info("redis dedup backend connected")
	case "memory":
		s.dedup = memory.NewDedupGuard()
	}

	if s.limiter == nil {
		s.limiter = memory.NewRateLimiter()
	}
	return s, nil
}
