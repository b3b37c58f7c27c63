package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ehr/apptsched/internal/config"
	"github.com/ehr/apptsched/internal/domain/booking"
	"github.com/ehr/apptsched/internal/platform/db"
)

// stores bundles the backends chosen by configuration.
type stores struct {
	hours   booking.HoursRepository
	ledger  booking.Ledger
	serials booking.SerialStore

	pool  *pgxpool.Pool
	redis *redis.Client
}

// openStores connects to PostgreSQL when DATABASE_URL is set and to Redis
// when the queue backend asks for it. Without a database everything lives in
// process memory.
func openStores(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*stores, error) {
	s := &stores{}

	if cfg.UsesMemoryStore() {
		ledger := booking.NewMemoryLedger()
		s.hours = booking.NewMemoryHours()
		s.ledger = ledger
		s.serials = ledger
		logger.Warn().Msg("DATABASE_URL not set, bookings are kept in memory")
	} else {
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, err
		}
		s.pool = pool
		ledger := booking.NewLedgerPG(pool)
		s.hours = booking.NewHoursPG(pool)
		s.ledger = ledger
		s.serials = ledger
		logger.Info().Msg("connected to database")
	}

	if cfg.QueueBackend == config.QueueRedis {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			s.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		s.redis = client
		loc, err := cfg.Location()
		if err != nil {
			s.Close()
			return nil, err
		}
		s.serials = booking.NewRedisSerials(client, loc)
		logger.Info().Msg("queue serials issued from redis")
	}
	return s, nil
}

// pingers lists the external dependencies for the health endpoint.
func (s *stores) pingers() map[string]db.Pinger {
	deps := map[string]db.Pinger{}
	if s.pool != nil {
		deps["postgres"] = s.pool
	}
	if s.redis != nil {
		client := s.redis
		deps["redis"] = db.PingFunc(func(ctx context.Context) error { return client.Ping(ctx).Err() })
	}
	return deps
}

func (s *stores) Close() {
	if s.redis != nil {
		_ = s.redis.Close()
	}
	if s.pool != nil {
		s.pool.Close()
	}
}
