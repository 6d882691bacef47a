// Package redis caches computed leaderboards. The store stays authoritative;
// entries expire after a TTL and are dropped whenever ownership changes.
// Every invalidation bumps a generation counter, and a write computed under an
// older generation is discarded so it cannot resurrect stale standings.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spotclaim/internal/config"
	"github.com/spotclaim/internal/domain"
)

const (
	userStandingsKey = "leaderboard:users"
	teamStandingsKey = "leaderboard:teams"
	generationKey    = "leaderboard:generation"
)

var errStaleGeneration = errors.New("leaderboard generation moved on")

// LeaderboardCache stores standings as JSON under fixed keys
type LeaderboardCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewLeaderboardCache connects to Redis and returns a cache
func NewLeaderboardCache(cfg *config.RedisConfig, logger *slog.Logger) (*LeaderboardCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return NewLeaderboardCacheFromClient(client, cfg.CacheTTL, logger), nil
}

// NewLeaderboardCacheFromClient wraps an existing client
func NewLeaderboardCacheFromClient(client *redis.Client, ttl time.Duration, logger *slog.Logger) *LeaderboardCache {
	return &LeaderboardCache{
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

// Close closes the Redis connection
func (c *LeaderboardCache) Close() error {
	return c.client.Close()
}

// Ping checks the connection
func (c *LeaderboardCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Generation returns the current invalidation generation
func (c *LeaderboardCache) Generation(ctx context.Context) (int64, error) {
	generation, err := generationOf(ctx, c.client)
	if err != nil {
		return 0, fmt.Errorf("getting %s: %w", generationKey, err)
	}
	return generation, nil
}

// GetUserStandings returns the cached user leaderboard, if present
func (c *LeaderboardCache) GetUserStandings(ctx context.Context) ([]domain.UserStanding, bool, error) {
	var standings []domain.UserStanding
	ok, err := c.get(ctx, userStandingsKey, &standings)
	return standings, ok, err
}

// SetUserStandings caches the full user leaderboard computed under generation
func (c *LeaderboardCache) SetUserStandings(ctx context.Context, generation int64, standings []domain.UserStanding) error {
	return c.set(ctx, userStandingsKey, generation, standings)
}

// GetTeamStandings returns the cached team leaderboard, if present
func (c *LeaderboardCache) GetTeamStandings(ctx context.Context) ([]domain.TeamStanding, bool, error) {
	var standings []domain.TeamStanding
	ok, err := c.get(ctx, teamStandingsKey, &standings)
	return standings, ok, err
}

// SetTeamStandings caches the full team leaderboard computed under generation
func (c *LeaderboardCache) SetTeamStandings(ctx context.Context, generation int64, standings []domain.TeamStanding) error {
	return c.set(ctx, teamStandingsKey, generation, standings)
}

// Invalidate drops both leaderboards and starts a new generation
func (c *LeaderboardCache) Invalidate(ctx context.Context) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, generationKey)
		pipe.Del(ctx, userStandingsKey, teamStandingsKey)
		return nil
	})
	if err != nil {
		return fmt.Errorf("invalidating leaderboards: %w", err)
	}
	c.logger.Debug("leaderboard cache invalidated")
	return nil
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func generationOf(ctx context.Context, cmd getter) (int64, error) {
	generation, err := cmd.Get(ctx, generationKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return generation, err
}

func (c *LeaderboardCache) get(ctx context.Context, key string, dst any) (bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("getting %s: %w", key, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		// A corrupt entry is treated as a miss and overwritten on the next set
		c.logger.Warn("discarding unreadable cache entry", "key", key, "error", err)
		return false, nil
	}
	return true, nil
}

// set writes value under key unless the generation has changed since the
// caller read it. The check and the write run in one WATCH transaction.
func (c *LeaderboardCache) set(ctx context.Context, key string, generation int64, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}

	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := generationOf(ctx, tx)
		if err != nil {
			return err
		}
		if current != generation {
			return errStaleGeneration
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, c.ttl)
			return nil
		})
		return err
	}, generationKey)

	if errors.Is(err, errStaleGeneration) || errors.Is(err, redis.TxFailedErr) {
		c.logger.Debug("discarding stale leaderboard write", "key", key, "generation", generation)
		return nil
	}
	if err != nil {
		return fmt.Errorf("setting %s: %w", key, err)
	}
	return nil
}
