// Package service implements the spot ownership engine: the cast-vote
// protocol, the vote-count projection, the ownership resolver, the
// leaderboard aggregator and the team registry.
package service

import (
	"context"
	"crypto/rand"
	"log/slog"
	"math/big"
	"time"

	"github.com/spotclaim/internal/config"
	"github.com/spotclaim/internal/domain"
	"github.com/spotclaim/internal/store"
)

// inviteAlphabet gives 36^6 codes at the default length
const inviteAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// LeaderboardCache holds computed standings between reads. It is never
// authoritative; a miss or an error falls back to the store. Invalidate
// starts a new generation, and Set drops standings computed under an older
// one.
type LeaderboardCache interface {
	Generation(ctx context.Context) (int64, error)
	GetUserStandings(ctx context.Context) ([]domain.UserStanding, bool, error)
	SetUserStandings(ctx context.Context, generation int64, standings []domain.UserStanding) error
	GetTeamStandings(ctx context.Context) ([]domain.TeamStanding, bool, error)
	SetTeamStandings(ctx context.Context, generation int64, standings []domain.TeamStanding) error
	Invalidate(ctx context.Context) error
}

// Options configures the service
type Options struct {
	Leaderboard       config.LeaderboardConfig
	Invite            config.InviteConfig
	RecalcConcurrency int
}

// Service provides the engine's operations
type Service struct {
	store   store.Store
	cache   LeaderboardCache
	options Options
	logger  *slog.Logger

	now     func() time.Time
	newCode func(length int) (string, error)
}

// NewService creates a new engine service
func NewService(st store.Store, opts Options, logger *slog.Logger) *Service {
	if opts.RecalcConcurrency <= 0 {
		opts.RecalcConcurrency = 1
	}
	return &Service{
		store:   st,
		options: opts,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
		newCode: randomCode,
	}
}

// SetCache installs a leaderboard cache
func (s *Service) SetCache(cache LeaderboardCache) {
	s.cache = cache
}

// Ping reports whether the backing store is reachable
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// invalidateLeaderboards drops cached standings after a committed change
func (s *Service) invalidateLeaderboards(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx); err != nil {
		s.logger.Warn("failed to invalidate leaderboard cache", "error", err)
	}
}

func randomCode(length int) (string, error) {
	alphabetSize := big.NewInt(int64(len(inviteAlphabet)))
	code := make([]byte, length)
	for i := range code {
		n, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			return "", err
		}
		code[i] = inviteAlphabet[n.Int64()]
	}
	return string(code), nil
}

func sameOwner(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
