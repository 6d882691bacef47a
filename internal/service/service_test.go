package service

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spotclaim/internal/config"
	"github.com/spotclaim/internal/domain"
	"github.com/spotclaim/internal/sqlite"
)

var baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func testOptions() Options {
	return Options{
		Leaderboard:       config.LeaderboardConfig{DefaultLimit: 50, MaxLimit: 500},
		Invite:            config.InviteConfig{CodeLength: 6, MaxAttempts: 10},
		RecalcConcurrency: 4,
	}
}

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st, err := sqlite.Open(filepath.Join(t.TempDir(), "spotclaim.db"), 30*time.Second, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.RunMigrations(context.Background()))
	return st
}

func newTestService(t *testing.T) (*Service, *sqlite.Store) {
	t.Helper()
	st := newTestStore(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(st, testOptions(), logger), st
}

func seedTerritory(t *testing.T, svc *Service, id string) {
	t.Helper()
	_, err := svc.CreateTerritory(context.Background(), domain.Territory{ID: id, Name: "spot " + id, CreatedAt: baseTime})
	require.NoError(t, err)
}

// seedClip creates a clip offset minutes after baseTime
func seedClip(t *testing.T, svc *Service, id, territoryID, ownerID string, offset int) {
	t.Helper()
	_, err := svc.CreateClip(context.Background(), domain.Clip{
		ID:          id,
		TerritoryID: territoryID,
		OwnerID:     ownerID,
		CreatedAt:   baseTime.Add(time.Duration(offset) * time.Minute),
	})
	require.NoError(t, err)
}

func seedProfile(t *testing.T, svc *Service, profile domain.Profile) {
	t.Helper()
	_, err := svc.UpsertProfile(context.Background(), profile)
	require.NoError(t, err)
}

func ownerOf(t *testing.T, svc *Service, territoryID string) *string {
	t.Helper()
	detail, err := svc.GetTerritory(context.Background(), territoryID)
	require.NoError(t, err)
	return detail.OwnerID
}

func voteCount(t *testing.T, svc *Service, clipID string) int64 {
	t.Helper()
	clip, err := svc.GetClip(context.Background(), clipID)
	require.NoError(t, err)
	return clip.VoteCount
}

func strPtr(s string) *string {
	return &s
}

type fakeCache struct {
	users       []domain.UserStanding
	teams       []domain.TeamStanding
	hasUsers    bool
	hasTeams    bool
	generation  int64
	invalidated int
	// afterGeneration runs once, right after the next Generation read
	afterGeneration func()
}

func (c *fakeCache) Generation(context.Context) (int64, error) {
	generation := c.generation
	if hook := c.afterGeneration; hook != nil {
		c.afterGeneration = nil
		hook()
	}
	return generation, nil
}

func (c *fakeCache) GetUserStandings(context.Context) ([]domain.UserStanding, bool, error) {
	return c.users, c.hasUsers, nil
}

func (c *fakeCache) SetUserStandings(_ context.Context, generation int64, standings []domain.UserStanding) error {
	if generation != c.generation {
		return nil
	}
	c.users, c.hasUsers = standings, true
	return nil
}

func (c *fakeCache) GetTeamStandings(context.Context) ([]domain.TeamStanding, bool, error) {
	return c.teams, c.hasTeams, nil
}

func (c *fakeCache) SetTeamStandings(_ context.Context, generation int64, standings []domain.TeamStanding) error {
	if generation != c.generation {
		return nil
	}
	c.teams, c.hasTeams = standings, true
	return nil
}

func (c *fakeCache) Invalidate(context.Context) error {
	c.users, c.teams = nil, nil
	c.hasUsers, c.hasTeams = false, false
	c.generation++
	c.invalidated++
	return nil
}
