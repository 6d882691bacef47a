package redis

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/spotclaim/internal/domain"
)

// newTestClient connects to TEST_REDIS_ADDR or starts a Redis container,
// skipping the test when neither is available.
func newTestClient(t *testing.T) *goredis.Client {
	t.Helper()
	ctx := context.Background()

	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: testcontainers.ContainerRequest{
				Image:        "redis:7-alpine",
				ExposedPorts: []string{"6379/tcp"},
				WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
			},
			Started: true,
		})
		if err != nil {
			t.Skipf("redis unavailable: %v", err)
		}
		t.Cleanup(func() {
			if err := container.Terminate(context.Background()); err != nil {
				t.Logf("terminating redis container: %v", err)
			}
		})

		host, err := container.Host(ctx)
		require.NoError(t, err)
		port, err := container.MappedPort(ctx, "6379")
		require.NoError(t, err)
		addr = fmt.Sprintf("%s:%s", host, port.Port())
	}

	client := goredis.NewClient(&goredis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis unavailable at %s: %v", addr, err)
	}
	require.NoError(t, client.FlushDB(ctx).Err())
	t.Cleanup(func() { client.Close() })
	return client
}

func TestLeaderboardCache(t *testing.T) {
	client := newTestClient(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cache := NewLeaderboardCacheFromClient(client, time.Minute, logger)
	ctx := context.Background()

	t.Run("miss before set", func(t *testing.T) {
		_, ok, err := cache.GetUserStandings(ctx)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("round trip and invalidate", func(t *testing.T) {
		users := []domain.UserStanding{
			{Rank: 1, UserID: "u1", Handle: "alice", TerritoriesOwned: 3},
			{Rank: 2, UserID: "u2", TerritoriesOwned: 1},
		}
		teams := []domain.TeamStanding{
			{Rank: 1, TeamID: "t1", TeamName: "night owls", TerritoriesOwned: 4, MemberCount: 2},
		}
		generation, err := cache.Generation(ctx)
		require.NoError(t, err)
		require.NoError(t, cache.SetUserStandings(ctx, generation, users))
		require.NoError(t, cache.SetTeamStandings(ctx, generation, teams))

		gotUsers, ok, err := cache.GetUserStandings(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, users, gotUsers)

		gotTeams, ok, err := cache.GetTeamStandings(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, teams, gotTeams)

		require.NoError(t, cache.Invalidate(ctx))

		_, ok, err = cache.GetUserStandings(ctx)
		require.NoError(t, err)
		assert.False(t, ok)
		_, ok, err = cache.GetTeamStandings(ctx)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("entries expire", func(t *testing.T) {
		generation, err := cache.Generation(ctx)
		require.NoError(t, err)
		require.NoError(t, cache.SetUserStandings(ctx, generation, []domain.UserStanding{{Rank: 1, UserID: "u1", TerritoriesOwned: 1}}))
		ttl, err := client.TTL(ctx, userStandingsKey).Result()
		require.NoError(t, err)
		assert.Greater(t, ttl, time.Duration(0))
		assert.LessOrEqual(t, ttl, time.Minute)
	})

	t.Run("write from an older generation is discarded", func(t *testing.T) {
		stale, err := cache.Generation(ctx)
		require.NoError(t, err)

		// an ownership change commits while the standings are being computed
		require.NoError(t, cache.Invalidate(ctx))
		current, err := cache.Generation(ctx)
		require.NoError(t, err)
		assert.Equal(t, stale+1, current)

		require.NoError(t, cache.SetUserStandings(ctx, stale, []domain.UserStanding{{Rank: 1, UserID: "stale", TerritoriesOwned: 5}}))
		_, ok, err := cache.GetUserStandings(ctx)
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, cache.SetUserStandings(ctx, current, []domain.UserStanding{{Rank: 1, UserID: "fresh", TerritoriesOwned: 5}}))
		got, ok, err := cache.GetUserStandings(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "fresh", got[0].UserID)
	})

	t.Run("corrupt entry is a miss", func(t *testing.T) {
		require.NoError(t, client.Set(ctx, teamStandingsKey, "not json", time.Minute).Err())
		_, ok, err := cache.GetTeamStandings(ctx)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}
