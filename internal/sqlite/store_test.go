package sqlite

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spotclaim/internal/domain"
	"github.com/spotclaim/internal/store"
)

var testTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st, err := Open(filepath.Join(t.TempDir(), "store.db"), 10*time.Second, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.RunMigrations(context.Background()))
	// migrations are re-runnable
	require.NoError(t, st.RunMigrations(context.Background()))
	return st
}

func seed(t *testing.T, st *Store) {
	t.Helper()
	err := st.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		if err := tx.InsertTerritory(ctx, domain.Territory{ID: "t1", Name: "bridge", CreatedAt: testTime}); err != nil {
			return err
		}
		if err := tx.InsertClip(ctx, domain.Clip{ID: "c1", TerritoryID: "t1", OwnerID: "alice", CreatedAt: testTime}); err != nil {
			return err
		}
		return tx.InsertClip(ctx, domain.Clip{ID: "c2", TerritoryID: "t1", OwnerID: "bob", CreatedAt: testTime.Add(time.Minute)})
	})
	require.NoError(t, err)
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open("  ", time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, err)
}

func TestTerritoryAndClipRoundTrip(t *testing.T) {
	st := openTestStore(t)
	seed(t, st)
	ctx := context.Background()

	territory, err := st.GetTerritory(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "bridge", territory.Name)
	assert.Nil(t, territory.OwnerID)
	assert.True(t, territory.CreatedAt.Equal(testTime))

	clips, err := st.ListClips(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, clips, 2)
	assert.Equal(t, "c1", clips[0].ID)

	_, err = st.GetTerritory(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrTerritoryNotFound)
	_, err = st.GetClip(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrInvalidClip)

	ids, err := st.ListTerritoryIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"t1"}, ids)
}

func TestVoteCountFloorsAtZero(t *testing.T) {
	st := openTestStore(t)
	seed(t, st)

	err := st.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		count, err := tx.AddVoteCount(ctx, "c1", 1)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)

		count, err = tx.AddVoteCount(ctx, "c1", -5)
		require.NoError(t, err)
		assert.Equal(t, int64(0), count)

		_, err = tx.AddVoteCount(ctx, "missing", 1)
		assert.ErrorIs(t, err, domain.ErrInvalidClip)
		return nil
	})
	require.NoError(t, err)
}

func TestDuplicateVoteIsClassified(t *testing.T) {
	st := openTestStore(t)
	seed(t, st)
	ctx := context.Background()

	vote := domain.Vote{ID: "v1", VoterID: "u1", ClipID: "c1", TerritoryID: "t1", CastAt: testTime}
	require.NoError(t, st.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.InsertVote(ctx, vote)
	}))

	err := st.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		dup := vote
		dup.ID = "v2"
		dup.TerritoryID = "elsewhere"
		return tx.InsertVote(ctx, dup)
	})
	assert.ErrorIs(t, err, domain.ErrDuplicateVote)
}

func TestWithTxRollsBack(t *testing.T) {
	st := openTestStore(t)
	seed(t, st)
	ctx := context.Background()
	boom := errors.New("boom")

	err := st.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		require.NoError(t, tx.InsertVote(ctx, domain.Vote{ID: "v1", VoterID: "u1", ClipID: "c1", TerritoryID: "t1", CastAt: testTime}))
		_, err := tx.AddVoteCount(ctx, "c1", 1)
		require.NoError(t, err)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	clip, err := st.GetClip(ctx, "c1")
	require.NoError(t, err)
	assert.Zero(t, clip.VoteCount)

	require.NoError(t, st.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		vote, err := tx.FindTerritoryVote(ctx, "u1", "t1")
		assert.Nil(t, vote)
		return err
	}))
}

func TestDeleteTerritoryCascades(t *testing.T) {
	st := openTestStore(t)
	seed(t, st)
	ctx := context.Background()

	require.NoError(t, st.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.InsertVote(ctx, domain.Vote{ID: "v1", VoterID: "u1", ClipID: "c1", TerritoryID: "t1", CastAt: testTime}); err != nil {
			return err
		}
		return tx.DeleteTerritory(ctx, "t1")
	}))

	_, err := st.GetClip(ctx, "c1")
	assert.ErrorIs(t, err, domain.ErrInvalidClip)

	err = st.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.DeleteTerritory(ctx, "t1")
	})
	assert.ErrorIs(t, err, domain.ErrTerritoryNotFound)
}

func TestMemberships(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		for _, team := range []domain.Team{
			{ID: "team1", Name: "owls", InviteCode: "AAAAAA", OwnerID: "alice", CreatedAt: testTime},
			{ID: "team2", Name: "crows", InviteCode: "BBBBBB", OwnerID: "carol", CreatedAt: testTime},
		} {
			reserved, err := tx.ReserveInviteCode(ctx, team.InviteCode, testTime)
			if err != nil {
				return err
			}
			require.True(t, reserved)
			if err := tx.InsertTeam(ctx, team); err != nil {
				return err
			}
		}
		return tx.AddMember(ctx, domain.Membership{TeamID: "team1", UserID: "bob", JoinedAt: testTime})
	}))

	err := st.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		reserved, err := tx.ReserveInviteCode(ctx, "AAAAAA", testTime)
		require.NoError(t, err)
		assert.False(t, reserved)

		team, err := tx.TeamByInviteCode(ctx, "aaaaaa")
		require.NoError(t, err)
		assert.Equal(t, "team1", team.ID)

		_, err = tx.TeamByInviteCode(ctx, "CCCCCC")
		assert.ErrorIs(t, err, domain.ErrInvalidInviteCode)

		// same team again is a no-op
		return tx.AddMember(ctx, domain.Membership{TeamID: "team1", UserID: "bob", JoinedAt: testTime})
	})
	require.NoError(t, err)

	err = st.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.AddMember(ctx, domain.Membership{TeamID: "team2", UserID: "bob", JoinedAt: testTime})
	})
	assert.ErrorIs(t, err, domain.ErrAlreadyMember)

	team, err := st.TeamForUser(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, "team1", team.ID)

	teams, err := st.ListTeams(ctx)
	require.NoError(t, err)
	assert.Len(t, teams, 2)

	require.NoError(t, st.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.RemoveMember(ctx, "bob")
	}))
	_, err = st.TeamForUser(ctx, "bob")
	assert.ErrorIs(t, err, domain.ErrTeamNotFound)
}

func TestProfiles(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.UpsertProfile(ctx, domain.Profile{ID: "alice", Handle: "al", DisplayName: "Alice", UpdatedAt: testTime}); err != nil {
			return err
		}
		if err := tx.UpsertProfile(ctx, domain.Profile{ID: "alice", Handle: "alice", DisplayName: "Alice A.", UpdatedAt: testTime.Add(time.Hour)}); err != nil {
			return err
		}
		return tx.UpsertProfile(ctx, domain.Profile{ID: "bob", UpdatedAt: testTime})
	}))

	profiles, err := st.ListProfiles(ctx, []string{"alice", "bob", "nobody"})
	require.NoError(t, err)
	assert.Len(t, profiles, 2)
	assert.Equal(t, domain.Profile{ID: "alice", Handle: "alice", DisplayName: "Alice A.", UpdatedAt: testTime.Add(time.Hour)}, profiles["alice"])
	assert.Empty(t, profiles["bob"].Handle)
	assert.Equal(t, testTime, profiles["bob"].UpdatedAt)

	empty, err := st.ListProfiles(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestListProfilesBeyondParameterLimit(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	// more IDs than SQLite accepts as host parameters in one statement
	ids := make([]string, 40000)
	for i := range ids {
		ids[i] = fmt.Sprintf("user-%05d", i)
	}
	require.NoError(t, st.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		for _, id := range []string{ids[0], ids[profileBatchSize], ids[len(ids)-1]} {
			if err := tx.UpsertProfile(ctx, domain.Profile{ID: id, Handle: "h" + id, UpdatedAt: testTime}); err != nil {
				return err
			}
		}
		return nil
	}))

	profiles, err := st.ListProfiles(ctx, ids)
	require.NoError(t, err)
	assert.Len(t, profiles, 3)
	assert.Equal(t, "huser-39999", profiles["user-39999"].Handle)
	assert.Equal(t, "huser-00500", profiles["user-00500"].Handle)
}
