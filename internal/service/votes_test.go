package service

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spotclaim/internal/domain"
	"github.com/spotclaim/internal/store"
)

func TestCastVoteToggle(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	seedTerritory(t, svc, "t1")
	seedClip(t, svc, "c1", "t1", "uploader", 0)

	added, err := svc.CastVote(ctx, "voter", "c1")
	require.NoError(t, err)
	assert.Equal(t, domain.VoteActionAdded, added.Action)
	assert.Equal(t, int64(1), added.NewVoteCount)
	assert.Equal(t, "t1", added.TerritoryID)
	assert.Equal(t, strPtr("uploader"), added.OwnerID)

	removed, err := svc.CastVote(ctx, "voter", "c1")
	require.NoError(t, err)
	assert.Equal(t, domain.VoteActionRemoved, removed.Action)
	assert.Equal(t, int64(0), removed.NewVoteCount)
	assert.Equal(t, int64(0), voteCount(t, svc, "c1"))
}

func TestCastVoteMove(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	seedTerritory(t, svc, "t1")
	seedClip(t, svc, "c1", "t1", "alice", 0)
	seedClip(t, svc, "c2", "t1", "bob", 1)

	_, err := svc.CastVote(ctx, "voter", "c1")
	require.NoError(t, err)

	moved, err := svc.CastVote(ctx, "voter", "c2")
	require.NoError(t, err)
	assert.Equal(t, domain.VoteActionMoved, moved.Action)
	assert.Equal(t, "c2", moved.ClipID)
	assert.Equal(t, int64(1), moved.NewVoteCount)

	assert.Equal(t, int64(0), voteCount(t, svc, "c1"))
	assert.Equal(t, int64(1), voteCount(t, svc, "c2"))
	assert.Equal(t, int64(1), ledgerVotes(t, st, "t1"))
}

func TestCastVoteErrors(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	seedTerritory(t, svc, "t1")
	seedClip(t, svc, "c1", "t1", "alice", 0)

	_, err := svc.CastVote(ctx, "", "c1")
	assert.ErrorIs(t, err, domain.ErrNotAuthenticated)

	_, err = svc.CastVote(ctx, "voter", "missing")
	assert.ErrorIs(t, err, domain.ErrInvalidClip)

	_, err = svc.CastVote(ctx, "voter", "")
	assert.ErrorIs(t, err, domain.ErrInvalidClip)
}

func TestCastVoteOwnershipScenario(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	seedTerritory(t, svc, "T")
	seedClip(t, svc, "A", "T", "uploaderA", 0)
	seedClip(t, svc, "B", "T", "uploaderB", 1)

	// no votes: the earliest clip wins
	assert.Equal(t, strPtr("uploaderA"), ownerOf(t, svc, "T"))

	result, err := svc.CastVote(ctx, "voter1", "B")
	require.NoError(t, err)
	assert.Equal(t, domain.VoteActionAdded, result.Action)
	assert.Equal(t, int64(1), result.NewVoteCount)
	assert.Equal(t, strPtr("uploaderB"), result.OwnerID)
	assert.Equal(t, strPtr("uploaderB"), ownerOf(t, svc, "T"))

	result, err = svc.CastVote(ctx, "voter1", "A")
	require.NoError(t, err)
	assert.Equal(t, domain.VoteActionMoved, result.Action)
	assert.Equal(t, int64(1), result.NewVoteCount)
	assert.Equal(t, int64(0), voteCount(t, svc, "B"))
	assert.Equal(t, strPtr("uploaderA"), ownerOf(t, svc, "T"))
}

func TestCastVoteVotersAreIndependentAcrossTerritories(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	seedTerritory(t, svc, "t1")
	seedTerritory(t, svc, "t2")
	seedClip(t, svc, "c1", "t1", "alice", 0)
	seedClip(t, svc, "c2", "t2", "bob", 0)

	first, err := svc.CastVote(ctx, "voter", "c1")
	require.NoError(t, err)
	second, err := svc.CastVote(ctx, "voter", "c2")
	require.NoError(t, err)

	assert.Equal(t, domain.VoteActionAdded, first.Action)
	assert.Equal(t, domain.VoteActionAdded, second.Action)
	assert.Equal(t, int64(1), voteCount(t, svc, "c1"))
	assert.Equal(t, int64(1), voteCount(t, svc, "c2"))
}

func TestCastVoteConcurrentSameVoter(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	seedTerritory(t, svc, "t1")
	clips := []string{"c1", "c2", "c3"}
	for i, id := range clips {
		seedClip(t, svc, id, "t1", fmt.Sprintf("uploader%d", i), i)
	}

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.CastVote(ctx, "voter", clips[i%len(clips)])
			if err != nil {
				assert.True(t, domain.IsRetryable(err), "unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	// only one voter is involved, so the ledger holds at most one row
	votes := ledgerVotes(t, st, "t1")
	assert.LessOrEqual(t, votes, int64(1))

	var total int64
	for _, id := range clips {
		total += voteCount(t, svc, id)
	}
	assert.Equal(t, votes, total)
}

func TestCastVoteConcurrentVoters(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	seedTerritory(t, svc, "t1")
	seedClip(t, svc, "c1", "t1", "alice", 0)

	const voters = 25
	var wg sync.WaitGroup
	for i := 0; i < voters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.CastVote(ctx, fmt.Sprintf("voter%d", i), "c1")
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(voters), voteCount(t, svc, "c1"))
}

// ledgerVotes counts the ledger rows in a territory
func ledgerVotes(t *testing.T, st store.Store, territoryID string) int64 {
	t.Helper()
	var total int64
	err := st.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		counts, err := tx.CountClipVotes(ctx, territoryID)
		if err != nil {
			return err
		}
		for _, n := range counts {
			total += n
		}
		return nil
	})
	require.NoError(t, err)
	return total
}
