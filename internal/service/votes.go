package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/spotclaim/internal/domain"
	"github.com/spotclaim/internal/store"
)

// CastVote is the only entry point that mutates the vote ledger for a voter.
// A voter holds at most one vote per territory: voting for a clip with no
// prior vote in its territory adds one, voting for the clip already voted
// removes it, and voting for another clip of the same territory moves it.
// The ledger change, the count projection and the owner recompute commit
// together under the territory lock.
func (s *Service) CastVote(ctx context.Context, voterID, clipID string) (*domain.CastVoteResult, error) {
	if voterID == "" {
		return nil, domain.ErrNotAuthenticated
	}
	if clipID == "" {
		return nil, domain.ErrInvalidClip
	}

	var result domain.CastVoteResult
	var ownerChanged bool

	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		clip, err := tx.GetClip(ctx, clipID)
		if err != nil {
			return err
		}

		territory, err := tx.LockTerritory(ctx, clip.TerritoryID)
		if err != nil {
			if errors.Is(err, domain.ErrTerritoryNotFound) {
				return domain.ErrInvalidClip
			}
			return err
		}

		// The clip may have been deleted while we waited for the lock
		clip, err = tx.GetClip(ctx, clipID)
		if err != nil {
			return err
		}

		existing, err := tx.FindTerritoryVote(ctx, voterID, territory.ID)
		if err != nil {
			return err
		}

		var count int64
		switch {
		case existing == nil:
			count, err = s.recordVote(ctx, tx, voterID, clip)
			result.Action = domain.VoteActionAdded
		case existing.ClipID == clip.ID:
			count, err = s.removeVote(ctx, tx, *existing)
			result.Action = domain.VoteActionRemoved
		default:
			if _, err = s.removeVote(ctx, tx, *existing); err != nil {
				return err
			}
			count, err = s.recordVote(ctx, tx, voterID, clip)
			result.Action = domain.VoteActionMoved
		}
		if err != nil {
			return err
		}

		owner, changed, err := s.resolveOwner(ctx, tx, territory)
		if err != nil {
			return err
		}

		result.ClipID = clip.ID
		result.TerritoryID = territory.ID
		result.NewVoteCount = count
		result.OwnerID = owner
		ownerChanged = changed
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("casting vote: %w", err)
	}

	s.logger.Debug("vote cast",
		"voter_id", voterID,
		"clip_id", result.ClipID,
		"territory_id", result.TerritoryID,
		"action", result.Action,
		"vote_count", result.NewVoteCount,
	)
	if ownerChanged {
		s.logOwnerChange(result.TerritoryID, result.OwnerID)
		s.invalidateLeaderboards(ctx)
	}

	return &result, nil
}

// recordVote writes a ledger fact and projects it onto the clip's count
func (s *Service) recordVote(ctx context.Context, tx store.Tx, voterID string, clip domain.Clip) (int64, error) {
	vote := domain.Vote{
		ID:          uuid.NewString(),
		VoterID:     voterID,
		ClipID:      clip.ID,
		TerritoryID: clip.TerritoryID,
		CastAt:      s.now(),
	}
	if err := tx.InsertVote(ctx, vote); err != nil {
		return 0, err
	}
	return tx.AddVoteCount(ctx, clip.ID, 1)
}

// removeVote deletes a ledger fact and projects the removal, flooring at zero
func (s *Service) removeVote(ctx context.Context, tx store.Tx, vote domain.Vote) (int64, error) {
	if err := tx.DeleteVote(ctx, vote.ID); err != nil {
		return 0, err
	}
	return tx.AddVoteCount(ctx, vote.ClipID, -1)
}
