package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/spotclaim/internal/domain"
	"github.com/spotclaim/internal/store"
)

// resolveOwner recomputes the owner of a locked territory from its clips and
// writes it back if it changed.
func (s *Service) resolveOwner(ctx context.Context, tx store.Tx, territory domain.Territory) (*string, bool, error) {
	clips, err := tx.ListClips(ctx, territory.ID)
	if err != nil {
		return nil, false, err
	}

	var owner *string
	if winner := domain.WinningClip(clips); winner != nil {
		id := winner.OwnerID
		owner = &id
	}

	if sameOwner(territory.OwnerID, owner) {
		return owner, false, nil
	}
	if err := tx.SetTerritoryOwner(ctx, territory.ID, owner); err != nil {
		return nil, false, err
	}
	return owner, true, nil
}

func (s *Service) logOwnerChange(territoryID string, owner *string) {
	if owner == nil {
		s.logger.Info("territory owner cleared", "territory_id", territoryID)
		return
	}
	s.logger.Info("territory owner changed", "territory_id", territoryID, "owner_id", *owner)
}

// RecalcOwner recomputes the owner of one territory. It is idempotent.
func (s *Service) RecalcOwner(ctx context.Context, territoryID string) (*string, error) {
	owner, changed, err := s.recalcOwner(ctx, territoryID)
	if err != nil {
		return nil, err
	}
	if changed {
		s.invalidateLeaderboards(ctx)
	}
	return owner, nil
}

func (s *Service) recalcOwner(ctx context.Context, territoryID string) (*string, bool, error) {
	var owner *string
	var changed bool
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		territory, err := tx.LockTerritory(ctx, territoryID)
		if err != nil {
			return err
		}
		owner, changed, err = s.resolveOwner(ctx, tx, territory)
		return err
	})
	if err != nil {
		return nil, false, fmt.Errorf("recalculating owner of %s: %w", territoryID, err)
	}
	if changed {
		s.logOwnerChange(territoryID, owner)
	}
	return owner, changed, nil
}

// RecalcAllOwners recomputes every territory's owner, one transaction per
// territory. It returns how many owners changed.
func (s *Service) RecalcAllOwners(ctx context.Context) (int, error) {
	start := time.Now()
	changed, err := s.forEachTerritory(ctx, func(ctx context.Context, territoryID string) (int, error) {
		_, didChange, err := s.recalcOwner(ctx, territoryID)
		if didChange {
			return 1, err
		}
		return 0, err
	})
	if changed > 0 {
		s.invalidateLeaderboards(ctx)
	}
	if err != nil {
		return changed, err
	}

	s.logger.Info("recalculated all owners", "changed", changed, "duration", time.Since(start))
	return changed, nil
}

// RebuildVoteCounts recounts every clip's projected vote count from the
// ledger and recomputes the territory's owner in the same transaction. It
// returns how many clip counts had drifted.
func (s *Service) RebuildVoteCounts(ctx context.Context) (int, error) {
	start := time.Now()
	var ownersChanged atomic.Int64

	drifted, err := s.forEachTerritory(ctx, func(ctx context.Context, territoryID string) (int, error) {
		var fixed int
		var owner *string
		var changed bool
		err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
			fixed = 0
			territory, err := tx.LockTerritory(ctx, territoryID)
			if err != nil {
				return err
			}
			counts, err := tx.CountClipVotes(ctx, territoryID)
			if err != nil {
				return err
			}
			clips, err := tx.ListClips(ctx, territoryID)
			if err != nil {
				return err
			}
			for _, clip := range clips {
				if clip.VoteCount == counts[clip.ID] {
					continue
				}
				s.logger.Warn("vote count drift",
					"clip_id", clip.ID,
					"projected", clip.VoteCount,
					"ledger", counts[clip.ID],
				)
				if err := tx.SetVoteCount(ctx, clip.ID, counts[clip.ID]); err != nil {
					return err
				}
				fixed++
			}
			owner, changed, err = s.resolveOwner(ctx, tx, territory)
			return err
		})
		if err != nil {
			return 0, fmt.Errorf("rebuilding vote counts of %s: %w", territoryID, err)
		}
		if changed {
			ownersChanged.Add(1)
			s.logOwnerChange(territoryID, owner)
		}
		return fixed, nil
	})
	if ownersChanged.Load() > 0 {
		s.invalidateLeaderboards(ctx)
	}
	if err != nil {
		return drifted, err
	}

	s.logger.Info("rebuilt vote counts",
		"drifted", drifted,
		"owners_changed", ownersChanged.Load(),
		"duration", time.Since(start),
	)
	return drifted, nil
}

// forEachTerritory runs fn for every territory on a bounded worker pool and
// sums the results. Territories deleted during the sweep are skipped.
func (s *Service) forEachTerritory(ctx context.Context, fn func(ctx context.Context, territoryID string) (int, error)) (int, error) {
	ids, err := s.store.ListTerritoryIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing territories: %w", err)
	}

	pool := pond.NewPool(s.options.RecalcConcurrency)
	defer pool.StopAndWait()

	var total atomic.Int64
	group := pool.NewGroup()
	for _, id := range ids {
		territoryID := id
		group.SubmitErr(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			n, err := fn(ctx, territoryID)
			if errors.Is(err, domain.ErrTerritoryNotFound) {
				return nil
			}
			total.Add(int64(n))
			return err
		})
	}

	err = group.Wait()
	return int(total.Load()), err
}
