package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spotclaim/internal/domain"
	"github.com/spotclaim/internal/store"
)

// The operations in this file are called by the upload and identity layers.
// They are the only writers of clips and territories, and the only code that
// deletes ledger rows outside CastVote (cascading a clip or territory delete).

// CreateTerritory registers a new territory with no owner. Re-creating an
// existing ID is a no-op.
func (s *Service) CreateTerritory(ctx context.Context, territory domain.Territory) (*domain.Territory, error) {
	territory.Name = strings.TrimSpace(territory.Name)
	if territory.ID == "" {
		territory.ID = uuid.NewString()
	}
	if territory.CreatedAt.IsZero() {
		territory.CreatedAt = s.now()
	}
	territory.OwnerID = nil

	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.InsertTerritory(ctx, territory)
	})
	if err != nil {
		return nil, fmt.Errorf("creating territory: %w", err)
	}

	s.logger.Debug("territory created", "territory_id", territory.ID)
	return &territory, nil
}

// DeleteTerritory removes a territory together with its clips and votes
func (s *Service) DeleteTerritory(ctx context.Context, territoryID string) error {
	var hadOwner bool
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		territory, err := tx.LockTerritory(ctx, territoryID)
		if err != nil {
			return err
		}
		hadOwner = territory.OwnerID != nil
		return tx.DeleteTerritory(ctx, territoryID)
	})
	if err != nil {
		return fmt.Errorf("deleting territory: %w", err)
	}

	s.logger.Info("territory deleted", "territory_id", territoryID)
	if hadOwner {
		s.invalidateLeaderboards(ctx)
	}
	return nil
}

// CreateClip attaches a new clip to a territory and recomputes the owner in
// the same transaction. Re-creating an existing clip ID leaves it unchanged.
func (s *Service) CreateClip(ctx context.Context, clip domain.Clip) (*domain.Clip, error) {
	if clip.TerritoryID == "" || clip.OwnerID == "" {
		return nil, domain.ErrInvalidRequest
	}
	if clip.ID == "" {
		clip.ID = uuid.NewString()
	}
	if clip.CreatedAt.IsZero() {
		clip.CreatedAt = s.now()
	}
	clip.VoteCount = 0

	var stored domain.Clip
	var owner *string
	var changed bool
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		territory, err := tx.LockTerritory(ctx, clip.TerritoryID)
		if err != nil {
			return err
		}
		if err := tx.InsertClip(ctx, clip); err != nil {
			return err
		}
		stored, err = tx.GetClip(ctx, clip.ID)
		if err != nil {
			return err
		}
		if stored.TerritoryID != territory.ID {
			return fmt.Errorf("%w: clip %s belongs to another territory", domain.ErrInvalidRequest, clip.ID)
		}
		owner, changed, err = s.resolveOwner(ctx, tx, territory)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("creating clip: %w", err)
	}

	s.logger.Debug("clip created", "clip_id", stored.ID, "territory_id", stored.TerritoryID)
	if changed {
		s.logOwnerChange(stored.TerritoryID, owner)
		s.invalidateLeaderboards(ctx)
	}
	return &stored, nil
}

// DeleteClip removes a clip after cascading its votes, then recomputes the
// territory owner in the same transaction.
func (s *Service) DeleteClip(ctx context.Context, clipID string) error {
	var territoryID string
	var owner *string
	var changed bool
	var removedVotes int64

	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		clip, err := tx.GetClip(ctx, clipID)
		if err != nil {
			return err
		}
		territory, err := tx.LockTerritory(ctx, clip.TerritoryID)
		if err != nil {
			return err
		}
		if _, err := tx.GetClip(ctx, clipID); err != nil {
			return err
		}

		removedVotes, err = tx.DeleteClipVotes(ctx, clipID)
		if err != nil {
			return err
		}
		if err := tx.DeleteClip(ctx, clipID); err != nil {
			return err
		}

		territoryID = territory.ID
		owner, changed, err = s.resolveOwner(ctx, tx, territory)
		return err
	})
	if err != nil {
		return fmt.Errorf("deleting clip: %w", err)
	}

	s.logger.Info("clip deleted", "clip_id", clipID, "territory_id", territoryID, "votes_removed", removedVotes)
	if changed {
		s.logOwnerChange(territoryID, owner)
		s.invalidateLeaderboards(ctx)
	}
	return nil
}

// UpsertProfile records the handle and display name of a user
func (s *Service) UpsertProfile(ctx context.Context, profile domain.Profile) (*domain.Profile, error) {
	if profile.ID == "" {
		return nil, domain.ErrInvalidRequest
	}
	profile.Handle = strings.TrimSpace(profile.Handle)
	profile.DisplayName = strings.TrimSpace(profile.DisplayName)
	profile.UpdatedAt = s.now()

	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.UpsertProfile(ctx, profile)
	})
	if err != nil {
		return nil, fmt.Errorf("upserting profile: %w", err)
	}
	s.invalidateLeaderboards(ctx)
	return &profile, nil
}

// GetTerritory returns a territory with its clips in ownership order
func (s *Service) GetTerritory(ctx context.Context, territoryID string) (*domain.TerritoryDetail, error) {
	territory, err := s.store.GetTerritory(ctx, territoryID)
	if err != nil {
		return nil, err
	}
	clips, err := s.store.ListClips(ctx, territoryID)
	if err != nil {
		return nil, err
	}
	domain.RankClips(clips)
	return &domain.TerritoryDetail{Territory: territory, Clips: clips}, nil
}

// GetClip returns one clip
func (s *Service) GetClip(ctx context.Context, clipID string) (*domain.Clip, error) {
	clip, err := s.store.GetClip(ctx, clipID)
	if err != nil {
		return nil, err
	}
	return &clip, nil
}

// ApplyEvent applies one upload-layer event. Deletes of rows that are
// already gone count as applied so redelivered events are harmless.
func (s *Service) ApplyEvent(ctx context.Context, event domain.Event) error {
	var err error
	switch event.Type {
	case domain.EventTerritoryCreated:
		territory := domain.Territory{ID: event.TerritoryID, Name: event.Name}
		if event.OccurredAt != nil {
			territory.CreatedAt = event.OccurredAt.UTC()
		}
		if territory.ID == "" {
			return fmt.Errorf("%w: territory event without territory_id", domain.ErrInvalidRequest)
		}
		_, err = s.CreateTerritory(ctx, territory)
	case domain.EventTerritoryDeleted:
		err = s.DeleteTerritory(ctx, event.TerritoryID)
		if errors.Is(err, domain.ErrTerritoryNotFound) {
			err = nil
		}
	case domain.EventClipCreated:
		clip := domain.Clip{ID: event.ClipID, TerritoryID: event.TerritoryID, OwnerID: event.UserID}
		if event.OccurredAt != nil {
			clip.CreatedAt = event.OccurredAt.UTC()
		}
		if clip.ID == "" {
			return fmt.Errorf("%w: clip event without clip_id", domain.ErrInvalidRequest)
		}
		_, err = s.CreateClip(ctx, clip)
	case domain.EventClipDeleted:
		err = s.DeleteClip(ctx, event.ClipID)
		if errors.Is(err, domain.ErrInvalidClip) {
			err = nil
		}
	case domain.EventProfileUpserted:
		_, err = s.UpsertProfile(ctx, domain.Profile{
			ID:          event.UserID,
			Handle:      event.Handle,
			DisplayName: event.DisplayName,
		})
	default:
		return fmt.Errorf("%w: unknown event type %q", domain.ErrInvalidRequest, event.Type)
	}
	return err
}
