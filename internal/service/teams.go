package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spotclaim/internal/domain"
	"github.com/spotclaim/internal/store"
)

const maxTeamNameLength = 255

// GenerateInviteCode reserves and returns a new unique invite code
func (s *Service) GenerateInviteCode(ctx context.Context) (string, error) {
	var code string
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		code, err = s.reserveInviteCode(ctx, tx)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("generating invite code: %w", err)
	}
	return code, nil
}

// reserveInviteCode draws random codes until one is not yet taken, giving up
// after the configured number of attempts.
func (s *Service) reserveInviteCode(ctx context.Context, tx store.Tx) (string, error) {
	for attempt := 1; attempt <= s.options.Invite.MaxAttempts; attempt++ {
		code, err := s.newCode(s.options.Invite.CodeLength)
		if err != nil {
			return "", fmt.Errorf("drawing invite code: %w", err)
		}
		reserved, err := tx.ReserveInviteCode(ctx, code, s.now())
		if err != nil {
			return "", err
		}
		if reserved {
			return code, nil
		}
		s.logger.Debug("invite code collision", "attempt", attempt)
	}
	return "", domain.ErrInviteCodeExhausted
}

// CreateTeam creates a team owned by ownerID and adds the owner as its first member
func (s *Service) CreateTeam(ctx context.Context, ownerID, name string) (*domain.Team, error) {
	if ownerID == "" {
		return nil, domain.ErrNotAuthenticated
	}
	name = strings.TrimSpace(name)
	if name == "" || len(name) > maxTeamNameLength {
		return nil, domain.ErrInvalidRequest
	}

	team := domain.Team{
		ID:        uuid.NewString(),
		Name:      name,
		OwnerID:   ownerID,
		CreatedAt: s.now(),
	}
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		code, err := s.reserveInviteCode(ctx, tx)
		if err != nil {
			return err
		}
		team.InviteCode = code
		if err := tx.InsertTeam(ctx, team); err != nil {
			return err
		}
		return tx.AddMember(ctx, domain.Membership{
			TeamID:   team.ID,
			UserID:   ownerID,
			JoinedAt: team.CreatedAt,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("creating team: %w", err)
	}

	s.logger.Info("team created", "team_id", team.ID, "owner_id", ownerID)
	s.invalidateLeaderboards(ctx)
	return &team, nil
}

// JoinTeam adds userID to the team holding the invite code. Joining the team
// the user is already in is a no-op.
func (s *Service) JoinTeam(ctx context.Context, userID, inviteCode string) (*domain.Team, error) {
	if userID == "" {
		return nil, domain.ErrNotAuthenticated
	}
	inviteCode = strings.ToUpper(strings.TrimSpace(inviteCode))
	if inviteCode == "" {
		return nil, domain.ErrInvalidInviteCode
	}

	var team domain.Team
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		team, err = tx.TeamByInviteCode(ctx, inviteCode)
		if err != nil {
			return err
		}
		return tx.AddMember(ctx, domain.Membership{
			TeamID:   team.ID,
			UserID:   userID,
			JoinedAt: s.now(),
		})
	})
	if err != nil {
		return nil, fmt.Errorf("joining team: %w", err)
	}

	s.logger.Info("team joined", "team_id", team.ID, "user_id", userID)
	s.invalidateLeaderboards(ctx)
	return &team, nil
}

// LeaveTeam removes the user's membership, if any
func (s *Service) LeaveTeam(ctx context.Context, userID string) error {
	if userID == "" {
		return domain.ErrNotAuthenticated
	}
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.RemoveMember(ctx, userID)
	})
	if err != nil {
		return fmt.Errorf("leaving team: %w", err)
	}

	s.logger.Info("team left", "user_id", userID)
	s.invalidateLeaderboards(ctx)
	return nil
}

// GetTeam returns a team by ID
func (s *Service) GetTeam(ctx context.Context, teamID string) (*domain.Team, error) {
	team, err := s.store.GetTeam(ctx, teamID)
	if err != nil {
		return nil, err
	}
	return &team, nil
}

// TeamForUser returns the caller's team
func (s *Service) TeamForUser(ctx context.Context, userID string) (*domain.Team, error) {
	if userID == "" {
		return nil, domain.ErrNotAuthenticated
	}
	team, err := s.store.TeamForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &team, nil
}
