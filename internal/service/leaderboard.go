package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/spotclaim/internal/domain"
)

// normalizeLimit clamps a requested leaderboard size to the configured bounds
func (s *Service) normalizeLimit(limit int) int {
	if limit <= 0 {
		limit = s.options.Leaderboard.DefaultLimit
	}
	if s.options.Leaderboard.MaxLimit > 0 && limit > s.options.Leaderboard.MaxLimit {
		limit = s.options.Leaderboard.MaxLimit
	}
	return limit
}

// UserLeaderboard returns users owning at least one territory, most
// territories first, then by handle with missing handles last.
func (s *Service) UserLeaderboard(ctx context.Context, limit int) ([]domain.UserStanding, error) {
	limit = s.normalizeLimit(limit)

	standings, ok := s.cachedUserStandings(ctx)
	if !ok {
		generation, cacheable := s.cacheGeneration(ctx)
		var err error
		standings, err = s.computeUserStandings(ctx)
		if err != nil {
			return nil, fmt.Errorf("computing user leaderboard: %w", err)
		}
		if cacheable {
			if err := s.cache.SetUserStandings(ctx, generation, standings); err != nil {
				s.logger.Warn("failed to cache user leaderboard", "error", err)
			}
		}
	}

	if limit > 0 && len(standings) > limit {
		standings = standings[:limit]
	}
	return standings, nil
}

// TeamLeaderboard returns teams whose current members own at least one
// territory, most territories first, then by name.
func (s *Service) TeamLeaderboard(ctx context.Context, limit int) ([]domain.TeamStanding, error) {
	limit = s.normalizeLimit(limit)

	standings, ok := s.cachedTeamStandings(ctx)
	if !ok {
		generation, cacheable := s.cacheGeneration(ctx)
		var err error
		standings, err = s.computeTeamStandings(ctx)
		if err != nil {
			return nil, fmt.Errorf("computing team leaderboard: %w", err)
		}
		if cacheable {
			if err := s.cache.SetTeamStandings(ctx, generation, standings); err != nil {
				s.logger.Warn("failed to cache team leaderboard", "error", err)
			}
		}
	}

	if limit > 0 && len(standings) > limit {
		standings = standings[:limit]
	}
	return standings, nil
}

// cacheGeneration reads the cache generation before standings are computed,
// so a write racing with an invalidation is discarded by the cache.
func (s *Service) cacheGeneration(ctx context.Context) (int64, bool) {
	if s.cache == nil {
		return 0, false
	}
	generation, err := s.cache.Generation(ctx)
	if err != nil {
		s.logger.Warn("failed to read leaderboard cache generation", "error", err)
		return 0, false
	}
	return generation, true
}

func (s *Service) cachedUserStandings(ctx context.Context) ([]domain.UserStanding, bool) {
	if s.cache == nil {
		return nil, false
	}
	standings, ok, err := s.cache.GetUserStandings(ctx)
	if err != nil {
		s.logger.Warn("failed to read user leaderboard cache", "error", err)
		return nil, false
	}
	return standings, ok
}

func (s *Service) cachedTeamStandings(ctx context.Context) ([]domain.TeamStanding, bool) {
	if s.cache == nil {
		return nil, false
	}
	standings, ok, err := s.cache.GetTeamStandings(ctx)
	if err != nil {
		s.logger.Warn("failed to read team leaderboard cache", "error", err)
		return nil, false
	}
	return standings, ok
}

// ownedTerritories groups owned territory IDs by owner
func ownedTerritories(ownerships []domain.Ownership) map[string]map[string]struct{} {
	owned := make(map[string]map[string]struct{})
	for _, o := range ownerships {
		set, ok := owned[o.OwnerID]
		if !ok {
			set = make(map[string]struct{})
			owned[o.OwnerID] = set
		}
		set[o.TerritoryID] = struct{}{}
	}
	return owned
}

func (s *Service) computeUserStandings(ctx context.Context) ([]domain.UserStanding, error) {
	ownerships, err := s.store.ListOwnerships(ctx)
	if err != nil {
		return nil, err
	}
	owned := ownedTerritories(ownerships)

	userIDs := make([]string, 0, len(owned))
	for userID := range owned {
		userIDs = append(userIDs, userID)
	}
	profiles, err := s.store.ListProfiles(ctx, userIDs)
	if err != nil {
		return nil, err
	}

	standings := make([]domain.UserStanding, 0, len(owned))
	for userID, territories := range owned {
		profile := profiles[userID]
		standings = append(standings, domain.UserStanding{
			UserID:           userID,
			Handle:           profile.Handle,
			DisplayName:      profile.DisplayName,
			TerritoriesOwned: int64(len(territories)),
		})
	}

	sort.Slice(standings, func(i, j int) bool {
		a, b := standings[i], standings[j]
		if a.TerritoriesOwned != b.TerritoriesOwned {
			return a.TerritoriesOwned > b.TerritoriesOwned
		}
		if (a.Handle == "") != (b.Handle == "") {
			return a.Handle != ""
		}
		if a.Handle != b.Handle {
			return a.Handle < b.Handle
		}
		return a.UserID < b.UserID
	})
	for i := range standings {
		standings[i].Rank = int64(i + 1)
	}
	return standings, nil
}

func (s *Service) computeTeamStandings(ctx context.Context) ([]domain.TeamStanding, error) {
	ownerships, err := s.store.ListOwnerships(ctx)
	if err != nil {
		return nil, err
	}
	teams, err := s.store.ListTeams(ctx)
	if err != nil {
		return nil, err
	}
	memberships, err := s.store.ListMemberships(ctx)
	if err != nil {
		return nil, err
	}

	owned := ownedTerritories(ownerships)
	memberCount := make(map[string]int64)
	teamTerritories := make(map[string]map[string]struct{})
	for _, m := range memberships {
		memberCount[m.TeamID]++
		set, ok := teamTerritories[m.TeamID]
		if !ok {
			set = make(map[string]struct{})
			teamTerritories[m.TeamID] = set
		}
		for territoryID := range owned[m.UserID] {
			set[territoryID] = struct{}{}
		}
	}

	standings := make([]domain.TeamStanding, 0, len(teams))
	for _, team := range teams {
		count := int64(len(teamTerritories[team.ID]))
		if count == 0 {
			continue
		}
		standings = append(standings, domain.TeamStanding{
			TeamID:           team.ID,
			TeamName:         team.Name,
			TerritoriesOwned: count,
			MemberCount:      memberCount[team.ID],
		})
	}

	sort.Slice(standings, func(i, j int) bool {
		a, b := standings[i], standings[j]
		if a.TerritoriesOwned != b.TerritoriesOwned {
			return a.TerritoriesOwned > b.TerritoriesOwned
		}
		if a.TeamName != b.TeamName {
			return a.TeamName < b.TeamName
		}
		return a.TeamID < b.TeamID
	})
	for i := range standings {
		standings[i].Rank = int64(i + 1)
	}
	return standings, nil
}
