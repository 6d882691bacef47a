// Package store defines the transactional storage contract the engine runs on.
// Implementations live in internal/postgres and internal/sqlite.
package store

import (
	"context"
	"time"

	"github.com/spotclaim/internal/domain"
)

// Tx is one atomic unit of work. Every mutation of the vote ledger, the
// vote-count projection and territory ownership happens through a Tx, so a
// failure anywhere rolls all of them back together.
type Tx interface {
	// LockTerritory takes the per-territory write lock for the rest of the
	// transaction and returns the locked row.
	LockTerritory(ctx context.Context, territoryID string) (domain.Territory, error)
	InsertTerritory(ctx context.Context, territory domain.Territory) error
	DeleteTerritory(ctx context.Context, territoryID string) error
	SetTerritoryOwner(ctx context.Context, territoryID string, ownerID *string) error

	GetClip(ctx context.Context, clipID string) (domain.Clip, error)
	ListClips(ctx context.Context, territoryID string) ([]domain.Clip, error)
	InsertClip(ctx context.Context, clip domain.Clip) error
	DeleteClip(ctx context.Context, clipID string) error
	// AddVoteCount adjusts a clip's projected count by delta, flooring at zero,
	// and returns the new count.
	AddVoteCount(ctx context.Context, clipID string, delta int64) (int64, error)
	SetVoteCount(ctx context.Context, clipID string, count int64) error

	FindTerritoryVote(ctx context.Context, voterID, territoryID string) (*domain.Vote, error)
	InsertVote(ctx context.Context, vote domain.Vote) error
	DeleteVote(ctx context.Context, voteID string) error
	DeleteClipVotes(ctx context.Context, clipID string) (int64, error)
	CountClipVotes(ctx context.Context, territoryID string) (map[string]int64, error)

	ReserveInviteCode(ctx context.Context, code string, at time.Time) (bool, error)
	InsertTeam(ctx context.Context, team domain.Team) error
	TeamByInviteCode(ctx context.Context, code string) (domain.Team, error)
	// AddMember is a no-op when the user is already in this team and fails
	// with domain.ErrAlreadyMember when the user is in another one.
	AddMember(ctx context.Context, membership domain.Membership) error
	RemoveMember(ctx context.Context, userID string) error

	UpsertProfile(ctx context.Context, profile domain.Profile) error
}

// Store is the transactional store plus its lock-free read side
type Store interface {
	// WithTx runs fn in one transaction, committing when fn returns nil.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	GetTerritory(ctx context.Context, territoryID string) (domain.Territory, error)
	ListTerritoryIDs(ctx context.Context) ([]string, error)
	ListOwnerships(ctx context.Context) ([]domain.Ownership, error)
	GetClip(ctx context.Context, clipID string) (domain.Clip, error)
	ListClips(ctx context.Context, territoryID string) ([]domain.Clip, error)
	ListProfiles(ctx context.Context, userIDs []string) (map[string]domain.Profile, error)
	GetTeam(ctx context.Context, teamID string) (domain.Team, error)
	TeamForUser(ctx context.Context, userID string) (domain.Team, error)
	ListTeams(ctx context.Context) ([]domain.Team, error)
	ListMemberships(ctx context.Context) ([]domain.Membership, error)

	RunMigrations(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
