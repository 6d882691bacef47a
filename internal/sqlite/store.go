// Package sqlite provides an embedded SQLite implementation of the engine's
// transactional store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/spotclaim/internal/domain"
	"github.com/spotclaim/internal/store"
	_ "modernc.org/sqlite"
)

// Store persists engine state in a single SQLite file. SQLite admits one
// writer at a time, so the pool is held to one connection and every
// transaction is serialized.
type Store struct {
	sqlDB     *sql.DB
	txTimeout time.Duration
	logger    *slog.Logger
}

var _ store.Store = (*Store)(nil)

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite store. Call RunMigrations before use.
func Open(path string, txTimeout time.Duration, logger *slog.Logger) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, classify("ping sqlite db", err)
	}
	return &Store{sqlDB: sqlDB, txTimeout: txTimeout, logger: logger}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Ping checks that the database is reachable
func (s *Store) Ping(ctx context.Context) error {
	return classify("ping sqlite db", s.sqlDB.PingContext(ctx))
}

// RunMigrations creates the schema if it does not exist
func (s *Store) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS territories (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			owner_id TEXT,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS clips (
			id TEXT PRIMARY KEY,
			territory_id TEXT NOT NULL REFERENCES territories(id),
			owner_id TEXT NOT NULL,
			vote_count INTEGER NOT NULL DEFAULT 0 CHECK (vote_count >= 0),
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS votes (
			id TEXT PRIMARY KEY,
			voter_id TEXT NOT NULL,
			clip_id TEXT NOT NULL REFERENCES clips(id),
			territory_id TEXT NOT NULL,
			cast_at INTEGER NOT NULL,
			UNIQUE (clip_id, voter_id),
			UNIQUE (voter_id, territory_id)
		)`,
		`CREATE TABLE IF NOT EXISTS invite_codes (
			code TEXT PRIMARY KEY,
			reserved_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS teams (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			invite_code TEXT NOT NULL UNIQUE REFERENCES invite_codes(code),
			owner_id TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS memberships (
			team_id TEXT NOT NULL REFERENCES teams(id) ON DELETE CASCADE,
			user_id TEXT NOT NULL UNIQUE,
			joined_at INTEGER NOT NULL,
			PRIMARY KEY (team_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS profiles (
			id TEXT PRIMARY KEY,
			handle TEXT,
			display_name TEXT NOT NULL DEFAULT '',
			updated_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_clips_territory ON clips(territory_id, vote_count DESC, created_at ASC)`,
		`CREATE INDEX IF NOT EXISTS idx_territories_owner ON territories(owner_id)`,
	}

	for _, migration := range migrations {
		if _, err := s.sqlDB.ExecContext(ctx, migration); err != nil {
			return classify("executing migration", err)
		}
	}

	s.logger.Info("database migrations completed", "driver", "sqlite")
	return nil
}

// WithTx runs fn in one transaction. The single connection means the
// transaction holds the database write lock for its whole duration.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	if s.txTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.txTimeout)
		defer cancel()
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return classify("begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(ctx, &sqliteTx{q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return classify("commit transaction", err)
	}
	return nil
}

// GetTerritory returns one territory by ID
func (s *Store) GetTerritory(ctx context.Context, territoryID string) (domain.Territory, error) {
	return getTerritory(ctx, s.sqlDB, territoryID)
}

// ListTerritoryIDs returns every territory ID in a stable order
func (s *Store) ListTerritoryIDs(ctx context.Context) ([]string, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT id FROM territories ORDER BY id`)
	if err != nil {
		return nil, classify("list territories", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, classify("scan territory id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list territories", err)
	}
	return ids, nil
}

// ListOwnerships returns all territories that currently have an owner
func (s *Store) ListOwnerships(ctx context.Context) ([]domain.Ownership, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT id, owner_id FROM territories WHERE owner_id IS NOT NULL`)
	if err != nil {
		return nil, classify("list ownerships", err)
	}
	defer rows.Close()

	var ownerships []domain.Ownership
	for rows.Next() {
		var o domain.Ownership
		if err := rows.Scan(&o.TerritoryID, &o.OwnerID); err != nil {
			return nil, classify("scan ownership", err)
		}
		ownerships = append(ownerships, o)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list ownerships", err)
	}
	return ownerships, nil
}

// GetClip returns one clip by ID
func (s *Store) GetClip(ctx context.Context, clipID string) (domain.Clip, error) {
	return getClip(ctx, s.sqlDB, clipID)
}

// ListClips returns a territory's clips in ownership order
func (s *Store) ListClips(ctx context.Context, territoryID string) ([]domain.Clip, error) {
	return listClips(ctx, s.sqlDB, territoryID)
}

// profileBatchSize keeps each IN list well under SQLite's host parameter limit
const profileBatchSize = 500

// ListProfiles returns the profiles of the given users keyed by ID
func (s *Store) ListProfiles(ctx context.Context, userIDs []string) (map[string]domain.Profile, error) {
	profiles := make(map[string]domain.Profile, len(userIDs))
	for start := 0; start < len(userIDs); start += profileBatchSize {
		end := min(start+profileBatchSize, len(userIDs))
		if err := s.listProfileBatch(ctx, userIDs[start:end], profiles); err != nil {
			return nil, err
		}
	}
	return profiles, nil
}

func (s *Store) listProfileBatch(ctx context.Context, userIDs []string, profiles map[string]domain.Profile) error {
	placeholders := make([]string, len(userIDs))
	args := make([]any, len(userIDs))
	for i, id := range userIDs {
		placeholders[i] = "?"
		args[i] = id
	}
	query := `SELECT id, COALESCE(handle, ''), display_name, updated_at FROM profiles WHERE id IN (` +
		strings.Join(placeholders, ", ") + `)`

	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return classify("list profiles", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.Profile
		var updatedAt int64
		if err := rows.Scan(&p.ID, &p.Handle, &p.DisplayName, &updatedAt); err != nil {
			return classify("scan profile", err)
		}
		p.UpdatedAt = fromMillis(updatedAt)
		profiles[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return classify("list profiles", err)
	}
	return nil
}

// GetTeam returns one team by ID
func (s *Store) GetTeam(ctx context.Context, teamID string) (domain.Team, error) {
	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT id, name, invite_code, owner_id, created_at FROM teams WHERE id = ?`, teamID)
	return scanTeam(row, domain.ErrTeamNotFound)
}

// TeamForUser returns the team the user belongs to
func (s *Store) TeamForUser(ctx context.Context, userID string) (domain.Team, error) {
	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT t.id, t.name, t.invite_code, t.owner_id, t.created_at
		   FROM teams t
		   JOIN memberships m ON m.team_id = t.id
		  WHERE m.user_id = ?`, userID)
	return scanTeam(row, domain.ErrTeamNotFound)
}

// ListTeams returns all teams
func (s *Store) ListTeams(ctx context.Context) ([]domain.Team, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT id, name, invite_code, owner_id, created_at FROM teams ORDER BY created_at`)
	if err != nil {
		return nil, classify("list teams", err)
	}
	defer rows.Close()

	var teams []domain.Team
	for rows.Next() {
		team, err := scanTeam(rows, domain.ErrTeamNotFound)
		if err != nil {
			return nil, err
		}
		teams = append(teams, team)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list teams", err)
	}
	return teams, nil
}

// ListMemberships returns all team memberships
func (s *Store) ListMemberships(ctx context.Context) ([]domain.Membership, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT team_id, user_id, joined_at FROM memberships`)
	if err != nil {
		return nil, classify("list memberships", err)
	}
	defer rows.Close()

	var memberships []domain.Membership
	for rows.Next() {
		var m domain.Membership
		var joinedAt int64
		if err := rows.Scan(&m.TeamID, &m.UserID, &joinedAt); err != nil {
			return nil, classify("scan membership", err)
		}
		m.JoinedAt = fromMillis(joinedAt)
		memberships = append(memberships, m)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list memberships", err)
	}
	return memberships, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTeam(row rowScanner, notFound error) (domain.Team, error) {
	var t domain.Team
	var createdAt int64
	if err := row.Scan(&t.ID, &t.Name, &t.InviteCode, &t.OwnerID, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Team{}, notFound
		}
		return domain.Team{}, classify("get team", err)
	}
	t.CreatedAt = fromMillis(createdAt)
	return t, nil
}
