package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spotclaim/internal/config"
	"github.com/spotclaim/internal/domain"
	"github.com/spotclaim/internal/store"
)

// Repository provides PostgreSQL-based data access
type Repository struct {
	pool        *pgxpool.Pool
	txTimeout   time.Duration
	lockTimeout time.Duration
	logger      *slog.Logger
}

var _ store.Store = (*Repository)(nil)

// NewRepository creates a new PostgreSQL repository
func NewRepository(cfg *config.PostgresConfig, txTimeout time.Duration, logger *slog.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, classify("connecting to database", err)
	}

	return NewRepositoryFromPool(pool, txTimeout, cfg.LockTimeout, logger), nil
}

// NewRepositoryFromPool wraps an existing pool
func NewRepositoryFromPool(pool *pgxpool.Pool, txTimeout, lockTimeout time.Duration, logger *slog.Logger) *Repository {
	return &Repository{
		pool:        pool,
		txTimeout:   txTimeout,
		lockTimeout: lockTimeout,
		logger:      logger,
	}
}

// Close closes the database connection pool
func (r *Repository) Close() error {
	r.pool.Close()
	return nil
}

// Ping checks that the database is reachable
func (r *Repository) Ping(ctx context.Context) error {
	return classify("pinging database", r.pool.Ping(ctx))
}

// RunMigrations executes database migrations
func (r *Repository) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS territories (
			id VARCHAR(64) PRIMARY KEY,
			name VARCHAR(255) NOT NULL DEFAULT '',
			owner_id VARCHAR(64),
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS clips (
			id VARCHAR(64) PRIMARY KEY,
			territory_id VARCHAR(64) NOT NULL REFERENCES territories(id),
			owner_id VARCHAR(64) NOT NULL,
			vote_count BIGINT NOT NULL DEFAULT 0 CHECK (vote_count >= 0),
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS votes (
			id VARCHAR(64) PRIMARY KEY,
			voter_id VARCHAR(64) NOT NULL,
			clip_id VARCHAR(64) NOT NULL REFERENCES clips(id),
			territory_id VARCHAR(64) NOT NULL,
			cast_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			CONSTRAINT votes_clip_voter_key UNIQUE (clip_id, voter_id),
			CONSTRAINT votes_voter_territory_key UNIQUE (voter_id, territory_id)
		)`,
		`CREATE TABLE IF NOT EXISTS invite_codes (
			code VARCHAR(16) PRIMARY KEY,
			reserved_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS teams (
			id VARCHAR(64) PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			invite_code VARCHAR(16) NOT NULL UNIQUE REFERENCES invite_codes(code),
			owner_id VARCHAR(64) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS memberships (
			team_id VARCHAR(64) NOT NULL REFERENCES teams(id) ON DELETE CASCADE,
			user_id VARCHAR(64) NOT NULL,
			joined_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (team_id, user_id),
			CONSTRAINT memberships_user_key UNIQUE (user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS profiles (
			id VARCHAR(64) PRIMARY KEY,
			handle VARCHAR(64),
			display_name VARCHAR(255) NOT NULL DEFAULT '',
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_clips_territory ON clips(territory_id, vote_count DESC, created_at ASC)`,
		`CREATE INDEX IF NOT EXISTS idx_territories_owner ON territories(owner_id) WHERE owner_id IS NOT NULL`,
	}

	for _, migration := range migrations {
		_, err := r.pool.Exec(ctx, migration)
		if err != nil {
			return classify("executing migration", err)
		}
	}

	r.logger.Info("database migrations completed")
	return nil
}

// WithTx runs fn inside a read-committed transaction. Territory rows are
// locked explicitly by the engine, and lock waits are bounded by lock_timeout.
func (r *Repository) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	if r.txTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.txTimeout)
		defer cancel()
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return classify("beginning transaction", err)
	}
	defer func() {
		_ = tx.Rollback(context.WithoutCancel(ctx))
	}()

	if r.lockTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", r.lockTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return classify("setting lock timeout", err)
		}
	}

	if err := fn(ctx, &pgTx{q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return classify("committing transaction", err)
	}
	return nil
}

// GetTerritory retrieves a territory by ID
func (r *Repository) GetTerritory(ctx context.Context, territoryID string) (domain.Territory, error) {
	return getTerritory(ctx, r.pool, territoryID, false)
}

// ListTerritoryIDs returns every territory ID in a stable order
func (r *Repository) ListTerritoryIDs(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM territories ORDER BY id`)
	if err != nil {
		return nil, classify("listing territories", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, classify("scanning territory id", err)
	}
	return ids, nil
}

// ListOwnerships returns all territories that currently have an owner
func (r *Repository) ListOwnerships(ctx context.Context) ([]domain.Ownership, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, owner_id FROM territories WHERE owner_id IS NOT NULL`)
	if err != nil {
		return nil, classify("listing ownerships", err)
	}
	defer rows.Close()

	var ownerships []domain.Ownership
	for rows.Next() {
		var o domain.Ownership
		if err := rows.Scan(&o.TerritoryID, &o.OwnerID); err != nil {
			return nil, classify("scanning ownership", err)
		}
		ownerships = append(ownerships, o)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("listing ownerships", err)
	}
	return ownerships, nil
}

// GetClip retrieves a clip by ID
func (r *Repository) GetClip(ctx context.Context, clipID string) (domain.Clip, error) {
	return getClip(ctx, r.pool, clipID)
}

// ListClips returns a territory's clips in ownership order
func (r *Repository) ListClips(ctx context.Context, territoryID string) ([]domain.Clip, error) {
	return listClips(ctx, r.pool, territoryID)
}

// ListProfiles returns the profiles of the given users keyed by ID
func (r *Repository) ListProfiles(ctx context.Context, userIDs []string) (map[string]domain.Profile, error) {
	profiles := make(map[string]domain.Profile, len(userIDs))
	if len(userIDs) == 0 {
		return profiles, nil
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, COALESCE(handle, ''), display_name, updated_at FROM profiles WHERE id = ANY($1)`,
		userIDs,
	)
	if err != nil {
		return nil, classify("listing profiles", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.Profile
		if err := rows.Scan(&p.ID, &p.Handle, &p.DisplayName, &p.UpdatedAt); err != nil {
			return nil, classify("scanning profile", err)
		}
		p.UpdatedAt = p.UpdatedAt.UTC()
		profiles[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, classify("listing profiles", err)
	}
	return profiles, nil
}

// GetTeam retrieves a team by ID
func (r *Repository) GetTeam(ctx context.Context, teamID string) (domain.Team, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, name, invite_code, owner_id, created_at FROM teams WHERE id = $1`,
		teamID,
	)
	return scanTeam(row, domain.ErrTeamNotFound)
}

// TeamForUser returns the team the user belongs to
func (r *Repository) TeamForUser(ctx context.Context, userID string) (domain.Team, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT t.id, t.name, t.invite_code, t.owner_id, t.created_at
		FROM teams t
		JOIN memberships m ON m.team_id = t.id
		WHERE m.user_id = $1
	`, userID)
	return scanTeam(row, domain.ErrTeamNotFound)
}

// ListTeams retrieves all teams
func (r *Repository) ListTeams(ctx context.Context) ([]domain.Team, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, invite_code, owner_id, created_at FROM teams ORDER BY created_at`,
	)
	if err != nil {
		return nil, classify("listing teams", err)
	}
	defer rows.Close()

	var teams []domain.Team
	for rows.Next() {
		var t domain.Team
		if err := rows.Scan(&t.ID, &t.Name, &t.InviteCode, &t.OwnerID, &t.CreatedAt); err != nil {
			return nil, classify("scanning team", err)
		}
		teams = append(teams, t)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("listing teams", err)
	}
	return teams, nil
}

// ListMemberships retrieves all team memberships
func (r *Repository) ListMemberships(ctx context.Context) ([]domain.Membership, error) {
	rows, err := r.pool.Query(ctx, `SELECT team_id, user_id, joined_at FROM memberships`)
	if err != nil {
		return nil, classify("listing memberships", err)
	}
	defer rows.Close()

	var memberships []domain.Membership
	for rows.Next() {
		var m domain.Membership
		if err := rows.Scan(&m.TeamID, &m.UserID, &m.JoinedAt); err != nil {
			return nil, classify("scanning membership", err)
		}
		memberships = append(memberships, m)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("listing memberships", err)
	}
	return memberships, nil
}
