package postgres

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/spotclaim/internal/domain"
	"github.com/spotclaim/internal/store"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// pgTx implements store.Tx on top of a pgx transaction
type pgTx struct {
	q querier
}

var _ store.Tx = (*pgTx)(nil)

func getTerritory(ctx context.Context, q querier, territoryID string, forUpdate bool) (domain.Territory, error) {
	query := `SELECT id, name, owner_id, created_at FROM territories WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var t domain.Territory
	err := q.QueryRow(ctx, query, territoryID).Scan(&t.ID, &t.Name, &t.OwnerID, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Territory{}, domain.ErrTerritoryNotFound
		}
		return domain.Territory{}, classify("getting territory", err)
	}
	return t, nil
}

func getClip(ctx context.Context, q querier, clipID string) (domain.Clip, error) {
	var c domain.Clip
	err := q.QueryRow(ctx,
		`SELECT id, territory_id, owner_id, vote_count, created_at FROM clips WHERE id = $1`,
		clipID,
	).Scan(&c.ID, &c.TerritoryID, &c.OwnerID, &c.VoteCount, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Clip{}, domain.ErrInvalidClip
		}
		return domain.Clip{}, classify("getting clip", err)
	}
	return c, nil
}

func listClips(ctx context.Context, q querier, territoryID string) ([]domain.Clip, error) {
	rows, err := q.Query(ctx, `
		SELECT id, territory_id, owner_id, vote_count, created_at
		FROM clips
		WHERE territory_id = $1
		ORDER BY vote_count DESC, created_at ASC, id ASC
	`, territoryID)
	if err != nil {
		return nil, classify("listing clips", err)
	}
	defer rows.Close()

	clips := []domain.Clip{}
	for rows.Next() {
		var c domain.Clip
		if err := rows.Scan(&c.ID, &c.TerritoryID, &c.OwnerID, &c.VoteCount, &c.CreatedAt); err != nil {
			return nil, classify("scanning clip", err)
		}
		clips = append(clips, c)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("listing clips", err)
	}
	return clips, nil
}

func scanTeam(row pgx.Row, notFound error) (domain.Team, error) {
	var t domain.Team
	if err := row.Scan(&t.ID, &t.Name, &t.InviteCode, &t.OwnerID, &t.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Team{}, notFound
		}
		return domain.Team{}, classify("getting team", err)
	}
	return t, nil
}

func (t *pgTx) LockTerritory(ctx context.Context, territoryID string) (domain.Territory, error) {
	return getTerritory(ctx, t.q, territoryID, true)
}

func (t *pgTx) InsertTerritory(ctx context.Context, territory domain.Territory) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO territories (id, name, owner_id, created_at)
		VALUES ($1, $2, NULL, $3)
		ON CONFLICT (id) DO NOTHING
	`, territory.ID, territory.Name, territory.CreatedAt)
	if err != nil {
		return classify("inserting territory", err)
	}
	return nil
}

func (t *pgTx) DeleteTerritory(ctx context.Context, territoryID string) error {
	if _, err := t.q.Exec(ctx, `DELETE FROM votes WHERE territory_id = $1`, territoryID); err != nil {
		return classify("deleting territory votes", err)
	}
	if _, err := t.q.Exec(ctx, `DELETE FROM clips WHERE territory_id = $1`, territoryID); err != nil {
		return classify("deleting territory clips", err)
	}
	result, err := t.q.Exec(ctx, `DELETE FROM territories WHERE id = $1`, territoryID)
	if err != nil {
		return classify("deleting territory", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrTerritoryNotFound
	}
	return nil
}

func (t *pgTx) SetTerritoryOwner(ctx context.Context, territoryID string, ownerID *string) error {
	result, err := t.q.Exec(ctx, `UPDATE territories SET owner_id = $2 WHERE id = $1`, territoryID, ownerID)
	if err != nil {
		return classify("setting territory owner", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrTerritoryNotFound
	}
	return nil
}

func (t *pgTx) GetClip(ctx context.Context, clipID string) (domain.Clip, error) {
	return getClip(ctx, t.q, clipID)
}

func (t *pgTx) ListClips(ctx context.Context, territoryID string) ([]domain.Clip, error) {
	return listClips(ctx, t.q, territoryID)
}

func (t *pgTx) InsertClip(ctx context.Context, clip domain.Clip) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO clips (id, territory_id, owner_id, vote_count, created_at)
		VALUES ($1, $2, $3, 0, $4)
		ON CONFLICT (id) DO NOTHING
	`, clip.ID, clip.TerritoryID, clip.OwnerID, clip.CreatedAt)
	if err != nil {
		return classify("inserting clip", err)
	}
	return nil
}

func (t *pgTx) DeleteClip(ctx context.Context, clipID string) error {
	result, err := t.q.Exec(ctx, `DELETE FROM clips WHERE id = $1`, clipID)
	if err != nil {
		return classify("deleting clip", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrInvalidClip
	}
	return nil
}

func (t *pgTx) AddVoteCount(ctx context.Context, clipID string, delta int64) (int64, error) {
	var count int64
	err := t.q.QueryRow(ctx, `
		UPDATE clips
		SET vote_count = GREATEST(COALESCE(vote_count, 0) + $2, 0)
		WHERE id = $1
		RETURNING vote_count
	`, clipID, delta).Scan(&count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrInvalidClip
		}
		return 0, classify("adjusting vote count", err)
	}
	return count, nil
}

func (t *pgTx) SetVoteCount(ctx context.Context, clipID string, count int64) error {
	result, err := t.q.Exec(ctx, `UPDATE clips SET vote_count = $2 WHERE id = $1`, clipID, count)
	if err != nil {
		return classify("setting vote count", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrInvalidClip
	}
	return nil
}

func (t *pgTx) FindTerritoryVote(ctx context.Context, voterID, territoryID string) (*domain.Vote, error) {
	var v domain.Vote
	err := t.q.QueryRow(ctx, `
		SELECT id, voter_id, clip_id, territory_id, cast_at
		FROM votes
		WHERE voter_id = $1 AND territory_id = $2
	`, voterID, territoryID).Scan(&v.ID, &v.VoterID, &v.ClipID, &v.TerritoryID, &v.CastAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, classify("finding territory vote", err)
	}
	return &v, nil
}

func (t *pgTx) InsertVote(ctx context.Context, vote domain.Vote) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO votes (id, voter_id, clip_id, territory_id, cast_at)
		VALUES ($1, $2, $3, $4, $5)
	`, vote.ID, vote.VoterID, vote.ClipID, vote.TerritoryID, vote.CastAt)
	if err != nil {
		return classify("inserting vote", err)
	}
	return nil
}

func (t *pgTx) DeleteVote(ctx context.Context, voteID string) error {
	result, err := t.q.Exec(ctx, `DELETE FROM votes WHERE id = $1`, voteID)
	if err != nil {
		return classify("deleting vote", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrVoteNotFound
	}
	return nil
}

func (t *pgTx) DeleteClipVotes(ctx context.Context, clipID string) (int64, error) {
	result, err := t.q.Exec(ctx, `DELETE FROM votes WHERE clip_id = $1`, clipID)
	if err != nil {
		return 0, classify("deleting clip votes", err)
	}
	return result.RowsAffected(), nil
}

func (t *pgTx) CountClipVotes(ctx context.Context, territoryID string) (map[string]int64, error) {
	rows, err := t.q.Query(ctx, `
		SELECT c.id, COUNT(v.id)
		FROM clips c
		LEFT JOIN votes v ON v.clip_id = c.id
		WHERE c.territory_id = $1
		GROUP BY c.id
	`, territoryID)
	if err != nil {
		return nil, classify("counting clip votes", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var clipID string
		var count int64
		if err := rows.Scan(&clipID, &count); err != nil {
			return nil, classify("scanning vote count", err)
		}
		counts[clipID] = count
	}
	if err := rows.Err(); err != nil {
		return nil, classify("counting clip votes", err)
	}
	return counts, nil
}

func (t *pgTx) ReserveInviteCode(ctx context.Context, code string, at time.Time) (bool, error) {
	result, err := t.q.Exec(ctx, `
		INSERT INTO invite_codes (code, reserved_at)
		VALUES ($1, $2)
		ON CONFLICT (code) DO NOTHING
	`, code, at)
	if err != nil {
		return false, classify("reserving invite code", err)
	}
	return result.RowsAffected() == 1, nil
}

func (t *pgTx) InsertTeam(ctx context.Context, team domain.Team) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO teams (id, name, invite_code, owner_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, team.ID, team.Name, team.InviteCode, team.OwnerID, team.CreatedAt)
	if err != nil {
		return classify("inserting team", err)
	}
	return nil
}

func (t *pgTx) TeamByInviteCode(ctx context.Context, code string) (domain.Team, error) {
	row := t.q.QueryRow(ctx,
		`SELECT id, name, invite_code, owner_id, created_at FROM teams WHERE invite_code = $1`,
		strings.ToUpper(code),
	)
	return scanTeam(row, domain.ErrInvalidInviteCode)
}

func (t *pgTx) AddMember(ctx context.Context, membership domain.Membership) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO memberships (team_id, user_id, joined_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (team_id, user_id) DO NOTHING
	`, membership.TeamID, membership.UserID, membership.JoinedAt)
	if err != nil {
		return classify("adding member", err)
	}
	return nil
}

func (t *pgTx) RemoveMember(ctx context.Context, userID string) error {
	if _, err := t.q.Exec(ctx, `DELETE FROM memberships WHERE user_id = $1`, userID); err != nil {
		return classify("removing member", err)
	}
	return nil
}

func (t *pgTx) UpsertProfile(ctx context.Context, profile domain.Profile) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO profiles (id, handle, display_name, updated_at)
		VALUES ($1, NULLIF($2, ''), $3, $4)
		ON CONFLICT (id)
		DO UPDATE SET handle = EXCLUDED.handle, display_name = EXCLUDED.display_name, updated_at = EXCLUDED.updated_at
	`, profile.ID, profile.Handle, profile.DisplayName, profile.UpdatedAt)
	if err != nil {
		return classify("upserting profile", err)
	}
	return nil
}
