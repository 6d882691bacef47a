package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/spotclaim/internal/domain"
	"github.com/spotclaim/internal/store"
)

// querier is satisfied by both *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type sqliteTx struct {
	q querier
}

var _ store.Tx = (*sqliteTx)(nil)

func nullableString(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	v := value.String
	return &v
}

func getTerritory(ctx context.Context, q querier, territoryID string) (domain.Territory, error) {
	var t domain.Territory
	var ownerID sql.NullString
	var createdAt int64
	err := q.QueryRowContext(ctx,
		`SELECT id, name, owner_id, created_at FROM territories WHERE id = ?`, territoryID,
	).Scan(&t.ID, &t.Name, &ownerID, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Territory{}, domain.ErrTerritoryNotFound
		}
		return domain.Territory{}, classify("get territory", err)
	}
	t.OwnerID = nullableString(ownerID)
	t.CreatedAt = fromMillis(createdAt)
	return t, nil
}

func scanClip(row rowScanner) (domain.Clip, error) {
	var c domain.Clip
	var createdAt int64
	if err := row.Scan(&c.ID, &c.TerritoryID, &c.OwnerID, &c.VoteCount, &createdAt); err != nil {
		return domain.Clip{}, err
	}
	c.CreatedAt = fromMillis(createdAt)
	return c, nil
}

func getClip(ctx context.Context, q querier, clipID string) (domain.Clip, error) {
	c, err := scanClip(q.QueryRowContext(ctx,
		`SELECT id, territory_id, owner_id, vote_count, created_at FROM clips WHERE id = ?`, clipID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Clip{}, domain.ErrInvalidClip
		}
		return domain.Clip{}, classify("get clip", err)
	}
	return c, nil
}

func listClips(ctx context.Context, q querier, territoryID string) ([]domain.Clip, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, territory_id, owner_id, vote_count, created_at
		   FROM clips
		  WHERE territory_id = ?
		  ORDER BY vote_count DESC, created_at ASC, id ASC`, territoryID)
	if err != nil {
		return nil, classify("list clips", err)
	}
	defer rows.Close()

	clips := []domain.Clip{}
	for rows.Next() {
		c, err := scanClip(rows)
		if err != nil {
			return nil, classify("scan clip", err)
		}
		clips = append(clips, c)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list clips", err)
	}
	return clips, nil
}

// LockTerritory reads the territory row. The transaction already holds the
// database write lock, so no row lock is needed.
func (t *sqliteTx) LockTerritory(ctx context.Context, territoryID string) (domain.Territory, error) {
	return getTerritory(ctx, t.q, territoryID)
}

func (t *sqliteTx) InsertTerritory(ctx context.Context, territory domain.Territory) error {
	_, err := t.q.ExecContext(ctx,
		`INSERT INTO territories (id, name, owner_id, created_at)
		 VALUES (?, ?, NULL, ?)
		 ON CONFLICT (id) DO NOTHING`,
		territory.ID, territory.Name, toMillis(territory.CreatedAt))
	if err != nil {
		return classify("insert territory", err)
	}
	return nil
}

func (t *sqliteTx) DeleteTerritory(ctx context.Context, territoryID string) error {
	if _, err := t.q.ExecContext(ctx, `DELETE FROM votes WHERE territory_id = ?`, territoryID); err != nil {
		return classify("delete territory votes", err)
	}
	if _, err := t.q.ExecContext(ctx, `DELETE FROM clips WHERE territory_id = ?`, territoryID); err != nil {
		return classify("delete territory clips", err)
	}
	result, err := t.q.ExecContext(ctx, `DELETE FROM territories WHERE id = ?`, territoryID)
	if err != nil {
		return classify("delete territory", err)
	}
	return requireAffected(result, domain.ErrTerritoryNotFound)
}

func (t *sqliteTx) SetTerritoryOwner(ctx context.Context, territoryID string, ownerID *string) error {
	result, err := t.q.ExecContext(ctx,
		`UPDATE territories SET owner_id = ? WHERE id = ?`, ownerID, territoryID)
	if err != nil {
		return classify("set territory owner", err)
	}
	return requireAffected(result, domain.ErrTerritoryNotFound)
}

func (t *sqliteTx) GetClip(ctx context.Context, clipID string) (domain.Clip, error) {
	return getClip(ctx, t.q, clipID)
}

func (t *sqliteTx) ListClips(ctx context.Context, territoryID string) ([]domain.Clip, error) {
	return listClips(ctx, t.q, territoryID)
}

func (t *sqliteTx) InsertClip(ctx context.Context, clip domain.Clip) error {
	_, err := t.q.ExecContext(ctx,
		`INSERT INTO clips (id, territory_id, owner_id, vote_count, created_at)
		 VALUES (?, ?, ?, 0, ?)
		 ON CONFLICT (id) DO NOTHING`,
		clip.ID, clip.TerritoryID, clip.OwnerID, toMillis(clip.CreatedAt))
	if err != nil {
		return classify("insert clip", err)
	}
	return nil
}

func (t *sqliteTx) DeleteClip(ctx context.Context, clipID string) error {
	result, err := t.q.ExecContext(ctx, `DELETE FROM clips WHERE id = ?`, clipID)
	if err != nil {
		return classify("delete clip", err)
	}
	return requireAffected(result, domain.ErrInvalidClip)
}

func (t *sqliteTx) AddVoteCount(ctx context.Context, clipID string, delta int64) (int64, error) {
	var count int64
	err := t.q.QueryRowContext(ctx,
		`UPDATE clips
		    SET vote_count = MAX(COALESCE(vote_count, 0) + ?, 0)
		  WHERE id = ?
		 RETURNING vote_count`, delta, clipID).Scan(&count)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, domain.ErrInvalidClip
		}
		return 0, classify("adjust vote count", err)
	}
	return count, nil
}

func (t *sqliteTx) SetVoteCount(ctx context.Context, clipID string, count int64) error {
	result, err := t.q.ExecContext(ctx, `UPDATE clips SET vote_count = ? WHERE id = ?`, count, clipID)
	if err != nil {
		return classify("set vote count", err)
	}
	return requireAffected(result, domain.ErrInvalidClip)
}

func (t *sqliteTx) FindTerritoryVote(ctx context.Context, voterID, territoryID string) (*domain.Vote, error) {
	var v domain.Vote
	var castAt int64
	err := t.q.QueryRowContext(ctx,
		`SELECT id, voter_id, clip_id, territory_id, cast_at
		   FROM votes
		  WHERE voter_id = ? AND territory_id = ?`, voterID, territoryID,
	).Scan(&v.ID, &v.VoterID, &v.ClipID, &v.TerritoryID, &castAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, classify("find territory vote", err)
	}
	v.CastAt = fromMillis(castAt)
	return &v, nil
}

func (t *sqliteTx) InsertVote(ctx context.Context, vote domain.Vote) error {
	_, err := t.q.ExecContext(ctx,
		`INSERT INTO votes (id, voter_id, clip_id, territory_id, cast_at) VALUES (?, ?, ?, ?, ?)`,
		vote.ID, vote.VoterID, vote.ClipID, vote.TerritoryID, toMillis(vote.CastAt))
	if err != nil {
		return classify("insert vote", err)
	}
	return nil
}

func (t *sqliteTx) DeleteVote(ctx context.Context, voteID string) error {
	result, err := t.q.ExecContext(ctx, `DELETE FROM votes WHERE id = ?`, voteID)
	if err != nil {
		return classify("delete vote", err)
	}
	return requireAffected(result, domain.ErrVoteNotFound)
}

func (t *sqliteTx) DeleteClipVotes(ctx context.Context, clipID string) (int64, error) {
	result, err := t.q.ExecContext(ctx, `DELETE FROM votes WHERE clip_id = ?`, clipID)
	if err != nil {
		return 0, classify("delete clip votes", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, classify("delete clip votes", err)
	}
	return n, nil
}

func (t *sqliteTx) CountClipVotes(ctx context.Context, territoryID string) (map[string]int64, error) {
	rows, err := t.q.QueryContext(ctx,
		`SELECT c.id, COUNT(v.id)
		   FROM clips c
		   LEFT JOIN votes v ON v.clip_id = c.id
		  WHERE c.territory_id = ?
		  GROUP BY c.id`, territoryID)
	if err != nil {
		return nil, classify("count clip votes", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var clipID string
		var count int64
		if err := rows.Scan(&clipID, &count); err != nil {
			return nil, classify("scan vote count", err)
		}
		counts[clipID] = count
	}
	if err := rows.Err(); err != nil {
		return nil, classify("count clip votes", err)
	}
	return counts, nil
}

func (t *sqliteTx) ReserveInviteCode(ctx context.Context, code string, at time.Time) (bool, error) {
	result, err := t.q.ExecContext(ctx,
		`INSERT INTO invite_codes (code, reserved_at) VALUES (?, ?) ON CONFLICT (code) DO NOTHING`,
		code, toMillis(at))
	if err != nil {
		return false, classify("reserve invite code", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, classify("reserve invite code", err)
	}
	return n == 1, nil
}

func (t *sqliteTx) InsertTeam(ctx context.Context, team domain.Team) error {
	_, err := t.q.ExecContext(ctx,
		`INSERT INTO teams (id, name, invite_code, owner_id, created_at) VALUES (?, ?, ?, ?, ?)`,
		team.ID, team.Name, team.InviteCode, team.OwnerID, toMillis(team.CreatedAt))
	if err != nil {
		return classify("insert team", err)
	}
	return nil
}

func (t *sqliteTx) TeamByInviteCode(ctx context.Context, code string) (domain.Team, error) {
	row := t.q.QueryRowContext(ctx,
		`SELECT id, name, invite_code, owner_id, created_at FROM teams WHERE invite_code = ?`,
		strings.ToUpper(code))
	return scanTeam(row, domain.ErrInvalidInviteCode)
}

func (t *sqliteTx) AddMember(ctx context.Context, membership domain.Membership) error {
	res, err := t.q.ExecContext(ctx,
		`INSERT INTO memberships (team_id, user_id, joined_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT DO NOTHING`,
		membership.TeamID, membership.UserID, toMillis(membership.JoinedAt))
	if err != nil {
		return classify("add member", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return classify("add member", err)
	}
	if affected > 0 {
		return nil
	}

	var teamID string
	err = t.q.QueryRowContext(ctx, `SELECT team_id FROM memberships WHERE user_id = ?`, membership.UserID).Scan(&teamID)
	if err != nil {
		return classify("add member", err)
	}
	if teamID != membership.TeamID {
		return domain.ErrAlreadyMember
	}
	return nil
}

func (t *sqliteTx) RemoveMember(ctx context.Context, userID string) error {
	if _, err := t.q.ExecContext(ctx, `DELETE FROM memberships WHERE user_id = ?`, userID); err != nil {
		return classify("remove member", err)
	}
	return nil
}

func (t *sqliteTx) UpsertProfile(ctx context.Context, profile domain.Profile) error {
	_, err := t.q.ExecContext(ctx,
		`INSERT INTO profiles (id, handle, display_name, updated_at)
		 VALUES (?, NULLIF(?, ''), ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   handle = excluded.handle,
		   display_name = excluded.display_name,
		   updated_at = excluded.updated_at`,
		profile.ID, profile.Handle, profile.DisplayName, toMillis(profile.UpdatedAt))
	if err != nil {
		return classify("upsert profile", err)
	}
	return nil
}

func requireAffected(result sql.Result, notFound error) error {
	n, err := result.RowsAffected()
	if err != nil {
		return classify("rows affected", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
