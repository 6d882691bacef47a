package sqlite

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spotclaim/internal/domain"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// classify maps SQLite errors onto the domain taxonomy, wrapping the domain
// sentinel and keeping the driver error as text.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	kind := kindOf(err)
	if kind == nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %v", op, kind, err)
}

func kindOf(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.ErrConcurrentConflict
	}

	var sqliteErr *msqlite.Error
	if !errors.As(err, &sqliteErr) {
		return nil
	}

	code := sqliteErr.Code()
	switch code {
	case sqlite3lib.SQLITE_CONSTRAINT_UNIQUE, sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY:
		message := strings.ToLower(err.Error())
		switch {
		case strings.Contains(message, "votes.clip_id, votes.voter_id"):
			return domain.ErrDuplicateVote
		case strings.Contains(message, "memberships.user_id"):
			return domain.ErrAlreadyMember
		}
		return domain.ErrConcurrentConflict
	case sqlite3lib.SQLITE_CONSTRAINT_FOREIGNKEY:
		return domain.ErrConcurrentConflict
	}

	switch code & 0xff {
	case sqlite3lib.SQLITE_BUSY, sqlite3lib.SQLITE_LOCKED:
		return domain.ErrConcurrentConflict
	case sqlite3lib.SQLITE_CANTOPEN, sqlite3lib.SQLITE_IOERR, sqlite3lib.SQLITE_FULL:
		return domain.ErrStorageUnavailable
	}
	return nil
}
