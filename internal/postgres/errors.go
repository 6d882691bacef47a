package postgres

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/spotclaim/internal/domain"
)

// SQLSTATE codes the store classifies
const (
	codeUniqueViolation      = "23505"
	codeForeignKeyViolation  = "23503"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
	codeQueryCanceled        = "57014"
)

// classify maps driver errors onto the domain taxonomy. The domain sentinel is
// wrapped so callers can use errors.Is; the driver error is kept as text.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	kind := kindOf(err)
	if kind == nil {
		if op == "" {
			return err
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	if op == "" {
		return fmt.Errorf("%w: %v", kind, err)
	}
	return fmt.Errorf("%s: %w: %v", op, kind, err)
}

func kindOf(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			switch pgErr.ConstraintName {
			case "votes_clip_voter_key":
				return domain.ErrDuplicateVote
			case "memberships_user_key":
				return domain.ErrAlreadyMember
			}
			return domain.ErrConcurrentConflict
		case codeForeignKeyViolation:
			if pgErr.ConstraintName == "memberships_team_id_fkey" {
				return domain.ErrTeamNotFound
			}
			return domain.ErrConcurrentConflict
		case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable, codeQueryCanceled:
			return domain.ErrConcurrentConflict
		}
		// Class 08: connection exception, class 57P: operator intervention
		if len(pgErr.Code) == 5 && (pgErr.Code[:2] == "08" || pgErr.Code[:3] == "57P") {
			return domain.ErrStorageUnavailable
		}
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) {
		return domain.ErrConcurrentConflict
	}

	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return domain.ErrStorageUnavailable
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return domain.ErrStorageUnavailable
	}
	return nil
}
