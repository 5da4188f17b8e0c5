package database

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// createSavepoint opens a uniquely named savepoint. Outside a transaction
// the engine treats it as BEGIN, so releasing the outermost one commits.
func (s *Session) createSavepoint(ctx context.Context) (string, error) {
	name := "sp_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if _, err := s.conn.ExecContext(ctx, "SAVEPOINT "+quoteIdent(name)); err != nil {
		return "", newError(KindCleanState, "create savepoint", err)
	}
	return name, nil
}

func (s *Session) releaseSavepoint(ctx context.Context, name string) error {
	if name == "" {
		return errorf(KindDirtyState, "release savepoint", "savepoint name is empty")
	}
	if _, err := s.conn.ExecContext(ctx, "RELEASE SAVEPOINT "+quoteIdent(name)); err != nil {
		return newError(KindDirtyState, "release savepoint", err)
	}
	return nil
}

func (s *Session) rollbackToSavepoint(ctx context.Context, name string) error {
	if name == "" {
		return errorf(KindDirtyState, "rollback to savepoint", "savepoint name is empty")
	}
	if _, err := s.conn.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+quoteIdent(name)); err != nil {
		return newError(KindDirtyState, "rollback to savepoint", err)
	}
	return nil
}

// withSavepoint runs fn as one atomic unit. Only public operations call it;
// helpers running inside fn must never open savepoints of their own.
//
// On failure the savepoint is rolled back and released and fn's error is
// returned, escalated to dirty-state unless it already carries a kind. If
// the rollback or the release fails, the error is marked RollbackFailed.
func (s *Session) withSavepoint(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	name, err := s.createSavepoint(ctx)
	if err != nil {
		return err
	}

	fnErr := fn(ctx)
	if fnErr == nil {
		relErr := s.releaseSavepoint(ctx, name)
		if relErr == nil {
			return nil
		}
		fnErr = relErr
	}

	// the rollback must run even if ctx was what failed fn
	cleanupCtx := context.WithoutCancel(ctx)
	savepointRollbacks.WithLabelValues(op).Inc()
	s.invalidateAlbums()

	rbErr := s.rollbackToSavepoint(cleanupCtx, name)
	if rbErr == nil {
		rbErr = s.releaseSavepoint(cleanupCtx, name)
	}
	if rbErr != nil {
		untrustworthyStates.Inc()
		s.logger.Error("savepoint rollback failed, store is untrustworthy",
			zap.String("op", op),
			zap.NamedError("cause", fnErr),
			zap.Error(rbErr))
		return &StoreError{Kind: KindDirtyState, Op: op, Err: errors.Join(fnErr, rbErr), RollbackFailed: true}
	}

	s.logger.Warn("operation rolled back", zap.String("op", op), zap.Error(fnErr))
	return classify(op, fnErr)
}
