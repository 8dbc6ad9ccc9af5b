package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JoshuaJosiahMcMahon/SkillSwapFinalSubmission/internal/models"
)

// SessionStore is the pool-backed session persistence used by the scheduling
// engine. It layers the two booking operations that need a transaction over
// the plain row-level repository: conflict checks and writes for the same
// tutor serialize on pg_advisory_xact_lock, so two concurrent bookings (or
// accepts) of the same slot cannot both pass the check.
type SessionStore struct {
	*SessionRepository
	pool *pgxpool.Pool
}

func NewSessionStore(pool *pgxpool.Pool) *SessionStore {
	return &SessionStore{
		SessionRepository: NewSessionRepository(pool),
		pool:              pool,
	}
}

// CreateIfSlotFree inserts a requested session unless the tutor already has a
// live booking at the same timestamp. The bool result reports a conflict.
func (s *SessionStore) CreateIfSlotFree(
	ctx context.Context,
	input CreateSessionInput,
) (*models.Session, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, false, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", input.TutorID); err != nil {
		return nil, false, err
	}

	txRepo := NewSessionRepository(tx)

	hasConflict, err := txRepo.HasTimeConflict(ctx, input.TutorID, input.ScheduledTime, 0)
	if err != nil {
		return nil, false, err
	}
	if hasConflict {
		return nil, true, nil
	}

	session, err := txRepo.Create(ctx, input)
	if err != nil {
		return nil, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}
	return session, false, nil
}

// AcceptIfSlotFree re-validates the slot under the tutor lock and moves the
// session from requested to scheduled in the same transaction. Returns
// pgx.ErrNoRows when the session is no longer in requested state.
func (s *SessionStore) AcceptIfSlotFree(
	ctx context.Context,
	sessionID int64,
	scheduledTime time.Time,
) (*models.Session, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, false, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	txRepo := NewSessionRepository(tx)

	session, err := txRepo.GetByID(ctx, sessionID)
	if err != nil {
		return nil, false, err
	}

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", session.TutorID); err != nil {
		return nil, false, err
	}

	hasConflict, err := txRepo.HasTimeConflict(ctx, session.TutorID, scheduledTime, sessionID)
	if err != nil {
		return nil, false, err
	}
	if hasConflict {
		return nil, true, nil
	}

	updated, err := txRepo.UpdateStatusIfCurrent(
		ctx,
		sessionID,
		models.SessionStatusRequested,
		models.SessionStatusScheduled,
	)
	if err != nil {
		return nil, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}
	return updated, false, nil
}
