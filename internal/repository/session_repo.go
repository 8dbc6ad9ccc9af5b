package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JoshuaJosiahMcMahon/SkillSwapFinalSubmission/internal/models"
)

type CreateSessionInput struct {
	TutorID       int64
	TuteeID       int64
	SkillID       int64
	ScheduledTime time.Time
	PointCost     int
}

type SessionListFilter struct {
	Status string
}

const sessionColumns = `id, tutor_id, tutee_id, skill_id, status, scheduled_time, point_cost, tutor_confirmed, tutee_confirmed, cancelled_by, cancellation_reason, penalty_points, completed_at, created_at`

type SessionRepository struct {
	db DBTX
}

func NewSessionRepository(db DBTX) *SessionRepository {
	return &SessionRepository{db: db}
}

func scanSession(row pgx.Row) (*models.Session, error) {
	var session models.Session
	err := row.Scan(
		&session.ID,
		&session.TutorID,
		&session.TuteeID,
		&session.SkillID,
		&session.Status,
		&session.ScheduledTime,
		&session.PointCost,
		&session.TutorConfirmed,
		&session.TuteeConfirmed,
		&session.CancelledBy,
		&session.CancellationReason,
		&session.PenaltyPoints,
		&session.CompletedAt,
		&session.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *SessionRepository) Create(ctx context.Context, input CreateSessionInput) (*models.Session, error) {
	query := `
		INSERT INTO sessions (tutor_id, tutee_id, skill_id, status, scheduled_time, point_cost)
		VALUES ($1, $2, $3, 'requested', $4, $5)
		RETURNING ` + sessionColumns + `
	`
	return scanSession(r.db.QueryRow(
		ctx,
		query,
		input.TutorID,
		input.TuteeID,
		input.SkillID,
		input.ScheduledTime,
		input.PointCost,
	))
}

func (r *SessionRepository) GetByID(ctx context.Context, sessionID int64) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`
	return scanSession(r.db.QueryRow(ctx, query, sessionID))
}

func (r *SessionRepository) ListByUser(
	ctx context.Context,
	userID int64,
	filter SessionListFilter,
) ([]models.Session, error) {
	args := []any{userID}
	whereParts := []string{"(tutor_id = $1 OR tutee_id = $1)"}

	if status := strings.TrimSpace(filter.Status); status != "" {
		args = append(args, status)
		whereParts = append(whereParts, fmt.Sprintf("status = $%d", len(args)))
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM sessions
		WHERE %s
		ORDER BY created_at DESC, id DESC
	`, sessionColumns, strings.Join(whereParts, " AND "))

	return r.collect(ctx, query, args...)
}

func (r *SessionRepository) ListByTutor(
	ctx context.Context,
	tutorID int64,
	filter SessionListFilter,
) ([]models.Session, error) {
	args := []any{tutorID}
	whereParts := []string{"tutor_id = $1"}

	if status := strings.TrimSpace(filter.Status); status != "" {
		args = append(args, status)
		whereParts = append(whereParts, fmt.Sprintf("status = $%d", len(args)))
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM sessions
		WHERE %s
		ORDER BY created_at DESC, id DESC
	`, sessionColumns, strings.Join(whereParts, " AND "))

	return r.collect(ctx, query, args...)
}

// ListUpcoming returns scheduled sessions for either role of the user that
// have not started yet, soonest first.
func (r *SessionRepository) ListUpcoming(
	ctx context.Context,
	userID int64,
	limit int,
) ([]models.Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE (tutor_id = $1 OR tutee_id = $1)
		  AND status = 'scheduled'
		  AND scheduled_time > NOW()
		ORDER BY scheduled_time ASC, id ASC
		LIMIT $2
	`
	return r.collect(ctx, query, userID, limit)
}

func (r *SessionRepository) collect(ctx context.Context, query string, args ...any) ([]models.Session, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := make([]models.Session, 0)
	for rows.Next() {
		var session models.Session
		if err := rows.Scan(
			&session.ID,
			&session.TutorID,
			&session.TuteeID,
			&session.SkillID,
			&session.Status,
			&session.ScheduledTime,
			&session.PointCost,
			&session.TutorConfirmed,
			&session.TuteeConfirmed,
			&session.CancelledBy,
			&session.CancellationReason,
			&session.PenaltyPoints,
			&session.CompletedAt,
			&session.CreatedAt,
		); err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return sessions, nil
}

// HasTimeConflict checks for another live booking of the tutor at the exact
// timestamp. The data model carries no duration, so this is an equality
// match, not an interval overlap. excludeSessionID of 0 excludes nothing.
func (r *SessionRepository) HasTimeConflict(
	ctx context.Context,
	tutorID int64,
	scheduledTime time.Time,
	excludeSessionID int64,
) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1
			FROM sessions
			WHERE tutor_id = $1
			  AND status IN ('requested', 'scheduled')
			  AND scheduled_time = $2
			  AND id <> $3
		)
	`
	var hasConflict bool
	if err := r.db.QueryRow(ctx, query, tutorID, scheduledTime, excludeSessionID).Scan(&hasConflict); err != nil {
		return false, err
	}
	return hasConflict, nil
}

func (r *SessionRepository) UpdateStatusIfCurrent(
	ctx context.Context,
	sessionID int64,
	currentStatus string,
	nextStatus string,
) (*models.Session, error) {
	query := `
		UPDATE sessions
		SET status = $3
		WHERE id = $1 AND status = $2
		RETURNING ` + sessionColumns + `
	`
	return scanSession(r.db.QueryRow(ctx, query, sessionID, currentStatus, nextStatus))
}

func confirmationColumn(asTutor bool) string {
	if asTutor {
		return "tutor_confirmed"
	}
	return "tutee_confirmed"
}

func otherConfirmationColumn(asTutor bool) string {
	if asTutor {
		return "tutee_confirmed"
	}
	return "tutor_confirmed"
}

// ConfirmCompleting sets the caller's confirmation flag only when doing so
// makes both flags true. Exactly one concurrent caller can match this
// conditional write, so the settlement that follows fires once. Returns
// pgx.ErrNoRows when this call is not the completing one.
func (r *SessionRepository) ConfirmCompleting(
	ctx context.Context,
	sessionID int64,
	asTutor bool,
) (*models.Session, error) {
	mine := confirmationColumn(asTutor)
	other := otherConfirmationColumn(asTutor)
	query := fmt.Sprintf(`
		UPDATE sessions
		SET %s = TRUE
		WHERE id = $1
		  AND status IN ('requested', 'scheduled')
		  AND %s = FALSE
		  AND %s = TRUE
		RETURNING %s
	`, mine, mine, other, sessionColumns)
	return scanSession(r.db.QueryRow(ctx, query, sessionID))
}

// ConfirmWaiting records the caller's confirmation while the other party has
// not confirmed yet. Re-confirming is a no-op that still returns the row.
func (r *SessionRepository) ConfirmWaiting(
	ctx context.Context,
	sessionID int64,
	asTutor bool,
) (*models.Session, error) {
	query := fmt.Sprintf(`
		UPDATE sessions
		SET %s = TRUE
		WHERE id = $1 AND status IN ('requested', 'scheduled')
		RETURNING %s
	`, confirmationColumn(asTutor), sessionColumns)
	return scanSession(r.db.QueryRow(ctx, query, sessionID))
}

// ResetConfirmation reverts the caller's flag after a failed settlement so no
// partial confirmation state survives the call.
func (r *SessionRepository) ResetConfirmation(
	ctx context.Context,
	sessionID int64,
	asTutor bool,
) error {
	query := fmt.Sprintf(`
		UPDATE sessions
		SET %s = FALSE
		WHERE id = $1 AND status IN ('requested', 'scheduled')
	`, confirmationColumn(asTutor))
	_, err := r.db.Exec(ctx, query, sessionID)
	return err
}

// MarkCompleted finalizes the session after settlement: terminal status,
// both flags forced true, completion timestamp recorded.
func (r *SessionRepository) MarkCompleted(ctx context.Context, sessionID int64) (*models.Session, error) {
	query := `
		UPDATE sessions
		SET status = 'completed', tutor_confirmed = TRUE, tutee_confirmed = TRUE, completed_at = NOW()
		WHERE id = $1 AND status IN ('requested', 'scheduled')
		RETURNING ` + sessionColumns + `
	`
	return scanSession(r.db.QueryRow(ctx, query, sessionID))
}

// CancelWithAudit moves the session to cancelled from the given status and
// records who cancelled, why, and any penalty applied.
func (r *SessionRepository) CancelWithAudit(
	ctx context.Context,
	sessionID int64,
	currentStatus string,
	cancelledBy int64,
	reason string,
	penaltyPoints *int,
) (*models.Session, error) {
	query := `
		UPDATE sessions
		SET status = 'cancelled', cancelled_by = $3, cancellation_reason = $4, penalty_points = $5
		WHERE id = $1 AND status = $2
		RETURNING ` + sessionColumns + `
	`
	return scanSession(r.db.QueryRow(ctx, query, sessionID, currentStatus, cancelledBy, reason, penaltyPoints))
}

func (r *SessionRepository) CountPendingRequests(ctx context.Context, tutorID int64) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM sessions
		WHERE tutor_id = $1 AND status = 'requested'
	`
	var count int
	if err := r.db.QueryRow(ctx, query, tutorID).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// CountAwaitingConfirmation counts live sessions where the other party has
// confirmed completion and this user has not yet responded.
func (r *SessionRepository) CountAwaitingConfirmation(ctx context.Context, userID int64) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM sessions
		WHERE status = 'scheduled'
		  AND (
			(tutor_id = $1 AND tutee_confirmed AND NOT tutor_confirmed)
			OR (tutee_id = $1 AND tutor_confirmed AND NOT tutee_confirmed)
		  )
	`
	var count int
	if err := r.db.QueryRow(ctx, query, userID).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}
