package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JoshuaJosiahMcMahon/SkillSwapFinalSubmission/internal/metrics"
	"github.com/JoshuaJosiahMcMahon/SkillSwapFinalSubmission/internal/models"
	"github.com/JoshuaJosiahMcMahon/SkillSwapFinalSubmission/internal/repository"
)

// sessionStore is the persistence contract the scheduling engine drives. The
// mutating operations are conditional single-row writes so that concurrent
// callers racing on the same session serialize in the store, not in this
// process. CreateIfSlotFree and AcceptIfSlotFree run their conflict check
// and write under a per-tutor lock.
type sessionStore interface {
	CreateIfSlotFree(ctx context.Context, input repository.CreateSessionInput) (*models.Session, bool, error)
	AcceptIfSlotFree(ctx context.Context, sessionID int64, scheduledTime time.Time) (*models.Session, bool, error)
	GetByID(ctx context.Context, sessionID int64) (*models.Session, error)
	ListByUser(ctx context.Context, userID int64, filter repository.SessionListFilter) ([]models.Session, error)
	ListByTutor(ctx context.Context, tutorID int64, filter repository.SessionListFilter) ([]models.Session, error)
	ListUpcoming(ctx context.Context, userID int64, limit int) ([]models.Session, error)
	UpdateStatusIfCurrent(ctx context.Context, sessionID int64, currentStatus, nextStatus string) (*models.Session, error)
	ConfirmCompleting(ctx context.Context, sessionID int64, asTutor bool) (*models.Session, error)
	ConfirmWaiting(ctx context.Context, sessionID int64, asTutor bool) (*models.Session, error)
	ResetConfirmation(ctx context.Context, sessionID int64, asTutor bool) error
	MarkCompleted(ctx context.Context, sessionID int64) (*models.Session, error)
	CancelWithAudit(ctx context.Context, sessionID int64, currentStatus string, cancelledBy int64, reason string, penaltyPoints *int) (*models.Session, error)
	CountPendingRequests(ctx context.Context, tutorID int64) (int, error)
	CountAwaitingConfirmation(ctx context.Context, userID int64) (int, error)
}

type schedulingUserStore interface {
	GetByID(ctx context.Context, id int64) (*models.User, error)
	DebitPoints(ctx context.Context, userID int64, amount int) error
}

type skillReader interface {
	GetByID(ctx context.Context, skillID int64) (*models.Skill, error)
}

// pointsLedger isolates the settlement step so a transactional backend can
// replace the compensation-based one without touching the engine.
type pointsLedger interface {
	TransferPoints(ctx context.Context, fromID, toID int64, amount int) error
	AddPoints(ctx context.Context, userID int64, amount int) error
}

// sessionNotifier receives session state changes for live delivery to the
// two participants. May be nil.
type sessionNotifier interface {
	SessionUpdated(session *models.Session)
}

// Settings carries the fixed point amounts of the marketplace.
type Settings struct {
	DefaultPointCost int
	CancelPenalty    int
	FreeSessionBonus int
}

func DefaultSettings() Settings {
	return Settings{
		DefaultPointCost: 10,
		CancelPenalty:    50,
		FreeSessionBonus: 50,
	}
}

type SchedulingService struct {
	sessions sessionStore
	users    schedulingUserStore
	skills   skillReader
	ledger   pointsLedger
	notifier sessionNotifier
	settings Settings
}

func NewSchedulingService(
	sessions sessionStore,
	users schedulingUserStore,
	skills skillReader,
	ledger pointsLedger,
	notifier sessionNotifier,
	settings Settings,
) *SchedulingService {
	return &SchedulingService{
		sessions: sessions,
		users:    users,
		skills:   skills,
		ledger:   ledger,
		notifier: notifier,
		settings: settings,
	}
}

type BookSessionInput struct {
	TutorID       int64
	SkillID       int64
	ScheduledTime time.Time
	// PointCost of nil means the platform default. Fixed at booking time and
	// never recomputed.
	PointCost *int
}

// CompleteResult distinguishes a finalized session from a one-sided
// confirmation so callers can render different messaging.
type CompleteResult struct {
	Session   *models.Session
	Completed bool
	Message   string
}

type CancelResult struct {
	Session        *models.Session
	PenaltyApplied int
	Message        string
}

// BookSession creates a session request from the tutee. The point cost is
// checked against the tutee's balance but nothing is debited; points only
// move at mutual completion.
func (s *SchedulingService) BookSession(
	ctx context.Context,
	tuteeID int64,
	input BookSessionInput,
) (*models.Session, error) {
	if input.TutorID <= 0 || input.SkillID <= 0 {
		return nil, ErrValidation
	}
	if tuteeID == input.TutorID {
		return nil, ErrValidation
	}

	cost := s.settings.DefaultPointCost
	if input.PointCost != nil {
		cost = *input.PointCost
	}
	if cost < 0 {
		return nil, ErrValidation
	}

	if input.ScheduledTime.IsZero() || !input.ScheduledTime.After(time.Now()) {
		return nil, ErrInvalidSchedule
	}

	tutor, err := s.users.GetByID(ctx, input.TutorID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvalidTutor
		}
		return nil, err
	}
	if !tutor.IsTutor {
		return nil, ErrInvalidTutor
	}

	tutee, err := s.users.GetByID(ctx, tuteeID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvalidTutee
		}
		return nil, err
	}

	if cost > 0 && tutee.PointsBalance < cost {
		return nil, ErrInsufficientPoints
	}

	session, conflict, err := s.sessions.CreateIfSlotFree(ctx, repository.CreateSessionInput{
		TutorID:       input.TutorID,
		TuteeID:       tuteeID,
		SkillID:       input.SkillID,
		ScheduledTime: input.ScheduledTime.UTC(),
		PointCost:     cost,
	})
	if err != nil {
		return nil, err
	}
	if conflict {
		return nil, ErrTimeConflict
	}

	metrics.SessionsBooked.Inc()
	s.notify(session)
	return session, nil
}

// AcceptSession moves a requested session to scheduled. The time conflict is
// re-validated under the per-tutor lock because another request may have been
// accepted for the same slot since booking.
func (s *SchedulingService) AcceptSession(
	ctx context.Context,
	sessionID int64,
	callerID int64,
) (*models.Session, error) {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if session.TutorID != callerID {
		return nil, ErrUnauthorized
	}
	if session.Status != models.SessionStatusRequested {
		return nil, ErrInvalidStateTransition
	}

	updated, conflict, err := s.sessions.AcceptIfSlotFree(ctx, sessionID, session.ScheduledTime)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvalidStateTransition
		}
		return nil, err
	}
	if conflict {
		return nil, ErrTimeConflict
	}

	s.notify(updated)
	return updated, nil
}

// RejectSession lets the tutor decline a requested session. No points ever
// moved, so nothing is settled.
func (s *SchedulingService) RejectSession(
	ctx context.Context,
	sessionID int64,
	callerID int64,
) (*models.Session, error) {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if session.TutorID != callerID {
		return nil, ErrUnauthorized
	}
	if session.Status != models.SessionStatusRequested {
		return nil, ErrInvalidStateTransition
	}

	updated, err := s.sessions.UpdateStatusIfCurrent(
		ctx,
		sessionID,
		models.SessionStatusRequested,
		models.SessionStatusCancelled,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvalidStateTransition
		}
		return nil, err
	}

	metrics.SessionsCancelled.Inc()
	s.notify(updated)
	return updated, nil
}

// CompleteSession records the caller's completion confirmation. The session
// finalizes only when both parties have confirmed; the caller whose
// conditional write makes both flags true runs the settlement, so it fires
// exactly once no matter how the two confirmations race.
func (s *SchedulingService) CompleteSession(
	ctx context.Context,
	sessionID int64,
	callerID int64,
) (*CompleteResult, error) {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !session.IsParticipant(callerID) {
		return nil, ErrUnauthorized
	}
	if session.IsTerminal() {
		return nil, ErrInvalidStateTransition
	}

	asTutor := session.TutorID == callerID

	confirmed, err := s.sessions.ConfirmCompleting(ctx, sessionID, asTutor)
	if err == nil {
		return s.settle(ctx, confirmed, asTutor)
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	// The other party has not confirmed yet (or this is a re-confirmation):
	// record the flag and wait.
	waiting, err := s.sessions.ConfirmWaiting(ctx, sessionID, asTutor)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvalidStateTransition
		}
		return nil, err
	}

	return &CompleteResult{
		Session: waiting,
		Message: "Confirmation received. Waiting for other party to confirm.",
	}, nil
}

func (s *SchedulingService) settle(
	ctx context.Context,
	session *models.Session,
	asTutor bool,
) (*CompleteResult, error) {
	message := "Session completed successfully"

	if session.PointCost > 0 {
		if err := s.ledger.TransferPoints(ctx, session.TuteeID, session.TutorID, session.PointCost); err != nil {
			// Abort the completion: revert this caller's flag so the session
			// is exactly as it was before the call.
			if resetErr := s.sessions.ResetConfirmation(ctx, session.ID, asTutor); resetErr != nil {
				log.Printf("reset confirmation for session %d: %v", session.ID, resetErr)
			}
			if errors.Is(err, ErrInsufficientPoints) {
				return nil, ErrInsufficientPoints
			}
			return nil, ErrTransferFailed
		}
	} else {
		// Free session: the tutor still earns a fixed bonus. Bonus
		// bookkeeping failures do not block completion since no value was
		// owed between the parties.
		if err := s.ledger.AddPoints(ctx, session.TutorID, s.settings.FreeSessionBonus); err != nil {
			log.Printf("free-session bonus for tutor %d on session %d: %v", session.TutorID, session.ID, err)
		}
		message = fmt.Sprintf(
			"Session completed successfully. Tutor received %d bonus points for the free session.",
			s.settings.FreeSessionBonus,
		)
	}

	completed, err := s.sessions.MarkCompleted(ctx, session.ID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// The session reached a terminal state between the confirmation
			// and the finalize, after points already moved. Give them back.
			if session.PointCost > 0 {
				if reverseErr := s.ledger.TransferPoints(ctx, session.TutorID, session.TuteeID, session.PointCost); reverseErr != nil {
					log.Printf("CRITICAL: settlement reversal failed for session %d, tutee %d short %d points: %v",
						session.ID, session.TuteeID, session.PointCost, reverseErr)
				}
			}
			return nil, ErrInvalidStateTransition
		}
		return nil, err
	}

	metrics.SessionsCompleted.Inc()
	s.notify(completed)
	return &CompleteResult{
		Session:   completed,
		Completed: true,
		Message:   message,
	}, nil
}

// CancelSession cancels a not-yet-finished session. Cancelling after the
// tutor already accepted costs the cancelling party a fixed penalty from
// their own balance, which may go negative.
func (s *SchedulingService) CancelSession(
	ctx context.Context,
	sessionID int64,
	callerID int64,
) (*CancelResult, error) {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !session.IsParticipant(callerID) {
		return nil, ErrUnauthorized
	}
	if session.IsTerminal() {
		return nil, ErrAlreadyFinished
	}

	if session.Status == models.SessionStatusRequested {
		cancelled, err := s.sessions.CancelWithAudit(
			ctx,
			sessionID,
			models.SessionStatusRequested,
			callerID,
			"User cancelled",
			nil,
		)
		if err == nil {
			metrics.SessionsCancelled.Inc()
			s.notify(cancelled)
			return &CancelResult{
				Session: cancelled,
				Message: "Session cancelled successfully.",
			}, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}

		// The conditional write missed: the tutor accepted between our read
		// and the cancel. Re-read and, if the session is still live, cancel
		// it down the scheduled path instead.
		session, err = s.sessions.GetByID(ctx, sessionID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, ErrNotFound
			}
			return nil, err
		}
		if session.IsTerminal() {
			return nil, ErrAlreadyFinished
		}
	}

	penalty := s.settings.CancelPenalty
	cancelled, err := s.sessions.CancelWithAudit(
		ctx,
		sessionID,
		models.SessionStatusScheduled,
		callerID,
		"User cancelled",
		&penalty,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAlreadyFinished
		}
		return nil, err
	}

	if err := s.users.DebitPoints(ctx, callerID, penalty); err != nil {
		// The session is already cancelled; the penalty is advisory audit
		// state at this point, so surface it loudly and move on.
		log.Printf("CRITICAL: cancellation penalty of %d not applied to user %d (session %d): %v",
			penalty, callerID, sessionID, err)
	}

	metrics.SessionsCancelled.Inc()
	s.notify(cancelled)
	return &CancelResult{
		Session:        cancelled,
		PenaltyApplied: penalty,
		Message:        fmt.Sprintf("Session cancelled. %d points penalty applied.", penalty),
	}, nil
}

// GetSession returns a session with its participants and skill, visible only
// to the tutor or the tutee.
func (s *SchedulingService) GetSession(
	ctx context.Context,
	sessionID int64,
	callerID int64,
) (*models.SessionDetail, error) {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !session.IsParticipant(callerID) {
		return nil, ErrUnauthorized
	}
	return s.enrich(ctx, session), nil
}

func (s *SchedulingService) ListSessions(
	ctx context.Context,
	userID int64,
	filter repository.SessionListFilter,
) ([]models.Session, error) {
	return s.sessions.ListByUser(ctx, userID, filter)
}

// PendingRequests lists the requested sessions awaiting this tutor's
// response, enriched for display.
func (s *SchedulingService) PendingRequests(
	ctx context.Context,
	tutorID int64,
) ([]models.SessionDetail, error) {
	sessions, err := s.sessions.ListByTutor(ctx, tutorID, repository.SessionListFilter{
		Status: models.SessionStatusRequested,
	})
	if err != nil {
		return nil, err
	}

	details := make([]models.SessionDetail, 0, len(sessions))
	for i := range sessions {
		details = append(details, *s.enrich(ctx, &sessions[i]))
	}
	return details, nil
}

func (s *SchedulingService) UpcomingSessions(
	ctx context.Context,
	userID int64,
	limit int,
) ([]models.Session, error) {
	if limit <= 0 {
		limit = 10
	}
	return s.sessions.ListUpcoming(ctx, userID, limit)
}

// NotificationCount totals the session events needing this user's attention:
// pending requests for tutors, plus sessions where the other party confirmed
// completion and this user has not.
func (s *SchedulingService) NotificationCount(ctx context.Context, userID int64) (int, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, err
	}

	count := 0
	if user.IsTutor {
		pending, err := s.sessions.CountPendingRequests(ctx, userID)
		if err != nil {
			return 0, err
		}
		count += pending
	}

	awaiting, err := s.sessions.CountAwaitingConfirmation(ctx, userID)
	if err != nil {
		return 0, err
	}
	return count + awaiting, nil
}

func (s *SchedulingService) enrich(ctx context.Context, session *models.Session) *models.SessionDetail {
	detail := &models.SessionDetail{Session: *session}

	if tutor, err := s.users.GetByID(ctx, session.TutorID); err == nil {
		detail.Tutor = tutor.Summary()
	}
	if tutee, err := s.users.GetByID(ctx, session.TuteeID); err == nil {
		detail.Tutee = tutee.Summary()
	}
	if skill, err := s.skills.GetByID(ctx, session.SkillID); err == nil {
		detail.Skill = skill
	}
	return detail
}

func (s *SchedulingService) notify(session *models.Session) {
	if s.notifier != nil && session != nil {
		s.notifier.SessionUpdated(session)
	}
}
