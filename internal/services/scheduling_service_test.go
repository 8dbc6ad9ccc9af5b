package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JoshuaJosiahMcMahon/SkillSwapFinalSubmission/internal/models"
	"github.com/JoshuaJosiahMcMahon/SkillSwapFinalSubmission/internal/repository"
)

// fakeSessionStore mirrors the conditional-write semantics of the Postgres
// store in memory.
type fakeSessionStore struct {
	mu       sync.Mutex
	nextID   int64
	sessions map[int64]*models.Session
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{
		nextID:   1,
		sessions: make(map[int64]*models.Session),
	}
}

func (f *fakeSessionStore) hasConflictLocked(tutorID int64, at time.Time, excludeID int64) bool {
	for _, s := range f.sessions {
		if s.TutorID == tutorID &&
			s.ID != excludeID &&
			(s.Status == models.SessionStatusRequested || s.Status == models.SessionStatusScheduled) &&
			s.ScheduledTime.Equal(at) {
			return true
		}
	}
	return false
}

func (f *fakeSessionStore) CreateIfSlotFree(
	_ context.Context,
	input repository.CreateSessionInput,
) (*models.Session, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.hasConflictLocked(input.TutorID, input.ScheduledTime, 0) {
		return nil, true, nil
	}

	session := &models.Session{
		ID:            f.nextID,
		TutorID:       input.TutorID,
		TuteeID:       input.TuteeID,
		SkillID:       input.SkillID,
		Status:        models.SessionStatusRequested,
		ScheduledTime: input.ScheduledTime,
		PointCost:     input.PointCost,
		CreatedAt:     time.Now(),
	}
	f.nextID++
	f.sessions[session.ID] = session
	return copySession(session), false, nil
}

func (f *fakeSessionStore) AcceptIfSlotFree(
	_ context.Context,
	sessionID int64,
	scheduledTime time.Time,
) (*models.Session, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	session, ok := f.sessions[sessionID]
	if !ok {
		return nil, false, pgx.ErrNoRows
	}
	if f.hasConflictLocked(session.TutorID, scheduledTime, sessionID) {
		return nil, true, nil
	}
	if session.Status != models.SessionStatusRequested {
		return nil, false, pgx.ErrNoRows
	}
	session.Status = models.SessionStatusScheduled
	return copySession(session), false, nil
}

func (f *fakeSessionStore) GetByID(_ context.Context, sessionID int64) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	session, ok := f.sessions[sessionID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return copySession(session), nil
}

func (f *fakeSessionStore) ListByUser(
	_ context.Context,
	userID int64,
	filter repository.SessionListFilter,
) ([]models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	result := make([]models.Session, 0)
	for _, s := range f.sessions {
		if s.TutorID != userID && s.TuteeID != userID {
			continue
		}
		if filter.Status != "" && s.Status != filter.Status {
			continue
		}
		result = append(result, *copySession(s))
	}
	return result, nil
}

func (f *fakeSessionStore) ListByTutor(
	_ context.Context,
	tutorID int64,
	filter repository.SessionListFilter,
) ([]models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	result := make([]models.Session, 0)
	for _, s := range f.sessions {
		if s.TutorID != tutorID {
			continue
		}
		if filter.Status != "" && s.Status != filter.Status {
			continue
		}
		result = append(result, *copySession(s))
	}
	return result, nil
}

func (f *fakeSessionStore) ListUpcoming(_ context.Context, userID int64, limit int) ([]models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	result := make([]models.Session, 0)
	now := time.Now()
	for _, s := range f.sessions {
		if (s.TutorID == userID || s.TuteeID == userID) &&
			s.Status == models.SessionStatusScheduled &&
			s.ScheduledTime.After(now) {
			result = append(result, *copySession(s))
		}
		if len(result) == limit {
			break
		}
	}
	return result, nil
}

func (f *fakeSessionStore) UpdateStatusIfCurrent(
	_ context.Context,
	sessionID int64,
	currentStatus, nextStatus string,
) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	session, ok := f.sessions[sessionID]
	if !ok || session.Status != currentStatus {
		return nil, pgx.ErrNoRows
	}
	session.Status = nextStatus
	return copySession(session), nil
}

func (f *fakeSessionStore) ConfirmCompleting(
	_ context.Context,
	sessionID int64,
	asTutor bool,
) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	session, ok := f.sessions[sessionID]
	if !ok || session.IsTerminal() {
		return nil, pgx.ErrNoRows
	}
	mine, other := &session.TuteeConfirmed, &session.TutorConfirmed
	if asTutor {
		mine, other = &session.TutorConfirmed, &session.TuteeConfirmed
	}
	if *mine || !*other {
		return nil, pgx.ErrNoRows
	}
	*mine = true
	return copySession(session), nil
}

func (f *fakeSessionStore) ConfirmWaiting(
	_ context.Context,
	sessionID int64,
	asTutor bool,
) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	session, ok := f.sessions[sessionID]
	if !ok || session.IsTerminal() {
		return nil, pgx.ErrNoRows
	}
	if asTutor {
		session.TutorConfirmed = true
	} else {
		session.TuteeConfirmed = true
	}
	return copySession(session), nil
}

func (f *fakeSessionStore) ResetConfirmation(_ context.Context, sessionID int64, asTutor bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	session, ok := f.sessions[sessionID]
	if !ok {
		return pgx.ErrNoRows
	}
	if asTutor {
		session.TutorConfirmed = false
	} else {
		session.TuteeConfirmed = false
	}
	return nil
}

func (f *fakeSessionStore) MarkCompleted(_ context.Context, sessionID int64) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	session, ok := f.sessions[sessionID]
	if !ok || session.IsTerminal() {
		return nil, pgx.ErrNoRows
	}
	session.Status = models.SessionStatusCompleted
	session.TutorConfirmed = true
	session.TuteeConfirmed = true
	now := time.Now()
	session.CompletedAt = &now
	return copySession(session), nil
}

func (f *fakeSessionStore) CancelWithAudit(
	_ context.Context,
	sessionID int64,
	currentStatus string,
	cancelledBy int64,
	reason string,
	penaltyPoints *int,
) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	session, ok := f.sessions[sessionID]
	if !ok || session.Status != currentStatus {
		return nil, pgx.ErrNoRows
	}
	session.Status = models.SessionStatusCancelled
	session.CancelledBy = &cancelledBy
	session.CancellationReason = &reason
	session.PenaltyPoints = penaltyPoints
	return copySession(session), nil
}

func (f *fakeSessionStore) CountPendingRequests(_ context.Context, tutorID int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	count := 0
	for _, s := range f.sessions {
		if s.TutorID == tutorID && s.Status == models.SessionStatusRequested {
			count++
		}
	}
	return count, nil
}

func (f *fakeSessionStore) CountAwaitingConfirmation(_ context.Context, userID int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	count := 0
	for _, s := range f.sessions {
		if s.Status != models.SessionStatusScheduled {
			continue
		}
		if s.TutorID == userID && s.TuteeConfirmed && !s.TutorConfirmed {
			count++
		}
		if s.TuteeID == userID && s.TutorConfirmed && !s.TuteeConfirmed {
			count++
		}
	}
	return count, nil
}

func copySession(s *models.Session) *models.Session {
	clone := *s
	return &clone
}

// fakeUserStore backs both the scheduling engine and the points ledger.
// Credits can be made to fail per user to exercise the compensation path.
type fakeUserStore struct {
	mu        sync.Mutex
	users     map[int64]*models.User
	creditErr map[int64]error
}

func newFakeUserStore(users ...*models.User) *fakeUserStore {
	store := &fakeUserStore{
		users:     make(map[int64]*models.User),
		creditErr: make(map[int64]error),
	}
	for _, u := range users {
		store.users[u.ID] = u
	}
	return store
}

func (f *fakeUserStore) GetByID(_ context.Context, id int64) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	user, ok := f.users[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	clone := *user
	return &clone, nil
}

func (f *fakeUserStore) CreditPoints(_ context.Context, userID int64, amount int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err, ok := f.creditErr[userID]; ok {
		return err
	}
	user, ok := f.users[userID]
	if !ok {
		return pgx.ErrNoRows
	}
	user.PointsBalance += amount
	return nil
}

func (f *fakeUserStore) DebitPointsIfSufficient(_ context.Context, userID int64, amount int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	user, ok := f.users[userID]
	if !ok {
		return false, pgx.ErrNoRows
	}
	if user.PointsBalance < amount {
		return false, nil
	}
	user.PointsBalance -= amount
	return true, nil
}

func (f *fakeUserStore) DebitPoints(_ context.Context, userID int64, amount int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	user, ok := f.users[userID]
	if !ok {
		return pgx.ErrNoRows
	}
	user.PointsBalance -= amount
	return nil
}

func (f *fakeUserStore) GetBalance(_ context.Context, userID int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	user, ok := f.users[userID]
	if !ok {
		return 0, pgx.ErrNoRows
	}
	return user.PointsBalance, nil
}

func (f *fakeUserStore) balance(t *testing.T, userID int64) int {
	t.Helper()
	balance, err := f.GetBalance(context.Background(), userID)
	if err != nil {
		t.Fatalf("balance for user %d: %v", userID, err)
	}
	return balance
}

type fakeSkillStore struct {
	skills map[int64]*models.Skill
}

func (f *fakeSkillStore) GetByID(_ context.Context, skillID int64) (*models.Skill, error) {
	if skill, ok := f.skills[skillID]; ok {
		clone := *skill
		return &clone, nil
	}
	return nil, pgx.ErrNoRows
}

const (
	testTutorID = int64(1)
	testTuteeID = int64(2)
	testSkillID = int64(7)
)

func newTestService(t *testing.T) (*SchedulingService, *fakeSessionStore, *fakeUserStore) {
	t.Helper()

	users := newFakeUserStore(
		&models.User{ID: testTutorID, Username: "tutor", IsTutor: true, PointsBalance: 100},
		&models.User{ID: testTuteeID, Username: "tutee", PointsBalance: 100},
	)
	sessions := newFakeSessionStore()
	skills := &fakeSkillStore{skills: map[int64]*models.Skill{
		testSkillID: {ID: testSkillID, Name: "Calculus"},
	}}
	ledger := NewPointsService(users)
	service := NewSchedulingService(sessions, users, skills, ledger, nil, DefaultSettings())
	return service, sessions, users
}

var futureSlot int64

// futureTime returns a distinct future slot on every call so bookings in
// the same test never collide on the tutor's calendar by accident.
func futureTime() time.Time {
	slot := atomic.AddInt64(&futureSlot, 1)
	return time.Now().Add(48 * time.Hour).Truncate(time.Second).Add(time.Duration(slot) * time.Hour)
}

func bookTestSession(t *testing.T, service *SchedulingService, cost int) *models.Session {
	t.Helper()
	session, err := service.BookSession(context.Background(), testTuteeID, BookSessionInput{
		TutorID:       testTutorID,
		SkillID:       testSkillID,
		ScheduledTime: futureTime(),
		PointCost:     &cost,
	})
	if err != nil {
		t.Fatalf("BookSession: %v", err)
	}
	return session
}

func TestBookSessionCreatesRequestedSession(t *testing.T) {
	service, _, users := newTestService(t)

	session := bookTestSession(t, service, 30)

	if session.Status != models.SessionStatusRequested {
		t.Fatalf("expected requested status, got %q", session.Status)
	}
	if session.PointCost != 30 {
		t.Fatalf("expected point cost 30, got %d", session.PointCost)
	}
	if session.TutorConfirmed || session.TuteeConfirmed {
		t.Fatal("expected confirmation flags to start false")
	}
	// Booking only checks the balance, it never debits.
	if got := users.balance(t, testTuteeID); got != 100 {
		t.Fatalf("expected tutee balance unchanged at 100, got %d", got)
	}
}

func TestBookSessionDefaultsPointCost(t *testing.T) {
	service, _, _ := newTestService(t)

	session, err := service.BookSession(context.Background(), testTuteeID, BookSessionInput{
		TutorID:       testTutorID,
		SkillID:       testSkillID,
		ScheduledTime: futureTime(),
	})
	if err != nil {
		t.Fatalf("BookSession: %v", err)
	}
	if session.PointCost != 10 {
		t.Fatalf("expected default point cost 10, got %d", session.PointCost)
	}
}

func TestBookSessionPastTimeFails(t *testing.T) {
	service, _, _ := newTestService(t)

	_, err := service.BookSession(context.Background(), testTuteeID, BookSessionInput{
		TutorID:       testTutorID,
		SkillID:       testSkillID,
		ScheduledTime: time.Now().Add(-time.Hour),
	})
	if !errors.Is(err, ErrInvalidSchedule) {
		t.Fatalf("expected ErrInvalidSchedule, got %v", err)
	}
}

func TestBookSessionRejectsNonTutor(t *testing.T) {
	service, _, _ := newTestService(t)

	// The tutee is not a tutor, so booking them as one must fail.
	_, err := service.BookSession(context.Background(), testTutorID, BookSessionInput{
		TutorID:       testTuteeID,
		SkillID:       testSkillID,
		ScheduledTime: futureTime(),
	})
	if !errors.Is(err, ErrInvalidTutor) {
		t.Fatalf("expected ErrInvalidTutor, got %v", err)
	}
}

func TestBookSessionRejectsSelfBooking(t *testing.T) {
	service, _, _ := newTestService(t)

	_, err := service.BookSession(context.Background(), testTutorID, BookSessionInput{
		TutorID:       testTutorID,
		SkillID:       testSkillID,
		ScheduledTime: futureTime(),
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestBookSessionInsufficientPoints(t *testing.T) {
	service, _, _ := newTestService(t)

	cost := 500
	_, err := service.BookSession(context.Background(), testTuteeID, BookSessionInput{
		TutorID:       testTutorID,
		SkillID:       testSkillID,
		ScheduledTime: futureTime(),
		PointCost:     &cost,
	})
	if !errors.Is(err, ErrInsufficientPoints) {
		t.Fatalf("expected ErrInsufficientPoints, got %v", err)
	}
}

func TestBookSessionTimeConflict(t *testing.T) {
	service, _, users := newTestService(t)
	users.users[3] = &models.User{ID: 3, Username: "other", PointsBalance: 100}

	at := futureTime()
	if _, err := service.BookSession(context.Background(), testTuteeID, BookSessionInput{
		TutorID:       testTutorID,
		SkillID:       testSkillID,
		ScheduledTime: at,
	}); err != nil {
		t.Fatalf("first booking: %v", err)
	}

	_, err := service.BookSession(context.Background(), 3, BookSessionInput{
		TutorID:       testTutorID,
		SkillID:       testSkillID,
		ScheduledTime: at,
	})
	if !errors.Is(err, ErrTimeConflict) {
		t.Fatalf("expected ErrTimeConflict, got %v", err)
	}
}

func TestAcceptSessionMovesToScheduled(t *testing.T) {
	service, _, _ := newTestService(t)
	session := bookTestSession(t, service, 30)

	accepted, err := service.AcceptSession(context.Background(), session.ID, testTutorID)
	if err != nil {
		t.Fatalf("AcceptSession: %v", err)
	}
	if accepted.Status != models.SessionStatusScheduled {
		t.Fatalf("expected scheduled, got %q", accepted.Status)
	}
}

func TestAcceptSessionOnlyByTutor(t *testing.T) {
	service, _, _ := newTestService(t)
	session := bookTestSession(t, service, 30)

	_, err := service.AcceptSession(context.Background(), session.ID, testTuteeID)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestAcceptSessionRequiresRequestedStatus(t *testing.T) {
	service, _, _ := newTestService(t)
	session := bookTestSession(t, service, 30)

	if _, err := service.AcceptSession(context.Background(), session.ID, testTutorID); err != nil {
		t.Fatalf("first accept: %v", err)
	}
	_, err := service.AcceptSession(context.Background(), session.ID, testTutorID)
	if !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("expected ErrInvalidStateTransition, got %v", err)
	}
}

func TestRejectSessionCancelsRequest(t *testing.T) {
	service, _, users := newTestService(t)
	session := bookTestSession(t, service, 30)

	rejected, err := service.RejectSession(context.Background(), session.ID, testTutorID)
	if err != nil {
		t.Fatalf("RejectSession: %v", err)
	}
	if rejected.Status != models.SessionStatusCancelled {
		t.Fatalf("expected cancelled, got %q", rejected.Status)
	}
	if users.balance(t, testTuteeID) != 100 || users.balance(t, testTutorID) != 100 {
		t.Fatal("reject must not move points")
	}
}

func TestCompleteOneSidedWaitsAndIsIdempotent(t *testing.T) {
	service, _, users := newTestService(t)
	session := bookTestSession(t, service, 30)
	if _, err := service.AcceptSession(context.Background(), session.ID, testTutorID); err != nil {
		t.Fatalf("accept: %v", err)
	}

	for i := 0; i < 3; i++ {
		result, err := service.CompleteSession(context.Background(), session.ID, testTuteeID)
		if err != nil {
			t.Fatalf("CompleteSession call %d: %v", i+1, err)
		}
		if result.Completed {
			t.Fatalf("call %d: session must not complete with one confirmation", i+1)
		}
		if result.Session.Status != models.SessionStatusScheduled {
			t.Fatalf("call %d: status changed to %q", i+1, result.Session.Status)
		}
		if !result.Session.TuteeConfirmed || result.Session.TutorConfirmed {
			t.Fatalf("call %d: unexpected flags %+v", i+1, result.Session)
		}
	}

	if users.balance(t, testTuteeID) != 100 || users.balance(t, testTutorID) != 100 {
		t.Fatal("one-sided confirmation must not move points")
	}
}

func TestCompleteBothPartiesSettlesOnce(t *testing.T) {
	service, _, users := newTestService(t)
	session := bookTestSession(t, service, 30)
	if _, err := service.AcceptSession(context.Background(), session.ID, testTutorID); err != nil {
		t.Fatalf("accept: %v", err)
	}

	if _, err := service.CompleteSession(context.Background(), session.ID, testTuteeID); err != nil {
		t.Fatalf("tutee confirm: %v", err)
	}
	result, err := service.CompleteSession(context.Background(), session.ID, testTutorID)
	if err != nil {
		t.Fatalf("tutor confirm: %v", err)
	}

	if !result.Completed {
		t.Fatal("expected session to complete on second confirmation")
	}
	if result.Session.Status != models.SessionStatusCompleted {
		t.Fatalf("expected completed, got %q", result.Session.Status)
	}
	if result.Session.CompletedAt == nil {
		t.Fatal("expected completed_at to be set")
	}
	if got := users.balance(t, testTuteeID); got != 70 {
		t.Fatalf("expected tutee balance 70, got %d", got)
	}
	if got := users.balance(t, testTutorID); got != 130 {
		t.Fatalf("expected tutor balance 130, got %d", got)
	}

	// Completing again must not move more points.
	if _, err := service.CompleteSession(context.Background(), session.ID, testTutorID); !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("expected ErrInvalidStateTransition, got %v", err)
	}
	if users.balance(t, testTuteeID) != 70 || users.balance(t, testTutorID) != 130 {
		t.Fatal("balances changed after terminal completion")
	}
}

func TestCompleteOrderDoesNotMatter(t *testing.T) {
	service, _, users := newTestService(t)
	session := bookTestSession(t, service, 30)
	if _, err := service.AcceptSession(context.Background(), session.ID, testTutorID); err != nil {
		t.Fatalf("accept: %v", err)
	}

	if _, err := service.CompleteSession(context.Background(), session.ID, testTutorID); err != nil {
		t.Fatalf("tutor confirm: %v", err)
	}
	result, err := service.CompleteSession(context.Background(), session.ID, testTuteeID)
	if err != nil {
		t.Fatalf("tutee confirm: %v", err)
	}

	if !result.Completed {
		t.Fatal("expected completion when tutor confirmed first")
	}
	if users.balance(t, testTuteeID) != 70 || users.balance(t, testTutorID) != 130 {
		t.Fatal("expected 30 points to move tutee -> tutor")
	}
}

func TestCompleteFreeSessionPaysTutorBonus(t *testing.T) {
	service, _, users := newTestService(t)
	session := bookTestSession(t, service, 0)
	if _, err := service.AcceptSession(context.Background(), session.ID, testTutorID); err != nil {
		t.Fatalf("accept: %v", err)
	}

	if _, err := service.CompleteSession(context.Background(), session.ID, testTuteeID); err != nil {
		t.Fatalf("tutee confirm: %v", err)
	}
	result, err := service.CompleteSession(context.Background(), session.ID, testTutorID)
	if err != nil {
		t.Fatalf("tutor confirm: %v", err)
	}

	if !result.Completed {
		t.Fatal("expected free session to complete")
	}
	if got := users.balance(t, testTuteeID); got != 100 {
		t.Fatalf("free session must not debit the tutee, balance %d", got)
	}
	if got := users.balance(t, testTutorID); got != 150 {
		t.Fatalf("expected tutor balance 150 after bonus, got %d", got)
	}
}

func TestCompleteFreeSessionBonusFailureStillCompletes(t *testing.T) {
	service, _, users := newTestService(t)
	session := bookTestSession(t, service, 0)
	if _, err := service.AcceptSession(context.Background(), session.ID, testTutorID); err != nil {
		t.Fatalf("accept: %v", err)
	}
	users.creditErr[testTutorID] = errors.New("balance write refused")

	if _, err := service.CompleteSession(context.Background(), session.ID, testTuteeID); err != nil {
		t.Fatalf("tutee confirm: %v", err)
	}
	result, err := service.CompleteSession(context.Background(), session.ID, testTutorID)
	if err != nil {
		t.Fatalf("tutor confirm: %v", err)
	}

	if !result.Completed || result.Session.Status != models.SessionStatusCompleted {
		t.Fatal("free session must complete even when the bonus credit fails")
	}
	if got := users.balance(t, testTutorID); got != 100 {
		t.Fatalf("expected tutor balance untouched at 100, got %d", got)
	}
}

func TestCompleteTransferFailureAbortsCompletion(t *testing.T) {
	service, sessions, users := newTestService(t)
	session := bookTestSession(t, service, 30)
	if _, err := service.AcceptSession(context.Background(), session.ID, testTutorID); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := service.CompleteSession(context.Background(), session.ID, testTuteeID); err != nil {
		t.Fatalf("tutee confirm: %v", err)
	}
	users.creditErr[testTutorID] = errors.New("balance write refused")

	_, err := service.CompleteSession(context.Background(), session.ID, testTutorID)
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}

	current, getErr := sessions.GetByID(context.Background(), session.ID)
	if getErr != nil {
		t.Fatalf("GetByID: %v", getErr)
	}
	if current.Status != models.SessionStatusScheduled {
		t.Fatalf("expected session to stay scheduled, got %q", current.Status)
	}
	if current.TutorConfirmed {
		t.Fatal("expected the failing caller's flag to be reverted")
	}
	if !current.TuteeConfirmed {
		t.Fatal("expected the other party's earlier confirmation to survive")
	}
	// The debit was compensated.
	if got := users.balance(t, testTuteeID); got != 100 {
		t.Fatalf("expected tutee balance restored to 100, got %d", got)
	}
}

func TestCompleteByOutsiderFails(t *testing.T) {
	service, _, _ := newTestService(t)
	session := bookTestSession(t, service, 30)

	_, err := service.CompleteSession(context.Background(), session.ID, 99)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestCancelRequestedSessionNoPenalty(t *testing.T) {
	service, _, users := newTestService(t)
	session := bookTestSession(t, service, 30)

	result, err := service.CancelSession(context.Background(), session.ID, testTuteeID)
	if err != nil {
		t.Fatalf("CancelSession: %v", err)
	}
	if result.Session.Status != models.SessionStatusCancelled {
		t.Fatalf("expected cancelled, got %q", result.Session.Status)
	}
	if result.PenaltyApplied != 0 {
		t.Fatalf("expected no penalty, got %d", result.PenaltyApplied)
	}
	if users.balance(t, testTuteeID) != 100 || users.balance(t, testTutorID) != 100 {
		t.Fatal("cancelling a requested session must not change balances")
	}
}

func TestCancelScheduledSessionAppliesPenalty(t *testing.T) {
	service, _, users := newTestService(t)
	session := bookTestSession(t, service, 30)
	if _, err := service.AcceptSession(context.Background(), session.ID, testTutorID); err != nil {
		t.Fatalf("accept: %v", err)
	}

	result, err := service.CancelSession(context.Background(), session.ID, testTutorID)
	if err != nil {
		t.Fatalf("CancelSession: %v", err)
	}
	if result.PenaltyApplied != 50 {
		t.Fatalf("expected 50 point penalty, got %d", result.PenaltyApplied)
	}
	if got := users.balance(t, testTutorID); got != 50 {
		t.Fatalf("expected tutor balance 50 after penalty, got %d", got)
	}
	if got := users.balance(t, testTuteeID); got != 100 {
		t.Fatalf("the non-cancelling party's balance must not change, got %d", got)
	}
	if result.Session.CancelledBy == nil || *result.Session.CancelledBy != testTutorID {
		t.Fatal("expected cancelled_by audit field")
	}
	if result.Session.PenaltyPoints == nil || *result.Session.PenaltyPoints != 50 {
		t.Fatal("expected penalty recorded on the session")
	}
}

func TestCancelPenaltyMayGoNegative(t *testing.T) {
	service, _, users := newTestService(t)
	users.users[testTuteeID].PointsBalance = 20

	cost := 0
	session, err := service.BookSession(context.Background(), testTuteeID, BookSessionInput{
		TutorID:       testTutorID,
		SkillID:       testSkillID,
		ScheduledTime: futureTime(),
		PointCost:     &cost,
	})
	if err != nil {
		t.Fatalf("BookSession: %v", err)
	}
	if _, err := service.AcceptSession(context.Background(), session.ID, testTutorID); err != nil {
		t.Fatalf("accept: %v", err)
	}

	if _, err := service.CancelSession(context.Background(), session.ID, testTuteeID); err != nil {
		t.Fatalf("CancelSession: %v", err)
	}
	if got := users.balance(t, testTuteeID); got != -30 {
		t.Fatalf("expected balance -30 after penalty, got %d", got)
	}
}

// acceptDuringCancelStore accepts a requested session just before the cancel
// lands, so the requested-state conditional write always misses.
type acceptDuringCancelStore struct {
	*fakeSessionStore
}

func (r *acceptDuringCancelStore) CancelWithAudit(
	ctx context.Context,
	sessionID int64,
	currentStatus string,
	cancelledBy int64,
	reason string,
	penaltyPoints *int,
) (*models.Session, error) {
	if currentStatus == models.SessionStatusRequested {
		r.mu.Lock()
		if s, ok := r.sessions[sessionID]; ok && s.Status == models.SessionStatusRequested {
			s.Status = models.SessionStatusScheduled
		}
		r.mu.Unlock()
	}
	return r.fakeSessionStore.CancelWithAudit(ctx, sessionID, currentStatus, cancelledBy, reason, penaltyPoints)
}

func TestCancelSurvivesConcurrentAccept(t *testing.T) {
	users := newFakeUserStore(
		&models.User{ID: testTutorID, Username: "tutor", IsTutor: true, PointsBalance: 100},
		&models.User{ID: testTuteeID, Username: "tutee", PointsBalance: 100},
	)
	sessions := &acceptDuringCancelStore{fakeSessionStore: newFakeSessionStore()}
	skills := &fakeSkillStore{skills: map[int64]*models.Skill{testSkillID: {ID: testSkillID, Name: "Calculus"}}}
	service := NewSchedulingService(sessions, users, skills, NewPointsService(users), nil, DefaultSettings())

	session, err := service.BookSession(context.Background(), testTuteeID, BookSessionInput{
		TutorID:       testTutorID,
		SkillID:       testSkillID,
		ScheduledTime: futureTime(),
	})
	if err != nil {
		t.Fatalf("BookSession: %v", err)
	}

	// The session reads as requested, but the tutor accepts before our
	// cancel lands; the cancel must still go through, down the scheduled
	// path with its penalty.
	result, err := service.CancelSession(context.Background(), session.ID, testTuteeID)
	if err != nil {
		t.Fatalf("CancelSession: %v", err)
	}
	if result.Session.Status != models.SessionStatusCancelled {
		t.Fatalf("expected cancelled, got %q", result.Session.Status)
	}
	if result.PenaltyApplied != 50 {
		t.Fatalf("expected penalty 50 after losing the accept race, got %d", result.PenaltyApplied)
	}
	if got := users.balance(t, testTuteeID); got != 50 {
		t.Fatalf("expected tutee balance 50, got %d", got)
	}
}

// cancelDuringSettleStore cancels the session just before the completion is
// finalized, after the settlement already moved points.
type cancelDuringSettleStore struct {
	*fakeSessionStore
}

func (r *cancelDuringSettleStore) MarkCompleted(ctx context.Context, sessionID int64) (*models.Session, error) {
	r.mu.Lock()
	if s, ok := r.sessions[sessionID]; ok && !s.IsTerminal() {
		s.Status = models.SessionStatusCancelled
	}
	r.mu.Unlock()
	return r.fakeSessionStore.MarkCompleted(ctx, sessionID)
}

func TestCompleteReversesTransferWhenCancelWinsFinalize(t *testing.T) {
	users := newFakeUserStore(
		&models.User{ID: testTutorID, Username: "tutor", IsTutor: true, PointsBalance: 100},
		&models.User{ID: testTuteeID, Username: "tutee", PointsBalance: 100},
	)
	sessions := &cancelDuringSettleStore{fakeSessionStore: newFakeSessionStore()}
	skills := &fakeSkillStore{skills: map[int64]*models.Skill{testSkillID: {ID: testSkillID, Name: "Calculus"}}}
	service := NewSchedulingService(sessions, users, skills, NewPointsService(users), nil, DefaultSettings())

	cost := 30
	session, err := service.BookSession(context.Background(), testTuteeID, BookSessionInput{
		TutorID:       testTutorID,
		SkillID:       testSkillID,
		ScheduledTime: futureTime(),
		PointCost:     &cost,
	})
	if err != nil {
		t.Fatalf("BookSession: %v", err)
	}
	if _, err := service.AcceptSession(context.Background(), session.ID, testTutorID); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := service.CompleteSession(context.Background(), session.ID, testTuteeID); err != nil {
		t.Fatalf("tutee confirm: %v", err)
	}

	_, err = service.CompleteSession(context.Background(), session.ID, testTutorID)
	if !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("expected ErrInvalidStateTransition, got %v", err)
	}

	// The transfer ran before the cancel was noticed; both balances must be
	// back where they started.
	if got := users.balance(t, testTuteeID); got != 100 {
		t.Fatalf("expected tutee balance restored to 100, got %d", got)
	}
	if got := users.balance(t, testTutorID); got != 100 {
		t.Fatalf("expected tutor balance restored to 100, got %d", got)
	}
}

func TestCancelFinishedSessionFails(t *testing.T) {
	service, _, _ := newTestService(t)
	session := bookTestSession(t, service, 30)

	if _, err := service.CancelSession(context.Background(), session.ID, testTuteeID); err != nil {
		t.Fatalf("first cancel: %v", err)
	}
	_, err := service.CancelSession(context.Background(), session.ID, testTuteeID)
	if !errors.Is(err, ErrAlreadyFinished) {
		t.Fatalf("expected ErrAlreadyFinished, got %v", err)
	}
}

func TestNotificationCountCombinesPendingAndAwaiting(t *testing.T) {
	service, _, _ := newTestService(t)

	// One pending request for the tutor.
	bookTestSession(t, service, 10)

	// One scheduled session where the tutee confirmed and the tutor has not.
	other := bookTestSession(t, service, 10)
	if _, err := service.AcceptSession(context.Background(), other.ID, testTutorID); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := service.CompleteSession(context.Background(), other.ID, testTuteeID); err != nil {
		t.Fatalf("tutee confirm: %v", err)
	}

	count, err := service.NotificationCount(context.Background(), testTutorID)
	if err != nil {
		t.Fatalf("NotificationCount: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 notifications for the tutor, got %d", count)
	}

	tuteeCount, err := service.NotificationCount(context.Background(), testTuteeID)
	if err != nil {
		t.Fatalf("NotificationCount: %v", err)
	}
	if tuteeCount != 0 {
		t.Fatalf("expected 0 notifications for the tutee, got %d", tuteeCount)
	}
}
