package models

import "time"

const (
	SessionStatusRequested = "requested"
	SessionStatusScheduled = "scheduled"
	SessionStatusCompleted = "completed"
	SessionStatusCancelled = "cancelled"
)

type Session struct {
	ID                 int64      `json:"id"`
	TutorID            int64      `json:"tutor_id"`
	TuteeID            int64      `json:"tutee_id"`
	SkillID            int64      `json:"skill_id"`
	Status             string     `json:"status"`
	ScheduledTime      time.Time  `json:"scheduled_time"`
	PointCost          int        `json:"point_cost"`
	TutorConfirmed     bool       `json:"tutor_confirmed"`
	TuteeConfirmed     bool       `json:"tutee_confirmed"`
	CancelledBy        *int64     `json:"cancelled_by,omitempty"`
	CancellationReason *string    `json:"cancellation_reason,omitempty"`
	PenaltyPoints      *int       `json:"penalty_points,omitempty"`
	CompletedAt        *time.Time `json:"completed_at"`
	CreatedAt          time.Time  `json:"created_at"`
}

// IsTerminal reports whether the session can no longer change state.
func (s *Session) IsTerminal() bool {
	return s.Status == SessionStatusCompleted || s.Status == SessionStatusCancelled
}

func (s *Session) IsParticipant(userID int64) bool {
	return s.TutorID == userID || s.TuteeID == userID
}

// SessionDetail is a session joined with the people and skill it references,
// used by read endpoints that render a booking to either participant.
type SessionDetail struct {
	Session
	Tutor *UserSummary `json:"tutor,omitempty"`
	Tutee *UserSummary `json:"tutee,omitempty"`
	Skill *Skill       `json:"skill,omitempty"`
}
