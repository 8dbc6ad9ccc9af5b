package models

import "time"

type User struct {
	ID            int64     `json:"id"`
	Email         string    `json:"email"`
	Username      string    `json:"username"`
	PasswordHash  string    `json:"-"`
	IsTutor       bool      `json:"is_tutor"`
	IsAdmin       bool      `json:"is_admin"`
	Banned        bool      `json:"banned"`
	BanReason     *string   `json:"ban_reason,omitempty"`
	PointsBalance int       `json:"points_balance"`
	BlockName     *string   `json:"block_name,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// UserSummary is the subset of a user safe to show to the other party of a
// session.
type UserSummary struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	IsTutor  bool   `json:"is_tutor"`
}

func (u *User) Summary() *UserSummary {
	return &UserSummary{
		ID:       u.ID,
		Username: u.Username,
		IsTutor:  u.IsTutor,
	}
}
