package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JoshuaJosiahMcMahon/SkillSwapFinalSubmission/internal/models"
)

type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const userColumns = `id, email, username, password_hash, is_tutor, is_admin, banned, ban_reason, points_balance, block_name, created_at, updated_at`

type UserRepository struct {
	db DBTX
}

func NewUserRepository(db DBTX) *UserRepository {
	return &UserRepository{db: db}
}

func scanUser(row pgx.Row) (*models.User, error) {
	var user models.User
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.Username,
		&user.PasswordHash,
		&user.IsTutor,
		&user.IsAdmin,
		&user.Banned,
		&user.BanReason,
		&user.PointsBalance,
		&user.BlockName,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *UserRepository) CreateUser(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (email, username, password_hash, is_tutor, points_balance, block_name)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`
	return r.db.QueryRow(
		ctx,
		query,
		user.Email,
		user.Username,
		user.PasswordHash,
		user.IsTutor,
		user.PointsBalance,
		user.BlockName,
	).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
}

func (r *UserRepository) GetByID(ctx context.Context, id int64) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(r.db.QueryRow(ctx, query, id))
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return scanUser(r.db.QueryRow(ctx, query, email))
}

// CreditPoints adds amount to the user's balance as a single atomic write.
func (r *UserRepository) CreditPoints(ctx context.Context, userID int64, amount int) error {
	query := `
		UPDATE users
		SET points_balance = points_balance + $2, updated_at = NOW()
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query, userID, amount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// DebitPointsIfSufficient subtracts amount only when the balance covers it.
// Returns false when the conditional write matched no row because the balance
// was too low.
func (r *UserRepository) DebitPointsIfSufficient(ctx context.Context, userID int64, amount int) (bool, error) {
	query := `
		UPDATE users
		SET points_balance = points_balance - $2, updated_at = NOW()
		WHERE id = $1 AND points_balance >= $2
	`
	tag, err := r.db.Exec(ctx, query, userID, amount)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// DebitPoints subtracts amount unconditionally. The balance may go negative;
// the cancellation penalty is applied regardless of funds.
func (r *UserRepository) DebitPoints(ctx context.Context, userID int64, amount int) error {
	query := `
		UPDATE users
		SET points_balance = points_balance - $2, updated_at = NOW()
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query, userID, amount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *UserRepository) GetBalance(ctx context.Context, userID int64) (int, error) {
	var balance int
	err := r.db.QueryRow(ctx, `SELECT points_balance FROM users WHERE id = $1`, userID).Scan(&balance)
	if err != nil {
		return 0, err
	}
	return balance, nil
}
