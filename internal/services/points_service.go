package services

import (
	"context"
	"errors"
	"log"

	"github.com/jackc/pgx/v5"

	"github.com/JoshuaJosiahMcMahon/SkillSwapFinalSubmission/internal/metrics"
	"github.com/JoshuaJosiahMcMahon/SkillSwapFinalSubmission/internal/models"
)

// balanceStore is the slice of the user store the ledger writes through. All
// mutations are single-row atomic updates; the ledger never assumes a
// cross-row transaction is available.
type balanceStore interface {
	GetByID(ctx context.Context, id int64) (*models.User, error)
	CreditPoints(ctx context.Context, userID int64, amount int) error
	DebitPointsIfSufficient(ctx context.Context, userID int64, amount int) (bool, error)
	DebitPoints(ctx context.Context, userID int64, amount int) error
	GetBalance(ctx context.Context, userID int64) (int, error)
}

type PointsService struct {
	users balanceStore
}

func NewPointsService(users balanceStore) *PointsService {
	return &PointsService{users: users}
}

// TransferPoints moves amount from one balance to another as a conditional
// debit followed by a credit. If the credit fails after the debit landed, a
// reversing credit restores the debited balance before the failure is
// reported. A reversal that itself fails leaves the ledger inconsistent and
// is logged for manual reconciliation; there is no durable journal here.
func (s *PointsService) TransferPoints(ctx context.Context, fromID, toID int64, amount int) error {
	if amount <= 0 {
		return ErrValidation
	}

	if _, err := s.users.GetByID(ctx, fromID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	if _, err := s.users.GetByID(ctx, toID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}

	debited, err := s.users.DebitPointsIfSufficient(ctx, fromID, amount)
	if err != nil {
		return err
	}
	if !debited {
		return ErrInsufficientPoints
	}

	if err := s.users.CreditPoints(ctx, toID, amount); err != nil {
		metrics.TransferFailures.Inc()
		if reverseErr := s.users.CreditPoints(ctx, fromID, amount); reverseErr != nil {
			metrics.CompensationFailures.Inc()
			log.Printf(
				"CRITICAL: transfer reversal failed, user %d short %d points (credit: %v, reversal: %v)",
				fromID, amount, err, reverseErr,
			)
		}
		return ErrTransferFailed
	}

	metrics.PointsTransferred.Add(float64(amount))
	return nil
}

// AddPoints credits amount to a single user. Used for the free-session tutor
// bonus.
func (s *PointsService) AddPoints(ctx context.Context, userID int64, amount int) error {
	if amount <= 0 {
		return ErrValidation
	}
	if err := s.users.CreditPoints(ctx, userID, amount); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

func (s *PointsService) GetBalance(ctx context.Context, userID int64) (int, error) {
	balance, err := s.users.GetBalance(ctx, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return balance, nil
}
