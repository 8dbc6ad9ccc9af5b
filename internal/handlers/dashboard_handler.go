package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"

	"github.com/JoshuaJosiahMcMahon/SkillSwapFinalSubmission/internal/models"
	"github.com/JoshuaJosiahMcMahon/SkillSwapFinalSubmission/internal/repository"
)

const (
	dashboardUpcomingLimit = 5
	dashboardRecentLimit   = 10
)

type dashboardSessionReader interface {
	UpcomingSessions(ctx context.Context, userID int64, limit int) ([]models.Session, error)
	ListSessions(ctx context.Context, userID int64, filter repository.SessionListFilter) ([]models.Session, error)
}

type balanceReader interface {
	GetBalance(ctx context.Context, userID int64) (int, error)
}

type userByIDReader interface {
	GetByID(ctx context.Context, id int64) (*models.User, error)
}

type DashboardHandler struct {
	sessions dashboardSessionReader
	points   balanceReader
	users    userByIDReader
}

func NewDashboardHandler(
	sessions dashboardSessionReader,
	points balanceReader,
	users userByIDReader,
) *DashboardHandler {
	return &DashboardHandler{
		sessions: sessions,
		points:   points,
		users:    users,
	}
}

func (h *DashboardHandler) GetDashboard(c *fiber.Ctx) error {
	userID, err := parseAuthUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	user, err := h.users.GetByID(c.Context(), userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "User not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to load dashboard"})
	}

	upcoming, err := h.sessions.UpcomingSessions(c.Context(), userID, dashboardUpcomingLimit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to load dashboard"})
	}

	recent, err := h.sessions.ListSessions(c.Context(), userID, repository.SessionListFilter{})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to load dashboard"})
	}
	if len(recent) > dashboardRecentLimit {
		recent = recent[:dashboardRecentLimit]
	}

	balance, err := h.points.GetBalance(c.Context(), userID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to load dashboard"})
	}

	return c.JSON(fiber.Map{
		"user":              user,
		"points_balance":    balance,
		"upcoming_sessions": upcoming,
		"recent_sessions":   recent,
	})
}

type PointsHandler struct {
	points balanceReader
}

func NewPointsHandler(points balanceReader) *PointsHandler {
	return &PointsHandler{points: points}
}

func (h *PointsHandler) GetBalance(c *fiber.Ctx) error {
	userID, err := parseAuthUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	balance, err := h.points.GetBalance(c.Context(), userID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch balance"})
	}

	return c.JSON(fiber.Map{"balance": balance})
}
