package handlers

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"

	"github.com/JoshuaJosiahMcMahon/SkillSwapFinalSubmission/internal/models"
	"github.com/JoshuaJosiahMcMahon/SkillSwapFinalSubmission/internal/repository"
	"github.com/JoshuaJosiahMcMahon/SkillSwapFinalSubmission/internal/services"
)

type SessionHandler struct {
	service schedulingService
}

type schedulingService interface {
	BookSession(ctx context.Context, tuteeID int64, input services.BookSessionInput) (*models.Session, error)
	AcceptSession(ctx context.Context, sessionID, callerID int64) (*models.Session, error)
	RejectSession(ctx context.Context, sessionID, callerID int64) (*models.Session, error)
	CompleteSession(ctx context.Context, sessionID, callerID int64) (*services.CompleteResult, error)
	CancelSession(ctx context.Context, sessionID, callerID int64) (*services.CancelResult, error)
	GetSession(ctx context.Context, sessionID, callerID int64) (*models.SessionDetail, error)
	ListSessions(ctx context.Context, userID int64, filter repository.SessionListFilter) ([]models.Session, error)
	PendingRequests(ctx context.Context, tutorID int64) ([]models.SessionDetail, error)
	NotificationCount(ctx context.Context, userID int64) (int, error)
}

func NewSessionHandler(service schedulingService) *SessionHandler {
	return &SessionHandler{service: service}
}

type bookSessionRequest struct {
	TutorID       int64  `json:"tutor_id"`
	SkillID       int64  `json:"skill_id"`
	ScheduledTime string `json:"scheduled_time"`
	PointCost     *int   `json:"point_cost"`
}

func (h *SessionHandler) BookSession(c *fiber.Ctx) error {
	userID, err := parseAuthUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"success": false, "error": "Invalid token"})
	}

	var req bookSessionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "Invalid request body"})
	}

	if req.TutorID <= 0 || req.SkillID <= 0 || strings.TrimSpace(req.ScheduledTime) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "Missing required fields"})
	}

	scheduledTime, err := time.Parse(time.RFC3339, strings.TrimSpace(req.ScheduledTime))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "Invalid date format"})
	}
	if req.PointCost != nil && *req.PointCost < 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "Point cost cannot be negative"})
	}

	session, err := h.service.BookSession(c.Context(), userID, services.BookSessionInput{
		TutorID:       req.TutorID,
		SkillID:       req.SkillID,
		ScheduledTime: scheduledTime,
		PointCost:     req.PointCost,
	})
	if err != nil {
		return mapSessionError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "session": session})
}

func (h *SessionHandler) AcceptSession(c *fiber.Ctx) error {
	userID, sessionID, ok := parseSessionCall(c)
	if !ok {
		return nil
	}

	session, err := h.service.AcceptSession(c.Context(), sessionID, userID)
	if err != nil {
		return mapSessionError(c, err)
	}

	return c.JSON(fiber.Map{"success": true, "session": session})
}

func (h *SessionHandler) RejectSession(c *fiber.Ctx) error {
	userID, sessionID, ok := parseSessionCall(c)
	if !ok {
		return nil
	}

	session, err := h.service.RejectSession(c.Context(), sessionID, userID)
	if err != nil {
		return mapSessionError(c, err)
	}

	return c.JSON(fiber.Map{"success": true, "session": session})
}

func (h *SessionHandler) CompleteSession(c *fiber.Ctx) error {
	userID, sessionID, ok := parseSessionCall(c)
	if !ok {
		return nil
	}

	result, err := h.service.CompleteSession(c.Context(), sessionID, userID)
	if err != nil {
		return mapSessionError(c, err)
	}

	return c.JSON(fiber.Map{
		"success":   true,
		"session":   result.Session,
		"completed": result.Completed,
		"message":   result.Message,
	})
}

func (h *SessionHandler) CancelSession(c *fiber.Ctx) error {
	userID, sessionID, ok := parseSessionCall(c)
	if !ok {
		return nil
	}

	result, err := h.service.CancelSession(c.Context(), sessionID, userID)
	if err != nil {
		return mapSessionError(c, err)
	}

	return c.JSON(fiber.Map{
		"success":         true,
		"session":         result.Session,
		"penalty_applied": result.PenaltyApplied,
		"message":         result.Message,
	})
}

func (h *SessionHandler) GetSession(c *fiber.Ctx) error {
	userID, sessionID, ok := parseSessionCall(c)
	if !ok {
		return nil
	}

	detail, err := h.service.GetSession(c.Context(), sessionID, userID)
	if err != nil {
		return mapSessionError(c, err)
	}

	return c.JSON(fiber.Map{"session": detail})
}

func (h *SessionHandler) ListSessions(c *fiber.Ctx) error {
	userID, err := parseAuthUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	status := strings.TrimSpace(c.Query("status"))
	switch status {
	case "", models.SessionStatusRequested, models.SessionStatusScheduled,
		models.SessionStatusCompleted, models.SessionStatusCancelled:
	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid status filter"})
	}

	sessions, err := h.service.ListSessions(c.Context(), userID, repository.SessionListFilter{Status: status})
	if err != nil {
		return mapSessionError(c, err)
	}

	return c.JSON(fiber.Map{"sessions": sessions})
}

func (h *SessionHandler) PendingRequests(c *fiber.Ctx) error {
	userID, err := parseAuthUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	requests, err := h.service.PendingRequests(c.Context(), userID)
	if err != nil {
		return mapSessionError(c, err)
	}

	return c.JSON(fiber.Map{"requests": requests})
}

func (h *SessionHandler) NotificationCount(c *fiber.Ctx) error {
	userID, err := parseAuthUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	count, err := h.service.NotificationCount(c.Context(), userID)
	if err != nil {
		// The badge is cosmetic; degrade to zero rather than erroring the
		// whole dashboard.
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"count": 0})
	}

	return c.JSON(fiber.Map{"count": count})
}

// parseSessionCall resolves the caller and the :id route parameter. On
// failure it writes the error response itself and reports ok=false; the
// handler must not touch the service in that case.
func parseSessionCall(c *fiber.Ctx) (userID int64, sessionID int64, ok bool) {
	userID, err := parseAuthUserID(c)
	if err != nil {
		_ = c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"success": false, "error": "Invalid token"})
		return 0, 0, false
	}

	sessionID, err = strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || sessionID <= 0 {
		_ = c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "Invalid session id"})
		return 0, 0, false
	}

	return userID, sessionID, true
}

func mapSessionError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	message := "Failed to process session request"

	switch {
	case errors.Is(err, services.ErrValidation):
		status, message = fiber.StatusBadRequest, "Missing or invalid fields"
	case errors.Is(err, services.ErrInvalidSchedule):
		status, message = fiber.StatusBadRequest, "Scheduled time must be a valid future date"
	case errors.Is(err, services.ErrInvalidTutor):
		status, message = fiber.StatusBadRequest, "Invalid tutor"
	case errors.Is(err, services.ErrInvalidTutee):
		status, message = fiber.StatusBadRequest, "Invalid tutee"
	case errors.Is(err, services.ErrInsufficientPoints):
		status, message = fiber.StatusBadRequest, "Insufficient points balance"
	case errors.Is(err, services.ErrTimeConflict):
		status, message = fiber.StatusConflict, "Tutor is already booked at this time"
	case errors.Is(err, services.ErrUnauthorized):
		status, message = fiber.StatusForbidden, "Unauthorized"
	case errors.Is(err, services.ErrNotFound), errors.Is(err, pgx.ErrNoRows):
		status, message = fiber.StatusNotFound, "Session not found"
	case errors.Is(err, services.ErrInvalidStateTransition):
		status, message = fiber.StatusUnprocessableEntity, "Session cannot change state from its current status"
	case errors.Is(err, services.ErrAlreadyFinished):
		status, message = fiber.StatusUnprocessableEntity, "Session is already finished"
	case errors.Is(err, services.ErrTransferFailed):
		status, message = fiber.StatusUnprocessableEntity, "Failed to transfer points"
	}

	return c.Status(status).JSON(fiber.Map{"success": false, "error": message})
}
