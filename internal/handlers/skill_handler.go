package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/JoshuaJosiahMcMahon/SkillSwapFinalSubmission/internal/repository"
)

type SkillHandler struct {
	skillRepo *repository.SkillRepository
}

func NewSkillHandler(skillRepo *repository.SkillRepository) *SkillHandler {
	return &SkillHandler{skillRepo: skillRepo}
}

func (h *SkillHandler) ListSkills(c *fiber.Ctx) error {
	skills, err := h.skillRepo.List(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch skills"})
	}

	return c.JSON(fiber.Map{"skills": skills})
}
