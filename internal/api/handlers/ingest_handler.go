package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/onboarding-agent/backend/internal/ingestion"
	"github.com/onboarding-agent/backend/internal/storage/models"
	"github.com/onboarding-agent/backend/pkg/logger"
)

type Ingester interface {
	TryRun(ctx context.Context) (*ingestion.Report, error)
}

type RunHistory interface {
	RecentIngestionRuns(ctx context.Context, limit int) ([]models.IngestionRun, error)
}

type IngestHandler struct {
	ingester Ingester
	history  RunHistory
}

// NewIngestHandler builds the handler; history may be nil.
func NewIngestHandler(ingester Ingester, history RunHistory) *IngestHandler {
	return &IngestHandler{
		ingester: ingester,
		history:  history,
	}
}

func (h *IngestHandler) HandleIngest(c *fiber.Ctx) error {
	report, err := h.ingester.TryRun(c.UserContext())
	if errors.Is(err, ingestion.ErrRunInProgress) {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "An ingestion run is already in progress",
		})
	}
	if err != nil {
		logger.Error("Ingestion run failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Ingestion run failed",
		})
	}

	return c.JSON(report)
}

func (h *IngestHandler) HandleRuns(c *fiber.Ctx) error {
	if h.history == nil {
		return c.JSON(fiber.Map{"runs": []models.IngestionRun{}})
	}

	limit := c.QueryInt("limit", 20)
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	runs, err := h.history.RecentIngestionRuns(c.UserContext(), limit)
	if err != nil {
		logger.Error("Failed to list ingestion runs", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list ingestion runs",
		})
	}

	return c.JSON(fiber.Map{"runs": runs})
}
