package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/vanpelt/purrlog/internal/models"
	"github.com/vanpelt/purrlog/internal/services"
)

// LogsHandler exposes the synchronization core over HTTP: freshness
// checks, the live-reload version signal, manual refresh, session
// deletion, and the structured project index.
type LogsHandler struct {
	scheduler *services.Scheduler
	regen     *services.Regenerator
	detector  *services.StalenessDetector
	index     *services.SessionIndex
	deletion  *services.DeletionCoordinator
}

// NewLogsHandler creates a new logs handler.
func NewLogsHandler(
	scheduler *services.Scheduler,
	regen *services.Regenerator,
	detector *services.StalenessDetector,
	index *services.SessionIndex,
	deletion *services.DeletionCoordinator,
) *LogsHandler {
	return &LogsHandler{
		scheduler: scheduler,
		regen:     regen,
		detector:  detector,
		index:     index,
		deletion:  deletion,
	}
}

// CheckUpdate reports whether any shard is newer than the newest artifact
// @Summary Check whether the mirror is stale
// @Produce json
// @Success 200 {object} models.CheckUpdateResponse
// @Router /api/check-update [get]
func (h *LogsHandler) CheckUpdate(c *fiber.Ctx) error {
	needsUpdate := h.detector.MaxShardMtime().After(h.detector.MaxArtifactMtime())
	return c.JSON(models.CheckUpdateResponse{NeedsUpdate: needsUpdate})
}

// Version returns the freshness signal polled by open viewers
// @Summary Get the mirror version signal
// @Produce json
// @Success 200 {object} models.VersionSnapshot
// @Router /api/version [get]
func (h *LogsHandler) Version(c *fiber.Ctx) error {
	return c.JSON(h.regen.Snapshot())
}

// Refresh dispatches a regeneration run in the background
// @Summary Trigger regeneration
// @Produce json
// @Success 200 {object} models.RefreshResponse
// @Failure 500 {object} models.RefreshResponse
// @Router /api/refresh [post]
func (h *LogsHandler) Refresh(c *fiber.Ctx) error {
	if err := h.scheduler.Refresh(); err != nil {
		return c.Status(500).JSON(models.RefreshResponse{
			Status:  "error",
			Message: err.Error(),
		})
	}
	return c.JSON(models.RefreshResponse{Status: "ok", Message: "Regeneration started"})
}

// Projects returns the structured session index
// @Summary List projects and their sessions
// @Produce json
// @Success 200 {object} map[string]models.Project
// @Router /api/projects [get]
func (h *LogsHandler) Projects(c *fiber.Ctx) error {
	projects, err := h.index.Build()
	if err != nil {
		return c.Status(500).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(projects)
}

// DeleteSession removes a session's shard and artifacts
// @Summary Delete a session
// @Accept json
// @Produce json
// @Param request body models.DeleteSessionRequest true "Session to delete"
// @Success 200 {object} models.DeleteSessionResponse
// @Failure 400 {object} models.DeleteSessionResponse
// @Failure 404 {object} models.DeleteSessionResponse
// @Failure 500 {object} models.DeleteSessionResponse
// @Router /api/delete-session [post]
func (h *LogsHandler) DeleteSession(c *fiber.Ctx) error {
	var req models.DeleteSessionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(models.DeleteSessionResponse{
			Status:  "error",
			Message: "invalid request body",
		})
	}
	if req.Project == "" || req.SessionID == "" {
		return c.Status(400).JSON(models.DeleteSessionResponse{
			Status:  "error",
			Message: "project and session_id are required",
		})
	}

	deleted, err := h.deletion.Delete(req.Project, req.SessionID)
	if err != nil {
		status := 500
		switch {
		case errors.Is(err, services.ErrInvalidSessionID):
			status = 400
		case errors.Is(err, services.ErrProjectNotFound), errors.Is(err, services.ErrNothingToDelete):
			status = 404
		}
		return c.Status(status).JSON(models.DeleteSessionResponse{
			Status:  "error",
			Deleted: deleted,
			Message: err.Error(),
		})
	}

	return c.JSON(models.DeleteSessionResponse{Status: "ok", Deleted: deleted})
}
