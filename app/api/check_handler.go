package api

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"contractrag/types"
)

// StatsSource is the part of the vector index the health checks and status page need.
type StatsSource interface {
	Stats(ctx context.Context) (types.IndexStats, error)
}

type CheckHandler struct {
	index StatsSource
}

func NewCheckHandler(index StatsSource) *CheckHandler {
	return &CheckHandler{index: index}
}

func (h CheckHandler) HandleHealthy(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"result": "ok"})
}

// HandleReady reports whether the vector index answers.
func (h CheckHandler) HandleReady(c *fiber.Ctx) error {
	stats, err := h.index.Stats(c.UserContext())
	if err != nil {
		slog.Warn("readiness check failed", "error", err)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"result": "unavailable",
			"detail": "knowledge base is temporarily unavailable",
		})
	}
	return c.JSON(fiber.Map{"result": "ok", "index": stats})
}

type StatusHandler struct {
	index StatsSource
	info  StatusInfo
}

// StatusInfo describes the configured pipeline for GET /api/v1/rag/status.
type StatusInfo struct {
	Provider       string `json:"provider"`
	ChatModel      string `json:"chat_model"`
	EmbeddingModel string `json:"embedding_model"`
	Tokenizer      string `json:"tokenizer"`
	ChunkSize      int    `json:"chunk_size"`
	ChunkOverlap   int    `json:"chunk_overlap"`
	TopK           int    `json:"top_k"`
}

func NewStatusHandler(index StatsSource, info StatusInfo) *StatusHandler {
	return &StatusHandler{index: index, info: info}
}

func (h *StatusHandler) HandleStatus(c *fiber.Ctx) error {
	stats, err := h.index.Stats(c.UserContext())
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrIndexUnavailable, err)
	}
	return c.JSON(fiber.Map{
		"available": true,
		"index":     stats,
		"pipeline":  h.info,
	})
}
