package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/onboarding-agent/backend/internal/agent"
	"github.com/onboarding-agent/backend/internal/middleware/validation"
	"github.com/onboarding-agent/backend/pkg/logger"
)

// Agent is the part of agent.Agent the transport needs.
type Agent interface {
	Run(ctx context.Context, threadID, query string) (string, error)
	Stream(ctx context.Context, threadID, query string, emit agent.Emitter) error
}

type ChatHandler struct {
	agent Agent
}

func NewChatHandler(a Agent) *ChatHandler {
	return &ChatHandler{agent: a}
}

// HandleChat answers a query in a single response.
func (h *ChatHandler) HandleChat(c *fiber.Ctx) error {
	req, ok := validation.RequestFrom(c)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	answer, err := h.agent.Run(c.UserContext(), req.ThreadID, req.Query)
	if err != nil {
		logger.Error("Chat request failed",
			zap.String("thread_id", req.ThreadID),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": agent.InternalErrorMessage,
		})
	}

	return c.JSON(fiber.Map{
		"answer": answer,
	})
}

// HandleStream answers a query as server-sent events, one JSON event per
// data line.
func (h *ChatHandler) HandleStream(c *fiber.Ctx) error {
	req, ok := validation.RequestFrom(c)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	// The writer runs after the handler returns, so it cannot use the
	// request context.
	ctx, cancel := context.WithCancel(context.Background())

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer cancel()

		err := h.agent.Stream(ctx, req.ThreadID, req.Query, func(ev agent.Event) error {
			return writeEvent(w, ev)
		})
		if err != nil && !errors.Is(err, agent.ErrInternal) {
			logger.Warn("Event stream ended early",
				zap.String("thread_id", req.ThreadID),
				zap.Error(err),
			)
		}
	})

	return nil
}

func writeEvent(w *bufio.Writer, ev agent.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	return w.Flush()
}
