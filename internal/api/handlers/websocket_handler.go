package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/onboarding-agent/backend/internal/agent"
	"github.com/onboarding-agent/backend/internal/middleware/validation"
	"github.com/onboarding-agent/backend/pkg/logger"
)

type wsMessage struct {
	Type     string `json:"type"`
	Content  string `json:"content"`
	ThreadID string `json:"thread_id"`
}

type WebSocketHandler struct {
	agent          Agent
	maxQueryLength int
}

func NewWebSocketHandler(a Agent, maxQueryLength int) *WebSocketHandler {
	return &WebSocketHandler{
		agent:          a,
		maxQueryLength: maxQueryLength,
	}
}

// Upgrade rejects plain HTTP requests on the websocket route.
func Upgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// HandleConnection serves query messages until the client disconnects. A
// session without an explicit thread_id gets its own generated thread.
func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	sessionThread := c.Query("thread_id")
	if sessionThread == "" {
		sessionThread = "ws-" + uuid.NewString()
	}

	logger.Info("WebSocket connection established", zap.String("thread_id", sessionThread))

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		c.Close()
		logger.Info("WebSocket connection closed", zap.String("thread_id", sessionThread))
	}()

	for {
		var msg wsMessage
		if err := c.ReadJSON(&msg); err != nil {
			logger.Debug("WebSocket read ended", zap.Error(err))
			return
		}

		if err := h.handleMessage(ctx, sessionThread, msg, c.WriteJSON); err != nil {
			logger.Warn("Failed to stream response", zap.Error(err))
			return
		}
	}
}

// handleMessage streams the agent's events for one message through send. It
// returns an error only when the connection is no longer usable.
func (h *WebSocketHandler) handleMessage(ctx context.Context, sessionThread string, msg wsMessage, send func(interface{}) error) error {
	if msg.Type != "query" {
		return nil
	}

	req := validation.ChatRequest{Query: msg.Content, ThreadID: msg.ThreadID}
	if req.ThreadID == "" {
		req.ThreadID = sessionThread
	}
	if err := validation.Validate(&req, h.maxQueryLength); err != nil {
		return send(agent.Event{Type: agent.EventError, Content: err.Error()})
	}

	var sendErr error
	err := h.agent.Stream(ctx, req.ThreadID, req.Query, func(ev agent.Event) error {
		sendErr = send(ev)
		return sendErr
	})
	if sendErr != nil {
		return sendErr
	}
	if err != nil {
		logger.Debug("WebSocket turn failed", zap.String("thread_id", req.ThreadID), zap.Error(err))
	}
	return nil
}
