package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/onboarding-agent/backend/internal/llm"
	"github.com/onboarding-agent/backend/internal/metrics"
	"github.com/onboarding-agent/backend/internal/storage/models"
	"github.com/onboarding-agent/backend/internal/tools"
	"github.com/onboarding-agent/backend/internal/vector"
	"github.com/onboarding-agent/backend/pkg/logger"
)

const DefaultMaxSteps = 10

var (
	ErrInternal     = errors.New("agent internal error")
	ErrEmptyHistory = errors.New("agent turn requires a non-empty query")
)

type Model interface {
	Complete(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error)
	Stream(ctx context.Context, req llm.ChatRequest, onToken func(string) error) (*llm.ChatResponse, error)
}

// ConversationStore persists each thread's messages. Append must write all
// messages of a call or none of them.
type ConversationStore interface {
	Load(ctx context.Context, threadID string) ([]models.Message, error)
	Append(ctx context.Context, threadID string, msgs ...models.Message) error
}

type Agent struct {
	model    Model
	store    ConversationStore
	registry *tools.Registry
	specs    []llm.ToolSpec
	system   string
	maxSteps int
}

type Option func(*Agent)

func WithMaxSteps(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.maxSteps = n
		}
	}
}

func WithSystemPrompt(prompt string) Option {
	return func(a *Agent) {
		if prompt != "" {
			a.system = prompt
		}
	}
}

func New(model Model, store ConversationStore, registry *tools.Registry, opts ...Option) *Agent {
	a := &Agent{
		model:    model,
		store:    store,
		registry: registry,
		system:   DefaultSystemPrompt,
		maxSteps: DefaultMaxSteps,
	}
	for _, opt := range opts {
		opt(a)
	}

	for _, t := range registry.List() {
		a.specs = append(a.specs, llm.ToolSpec{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}

	return a
}

// Run answers query within threadID and returns the final answer.
func (a *Agent) Run(ctx context.Context, threadID, query string) (string, error) {
	return a.turn(ctx, threadID, query, nil)
}

// Stream runs a turn and reports progress through emit. The final event is
// done on success or error on failure, unless emit itself failed.
func (a *Agent) Stream(ctx context.Context, threadID, query string, emit Emitter) error {
	if emit == nil {
		emit = func(Event) error { return nil }
	}

	_, err := a.turn(ctx, threadID, query, emit)
	if err == nil {
		return nil
	}

	var ee *emitError
	if errors.As(err, &ee) || ctx.Err() != nil {
		return err
	}

	content := InternalErrorMessage
	if errors.Is(err, ErrEmptyHistory) {
		content = err.Error()
	}
	if emitErr := emit(Event{Type: EventError, Content: content}); emitErr != nil {
		logger.Debug("Failed to emit error event", zap.Error(emitErr))
	}
	return err
}

func (a *Agent) turn(ctx context.Context, threadID, query string, emit Emitter) (answer string, err error) {
	start := time.Now()
	steps := 0
	defer func() {
		status := "ok"
		switch {
		case err == nil:
		case errors.Is(err, context.Canceled), errors.As(err, new(*emitError)):
			status = "aborted"
		default:
			status = "error"
		}
		metrics.AgentTurns.WithLabelValues(status).Inc()
		metrics.AgentTurnDuration.Observe(time.Since(start).Seconds())
		metrics.AgentSteps.Observe(float64(steps))
	}()

	if strings.TrimSpace(query) == "" {
		return "", ErrEmptyHistory
	}

	history, err := a.store.Load(ctx, threadID)
	if err != nil {
		logger.Error("Failed to load conversation",
			zap.String("thread_id", threadID),
			zap.Error(err),
		)
		return "", ErrInternal
	}

	pending := []models.Message{{
		Role:      models.RoleUser,
		Content:   query,
		CreatedAt: time.Now(),
	}}

	for steps < a.maxSteps {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		steps++

		resp, err := a.think(ctx, append(history[:len(history):len(history)], pending...), emit)
		if err != nil {
			if errors.As(err, new(*emitError)) || ctx.Err() != nil {
				return "", err
			}
			logger.Error("Model call failed",
				zap.String("thread_id", threadID),
				zap.Int("step", steps),
				zap.Error(err),
			)
			return "", ErrInternal
		}

		assistant := models.Message{
			Role:      models.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
			CreatedAt: time.Now(),
		}
		for i := range assistant.ToolCalls {
			if assistant.ToolCalls[i].ID == "" {
				assistant.ToolCalls[i].ID = "call_" + uuid.NewString()
			}
		}
		pending = append(pending, assistant)

		if len(assistant.ToolCalls) == 0 {
			if err := a.store.Append(ctx, threadID, pending...); err != nil {
				logger.Error("Failed to persist conversation turn",
					zap.String("thread_id", threadID),
					zap.Error(err),
				)
				return "", ErrInternal
			}

			if err := a.send(emit, Event{Type: EventDone}); err != nil {
				return "", err
			}

			logger.Info("Agent turn completed",
				zap.String("thread_id", threadID),
				zap.Int("steps", steps),
				zap.Duration("duration", time.Since(start)),
			)
			return resp.Content, nil
		}

		results, err := a.act(ctx, threadID, assistant.ToolCalls, emit)
		if err != nil {
			return "", err
		}
		pending = append(pending, results...)
	}

	logger.Error("Agent exceeded step budget",
		zap.String("thread_id", threadID),
		zap.Int("max_steps", a.maxSteps),
	)
	return "", ErrInternal
}

func (a *Agent) think(ctx context.Context, msgs []models.Message, emit Emitter) (*llm.ChatResponse, error) {
	req := llm.ChatRequest{
		System:   a.system,
		Messages: msgs,
		Tools:    a.specs,
	}

	if emit == nil {
		return a.model.Complete(ctx, req)
	}

	return a.model.Stream(ctx, req, func(token string) error {
		return a.send(emit, Event{Type: EventToken, Content: token})
	})
}

// act runs the requested tools in order. Tool failures are returned to the
// model as error messages instead of ending the turn.
func (a *Agent) act(ctx context.Context, threadID string, calls []models.ToolCall, emit Emitter) ([]models.Message, error) {
	out := make([]models.Message, 0, len(calls))

	for _, call := range calls {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := a.send(emit, Event{Type: EventToolCall, Name: call.Name, Args: call.Arguments}); err != nil {
			return nil, err
		}

		content, err := a.registry.Invoke(ctx, call.Name, call.Arguments)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logger.Warn("Tool call failed",
				zap.String("thread_id", threadID),
				zap.String("tool", call.Name),
				zap.Error(err),
			)
			content = toolErrorMessage(err)
		}

		out = append(out, models.Message{
			Role:       models.RoleTool,
			Content:    content,
			ToolCallID: call.ID,
			Name:       call.Name,
			CreatedAt:  time.Now(),
		})

		if err := a.send(emit, Event{Type: EventToolResult, Name: call.Name, Content: content}); err != nil {
			return nil, err
		}
	}

	return out, nil
}

// toolErrorMessage is what the model and the client see for a failed tool
// call. Only call-shape errors keep their text so the model can correct
// itself; backend detail stays in the logs.
func toolErrorMessage(err error) string {
	switch {
	case errors.Is(err, tools.ErrUnknownTool), errors.Is(err, tools.ErrInvalidArguments):
		return fmt.Sprintf("Error: %v", err)
	case errors.Is(err, vector.ErrRetrievalUnavailable):
		return ToolUnavailableMessage
	default:
		return ToolFailedMessage
	}
}

func (a *Agent) send(emit Emitter, ev Event) error {
	if emit == nil {
		return nil
	}
	if err := emit(ev); err != nil {
		return &emitError{err: err}
	}
	return nil
}
