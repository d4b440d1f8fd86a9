package llm

import (
	"sort"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/onboarding-agent/backend/internal/storage/models"
)

// ToolSpec describes a tool the model may call.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
}

type ChatRequest struct {
	System   string
	Messages []models.Message
	Tools    []ToolSpec
}

// ChatResponse is a model reply with its content already flattened to plain
// text.
type ChatResponse struct {
	Content   string
	ToolCalls []models.ToolCall
	Usage     Usage
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

func toOpenAIMessages(system string, msgs []models.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs)+1)
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, m := range msgs {
		switch m.Role {
		case models.RoleAssistant:
			msg := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: m.Content,
			}
			for _, tc := range m.ToolCalls {
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				})
			}
			out = append(out, msg)

		case models.RoleTool:
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    m.Content,
				Name:       m.Name,
				ToolCallID: m.ToolCallID,
			})

		default:
			out = append(out, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: m.Content,
			})
		}
	}

	return out
}

func toOpenAITools(specs []ToolSpec) []openai.Tool {
	if len(specs) == 0 {
		return nil
	}
	out := make([]openai.Tool, len(specs))
	for i, s := range specs {
		out[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        s.Name,
				Description: s.Description,
				Parameters:  s.Parameters,
			},
		}
	}
	return out
}

// contentText returns a message's content as plain text, joining the text
// parts of multi-part content and dropping everything else.
func contentText(msg openai.ChatCompletionMessage) string {
	if msg.Content != "" || len(msg.MultiContent) == 0 {
		return msg.Content
	}

	var sb strings.Builder
	for _, part := range msg.MultiContent {
		if part.Type == openai.ChatMessagePartTypeText {
			sb.WriteString(part.Text)
		}
	}
	return sb.String()
}

func fromOpenAIMessage(msg openai.ChatCompletionMessage) *ChatResponse {
	resp := &ChatResponse{Content: contentText(msg)}
	for _, tc := range msg.ToolCalls {
		resp.ToolCalls = append(resp.ToolCalls, models.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return resp
}

// toolCallAccumulator rebuilds tool calls from streamed fragments. The first
// fragment of a call carries its ID and name; later ones append arguments.
type toolCallAccumulator struct {
	calls map[int]*models.ToolCall
	next  int
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{calls: map[int]*models.ToolCall{}}
}

func (a *toolCallAccumulator) add(delta openai.ToolCall) {
	idx := a.next
	if delta.Index != nil {
		idx = *delta.Index
	} else if delta.ID == "" && a.next > 0 {
		idx = a.next - 1
	}

	call, ok := a.calls[idx]
	if !ok {
		call = &models.ToolCall{}
		a.calls[idx] = call
		if idx >= a.next {
			a.next = idx + 1
		}
	}

	if delta.ID != "" {
		call.ID = delta.ID
	}
	if delta.Function.Name != "" {
		call.Name = delta.Function.Name
	}
	call.Arguments += delta.Function.Arguments
}

func (a *toolCallAccumulator) result() []models.ToolCall {
	if len(a.calls) == 0 {
		return nil
	}

	indices := make([]int, 0, len(a.calls))
	for i := range a.calls {
		indices = append(indices, i)
	}
	sort.Ints(indices)

	out := make([]models.ToolCall, 0, len(indices))
	for _, i := range indices {
		out = append(out, *a.calls[i])
	}
	return out
}
