package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/onboarding-agent/backend/internal/metrics"
)

var (
	ErrUnknownTool      = errors.New("unknown tool")
	ErrInvalidArguments = errors.New("invalid tool arguments")
)

// InvokeFunc runs a tool with decoded JSON arguments and returns the text fed
// back to the model.
type InvokeFunc func(ctx context.Context, args map[string]interface{}) (string, error)

// Tool is a named capability the agent can call.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
	Invoke      InvokeFunc
}

// Registry is a fixed, ordered set of tools. It is built once and never
// modified, so it is safe for concurrent use.
type Registry struct {
	tools map[string]*Tool
	order []*Tool
}

func NewRegistry(tools ...*Tool) (*Registry, error) {
	r := &Registry{tools: make(map[string]*Tool, len(tools))}

	for _, tool := range tools {
		if tool.Name == "" {
			return nil, fmt.Errorf("tool name cannot be empty")
		}
		if tool.Invoke == nil {
			return nil, fmt.Errorf("tool %s must have an Invoke function", tool.Name)
		}
		if _, exists := r.tools[tool.Name]; exists {
			return nil, fmt.Errorf("tool %s is already registered", tool.Name)
		}
		r.tools[tool.Name] = tool
		r.order = append(r.order, tool)
	}

	return r, nil
}

func (r *Registry) Get(name string) (*Tool, bool) {
	tool, ok := r.tools[name]
	return tool, ok
}

// List returns the tools in registration order.
func (r *Registry) List() []*Tool {
	out := make([]*Tool, len(r.order))
	copy(out, r.order)
	return out
}

// Invoke dispatches a model tool call. rawArgs is the JSON object emitted by
// the model; an empty string is treated as no arguments.
func (r *Registry) Invoke(ctx context.Context, name, rawArgs string) (string, error) {
	tool, ok := r.tools[name]
	if !ok {
		metrics.ToolCalls.WithLabelValues("unknown", "error").Inc()
		return "", fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}

	args := map[string]interface{}{}
	if strings.TrimSpace(rawArgs) != "" {
		if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
			metrics.ToolCalls.WithLabelValues(name, "error").Inc()
			return "", fmt.Errorf("%w: %v", ErrInvalidArguments, err)
		}
	}

	out, err := tool.Invoke(ctx, args)
	if err != nil {
		metrics.ToolCalls.WithLabelValues(name, "error").Inc()
		return "", err
	}

	metrics.ToolCalls.WithLabelValues(name, "ok").Inc()
	return out, nil
}

func stringArg(args map[string]interface{}, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", fmt.Errorf("%w: missing %q", ErrInvalidArguments, key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %q must be a string", ErrInvalidArguments, key)
	}
	return s, nil
}

func stringSchema(key, description string) map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			key: map[string]interface{}{
				"type":        "string",
				"description": description,
			},
		},
		"required": []string{key},
	}
}
