// Package agent defines the contract between the run controller and whatever
// produces assistant output for a branch.
package agent

import (
	"context"
	"encoding/json"

	"github.com/branchline/pkg/models"
)

// ToolCall is a request from the agent to run a named tool
type ToolCall struct {
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input,omitempty"`
}

// ToolResult is what the agent gets back for a ToolCall. A failed tool is
// reported through Error rather than as a Go error so the agent can react.
type ToolResult struct {
	ToolRunID string          `json:"toolRunId"`
	Output    json.RawMessage `json:"output,omitempty"`
	Skipped   bool            `json:"skipped,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// Content renders the result as text for a model
func (r ToolResult) Content() string {
	switch {
	case r.Error != "":
		return `{"error":` + quote(r.Error) + `}`
	case r.Skipped:
		return `{"skipped":true}`
	case len(r.Output) == 0:
		return `{}`
	default:
		return string(r.Output)
	}
}

// ToolSpec advertises a tool to a model
type ToolSpec struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

// Sink receives everything an agent produces during a run. Every method
// returns an error once the run is no longer active; the agent should stop.
type Sink interface {
	AssistantMessage(ctx context.Context, content string, payload json.RawMessage) error
	// InvokeTool blocks until the tool finishes, which may include waiting
	// for a human decision.
	InvokeTool(ctx context.Context, call ToolCall) (ToolResult, error)
}

// Agent produces assistant output for a branch history. Run must return
// promptly once ctx is cancelled.
type Agent interface {
	Run(ctx context.Context, history []*models.Message, sink Sink) error
}

// Func adapts a function to the Agent interface
type Func func(ctx context.Context, history []*models.Message, sink Sink) error

func (f Func) Run(ctx context.Context, history []*models.Message, sink Sink) error {
	return f(ctx, history, sink)
}

// LastUserMessage returns the most recent USER message in history
func LastUserMessage(history []*models.Message) (*models.Message, bool) {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == models.RoleUser {
			return history[i], true
		}
	}
	return nil, false
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
