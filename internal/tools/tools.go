// Package tools holds the executors behind ToolRuns
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/branchline/internal/agent"
	"github.com/branchline/pkg/models"
)

// Tool executes one kind of ToolRun
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, input json.RawMessage) (json.RawMessage, error)
}

// DecisionRequired is returned by a tool that cannot continue without a human
// choice. The run is held until one of Options is picked.
type DecisionRequired struct {
	Prompt  string
	Options []models.DecisionOption
}

func (d *DecisionRequired) Error() string {
	return fmt.Sprintf("decision required: %s", d.Prompt)
}

// Func adapts a function to the Tool interface
type Func struct {
	ToolName        string
	ToolDescription string
	Schema          map[string]interface{}
	Fn              func(ctx context.Context, input json.RawMessage) (json.RawMessage, error)
}

func (f *Func) Name() string                       { return f.ToolName }
func (f *Func) Description() string                { return f.ToolDescription }
func (f *Func) Parameters() map[string]interface{} { return f.Schema }

func (f *Func) Execute(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	return f.Fn(ctx, input)
}

// Registry maps tool names to executors
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{tools: make(map[string]Tool)}
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Register(t Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t.Name() == "" {
		return models.Errorf(models.CodeInvalidArgument, "tool name is required")
	}
	if _, exists := r.tools[t.Name()]; exists {
		return models.Errorf(models.CodeInvalidArgument, "tool %q already registered", t.Name())
	}
	r.tools[t.Name()] = t
	return nil
}

func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Execute runs the named tool
func (r *Registry) Execute(ctx context.Context, name string, input json.RawMessage) (json.RawMessage, error) {
	t, ok := r.Get(name)
	if !ok {
		return nil, models.NotFound("tool", name)
	}
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}
	return t.Execute(ctx, input)
}

// Specs describes every registered tool, sorted by name
func (r *Registry) Specs() []agent.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]agent.ToolSpec, 0, len(r.tools))
	for _, t := range r.tools {
		specs = append(specs, agent.ToolSpec{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// MergeParams overlays the keys of params onto the JSON object input.
// Both must be JSON objects (or empty).
func MergeParams(input, params json.RawMessage) (json.RawMessage, error) {
	base := map[string]json.RawMessage{}
	if len(input) > 0 {
		if err := json.Unmarshal(input, &base); err != nil {
			return nil, fmt.Errorf("tool input is not an object: %w", err)
		}
	}
	if len(params) == 0 {
		return json.Marshal(base)
	}
	overlay := map[string]json.RawMessage{}
	if err := json.Unmarshal(params, &overlay); err != nil {
		return nil, fmt.Errorf("option params are not an object: %w", err)
	}
	for k, v := range overlay {
		base[k] = v
	}
	return json.Marshal(base)
}
