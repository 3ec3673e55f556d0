package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/branchline/pkg/models"
)

// EchoAgent answers without a model. It repeats the last user message, and a
// message of the form "/tool <name> <json>" runs that tool first and echoes
// its result. Useful for local development and demos.
type EchoAgent struct{}

func NewEchoAgent() *EchoAgent { return &EchoAgent{} }

func (EchoAgent) Run(ctx context.Context, history []*models.Message, sink Sink) error {
	last, ok := LastUserMessage(history)
	if !ok {
		return sink.AssistantMessage(ctx, "nothing to echo", nil)
	}

	content := strings.TrimSpace(last.Content)
	if !strings.HasPrefix(content, "/tool ") {
		return sink.AssistantMessage(ctx, "echo: "+last.Content, nil)
	}

	fields := strings.SplitN(strings.TrimPrefix(content, "/tool "), " ", 2)
	call := ToolCall{Name: strings.TrimSpace(fields[0]), Input: json.RawMessage(`{}`)}
	if len(fields) == 2 && strings.TrimSpace(fields[1]) != "" {
		input, err := repairArguments(fields[1])
		if err != nil {
			return sink.AssistantMessage(ctx, fmt.Sprintf("could not parse tool input: %v", err), nil)
		}
		call.Input = input
	}

	res, err := sink.InvokeTool(ctx, call)
	if err != nil {
		return err
	}
	payload, _ := json.Marshal(map[string]interface{}{"toolRunId": res.ToolRunID})
	return sink.AssistantMessage(ctx, fmt.Sprintf("%s: %s", call.Name, res.Content()), payload)
}
