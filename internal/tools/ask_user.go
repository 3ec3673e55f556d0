package tools

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/branchline/pkg/models"
)

const (
	AskUserName   = "ask_user"
	DismissOption = "dismiss"
)

type askUserInput struct {
	Question string   `json:"question"`
	Options  []string `json:"options"`
	Answer   *string  `json:"answer,omitempty"`
}

// AskUser lets the model put a question to a human. The first execution
// raises a decision; picking an option retries the tool with that answer and
// picking dismiss skips it.
type AskUser struct{}

func NewAskUser() *AskUser { return &AskUser{} }

func (AskUser) Name() string { return AskUserName }

func (AskUser) Description() string {
	return "Ask the user a question and wait for them to pick one of the given options."
}

func (AskUser) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"question": map[string]interface{}{"type": "string", "description": "Question shown to the user"},
			"options": map[string]interface{}{
				"type":        "array",
				"items":       map[string]interface{}{"type": "string"},
				"description": "Answers the user can choose from",
			},
		},
		"required": []string{"question", "options"},
	}
}

func (AskUser) Execute(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in askUserInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, models.Errorf(models.CodeInvalidArgument, "ask_user input: %v", err)
	}
	if in.Answer != nil {
		return json.Marshal(map[string]string{"question": in.Question, "answer": *in.Answer})
	}
	if strings.TrimSpace(in.Question) == "" {
		return nil, models.Errorf(models.CodeInvalidArgument, "ask_user needs a question")
	}

	options := make([]models.DecisionOption, 0, len(in.Options)+1)
	seen := map[string]bool{DismissOption: true}
	for _, opt := range in.Options {
		opt = strings.TrimSpace(opt)
		if opt == "" || seen[opt] {
			continue
		}
		seen[opt] = true
		params, _ := json.Marshal(map[string]string{"answer": opt})
		options = append(options, models.DecisionOption{
			Name:   opt,
			Label:  opt,
			Action: models.ActionRetry,
			Params: params,
		})
	}
	options = append(options, models.DecisionOption{Name: DismissOption, Label: "Dismiss", Action: models.ActionSkip})

	return nil, &DecisionRequired{Prompt: in.Question, Options: options}
}
