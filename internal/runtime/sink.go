package runtime

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/branchline/internal/agent"
	"github.com/branchline/internal/tools"
	"github.com/branchline/pkg/models"
)

// runSink records agent output for one run. Output arriving after the run
// stopped being the branch's active run is discarded.
type runSink struct {
	c  *Controller
	bs *branchState
	ar *activeRun
}

// liveLocked reports whether the run may still write. bs.mu must be held.
func (s *runSink) liveLocked(ctx context.Context) bool {
	return s.bs.active == s.ar && ctx.Err() == nil
}

func (s *runSink) AssistantMessage(ctx context.Context, content string, payload json.RawMessage) error {
	s.bs.mu.Lock()
	defer s.bs.mu.Unlock()
	if !s.liveLocked(ctx) {
		return errRunEnded
	}

	runID := s.ar.run.ID
	msg := &models.Message{
		ID:        uuid.NewString(),
		BranchID:  s.bs.id,
		Role:      models.RoleAssistant,
		Content:   content,
		Payload:   payload,
		RunID:     &runID,
		CreatedAt: s.c.now(),
	}
	if err := s.c.store.AppendMessage(context.WithoutCancel(ctx), msg); err != nil {
		return err
	}
	s.c.emit(s.bs.id, models.EventAssistantMessage, map[string]interface{}{
		"messageId": msg.ID,
		"runId":     runID,
		"content":   msg.Content,
		"position":  msg.Position,
	})
	return nil
}

func (s *runSink) InvokeTool(ctx context.Context, call agent.ToolCall) (agent.ToolResult, error) {
	tr, err := s.startTool(ctx, call)
	if err != nil {
		return agent.ToolResult{}, err
	}

	for {
		out, execErr := s.c.tools.Execute(ctx, tr.Name, tr.Input)

		var dr *tools.DecisionRequired
		if errors.As(execErr, &dr) {
			action, err := s.awaitDecision(ctx, tr, dr)
			if err != nil {
				return agent.ToolResult{}, err
			}
			if action == models.ActionSkip {
				return agent.ToolResult{ToolRunID: tr.ID, Skipped: true}, nil
			}
			// retry: the gate already merged the option params into tr.Input
			continue
		}

		return s.completeTool(ctx, tr, out, execErr)
	}
}

func (s *runSink) startTool(ctx context.Context, call agent.ToolCall) (*models.ToolRun, error) {
	s.bs.mu.Lock()
	defer s.bs.mu.Unlock()
	if !s.liveLocked(ctx) {
		return nil, errRunEnded
	}

	input := call.Input
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}
	tr := &models.ToolRun{
		ID:        uuid.NewString(),
		RunID:     s.ar.run.ID,
		BranchID:  s.bs.id,
		Name:      call.Name,
		Input:     input,
		Status:    models.ToolPending,
		StartedAt: s.c.now(),
	}
	wctx := context.WithoutCancel(ctx)
	if err := s.c.store.CreateToolRun(wctx, tr); err != nil {
		return nil, err
	}
	s.ar.inflight[tr.ID] = tr

	tr.Status = models.ToolRunning
	tr.Attempts = 1
	if err := s.c.store.UpdateToolRun(wctx, tr); err != nil {
		return nil, err
	}
	s.c.emit(s.bs.id, models.EventToolStarted, map[string]interface{}{
		"toolRunId": tr.ID,
		"runId":     tr.RunID,
		"name":      tr.Name,
		"input":     tr.Input,
	})
	return tr, nil
}

func (s *runSink) completeTool(ctx context.Context, tr *models.ToolRun, out json.RawMessage, execErr error) (agent.ToolResult, error) {
	s.bs.mu.Lock()
	defer s.bs.mu.Unlock()
	if !s.liveLocked(ctx) {
		// the run was cancelled while the tool ran; its output is dropped
		return agent.ToolResult{}, errRunEnded
	}

	delete(s.ar.inflight, tr.ID)
	ended := s.c.now()
	tr.EndedAt = &ended

	if execErr != nil {
		msg := execErr.Error()
		tr.Status = models.ToolFailed
		tr.Error = &msg
		if err := s.c.store.UpdateToolRun(context.WithoutCancel(ctx), tr); err != nil {
			return agent.ToolResult{}, err
		}
		s.c.emit(s.bs.id, models.EventToolFailed, map[string]interface{}{
			"toolRunId": tr.ID,
			"runId":     tr.RunID,
			"name":      tr.Name,
			"error":     msg,
		})
		log.Warn().Err(execErr).Str("tool", tr.Name).Str("tool_run_id", tr.ID).Msg("Tool failed")
		return agent.ToolResult{ToolRunID: tr.ID, Error: msg}, nil
	}

	tr.Status = models.ToolCompleted
	tr.Output = out
	if err := s.c.store.UpdateToolRun(context.WithoutCancel(ctx), tr); err != nil {
		return agent.ToolResult{}, err
	}
	s.c.emit(s.bs.id, models.EventToolCompleted, map[string]interface{}{
		"toolRunId": tr.ID,
		"runId":     tr.RunID,
		"name":      tr.Name,
		"output":    json.RawMessage(out),
	})
	return agent.ToolResult{ToolRunID: tr.ID, Output: out}, nil
}

// awaitDecision persists the decision raised by a tool and blocks until it is
// resolved or the run ends.
func (s *runSink) awaitDecision(ctx context.Context, tr *models.ToolRun, dr *tools.DecisionRequired) (models.DecisionAction, error) {
	s.bs.mu.Lock()
	if !s.liveLocked(ctx) {
		s.bs.mu.Unlock()
		return "", errRunEnded
	}

	d := &models.Decision{
		ID:         uuid.NewString(),
		RunID:      s.ar.run.ID,
		BranchID:   s.bs.id,
		ToolRunIDs: []string{tr.ID},
		Prompt:     dr.Prompt,
		Options:    dr.Options,
		Status:     models.DecisionPending,
		CreatedAt:  s.c.now(),
	}
	wctx := context.WithoutCancel(ctx)
	if err := s.c.store.CreateDecision(wctx, d); err != nil {
		s.bs.mu.Unlock()
		return "", err
	}
	tr.Status = models.ToolPending
	if err := s.c.store.UpdateToolRun(wctx, tr); err != nil {
		s.bs.mu.Unlock()
		return "", err
	}

	pd := &pendingDecision{decision: d, toolRun: tr, resolved: make(chan models.DecisionAction, 1)}
	s.ar.decision = pd
	s.c.emit(s.bs.id, models.EventDecisionRaised, map[string]interface{}{
		"decisionId": d.ID,
		"runId":      d.RunID,
		"toolRunIds": d.ToolRunIDs,
		"prompt":     d.Prompt,
		"options":    d.Options,
	})
	log.Info().Str("branch_id", s.bs.id).Str("decision_id", d.ID).Msg("Run waiting on decision")
	s.bs.mu.Unlock()

	select {
	case action := <-pd.resolved:
		return action, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
