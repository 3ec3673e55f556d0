package runtime

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/branchline/internal/agent"
	"github.com/branchline/pkg/models"
)

// askingAgent asks the user a question through the ask_user tool and replies
// with the tool result.
var askingAgent = agent.Func(func(ctx context.Context, history []*models.Message, sink agent.Sink) error {
	res, err := sink.InvokeTool(ctx, agent.ToolCall{
		Name:  "ask_user",
		Input: json.RawMessage(`{"question":"Proceed?","options":["yes","no"]}`),
	})
	if err != nil {
		return err
	}
	return sink.AssistantMessage(ctx, res.Content(), nil)
})

func waitForDecision(t *testing.T, h *harness) *models.Decision {
	t.Helper()
	var pending []*models.Decision
	require.Eventually(t, func() bool {
		var err error
		pending, err = h.ctrl.PendingDecisions(context.Background(), h.branchID)
		return err == nil && len(pending) == 1
	}, waitFor, tick)
	return pending[0]
}

func TestResolveDecisionRetry(t *testing.T) {
	h := newHarness(t, askingAgent, Options{})
	ctx := context.Background()

	run := h.send(t, "go", models.ModeSend)
	d := waitForDecision(t, h)
	assert.Equal(t, "Proceed?", d.Prompt)
	require.Len(t, d.ToolRunIDs, 1)

	_, err := h.ctrl.ResolveDecision(ctx, h.branchID, d.ID, "maybe")
	assert.ErrorIs(t, err, models.ErrInvalidOption)

	status, err := h.ctrl.BranchStatus(ctx, h.branchID)
	require.NoError(t, err)
	require.NotNil(t, status.PendingDecisionID)
	assert.Equal(t, d.ID, *status.PendingDecisionID)
	assert.Equal(t, models.RunStateRunning, status.Branch.RunState)

	res, err := h.ctrl.ResolveDecision(ctx, h.branchID, d.ID, "yes")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Retried)
	assert.Equal(t, 0, res.Skipped)

	require.Eventually(t, func() bool {
		r, err := h.store.GetRun(ctx, run.RunID)
		return err == nil && r.Status == models.RunCompleted
	}, waitFor, tick)

	msgs := h.messageContents(t)
	require.Len(t, msgs, 2)
	assert.JSONEq(t, `{"question":"Proceed?","answer":"yes"}`, msgs[1])

	toolRuns, err := h.store.ListToolRuns(ctx, run.RunID)
	require.NoError(t, err)
	require.Len(t, toolRuns, 1)
	assert.Equal(t, models.ToolCompleted, toolRuns[0].Status)
	assert.Equal(t, 2, toolRuns[0].Attempts)

	stored, err := h.store.GetDecision(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DecisionResolved, stored.Status)
	require.NotNil(t, stored.ChosenOption)
	assert.Equal(t, "yes", *stored.ChosenOption)

	_, err = h.ctrl.ResolveDecision(ctx, h.branchID, d.ID, "yes")
	assert.ErrorIs(t, err, models.ErrNotFound)

	for _, typ := range []models.EventType{models.EventDecisionRaised, models.EventToolRetried, models.EventDecisionResolved, models.EventToolCompleted} {
		assert.Len(t, h.eventsOf(t, typ), 1, typ)
	}
}

func TestResolveDecisionSkip(t *testing.T) {
	h := newHarness(t, askingAgent, Options{})
	ctx := context.Background()

	run := h.send(t, "go", models.ModeSend)
	d := waitForDecision(t, h)

	res, err := h.ctrl.ResolveDecision(ctx, h.branchID, d.ID, "dismiss")
	require.NoError(t, err)
	assert.Equal(t, 0, res.Retried)
	assert.Equal(t, 1, res.Skipped)

	require.Eventually(t, func() bool {
		r, err := h.store.GetRun(ctx, run.RunID)
		return err == nil && r.Status == models.RunCompleted
	}, waitFor, tick)

	toolRuns, err := h.store.ListToolRuns(ctx, run.RunID)
	require.NoError(t, err)
	require.Len(t, toolRuns, 1)
	assert.Equal(t, models.ToolSkipped, toolRuns[0].Status)
	assert.Equal(t, `{"skipped":true}`, h.messageContents(t)[1])
}

func TestResolveUnknownDecision(t *testing.T) {
	h := newHarness(t, askingAgent, Options{})
	_, err := h.ctrl.ResolveDecision(context.Background(), h.branchID, "nope", "yes")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestInterruptCancelsPendingDecision(t *testing.T) {
	h := newHarness(t, askingAgent, Options{})
	ctx := context.Background()

	run := h.send(t, "go", models.ModeSend)
	d := waitForDecision(t, h)

	cancelled, err := h.ctrl.Interrupt(ctx, h.branchID, "never mind")
	require.NoError(t, err)
	assert.True(t, cancelled)

	stored, err := h.store.GetDecision(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DecisionCancelled, stored.Status)

	toolRuns, err := h.store.ListToolRuns(ctx, run.RunID)
	require.NoError(t, err)
	require.Len(t, toolRuns, 1)
	assert.Equal(t, models.ToolCancelled, toolRuns[0].Status)

	assert.Len(t, h.eventsOf(t, models.EventDecisionCancelled), 1)
	assert.Len(t, h.eventsOf(t, models.EventToolCancelled), 1)

	_, err = h.ctrl.ResolveDecision(ctx, h.branchID, d.ID, "yes")
	assert.ErrorIs(t, err, models.ErrNotFound)
}
