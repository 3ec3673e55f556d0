package store

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/branchline/pkg/models"
)

// runStoreContract exercises behaviour every Store implementation must share
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	seed := func(t *testing.T, s Store) (*models.Thread, *models.Branch) {
		thread := &models.Thread{ID: uuid.NewString(), WorkspaceID: "ws-" + uuid.NewString(), Title: "demo", CreatedBy: "u1"}
		main := &models.Branch{ID: uuid.NewString(), ThreadID: thread.ID, WorkspaceID: thread.WorkspaceID, Name: "main", CreatedBy: "u1", RunState: models.RunStateIdle}
		require.NoError(t, s.CreateThread(ctx, thread, main))
		return thread, main
	}

	t.Run("ThreadAndBranch", func(t *testing.T) {
		s := newStore(t)
		thread, main := seed(t, s)

		got, err := s.GetThread(ctx, thread.ID)
		require.NoError(t, err)
		assert.Equal(t, "demo", got.Title)

		b, err := s.GetBranch(ctx, main.ID)
		require.NoError(t, err)
		assert.Equal(t, models.RunStateIdle, b.RunState)

		require.NoError(t, s.SetPinnedBranch(ctx, thread.ID, main.ID))
		got, err = s.GetThread(ctx, thread.ID)
		require.NoError(t, err)
		require.NotNil(t, got.PinnedBranchID)
		assert.Equal(t, main.ID, *got.PinnedBranchID)

		threads, err := s.ListThreads(ctx, thread.WorkspaceID)
		require.NoError(t, err)
		assert.Len(t, threads, 1)

		_, err = s.GetThread(ctx, "missing")
		assert.ErrorIs(t, err, models.ErrNotFound)
		_, err = s.GetBranch(ctx, "missing")
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("MessagePositionsAreDense", func(t *testing.T) {
		s := newStore(t)
		_, main := seed(t, s)

		for i := 0; i < 3; i++ {
			msg := &models.Message{ID: uuid.NewString(), BranchID: main.ID, Role: models.RoleUser, Content: "m"}
			require.NoError(t, s.AppendMessage(ctx, msg))
			assert.Equal(t, int64(i), msg.Position)
		}

		msgs, err := s.ListMessages(ctx, main.ID)
		require.NoError(t, err)
		require.Len(t, msgs, 3)
		for i, m := range msgs {
			assert.Equal(t, int64(i), m.Position)
		}
	})

	t.Run("ForkedBranchContinuesPositions", func(t *testing.T) {
		s := newStore(t)
		thread, main := seed(t, s)
		first := &models.Message{ID: uuid.NewString(), BranchID: main.ID, Role: models.RoleUser, Content: "a"}
		require.NoError(t, s.AppendMessage(ctx, first))

		fork := &models.Branch{ID: uuid.NewString(), ThreadID: thread.ID, WorkspaceID: thread.WorkspaceID, Name: "alt", CreatedBy: "u1", RunState: models.RunStateIdle}
		cp := &models.Message{ID: uuid.NewString(), BranchID: fork.ID, Role: models.RoleUser, Content: "a", Position: 0}
		require.NoError(t, s.CreateBranch(ctx, fork, []*models.Message{cp}))

		next := &models.Message{ID: uuid.NewString(), BranchID: fork.ID, Role: models.RoleAssistant, Content: "b"}
		require.NoError(t, s.AppendMessage(ctx, next))
		assert.Equal(t, int64(1), next.Position)

		branches, err := s.ListBranches(ctx, thread.ID)
		require.NoError(t, err)
		assert.Len(t, branches, 2)
	})

	t.Run("QueueReplace", func(t *testing.T) {
		s := newStore(t)
		_, main := seed(t, s)
		now := time.Now().UTC()
		items := []*models.QueueItem{
			{ID: uuid.NewString(), BranchID: main.ID, Content: "A", SubmittedBy: "u1", CreatedAt: now, Position: 0},
			{ID: uuid.NewString(), BranchID: main.ID, Content: "B", SubmittedBy: "u1", CreatedAt: now, Position: 1},
		}
		require.NoError(t, s.ReplaceQueue(ctx, main.ID, items))

		items[0].Position, items[1].Position = 1, 0
		require.NoError(t, s.ReplaceQueue(ctx, main.ID, items))

		got, err := s.ListQueue(ctx, main.ID)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "B", got[0].Content)
		assert.Equal(t, "A", got[1].Content)
	})

	t.Run("OneRunningRunPerBranch", func(t *testing.T) {
		s := newStore(t)
		_, main := seed(t, s)
		r1 := &models.Run{ID: uuid.NewString(), BranchID: main.ID, TriggerType: models.TriggerUserSend, Status: models.RunRunning}
		require.NoError(t, s.CreateRun(ctx, r1))

		r2 := &models.Run{ID: uuid.NewString(), BranchID: main.ID, TriggerType: models.TriggerUserSend, Status: models.RunRunning}
		err := s.CreateRun(ctx, r2)
		assert.ErrorIs(t, err, models.ErrConcurrentStateConflict)

		ended := time.Now().UTC()
		r1.Status = models.RunCompleted
		r1.EndedAt = &ended
		require.NoError(t, s.UpdateRun(ctx, r1))
		require.NoError(t, s.CreateRun(ctx, r2))

		running, err := s.ListRunsByStatus(ctx, models.RunRunning)
		require.NoError(t, err)
		ids := make([]string, 0, len(running))
		for _, r := range running {
			ids = append(ids, r.ID)
		}
		assert.Contains(t, ids, r2.ID)
		assert.NotContains(t, ids, r1.ID)
	})

	t.Run("DecisionRoundTrip", func(t *testing.T) {
		s := newStore(t)
		_, main := seed(t, s)
		run := &models.Run{ID: uuid.NewString(), BranchID: main.ID, TriggerType: models.TriggerUserSend, Status: models.RunRunning}
		require.NoError(t, s.CreateRun(ctx, run))
		tr := &models.ToolRun{ID: uuid.NewString(), RunID: run.ID, BranchID: main.ID, Name: "ask_user", Input: json.RawMessage(`{"q":1}`), Status: models.ToolPending}
		require.NoError(t, s.CreateToolRun(ctx, tr))

		d := &models.Decision{
			ID: uuid.NewString(), RunID: run.ID, BranchID: main.ID, ToolRunIDs: []string{tr.ID},
			Prompt: "continue?", Status: models.DecisionPending,
			Options: []models.DecisionOption{{Name: "yes", Action: models.ActionRetry, Params: json.RawMessage(`{"answer":"yes"}`)}, {Name: "no", Action: models.ActionSkip}},
		}
		require.NoError(t, s.CreateDecision(ctx, d))

		pending, err := s.ListDecisions(ctx, main.ID, models.DecisionPending)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		opt, ok := pending[0].Option("yes")
		require.True(t, ok)
		assert.JSONEq(t, `{"answer":"yes"}`, string(opt.Params))
		assert.Equal(t, []string{tr.ID}, pending[0].ToolRunIDs)

		chosen := "no"
		now := time.Now().UTC()
		d.Status = models.DecisionResolved
		d.ChosenOption = &chosen
		d.ResolvedAt = &now
		require.NoError(t, s.UpdateDecision(ctx, d))

		pending, err = s.ListDecisions(ctx, main.ID, models.DecisionPending)
		require.NoError(t, err)
		assert.Empty(t, pending)
		all, err := s.ListDecisions(ctx, main.ID, "")
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})

	t.Run("EventSequencesUnderConcurrency", func(t *testing.T) {
		s := newStore(t)
		_, main := seed(t, s)

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ev := &models.Event{ID: uuid.NewString(), BranchID: main.ID, Type: models.EventUserMessage, Payload: json.RawMessage(`{}`)}
				assert.NoError(t, s.AppendEvent(ctx, ev))
			}()
		}
		wg.Wait()

		events, err := s.ListEvents(ctx, main.ID, 0, 0)
		require.NoError(t, err)
		require.Len(t, events, 20)
		for i, ev := range events {
			assert.Equal(t, int64(i+1), ev.Sequence)
		}

		page, err := s.ListEvents(ctx, main.ID, 5, 3)
		require.NoError(t, err)
		require.Len(t, page, 3)
		assert.Equal(t, int64(6), page[0].Sequence)

		last, err := s.LastSequence(ctx, main.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(20), last)
	})
}

func TestInMemoryStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store { return NewInMemoryStore() })
}

func TestInMemoryStoreClonesOnRead(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	thread := &models.Thread{ID: "t1", WorkspaceID: "ws", Title: "x"}
	main := &models.Branch{ID: "b1", ThreadID: "t1", WorkspaceID: "ws", Name: "main"}
	require.NoError(t, s.CreateThread(ctx, thread, main))

	msg := &models.Message{ID: "m1", BranchID: "b1", Role: models.RoleUser, Content: "hello", Payload: json.RawMessage(`{"a":1}`)}
	require.NoError(t, s.AppendMessage(ctx, msg))

	got, err := s.GetMessage(ctx, "m1")
	require.NoError(t, err)
	got.Content = "mutated"
	got.Payload[2] = 'b'

	again, err := s.GetMessage(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "hello", again.Content)
	assert.JSONEq(t, `{"a":1}`, string(again.Payload))
}
