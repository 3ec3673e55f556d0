package registry

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/branchline/internal/eventlog"
	"github.com/branchline/internal/store"
	"github.com/branchline/pkg/models"
)

func newTestRegistry(t *testing.T) (*Registry, store.Store, *eventlog.Log) {
	t.Helper()
	st := store.NewInMemoryStore()
	events := eventlog.New(st)
	return New(st, events), st, events
}

func appendMessages(t *testing.T, st store.Store, branchID string, contents ...string) []*models.Message {
	t.Helper()
	out := make([]*models.Message, 0, len(contents))
	for i, c := range contents {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		msg := &models.Message{ID: uuid.NewString(), BranchID: branchID, Role: role, Content: c}
		require.NoError(t, st.AppendMessage(context.Background(), msg))
		out = append(out, msg)
	}
	return out
}

func TestCreateThread(t *testing.T) {
	r, _, events := newTestRegistry(t)
	ctx := context.Background()

	thread, main, err := r.CreateThread(ctx, "ws1", "Research", "u1")
	require.NoError(t, err)
	assert.Equal(t, MainBranchName, main.Name)
	assert.Equal(t, models.RunStateIdle, main.RunState)
	assert.Equal(t, thread.ID, main.ThreadID)

	msgs, err := r.ListMessages(ctx, main.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	page, err := events.Page(ctx, main.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, page.Events, 1)
	assert.Equal(t, models.EventBranchCreated, page.Events[0].Type)

	_, _, err = r.CreateThread(ctx, "", "x", "u1")
	assert.ErrorIs(t, err, models.ErrInvalidArgument)
}

// messageView strips identity so copies compare equal to their originals
type messageView struct {
	Role     models.Role
	Content  string
	Position int64
}

func views(msgs []*models.Message) []messageView {
	out := make([]messageView, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messageView{Role: m.Role, Content: m.Content, Position: m.Position})
	}
	return out
}

func TestForkBranchCopiesPrefix(t *testing.T) {
	r, st, _ := newTestRegistry(t)
	ctx := context.Background()

	thread, main, err := r.CreateThread(ctx, "ws1", "t", "u1")
	require.NoError(t, err)
	msgs := appendMessages(t, st, main.ID, "q1", "a1", "q2", "a2")

	fork, err := r.ForkBranch(ctx, thread.ID, main.ID, msgs[1].ID, "alt", "u2")
	require.NoError(t, err)
	assert.Equal(t, models.RunStateIdle, fork.RunState)
	require.NotNil(t, fork.ForkedFromMessageID)
	assert.Equal(t, msgs[1].ID, *fork.ForkedFromMessageID)

	forked, err := r.ListMessages(ctx, fork.ID)
	require.NoError(t, err)
	if diff := cmp.Diff(views(msgs[:2]), views(forked)); diff != "" {
		t.Fatalf("fork history mismatch (-want +got):\n%s", diff)
	}
	for i := range forked {
		assert.NotEqual(t, msgs[i].ID, forked[i].ID)
		assert.Equal(t, fork.ID, forked[i].BranchID)
	}

	queued, err := st.ListQueue(ctx, fork.ID)
	require.NoError(t, err)
	assert.Empty(t, queued)
}

func TestForkedBranchesDiverge(t *testing.T) {
	r, st, _ := newTestRegistry(t)
	ctx := context.Background()

	thread, main, err := r.CreateThread(ctx, "ws1", "t", "u1")
	require.NoError(t, err)
	msgs := appendMessages(t, st, main.ID, "q1", "a1")

	fork, err := r.ForkBranch(ctx, thread.ID, main.ID, msgs[1].ID, "", "u1")
	require.NoError(t, err)
	assert.Equal(t, "fork of main", fork.Name)

	appendMessages(t, st, main.ID, "only on main")
	appendMessages(t, st, fork.ID, "only on fork")

	onMain, err := r.ListMessages(ctx, main.ID)
	require.NoError(t, err)
	onFork, err := r.ListMessages(ctx, fork.ID)
	require.NoError(t, err)

	ignoreIDs := cmpopts.IgnoreFields(models.Message{}, "ID", "BranchID", "CreatedAt")
	assert.True(t, cmp.Equal(onMain[:2], onFork[:2], ignoreIDs))
	assert.Equal(t, "only on main", onMain[2].Content)
	assert.Equal(t, "only on fork", onFork[2].Content)
	assert.Len(t, onMain, 3)
	assert.Len(t, onFork, 3)
}

func TestForkBranchErrors(t *testing.T) {
	r, st, _ := newTestRegistry(t)
	ctx := context.Background()

	thread, main, err := r.CreateThread(ctx, "ws1", "t", "u1")
	require.NoError(t, err)
	msgs := appendMessages(t, st, main.ID, "q1")

	other, err := r.ForkBranch(ctx, thread.ID, main.ID, msgs[0].ID, "other", "u1")
	require.NoError(t, err)
	otherMsgs := appendMessages(t, st, other.ID, "x")

	otherThread, otherMain, err := r.CreateThread(ctx, "ws1", "t2", "u1")
	require.NoError(t, err)
	foreign := appendMessages(t, st, otherMain.ID, "y")

	_, err = r.ForkBranch(ctx, thread.ID, "missing", msgs[0].ID, "", "u1")
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = r.ForkBranch(ctx, thread.ID, main.ID, "missing", "", "u1")
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = r.ForkBranch(ctx, otherThread.ID, main.ID, msgs[0].ID, "", "u1")
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = r.ForkBranch(ctx, thread.ID, main.ID, foreign[0].ID, "", "u1")
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = r.ForkBranch(ctx, thread.ID, main.ID, otherMsgs[0].ID, "", "u1")
	assert.ErrorIs(t, err, models.ErrInvalidForkPoint)
}

func TestPinBranch(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ctx := context.Background()

	thread, main, err := r.CreateThread(ctx, "ws1", "t", "u1")
	require.NoError(t, err)
	_, otherMain, err := r.CreateThread(ctx, "ws1", "t2", "u1")
	require.NoError(t, err)

	require.NoError(t, r.PinBranch(ctx, thread.ID, main.ID))
	got, branches, err := r.GetThread(ctx, "ws1", thread.ID)
	require.NoError(t, err)
	require.NotNil(t, got.PinnedBranchID)
	assert.Equal(t, main.ID, *got.PinnedBranchID)
	assert.Len(t, branches, 1)

	err = r.PinBranch(ctx, thread.ID, otherMain.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)

	b, err := r.GetBranch(ctx, main.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStateIdle, b.RunState)
}

func TestWorkspaceIsolation(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ctx := context.Background()

	thread, main, err := r.CreateThread(ctx, "ws1", "t", "u1")
	require.NoError(t, err)

	_, err = r.ResolveBranch(ctx, "ws2", main.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, _, err = r.GetThread(ctx, "ws2", thread.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)

	b, err := r.ResolveBranch(ctx, "ws1", main.ID)
	require.NoError(t, err)
	assert.Equal(t, main.ID, b.ID)

	threads, err := r.ListThreads(ctx, "ws2")
	require.NoError(t, err)
	assert.Empty(t, threads)
}

// cancelAfterBranchWrite cancels the request context once the fork commits
type cancelAfterBranchWrite struct {
	store.Store
	cancel context.CancelFunc
}

func (s *cancelAfterBranchWrite) CreateBranch(ctx context.Context, branch *models.Branch, messages []*models.Message) error {
	err := s.Store.CreateBranch(ctx, branch, messages)
	s.cancel()
	return err
}

type liveContextAppender struct {
	log *eventlog.Log
}

func (a liveContextAppender) Append(ctx context.Context, branchID string, typ models.EventType, payload any) (*models.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return a.log.Append(ctx, branchID, typ, payload)
}

func TestForkEventSurvivesCallerCancellation(t *testing.T) {
	st := store.NewInMemoryStore()
	events := eventlog.New(st)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := New(&cancelAfterBranchWrite{Store: st, cancel: cancel}, liveContextAppender{log: events})

	thread, main, err := r.CreateThread(context.Background(), "ws1", "t", "u1")
	require.NoError(t, err)
	msgs := appendMessages(t, st, main.ID, "q1")

	fork, err := r.ForkBranch(ctx, thread.ID, main.ID, msgs[0].ID, "alt", "u1")
	require.NoError(t, err)

	page, err := events.Page(context.Background(), fork.ID, 0, 10)
	require.NoError(t, err)
	require.Len(t, page.Events, 1)
	assert.Equal(t, models.EventBranchCreated, page.Events[0].Type)
}
