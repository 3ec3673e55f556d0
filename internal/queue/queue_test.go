package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/branchline/internal/eventlog"
	"github.com/branchline/internal/store"
	"github.com/branchline/pkg/models"
)

func newTestManager(t *testing.T) (*Manager, *eventlog.Log, string) {
	t.Helper()
	st := store.NewInMemoryStore()
	require.NoError(t, st.CreateThread(context.Background(),
		&models.Thread{ID: "t1", WorkspaceID: "ws"},
		&models.Branch{ID: "b1", ThreadID: "t1", WorkspaceID: "ws", Name: "main"}))
	events := eventlog.New(st)
	return NewManager(st, events), events, "b1"
}

func contents(items []*models.QueueItem) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.Content)
	}
	return out
}

func assertPacked(t *testing.T, items []*models.QueueItem) {
	t.Helper()
	for i, it := range items {
		assert.Equal(t, i, it.Position, "item %s", it.ID)
	}
}

func TestEnqueueAppendsAtBack(t *testing.T) {
	m, _, branch := newTestManager(t)
	ctx := context.Background()

	a, err := m.Enqueue(ctx, branch, "A", "u1")
	require.NoError(t, err)
	b, err := m.Enqueue(ctx, branch, "B", "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, a.Position)
	assert.Equal(t, 1, b.Position)

	_, err = m.Enqueue(ctx, branch, "  ", "u1")
	assert.ErrorIs(t, err, models.ErrInvalidArgument)
}

func TestReorderThenCancel(t *testing.T) {
	m, events, branch := newTestManager(t)
	ctx := context.Background()

	first, err := m.Enqueue(ctx, branch, "first", "u1")
	require.NoError(t, err)
	second, err := m.Enqueue(ctx, branch, "second", "u1")
	require.NoError(t, err)

	_, err = m.Reorder(ctx, branch, []string{second.ID, first.ID})
	require.NoError(t, err)
	items, err := m.List(ctx, branch)
	require.NoError(t, err)
	assert.Equal(t, []string{"second", "first"}, contents(items))
	assertPacked(t, items)

	require.NoError(t, m.Cancel(ctx, branch, first.ID))
	items, err = m.List(ctx, branch)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, second.ID, items[0].ID)
	assert.Equal(t, 0, items[0].Position)

	page, err := events.Page(ctx, branch, 0, 0)
	require.NoError(t, err)
	types := make([]models.EventType, 0, len(page.Events))
	for _, ev := range page.Events {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []models.EventType{
		models.EventQueueItemAdded,
		models.EventQueueItemAdded,
		models.EventQueueReordered,
		models.EventQueueItemRemoved,
	}, types)
}

func TestReorderMismatchIsAllOrNothing(t *testing.T) {
	m, _, branch := newTestManager(t)
	ctx := context.Background()

	a, _ := m.Enqueue(ctx, branch, "A", "u1")
	b, _ := m.Enqueue(ctx, branch, "B", "u1")

	cases := map[string][]string{
		"missing":   {b.ID},
		"extra":     {b.ID, a.ID, "zzz"},
		"unknown":   {b.ID, "zzz"},
		"duplicate": {b.ID, b.ID},
	}
	for name, ids := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := m.Reorder(ctx, branch, ids)
			assert.ErrorIs(t, err, models.ErrQueueMismatch)

			items, err := m.List(ctx, branch)
			require.NoError(t, err)
			assert.Equal(t, []string{"A", "B"}, contents(items))
		})
	}
}

func TestCancelUnknown(t *testing.T) {
	m, _, branch := newTestManager(t)
	err := m.Cancel(context.Background(), branch, "nope")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestCancelMiddleRepacks(t *testing.T) {
	m, _, branch := newTestManager(t)
	ctx := context.Background()
	_, _ = m.Enqueue(ctx, branch, "A", "u1")
	mid, _ := m.Enqueue(ctx, branch, "B", "u1")
	_, _ = m.Enqueue(ctx, branch, "C", "u1")

	require.NoError(t, m.Cancel(ctx, branch, mid.ID))
	items, err := m.List(ctx, branch)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "C"}, contents(items))
	assertPacked(t, items)
}

func TestPopFrontAndRestore(t *testing.T) {
	m, _, branch := newTestManager(t)
	ctx := context.Background()

	_, err := m.PopFront(ctx, branch)
	assert.ErrorIs(t, err, ErrEmpty)

	_, _ = m.Enqueue(ctx, branch, "A", "u1")
	_, _ = m.Enqueue(ctx, branch, "B", "u1")

	front, err := m.PopFront(ctx, branch)
	require.NoError(t, err)
	assert.Equal(t, "A", front.Content)

	items, err := m.List(ctx, branch)
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, contents(items))
	assertPacked(t, items)

	require.NoError(t, m.Restore(ctx, front))
	items, err = m.List(ctx, branch)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, contents(items))
	assertPacked(t, items)
}

func TestConcurrentEnqueueAndPopNeverLoseItems(t *testing.T) {
	m, _, branch := newTestManager(t)
	ctx := context.Background()

	const n = 50
	var wg sync.WaitGroup
	popped := make(chan string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := m.Enqueue(ctx, branch, fmt.Sprintf("item-%d", i), "u1")
			assert.NoError(t, err)
		}(i)
	}
	for i := 0; i < n/2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			it, err := m.PopFront(ctx, branch)
			if err == nil {
				popped <- it.Content
			}
		}()
	}
	wg.Wait()
	close(popped)

	seen := make(map[string]int)
	for c := range popped {
		seen[c]++
	}
	items, err := m.List(ctx, branch)
	require.NoError(t, err)
	assertPacked(t, items)
	for _, it := range items {
		seen[it.Content]++
	}

	assert.Len(t, seen, n)
	for c, count := range seen {
		assert.Equal(t, 1, count, c)
	}
}

// cancelAfterWrite cancels the request context once the queue write commits,
// like a client that disconnects mid-request.
type cancelAfterWrite struct {
	store.Store
	cancel context.CancelFunc
}

func (s *cancelAfterWrite) ReplaceQueue(ctx context.Context, branchID string, items []*models.QueueItem) error {
	err := s.Store.ReplaceQueue(ctx, branchID, items)
	s.cancel()
	return err
}

// liveContextAppender refuses appends on a cancelled context, as a database
// transaction would.
type liveContextAppender struct {
	log *eventlog.Log
}

func (a liveContextAppender) Append(ctx context.Context, branchID string, typ models.EventType, payload any) (*models.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return a.log.Append(ctx, branchID, typ, payload)
}

func TestQueueEventSurvivesCallerCancellation(t *testing.T) {
	st := store.NewInMemoryStore()
	require.NoError(t, st.CreateThread(context.Background(),
		&models.Thread{ID: "t1", WorkspaceID: "ws"},
		&models.Branch{ID: "b1", ThreadID: "t1", WorkspaceID: "ws", Name: "main"}))
	events := eventlog.New(st)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := NewManager(&cancelAfterWrite{Store: st, cancel: cancel}, liveContextAppender{log: events})

	item, err := m.Enqueue(ctx, "b1", "first", "u1")
	require.NoError(t, err)

	page, err := events.Page(context.Background(), "b1", 0, 10)
	require.NoError(t, err)
	require.Len(t, page.Events, 1)
	assert.Equal(t, models.EventQueueItemAdded, page.Events[0].Type)
	assert.Contains(t, string(page.Events[0].Payload), item.ID)
}
