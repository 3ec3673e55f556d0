// Package queue keeps the ordered list of user messages waiting for a branch
// to become idle. Positions are always packed to 0..n-1.
package queue

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/branchline/internal/eventlog"
	"github.com/branchline/internal/store"
	"github.com/branchline/pkg/models"
)

// ErrEmpty is returned by PopFront when the branch has nothing queued
var ErrEmpty = errors.New("queue: empty")

const (
	RemovedCancelled = "cancelled"
	RemovedDequeued  = "dequeued"
)

// Manager serializes queue mutations per branch
type Manager struct {
	store  store.Store
	events eventlog.Appender
	now    func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewManager(st store.Store, events eventlog.Appender) *Manager {
	return &Manager{
		store:  st,
		events: events,
		now:    func() time.Time { return time.Now().UTC() },
		locks:  make(map[string]*sync.Mutex),
	}
}

func (m *Manager) lock(branchID string) func() {
	m.mu.Lock()
	l, ok := m.locks[branchID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[branchID] = l
	}
	m.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// List returns the queue ordered by position
func (m *Manager) List(ctx context.Context, branchID string) ([]*models.QueueItem, error) {
	return m.store.ListQueue(ctx, branchID)
}

// Enqueue appends content at the back of the queue
func (m *Manager) Enqueue(ctx context.Context, branchID, content, submittedBy string) (*models.QueueItem, error) {
	if strings.TrimSpace(content) == "" {
		return nil, models.Errorf(models.CodeInvalidArgument, "queued content must not be empty")
	}

	unlock := m.lock(branchID)
	defer unlock()

	items, err := m.store.ListQueue(ctx, branchID)
	if err != nil {
		return nil, err
	}
	item := &models.QueueItem{
		ID:          uuid.NewString(),
		BranchID:    branchID,
		Content:     content,
		SubmittedBy: submittedBy,
		CreatedAt:   m.now(),
		Position:    len(items),
	}
	if err := m.store.ReplaceQueue(ctx, branchID, append(items, item)); err != nil {
		return nil, err
	}

	m.emit(ctx, branchID, models.EventQueueItemAdded, itemAddedPayload(item))
	return item, nil
}

// Reorder assigns position = index in ids. ids must be exactly a permutation
// of the queued item ids, otherwise nothing changes.
func (m *Manager) Reorder(ctx context.Context, branchID string, ids []string) ([]*models.QueueItem, error) {
	unlock := m.lock(branchID)
	defer unlock()

	items, err := m.store.ListQueue(ctx, branchID)
	if err != nil {
		return nil, err
	}
	if len(ids) != len(items) {
		return nil, models.Errorf(models.CodeQueueMismatch, "expected %d ids, got %d", len(items), len(ids))
	}

	byID := make(map[string]*models.QueueItem, len(items))
	for _, it := range items {
		byID[it.ID] = it
	}
	reordered := make([]*models.QueueItem, 0, len(ids))
	for i, id := range ids {
		it, ok := byID[id]
		if !ok {
			return nil, models.Errorf(models.CodeQueueMismatch, "item %q is not queued or is repeated", id)
		}
		delete(byID, id)
		it.Position = i
		reordered = append(reordered, it)
	}

	if err := m.store.ReplaceQueue(ctx, branchID, reordered); err != nil {
		return nil, err
	}

	m.emit(ctx, branchID, models.EventQueueReordered, map[string]interface{}{"itemIds": ids})
	return reordered, nil
}

// Cancel removes one item and closes the gap it leaves
func (m *Manager) Cancel(ctx context.Context, branchID, itemID string) error {
	unlock := m.lock(branchID)
	defer unlock()

	items, err := m.store.ListQueue(ctx, branchID)
	if err != nil {
		return err
	}
	idx := -1
	for i, it := range items {
		if it.ID == itemID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return models.NotFound("queue item", itemID)
	}

	rest := repack(append(items[:idx:idx], items[idx+1:]...))
	if err := m.store.ReplaceQueue(ctx, branchID, rest); err != nil {
		return err
	}

	m.emit(ctx, branchID, models.EventQueueItemRemoved, map[string]interface{}{
		"itemId": itemID,
		"reason": RemovedCancelled,
	})
	return nil
}

// PopFront removes and returns the item at position 0, or ErrEmpty
func (m *Manager) PopFront(ctx context.Context, branchID string) (*models.QueueItem, error) {
	unlock := m.lock(branchID)
	defer unlock()

	items, err := m.store.ListQueue(ctx, branchID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, ErrEmpty
	}

	front := items[0]
	if err := m.store.ReplaceQueue(ctx, branchID, repack(items[1:])); err != nil {
		return nil, err
	}

	m.emit(ctx, branchID, models.EventQueueItemRemoved, map[string]interface{}{
		"itemId": front.ID,
		"reason": RemovedDequeued,
	})
	return front, nil
}

// Restore puts a previously popped item back at the front of the queue
func (m *Manager) Restore(ctx context.Context, item *models.QueueItem) error {
	unlock := m.lock(item.BranchID)
	defer unlock()

	items, err := m.store.ListQueue(ctx, item.BranchID)
	if err != nil {
		return err
	}
	restored := *item
	restored.Position = 0
	all := repack(append([]*models.QueueItem{&restored}, items...))
	if err := m.store.ReplaceQueue(ctx, item.BranchID, all); err != nil {
		return err
	}

	m.emit(ctx, item.BranchID, models.EventQueueItemAdded, itemAddedPayload(&restored))
	return nil
}

func (m *Manager) emit(ctx context.Context, branchID string, typ models.EventType, payload interface{}) {
	if m.events == nil {
		return
	}
	if _, err := m.events.Append(context.WithoutCancel(ctx), branchID, typ, payload); err != nil {
		log.Error().Err(err).Str("branch_id", branchID).Str("event", string(typ)).Msg("Failed to append queue event")
	}
}

func itemAddedPayload(it *models.QueueItem) map[string]interface{} {
	return map[string]interface{}{
		"itemId":      it.ID,
		"content":     it.Content,
		"position":    it.Position,
		"submittedBy": it.SubmittedBy,
	}
}

func repack(items []*models.QueueItem) []*models.QueueItem {
	for i, it := range items {
		it.Position = i
	}
	return items
}
