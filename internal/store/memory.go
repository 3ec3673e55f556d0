package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/branchline/pkg/models"
)

// InMemoryStore is a threadsafe in-memory store for tests and single-node development
type InMemoryStore struct {
	mu        sync.RWMutex
	threads   map[string]*models.Thread
	branches  map[string]*models.Branch
	messages  map[string][]*models.Message
	msgByID   map[string]*models.Message
	queues    map[string][]*models.QueueItem
	runs      map[string]*models.Run
	runOrder  []string
	toolRuns  map[string][]*models.ToolRun
	decisions map[string]*models.Decision
	events    map[string][]*models.Event
	now       func() time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		threads:   make(map[string]*models.Thread),
		branches:  make(map[string]*models.Branch),
		messages:  make(map[string][]*models.Message),
		msgByID:   make(map[string]*models.Message),
		queues:    make(map[string][]*models.QueueItem),
		runs:      make(map[string]*models.Run),
		toolRuns:  make(map[string][]*models.ToolRun),
		decisions: make(map[string]*models.Decision),
		events:    make(map[string][]*models.Event),
		now:       time.Now,
	}
}

func (s *InMemoryStore) CreateThread(ctx context.Context, thread *models.Thread, main *models.Branch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if thread.CreatedAt.IsZero() {
		thread.CreatedAt = s.now()
	}
	s.threads[thread.ID] = cloneThread(thread)
	if main != nil {
		if main.CreatedAt.IsZero() {
			main.CreatedAt = thread.CreatedAt
		}
		s.branches[main.ID] = cloneBranch(main)
	}
	return nil
}

func (s *InMemoryStore) GetThread(ctx context.Context, id string) (*models.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.threads[id]
	if !ok {
		return nil, models.NotFound("thread", id)
	}
	return cloneThread(t), nil
}

func (s *InMemoryStore) ListThreads(ctx context.Context, workspaceID string) ([]*models.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Thread, 0)
	for _, t := range s.threads {
		if t.WorkspaceID == workspaceID {
			out = append(out, cloneThread(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryStore) SetPinnedBranch(ctx context.Context, threadID, branchID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[threadID]
	if !ok {
		return models.NotFound("thread", threadID)
	}
	id := branchID
	t.PinnedBranchID = &id
	return nil
}

func (s *InMemoryStore) CreateBranch(ctx context.Context, branch *models.Branch, messages []*models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.threads[branch.ThreadID]; !ok {
		return models.NotFound("thread", branch.ThreadID)
	}
	if branch.CreatedAt.IsZero() {
		branch.CreatedAt = s.now()
	}
	s.branches[branch.ID] = cloneBranch(branch)
	copies := make([]*models.Message, 0, len(messages))
	for _, m := range messages {
		cp := cloneMessage(m)
		copies = append(copies, cp)
		s.msgByID[cp.ID] = cp
	}
	s.messages[branch.ID] = copies
	return nil
}

func (s *InMemoryStore) GetBranch(ctx context.Context, id string) (*models.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.branches[id]
	if !ok {
		return nil, models.NotFound("branch", id)
	}
	return cloneBranch(b), nil
}

func (s *InMemoryStore) ListBranches(ctx context.Context, threadID string) ([]*models.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Branch, 0)
	for _, b := range s.branches {
		if b.ThreadID == threadID {
			out = append(out, cloneBranch(b))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryStore) SetBranchRunState(ctx context.Context, branchID string, state models.RunState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.branches[branchID]
	if !ok {
		return models.NotFound("branch", branchID)
	}
	b.RunState = state
	return nil
}

func (s *InMemoryStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.branches[msg.BranchID]; !ok {
		return models.NotFound("branch", msg.BranchID)
	}
	log := s.messages[msg.BranchID]
	msg.Position = int64(len(log))
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now()
	}
	cp := cloneMessage(msg)
	s.messages[msg.BranchID] = append(log, cp)
	s.msgByID[cp.ID] = cp
	return nil
}

func (s *InMemoryStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.msgByID[id]
	if !ok {
		return nil, models.NotFound("message", id)
	}
	return cloneMessage(m), nil
}

func (s *InMemoryStore) ListMessages(ctx context.Context, branchID string) ([]*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log := s.messages[branchID]
	out := make([]*models.Message, 0, len(log))
	for _, m := range log {
		out = append(out, cloneMessage(m))
	}
	return out, nil
}

func (s *InMemoryStore) ListQueue(ctx context.Context, branchID string) ([]*models.QueueItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q := s.queues[branchID]
	out := make([]*models.QueueItem, 0, len(q))
	for _, it := range q {
		cp := *it
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (s *InMemoryStore) ReplaceQueue(ctx context.Context, branchID string, items []*models.QueueItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.branches[branchID]; !ok {
		return models.NotFound("branch", branchID)
	}
	q := make([]*models.QueueItem, 0, len(items))
	for _, it := range items {
		cp := *it
		q = append(q, &cp)
	}
	s.queues[branchID] = q
	return nil
}

func (s *InMemoryStore) CreateRun(ctx context.Context, run *models.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run.Status == models.RunRunning {
		for _, id := range s.runOrder {
			if r := s.runs[id]; r.BranchID == run.BranchID && r.Status == models.RunRunning {
				return models.Errorf(models.CodeConcurrentStateConflict, "branch %s already has running run %s", run.BranchID, r.ID)
			}
		}
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = s.now()
	}
	s.runs[run.ID] = cloneRun(run)
	s.runOrder = append(s.runOrder, run.ID)
	return nil
}

func (s *InMemoryStore) UpdateRun(ctx context.Context, run *models.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.ID]; !ok {
		return models.NotFound("run", run.ID)
	}
	s.runs[run.ID] = cloneRun(run)
	return nil
}

func (s *InMemoryStore) GetRun(ctx context.Context, id string) (*models.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[id]
	if !ok {
		return nil, models.NotFound("run", id)
	}
	return cloneRun(r), nil
}

func (s *InMemoryStore) ListRuns(ctx context.Context, branchID string) ([]*models.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Run, 0)
	for _, id := range s.runOrder {
		if r := s.runs[id]; r.BranchID == branchID {
			out = append(out, cloneRun(r))
		}
	}
	return out, nil
}

func (s *InMemoryStore) ListRunsByStatus(ctx context.Context, status models.RunStatus) ([]*models.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Run, 0)
	for _, id := range s.runOrder {
		if r := s.runs[id]; r.Status == status {
			out = append(out, cloneRun(r))
		}
	}
	return out, nil
}

func (s *InMemoryStore) CreateToolRun(ctx context.Context, tr *models.ToolRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tr.StartedAt.IsZero() {
		tr.StartedAt = s.now()
	}
	s.toolRuns[tr.RunID] = append(s.toolRuns[tr.RunID], cloneToolRun(tr))
	return nil
}

func (s *InMemoryStore) UpdateToolRun(ctx context.Context, tr *models.ToolRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	arr := s.toolRuns[tr.RunID]
	for i := range arr {
		if arr[i].ID == tr.ID {
			arr[i] = cloneToolRun(tr)
			return nil
		}
	}
	return models.NotFound("tool run", tr.ID)
}

func (s *InMemoryStore) ListToolRuns(ctx context.Context, runID string) ([]*models.ToolRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.toolRuns[runID]
	out := make([]*models.ToolRun, 0, len(arr))
	for _, tr := range arr {
		out = append(out, cloneToolRun(tr))
	}
	return out, nil
}

func (s *InMemoryStore) CreateDecision(ctx context.Context, d *models.Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = s.now()
	}
	s.decisions[d.ID] = cloneDecision(d)
	return nil
}

func (s *InMemoryStore) UpdateDecision(ctx context.Context, d *models.Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.decisions[d.ID]; !ok {
		return models.NotFound("decision", d.ID)
	}
	s.decisions[d.ID] = cloneDecision(d)
	return nil
}

func (s *InMemoryStore) GetDecision(ctx context.Context, id string) (*models.Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.decisions[id]
	if !ok {
		return nil, models.NotFound("decision", id)
	}
	return cloneDecision(d), nil
}

func (s *InMemoryStore) ListDecisions(ctx context.Context, branchID string, status models.DecisionStatus) ([]*models.Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Decision, 0)
	for _, d := range s.decisions {
		if d.BranchID != branchID {
			continue
		}
		if status != "" && d.Status != status {
			continue
		}
		out = append(out, cloneDecision(d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryStore) AppendEvent(ctx context.Context, ev *models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.branches[ev.BranchID]; !ok {
		return models.NotFound("branch", ev.BranchID)
	}
	log := s.events[ev.BranchID]
	ev.Sequence = int64(len(log)) + 1
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = s.now()
	}
	s.events[ev.BranchID] = append(log, cloneEvent(ev))
	return nil
}

func (s *InMemoryStore) ListEvents(ctx context.Context, branchID string, after int64, limit int) ([]*models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log := s.events[branchID]
	// sequences are dense from 1, so the slice index of sequence n is n-1
	start := after
	if start < 0 {
		start = 0
	}
	if start > int64(len(log)) {
		start = int64(len(log))
	}
	tail := log[start:]
	if limit > 0 && len(tail) > limit {
		tail = tail[:limit]
	}
	out := make([]*models.Event, 0, len(tail))
	for _, ev := range tail {
		out = append(out, cloneEvent(ev))
	}
	return out, nil
}

func (s *InMemoryStore) LastSequence(ctx context.Context, branchID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.events[branchID])), nil
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}

func cloneStringPtr(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneTimePtr(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneThread(t *models.Thread) *models.Thread {
	cp := *t
	cp.PinnedBranchID = cloneStringPtr(t.PinnedBranchID)
	return &cp
}

func cloneBranch(b *models.Branch) *models.Branch {
	cp := *b
	cp.ForkedFromBranchID = cloneStringPtr(b.ForkedFromBranchID)
	cp.ForkedFromMessageID = cloneStringPtr(b.ForkedFromMessageID)
	return &cp
}

func cloneMessage(m *models.Message) *models.Message {
	cp := *m
	cp.Payload = cloneRaw(m.Payload)
	cp.RunID = cloneStringPtr(m.RunID)
	return &cp
}

func cloneRun(r *models.Run) *models.Run {
	cp := *r
	cp.MessageID = cloneStringPtr(r.MessageID)
	cp.Error = cloneStringPtr(r.Error)
	cp.EndedAt = cloneTimePtr(r.EndedAt)
	return &cp
}

func cloneToolRun(tr *models.ToolRun) *models.ToolRun {
	cp := *tr
	cp.Input = cloneRaw(tr.Input)
	cp.Output = cloneRaw(tr.Output)
	cp.Error = cloneStringPtr(tr.Error)
	cp.EndedAt = cloneTimePtr(tr.EndedAt)
	return &cp
}

func cloneDecision(d *models.Decision) *models.Decision {
	cp := *d
	cp.ToolRunIDs = append([]string(nil), d.ToolRunIDs...)
	if d.Options != nil {
		cp.Options = make([]models.DecisionOption, len(d.Options))
		for i, opt := range d.Options {
			opt.Params = cloneRaw(opt.Params)
			cp.Options[i] = opt
		}
	}
	cp.ChosenOption = cloneStringPtr(d.ChosenOption)
	cp.ResolvedAt = cloneTimePtr(d.ResolvedAt)
	return &cp
}

func cloneEvent(ev *models.Event) *models.Event {
	cp := *ev
	cp.Payload = cloneRaw(ev.Payload)
	return &cp
}
