// Package runtime runs the agent against branches. Each branch has one
// serialization point guarding its active run, so at most one run per branch
// is RUNNING and sends that lose the race land in the queue.
package runtime

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/branchline/internal/agent"
	"github.com/branchline/internal/eventlog"
	"github.com/branchline/internal/queue"
	"github.com/branchline/internal/store"
	"github.com/branchline/internal/tools"
	"github.com/branchline/pkg/models"
)

// ErrClosed is returned when starting work on a controller that is shutting down
var ErrClosed error = &models.Error{Code: models.CodeUnavailable, Message: "runtime is shutting down"}

// errRunEnded is handed to an agent whose run was cancelled or replaced
var errRunEnded = errors.New("runtime: run is no longer active")

const (
	ReasonShutdown = "shutdown"
	ReasonOrphaned = "orphaned"
)

// Options tunes a Controller
type Options struct {
	// RunTimeout bounds one agent run; zero means no limit.
	RunTimeout time.Duration
}

// Controller owns run state for every branch
type Controller struct {
	store  store.Store
	events eventlog.Appender
	queue  *queue.Manager
	agent  agent.Agent
	tools  *tools.Registry
	opts   Options
	now    func() time.Time

	baseCtx    context.Context
	baseCancel context.CancelFunc
	closed     atomic.Bool
	wg         sync.WaitGroup

	mu       sync.Mutex
	branches map[string]*branchState
}

// branchState is the per-branch serialization point. Every read or write of
// active happens with mu held.
type branchState struct {
	id     string
	mu     sync.Mutex
	active *activeRun
}

type activeRun struct {
	run      *models.Run
	cancel   context.CancelFunc
	done     chan struct{}
	inflight map[string]*models.ToolRun
	decision *pendingDecision
}

type pendingDecision struct {
	decision *models.Decision
	toolRun  *models.ToolRun
	resolved chan models.DecisionAction
}

func New(st store.Store, events eventlog.Appender, q *queue.Manager, a agent.Agent, reg *tools.Registry, opts Options) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	if reg == nil {
		reg, _ = tools.NewRegistry()
	}
	return &Controller{
		store:      st,
		events:     events,
		queue:      q,
		agent:      a,
		tools:      reg,
		opts:       opts,
		now:        func() time.Time { return time.Now().UTC() },
		baseCtx:    ctx,
		baseCancel: cancel,
		branches:   make(map[string]*branchState),
	}
}

func (c *Controller) branch(branchID string) *branchState {
	c.mu.Lock()
	defer c.mu.Unlock()
	bs, ok := c.branches[branchID]
	if !ok {
		bs = &branchState{id: branchID}
		c.branches[branchID] = bs
	}
	return bs
}

// SendRequest is a user message submitted to a branch
type SendRequest struct {
	BranchID    string
	Content     string
	SubmittedBy string
	Mode        models.SendMode
}

// SendResult reports whether the message started a run or was queued
type SendResult struct {
	Queued      bool   `json:"queued"`
	RunID       string `json:"runId,omitempty"`
	QueueItemID string `json:"queueItemId,omitempty"`
}

// SendMessage applies the send/queue/interrupt transition for one message.
// It returns as soon as the run is started or the message is queued.
func (c *Controller) SendMessage(ctx context.Context, req SendRequest) (*SendResult, error) {
	if req.Mode == "" {
		req.Mode = models.ModeSend
	}
	if !req.Mode.Valid() {
		return nil, models.Errorf(models.CodeInvalidArgument, "unknown send mode %q", req.Mode)
	}
	if strings.TrimSpace(req.Content) == "" {
		return nil, models.Errorf(models.CodeInvalidArgument, "message content must not be empty")
	}
	if _, err := c.store.GetBranch(ctx, req.BranchID); err != nil {
		return nil, err
	}

	if req.Mode == models.ModeQueue {
		item, err := c.queue.Enqueue(ctx, req.BranchID, req.Content, req.SubmittedBy)
		if err != nil {
			return nil, err
		}
		return &SendResult{Queued: true, QueueItemID: item.ID}, nil
	}

	bs := c.branch(req.BranchID)
	bs.mu.Lock()
	defer bs.mu.Unlock()

	trigger := models.TriggerUserSend
	if req.Mode == models.ModeInterrupt && bs.active != nil {
		c.cancelLocked(ctx, bs, "interrupted by new message")
		trigger = models.TriggerInterruptRestart
	}

	if bs.active != nil {
		item, err := c.queue.Enqueue(ctx, req.BranchID, req.Content, req.SubmittedBy)
		if err != nil {
			return nil, err
		}
		log.Debug().Str("branch_id", req.BranchID).Str("queue_item_id", item.ID).Msg("Branch busy, message queued")
		return &SendResult{Queued: true, QueueItemID: item.ID}, nil
	}

	run, err := c.startLocked(ctx, bs, req.Content, req.SubmittedBy, trigger)
	if err != nil {
		return nil, err
	}
	return &SendResult{RunID: run.ID}, nil
}

// startLocked appends the user message and starts a run. bs.mu must be held
// and bs.active must be nil.
func (c *Controller) startLocked(ctx context.Context, bs *branchState, content, submittedBy string, trigger models.TriggerType) (*models.Run, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}

	msgID := uuid.NewString()
	run := &models.Run{
		ID:          uuid.NewString(),
		BranchID:    bs.id,
		TriggerType: trigger,
		Status:      models.RunRunning,
		MessageID:   &msgID,
		StartedAt:   c.now(),
	}
	if err := c.store.CreateRun(ctx, run); err != nil {
		return nil, err
	}

	runID := run.ID
	msg := &models.Message{
		ID:        msgID,
		BranchID:  bs.id,
		Role:      models.RoleUser,
		Content:   content,
		RunID:     &runID,
		CreatedAt: c.now(),
	}
	if err := c.store.AppendMessage(ctx, msg); err != nil {
		c.failUnstarted(run, err)
		return nil, err
	}
	if err := c.store.SetBranchRunState(ctx, bs.id, models.RunStateRunning); err != nil {
		c.failUnstarted(run, err)
		return nil, err
	}

	c.emit(bs.id, models.EventUserMessage, map[string]interface{}{
		"messageId":   msg.ID,
		"runId":       run.ID,
		"content":     msg.Content,
		"position":    msg.Position,
		"submittedBy": submittedBy,
	})
	c.emit(bs.id, models.EventRunStarted, map[string]interface{}{
		"runId":       run.ID,
		"triggerType": run.TriggerType,
		"messageId":   msg.ID,
	})

	var runCtx context.Context
	var cancel context.CancelFunc
	if c.opts.RunTimeout > 0 {
		runCtx, cancel = context.WithTimeout(c.baseCtx, c.opts.RunTimeout)
	} else {
		runCtx, cancel = context.WithCancel(c.baseCtx)
	}
	ar := &activeRun{
		run:      run,
		cancel:   cancel,
		done:     make(chan struct{}),
		inflight: make(map[string]*models.ToolRun),
	}
	bs.active = ar

	c.wg.Add(1)
	go c.execute(runCtx, bs, ar)

	log.Info().
		Str("branch_id", bs.id).
		Str("run_id", run.ID).
		Str("trigger", string(trigger)).
		Msg("Run started")
	return run, nil
}

func (c *Controller) failUnstarted(run *models.Run, cause error) {
	msg := cause.Error()
	ended := c.now()
	run.Status = models.RunFailed
	run.Error = &msg
	run.EndedAt = &ended
	if err := c.store.UpdateRun(context.Background(), run); err != nil {
		log.Error().Err(err).Str("run_id", run.ID).Msg("Failed to mark unstarted run failed")
	}
}

func (c *Controller) execute(ctx context.Context, bs *branchState, ar *activeRun) {
	defer c.wg.Done()
	defer close(ar.done)
	defer ar.cancel()

	history, err := c.store.ListMessages(ctx, bs.id)
	if err == nil {
		err = c.agent.Run(ctx, history, &runSink{c: c, bs: bs, ar: ar})
	}
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	c.finish(ctx, bs, ar, err)
}

// finish records the outcome of a run and drains the queue. It does nothing
// when the run was already cancelled.
func (c *Controller) finish(runCtx context.Context, bs *branchState, ar *activeRun, runErr error) {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	if bs.active != ar {
		return
	}
	bs.active = nil

	ctx := context.Background()
	c.abandonLocked(ctx, bs, ar)

	ended := c.now()
	ar.run.EndedAt = &ended
	if runErr == nil {
		ar.run.Status = models.RunCompleted
	} else {
		msg := runErr.Error()
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			msg = "run timed out after " + c.opts.RunTimeout.String()
		}
		ar.run.Status = models.RunFailed
		ar.run.Error = &msg
	}
	if err := c.store.UpdateRun(ctx, ar.run); err != nil {
		log.Error().Err(err).Str("run_id", ar.run.ID).Msg("Failed to persist run outcome")
	}
	if err := c.store.SetBranchRunState(ctx, bs.id, models.RunStateIdle); err != nil {
		log.Error().Err(err).Str("branch_id", bs.id).Msg("Failed to mark branch idle")
	}

	if runErr == nil {
		c.emit(bs.id, models.EventRunCompleted, map[string]interface{}{"runId": ar.run.ID})
		log.Info().Str("branch_id", bs.id).Str("run_id", ar.run.ID).Msg("Run completed")
	} else {
		c.emit(bs.id, models.EventRunFailed, map[string]interface{}{
			"runId": ar.run.ID,
			"code":  models.CodeAgentFailure,
			"error": *ar.run.Error,
		})
		log.Warn().Err(runErr).Str("branch_id", bs.id).Str("run_id", ar.run.ID).Msg("Run failed")
	}

	c.drainLocked(ctx, bs)
}

// drainLocked promotes the front queue item into a new run. bs.mu must be held
// and the branch must be idle.
func (c *Controller) drainLocked(ctx context.Context, bs *branchState) {
	if c.closed.Load() || bs.active != nil {
		return
	}
	item, err := c.queue.PopFront(ctx, bs.id)
	if errors.Is(err, queue.ErrEmpty) {
		return
	}
	if err != nil {
		log.Error().Err(err).Str("branch_id", bs.id).Msg("Failed to pop queue")
		return
	}

	if _, err := c.startLocked(ctx, bs, item.Content, item.SubmittedBy, models.TriggerQueueDrain); err != nil {
		log.Error().Err(err).Str("branch_id", bs.id).Str("queue_item_id", item.ID).Msg("Failed to start queued run, restoring item")
		if rerr := c.queue.Restore(ctx, item); rerr != nil {
			log.Error().Err(rerr).Str("queue_item_id", item.ID).Msg("Failed to restore queue item")
		}
	}
}

// Interrupt cancels the active run of the branch. It reports false, and emits
// nothing, when the branch was idle. The queue is left untouched.
func (c *Controller) Interrupt(ctx context.Context, branchID, reason string) (bool, error) {
	if _, err := c.store.GetBranch(ctx, branchID); err != nil {
		return false, err
	}
	bs := c.branch(branchID)
	bs.mu.Lock()
	defer bs.mu.Unlock()
	return c.cancelLocked(ctx, bs, reason), nil
}

// cancelLocked marks the active run CANCELLED and returns the branch to IDLE
// before returning. The agent goroutine observes cancellation on its own time
// and anything it produces afterwards is dropped.
func (c *Controller) cancelLocked(ctx context.Context, bs *branchState, reason string) bool {
	ar := bs.active
	if ar == nil {
		return false
	}
	bs.active = nil
	ar.cancel()

	ctx = context.WithoutCancel(ctx)
	c.abandonLocked(ctx, bs, ar)

	ended := c.now()
	ar.run.Status = models.RunCancelled
	ar.run.EndedAt = &ended
	if err := c.store.UpdateRun(ctx, ar.run); err != nil {
		log.Error().Err(err).Str("run_id", ar.run.ID).Msg("Failed to persist run cancellation")
	}
	if err := c.store.SetBranchRunState(ctx, bs.id, models.RunStateIdle); err != nil {
		log.Error().Err(err).Str("branch_id", bs.id).Msg("Failed to mark branch idle")
	}

	c.emit(bs.id, models.EventProcessCancelled, map[string]interface{}{
		"runId":  ar.run.ID,
		"reason": reason,
	})
	log.Info().Str("branch_id", bs.id).Str("run_id", ar.run.ID).Str("reason", reason).Msg("Run cancelled")
	return true
}

// abandonLocked cancels the in-flight tool runs and pending decision of a run
// that is ending.
func (c *Controller) abandonLocked(ctx context.Context, bs *branchState, ar *activeRun) {
	for id, tr := range ar.inflight {
		ended := c.now()
		tr.Status = models.ToolCancelled
		tr.EndedAt = &ended
		if err := c.store.UpdateToolRun(ctx, tr); err != nil {
			log.Error().Err(err).Str("tool_run_id", id).Msg("Failed to cancel tool run")
		}
		c.emit(bs.id, models.EventToolCancelled, map[string]interface{}{
			"toolRunId": id,
			"runId":     ar.run.ID,
			"name":      tr.Name,
		})
		delete(ar.inflight, id)
	}

	if pd := ar.decision; pd != nil {
		c.cancelDecision(ctx, bs.id, pd.decision)
		ar.decision = nil
	}
}

func (c *Controller) cancelDecision(ctx context.Context, branchID string, d *models.Decision) {
	now := c.now()
	d.Status = models.DecisionCancelled
	d.ResolvedAt = &now
	if err := c.store.UpdateDecision(ctx, d); err != nil {
		log.Error().Err(err).Str("decision_id", d.ID).Msg("Failed to cancel decision")
	}
	c.emit(branchID, models.EventDecisionCancelled, map[string]interface{}{
		"decisionId": d.ID,
		"runId":      d.RunID,
	})
}

// BranchStatus is a snapshot of a branch's execution state
type BranchStatus struct {
	Branch            *models.Branch `json:"branch"`
	ActiveRunID       *string        `json:"activeRunId,omitempty"`
	PendingDecisionID *string        `json:"pendingDecisionId,omitempty"`
	QueueLength       int            `json:"queueLength"`
}

func (c *Controller) BranchStatus(ctx context.Context, branchID string) (*BranchStatus, error) {
	branch, err := c.store.GetBranch(ctx, branchID)
	if err != nil {
		return nil, err
	}

	bs := c.branch(branchID)
	bs.mu.Lock()
	status := &BranchStatus{Branch: branch}
	branch.RunState = models.RunStateIdle
	if ar := bs.active; ar != nil {
		id := ar.run.ID
		status.ActiveRunID = &id
		branch.RunState = models.RunStateRunning
		if ar.decision != nil {
			did := ar.decision.decision.ID
			status.PendingDecisionID = &did
		}
	}
	items, err := c.queue.List(ctx, branchID)
	bs.mu.Unlock()
	if err != nil {
		return nil, err
	}
	status.QueueLength = len(items)
	return status, nil
}

func (c *Controller) ListRuns(ctx context.Context, branchID string) ([]*models.Run, error) {
	if _, err := c.store.GetBranch(ctx, branchID); err != nil {
		return nil, err
	}
	return c.store.ListRuns(ctx, branchID)
}

func (c *Controller) PendingDecisions(ctx context.Context, branchID string) ([]*models.Decision, error) {
	if _, err := c.store.GetBranch(ctx, branchID); err != nil {
		return nil, err
	}
	return c.store.ListDecisions(ctx, branchID, models.DecisionPending)
}

// RecoverOrphanedRuns fails every persisted RUNNING run that this controller
// is not executing, typically left behind by a crash, and drains the queues of
// the affected branches.
func (c *Controller) RecoverOrphanedRuns(ctx context.Context) (int, error) {
	runs, err := c.store.ListRunsByStatus(ctx, models.RunRunning)
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, listed := range runs {
		bs := c.branch(listed.BranchID)
		bs.mu.Lock()
		if bs.active != nil && bs.active.run.ID == listed.ID {
			bs.mu.Unlock()
			continue
		}
		// the listing is stale once the lock is held; the run may have finished since
		run, err := c.store.GetRun(ctx, listed.ID)
		if err != nil {
			bs.mu.Unlock()
			return recovered, err
		}
		if run.Status != models.RunRunning {
			bs.mu.Unlock()
			continue
		}
		if err := c.recoverLocked(ctx, bs, run); err != nil {
			bs.mu.Unlock()
			return recovered, err
		}
		recovered++
		c.drainLocked(ctx, bs)
		bs.mu.Unlock()
	}

	if recovered > 0 {
		log.Info().Int("runs", recovered).Msg("Recovered orphaned runs")
	}
	return recovered, nil
}

func (c *Controller) recoverLocked(ctx context.Context, bs *branchState, run *models.Run) error {
	toolRuns, err := c.store.ListToolRuns(ctx, run.ID)
	if err != nil {
		return err
	}
	for _, tr := range toolRuns {
		if tr.Status != models.ToolPending && tr.Status != models.ToolRunning {
			continue
		}
		ended := c.now()
		tr.Status = models.ToolCancelled
		tr.EndedAt = &ended
		if err := c.store.UpdateToolRun(ctx, tr); err != nil {
			return err
		}
	}

	decisions, err := c.store.ListDecisions(ctx, run.BranchID, models.DecisionPending)
	if err != nil {
		return err
	}
	for _, d := range decisions {
		if d.RunID == run.ID {
			c.cancelDecision(ctx, run.BranchID, d)
		}
	}

	msg := ReasonOrphaned
	ended := c.now()
	run.Status = models.RunFailed
	run.Error = &msg
	run.EndedAt = &ended
	if err := c.store.UpdateRun(ctx, run); err != nil {
		return err
	}
	if bs.active == nil {
		if err := c.store.SetBranchRunState(ctx, run.BranchID, models.RunStateIdle); err != nil {
			return err
		}
	}

	c.emit(run.BranchID, models.EventRunFailed, map[string]interface{}{
		"runId":  run.ID,
		"code":   models.CodeAgentFailure,
		"error":  msg,
		"reason": ReasonOrphaned,
	})
	log.Warn().Str("branch_id", run.BranchID).Str("run_id", run.ID).Msg("Marked orphaned run failed")
	return nil
}

// Close cancels every active run and waits for run goroutines to exit or ctx
// to end. No new runs start afterwards.
func (c *Controller) Close(ctx context.Context) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.mu.Lock()
	states := make([]*branchState, 0, len(c.branches))
	for _, bs := range c.branches {
		states = append(states, bs)
	}
	c.mu.Unlock()

	for _, bs := range states {
		bs.mu.Lock()
		c.cancelLocked(ctx, bs, ReasonShutdown)
		bs.mu.Unlock()
	}
	c.baseCancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) emit(branchID string, typ models.EventType, payload interface{}) {
	if _, err := c.events.Append(context.Background(), branchID, typ, payload); err != nil {
		log.Error().Err(err).Str("branch_id", branchID).Str("event", string(typ)).Msg("Failed to append event")
	}
}
