// Package registry creates and looks up threads and branches, including
// forking a branch at a message.
package registry

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/branchline/internal/eventlog"
	"github.com/branchline/internal/store"
	"github.com/branchline/pkg/models"
)

const MainBranchName = "main"

type Registry struct {
	store  store.Store
	events eventlog.Appender
	now    func() time.Time
}

func New(st store.Store, events eventlog.Appender) *Registry {
	return &Registry{
		store:  st,
		events: events,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// CreateThread creates a thread together with its idle main branch
func (r *Registry) CreateThread(ctx context.Context, workspaceID, title, createdBy string) (*models.Thread, *models.Branch, error) {
	if strings.TrimSpace(workspaceID) == "" {
		return nil, nil, models.Errorf(models.CodeInvalidArgument, "workspace id is required")
	}
	now := r.now()
	thread := &models.Thread{
		ID:          uuid.NewString(),
		WorkspaceID: workspaceID,
		Title:       title,
		CreatedBy:   createdBy,
		CreatedAt:   now,
	}
	main := &models.Branch{
		ID:          uuid.NewString(),
		ThreadID:    thread.ID,
		WorkspaceID: workspaceID,
		Name:        MainBranchName,
		CreatedBy:   createdBy,
		CreatedAt:   now,
		RunState:    models.RunStateIdle,
	}
	if err := r.store.CreateThread(ctx, thread, main); err != nil {
		return nil, nil, err
	}

	r.emit(ctx, main.ID, models.EventBranchCreated, map[string]interface{}{
		"threadId": thread.ID,
		"name":     main.Name,
	})
	log.Info().Str("thread_id", thread.ID).Str("branch_id", main.ID).Str("workspace_id", workspaceID).Msg("Created thread")
	return thread, main, nil
}

// ForkBranch copies the source branch's messages up to and including
// sourceMessageID into a new idle branch with an empty queue.
func (r *Registry) ForkBranch(ctx context.Context, threadID, sourceBranchID, sourceMessageID, name, createdBy string) (*models.Branch, error) {
	thread, err := r.store.GetThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	source, err := r.store.GetBranch(ctx, sourceBranchID)
	if err != nil {
		return nil, err
	}
	if source.ThreadID != thread.ID {
		return nil, models.NotFound("branch", sourceBranchID)
	}

	msg, err := r.store.GetMessage(ctx, sourceMessageID)
	if err != nil {
		return nil, err
	}
	if msg.BranchID != source.ID {
		owner, err := r.store.GetBranch(ctx, msg.BranchID)
		if err != nil || owner.ThreadID != thread.ID {
			return nil, models.NotFound("message", sourceMessageID)
		}
		return nil, models.Errorf(models.CodeInvalidForkPoint, "message %q does not belong to branch %q", sourceMessageID, sourceBranchID)
	}

	history, err := r.store.ListMessages(ctx, source.ID)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(name) == "" {
		name = "fork of " + source.Name
	}
	fromBranch, fromMessage := source.ID, msg.ID
	branch := &models.Branch{
		ID:                  uuid.NewString(),
		ThreadID:            thread.ID,
		WorkspaceID:         thread.WorkspaceID,
		Name:                name,
		CreatedBy:           createdBy,
		CreatedAt:           r.now(),
		ForkedFromBranchID:  &fromBranch,
		ForkedFromMessageID: &fromMessage,
		RunState:            models.RunStateIdle,
	}

	copies := make([]*models.Message, 0, msg.Position+1)
	for _, m := range history {
		if m.Position > msg.Position {
			break
		}
		cp := *m
		cp.ID = uuid.NewString()
		cp.BranchID = branch.ID
		if m.Payload != nil {
			cp.Payload = append([]byte(nil), m.Payload...)
		}
		copies = append(copies, &cp)
	}

	if err := r.store.CreateBranch(ctx, branch, copies); err != nil {
		return nil, err
	}

	r.emit(ctx, branch.ID, models.EventBranchCreated, map[string]interface{}{
		"threadId":            thread.ID,
		"name":                branch.Name,
		"forkedFromBranchId":  source.ID,
		"forkedFromMessageId": msg.ID,
		"messageCount":        len(copies),
	})
	log.Info().
		Str("thread_id", thread.ID).
		Str("branch_id", branch.ID).
		Str("source_branch_id", source.ID).
		Int("messages", len(copies)).
		Msg("Forked branch")
	return branch, nil
}

// PinBranch marks branchID as the thread's pinned branch
func (r *Registry) PinBranch(ctx context.Context, threadID, branchID string) error {
	if _, err := r.store.GetThread(ctx, threadID); err != nil {
		return err
	}
	branch, err := r.store.GetBranch(ctx, branchID)
	if err != nil {
		return err
	}
	if branch.ThreadID != threadID {
		return models.NotFound("branch", branchID)
	}
	return r.store.SetPinnedBranch(ctx, threadID, branchID)
}

// GetThread returns a thread of the workspace with its branches
func (r *Registry) GetThread(ctx context.Context, workspaceID, threadID string) (*models.Thread, []*models.Branch, error) {
	thread, err := r.store.GetThread(ctx, threadID)
	if err != nil {
		return nil, nil, err
	}
	if thread.WorkspaceID != workspaceID {
		return nil, nil, models.NotFound("thread", threadID)
	}
	branches, err := r.store.ListBranches(ctx, threadID)
	if err != nil {
		return nil, nil, err
	}
	return thread, branches, nil
}

func (r *Registry) ListThreads(ctx context.Context, workspaceID string) ([]*models.Thread, error) {
	return r.store.ListThreads(ctx, workspaceID)
}

func (r *Registry) GetBranch(ctx context.Context, branchID string) (*models.Branch, error) {
	return r.store.GetBranch(ctx, branchID)
}

func (r *Registry) ListBranches(ctx context.Context, threadID string) ([]*models.Branch, error) {
	return r.store.ListBranches(ctx, threadID)
}

func (r *Registry) ListMessages(ctx context.Context, branchID string) ([]*models.Message, error) {
	if _, err := r.store.GetBranch(ctx, branchID); err != nil {
		return nil, err
	}
	return r.store.ListMessages(ctx, branchID)
}

// ResolveBranch returns the branch if it belongs to the workspace. Branches of
// other workspaces are reported as not found.
func (r *Registry) ResolveBranch(ctx context.Context, workspaceID, branchID string) (*models.Branch, error) {
	branch, err := r.store.GetBranch(ctx, branchID)
	if err != nil {
		return nil, err
	}
	if branch.WorkspaceID != workspaceID {
		return nil, models.NotFound("branch", branchID)
	}
	return branch, nil
}

func (r *Registry) emit(ctx context.Context, branchID string, typ models.EventType, payload interface{}) {
	if r.events == nil {
		return
	}
	if _, err := r.events.Append(context.WithoutCancel(ctx), branchID, typ, payload); err != nil {
		log.Error().Err(err).Str("branch_id", branchID).Str("event", string(typ)).Msg("Failed to append registry event")
	}
}
