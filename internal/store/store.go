// Package store persists threads, branches, messages, queues, runs, decisions
// and branch event logs.
package store

import (
	"context"

	"github.com/branchline/pkg/models"
)

// Store is the durable backing for the branch runtime. Implementations must
// make every single call atomic; AppendEvent and AppendMessage assign the next
// per-branch sequence/position inside the same atomic step as the write.
type Store interface {
	CreateThread(ctx context.Context, thread *models.Thread, main *models.Branch) error
	GetThread(ctx context.Context, id string) (*models.Thread, error)
	ListThreads(ctx context.Context, workspaceID string) ([]*models.Thread, error)
	SetPinnedBranch(ctx context.Context, threadID, branchID string) error

	// CreateBranch inserts a branch together with its initial message copies.
	CreateBranch(ctx context.Context, branch *models.Branch, messages []*models.Message) error
	GetBranch(ctx context.Context, id string) (*models.Branch, error)
	ListBranches(ctx context.Context, threadID string) ([]*models.Branch, error)
	SetBranchRunState(ctx context.Context, branchID string, state models.RunState) error

	AppendMessage(ctx context.Context, msg *models.Message) error
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	ListMessages(ctx context.Context, branchID string) ([]*models.Message, error)

	ListQueue(ctx context.Context, branchID string) ([]*models.QueueItem, error)
	// ReplaceQueue swaps the full queue of a branch for items.
	ReplaceQueue(ctx context.Context, branchID string, items []*models.QueueItem) error

	CreateRun(ctx context.Context, run *models.Run) error
	UpdateRun(ctx context.Context, run *models.Run) error
	GetRun(ctx context.Context, id string) (*models.Run, error)
	ListRuns(ctx context.Context, branchID string) ([]*models.Run, error)
	ListRunsByStatus(ctx context.Context, status models.RunStatus) ([]*models.Run, error)

	CreateToolRun(ctx context.Context, tr *models.ToolRun) error
	UpdateToolRun(ctx context.Context, tr *models.ToolRun) error
	ListToolRuns(ctx context.Context, runID string) ([]*models.ToolRun, error)

	CreateDecision(ctx context.Context, d *models.Decision) error
	UpdateDecision(ctx context.Context, d *models.Decision) error
	GetDecision(ctx context.Context, id string) (*models.Decision, error)
	ListDecisions(ctx context.Context, branchID string, status models.DecisionStatus) ([]*models.Decision, error)

	AppendEvent(ctx context.Context, ev *models.Event) error
	// ListEvents returns events with sequence > after in order; limit <= 0 means no limit.
	ListEvents(ctx context.Context, branchID string, after int64, limit int) ([]*models.Event, error)
	LastSequence(ctx context.Context, branchID string) (int64, error)
}
