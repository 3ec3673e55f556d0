package models

import (
	"encoding/json"
	"time"
)

// Role identifies who authored a message
type Role string

const (
	RoleUser      Role = "USER"
	RoleAssistant Role = "ASSISTANT"
	RoleSystem    Role = "SYSTEM"
)

// RunState is the execution state of a branch
type RunState string

const (
	RunStateIdle    RunState = "IDLE"
	RunStateRunning RunState = "RUNNING"
)

// TriggerType records why a run was started
type TriggerType string

const (
	TriggerUserSend         TriggerType = "USER_SEND"
	TriggerQueueDrain       TriggerType = "QUEUE_DRAIN"
	TriggerInterruptRestart TriggerType = "INTERRUPT_RESTART"
)

// RunStatus is the lifecycle status of a run
type RunStatus string

const (
	RunPending   RunStatus = "PENDING"
	RunRunning   RunStatus = "RUNNING"
	RunCompleted RunStatus = "COMPLETED"
	RunFailed    RunStatus = "FAILED"
	RunCancelled RunStatus = "CANCELLED"
)

// Terminal reports whether the run can no longer change status
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed || s == RunCancelled
}

// ToolRunStatus is the lifecycle status of a tool invocation
type ToolRunStatus string

const (
	ToolPending   ToolRunStatus = "PENDING"
	ToolRunning   ToolRunStatus = "RUNNING"
	ToolCompleted ToolRunStatus = "COMPLETED"
	ToolFailed    ToolRunStatus = "FAILED"
	ToolSkipped   ToolRunStatus = "SKIPPED"
	ToolCancelled ToolRunStatus = "CANCELLED"
)

// DecisionStatus is the lifecycle status of a decision
type DecisionStatus string

const (
	DecisionPending   DecisionStatus = "PENDING"
	DecisionResolved  DecisionStatus = "RESOLVED"
	DecisionCancelled DecisionStatus = "CANCELLED"
)

// DecisionAction is what a chosen option does to the blocked tool runs
type DecisionAction string

const (
	ActionRetry DecisionAction = "retry"
	ActionSkip  DecisionAction = "skip"
)

// SendMode selects how a submitted message interacts with the active run
type SendMode string

const (
	ModeSend      SendMode = "send"
	ModeQueue     SendMode = "queue"
	ModeInterrupt SendMode = "interrupt"
)

// Valid reports whether m is a known send mode
func (m SendMode) Valid() bool {
	return m == ModeSend || m == ModeQueue || m == ModeInterrupt
}

// EventType names an entry in a branch event log
type EventType string

const (
	EventBranchCreated     EventType = "BRANCH_CREATED"
	EventUserMessage       EventType = "USER_MESSAGE"
	EventAssistantMessage  EventType = "ASSISTANT_MESSAGE"
	EventRunStarted        EventType = "RUN_STARTED"
	EventRunCompleted      EventType = "RUN_COMPLETED"
	EventRunFailed         EventType = "RUN_FAILED"
	EventProcessCancelled  EventType = "PROCESS_CANCELLED"
	EventToolStarted       EventType = "TOOL_STARTED"
	EventToolCompleted     EventType = "TOOL_COMPLETED"
	EventToolFailed        EventType = "TOOL_FAILED"
	EventToolSkipped       EventType = "TOOL_SKIPPED"
	EventToolRetried       EventType = "TOOL_RETRIED"
	EventToolCancelled     EventType = "TOOL_CANCELLED"
	EventDecisionRaised    EventType = "DECISION_RAISED"
	EventDecisionResolved  EventType = "DECISION_RESOLVED"
	EventDecisionCancelled EventType = "DECISION_CANCELLED"
	EventQueueItemAdded    EventType = "QUEUE_ITEM_ADDED"
	EventQueueReordered    EventType = "QUEUE_REORDERED"
	EventQueueItemRemoved  EventType = "QUEUE_ITEM_REMOVED"
)

// Thread is a named conversation container within a workspace
type Thread struct {
	ID             string    `json:"id" db:"id"`
	WorkspaceID    string    `json:"workspaceId" db:"workspace_id"`
	Title          string    `json:"title" db:"title"`
	CreatedBy      string    `json:"createdBy" db:"created_by"`
	CreatedAt      time.Time `json:"createdAt" db:"created_at"`
	PinnedBranchID *string   `json:"pinnedBranchId,omitempty" db:"pinned_branch_id"`
}

// Branch is an ordered message log with its own execution state
type Branch struct {
	ID                  string    `json:"id" db:"id"`
	ThreadID            string    `json:"threadId" db:"thread_id"`
	WorkspaceID         string    `json:"workspaceId" db:"workspace_id"`
	Name                string    `json:"name" db:"name"`
	CreatedBy           string    `json:"createdBy" db:"created_by"`
	CreatedAt           time.Time `json:"createdAt" db:"created_at"`
	ForkedFromBranchID  *string   `json:"forkedFromBranchId,omitempty" db:"forked_from_branch_id"`
	ForkedFromMessageID *string   `json:"forkedFromMessageId,omitempty" db:"forked_from_message_id"`
	RunState            RunState  `json:"runState" db:"run_state"`
}

// Message is an immutable entry in a branch's log
type Message struct {
	ID        string          `json:"id" db:"id"`
	BranchID  string          `json:"branchId" db:"branch_id"`
	Role      Role            `json:"role" db:"role"`
	Content   string          `json:"content" db:"content"`
	Payload   json.RawMessage `json:"payload,omitempty" db:"payload"`
	Position  int64           `json:"position" db:"position"`
	RunID     *string         `json:"runId,omitempty" db:"run_id"`
	CreatedAt time.Time       `json:"createdAt" db:"created_at"`
}

// QueueItem is a user message waiting for the branch to become idle
type QueueItem struct {
	ID          string    `json:"id" db:"id"`
	BranchID    string    `json:"branchId" db:"branch_id"`
	Content     string    `json:"content" db:"content"`
	SubmittedBy string    `json:"submittedBy" db:"submitted_by"`
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
	Position    int       `json:"position" db:"position"`
}

// Run is one execution attempt of the agent against a branch
type Run struct {
	ID          string      `json:"id" db:"id"`
	BranchID    string      `json:"branchId" db:"branch_id"`
	TriggerType TriggerType `json:"triggerType" db:"trigger_type"`
	Status      RunStatus   `json:"status" db:"status"`
	MessageID   *string     `json:"messageId,omitempty" db:"message_id"`
	Error       *string     `json:"error,omitempty" db:"error"`
	StartedAt   time.Time   `json:"startedAt" db:"started_at"`
	EndedAt     *time.Time  `json:"endedAt,omitempty" db:"ended_at"`
}

// ToolRun is a sub-invocation performed during a run
type ToolRun struct {
	ID        string          `json:"id" db:"id"`
	RunID     string          `json:"runId" db:"run_id"`
	BranchID  string          `json:"branchId" db:"branch_id"`
	Name      string          `json:"name" db:"name"`
	Input     json.RawMessage `json:"input,omitempty" db:"input"`
	Output    json.RawMessage `json:"output,omitempty" db:"output"`
	Status    ToolRunStatus   `json:"status" db:"status"`
	Attempts  int             `json:"attempts" db:"attempts"`
	Error     *string         `json:"error,omitempty" db:"error"`
	StartedAt time.Time       `json:"startedAt" db:"started_at"`
	EndedAt   *time.Time      `json:"endedAt,omitempty" db:"ended_at"`
}

// DecisionOption is one named choice offered by a decision
type DecisionOption struct {
	Name   string          `json:"name"`
	Label  string          `json:"label,omitempty"`
	Action DecisionAction  `json:"action"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Decision is a pause point that blocks a run until a human picks an option
type Decision struct {
	ID           string           `json:"id" db:"id"`
	RunID        string           `json:"runId" db:"run_id"`
	BranchID     string           `json:"branchId" db:"branch_id"`
	ToolRunIDs   []string         `json:"toolRunIds" db:"tool_run_ids"`
	Prompt       string           `json:"prompt" db:"prompt"`
	Options      []DecisionOption `json:"options" db:"options"`
	Status       DecisionStatus   `json:"status" db:"status"`
	ChosenOption *string          `json:"chosenOption,omitempty" db:"chosen_option"`
	CreatedAt    time.Time        `json:"createdAt" db:"created_at"`
	ResolvedAt   *time.Time       `json:"resolvedAt,omitempty" db:"resolved_at"`
}

// Option returns the option with the given name
func (d *Decision) Option(name string) (DecisionOption, bool) {
	for _, opt := range d.Options {
		if opt.Name == name {
			return opt, true
		}
	}
	return DecisionOption{}, false
}

// Event is an immutable, sequenced record of something that happened on a branch
type Event struct {
	ID        string          `json:"id" db:"id"`
	BranchID  string          `json:"branchId" db:"branch_id"`
	Sequence  int64           `json:"sequence" db:"sequence"`
	Type      EventType       `json:"type" db:"event_type"`
	Payload   json.RawMessage `json:"payload" db:"payload"`
	CreatedAt time.Time       `json:"createdAt" db:"created_at"`
}
