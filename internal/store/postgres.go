package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/branchline/pkg/models"
)

const oneRunningPerBranch = "runs_one_running_per_branch"

// PostgresStore implements Store on the schema in internal/database/migrations
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

type scanner interface {
	Scan(dest ...interface{}) error
}

func (s *PostgresStore) CreateThread(ctx context.Context, thread *models.Thread, main *models.Branch) error {
	if thread.CreatedAt.IsZero() {
		thread.CreatedAt = time.Now().UTC()
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
            INSERT INTO threads (id, workspace_id, title, created_by, created_at, pinned_branch_id)
            VALUES ($1,$2,$3,$4,$5,$6)
        `, thread.ID, thread.WorkspaceID, thread.Title, thread.CreatedBy, thread.CreatedAt, nullString(thread.PinnedBranchID)); err != nil {
			return fmt.Errorf("insert thread: %w", err)
		}
		if main == nil {
			return nil
		}
		if main.CreatedAt.IsZero() {
			main.CreatedAt = thread.CreatedAt
		}
		return insertBranch(ctx, tx, main, -1)
	})
}

func (s *PostgresStore) GetThread(ctx context.Context, id string) (*models.Thread, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT id, workspace_id, title, created_by, created_at, pinned_branch_id
        FROM threads WHERE id=$1
    `, id)
	t, err := scanThread(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.NotFound("thread", id)
	}
	return t, err
}

func (s *PostgresStore) ListThreads(ctx context.Context, workspaceID string) ([]*models.Thread, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, workspace_id, title, created_by, created_at, pinned_branch_id
        FROM threads WHERE workspace_id=$1 ORDER BY created_at DESC
    `, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*models.Thread, 0)
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SetPinnedBranch(ctx context.Context, threadID, branchID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE threads SET pinned_branch_id=$1 WHERE id=$2`, branchID, threadID)
	if err != nil {
		return err
	}
	return expectRow(res, "thread", threadID)
}

func (s *PostgresStore) CreateBranch(ctx context.Context, branch *models.Branch, messages []*models.Message) error {
	if branch.CreatedAt.IsZero() {
		branch.CreatedAt = time.Now().UTC()
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM threads WHERE id=$1)`, branch.ThreadID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return models.NotFound("thread", branch.ThreadID)
		}
		last := int64(-1)
		for _, m := range messages {
			if m.Position > last {
				last = m.Position
			}
		}
		if err := insertBranch(ctx, tx, branch, last); err != nil {
			return err
		}
		for _, m := range messages {
			if err := insertMessage(ctx, tx, m); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *PostgresStore) GetBranch(ctx context.Context, id string) (*models.Branch, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT id, thread_id, workspace_id, name, created_by, created_at, forked_from_branch_id, forked_from_message_id, run_state
        FROM branches WHERE id=$1
    `, id)
	b, err := scanBranch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.NotFound("branch", id)
	}
	return b, err
}

func (s *PostgresStore) ListBranches(ctx context.Context, threadID string) ([]*models.Branch, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, thread_id, workspace_id, name, created_by, created_at, forked_from_branch_id, forked_from_message_id, run_state
        FROM branches WHERE thread_id=$1 ORDER BY created_at ASC
    `, threadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*models.Branch, 0)
	for rows.Next() {
		b, err := scanBranch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SetBranchRunState(ctx context.Context, branchID string, state models.RunState) error {
	res, err := s.db.ExecContext(ctx, `UPDATE branches SET run_state=$1 WHERE id=$2`, string(state), branchID)
	if err != nil {
		return err
	}
	return expectRow(res, "branch", branchID)
}

func (s *PostgresStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
            UPDATE branches SET last_message_position = last_message_position + 1
            WHERE id=$1 RETURNING last_message_position
        `, msg.BranchID).Scan(&msg.Position)
		if errors.Is(err, sql.ErrNoRows) {
			return models.NotFound("branch", msg.BranchID)
		}
		if err != nil {
			return err
		}
		return insertMessage(ctx, tx, msg)
	})
}

func (s *PostgresStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT id, branch_id, role, content, payload, position, run_id, created_at
        FROM messages WHERE id=$1
    `, id)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.NotFound("message", id)
	}
	return m, err
}

func (s *PostgresStore) ListMessages(ctx context.Context, branchID string) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, branch_id, role, content, payload, position, run_id, created_at
        FROM messages WHERE branch_id=$1 ORDER BY position ASC
    `, branchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*models.Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListQueue(ctx context.Context, branchID string) ([]*models.QueueItem, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, branch_id, content, submitted_by, created_at, position
        FROM queue_items WHERE branch_id=$1 ORDER BY position ASC
    `, branchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*models.QueueItem, 0)
	for rows.Next() {
		var it models.QueueItem
		if err := rows.Scan(&it.ID, &it.BranchID, &it.Content, &it.SubmittedBy, &it.CreatedAt, &it.Position); err != nil {
			return nil, err
		}
		out = append(out, &it)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ReplaceQueue(ctx context.Context, branchID string, items []*models.QueueItem) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		// row lock on the branch serializes concurrent replacements across nodes
		var id string
		err := tx.QueryRowContext(ctx, `SELECT id FROM branches WHERE id=$1 FOR UPDATE`, branchID).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return models.NotFound("branch", branchID)
		}
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM queue_items WHERE branch_id=$1`, branchID); err != nil {
			return err
		}
		for _, it := range items {
			if _, err := tx.ExecContext(ctx, `
                INSERT INTO queue_items (id, branch_id, content, submitted_by, created_at, position)
                VALUES ($1,$2,$3,$4,$5,$6)
            `, it.ID, branchID, it.Content, it.SubmittedBy, it.CreatedAt, it.Position); err != nil {
				return fmt.Errorf("insert queue item %s: %w", it.ID, err)
			}
		}
		return nil
	})
}

func (s *PostgresStore) CreateRun(ctx context.Context, run *models.Run) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO runs (id, branch_id, trigger_type, status, message_id, error, started_at, ended_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
    `, run.ID, run.BranchID, string(run.TriggerType), string(run.Status), nullString(run.MessageID), nullString(run.Error), run.StartedAt, nullTime(run.EndedAt))
	if isUniqueViolation(err, oneRunningPerBranch) {
		return models.Errorf(models.CodeConcurrentStateConflict, "branch %s already has a running run", run.BranchID)
	}
	return err
}

func (s *PostgresStore) UpdateRun(ctx context.Context, run *models.Run) error {
	res, err := s.db.ExecContext(ctx, `
        UPDATE runs SET status=$1, message_id=$2, error=$3, ended_at=$4 WHERE id=$5
    `, string(run.Status), nullString(run.MessageID), nullString(run.Error), nullTime(run.EndedAt), run.ID)
	if isUniqueViolation(err, oneRunningPerBranch) {
		return models.Errorf(models.CodeConcurrentStateConflict, "branch %s already has a running run", run.BranchID)
	}
	if err != nil {
		return err
	}
	return expectRow(res, "run", run.ID)
}

func (s *PostgresStore) GetRun(ctx context.Context, id string) (*models.Run, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT id, branch_id, trigger_type, status, message_id, error, started_at, ended_at
        FROM runs WHERE id=$1
    `, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.NotFound("run", id)
	}
	return r, err
}

func (s *PostgresStore) ListRuns(ctx context.Context, branchID string) ([]*models.Run, error) {
	return s.queryRuns(ctx, `
        SELECT id, branch_id, trigger_type, status, message_id, error, started_at, ended_at
        FROM runs WHERE branch_id=$1 ORDER BY started_at ASC
    `, branchID)
}

func (s *PostgresStore) ListRunsByStatus(ctx context.Context, status models.RunStatus) ([]*models.Run, error) {
	return s.queryRuns(ctx, `
        SELECT id, branch_id, trigger_type, status, message_id, error, started_at, ended_at
        FROM runs WHERE status=$1 ORDER BY started_at ASC
    `, string(status))
}

func (s *PostgresStore) queryRuns(ctx context.Context, query string, arg interface{}) ([]*models.Run, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*models.Run, 0)
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreateToolRun(ctx context.Context, tr *models.ToolRun) error {
	if tr.StartedAt.IsZero() {
		tr.StartedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO tool_runs (id, run_id, branch_id, name, input, output, status, attempts, error, started_at, ended_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
    `, tr.ID, tr.RunID, tr.BranchID, tr.Name, nullJSON(tr.Input), nullJSON(tr.Output), string(tr.Status), tr.Attempts, nullString(tr.Error), tr.StartedAt, nullTime(tr.EndedAt))
	return err
}

func (s *PostgresStore) UpdateToolRun(ctx context.Context, tr *models.ToolRun) error {
	res, err := s.db.ExecContext(ctx, `
        UPDATE tool_runs SET input=$1, output=$2, status=$3, attempts=$4, error=$5, ended_at=$6 WHERE id=$7
    `, nullJSON(tr.Input), nullJSON(tr.Output), string(tr.Status), tr.Attempts, nullString(tr.Error), nullTime(tr.EndedAt), tr.ID)
	if err != nil {
		return err
	}
	return expectRow(res, "tool run", tr.ID)
}

func (s *PostgresStore) ListToolRuns(ctx context.Context, runID string) ([]*models.ToolRun, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, run_id, branch_id, name, input, output, status, attempts, error, started_at, ended_at
        FROM tool_runs WHERE run_id=$1 ORDER BY started_at ASC
    `, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*models.ToolRun, 0)
	for rows.Next() {
		var tr models.ToolRun
		var input, output []byte
		var status string
		var errText sql.NullString
		var ended sql.NullTime
		if err := rows.Scan(&tr.ID, &tr.RunID, &tr.BranchID, &tr.Name, &input, &output, &status, &tr.Attempts, &errText, &tr.StartedAt, &ended); err != nil {
			return nil, err
		}
		tr.Input = rawOrNil(input)
		tr.Output = rawOrNil(output)
		tr.Status = models.ToolRunStatus(status)
		tr.Error = stringPtr(errText)
		tr.EndedAt = timePtr(ended)
		out = append(out, &tr)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreateDecision(ctx context.Context, d *models.Decision) error {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	opts, err := json.Marshal(d.Options)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
        INSERT INTO decisions (id, run_id, branch_id, tool_run_ids, prompt, options, status, chosen_option, created_at, resolved_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
    `, d.ID, d.RunID, d.BranchID, pq.Array(ensureSliceNotNil(d.ToolRunIDs)), d.Prompt, opts, string(d.Status), nullString(d.ChosenOption), d.CreatedAt, nullTime(d.ResolvedAt))
	return err
}

func (s *PostgresStore) UpdateDecision(ctx context.Context, d *models.Decision) error {
	res, err := s.db.ExecContext(ctx, `
        UPDATE decisions SET tool_run_ids=$1, status=$2, chosen_option=$3, resolved_at=$4 WHERE id=$5
    `, pq.Array(ensureSliceNotNil(d.ToolRunIDs)), string(d.Status), nullString(d.ChosenOption), nullTime(d.ResolvedAt), d.ID)
	if err != nil {
		return err
	}
	return expectRow(res, "decision", d.ID)
}

func (s *PostgresStore) GetDecision(ctx context.Context, id string) (*models.Decision, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT id, run_id, branch_id, tool_run_ids, prompt, options, status, chosen_option, created_at, resolved_at
        FROM decisions WHERE id=$1
    `, id)
	d, err := scanDecision(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.NotFound("decision", id)
	}
	return d, err
}

func (s *PostgresStore) ListDecisions(ctx context.Context, branchID string, status models.DecisionStatus) ([]*models.Decision, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, run_id, branch_id, tool_run_ids, prompt, options, status, chosen_option, created_at, resolved_at
        FROM decisions WHERE branch_id=$1 AND ($2 = '' OR status=$2) ORDER BY created_at ASC
    `, branchID, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*models.Decision, 0)
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *PostgresStore) AppendEvent(ctx context.Context, ev *models.Event) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	payload := ev.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
            UPDATE branches SET last_event_seq = last_event_seq + 1
            WHERE id=$1 RETURNING last_event_seq
        `, ev.BranchID).Scan(&ev.Sequence)
		if errors.Is(err, sql.ErrNoRows) {
			return models.NotFound("branch", ev.BranchID)
		}
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
            INSERT INTO branch_events (id, branch_id, sequence, event_type, payload, created_at)
            VALUES ($1,$2,$3,$4,$5,$6)
        `, ev.ID, ev.BranchID, ev.Sequence, string(ev.Type), []byte(payload), ev.CreatedAt)
		return err
	})
}

func (s *PostgresStore) ListEvents(ctx context.Context, branchID string, after int64, limit int) ([]*models.Event, error) {
	var lim interface{}
	if limit > 0 {
		lim = limit
	}
	// LIMIT NULL returns every row
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, branch_id, sequence, event_type, payload, created_at
        FROM branch_events WHERE branch_id=$1 AND sequence > $2
        ORDER BY sequence ASC LIMIT $3
    `, branchID, after, lim)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*models.Event, 0)
	for rows.Next() {
		var ev models.Event
		var typ string
		var payload []byte
		if err := rows.Scan(&ev.ID, &ev.BranchID, &ev.Sequence, &typ, &payload, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.Type = models.EventType(typ)
		ev.Payload = json.RawMessage(payload)
		out = append(out, &ev)
	}
	return out, rows.Err()
}

func (s *PostgresStore) LastSequence(ctx context.Context, branchID string) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `SELECT last_event_seq FROM branches WHERE id=$1`, branchID).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return seq, err
}

func (s *PostgresStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func insertBranch(ctx context.Context, tx *sql.Tx, b *models.Branch, lastPosition int64) error {
	if b.RunState == "" {
		b.RunState = models.RunStateIdle
	}
	_, err := tx.ExecContext(ctx, `
        INSERT INTO branches (id, thread_id, workspace_id, name, created_by, created_at, forked_from_branch_id, forked_from_message_id, run_state, last_message_position)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
    `, b.ID, b.ThreadID, b.WorkspaceID, b.Name, b.CreatedBy, b.CreatedAt, nullString(b.ForkedFromBranchID), nullString(b.ForkedFromMessageID), string(b.RunState), lastPosition)
	if err != nil {
		return fmt.Errorf("insert branch: %w", err)
	}
	return nil
}

func insertMessage(ctx context.Context, tx *sql.Tx, m *models.Message) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	_, err := tx.ExecContext(ctx, `
        INSERT INTO messages (id, branch_id, role, content, payload, position, run_id, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
    `, m.ID, m.BranchID, string(m.Role), m.Content, nullJSON(m.Payload), m.Position, nullString(m.RunID), m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func scanThread(row scanner) (*models.Thread, error) {
	var t models.Thread
	var pinned sql.NullString
	if err := row.Scan(&t.ID, &t.WorkspaceID, &t.Title, &t.CreatedBy, &t.CreatedAt, &pinned); err != nil {
		return nil, err
	}
	t.PinnedBranchID = stringPtr(pinned)
	return &t, nil
}

func scanBranch(row scanner) (*models.Branch, error) {
	var b models.Branch
	var fromBranch, fromMessage sql.NullString
	var state string
	if err := row.Scan(&b.ID, &b.ThreadID, &b.WorkspaceID, &b.Name, &b.CreatedBy, &b.CreatedAt, &fromBranch, &fromMessage, &state); err != nil {
		return nil, err
	}
	b.ForkedFromBranchID = stringPtr(fromBranch)
	b.ForkedFromMessageID = stringPtr(fromMessage)
	b.RunState = models.RunState(state)
	return &b, nil
}

func scanMessage(row scanner) (*models.Message, error) {
	var m models.Message
	var role string
	var payload []byte
	var runID sql.NullString
	if err := row.Scan(&m.ID, &m.BranchID, &role, &m.Content, &payload, &m.Position, &runID, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.Role = models.Role(role)
	m.Payload = rawOrNil(payload)
	m.RunID = stringPtr(runID)
	return &m, nil
}

func scanRun(row scanner) (*models.Run, error) {
	var r models.Run
	var trigger, status string
	var messageID, errText sql.NullString
	var ended sql.NullTime
	if err := row.Scan(&r.ID, &r.BranchID, &trigger, &status, &messageID, &errText, &r.StartedAt, &ended); err != nil {
		return nil, err
	}
	r.TriggerType = models.TriggerType(trigger)
	r.Status = models.RunStatus(status)
	r.MessageID = stringPtr(messageID)
	r.Error = stringPtr(errText)
	r.EndedAt = timePtr(ended)
	return &r, nil
}

func scanDecision(row scanner) (*models.Decision, error) {
	var d models.Decision
	var toolRunIDs pq.StringArray
	var opts []byte
	var status string
	var chosen sql.NullString
	var resolved sql.NullTime
	if err := row.Scan(&d.ID, &d.RunID, &d.BranchID, &toolRunIDs, &d.Prompt, &opts, &status, &chosen, &d.CreatedAt, &resolved); err != nil {
		return nil, err
	}
	if len(opts) > 0 {
		if err := json.Unmarshal(opts, &d.Options); err != nil {
			return nil, fmt.Errorf("decode decision options: %w", err)
		}
	}
	d.ToolRunIDs = []string(toolRunIDs)
	d.Status = models.DecisionStatus(status)
	d.ChosenOption = stringPtr(chosen)
	d.ResolvedAt = timePtr(resolved)
	return &d, nil
}

func expectRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return models.NotFound(kind, id)
	}
	return nil
}

func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == "23505" && pqErr.Constraint == constraint
}

func nullString(p *string) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

func nullTime(p *time.Time) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

func nullJSON(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	v := nt.Time
	return &v
}

func rawOrNil(b []byte) json.RawMessage {
	if len(b) == 0 {
		return nil
	}
	return json.RawMessage(b)
}

func ensureSliceNotNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
