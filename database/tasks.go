package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrTaskNotFound is returned when no task row has the requested id.
var ErrTaskNotFound = errors.New("task not found")

// ParkPosition is an out-of-band position held by a task while its column
// is being renumbered. It never survives a committed transaction.
const ParkPosition = -1 << 31

// Querier is satisfied by both *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// TaskRepo handles database operations for tasks and their assignments.
type TaskRepo struct {
	db *sql.DB
}

func NewTaskRepo(db *sql.DB) *TaskRepo {
	return &TaskRepo{db: db}
}

// DB exposes the pool for reads outside a transaction.
func (r *TaskRepo) DB() Querier { return r.db }

// WithTx runs fn inside a transaction, committing only if fn succeeds.
//
// The pool holds a single connection, so fn must issue every query through
// tx. Reading through DB() or any other store on the same *sql.DB from inside
// fn blocks forever. Directory lookups belong before the transaction.
func (r *TaskRepo) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

const taskColumns = `id, title, description, due_date, priority, status, position, created_by,
	channel_id, client_id, is_recurring, recurrence_rule, version, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*Task, error) {
	var (
		t                    Task
		due                  sql.NullString
		channel, client, rec sql.NullString
		recurring            int
		created, updated     string
	)
	err := row.Scan(&t.ID, &t.Title, &t.Description, &due, &t.Priority, &t.Status, &t.Position,
		&t.CreatedBy, &channel, &client, &recurring, &rec, &t.Version, &created, &updated)
	if err != nil {
		return nil, err
	}
	if due.Valid {
		d, err := parseTime(due.String)
		if err != nil {
			return nil, err
		}
		t.DueDate = &d
	}
	if channel.Valid {
		t.ChannelID = &channel.String
	}
	if client.Valid {
		t.ClientID = &client.String
	}
	if rec.Valid {
		t.RecurrenceRule = &rec.String
	}
	t.IsRecurring = recurring != 0
	if t.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if t.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &t, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// GetTask loads a task together with its assignments.
func (r *TaskRepo) GetTask(ctx context.Context, q Querier, id string) (*Task, error) {
	row := q.QueryRowContext(ctx, "SELECT "+taskColumns+" FROM tasks WHERE id = ?", id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query task: %w", err)
	}
	if t.Assignments, err = r.Assignments(ctx, q, t.ID); err != nil {
		return nil, err
	}
	return t, nil
}

// InsertTask inserts the task row. Assignments are inserted separately.
func (r *TaskRepo) InsertTask(ctx context.Context, q Querier, t *Task) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.Title, t.Description, nullTime(t.DueDate), t.Priority, t.Status, t.Position,
		t.CreatedBy, nullString(t.ChannelID), nullString(t.ClientID), boolInt(t.IsRecurring),
		nullString(t.RecurrenceRule), t.Version, formatTime(t.CreatedAt), formatTime(t.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}
	return nil
}

// UpdateContent writes the creator-editable fields of t. Status and position
// are left alone.
func (r *TaskRepo) UpdateContent(ctx context.Context, q Querier, t *Task) error {
	_, err := q.ExecContext(ctx, `
		UPDATE tasks SET title = ?, description = ?, due_date = ?, priority = ?,
			channel_id = ?, client_id = ?, is_recurring = ?, recurrence_rule = ?
		WHERE id = ?
	`, t.Title, t.Description, nullTime(t.DueDate), t.Priority, nullString(t.ChannelID),
		nullString(t.ClientID), boolInt(t.IsRecurring), nullString(t.RecurrenceRule), t.ID)
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	return nil
}

// Touch bumps the version and updated_at of a task.
func (r *TaskRepo) Touch(ctx context.Context, q Querier, id string, now time.Time) error {
	_, err := q.ExecContext(ctx,
		"UPDATE tasks SET version = version + 1, updated_at = ? WHERE id = ?", formatTime(now), id)
	if err != nil {
		return fmt.Errorf("failed to touch task: %w", err)
	}
	return nil
}

// Park moves a task into status at ParkPosition so its old and new columns
// can be renumbered.
func (r *TaskRepo) Park(ctx context.Context, q Querier, id string, status Status) error {
	_, err := q.ExecContext(ctx, "UPDATE tasks SET status = ?, position = ? WHERE id = ?",
		status, ParkPosition, id)
	if err != nil {
		return fmt.Errorf("failed to park task: %w", err)
	}
	return nil
}

// ColumnIDs returns the ids of the tasks in one owner's column, in display
// order. Equal positions fall back to creation time.
func (r *TaskRepo) ColumnIDs(ctx context.Context, q Querier, owner string, status Status) ([]string, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id FROM tasks WHERE created_by = ? AND status = ?
		ORDER BY position, created_at, id
	`, owner, status)
	if err != nil {
		return nil, fmt.Errorf("failed to query column: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan column row: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// RenumberColumn assigns positions 0..n-1 to ids in order. Existing positions
// are negated first so the (created_by, status, position) constraint holds
// after every statement.
func (r *TaskRepo) RenumberColumn(ctx context.Context, q Querier, owner string, status Status, ids []string) error {
	if _, err := q.ExecContext(ctx, `
		UPDATE tasks SET position = -1 - position
		WHERE created_by = ? AND status = ? AND position >= 0
	`, owner, status); err != nil {
		return fmt.Errorf("failed to clear column positions: %w", err)
	}
	for i, id := range ids {
		res, err := q.ExecContext(ctx,
			"UPDATE tasks SET position = ? WHERE id = ? AND created_by = ? AND status = ?",
			i, id, owner, status)
		if err != nil {
			return fmt.Errorf("failed to set position of %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n != 1 {
			return fmt.Errorf("task %s is not in column %s of %s", id, status, owner)
		}
	}
	return nil
}

// Assignments lists the assignment rows of a task in creation order.
func (r *TaskRepo) Assignments(ctx context.Context, q Querier, taskID string) ([]Assignment, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT task_id, target_kind, target_ref, personal_status, created_at
		FROM task_assignments WHERE task_id = ?
		ORDER BY created_at, target_kind, target_ref
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to query assignments: %w", err)
	}
	defer rows.Close()

	assignments := []Assignment{}
	for rows.Next() {
		var (
			a       Assignment
			ps      sql.NullString
			created string
		)
		if err := rows.Scan(&a.TaskID, &a.Target.Kind, &a.Target.Ref, &ps, &created); err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		if ps.Valid {
			s := Status(ps.String)
			a.PersonalStatus = &s
		}
		if a.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		assignments = append(assignments, a)
	}
	return assignments, rows.Err()
}

// InsertAssignment adds a target to a task; an existing identical target is
// left unchanged.
func (r *TaskRepo) InsertAssignment(ctx context.Context, q Querier, taskID string, target Target, now time.Time) error {
	_, err := q.ExecContext(ctx, `
		INSERT OR IGNORE INTO task_assignments (task_id, target_kind, target_ref, created_at)
		VALUES (?, ?, ?, ?)
	`, taskID, target.Kind, target.Ref, formatTime(now))
	if err != nil {
		return fmt.Errorf("failed to insert assignment: %w", err)
	}
	return nil
}

// DeleteAssignment removes a target together with the personal status held
// on it. Member statuses are pruned separately with PruneMemberStatuses.
func (r *TaskRepo) DeleteAssignment(ctx context.Context, q Querier, taskID string, target Target) error {
	if _, err := q.ExecContext(ctx,
		"DELETE FROM task_assignments WHERE task_id = ? AND target_kind = ? AND target_ref = ?",
		taskID, target.Kind, target.Ref); err != nil {
		return fmt.Errorf("failed to delete assignment: %w", err)
	}
	return nil
}

// SetPersonalStatus sets the personal status on a direct user assignment.
func (r *TaskRepo) SetPersonalStatus(ctx context.Context, q Querier, taskID, email string, status Status) error {
	res, err := q.ExecContext(ctx, `
		UPDATE task_assignments SET personal_status = ?
		WHERE task_id = ? AND target_kind = ? AND target_ref = ?
	`, status, taskID, TargetUser, email)
	if err != nil {
		return fmt.Errorf("failed to set personal status: %w", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return fmt.Errorf("no user assignment for %s on task %s", email, taskID)
	}
	return nil
}

// UpsertMemberStatus records the personal status of a team-resolved member.
func (r *TaskRepo) UpsertMemberStatus(ctx context.Context, q Querier, ms MemberStatus) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO task_member_statuses (task_id, user_email, status)
		VALUES (?, ?, ?)
		ON CONFLICT(task_id, user_email) DO UPDATE SET status = excluded.status
	`, ms.TaskID, ms.UserEmail, ms.Status)
	if err != nil {
		return fmt.Errorf("failed to upsert member status: %w", err)
	}
	return nil
}

// MemberStatuses returns the explicit statuses team members set on a task,
// ordered by user.
func (r *TaskRepo) MemberStatuses(ctx context.Context, q Querier, taskID string) ([]MemberStatus, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT task_id, user_email, status FROM task_member_statuses
		WHERE task_id = ? ORDER BY user_email
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to query member statuses: %w", err)
	}
	defer rows.Close()

	var out []MemberStatus
	for rows.Next() {
		var ms MemberStatus
		if err := rows.Scan(&ms.TaskID, &ms.UserEmail, &ms.Status); err != nil {
			return nil, fmt.Errorf("failed to scan member status: %w", err)
		}
		out = append(out, ms)
	}
	return out, rows.Err()
}

// PruneMemberStatuses deletes the member statuses of every user not in keep.
func (r *TaskRepo) PruneMemberStatuses(ctx context.Context, q Querier, taskID string, keep []string) error {
	query := "DELETE FROM task_member_statuses WHERE task_id = ?"
	args := []any{taskID}
	if len(keep) > 0 {
		query += " AND user_email NOT IN (" + strings.TrimSuffix(strings.Repeat("?,", len(keep)), ",") + ")"
		for _, k := range keep {
			args = append(args, k)
		}
	}
	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to prune member statuses: %w", err)
	}
	return nil
}

// CandidateTasks returns every task email could possibly see: tasks it
// created, tasks assigned to it directly, and tasks assigned to any of teams.
// Hidden tasks are included; visibility is decided by the caller.
func (r *TaskRepo) CandidateTasks(ctx context.Context, q Querier, email string, teams []string) ([]*Task, error) {
	args := []any{email, TargetUser, email}
	teamClause := ""
	if len(teams) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(teams)), ",")
		teamClause = " OR (a.target_kind = ? AND a.target_ref IN (" + placeholders + "))"
		args = append(args, TargetTeam)
		for _, t := range teams {
			args = append(args, t)
		}
	}

	query := "SELECT " + prefixed("t", taskColumns) + ` FROM tasks t
		WHERE t.created_by = ? OR t.id IN (
			SELECT a.task_id FROM task_assignments a
			WHERE (a.target_kind = ? AND a.target_ref = ?)` + teamClause + `
		)
		ORDER BY t.status, t.position, t.created_at, t.id`

	return r.queryTasks(ctx, q, query, args...)
}

// DueTasks returns open tasks (neither done nor hidden) whose due date is at
// or before cutoff.
func (r *TaskRepo) DueTasks(ctx context.Context, q Querier, cutoff time.Time) ([]*Task, error) {
	return r.queryTasks(ctx, q, "SELECT "+taskColumns+` FROM tasks
		WHERE status NOT IN (?, ?) AND due_date IS NOT NULL AND due_date <= ?
		ORDER BY due_date, id
	`, StatusDone, StatusHidden, formatTime(cutoff))
}

func (r *TaskRepo) queryTasks(ctx context.Context, q Querier, query string, args ...any) ([]*Task, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("failed to read tasks: %w", err)
	}
	rows.Close()

	// Assignments are loaded after the cursor is closed; the pool holds a
	// single connection.
	for _, t := range tasks {
		if t.Assignments, err = r.Assignments(ctx, q, t.ID); err != nil {
			return nil, err
		}
	}
	return tasks, nil
}

func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
