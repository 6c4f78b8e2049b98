package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/clawbot/coordinator/pkg/models"
)

// rebind converts ? placeholders to $1, $2, ... for PostgreSQL.
// Queries in this package are written with ? so they stay readable.
func rebind(query string) string {
	n := 1
	out := strings.Builder{}
	for _, ch := range query {
		if ch == '?' {
			out.WriteString(fmt.Sprintf("$%d", n))
			n++
		} else {
			out.WriteRune(ch)
		}
	}
	return out.String()
}

// Postgres is the production Store backed by PostgreSQL.
type Postgres struct {
	db *sql.DB
}

// NewPostgres opens a PostgreSQL connection and initializes the schema.
func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	p := &Postgres{db: db}
	if err := p.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return p, nil
}

func (p *Postgres) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS bots (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		status TEXT NOT NULL,
		capabilities JSONB,
		metadata JSONB,
		last_seen_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS workflows (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		metadata JSONB,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		workflow_id TEXT REFERENCES workflows(id) ON DELETE SET NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		payload JSONB,
		status TEXT NOT NULL,
		assigned_bot TEXT,
		capability TEXT,
		result TEXT NOT NULL DEFAULT '',
		failure_reason TEXT NOT NULL DEFAULT '',
		timeout_seconds INTEGER NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		assigned_at TIMESTAMPTZ,
		started_at TIMESTAMPTZ,
		completed_at TIMESTAMPTZ
	);

	CREATE INDEX IF NOT EXISTS idx_bots_status ON bots(status);
	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
	CREATE INDEX IF NOT EXISTS idx_tasks_workflow ON tasks(workflow_id);
	CREATE INDEX IF NOT EXISTS idx_tasks_assigned_bot ON tasks(assigned_bot);
	`

	_, err := p.db.Exec(schema)
	return err
}

// Ping verifies the connection for health checks.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close closes the underlying connection pool.
func (p *Postgres) Close() error {
	return p.db.Close()
}

// --- bots ---

const botColumns = "id, name, status, capabilities, metadata, last_seen_at, created_at, updated_at"

func (p *Postgres) CreateBot(ctx context.Context, bot *models.Bot) error {
	caps, err := json.Marshal(bot.Capabilities)
	if err != nil {
		return err
	}
	meta, err := marshalNullable(bot.Metadata)
	if err != nil {
		return err
	}

	query := `INSERT INTO bots (` + botColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = p.db.ExecContext(ctx, rebind(query),
		bot.ID, bot.Name, string(bot.Status), caps, meta,
		bot.LastSeenAt, bot.CreatedAt, bot.UpdatedAt,
	)
	return err
}

func (p *Postgres) GetBot(ctx context.Context, id string) (*models.Bot, error) {
	query := `SELECT ` + botColumns + ` FROM bots WHERE id = ?`
	bot, err := scanBot(p.db.QueryRowContext(ctx, rebind(query), id))
	if err == sql.ErrNoRows {
		return nil, &models.NotFoundError{Kind: "bot", ID: id}
	}
	return bot, err
}

func (p *Postgres) UpdateBot(ctx context.Context, bot *models.Bot) error {
	caps, err := json.Marshal(bot.Capabilities)
	if err != nil {
		return err
	}
	meta, err := marshalNullable(bot.Metadata)
	if err != nil {
		return err
	}

	query := `
		UPDATE bots
		SET name = ?, status = ?, capabilities = ?, metadata = ?,
		    last_seen_at = ?, updated_at = ?
		WHERE id = ?
	`
	res, err := p.db.ExecContext(ctx, rebind(query),
		bot.Name, string(bot.Status), caps, meta,
		bot.LastSeenAt, bot.UpdatedAt, bot.ID,
	)
	if err != nil {
		return err
	}
	return requireRow(res, "bot", bot.ID)
}

func (p *Postgres) DeleteBot(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, rebind(`DELETE FROM bots WHERE id = ?`), id)
	if err != nil {
		return err
	}
	return requireRow(res, "bot", id)
}

func (p *Postgres) ListBots(ctx context.Context, filter BotFilter) ([]*models.Bot, error) {
	query := `SELECT ` + botColumns + ` FROM bots WHERE 1=1`
	args := []interface{}{}

	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	if filter.Capability != "" {
		query += " AND capabilities @> ?"
		caps, _ := json.Marshal([]string{strings.ToLower(filter.Capability)})
		args = append(args, caps)
	}
	query += " ORDER BY created_at ASC"

	return p.queryBots(ctx, query, args...)
}

func (p *Postgres) AvailableBots(ctx context.Context, capability string) ([]*models.Bot, error) {
	query := `SELECT ` + botColumns + ` FROM bots WHERE status = ?`
	args := []interface{}{string(models.BotStatusOnline)}

	if capability != "" {
		query += " AND capabilities @> ?"
		caps, _ := json.Marshal([]string{strings.ToLower(capability)})
		args = append(args, caps)
	}
	// Least recently seen first so work spreads across the fleet.
	query += " ORDER BY last_seen_at ASC"

	return p.queryBots(ctx, query, args...)
}

// ClaimBot is the claim edge of task assignment: the busy-only-from-
// online compare-and-set makes concurrent claims of one bot commit
// exactly once.
func (p *Postgres) ClaimBot(ctx context.Context, id string, now time.Time) error {
	query := `UPDATE bots SET status = ?, updated_at = ? WHERE id = ? AND status = ?`
	res, err := p.db.ExecContext(ctx, rebind(query),
		string(models.BotStatusBusy), now, id, string(models.BotStatusOnline))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	bot, err := p.GetBot(ctx, id)
	if err != nil {
		return err
	}
	return &models.InvalidStateError{Action: "claim", Kind: "bot", State: string(bot.Status)}
}

func (p *Postgres) ReleaseBot(ctx context.Context, id string, now time.Time) error {
	query := `UPDATE bots SET status = ?, updated_at = ? WHERE id = ? AND status = ?`
	res, err := p.db.ExecContext(ctx, rebind(query),
		string(models.BotStatusOnline), now, id, string(models.BotStatusBusy))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	// Not busy: already released or offline. Verify it exists at all.
	_, err = p.GetBot(ctx, id)
	return err
}

func (p *Postgres) TouchBot(ctx context.Context, id string, now time.Time) error {
	query := `
		UPDATE bots
		SET last_seen_at = ?, updated_at = ?,
		    status = CASE WHEN status = ? THEN ? ELSE status END
		WHERE id = ?
	`
	res, err := p.db.ExecContext(ctx, rebind(query),
		now, now, string(models.BotStatusOffline), string(models.BotStatusOnline), id)
	if err != nil {
		return err
	}
	return requireRow(res, "bot", id)
}

func (p *Postgres) SetBotStatus(ctx context.Context, id string, status models.BotStatus, now time.Time) error {
	query := `UPDATE bots SET status = ?, last_seen_at = ?, updated_at = ? WHERE id = ?`
	res, err := p.db.ExecContext(ctx, rebind(query), string(status), now, now, id)
	if err != nil {
		return err
	}
	return requireRow(res, "bot", id)
}

func (p *Postgres) queryBots(ctx context.Context, query string, args ...interface{}) ([]*models.Bot, error) {
	rows, err := p.db.QueryContext(ctx, rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bots := []*models.Bot{}
	for rows.Next() {
		bot, err := scanBot(rows)
		if err != nil {
			return nil, err
		}
		bots = append(bots, bot)
	}
	return bots, rows.Err()
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanBot(s scanner) (*models.Bot, error) {
	bot := &models.Bot{}
	var status string
	var caps, meta []byte

	err := s.Scan(&bot.ID, &bot.Name, &status, &caps, &meta,
		&bot.LastSeenAt, &bot.CreatedAt, &bot.UpdatedAt)
	if err != nil {
		return nil, err
	}

	bot.Status = models.BotStatus(status)
	if len(caps) > 0 {
		if err := json.Unmarshal(caps, &bot.Capabilities); err != nil {
			return nil, fmt.Errorf("bot %s: bad capabilities: %w", bot.ID, err)
		}
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &bot.Metadata); err != nil {
			return nil, fmt.Errorf("bot %s: bad metadata: %w", bot.ID, err)
		}
	}
	return bot, nil
}

// --- tasks ---

const taskColumns = `id, workflow_id, title, description, payload, status, assigned_bot,
	capability, result, failure_reason, timeout_seconds,
	created_at, updated_at, assigned_at, started_at, completed_at`

func (p *Postgres) CreateTask(ctx context.Context, task *models.Task) error {
	return p.insertTask(ctx, p.db, task)
}

// execer covers *sql.DB and *sql.Tx so task inserts can join a
// workflow-creation transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (p *Postgres) insertTask(ctx context.Context, db execer, task *models.Task) error {
	payload, err := marshalNullable(task.Payload)
	if err != nil {
		return err
	}

	query := `INSERT INTO tasks (` + taskColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = db.ExecContext(ctx, rebind(query),
		task.ID, nullString(task.WorkflowID), task.Title, task.Description, payload,
		string(task.Status), nullString(task.AssignedBot), nullString(task.Capability),
		task.Result, task.FailureReason, task.TimeoutSeconds,
		task.CreatedAt, task.UpdatedAt, task.AssignedAt, task.StartedAt, task.CompletedAt,
	)
	return err
}

func (p *Postgres) GetTask(ctx context.Context, id string) (*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = ?`
	task, err := scanTask(p.db.QueryRowContext(ctx, rebind(query), id))
	if err == sql.ErrNoRows {
		return nil, &models.NotFoundError{Kind: "task", ID: id}
	}
	return task, err
}

func (p *Postgres) UpdateTask(ctx context.Context, task *models.Task) error {
	payload, err := marshalNullable(task.Payload)
	if err != nil {
		return err
	}

	query := `
		UPDATE tasks
		SET workflow_id = ?, title = ?, description = ?, payload = ?, status = ?,
		    assigned_bot = ?, capability = ?, result = ?, failure_reason = ?,
		    timeout_seconds = ?, updated_at = ?, assigned_at = ?, started_at = ?, completed_at = ?
		WHERE id = ?
	`
	res, err := p.db.ExecContext(ctx, rebind(query),
		nullString(task.WorkflowID), task.Title, task.Description, payload, string(task.Status),
		nullString(task.AssignedBot), nullString(task.Capability), task.Result, task.FailureReason,
		task.TimeoutSeconds, task.UpdatedAt, task.AssignedAt, task.StartedAt, task.CompletedAt,
		task.ID,
	)
	if err != nil {
		return err
	}
	return requireRow(res, "task", task.ID)
}

func (p *Postgres) DeleteTask(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, rebind(`DELETE FROM tasks WHERE id = ?`), id)
	if err != nil {
		return err
	}
	return requireRow(res, "task", id)
}

func (p *Postgres) ListTasks(ctx context.Context, filter TaskFilter) ([]*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE 1=1`
	args := []interface{}{}

	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	if filter.WorkflowID != "" {
		query += " AND workflow_id = ?"
		args = append(args, filter.WorkflowID)
	}
	if filter.AssignedBot != "" {
		query += " AND assigned_bot = ?"
		args = append(args, filter.AssignedBot)
	}
	query += " ORDER BY created_at ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	return p.queryTasks(ctx, query, args...)
}

func (p *Postgres) StaleTasks(ctx context.Context, now time.Time) ([]*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks
		WHERE status IN ('assigned', 'in_progress')
		  AND updated_at + make_interval(secs => timeout_seconds) < ?`
	return p.queryTasks(ctx, query, now)
}

func (p *Postgres) queryTasks(ctx context.Context, query string, args ...interface{}) ([]*models.Task, error) {
	rows, err := p.db.QueryContext(ctx, rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tasks := []*models.Task{}
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func scanTask(s scanner) (*models.Task, error) {
	task := &models.Task{}
	var status string
	var workflowID, assignedBot, capability sql.NullString
	var payload []byte
	var assignedAt, startedAt, completedAt sql.NullTime

	err := s.Scan(&task.ID, &workflowID, &task.Title, &task.Description, &payload,
		&status, &assignedBot, &capability, &task.Result, &task.FailureReason,
		&task.TimeoutSeconds, &task.CreatedAt, &task.UpdatedAt,
		&assignedAt, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	task.Status = models.TaskStatus(status)
	task.WorkflowID = workflowID.String
	task.AssignedBot = assignedBot.String
	task.Capability = capability.String
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &task.Payload); err != nil {
			return nil, fmt.Errorf("task %s: bad payload: %w", task.ID, err)
		}
	}
	task.AssignedAt = timePtr(assignedAt)
	task.StartedAt = timePtr(startedAt)
	task.CompletedAt = timePtr(completedAt)
	return task, nil
}

// --- workflows ---

const workflowColumns = "id, name, description, metadata, created_at, updated_at"

// CreateWorkflow inserts the workflow and its member tasks in one
// transaction so a failed task insert leaves nothing behind.
func (p *Postgres) CreateWorkflow(ctx context.Context, wf *models.Workflow, tasks []*models.Task) error {
	meta, err := marshalNullable(wf.Metadata)
	if err != nil {
		return err
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `INSERT INTO workflows (` + workflowColumns + `) VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, rebind(query),
		wf.ID, wf.Name, wf.Description, meta, wf.CreatedAt, wf.UpdatedAt); err != nil {
		return err
	}

	for _, task := range tasks {
		if err := p.insertTask(ctx, tx, task); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (p *Postgres) GetWorkflow(ctx context.Context, id string) (*models.Workflow, error) {
	query := `SELECT ` + workflowColumns + ` FROM workflows WHERE id = ?`
	wf, err := scanWorkflow(p.db.QueryRowContext(ctx, rebind(query), id))
	if err == sql.ErrNoRows {
		return nil, &models.NotFoundError{Kind: "workflow", ID: id}
	}
	if err != nil {
		return nil, err
	}
	if err := p.loadTaskIDs(ctx, wf); err != nil {
		return nil, err
	}
	return wf, nil
}

func (p *Postgres) UpdateWorkflow(ctx context.Context, wf *models.Workflow) error {
	meta, err := marshalNullable(wf.Metadata)
	if err != nil {
		return err
	}

	query := `UPDATE workflows SET name = ?, description = ?, metadata = ?, updated_at = ? WHERE id = ?`
	res, err := p.db.ExecContext(ctx, rebind(query),
		wf.Name, wf.Description, meta, wf.UpdatedAt, wf.ID)
	if err != nil {
		return err
	}
	return requireRow(res, "workflow", wf.ID)
}

func (p *Postgres) DeleteWorkflow(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, rebind(`DELETE FROM workflows WHERE id = ?`), id)
	if err != nil {
		return err
	}
	return requireRow(res, "workflow", id)
}

func (p *Postgres) ListWorkflows(ctx context.Context) ([]*models.Workflow, error) {
	query := `SELECT ` + workflowColumns + ` FROM workflows ORDER BY created_at ASC`
	rows, err := p.db.QueryContext(ctx, rebind(query))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	workflows := []*models.Workflow{}
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, wf)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, wf := range workflows {
		if err := p.loadTaskIDs(ctx, wf); err != nil {
			return nil, err
		}
	}
	return workflows, nil
}

// loadTaskIDs fills membership from the tasks table; tasks.workflow_id
// is the single source of truth for which tasks belong to a workflow.
func (p *Postgres) loadTaskIDs(ctx context.Context, wf *models.Workflow) error {
	query := `SELECT id FROM tasks WHERE workflow_id = ? ORDER BY created_at ASC`
	rows, err := p.db.QueryContext(ctx, rebind(query), wf.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	wf.TaskIDs = []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return err
		}
		wf.TaskIDs = append(wf.TaskIDs, id)
	}
	return rows.Err()
}

func scanWorkflow(s scanner) (*models.Workflow, error) {
	wf := &models.Workflow{}
	var meta []byte

	err := s.Scan(&wf.ID, &wf.Name, &wf.Description, &meta, &wf.CreatedAt, &wf.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &wf.Metadata); err != nil {
			return nil, fmt.Errorf("workflow %s: bad metadata: %w", wf.ID, err)
		}
	}
	return wf, nil
}

// --- helpers ---

func marshalNullable(m map[string]any) (interface{}, error) {
	if m == nil {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func requireRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &models.NotFoundError{Kind: kind, ID: id}
	}
	return nil
}
