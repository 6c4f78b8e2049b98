package database

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/clawbot/coordinator/pkg/models"
)

// Memory is an in-process Store used for tests and single-node
// development. Entities are copied on the way in and out so callers
// never share mutable state with the store.
type Memory struct {
	mu        sync.RWMutex
	bots      map[string]*models.Bot
	tasks     map[string]*models.Task
	workflows map[string]*models.Workflow
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		bots:      make(map[string]*models.Bot),
		tasks:     make(map[string]*models.Task),
		workflows: make(map[string]*models.Workflow),
	}
}

func (m *Memory) Ping(ctx context.Context) error { return nil }
func (m *Memory) Close() error                   { return nil }

// --- bots ---

func (m *Memory) CreateBot(ctx context.Context, bot *models.Bot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bots[bot.ID] = copyBot(bot)
	return nil
}

func (m *Memory) GetBot(ctx context.Context, id string) (*models.Bot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bot, ok := m.bots[id]
	if !ok {
		return nil, &models.NotFoundError{Kind: "bot", ID: id}
	}
	return copyBot(bot), nil
}

func (m *Memory) UpdateBot(ctx context.Context, bot *models.Bot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bots[bot.ID]; !ok {
		return &models.NotFoundError{Kind: "bot", ID: bot.ID}
	}
	m.bots[bot.ID] = copyBot(bot)
	return nil
}

func (m *Memory) DeleteBot(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bots[id]; !ok {
		return &models.NotFoundError{Kind: "bot", ID: id}
	}
	delete(m.bots, id)
	return nil
}

func (m *Memory) ClaimBot(ctx context.Context, id string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	bot, ok := m.bots[id]
	if !ok {
		return &models.NotFoundError{Kind: "bot", ID: id}
	}
	if bot.Status != models.BotStatusOnline {
		return &models.InvalidStateError{Action: "claim", Kind: "bot", State: string(bot.Status)}
	}
	bot.Status = models.BotStatusBusy
	bot.UpdatedAt = now
	return nil
}

func (m *Memory) ReleaseBot(ctx context.Context, id string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	bot, ok := m.bots[id]
	if !ok {
		return &models.NotFoundError{Kind: "bot", ID: id}
	}
	if bot.Status == models.BotStatusBusy {
		bot.Status = models.BotStatusOnline
		bot.UpdatedAt = now
	}
	return nil
}

func (m *Memory) TouchBot(ctx context.Context, id string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	bot, ok := m.bots[id]
	if !ok {
		return &models.NotFoundError{Kind: "bot", ID: id}
	}
	if bot.Status == models.BotStatusOffline {
		bot.Status = models.BotStatusOnline
	}
	bot.LastSeenAt = now
	bot.UpdatedAt = now
	return nil
}

func (m *Memory) SetBotStatus(ctx context.Context, id string, status models.BotStatus, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	bot, ok := m.bots[id]
	if !ok {
		return &models.NotFoundError{Kind: "bot", ID: id}
	}
	bot.Status = status
	bot.LastSeenAt = now
	bot.UpdatedAt = now
	return nil
}

func (m *Memory) ListBots(ctx context.Context, filter BotFilter) ([]*models.Bot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	bots := []*models.Bot{}
	for _, bot := range m.bots {
		if filter.Status != "" && bot.Status != filter.Status {
			continue
		}
		if !bot.HasCapability(filter.Capability) {
			continue
		}
		bots = append(bots, copyBot(bot))
	}
	sort.Slice(bots, func(i, j int) bool { return bots[i].CreatedAt.Before(bots[j].CreatedAt) })
	return bots, nil
}

func (m *Memory) AvailableBots(ctx context.Context, capability string) ([]*models.Bot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	bots := []*models.Bot{}
	for _, bot := range m.bots {
		if bot.Status != models.BotStatusOnline {
			continue
		}
		if !bot.HasCapability(capability) {
			continue
		}
		bots = append(bots, copyBot(bot))
	}
	sort.Slice(bots, func(i, j int) bool { return bots[i].LastSeenAt.Before(bots[j].LastSeenAt) })
	return bots, nil
}

// --- tasks ---

func (m *Memory) CreateTask(ctx context.Context, task *models.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[task.ID] = copyTask(task)
	return nil
}

func (m *Memory) GetTask(ctx context.Context, id string) (*models.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	task, ok := m.tasks[id]
	if !ok {
		return nil, &models.NotFoundError{Kind: "task", ID: id}
	}
	return copyTask(task), nil
}

func (m *Memory) UpdateTask(ctx context.Context, task *models.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[task.ID]; !ok {
		return &models.NotFoundError{Kind: "task", ID: task.ID}
	}
	m.tasks[task.ID] = copyTask(task)
	return nil
}

func (m *Memory) DeleteTask(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[id]; !ok {
		return &models.NotFoundError{Kind: "task", ID: id}
	}
	delete(m.tasks, id)
	return nil
}

func (m *Memory) ListTasks(ctx context.Context, filter TaskFilter) ([]*models.Task, error) {
	m.mu.RLock()
	tasks := []*models.Task{}
	for _, task := range m.tasks {
		if filter.Status != "" && task.Status != filter.Status {
			continue
		}
		if filter.WorkflowID != "" && task.WorkflowID != filter.WorkflowID {
			continue
		}
		if filter.AssignedBot != "" && task.AssignedBot != filter.AssignedBot {
			continue
		}
		tasks = append(tasks, copyTask(task))
	}
	m.mu.RUnlock()

	sort.Slice(tasks, func(i, j int) bool { return tasks[i].CreatedAt.Before(tasks[j].CreatedAt) })

	if filter.Offset > 0 {
		if filter.Offset >= len(tasks) {
			return []*models.Task{}, nil
		}
		tasks = tasks[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(tasks) {
		tasks = tasks[:filter.Limit]
	}
	return tasks, nil
}

func (m *Memory) StaleTasks(ctx context.Context, now time.Time) ([]*models.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tasks := []*models.Task{}
	for _, task := range m.tasks {
		if task.Stale(now) {
			tasks = append(tasks, copyTask(task))
		}
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].CreatedAt.Before(tasks[j].CreatedAt) })
	return tasks, nil
}

// --- workflows ---

func (m *Memory) CreateWorkflow(ctx context.Context, wf *models.Workflow, tasks []*models.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workflows[wf.ID] = copyWorkflow(wf)
	for _, task := range tasks {
		m.tasks[task.ID] = copyTask(task)
	}
	return nil
}

func (m *Memory) GetWorkflow(ctx context.Context, id string) (*models.Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	wf, ok := m.workflows[id]
	if !ok {
		return nil, &models.NotFoundError{Kind: "workflow", ID: id}
	}
	out := copyWorkflow(wf)
	m.fillTaskIDs(out)
	return out, nil
}

func (m *Memory) UpdateWorkflow(ctx context.Context, wf *models.Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.workflows[wf.ID]; !ok {
		return &models.NotFoundError{Kind: "workflow", ID: wf.ID}
	}
	m.workflows[wf.ID] = copyWorkflow(wf)
	return nil
}

func (m *Memory) DeleteWorkflow(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.workflows[id]; !ok {
		return &models.NotFoundError{Kind: "workflow", ID: id}
	}
	delete(m.workflows, id)
	for _, task := range m.tasks {
		if task.WorkflowID == id {
			task.WorkflowID = ""
		}
	}
	return nil
}

func (m *Memory) ListWorkflows(ctx context.Context) ([]*models.Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	workflows := []*models.Workflow{}
	for _, wf := range m.workflows {
		out := copyWorkflow(wf)
		m.fillTaskIDs(out)
		workflows = append(workflows, out)
	}
	sort.Slice(workflows, func(i, j int) bool {
		return workflows[i].CreatedAt.Before(workflows[j].CreatedAt)
	})
	return workflows, nil
}

// fillTaskIDs derives membership from task.WorkflowID, matching the
// Postgres implementation. Callers hold m.mu.
func (m *Memory) fillTaskIDs(wf *models.Workflow) {
	members := []*models.Task{}
	for _, task := range m.tasks {
		if task.WorkflowID == wf.ID {
			members = append(members, task)
		}
	}
	sort.Slice(members, func(i, j int) bool { return members[i].CreatedAt.Before(members[j].CreatedAt) })
	wf.TaskIDs = make([]string, len(members))
	for i, task := range members {
		wf.TaskIDs[i] = task.ID
	}
}

// --- copies ---

func copyBot(b *models.Bot) *models.Bot {
	out := *b
	out.Capabilities = append([]string(nil), b.Capabilities...)
	out.Metadata = copyMap(b.Metadata)
	return &out
}

func copyTask(t *models.Task) *models.Task {
	out := *t
	out.Payload = copyMap(t.Payload)
	out.AssignedAt = copyTime(t.AssignedAt)
	out.StartedAt = copyTime(t.StartedAt)
	out.CompletedAt = copyTime(t.CompletedAt)
	return &out
}

func copyWorkflow(w *models.Workflow) *models.Workflow {
	out := *w
	out.TaskIDs = append([]string(nil), w.TaskIDs...)
	out.Metadata = copyMap(w.Metadata)
	return &out
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
