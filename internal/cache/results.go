package cache

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/clawbot/coordinator/internal/metrics"
	"github.com/clawbot/coordinator/pkg/models"
)

// Results caches terminal tasks so reads of finished work skip the
// store. Non-terminal tasks are never cached; their status changes.
type Results struct {
	backend Backend
	ttl     time.Duration
	metrics *metrics.Metrics
}

// NewResults wraps a backend as a task result cache. A zero ttl takes
// a default of one hour.
func NewResults(backend Backend, ttl time.Duration) *Results {
	if backend == nil {
		backend = Noop{}
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Results{backend: backend, ttl: ttl, metrics: metrics.New()}
}

func taskKey(id string) string { return "task:" + id }

// GetTask returns a cached terminal task, or (nil, false) on a miss.
func (r *Results) GetTask(ctx context.Context, id string) (*models.Task, bool) {
	data, ok := r.backend.Get(ctx, taskKey(id))
	if !ok {
		r.metrics.CacheMisses.Inc()
		return nil, false
	}

	var task models.Task
	if err := json.Unmarshal(data, &task); err != nil {
		log.Printf("[Cache] bad cached task %s, evicting: %v", id, err)
		r.backend.Delete(ctx, taskKey(id))
		r.metrics.CacheMisses.Inc()
		return nil, false
	}
	r.metrics.CacheHits.Inc()
	return &task, true
}

// StoreTask caches a task if it is terminal; anything else is ignored.
func (r *Results) StoreTask(ctx context.Context, task *models.Task) {
	if task == nil || !task.Status.Terminal() {
		return
	}
	data, err := json.Marshal(task)
	if err != nil {
		return
	}
	if err := r.backend.Set(ctx, taskKey(task.ID), data, r.ttl); err != nil {
		log.Printf("[Cache] store task %s: %v", task.ID, err)
	}
}

// Invalidate drops a task from the cache. Used when a task is deleted.
func (r *Results) Invalidate(ctx context.Context, id string) {
	r.backend.Delete(ctx, taskKey(id))
}

// Close releases the underlying backend.
func (r *Results) Close() error {
	return r.backend.Close()
}
