// Package sweeper fails tasks whose bot went quiet past the task's own
// timeout. It is the single authority for timing work out: a dropped
// connection or a crashed bot never fails a task directly, it just
// leaves the task here to expire.
package sweeper

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/clawbot/coordinator/internal/coordinator"
	"github.com/clawbot/coordinator/internal/database"
	"github.com/clawbot/coordinator/internal/metrics"
	"github.com/clawbot/coordinator/pkg/models"
)

// DefaultInterval is the sweep cadence used when none is configured.
const DefaultInterval = 30 * time.Second

// Sweeper periodically expires live tasks that exceeded their timeout.
type Sweeper struct {
	store   database.Store
	coord   *coordinator.Coordinator
	metrics *metrics.Metrics

	mu       sync.Mutex
	interval time.Duration
}

// New creates a sweeper. A zero interval takes DefaultInterval.
func New(store database.Store, coord *coordinator.Coordinator, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Sweeper{
		store:    store,
		coord:    coord,
		metrics:  metrics.New(),
		interval: interval,
	}
}

// SetInterval adjusts the sweep cadence. The running loop picks the
// change up after its next tick; config hot reload calls this.
func (s *Sweeper) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	s.interval = d
	s.mu.Unlock()
}

func (s *Sweeper) currentInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// Run sweeps on the configured cadence until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	interval := s.currentInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("[Sweeper] started, interval %s", interval)
	for {
		select {
		case <-ctx.Done():
			log.Printf("[Sweeper] stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
			if next := s.currentInterval(); next != interval {
				interval = next
				ticker.Reset(interval)
				log.Printf("[Sweeper] interval now %s", interval)
			}
		}
	}
}

// Sweep runs one pass and returns how many tasks it expired. Each
// candidate is re-checked under the task lock, so a completion that
// lands between the query and the expiry wins and is left alone. Store
// errors are logged and the pass moves on; a sweep never takes the
// process down.
func (s *Sweeper) Sweep(ctx context.Context) int {
	s.metrics.SweepsTotal.Inc()
	now := time.Now().UTC()

	stale, err := s.store.StaleTasks(ctx, now)
	if err != nil {
		s.metrics.SweepFailures.Inc()
		log.Printf("[Sweeper] stale query: %v", err)
		return 0
	}

	expired := 0
	for _, task := range stale {
		if err := s.coord.ExpireTask(ctx, task.ID, now); err != nil {
			if models.IsInvalidState(err) || models.IsNotFound(err) {
				// The bot reported or the task was removed since the
				// query; its outcome stands.
				continue
			}
			s.metrics.SweepFailures.Inc()
			log.Printf("[Sweeper] expire task %s: %v", task.ID, err)
			continue
		}
		expired++
	}

	if expired > 0 {
		log.Printf("[Sweeper] expired %d stale tasks", expired)
	}
	return expired
}
