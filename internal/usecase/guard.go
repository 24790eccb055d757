package usecase

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/example/latency-dashboard/internal/apperror"
)

// CycleState is where a partition's fetch cycle currently is.
type CycleState string

const (
	StateIdle        CycleState = "idle"
	StateFetching    CycleState = "fetching"
	StateAggregating CycleState = "aggregating"
	StateFailed      CycleState = "failed"
)

// Locker is an optional cross-process lock taken in addition to the in-process guard.
type Locker interface {
	TryLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key, owner string) error
}

// InFlight describes a running cycle.
type InFlight struct {
	Date      string     `json:"date"`
	Type      string     `json:"type"`
	RunID     string     `json:"run_id"`
	State     CycleState `json:"state"`
	StartedAt time.Time  `json:"started_at"`
}

// PartitionGuard admits at most one writer per (date, type) partition.
// It starts empty and lives only in process memory; a restart mid-cycle simply leaves
// the partition free for a retry.
type PartitionGuard struct {
	mu       sync.Mutex
	inflight map[string]*InFlight
	locker   Locker
	lockTTL  time.Duration
	clock    func() time.Time
	logger   *zap.Logger
}

// NewPartitionGuard builds a guard. locker may be nil.
func NewPartitionGuard(locker Locker, lockTTL time.Duration, logger *zap.Logger) *PartitionGuard {
	return &PartitionGuard{
		inflight: make(map[string]*InFlight),
		locker:   locker,
		lockTTL:  lockTTL,
		clock:    time.Now,
		logger:   logger.Named("partition_guard"),
	}
}

// Ticket is held by the cycle that owns a partition.
type Ticket struct {
	guard    *PartitionGuard
	key      string
	runID    string
	once     sync.Once
	external bool
}

func partitionKey(date, metricType string) string {
	return metricType + "/" + date
}

// Acquire claims the partition for runID or fails with PartitionBusy.
func (g *PartitionGuard) Acquire(ctx context.Context, date, metricType, runID string) (*Ticket, error) {
	key := partitionKey(date, metricType)

	g.mu.Lock()
	if current, busy := g.inflight[key]; busy {
		g.mu.Unlock()
		return nil, apperror.New(apperror.KindBusy, "a cycle for %s (type %s) is already %s (run %s)", date, metricType, current.State, current.RunID)
	}
	g.inflight[key] = &InFlight{Date: date, Type: metricType, RunID: runID, State: StateIdle, StartedAt: g.clock().UTC()}
	g.mu.Unlock()

	ticket := &Ticket{guard: g, key: key, runID: runID}
	if g.locker != nil {
		ok, err := g.locker.TryLock(ctx, lockKey(key), runID, g.lockTTL)
		if err != nil {
			g.remove(key)
			return nil, apperror.Wrap(apperror.KindStore, err, "acquire partition lock")
		}
		if !ok {
			g.remove(key)
			return nil, apperror.New(apperror.KindBusy, "a cycle for %s (type %s) is running in another process", date, metricType)
		}
		ticket.external = true
	}
	return ticket, nil
}

// InFlight lists running cycles ordered by type then date.
func (g *PartitionGuard) InFlight() []InFlight {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]InFlight, 0, len(g.inflight))
	for _, entry := range g.inflight {
		out = append(out, *entry)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].Date < out[j].Date
	})
	return out
}

func (g *PartitionGuard) setState(key string, state CycleState) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if entry, ok := g.inflight[key]; ok {
		entry.State = state
	}
}

func (g *PartitionGuard) remove(key string) {
	g.mu.Lock()
	delete(g.inflight, key)
	g.mu.Unlock()
}

// SetState records the cycle's progress.
func (t *Ticket) SetState(state CycleState) {
	t.guard.setState(t.key, state)
}

// Release frees the partition. Safe to call more than once.
func (t *Ticket) Release() {
	t.once.Do(func() {
		t.guard.remove(t.key)
		if t.external {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := t.guard.locker.Unlock(ctx, lockKey(t.key), t.runID); err != nil {
				t.guard.logger.Warn("failed to release partition lock", zap.String("partition", t.key), zap.Error(err))
			}
		}
	})
}

func lockKey(key string) string {
	return "latency:partition-lock:" + key
}
