package backtest

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"trading-tools/internal/model"
)

// Entry statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Entry is one launched backtest and, once finished, its result.
type Entry struct {
	ID         string  `json:"id"`
	Status     string  `json:"status"`
	Request    Request `json:"request"`
	Result     *Result `json:"result,omitempty"`
	CreatedAt  string  `json:"created_at"`
	FinishedAt string  `json:"finished_at,omitempty"`
}

// Registry holds backtest results in memory, keyed by UUID. Results do not
// survive a restart; callers re-run instead.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*Entry)}
}

// Launch registers a running entry and executes the backtest on its own
// goroutine. The returned entry snapshot carries the handle to poll with.
func (r *Registry) Launch(ctx context.Context, runner *Runner, req Request) *Entry {
	e := &Entry{
		ID:        uuid.NewString(),
		Status:    StatusRunning,
		Request:   req,
		CreatedAt: model.NowISO(),
	}
	r.mu.Lock()
	r.entries[e.ID] = e
	snap := *e
	r.mu.Unlock()

	go func() {
		res, err := runner.Run(ctx, req)
		r.mu.Lock()
		defer r.mu.Unlock()
		e.FinishedAt = model.NowISO()
		if err != nil {
			e.Status = StatusFailed
			e.Result = &Result{Error: err.Error()}
			return
		}
		e.Status = StatusCompleted
		if res.Error != "" {
			e.Status = StatusFailed
		}
		e.Result = res
	}()
	return &snap
}

// Get returns a snapshot of the entry, or ErrNotFound.
func (r *Registry) Get(id string) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	snap := *e
	return &snap, nil
}

// List returns snapshots of all entries, unordered.
func (r *Registry) List() []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		snap := *e
		out = append(out, &snap)
	}
	return out
}
