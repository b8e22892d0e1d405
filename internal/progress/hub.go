// Package progress fans job state changes out to event stream subscribers.
package progress

import (
	"context"
	"sync"
	"time"
)

// Snapshot is the most recent state of one job, as published by a worker or
// the HTTP layer. Sequence increases monotonically across all jobs so
// subscribers can detect changes without comparing fields.
type Snapshot struct {
	Sequence        uint64    `json:"-"`
	Status          string    `json:"status"`
	Stage           string    `json:"stage,omitempty"`
	Percent         float64   `json:"percent"`
	Message         string    `json:"message,omitempty"`
	DownloadedBytes int64     `json:"downloaded_bytes,omitempty"`
	TotalBytes      int64     `json:"total_bytes,omitempty"`
	ETASeconds      int64     `json:"eta_seconds,omitempty"`
	Error           string    `json:"error,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Hub stores the latest snapshot per job token and wakes waiters when a job
// changes. Unlike a log buffer it keeps only the newest state: event stream
// clients care about where a job is now, not its history.
type Hub struct {
	mu      sync.Mutex
	cond    *sync.Cond
	jobs    map[string]Snapshot
	nextSeq uint64
}

// NewHub constructs an empty hub.
func NewHub() *Hub {
	h := &Hub{jobs: make(map[string]Snapshot)}
	h.cond = sync.NewCond(&h.mu)
	return h
}

// Publish records the latest snapshot for token and wakes all waiters.
func (h *Hub) Publish(token string, snap Snapshot) {
	if h == nil || token == "" {
		return
	}
	h.mu.Lock()
	h.nextSeq++
	snap.Sequence = h.nextSeq
	if snap.UpdatedAt.IsZero() {
		snap.UpdatedAt = time.Now().UTC()
	}
	h.jobs[token] = snap
	h.cond.Broadcast()
	h.mu.Unlock()
}

// Latest returns the current snapshot for token without blocking.
func (h *Hub) Latest(token string) (Snapshot, bool) {
	if h == nil {
		return Snapshot{}, false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	snap, ok := h.jobs[token]
	return snap, ok
}

// Await blocks until token has a snapshot newer than since or the context
// ends. It returns the new snapshot and its presence; callers typically poll
// the store as a fallback when the job is not in the hub at all.
func (h *Hub) Await(ctx context.Context, token string, since uint64) (Snapshot, bool, error) {
	if h == nil {
		return Snapshot{}, false, nil
	}

	cancelWait := make(chan struct{})
	if ctx != nil && ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				h.cond.Broadcast()
			case <-cancelWait:
			}
		}()
	}
	defer close(cancelWait)

	h.mu.Lock()
	defer h.mu.Unlock()

	for {
		if snap, ok := h.jobs[token]; ok && snap.Sequence > since {
			return snap, true, contextError(ctx)
		}
		if err := contextError(ctx); err != nil {
			return Snapshot{}, false, err
		}
		h.cond.Wait()
		if err := contextError(ctx); err != nil {
			return Snapshot{}, false, err
		}
	}
}

// Forget drops the snapshot for token. Called when a job's files are swept.
func (h *Hub) Forget(token string) {
	if h == nil {
		return
	}
	h.mu.Lock()
	delete(h.jobs, token)
	h.cond.Broadcast()
	h.mu.Unlock()
}

func contextError(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	return ctx.Err()
}
