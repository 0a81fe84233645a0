package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var _ Scheduler = (*Memory)(nil)

type entry struct {
	job     Job
	visible time.Time
}

// Memory is an in-process Scheduler.
type Memory struct {
	mu      sync.Mutex
	jobs    map[string]*entry
	current map[string]string
}

// NewMemory returns an empty in-process scheduler.
func NewMemory() *Memory {
	return &Memory{jobs: make(map[string]*entry), current: make(map[string]string)}
}

// Schedule implements Scheduler.
func (m *Memory) Schedule(_ context.Context, job Job) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = &entry{job: job, visible: job.RunAt}
	if k := job.SupersedeKey(); k != "" {
		m.current[k] = job.ID
	}
	return nil
}

// Due implements Scheduler.
func (m *Memory) Due(_ context.Context, now time.Time, limit int, lease time.Duration) ([]Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ready []*entry
	for _, e := range m.jobs {
		if !e.visible.After(now) {
			ready = append(ready, e)
		}
	}
	sort.Slice(ready, func(i, j int) bool {
		if !ready[i].visible.Equal(ready[j].visible) {
			return ready[i].visible.Before(ready[j].visible)
		}
		return ready[i].job.ID < ready[j].job.ID
	})
	if limit > 0 && len(ready) > limit {
		ready = ready[:limit]
	}
	out := make([]Job, len(ready))
	for i, e := range ready {
		e.visible = now.Add(lease)
		out[i] = e.job
	}
	return out, nil
}

// Ack implements Scheduler.
func (m *Memory) Ack(_ context.Context, job Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, job.ID)
	if k := job.SupersedeKey(); k != "" && m.current[k] == job.ID {
		delete(m.current, k)
	}
	return nil
}

// Current implements Scheduler.
func (m *Memory) Current(_ context.Context, job Job) (bool, error) {
	k := job.SupersedeKey()
	if k == "" {
		return true, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current[k] == job.ID, nil
}

// Pending implements Scheduler.
func (m *Memory) Pending(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs), nil
}

// Close implements Scheduler.
func (m *Memory) Close() error { return nil }
