package store

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/nidhogg/nuka-mind/internal/thought"
)

// MemoryStore is an in-process Persistence used for development and tests.
// The mutex only guards map access; it is never held across caller code.
type MemoryStore struct {
	mu        sync.Mutex
	tasks     map[string]*thought.Task
	thoughts  map[string]*thought.Thought
	deferrals map[string]*thought.DeferralReport
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks:     make(map[string]*thought.Task),
		thoughts:  make(map[string]*thought.Thought),
		deferrals: make(map[string]*thought.DeferralReport),
	}
}

var _ thought.Persistence = (*MemoryStore)(nil)

func (m *MemoryStore) AddTask(_ context.Context, task *thought.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[task.ID]; ok {
		return fmt.Errorf("add task %s: %w", task.ID, thought.ErrDuplicateKey)
	}
	m.tasks[task.ID] = cloneTask(task)
	return nil
}

func (m *MemoryStore) GetTask(_ context.Context, taskID string) (*thought.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("get task %s: %w", taskID, thought.ErrNotFound)
	}
	return cloneTask(t), nil
}

func (m *MemoryStore) UpdateTaskStatus(_ context.Context, taskID string, status thought.TaskStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return fmt.Errorf("update task %s: %w", taskID, thought.ErrNotFound)
	}
	t.Status = status
	t.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) AddThought(_ context.Context, th *thought.Thought) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.thoughts[th.ID]; ok {
		return fmt.Errorf("add thought %s: %w", th.ID, thought.ErrDuplicateKey)
	}
	m.thoughts[th.ID] = cloneThought(th)
	return nil
}

func (m *MemoryStore) GetThought(_ context.Context, thoughtID string) (*thought.Thought, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	th, ok := m.thoughts[thoughtID]
	if !ok {
		return nil, fmt.Errorf("get thought %s: %w", thoughtID, thought.ErrNotFound)
	}
	return cloneThought(th), nil
}

func (m *MemoryStore) ChildThoughts(_ context.Context, thoughtID string) ([]*thought.Thought, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*thought.Thought
	for _, th := range m.thoughts {
		if th.ParentThoughtID == thoughtID {
			out = append(out, cloneThought(th))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) ClaimThought(_ context.Context, thoughtID string) (*thought.Thought, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	th, ok := m.thoughts[thoughtID]
	if !ok {
		return nil, fmt.Errorf("claim thought %s: %w", thoughtID, thought.ErrNotFound)
	}
	if th.Status != thought.StatusPending {
		return nil, fmt.Errorf("claim thought %s: %w", thoughtID, thought.ErrClaimConflict)
	}
	th.Status = thought.StatusProcessing
	th.UpdatedAt = time.Now().UTC()
	return cloneThought(th), nil
}

func (m *MemoryStore) ClaimNextThought(_ context.Context) (*thought.Thought, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *thought.Thought
	for _, th := range m.thoughts {
		if th.Status != thought.StatusPending || !m.claimableTask(th.SourceTaskID) {
			continue
		}
		if best == nil || before(th, best) {
			best = th
		}
	}
	if best == nil {
		return nil, thought.ErrNoClaimableThought
	}
	best.Status = thought.StatusProcessing
	best.UpdatedAt = time.Now().UTC()
	return cloneThought(best), nil
}

func (m *MemoryStore) claimableTask(taskID string) bool {
	t, ok := m.tasks[taskID]
	return ok && (t.Status == thought.TaskPending || t.Status == thought.TaskActive)
}

// before orders by priority desc, then round_created asc, then creation time.
func before(a, b *thought.Thought) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if a.RoundCreated != b.RoundCreated {
		return a.RoundCreated < b.RoundCreated
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

func (m *MemoryStore) RequeueThought(_ context.Context, thoughtID string, cycleAttempts int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	th, ok := m.thoughts[thoughtID]
	if !ok {
		return fmt.Errorf("requeue thought %s: %w", thoughtID, thought.ErrNotFound)
	}
	if err := thought.Transition(th.Status, thought.StatusPending); err != nil {
		return fmt.Errorf("requeue thought %s: %w", thoughtID, err)
	}
	th.Status = thought.StatusPending
	th.CycleAttempts = cycleAttempts
	th.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) UpdateThoughtStatus(_ context.Context, thoughtID string, status thought.Status, result *thought.ActionSelectionResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	th, ok := m.thoughts[thoughtID]
	if !ok {
		return fmt.Errorf("update thought %s: %w", thoughtID, thought.ErrNotFound)
	}
	if th.Status == status {
		return nil
	}
	if err := thought.Transition(th.Status, status); err != nil {
		return fmt.Errorf("update thought %s: %w", thoughtID, err)
	}
	th.Status = status
	th.FinalAction = result.Clone()
	th.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) SaveDeferralReportMapping(_ context.Context, messageID, taskID, thoughtID string, pkg *thought.DeferralPackage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := &thought.DeferralReport{
		MessageID: messageID,
		TaskID:    taskID,
		ThoughtID: thoughtID,
		Package:   clonePackage(pkg),
	}
	if old, ok := m.deferrals[messageID]; ok {
		r.ResolvedBy, r.Resolution, r.ResolvedAt = old.ResolvedBy, old.Resolution, old.ResolvedAt
	}
	m.deferrals[messageID] = r
	return nil
}

func (m *MemoryStore) GetDeferralReportContext(_ context.Context, messageID string) (*thought.DeferralReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.deferrals[messageID]
	if !ok {
		return nil, fmt.Errorf("deferral %s: %w", messageID, thought.ErrNotFound)
	}
	return cloneReport(r), nil
}

func (m *MemoryStore) ResolveDeferral(_ context.Context, messageID, waID, resolution string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.deferrals[messageID]
	if !ok {
		return fmt.Errorf("resolve deferral %s: %w", messageID, thought.ErrNotFound)
	}
	if r.ResolvedBy != "" {
		return fmt.Errorf("resolve deferral %s: %w by %s", messageID, thought.ErrAlreadyResolved, r.ResolvedBy)
	}
	at = at.UTC()
	r.ResolvedBy = waID
	r.Resolution = resolution
	r.ResolvedAt = &at
	return nil
}

func (m *MemoryStore) RecoverStale(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	now := time.Now().UTC()
	for _, th := range m.thoughts {
		if th.Status == thought.StatusProcessing && th.UpdatedAt.Before(cutoff) {
			th.Status = thought.StatusPending
			th.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

func cloneTask(t *thought.Task) *thought.Task {
	cp := *t
	cp.Context = maps.Clone(t.Context)
	return &cp
}

func cloneThought(th *thought.Thought) *thought.Thought {
	cp := *th
	cp.ProcessingContext = maps.Clone(th.ProcessingContext)
	cp.FinalAction = th.FinalAction.Clone()
	return &cp
}

func cloneReport(r *thought.DeferralReport) *thought.DeferralReport {
	cp := *r
	cp.Package = clonePackage(r.Package)
	if r.ResolvedAt != nil {
		at := *r.ResolvedAt
		cp.ResolvedAt = &at
	}
	return &cp
}

func clonePackage(p *thought.DeferralPackage) *thought.DeferralPackage {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Context = maps.Clone(p.Context)
	if p.DeferUntil != nil {
		t := *p.DeferUntil
		cp.DeferUntil = &t
	}
	return &cp
}
