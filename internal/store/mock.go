package store

import (
	"context"
	"sort"
	"sync"

	"github.com/nadmax/siteqa/internal/task"
)

// MockStore is an in-memory TaskStore with call tracking for tests.
type MockStore struct {
	mu          sync.Mutex
	Tasks       map[string]*task.Task
	CreateCalls []string
	GetCalls    []string
	UpdateCalls []UpdateCall
	DeleteCalls []string

	CreateError error
	GetError    error
	ListError   error
	UpdateError error
	DeleteError error
}

type UpdateCall struct {
	ID     string
	Update Update
}

func NewMockStore() *MockStore {
	return &MockStore{
		Tasks: make(map[string]*task.Task),
	}
}

func (m *MockStore) Create(ctx context.Context, t *task.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CreateCalls = append(m.CreateCalls, t.ID)
	if m.CreateError != nil {
		return m.CreateError
	}

	clone := *t
	m.Tasks[t.ID] = &clone
	return nil
}

func (m *MockStore) Get(ctx context.Context, id string) (*task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.GetCalls = append(m.GetCalls, id)
	if m.GetError != nil {
		return nil, m.GetError
	}

	t, ok := m.Tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *t
	return &clone, nil
}

func (m *MockStore) ListByOwner(ctx context.Context, ownerID string) ([]*task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ListError != nil {
		return nil, m.ListError
	}

	tasks := make([]*task.Task, 0)
	for _, t := range m.Tasks {
		if t.OwnerID == ownerID {
			clone := *t
			tasks = append(tasks, &clone)
		}
	}
	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
	})
	return tasks, nil
}

func (m *MockStore) Update(ctx context.Context, id string, u Update) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.UpdateCalls = append(m.UpdateCalls, UpdateCall{ID: id, Update: u})
	if m.UpdateError != nil {
		return m.UpdateError
	}

	t, ok := m.Tasks[id]
	if !ok {
		return ErrNotFound
	}

	if u.Status != nil {
		t.Status = *u.Status
	}
	switch {
	case u.Answer != nil:
		t.Answer = u.Answer
	case u.ClearAnswer:
		t.Answer = nil
	}
	switch {
	case u.Extraction != nil:
		t.Extraction = u.Extraction
	case u.ClearExtraction:
		t.Extraction = nil
	}
	switch {
	case u.Error != nil:
		t.Error = u.Error
	case u.ClearError:
		t.Error = nil
	}
	return nil
}

func (m *MockStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.DeleteCalls = append(m.DeleteCalls, id)
	if m.DeleteError != nil {
		return m.DeleteError
	}

	if _, ok := m.Tasks[id]; !ok {
		return ErrNotFound
	}
	delete(m.Tasks, id)
	return nil
}

func (m *MockStore) Close() error {
	return nil
}

// TaskStatus returns the current status of a task, for assertions.
func (m *MockStore) TaskStatus(id string) (task.Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.Tasks[id]
	if !ok {
		return "", false
	}
	return t.Status, true
}

// UpdateCallCount returns how many partial updates were issued.
func (m *MockStore) UpdateCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.UpdateCalls)
}
