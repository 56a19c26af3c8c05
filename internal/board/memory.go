package board

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	goerrors "github.com/opengoat/opengoat/internal/common/errors"
)

// MemoryStore provides an in-memory task board store, for tests and for
// embedding without a sqlite dependency.
type MemoryStore struct {
	mu        sync.RWMutex
	boards    map[string]*Board
	tasks     map[string]*Task
	blockers  map[string][]Blocker
	artifacts map[string][]Artifact
	worklog   map[string][]WorklogEntry
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		boards:    make(map[string]*Board),
		tasks:     make(map[string]*Task),
		blockers:  make(map[string][]Blocker),
		artifacts: make(map[string][]Artifact),
		worklog:   make(map[string][]WorklogEntry),
	}
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) CreateBoard(ctx context.Context, b *Board) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	b.CreatedAt = time.Now().UTC()
	cp := *b
	s.boards[b.ID] = &cp
	return nil
}

func (s *MemoryStore) GetBoard(ctx context.Context, id string) (*Board, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.boards[id]
	if !ok {
		return nil, goerrors.NotFound("board", id)
	}
	cp := *b
	return &cp, nil
}

func (s *MemoryStore) UpdateBoard(ctx context.Context, b *Board) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.boards[b.ID]; !ok {
		return goerrors.NotFound("board", b.ID)
	}
	cp := *b
	s.boards[b.ID] = &cp
	return nil
}

func (s *MemoryStore) ListBoards(ctx context.Context, filter ListBoardsFilter) ([]*Board, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Board, 0, len(s.boards))
	for _, b := range s.boards {
		if filter.OwnerFilter != "" && b.Owner != filter.OwnerFilter {
			continue
		}
		cp := *b
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (s *MemoryStore) CreateTask(ctx context.Context, t *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now
	cp := *t
	s.tasks[t.ID] = &cp
	return nil
}

func (s *MemoryStore) GetTask(ctx context.Context, id string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, goerrors.NotFound("task", id)
	}
	cp := *t
	cp.Blockers = append([]Blocker(nil), s.blockers[id]...)
	cp.Artifacts = append([]Artifact(nil), s.artifacts[id]...)
	cp.Worklog = append([]WorklogEntry(nil), s.worklog[id]...)
	return &cp, nil
}

func (s *MemoryStore) UpdateTaskStatus(ctx context.Context, id string, status Status, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return goerrors.NotFound("task", id)
	}
	t.Status = status
	t.StatusReason = reason
	t.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) ListTasks(ctx context.Context, filter ListTasksFilter) ([]*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Task
	for _, t := range s.tasks {
		if filter.BoardID != "" && t.BoardID != filter.BoardID {
			continue
		}
		if filter.AssigneeFilter != "" && t.AssignedTo != filter.AssigneeFilter {
			continue
		}
		cp := *t
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (s *MemoryStore) AddTaskBlocker(ctx context.Context, b Blocker) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[b.TaskID]; !ok {
		return goerrors.NotFound("task", b.TaskID)
	}
	b.Index = len(s.blockers[b.TaskID])
	s.blockers[b.TaskID] = append(s.blockers[b.TaskID], b)
	return nil
}

func (s *MemoryStore) AddTaskArtifact(ctx context.Context, a Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[a.TaskID]; !ok {
		return goerrors.NotFound("task", a.TaskID)
	}
	a.Index = len(s.artifacts[a.TaskID])
	s.artifacts[a.TaskID] = append(s.artifacts[a.TaskID], a)
	return nil
}

func (s *MemoryStore) AddTaskWorklog(ctx context.Context, w WorklogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[w.TaskID]; !ok {
		return goerrors.NotFound("task", w.TaskID)
	}
	w.Index = len(s.worklog[w.TaskID])
	s.worklog[w.TaskID] = append(s.worklog[w.TaskID], w)
	return nil
}
