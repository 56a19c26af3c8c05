package board

import (
	"context"
	"time"

	"github.com/opengoat/opengoat/internal/agent"
	goerrors "github.com/opengoat/opengoat/internal/common/errors"
)

const defaultProject = "~"

// Manager enforces spec.md §4.5's access-control rules on top of a Store,
// resolving caller identity against the agent registry.
type Manager struct {
	store  Store
	agents *agent.Registry
}

// NewManager constructs a Manager.
func NewManager(store Store, agents *agent.Registry) *Manager {
	return &Manager{store: store, agents: agents}
}

func (m *Manager) caller(id string) (*agent.Manifest, error) {
	a, ok := m.agents.Get(id)
	if !ok {
		return nil, goerrors.NotFound("agent", id)
	}
	return a, nil
}

func isManager(a *agent.Manifest) bool {
	return a.Type == agent.TypeManager
}

// defaultBoardTitle is the title given to a manager's lazily-created
// default board.
func defaultBoardTitle(managerID string) string {
	return managerID + "'s board"
}

// CreateBoard creates a new board owned by callerID. Only managers may create boards.
func (m *Manager) CreateBoard(ctx context.Context, callerID string, req CreateBoardRequest) (*Board, error) {
	caller, err := m.caller(callerID)
	if err != nil {
		return nil, err
	}
	if !isManager(caller) {
		return nil, goerrors.Forbidden("only managers may create boards")
	}

	b := &Board{Title: req.Title, Owner: callerID}
	if err := m.store.CreateBoard(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// UpdateBoard renames a board. Only the board's owner may update it.
func (m *Manager) UpdateBoard(ctx context.Context, callerID, boardID, title string) (*Board, error) {
	b, err := m.store.GetBoard(ctx, boardID)
	if err != nil {
		return nil, err
	}
	if b.Owner != callerID {
		return nil, goerrors.Forbidden("only the board owner may update it")
	}
	b.Title = title
	if err := m.store.UpdateBoard(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// defaultBoardFor returns callerID's default board, lazily creating one if
// callerID has none yet. callerID must be a manager.
func (m *Manager) defaultBoardFor(ctx context.Context, callerID string) (*Board, error) {
	boards, err := m.store.ListBoards(ctx, ListBoardsFilter{OwnerFilter: callerID})
	if err != nil {
		return nil, err
	}
	if len(boards) > 0 {
		return boards[0], nil
	}
	b := &Board{Title: defaultBoardTitle(callerID), Owner: callerID}
	if err := m.store.CreateBoard(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// CreateTask implements spec.md §4.5's createTask rules: assignedTo defaults
// to the caller; assigning to someone else requires the caller to be a
// manager and the assignee to directly report to the caller; boardId is
// optional only for managers, who get (or lazily create) their default board.
func (m *Manager) CreateTask(ctx context.Context, callerID string, req CreateTaskRequest) (*Task, error) {
	caller, err := m.caller(callerID)
	if err != nil {
		return nil, err
	}

	assignedTo := req.AssignedTo
	if assignedTo == "" {
		assignedTo = callerID
	} else if assignedTo != callerID {
		if !isManager(caller) {
			return nil, goerrors.Forbidden("only a manager may assign a task to another agent")
		}
		assignee, err := m.caller(assignedTo)
		if err != nil {
			return nil, err
		}
		if assignee.ReportsTo != callerID {
			return nil, goerrors.Conflict("assignee must directly report to the caller")
		}
	}

	boardID := req.BoardID
	if boardID == "" {
		if !isManager(caller) {
			return nil, goerrors.ValidationError("boardId", "required unless the caller is a manager")
		}
		board, err := m.defaultBoardFor(ctx, callerID)
		if err != nil {
			return nil, err
		}
		boardID = board.ID
	} else if _, err := m.store.GetBoard(ctx, boardID); err != nil {
		return nil, err
	}

	project := req.Project
	if project == "" {
		project = defaultProject
	}

	t := &Task{
		BoardID:     boardID,
		Title:       req.Title,
		Description: req.Description,
		Project:     project,
		Owner:       callerID,
		AssignedTo:  assignedTo,
		Status:      StatusTodo,
	}
	if err := m.store.CreateTask(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// UpdateTaskStatus implements spec.md §4.5's status-transition rules: the
// target status must be one of the five known states, "pending" and
// "blocked" require a non-empty reason, and only the task's current
// assignee may change it.
func (m *Manager) UpdateTaskStatus(ctx context.Context, callerID, taskID string, status Status, reason string) (*Task, error) {
	if !validStatus(status) {
		return nil, goerrors.ValidationError("status", "must be one of todo, doing, pending, blocked, done")
	}
	if requiresReason(status) && reason == "" {
		return nil, goerrors.ValidationError("statusReason", "required for pending and blocked statuses")
	}

	t, err := m.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if t.AssignedTo != callerID {
		return nil, goerrors.Forbidden("only the current assignee may update task status")
	}

	if err := m.store.UpdateTaskStatus(ctx, taskID, status, reason); err != nil {
		return nil, err
	}
	t.Status = status
	t.StatusReason = reason
	t.UpdatedAt = time.Now().UTC()
	return t, nil
}

func (m *Manager) requireAssignee(ctx context.Context, callerID, taskID string) (*Task, error) {
	t, err := m.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if t.AssignedTo != callerID {
		return nil, goerrors.Forbidden("only the current assignee may mutate this task")
	}
	return t, nil
}

// AddTaskBlocker appends a blocker note; only the task's current assignee may call it.
func (m *Manager) AddTaskBlocker(ctx context.Context, callerID, taskID, content string) error {
	if _, err := m.requireAssignee(ctx, callerID, taskID); err != nil {
		return err
	}
	return m.store.AddTaskBlocker(ctx, Blocker{TaskID: taskID, Content: content})
}

// AddTaskArtifact appends an artifact note; only the task's current assignee may call it.
func (m *Manager) AddTaskArtifact(ctx context.Context, callerID, taskID, content string) error {
	if _, err := m.requireAssignee(ctx, callerID, taskID); err != nil {
		return err
	}
	return m.store.AddTaskArtifact(ctx, Artifact{TaskID: taskID, Content: content, CreatedBy: callerID})
}

// AddTaskWorklog appends a worklog note; only the task's current assignee may call it.
func (m *Manager) AddTaskWorklog(ctx context.Context, callerID, taskID, content string) error {
	if _, err := m.requireAssignee(ctx, callerID, taskID); err != nil {
		return err
	}
	return m.store.AddTaskWorklog(ctx, WorklogEntry{TaskID: taskID, Content: content, CreatedBy: callerID})
}

// ListBoards is a read-only passthrough.
func (m *Manager) ListBoards(ctx context.Context, filter ListBoardsFilter) ([]*Board, error) {
	return m.store.ListBoards(ctx, filter)
}

// ListTasks is a read-only passthrough; an empty filter.BoardID spans every board.
func (m *Manager) ListTasks(ctx context.Context, filter ListTasksFilter) ([]*Task, error) {
	return m.store.ListTasks(ctx, filter)
}

// GetTask is a read-only passthrough.
func (m *Manager) GetTask(ctx context.Context, taskID string) (*Task, error) {
	return m.store.GetTask(ctx, taskID)
}
