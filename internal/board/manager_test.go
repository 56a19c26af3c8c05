package board

import (
	"context"
	"testing"

	"github.com/opengoat/opengoat/internal/agent"
	"github.com/opengoat/opengoat/internal/common/logger"
	"github.com/opengoat/opengoat/internal/paths"
)

func newTestManager(t *testing.T) (*Manager, *agent.Registry) {
	t.Helper()
	fs := paths.NewMemoryFilesystem()
	layout := paths.New("/home/.opengoat")
	log, err := logger.New(logger.Config{Level: "error", Format: "text", OutputPath: "stdout"})
	if err != nil {
		t.Fatalf("logger.New() error = %v", err)
	}
	agents := agent.NewRegistry(fs, layout, log)
	store := NewMemoryStore()
	return NewManager(store, agents), agents
}

func TestCreateBoardRequiresManager(t *testing.T) {
	m, agents := newTestManager(t)
	ceo, err := agents.EnsureAgent(agent.CreateRequest{Name: "ceo"})
	if err != nil {
		t.Fatalf("EnsureAgent(ceo) error = %v", err)
	}
	writer, err := agents.EnsureAgent(agent.CreateRequest{Name: "writer", ReportsTo: ceo.ID, Type: agent.TypeIndividual})
	if err != nil {
		t.Fatalf("EnsureAgent(writer) error = %v", err)
	}

	if _, err := m.CreateBoard(context.Background(), ceo.ID, CreateBoardRequest{Title: "Launch"}); err != nil {
		t.Fatalf("CreateBoard(ceo) error = %v", err)
	}

	_, err = m.CreateBoard(context.Background(), writer.ID, CreateBoardRequest{Title: "Shadow board"})
	if err == nil {
		t.Fatalf("expected a non-manager's CreateBoard to be rejected")
	}
}

func TestUpdateBoardRequiresOwner(t *testing.T) {
	m, agents := newTestManager(t)
	ceo, _ := agents.EnsureAgent(agent.CreateRequest{Name: "ceo"})
	other, _ := agents.EnsureAgent(agent.CreateRequest{Name: "coo", Type: agent.TypeManager})

	b, err := m.CreateBoard(context.Background(), ceo.ID, CreateBoardRequest{Title: "Launch"})
	if err != nil {
		t.Fatalf("CreateBoard() error = %v", err)
	}

	if _, err := m.UpdateBoard(context.Background(), other.ID, b.ID, "Renamed"); err == nil {
		t.Fatalf("expected UpdateBoard by a non-owner to be rejected")
	}
	updated, err := m.UpdateBoard(context.Background(), ceo.ID, b.ID, "Renamed")
	if err != nil {
		t.Fatalf("UpdateBoard(owner) error = %v", err)
	}
	if updated.Title != "Renamed" {
		t.Fatalf("Title = %q, want Renamed", updated.Title)
	}
}

func TestCreateTaskDefaultsAssigneeAndBoard(t *testing.T) {
	m, agents := newTestManager(t)
	ceo, _ := agents.EnsureAgent(agent.CreateRequest{Name: "ceo"})

	task, err := m.CreateTask(context.Background(), ceo.ID, CreateTaskRequest{Title: "Plan Q1"})
	if err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}
	if task.AssignedTo != ceo.ID {
		t.Fatalf("AssignedTo = %q, want %q", task.AssignedTo, ceo.ID)
	}
	if task.Project != defaultProject {
		t.Fatalf("Project = %q, want %q", task.Project, defaultProject)
	}
	if task.BoardID == "" {
		t.Fatalf("expected a lazily-created default board id")
	}
}

func TestCreateTaskAssignToDirectReportRequiresManager(t *testing.T) {
	m, agents := newTestManager(t)
	ceo, _ := agents.EnsureAgent(agent.CreateRequest{Name: "ceo"})
	writer, _ := agents.EnsureAgent(agent.CreateRequest{Name: "writer", ReportsTo: ceo.ID, Type: agent.TypeIndividual})
	stranger, _ := agents.EnsureAgent(agent.CreateRequest{Name: "stranger", ReportsTo: ceo.ID, Type: agent.TypeManager})

	task, err := m.CreateTask(context.Background(), ceo.ID, CreateTaskRequest{Title: "Draft ABOUT.md", AssignedTo: writer.ID})
	if err != nil {
		t.Fatalf("CreateTask(manager assigning direct report) error = %v", err)
	}
	if task.AssignedTo != writer.ID {
		t.Fatalf("AssignedTo = %q, want %q", task.AssignedTo, writer.ID)
	}

	if _, err := m.CreateTask(context.Background(), writer.ID, CreateTaskRequest{Title: "Sneaky", AssignedTo: stranger.ID}); err == nil {
		t.Fatalf("expected a non-manager assigning to someone else to be rejected")
	}

	if _, err := m.CreateTask(context.Background(), ceo.ID, CreateTaskRequest{Title: "Not a report", AssignedTo: "nope"}); err == nil {
		t.Fatalf("expected assigning to a non-existent agent to fail")
	}
}

func TestUpdateTaskStatusRequiresAssigneeAndReason(t *testing.T) {
	m, agents := newTestManager(t)
	ceo, _ := agents.EnsureAgent(agent.CreateRequest{Name: "ceo"})
	writer, _ := agents.EnsureAgent(agent.CreateRequest{Name: "writer", ReportsTo: ceo.ID, Type: agent.TypeIndividual})

	task, err := m.CreateTask(context.Background(), ceo.ID, CreateTaskRequest{Title: "Draft ABOUT.md", AssignedTo: writer.ID})
	if err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}

	if _, err := m.UpdateTaskStatus(context.Background(), ceo.ID, task.ID, StatusDoing, ""); err == nil {
		t.Fatalf("expected status update by the owner (not the assignee) to be rejected")
	}

	if _, err := m.UpdateTaskStatus(context.Background(), writer.ID, task.ID, StatusBlocked, ""); err == nil {
		t.Fatalf("expected a blocked transition without statusReason to be rejected")
	}

	updated, err := m.UpdateTaskStatus(context.Background(), writer.ID, task.ID, StatusBlocked, "waiting on design review")
	if err != nil {
		t.Fatalf("UpdateTaskStatus() error = %v", err)
	}
	if updated.Status != StatusBlocked || updated.StatusReason == "" {
		t.Fatalf("unexpected task after transition: %+v", updated)
	}

	if _, err := m.UpdateTaskStatus(context.Background(), writer.ID, task.ID, Status("archived"), ""); err == nil {
		t.Fatalf("expected an invalid status to be rejected")
	}
}

func TestAddTaskNotesRequireAssignee(t *testing.T) {
	m, agents := newTestManager(t)
	ceo, _ := agents.EnsureAgent(agent.CreateRequest{Name: "ceo"})
	writer, _ := agents.EnsureAgent(agent.CreateRequest{Name: "writer", ReportsTo: ceo.ID, Type: agent.TypeIndividual})

	task, err := m.CreateTask(context.Background(), ceo.ID, CreateTaskRequest{Title: "Draft ABOUT.md", AssignedTo: writer.ID})
	if err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}

	if err := m.AddTaskBlocker(context.Background(), ceo.ID, task.ID, "missing asset"); err == nil {
		t.Fatalf("expected a non-assignee blocker add to be rejected")
	}
	if err := m.AddTaskBlocker(context.Background(), writer.ID, task.ID, "missing asset"); err != nil {
		t.Fatalf("AddTaskBlocker(assignee) error = %v", err)
	}
	if err := m.AddTaskArtifact(context.Background(), writer.ID, task.ID, "ABOUT.md draft"); err != nil {
		t.Fatalf("AddTaskArtifact(assignee) error = %v", err)
	}
	if err := m.AddTaskWorklog(context.Background(), writer.ID, task.ID, "started drafting"); err != nil {
		t.Fatalf("AddTaskWorklog(assignee) error = %v", err)
	}

	got, err := m.GetTask(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("GetTask() error = %v", err)
	}
	if len(got.Blockers) != 1 || got.Blockers[0].Content != "missing asset" {
		t.Fatalf("expected blockers to round-trip through GetTask, got %+v", got.Blockers)
	}
	if len(got.Artifacts) != 1 || got.Artifacts[0].Content != "ABOUT.md draft" {
		t.Fatalf("expected artifacts to round-trip through GetTask, got %+v", got.Artifacts)
	}
	if len(got.Worklog) != 1 || got.Worklog[0].Content != "started drafting" {
		t.Fatalf("expected worklog to round-trip through GetTask, got %+v", got.Worklog)
	}
}

func TestListTasksAcrossBoardsAndByAssignee(t *testing.T) {
	m, agents := newTestManager(t)
	ceo, _ := agents.EnsureAgent(agent.CreateRequest{Name: "ceo"})
	writer, _ := agents.EnsureAgent(agent.CreateRequest{Name: "writer", ReportsTo: ceo.ID, Type: agent.TypeIndividual})

	if _, err := m.CreateTask(context.Background(), ceo.ID, CreateTaskRequest{Title: "Plan Q1"}); err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}
	if _, err := m.CreateTask(context.Background(), ceo.ID, CreateTaskRequest{Title: "Draft ABOUT.md", AssignedTo: writer.ID}); err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}

	all, err := m.ListTasks(context.Background(), ListTasksFilter{})
	if err != nil {
		t.Fatalf("ListTasks(all) error = %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("len(all) = %d, want 2", len(all))
	}

	writerTasks, err := m.ListTasks(context.Background(), ListTasksFilter{AssigneeFilter: writer.ID})
	if err != nil {
		t.Fatalf("ListTasks(writer) error = %v", err)
	}
	if len(writerTasks) != 1 {
		t.Fatalf("len(writerTasks) = %d, want 1", len(writerTasks))
	}
}
