package scanner

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/opengoat/opengoat/internal/agent"
	"github.com/opengoat/opengoat/internal/board"
	"github.com/opengoat/opengoat/internal/common/logger"
	"github.com/opengoat/opengoat/internal/orchestrator"
	"github.com/opengoat/opengoat/internal/session"
)

// Scanner runs spec.md §4.6's task-board cron cycle.
type Scanner struct {
	boards       *board.Manager
	agents       *agent.Registry
	sessions     *session.Engine
	orchestrator *orchestrator.Orchestrator
	logger       *logger.Logger
}

// New constructs a Scanner.
func New(boards *board.Manager, agents *agent.Registry, sessions *session.Engine, orch *orchestrator.Orchestrator, log *logger.Logger) *Scanner {
	return &Scanner{boards: boards, agents: agents, sessions: sessions, orchestrator: orch, logger: log}
}

// RunCycle implements spec.md §4.6's one-cycle algorithm: snapshot, dispatch
// kickoffs for todo tasks, dispatch unblock requests for blocked tasks,
// dispatch inactivity nudges, sequentially.
func (s *Scanner) RunCycle(ctx context.Context, opts CycleOptions) (CycleReport, error) {
	report := CycleReport{RanAt: s.sessions.Now()}

	tasks, err := s.boards.ListTasks(ctx, board.ListTasksFilter{})
	if err != nil {
		return report, err
	}
	report.ScannedTasks = len(tasks)

	boards, err := s.boards.ListBoards(ctx, board.ListBoardsFilter{})
	if err != nil {
		return report, err
	}
	boardOwner := make(map[string]string, len(boards))
	for _, b := range boards {
		boardOwner[b.ID] = b.Owner
	}

	for _, t := range tasks {
		switch t.Status {
		case board.StatusTodo:
			report.TodoTasks++
			s.dispatchKickoff(ctx, &report, t)
		case board.StatusBlocked:
			report.BlockedTasks++
			s.dispatchUnblock(ctx, &report, t, boardOwner[t.BoardID])
		}
	}

	s.dispatchInactivityNudges(ctx, &report, opts)

	return report, nil
}

func (s *Scanner) dispatchKickoff(ctx context.Context, report *CycleReport, t *board.Task) {
	message := fmt.Sprintf("Please begin task %q.\n\nDescription: %s\nProject: %s", t.Title, t.Description, t.Project)
	s.dispatch(ctx, report, Dispatch{Kind: DispatchKickoff, TargetAgentID: t.AssignedTo, TaskID: t.ID, SessionRef: taskSessionRef(t.ID)}, message)
}

func (s *Scanner) dispatchUnblock(ctx context.Context, report *CycleReport, t *board.Task, owner string) {
	if owner == "" {
		s.logger.Warn("skipping unblock dispatch: board owner unresolved", zap.String("task_id", t.ID))
		return
	}
	message := fmt.Sprintf("Task %q is blocked: %s\nPlease help unblock %s.", t.Title, t.StatusReason, t.AssignedTo)
	s.dispatch(ctx, report, Dispatch{Kind: DispatchUnblock, TargetAgentID: owner, TaskID: t.ID, SessionRef: taskSessionRef(t.ID)}, message)
}

func (s *Scanner) dispatchInactivityNudges(ctx context.Context, report *CycleReport, opts CycleOptions) {
	if opts.InactiveMinutes <= 0 {
		return
	}
	threshold := s.sessions.Now().Add(-time.Duration(opts.InactiveMinutes) * time.Minute)

	head, headErr := s.agents.DefaultHead()

	for _, a := range s.agents.List() {
		summaries, err := s.sessions.ListSessions(a.ID)
		if err != nil || len(summaries) == 0 {
			continue
		}
		latest := summaries[0].LastActivityAt
		for _, sess := range summaries[1:] {
			if sess.LastActivityAt.After(latest) {
				latest = sess.LastActivityAt
			}
		}
		if latest.After(threshold) {
			continue
		}
		report.InactiveAgents++

		target := nudgeTarget(a, head, headErr, opts.Policy)
		if target == "" {
			continue
		}
		message := fmt.Sprintf("%s has been inactive since %s. Please check in.", a.ID, latest.Format(time.RFC3339))
		s.dispatch(ctx, report, Dispatch{Kind: DispatchInactive, TargetAgentID: target, SessionRef: nudgeSessionRef(a.ID)}, message)
	}
}

// nudgeTarget implements spec.md §4.6 step 4's policy branch.
func nudgeTarget(inactive *agent.Manifest, head *agent.Manifest, headErr error, policy InactivityPolicy) string {
	if policy == PolicyCEOOnly {
		if headErr != nil {
			return ""
		}
		return head.ID
	}
	return inactive.ReportsTo
}

func (s *Scanner) dispatch(ctx context.Context, report *CycleReport, d Dispatch, message string) {
	result, err := s.orchestrator.RunAgent(ctx, d.TargetAgentID, orchestrator.RunOptions{
		Message:    message,
		SessionRef: d.SessionRef,
	})
	if err != nil {
		d.OK = false
		d.Error = err.Error()
		report.Failed++
	} else {
		d.OK = result.StopReason == orchestrator.StopCompleted
		if !d.OK {
			report.Failed++
		} else {
			report.Sent++
		}
	}
	report.Dispatches = append(report.Dispatches, d)
}

func taskSessionRef(taskID string) string {
	return "task-" + taskID
}

func nudgeSessionRef(agentID string) string {
	return "nudge-" + agentID
}
