package board

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	goerrors "github.com/opengoat/opengoat/internal/common/errors"
)

// SQLiteStore provides sqlite-backed task board storage, per spec.md §4.5's
// schema and §5's "one connection per process, all writes through a single
// mutex" guarantee (enforced here via a single-connection pool, mirroring
// how the teacher's sqlite repository pins SQLite to one writer).
type SQLiteStore struct {
	db *sqlx.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (and, if needed, initializes) the board database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, goerrors.IO("failed to open board database", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, goerrors.IO("failed to initialize board schema", err)
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS boards (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		owner TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		board_id TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT DEFAULT '',
		project TEXT DEFAULT '~',
		owner TEXT NOT NULL,
		assigned_to TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'todo',
		status_reason TEXT DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		FOREIGN KEY (board_id) REFERENCES boards(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
	CREATE INDEX IF NOT EXISTS idx_tasks_board_id ON tasks(board_id);

	CREATE TABLE IF NOT EXISTS task_blockers (
		task_id TEXT NOT NULL,
		idx INTEGER NOT NULL,
		content TEXT NOT NULL,
		PRIMARY KEY (task_id, idx),
		FOREIGN KEY (task_id) REFERENCES tasks(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS task_artifacts (
		task_id TEXT NOT NULL,
		idx INTEGER NOT NULL,
		content TEXT NOT NULL,
		created_by TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		PRIMARY KEY (task_id, idx),
		FOREIGN KEY (task_id) REFERENCES tasks(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS task_worklog (
		task_id TEXT NOT NULL,
		idx INTEGER NOT NULL,
		content TEXT NOT NULL,
		created_by TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		PRIMARY KEY (task_id, idx),
		FOREIGN KEY (task_id) REFERENCES tasks(id) ON DELETE CASCADE
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateBoard(ctx context.Context, b *Board) error {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	b.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO boards (id, title, owner, created_at) VALUES (?, ?, ?, ?)
	`, b.ID, b.Title, b.Owner, b.CreatedAt)
	if err != nil {
		return goerrors.IO("failed to create board", err)
	}
	return nil
}

func (s *SQLiteStore) GetBoard(ctx context.Context, id string) (*Board, error) {
	b := &Board{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, owner, created_at FROM boards WHERE id = ?
	`, id).Scan(&b.ID, &b.Title, &b.Owner, &b.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, goerrors.NotFound("board", id)
	}
	if err != nil {
		return nil, goerrors.IO("failed to read board", err)
	}
	return b, nil
}

func (s *SQLiteStore) UpdateBoard(ctx context.Context, b *Board) error {
	result, err := s.db.ExecContext(ctx, `UPDATE boards SET title = ? WHERE id = ?`, b.Title, b.ID)
	if err != nil {
		return goerrors.IO("failed to update board", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return goerrors.NotFound("board", b.ID)
	}
	return nil
}

func (s *SQLiteStore) ListBoards(ctx context.Context, filter ListBoardsFilter) ([]*Board, error) {
	query := `SELECT id, title, owner, created_at FROM boards`
	var args []interface{}
	if filter.OwnerFilter != "" {
		query += ` WHERE owner = ?`
		args = append(args, filter.OwnerFilter)
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, goerrors.IO("failed to list boards", err)
	}
	defer rows.Close()

	var result []*Board
	for rows.Next() {
		b := &Board{}
		if err := rows.Scan(&b.ID, &b.Title, &b.Owner, &b.CreatedAt); err != nil {
			return nil, goerrors.IO("failed to scan board", err)
		}
		result = append(result, b)
	}
	return result, rows.Err()
}

func (s *SQLiteStore) CreateTask(ctx context.Context, t *Task) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, board_id, title, description, project, owner, assigned_to, status, status_reason, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.BoardID, t.Title, t.Description, t.Project, t.Owner, t.AssignedTo, t.Status, t.StatusReason, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return goerrors.IO("failed to create task", err)
	}
	return nil
}

func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*Task, error) {
	t := &Task{}
	err := s.db.QueryRowContext(ctx, s.db.Rebind(`
		SELECT id, board_id, title, description, project, owner, assigned_to, status, status_reason, created_at, updated_at
		FROM tasks WHERE id = ?
	`), id).Scan(&t.ID, &t.BoardID, &t.Title, &t.Description, &t.Project, &t.Owner, &t.AssignedTo, &t.Status, &t.StatusReason, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, goerrors.NotFound("task", id)
	}
	if err != nil {
		return nil, goerrors.IO("failed to read task", err)
	}

	if err := s.attachTaskChildren(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// attachTaskChildren loads t's blockers, artifacts, and worklog entries.
func (s *SQLiteStore) attachTaskChildren(ctx context.Context, t *Task) error {
	if err := s.db.SelectContext(ctx, &t.Blockers, s.db.Rebind(`
		SELECT task_id, idx, content FROM task_blockers WHERE task_id = ? ORDER BY idx
	`), t.ID); err != nil {
		return goerrors.IO("failed to read task blockers", err)
	}

	if err := s.db.SelectContext(ctx, &t.Artifacts, s.db.Rebind(`
		SELECT task_id, idx, content, created_by, created_at FROM task_artifacts WHERE task_id = ? ORDER BY idx
	`), t.ID); err != nil {
		return goerrors.IO("failed to read task artifacts", err)
	}

	if err := s.db.SelectContext(ctx, &t.Worklog, s.db.Rebind(`
		SELECT task_id, idx, content, created_by, created_at FROM task_worklog WHERE task_id = ? ORDER BY idx
	`), t.ID); err != nil {
		return goerrors.IO("failed to read task worklog", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateTaskStatus(ctx context.Context, id string, status Status, reason string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?, status_reason = ?, updated_at = ? WHERE id = ?
	`, status, reason, time.Now().UTC(), id)
	if err != nil {
		return goerrors.IO("failed to update task status", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return goerrors.NotFound("task", id)
	}
	return nil
}

func (s *SQLiteStore) ListTasks(ctx context.Context, filter ListTasksFilter) ([]*Task, error) {
	query := `SELECT id, board_id, title, description, project, owner, assigned_to, status, status_reason, created_at, updated_at FROM tasks`
	var conditions []string
	var args []interface{}
	if filter.BoardID != "" {
		conditions = append(conditions, "board_id = ?")
		args = append(args, filter.BoardID)
	}
	if filter.AssigneeFilter != "" {
		conditions = append(conditions, "assigned_to = ?")
		args = append(args, filter.AssigneeFilter)
	}
	for i, c := range conditions {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	query += " ORDER BY created_at"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, goerrors.IO("failed to list tasks", err)
	}
	defer rows.Close()

	var result []*Task
	for rows.Next() {
		t := &Task{}
		if err := rows.Scan(&t.ID, &t.BoardID, &t.Title, &t.Description, &t.Project, &t.Owner, &t.AssignedTo, &t.Status, &t.StatusReason, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, goerrors.IO("failed to scan task", err)
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func (s *SQLiteStore) nextIndex(ctx context.Context, table, taskID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE task_id = ?`, table), taskID).Scan(&count)
	if err != nil {
		return 0, goerrors.IO("failed to count "+table, err)
	}
	return count, nil
}

func (s *SQLiteStore) AddTaskBlocker(ctx context.Context, b Blocker) error {
	idx, err := s.nextIndex(ctx, "task_blockers", b.TaskID)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO task_blockers (task_id, idx, content) VALUES (?, ?, ?)
	`, b.TaskID, idx, b.Content)
	if err != nil {
		return goerrors.IO("failed to add task blocker", err)
	}
	return nil
}

func (s *SQLiteStore) AddTaskArtifact(ctx context.Context, a Artifact) error {
	idx, err := s.nextIndex(ctx, "task_artifacts", a.TaskID)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO task_artifacts (task_id, idx, content, created_by, created_at) VALUES (?, ?, ?, ?, ?)
	`, a.TaskID, idx, a.Content, a.CreatedBy, time.Now().UTC())
	if err != nil {
		return goerrors.IO("failed to add task artifact", err)
	}
	return nil
}

func (s *SQLiteStore) AddTaskWorklog(ctx context.Context, w WorklogEntry) error {
	idx, err := s.nextIndex(ctx, "task_worklog", w.TaskID)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO task_worklog (task_id, idx, content, created_by, created_at) VALUES (?, ?, ?, ?, ?)
	`, w.TaskID, idx, w.Content, w.CreatedBy, time.Now().UTC())
	if err != nil {
		return goerrors.IO("failed to add task worklog entry", err)
	}
	return nil
}
