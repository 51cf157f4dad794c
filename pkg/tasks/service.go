package tasks

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/JailtonJunior94/mqconsumer/pkg/database"
	"github.com/JailtonJunior94/mqconsumer/pkg/database/uow"
	"github.com/JailtonJunior94/mqconsumer/pkg/observability"
)

var (
	ErrTaskNotFound      = errors.New("tasks: task not found")
	ErrInvalidAfterOrder = errors.New("tasks: after_order must be non-negative")
	ErrInvalidStatus     = errors.New("tasks: invalid status")
)

// NotFoundError rejects an update of an unknown task. It matches
// ErrTaskNotFound.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("Task %s not found", e.ID) }

func (e *NotFoundError) Is(target error) bool { return target == ErrTaskNotFound }

// Service runs every operation in its own transaction.
type Service struct {
	uow     uow.UnitOfWork
	dialect Dialect
	logger  observability.Logger
}

func NewService(db *sql.DB, dialect Dialect, logger observability.Logger) *Service {
	logger = logger.With(observability.String("component", "tasks.service"))
	return &Service{
		uow:     uow.NewUnitOfWork(db, uow.WithLogger(logger)),
		dialect: dialect,
		logger:  logger,
	}
}

// FetchCurrent lists the tasks of a session by ascending order. An empty
// status matches every status.
func (s *Service) FetchCurrent(ctx context.Context, sessionID string, status Status) Result[[]Task] {
	var tasks []Task
	err := s.uow.Do(ctx, func(ctx context.Context, db database.DBTX) error {
		query := `SELECT id, session_id, task_order, task_status, task_data FROM tasks WHERE session_id = ?`
		args := []any{sessionID}
		if status != "" {
			query += ` AND task_status = ?`
			args = append(args, string(status))
		}
		query += ` ORDER BY task_order ASC`

		rows, err := db.QueryContext(ctx, s.dialect.rebind(query), args...)
		if err != nil {
			return fmt.Errorf("tasks: query session tasks: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			task, err := scanTask(rows)
			if err != nil {
				return err
			}
			tasks = append(tasks, task)
		}
		return rows.Err()
	})
	if err != nil {
		return RejectErr[[]Task](err)
	}
	return Resolve(tasks)
}

// Insert places a new task right after afterOrder and shifts every later
// task of the session by one. Orders are first negated and then flipped back
// incremented, so the (session_id, task_order) unique constraint holds after
// every statement.
func (s *Service) Insert(ctx context.Context, sessionID string, afterOrder int, data map[string]any, status Status) Result[Task] {
	if afterOrder < 0 {
		return RejectErr[Task](fmt.Errorf("%w: got %d", ErrInvalidAfterOrder, afterOrder))
	}
	if status == "" {
		status = StatusPending
	}
	if !status.Valid() {
		return RejectErr[Task](fmt.Errorf("%w: %q", ErrInvalidStatus, status))
	}
	if data == nil {
		data = map[string]any{}
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return RejectErr[Task](fmt.Errorf("tasks: encode task data: %w", err))
	}

	task := Task{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Order:     afterOrder + 1,
		Status:    status,
		Data:      data,
	}

	err = s.uow.Do(ctx, func(ctx context.Context, db database.DBTX) error {
		if err := s.lockSession(ctx, db, sessionID); err != nil {
			return err
		}

		shifted, err := db.ExecContext(ctx,
			s.dialect.rebind(`UPDATE tasks SET task_order = -task_order WHERE session_id = ? AND task_order > ?`),
			sessionID, afterOrder)
		if err != nil {
			return fmt.Errorf("tasks: negate trailing orders: %w", err)
		}

		if _, err := db.ExecContext(ctx,
			s.dialect.rebind(`UPDATE tasks SET task_order = -task_order + 1, updated_at = CURRENT_TIMESTAMP WHERE session_id = ? AND task_order < 0`),
			sessionID); err != nil {
			return fmt.Errorf("tasks: restore trailing orders: %w", err)
		}

		if _, err := db.ExecContext(ctx,
			s.dialect.rebind(`INSERT INTO tasks (id, session_id, task_order, task_status, task_data) VALUES (?, ?, ?, ?, ?)`),
			task.ID, task.SessionID, task.Order, string(task.Status), string(payload)); err != nil {
			return fmt.Errorf("tasks: insert task: %w", err)
		}

		n, _ := shifted.RowsAffected()
		s.logger.Debug(ctx, "task inserted",
			observability.String("task_id", task.ID),
			observability.Int("task_order", task.Order),
			observability.Int64("shifted", n),
		)
		return nil
	})
	if err != nil {
		return RejectErr[Task](err)
	}
	return Resolve(task)
}

func (s *Service) lockSession(ctx context.Context, db database.DBTX, sessionID string) error {
	suffix := s.dialect.lockSuffix()
	if suffix == "" {
		return nil
	}

	rows, err := db.QueryContext(ctx, s.dialect.rebind(`SELECT id FROM tasks WHERE session_id = ?`+suffix), sessionID)
	if err != nil {
		return fmt.Errorf("tasks: lock session rows: %w", err)
	}
	defer rows.Close()
	// Postgres takes each row lock as the row is read.
	for rows.Next() {
	}
	return rows.Err()
}

// Update applies the non-nil fields of upd. A missing task is rejected with
// "Task <id> not found".
func (s *Service) Update(ctx context.Context, taskID string, upd TaskUpdate) Result[Task] {
	if upd.Status != nil && !upd.Status.Valid() {
		return RejectErr[Task](fmt.Errorf("%w: %q", ErrInvalidStatus, *upd.Status))
	}

	var task Task
	err := s.uow.Do(ctx, func(ctx context.Context, db database.DBTX) error {
		row := db.QueryRowContext(ctx,
			s.dialect.rebind(`SELECT id, session_id, task_order, task_status, task_data FROM tasks WHERE id = ?`+s.dialect.lockSuffix()),
			taskID)
		found, err := scanTask(row)
		if errors.Is(err, sql.ErrNoRows) {
			return &NotFoundError{ID: taskID}
		}
		if err != nil {
			return err
		}
		task = found

		if upd.empty() {
			return nil
		}

		sets := make([]string, 0, 4)
		args := make([]any, 0, 4)
		if upd.Status != nil {
			sets = append(sets, "task_status = ?")
			args = append(args, string(*upd.Status))
			task.Status = *upd.Status
		}
		if upd.Order != nil {
			sets = append(sets, "task_order = ?")
			args = append(args, *upd.Order)
			task.Order = *upd.Order
		}
		if upd.Data != nil {
			payload, err := json.Marshal(upd.Data)
			if err != nil {
				return fmt.Errorf("tasks: encode task data: %w", err)
			}
			sets = append(sets, "task_data = ?")
			args = append(args, string(payload))
			task.Data = upd.Data
		}
		sets = append(sets, "updated_at = CURRENT_TIMESTAMP")
		args = append(args, taskID)

		query := `UPDATE tasks SET ` + strings.Join(sets, ", ") + ` WHERE id = ?`
		if _, err := db.ExecContext(ctx, s.dialect.rebind(query), args...); err != nil {
			return fmt.Errorf("tasks: update task: %w", err)
		}
		return nil
	})
	if err != nil {
		return RejectErr[Task](err)
	}
	return Resolve(task)
}

// Delete removes a task. Deleting an unknown id still resolves.
func (s *Service) Delete(ctx context.Context, taskID string) Result[struct{}] {
	err := s.uow.Do(ctx, func(ctx context.Context, db database.DBTX) error {
		if _, err := db.ExecContext(ctx, s.dialect.rebind(`DELETE FROM tasks WHERE id = ?`), taskID); err != nil {
			return fmt.Errorf("tasks: delete task: %w", err)
		}
		return nil
	})
	if err != nil {
		return RejectErr[struct{}](err)
	}
	return Resolve(struct{}{})
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (Task, error) {
	var (
		task   Task
		status string
		raw    []byte
	)
	if err := row.Scan(&task.ID, &task.SessionID, &task.Order, &status, &raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Task{}, err
		}
		return Task{}, fmt.Errorf("tasks: scan task: %w", err)
	}
	task.Status = Status(status)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &task.Data); err != nil {
			return Task{}, fmt.Errorf("tasks: decode task data: %w", err)
		}
	}
	return task, nil
}
