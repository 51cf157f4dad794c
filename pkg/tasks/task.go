// Package tasks keeps the ordered task list of a session. Its operations run
// as rabbitmq consumers: inserting a task shifts every later task down by
// one inside a single transaction.
package tasks

import "fmt"

type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusSuccess, StatusFailed:
		return true
	}
	return false
}

func ParseStatus(s string) (Status, error) {
	status := Status(s)
	if !status.Valid() {
		return "", fmt.Errorf("tasks: unknown status %q", s)
	}
	return status, nil
}

type Task struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	Order     int            `json:"task_order"`
	Status    Status         `json:"task_status"`
	Data      map[string]any `json:"task_data"`
}

// Description is the free-text task_description entry of Data.
func (t Task) Description() string {
	if v, ok := t.Data["task_description"].(string); ok {
		return v
	}
	return ""
}

// TaskUpdate carries the fields to change. Nil fields are left untouched.
type TaskUpdate struct {
	Status *Status
	Order  *int
	Data   map[string]any
}

func (u TaskUpdate) empty() bool {
	return u.Status == nil && u.Order == nil && u.Data == nil
}
