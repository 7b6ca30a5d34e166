package models

import "time"

// TaskStatus is the lifecycle state of a task. Any status may follow any other.
type TaskStatus string

const (
	StatusOpen       TaskStatus = "OPEN"
	StatusInProgress TaskStatus = "IN_PROGRESS"
	StatusDone       TaskStatus = "DONE"
)

// Valid reports whether s is one of the known statuses.
func (s TaskStatus) Valid() bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusDone:
		return true
	}
	return false
}

// Task represents a task owned by the task-service.
// AssigneeID is a weak reference to a user: it is not enforced by the store
// and may dangle after the user is deleted.
type Task struct {
	ID          uint       `json:"id" gorm:"primaryKey;autoIncrement"`
	Title       string     `json:"title" gorm:"type:varchar(200);not null"`
	Description string     `json:"description" gorm:"type:varchar(500)"`
	Status      TaskStatus `json:"status" gorm:"type:varchar(20);not null;index"`
	AssigneeID  *uint      `json:"assignee_id" gorm:"index"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// TaskResponse is a task enriched with the assignee's display name.
// AssigneeName is nil when the assignee is unset or could not be resolved.
type TaskResponse struct {
	ID           uint       `json:"id"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	Status       TaskStatus `json:"status"`
	AssigneeID   *uint      `json:"assignee_id"`
	AssigneeName *string    `json:"assignee_name"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// NewTaskResponse builds a response; name may be nil.
func NewTaskResponse(task *Task, name *string) TaskResponse {
	return TaskResponse{
		ID:           task.ID,
		Title:        task.Title,
		Description:  task.Description,
		Status:       task.Status,
		AssigneeID:   task.AssigneeID,
		AssigneeName: name,
		CreatedAt:    task.CreatedAt,
		UpdatedAt:    task.UpdatedAt,
	}
}

// TaskEventType names a task lifecycle event.
type TaskEventType string

const (
	TaskCreated TaskEventType = "task.created"
	TaskUpdated TaskEventType = "task.updated"
	TaskDeleted TaskEventType = "task.deleted"
)

// TaskEvent is published after every successful task write.
type TaskEvent struct {
	EventID    string        `json:"event_id"`
	Type       TaskEventType `json:"type"`
	TaskID     uint          `json:"task_id"`
	AssigneeID *uint         `json:"assignee_id,omitempty"`
	Status     TaskStatus    `json:"status,omitempty"`
	OccurredAt time.Time     `json:"occurred_at"`
}
