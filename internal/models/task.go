package models

import "time"

// TaskStatus is the lifecycle state of a Task. Transitions are monotone:
// PENDING -> IN_PROGRESS -> (COMPLETED | FAILED). Terminal states never revert.
type TaskStatus string

const (
	TaskPending    TaskStatus = "PENDING"
	TaskInProgress TaskStatus = "IN_PROGRESS"
	TaskCompleted  TaskStatus = "COMPLETED"
	TaskFailed     TaskStatus = "FAILED"
)

// RowError is a single row-level validation failure recorded against a Task.
// Row is nil for file-level errors (empty sheet, corrupt workbook).
type RowError struct {
	Row   *int   `bson:"row" json:"row"`
	Error string `bson:"error" json:"error"`
}

// Task is a unit of user-visible work: one uploaded spreadsheet.
type Task struct {
	TaskID           string     `bson:"taskId" json:"taskId"`
	FilePath         string     `bson:"filePath" json:"filePath"`
	OriginalFileName string     `bson:"originalFileName" json:"originalFileName"`
	Status           TaskStatus `bson:"status" json:"status"`
	Errors           []RowError `bson:"errors" json:"errors"`
	RowCount         int        `bson:"rowCount" json:"rowCount"`

	// Claim lease; empty/nil when unclaimed.
	WorkerID     string     `bson:"workerId,omitempty" json:"workerId,omitempty"`
	ProcessingAt *time.Time `bson:"processingAt,omitempty" json:"processingAt,omitempty"`

	StartedAt   *time.Time `bson:"startedAt,omitempty" json:"startedAt,omitempty"`
	CompletedAt *time.Time `bson:"completedAt,omitempty" json:"completedAt,omitempty"`
	CreatedAt   time.Time  `bson:"createdAt" json:"createdAt"`
	UpdatedAt   time.Time  `bson:"updatedAt" json:"updatedAt"`
}
