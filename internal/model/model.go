package model

import "encoding/json"

// Operation is the kind of pending mutation queued for replay
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Valid reports whether op is a known operation kind
func (op Operation) Valid() bool {
	switch op {
	case OpCreate, OpUpdate, OpDelete:
		return true
	}
	return false
}

// PendingOperation is a durably queued write awaiting replay against the server.
// Creates carry a temporary negative EntityID until the server assigns a real one.
type PendingOperation struct {
	ID        int64           `json:"id"`
	Operation Operation       `json:"operation"`
	EntityID  int64           `json:"entityId"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt int64           `json:"createdAt"` // unix millis, replay ordering key
	Synced    bool            `json:"synced"`
}

// Task is the domain entity mirrored locally for fallback reads.
// The sync layer treats most fields as opaque; only the keys it needs
// (id, assignee, due date) are typed.
type Task struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status,omitempty"`
	Priority    string `json:"priority,omitempty"`
	AssigneeID  string `json:"assigneeId,omitempty"`
	DueDate     string `json:"dueDate,omitempty"`
	CreatedAt   string `json:"createdAt,omitempty"`
	UpdatedAt   string `json:"updatedAt,omitempty"`
}

// AnalyticsSummary is the zeroable shape returned by the analytics
// summary endpoint. Its zero value is the synthesized offline default.
type AnalyticsSummary struct {
	TotalTasks      int     `json:"totalTasks"`
	CompletedTasks  int     `json:"completedTasks"`
	InProgressTasks int     `json:"inProgressTasks"`
	PendingTasks    int     `json:"pendingTasks"`
	OverdueTasks    int     `json:"overdueTasks"`
	CompletionRate  float64 `json:"completionRate"`
}
