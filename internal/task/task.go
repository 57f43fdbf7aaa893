// Package task defines the core task domain model shared by the API,
// the queue and the persistence layers.
package task

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// ValidStatus reports whether s is one of the four known task states.
func ValidStatus(s Status) bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Extraction is the snapshot of a successful page extraction plus the
// inference metadata produced from it. Present only on completed tasks.
type Extraction struct {
	Title      string    `json:"title"`
	Content    string    `json:"content"`
	URL        string    `json:"url"`
	Timestamp  time.Time `json:"timestamp"`
	Model      string    `json:"ai_model"`
	TokensUsed int       `json:"tokens_used"`
}

type Task struct {
	ID         string      `json:"id"`
	OwnerID    string      `json:"owner_id"`
	URL        string      `json:"url"`
	Question   string      `json:"question"`
	Status     Status      `json:"status"`
	Answer     *string     `json:"answer,omitempty"`
	Extraction *Extraction `json:"extraction,omitempty"`
	Error      *string     `json:"error,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

func New(ownerID, url, question string) *Task {
	now := time.Now().UTC()
	return &Task{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		URL:       url,
		Question:  question,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
