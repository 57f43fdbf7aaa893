// Package store provides durable persistence for task records.
package store

import (
	"context"
	"errors"

	"github.com/nadmax/siteqa/internal/task"
)

var ErrNotFound = errors.New("store: task not found")

// Update is a partial task mutation. Nil fields are left untouched; the
// Clear flags set the corresponding column to NULL (used by retry).
// updated_at is stamped on every update regardless.
type Update struct {
	Status          *task.Status
	Answer          *string
	Extraction      *task.Extraction
	Error           *string
	ClearAnswer     bool
	ClearExtraction bool
	ClearError      bool
}

type TaskStore interface {
	Create(ctx context.Context, t *task.Task) error
	Get(ctx context.Context, id string) (*task.Task, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*task.Task, error)
	Update(ctx context.Context, id string, u Update) error
	Delete(ctx context.Context, id string) error
	Close() error
}
