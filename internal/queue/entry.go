package queue

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Entry is the ephemeral work ticket for one task. URL and question are
// denormalized so a worker can start the pipeline without a store read.
type Entry struct {
	ID         string    `json:"id"`
	TaskID     string    `json:"task_id"`
	URL        string    `json:"url"`
	Question   string    `json:"question"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Outcome of a finished entry, kept in the bounded terminal logs.
type TerminalRecord struct {
	Entry      Entry     `json:"entry"`
	Outcome    string    `json:"outcome"`
	Reason     string    `json:"reason,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}

func (r TerminalRecord) marshal() (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (r *TerminalRecord) unmarshal(data string) error {
	return json.Unmarshal([]byte(data), r)
}

func NewEntry(taskID, url, question string) *Entry {
	return &Entry{
		ID:         uuid.New().String(),
		TaskID:     taskID,
		URL:        url,
		Question:   question,
		Attempt:    0,
		EnqueuedAt: time.Now().UTC(),
	}
}

func (e *Entry) ToJSON() (string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// EntryFromJSON rejects payloads that do not carry the closed entry
// schema, so malformed tickets are dropped at dequeue time instead of
// failing deep inside the pipeline.
func EntryFromJSON(data string) (*Entry, error) {
	var e Entry
	if err := json.Unmarshal([]byte(data), &e); err != nil {
		return nil, err
	}
	if e.ID == "" || e.TaskID == "" || e.URL == "" || e.Question == "" {
		return nil, ErrMalformedEntry
	}
	return &e, nil
}
