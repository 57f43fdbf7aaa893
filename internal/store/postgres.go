package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/nadmax/siteqa/internal/task"
)

// PostgresStore persists tasks in a single `tasks` table:
//
//	id          uuid primary key
//	owner_id    varchar(255) not null
//	url         text not null
//	question    text not null
//	status      varchar(50) not null default 'pending'
//	answer      text
//	extraction  jsonb
//	error       text
//	created_at  timestamptz not null default now()
//	updated_at  timestamptz not null default now()
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Create(ctx context.Context, t *task.Task) error {
	if t.ID == "" || t.OwnerID == "" || t.URL == "" || t.Question == "" {
		return errors.New("store: task is missing required fields")
	}

	query := `
		INSERT INTO tasks (id, owner_id, url, question, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.db.ExecContext(
		ctx,
		query,
		t.ID,
		t.OwnerID,
		t.URL,
		t.Question,
		string(t.Status),
		t.CreatedAt,
		t.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*task.Task, error) {
	query := `
		SELECT id, owner_id, url, question, status, answer, extraction, error, created_at, updated_at
		FROM tasks
		WHERE id = $1
	`
	return scanTask(s.db.QueryRowContext(ctx, query, id))
}

func (s *PostgresStore) ListByOwner(ctx context.Context, ownerID string) ([]*task.Task, error) {
	query := `
		SELECT id, owner_id, url, question, status, answer, extraction, error, created_at, updated_at
		FROM tasks
		WHERE owner_id = $1
		ORDER BY created_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	tasks := make([]*task.Task, 0)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (s *PostgresStore) Update(ctx context.Context, id string, u Update) error {
	set := make([]string, 0, 5)
	args := make([]any, 0, 5)

	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if u.Status != nil {
		set = append(set, "status = "+next(string(*u.Status)))
	}
	switch {
	case u.Answer != nil:
		set = append(set, "answer = "+next(*u.Answer))
	case u.ClearAnswer:
		set = append(set, "answer = NULL")
	}
	switch {
	case u.Extraction != nil:
		blob, err := json.Marshal(u.Extraction)
		if err != nil {
			return fmt.Errorf("failed to marshal extraction: %w", err)
		}
		set = append(set, "extraction = "+next(blob))
	case u.ClearExtraction:
		set = append(set, "extraction = NULL")
	}
	switch {
	case u.Error != nil:
		set = append(set, "error = "+next(*u.Error))
	case u.ClearError:
		set = append(set, "error = NULL")
	}
	set = append(set, "updated_at = NOW()")

	query := "UPDATE tasks SET " + strings.Join(set, ", ") + " WHERE id = " + next(id)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*task.Task, error) {
	var (
		t          task.Task
		status     string
		answer     sql.NullString
		extraction []byte
		taskErr    sql.NullString
	)

	err := row.Scan(
		&t.ID,
		&t.OwnerID,
		&t.URL,
		&t.Question,
		&status,
		&answer,
		&extraction,
		&taskErr,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	t.Status = task.Status(status)
	if answer.Valid {
		t.Answer = &answer.String
	}
	if taskErr.Valid {
		t.Error = &taskErr.String
	}
	if len(extraction) > 0 {
		var ext task.Extraction
		if err := json.Unmarshal(extraction, &ext); err != nil {
			return nil, fmt.Errorf("failed to unmarshal extraction: %w", err)
		}
		t.Extraction = &ext
	}
	return &t, nil
}
