package repositories

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/desertthunder/qmx/internal/models"
	"github.com/desertthunder/qmx/internal/shared"
)

// LoginAttemptRepository implements [models.Repository] for [models.LoginAttempt] persistence.
type LoginAttemptRepository struct {
	db *sql.DB
}

// NewLoginAttemptRepository creates a new [LoginAttemptRepository] with the given database connection
func NewLoginAttemptRepository(db *sql.DB) *LoginAttemptRepository {
	return &LoginAttemptRepository{db: db}
}

// Create inserts a new attempt with a generated ID
func (r *LoginAttemptRepository) Create(a *models.LoginAttempt) error {
	if err := a.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	id := shared.GenerateID()

	query := `
		INSERT INTO login_attempts (id, provider, event, musicid, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.Exec(query, id, a.Provider, a.Event.String(), nullInt64(a.MusicID), nullString(a.Err), a.StartedAt, a.FinishedAt)
	if err != nil {
		return fmt.Errorf("failed to insert login attempt: %w", err)
	}

	a.SetID(id)
	return nil
}

// Get retrieves an attempt by ID
func (r *LoginAttemptRepository) Get(id string) (*models.LoginAttempt, error) {
	query := `
		SELECT id, provider, event, musicid, error, started_at, finished_at
		FROM login_attempts
		WHERE id = ?
	`

	a, err := scanAttempt(r.db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("login attempt not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query login attempt: %w", err)
	}
	return a, nil
}

// Update stores the attempt's outcome
func (r *LoginAttemptRepository) Update(a *models.LoginAttempt) error {
	if err := a.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	query := `
		UPDATE login_attempts
		SET event = ?, musicid = ?, error = ?, finished_at = ?
		WHERE id = ?
	`

	result, err := r.db.Exec(query, a.Event.String(), nullInt64(a.MusicID), nullString(a.Err), a.FinishedAt, a.ID())
	if err != nil {
		return fmt.Errorf("failed to update login attempt: %w", err)
	}
	return expectRow(result, fmt.Errorf("login attempt not found: %s", a.ID()))
}

// Delete removes an attempt by ID
func (r *LoginAttemptRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM login_attempts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete login attempt: %w", err)
	}
	return expectRow(result, fmt.Errorf("login attempt not found: %s", id))
}

// List retrieves attempts matching the given criteria, newest first.
//
// Supported criteria: "provider" (string), "event" ([models.LoginEvent]) and "limit" (int).
func (r *LoginAttemptRepository) List(criteria map[string]any) ([]*models.LoginAttempt, error) {
	query := `
		SELECT id, provider, event, musicid, error, started_at, finished_at
		FROM login_attempts
		WHERE 1 = 1
	`

	args := []any{}

	if provider, ok := criteria["provider"].(string); ok && provider != "" {
		query += " AND provider = ?"
		args = append(args, provider)
	}

	if event, ok := criteria["event"].(models.LoginEvent); ok {
		query += " AND event = ?"
		args = append(args, event.String())
	}

	query += " ORDER BY started_at DESC"

	if limit, ok := criteria["limit"].(int); ok && limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query login attempts: %w", err)
	}
	defer rows.Close()

	var attempts []*models.LoginAttempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan login attempt: %w", err)
		}
		attempts = append(attempts, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return attempts, nil
}

func scanAttempt(s scanner) (*models.LoginAttempt, error) {
	var (
		id         string
		provider   string
		event      string
		musicID    sql.NullInt64
		errMsg     sql.NullString
		startedAt  time.Time
		finishedAt sql.NullTime
	)

	if err := s.Scan(&id, &provider, &event, &musicID, &errMsg, &startedAt, &finishedAt); err != nil {
		return nil, err
	}

	a := &models.LoginAttempt{
		Provider:  provider,
		MusicID:   musicID.Int64,
		Err:       errMsg.String,
		StartedAt: startedAt,
	}
	a.SetID(id)
	a.Event.UnmarshalText([]byte(event))
	if finishedAt.Valid {
		t := finishedAt.Time
		a.FinishedAt = &t
	}
	return a, nil
}
