package repositories

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/qmx/internal/models"
	"github.com/desertthunder/qmx/internal/shared"
)

// CredentialRepository stores one [models.Credential] per music user id.
type CredentialRepository struct {
	db *sql.DB
}

// NewCredentialRepository creates a new [CredentialRepository] with the given database connection
func NewCredentialRepository(db *sql.DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

// Save inserts cred or replaces the stored row for its music id.
func (r *CredentialRepository) Save(cred *models.Credential) error {
	if err := cred.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	if cred.MusicID == 0 {
		return fmt.Errorf("validation failed: %w: musicid is required", shared.ErrInvalidCredentials)
	}

	payload, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("failed to encode credential: %w", err)
	}

	now := time.Now().UTC()
	query := `
		INSERT INTO credentials (musicid, login_type, payload, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (musicid) DO UPDATE SET
			login_type = excluded.login_type,
			payload = excluded.payload,
			updated_at = excluded.updated_at
	`

	if _, err := r.db.Exec(query, cred.MusicID, cred.LoginType, string(payload), now, now); err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}
	return nil
}

// Get retrieves the credential stored for musicID.
func (r *CredentialRepository) Get(musicID int64) (*models.Credential, error) {
	row := r.db.QueryRow(`SELECT payload FROM credentials WHERE musicid = ?`, musicID)
	cred, err := scanCredential(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", shared.ErrCredentialNotFound, musicID)
	}
	return cred, err
}

// Current retrieves the most recently saved credential.
func (r *CredentialRepository) Current() (*models.Credential, error) {
	row := r.db.QueryRow(`SELECT payload FROM credentials ORDER BY updated_at DESC LIMIT 1`)
	cred, err := scanCredential(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.ErrCredentialNotFound
	}
	return cred, err
}

// Delete removes the credential stored for musicID.
func (r *CredentialRepository) Delete(musicID int64) error {
	result, err := r.db.Exec(`DELETE FROM credentials WHERE musicid = ?`, musicID)
	if err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	return expectRow(result, fmt.Errorf("%w: %d", shared.ErrCredentialNotFound, musicID))
}

// List retrieves every stored credential, most recently saved first.
func (r *CredentialRepository) List() ([]*models.Credential, error) {
	rows, err := r.db.Query(`SELECT payload FROM credentials ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query credentials: %w", err)
	}
	defer rows.Close()

	var creds []*models.Credential
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		creds = append(creds, cred)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return creds, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCredential(s scanner) (*models.Credential, error) {
	var payload string
	if err := s.Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan credential: %w", err)
	}

	var cred models.Credential
	if err := json.Unmarshal([]byte(payload), &cred); err != nil {
		return nil, fmt.Errorf("failed to decode stored credential: %w", err)
	}
	return &cred, nil
}
