package models

import (
	"fmt"
	"time"
)

// LoginAttempt records one login attempt for auditing.
type LoginAttempt struct {
	id         string
	Provider   string
	Event      LoginEvent
	MusicID    int64
	Err        string
	StartedAt  time.Time
	FinishedAt *time.Time
}

// NewLoginAttempt starts an attempt record for provider.
func NewLoginAttempt(provider string) *LoginAttempt {
	return &LoginAttempt{Provider: provider, Event: AwaitingScan, StartedAt: time.Now().UTC()}
}

func (a *LoginAttempt) ID() string           { return a.id }
func (a *LoginAttempt) SetID(id string)      { a.id = id }
func (a *LoginAttempt) CreatedAt() time.Time { return a.StartedAt }

func (a *LoginAttempt) UpdatedAt() time.Time {
	if a.FinishedAt != nil {
		return *a.FinishedAt
	}
	return a.StartedAt
}

// Finish stamps the terminal event, the resulting user id (if any) and the failure (if any).
func (a *LoginAttempt) Finish(event LoginEvent, musicID int64, err error) {
	now := time.Now().UTC()
	a.Event = event
	a.MusicID = musicID
	if err != nil {
		a.Err = err.Error()
	}
	a.FinishedAt = &now
}

func (a *LoginAttempt) Validate() error {
	if a.Provider == "" {
		return fmt.Errorf("provider is required")
	}
	if a.StartedAt.IsZero() {
		return fmt.Errorf("started_at is required")
	}
	return nil
}
