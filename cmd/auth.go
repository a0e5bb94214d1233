package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/desertthunder/qmx/internal/formatter"
	"github.com/desertthunder/qmx/internal/login"
	"github.com/desertthunder/qmx/internal/models"
	"github.com/desertthunder/qmx/internal/shared"
	"github.com/desertthunder/qmx/internal/tasks"
	"github.com/desertthunder/qmx/internal/ui"
	"github.com/urfave/cli/v3"
)

type statusOutput struct {
	MusicID    int64  `json:"musicid"`
	LoginType  string `json:"login_type"`
	Expired    bool   `json:"expired"`
	CanRefresh bool   `json:"can_refresh"`
	ExpiresAt  int64  `json:"expired_at,omitempty"`
}

// AuthStatus probes the stored credential with a lightweight authenticated call.
func (r *Runner) AuthStatus(ctx context.Context, cmd *cli.Command) error {
	db, creds, _, err := r.stores()
	if err != nil {
		return err
	}
	defer db.Close()

	cred, err := lookup(creds, cmd.Int64("musicid"))
	if err != nil {
		return err
	}

	expired, err := login.CheckExpired(ctx, nil, cred)
	if err != nil {
		return fmt.Errorf("failed to check credential: %w", err)
	}

	status := ui.CredentialStatus{
		MusicID:    cred.MusicID,
		LoginType:  cred.LoginType,
		Expired:    expired,
		CanRefresh: cred.CanRefresh(),
		ExpiresAt:  cred.ExpiredAt,
	}

	if cmd.Bool("json") {
		return r.writeJSON(statusOutput{
			MusicID:    status.MusicID,
			LoginType:  ui.LoginTypeName(status.LoginType),
			Expired:    status.Expired,
			CanRefresh: status.CanRefresh,
			ExpiresAt:  status.ExpiresAt,
		}, true)
	}
	return r.writePlain("%s\n", ui.RenderCredential(r.palette, status))
}

type listEntry struct {
	MusicID    int64  `json:"musicid"`
	LoginType  string `json:"login_type"`
	CanRefresh bool   `json:"can_refresh"`
	ExpiresAt  int64  `json:"expired_at,omitempty"`
}

// AuthList prints every stored credential, most recently saved first.
func (r *Runner) AuthList(ctx context.Context, cmd *cli.Command) error {
	db, creds, _, err := r.stores()
	if err != nil {
		return err
	}
	defer db.Close()

	list, err := creds.List()
	if err != nil {
		return fmt.Errorf("failed to list credentials: %w", err)
	}

	entries := make([]listEntry, 0, len(list))
	for _, c := range list {
		entries = append(entries, listEntry{
			MusicID:    c.MusicID,
			LoginType:  ui.LoginTypeName(c.LoginType),
			CanRefresh: c.CanRefresh(),
			ExpiresAt:  c.ExpiredAt,
		})
	}

	if cmd.Bool("json") {
		return r.writeJSON(entries, true)
	}
	if len(entries) == 0 {
		return r.writePlain("No stored credentials. Run 'qmx login' to sign in.\n")
	}

	if err := r.writePlain("Stored credentials: %d\n\n", len(entries)); err != nil {
		return err
	}
	for i, e := range entries {
		refresh := "no"
		if e.CanRefresh {
			refresh = "yes"
		}
		if err := r.writePlain("%d. %d (%s) refreshable: %s\n", i+1, e.MusicID, e.LoginType, refresh); err != nil {
			return err
		}
	}
	return nil
}

// AuthRefresh renews the stored credential when the service reports it expired.
func (r *Runner) AuthRefresh(ctx context.Context, cmd *cli.Command) error {
	db, creds, _, err := r.stores()
	if err != nil {
		return err
	}
	defer db.Close()

	keeper := tasks.NewKeeper(nil, creds, r.logger)

	res, err := keeper.Ensure(ctx, cmd.Int64("musicid"), nil)
	if err != nil {
		if errors.Is(err, shared.ErrTokenExpired) {
			return fmt.Errorf("%w: run 'qmx login' to sign in again", err)
		}
		return err
	}

	if res.Refreshed {
		return r.writePlain("%s\n", r.palette.OK(fmt.Sprintf("✓ Credential for %d refreshed", res.Credential.MusicID)))
	}
	return r.writePlain("Credential for %d is still valid\n", res.Credential.MusicID)
}

// AuthLogout deletes the stored credential.
func (r *Runner) AuthLogout(ctx context.Context, cmd *cli.Command) error {
	db, creds, _, err := r.stores()
	if err != nil {
		return err
	}
	defer db.Close()

	cred, err := lookup(creds, cmd.Int64("musicid"))
	if err != nil {
		return err
	}

	if err := creds.Delete(cred.MusicID); err != nil {
		return err
	}

	r.logger.Info("credential deleted", "musicid", cred.MusicID)
	return r.writePlain("✓ Signed out %d\n", cred.MusicID)
}

// AuthHistory lists recorded login attempts as text or CSV.
func (r *Runner) AuthHistory(ctx context.Context, cmd *cli.Command) error {
	db, _, attempts, err := r.stores()
	if err != nil {
		return err
	}
	defer db.Close()

	criteria := map[string]any{"limit": cmd.Int("limit")}
	if p := cmd.String("provider"); p != "" {
		criteria["provider"] = p
	}

	list, err := attempts.List(criteria)
	if err != nil {
		return err
	}

	var data []byte
	switch format := cmd.String("format"); format {
	case "csv":
		if out := cmd.String("output"); out != "" {
			if err := formatter.WriteAttemptsCSV(list, out); err != nil {
				return err
			}
			return r.writePlain("✓ Wrote %d attempts to %s\n", len(list), out)
		}
		data, err = formatter.ExportAttemptsCSV(list)
	case "text":
		data, err = formatter.ExportAttemptsText(list)
	default:
		return fmt.Errorf("%w: unknown format %q", shared.ErrInvalidFlag, format)
	}
	if err != nil {
		return err
	}

	return r.writePlain("%s", data)
}

type credentialGetter interface {
	Get(musicID int64) (*models.Credential, error)
	Current() (*models.Credential, error)
}

func lookup(store credentialGetter, musicID int64) (*models.Credential, error) {
	var cred *models.Credential
	var err error
	if musicID == 0 {
		cred, err = store.Current()
	} else {
		cred, err = store.Get(musicID)
	}
	if errors.Is(err, shared.ErrCredentialNotFound) {
		return nil, fmt.Errorf("%w: run 'qmx login' first", shared.ErrNotAuthenticated)
	}
	return cred, err
}
