package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/desertthunder/qmx/internal/login"
	"github.com/desertthunder/qmx/internal/models"
	"github.com/desertthunder/qmx/internal/services"
	"github.com/desertthunder/qmx/internal/tasks"
	"github.com/desertthunder/qmx/internal/ui"
	"github.com/urfave/cli/v3"
)

type loginOutput struct {
	MusicID   int64  `json:"musicid"`
	LoginType string `json:"login_type"`
	QRPath    string `json:"qr_path,omitempty"`
	Event     string `json:"event"`
	Steps     int    `json:"steps"`
}

// Login acquires a QR code, shows it, waits for the scan and stores the resulting credential.
func (r *Runner) Login(ctx context.Context, cmd *cli.Command) error {
	typ, err := models.ParseQRLoginType(cmd.String("type"))
	if err != nil {
		return err
	}

	qrDir := cmd.String("qr-dir")
	if qrDir == "" {
		qrDir = r.config.Login.QRDir
	}
	if qrDir == "" {
		qrDir = "."
	}

	db, creds, attempts, err := r.stores()
	if err != nil {
		return err
	}
	defer db.Close()

	asJSON := cmd.Bool("json")
	open := cmd.Bool("open")

	var result *tasks.QRLoginResult
	err = services.Scope(ctx, r.sessionOpts(nil), func(ctx context.Context, sess *services.Session) error {
		task := tasks.NewQRLoginTask(login.NewFlow(sess, r.loginOptions()), tasks.QRLoginOptions{
			PollInterval: r.config.Login.PollEvery(),
			QRDir:        qrDir,
			Store:        creds,
			Attempts:     attempts,
			Logger:       r.logger,
		})

		progress := make(chan tasks.ProgressUpdate, 32)
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.renderProgress(progress, open, !asJSON)
		}()

		var runErr error
		result, runErr = task.Run(ctx, typ, progress)
		close(progress)
		wg.Wait()
		return runErr
	})
	if err != nil {
		return err
	}

	if asJSON {
		return r.writeJSON(loginOutput{
			MusicID:   result.Credential.MusicID,
			LoginType: ui.LoginTypeName(result.Credential.LoginType),
			QRPath:    result.QRPath,
			Event:     result.Event.String(),
			Steps:     result.Steps,
		}, true)
	}

	return r.writePlainln("Signed in as %d (%s)", result.Credential.MusicID, ui.LoginTypeName(result.Credential.LoginType))
}

// renderProgress prints updates until progress is closed, opening the QR image once it is written.
func (r *Runner) renderProgress(progress <-chan tasks.ProgressUpdate, open, show bool) {
	for update := range progress {
		switch update.Phase {
		case tasks.SaveQR:
			if path, ok := update.Data.(string); ok && open {
				if err := r.openQR(path); err != nil {
					r.logger.Warn("failed to open QR code, open it manually", "path", path, "error", err)
				}
			}
		case tasks.AwaitLogin:
			if ev, ok := update.Data.(models.LoginEvent); ok && show {
				r.writePlain("%s\n", ui.RenderEvent(r.palette, ev, update.Message))
			}
			continue
		}
		if show {
			r.writePlain("%s\n", update.Message)
		}
	}
}

func (r *Runner) flowFor(ctx context.Context) (*login.Flow, error) {
	sess, err := services.NewSession(ctx, r.sessionOpts(nil))
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return login.NewFlow(sess, r.loginOptions()), nil
}
