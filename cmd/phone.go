package main

import (
	"context"
	"fmt"

	"github.com/desertthunder/qmx/internal/login"
	"github.com/desertthunder/qmx/internal/repositories"
	"github.com/desertthunder/qmx/internal/services"
	"github.com/desertthunder/qmx/internal/shared"
	"github.com/desertthunder/qmx/internal/ui"
	"github.com/urfave/cli/v3"
)

// PhoneSend requests an SMS authorization code.
func (r *Runner) PhoneSend(ctx context.Context, cmd *cli.Command) error {
	phone := cmd.String("phone")
	country := cmd.Int("country")

	return services.Scope(ctx, r.sessionOpts(nil), func(ctx context.Context, sess *services.Session) error {
		event, detail, err := login.SendAuthCode(ctx, sess, phone, country)
		if err != nil {
			return fmt.Errorf("failed to send authorization code: %w", err)
		}

		r.logger.Debug("auth code requested", "event", event)

		switch event {
		case login.PhoneSent:
			return r.writePlain("%s\n", r.palette.OK("✓ Code sent to +"+fmt.Sprint(country)+" "+phone))
		case login.PhoneCaptcha:
			r.writePlain("%s\n", r.palette.Warn("Verification required before a code can be sent"))
			return r.writePlain("Open %s, then run this command again\n", detail)
		case login.PhoneFrequency:
			return fmt.Errorf("%w: too many code requests, try again later", shared.ErrAuthFailed)
		}
		return fmt.Errorf("%w: %s", shared.ErrAuthFailed, detail)
	})
}

// PhoneVerify exchanges the SMS code for a credential and stores it.
func (r *Runner) PhoneVerify(ctx context.Context, cmd *cli.Command) error {
	phone := cmd.String("phone")
	country := cmd.Int("country")
	code := cmd.String("code")

	db, err := r.openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()
	creds := repositories.NewCredentialRepository(db)

	return services.Scope(ctx, r.sessionOpts(nil), func(ctx context.Context, sess *services.Session) error {
		cred, err := login.PhoneAuthorize(ctx, sess, phone, code, country)
		if err != nil {
			return fmt.Errorf("%w: %w", shared.ErrAuthFailed, err)
		}

		if err := creds.Save(cred); err != nil {
			return fmt.Errorf("failed to persist credential: %w", err)
		}

		r.logger.Info("phone login confirmed", "musicid", cred.MusicID)
		return r.writePlainln("Signed in as %d (%s)", cred.MusicID, ui.LoginTypeName(cred.LoginType))
	})
}
