package login

import (
	"context"
	"fmt"

	"github.com/desertthunder/qmx/internal/models"
	"github.com/desertthunder/qmx/internal/services"
	"github.com/desertthunder/qmx/internal/shared"
)

// CheckExpired probes a low-privilege endpoint with cred.
// Only the expiry signal counts as expired; any other failure is returned as an error.
// A nil sess resolves to the session of ctx.
func CheckExpired(ctx context.Context, sess *services.Session, cred *models.Credential) (bool, error) {
	if cred == nil {
		return false, fmt.Errorf("%w: nil credential", shared.ErrMissingCredentials)
	}
	sess, err := services.Resolve(ctx, sess)
	if err != nil {
		return false, err
	}
	_, err = sess.Call(ctx, services.Request{
		Module:     "music.UserInfo.userInfoServer",
		Method:     "GetLoginUserInfo",
		Params:     map[string]any{},
		Credential: cred,
	})
	switch {
	case err == nil:
		return false, nil
	case services.IsExpired(err):
		return true, nil
	}
	return false, err
}

// Refresh renews cred in place from its refresh material.
//
// A rejected refresh reports false and leaves cred untouched, as does a credential without
// refresh material. Other failures are returned as errors. A nil sess resolves to the session of ctx.
func Refresh(ctx context.Context, sess *services.Session, cred *models.Credential) (bool, error) {
	if cred == nil {
		return false, fmt.Errorf("%w: nil credential", shared.ErrMissingCredentials)
	}
	if !cred.CanRefresh() {
		return false, nil
	}
	sess, err := services.Resolve(ctx, sess)
	if err != nil {
		return false, err
	}

	res, err := sess.Call(ctx, services.Request{
		Module: loginModule,
		Method: "Login",
		Params: map[string]any{
			"refresh_key":   cred.RefreshKey,
			"refresh_token": cred.RefreshToken,
			"musickey":      cred.MusicKey,
			"musicid":       cred.MusicID,
		},
		Common:     map[string]any{"tmeLoginType": cred.LoginTypeTag()},
		Credential: cred,
	})
	if err != nil {
		if services.IsExpired(err) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %w", shared.ErrRefreshFailed, err)
	}

	next, err := models.CredentialFromLogin(res.Data)
	if err != nil {
		return false, fmt.Errorf("%w: %w", shared.ErrRefreshFailed, err)
	}
	cred.Replace(next)
	return true, nil
}
