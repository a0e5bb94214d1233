package login

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/qmx/internal/models"
	"github.com/desertthunder/qmx/internal/services"
	"github.com/desertthunder/qmx/internal/shared"
	"github.com/gorilla/websocket"
)

// Flow tags used as LoginError prefixes.
const (
	ProviderQQ     = "QQLogin"
	ProviderWX     = "WXLogin"
	ProviderMobile = "MobileLogin"
	ProviderPhone  = "PhoneLogin"
)

const loginModule = "music.login.LoginServer"

// LoginError is an operational failure of one login flow.
type LoginError struct {
	Provider string
	Message  string
	Err      error
}

func (e *LoginError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Provider, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Provider, e.Message)
}

func (e *LoginError) Unwrap() error { return e.Err }

func loginError(provider, msg string, err error) error {
	return &LoginError{Provider: provider, Message: msg, Err: err}
}

// Options configure a [Flow]. Zero values fall back to the production endpoints.
type Options struct {
	WXPollTimeout time.Duration

	PushScheme   string
	PushHost     string
	PushPath     string
	KeepAlive    time.Duration
	MaxRedirects int // see mqtt.Options; negative disables redirects
	Dialer       *websocket.Dialer

	Logger *log.Logger
}

// OptionsFrom maps the [shared.LoginConfig] section onto [Options].
// A max_redirects of 0 or below turns push redirects off.
func OptionsFrom(c shared.LoginConfig, logger *log.Logger) Options {
	redirects := c.MaxRedirects
	if redirects <= 0 {
		redirects = -1
	}
	return Options{
		WXPollTimeout: c.WXTimeout(),
		PushHost:      c.PushHost,
		PushPath:      c.PushPath,
		KeepAlive:     time.Duration(c.KeepAlive) * time.Second,
		MaxRedirects:  redirects,
		Logger:        logger,
	}
}

// Flow runs QR logins over one session.
type Flow struct {
	session *services.Session
	opts    Options
	logger  *log.Logger
}

// NewFlow returns a flow using sess for every request.
func NewFlow(sess *services.Session, opts Options) *Flow {
	if opts.WXPollTimeout <= 0 {
		opts.WXPollTimeout = 30 * time.Second
	}
	if opts.PushScheme == "" {
		opts.PushScheme = "wss"
	}
	if opts.PushHost == "" {
		opts.PushHost = "mu.y.qq.com"
	}
	if opts.PushPath == "" {
		opts.PushPath = "/ws/handshake"
	}
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = 45 * time.Second
	}
	return &Flow{session: sess, opts: opts, logger: shared.OrDiscard(opts.Logger)}
}

// Session returns the session the flow calls through.
func (f *Flow) Session() *services.Session { return f.session }

// GetQRCode acquires a QR artifact for typ.
func (f *Flow) GetQRCode(ctx context.Context, typ models.QRLoginType) (*models.QRArtifact, error) {
	f.logger.Debug("requesting qr code", "provider", typ)
	switch typ {
	case models.QRLoginQQ:
		return f.qqQRCode(ctx)
	case models.QRLoginWX:
		return f.wxQRCode(ctx)
	case models.QRLoginMobile:
		return f.mobileQRCode(ctx)
	}
	return nil, fmt.Errorf("%w: %q", shared.ErrUnsupportedQRType, typ)
}

// CheckQRCode polls a QQ or WX artifact once. The credential is non-nil only for [models.Confirmed].
// Mobile artifacts are push based and must go through [Flow.WatchMobile].
func (f *Flow) CheckQRCode(ctx context.Context, qr *models.QRArtifact) (models.LoginEvent, *models.Credential, error) {
	if qr == nil || qr.Identifier == "" {
		return models.Unknown, nil, fmt.Errorf("%w: missing QR identifier", shared.ErrMissingArgument)
	}
	switch qr.Type {
	case models.QRLoginQQ:
		return f.checkQQ(ctx, qr.Identifier)
	case models.QRLoginWX:
		return f.checkWX(ctx, qr.Identifier)
	}
	return models.Unknown, nil, loginError(string(qr.Type), "polling not supported", shared.ErrUnsupportedQRType)
}

// exchange calls a login method with the given tmeLoginType and builds the credential,
// translating expiry and known result codes into flow errors.
func exchange(ctx context.Context, sess *services.Session, provider, module, method string, loginType int, params map[string]any) (*models.Credential, error) {
	res, err := sess.Call(ctx, services.Request{
		Module: module,
		Method: method,
		Params: params,
		Common: map[string]any{"tmeLoginType": fmt.Sprint(loginType)},
	})
	if err != nil {
		var rce *services.ResponseCodeError
		switch {
		case services.IsExpired(err):
			return nil, loginError(provider, "cannot re-authorize", err)
		case errors.As(err, &rce) && rce.Code == codeDeviceLimit:
			return nil, loginError(provider, "device limit reached", err)
		case errors.As(err, &rce):
			return nil, loginError(provider, fmt.Sprintf("unknown error: %d - %s", rce.Code, rce.Message), err)
		}
		return nil, err
	}

	cred, err := models.CredentialFromLogin(res.Data)
	if err != nil {
		return nil, loginError(provider, "invalid login response", err)
	}
	return cred, nil
}
