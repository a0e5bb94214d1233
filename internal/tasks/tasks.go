// package tasks drives login attempts to completion and keeps stored credentials usable.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/qmx/internal/login"
	"github.com/desertthunder/qmx/internal/models"
	"github.com/desertthunder/qmx/internal/shared"
	"golang.org/x/time/rate"
)

// DefaultPollInterval spaces QQ and WX status polls.
const DefaultPollInterval = 2 * time.Second

// CredentialStore persists credentials. Implemented by repositories.CredentialRepository.
type CredentialStore interface {
	Save(cred *models.Credential) error
	Get(musicID int64) (*models.Credential, error)
	Current() (*models.Credential, error)
}

// AttemptRecorder records login attempts. Implemented by repositories.LoginAttemptRepository.
type AttemptRecorder interface {
	Create(a *models.LoginAttempt) error
	Update(a *models.LoginAttempt) error
}

// QRLoginOptions configure a [QRLoginTask]. Store and Attempts are optional.
type QRLoginOptions struct {
	PollInterval time.Duration
	QRDir        string // where the QR image is written, "" skips writing
	Store        CredentialStore
	Attempts     AttemptRecorder
	Logger       *log.Logger
}

// QRLoginResult is the outcome of one QR login attempt.
type QRLoginResult struct {
	QR         *models.QRArtifact
	QRPath     string
	Event      models.LoginEvent // terminal event
	Credential *models.Credential
	Steps      int // events observed, including the terminal one
}

// QRLoginTask runs one QR login from acquisition to a terminal event.
type QRLoginTask struct {
	flow   *login.Flow
	opts   QRLoginOptions
	logger *log.Logger
}

// NewQRLoginTask creates a task running logins through flow.
func NewQRLoginTask(flow *login.Flow, opts QRLoginOptions) *QRLoginTask {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	return &QRLoginTask{flow: flow, opts: opts, logger: shared.OrDiscard(opts.Logger)}
}

// Run acquires a QR code for typ and waits for the login to finish.
//
// QQ and WX logins are polled at most once per PollInterval; mobile logins consume the push stream.
// A confirmed login returns the credential, persisted when a store is configured. Any other
// terminal event returns the partial result with an error wrapping [shared.ErrAuthFailed].
func (t *QRLoginTask) Run(ctx context.Context, typ models.QRLoginType, progress chan<- ProgressUpdate) (*QRLoginResult, error) {
	attempt := models.NewLoginAttempt(string(typ))
	t.record(attempt, true)

	result, err := t.run(ctx, typ, progress)

	musicID := int64(0)
	if result.Credential != nil {
		musicID = result.Credential.MusicID
	}
	attempt.Finish(result.Event, musicID, err)
	t.record(attempt, false)

	return result, err
}

func (t *QRLoginTask) run(ctx context.Context, typ models.QRLoginType, progress chan<- ProgressUpdate) (*QRLoginResult, error) {
	result := &QRLoginResult{Event: models.Unknown}
	logger := shared.WithLogger(t.logger, "provider", typ)

	qr, err := t.flow.GetQRCode(ctx, typ)
	if err != nil {
		return result, fmt.Errorf("failed to get QR code: %w", err)
	}
	result.QR = qr
	sendProgress(progress, acquiredUpdate(qr))

	if t.opts.QRDir != "" {
		path, err := qr.Save(t.opts.QRDir)
		if err != nil {
			return result, err
		}
		result.QRPath = path
		sendProgress(progress, savedUpdate(path))
		logger.Info("qr code saved", "path", path)
	}

	emit := func(ev models.LoginEvent) {
		result.Steps++
		result.Event = ev
		sendProgress(progress, eventUpdate(result.Steps, ev))
		logger.Debug("login event", "event", ev, "attempt", result.Steps)
	}

	var cred *models.Credential
	if typ == models.QRLoginMobile {
		cred, err = t.watch(ctx, qr, emit)
	} else {
		cred, err = t.poll(ctx, qr, emit)
	}
	if err != nil {
		return result, err
	}

	if result.Event != models.Confirmed {
		return result, fmt.Errorf("%w: login ended with %s", shared.ErrAuthFailed, result.Event)
	}
	result.Credential = cred

	if t.opts.Store != nil {
		if err := t.opts.Store.Save(cred); err != nil {
			return result, fmt.Errorf("failed to persist credential: %w", err)
		}
		sendProgress(progress, persistedUpdate(cred.MusicID))
	}
	logger.Info("login confirmed", "musicid", cred.MusicID)
	return result, nil
}

func (t *QRLoginTask) poll(ctx context.Context, qr *models.QRArtifact, emit func(models.LoginEvent)) (*models.Credential, error) {
	limiter := rate.NewLimiter(rate.Every(t.opts.PollInterval), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			return nil, err
		}
		ev, cred, err := t.flow.CheckQRCode(ctx, qr)
		if err != nil {
			return nil, err
		}
		emit(ev)
		if ev.Terminal() {
			return cred, nil
		}
	}
}

func (t *QRLoginTask) watch(ctx context.Context, qr *models.QRArtifact, emit func(models.LoginEvent)) (*models.Credential, error) {
	w, err := t.flow.WatchMobile(ctx, qr)
	if err != nil {
		return nil, err
	}
	defer w.Close()

	for {
		ev, cred, err := w.Next(ctx)
		if err != nil {
			if errors.Is(err, login.ErrWatchDone) {
				return nil, fmt.Errorf("%w: push stream ended without a terminal event", shared.ErrAuthFailed)
			}
			return nil, err
		}
		emit(ev)
		if ev.Terminal() {
			return cred, nil
		}
	}
}

// record stores the attempt; history is best effort and never fails the login.
func (t *QRLoginTask) record(a *models.LoginAttempt, create bool) {
	if t.opts.Attempts == nil {
		return
	}
	var err error
	if create {
		err = t.opts.Attempts.Create(a)
	} else if a.ID() != "" {
		err = t.opts.Attempts.Update(a)
	}
	if err != nil {
		t.logger.Warn("failed to record login attempt", "provider", a.Provider, "error", err)
	}
}
