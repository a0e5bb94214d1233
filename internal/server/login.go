package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/qmx/internal/login"
	"github.com/desertthunder/qmx/internal/models"
	"github.com/desertthunder/qmx/internal/services"
	"github.com/desertthunder/qmx/internal/shared"
)

// DefaultAttemptTTL bounds how long an attempt stays pollable.
const DefaultAttemptTTL = 5 * time.Minute

// CredentialStore is the persistence the login routes need. Implemented by repositories.CredentialRepository.
type CredentialStore interface {
	Save(cred *models.Credential) error
	Get(musicID int64) (*models.Credential, error)
	Current() (*models.Credential, error)
	Delete(musicID int64) error
}

// FlowFunc builds the flow for one attempt. Each attempt gets its own session so cookies never mix.
type FlowFunc func(ctx context.Context) (*login.Flow, error)

// LoginHandlerOpts configure a [LoginHandler].
type LoginHandlerOpts struct {
	NewFlow FlowFunc
	Store   CredentialStore
	Session *services.Session // used for credential expiry checks
	TTL     time.Duration
	Logger  *log.Logger
}

type attempt struct {
	flow    *login.Flow
	qr      *models.QRArtifact
	created time.Time
	polling sync.Mutex

	mu      sync.Mutex
	event   models.LoginEvent
	done    bool
	musicID int64
	err     error
}

func (a *attempt) snapshot() statusResponse {
	a.mu.Lock()
	defer a.mu.Unlock()
	resp := statusResponse{Event: a.event.String(), Done: a.done, MusicID: a.musicID}
	if a.err != nil {
		resp.Error = a.err.Error()
	}
	return resp
}

// LoginHandler serves the browser-facing QR login routes and the stored credential.
//
// Pending attempts live in memory keyed by attempt id. QQ and WX attempts advance when their
// status is requested; mobile attempts drain their push stream in a background goroutine.
type LoginHandler struct {
	opts   LoginHandlerOpts
	logger *log.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	attempts map[string]*attempt
}

// NewLoginHandler creates a handler. Close releases background watchers.
func NewLoginHandler(opts LoginHandlerOpts) *LoginHandler {
	if opts.TTL <= 0 {
		opts.TTL = DefaultAttemptTTL
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &LoginHandler{
		opts:     opts,
		logger:   shared.OrDiscard(opts.Logger),
		ctx:      ctx,
		cancel:   cancel,
		attempts: make(map[string]*attempt),
	}
}

// Routes returns the login and credential routes.
func (h *LoginHandler) Routes() []Route {
	return []Route{
		{Method: http.MethodPost, Path: "/login/qrcode", Handler: http.HandlerFunc(h.createQR)},
		{Method: http.MethodGet, Path: "/login/qrcode/status", Handler: http.HandlerFunc(h.status)},
		{Method: http.MethodGet, Path: "/credential", Handler: http.HandlerFunc(h.credential)},
		{Method: http.MethodDelete, Path: "/credential", Handler: http.HandlerFunc(h.deleteCredential)},
	}
}

// Close stops mobile watchers and waits for them.
func (h *LoginHandler) Close() {
	h.cancel()
	h.wg.Wait()

	h.mu.Lock()
	defer h.mu.Unlock()
	for id, a := range h.attempts {
		a.flow.Session().Close()
		delete(h.attempts, id)
	}
}

type qrResponse struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	MimeType string `json:"mimetype"`
	Image    string `json:"image"`
}

type statusResponse struct {
	Event   string `json:"event"`
	Done    bool   `json:"done"`
	MusicID int64  `json:"musicid,omitempty"`
	Error   string `json:"error,omitempty"`
}

type credentialResponse struct {
	MusicID    int64 `json:"musicid"`
	LoginType  int   `json:"login_type"`
	Expired    bool  `json:"expired"`
	CanRefresh bool  `json:"can_refresh"`
}

func (h *LoginHandler) createQR(w http.ResponseWriter, r *http.Request) {
	typ, err := models.ParseQRLoginType(r.URL.Query().Get("type"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	flow, err := h.opts.NewFlow(r.Context())
	if err != nil {
		h.logger.Error("failed to create login flow", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	qr, err := flow.GetQRCode(r.Context(), typ)
	if err != nil {
		flow.Session().Close()
		h.logger.Warn("qr acquisition failed", "provider", typ, "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	a := &attempt{flow: flow, qr: qr, created: time.Now(), event: models.AwaitingScan}
	id := shared.GenerateID()

	if typ == models.QRLoginMobile {
		watchCtx, cancel := context.WithTimeout(h.ctx, h.opts.TTL)
		watcher, err := flow.WatchMobile(watchCtx, qr)
		if err != nil {
			cancel()
			flow.Session().Close()
			h.logger.Warn("push subscription failed", "provider", typ, "error", err)
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		h.wg.Add(1)
		go h.drain(watchCtx, cancel, a, watcher)
	}

	h.mu.Lock()
	h.evict()
	h.attempts[id] = a
	h.mu.Unlock()

	h.logger.Info("login attempt started", "provider", typ, "attempt", id)
	writeJSON(w, http.StatusCreated, qrResponse{
		ID:       id,
		Type:     string(qr.Type),
		MimeType: qr.MimeType,
		Image:    base64.StdEncoding.EncodeToString(qr.Data),
	})
}

// drain consumes a mobile push stream until it ends.
func (h *LoginHandler) drain(ctx context.Context, cancel context.CancelFunc, a *attempt, w *login.MobileWatcher) {
	defer h.wg.Done()
	defer cancel()
	defer w.Close()

	for {
		ev, cred, err := w.Next(ctx)
		if errors.Is(err, login.ErrWatchDone) {
			return
		}
		h.advance(a, ev, cred, err)
		if err != nil || ev.Terminal() {
			return
		}
	}
}

// advance records an observed event, persisting the credential on confirmation.
func (h *LoginHandler) advance(a *attempt, ev models.LoginEvent, cred *models.Credential, err error) {
	if err == nil && ev == models.Confirmed && cred != nil {
		err = h.opts.Store.Save(cred)
		if err == nil {
			h.logger.Info("login confirmed", "provider", a.qr.Type, "musicid", cred.MusicID)
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.event = ev
	if cred != nil {
		a.musicID = cred.MusicID
	}
	if err != nil {
		a.err = err
		a.event = models.Unknown
		a.done = true
		return
	}
	a.done = ev.Terminal()
}

func (h *LoginHandler) status(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}

	h.mu.Lock()
	a, ok := h.attempts[id]
	h.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "unknown login attempt")
		return
	}

	if a.qr.Type != models.QRLoginMobile {
		a.polling.Lock()
		if !a.snapshot().Done {
			ev, cred, err := a.flow.CheckQRCode(r.Context(), a.qr)
			if err != nil && r.Context().Err() != nil {
				a.polling.Unlock()
				return
			}
			h.advance(a, ev, cred, err)
		}
		a.polling.Unlock()
	}

	writeJSON(w, http.StatusOK, a.snapshot())
}

func (h *LoginHandler) credential(w http.ResponseWriter, r *http.Request) {
	cred, err := h.opts.Store.Current()
	if err != nil {
		h.storeError(w, err)
		return
	}

	expired, err := login.CheckExpired(r.Context(), h.opts.Session, cred)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, credentialResponse{
		MusicID:    cred.MusicID,
		LoginType:  cred.LoginType,
		Expired:    expired,
		CanRefresh: cred.CanRefresh(),
	})
}

func (h *LoginHandler) deleteCredential(w http.ResponseWriter, r *http.Request) {
	var musicID int64
	if raw := r.URL.Query().Get("musicid"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid musicid")
			return
		}
		musicID = id
	} else {
		cur, err := h.opts.Store.Current()
		if err != nil {
			h.storeError(w, err)
			return
		}
		musicID = cur.MusicID
	}

	if err := h.opts.Store.Delete(musicID); err != nil {
		h.storeError(w, err)
		return
	}
	h.logger.Info("credential removed", "musicid", musicID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *LoginHandler) storeError(w http.ResponseWriter, err error) {
	if errors.Is(err, shared.ErrCredentialNotFound) {
		writeError(w, http.StatusNotFound, "no stored credential")
		return
	}
	h.logger.Error("credential store failed", "error", err)
	writeError(w, http.StatusInternalServerError, "credential store failed")
}

// evict drops attempts past their TTL. Callers hold h.mu.
func (h *LoginHandler) evict() {
	for id, a := range h.attempts {
		if time.Since(a.created) > h.opts.TTL {
			a.flow.Session().Close()
			delete(h.attempts, id)
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
