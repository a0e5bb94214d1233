package tasks

import (
	"context"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/qmx/internal/login"
	"github.com/desertthunder/qmx/internal/models"
	"github.com/desertthunder/qmx/internal/services"
	"github.com/desertthunder/qmx/internal/shared"
)

// EnsureResult reports what [Keeper.Ensure] had to do.
type EnsureResult struct {
	Credential *models.Credential
	Refreshed  bool
}

// Keeper keeps stored credentials valid.
//
// Load, expiry check, refresh and persist run as one critical section per music id, so two
// callers never refresh the same credential concurrently.
type Keeper struct {
	sess   *services.Session
	store  CredentialStore
	logger *log.Logger

	mu    sync.Mutex
	locks map[int64]*keyLock
}

// keyLock is dropped from the map once no caller holds or waits for it.
type keyLock struct {
	sync.Mutex
	refs int
}

// NewKeeper creates a keeper checking credentials through sess. With a nil sess every
// [Keeper.Ensure] uses the session of its context.
func NewKeeper(sess *services.Session, store CredentialStore, logger *log.Logger) *Keeper {
	return &Keeper{sess: sess, store: store, logger: shared.OrDiscard(logger), locks: make(map[int64]*keyLock)}
}

func (k *Keeper) lock(musicID int64) func() {
	k.mu.Lock()
	l, ok := k.locks[musicID]
	if !ok {
		l = &keyLock{}
		k.locks[musicID] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		if l.refs--; l.refs == 0 {
			delete(k.locks, musicID)
		}
		k.mu.Unlock()
	}
}

// Ensure returns a usable credential for musicID, or for the current credential when musicID is 0.
//
// An expired credential is refreshed and saved back. When it cannot be renewed the error wraps
// [shared.ErrTokenExpired] and a new login is required.
func (k *Keeper) Ensure(ctx context.Context, musicID int64, progress chan<- ProgressUpdate) (*EnsureResult, error) {
	if musicID == 0 {
		cur, err := k.store.Current()
		if err != nil {
			return nil, err
		}
		musicID = cur.MusicID
	}

	unlock := k.lock(musicID)
	defer unlock()

	cred, err := k.store.Get(musicID)
	if err != nil {
		return nil, err
	}
	logger := k.logger.With("musicid", musicID)

	sendProgress(progress, checkingUpdate(musicID))
	expired, err := login.CheckExpired(ctx, k.sess, cred)
	if err != nil {
		return nil, fmt.Errorf("failed to check credential: %w", err)
	}
	if !expired {
		logger.Debug("credential valid")
		return &EnsureResult{Credential: cred}, nil
	}

	if !cred.CanRefresh() {
		logger.Warn("credential expired without refresh material")
		return nil, fmt.Errorf("%w: %w: credential for %d needs a new login", shared.ErrTokenExpired, shared.ErrNoRefreshToken, musicID)
	}

	sendProgress(progress, refreshingUpdate(musicID))
	refreshed, err := login.Refresh(ctx, k.sess, cred)
	if err != nil {
		return nil, err
	}
	if !refreshed {
		logger.Warn("credential expired and cannot be refreshed")
		return nil, fmt.Errorf("%w: credential for %d needs a new login", shared.ErrTokenExpired, musicID)
	}

	if err := k.store.Save(cred); err != nil {
		return nil, fmt.Errorf("failed to persist refreshed credential: %w", err)
	}
	sendProgress(progress, persistedUpdate(cred.MusicID))
	logger.Info("credential refreshed")
	return &EnsureResult{Credential: cred, Refreshed: true}, nil
}
