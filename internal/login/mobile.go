package login

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/desertthunder/qmx/internal/models"
	"github.com/desertthunder/qmx/internal/mqtt"
	"github.com/desertthunder/qmx/internal/services"
	"github.com/desertthunder/qmx/internal/shared"
)

const (
	mobileTopicPrefix = "management.qrcode_login/"
	mobileUserAgent   = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"
)

// ErrWatchDone is returned by [MobileWatcher.Next] after the terminal event has been delivered.
var ErrWatchDone = errors.New("login watch finished")

type mobileQRData struct {
	QRCode   string `json:"qrcode"`
	QRCodeID string `json:"qrcodeID"`
}

func (f *Flow) mobileQRCode(ctx context.Context) (*models.QRArtifact, error) {
	res, err := f.session.Call(ctx, services.Request{
		Module: loginModule,
		Method: "CreateQRCode",
		Params: map[string]any{
			"tmeAppID": "qqmusic",
			"ct":       11,
			"cv":       f.session.Config().VersionCode,
		},
	})
	if err != nil {
		return nil, err
	}

	var data mobileQRData
	if err := res.Decode(&data); err != nil {
		return nil, loginError(ProviderMobile, "invalid QR response", err)
	}
	if data.QRCodeID == "" || data.QRCode == "" {
		return nil, loginError(ProviderMobile, "failed to fetch QR code", nil)
	}

	encoded := data.QRCode[strings.LastIndex(data.QRCode, ",")+1:]
	img, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, loginError(ProviderMobile, "invalid QR image", err)
	}
	return &models.QRArtifact{Data: img, MimeType: "image/png", Type: models.QRLoginMobile, Identifier: data.QRCodeID}, nil
}

// MobileWatcher streams the events of one mobile QR login.
//
// The first event is always [models.AwaitingScan]. The stream ends at the first terminal event,
// at which point the push connection is already closed; Close must still be deferred to cover
// abandonment and errors. Next and Close may be called from different goroutines.
type MobileWatcher struct {
	flow   *Flow
	qr     *models.QRArtifact
	client *mqtt.Client

	mu       sync.Mutex
	started  bool
	finished bool
}

// WatchMobile connects to the push service and subscribes to the artifact's login topic.
func (f *Flow) WatchMobile(ctx context.Context, qr *models.QRArtifact) (*MobileWatcher, error) {
	if qr == nil || qr.Type != models.QRLoginMobile {
		return nil, loginError(ProviderMobile, "unsupported QR type", shared.ErrUnsupportedQRType)
	}

	client := mqtt.New(mqtt.Options{
		Scheme:       f.opts.PushScheme,
		Host:         f.opts.PushHost,
		Path:         f.opts.PushPath,
		ClientID:     mobileClientID(),
		KeepAlive:    f.opts.KeepAlive,
		MaxRedirects: f.opts.MaxRedirects,
		Dialer:       f.opts.Dialer,
		Logger:       f.logger,
		Header: http.Header{
			"Origin":     {"https://y.qq.com"},
			"Referer":    {"https://y.qq.com/"},
			"User-Agent": {mobileUserAgent},
		},
	})

	err := client.Connect(ctx, mqtt.ConnectProperties{
		AuthMethod: "pass",
		User: []mqtt.UserProperty{
			{Key: "tmeAppID", Value: "qqmusic"},
			{Key: "business", Value: "management"},
			{Key: "hashTag", Value: qr.Identifier},
			{Key: "clientTag", Value: "management.user"},
			{Key: "userID", Value: qr.Identifier},
		},
	})
	if err != nil {
		client.Close()
		if errors.Is(err, mqtt.ErrTooManyRedirects) {
			return nil, loginError(ProviderMobile, "too many redirects", err)
		}
		return nil, fmt.Errorf("failed to connect push service: %w", err)
	}

	err = client.Subscribe(ctx, mobileTopicPrefix+qr.Identifier, []mqtt.UserProperty{
		{Key: "authorization", Value: "tmelogin"},
		{Key: "pubsub", Value: "unicast"},
	})
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to subscribe login topic: %w", err)
	}

	f.logger.Debug("watching mobile qr", "provider", ProviderMobile)
	return &MobileWatcher{flow: f, qr: qr, client: client}, nil
}

// Next blocks until the next login event. The credential is non-nil only for [models.Confirmed].
// Push messages of unknown type are skipped. After a terminal event Next returns [ErrWatchDone].
func (w *MobileWatcher) Next(ctx context.Context) (models.LoginEvent, *models.Credential, error) {
	w.mu.Lock()
	done, first := w.finished, !w.started
	w.started = true
	w.mu.Unlock()
	if done {
		return models.Unknown, nil, ErrWatchDone
	}
	if first {
		return models.AwaitingScan, nil, nil
	}

	for {
		msg, err := w.client.Next(ctx)
		if err != nil {
			w.Close()
			return models.Unknown, nil, err
		}

		w.flow.logger.Debug("push message", "provider", ProviderMobile, "event", msg.Type)
		switch msg.Type {
		case "scanned":
			return models.Scanned, nil, nil
		case "cookies":
			cred, err := w.exchange(ctx, msg)
			w.Close()
			if err != nil {
				return models.Unknown, nil, err
			}
			if cred == nil {
				return models.Unknown, nil, nil
			}
			return models.Confirmed, cred, nil
		case "canceled":
			w.Close()
			return models.Refused, nil, nil
		case "timeout":
			w.Close()
			return models.Expired, nil, nil
		case "loginFailed":
			w.Close()
			return models.Unknown, nil, nil
		}
	}
}

// exchange turns a cookies push into a credential. A push without cookies yields nil.
func (w *MobileWatcher) exchange(ctx context.Context, msg *mqtt.Message) (*models.Credential, error) {
	var body struct {
		Cookies map[string]json.RawMessage `json:"cookies"`
	}
	if len(msg.Payload) == 0 || msg.JSON(&body) != nil || len(body.Cookies) == 0 {
		return nil, nil
	}

	cookies := mqtt.NormalizeCookies(body.Cookies)
	musicID, _ := strconv.ParseInt(cookies["qqmusic_uin"], 10, 64)

	return exchange(ctx, w.flow.session, ProviderMobile, loginModule, "Login", models.LoginTypeMobile, map[string]any{
		"musicid":  musicID,
		"qrCodeID": w.qr.Identifier,
		"token":    cookies["qqmusic_key"],
	})
}

// Close releases the push connection. It is safe to call more than once.
func (w *MobileWatcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.finished {
		return nil
	}
	w.finished = true
	return w.client.Close()
}

func mobileClientID() string {
	return strconv.FormatInt(time.Now().UnixMilli(), 10) + strconv.Itoa(1000+rand.IntN(9000))
}
