package login

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"time"

	"github.com/desertthunder/qmx/internal/models"
	"github.com/desertthunder/qmx/internal/services"
	"golang.org/x/oauth2"
)

const (
	wxAppID       = "wx48db31d50e334801"
	wxConnectURL  = "https://open.weixin.qq.com/connect/qrconnect"
	wxQRImageURL  = "https://open.weixin.qq.com/connect/qrcode/"
	wxPollURL     = "https://lp.open.weixin.qq.com/connect/l/qrconnect"
	wxRedirectURI = "https://y.qq.com/portal/wx_redirect.html?login_type=2&surl=https://y.qq.com/"
	wxStyleHref   = "https://y.qq.com/mediastyle/music_v17/src/css/popup_wechat.css#wechat_redirect"
)

var (
	wxUUIDPattern   = regexp.MustCompile(`uuid=(.+?)"`)
	wxStatusPattern = regexp.MustCompile(`window\.wx_errcode=(\d+);window\.wx_code='([^']*)'`)
)

// wxAuthConfig describes the WeChat web authorization page the QR is embedded in.
var wxAuthConfig = &oauth2.Config{
	ClientID:    wxAppID,
	RedirectURL: wxRedirectURI,
	Scopes:      []string{"snsapi_login"},
	Endpoint:    oauth2.Endpoint{AuthURL: wxConnectURL},
}

// wxAuthorizeURL is the qrconnect page URL. WeChat identifies the app by "appid" rather than client_id.
func wxAuthorizeURL() string {
	return wxAuthConfig.AuthCodeURL("STATE",
		oauth2.SetAuthURLParam("appid", wxAppID),
		oauth2.SetAuthURLParam("href", wxStyleHref),
	)
}

func (f *Flow) wxQRCode(ctx context.Context) (*models.QRArtifact, error) {
	resp, err := f.session.Fetch(ctx, services.HTTPRequest{URL: wxAuthorizeURL()})
	if err != nil {
		return nil, err
	}

	m := wxUUIDPattern.FindStringSubmatch(resp.Text())
	if m == nil || m[1] == "" {
		return nil, loginError(ProviderWX, "failed to obtain uuid", nil)
	}
	uuid := m[1]

	img, err := f.session.Fetch(ctx, services.HTTPRequest{
		URL:    wxQRImageURL + url.PathEscape(uuid),
		Header: http.Header{"Referer": {wxConnectURL}},
	})
	if err != nil {
		return nil, err
	}
	return &models.QRArtifact{Data: img.Body, MimeType: "image/jpeg", Type: models.QRLoginWX, Identifier: uuid}, nil
}

// checkWX long-polls the status endpoint. A poll that runs into the client timeout while ctx
// is still live means nobody has scanned yet.
func (f *Flow) checkWX(ctx context.Context, uuid string) (models.LoginEvent, *models.Credential, error) {
	resp, err := f.session.Fetch(ctx, services.HTTPRequest{
		URL: wxPollURL,
		Query: url.Values{
			"uuid": {uuid},
			"_":    {strconv.FormatInt(time.Now().Unix()*1000, 10)},
		},
		Header:  http.Header{"Referer": {"https://open.weixin.qq.com/"}},
		Timeout: f.opts.WXPollTimeout,
	})
	if err != nil {
		if ctx.Err() == nil && isTimeout(err) {
			f.logger.Debug("wx poll timed out", "provider", ProviderWX)
			return models.AwaitingScan, nil, nil
		}
		return models.Unknown, nil, err
	}

	m := wxStatusPattern.FindStringSubmatch(resp.Text())
	if m == nil {
		return models.Unknown, nil, loginError(ProviderWX, "failed to fetch QR status", nil)
	}

	code, err := strconv.Atoi(m[1])
	if err != nil {
		return models.Unknown, nil, nil
	}

	event := ClassifyCode(code)
	f.logger.Debug("wx qr status", "code", code, "event", event)
	if event != models.Confirmed {
		return event, nil, nil
	}

	if m[2] == "" {
		return models.Unknown, nil, loginError(ProviderWX, "failed to obtain code", nil)
	}

	cred, err := exchange(ctx, f.session, ProviderWX, loginModule, "Login", models.LoginTypeWX,
		map[string]any{"code": m[2], "strAppid": wxAppID})
	if err != nil {
		return models.Unknown, nil, err
	}
	return models.Confirmed, cred, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
