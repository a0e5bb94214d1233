package login

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/desertthunder/qmx/internal/models"
	tu "github.com/desertthunder/qmx/internal/testing"
)

func TestWXAuthorizeURL(t *testing.T) {
	u, err := url.Parse(wxAuthorizeURL())
	if err != nil {
		t.Fatalf("invalid url: %v", err)
	}
	q := u.Query()
	if u.Host != "open.weixin.qq.com" || u.Path != "/connect/qrconnect" {
		t.Errorf("unexpected endpoint %s", u)
	}
	if q.Get("appid") != wxAppID || q.Get("response_type") != "code" || q.Get("scope") != "snsapi_login" {
		t.Errorf("unexpected query %v", q)
	}
	if q.Get("state") != "STATE" || q.Get("redirect_uri") != wxRedirectURI || q.Get("href") != wxStyleHref {
		t.Errorf("unexpected query %v", q)
	}
}

func TestWXQRCode(t *testing.T) {
	ctx := context.Background()

	t.Run("Acquire", func(t *testing.T) {
		p := tu.NewProviderServer(t)
		f := newTestFlow(t, p, Options{})

		qr, err := f.GetQRCode(ctx, models.QRLoginWX)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if qr.Identifier != "061abcDEF" || qr.MimeType != "image/jpeg" || string(qr.Data) != "fake-jpeg" {
			t.Errorf("unexpected artifact %+v", qr)
		}
	})

	t.Run("Missing UUID", func(t *testing.T) {
		p := tu.NewProviderServer(t)
		p.WXUUID = ""
		f := newTestFlow(t, p, Options{})

		_, err := f.GetQRCode(ctx, models.QRLoginWX)
		assertLoginError(t, err, ProviderWX, "uuid")
	})
}

func TestWXCheck(t *testing.T) {
	qr := &models.QRArtifact{Type: models.QRLoginWX, Identifier: "061abcDEF"}

	t.Run("Timeout Means Awaiting Scan", func(t *testing.T) {
		p := tu.NewProviderServer(t)
		p.WXStatus(tu.WXHang)
		f := newTestFlow(t, p, Options{WXPollTimeout: 50 * time.Millisecond})

		ev, cred, err := f.CheckQRCode(context.Background(), qr)
		if err != nil {
			t.Fatalf("timeout must not be an error: %v", err)
		}
		if ev != models.AwaitingScan || cred != nil {
			t.Errorf("expected awaiting scan, got %s", ev)
		}
	})

	t.Run("Caller Cancellation Is An Error", func(t *testing.T) {
		p := tu.NewProviderServer(t)
		p.WXStatus(tu.WXHang)
		f := newTestFlow(t, p, Options{WXPollTimeout: 5 * time.Second})

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, _, err := f.CheckQRCode(ctx, qr)
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("expected caller deadline to surface, got %v", err)
		}
	})

	t.Run("Status Sequence", func(t *testing.T) {
		p := tu.NewProviderServer(t)
		p.WXStatus(tu.WXStatusBody(408, ""), tu.WXStatusBody(404, ""), tu.WXStatusBody(405, "WXCODE"))
		p.HandleRPC(loginModule, "Login", func(tu.RPCCall) (int, any) { return 0, tu.LoginData(20002, "W_X_abc") })
		f := newTestFlow(t, p, Options{})

		events, cred, err := pollUntilTerminal(t, f, qr, 10)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := []models.LoginEvent{models.AwaitingScan, models.Scanned, models.Confirmed}
		for i := range want {
			if events[i] != want[i] {
				t.Errorf("event %d: expected %s, got %s", i, want[i], events[i])
			}
		}
		if cred == nil || cred.MusicID != 20002 || cred.LoginType != models.LoginTypeWX {
			t.Fatalf("unexpected credential %+v", cred)
		}

		call := p.Calls()[0]
		if call.Param["code"] != "WXCODE" || call.Param["strAppid"] != wxAppID || call.Comm["tmeLoginType"] != "1" {
			t.Errorf("unexpected exchange call %+v", call)
		}
	})

	t.Run("Empty Code", func(t *testing.T) {
		p := tu.NewProviderServer(t)
		p.WXStatus(tu.WXStatusBody(405, ""))
		f := newTestFlow(t, p, Options{})

		_, _, err := f.CheckQRCode(context.Background(), qr)
		assertLoginError(t, err, ProviderWX, "failed to obtain code")
		if len(p.Calls()) != 0 {
			t.Error("empty code must not be exchanged")
		}
	})

	t.Run("Expired Exchange", func(t *testing.T) {
		p := tu.NewProviderServer(t)
		p.WXStatus(tu.WXStatusBody(405, "WXCODE"))
		p.HandleRPC(loginModule, "Login", func(tu.RPCCall) (int, any) { return 1000, nil })
		f := newTestFlow(t, p, Options{})

		_, _, err := f.CheckQRCode(context.Background(), qr)
		assertLoginError(t, err, ProviderWX, "cannot re-authorize")
	})

	t.Run("Unparseable Status", func(t *testing.T) {
		p := tu.NewProviderServer(t)
		p.WXStatus("window.other=1;")
		f := newTestFlow(t, p, Options{})

		_, _, err := f.CheckQRCode(context.Background(), qr)
		assertLoginError(t, err, ProviderWX, "failed to fetch QR status")
	})

	t.Run("Unlisted Code", func(t *testing.T) {
		p := tu.NewProviderServer(t)
		p.WXStatus(tu.WXStatusBody(402, ""))
		f := newTestFlow(t, p, Options{})

		ev, _, err := f.CheckQRCode(context.Background(), qr)
		if err != nil || ev != models.Unknown {
			t.Errorf("expected unknown, got %s %v", ev, err)
		}
	})
}
