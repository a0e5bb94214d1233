package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/desertthunder/qmx/internal/models"
	"github.com/desertthunder/qmx/internal/repositories"
	"github.com/desertthunder/qmx/internal/server"
	"github.com/desertthunder/qmx/internal/services"
	"github.com/desertthunder/qmx/internal/shared"
	tu "github.com/desertthunder/qmx/internal/testing"
)

const loginModule = "music.login.LoginServer"

func seedCredential(t *testing.T, r *Runner, cred *models.Credential) {
	t.Helper()
	db, creds, _, err := r.stores()
	if err != nil {
		t.Fatalf("failed to open stores: %v", err)
	}
	defer db.Close()
	if err := creds.Save(cred); err != nil {
		t.Fatalf("failed to seed credential: %v", err)
	}
}

func storedCredential(t *testing.T, r *Runner, musicID int64) (*models.Credential, error) {
	t.Helper()
	db, creds, _, err := r.stores()
	if err != nil {
		t.Fatalf("failed to open stores: %v", err)
	}
	defer db.Close()
	return creds.Get(musicID)
}

func qqCredential(key string) *models.Credential {
	return &models.Credential{
		MusicID:      10001,
		MusicKey:     key,
		RefreshKey:   "rk",
		RefreshToken: "rt",
		LoginType:    models.LoginTypeQQ,
		ExpiredAt:    1900000000,
	}
}

// expireKey makes the user-info probe report expiry only for key.
func expireKey(p *tu.ProviderServer, key string) {
	p.HandleRPC("music.UserInfo.userInfoServer", "GetLoginUserInfo", func(call tu.RPCCall) (int, any) {
		if call.Comm["authst"] == key {
			return 1000, nil
		}
		return 0, map[string]any{}
	})
}

func TestLogin(t *testing.T) {
	t.Run("QQ Confirmed", func(t *testing.T) {
		p := tu.NewProviderServer(t)
		p.QQStatus(tu.QQStatusBody(0, "o0123456", "SIGX"))
		p.HandleRPC("QQConnectLogin.LoginServer", "QQLogin", func(tu.RPCCall) (int, any) {
			return 0, tu.LoginData(10001, "Q_H_L_cli")
		})

		r, output := newTestRunner(t, p)
		var opened []string
		r.openQR = func(path string) error {
			opened = append(opened, path)
			return nil
		}

		if err := run(r, "login", "--type", "qq"); err != nil {
			t.Fatalf("login failed: %v", err)
		}

		if !strings.Contains(output.String(), "Signed in as 10001 (qq)") {
			t.Errorf("unexpected output:\n%s", output.String())
		}
		if len(opened) != 1 {
			t.Fatalf("expected the QR image to be opened once, got %v", opened)
		}
		tu.AssertDirExists(t, r.config.Login.QRDir)
		tu.AssertFileExists(t, opened[0])
		if filepath.Dir(opened[0]) != r.config.Login.QRDir {
			t.Errorf("QR written outside the configured dir: %s", opened[0])
		}

		cred, err := storedCredential(t, r, 10001)
		if err != nil || cred.MusicKey != "Q_H_L_cli" {
			t.Fatalf("credential not stored: %v", err)
		}
	})

	t.Run("JSON Without Opening", func(t *testing.T) {
		p := tu.NewProviderServer(t)
		p.QQStatus(tu.QQStatusBody(0, "o0123456", "SIGX"))
		p.HandleRPC("QQConnectLogin.LoginServer", "QQLogin", func(tu.RPCCall) (int, any) {
			return 0, tu.LoginData(10001, "Q_H_L_cli")
		})

		r, output := newTestRunner(t, p)
		r.openQR = func(string) error {
			t.Error("QR must not be opened with --open=false")
			return nil
		}

		if err := run(r, "login", "--json", "--open=false", "--qr-dir", t.TempDir()); err != nil {
			t.Fatalf("login failed: %v", err)
		}

		var out loginOutput
		if err := json.Unmarshal(output.Bytes(), &out); err != nil {
			t.Fatalf("output is not JSON: %v\n%s", err, output.String())
		}
		if out.MusicID != 10001 || out.LoginType != "qq" || out.Event != "confirmed" || out.Steps != 1 {
			t.Errorf("unexpected result %+v", out)
		}
	})

	t.Run("Expired Records Attempt", func(t *testing.T) {
		p := tu.NewProviderServer(t)
		p.QQStatus(tu.QQStatusBody(65, "", ""))

		r, output := newTestRunner(t, p)
		err := run(r, "login")
		if !errors.Is(err, shared.ErrAuthFailed) {
			t.Fatalf("expected ErrAuthFailed, got %v", err)
		}

		output.Reset()
		if err := run(r, "auth", "history", "--format", "csv"); err != nil {
			t.Fatalf("history failed: %v", err)
		}
		if !strings.Contains(output.String(), ",qq,expired,") {
			t.Errorf("expected expired attempt in history:\n%s", output.String())
		}
	})

	t.Run("Bad Type", func(t *testing.T) {
		r, _ := newTestRunner(t, nil)
		if err := run(r, "login", "--type", "fax"); err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}

func TestPhone(t *testing.T) {
	t.Run("Send", func(t *testing.T) {
		tests := []struct {
			name    string
			code    int
			data    any
			want    string
			wantErr error
		}{
			{name: "Sent", code: 0, want: "Code sent to +86 13800000000"},
			{name: "Captcha", code: 20276, data: map[string]any{"securityURL": "https://verify.example/x"}, want: "Open https://verify.example/x"},
			{name: "Frequency", code: 100001, wantErr: shared.ErrAuthFailed},
			{name: "Unknown", code: 1, data: map[string]any{"errMsg": "blocked"}, wantErr: shared.ErrAuthFailed},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				p := tu.NewProviderServer(t)
				p.HandleRPC(loginModule, "SendPhoneAuthCode", func(tu.RPCCall) (int, any) {
					return tt.code, tt.data
				})

				r, output := newTestRunner(t, p)
				err := run(r, "phone", "send", "--phone", "13800000000")

				if tt.wantErr != nil {
					if !errors.Is(err, tt.wantErr) {
						t.Fatalf("expected %v, got %v", tt.wantErr, err)
					}
					return
				}
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if !strings.Contains(output.String(), tt.want) {
					t.Errorf("expected %q in output %q", tt.want, output.String())
				}
			})
		}
	})

	t.Run("Verify Stores Credential", func(t *testing.T) {
		p := tu.NewProviderServer(t)
		p.HandleRPC(loginModule, "Login", func(call tu.RPCCall) (int, any) {
			if call.Param["code"] != "123456" || call.Param["areaCode"] != "852" {
				return 20271, nil
			}
			return 0, tu.LoginData(20002, "Q_H_L_phone")
		})

		r, output := newTestRunner(t, p)
		if err := run(r, "phone", "verify", "--phone", "91234567", "--country", "852", "--code", "123456"); err != nil {
			t.Fatalf("verify failed: %v", err)
		}
		if !strings.Contains(output.String(), "Signed in as 20002") {
			t.Errorf("unexpected output %q", output.String())
		}
		if _, err := storedCredential(t, r, 20002); err != nil {
			t.Errorf("credential not stored: %v", err)
		}
	})

	t.Run("Verify Wrong Code", func(t *testing.T) {
		p := tu.NewProviderServer(t)
		p.HandleRPC(loginModule, "Login", func(tu.RPCCall) (int, any) { return 20271, nil })

		r, _ := newTestRunner(t, p)
		err := run(r, "phone", "verify", "--phone", "91234567", "--code", "000000")
		if !errors.Is(err, shared.ErrAuthFailed) {
			t.Errorf("expected ErrAuthFailed, got %v", err)
		}
	})

	t.Run("Missing Phone", func(t *testing.T) {
		r, _ := newTestRunner(t, nil)
		if err := run(r, "phone", "send"); err == nil {
			t.Error("expected required flag error")
		}
	})
}

func TestAuth(t *testing.T) {
	t.Run("Status", func(t *testing.T) {
		p := tu.NewProviderServer(t)
		expireKey(p, "none")
		r, output := newTestRunner(t, p)
		seedCredential(t, r, qqCredential("Q_H_L_ok"))

		if err := run(r, "auth", "status", "--json"); err != nil {
			t.Fatalf("status failed: %v", err)
		}

		var out statusOutput
		if err := json.Unmarshal(output.Bytes(), &out); err != nil {
			t.Fatalf("output is not JSON: %v", err)
		}
		if out.MusicID != 10001 || out.LoginType != "qq" || out.Expired || !out.CanRefresh || out.ExpiresAt != 1900000000 {
			t.Errorf("unexpected status %+v", out)
		}
	})

	t.Run("Status Rendered", func(t *testing.T) {
		p := tu.NewProviderServer(t)
		expireKey(p, "Q_H_L_old")
		r, output := newTestRunner(t, p)
		seedCredential(t, r, qqCredential("Q_H_L_old"))

		if err := run(r, "auth", "status", "--musicid", "10001"); err != nil {
			t.Fatalf("status failed: %v", err)
		}
		if !strings.Contains(output.String(), "expired") || !strings.Contains(output.String(), "10001") {
			t.Errorf("unexpected output:\n%s", output.String())
		}
	})

	t.Run("Status Without Credential", func(t *testing.T) {
		r, _ := newTestRunner(t, tu.NewProviderServer(t))
		if err := run(r, "auth", "status"); !errors.Is(err, shared.ErrNotAuthenticated) {
			t.Errorf("expected ErrNotAuthenticated, got %v", err)
		}
	})

	t.Run("Refresh", func(t *testing.T) {
		p := tu.NewProviderServer(t)
		expireKey(p, "Q_H_L_old")
		p.HandleRPC(loginModule, "Login", func(tu.RPCCall) (int, any) {
			return 0, tu.LoginData(10001, "Q_H_L_new")
		})
		r, output := newTestRunner(t, p)
		seedCredential(t, r, qqCredential("Q_H_L_old"))

		var fingerprints atomic.Int32
		r.fingerprinter = services.FingerprintFunc(func(context.Context, string) (string, error) {
			fingerprints.Add(1)
			return "qimei-test", nil
		})

		if err := run(r, "auth", "refresh"); err != nil {
			t.Fatalf("refresh failed: %v", err)
		}
		if !strings.Contains(output.String(), "refreshed") {
			t.Errorf("unexpected output %q", output.String())
		}
		if n := fingerprints.Load(); n != 1 {
			t.Errorf("expected probe and refresh to share one task session, got %d fingerprints", n)
		}
		if r.release != nil {
			t.Error("expected the task session to be released after the command")
		}

		cred, err := storedCredential(t, r, 10001)
		if err != nil || cred.MusicKey != "Q_H_L_new" {
			t.Errorf("refreshed credential not stored: %v", err)
		}
	})

	t.Run("Refresh Still Valid", func(t *testing.T) {
		p := tu.NewProviderServer(t)
		expireKey(p, "none")
		r, output := newTestRunner(t, p)
		seedCredential(t, r, qqCredential("Q_H_L_ok"))

		if err := run(r, "auth", "refresh"); err != nil {
			t.Fatalf("refresh failed: %v", err)
		}
		if !strings.Contains(output.String(), "still valid") {
			t.Errorf("unexpected output %q", output.String())
		}
		if p.CallCount(loginModule, "Login") != 0 {
			t.Error("valid credential must not be refreshed")
		}
	})

	t.Run("Refresh Not Renewable", func(t *testing.T) {
		p := tu.NewProviderServer(t)
		expireKey(p, "Q_H_L_old")
		r, _ := newTestRunner(t, p)
		cred := qqCredential("Q_H_L_old")
		cred.RefreshKey, cred.RefreshToken = "", ""
		seedCredential(t, r, cred)

		err := run(r, "auth", "refresh")
		if !errors.Is(err, shared.ErrTokenExpired) || !strings.Contains(err.Error(), "qmx login") {
			t.Errorf("expected ErrTokenExpired with a login hint, got %v", err)
		}
	})

	t.Run("List", func(t *testing.T) {
		r, output := newTestRunner(t, nil)

		if err := run(r, "auth", "list"); err != nil {
			t.Fatalf("list failed: %v", err)
		}
		if !strings.Contains(output.String(), "No stored credentials") {
			t.Errorf("unexpected output %q", output.String())
		}

		seedCredential(t, r, qqCredential("Q_H_L_ok"))
		seedCredential(t, r, &models.Credential{MusicID: 20002, MusicKey: "W_X_key", LoginType: models.LoginTypeWX})

		output.Reset()
		if err := run(r, "auth", "list"); err != nil {
			t.Fatalf("list failed: %v", err)
		}
		text := output.String()
		for _, want := range []string{"Stored credentials: 2", "10001 (qq) refreshable: yes", "20002 (wx) refreshable: no"} {
			if !strings.Contains(text, want) {
				t.Errorf("expected %q in %q", want, text)
			}
		}

		output.Reset()
		if err := run(r, "auth", "list", "--json"); err != nil {
			t.Fatalf("list failed: %v", err)
		}
		var entries []listEntry
		if err := json.Unmarshal(output.Bytes(), &entries); err != nil {
			t.Fatalf("invalid JSON %q: %v", output.String(), err)
		}
		ids := map[int64]bool{}
		for _, e := range entries {
			ids[e.MusicID] = true
		}
		if len(entries) != 2 || !ids[10001] || !ids[20002] {
			t.Errorf("unexpected entries %+v", entries)
		}
	})

	t.Run("Logout", func(t *testing.T) {
		r, output := newTestRunner(t, nil)
		seedCredential(t, r, qqCredential("Q_H_L_ok"))

		if err := run(r, "auth", "logout"); err != nil {
			t.Fatalf("logout failed: %v", err)
		}
		if !strings.Contains(output.String(), "Signed out 10001") {
			t.Errorf("unexpected output %q", output.String())
		}
		if _, err := storedCredential(t, r, 10001); !errors.Is(err, shared.ErrCredentialNotFound) {
			t.Errorf("expected credential to be gone, got %v", err)
		}
		if err := run(r, "auth", "logout"); !errors.Is(err, shared.ErrNotAuthenticated) {
			t.Errorf("expected ErrNotAuthenticated on second logout, got %v", err)
		}
	})

	t.Run("History", func(t *testing.T) {
		r, output := newTestRunner(t, nil)
		db, _, attempts, err := r.stores()
		if err != nil {
			t.Fatalf("failed to open stores: %v", err)
		}
		for _, provider := range []string{"qq", "wx", "qq"} {
			a := models.NewLoginAttempt(provider)
			attempts.Create(a)
			a.Finish(models.Confirmed, 10001, nil)
			attempts.Update(a)
		}
		db.Close()

		if err := run(r, "auth", "history", "--provider", "qq"); err != nil {
			t.Fatalf("history failed: %v", err)
		}
		if !strings.Contains(output.String(), "Login attempts: 2") || strings.Contains(output.String(), " wx ") {
			t.Errorf("unexpected output:\n%s", output.String())
		}

		path := filepath.Join(t.TempDir(), "history.csv")
		if err := run(r, "auth", "history", "-f", "csv", "-o", path, "--limit", "1"); err != nil {
			t.Fatalf("history export failed: %v", err)
		}
		content := tu.MustReadFile(t, path)
		if lines := strings.Count(strings.TrimSpace(content), "\n"); lines != 1 {
			t.Errorf("expected header plus one row, got:\n%s", content)
		}

		if err := run(r, "auth", "history", "--format", "xml"); !errors.Is(err, shared.ErrInvalidFlag) {
			t.Errorf("expected ErrInvalidFlag, got %v", err)
		}
	})
}

func TestServeRouter(t *testing.T) {
	p := tu.NewProviderServer(t)
	p.QQStatus(tu.QQStatusBody(0, "o0123456", "SIGX"))
	p.HandleRPC("QQConnectLogin.LoginServer", "QQLogin", func(tu.RPCCall) (int, any) {
		return 0, tu.LoginData(10001, "Q_H_L_http")
	})
	expireKey(p, "none")

	r, _ := newTestRunner(t, p)
	db, err := r.openDatabase()
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	sess, err := services.NewSession(t.Context(), r.sessionOpts(nil))
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	defer sess.Close()

	handler := server.NewLoginHandler(server.LoginHandlerOpts{
		NewFlow: r.flowFor,
		Store:   repositories.NewCredentialRepository(db),
		Session: sess,
	})
	defer handler.Close()

	srv := httptest.NewServer(r.router(handler))
	defer srv.Close()

	t.Run("Health", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/healthz")
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("expected 200, got %d", resp.StatusCode)
		}

		post, err := http.Post(srv.URL+"/healthz", "text/plain", nil)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		post.Body.Close()
		if post.StatusCode != http.StatusMethodNotAllowed {
			t.Errorf("expected 405, got %d", post.StatusCode)
		}
	})

	t.Run("QR Login", func(t *testing.T) {
		resp, err := http.Post(srv.URL+"/login/qrcode?type=qq", "application/json", nil)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		var qr struct {
			ID string `json:"id"`
		}
		json.NewDecoder(resp.Body).Decode(&qr)
		resp.Body.Close()
		if resp.StatusCode != http.StatusCreated || qr.ID == "" {
			t.Fatalf("expected 201 with an id, got %d %+v", resp.StatusCode, qr)
		}

		resp, err = http.Get(srv.URL + "/login/qrcode/status?id=" + qr.ID)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		var status struct {
			Event   string `json:"event"`
			Done    bool   `json:"done"`
			MusicID int64  `json:"musicid"`
		}
		json.NewDecoder(resp.Body).Decode(&status)
		resp.Body.Close()
		if status.Event != "confirmed" || !status.Done || status.MusicID != 10001 {
			t.Fatalf("unexpected status %+v", status)
		}

		resp, err = http.Get(srv.URL + "/credential")
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("expected stored credential, got %d", resp.StatusCode)
		}
	})
}
