package ui

import (
	"strings"
	"testing"

	"github.com/desertthunder/qmx/internal/models"
)

func TestRenderCredential(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		out := RenderCredential(Styles, CredentialStatus{MusicID: 10001, LoginType: models.LoginTypeQQ, CanRefresh: true, ExpiresAt: 1900000000})
		for _, want := range []string{"Credential", "10001", "qq", "valid", "yes", "2030-03-17T17:46:40Z"} {
			if !strings.Contains(out, want) {
				t.Errorf("expected %q in output:\n%s", want, out)
			}
		}
		if strings.Contains(out, "qmx login") {
			t.Error("valid credential should not suggest a new login")
		}
	})

	t.Run("Expired Without Refresh", func(t *testing.T) {
		out := RenderCredential(Styles, CredentialStatus{MusicID: 1, LoginType: models.LoginTypeWX, Expired: true})
		for _, want := range []string{"expired", "wx", "no", "qmx login"} {
			if !strings.Contains(out, want) {
				t.Errorf("expected %q in output:\n%s", want, out)
			}
		}
	})
}

func TestLoginTypeName(t *testing.T) {
	tests := map[int]string{
		models.LoginTypePhone:  "phone",
		models.LoginTypeWX:     "wx",
		models.LoginTypeQQ:     "qq",
		models.LoginTypeMobile: "mobile",
		9:                      "type 9",
	}
	for lt, want := range tests {
		if got := LoginTypeName(lt); got != want {
			t.Errorf("LoginTypeName(%d) = %q, want %q", lt, got, want)
		}
	}
}

func TestRenderEvent(t *testing.T) {
	tests := []struct {
		event  models.LoginEvent
		prefix string
	}{
		{models.Confirmed, "✓"},
		{models.Refused, "✗"},
		{models.Unknown, "✗"},
		{models.Expired, "!"},
		{models.Scanned, "  "},
	}
	for _, tt := range tests {
		if out := RenderEvent(Styles, tt.event, "msg"); !strings.Contains(out, tt.prefix+" msg") && !strings.HasPrefix(out, tt.prefix) {
			t.Errorf("%s: unexpected rendering %q", tt.event, out)
		}
	}
}
