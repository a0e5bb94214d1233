package services

import (
	"strings"
	"testing"
)

func TestSign(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "Empty Object", body: `{}`, want: "zzcf8e26805gyafigxmxjehoe02mvsjjgtwzw6f1a05f9"},
		{name: "Common Block", body: `{"comm":{"ct":"11"}}`, want: "zzc2a75107lfom5vfrr1wruwzj7j0vmg6zif415897d25"},
		{name: "Empty Body", body: ``, want: "zzcf0e03e5gx4qeiq5cfgdyqwu7sdqfsb5fro3aa45053"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Sign([]byte(tt.body)); got != tt.want {
				t.Errorf("Sign(%q) = %q, want %q", tt.body, got, tt.want)
			}
		})
	}

	t.Run("Output Shape", func(t *testing.T) {
		got := Sign([]byte(`{"req_1":{"module":"a","method":"b","param":{}}}`))
		if !strings.HasPrefix(got, "zzc") {
			t.Errorf("expected zzc prefix, got %q", got)
		}
		if got != strings.ToLower(got) {
			t.Errorf("expected lower-case sign, got %q", got)
		}
		if strings.ContainsAny(got, `\/+=`) {
			t.Errorf("sign contains stripped characters: %q", got)
		}
	})
}
