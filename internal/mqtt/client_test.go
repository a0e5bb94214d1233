package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	tu "github.com/desertthunder/qmx/internal/testing"
)

func newClient(t *testing.T, b *tu.MQTTBroker, opts Options) *Client {
	t.Helper()
	opts.Scheme = "ws"
	opts.Host = b.Host()
	if opts.Path == "" {
		opts.Path = "/ws/handshake"
	}
	if opts.ClientID == "" {
		opts.ClientID = "client-1"
	}
	c := New(opts)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestClientConnect(t *testing.T) {
	ctx := context.Background()

	t.Run("Too Many Redirects", func(t *testing.T) {
		b := tu.NewMQTTBroker(t, func(b *tu.MQTTBroker) { b.Redirects = -1 })
		c := newClient(t, b, Options{})

		err := c.Connect(ctx, ConnectProperties{AuthMethod: "pass"})
		if !errors.Is(err, ErrTooManyRedirects) {
			t.Fatalf("expected ErrTooManyRedirects, got %v", err)
		}
		var redirect *RedirectError
		if !errors.As(err, &redirect) {
			t.Errorf("expected wrapped RedirectError, got %v", err)
		}

		paths := b.Paths()
		if len(paths) != 4 {
			t.Fatalf("expected exactly 4 attempts, got %d: %v", len(paths), paths)
		}
		want := []string{"/ws/handshake", "/ws/handshake/node-1", "/ws/handshake/node-2", "/ws/handshake/node-3"}
		for i := range want {
			if paths[i] != want[i] {
				t.Errorf("attempt %d: expected path %s, got %s", i+1, want[i], paths[i])
			}
		}
	})

	t.Run("Redirects Disabled", func(t *testing.T) {
		b := tu.NewMQTTBroker(t, func(b *tu.MQTTBroker) { b.Redirects = 1 })
		c := newClient(t, b, Options{MaxRedirects: -1})

		err := c.Connect(ctx, ConnectProperties{})
		if !errors.Is(err, ErrTooManyRedirects) {
			t.Fatalf("expected ErrTooManyRedirects, got %v", err)
		}
		if n := len(b.Paths()); n != 1 {
			t.Errorf("expected a single attempt, got %d", n)
		}
	})

	t.Run("Custom Redirect Limit", func(t *testing.T) {
		b := tu.NewMQTTBroker(t, func(b *tu.MQTTBroker) { b.Redirects = -1 })
		c := newClient(t, b, Options{MaxRedirects: 1})

		if err := c.Connect(ctx, ConnectProperties{}); !errors.Is(err, ErrTooManyRedirects) {
			t.Fatalf("expected ErrTooManyRedirects, got %v", err)
		}
		if n := len(b.Paths()); n != 2 {
			t.Errorf("expected 2 attempts, got %d", n)
		}
	})

	t.Run("Redirect Then Accept", func(t *testing.T) {
		b := tu.NewMQTTBroker(t, func(b *tu.MQTTBroker) { b.Redirects = 3 })
		c := newClient(t, b, Options{})

		if err := c.Connect(ctx, ConnectProperties{}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if c.Path() != "/ws/handshake/node-3" {
			t.Errorf("expected final path /ws/handshake/node-3, got %s", c.Path())
		}
		if n := len(b.Paths()); n != 4 {
			t.Errorf("expected 4 attempts, got %d", n)
		}
	})

	t.Run("Refused", func(t *testing.T) {
		b := tu.NewMQTTBroker(t, func(b *tu.MQTTBroker) { b.Refuse = 0x87 })
		c := newClient(t, b, Options{})

		err := c.Connect(ctx, ConnectProperties{})
		var ce *ConnectError
		if !errors.As(err, &ce) {
			t.Fatalf("expected ConnectError, got %v", err)
		}
		if ce.ReasonCode != 0x87 || ce.Reason != "bad auth" {
			t.Errorf("unexpected connect error %+v", ce)
		}
		if errors.Is(err, ErrTooManyRedirects) {
			t.Error("refusal must not be reported as a redirect failure")
		}
		if n := len(b.Paths()); n != 1 {
			t.Errorf("expected a single attempt, got %d", n)
		}
	})

	t.Run("Connect Packet", func(t *testing.T) {
		b := tu.NewMQTTBroker(t, nil)
		c := newClient(t, b, Options{ClientID: "17000000000001234", KeepAlive: 45 * time.Second})

		err := c.Connect(ctx, ConnectProperties{
			AuthMethod: "pass",
			User:       []UserProperty{{"tmeAppID", "qqmusic"}, {"hashTag", "qr-1"}},
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		p := b.Connects()[0]
		if p.ClientID != "17000000000001234" || p.KeepAlive != 45 || p.ProtocolVersion != 5 {
			t.Errorf("unexpected connect packet %+v", p)
		}
		if p.Properties == nil || p.Properties.AuthMethod != "pass" {
			t.Fatalf("expected auth method 'pass', got %+v", p.Properties)
		}
		if len(p.Properties.User) != 2 || p.Properties.User[1].Key != "hashTag" || p.Properties.User[1].Value != "qr-1" {
			t.Errorf("unexpected user properties %+v", p.Properties.User)
		}
		if proto := b.Protocols()[0]; proto != "mqtt" {
			t.Errorf("expected mqtt subprotocol, got %q", proto)
		}
	})

	t.Run("Dial Failure", func(t *testing.T) {
		c := New(Options{Scheme: "ws", Host: "127.0.0.1:1", Path: "/ws/handshake"})
		defer c.Close()

		if err := c.Connect(ctx, ConnectProperties{}); err == nil {
			t.Error("expected dial error")
		}
	})

	t.Run("After Close", func(t *testing.T) {
		c := New(Options{Scheme: "ws", Host: "127.0.0.1:1"})
		c.Close()
		if err := c.Connect(ctx, ConnectProperties{}); !errors.Is(err, ErrClosed) {
			t.Errorf("expected ErrClosed, got %v", err)
		}
	})
}

func TestClientMessages(t *testing.T) {
	ctx := context.Background()

	t.Run("Ordered Delivery", func(t *testing.T) {
		b := tu.NewMQTTBroker(t, func(b *tu.MQTTBroker) {
			b.Publish = []tu.MQTTPublish{
				{Type: "scanned", Payload: `{}`},
				{Type: "heartbeat", Payload: `{}`},
				{Type: "cookies", Payload: `{"cookies":{"qqmusic_key":"k"}}`},
			}
		})
		c := newClient(t, b, Options{})

		if err := c.Connect(ctx, ConnectProperties{}); err != nil {
			t.Fatalf("connect: %v", err)
		}
		err := c.Subscribe(ctx, "management.qrcode_login/qr-1", []UserProperty{{"pubsub", "unicast"}})
		if err != nil {
			t.Fatalf("subscribe: %v", err)
		}

		var got []string
		for range 3 {
			m, err := c.Next(ctx)
			if err != nil {
				t.Fatalf("next: %v", err)
			}
			if m.Topic != "management.qrcode_login/qr-1" {
				t.Errorf("unexpected topic %s", m.Topic)
			}
			got = append(got, m.Type)
		}
		if strings.Join(got, ",") != "scanned,heartbeat,cookies" {
			t.Errorf("unexpected order %v", got)
		}

		sub := b.Subscribes()[0]
		if sub.Subscriptions[0].Topic != "management.qrcode_login/qr-1" {
			t.Errorf("unexpected subscription %+v", sub.Subscriptions)
		}
		if len(sub.Properties.User) != 1 || sub.Properties.User[0].Value != "unicast" {
			t.Errorf("unexpected subscribe properties %+v", sub.Properties.User)
		}
	})

	t.Run("Server Disconnect After Queue", func(t *testing.T) {
		b := tu.NewMQTTBroker(t, func(b *tu.MQTTBroker) {
			b.Publish = []tu.MQTTPublish{{Type: "scanned", Payload: `{}`}}
			b.Hangup = true
		})
		c := newClient(t, b, Options{})

		if err := c.Connect(ctx, ConnectProperties{}); err != nil {
			t.Fatalf("connect: %v", err)
		}
		if err := c.Subscribe(ctx, "t", nil); err != nil {
			t.Fatalf("subscribe: %v", err)
		}

		if m, err := c.Next(ctx); err != nil || m.Type != "scanned" {
			t.Fatalf("expected queued message first, got %v, %v", m, err)
		}
		_, err := c.Next(ctx)
		var de *DisconnectError
		if !errors.As(err, &de) || de.ReasonCode != 0x8B {
			t.Errorf("expected DisconnectError 0x8B, got %v", err)
		}
	})

	t.Run("Next Honours Context", func(t *testing.T) {
		b := tu.NewMQTTBroker(t, nil)
		c := newClient(t, b, Options{})

		if err := c.Connect(ctx, ConnectProperties{}); err != nil {
			t.Fatalf("connect: %v", err)
		}
		tctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		if _, err := c.Next(tctx); !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("expected deadline exceeded, got %v", err)
		}
	})

	t.Run("Close Releases Connection", func(t *testing.T) {
		b := tu.NewMQTTBroker(t, nil)
		c := newClient(t, b, Options{})

		if err := c.Connect(ctx, ConnectProperties{}); err != nil {
			t.Fatalf("connect: %v", err)
		}
		c.Close()
		c.Close()

		select {
		case <-b.Closed():
		case <-time.After(2 * time.Second):
			t.Fatal("server connection still open after Close")
		}

		if !b.GotDisconnect() {
			t.Error("expected DISCONNECT before closing")
		}
		if _, err := c.Next(ctx); !errors.Is(err, ErrClosed) {
			t.Errorf("expected ErrClosed after Close, got %v", err)
		}
	})

	t.Run("Not Connected", func(t *testing.T) {
		c := New(Options{})
		defer c.Close()
		if _, err := c.Next(ctx); !errors.Is(err, ErrNotConnected) {
			t.Errorf("expected ErrNotConnected, got %v", err)
		}
		if err := c.Subscribe(ctx, "t", nil); !errors.Is(err, ErrNotConnected) {
			t.Errorf("expected ErrNotConnected, got %v", err)
		}
	})
}

func TestCookieValue(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "Bare String", raw: `"x"`, want: "x"},
		{name: "Wrapped String", raw: `{"value": "x"}`, want: "x"},
		{name: "Bare Number", raw: `123456`, want: "123456"},
		{name: "Wrapped Number", raw: `{"value": 123456}`, want: "123456"},
		{name: "Wrapper Without Value", raw: `{"domain": ".qq.com"}`, want: ""},
		{name: "Null", raw: `null`, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CookieValue(json.RawMessage(tt.raw)); got != tt.want {
				t.Errorf("CookieValue(%s) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}

	t.Run("Bare And Wrapped Agree", func(t *testing.T) {
		got := NormalizeCookies(map[string]json.RawMessage{
			"a": json.RawMessage(`"x"`),
			"b": json.RawMessage(`{"value":"x"}`),
		})
		if got["a"] != "x" || got["a"] != got["b"] {
			t.Errorf("expected both forms to normalize to x, got %v", got)
		}
	})
}
