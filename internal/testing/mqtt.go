package testing

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/eclipse/paho.golang/packets"
	"github.com/gorilla/websocket"
)

// MQTTPublish is one message a [MQTTBroker] sends after SUBACK.
type MQTTPublish struct {
	Type    string // "type" user property
	Payload string
}

// MQTTBroker is a scripted MQTT 5 server over WebSocket.
//
// Each CONNECT is answered according to Refuse and Redirects; an accepted connection gets
// a SUBACK for its subscription followed by Publish in order, then a DISCONNECT when Hangup is set.
type MQTTBroker struct {
	Redirects int  // redirect CONNACKs before accepting, -1 redirects forever
	Refuse    byte // non-zero refuses every CONNECT with this reason code
	Publish   []MQTTPublish
	Hangup    bool

	t      *testing.T
	server *httptest.Server
	closed chan struct{}

	mu         sync.Mutex
	paths      []string
	connects   []*packets.Connect
	subscribes []*packets.Subscribe
	protocols  []string
	headers    []http.Header
	gotDisc    bool
}

// NewMQTTBroker starts a broker; configure runs before the server accepts connections.
func NewMQTTBroker(t *testing.T, configure func(*MQTTBroker)) *MQTTBroker {
	t.Helper()
	b := &MQTTBroker{t: t, closed: make(chan struct{}, 16)}
	if configure != nil {
		configure(b)
	}

	upgrader := websocket.Upgrader{
		Subprotocols: []string{"mqtt"},
		CheckOrigin:  func(*http.Request) bool { return true },
	}
	b.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer func() {
			conn.Close()
			b.closed <- struct{}{}
		}()
		b.serve(conn, r)
	}))
	t.Cleanup(b.server.Close)
	return b
}

// Host is the broker's host:port.
func (b *MQTTBroker) Host() string { return strings.TrimPrefix(b.server.URL, "http://") }

// Closed receives once per connection the broker has finished serving.
func (b *MQTTBroker) Closed() <-chan struct{} { return b.closed }

func (b *MQTTBroker) Paths() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.paths...)
}

func (b *MQTTBroker) Connects() []*packets.Connect {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*packets.Connect(nil), b.connects...)
}

func (b *MQTTBroker) Subscribes() []*packets.Subscribe {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*packets.Subscribe(nil), b.subscribes...)
}

func (b *MQTTBroker) Protocols() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.protocols...)
}

func (b *MQTTBroker) Headers() []http.Header {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]http.Header(nil), b.headers...)
}

// GotDisconnect reports whether a client sent DISCONNECT.
func (b *MQTTBroker) GotDisconnect() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.gotDisc
}

func (b *MQTTBroker) serve(conn *websocket.Conn, r *http.Request) {
	rd := &wsStream{conn: conn}

	cp, err := packets.ReadPacket(rd)
	if err != nil {
		b.t.Errorf("read connect: %v", err)
		return
	}
	connect, ok := cp.Content.(*packets.Connect)
	if !ok {
		b.t.Errorf("expected CONNECT, got %T", cp.Content)
		return
	}

	b.mu.Lock()
	attempt := len(b.paths)
	b.paths = append(b.paths, r.URL.Path)
	b.connects = append(b.connects, connect)
	b.protocols = append(b.protocols, conn.Subprotocol())
	b.headers = append(b.headers, r.Header.Clone())
	b.mu.Unlock()

	switch {
	case b.Refuse != 0:
		wsWrite(conn, &packets.Connack{ReasonCode: b.Refuse, Properties: &packets.Properties{ReasonString: "bad auth"}})
		return
	case b.Redirects < 0 || attempt < b.Redirects:
		wsWrite(conn, &packets.Connack{
			ReasonCode: 0x9C,
			Properties: &packets.Properties{ServerReference: "node-" + strconv.Itoa(attempt+1)},
		})
		return
	}

	if err := wsWrite(conn, &packets.Connack{Properties: &packets.Properties{}}); err != nil {
		b.t.Errorf("write connack: %v", err)
		return
	}

	for {
		cp, err := packets.ReadPacket(rd)
		if err != nil {
			return
		}
		switch p := cp.Content.(type) {
		case *packets.Subscribe:
			b.mu.Lock()
			b.subscribes = append(b.subscribes, p)
			b.mu.Unlock()

			wsWrite(conn, &packets.Suback{PacketID: p.PacketID, Reasons: []byte{0}, Properties: &packets.Properties{}})
			for _, m := range b.Publish {
				wsWrite(conn, &packets.Publish{
					Topic:      p.Subscriptions[0].Topic,
					Payload:    []byte(m.Payload),
					Properties: &packets.Properties{User: []packets.User{{Key: "type", Value: m.Type}}},
				})
			}
			if b.Hangup {
				wsWrite(conn, &packets.Disconnect{ReasonCode: 0x8B, Properties: &packets.Properties{}})
				return
			}
		case *packets.Pingreq:
			wsWrite(conn, &packets.Pingresp{})
		case *packets.Disconnect:
			b.mu.Lock()
			b.gotDisc = true
			b.mu.Unlock()
			return
		}
	}
}

// outbound is any encodable control packet.
type outbound interface {
	WriteTo(w io.Writer) (int64, error)
}

func wsWrite(conn *websocket.Conn, p outbound) error {
	var buf bytes.Buffer
	if _, err := p.WriteTo(&buf); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.BinaryMessage, buf.Bytes())
}

type wsStream struct {
	conn *websocket.Conn
	r    io.Reader
}

func (s *wsStream) Read(p []byte) (int, error) {
	for {
		if s.r == nil {
			_, r, err := s.conn.NextReader()
			if err != nil {
				return 0, err
			}
			s.r = r
		}
		n, err := s.r.Read(p)
		if err == io.EOF {
			s.r = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}
