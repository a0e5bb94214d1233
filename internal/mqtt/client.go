package mqtt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/qmx/internal/shared"
	"github.com/eclipse/paho.golang/packets"
	"github.com/gorilla/websocket"
)

const (
	DefaultMaxRedirects = 3
	DefaultKeepAlive    = 45 * time.Second

	subprotocol = "mqtt"
)

// Options configure a [Client].
type Options struct {
	Scheme       string // "wss" when empty
	Host         string
	Path         string // handshake path; redirects reconnect to Path + "/" + address
	ClientID     string
	KeepAlive    time.Duration
	Header       http.Header
	MaxRedirects int // retries after the first attempt; DefaultMaxRedirects when zero, none when negative
	Dialer       *websocket.Dialer
	Logger       *log.Logger
}

// ConnectProperties are the MQTT 5 properties sent with CONNECT.
type ConnectProperties struct {
	AuthMethod string
	User       []UserProperty
}

// Client is a minimal MQTT 5 subscriber over WebSocket.
//
// Inbound messages are queued without bound in arrival order and pulled with [Client.Next].
// [Client.Close] tears down the connection and must be called on every path once
// [Client.Connect] has been attempted.
type Client struct {
	opts   Options
	path   string
	logger *log.Logger

	conn    *websocket.Conn
	writeMu sync.Mutex

	packetID uint16
	subacks  chan *packets.Suback

	mu     sync.Mutex
	queue  []*Message
	err    error
	signal chan struct{}

	done      chan struct{}
	dead      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New returns an unconnected client.
func New(opts Options) *Client {
	if opts.Scheme == "" {
		opts.Scheme = "wss"
	}
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = DefaultKeepAlive
	}
	if opts.MaxRedirects == 0 {
		opts.MaxRedirects = DefaultMaxRedirects
	}
	if opts.Dialer == nil {
		opts.Dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 30 * time.Second,
		}
	}
	return &Client{
		opts:    opts,
		path:    opts.Path,
		logger:  shared.OrDiscard(opts.Logger),
		subacks: make(chan *packets.Suback, 1),
		signal:  make(chan struct{}, 1),
		done:    make(chan struct{}),
		dead:    make(chan struct{}),
	}
}

// Path returns the handshake path of the current or last connection attempt.
func (c *Client) Path() string { return c.path }

// Connect dials the broker and completes the MQTT handshake.
//
// Redirect CONNACKs make the client retry on Path + "/" + server reference, up to
// MaxRedirects times; the next redirect fails with [ErrTooManyRedirects] wrapping the last
// [RedirectError]. Any other refusal fails immediately with [ConnectError].
func (c *Client) Connect(ctx context.Context, props ConnectProperties) error {
	for attempt := 0; ; attempt++ {
		err := c.connectOnce(ctx, props)
		if err == nil {
			return nil
		}

		var redirect *RedirectError
		if !errors.As(err, &redirect) {
			return err
		}
		if attempt >= max(c.opts.MaxRedirects, 0) {
			return fmt.Errorf("%w after %d attempts: %w", ErrTooManyRedirects, attempt+1, err)
		}

		c.path = strings.TrimSuffix(c.opts.Path, "/") + "/" + strings.TrimPrefix(redirect.NewAddress, "/")
		c.logger.Debug("mqtt redirect", "attempt", attempt+1, "path", c.path, "code", redirect.ReasonCode)
	}
}

func (c *Client) url() string {
	u := url.URL{Scheme: c.opts.Scheme, Host: c.opts.Host, Path: c.path}
	return u.String()
}

func (c *Client) connectOnce(ctx context.Context, props ConnectProperties) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	dialer := *c.opts.Dialer
	dialer.Subprotocols = []string{subprotocol}

	conn, resp, err := dialer.DialContext(ctx, c.url(), c.opts.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", c.url(), err)
	}

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	keepAlive := uint16(c.opts.KeepAlive / time.Second)
	connect := &packets.Connect{
		ProtocolName:    "MQTT",
		ProtocolVersion: 5,
		ClientID:        c.opts.ClientID,
		KeepAlive:       keepAlive,
		CleanStart:      true,
		Properties: &packets.Properties{
			AuthMethod: props.AuthMethod,
			User:       toPacketUsers(props.User),
		},
	}
	if err := writePacket(conn, connect); err != nil {
		conn.Close()
		return fmt.Errorf("failed to send connect: %w", err)
	}

	r := &frameReader{conn: conn}
	cp, err := packets.ReadPacket(r)
	if err != nil {
		conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("failed to read connack: %w", err)
	}

	ack, ok := cp.Content.(*packets.Connack)
	if !ok {
		conn.Close()
		return fmt.Errorf("expected CONNACK, got packet type %d", cp.Type)
	}

	switch ack.ReasonCode {
	case 0:
	case ReasonUseAnotherServer, ReasonServerMoved:
		conn.Close()
		ref := ""
		if ack.Properties != nil {
			ref = ack.Properties.ServerReference
		}
		if ref == "" {
			return &ConnectError{ReasonCode: ack.ReasonCode, Reason: "redirect without server reference"}
		}
		return &RedirectError{NewAddress: ref, ReasonCode: ack.ReasonCode}
	default:
		conn.Close()
		reason := ""
		if ack.Properties != nil {
			reason = ack.Properties.ReasonString
		}
		return &ConnectError{ReasonCode: ack.ReasonCode, Reason: reason}
	}

	if !stop() {
		return ctx.Err()
	}

	c.conn = conn
	c.logger.Debug("mqtt connected", "path", c.path)

	c.wg.Add(2)
	go c.readLoop(r)
	go c.keepAlive()
	return nil
}

// Subscribe subscribes to topic and waits for the SUBACK.
func (c *Client) Subscribe(ctx context.Context, topic string, props []UserProperty) error {
	if c.conn == nil {
		return ErrNotConnected
	}

	c.packetID++
	id := c.packetID
	sub := &packets.Subscribe{
		PacketID:      id,
		Subscriptions: []packets.SubOptions{{Topic: topic, QoS: 0}},
		Properties:    &packets.Properties{User: toPacketUsers(props)},
	}
	if err := c.write(sub); err != nil {
		return fmt.Errorf("failed to send subscribe: %w", err)
	}

	for {
		select {
		case ack := <-c.subacks:
			if ack.PacketID != id {
				continue
			}
			if len(ack.Reasons) > 0 && ack.Reasons[0] >= 0x80 {
				return &SubscribeError{Topic: topic, ReasonCode: ack.Reasons[0]}
			}
			c.logger.Debug("mqtt subscribed", "topic", topic)
			return nil
		case <-c.dead:
			return c.failure()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Next blocks until the next inbound message, the connection fails, or ctx is done.
// Queued messages are delivered before a connection error is reported.
func (c *Client) Next(ctx context.Context) (*Message, error) {
	if c.conn == nil {
		return nil, ErrNotConnected
	}
	for {
		c.mu.Lock()
		if len(c.queue) > 0 {
			m := c.queue[0]
			c.queue[0] = nil
			c.queue = c.queue[1:]
			c.mu.Unlock()
			return m, nil
		}
		err := c.err
		c.mu.Unlock()
		if err != nil {
			return nil, err
		}

		select {
		case <-c.signal:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Close sends DISCONNECT when connected, closes the socket and waits for the background loops.
// It is safe to call more than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn == nil {
			return
		}
		c.writeMu.Lock()
		c.conn.SetWriteDeadline(time.Now().Add(time.Second))
		c.writeMu.Unlock()
		c.write(&packets.Disconnect{Properties: &packets.Properties{}})
		err = c.conn.Close()
		c.wg.Wait()
		c.logger.Debug("mqtt closed", "path", c.path)
	})
	return err
}

func (c *Client) readLoop(r io.Reader) {
	defer c.wg.Done()
	defer close(c.dead)

	for {
		cp, err := packets.ReadPacket(r)
		if err != nil {
			select {
			case <-c.done:
				c.fail(ErrClosed)
			default:
				c.fail(fmt.Errorf("connection lost: %w", err))
			}
			return
		}

		switch p := cp.Content.(type) {
		case *packets.Publish:
			if p.QoS > 0 {
				c.write(&packets.Puback{PacketID: p.PacketID, Properties: &packets.Properties{}})
			}
			c.push(newMessage(p))
		case *packets.Suback:
			select {
			case c.subacks <- p:
			default:
			}
		case *packets.Disconnect:
			c.fail(&DisconnectError{ReasonCode: p.ReasonCode})
			return
		}
	}
}

func (c *Client) keepAlive() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.opts.KeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.write(&packets.Pingreq{}); err != nil {
				c.logger.Debug("mqtt ping failed", "error", err)
				return
			}
		case <-c.done:
			return
		case <-c.dead:
			return
		}
	}
}

func (c *Client) push(m *Message) {
	c.mu.Lock()
	c.queue = append(c.queue, m)
	c.mu.Unlock()
	c.notify()
}

func (c *Client) fail(err error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.mu.Unlock()
	c.notify()
}

func (c *Client) failure() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		return ErrClosed
	}
	return c.err
}

func (c *Client) notify() {
	select {
	case c.signal <- struct{}{}:
	default:
	}
}

type packetWriter interface {
	WriteTo(io.Writer) (int64, error)
}

func (c *Client) write(p packetWriter) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return writePacket(c.conn, p)
}

// writePacket sends one packet as one binary frame.
func writePacket(conn *websocket.Conn, p packetWriter) error {
	var buf bytes.Buffer
	if _, err := p.WriteTo(&buf); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.BinaryMessage, buf.Bytes())
}

// frameReader presents consecutive binary frames as one byte stream.
type frameReader struct {
	conn *websocket.Conn
	r    io.Reader
}

func (f *frameReader) Read(p []byte) (int, error) {
	for {
		if f.r == nil {
			mt, r, err := f.conn.NextReader()
			if err != nil {
				return 0, err
			}
			if mt != websocket.BinaryMessage {
				continue
			}
			f.r = r
		}
		n, err := f.r.Read(p)
		if err == io.EOF {
			f.r = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}
