package mqtt

import (
	"errors"
	"fmt"
)

var (
	ErrTooManyRedirects = errors.New("too many redirects")
	ErrNotConnected     = errors.New("mqtt client not connected")
	ErrClosed           = errors.New("mqtt client closed")
)

// Reason codes a broker uses to send the client elsewhere.
const (
	ReasonUseAnotherServer byte = 0x9C
	ReasonServerMoved      byte = 0x9D
)

// RedirectError is a CONNACK that points the client at another server.
type RedirectError struct {
	NewAddress string
	ReasonCode byte
}

func (e *RedirectError) Error() string {
	return fmt.Sprintf("redirected to %q (reason 0x%02X)", e.NewAddress, e.ReasonCode)
}

// ConnectError is a CONNACK refusal that is not a redirect.
type ConnectError struct {
	ReasonCode byte
	Reason     string
}

func (e *ConnectError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("connection refused (reason 0x%02X): %s", e.ReasonCode, e.Reason)
	}
	return fmt.Sprintf("connection refused (reason 0x%02X)", e.ReasonCode)
}

// SubscribeError is a SUBACK carrying a failure reason code.
type SubscribeError struct {
	Topic      string
	ReasonCode byte
}

func (e *SubscribeError) Error() string {
	return fmt.Sprintf("subscribe %s rejected (reason 0x%02X)", e.Topic, e.ReasonCode)
}

// DisconnectError is a server-initiated DISCONNECT.
type DisconnectError struct {
	ReasonCode byte
}

func (e *DisconnectError) Error() string {
	return fmt.Sprintf("server disconnected (reason 0x%02X)", e.ReasonCode)
}
