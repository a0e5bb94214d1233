package mqtt

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/eclipse/paho.golang/packets"
)

// UserProperty is one MQTT 5 user property.
type UserProperty struct {
	Key   string
	Value string
}

func toPacketUsers(props []UserProperty) []packets.User {
	users := make([]packets.User, 0, len(props))
	for _, p := range props {
		users = append(users, packets.User{Key: p.Key, Value: p.Value})
	}
	return users
}

// Message is one inbound PUBLISH.
type Message struct {
	Topic      string
	Type       string // the "type" user property
	Properties map[string]string
	Payload    []byte
}

func newMessage(p *packets.Publish) *Message {
	m := &Message{Topic: p.Topic, Payload: p.Payload, Properties: map[string]string{}}
	if p.Properties != nil {
		for _, u := range p.Properties.User {
			m.Properties[u.Key] = u.Value
		}
	}
	m.Type = m.Properties["type"]
	return m
}

// JSON decodes the payload into v.
func (m *Message) JSON(v any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("empty payload on %s", m.Topic)
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("invalid JSON payload on %s: %w", m.Topic, err)
	}
	return nil
}

// CookieValue flattens a pushed cookie value. Both "x" and {"value": "x"} yield "x";
// numbers are rendered in decimal and anything else yields "".
func CookieValue(raw json.RawMessage) string {
	var wrapped struct {
		Value json.RawMessage `json:"value"`
	}
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "{") {
		if err := json.Unmarshal(raw, &wrapped); err != nil || wrapped.Value == nil {
			return ""
		}
		raw = wrapped.Value
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if i, err := n.Int64(); err == nil {
			return strconv.FormatInt(i, 10)
		}
		return n.String()
	}
	return ""
}

// NormalizeCookies flattens every value of a pushed cookie map with [CookieValue].
func NormalizeCookies(raw map[string]json.RawMessage) map[string]string {
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		out[k] = CookieValue(v)
	}
	return out
}
