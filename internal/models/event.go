package models

import (
	"fmt"
)

// LoginEvent is the canonical state of a login attempt.
type LoginEvent int

const (
	AwaitingScan LoginEvent = iota
	Scanned
	Expired
	Confirmed
	Refused
	Unknown
)

var eventNames = map[LoginEvent]string{
	AwaitingScan: "awaiting_scan",
	Scanned:      "scanned",
	Expired:      "expired",
	Confirmed:    "confirmed",
	Refused:      "refused",
	Unknown:      "unknown",
}

func (e LoginEvent) String() string {
	if name, ok := eventNames[e]; ok {
		return name
	}
	return fmt.Sprintf("LoginEvent(%d)", int(e))
}

// Terminal reports whether polling or subscribing must stop after e.
func (e LoginEvent) Terminal() bool {
	switch e {
	case Confirmed, Refused, Expired, Unknown:
		return true
	}
	return false
}

// MarshalText encodes the event by name.
func (e LoginEvent) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

// UnmarshalText decodes an event name; unrecognized names become [Unknown].
func (e *LoginEvent) UnmarshalText(b []byte) error {
	for ev, name := range eventNames {
		if name == string(b) {
			*e = ev
			return nil
		}
	}
	*e = Unknown
	return nil
}
