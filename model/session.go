package model

import "fmt"

// Role of the connected wallet relative to the contract admin.
type Role string

const (
	RoleNone  Role = ""
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Session is the persisted view of the connected wallet.
type Session struct {
	Address       string `json:"address"`
	Role          Role   `json:"role"`
	Authenticated bool   `json:"authenticated"`
}

// SessionState is the state of the session state machine.
type SessionState int

const (
	Disconnected SessionState = iota
	Connecting
	Connected
)

func (s SessionState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

func (s SessionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *SessionState) UnmarshalText(b []byte) error {
	switch string(b) {
	case "connecting":
		*s = Connecting
	case "connected":
		*s = Connected
	case "disconnected", "":
		*s = Disconnected
	default:
		return fmt.Errorf("unknown session state %q", b)
	}
	return nil
}
