package model

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/AnTengye/escrowdash/pkg/tez"
)

// MaxDescriptionLength bounds a commission description at entry time.
const MaxDescriptionLength = 200

// Status is the contract-enforced lifecycle of a commission.
type Status int

const (
	StatusCancelled Status = -1
	StatusPending   Status = 0
	StatusActive    Status = 1
	StatusCompleted Status = 2
)

func (s Status) String() string {
	switch s {
	case StatusCancelled:
		return "cancelled"
	case StatusPending:
		return "pending"
	case StatusActive:
		return "active"
	case StatusCompleted:
		return "completed"
	default:
		return "unknown(" + strconv.Itoa(int(s)) + ")"
	}
}

// ParseStatus maps a status name back to its value.
func ParseStatus(name string) (Status, error) {
	switch strings.ToLower(name) {
	case "cancelled", "withdrawn":
		return StatusCancelled, nil
	case "pending":
		return StatusPending, nil
	case "active":
		return StatusActive, nil
	case "completed":
		return StatusCompleted, nil
	}
	return 0, fmt.Errorf("unknown status %q", name)
}

// UnmarshalJSON accepts the indexer's quoted integers as well as bare ones.
func (s *Status) UnmarshalJSON(b []byte) error {
	v, err := parseFlexInt(b)
	if err != nil {
		return fmt.Errorf("invalid status: %w", err)
	}
	*s = Status(v)
	return nil
}

// Nat is a natural number rendered by the indexer as a quoted integer.
type Nat int64

func (n *Nat) UnmarshalJSON(b []byte) error {
	v, err := parseFlexInt(b)
	if err != nil {
		return fmt.Errorf("invalid nat: %w", err)
	}
	*n = Nat(v)
	return nil
}

func parseFlexInt(b []byte) (int64, error) {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return 0, nil
	}
	return strconv.ParseInt(string(bytes.Trim(b, `"`)), 10, 64)
}

// Commission is the value stored under a transaction id in the contract's
// transactions big map.
type Commission struct {
	ID                       string     `json:"id"`
	Title                    string     `json:"title"`
	Description              string     `json:"description"`
	Offer                    tez.Mutez  `json:"offer"`
	Fee                      tez.Mutez  `json:"fee"`
	Duration                 Nat        `json:"duration"`
	Epoch                    *time.Time `json:"epoch,omitempty"`
	Status                   Status     `json:"status"`
	BalanceOwner             tez.Mutez  `json:"balanceOwner"`
	BalanceCounterparty      tez.Mutez  `json:"balanceCounterparty"`
	OwnerHasWithdrawn        bool       `json:"ownerHasWithdrawn"`
	CounterpartyHasWithdrawn bool       `json:"counterpartyHasWithdrawn"`
	HashedSecret             string     `json:"hashedSecret,omitempty"`
}

// NeedsRevert reports whether both parties withdrew but the record was never
// marked cancelled, which is the admin revert queue condition.
func (c Commission) NeedsRevert() bool {
	return c.OwnerHasWithdrawn && c.CounterpartyHasWithdrawn && c.Status != StatusCancelled
}

// Parties is the value stored under a transaction id in the parties big map.
// Counterparty stays nil until the commission is accepted.
type Parties struct {
	Owner        *string `json:"owner"`
	Counterparty *string `json:"counterparty"`
}

// Has reports whether address holds either role.
func (p Parties) Has(address string) bool {
	return (p.Owner != nil && *p.Owner == address) ||
		(p.Counterparty != nil && *p.Counterparty == address)
}

// PartyEntry is a parties big-map entry with its key.
type PartyEntry struct {
	ID string `json:"id"`
	Parties
}

// CommissionDetail merges both halves of a commission.
type CommissionDetail struct {
	Commission
	Parties Parties `json:"parties"`
}

// CommissionDraft is the user input for posting a new commission.
type CommissionDraft struct {
	Title       string    `json:"title" binding:"required"`
	Description string    `json:"description"`
	Offer       tez.Mutez `json:"offer"`
	Fee         tez.Mutez `json:"fee"`
	Duration    int64     `json:"duration"`
	Secret      string    `json:"secret" binding:"required"`
}

// Validate applies the entry-time rules; the contract does not enforce them.
func (d CommissionDraft) Validate() error {
	if strings.TrimSpace(d.Title) == "" {
		return fmt.Errorf("title is required")
	}
	if utf8.RuneCountInString(d.Description) > MaxDescriptionLength {
		return fmt.Errorf("description exceeds %d characters", MaxDescriptionLength)
	}
	if d.Offer <= 0 {
		return fmt.Errorf("offer must be positive")
	}
	if d.Fee <= 0 {
		return fmt.Errorf("fee must be positive")
	}
	if d.Duration < 0 {
		return fmt.Errorf("duration must not be negative")
	}
	if d.Secret == "" {
		return fmt.Errorf("secret is required")
	}
	return nil
}
