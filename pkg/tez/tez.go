// Package tez converts and formats amounts of the chain currency.
//
// Amounts travel as mutez (10^-6 tez) everywhere in the backend. The indexer
// renders mutez as JSON strings, the wallet bridge as numbers; Mutez accepts
// both.
package tez

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

// Symbol is appended to formatted amounts.
const Symbol = "ꜩ"

const mutezExp = -6

// Mutez is an amount in the smallest currency unit.
type Mutez int64

// UnmarshalJSON accepts quoted and bare integers; null decodes to zero.
func (m *Mutez) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*m = 0
		return nil
	}
	s := string(bytes.Trim(b, `"`))
	if s == "" {
		*m = 0
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid mutez amount %q: %w", s, err)
	}
	*m = Mutez(v)
	return nil
}

func (m Mutez) MarshalJSON() ([]byte, error) {
	return json.Marshal(int64(m))
}

// Tez returns the amount in the major unit.
func (m Mutez) Tez() decimal.Decimal {
	return decimal.New(int64(m), mutezExp)
}

func (m Mutez) String() string {
	return m.Tez().String() + " " + Symbol
}

// ParseTez parses a major-unit amount such as "1.25" into mutez. More than six
// decimal places is an error.
func ParseTez(s string) (Mutez, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid tez amount %q: %w", s, err)
	}
	shifted := d.Shift(-mutezExp)
	if !shifted.Equal(shifted.Truncate(0)) {
		return 0, fmt.Errorf("tez amount %q has more than 6 decimal places", s)
	}
	return Mutez(shifted.IntPart()), nil
}

var compactUnits = []struct {
	threshold decimal.Decimal
	suffix    string
}{
	{decimal.New(1, 12), "T"},
	{decimal.New(1, 9), "B"},
	{decimal.New(1, 6), "M"},
	{decimal.New(1, 3), "K"},
}

// FormatCompact renders the amount in tez with a K/M/B/T suffix and at most
// two significant decimals, e.g. 1500000000 mutez -> "1.5K ꜩ".
func FormatCompact(m Mutez) string {
	t := m.Tez()
	abs := t.Abs()
	for _, u := range compactUnits {
		if abs.GreaterThanOrEqual(u.threshold) {
			return t.Div(u.threshold).Round(1).String() + u.suffix + " " + Symbol
		}
	}
	return t.Round(2).String() + " " + Symbol
}
