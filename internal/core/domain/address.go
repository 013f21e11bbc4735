package domain

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// Address
// =============================================================================

var ErrInvalidAddress = errors.New("invalid address")

// Address is a 20-byte account or contract address.
type Address [20]byte

// ParseAddress parses a hex address with or without the 0x prefix.
func ParseAddress(s string) (Address, error) {
	var a Address
	trimmed := strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if len(trimmed) != 40 {
		return a, fmt.Errorf("%w: expected 40 hex chars, got %d", ErrInvalidAddress, len(trimmed))
	}
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return a, fmt.Errorf("%w: %s", ErrInvalidAddress, s)
	}
	copy(a[:], raw)
	return a, nil
}

// Hex returns the address as lowercase hex without the 0x prefix.
func (a Address) Hex() string {
	return hex.EncodeToString(a[:])
}

// String returns the 0x-prefixed hex form.
func (a Address) String() string {
	return "0x" + a.Hex()
}

// IsZero reports whether the address is all zeroes.
func (a Address) IsZero() bool {
	return a == Address{}
}

func (a Address) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

func (a *Address) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseAddress(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
