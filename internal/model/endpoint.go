// Package model defines the identity and record types shared by every
// topology component: switch ids, endpoints, canonical ISL references,
// port and discovery facts, and warm-start history.
package model

import (
	"cmp"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// Model errors.
var (
	// ErrInvalidSwitchID indicates a datapath id string could not be parsed.
	ErrInvalidSwitchID = errors.New("invalid switch id")

	// ErrInvalidEndpoint indicates an endpoint string could not be parsed.
	ErrInvalidEndpoint = errors.New("invalid endpoint")

	// ErrEndpointNotInReference indicates an endpoint is not one of the two
	// ends of an ISL reference.
	ErrEndpointNotInReference = errors.New("endpoint is not part of isl reference")
)

// -------------------------------------------------------------------------
// SwitchID
// -------------------------------------------------------------------------

// SwitchID is a 64-bit OpenFlow datapath id.
//
// The string form is eight colon-separated hex octets
// ("00:00:00:00:00:00:00:01"). The fixed width makes numeric order and
// lexicographic order of the rendered form identical.
type SwitchID uint64

// String returns the colon-separated hex rendering of the datapath id.
func (s SwitchID) String() string {
	var b strings.Builder
	b.Grow(23)

	for i := 7; i >= 0; i-- {
		octet := byte(uint64(s) >> (uint(i) * 8))
		b.WriteByte(hexDigits[octet>>4])
		b.WriteByte(hexDigits[octet&0x0f])
		if i > 0 {
			b.WriteByte(':')
		}
	}

	return b.String()
}

const hexDigits = "0123456789abcdef"

// ParseSwitchID parses a datapath id in colon-separated form
// ("00:00:00:00:00:00:00:01") or as a plain hex number ("0x1", "1").
func ParseSwitchID(s string) (SwitchID, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidSwitchID)
	}

	if strings.Contains(raw, ":") {
		parts := strings.Split(raw, ":")
		if len(parts) != 8 {
			return 0, fmt.Errorf("%w: %q: want 8 octets", ErrInvalidSwitchID, s)
		}
		var v uint64
		for _, p := range parts {
			octet, err := strconv.ParseUint(p, 16, 8)
			if err != nil {
				return 0, fmt.Errorf("%w: %q: %w", ErrInvalidSwitchID, s, err)
			}
			v = v<<8 | octet
		}
		return SwitchID(v), nil
	}

	v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(raw), "0x"), 16, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %w", ErrInvalidSwitchID, s, err)
	}

	return SwitchID(v), nil
}

// MarshalText implements encoding.TextMarshaler.
func (s SwitchID) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *SwitchID) UnmarshalText(text []byte) error {
	v, err := ParseSwitchID(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// -------------------------------------------------------------------------
// Endpoint
// -------------------------------------------------------------------------

// Endpoint is a physical network attachment point: one port on one switch.
// It is immutable and used as a map key.
type Endpoint struct {
	Datapath SwitchID `json:"switch"`
	Port     uint32   `json:"port"`
}

// NewEndpoint returns the endpoint for the given switch and port.
func NewEndpoint(sw SwitchID, port uint32) Endpoint {
	return Endpoint{Datapath: sw, Port: port}
}

// String returns "switch_port", e.g. "00:00:00:00:00:00:00:01_5".
func (e Endpoint) String() string {
	return e.Datapath.String() + "_" + strconv.FormatUint(uint64(e.Port), 10)
}

// Compare orders endpoints by switch id, then by port number.
func (e Endpoint) Compare(o Endpoint) int {
	if c := cmp.Compare(e.Datapath, o.Datapath); c != 0 {
		return c
	}
	return cmp.Compare(e.Port, o.Port)
}

// LogValue implements slog.LogValuer.
func (e Endpoint) LogValue() slog.Value {
	return slog.StringValue(e.String())
}

// ParseEndpoint parses the String form of an endpoint.
func ParseEndpoint(s string) (Endpoint, error) {
	idx := strings.LastIndexByte(s, '_')
	if idx <= 0 {
		return Endpoint{}, fmt.Errorf("%w: %q", ErrInvalidEndpoint, s)
	}

	sw, err := ParseSwitchID(s[:idx])
	if err != nil {
		return Endpoint{}, fmt.Errorf("%w: %q: %w", ErrInvalidEndpoint, s, err)
	}

	port, err := strconv.ParseUint(s[idx+1:], 10, 32)
	if err != nil {
		return Endpoint{}, fmt.Errorf("%w: %q: %w", ErrInvalidEndpoint, s, err)
	}

	return NewEndpoint(sw, uint32(port)), nil
}
