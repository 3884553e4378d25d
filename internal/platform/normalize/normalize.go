// Package normalize coerces loosely typed request values at the input
// boundary. It is the only place where an empty string becomes null and
// where numeric strings become numbers.
package normalize

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/noosi159/Hospital1-backend/internal/platform/apperr"
)

// NullString trims s and returns nil when nothing is left.
func NullString(s *string) *string {
	if s == nil {
		return nil
	}
	return NullIfEmpty(*s)
}

// NullIfEmpty is NullString for a plain value.
func NullIfEmpty(s string) *string {
	t := strings.TrimSpace(s)
	if t == "" {
		return nil
	}
	return &t
}

// ParseNumber parses a trimmed numeric string. Empty input yields (nil, nil);
// anything that is not a finite number is an error.
func ParseNumber(s string) (*float64, error) {
	t := strings.TrimSpace(s)
	if t == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(t, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, strconv.ErrSyntax
	}
	return &f, nil
}

// Number is a JSON value that may arrive as a number, a numeric string, an
// empty string or null. Decoding never fails; Float reports bad input as a
// validation error instead.
type Number struct {
	Present bool
	Null    bool
	Value   float64
	raw     string
	invalid bool
}

// NumberOf builds a present, valid Number.
func NumberOf(v float64) Number {
	return Number{Present: true, Value: v}
}

func (n *Number) UnmarshalJSON(b []byte) error {
	*n = Number{Present: true}
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		n.Null = true
		return nil
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			n.invalid, n.raw = true, string(b)
			return nil
		}
		f, err := ParseNumber(s)
		if err != nil {
			n.invalid, n.raw = true, s
			return nil
		}
		if f == nil {
			n.Null = true
			return nil
		}
		n.Value = *f
		return nil
	default:
		f, err := ParseNumber(string(b))
		if err != nil || f == nil {
			n.invalid, n.raw = true, string(b)
			return nil
		}
		n.Value = *f
		return nil
	}
}

func (n Number) MarshalJSON() ([]byte, error) {
	if !n.Present || n.Null || n.invalid {
		return []byte("null"), nil
	}
	return json.Marshal(n.Value)
}

// Float returns nil for an absent or null value and a validation error when
// the value could not be read as a finite number.
func (n Number) Float(field string) (*float64, error) {
	if n.invalid {
		return nil, apperr.Validation("%s must be a valid number, got %q", field, n.raw)
	}
	if !n.Present || n.Null {
		return nil, nil
	}
	v := n.Value
	return &v, nil
}

// Required is Float for a mandatory field.
func (n Number) Required(field string) (float64, error) {
	f, err := n.Float(field)
	if err != nil {
		return 0, err
	}
	if f == nil {
		return 0, apperr.Validation("%s is required", field)
	}
	return *f, nil
}

// Text is a JSON value that may arrive as a string, a number or null. Empty
// strings normalize to null. Objects and arrays are rejected.
type Text struct {
	Present bool
	value   *string
}

// TextOf builds a present Text, normalizing s.
func TextOf(s string) Text {
	return Text{Present: true, value: NullIfEmpty(s)}
}

func (t *Text) UnmarshalJSON(b []byte) error {
	*t = Text{Present: true}
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		return nil
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		t.value = NullIfEmpty(s)
		return nil
	case len(b) > 0 && (b[0] == '{' || b[0] == '['):
		return apperr.Validation("expected a string or number, got %s", kindOf(b[0]))
	default:
		t.value = NullIfEmpty(string(b))
		return nil
	}
}

func kindOf(c byte) string {
	if c == '{' {
		return "an object"
	}
	return "an array"
}

func (t Text) MarshalJSON() ([]byte, error) {
	if t.value == nil {
		return []byte("null"), nil
	}
	return json.Marshal(*t.value)
}

// Ptr returns the normalized value, nil when absent, null or blank.
func (t Text) Ptr() *string {
	if t.value == nil {
		return nil
	}
	v := *t.value
	return &v
}

// String returns the normalized value or "".
func (t Text) String() string {
	if t.value == nil {
		return ""
	}
	return *t.value
}
