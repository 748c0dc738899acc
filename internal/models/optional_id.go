package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// OptionalID is an identifier that may be absent. The client sends ids as
// numbers, numeric strings, or "all" to mean no selection.
type OptionalID struct {
	Value int64
	Valid bool
}

// SomeID returns a present id
func SomeID(v int64) OptionalID {
	return OptionalID{Value: v, Valid: true}
}

func (o *OptionalID) UnmarshalJSON(b []byte) error {
	raw := strings.TrimSpace(string(b))
	if raw == "null" {
		*o = OptionalID{}
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		raw = s
	}
	return o.parse(raw)
}

// UnmarshalParam lets gin bind the id from query strings and forms.
func (o *OptionalID) UnmarshalParam(param string) error {
	return o.parse(param)
}

func (o OptionalID) MarshalJSON() ([]byte, error) {
	if !o.Valid {
		return []byte("null"), nil
	}
	return strconv.AppendInt(nil, o.Value, 10), nil
}

func (o *OptionalID) parse(s string) error {
	s = strings.TrimSpace(s)
	if s == "" || s == "all" {
		*o = OptionalID{}
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return fmt.Errorf("invalid id %q", s)
	}
	*o = SomeID(n)
	return nil
}
