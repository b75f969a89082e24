package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Scalar is a JSON number or string field kept in the form it was received.
// The service is free to send difficulty and expire_at either way, and the
// answer must echo them unchanged.
type Scalar struct {
	text   string
	quoted bool
}

// NumberScalar returns a Scalar that encodes as the bare number literal s.
func NumberScalar(s string) Scalar {
	return Scalar{text: s}
}

// StringScalar returns a Scalar that encodes as the JSON string s.
func StringScalar(s string) Scalar {
	return Scalar{text: s, quoted: true}
}

// String returns the unquoted text.
func (s Scalar) String() string {
	return s.text
}

// Quoted reports whether the value is a JSON string.
func (s Scalar) Quoted() bool {
	return s.quoted
}

// IsZero reports whether the value is absent or empty.
func (s Scalar) IsZero() bool {
	return s.text == ""
}

// Float64 parses the text as a number, whether or not it was quoted.
func (s Scalar) Float64() (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s.text), 64)
}

func (s Scalar) MarshalJSON() ([]byte, error) {
	if s.quoted {
		return json.Marshal(s.text)
	}
	if s.text == "" {
		return []byte("null"), nil
	}
	if !isNumber(s.text) {
		return nil, fmt.Errorf("protocol: %q is not a JSON number", s.text)
	}
	return []byte(s.text), nil
}

func (s *Scalar) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*s = Scalar{}
		return nil
	case len(data) > 0 && data[0] == '"':
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
		*s = StringScalar(text)
		return nil
	}

	if !isNumber(string(data)) {
		return fmt.Errorf("protocol: cannot decode %s as number or string", data)
	}
	*s = NumberScalar(string(data))
	return nil
}

func isNumber(s string) bool {
	var n json.Number
	return json.Unmarshal([]byte(s), &n) == nil && !strings.HasPrefix(s, `"`)
}
