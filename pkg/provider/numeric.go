package provider

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// FlexFloat decodes provider numerics that arrive as numbers, quoted
// numbers (sometimes with a comma decimal separator), null, or garbage.
// Anything unparseable decodes to 0 so that one malformed field never
// aborts the rest of the payload.
type FlexFloat float64

func (f *FlexFloat) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = 0
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			*f = 0
			return nil
		}
		*f = FlexFloat(ParseFloat(s))
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		*f = 0
		return nil
	}
	*f = FlexFloat(v)
	return nil
}

// Float64 returns the underlying value.
func (f FlexFloat) Float64() float64 { return float64(f) }

// Round2 rounds to two decimal places. Energy figures are carried at
// this precision everywhere past the raw provider payloads.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// ParseFloat parses a provider numeric string, accepting a comma as the
// decimal separator. Unparseable input yields 0.
func ParseFloat(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" || s == "--" {
		return 0
	}
	s = strings.ReplaceAll(s, ",", ".")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
