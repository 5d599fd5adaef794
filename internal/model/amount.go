package model

import (
	"bytes"
	"encoding/json"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// Amount is a money value that tolerates loosely typed input: numbers,
// numeric strings, null. Anything that does not parse becomes 0.
type Amount float64

func (a Amount) Float64() float64 { return float64(a) }

func (a *Amount) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			*a = 0
			return nil
		}
		*a = Amount(ParseAmount(s))
		return nil
	}
	*a = Amount(ParseAmount(string(b)))
	return nil
}

// ParseAmount converts v into a float rounded to two decimals. Non-numeric,
// NaN and infinite input yield 0.
func ParseAmount(v any) float64 {
	var d decimal.Decimal
	switch x := v.(type) {
	case nil:
		return 0
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return 0
		}
		d = decimal.NewFromFloat(x)
	case float32:
		return ParseAmount(float64(x))
	case int:
		d = decimal.NewFromInt(int64(x))
	case int64:
		d = decimal.NewFromInt(x)
	case Amount:
		return ParseAmount(float64(x))
	case json.Number:
		return ParseAmount(x.String())
	case string:
		s := strings.TrimSpace(strings.ReplaceAll(x, ",", ""))
		if s == "" || s == "null" {
			return 0
		}
		var err error
		d, err = decimal.NewFromString(s)
		if err != nil {
			return 0
		}
	default:
		return 0
	}
	return d.Round(2).InexactFloat64()
}

// FormatAmount renders f the way it is stored in flat backends.
func FormatAmount(f float64) string {
	return decimal.NewFromFloat(f).Round(2).String()
}
