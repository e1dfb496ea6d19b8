package extract

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Amount is a decimal read off a receipt together with its canonical text,
// which always carries exactly two fraction digits
type Amount struct {
	value float64
	text  string
}

// NewAmount formats v with two fraction digits
func NewAmount(v float64) Amount {
	return Amount{value: v, text: strconv.FormatFloat(v, 'f', 2, 64)}
}

// ParseAmount reads a number that may use either "," or "." as the decimal
// separator, e.g. "15,5" or "24.00"
func ParseAmount(s string) (Amount, error) {
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
	if err != nil {
		return Amount{}, fmt.Errorf("parsing amount %q: %w", s, err)
	}
	return NewAmount(v), nil
}

func (a Amount) Float64() float64 { return a.value }

func (a Amount) String() string { return a.text }

func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.text)
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var v float64
		if numErr := json.Unmarshal(data, &v); numErr != nil {
			return fmt.Errorf("decoding amount: %w", err)
		}
		*a = NewAmount(v)
		return nil
	}
	parsed, err := ParseAmount(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
