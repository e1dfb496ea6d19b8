package extract

import "fmt"

// TieBreak decides when a later candidate replaces the running best price or
// VAT rate
type TieBreak int

const (
	// TieBreakLexical compares the formatted two-digit strings, so "9.00"
	// beats "22.00". A VAT candidate replaces the current rate when the best
	// price string is greater than the current VAT string. Existing receipt
	// data was produced this way
	TieBreakLexical TieBreak = iota
	// TieBreakNumeric compares parsed values, and VAT candidates are compared
	// with the current VAT rate
	TieBreakNumeric
)

func (t TieBreak) String() string {
	switch t {
	case TieBreakLexical:
		return "lexical"
	case TieBreakNumeric:
		return "numeric"
	default:
		return fmt.Sprintf("TieBreak(%d)", int(t))
	}
}

// ParseTieBreak reads the flag form of a TieBreak
func ParseTieBreak(s string) (TieBreak, error) {
	switch s {
	case "lexical", "":
		return TieBreakLexical, nil
	case "numeric":
		return TieBreakNumeric, nil
	default:
		return 0, fmt.Errorf("unknown tie-break %q (want lexical or numeric)", s)
	}
}

type options struct {
	tieBreak TieBreak
}

// Option configures Extract
type Option func(*options)

// WithTieBreak selects how competing price and VAT candidates are ranked
func WithTieBreak(t TieBreak) Option {
	return func(o *options) {
		o.tieBreak = t
	}
}
