// Package extract pulls the purchase date, the total price and the VAT rate
// out of recognized receipt text using keyword heuristics tuned for Finnish
// and English receipts.
//
// Extraction never fails. Fields that cannot be found are left nil, and a
// candidate whose number does not parse is skipped without affecting the
// others
package extract

import (
	"log/slog"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	datePattern = regexp.MustCompile(`\b\d{1,2}\.\d{1,2}\.\d{4}\b`)
	timePattern = regexp.MustCompile(`\b\d{1,2}:\d{2}(?::\d{2})?\b`)
	vatPattern  = regexp.MustCompile(`\d{1,2}(?:,|\.|)\d{0,2}(?:%| %)`)
)

var (
	priceKeywords = []string{"summa", "amount", "yhteensä", "yht"}
	vatKeywords   = []string{"alv", "vat", "%"}
)

// placeholderTime is appended to a date when the text has no time of day
const placeholderTime = "00:00"

// Result holds the fields found on a receipt. DateTime has the form
// "d.m.yyyy hh:mm" with optional seconds, exactly as printed
type Result struct {
	DateTime *string `json:"date_time"`
	Price    *Amount `json:"price"`
	VAT      *Amount `json:"vat"`
}

// Extract reads the fields out of text, which must already be upright
func Extract(text string, opts ...Option) Result {
	o := options{tieBreak: TieBreakLexical}
	for _, opt := range opts {
		opt(&o)
	}

	lower := foldCase(text)
	price := fold(best{}, priceCandidates(text, lower), func(cur best, c Amount) bool {
		if o.tieBreak == TieBreakNumeric {
			return c.value > cur.amount.value
		}
		return c.text > cur.amount.text
	})
	vat := fold(best{}, vatCandidates(text, lower), func(cur best, c Amount) bool {
		if o.tieBreak == TieBreakNumeric {
			return c.value > cur.amount.value
		}
		return price.text() > cur.amount.text
	})

	return Result{
		DateTime: dateTime(text),
		Price:    price.amount,
		VAT:      vat.amount,
	}
}

// ExtractLines is Extract over text that has already been split into lines
func ExtractLines(lines []string, opts ...Option) Result {
	return Extract(strings.Join(lines, "\n"), opts...)
}

// best is the accumulator of a largest-wins fold
type best struct {
	amount *Amount
}

func (b best) text() string {
	if b.amount == nil {
		return ""
	}
	return b.amount.text
}

// fold accepts the first candidate unconditionally and later ones only when
// wins reports true against the current best
func fold(acc best, candidates []Amount, wins func(cur best, c Amount) bool) best {
	for _, c := range candidates {
		if acc.amount == nil || wins(acc, c) {
			acc = best{amount: &c}
		}
	}
	return acc
}

func dateTime(text string) *string {
	date := datePattern.FindString(text)
	if date == "" {
		return nil
	}
	clock := timePattern.FindString(text)
	if clock == "" {
		clock = placeholderTime
	}
	s := date + " " + clock
	return &s
}

// priceCandidates looks at the first occurrence of each price keyword. The
// number is taken from the keyword's line, or from the next line when the
// keyword stands alone
func priceCandidates(text, lower string) []Amount {
	var out []Amount
	for _, kw := range priceKeywords {
		idx := strings.Index(lower, kw)
		if idx < 0 {
			continue
		}
		start, end := lineAt(text, idx)
		digits := numeric(strings.TrimSpace(text[start:end]))
		if digits == "" && end < len(text) {
			nextStart, nextEnd := lineAt(text, end+1)
			digits = numeric(strings.TrimSpace(text[nextStart:nextEnd]))
		}

		amount, err := ParseAmount(digits)
		if err != nil {
			slog.Debug("Skipping price candidate", "keyword", kw, "error", err)
			continue
		}
		out = append(out, amount)
	}
	return out
}

// vatCandidates scans every occurrence of each VAT keyword, resuming after
// the line of the previous hit
func vatCandidates(text, lower string) []Amount {
	var out []Amount
	for _, kw := range vatKeywords {
		pos := 0
		for pos < len(lower) {
			i := strings.Index(lower[pos:], kw)
			if i < 0 {
				break
			}
			idx := pos + i
			start, end := lineAt(text, idx)

			candidate := text[start:end]
			if p := strings.IndexByte(text[idx:end], '%'); p >= 0 {
				candidate = text[start : idx+p+1]
			}
			if m := vatPattern.FindString(strings.TrimSpace(candidate)); m != "" {
				amount, err := ParseAmount(numeric(m))
				if err != nil {
					slog.Debug("Skipping VAT candidate", "keyword", kw, "error", err)
				} else {
					out = append(out, amount)
				}
			}
			pos = end
		}
	}
	return out
}

// lineAt returns the byte range of the line containing idx, without the
// newline. The last line ends at the end of text
func lineAt(text string, idx int) (int, int) {
	start := strings.LastIndexByte(text[:idx], '\n') + 1
	end := strings.IndexByte(text[idx:], '\n')
	if end < 0 {
		return start, len(text)
	}
	return start, idx + end
}

// numeric keeps digits and decimal separators
func numeric(s string) string {
	return strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '.' || r == ',' {
			return r
		}
		return -1
	}, s)
}

// foldCase lowercases text rune by rune, keeping runes whose lowercase form
// has a different UTF-8 width and invalid bytes as they are, so byte offsets
// into the result are valid in the original
func foldCase(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		if l := unicode.ToLower(r); r != utf8.RuneError && utf8.RuneLen(l) == size {
			b.WriteRune(l)
		} else {
			b.WriteString(text[i : i+size])
		}
		i += size
	}
	return b.String()
}
