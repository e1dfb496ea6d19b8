package receipt

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zombor/receipt-scanner/internal/scanning"
)

var (
	// ErrNotFound is returned when no receipt has the requested ID
	ErrNotFound = errors.New("receipt not found")
	// ErrInvalidData is returned when submitted fields cannot be stored
	ErrInvalidData = errors.New("invalid receipt data")
)

// PageSize is how many receipts one page of a listing holds
const PageSize = 1000

// receiptTimeLayout is the day.month.year format printed on receipts
const receiptTimeLayout = "2.1.2006 15:04:05"

// Receipt represents one stored receipt row
type Receipt struct {
	ID          uint64     `json:"id"`
	EnteredAt   time.Time  `json:"entered_at"`
	ReceiptTime *time.Time `json:"receipt_time"`
	Price       float64    `json:"price"`
	VAT         float64    `json:"vat"`
	Filename    string     `json:"filename,omitempty"`
	ContentType string     `json:"content_type,omitempty"`
}

// Scan is a recognized but not yet saved receipt, returned so the user can
// review the fields before submitting them
type Scan struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	scanning.ReceiptData
}

// Submission holds the fields of a receipt as text, the way they are shown
// to and corrected by the user
type Submission struct {
	DateTime    string `json:"date_time"`
	Price       string `json:"price"`
	VAT         string `json:"vat"`
	Filename    string `json:"filename,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

// SubmissionFromScan fills a Submission with the fields of a scan. Missing
// fields are left empty
func SubmissionFromScan(scan *Scan) *Submission {
	sub := &Submission{
		Filename:    scan.Filename,
		ContentType: scan.ContentType,
	}
	if scan.DateTime != nil {
		sub.DateTime = *scan.DateTime
	}
	if scan.Price != nil {
		sub.Price = scan.Price.String()
	}
	if scan.VAT != nil {
		sub.VAT = scan.VAT.String()
	}
	return sub
}

// Page is one page of receipts ordered by ID
type Page struct {
	Number   int        `json:"page"`
	PageSize int        `json:"page_size"`
	Total    int        `json:"total"`
	Receipts []*Receipt `json:"receipts"`
}

// ParseReceiptTime parses "d.m.yyyy hh:mm" with optional seconds, the form
// the extractor produces
func ParseReceiptTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if strings.Count(s, ":") == 1 {
		s += ":00"
	}
	t, err := time.ParseInLocation(receiptTimeLayout, s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing receipt time: %w", err)
	}
	return t, nil
}
