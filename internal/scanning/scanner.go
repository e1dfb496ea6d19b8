package scanning

import (
	"context"

	"github.com/zombor/receipt-scanner/internal/extract"
)

// ReceiptData contains the text and fields read from a receipt
type ReceiptData struct {
	Text string `json:"text"`
	// Rotation is the clockwise turn applied from the recognizer's
	// orientation hint before the final pass, 0 when none was needed
	Rotation int `json:"rotation"`
	extract.Result
}

// Scanner defines the interface for receipt scanning operations
type Scanner interface {
	// ScanReceipt reads a receipt image/PDF and extracts its fields
	ScanReceipt(ctx context.Context, imageData []byte, contentType string) (*ReceiptData, error)
	// Close closes the scanner and releases resources
	Close() error
}
