package receipt

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/zombor/receipt-scanner/internal/extract"
	"github.com/zombor/receipt-scanner/internal/scanning"
)

// IDGenerator generates unique prefixes for stored receipt files
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// defaultIDGenerator generates IDs using UnixNano timestamp
type defaultIDGenerator struct{}

func (g *defaultIDGenerator) Generate() string {
	return fmt.Sprintf("%d", time.Now().UnixNano())
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Service handles receipt operations
type Service struct {
	db          DB
	scanner     scanning.Scanner
	storage     Storage
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a new Service with default ID generator and time source
func NewService(db DB, scanner scanning.Scanner, storage Storage) *Service {
	return NewServiceWithDeps(db, scanner, storage, &defaultIDGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, scanner scanning.Scanner, storage Storage, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		db:          db,
		scanner:     scanner,
		storage:     storage,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

var (
	unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	repeatedSpaces      = regexp.MustCompile(`\s+`)
)

// sanitizeFilename cleans up a filename by removing special characters and truncating length
func sanitizeFilename(filename string) string {
	filename = filepath.Base(filename)
	ext := unsafeFilenameChars.ReplaceAllString(filepath.Ext(filename), "")
	base := strings.TrimSuffix(filename, filepath.Ext(filename))

	base = unsafeFilenameChars.ReplaceAllString(base, "")
	base = strings.TrimSpace(repeatedSpaces.ReplaceAllString(base, " "))

	// Phones generate very long names
	if len(base) > 50 {
		base = base[:50]
	}
	if base == "" {
		base = "receipt"
	}
	if ext != "" {
		ext = "." + ext
	}
	return base + ext
}

// ScanReceipt stores an upload and reads its fields without saving a
// receipt, so the user can review them first
func (s *Service) ScanReceipt(ctx context.Context, filename string, data []byte, contentType string) (*Scan, error) {
	savedPath, err := s.storage.Save(fmt.Sprintf("%s_%s", s.idGenerator.Generate(), sanitizeFilename(filename)), data)
	if err != nil {
		return nil, fmt.Errorf("saving file: %w", err)
	}

	receiptData, err := s.scanner.ScanReceipt(ctx, data, contentType)
	if err != nil {
		slog.Error("Failed to scan receipt",
			"filename", filename,
			"content_type", contentType,
			"file_size", len(data),
			"error", err,
		)
		if delErr := s.storage.Delete(savedPath); delErr != nil {
			slog.Warn("Failed to delete file", "filename", savedPath, "error", delErr)
		}
		return nil, fmt.Errorf("scanning receipt: %w", err)
	}

	slog.Info("Scanned receipt",
		"filename", savedPath,
		"rotation", receiptData.Rotation,
		"has_date", receiptData.DateTime != nil,
		"has_price", receiptData.Price != nil,
		"has_vat", receiptData.VAT != nil,
	)

	return &Scan{
		Filename:    savedPath,
		ContentType: contentType,
		ReceiptData: *receiptData,
	}, nil
}

// ProcessReceipt scans an upload and saves the result straight away. When
// the fields cannot be stored the upload is removed again
func (s *Service) ProcessReceipt(ctx context.Context, filename string, data []byte, contentType string) (*Receipt, error) {
	scan, err := s.ScanReceipt(ctx, filename, data, contentType)
	if err != nil {
		return nil, err
	}

	receipt, err := s.CreateReceipt(SubmissionFromScan(scan))
	if err != nil {
		if delErr := s.storage.Delete(scan.Filename); delErr != nil {
			slog.Warn("Failed to delete file", "filename", scan.Filename, "error", delErr)
		}
		return nil, err
	}
	return receipt, nil
}

// CreateReceipt validates a submission and appends it. Price and VAT are
// required; the receipt time may be empty
func (s *Service) CreateReceipt(sub *Submission) (*Receipt, error) {
	price, err := parseRequiredAmount("price", sub.Price)
	if err != nil {
		return nil, err
	}
	vat, err := parseRequiredAmount("vat", sub.VAT)
	if err != nil {
		return nil, err
	}

	var receiptTime *time.Time
	if dt := strings.TrimSpace(sub.DateTime); dt != "" {
		t, err := ParseReceiptTime(dt)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidData, err)
		}
		receiptTime = &t
	}

	receipt := &Receipt{
		EnteredAt:   s.timeSource.Now(),
		ReceiptTime: receiptTime,
		Price:       price,
		VAT:         vat,
		Filename:    sub.Filename,
		ContentType: sub.ContentType,
	}
	if err := s.db.SaveReceipt(receipt); err != nil {
		return nil, fmt.Errorf("saving receipt to database: %w", err)
	}

	slog.Info("Saved receipt", "id", receipt.ID, "price", receipt.Price, "vat", receipt.VAT)
	return receipt, nil
}

func parseRequiredAmount(field, text string) (float64, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, fmt.Errorf("%w: %s is required", ErrInvalidData, field)
	}
	amount, err := extract.ParseAmount(text)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrInvalidData, field, err)
	}
	v := amount.Float64()
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %s is not a finite number", ErrInvalidData, field)
	}
	return v, nil
}

// GetReceipt retrieves a receipt by ID
func (s *Service) GetReceipt(id uint64) (*Receipt, error) {
	receipt, err := s.db.GetReceipt(id)
	if err != nil {
		return nil, fmt.Errorf("getting receipt: %w", err)
	}
	return receipt, nil
}

// ListReceipts returns one page of receipts with the total count
func (s *Service) ListReceipts(page int) (*Page, error) {
	total, err := s.db.CountReceipts()
	if err != nil {
		return nil, fmt.Errorf("counting receipts: %w", err)
	}
	receipts, err := s.db.ListReceipts(page)
	if err != nil {
		return nil, fmt.Errorf("listing receipts: %w", err)
	}
	return &Page{
		Number:   page,
		PageSize: PageSize,
		Total:    total,
		Receipts: receipts,
	}, nil
}

// CountReceipts returns the number of stored receipts
func (s *Service) CountReceipts() (int, error) {
	n, err := s.db.CountReceipts()
	if err != nil {
		return 0, fmt.Errorf("counting receipts: %w", err)
	}
	return n, nil
}

// GetReceiptFile retrieves the file data for a receipt
func (s *Service) GetReceiptFile(id uint64) ([]byte, string, error) {
	receipt, err := s.db.GetReceipt(id)
	if err != nil {
		return nil, "", fmt.Errorf("getting receipt: %w", err)
	}
	if receipt.Filename == "" {
		return nil, "", fmt.Errorf("%w: receipt %d has no file", ErrNotFound, id)
	}

	data, err := s.storage.Get(receipt.Filename)
	if err != nil {
		return nil, "", fmt.Errorf("getting receipt file: %w", err)
	}

	return data, receipt.ContentType, nil
}
