package scanning

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/zombor/receipt-scanner/internal/extract"
	"github.com/zombor/receipt-scanner/internal/normalize"
)

// Pipeline implements Scanner: it normalizes the capture, runs the
// recognizer, retries once when the recognizer reports the page is turned,
// and extracts the receipt fields from the final text
type Pipeline struct {
	recognizer  Recognizer
	config      RecognizerConfig
	timeout     time.Duration
	extractOpts []extract.Option
}

// NewPipeline creates a Pipeline. A positive timeout bounds every
// recognizer call
func NewPipeline(recognizer Recognizer, cfg RecognizerConfig, timeout time.Duration, opts ...extract.Option) *Pipeline {
	return &Pipeline{
		recognizer:  recognizer,
		config:      cfg,
		timeout:     timeout,
		extractOpts: opts,
	}
}

// ScanReceipt decodes imageData and reads the receipt fields from it
func (p *Pipeline) ScanReceipt(ctx context.Context, imageData []byte, contentType string) (*ReceiptData, error) {
	img, err := DecodeImage(imageData, contentType)
	if err != nil {
		return nil, err
	}

	first, err := p.recognize(ctx, normalize.Normalize(img))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRecognition, err)
	}

	text, rotation := first.Text, 0
	if hint := first.Rotation; hint != nil && *hint%360 != 0 {
		slog.Debug("Recognizer reported turned page, retrying", "rotation", *hint)
		retry, err := p.recognize(ctx, normalize.Normalize(normalize.RotateQuadrant(img, *hint)))
		if err != nil {
			slog.Warn("Retry after rotation failed, keeping first pass", "rotation", *hint, "error", err)
		} else {
			text, rotation = retry.Text, *hint
		}
	}

	return &ReceiptData{
		Text:     text,
		Rotation: rotation,
		Result:   extract.Extract(text, p.extractOpts...),
	}, nil
}

func (p *Pipeline) recognize(ctx context.Context, img image.Image) (*Recognition, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	start := time.Now()
	rec, err := p.recognizer.Recognize(ctx, img, p.config)
	if err != nil {
		return nil, err
	}
	slog.Debug("Recognized receipt text",
		"bytes", len(rec.Text),
		"lines", len(rec.Lines()),
		"duration", time.Since(start),
	)
	return rec, nil
}

// Close closes the underlying recognizer
func (p *Pipeline) Close() error {
	return p.recognizer.Close()
}
