package scanning

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"log/slog"
	"os"
	"os/exec"
	"sync"

	"github.com/otiai10/gosseract/v2"
)

// Runner runs an external command and returns its stdout and stderr
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// Tesseract implements Recognizer with the Tesseract OCR engine. Text is read
// through the library bindings; the orientation hint comes from the
// tesseract binary's orientation and script detection, which the bindings
// do not expose
type Tesseract struct {
	bin    string
	runner Runner

	mu     sync.Mutex // guards client, which is not safe for concurrent use
	client *gosseract.Client

	warnEngine sync.Once
}

// NewTesseract creates a new Tesseract Recognizer. bin is the tesseract
// executable used for orientation detection
func NewTesseract(bin string) *Tesseract {
	if bin == "" {
		bin = "tesseract"
	}
	return &Tesseract{
		bin:    bin,
		runner: execRunner{},
		client: gosseract.NewClient(),
	}
}

// Recognize reads the text of img and estimates its orientation
func (t *Tesseract) Recognize(ctx context.Context, img image.Image, cfg RecognizerConfig) (*Recognition, error) {
	data, err := encodePNG(img)
	if err != nil {
		return nil, err
	}

	text, err := t.text(ctx, data, cfg)
	if err != nil {
		return nil, err
	}

	return &Recognition{
		Text:     text,
		Rotation: t.orientation(ctx, data),
	}, nil
}

func (t *Tesseract) text(ctx context.Context, data []byte, cfg RecognizerConfig) (string, error) {
	if cfg.EngineMode != EngineDefault {
		t.warnEngine.Do(func() {
			slog.Warn("Tesseract bindings always use the default engine mode", "requested", cfg.EngineMode)
		})
	}

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		text, err := t.ocr(data, cfg)
		done <- result{text: text, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("reading text: %w", ctx.Err())
	case r := <-done:
		return r.text, r.err
	}
}

func (t *Tesseract) ocr(data []byte, cfg RecognizerConfig) (string, error) {
	if err := t.client.SetLanguage(cfg.Languages...); err != nil {
		return "", fmt.Errorf("setting languages: %w", err)
	}
	if err := t.client.SetPageSegMode(gosseract.PageSegMode(cfg.PageSegMode)); err != nil {
		return "", fmt.Errorf("setting page segmentation mode: %w", err)
	}
	if err := t.client.SetImageFromBytes(data); err != nil {
		return "", fmt.Errorf("setting image: %w", err)
	}
	text, err := t.client.Text()
	if err != nil {
		return "", fmt.Errorf("reading text: %w", err)
	}
	return text, nil
}

// orientation runs `tesseract <png> stdout --psm 0`. Detection often fails
// on low resolution captures; that only means there is no hint
func (t *Tesseract) orientation(ctx context.Context, data []byte) *int {
	tmp, err := os.CreateTemp("", "receipt-osd-*.png")
	if err != nil {
		slog.Debug("Orientation detection skipped", "error", err)
		return nil
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		slog.Debug("Orientation detection skipped", "error", err)
		return nil
	}
	if err := tmp.Close(); err != nil {
		slog.Debug("Orientation detection skipped", "error", err)
		return nil
	}

	out, errOut, err := t.runner.Run(ctx, t.bin, tmp.Name(), "stdout", "--psm", "0")
	if err != nil {
		slog.Debug("Orientation detection failed", "error", err, "stderr", string(errOut))
		return nil
	}
	return parseOrientation(string(out))
}

// Close releases the Tesseract engine
func (t *Tesseract) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.client.Close()
}
