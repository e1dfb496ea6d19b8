package scanning

import (
	"context"
	"errors"
	"image"
	"strings"
)

var (
	// ErrRecognition means the recognizer could not read the receipt at all
	ErrRecognition = errors.New("could not read receipt")
	// ErrUnsupportedFormat means the upload is not an image or PDF we can decode
	ErrUnsupportedFormat = errors.New("unsupported image format")
)

// Tesseract page segmentation and engine modes used for receipts
const (
	PageSegSingleBlock = 6
	EngineDefault      = 3
)

// RecognizerConfig is passed to every Recognize call
type RecognizerConfig struct {
	Languages   []string
	PageSegMode int
	EngineMode  int
}

// DefaultRecognizerConfig reads Finnish and English receipts as one
// uniform block of text
func DefaultRecognizerConfig() RecognizerConfig {
	return RecognizerConfig{
		Languages:   []string{"eng", "fin"},
		PageSegMode: PageSegSingleBlock,
		EngineMode:  EngineDefault,
	}
}

// LanguageString is the tesseract form of the language list, e.g. "eng+fin"
func (c RecognizerConfig) LanguageString() string {
	return strings.Join(c.Languages, "+")
}

// ParseLanguages splits "eng+fin" or "eng,fin" into language codes
func ParseLanguages(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == '+' || r == ',' || r == ' '
	})
	return fields
}

// Recognition is the output of one recognizer pass
type Recognition struct {
	Text string
	// Rotation is a coarse clockwise orientation estimate in degrees, a
	// multiple of 90. Nil when the recognizer could not tell
	Rotation *int
}

// Lines splits the recognized text on newlines
func (r *Recognition) Lines() []string {
	return strings.Split(r.Text, "\n")
}

// Recognizer turns a normalized image into text
type Recognizer interface {
	Recognize(ctx context.Context, img image.Image, cfg RecognizerConfig) (*Recognition, error)
	Close() error
}
