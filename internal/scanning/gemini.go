package scanning

import (
	"context"
	"fmt"
	"image"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// transcriptionPrompt asks a vision model to behave like an OCR engine so the
// same keyword heuristics can run on its output
const transcriptionPrompt = `Transcribe all text printed on this receipt exactly as it appears, line by line, from top to bottom.

Rules:
- Keep the original language (the receipt is usually Finnish or English). Do not translate.
- Keep numbers, dates, times, decimal commas and percent signs exactly as printed.
- Put each printed line on its own line. Keep a label and its amount on the same line when they are printed on the same line.
- Do not summarize, explain, or add anything that is not printed on the receipt.
- Do not use markdown code blocks.`

// Gemini implements Recognizer using Google Gemini
type Gemini struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewGemini creates a new Gemini Recognizer instance
func NewGemini(ctx context.Context, apiKey string, modelName string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = "gemini-2.5-pro"
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	model.SetTemperature(0)

	return &Gemini{
		client: client,
		model:  model,
	}, nil
}

// Recognize transcribes the receipt. Gemini gives no orientation hint
func (g *Gemini) Recognize(ctx context.Context, img image.Image, cfg RecognizerConfig) (*Recognition, error) {
	data, err := encodePNG(img)
	if err != nil {
		return nil, err
	}

	// genai.ImageData expects just the format suffix (e.g., "png")
	parts := []genai.Part{
		genai.ImageData("png", data),
		genai.Text(transcriptionPrompt + languageHint(cfg)),
	}

	resp, err := g.model.GenerateContent(ctx, parts...)
	if err != nil {
		return nil, fmt.Errorf("generating content: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("no response from gemini")
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			responseText.WriteString(string(text))
		}
	}

	return &Recognition{Text: cleanTranscript(responseText.String())}, nil
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	return g.client.Close()
}

// languageHint tells a language model which languages to expect
func languageHint(cfg RecognizerConfig) string {
	if len(cfg.Languages) == 0 {
		return ""
	}
	return "\n- Expected languages (tesseract codes): " + strings.Join(cfg.Languages, ", ") + "."
}
