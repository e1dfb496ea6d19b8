package scanning

import (
	"regexp"
	"strconv"
	"strings"
)

var rotatePattern = regexp.MustCompile(`Rotate:\s*(\d+)`)

// parseOrientation reads the clockwise rotation from tesseract's
// orientation and script detection report. Nil when the report has none
func parseOrientation(osd string) *int {
	m := rotatePattern.FindStringSubmatch(osd)
	if m == nil {
		return nil
	}
	degrees, err := strconv.Atoi(m[1])
	if err != nil {
		return nil
	}
	degrees %= 360
	return &degrees
}

// cleanTranscript strips what language models wrap around a verbatim
// transcription: markdown code fences, carriage returns and blank edges
func cleanTranscript(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		// Drop the opening fence together with any language tag
		if nl := strings.IndexByte(text, '\n'); nl >= 0 {
			text = text[nl+1:]
		} else {
			text = strings.TrimPrefix(text, "```")
		}
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.Trim(text, "\n ")
}
