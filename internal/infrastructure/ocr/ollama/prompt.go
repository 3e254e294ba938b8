package ollama

import (
	"fmt"
	"strings"

	"github.com/kirillkom/mission-stats/internal/core/domain"
)

func buildRecognitionPrompt(hints domain.OCRHints) string {
	var sb strings.Builder
	sb.WriteString(`You read one field from a cropped video game statistics screen.
Return strict JSON object with keys:
text (string, exactly the characters shown), confidence (number from 0 to 1).
No markdown, no extra keys. Use an empty string when nothing is legible.
`)
	fmt.Fprintf(&sb, "Field kind: %s.\n", kindDescription(hints.Kind))
	if hints.Charset != "" {
		fmt.Fprintf(&sb, "Allowed characters: %q.\n", hints.Charset)
	}
	if len(hints.Vocabulary) > 0 {
		fmt.Fprintf(&sb, "The text is one of: %s.\n", strings.Join(hints.Vocabulary, ", "))
	}
	return sb.String()
}

func kindDescription(kind domain.FieldKind) string {
	switch kind {
	case domain.KindCounter:
		return "a non-negative integer"
	case domain.KindPercent:
		return "a percentage such as 87% or 87.5%"
	case domain.KindDuration:
		return "a duration such as 12:34 or 1:02:03"
	case domain.KindOutcome:
		return "a single uppercase word"
	default:
		return "a player name"
	}
}
