package transcription

import (
	"fmt"
	"strings"

	"clipwright/internal/models"
)

// recognitionPrompt steers the speech model toward verbatim, plain output.
const recognitionPrompt = "Transcribe the speech as accurately as possible. " +
	"Resolve homophones from the surrounding context. " +
	"Keep filler words exactly as spoken. " +
	"Output plain text only, without timestamps, speaker labels or markup."

const correctionSystem = `You correct speech recognition output of short-form videos.

Rules:
- Fix only recognition errors: misheard words, wrong homophones, broken punctuation.
- Never add, remove or summarize content. Never invent words that were not spoken.
- Keep filler words and the speaker's phrasing.
- Cross-check proper nouns (people, brands, products, places) against the video metadata and use the metadata spelling.
- Reply with the corrected transcript only, as plain text.`

// correctionUser builds the user message for the correction call.
func correctionUser(v *models.Video, raw string) string {
	var b strings.Builder
	b.WriteString("Video metadata:\n")
	fmt.Fprintf(&b, "- title: %s\n", v.Title)
	if v.Author != "" {
		fmt.Fprintf(&b, "- author: %s\n", v.Author)
	}
	if len(v.Hashtags) > 0 {
		fmt.Fprintf(&b, "- hashtags: %s\n", strings.Join(v.Hashtags, " "))
	}
	if len(v.TopicTags) > 0 {
		fmt.Fprintf(&b, "- topics: %s\n", strings.Join(v.TopicTags, ", "))
	}
	b.WriteString("\nTranscript:\n")
	b.WriteString(raw)
	return b.String()
}
