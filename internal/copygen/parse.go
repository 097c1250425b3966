package copygen

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"clipwright/internal/batch"
	"clipwright/internal/models"
)

// MinParagraphRunes is the length a paragraph must exceed to be kept by the
// paragraph fallback.
const MinParagraphRunes = 50

// ErrParseFailure means neither delimited sections nor usable paragraphs
// were found.
var ErrParseFailure = errors.New("no copies could be parsed from the model reply")

var sectionMarker = regexp.MustCompile(`(?m)^[ \t]*===[ \t]*COPY-(\d+)[ \t]*===[ \t]*$`)

var blankLine = regexp.MustCompile(`\n[ \t]*\n`)

// Section is one parsed copy.
type Section struct {
	Sequence int
	Content  string
}

// Parsed is the outcome of parsing one reply.
type Parsed struct {
	Sections []Section
	Mode     models.ParseMode
}

// Parse extracts copies from text. target is nil in bulk mode. The paragraph
// fallback applies only to replies without any section marker.
func Parse(text string, target *int) (*Parsed, error) {
	text = strings.ReplaceAll(text, "\r\n", "\n")

	if sectionMarker.MatchString(text) {
		// A marked reply is never reread as prose.
		if sections := delimited(text, target); len(sections) > 0 {
			return &Parsed{Sections: sections, Mode: models.ParseModeDelimited}, nil
		}
		return nil, ErrParseFailure
	}
	if sections := paragraphs(text, target); len(sections) > 0 {
		return &Parsed{Sections: sections, Mode: models.ParseModeParagraph}, nil
	}
	return nil, ErrParseFailure
}

func delimited(text string, target *int) []Section {
	matches := sectionMarker.FindAllStringSubmatchIndex(text, -1)
	seen := make(map[int]bool)
	var out []Section

	for i, m := range matches {
		n, err := strconv.Atoi(text[m[2]:m[3]])
		if err != nil || n < 1 || n > batch.BulkCopyCount {
			continue
		}
		if target != nil && n != *target {
			continue
		}
		if seen[n] {
			continue
		}

		end := len(text)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		content := strings.TrimSpace(text[m[1]:end])
		if content == "" {
			continue
		}
		seen[n] = true
		out = append(out, Section{Sequence: n, Content: content})
	}
	return out
}

func paragraphs(text string, target *int) []Section {
	var out []Section
	for _, p := range blankLine.Split(text, -1) {
		p = strings.TrimSpace(p)
		if utf8.RuneCountInString(p) <= MinParagraphRunes {
			continue
		}
		if target != nil {
			return []Section{{Sequence: *target, Content: p}}
		}
		out = append(out, Section{Sequence: len(out) + 1, Content: p})
		if len(out) == batch.BulkCopyCount {
			break
		}
	}
	return out
}
