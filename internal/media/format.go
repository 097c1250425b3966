package media

import (
	"github.com/gabriel-vasile/mimetype"
)

// MaxUploadBytes is the largest file the speech provider accepts.
const MaxUploadBytes = 25 << 20

// compatibleTypes lists the audio containers the speech provider decodes directly.
var compatibleTypes = []string{
	"audio/mpeg",
	"audio/wav",
	"audio/x-m4a",
	"audio/mp4",
	"audio/webm",
	"audio/ogg",
	"audio/flac",
}

// Format describes a sniffed payload.
type Format struct {
	MIME      string
	Extension string
	Size      int
}

// Sniff detects the container from the leading bytes.
func Sniff(data []byte) Format {
	m := mimetype.Detect(data)
	return Format{MIME: m.String(), Extension: m.Extension(), Size: len(data)}
}

// IsCompatible reports whether data can be sent to the provider untouched.
func IsCompatible(data []byte) bool {
	if len(data) == 0 || len(data) > MaxUploadBytes {
		return false
	}
	m := mimetype.Detect(data)
	for _, t := range compatibleTypes {
		if m.Is(t) {
			return true
		}
	}
	return false
}
