// Package capability describes what the current runtime is allowed to do
// while acquiring media: transcode with ffmpeg and download full videos.
package capability

import (
	"os/exec"
)

// Capabilities is a plain value consulted by the acquisition chain.
type Capabilities struct {
	Transcode          bool
	DownloadLargeFiles bool
}

// CanTranscode reports whether media can be converted to the canonical audio profile.
func (c Capabilities) CanTranscode() bool { return c.Transcode }

// CanDownloadLargeFiles reports whether full video downloads are permitted.
func (c Capabilities) CanDownloadLargeFiles() bool { return c.DownloadLargeFiles }

// CanFallBackToVideo reports whether the video download + extraction branch is possible.
func (c Capabilities) CanFallBackToVideo() bool {
	return c.Transcode && c.DownloadLargeFiles
}

// DetectOptions overrides what Detect would otherwise infer.
type DetectOptions struct {
	// Restricted marks a serverless or sandboxed runtime: no ffmpeg, no large files.
	Restricted bool
	// FFmpegPath is looked up on PATH when empty.
	FFmpegPath string
	// ForceTranscode skips the ffmpeg lookup.
	ForceTranscode bool
}

// lookPath is swapped in tests.
var lookPath = exec.LookPath

// Detect inspects the environment once. Callers pass the result explicitly.
func Detect(opts DetectOptions) Capabilities {
	if opts.Restricted {
		return Capabilities{}
	}

	transcode := opts.ForceTranscode
	if !transcode {
		bin := opts.FFmpegPath
		if bin == "" {
			bin = "ffmpeg"
		}
		_, err := lookPath(bin)
		transcode = err == nil
	}

	return Capabilities{
		Transcode:          transcode,
		DownloadLargeFiles: true,
	}
}
