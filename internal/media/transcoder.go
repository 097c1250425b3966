// Package media sniffs audio formats and converts media to the canonical
// profile accepted by the speech recognition provider.
package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
)

// Profile is the target audio encoding.
type Profile struct {
	SampleRate int
	Channels   int
	Bitrate    string
	Format     string
}

// Canonical is 16kHz mono MP3, small enough for short-form clips.
var Canonical = Profile{
	SampleRate: 16000,
	Channels:   1,
	Bitrate:    "64k",
	Format:     "mp3",
}

// ErrFFmpegNotFound is returned when the ffmpeg binary cannot be located.
var ErrFFmpegNotFound = errors.New("ffmpeg not found")

// FFmpeg converts media using the ffmpeg binary.
type FFmpeg struct {
	Bin     string
	TempDir string
	Profile Profile
}

// NewFFmpeg creates a transcoder producing the canonical profile.
func NewFFmpeg(bin string) *FFmpeg {
	if bin == "" {
		bin = "ffmpeg"
	}
	return &FFmpeg{Bin: bin, Profile: Canonical}
}

// Transcode converts an in-memory audio file to the canonical profile.
func (f *FFmpeg) Transcode(ctx context.Context, data []byte) ([]byte, error) {
	dir, err := os.MkdirTemp(f.TempDir, "transcode-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer os.RemoveAll(dir)

	inputPath := filepath.Join(dir, "input")
	if err := os.WriteFile(inputPath, data, 0644); err != nil {
		return nil, fmt.Errorf("failed to write input: %w", err)
	}

	return f.convert(ctx, inputPath, dir)
}

// ExtractAudio strips the video stream from a downloaded file and returns
// canonical audio. The input file is left in place.
func (f *FFmpeg) ExtractAudio(ctx context.Context, videoPath string) ([]byte, error) {
	if _, err := os.Stat(videoPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("input file not found: %s", videoPath)
	}

	dir, err := os.MkdirTemp(f.TempDir, "extract-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer os.RemoveAll(dir)

	return f.convert(ctx, videoPath, dir)
}

func (f *FFmpeg) convert(ctx context.Context, inputPath, dir string) ([]byte, error) {
	if _, err := exec.LookPath(f.Bin); err != nil {
		return nil, ErrFFmpegNotFound
	}

	outputPath := filepath.Join(dir, "output."+f.Profile.Format)
	cmd := exec.CommandContext(ctx, f.Bin, f.Profile.args(inputPath, outputPath)...)

	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("ffmpeg conversion failed: %w\nOutput: %s", err, lastLines(output, 5))
	}

	return os.ReadFile(outputPath)
}

// args builds the ffmpeg argument list.
// -vn: drop video, -ar/-ac/-b:a: canonical encoding, -y: overwrite
func (p Profile) args(inputPath, outputPath string) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-i", inputPath,
		"-vn",
		"-ar", strconv.Itoa(p.SampleRate),
		"-ac", strconv.Itoa(p.Channels),
		"-b:a", p.Bitrate,
		"-f", p.Format,
		"-y",
		outputPath,
	}
}

func lastLines(b []byte, n int) string {
	end := len(b)
	for end > 0 && (b[end-1] == '\n' || b[end-1] == '\r') {
		end--
	}
	start := end
	for count := 0; start > 0; start-- {
		if b[start-1] == '\n' {
			count++
			if count == n {
				break
			}
		}
	}
	return string(b[start:end])
}
