package capability

import (
	"errors"
	"testing"
)

func TestDetect(t *testing.T) {
	orig := lookPath
	defer func() { lookPath = orig }()

	tests := []struct {
		name   string
		opts   DetectOptions
		hasBin bool
		want   Capabilities
	}{
		{"restricted", DetectOptions{Restricted: true}, true, Capabilities{}},
		{"ffmpeg present", DetectOptions{}, true, Capabilities{Transcode: true, DownloadLargeFiles: true}},
		{"ffmpeg missing", DetectOptions{}, false, Capabilities{Transcode: false, DownloadLargeFiles: true}},
		{"forced", DetectOptions{ForceTranscode: true}, false, Capabilities{Transcode: true, DownloadLargeFiles: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lookPath = func(string) (string, error) {
				if tt.hasBin {
					return "/usr/bin/ffmpeg", nil
				}
				return "", errors.New("not found")
			}
			if got := Detect(tt.opts); got != tt.want {
				t.Errorf("Detect() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestCanFallBackToVideo(t *testing.T) {
	if (Capabilities{Transcode: true}).CanFallBackToVideo() {
		t.Error("fallback requires large downloads too")
	}
	if !(Capabilities{Transcode: true, DownloadLargeFiles: true}).CanFallBackToVideo() {
		t.Error("fallback should be possible with both capabilities")
	}
}
