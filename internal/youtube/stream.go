package youtube

import (
	"strings"

	ytdl "github.com/kkdai/youtube/v2"
)

// selectStream は音声トラックを含むmp4ストリームのうち最小のものを選ぶ。
// 音声は後段で再エンコードするため画質は不要。
func selectStream(formats ytdl.FormatList) *ytdl.Format {
	var best *ytdl.Format
	for i := range formats {
		f := &formats[i]
		if f.AudioChannels == 0 {
			continue
		}
		if !strings.HasPrefix(f.MimeType, "video/mp4") && !strings.HasPrefix(f.MimeType, "audio/mp4") {
			continue
		}
		if best == nil || smaller(f, best) {
			best = f
		}
	}
	return best
}

// smaller はサイズ不明 (0) を最後に回す
func smaller(a, b *ytdl.Format) bool {
	if a.ContentLength == 0 {
		return false
	}
	if b.ContentLength == 0 {
		return true
	}
	return a.ContentLength < b.ContentLength
}
