package downloads

import (
	"strings"

	"media-grabber/internal/domain"
)

// BestFormat picks the default rendition for a video: 1080p then 720p MP4
// with an audio track, then the same resolutions without audio (the worker
// merges audio in), then any MP4, then whatever is listed first.
func BestFormat(formats []domain.VideoFormat) (domain.VideoFormat, bool) {
	if len(formats) == 0 {
		return domain.VideoFormat{}, false
	}

	passes := []func(domain.VideoFormat) bool{
		func(f domain.VideoFormat) bool { return isMP4(f) && hasAudio(f) && matchesHeight(f, "1920x1080", "1080") },
		func(f domain.VideoFormat) bool { return isMP4(f) && hasAudio(f) && matchesHeight(f, "1280x720", "720") },
		func(f domain.VideoFormat) bool { return isMP4(f) && strings.Contains(f.Resolution, "1920x1080") },
		func(f domain.VideoFormat) bool { return isMP4(f) && strings.Contains(f.Resolution, "1280x720") },
		isMP4,
	}
	for _, match := range passes {
		for _, f := range formats {
			if match(f) {
				return f, true
			}
		}
	}
	return formats[0], true
}

func isMP4(f domain.VideoFormat) bool {
	return f.Ext == "mp4"
}

func hasAudio(f domain.VideoFormat) bool {
	return f.ACodec != "" && f.ACodec != "none"
}

func matchesHeight(f domain.VideoFormat, resolution, note string) bool {
	return strings.Contains(f.Resolution, resolution) || strings.Contains(f.FormatNote, note)
}
