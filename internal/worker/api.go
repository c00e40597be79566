package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"media-grabber/internal/domain"
)

// Worker command names.
const (
	CmdTranscribeFile      = "transcribe_file"
	CmdTranscribeYouTube   = "transcribe_youtube"
	CmdTranscribeTikTok    = "transcribe_tiktok"
	CmdTranscribeUniversal = "transcribe_universal"
	CmdDownloadUniversal   = "download_universal"
	CmdDownloadYouTube     = "download_youtube"
	CmdYouTubeInfo         = "get_youtube_info"
	CmdPlaylistInfo        = "get_playlist_info"
)

// API is the typed command set of the worker.
type API struct {
	invoker Invoker
}

// NewAPI wraps invoker.
func NewAPI(invoker Invoker) *API {
	if invoker == nil {
		invoker = Unavailable{}
	}
	return &API{invoker: invoker}
}

// DownloadURL starts a generic download; siteType may be empty.
func (a *API) DownloadURL(ctx context.Context, url, siteType string) (json.RawMessage, error) {
	return a.invoker.Invoke(ctx, CmdDownloadUniversal, map[string]any{
		"url":      url,
		"siteType": siteType,
	})
}

// DownloadFormat downloads a single video in the given format.
func (a *API) DownloadFormat(ctx context.Context, url, format string) (json.RawMessage, error) {
	return a.invoker.Invoke(ctx, CmdDownloadYouTube, map[string]any{
		"url":              url,
		"format":           format,
		"downloadPlaylist": false,
	})
}

// TranscribeFile transcribes a local media file.
func (a *API) TranscribeFile(ctx context.Context, path string) (json.RawMessage, error) {
	return a.invoker.Invoke(ctx, CmdTranscribeFile, map[string]any{"filePath": path})
}

// TranscribeURL transcribes a remote source. Caption extraction is only
// available for YouTube; every other combination goes through speech
// recognition.
func (a *API) TranscribeURL(ctx context.Context, platform domain.Platform, method domain.Method, url string) (json.RawMessage, error) {
	command, err := TranscribeCommand(platform, method)
	if err != nil {
		return nil, err
	}
	return a.invoker.Invoke(ctx, command, map[string]any{"url": url})
}

// TranscribeCommand maps a remote platform and method to its command name.
func TranscribeCommand(platform domain.Platform, method domain.Method) (string, error) {
	switch platform {
	case domain.PlatformYouTube:
		if method == domain.MethodNative {
			return CmdTranscribeYouTube, nil
		}
		return CmdTranscribeUniversal, nil
	case domain.PlatformTikTok:
		return CmdTranscribeTikTok, nil
	case domain.PlatformUniversal:
		return CmdTranscribeUniversal, nil
	default:
		return "", fmt.Errorf("no transcription command for platform %q", platform)
	}
}

// VideoInfo fetches metadata and formats of a single video.
func (a *API) VideoInfo(ctx context.Context, url string) (domain.VideoInfo, error) {
	var info domain.VideoInfo
	if err := a.call(ctx, CmdYouTubeInfo, map[string]any{"url": url}, &info); err != nil {
		return domain.VideoInfo{}, err
	}
	return info, nil
}

// PlaylistInfo lists the entries of a playlist.
func (a *API) PlaylistInfo(ctx context.Context, url string) (domain.Playlist, error) {
	var playlist domain.Playlist
	if err := a.call(ctx, CmdPlaylistInfo, map[string]any{"url": url}, &playlist); err != nil {
		return domain.Playlist{}, err
	}
	return playlist, nil
}

func (a *API) call(ctx context.Context, command string, args any, out any) error {
	raw, err := a.invoker.Invoke(ctx, command, args)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s result: %w", command, err)
	}
	return nil
}
