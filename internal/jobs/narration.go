package jobs

import "media-grabber/internal/domain"

// Icon tags shown next to narration messages.
const (
	IconUpload     = "upload"
	IconHeadphones = "headphones"
	IconBrain      = "brain"
	IconActivity   = "activity"
	IconFileText   = "file-text"
	IconYouTube    = "youtube"
	IconCloud      = "cloud"
	IconSettings   = "settings"
	IconTikTok     = "tiktok"
	IconLink       = "link"
)

// NarrationStep is one synthesized status message.
type NarrationStep struct {
	Message string `json:"message"`
	Icon    string `json:"icon"`
}

var (
	videoScript = []NarrationStep{
		{"Uploading file...", IconUpload},
		{"Extracting audio track...", IconHeadphones},
		{"Processing with Whisper AI...", IconBrain},
		{"Analyzing speech patterns...", IconActivity},
		{"Generating transcript...", IconFileText},
	}
	youtubeNativeScript = []NarrationStep{
		{"Connecting to YouTube...", IconYouTube},
		{"Fetching video metadata...", IconCloud},
		{"Extracting captions...", IconFileText},
		{"Processing subtitles...", IconSettings},
	}
	youtubeWhisperScript = []NarrationStep{
		{"Connecting to YouTube...", IconYouTube},
		{"Downloading audio stream...", IconCloud},
		{"Converting audio format...", IconHeadphones},
		{"Processing with Whisper AI...", IconBrain},
		{"Generating transcript...", IconFileText},
	}
	tiktokScript = []NarrationStep{
		{"Connecting to TikTok...", IconTikTok},
		{"Downloading video...", IconCloud},
		{"Extracting audio track...", IconHeadphones},
		{"Processing with Whisper AI...", IconBrain},
		{"Generating transcript...", IconFileText},
	}
	universalScript = []NarrationStep{
		{"Analyzing URL...", IconLink},
		{"Downloading media...", IconCloud},
		{"Extracting audio track...", IconHeadphones},
		{"Processing with Whisper AI...", IconBrain},
		{"Generating transcript...", IconFileText},
	}
)

// Script returns the narration played while a job of the given platform
// and method is processing. Unknown platforms use the generic script.
func Script(platform domain.Platform, method domain.Method) []NarrationStep {
	var script []NarrationStep
	switch platform {
	case domain.PlatformVideo:
		script = videoScript
	case domain.PlatformYouTube:
		if method == domain.MethodNative {
			script = youtubeNativeScript
		} else {
			script = youtubeWhisperScript
		}
	case domain.PlatformTikTok:
		script = tiktokScript
	default:
		script = universalScript
	}
	return append([]NarrationStep(nil), script...)
}

// narration is the per-job sub-state driving synthesized messages. It is
// owned by the manager and only touched under the manager lock.
type narration struct {
	script []NarrationStep
	next   int
	timer  stopper
}

type stopper interface {
	Stop() bool
}

// advance returns the next step, or false when the script is exhausted.
func (n *narration) advance() (NarrationStep, bool) {
	if n.next >= len(n.script) {
		return NarrationStep{}, false
	}
	step := n.script[n.next]
	n.next++
	return step, true
}

func (n *narration) exhausted() bool {
	return n.next >= len(n.script)
}

func (n *narration) stop() {
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
}
