package domain

import "time"

// JobStatus tracks the lifecycle stage of one transcription job.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusError      JobStatus = "error"
)

// IsTerminal reports whether no further transitions are allowed.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusError
}

// SourceKind distinguishes URL-based jobs from local file jobs.
type SourceKind string

const (
	SourceRemote SourceKind = "remote"
	SourceLocal  SourceKind = "local"
)

// Platform is the sub-tag of a job or download source.
type Platform string

const (
	PlatformYouTube   Platform = "youtube"
	PlatformTikTok    Platform = "tiktok"
	PlatformUniversal Platform = "universal"
	PlatformVideo     Platform = "video"
)

// Method selects how a remote source is turned into text.
type Method string

const (
	MethodNative  Method = "native"
	MethodWhisper Method = "whisper"
)

// Settings contains user-selectable runtime configuration.
type Settings struct {
	WorkerURL         string `json:"workerUrl"`
	DownloadDir       string `json:"downloadDir"`
	LogLevel          string `json:"logLevel"`
	LogFormat         string `json:"logFormat"`
	LogFile           string `json:"logFile,omitempty"`
	MetricsAddr       string `json:"metricsAddr,omitempty"`
	MaxConcurrentJobs int    `json:"maxConcurrentJobs"`
	Timing            Timing `json:"timing"`
}

// Timing holds the tracker periods in milliseconds.
type Timing struct {
	SweepIntervalMs     int `json:"sweepIntervalMs"`
	StaleAfterMs        int `json:"staleAfterMs"`
	DedupWindowMs       int `json:"dedupWindowMs"`
	CompletionDelayMs   int `json:"completionDelayMs"`
	NarrationIntervalMs int `json:"narrationIntervalMs"`
}

// ProgressSample is one progress report for a download. A newer sample
// replaces the previous one wholesale.
type ProgressSample struct {
	Percent    float64 `json:"percent"`
	Downloaded string  `json:"downloaded"`
	Total      string  `json:"total"`
	Speed      string  `json:"speed"`
	ETA        string  `json:"eta"`
}

// OperationEntry is the latest known state of one tracked download.
// At most one of Progress and StatusText is set.
type OperationEntry struct {
	ID          string          `json:"id"`
	DisplayName string          `json:"displayName"`
	Progress    *ProgressSample `json:"progress,omitempty"`
	StatusText  string          `json:"statusText,omitempty"`
	LastUpdate  time.Time       `json:"lastUpdate"`
}

// TranscriptionJob is one user-initiated transcription request.
type TranscriptionJob struct {
	ID             string         `json:"id"`
	Source         SourceKind     `json:"source"`
	Platform       Platform       `json:"platform"`
	Method         Method         `json:"method,omitempty"`
	Input          string         `json:"input"`
	DisplayName    string         `json:"displayName"`
	Status         JobStatus      `json:"status"`
	StatusMessage  string         `json:"statusMessage,omitempty"`
	StatusIcon     string         `json:"statusIcon,omitempty"`
	NarrationStep  int            `json:"narrationStep"`
	ResultText     string         `json:"resultText,omitempty"`
	ResultMetadata map[string]any `json:"resultMetadata,omitempty"`
	ErrorMessage   string         `json:"errorMessage,omitempty"`
	StartedAt      time.Time      `json:"startedAt"`
	EndedAt        *time.Time     `json:"endedAt,omitempty"`
}

// PlaylistEntry is one video listed by the worker for a playlist URL.
type PlaylistEntry struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	URL       string  `json:"url,omitempty"`
	Duration  float64 `json:"duration,omitempty"`
	Thumbnail string  `json:"thumbnail,omitempty"`
}

// Playlist is the worker's description of a playlist.
type Playlist struct {
	Title      string          `json:"title"`
	Uploader   string          `json:"uploader,omitempty"`
	VideoCount int             `json:"video_count"`
	Thumbnail  string          `json:"thumbnail,omitempty"`
	Videos     []PlaylistEntry `json:"videos"`
}

// VideoFormat is one downloadable rendition reported for a video.
type VideoFormat struct {
	FormatID   string   `json:"format_id"`
	Ext        string   `json:"ext"`
	Resolution string   `json:"resolution,omitempty"`
	FPS        float64  `json:"fps,omitempty"`
	VCodec     string   `json:"vcodec,omitempty"`
	ACodec     string   `json:"acodec,omitempty"`
	Filesize   int64    `json:"filesize,omitempty"`
	FormatNote string   `json:"format_note,omitempty"`
	Quality    *float64 `json:"quality,omitempty"`
}

// VideoInfo is the worker's metadata for a single video URL.
type VideoInfo struct {
	Title     string        `json:"title"`
	Duration  float64       `json:"duration,omitempty"`
	Thumbnail string        `json:"thumbnail,omitempty"`
	Uploader  string        `json:"uploader,omitempty"`
	ViewCount int64         `json:"view_count,omitempty"`
	Formats   []VideoFormat `json:"formats"`
}
