package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"media-grabber/internal/logging"
	"media-grabber/internal/metrics"
)

// Inbound worker topics.
const (
	TopicDownloadProgress = "download-progress"
	TopicDownloadStatus   = "download-status"
	TopicDownloadComplete = "download-complete"
)

// DownloadProgress is the payload of download-progress. When ID is empty
// the filename keys the operation.
type DownloadProgress struct {
	ID         string  `json:"id,omitempty"`
	Filename   string  `json:"filename,omitempty"`
	Percent    float64 `json:"percent"`
	Downloaded string  `json:"downloaded"`
	Total      string  `json:"total"`
	Speed      string  `json:"speed"`
	ETA        string  `json:"eta"`
}

// DownloadStatus is the payload of download-status.
type DownloadStatus struct {
	ID       string  `json:"id"`
	Filename string  `json:"filename"`
	Status   string  `json:"status"`
	Percent  float64 `json:"percent"`
}

// DownloadComplete is the payload of download-complete.
type DownloadComplete struct {
	Filename string `json:"filename"`
	Path     string `json:"path"`
}

var errEmptyPayload = errors.New("empty payload")

// Channel decodes raw topic deliveries from a Source into typed payloads.
// Undecodable deliveries are logged and dropped.
type Channel struct {
	source Source
	logger *slog.Logger
}

// NewChannel wraps source.
func NewChannel(source Source, logger *slog.Logger) *Channel {
	return &Channel{source: source, logger: logging.OrDefault(logger)}
}

// OnDownloadProgress subscribes fn to download-progress.
func (c *Channel) OnDownloadProgress(fn func(DownloadProgress)) func() {
	return c.source.Subscribe(TopicDownloadProgress, func(data ...interface{}) {
		var payload DownloadProgress
		if c.decode(TopicDownloadProgress, data, &payload) {
			fn(payload)
		}
	})
}

// OnDownloadStatus subscribes fn to download-status.
func (c *Channel) OnDownloadStatus(fn func(DownloadStatus)) func() {
	return c.source.Subscribe(TopicDownloadStatus, func(data ...interface{}) {
		var payload DownloadStatus
		if c.decode(TopicDownloadStatus, data, &payload) {
			fn(payload)
		}
	})
}

// OnDownloadComplete subscribes fn to download-complete.
func (c *Channel) OnDownloadComplete(fn func(DownloadComplete)) func() {
	return c.source.Subscribe(TopicDownloadComplete, func(data ...interface{}) {
		var payload DownloadComplete
		if c.decode(TopicDownloadComplete, data, &payload) {
			fn(payload)
		}
	})
}

func (c *Channel) decode(topic string, data []interface{}, out any) bool {
	metrics.RecordEvent(topic)
	if err := Decode(data, out); err != nil {
		c.logger.Warn("dropping undecodable event", "topic", topic, "error", err)
		return false
	}
	return true
}

// Decode converts the first datum of a delivery into out. Host runtimes hand
// over generic maps, the worker connection hands over raw JSON; both are
// accepted.
func Decode(data []interface{}, out any) error {
	if len(data) == 0 || data[0] == nil {
		return errEmptyPayload
	}

	var raw []byte
	switch v := data[0].(type) {
	case json.RawMessage:
		raw = v
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode payload: %w", err)
		}
		raw = encoded
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}
