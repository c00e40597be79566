package downloads

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"media-grabber/internal/domain"
	"media-grabber/internal/logging"
)

// ErrEmptyURL is returned when a download is requested without a URL.
var ErrEmptyURL = errors.New("download url is required")

// Downloader is the worker surface used to start downloads.
type Downloader interface {
	DownloadURL(ctx context.Context, url, siteType string) (json.RawMessage, error)
	DownloadFormat(ctx context.Context, url, format string) (json.RawMessage, error)
	PlaylistInfo(ctx context.Context, url string) (domain.Playlist, error)
}

// Service starts downloads without waiting for them. Progress arrives
// through the event channel; only failures are reported back here.
type Service struct {
	worker   Downloader
	notifier Notifier
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService creates a download service; notifier may be nil.
func NewService(worker Downloader, notifier Notifier, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		worker:   worker,
		notifier: notifier,
		logger:   logging.OrDefault(logger),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins a generic download, hinting the detected site type.
func (s *Service) Start(rawURL string) (string, error) {
	target := strings.TrimSpace(rawURL)
	if target == "" {
		return "", ErrEmptyURL
	}
	site := DetectSite(target)
	s.spawn(target, func(ctx context.Context) error {
		_, err := s.worker.DownloadURL(ctx, target, site)
		return err
	})
	return site, nil
}

// StartFormat begins a download of rawURL in the given format.
func (s *Service) StartFormat(rawURL, format string) error {
	target := strings.TrimSpace(rawURL)
	if target == "" {
		return ErrEmptyURL
	}
	format = strings.TrimSpace(format)
	if format == "" {
		return fmt.Errorf("download format is required")
	}
	s.spawn(target, func(ctx context.Context) error {
		_, err := s.worker.DownloadFormat(ctx, target, format)
		return err
	})
	return nil
}

// Playlist fetches the entries of a playlist URL.
func (s *Service) Playlist(ctx context.Context, rawURL string) (domain.Playlist, error) {
	target := strings.TrimSpace(rawURL)
	if target == "" {
		return domain.Playlist{}, ErrEmptyURL
	}
	playlist, err := s.worker.PlaylistInfo(ctx, target)
	if err != nil {
		return domain.Playlist{}, fmt.Errorf("playlist info: %w", err)
	}
	return playlist, nil
}

// StartPlaylist downloads the selected entries one after another in the
// background. An empty selection downloads every entry.
func (s *Service) StartPlaylist(playlist domain.Playlist, format string, selected []string) (int, error) {
	format = strings.TrimSpace(format)
	if format == "" {
		return 0, fmt.Errorf("download format is required")
	}

	want := make(map[string]struct{}, len(selected))
	for _, id := range selected {
		want[id] = struct{}{}
	}
	var queue []domain.PlaylistEntry
	for _, video := range playlist.Videos {
		if video.URL == "" {
			continue
		}
		if _, ok := want[video.ID]; len(want) > 0 && !ok {
			continue
		}
		queue = append(queue, video)
	}
	if len(queue) == 0 {
		return 0, nil
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for _, video := range queue {
			if _, err := s.worker.DownloadFormat(s.ctx, video.URL, format); err != nil {
				s.failed(video.URL, err)
			}
		}
	}()
	return len(queue), nil
}

// Wait blocks until every background download call has returned.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Close cancels outstanding calls and waits for them.
func (s *Service) Close() {
	s.cancel()
	s.wg.Wait()
}

func (s *Service) spawn(target string, call func(ctx context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := call(s.ctx); err != nil {
			s.failed(target, err)
		}
	}()
}

func (s *Service) failed(target string, err error) {
	s.logger.Warn("download failed", "url", target, "error", err)
	if s.notifier != nil {
		s.notifier.DownloadFailed(target, err)
	}
}
