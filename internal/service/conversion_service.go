package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/iconidentify/tubeconv/internal/converter"
	"github.com/iconidentify/tubeconv/internal/domain"
	"github.com/iconidentify/tubeconv/internal/repository"
	"github.com/iconidentify/tubeconv/pkg/validator"
)

// ConversionService composes validation, the conversion driver, the
// artifact store and the ledger.
type ConversionService struct {
	driver  converter.Driver
	ledger  repository.Ledger
	store   repository.ArtifactStore
	cache   repository.FormatCache // optional
	timeout time.Duration
	logger  *slog.Logger
}

// NewConversionService creates a new conversion service.
// cache may be nil. timeout bounds each conversion; zero disables it.
func NewConversionService(
	driver converter.Driver,
	ledger repository.Ledger,
	store repository.ArtifactStore,
	cache repository.FormatCache,
	timeout time.Duration,
	logger *slog.Logger,
) *ConversionService {
	return &ConversionService{
		driver:  driver,
		ledger:  ledger,
		store:   store,
		cache:   cache,
		timeout: timeout,
		logger:  logger,
	}
}

// ConvertRequest is an unvalidated conversion request from a client.
type ConvertRequest struct {
	URL       string
	MediaType string
	Quality   string
}

// Strategy returns the configured driver's name.
func (s *ConversionService) Strategy() string {
	return s.driver.Name()
}

// Preview validates the URL, records it and returns the embeddable card.
func (s *ConversionService) Preview(ctx context.Context, sourceURL string) (*domain.Preview, error) {
	if !validator.IsYouTubeURL(sourceURL) {
		return nil, domain.ErrInvalidURL
	}

	preview, err := s.driver.Preview(sourceURL)
	if err != nil {
		return nil, err
	}

	if err := s.ledger.Insert(ctx, domain.NewPreviewRecord(sourceURL, "", "")); err != nil {
		return nil, fmt.Errorf("record preview: %w", err)
	}

	s.logger.Info("preview generated", "url", sourceURL)
	return preview, nil
}

// ListFormats returns the format menu for the URL, from cache when possible.
func (s *ConversionService) ListFormats(ctx context.Context, sourceURL string) (*domain.FormatMenu, error) {
	if !validator.IsYouTubeURL(sourceURL) {
		return nil, domain.ErrInvalidURL
	}

	videoID := validator.VideoID(sourceURL)
	if s.cache != nil && videoID != "" {
		if menu, ok := s.cache.Get(ctx, videoID); ok {
			s.logger.Debug("format menu cache hit", "video_id", videoID)
			return menu, nil
		}
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	menu, err := s.driver.Formats(ctx, sourceURL)
	if err != nil {
		return nil, s.deadlineError(ctx, "list formats", err)
	}

	if s.cache != nil && videoID != "" {
		s.cache.Set(ctx, videoID, menu)
	}
	return menu, nil
}

// Convert validates the request, runs the driver and records the result.
// Local artifacts are moved into the artifact store before being recorded.
func (s *ConversionService) Convert(ctx context.Context, req ConvertRequest) (*domain.Artifact, error) {
	if !validator.IsYouTubeURL(req.URL) {
		return nil, domain.ErrInvalidURL
	}
	mediaType, err := domain.ParseMediaType(req.MediaType)
	if err != nil {
		return nil, err
	}

	convCtx, cancel := s.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	artifact, err := s.driver.Convert(convCtx, converter.ConvertRequest{
		URL:       req.URL,
		MediaType: mediaType,
		Quality:   req.Quality,
	})
	if err != nil {
		return nil, s.deadlineError(convCtx, "convert", err)
	}

	var rec *domain.ConversionRecord
	if artifact.Path != "" {
		ref, err := s.store.Save(ctx, artifact.Path)
		if err != nil {
			s.discard(artifact.Path)
			return nil, domain.NewUpstreamError("store artifact", err)
		}
		artifact.Filename = ref
		artifact.Path = ""
		rec = domain.NewArtifactRecord(ref, mediaType, artifact.Quality)
	} else {
		rec = domain.NewPreviewRecord(req.URL, mediaType, artifact.Quality)
	}

	if err := s.ledger.Insert(ctx, rec); err != nil {
		// An unrecorded artifact would never be swept.
		if artifact.IsFile() {
			if derr := s.store.Delete(ctx, artifact.Filename); derr != nil {
				s.logger.Error("failed to remove unrecorded artifact", "file", artifact.Filename, "error", derr)
			}
		}
		return nil, fmt.Errorf("record conversion: %w", err)
	}

	s.logger.Info("conversion completed",
		"record_id", rec.ID,
		"strategy", s.driver.Name(),
		"media_type", mediaType,
		"quality", artifact.Quality,
		"file", artifact.Filename,
		"reference", artifact.Reference,
		"duration", time.Since(start),
	)
	return artifact, nil
}

// OpenArtifact opens a stored artifact for streaming.
func (s *ConversionService) OpenArtifact(ctx context.Context, artifact *domain.Artifact) (io.ReadCloser, int64, error) {
	if !artifact.IsFile() {
		return nil, 0, domain.ErrArtifactNotFound
	}
	return s.store.Open(ctx, artifact.Filename)
}

// LedgerCount returns the number of ledger rows.
func (s *ConversionService) LedgerCount(ctx context.Context) (int, error) {
	return s.ledger.Count(ctx)
}

func (s *ConversionService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// deadlineError replaces a driver error caused by the conversion timeout
// with one that matches context.DeadlineExceeded. Extractors killed by the
// context only report their exit status.
func (s *ConversionService) deadlineError(ctx context.Context, op string, err error) error {
	if !errors.Is(ctx.Err(), context.DeadlineExceeded) || domain.IsInvalidInput(err) {
		return err
	}
	s.logger.Warn("driver timed out", "op", op, "timeout", s.timeout, "error", err)
	if errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return domain.NewUpstreamError(op, fmt.Errorf("%w: %v", context.DeadlineExceeded, err))
}

func (s *ConversionService) discard(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("failed to remove unstored artifact", "path", path, "error", err)
	}
}
