package converter

import (
	"context"

	"github.com/iconidentify/tubeconv/internal/domain"
	"github.com/iconidentify/tubeconv/pkg/ffmpeg"
)

// ConvertRequest is a validated conversion request.
type ConvertRequest struct {
	URL       string
	MediaType domain.MediaType
	// Quality is a tier id or relay format code. Empty selects the default.
	Quality string
}

// Driver performs conversions for one strategy.
type Driver interface {
	// Name returns the strategy name.
	Name() string

	// Preview builds an embeddable card for the source URL.
	// Strategies without previews return domain.ErrUnsupported.
	Preview(sourceURL string) (*domain.Preview, error)

	// Formats returns the menu of selectable formats for the source URL.
	Formats(ctx context.Context, sourceURL string) (*domain.FormatMenu, error)

	// Convert produces an artifact. Failures are either invalid input or
	// upstream failures; nothing is retried.
	Convert(ctx context.Context, req ConvertRequest) (*domain.Artifact, error)
}

// Extractor wraps the local extraction tool.
type Extractor interface {
	// Probe lists the source's title, video heights and audio presence
	// without downloading media.
	Probe(ctx context.Context, sourceURL string) (*domain.ProbeResult, error)

	// Extract downloads and post-processes the source per opts.
	Extract(ctx context.Context, sourceURL string, opts ExtractOptions) error
}

// ExtractOptions declares one extraction tool invocation.
type ExtractOptions struct {
	// OutputTemplate is the output path with a %(ext)s placeholder.
	OutputTemplate string
	// Format is the source-selection expression.
	Format string

	ExtractAudio bool
	AudioFormat  string
	AudioQuality string

	// MergeFormat is the container for merged video+audio output.
	MergeFormat string
}

// MediaProber inspects produced files.
type MediaProber interface {
	Probe(ctx context.Context, path string) (*ffmpeg.MediaInfo, error)
}
