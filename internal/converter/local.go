package converter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/iconidentify/tubeconv/internal/config"
	"github.com/iconidentify/tubeconv/internal/domain"
)

// LocalDriver converts with a locally installed extraction tool.
type LocalDriver struct {
	extractor Extractor
	prober    MediaProber // nil disables verification
	workDir   string
	logger    *slog.Logger
	now       func() time.Time

	mu       sync.Mutex
	inflight map[string]bool
}

// NewLocalDriver creates a local driver writing output into workDir.
// prober may be nil when ffprobe is not installed.
func NewLocalDriver(extractor Extractor, prober MediaProber, workDir string, logger *slog.Logger) *LocalDriver {
	return &LocalDriver{
		extractor: extractor,
		prober:    prober,
		workDir:   workDir,
		logger:    logger,
		now:       time.Now,
		inflight:  make(map[string]bool),
	}
}

// Name returns "local".
func (d *LocalDriver) Name() string {
	return config.StrategyLocal
}

// Preview is not offered by the local strategy.
func (d *LocalDriver) Preview(sourceURL string) (*domain.Preview, error) {
	return nil, domain.ErrUnsupported
}

// Formats probes the source and builds the menu from what it offers.
func (d *LocalDriver) Formats(ctx context.Context, sourceURL string) (*domain.FormatMenu, error) {
	probe, err := d.extractor.Probe(ctx, sourceURL)
	if err != nil {
		return nil, domain.NewUpstreamError("probe", err)
	}
	menu := domain.BuildMenu(*probe)
	return &menu, nil
}

// plan is one resolved extraction.
type plan struct {
	opts    ExtractOptions
	ext     string
	quality string
}

// Convert runs one extraction and verifies the produced file.
func (d *LocalDriver) Convert(ctx context.Context, req ConvertRequest) (*domain.Artifact, error) {
	var (
		p   plan
		err error
	)
	switch req.MediaType {
	case domain.MediaAudio:
		p, err = d.planAudio(req.Quality)
	case domain.MediaVideo:
		p, err = d.planVideo(ctx, req.URL, req.Quality)
	default:
		return nil, domain.ErrUnknownMediaType
	}
	if err != nil {
		return nil, err
	}

	stem, err := d.reserve(req.MediaType)
	if err != nil {
		return nil, domain.NewUpstreamError("prepare output", err)
	}
	defer d.release(stem)

	p.opts.OutputTemplate = filepath.Join(d.workDir, stem+".%(ext)s")

	start := d.now()
	d.logger.Info("extraction started",
		"media_type", req.MediaType,
		"quality", p.quality,
		"format", p.opts.Format,
	)

	if err := d.extractor.Extract(ctx, req.URL, p.opts); err != nil {
		d.removeOutput(stem)
		return nil, domain.NewUpstreamError("extract", err)
	}

	path, err := d.locate(stem, p.ext)
	if err != nil {
		d.removeOutput(stem)
		return nil, domain.NewUpstreamError("extract", err)
	}

	if err := d.verify(ctx, path, req.MediaType); err != nil {
		d.removeOutput(stem)
		return nil, domain.NewUpstreamError("verify", err)
	}

	d.logger.Info("extraction completed",
		"media_type", req.MediaType,
		"quality", p.quality,
		"file", filepath.Base(path),
		"duration", d.now().Sub(start),
	)

	return &domain.Artifact{
		MediaType: req.MediaType,
		Quality:   p.quality,
		Path:      path,
	}, nil
}

func (d *LocalDriver) planAudio(quality string) (plan, error) {
	if quality == "" {
		quality = domain.DefaultAudioTier
	}
	tier, ok := domain.LookupAudioTier(quality)
	if !ok {
		return plan{}, domain.ErrUnknownQuality
	}

	// wav decodes the best audio stream straight to PCM.
	return plan{
		opts: ExtractOptions{
			Format:       "bestaudio/best",
			ExtractAudio: true,
			AudioFormat:  tier.Codec,
			AudioQuality: tier.Quality(),
		},
		ext:     tier.Ext(),
		quality: tier.ID,
	}, nil
}

func (d *LocalDriver) planVideo(ctx context.Context, sourceURL, quality string) (plan, error) {
	if quality == "" {
		quality = domain.TierBest.ID
	}
	if _, ok := domain.LookupVideoTier(quality); !ok {
		return plan{}, domain.ErrUnknownQuality
	}

	probe, err := d.extractor.Probe(ctx, sourceURL)
	if err != nil {
		return plan{}, domain.NewUpstreamError("probe", err)
	}
	if probe.MaxHeight() == 0 {
		return plan{}, domain.NewUpstreamError("probe", domain.ErrNoVideoFormats)
	}

	tier, err := domain.NegotiateVideoTier(quality, domain.BandsForHeights(probe.Heights))
	if err != nil {
		return plan{}, err
	}
	if tier.ID != quality {
		d.logger.Info("video tier downgraded", "requested", quality, "resolved", tier.ID)
	}

	return plan{
		opts: ExtractOptions{
			Format:      tier.Selector(),
			MergeFormat: "mp4",
		},
		ext:     "mp4",
		quality: tier.ID,
	}, nil
}

// reserve picks an unused output stem <media_type>_<unix-seconds>[-n].
func (d *LocalDriver) reserve(mediaType domain.MediaType) (string, error) {
	if err := os.MkdirAll(d.workDir, 0755); err != nil {
		return "", fmt.Errorf("create work directory: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	base := fmt.Sprintf("%s_%d", mediaType, d.now().Unix())
	stem := base
	for n := 1; d.inflight[stem] || d.exists(stem); n++ {
		stem = fmt.Sprintf("%s-%d", base, n)
	}
	d.inflight[stem] = true
	return stem, nil
}

func (d *LocalDriver) release(stem string) {
	d.mu.Lock()
	delete(d.inflight, stem)
	d.mu.Unlock()
}

func (d *LocalDriver) exists(stem string) bool {
	matches, _ := filepath.Glob(filepath.Join(d.workDir, stem+".*"))
	return len(matches) > 0
}

// locate finds the produced file, preferring the expected extension.
func (d *LocalDriver) locate(stem, ext string) (string, error) {
	want := filepath.Join(d.workDir, stem+"."+ext)
	if _, err := os.Stat(want); err == nil {
		return want, nil
	}

	matches, _ := filepath.Glob(filepath.Join(d.workDir, stem+".*"))
	for _, m := range matches {
		if strings.HasSuffix(m, ".part") || strings.HasSuffix(m, ".ytdl") {
			continue
		}
		return m, nil
	}
	return "", errors.New("extraction produced no output file")
}

func (d *LocalDriver) verify(ctx context.Context, path string, mediaType domain.MediaType) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat output: %w", err)
	}
	if info.Size() == 0 {
		return errors.New("output file is empty")
	}

	if d.prober == nil {
		return nil
	}

	media, err := d.prober.Probe(ctx, path)
	if err != nil {
		return err
	}
	switch mediaType {
	case domain.MediaAudio:
		if !media.HasAudio {
			return domain.ErrNoAudio
		}
	case domain.MediaVideo:
		if !media.HasVideo {
			return domain.ErrNoVideoFormats
		}
	}
	return nil
}

// removeOutput deletes every file produced for stem, including partials.
func (d *LocalDriver) removeOutput(stem string) {
	matches, _ := filepath.Glob(filepath.Join(d.workDir, stem+".*"))
	for _, m := range matches {
		if err := os.Remove(m); err != nil && !errors.Is(err, os.ErrNotExist) {
			d.logger.Warn("failed to remove partial output", "file", m, "error", err)
		}
	}
}
