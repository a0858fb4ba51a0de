package converter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lrstanley/go-ytdlp"

	"github.com/iconidentify/tubeconv/internal/domain"
)

// YtDlpExtractor implements Extractor with the yt-dlp binary.
type YtDlpExtractor struct {
	executable string
}

// NewYtDlpExtractor creates an extractor. An empty path uses yt-dlp from PATH.
func NewYtDlpExtractor(executable string) *YtDlpExtractor {
	return &YtDlpExtractor{executable: executable}
}

func (e *YtDlpExtractor) command() *ytdlp.Command {
	cmd := ytdlp.New().NoPlaylist().NoProgress()
	if e.executable != "" {
		cmd = cmd.SetExecutable(e.executable)
	}
	return cmd
}

// Probe dumps the source's metadata without downloading it.
func (e *YtDlpExtractor) Probe(ctx context.Context, sourceURL string) (*domain.ProbeResult, error) {
	result, err := e.command().
		SkipDownload().
		DumpSingleJSON().
		Run(ctx, sourceURL)
	if err != nil {
		return nil, fmt.Errorf("yt-dlp probe: %w", err)
	}
	return parseProbeJSON([]byte(result.Stdout))
}

// Extract downloads and post-processes the source.
func (e *YtDlpExtractor) Extract(ctx context.Context, sourceURL string, opts ExtractOptions) error {
	cmd := e.command().
		Format(opts.Format).
		Output(opts.OutputTemplate)

	if opts.ExtractAudio {
		cmd = cmd.ExtractAudio().AudioFormat(opts.AudioFormat)
		if opts.AudioQuality != "" {
			cmd = cmd.AudioQuality(opts.AudioQuality)
		}
	}
	if opts.MergeFormat != "" {
		cmd = cmd.MergeOutputFormat(opts.MergeFormat)
	}

	if _, err := cmd.Run(ctx, sourceURL); err != nil {
		return fmt.Errorf("yt-dlp extract: %w", err)
	}
	return nil
}

// ytDlpInfo is the subset of yt-dlp's info JSON we use.
type ytDlpInfo struct {
	Title   string `json:"title"`
	Formats []struct {
		FormatID string `json:"format_id"`
		Height   *int   `json:"height"`
		VCodec   string `json:"vcodec"`
		ACodec   string `json:"acodec"`
	} `json:"formats"`
}

func parseProbeJSON(data []byte) (*domain.ProbeResult, error) {
	var info ytDlpInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("parse yt-dlp json: %w", err)
	}

	probe := &domain.ProbeResult{Title: info.Title}
	for _, f := range info.Formats {
		if f.Height != nil && *f.Height > 0 && f.VCodec != "none" {
			probe.Heights = append(probe.Heights, *f.Height)
		}
		if f.ACodec != "" && f.ACodec != "none" {
			probe.HasAudio = true
		}
	}
	return probe, nil
}
