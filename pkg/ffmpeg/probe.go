// Package ffmpeg inspects produced media files with ffprobe.
package ffmpeg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// ErrNotFound is returned when ffprobe is not installed.
var ErrNotFound = errors.New("ffprobe not found")

// Prober runs ffprobe against local files.
type Prober struct {
	ffprobePath string
}

// NewProber creates a prober. An empty path is resolved from PATH.
func NewProber(ffprobePath string) (*Prober, error) {
	if ffprobePath == "" {
		p, err := exec.LookPath("ffprobe")
		if err != nil {
			return nil, fmt.Errorf("%w in PATH: %v", ErrNotFound, err)
		}
		ffprobePath = p
	}
	return &Prober{ffprobePath: ffprobePath}, nil
}

// MediaInfo contains metadata about a media file.
type MediaInfo struct {
	Duration   float64 // seconds
	Width      int
	Height     int
	HasAudio   bool
	HasVideo   bool
	AudioCodec string
	VideoCodec string
	Bitrate    int64
	FrameRate  float64
	FileSize   int64
}

// Probe reads stream and container metadata from path.
func (p *Prober) Probe(ctx context.Context, path string) (*MediaInfo, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat media: %w", err)
	}

	cmd := exec.CommandContext(ctx, p.ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe: %w", err)
	}

	info, err := ParseProbeOutput(output)
	if err != nil {
		return nil, err
	}
	info.FileSize = stat.Size()
	return info, nil
}

type probeFormat struct {
	Duration string `json:"duration"`
	BitRate  string `json:"bit_rate"`
}

type probeStream struct {
	CodecType    string `json:"codec_type"`
	CodecName    string `json:"codec_name"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	AvgFrameRate string `json:"avg_frame_rate"`
	Disposition  struct {
		AttachedPic int `json:"attached_pic"`
	} `json:"disposition"`
}

type probeOutput struct {
	Format  probeFormat   `json:"format"`
	Streams []probeStream `json:"streams"`
}

// ParseProbeOutput decodes ffprobe's -print_format json output.
// Embedded cover art is not counted as a video stream.
func ParseProbeOutput(output []byte) (*MediaInfo, error) {
	var parsed probeOutput
	if err := json.Unmarshal(output, &parsed); err != nil {
		return nil, fmt.Errorf("parse ffprobe output: %w", err)
	}

	info := &MediaInfo{}
	if dur, err := strconv.ParseFloat(parsed.Format.Duration, 64); err == nil {
		info.Duration = dur
	}
	if br, err := strconv.ParseInt(parsed.Format.BitRate, 10, 64); err == nil {
		info.Bitrate = br
	}

	for _, s := range parsed.Streams {
		switch s.CodecType {
		case "audio":
			info.HasAudio = true
			if info.AudioCodec == "" {
				info.AudioCodec = s.CodecName
			}
		case "video":
			if s.Disposition.AttachedPic == 1 {
				continue
			}
			info.HasVideo = true
			if info.VideoCodec == "" {
				info.VideoCodec = s.CodecName
			}
			if info.Width == 0 && s.Width > 0 {
				info.Width = s.Width
			}
			if info.Height == 0 && s.Height > 0 {
				info.Height = s.Height
			}
			if info.FrameRate == 0 {
				info.FrameRate = parseRate(s.AvgFrameRate)
			}
		}
	}

	return info, nil
}

func parseRate(rate string) float64 {
	parts := strings.SplitN(rate, "/", 2)
	if len(parts) != 2 {
		return 0
	}
	num, err1 := strconv.ParseFloat(parts[0], 64)
	den, err2 := strconv.ParseFloat(parts[1], 64)
	if err1 != nil || err2 != nil || den == 0 {
		return 0
	}
	return num / den
}

// IsAvailable checks if ffmpeg and ffprobe are available on the system.
func IsAvailable() bool {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return false
	}
	_, err := exec.LookPath("ffprobe")
	return err == nil
}

// GetVersion returns the first line of ffmpeg -version.
func GetVersion(ctx context.Context) (string, error) {
	output, err := exec.CommandContext(ctx, "ffmpeg", "-version").Output()
	if err != nil {
		return "", err
	}
	line, _, _ := strings.Cut(string(output), "\n")
	if line = strings.TrimSpace(line); line != "" {
		return line, nil
	}
	return "unknown", nil
}
