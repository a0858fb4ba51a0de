package domain

import (
	"fmt"
	"sort"
)

// Tier is a named video quality band.
type Tier struct {
	ID        string
	Label     string
	MinHeight int
}

// Selector returns the yt-dlp format selection expression for the tier.
func (t Tier) Selector() string {
	if t.MinHeight == 0 {
		return "bestvideo+bestaudio/best"
	}
	return fmt.Sprintf("bestvideo[height>=%d]+bestaudio/best[height>=%d]", t.MinHeight, t.MinHeight)
}

// TierBest is the synthetic "best available" tier. It always fits.
var TierBest = Tier{ID: "best", Label: "Best available", MinHeight: 0}

// videoChain is the fixed fallback order, highest first.
var videoChain = []Tier{
	{ID: "4k", Label: "4K (2160p)", MinHeight: 2160},
	{ID: "1440p", Label: "1440p", MinHeight: 1440},
	{ID: "1080p", Label: "1080p", MinHeight: 1080},
	{ID: "720p", Label: "720p", MinHeight: 720},
	{ID: "480p", Label: "480p", MinHeight: 480},
	{ID: "360p", Label: "360p", MinHeight: 360},
	TierBest,
}

// VideoChain returns a copy of the fallback chain.
func VideoChain() []Tier {
	out := make([]Tier, len(videoChain))
	copy(out, videoChain)
	return out
}

// LookupVideoTier finds a tier by id.
func LookupVideoTier(id string) (Tier, bool) {
	for _, t := range videoChain {
		if t.ID == id {
			return t, true
		}
	}
	return Tier{}, false
}

// AudioTier is a fixed audio output option.
type AudioTier struct {
	ID       string
	Label    string
	Codec    string // yt-dlp --audio-format value
	Bitrate  int    // kbps, 0 for lossless
	Lossless bool
}

// Quality returns the yt-dlp --audio-quality value.
func (a AudioTier) Quality() string {
	if a.Lossless || a.Bitrate == 0 {
		return "0"
	}
	return fmt.Sprintf("%dK", a.Bitrate)
}

// Ext returns the produced file extension.
func (a AudioTier) Ext() string {
	return a.Codec
}

var audioTiers = []AudioTier{
	{ID: "mp3_320", Label: "MP3 320kbps", Codec: "mp3", Bitrate: 320},
	{ID: "mp3_192", Label: "MP3 192kbps", Codec: "mp3", Bitrate: 192},
	{ID: "mp3_128", Label: "MP3 128kbps", Codec: "mp3", Bitrate: 128},
	{ID: "wav", Label: "WAV (lossless)", Codec: "wav", Lossless: true},
}

// DefaultAudioTier is used when an audio request names no quality.
const DefaultAudioTier = "mp3_192"

// LookupAudioTier finds an audio tier by id.
func LookupAudioTier(id string) (AudioTier, bool) {
	for _, a := range audioTiers {
		if a.ID == id {
			return a, true
		}
	}
	return AudioTier{}, false
}

// ProbeResult is what the extraction tool reports about a source.
type ProbeResult struct {
	Title    string
	Heights  []int
	HasAudio bool
}

// MaxHeight returns the tallest probed height, or 0.
func (p ProbeResult) MaxHeight() int {
	top := 0
	for _, h := range p.Heights {
		if h > top {
			top = h
		}
	}
	return top
}

// BandsForHeights buckets heights into named bands, each band once,
// ordered by height descending. Zero and negative heights are dropped.
func BandsForHeights(heights []int) []Tier {
	seen := make(map[string]bool)
	var bands []Tier
	for _, h := range heights {
		if h <= 0 {
			continue
		}
		for _, t := range videoChain {
			if t.MinHeight == 0 {
				break
			}
			if h >= t.MinHeight {
				if !seen[t.ID] {
					seen[t.ID] = true
					bands = append(bands, t)
				}
				break
			}
		}
	}
	sort.SliceStable(bands, func(i, j int) bool {
		return bands[i].MinHeight > bands[j].MinHeight
	})
	return bands
}

// NegotiateVideoTier resolves a requested tier against the advertised bands.
// It walks the chain downward from the request and returns the first tier
// that is advertised. "best" is always advertised.
func NegotiateVideoTier(requested string, available []Tier) (Tier, error) {
	start := -1
	for i, t := range videoChain {
		if t.ID == requested {
			start = i
			break
		}
	}
	if start < 0 {
		return Tier{}, ErrUnknownQuality
	}

	advertised := make(map[string]bool, len(available))
	for _, t := range available {
		advertised[t.ID] = true
	}

	for _, t := range videoChain[start:] {
		if t.MinHeight == 0 || advertised[t.ID] {
			return t, nil
		}
	}
	return TierBest, nil
}

// FormatOption is one selectable entry on the format menu.
type FormatOption struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// FormatGroup groups options by media type.
type FormatGroup struct {
	Type    MediaType      `json:"type"`
	Label   string         `json:"label"`
	Options []FormatOption `json:"options"`
}

// FormatMenu is the advertised list of selectable formats.
type FormatMenu struct {
	Title  string        `json:"title,omitempty"`
	Groups []FormatGroup `json:"formats"`
}

// Group returns the group for a media type.
func (m *FormatMenu) Group(t MediaType) (FormatGroup, bool) {
	for _, g := range m.Groups {
		if g.Type == t {
			return g, true
		}
	}
	return FormatGroup{}, false
}

// Offers reports whether the menu lists option id under media type t.
func (m *FormatMenu) Offers(t MediaType, id string) bool {
	g, ok := m.Group(t)
	if !ok {
		return false
	}
	for _, o := range g.Options {
		if o.ID == id {
			return true
		}
	}
	return false
}

// BuildMenu builds the probe-driven menu for local deployments.
func BuildMenu(probe ProbeResult) FormatMenu {
	menu := FormatMenu{Title: probe.Title, Groups: []FormatGroup{}}

	if probe.HasAudio {
		group := FormatGroup{Type: MediaAudio, Label: "Audio"}
		for _, a := range audioTiers {
			group.Options = append(group.Options, FormatOption{ID: a.ID, Label: a.Label})
		}
		menu.Groups = append(menu.Groups, group)
	}

	// Sources below the lowest band still offer "best".
	if probe.MaxHeight() > 0 {
		group := FormatGroup{Type: MediaVideo, Label: "Video"}
		group.Options = append(group.Options, FormatOption{ID: TierBest.ID, Label: TierBest.Label})
		for _, b := range BandsForHeights(probe.Heights) {
			group.Options = append(group.Options, FormatOption{ID: b.ID, Label: b.Label})
		}
		menu.Groups = append(menu.Groups, group)
	}

	return menu
}

// relay format codes understood by the external conversion API.
var (
	relayAudioCodes = []FormatOption{
		{ID: "mp3", Label: "MP3"},
		{ID: "m4a", Label: "M4A"},
		{ID: "aac", Label: "AAC"},
		{ID: "flac", Label: "FLAC"},
		{ID: "opus", Label: "OPUS"},
		{ID: "ogg", Label: "OGG"},
		{ID: "wav", Label: "WAV"},
	}
	relayVideoCodes = []FormatOption{
		{ID: "360", Label: "360p"},
		{ID: "480", Label: "480p"},
		{ID: "720", Label: "720p"},
		{ID: "1080", Label: "1080p"},
		{ID: "1440", Label: "1440p"},
		{ID: "4k", Label: "4K"},
	}
)

// RelayMenu returns the fixed menu for relay deployments.
func RelayMenu() FormatMenu {
	audio := make([]FormatOption, len(relayAudioCodes))
	copy(audio, relayAudioCodes)
	video := make([]FormatOption, len(relayVideoCodes))
	copy(video, relayVideoCodes)

	return FormatMenu{Groups: []FormatGroup{
		{Type: MediaAudio, Label: "Audio", Options: audio},
		{Type: MediaVideo, Label: "Video", Options: video},
	}}
}

// DefaultRelayCode returns the relay code used when a request names no quality.
func DefaultRelayCode(t MediaType) string {
	if t == MediaAudio {
		return "mp3"
	}
	return "720"
}
