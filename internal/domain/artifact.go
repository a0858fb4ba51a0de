package domain

import (
	"path/filepath"
	"strings"
)

// Artifact is the outcome of a conversion: either a stored file or a
// reference returned by the external relay.
type Artifact struct {
	MediaType MediaType
	Quality   string

	// Path is the file produced by a local conversion, before it is stored.
	Path string
	// Filename is the artifact store reference. Empty for relay artifacts.
	Filename string
	// Reference is the relay's job id or download URL, if it returned one.
	Reference string
	// Message is a human readable acknowledgement for relay artifacts.
	Message string
}

// IsFile reports whether the artifact is a stored file to be streamed.
func (a *Artifact) IsFile() bool {
	return a.Filename != ""
}

// DownloadName is the attachment filename offered to clients.
func (a *Artifact) DownloadName() string {
	ext := filepath.Ext(a.Filename)
	if ext == "" {
		if a.MediaType == MediaAudio {
			ext = ".mp3"
		} else {
			ext = ".mp4"
		}
	}
	return string(a.MediaType) + ext
}

// ContentType returns the MIME type for the artifact's extension.
func (a *Artifact) ContentType() string {
	switch strings.ToLower(filepath.Ext(a.Filename)) {
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	case ".m4a":
		return "audio/mp4"
	case ".mp4":
		return "video/mp4"
	case ".mkv":
		return "video/x-matroska"
	case ".webm":
		return "video/webm"
	}
	return "application/octet-stream"
}

// Preview is the embeddable card returned by relay deployments.
type Preview struct {
	IframeURL  string `json:"iframe_url"`
	IframeHTML string `json:"iframe_html"`
}
