package domain

import (
	"time"
)

// RecordID is a unique identifier for a ledger row.
type RecordID string

// String returns the string representation of the RecordID.
func (id RecordID) String() string {
	return string(id)
}

// MediaType is the requested output kind.
type MediaType string

const (
	MediaAudio MediaType = "audio"
	MediaVideo MediaType = "video"
)

// ParseMediaType validates a client supplied media type.
func ParseMediaType(s string) (MediaType, error) {
	switch MediaType(s) {
	case MediaAudio, MediaVideo:
		return MediaType(s), nil
	}
	return "", ErrUnknownMediaType
}

// RecordKind selects the ledger schema variant a record belongs to.
type RecordKind string

const (
	// KindPreview records carry the source URL (relay deployments).
	KindPreview RecordKind = "preview"
	// KindArtifact records carry the stored artifact reference (local deployments).
	KindArtifact RecordKind = "artifact"
)

// Schema is the ledger table layout. One deployment uses exactly one.
type Schema string

const (
	SchemaURL  Schema = "url"
	SchemaFile Schema = "file"
)

// Accepts reports whether a record of kind k fits the schema.
func (s Schema) Accepts(k RecordKind) bool {
	switch s {
	case SchemaURL:
		return k == KindPreview
	case SchemaFile:
		return k == KindArtifact
	}
	return false
}

// ConversionRecord is one ledger row per accepted preview or conversion.
type ConversionRecord struct {
	ID        RecordID
	Kind      RecordKind
	CreatedAt time.Time
	SourceURL string
	Filename  string
	Format    MediaType
	Quality   string
}

// NewPreviewRecord creates an unsaved URL-centric record.
func NewPreviewRecord(sourceURL string, format MediaType, quality string) *ConversionRecord {
	return &ConversionRecord{
		Kind:      KindPreview,
		SourceURL: sourceURL,
		Format:    format,
		Quality:   quality,
	}
}

// NewArtifactRecord creates an unsaved filename-centric record.
func NewArtifactRecord(filename string, format MediaType, quality string) *ConversionRecord {
	return &ConversionRecord{
		Kind:     KindArtifact,
		Filename: filename,
		Format:   format,
		Quality:  quality,
	}
}

// Expired reports whether the record is older than retention at now.
func (r *ConversionRecord) Expired(now time.Time, retention time.Duration) bool {
	return now.Sub(r.CreatedAt) > retention
}

// HasArtifact reports whether the record references a stored file.
func (r *ConversionRecord) HasArtifact() bool {
	return r.Filename != ""
}
