package domain

import "errors"

// Error kinds. Every failure surfaced by a conversion operation matches
// exactly one of these through errors.Is.
var (
	// ErrInvalidInput is the kind for malformed requests. Never retried.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUpstreamFailure is the kind for relay, probe, extraction and
	// transcode failures.
	ErrUpstreamFailure = errors.New("upstream failure")

	// ErrCleanupFailure is the kind for per-item deletion errors during a sweep.
	ErrCleanupFailure = errors.New("cleanup failure")
)

// Domain errors.
var (
	// ErrInvalidURL is returned when the submitted URL is not a recognized video URL.
	ErrInvalidURL = &ConversionError{Kind: ErrInvalidInput, Op: "validate", Err: errors.New("Invalid YouTube URL")}

	// ErrUnknownMediaType is returned for a media type other than audio or video.
	ErrUnknownMediaType = &ConversionError{Kind: ErrInvalidInput, Op: "validate", Err: errors.New("Invalid media type")}

	// ErrUnknownQuality is returned when the quality tier is not on the menu.
	ErrUnknownQuality = &ConversionError{Kind: ErrInvalidInput, Op: "validate", Err: errors.New("Invalid quality")}

	// ErrNoVideoFormats is returned when probing found no usable video heights.
	ErrNoVideoFormats = errors.New("no video formats available")

	// ErrNoAudio is returned when probing found no audio stream.
	ErrNoAudio = errors.New("no audio stream available")

	// ErrSchemaMismatch is returned when a record does not fit the ledger's schema variant.
	ErrSchemaMismatch = errors.New("record does not match ledger schema")

	// ErrUnsupported is returned when an operation is not offered by the configured strategy.
	ErrUnsupported = errors.New("operation not supported by conversion strategy")

	// ErrArtifactNotFound is returned when a stored artifact cannot be found.
	ErrArtifactNotFound = errors.New("artifact not found")
)

// ConversionError wraps an error with its taxonomy kind and the failing step.
type ConversionError struct {
	Kind error
	Op   string
	Err  error
}

func (e *ConversionError) Error() string {
	if e.Op != "" {
		return e.Op + ": " + e.Err.Error()
	}
	return e.Err.Error()
}

func (e *ConversionError) Unwrap() error {
	return e.Err
}

// Is reports whether target is this error's kind.
func (e *ConversionError) Is(target error) bool {
	return e.Kind != nil && target == e.Kind
}

// Message returns the cause without the step prefix.
func (e *ConversionError) Message() string {
	return e.Err.Error()
}

// NewUpstreamError wraps err as an upstream failure of step op.
func NewUpstreamError(op string, err error) *ConversionError {
	return &ConversionError{Kind: ErrUpstreamFailure, Op: op, Err: err}
}

// NewCleanupError wraps err as a cleanup failure of step op.
func NewCleanupError(op string, err error) *ConversionError {
	return &ConversionError{Kind: ErrCleanupFailure, Op: op, Err: err}
}

// IsInvalidInput reports whether err is an input validation failure.
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// InputMessage returns the client-facing message for an invalid input error.
func InputMessage(err error) string {
	var ce *ConversionError
	if errors.As(err, &ce) && ce.Kind == ErrInvalidInput {
		return ce.Message()
	}
	return "Invalid request"
}
