package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"github.com/iconidentify/tubeconv/internal/domain"
	"github.com/iconidentify/tubeconv/internal/service"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 64 << 10

// Converter is the conversion surface the handler depends on.
type Converter interface {
	Preview(ctx context.Context, sourceURL string) (*domain.Preview, error)
	ListFormats(ctx context.Context, sourceURL string) (*domain.FormatMenu, error)
	Convert(ctx context.Context, req service.ConvertRequest) (*domain.Artifact, error)
	OpenArtifact(ctx context.Context, artifact *domain.Artifact) (io.ReadCloser, int64, error)
}

// ConversionHandler handles preview, format listing and conversion requests.
type ConversionHandler struct {
	svc    Converter
	logger *slog.Logger
}

// NewConversionHandler creates a new conversion handler.
func NewConversionHandler(svc Converter, logger *slog.Logger) *ConversionHandler {
	return &ConversionHandler{
		svc:    svc,
		logger: logger,
	}
}

// URLRequest is the body of /get-card and /get-formats.
type URLRequest struct {
	URL string `json:"url"`
}

// ConvertRequest is the body of /convert.
type ConvertRequest struct {
	URL       string `json:"url"`
	MediaType string `json:"media_type"`
	Quality   string `json:"quality"`
}

// ConvertResponse acknowledges a relay conversion.
type ConvertResponse struct {
	Message   string `json:"message"`
	Reference string `json:"reference,omitempty"`
}

// GetCard handles POST /get-card.
func (h *ConversionHandler) GetCard(w http.ResponseWriter, r *http.Request) {
	var req URLRequest
	if !h.decode(w, r, &req) {
		return
	}

	preview, err := h.svc.Preview(r.Context(), req.URL)
	if err != nil {
		h.fail(w, r, "get card", err)
		return
	}

	writeJSON(w, http.StatusOK, preview)
}

// GetFormats handles POST /get-formats.
func (h *ConversionHandler) GetFormats(w http.ResponseWriter, r *http.Request) {
	var req URLRequest
	if !h.decode(w, r, &req) {
		return
	}

	menu, err := h.svc.ListFormats(r.Context(), req.URL)
	if err != nil {
		h.fail(w, r, "list formats", err)
		return
	}

	writeJSON(w, http.StatusOK, menu)
}

// Convert handles POST /convert. Local artifacts are streamed as an
// attachment; relay conversions are acknowledged with a JSON message.
func (h *ConversionHandler) Convert(w http.ResponseWriter, r *http.Request) {
	var req ConvertRequest
	if !h.decode(w, r, &req) {
		return
	}

	artifact, err := h.svc.Convert(r.Context(), service.ConvertRequest{
		URL:       req.URL,
		MediaType: req.MediaType,
		Quality:   req.Quality,
	})
	if err != nil {
		h.fail(w, r, "convert", err)
		return
	}

	if !artifact.IsFile() {
		msg := artifact.Message
		if msg == "" {
			msg = "Conversion started"
		}
		writeJSON(w, http.StatusOK, ConvertResponse{Message: msg, Reference: artifact.Reference})
		return
	}

	body, size, err := h.svc.OpenArtifact(r.Context(), artifact)
	if err != nil {
		h.fail(w, r, "open artifact", err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", artifact.ContentType())
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{
		"filename": artifact.DownloadName(),
	}))
	if size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	}
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, body); err != nil {
		h.logger.Warn("artifact stream interrupted", "file", artifact.Filename, "error", err)
	}
}

// decode reads a JSON body and rejects bodies without a URL.
func (h *ConversionHandler) decode(w http.ResponseWriter, r *http.Request, dst interface{ url() string }) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	if dst.url() == "" {
		writeError(w, http.StatusBadRequest, domain.InputMessage(domain.ErrInvalidURL))
		return false
	}
	return true
}

func (r *URLRequest) url() string     { return r.URL }
func (r *ConvertRequest) url() string { return r.URL }

// fail maps a service error to a response. Causes of server-side failures
// are only logged.
func (h *ConversionHandler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case domain.IsInvalidInput(err):
		writeError(w, http.StatusBadRequest, domain.InputMessage(err))
	case errors.Is(err, domain.ErrUnsupported):
		writeError(w, http.StatusNotFound, "Not found")
	case errors.Is(err, context.DeadlineExceeded):
		h.logger.Error(op+" failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Conversion timed out")
	default:
		h.logger.Error(op+" failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}
