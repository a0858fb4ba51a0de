package converter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/iconidentify/tubeconv/internal/config"
	"github.com/iconidentify/tubeconv/internal/domain"
)

const iframeStyle = "width:800px;height:250px;border:0;overflow:hidden;"

// maxRelayBody caps how much of a relay response is read.
const maxRelayBody = 1 << 20

// RelayDriver delegates conversion to an external conversion API.
type RelayDriver struct {
	client      *http.Client
	baseURL     string
	convertPath string
	userAgent   string
	logger      *slog.Logger
}

// NewRelayDriver creates a driver for the relay API described by cfg.
func NewRelayDriver(cfg config.RelayConfig, logger *slog.Logger) *RelayDriver {
	return &RelayDriver{
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		convertPath: cfg.ConvertPath,
		userAgent:   cfg.UserAgent,
		logger:      logger,
	}
}

// Name returns "relay".
func (d *RelayDriver) Name() string {
	return config.StrategyRelay
}

// Preview builds the relay's embeddable card. No network call is made.
func (d *RelayDriver) Preview(sourceURL string) (*domain.Preview, error) {
	iframeURL := d.baseURL + "/card/?url=" + url.QueryEscape(sourceURL)
	return &domain.Preview{
		IframeURL: iframeURL,
		IframeHTML: fmt.Sprintf(`<iframe style="%s" scrolling="no" src="%s"></iframe>`,
			iframeStyle, iframeURL),
	}, nil
}

// Formats returns the fixed relay menu.
func (d *RelayDriver) Formats(ctx context.Context, sourceURL string) (*domain.FormatMenu, error) {
	menu := domain.RelayMenu()
	return &menu, nil
}

// relayResponse is the subset of the relay's JSON reply we understand.
type relayResponse struct {
	Success     *bool  `json:"success"`
	ID          string `json:"id"`
	DownloadURL string `json:"download_url"`
	Message     string `json:"message"`
	Error       string `json:"error"`
}

// Convert issues one request to the relay. The returned artifact is a
// reference to the relay's job; no file is stored locally.
func (d *RelayDriver) Convert(ctx context.Context, req ConvertRequest) (*domain.Artifact, error) {
	code := req.Quality
	if code == "" {
		code = domain.DefaultRelayCode(req.MediaType)
	}
	menu := domain.RelayMenu()
	if !menu.Offers(req.MediaType, code) {
		return nil, domain.ErrUnknownQuality
	}

	endpoint := d.baseURL + d.convertPath + "?" + url.Values{
		"url":    {req.URL},
		"format": {code},
	}.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, domain.NewUpstreamError("relay request", err)
	}
	httpReq.Header.Set("User-Agent", d.userAgent)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return nil, domain.NewUpstreamError("relay request", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRelayBody))
	if err != nil {
		return nil, domain.NewUpstreamError("relay response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, domain.NewUpstreamError("relay request",
			fmt.Errorf("unexpected status code: %d", resp.StatusCode))
	}

	artifact := &domain.Artifact{
		MediaType: req.MediaType,
		Quality:   code,
		Message:   "Conversion started",
	}

	var parsed relayResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		// Non-JSON 2xx replies are treated as a bare acknowledgement.
		d.logger.Debug("relay reply is not json", "status", resp.StatusCode, "bytes", len(body))
		return artifact, nil
	}

	if parsed.Success != nil && !*parsed.Success {
		msg := parsed.Error
		if msg == "" {
			msg = parsed.Message
		}
		if msg == "" {
			msg = "relay reported failure"
		}
		return nil, domain.NewUpstreamError("relay convert", errors.New(msg))
	}

	artifact.Reference = parsed.DownloadURL
	if artifact.Reference == "" {
		artifact.Reference = parsed.ID
	}
	if parsed.Message != "" {
		artifact.Message = parsed.Message
	}

	d.logger.Info("relay conversion accepted",
		"media_type", req.MediaType,
		"format", code,
		"reference", artifact.Reference,
	)
	return artifact, nil
}
