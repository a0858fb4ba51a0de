package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"

	"github.com/iconidentify/tubeconv/internal/domain"
	"github.com/iconidentify/tubeconv/internal/service"
)

// testLogger returns a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockConverter is a test implementation of Converter.
type mockConverter struct {
	preview    *domain.Preview
	menu       *domain.FormatMenu
	artifact   *domain.Artifact
	content    string
	err        error
	openErr    error
	lastURL    string
	lastReq    service.ConvertRequest
	convertHit int
}

func (m *mockConverter) Preview(ctx context.Context, sourceURL string) (*domain.Preview, error) {
	m.lastURL = sourceURL
	if m.err != nil {
		return nil, m.err
	}
	return m.preview, nil
}

func (m *mockConverter) ListFormats(ctx context.Context, sourceURL string) (*domain.FormatMenu, error) {
	m.lastURL = sourceURL
	if m.err != nil {
		return nil, m.err
	}
	return m.menu, nil
}

func (m *mockConverter) Convert(ctx context.Context, req service.ConvertRequest) (*domain.Artifact, error) {
	m.convertHit++
	m.lastReq = req
	if m.err != nil {
		return nil, m.err
	}
	return m.artifact, nil
}

func (m *mockConverter) OpenArtifact(ctx context.Context, artifact *domain.Artifact) (io.ReadCloser, int64, error) {
	if m.openErr != nil {
		return nil, 0, m.openErr
	}
	return io.NopCloser(strings.NewReader(m.content)), int64(len(m.content)), nil
}

// mockLedgerProbe is a test implementation of LedgerProbe.
type mockLedgerProbe struct {
	count    int
	pingErr  error
	countErr error
}

func (m *mockLedgerProbe) Ping(ctx context.Context) error {
	return m.pingErr
}

func (m *mockLedgerProbe) Count(ctx context.Context) (int, error) {
	if m.countErr != nil {
		return 0, m.countErr
	}
	return m.count, nil
}

var errDatabaseLocked = errors.New("database is locked")
