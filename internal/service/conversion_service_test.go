package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/iconidentify/tubeconv/internal/converter"
	"github.com/iconidentify/tubeconv/internal/domain"
	"github.com/iconidentify/tubeconv/internal/repository"
)

const testURL = "https://www.youtube.com/watch?v=dQw4w9WgXcQ"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockDriver implements converter.Driver for testing.
type mockDriver struct {
	name         string
	workDir      string
	convertErr   error
	formats      *domain.FormatMenu
	formatsErr   error
	formatsCalls int
	convertCalls int
	lastCtx      context.Context
	lastReq      converter.ConvertRequest
	block        bool
	killed       bool
}

func (m *mockDriver) Name() string { return m.name }

func (m *mockDriver) Preview(sourceURL string) (*domain.Preview, error) {
	if m.name == "local" {
		return nil, domain.ErrUnsupported
	}
	return &domain.Preview{IframeURL: "https://relay.example/card/?url=x", IframeHTML: "<iframe></iframe>"}, nil
}

func (m *mockDriver) Formats(ctx context.Context, sourceURL string) (*domain.FormatMenu, error) {
	m.formatsCalls++
	if m.killed {
		<-ctx.Done()
		return nil, domain.NewUpstreamError("extract", errors.New("signal: killed"))
	}
	return m.formats, m.formatsErr
}

func (m *mockDriver) Convert(ctx context.Context, req converter.ConvertRequest) (*domain.Artifact, error) {
	m.convertCalls++
	m.lastCtx = ctx
	m.lastReq = req
	if m.block {
		<-ctx.Done()
		return nil, domain.NewUpstreamError("extract", ctx.Err())
	}
	if m.killed {
		<-ctx.Done()
		return nil, domain.NewUpstreamError("extract", errors.New("signal: killed"))
	}
	if m.convertErr != nil {
		return nil, m.convertErr
	}
	if m.name == "relay" {
		return &domain.Artifact{MediaType: req.MediaType, Quality: req.Quality, Reference: "job-1", Message: "Conversion started"}, nil
	}
	path := filepath.Join(m.workDir, string(req.MediaType)+"_1760850000.wav")
	if err := os.WriteFile(path, []byte("RIFF"), 0644); err != nil {
		return nil, err
	}
	return &domain.Artifact{MediaType: req.MediaType, Quality: req.Quality, Path: path}, nil
}

// mockCache implements repository.FormatCache for testing.
type mockCache struct {
	mu      sync.Mutex
	entries map[string]*domain.FormatMenu
}

func newMockCache() *mockCache {
	return &mockCache{entries: make(map[string]*domain.FormatMenu)}
}

func (c *mockCache) Get(ctx context.Context, videoID string) (*domain.FormatMenu, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.entries[videoID]
	return m, ok
}

func (c *mockCache) Set(ctx context.Context, videoID string, menu *domain.FormatMenu) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[videoID] = menu
}

// failingLedger rejects every insert.
type failingLedger struct {
	*repository.InMemoryLedger
}

func (f *failingLedger) Insert(ctx context.Context, rec *domain.ConversionRecord) error {
	return errors.New("disk I/O error")
}

type fixture struct {
	svc    *ConversionService
	driver *mockDriver
	ledger *repository.InMemoryLedger
	store  *repository.FilesystemStore
	cache  *mockCache
}

func newFixture(t *testing.T, strategy string) *fixture {
	t.Helper()
	dir := t.TempDir()
	store, err := repository.NewFilesystemStore(filepath.Join(dir, "downloads"), filepath.Join(dir, "tmp"))
	if err != nil {
		t.Fatalf("NewFilesystemStore failed: %v", err)
	}

	schema := domain.SchemaURL
	if strategy == "local" {
		schema = domain.SchemaFile
	}
	workDir := filepath.Join(dir, "work")
	os.MkdirAll(workDir, 0755)

	f := &fixture{
		driver: &mockDriver{name: strategy, workDir: workDir},
		ledger: repository.NewInMemoryLedger(schema),
		store:  store,
		cache:  newMockCache(),
	}
	f.svc = NewConversionService(f.driver, f.ledger, f.store, f.cache, time.Minute, testLogger())
	return f
}

func TestConversionService_Preview(t *testing.T) {
	f := newFixture(t, "relay")

	p, err := f.svc.Preview(context.Background(), testURL)
	if err != nil {
		t.Fatalf("Preview failed: %v", err)
	}
	if p.IframeURL == "" {
		t.Error("IframeURL should be set")
	}

	records := f.ledger.Records()
	if len(records) != 1 || records[0].SourceURL != testURL || records[0].Kind != domain.KindPreview {
		t.Errorf("records = %+v", records)
	}
}

func TestConversionService_Preview_InvalidURL(t *testing.T) {
	f := newFixture(t, "relay")

	_, err := f.svc.Preview(context.Background(), "not a url")
	if !errors.Is(err, domain.ErrInvalidURL) {
		t.Errorf("expected ErrInvalidURL, got %v", err)
	}
	if n, _ := f.ledger.Count(context.Background()); n != 0 {
		t.Errorf("ledger rows = %d, want 0", n)
	}
}

func TestConversionService_Preview_Unsupported(t *testing.T) {
	f := newFixture(t, "local")

	if _, err := f.svc.Preview(context.Background(), testURL); !errors.Is(err, domain.ErrUnsupported) {
		t.Errorf("expected ErrUnsupported, got %v", err)
	}
}

func TestConversionService_ListFormats_Cached(t *testing.T) {
	f := newFixture(t, "local")
	f.driver.formats = &domain.FormatMenu{Title: "clip"}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		menu, err := f.svc.ListFormats(ctx, testURL)
		if err != nil {
			t.Fatalf("ListFormats failed: %v", err)
		}
		if menu.Title != "clip" {
			t.Errorf("Title = %q", menu.Title)
		}
	}

	if f.driver.formatsCalls != 1 {
		t.Errorf("driver Formats called %d times, want 1", f.driver.formatsCalls)
	}
	if _, ok := f.cache.Get(ctx, "dQw4w9WgXcQ"); !ok {
		t.Error("menu should be cached under the video id")
	}
}

func TestConversionService_ListFormats_NoCache(t *testing.T) {
	f := newFixture(t, "local")
	f.driver.formats = &domain.FormatMenu{}
	f.svc.cache = nil

	f.svc.ListFormats(context.Background(), testURL)
	f.svc.ListFormats(context.Background(), testURL)

	if f.driver.formatsCalls != 2 {
		t.Errorf("driver Formats called %d times, want 2", f.driver.formatsCalls)
	}
}

func TestConversionService_ListFormats_Errors(t *testing.T) {
	f := newFixture(t, "local")
	f.driver.formatsErr = domain.NewUpstreamError("probe", errors.New("unavailable"))

	if _, err := f.svc.ListFormats(context.Background(), "not a url"); !errors.Is(err, domain.ErrInvalidURL) {
		t.Errorf("expected ErrInvalidURL, got %v", err)
	}
	if _, err := f.svc.ListFormats(context.Background(), testURL); !errors.Is(err, domain.ErrUpstreamFailure) {
		t.Errorf("expected upstream failure, got %v", err)
	}
	if _, ok := f.cache.Get(context.Background(), "dQw4w9WgXcQ"); ok {
		t.Error("failures should not be cached")
	}
}

func TestConversionService_Convert_Local(t *testing.T) {
	f := newFixture(t, "local")
	ctx := context.Background()

	start := time.Now().UTC()
	art, err := f.svc.Convert(ctx, ConvertRequest{URL: testURL, MediaType: "audio", Quality: "wav"})
	if err != nil {
		t.Fatalf("Convert failed: %v", err)
	}

	if !art.IsFile() || art.Filename != "audio_1760850000.wav" {
		t.Errorf("artifact = %+v", art)
	}
	if art.Path != "" {
		t.Errorf("Path should be cleared after storing, got %q", art.Path)
	}

	records := f.ledger.Records()
	if len(records) != 1 {
		t.Fatalf("records = %d, want 1", len(records))
	}
	rec := records[0]
	if rec.Format != domain.MediaAudio || rec.Quality != "wav" || rec.Filename != art.Filename {
		t.Errorf("record = %+v", rec)
	}
	if rec.CreatedAt.Before(start) || rec.CreatedAt.After(time.Now().UTC()) {
		t.Errorf("CreatedAt = %v outside request window", rec.CreatedAt)
	}

	rc, size, err := f.svc.OpenArtifact(ctx, art)
	if err != nil {
		t.Fatalf("OpenArtifact failed: %v", err)
	}
	rc.Close()
	if size != 4 {
		t.Errorf("size = %d, want 4", size)
	}
}

func TestConversionService_Convert_Relay(t *testing.T) {
	f := newFixture(t, "relay")

	art, err := f.svc.Convert(context.Background(), ConvertRequest{URL: testURL, MediaType: "video", Quality: "720"})
	if err != nil {
		t.Fatalf("Convert failed: %v", err)
	}
	if art.IsFile() || art.Reference != "job-1" {
		t.Errorf("artifact = %+v", art)
	}

	records := f.ledger.Records()
	if len(records) != 1 || records[0].SourceURL != testURL || records[0].Quality != "720" {
		t.Errorf("records = %+v", records)
	}
	if _, _, err := f.svc.OpenArtifact(context.Background(), art); !errors.Is(err, domain.ErrArtifactNotFound) {
		t.Errorf("relay artifact should not open, got %v", err)
	}
}

func TestConversionService_Convert_InvalidInput(t *testing.T) {
	tests := []struct {
		name string
		req  ConvertRequest
		want error
	}{
		{"invalid url", ConvertRequest{URL: "https://vimeo.com/1234", MediaType: "audio"}, domain.ErrInvalidURL},
		{"empty url", ConvertRequest{MediaType: "audio"}, domain.ErrInvalidURL},
		{"unknown media type", ConvertRequest{URL: testURL, MediaType: "image"}, domain.ErrUnknownMediaType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, "local")
			_, err := f.svc.Convert(context.Background(), tt.req)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
			if f.driver.convertCalls != 0 {
				t.Error("driver should not be called for invalid input")
			}
		})
	}
}

func TestConversionService_Convert_DriverFailure(t *testing.T) {
	f := newFixture(t, "local")
	f.driver.convertErr = domain.NewUpstreamError("extract", errors.New("exit status 1"))

	_, err := f.svc.Convert(context.Background(), ConvertRequest{URL: testURL, MediaType: "audio"})
	if !errors.Is(err, domain.ErrUpstreamFailure) {
		t.Errorf("expected upstream failure, got %v", err)
	}
	if n, _ := f.ledger.Count(context.Background()); n != 0 {
		t.Errorf("ledger rows = %d, want 0 after failure", n)
	}
}

func TestConversionService_Convert_Timeout(t *testing.T) {
	f := newFixture(t, "local")
	f.driver.block = true
	f.svc.timeout = 20 * time.Millisecond

	_, err := f.svc.Convert(context.Background(), ConvertRequest{URL: testURL, MediaType: "audio"})
	if !errors.Is(err, domain.ErrUpstreamFailure) {
		t.Errorf("expected upstream failure, got %v", err)
	}
	if _, ok := f.driver.lastCtx.Deadline(); !ok {
		t.Error("driver context should carry a deadline")
	}
}

func TestConversionService_Convert_KilledExtractorReportsDeadline(t *testing.T) {
	f := newFixture(t, "local")
	f.driver.killed = true
	f.svc.timeout = 10 * time.Millisecond

	_, err := f.svc.Convert(context.Background(), ConvertRequest{URL: testURL, MediaType: "audio"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	if !errors.Is(err, domain.ErrUpstreamFailure) {
		t.Errorf("expected upstream failure, got %v", err)
	}
}

func TestConversionService_Convert_CallerCancelIsNotDeadline(t *testing.T) {
	f := newFixture(t, "local")
	f.driver.killed = true
	f.svc.timeout = time.Minute

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.svc.Convert(ctx, ConvertRequest{URL: testURL, MediaType: "audio"})
	if errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("caller cancellation should not read as a timeout, got %v", err)
	}
}

func TestConversionService_ListFormats_KilledExtractorReportsDeadline(t *testing.T) {
	f := newFixture(t, "local")
	f.driver.killed = true
	f.svc.timeout = 10 * time.Millisecond

	_, err := f.svc.ListFormats(context.Background(), testURL)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestConversionService_Convert_LedgerFailureRemovesArtifact(t *testing.T) {
	f := newFixture(t, "local")
	f.svc.ledger = &failingLedger{InMemoryLedger: f.ledger}

	_, err := f.svc.Convert(context.Background(), ConvertRequest{URL: testURL, MediaType: "audio", Quality: "wav"})
	if err == nil {
		t.Fatal("expected error when ledger insert fails")
	}

	entries, _ := os.ReadDir(f.store.BasePath())
	if len(entries) != 0 {
		t.Errorf("store should be empty, found %d entries", len(entries))
	}
}

func TestConversionService_LedgerCount(t *testing.T) {
	f := newFixture(t, "relay")
	f.svc.Preview(context.Background(), testURL)
	f.svc.Preview(context.Background(), testURL)

	n, err := f.svc.LedgerCount(context.Background())
	if err != nil {
		t.Fatalf("LedgerCount failed: %v", err)
	}
	if n != 2 {
		t.Errorf("LedgerCount = %d, want 2", n)
	}
	if f.svc.Strategy() != "relay" {
		t.Errorf("Strategy = %q", f.svc.Strategy())
	}
}
