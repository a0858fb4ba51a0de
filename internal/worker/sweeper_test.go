package worker

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

	"github.com/iconidentify/tubeconv/internal/domain"
	"github.com/iconidentify/tubeconv/internal/repository"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockStore implements repository.ArtifactStore for testing.
type mockStore struct {
	mu        sync.Mutex
	deleted   []string
	deleteErr error
}

func (m *mockStore) Save(ctx context.Context, localPath string) (string, error) {
	return filepath.Base(localPath), nil
}

func (m *mockStore) Open(ctx context.Context, ref string) (io.ReadCloser, int64, error) {
	return nil, 0, domain.ErrArtifactNotFound
}

func (m *mockStore) Delete(ctx context.Context, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, ref)
	return m.deleteErr
}

// mockLedger implements repository.Ledger for testing.
type mockLedger struct {
	*repository.InMemoryLedger
	purgeErr   error
	purgeCalls int
	mu         sync.Mutex
}

func (m *mockLedger) PurgeExpired(ctx context.Context, cutoff time.Time, fn func(*domain.ConversionRecord)) (int, error) {
	m.mu.Lock()
	m.purgeCalls++
	m.mu.Unlock()
	if m.purgeErr != nil {
		return 0, m.purgeErr
	}
	return m.InMemoryLedger.PurgeExpired(ctx, cutoff, fn)
}

func (m *mockLedger) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.purgeCalls
}

func insertAged(t *testing.T, ledger repository.Ledger, rec *domain.ConversionRecord) {
	t.Helper()
	if err := ledger.Insert(context.Background(), rec); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
}

func TestNewSweeper_Defaults(t *testing.T) {
	s := NewSweeper(Config{}, repository.NewInMemoryLedger(domain.SchemaURL), nil, testLogger())

	if s.interval != 30*time.Minute {
		t.Errorf("interval = %v, want 30m", s.interval)
	}
	if s.retention != 30*time.Minute {
		t.Errorf("retention = %v, want 30m", s.retention)
	}
}

func TestSweeper_RunOnce_RemovesExpiredRecordsAndFiles(t *testing.T) {
	ledger := repository.NewInMemoryLedger(domain.SchemaFile)
	dir := t.TempDir()
	store, err := repository.NewFilesystemStore(dir, filepath.Join(dir, "tmp"))
	if err != nil {
		t.Fatalf("NewFilesystemStore failed: %v", err)
	}

	// One expired record with a file, one expired whose file is already gone.
	os.WriteFile(filepath.Join(dir, "audio_1.wav"), []byte("RIFF"), 0644)
	insertAged(t, ledger, domain.NewArtifactRecord("audio_1.wav", domain.MediaAudio, "wav"))
	insertAged(t, ledger, domain.NewArtifactRecord("video_2.mp4", domain.MediaVideo, "720p"))

	s := NewSweeper(Config{Interval: time.Hour, Retention: 30 * time.Minute}, ledger, store, testLogger())
	s.now = func() time.Time { return time.Now().Add(time.Hour) }

	result, err := s.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}

	if result.Purged != 2 {
		t.Errorf("Purged = %d, want 2", result.Purged)
	}
	if result.FilesDeleted != 2 || result.CleanupFailed != 0 {
		t.Errorf("result = %+v", result)
	}
	if n, _ := ledger.Count(context.Background()); n != 0 {
		t.Errorf("remaining rows = %d, want 0", n)
	}
	if _, err := os.Stat(filepath.Join(dir, "audio_1.wav")); !os.IsNotExist(err) {
		t.Error("expired artifact should be deleted")
	}
}

func TestSweeper_RunOnce_KeepsFreshRecords(t *testing.T) {
	ledger := repository.NewInMemoryLedger(domain.SchemaFile)
	store := &mockStore{}
	insertAged(t, ledger, domain.NewArtifactRecord("audio_1.mp3", domain.MediaAudio, "mp3_192"))

	s := NewSweeper(Config{Retention: 30 * time.Minute}, ledger, store, testLogger())

	result, err := s.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if result.Purged != 0 || len(store.deleted) != 0 {
		t.Errorf("fresh record should be kept: %+v, deleted %v", result, store.deleted)
	}
	if n, _ := ledger.Count(context.Background()); n != 1 {
		t.Errorf("rows = %d, want 1", n)
	}
}

func TestSweeper_RunOnce_CleanupFailureStillDeletesRow(t *testing.T) {
	ledger := repository.NewInMemoryLedger(domain.SchemaFile)
	store := &mockStore{deleteErr: errors.New("permission denied")}
	insertAged(t, ledger, domain.NewArtifactRecord("audio_1.mp3", domain.MediaAudio, "mp3_192"))

	s := NewSweeper(Config{Retention: time.Minute}, ledger, store, testLogger())
	s.now = func() time.Time { return time.Now().Add(time.Hour) }

	result, err := s.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if result.Purged != 1 || result.CleanupFailed != 1 {
		t.Errorf("result = %+v", result)
	}
	if n, _ := ledger.Count(context.Background()); n != 0 {
		t.Errorf("rows = %d, want 0", n)
	}
}

func TestSweeper_RunOnce_PreviewRecordsHaveNoFiles(t *testing.T) {
	ledger := repository.NewInMemoryLedger(domain.SchemaURL)
	store := &mockStore{}
	insertAged(t, ledger, domain.NewPreviewRecord("https://youtu.be/dQw4w9WgXcQ", "", ""))

	s := NewSweeper(Config{Retention: time.Minute}, ledger, store, testLogger())
	s.now = func() time.Time { return time.Now().Add(time.Hour) }

	result, err := s.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if result.Purged != 1 || len(store.deleted) != 0 {
		t.Errorf("result = %+v, deleted = %v", result, store.deleted)
	}
}

func TestSweeper_RunOnce_LedgerError(t *testing.T) {
	ledger := &mockLedger{
		InMemoryLedger: repository.NewInMemoryLedger(domain.SchemaFile),
		purgeErr:       errors.New("database is locked"),
	}

	s := NewSweeper(Config{}, ledger, &mockStore{}, testLogger())
	if _, err := s.RunOnce(context.Background()); err == nil {
		t.Error("expected error from ledger")
	}
}

func TestSweeper_StartStop(t *testing.T) {
	ledger := &mockLedger{InMemoryLedger: repository.NewInMemoryLedger(domain.SchemaURL)}

	s := NewSweeper(Config{Interval: 10 * time.Millisecond}, ledger, nil, testLogger())
	s.Start()

	deadline := time.Now().Add(2 * time.Second)
	for ledger.calls() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if err := s.Stop(time.Second); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if ledger.calls() < 2 {
		t.Errorf("purge calls = %d, want at least 2", ledger.calls())
	}

	after := ledger.calls()
	time.Sleep(30 * time.Millisecond)
	if ledger.calls() != after {
		t.Error("sweeper kept running after Stop")
	}
}

func TestSweeper_StopTimeout(t *testing.T) {
	s := NewSweeper(Config{}, repository.NewInMemoryLedger(domain.SchemaURL), nil, testLogger())

	// Simulate a sweep that never finishes.
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.Stop(20 * time.Millisecond); !errors.Is(err, ErrShutdownTimeout) {
		t.Errorf("expected ErrShutdownTimeout, got %v", err)
	}
}
