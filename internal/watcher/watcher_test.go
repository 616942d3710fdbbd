package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hyperjump/casefind/internal/models"
)

type changeRecorder struct {
	mu      sync.Mutex
	changes []models.Modality
}

func (r *changeRecorder) record(m models.Modality) {
	r.mu.Lock()
	r.changes = append(r.changes, m)
	r.mu.Unlock()
}

func (r *changeRecorder) snapshot() []models.Modality {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Modality(nil), r.changes...)
}

func startWatcher(t *testing.T, dirs map[string]models.Modality, rec *changeRecorder) *Watcher {
	t.Helper()
	w := NewWatcher(dirs, rec.record, WithDebounce(150*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(w.Stop)
	return w
}

func TestWatcher_DebouncesBurstPerModality(t *testing.T) {
	base := t.TempDir()
	imageDir := filepath.Join(base, "image")
	textDir := filepath.Join(base, "text")
	rec := &changeRecorder{}
	startWatcher(t, map[string]models.Modality{
		imageDir: models.ModalityImage,
		textDir:  models.ModalityText,
	}, rec)

	for i := 0; i < 5; i++ {
		if err := writeFile(filepath.Join(imageDir, "1_"+string(rune('0'+i))+".vec"), "v"); err != nil {
			t.Fatal(err)
		}
	}
	time.Sleep(600 * time.Millisecond)

	got := rec.snapshot()
	if len(got) != 1 || got[0] != models.ModalityImage {
		t.Errorf("expected a single image change, got %v", got)
	}
}

func TestWatcher_IgnoresTempAndForeignFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "text")
	rec := &changeRecorder{}
	startWatcher(t, map[string]models.Modality{dir: models.ModalityText}, rec)

	if err := writeFile(filepath.Join(dir, ".tmp-123.vec"), "partial"); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(dir, "notes.txt"), "x"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(400 * time.Millisecond)
	if got := rec.snapshot(); len(got) != 0 {
		t.Errorf("expected no changes, got %v", got)
	}

	// rename into place is how stores publish a vector
	tmp := filepath.Join(dir, ".tmp-456.vec")
	if err := writeFile(tmp, "v"); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, "7.vec")); err != nil {
		t.Fatal(err)
	}
	time.Sleep(400 * time.Millisecond)
	if got := rec.snapshot(); len(got) != 1 || got[0] != models.ModalityText {
		t.Errorf("expected one text change, got %v", got)
	}
}

func TestWatcher_RemoveTriggersChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "3.vec")
	if err := writeFile(path, "v"); err != nil {
		t.Fatal(err)
	}
	rec := &changeRecorder{}
	startWatcher(t, map[string]models.Modality{dir: models.ModalityText}, rec)

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	time.Sleep(400 * time.Millisecond)
	if got := rec.snapshot(); len(got) != 1 {
		t.Errorf("expected one change, got %v", got)
	}
}

func TestWatcher_StartCreatesMissingDirectory(t *testing.T) {
	root := filepath.Join(t.TempDir(), "embeddings", "image")
	rec := &changeRecorder{}
	startWatcher(t, map[string]models.Modality{root: models.ModalityImage}, rec)
	if _, err := os.Stat(root); err != nil {
		t.Errorf("directory should exist after Start: %v", err)
	}
}

func TestWatcher_StopDropsPending(t *testing.T) {
	dir := t.TempDir()
	rec := &changeRecorder{}
	w := NewWatcher(map[string]models.Modality{dir: models.ModalityImage}, rec.record, WithDebounce(300*time.Millisecond))
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(dir, "1_1.vec"), "v"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	w.Stop()
	w.Stop()
	time.Sleep(400 * time.Millisecond)
	if got := rec.snapshot(); len(got) != 0 {
		t.Errorf("expected no change after Stop, got %v", got)
	}
}

func TestWatcher_SupersededTimerDoesNotFire(t *testing.T) {
	rec := &changeRecorder{}
	w := NewWatcher(map[string]models.Modality{t.TempDir(): models.ModalityImage}, rec.record, WithDebounce(time.Hour))
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	w.schedule(models.ModalityImage)
	w.mu.Lock()
	old := w.timers[models.ModalityImage]
	w.mu.Unlock()
	w.schedule(models.ModalityImage)
	w.mu.Lock()
	current := w.timers[models.ModalityImage]
	w.mu.Unlock()

	// an old callback that already started must not drop the newer timer
	w.fire(models.ModalityImage, old)
	if got := rec.snapshot(); len(got) != 0 {
		t.Fatalf("superseded timer fired: %v", got)
	}
	w.mu.Lock()
	kept := w.timers[models.ModalityImage] == current
	w.mu.Unlock()
	if !kept {
		t.Fatal("superseded timer removed the pending one")
	}

	w.Stop()
	w.fire(models.ModalityImage, current)
	if got := rec.snapshot(); len(got) != 0 {
		t.Errorf("change delivered after Stop: %v", got)
	}
}

func TestWatcher_FireDeliversCurrentTimer(t *testing.T) {
	rec := &changeRecorder{}
	w := NewWatcher(map[string]models.Modality{t.TempDir(): models.ModalityText}, rec.record, WithDebounce(time.Hour))
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	w.schedule(models.ModalityText)
	w.mu.Lock()
	current := w.timers[models.ModalityText]
	w.mu.Unlock()
	current.Stop()

	w.fire(models.ModalityText, current)
	got := rec.snapshot()
	if len(got) != 1 || got[0] != models.ModalityText {
		t.Errorf("changes = %v, want [text]", got)
	}
}

func TestIsVectorFile(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/d/image/12_3.vec", true},
		{"/d/text/12.VEC", true},
		{"/d/text/.tmp-abc.vec", false},
		{"/d/text/12.json", false},
		{"/d/text/vec", false},
	}
	for _, tt := range tests {
		if got := isVectorFile(tt.path); got != tt.want {
			t.Errorf("isVectorFile(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0600)
}
