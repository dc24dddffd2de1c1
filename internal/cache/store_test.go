package cache

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

const gtagURL = "https://www.googletagmanager.com/gtag/js?id=G-EXAMPLE"

func TestStorePutAndGet(t *testing.T) {
	store := newTestStore(t)
	locator := Locator{Namespace: "scripts", Key: gtagURL}

	modTime := time.Now().Add(-time.Hour).UTC().Truncate(time.Second)
	payload := []byte("window.dataLayer = window.dataLayer || [];")
	if _, err := store.Put(context.Background(), locator, bytes.NewReader(payload), PutOptions{ModTime: modTime}); err != nil {
		t.Fatalf("put error: %v", err)
	}

	result, err := store.Get(context.Background(), locator)
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	defer result.Reader.Close()

	body, err := io.ReadAll(result.Reader)
	if err != nil {
		t.Fatalf("read cached body error: %v", err)
	}
	if string(body) != string(payload) {
		t.Fatalf("cached payload mismatch: %s", string(body))
	}
	if result.Entry.SizeBytes != int64(len(payload)) {
		t.Fatalf("size mismatch: %d", result.Entry.SizeBytes)
	}
	if !result.Entry.ModTime.Equal(modTime) {
		t.Fatalf("modtime mismatch: expected %v got %v", modTime, result.Entry.ModTime)
	}
}

func TestStoreGetMissing(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Get(context.Background(), Locator{Namespace: "scripts", Key: "https://cdn.example/missing.js"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreRemove(t *testing.T) {
	store := newTestStore(t)
	locator := Locator{Namespace: "scripts", Key: "https://cdn.example/remove.js"}
	if _, err := store.Put(context.Background(), locator, bytes.NewReader([]byte("data")), PutOptions{}); err != nil {
		t.Fatalf("put error: %v", err)
	}
	if err := store.Remove(context.Background(), locator); err != nil {
		t.Fatalf("remove error: %v", err)
	}
	if _, err := store.Get(context.Background(), locator); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found after remove, got %v", err)
	}
	if err := store.Remove(context.Background(), locator); err != nil {
		t.Fatalf("removing a missing entry should succeed, got %v", err)
	}
}

func TestStoreKeysWithQueryDoNotCollide(t *testing.T) {
	store := newTestStore(t)
	a := Locator{Namespace: "scripts", Key: "https://cdn.example/a.js?v=1"}
	b := Locator{Namespace: "scripts", Key: "https://cdn.example/a.js?v=2"}

	if _, err := store.Put(context.Background(), a, strings.NewReader("one"), PutOptions{}); err != nil {
		t.Fatalf("put a: %v", err)
	}
	if _, err := store.Put(context.Background(), b, strings.NewReader("two"), PutOptions{}); err != nil {
		t.Fatalf("put b: %v", err)
	}

	result, err := store.Get(context.Background(), a)
	if err != nil {
		t.Fatalf("get a: %v", err)
	}
	defer result.Reader.Close()
	body, _ := io.ReadAll(result.Reader)
	if string(body) != "one" {
		t.Fatalf("expected body of first key, got %q", body)
	}
}

func TestStoreIgnoresDirectories(t *testing.T) {
	store := newTestStore(t)
	locator := Locator{Namespace: "scripts", Key: "https://cdn.example/dir"}

	fs, ok := store.(*fileStore)
	if !ok {
		t.Fatalf("unexpected store type %T", store)
	}

	filePath, err := fs.entryPath(locator)
	if err != nil {
		t.Fatalf("path error: %v", err)
	}
	if err := os.MkdirAll(filePath, 0o755); err != nil {
		t.Fatalf("mkdir error: %v", err)
	}

	if _, err := store.Get(context.Background(), locator); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for directory, got %v", err)
	}
}

func TestStoreRejectsUnsafeNamespace(t *testing.T) {
	store := newTestStore(t)
	for _, ns := range []string{"", "..", "a/b"} {
		_, err := store.Put(context.Background(), Locator{Namespace: ns, Key: "k"}, strings.NewReader("x"), PutOptions{})
		if err == nil {
			t.Fatalf("namespace %q should be rejected", ns)
		}
	}
}

func TestStoreConcurrentDuplicateWrites(t *testing.T) {
	store := newTestStore(t)
	locator := Locator{Namespace: "scripts", Key: gtagURL}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Put(context.Background(), locator, strings.NewReader("same body"), PutOptions{}); err != nil {
				t.Errorf("concurrent put: %v", err)
			}
		}()
	}
	wg.Wait()

	result, err := store.Get(context.Background(), locator)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer result.Reader.Close()
	body, _ := io.ReadAll(result.Reader)
	if string(body) != "same body" {
		t.Fatalf("unexpected body %q", body)
	}

	fs := store.(*fileStore)
	entries, err := os.ReadDir(filepath.Join(fs.basePath, "scripts"))
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("temp files should not survive, found %d entries", len(entries))
	}
}

func TestTTLWriterFreshness(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	writer := NewTTLWriter(nil).WithClock(func() time.Time { return now })

	if writer.Enabled() {
		t.Fatalf("writer without store should be disabled")
	}
	if _, err := writer.Put(context.Background(), Locator{Namespace: "scripts", Key: "k"}, strings.NewReader("x")); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if _, err := writer.Get(context.Background(), Locator{Namespace: "scripts", Key: "k"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("disabled writer should report a miss, got %v", err)
	}

	entry := Entry{ModTime: now.Add(-30 * time.Minute)}
	if !writer.Fresh(entry, time.Hour) {
		t.Fatalf("entry within max-age should be fresh")
	}
	if writer.Fresh(entry, 10*time.Minute) {
		t.Fatalf("entry older than max-age should be stale")
	}
	if writer.Fresh(entry, 0) {
		t.Fatalf("zero max-age never serves from cache")
	}
}

// newTestStore returns a Store backed by a temporary directory.
func newTestStore(t *testing.T) Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}
