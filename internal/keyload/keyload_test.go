package keyload

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, data, 0o600); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

func TestLoad_ExactBytes(t *testing.T) {
	// Key bytes containing NULs and no trailing newline: the byte count is
	// authoritative, not a terminator scan.
	data := []byte("secret\x00with\x00nuls")
	p := writeFile(t, t.TempDir(), "hmac.key", data)

	for _, l := range []*Loader{NewLoader(), NewLoader(WithCache())} {
		m, err := l.Load(context.Background(), p)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if !m.Present() {
			t.Fatalf("material should be present")
		}
		if m.Len() != len(data) || !bytes.Equal(m.Bytes(), data) {
			t.Fatalf("got %q (%d bytes), want %q", m.Bytes(), m.Len(), data)
		}
		if m.Generation == "" {
			t.Fatalf("generation not recorded")
		}
	}
}

func TestLoad_Unreadable(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.pem")
	for _, l := range []*Loader{NewLoader(), NewLoader(WithCache())} {
		m, err := l.Load(context.Background(), missing)
		if !errors.Is(err, ErrKeyUnreadable) {
			t.Fatalf("want ErrKeyUnreadable, got %v", err)
		}
		if m.Present() {
			t.Fatalf("failed load must not produce present material")
		}
	}
}

func TestLoad_TooLarge(t *testing.T) {
	dir := t.TempDir()
	atLimit := writeFile(t, dir, "ok.key", bytes.Repeat([]byte("k"), MaxKeySize))
	over := writeFile(t, dir, "big.key", bytes.Repeat([]byte("k"), MaxKeySize+1))

	for _, l := range []*Loader{NewLoader(), NewLoader(WithCache())} {
		if _, err := l.Load(context.Background(), atLimit); err != nil {
			t.Fatalf("key at limit rejected: %v", err)
		}
		m, err := l.Load(context.Background(), over)
		if !errors.Is(err, ErrKeyTooLarge) {
			t.Fatalf("want ErrKeyTooLarge, got %v", err)
		}
		if m.Present() || m.Len() != 0 {
			t.Fatalf("oversized key must not yield truncated material (len=%d)", m.Len())
		}
	}
}

func TestLoad_CacheHitAndReload(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "k.key", []byte("one"))

	var hits, misses atomic.Int32
	l := NewLoader(WithCache(), WithObserver(func(_ string, cached bool, err error) {
		if err != nil {
			return
		}
		if cached {
			hits.Add(1)
		} else {
			misses.Add(1)
		}
	}))

	ctx := context.Background()
	if _, err := l.Load(ctx, p); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := l.Load(ctx, p); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if hits.Load() != 1 || misses.Load() != 1 {
		t.Fatalf("hits=%d misses=%d, want 1/1", hits.Load(), misses.Load())
	}

	// A size change is a new generation even if mtime granularity hides the write.
	if err := os.WriteFile(p, []byte("two-longer"), 0o600); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	m, err := l.Load(ctx, p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if string(m.Bytes()) != "two-longer" {
		t.Fatalf("stale material after change: %q", m.Bytes())
	}
}

func TestLoad_Invalidate(t *testing.T) {
	p := writeFile(t, t.TempDir(), "k.key", []byte("one"))
	var misses atomic.Int32
	l := NewLoader(WithCache(), WithObserver(func(_ string, cached bool, err error) {
		if err == nil && !cached {
			misses.Add(1)
		}
	}))
	ctx := context.Background()
	_, _ = l.Load(ctx, p)
	l.Invalidate(p)
	_, _ = l.Load(ctx, p)
	if misses.Load() != 2 {
		t.Fatalf("misses = %d, want 2", misses.Load())
	}
}

func TestLoad_ConcurrentSameKey(t *testing.T) {
	p := writeFile(t, t.TempDir(), "k.key", []byte("shared"))
	l := NewLoader(WithCache())

	var wg sync.WaitGroup
	errs := make(chan error, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m, err := l.Load(context.Background(), p)
			if err == nil && string(m.Bytes()) != "shared" {
				err = errors.New("unexpected bytes")
			}
			if err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent load: %v", err)
	}
}

func TestWatch_InvalidatesOnWrite(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "k.key", []byte("one"))
	l := NewLoader(WithCache())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if _, err := l.Load(ctx, p); err != nil {
		t.Fatalf("Load: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- l.Watch(ctx) }()

	// Wait for the watcher to register the directory.
	deadline := time.Now().Add(2 * time.Second)
	for {
		l.mu.Lock()
		_, ok := l.watched[filepath.Dir(p)]
		l.mu.Unlock()
		if ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("directory never watched")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := os.WriteFile(p, []byte("two"), 0o600); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	deadline = time.Now().Add(2 * time.Second)
	for {
		l.mu.Lock()
		_, cached := l.entries[p]
		l.mu.Unlock()
		if !cached {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("cache entry not invalidated after write")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Watch: %v", err)
	}
}

func TestNoneAndFromBytes(t *testing.T) {
	if None().Present() {
		t.Fatalf("None() must not be present")
	}
	m, err := FromBytes("inline", []byte("abc"))
	if err != nil || !m.Present() || m.Len() != 3 {
		t.Fatalf("FromBytes() = %+v, %v", m, err)
	}
	if _, err := FromBytes("inline", make([]byte, MaxKeySize+1)); !errors.Is(err, ErrKeyTooLarge) {
		t.Fatalf("want ErrKeyTooLarge, got %v", err)
	}
}
