// Package keyload reads verification key material from disk with a hard
// size bound, optionally caching it per (path, mtime, size).
package keyload

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/singleflight"
)

// MaxKeySize is the largest key file accepted, in bytes.
const MaxKeySize = 10 * 1024

var (
	// ErrKeyUnreadable indicates the configured key file could not be opened or read.
	ErrKeyUnreadable = errors.New("keyload: key unreadable")
	// ErrKeyTooLarge indicates the key file exceeds MaxKeySize.
	ErrKeyTooLarge = errors.New("keyload: key too large")
)

// Material is a loaded key. The zero value is the explicit no-key mode (see
// None); use Present to tell the two apart.
type Material struct {
	Path string
	// Generation identifies the file version the bytes were read from.
	Generation string
	// Fingerprint is the SHA-256 of the bytes.
	Fingerprint [sha256.Size]byte
	LoadedAt    time.Time

	data    []byte
	present bool
}

// None returns material signalling that no key is configured.
func None() Material { return Material{} }

func (m Material) Present() bool { return m.present }

// Len is the exact number of bytes read from the key file.
func (m Material) Len() int { return len(m.data) }

// Bytes returns the key bytes. Callers must not modify the returned slice.
func (m Material) Bytes() []byte { return m.data }

// FromBytes builds present material from an in-memory key. It applies the
// same size bound as Load.
func FromBytes(name string, b []byte) (Material, error) {
	if len(b) > MaxKeySize {
		return Material{}, fmt.Errorf("%w: %s is %d bytes, limit %d", ErrKeyTooLarge, name, len(b), MaxKeySize)
	}
	data := append([]byte(nil), b...)
	return Material{
		Path:        name,
		Generation:  fmt.Sprintf("mem|%d", len(data)),
		Fingerprint: sha256.Sum256(data),
		LoadedAt:    time.Now(),
		data:        data,
		present:     true,
	}, nil
}

// Option configures a Loader.
type Option func(*Loader)

// WithCache enables caching keyed by (path, mtime, size).
func WithCache() Option {
	return func(l *Loader) { l.cache = true }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(l *Loader) { l.log = log }
}

// WithObserver registers a callback invoked after every Load.
func WithObserver(fn func(path string, cached bool, err error)) Option {
	return func(l *Loader) { l.observe = fn }
}

// Loader reads key files. It is safe for concurrent use.
type Loader struct {
	cache   bool
	log     *slog.Logger
	observe func(path string, cached bool, err error)

	mu      sync.Mutex
	entries map[string]Material
	watcher *fsnotify.Watcher
	watched map[string]struct{}

	group singleflight.Group
}

func NewLoader(opts ...Option) *Loader {
	l := &Loader{
		log:     slog.Default(),
		entries: make(map[string]Material),
		watched: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load returns the key material stored at path. With caching enabled the
// file is stat'ed on every call and re-read only when its mtime or size
// changed; concurrent misses for the same version share one read.
func (l *Loader) Load(ctx context.Context, path string) (Material, error) {
	if !l.cache {
		m, err := readKey(path)
		l.report(ctx, path, false, err)
		return m, err
	}

	fi, err := os.Stat(path)
	if err != nil {
		err = fmt.Errorf("%w: %s: %v", ErrKeyUnreadable, path, err)
		l.report(ctx, path, false, err)
		return Material{}, err
	}
	if fi.Mode().IsRegular() && fi.Size() > MaxKeySize {
		err = fmt.Errorf("%w: %s is %d bytes, limit %d", ErrKeyTooLarge, path, fi.Size(), MaxKeySize)
		l.report(ctx, path, false, err)
		return Material{}, err
	}
	gen := generation(path, fi)

	l.mu.Lock()
	cached, ok := l.entries[path]
	l.mu.Unlock()
	if ok && cached.Generation == gen {
		l.report(ctx, path, true, nil)
		return cached, nil
	}

	v, err, _ := l.group.Do(gen, func() (any, error) {
		m, err := readKey(path)
		if err != nil {
			return Material{}, err
		}
		l.mu.Lock()
		l.entries[path] = m
		l.mu.Unlock()
		l.watchDir(path)
		return m, nil
	})
	l.report(ctx, path, false, err)
	if err != nil {
		return Material{}, err
	}
	return v.(Material), nil
}

// Invalidate drops any cached material for path.
func (l *Loader) Invalidate(path string) {
	l.mu.Lock()
	delete(l.entries, path)
	l.mu.Unlock()
}

func (l *Loader) report(ctx context.Context, path string, cached bool, err error) {
	if err != nil {
		l.log.ErrorContext(ctx, "keyload.read.fail", slog.String("path", path), slog.String("err", err.Error()))
	}
	if l.observe != nil {
		l.observe(path, cached, err)
	}
}

// readKey reads at most MaxKeySize+1 bytes so an oversized file is detected
// without reading it whole.
func readKey(path string) (Material, error) {
	f, err := os.Open(path)
	if err != nil {
		return Material{}, fmt.Errorf("%w: %s: %v", ErrKeyUnreadable, path, err)
	}
	defer func() { _ = f.Close() }()

	fi, err := f.Stat()
	if err != nil {
		return Material{}, fmt.Errorf("%w: %s: %v", ErrKeyUnreadable, path, err)
	}
	data, err := io.ReadAll(io.LimitReader(f, MaxKeySize+1))
	if err != nil {
		return Material{}, fmt.Errorf("%w: %s: %v", ErrKeyUnreadable, path, err)
	}
	if len(data) > MaxKeySize {
		return Material{}, fmt.Errorf("%w: %s exceeds %d bytes", ErrKeyTooLarge, path, MaxKeySize)
	}
	return Material{
		Path:        path,
		Generation:  generation(path, fi),
		Fingerprint: sha256.Sum256(data),
		LoadedAt:    time.Now(),
		data:        data,
		present:     true,
	}, nil
}

func generation(path string, fi os.FileInfo) string {
	return fmt.Sprintf("%s|%d|%d", path, fi.ModTime().UnixNano(), fi.Size())
}

// Watch invalidates cached material when key files change on disk. It
// blocks until ctx is done. Directories are watched rather than files so
// that atomic renames are observed.
func (l *Loader) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("keyload: watcher: %w", err)
	}
	defer func() {
		l.mu.Lock()
		l.watcher = nil
		l.watched = make(map[string]struct{})
		l.mu.Unlock()
		_ = w.Close()
	}()

	l.mu.Lock()
	l.watcher = w
	paths := make([]string, 0, len(l.entries))
	for p := range l.entries {
		paths = append(paths, p)
	}
	l.mu.Unlock()
	for _, p := range paths {
		l.watchDir(p)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename|fsnotify.Chmod) == 0 {
				continue
			}
			name := filepath.Clean(ev.Name)
			l.mu.Lock()
			for p := range l.entries {
				if filepath.Clean(p) == name {
					delete(l.entries, p)
					l.log.DebugContext(ctx, "keyload.cache.invalidate", slog.String("path", p), slog.String("op", ev.Op.String()))
				}
			}
			l.mu.Unlock()
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			l.log.DebugContext(ctx, "keyload.watch.error", slog.String("err", err.Error()))
		}
	}
}

func (l *Loader) watchDir(path string) {
	dir := filepath.Dir(filepath.Clean(path))
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.watcher == nil {
		return
	}
	if _, ok := l.watched[dir]; ok {
		return
	}
	if err := l.watcher.Add(dir); err != nil {
		l.log.Debug("keyload.watch.add.fail", slog.String("dir", dir), slog.String("err", err.Error()))
		return
	}
	l.watched[dir] = struct{}{}
}
