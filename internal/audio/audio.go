// Package audio defines the opaque audio handle passed through transcription.
package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

var (
	// ErrMissing means the audio handle points at nothing.
	ErrMissing = errors.New("audio not found")
	// ErrEmpty means the audio exists but has zero length.
	ErrEmpty = errors.New("audio is empty")
)

// Source is a readable handle to recorded audio bytes.
type Source interface {
	// Name is the file name including extension; used for MIME detection
	// and multipart uploads.
	Name() string
	Size(ctx context.Context) (int64, error)
	Open(ctx context.Context) (io.ReadCloser, error)
}

// Pather is implemented by sources that already live on local disk.
type Pather interface {
	Path() string
}

// Live is implemented by sources backed by a live microphone stream rather
// than a finished recording. Only device-native recognition accepts them.
type Live interface {
	Source
	SampleRate() int
	Frames(ctx context.Context) (<-chan []float32, error)
}

// Check verifies the source exists and is non-empty. It does not validate
// the codec.
func Check(ctx context.Context, src Source) (int64, error) {
	if src == nil {
		return 0, ErrMissing
	}
	n, err := src.Size(ctx)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, fmt.Errorf("%w: %s", ErrMissing, src.Name())
		}
		return 0, fmt.Errorf("stat %s: %w", src.Name(), err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%w: %s", ErrEmpty, src.Name())
	}
	return n, nil
}

// ReadAll loads the whole source into memory.
func ReadAll(ctx context.Context, src Source) ([]byte, error) {
	rc, err := src.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open audio: %w", err)
	}
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}
	return b, nil
}

// LocalPath returns a filesystem path for src, spooling it to a temp file
// when the source is not already on disk. cleanup must always be called.
func LocalPath(ctx context.Context, src Source) (path string, cleanup func(), err error) {
	noop := func() {}
	if p, ok := src.(Pather); ok && p.Path() != "" {
		return p.Path(), noop, nil
	}

	rc, err := src.Open(ctx)
	if err != nil {
		return "", noop, fmt.Errorf("open audio: %w", err)
	}
	defer rc.Close()

	tmp, err := os.CreateTemp("", "meetscribe-*"+filepath.Ext(src.Name()))
	if err != nil {
		return "", noop, fmt.Errorf("create temp: %w", err)
	}
	if _, err := io.Copy(tmp, rc); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", noop, fmt.Errorf("spool audio: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", noop, fmt.Errorf("close temp: %w", err)
	}
	name := tmp.Name()
	return name, func() { os.Remove(name) }, nil
}

// File is a Source backed by a path on local disk.
type File struct {
	path string
}

// NewFile wraps a local file path.
func NewFile(path string) *File { return &File{path: path} }

func (f *File) Name() string { return filepath.Base(f.path) }
func (f *File) Path() string { return f.path }

func (f *File) Size(context.Context) (int64, error) {
	fi, err := os.Stat(f.path)
	if err != nil {
		return 0, err
	}
	if fi.IsDir() {
		return 0, fmt.Errorf("%s is a directory", f.path)
	}
	return fi.Size(), nil
}

func (f *File) Open(context.Context) (io.ReadCloser, error) {
	return os.Open(f.path)
}

// Bytes is an in-memory Source.
type Bytes struct {
	name string
	data []byte
}

// NewBytes wraps data under the given file name.
func NewBytes(name string, data []byte) *Bytes { return &Bytes{name: name, data: data} }

func (b *Bytes) Name() string                        { return b.name }
func (b *Bytes) Size(context.Context) (int64, error) { return int64(len(b.data)), nil }
func (b *Bytes) Open(context.Context) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(b.data)), nil
}

// ObjectStore is the subset of a recording store that Stored needs.
type ObjectStore interface {
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Size(ctx context.Context, key string) (int64, error)
	LocalPath(key string) string
}

// Stored is a Source that reads a key out of a recording store.
type Stored struct {
	store ObjectStore
	key   string
}

// NewStored references key within store.
func NewStored(store ObjectStore, key string) *Stored { return &Stored{store: store, key: key} }

func (s *Stored) Name() string { return filepath.Base(s.key) }
func (s *Stored) Key() string  { return s.key }

func (s *Stored) Size(ctx context.Context) (int64, error) { return s.store.Size(ctx, s.key) }

func (s *Stored) Open(ctx context.Context) (io.ReadCloser, error) { return s.store.Open(ctx, s.key) }

// Path returns the on-disk location, or "" when the store holds no local copy.
func (s *Stored) Path() string { return s.store.LocalPath(s.key) }
