package source

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// DirSource walks a directory of files, yielding each regular file as one
// raw document. The walk is lazy and restartable: Reset re-lists the
// directory, surfacing only files that are new or modified since they
// were last yielded, so a static inbox drains to silence.
type DirSource struct {
	dir string

	mu      sync.Mutex
	pending []string
	listed  bool
	yielded map[string]time.Time // path -> mod time at last yield
}

// NewDirSource creates a source over the given directory.
func NewDirSource(dir string) *DirSource {
	return &DirSource{dir: dir, yielded: make(map[string]time.Time)}
}

// Next returns the next file's content and metadata, or io.EOF once the
// listing is exhausted. Files that disappear between listing and read are
// skipped rather than failing the sequence.
func (s *DirSource) Next(ctx context.Context) (*RawDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.listed {
		if err := s.listLocked(); err != nil {
			return nil, err
		}
	}

	for len(s.pending) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		path := s.pending[0]
		s.pending = s.pending[1:]

		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		content, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		s.yielded[path] = info.ModTime()
		return &RawDocument{
			Content: content,
			Meta: Metadata{
				Subject:    filepath.Base(path),
				Origin:     s.dir,
				ReceivedAt: info.ModTime(),
			},
		}, nil
	}
	return nil, io.EOF
}

// Reset re-lists the directory so a subsequent Next walks fresh arrivals.
func (s *DirSource) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listLocked()
}

func (s *DirSource) listLocked() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return err
	}
	s.pending = s.pending[:0]
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(s.dir, e.Name())
		info, err := e.Info()
		if err != nil {
			continue
		}
		if prev, ok := s.yielded[path]; ok && prev.Equal(info.ModTime()) {
			continue
		}
		s.pending = append(s.pending, path)
	}
	sort.Strings(s.pending)
	s.listed = true
	return nil
}
