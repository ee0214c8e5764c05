// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

// Package memory keeps media in process memory.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/leseb/openresponses-bridge/pkg/filestore"
	"github.com/leseb/openresponses-bridge/pkg/provider"
)

// DefaultMaxTotalBytes bounds the content held by a store from the registry.
const DefaultMaxTotalBytes = 256 << 20

func init() {
	filestore.Providers.Register("memory", func(_ context.Context, params provider.Params) (filestore.FileStore, error) {
		limit := int64(DefaultMaxTotalBytes)
		if n, ok := params.Positive("max_total_bytes"); ok {
			limit = int64(n)
		}
		return NewWithLimit(limit), nil
	})
}

// compile-time check
var _ filestore.FileStore = (*Store)(nil)

// Store is an in-memory media store. With a limit set, the oldest media are
// evicted once the total content size would exceed it.
type Store struct {
	mu    sync.RWMutex
	files map[string]*filestore.File
	order []string // insertion order, oldest first
	total int64
	limit int64
}

// New creates an unbounded in-memory media store.
func New() *Store {
	return NewWithLimit(0)
}

// NewWithLimit creates a store holding at most limit bytes of content.
// limit <= 0 disables eviction.
func NewWithLimit(limit int64) *Store {
	return &Store{
		files: make(map[string]*filestore.File),
		limit: limit,
	}
}

// CreateFile stores a copy of file. Existing ids are rejected.
func (s *Store) CreateFile(_ context.Context, file *filestore.File) error {
	size := int64(len(file.Content))

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.files[file.ID]; exists {
		return fmt.Errorf("media %s already exists", file.ID)
	}
	if s.limit > 0 && size > s.limit {
		return fmt.Errorf("media %s is %d bytes, store limit is %d", file.ID, size, s.limit)
	}
	for s.limit > 0 && s.total+size > s.limit && len(s.order) > 0 {
		s.removeLocked(s.order[0])
	}

	f := *file
	f.Content = slices.Clone(file.Content)
	f.Bytes = size
	s.files[f.ID] = &f
	s.order = append(s.order, f.ID)
	s.total += size
	return nil
}

// GetFile returns file metadata (Content is nil).
func (s *Store) GetFile(_ context.Context, fileID string) (*filestore.File, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.files[fileID]
	if !ok {
		return nil, fmt.Errorf("media %s: %w", fileID, filestore.ErrFileNotFound)
	}
	return metadataOnly(f), nil
}

// GetFileContent returns a copy of the bytes.
func (s *Store) GetFileContent(_ context.Context, fileID string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.files[fileID]
	if !ok {
		return nil, fmt.Errorf("media %s: %w", fileID, filestore.ErrFileNotFound)
	}
	return slices.Clone(f.Content), nil
}

// DeleteFile removes a file.
func (s *Store) DeleteFile(_ context.Context, fileID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.files[fileID]; !ok {
		return fmt.Errorf("media %s: %w", fileID, filestore.ErrFileNotFound)
	}
	s.removeLocked(fileID)
	return nil
}

// ListFiles returns all files, oldest first.
func (s *Store) ListFiles(_ context.Context) ([]*filestore.File, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	files := make([]*filestore.File, 0, len(s.files))
	for _, f := range s.files {
		files = append(files, metadataOnly(f))
	}
	slices.SortFunc(files, func(a, b *filestore.File) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return files, nil
}

// Size returns the total content bytes held.
func (s *Store) Size() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.total
}

// Close is a no-op.
func (s *Store) Close(_ context.Context) error {
	return nil
}

func (s *Store) removeLocked(id string) {
	f, ok := s.files[id]
	if !ok {
		return
	}
	s.total -= f.Bytes
	delete(s.files, id)
	if i := slices.Index(s.order, id); i >= 0 {
		s.order = slices.Delete(s.order, i, i+1)
	}
}

func metadataOnly(f *filestore.File) *filestore.File {
	cp := *f
	cp.Content = nil
	return &cp
}
