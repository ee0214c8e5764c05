// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

// Package filesystem stores media under a local directory.
package filesystem

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/leseb/openresponses-bridge/pkg/filestore"
	"github.com/leseb/openresponses-bridge/pkg/provider"
)

func init() {
	filestore.Providers.Register("filesystem", func(_ context.Context, params provider.Params) (filestore.FileStore, error) {
		if err := params.Require("base_dir"); err != nil {
			return nil, err
		}
		return New(params.String("base_dir"))
	})
}

// compile-time check
var _ filestore.FileStore = (*Store)(nil)

const (
	contentExt = ".bin"
	metaExt    = ".json"
)

// record is the metadata document written next to each media file.
type record struct {
	ID        string    `json:"id"`
	Filename  string    `json:"filename"`
	MimeType  string    `json:"mime_type"`
	Bytes     int64     `json:"bytes"`
	CreatedAt time.Time `json:"created_at"`
}

func (r *record) file() *filestore.File {
	return &filestore.File{
		ID:        r.ID,
		Filename:  r.Filename,
		MimeType:  r.MimeType,
		Bytes:     r.Bytes,
		CreatedAt: r.CreatedAt,
	}
}

// Store implements filestore.FileStore on a flat directory:
//
//	<baseDir>/<id>.bin   media bytes
//	<baseDir>/<id>.json  metadata, written last
//
// A media file is visible once its metadata exists, so a crash between the
// two writes leaves only an orphaned .bin that ListFiles ignores.
type Store struct {
	baseDir string
}

// New creates a filesystem-backed Store, creating baseDir if it does not exist.
func New(baseDir string) (*Store, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("filesystem media store: base_dir is required")
	}
	if err := os.MkdirAll(baseDir, 0o700); err != nil {
		return nil, fmt.Errorf("create base dir %s: %w", baseDir, err)
	}
	return &Store{baseDir: baseDir}, nil
}

var validID = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

func (s *Store) paths(fileID string) (content, meta string, ok bool) {
	if !validID.MatchString(fileID) {
		return "", "", false
	}
	base := filepath.Join(s.baseDir, fileID)
	return base + contentExt, base + metaExt, true
}

func notFound(fileID string) error {
	return fmt.Errorf("media %s: %w", fileID, filestore.ErrFileNotFound)
}

// CreateFile writes the content, then the metadata, each atomically.
func (s *Store) CreateFile(_ context.Context, file *filestore.File) error {
	content, meta, ok := s.paths(file.ID)
	if !ok {
		return fmt.Errorf("invalid media id %q", file.ID)
	}
	data, err := json.Marshal(record{
		ID:        file.ID,
		Filename:  file.Filename,
		MimeType:  file.MimeType,
		Bytes:     int64(len(file.Content)),
		CreatedAt: file.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	if err := writeAtomic(content, file.Content); err != nil {
		return fmt.Errorf("write content: %w", err)
	}
	if err := writeAtomic(meta, data); err != nil {
		os.Remove(content)
		return fmt.Errorf("write metadata: %w", err)
	}
	return nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return err
	}
	if err := os.Rename(name, path); err != nil {
		os.Remove(name)
		return err
	}
	return nil
}

// GetFile returns file metadata (Content is nil).
func (s *Store) GetFile(_ context.Context, fileID string) (*filestore.File, error) {
	_, meta, ok := s.paths(fileID)
	if !ok {
		return nil, notFound(fileID)
	}
	rec, err := readRecord(meta)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, notFound(fileID)
		}
		return nil, err
	}
	return rec.file(), nil
}

// GetFileContent returns the raw media bytes.
func (s *Store) GetFileContent(_ context.Context, fileID string) ([]byte, error) {
	content, _, ok := s.paths(fileID)
	if !ok {
		return nil, notFound(fileID)
	}
	data, err := os.ReadFile(content)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, notFound(fileID)
		}
		return nil, fmt.Errorf("read content: %w", err)
	}
	return data, nil
}

// DeleteFile removes the metadata first so the media disappears at once.
func (s *Store) DeleteFile(_ context.Context, fileID string) error {
	content, meta, ok := s.paths(fileID)
	if !ok {
		return notFound(fileID)
	}
	if err := os.Remove(meta); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return notFound(fileID)
		}
		return fmt.Errorf("remove metadata: %w", err)
	}
	if err := os.Remove(content); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove content: %w", err)
	}
	return nil
}

// ListFiles returns metadata for every readable entry, oldest first.
func (s *Store) ListFiles(_ context.Context) ([]*filestore.File, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("read base dir: %w", err)
	}

	var files []*filestore.File
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || filepath.Ext(name) != metaExt {
			continue
		}
		rec, err := readRecord(filepath.Join(s.baseDir, name))
		if err != nil {
			continue // skip corrupt entries
		}
		files = append(files, rec.file())
	}

	slices.SortFunc(files, func(a, b *filestore.File) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return files, nil
}

// Close is a no-op for the filesystem store.
func (s *Store) Close(_ context.Context) error {
	return nil
}

func readRecord(path string) (*record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return &rec, nil
}
