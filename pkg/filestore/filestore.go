// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

// Package filestore defines the blob store that holds media produced by the
// agent so it can be served back to Responses API clients.
package filestore

import (
	"context"
	"errors"
	"time"

	"github.com/leseb/openresponses-bridge/pkg/provider"
)

// ErrFileNotFound is returned when a file does not exist.
var ErrFileNotFound = errors.New("file not found")

// Providers is the registry of media store backend implementations.
// Import implementation packages with blank imports to register them:
//
//	import _ "github.com/leseb/openresponses-bridge/pkg/filestore/memory"
//	import _ "github.com/leseb/openresponses-bridge/pkg/filestore/filesystem"
//	import _ "github.com/leseb/openresponses-bridge/pkg/filestore/s3"
var Providers = provider.NewRegistry[FileStore]("media_store")

// File represents a stored media file with metadata and content.
type File struct {
	ID        string
	Filename  string
	MimeType  string
	Bytes     int64
	Content   []byte // populated for CreateFile input; nil for GetFile output
	CreatedAt time.Time
}

// FileStore defines the interface for pluggable media storage backends.
type FileStore interface {
	CreateFile(ctx context.Context, file *File) error
	GetFile(ctx context.Context, fileID string) (*File, error)
	GetFileContent(ctx context.Context, fileID string) ([]byte, error)
	DeleteFile(ctx context.Context, fileID string) error
	// ListFiles returns metadata for every stored file, oldest first.
	ListFiles(ctx context.Context) ([]*File, error)
	Close(ctx context.Context) error
}

// Presigner is implemented by stores that can hand out direct, time-limited
// download URLs. Callers fall back to serving content themselves otherwise.
type Presigner interface {
	PresignURL(ctx context.Context, fileID string, ttl time.Duration) (string, error)
}
