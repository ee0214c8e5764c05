// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

// Package filestoretest is the shared conformance suite for media stores.
// Each backend runs RunConformanceTests from its own _test.go file.
package filestoretest

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/leseb/openresponses-bridge/pkg/filestore"
)

// Opener returns a fresh, isolated store for one case.
type Opener func(t *testing.T) filestore.FileStore

type testCase struct {
	name string
	run  func(t *testing.T, ctx context.Context, s filestore.FileStore)
}

var cases = []testCase{
	{"CreateAndGet", testCreateAndGet},
	{"ContentRoundTrip", testContentRoundTrip},
	{"ContentIsCopied", testContentIsCopied},
	{"Delete", testDelete},
	{"NotFound", testNotFound},
	{"ListOldestFirst", testListOldestFirst},
	{"DuplicateCreate", testDuplicateCreate},
}

// RunConformanceTests runs every case against a fresh store.
func RunConformanceTests(t *testing.T, open Opener) {
	t.Helper()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := open(t)
			defer s.Close(context.Background())
			tc.run(t, context.Background(), s)
		})
	}
}

func media(id, name, mimeType string, content []byte, createdAt time.Time) *filestore.File {
	return &filestore.File{
		ID:        id,
		Filename:  name,
		MimeType:  mimeType,
		Bytes:     int64(len(content)),
		Content:   content,
		CreatedAt: createdAt,
	}
}

func mustCreate(t *testing.T, ctx context.Context, s filestore.FileStore, f *filestore.File) {
	t.Helper()
	if err := s.CreateFile(ctx, f); err != nil {
		t.Fatalf("CreateFile(%s): %v", f.ID, err)
	}
}

func testCreateAndGet(t *testing.T, ctx context.Context, s filestore.FileStore) {
	f := media("media_abc123", "chart.png", "image/png", []byte("\x89PNGdata"), time.Now().Truncate(time.Millisecond))
	mustCreate(t, ctx, s, f)

	got, err := s.GetFile(ctx, f.ID)
	if err != nil {
		t.Fatalf("GetFile: %v", err)
	}
	if got.ID != f.ID || got.Filename != f.Filename || got.MimeType != f.MimeType || got.Bytes != f.Bytes {
		t.Errorf("GetFile metadata = %+v", got)
	}
	if !got.CreatedAt.Equal(f.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, f.CreatedAt)
	}
	if got.Content != nil {
		t.Errorf("GetFile returned %d content bytes, want metadata only", len(got.Content))
	}
}

func testContentRoundTrip(t *testing.T, ctx context.Context, s filestore.FileStore) {
	content := make([]byte, 64<<10)
	for i := range content {
		content[i] = byte(i)
	}
	mustCreate(t, ctx, s, media("media_binary", "blob.bin", "application/octet-stream", content, time.Now()))

	got, err := s.GetFileContent(ctx, "media_binary")
	if err != nil {
		t.Fatalf("GetFileContent: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Errorf("content mismatch: %d bytes back, want %d", len(got), len(content))
	}
}

func testContentIsCopied(t *testing.T, ctx context.Context, s filestore.FileStore) {
	content := []byte("original")
	mustCreate(t, ctx, s, media("media_copy", "a.txt", "text/plain", content, time.Now()))
	copy(content, "mutated!")

	got, err := s.GetFileContent(ctx, "media_copy")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "original" {
		t.Errorf("stored content changed with the caller's buffer: %q", got)
	}
}

func testDelete(t *testing.T, ctx context.Context, s filestore.FileStore) {
	mustCreate(t, ctx, s, media("media_del1", "del.txt", "text/plain", []byte("del"), time.Now()))
	if err := s.DeleteFile(ctx, "media_del1"); err != nil {
		t.Fatalf("DeleteFile: %v", err)
	}
	if _, err := s.GetFile(ctx, "media_del1"); !errors.Is(err, filestore.ErrFileNotFound) {
		t.Errorf("GetFile after delete: %v", err)
	}
	files, err := s.ListFiles(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 0 {
		t.Errorf("ListFiles after delete = %d entries", len(files))
	}
}

func testNotFound(t *testing.T, ctx context.Context, s filestore.FileStore) {
	const id = "media_nonexistent"
	if _, err := s.GetFile(ctx, id); !errors.Is(err, filestore.ErrFileNotFound) {
		t.Errorf("GetFile: %v", err)
	}
	if _, err := s.GetFileContent(ctx, id); !errors.Is(err, filestore.ErrFileNotFound) {
		t.Errorf("GetFileContent: %v", err)
	}
	if err := s.DeleteFile(ctx, id); !errors.Is(err, filestore.ErrFileNotFound) {
		t.Errorf("DeleteFile: %v", err)
	}
}

func testListOldestFirst(t *testing.T, ctx context.Context, s filestore.FileStore) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, i := range []int{2, 0, 1} {
		id := "media_list" + string(rune('a'+i))
		mustCreate(t, ctx, s, media(id, "f.txt", "text/plain", []byte("x"), base.Add(time.Duration(i)*time.Second)))
	}

	files, err := s.ListFiles(ctx)
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if len(files) != 3 {
		t.Fatalf("ListFiles = %d entries, want 3", len(files))
	}
	for i, want := range []string{"media_lista", "media_listb", "media_listc"} {
		if files[i].ID != want {
			t.Errorf("files[%d] = %s, want %s", i, files[i].ID, want)
		}
		if files[i].Content != nil {
			t.Error("ListFiles must not return content")
		}
	}
}

// testDuplicateCreate accepts either rejection or overwrite, but the id must
// stay readable.
func testDuplicateCreate(t *testing.T, ctx context.Context, s filestore.FileStore) {
	f := media("media_dup1", "dup.txt", "text/plain", []byte("dup"), time.Now())
	mustCreate(t, ctx, s, f)
	_ = s.CreateFile(ctx, f)

	if got, err := s.GetFileContent(ctx, f.ID); err != nil || string(got) != "dup" {
		t.Errorf("after duplicate create: %q, %v", got, err)
	}
}
