// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

// Package media turns media references produced by the agent (remote URLs,
// local paths, MEDIA: tokens) into URLs a Responses API client can fetch.
package media

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/leseb/openresponses-bridge/pkg/filestore"
	"github.com/leseb/openresponses-bridge/pkg/observability/logging"
)

// DefaultMaxBytes caps local media files that are published.
const DefaultMaxBytes = 20 << 20

// ServePath is the route prefix media is published under.
const ServePath = "/v1/media/"

// Media is a resolved reference.
type Media struct {
	URL      string
	MimeType string
	Filename string
}

// IsImage reports whether the media should be rendered inline.
func (m Media) IsImage() bool {
	return m.MimeType == "" || strings.HasPrefix(m.MimeType, "image/")
}

// Markdown renders the media as an image or a download link.
func (m Media) Markdown() string {
	if m.URL == "" {
		return ""
	}
	if m.IsImage() {
		return ImageMarkdown(m.URL)
	}
	return LinkMarkdown(m.Filename, m.URL)
}

// Options configures a Resolver.
type Options struct {
	// PublicBaseURL prefixes ServePath in published URLs.
	PublicBaseURL string
	// PresignTTL is used when the store can presign.
	PresignTTL time.Duration
	// MaxBytes caps the size of a published local file.
	MaxBytes int64
	// WorkDir anchors relative paths; the process working directory when empty.
	WorkDir string
	Logger  *logging.Logger
}

type cacheKey struct {
	path  string
	size  int64
	mtime int64
}

// Resolver publishes local files into a media store. It is safe for
// concurrent use.
type Resolver struct {
	store filestore.FileStore
	opts  Options
	log   *logging.Logger

	mu    sync.Mutex
	cache map[cacheKey]Media
}

// NewResolver creates a Resolver backed by store.
func NewResolver(store filestore.FileStore, opts Options) *Resolver {
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	if opts.PresignTTL <= 0 {
		opts.PresignTTL = time.Hour
	}
	opts.PublicBaseURL = strings.TrimRight(opts.PublicBaseURL, "/")
	return &Resolver{
		store: store,
		opts:  opts,
		log:   logging.OrDiscard(opts.Logger),
		cache: make(map[cacheKey]Media),
	}
}

// Store returns the backing media store.
func (r *Resolver) Store() filestore.FileStore {
	return r.store
}

// Resolve returns a fetchable URL for ref, or ref unchanged when it cannot
// be resolved.
func (r *Resolver) Resolve(ctx context.Context, ref string) string {
	return r.ResolveMedia(ctx, ref).URL
}

// ResolveMedia is Resolve with the detected type. On failure URL holds the
// original reference.
func (r *Resolver) ResolveMedia(ctx context.Context, ref string) Media {
	ref = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(ref), TokenPrefix))
	ref = cleanRef(ref)
	if ref == "" {
		return Media{}
	}
	if IsRemote(ref) {
		return remoteMedia(ref)
	}

	p, err := r.localPath(ref)
	if err != nil {
		r.log.Debug("media reference not resolvable", "ref", ref, "error", err)
		return Media{URL: ref, MimeType: typeByExt(ref), Filename: path.Base(ref)}
	}
	m, err := r.publish(ctx, p)
	if err != nil {
		r.log.Warn("failed to publish media", "path", p, "error", err)
		return Media{URL: ref, MimeType: typeByExt(ref), Filename: filepath.Base(p)}
	}
	return m
}

// ResolveAll resolves refs in order, dropping empty references.
func (r *Resolver) ResolveAll(ctx context.Context, refs []string) []Media {
	out := make([]Media, 0, len(refs))
	for _, ref := range refs {
		if m := r.ResolveMedia(ctx, ref); m.URL != "" {
			out = append(out, m)
		}
	}
	return out
}

// IsRemote reports whether ref is already fetchable by a client.
func IsRemote(ref string) bool {
	lower := strings.ToLower(ref)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") || strings.HasPrefix(lower, "data:")
}

// IsLocal reports whether ref looks like a filesystem path.
func IsLocal(ref string) bool {
	if ref == "" || IsRemote(ref) {
		return false
	}
	switch {
	case strings.HasPrefix(ref, "file://"),
		strings.HasPrefix(ref, "~/"),
		strings.HasPrefix(ref, "/"),
		strings.HasPrefix(ref, "./"),
		strings.HasPrefix(ref, "../"):
		return true
	}
	return filepath.IsAbs(ref)
}

func remoteMedia(ref string) Media {
	m := Media{URL: ref}
	if strings.HasPrefix(strings.ToLower(ref), "data:") {
		if semi := strings.IndexAny(ref[5:], ";,"); semi >= 0 {
			m.MimeType = ref[5 : 5+semi]
		}
		return m
	}
	if u, err := url.Parse(ref); err == nil {
		m.Filename = path.Base(u.Path)
		m.MimeType = typeByExt(u.Path)
	}
	return m
}

func (r *Resolver) localPath(ref string) (string, error) {
	switch {
	case strings.HasPrefix(ref, "file://"):
		u, err := url.Parse(ref)
		if err != nil {
			return "", fmt.Errorf("parse file url: %w", err)
		}
		ref = u.Path
	case strings.HasPrefix(ref, "~/"):
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home: %w", err)
		}
		ref = filepath.Join(home, ref[2:])
	}
	if !filepath.IsAbs(ref) {
		base := r.opts.WorkDir
		if base == "" {
			wd, err := os.Getwd()
			if err != nil {
				return "", err
			}
			base = wd
		}
		ref = filepath.Join(base, ref)
	}
	return filepath.Clean(ref), nil
}

func (r *Resolver) publish(ctx context.Context, p string) (Media, error) {
	fi, err := os.Stat(p)
	if err != nil {
		return Media{}, err
	}
	if !fi.Mode().IsRegular() {
		return Media{}, fmt.Errorf("%s is not a regular file", p)
	}
	if fi.Size() > r.opts.MaxBytes {
		return Media{}, fmt.Errorf("%s is %d bytes, limit %d", p, fi.Size(), r.opts.MaxBytes)
	}

	key := cacheKey{path: p, size: fi.Size(), mtime: fi.ModTime().UnixNano()}
	r.mu.Lock()
	cached, ok := r.cache[key]
	r.mu.Unlock()
	if ok {
		return r.withURL(ctx, cached)
	}

	data, err := os.ReadFile(p)
	if err != nil {
		return Media{}, err
	}

	f := &filestore.File{
		ID:        "media_" + strings.ReplaceAll(uuid.New().String(), "-", ""),
		Filename:  filepath.Base(p),
		MimeType:  DetectType(filepath.Base(p), data),
		Bytes:     int64(len(data)),
		Content:   data,
		CreatedAt: time.Now(),
	}
	if err := r.store.CreateFile(ctx, f); err != nil {
		return Media{}, fmt.Errorf("store media: %w", err)
	}

	// URL holds the file id until withURL renders it.
	m := Media{URL: f.ID, MimeType: f.MimeType, Filename: f.Filename}
	r.mu.Lock()
	r.cache[key] = m
	r.mu.Unlock()
	return r.withURL(ctx, m)
}

// withURL turns a cached entry (URL = file id) into a client URL. Presigned
// URLs expire, so they are minted per call.
func (r *Resolver) withURL(ctx context.Context, m Media) (Media, error) {
	id := m.URL
	if p, ok := r.store.(filestore.Presigner); ok {
		u, err := p.PresignURL(ctx, id, r.opts.PresignTTL)
		if err != nil {
			return Media{}, err
		}
		m.URL = u
		return m, nil
	}
	m.URL = r.opts.PublicBaseURL + ServePath + id + "/" + url.PathEscape(m.Filename)
	return m, nil
}

// Sweep deletes stored media created before now-maxAge and clears the
// cache. It returns the number of deleted files.
func (r *Resolver) Sweep(ctx context.Context, maxAge time.Duration) (int, error) {
	files, err := r.store.ListFiles(ctx)
	if err != nil {
		return 0, fmt.Errorf("list media: %w", err)
	}
	cutoff := time.Now().Add(-maxAge)
	deleted := 0
	for _, f := range files {
		if !f.CreatedAt.Before(cutoff) {
			break // oldest first
		}
		if err := r.store.DeleteFile(ctx, f.ID); err != nil {
			r.log.Warn("failed to delete expired media", "id", f.ID, "error", err)
			continue
		}
		deleted++
	}
	if deleted > 0 {
		r.mu.Lock()
		r.cache = make(map[cacheKey]Media)
		r.mu.Unlock()
	}
	return deleted, nil
}

// DetectType picks a MIME type from the file extension, falling back to
// content sniffing.
func DetectType(filename string, data []byte) string {
	if t := typeByExt(filename); t != "" {
		return t
	}
	return http.DetectContentType(data)
}

func typeByExt(name string) string {
	ext := strings.ToLower(path.Ext(name))
	if ext == "" {
		return ""
	}
	t := mime.TypeByExtension(ext)
	if t == "" {
		return ""
	}
	if mt, _, err := mime.ParseMediaType(t); err == nil {
		return mt
	}
	return t
}
