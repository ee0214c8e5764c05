// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package media

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
)

// ErrTooLarge is returned when fetched content exceeds the size limit.
var ErrTooLarge = errors.New("media exceeds size limit")

// Fetched is downloaded or decoded content.
type Fetched struct {
	Data     []byte
	MimeType string
	Filename string
}

// Fetcher downloads http(s) URLs referenced by request input.
type Fetcher struct {
	client   *http.Client
	maxBytes int64
}

// NewFetcher creates a Fetcher. Non-positive values select defaults.
func NewFetcher(timeout time.Duration, maxBytes int64) *Fetcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Fetcher{
		client:   &http.Client{Timeout: timeout},
		maxBytes: maxBytes,
	}
}

// Fetch loads rawURL. data: URLs are decoded in place.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Fetched, error) {
	if strings.HasPrefix(strings.ToLower(rawURL), "data:") {
		out, err := DecodeDataURL(rawURL)
		if err != nil {
			return nil, err
		}
		if int64(len(out.Data)) > f.maxBytes {
			return nil, ErrTooLarge
		}
		return out, nil
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", u.Redacted(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch %s: status %d", u.Redacted(), resp.StatusCode)
	}
	if resp.ContentLength > f.maxBytes {
		return nil, ErrTooLarge
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", u.Redacted(), err)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, ErrTooLarge
	}

	name := path.Base(u.Path)
	if name == "/" || name == "." {
		name = ""
	}
	mimeType := resp.Header.Get("Content-Type")
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = DetectType(name, data)
	}
	return &Fetched{Data: data, MimeType: mimeType, Filename: name}, nil
}

// DecodeDataURL decodes an RFC 2397 data URL.
func DecodeDataURL(raw string) (*Fetched, error) {
	if len(raw) < 5 || !strings.EqualFold(raw[:5], "data:") {
		return nil, errors.New("not a data url")
	}
	meta, payload, ok := strings.Cut(raw[5:], ",")
	if !ok {
		return nil, errors.New("malformed data url")
	}

	isBase64 := false
	if strings.HasSuffix(strings.ToLower(meta), ";base64") {
		isBase64 = true
		meta = meta[:len(meta)-len(";base64")]
	}
	mimeType := meta
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	if mimeType == "" {
		mimeType = "text/plain"
	}

	var data []byte
	if isBase64 {
		decoded, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, fmt.Errorf("decode data url: %w", err)
		}
		data = decoded
	} else {
		unescaped, err := url.PathUnescape(payload)
		if err != nil {
			return nil, fmt.Errorf("decode data url: %w", err)
		}
		data = []byte(unescaped)
	}
	return &Fetched{Data: data, MimeType: mimeType}, nil
}
