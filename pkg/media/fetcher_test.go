// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package media

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestDecodeDataURL(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		wantData string
		wantMime string
		wantErr  bool
	}{
		{"base64", "data:image/png;base64,aGVsbG8=", "hello", "image/png", false},
		{"plain", "data:,hi%20there", "hi there", "text/plain", false},
		{"charset", "data:text/csv;charset=utf-8,a,b", "a,b", "text/csv", false},
		{"no comma", "data:image/png;base64", "", "", true},
		{"bad base64", "data:image/png;base64,!!!", "", "", true},
		{"not data", "https://x", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeDataURL(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeDataURL: %v", err)
			}
			if string(got.Data) != tt.wantData || got.MimeType != tt.wantMime {
				t.Errorf("got %q %q", got.Data, got.MimeType)
			}
		})
	}
}

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/report.csv":
			w.Header().Set("Content-Type", "text/csv; charset=utf-8")
			w.Write([]byte("a,b\n1,2\n"))
		case "/big":
			w.Write([]byte(strings.Repeat("x", 64)))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := NewFetcher(time.Second, 32)
	ctx := context.Background()

	got, err := f.Fetch(ctx, srv.URL+"/report.csv")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got.MimeType != "text/csv" || got.Filename != "report.csv" || string(got.Data) != "a,b\n1,2\n" {
		t.Errorf("unexpected fetch result %+v", got)
	}

	if _, err := f.Fetch(ctx, srv.URL+"/big"); !errors.Is(err, ErrTooLarge) {
		t.Errorf("expected ErrTooLarge, got %v", err)
	}
	if _, err := f.Fetch(ctx, srv.URL+"/missing"); err == nil {
		t.Error("expected error for 404")
	}
	if _, err := f.Fetch(ctx, "ftp://host/file"); err == nil {
		t.Error("expected error for unsupported scheme")
	}
	if got, err := f.Fetch(ctx, "data:,ok"); err != nil || string(got.Data) != "ok" {
		t.Errorf("data url fetch: %v", err)
	}
}
