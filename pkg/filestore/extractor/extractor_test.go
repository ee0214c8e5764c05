// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package extractor

import (
	"errors"
	"strings"
	"testing"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		mime     string
		content  string
		want     string
		wantErr  error
	}{
		{"plain text", "readme.txt", "", "Hello, world!", "Hello, world!", nil},
		{"BOM and CRLF", "notes.md", "", "\xEF\xBB\xBFone\r\ntwo", "one\ntwo", nil},
		{"unknown extension is text", "data.xyz", "", "raw content", "raw content", nil},
		{"binary rejected", "blob.bin", "", "\x00\x01\x02", "", ErrUnsupported},
		{"csv as table", "data.csv", "", "name,age\nAlice,30\nBob", "| name | age |\n| --- | --- |\n| Alice | 30 |\n| Bob |  |", nil},
		{"csv escapes pipes", "x.csv", "", "a|b\nc", "| a\\|b |\n| --- |\n| c |", nil},
		{"json indented", "config.json", "", `{"key":"value","num":42}`, "{\n  \"key\": \"value\",\n  \"num\": 42\n}", nil},
		{"json lines", "logs.jsonl", "", "{\"a\":1}\n{\"b\":2}\n", "{\n  \"a\": 1\n}\n\n{\n  \"b\": 2\n}", nil},
		{"invalid json is text", "bad.json", "", "not json at all", "not json at all", nil},
		{"mime wins over extension", "upload.bin", "text/csv", "a,b\n1,2", "| a | b |\n| --- | --- |\n| 1 | 2 |", nil},
		{"mime with params", "", "application/json; charset=utf-8", `{"k":1}`, "{\n  \"k\": 1\n}", nil},
		{"octet-stream uses extension", "page.html", "application/octet-stream", "<p>hi</p>", "hi", nil},
		{"other text types are text", "a.log", "text/x-log", "line", "line", nil},
		{"unsupported mime", "photo.png", "image/png", "\x89PNG", "", ErrUnsupported},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Extract([]byte(tt.content), tt.filename, tt.mime, 0)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Extract() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Extract() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Extract() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtract_HTML(t *testing.T) {
	page := `<html><head><title>Report</title><style>body{}</style></head>
<body><h1>Q3</h1><p>Revenue   grew <b>12%</b>.</p><script>var x=1;</script>
<ul><li>one</li><li>two</li></ul></body></html>`
	got, err := Extract([]byte(page), "r.html", "text/html", 0)
	if err != nil {
		t.Fatal(err)
	}
	want := "Report\n\nQ3\n\nRevenue grew 12% .\n\none\n\ntwo"
	if got != want {
		t.Errorf("Extract() = %q, want %q", got, want)
	}
	for _, banned := range []string{"body{}", "var x"} {
		if strings.Contains(got, banned) {
			t.Errorf("output contains %q", banned)
		}
	}
}

func TestExtract_Truncates(t *testing.T) {
	got, err := Extract([]byte("héllo world"), "a.txt", "text/plain", 5)
	if err != nil {
		t.Fatal(err)
	}
	if got != "héllo\n[truncated]" {
		t.Errorf("Extract() = %q", got)
	}
}

func TestExtract_InvalidPDF(t *testing.T) {
	if _, err := Extract([]byte("not a pdf"), "a.pdf", "application/pdf", 0); err == nil {
		t.Error("expected error for invalid PDF")
	}
}

func TestSupported(t *testing.T) {
	if !Supported("application/pdf") || !Supported("text/markdown; charset=utf-8") {
		t.Error("expected pdf and markdown to be supported")
	}
	if Supported("image/jpeg") {
		t.Error("images are not text-extractable")
	}
}
