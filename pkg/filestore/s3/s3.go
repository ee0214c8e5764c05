// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

// Package s3 stores media in an S3 bucket (or any S3-compatible service such
// as MinIO) and hands out presigned download URLs.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/leseb/openresponses-bridge/pkg/filestore"
	"github.com/leseb/openresponses-bridge/pkg/provider"
)

func init() {
	filestore.Providers.Register("s3", func(ctx context.Context, params provider.Params) (filestore.FileStore, error) {
		if err := params.Require("bucket"); err != nil {
			return nil, err
		}
		return New(ctx, Options{
			Bucket:   params.String("bucket"),
			Region:   params.String("region"),
			Prefix:   params.String("prefix"),
			Endpoint: params.String("endpoint"),
		})
	})
}

// compile-time checks
var (
	_ filestore.FileStore = (*Store)(nil)
	_ filestore.Presigner = (*Store)(nil)
)

// User metadata keys. S3 lower-cases them on the way back.
const (
	metaFilename  = "filename"
	metaCreatedAt = "created-at"
)

// Options configures the S3 backend.
type Options struct {
	Bucket   string // required
	Region   string // e.g. "us-east-1"
	Prefix   string // key prefix, e.g. "media/"
	Endpoint string // custom endpoint for MinIO compatibility
}

// Store implements filestore.FileStore with one object per media file at
// <prefix><id>. The original filename and creation time travel as user
// metadata, so GetFile is a single HEAD request.
type Store struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
	prefix  string
}

// New creates an S3-backed Store.
func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("s3 media store: bucket is required")
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true // MinIO
		}
	})
	return &Store{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  opts.Bucket,
		prefix:  opts.Prefix,
	}, nil
}

func (s *Store) key(fileID string) string {
	return s.prefix + fileID
}

// CreateFile uploads the content with its metadata in one PUT.
func (s *Store) CreateFile(ctx context.Context, file *filestore.File) error {
	createdAt := file.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:             aws.String(s.bucket),
		Key:                aws.String(s.key(file.ID)),
		Body:               bytes.NewReader(file.Content),
		ContentLength:      aws.Int64(int64(len(file.Content))),
		ContentType:        aws.String(contentType(file.MimeType)),
		ContentDisposition: aws.String(disposition(file.Filename)),
		Metadata: map[string]string{
			metaFilename:  file.Filename,
			metaCreatedAt: strconv.FormatInt(createdAt.UnixNano(), 10),
		},
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", file.ID, err)
	}
	return nil
}

// GetFile returns file metadata (Content is nil).
func (s *Store) GetFile(ctx context.Context, fileID string) (*filestore.File, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(fileID)),
	})
	if err != nil {
		return nil, s.wrap(fileID, "head", err)
	}
	return &filestore.File{
		ID:        fileID,
		Filename:  out.Metadata[metaFilename],
		MimeType:  aws.ToString(out.ContentType),
		Bytes:     aws.ToInt64(out.ContentLength),
		CreatedAt: createdAt(out.Metadata, out.LastModified),
	}, nil
}

// GetFileContent returns the raw object bytes.
func (s *Store) GetFileContent(ctx context.Context, fileID string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(fileID)),
	})
	if err != nil {
		return nil, s.wrap(fileID, "get", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", fileID, err)
	}
	return data, nil
}

// DeleteFile removes the object. S3 deletes are idempotent, so existence is
// checked first to report ErrFileNotFound like the other backends.
func (s *Store) DeleteFile(ctx context.Context, fileID string) error {
	if _, err := s.GetFile(ctx, fileID); err != nil {
		return err
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(fileID)),
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", fileID, err)
	}
	return nil
}

// ListFiles lists every object under the prefix, oldest first. Objects that
// vanish between listing and HEAD are skipped.
func (s *Store) ListFiles(ctx context.Context) ([]*filestore.File, error) {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	})

	var files []*filestore.File
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list objects: %w", err)
		}
		for _, obj := range page.Contents {
			id := strings.TrimPrefix(aws.ToString(obj.Key), s.prefix)
			if id == "" || strings.Contains(id, "/") {
				continue
			}
			f, err := s.GetFile(ctx, id)
			if errors.Is(err, filestore.ErrFileNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			files = append(files, f)
		}
	}

	slices.SortFunc(files, func(a, b *filestore.File) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return files, nil
}

// PresignURL returns a time-limited GET URL for the object.
func (s *Store) PresignURL(ctx context.Context, fileID string, ttl time.Duration) (string, error) {
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(fileID)),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", fileID, err)
	}
	return req.URL, nil
}

// Close is a no-op for the S3 store.
func (s *Store) Close(_ context.Context) error {
	return nil
}

func (s *Store) wrap(fileID, op string, err error) error {
	if isNotFound(err) {
		return fmt.Errorf("media %s: %w", fileID, filestore.ErrFileNotFound)
	}
	return fmt.Errorf("%s %s: %w", op, fileID, err)
}

func contentType(mimeType string) string {
	if mimeType == "" {
		return "application/octet-stream"
	}
	return mimeType
}

func disposition(filename string) string {
	if filename == "" {
		return "inline"
	}
	if v := mime.FormatMediaType("inline", map[string]string{"filename": filename}); v != "" {
		return v
	}
	return "inline"
}

// createdAt prefers the stamp written by CreateFile and falls back to the
// object's modification time for objects uploaded by other tools.
func createdAt(meta map[string]string, modified *time.Time) time.Time {
	if ns, err := strconv.ParseInt(meta[metaCreatedAt], 10, 64); err == nil {
		return time.Unix(0, ns)
	}
	return aws.ToTime(modified)
}

// isNotFound checks whether the error indicates a missing S3 object.
func isNotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	var nf *s3types.NotFound
	if errors.As(err, &nsk) || errors.As(err, &nf) {
		return true
	}
	// Some S3-compatible services return a generic "NotFound" status.
	return strings.Contains(err.Error(), "NoSuchKey") || strings.Contains(err.Error(), "NotFound")
}
