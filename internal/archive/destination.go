package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Destination stores one archive object of size bytes read from body. name
// is a slash-separated relative path.
type Destination interface {
	Write(ctx context.Context, name string, body io.ReadSeeker, size int64) error
}

const jsonlContentType = "application/x-ndjson"

// S3Options locates an archive bucket. A non-empty Endpoint switches to
// path-style addressing for MinIO and other S3-compatible stores.
type S3Options struct {
	Bucket   string
	Prefix   string
	Region   string
	Endpoint string
}

// S3Destination uploads archives to an S3 bucket.
type S3Destination struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Destination resolves credentials through the default AWS chain.
func NewS3Destination(ctx context.Context, o S3Options) (*S3Destination, error) {
	if o.Bucket == "" {
		return nil, errors.New("s3 archive: bucket is required")
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(o.Region))
	if err != nil {
		return nil, fmt.Errorf("s3 archive: load AWS config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(so *s3.Options) {
		if o.Endpoint == "" {
			return
		}
		so.BaseEndpoint = aws.String(o.Endpoint)
		so.UsePathStyle = true
		so.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
	})
	return &S3Destination{client: client, bucket: o.Bucket, prefix: strings.Trim(o.Prefix, "/")}, nil
}

// Key is the object key name is stored under.
func (d *S3Destination) Key(name string) string {
	return path.Join(d.prefix, name)
}

func (d *S3Destination) String() string {
	return "s3://" + path.Join(d.bucket, d.prefix)
}

func (d *S3Destination) Write(ctx context.Context, name string, body io.ReadSeeker, size int64) error {
	_, err := d.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(d.bucket),
		Key:           aws.String(d.Key(name)),
		Body:          body,
		ContentType:   aws.String(jsonlContentType),
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return fmt.Errorf("s3 put %s: %w", d.Key(name), err)
	}
	return nil
}

// FileDestination writes archives below a local directory.
type FileDestination struct {
	dir string
}

func NewFileDestination(dir string) *FileDestination {
	return &FileDestination{dir: dir}
}

func (d *FileDestination) String() string { return "file://" + d.dir }

// Write copies body to dir/name through a temp file and rename. Names that
// climb out with ".." are clamped to dir.
func (d *FileDestination) Write(ctx context.Context, name string, body io.ReadSeeker, _ int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rel := filepath.FromSlash(path.Clean("/" + name))[1:]
	if rel == "" {
		return fmt.Errorf("invalid archive name %q", name)
	}
	filePath := filepath.Join(d.dir, rel)
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(filePath), ".archive-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck
	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		return fmt.Errorf("write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close file: %w", err)
	}
	if err := os.Rename(tmp.Name(), filePath); err != nil {
		return fmt.Errorf("rename file: %w", err)
	}
	return nil
}
