package invoice

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// ErrNotArchived is returned by Open when no copy exists
var ErrNotArchived = errors.New("invoice not archived")

// Archive stores rendered invoices by file name
type Archive interface {
	// Put stores data under name; a failed Put leaves no partial copy behind.
	Put(ctx context.Context, name string, data []byte) error
	Open(ctx context.Context, name string) (io.ReadCloser, error)
}

// FileArchive keeps invoices in a local directory
type FileArchive struct {
	dir string
}

// NewFileArchive creates the archive directory if needed
func NewFileArchive(dir string) (*FileArchive, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create invoice dir: %w", err)
	}
	return &FileArchive{dir: dir}, nil
}

// Path returns the archive path of name
func (a *FileArchive) Path(name string) string {
	return filepath.Join(a.dir, name)
}

// Put writes to a temp file in the same directory and renames it into place
func (a *FileArchive) Put(ctx context.Context, name string, data []byte) error {
	if err := checkName(name); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(a.dir, "."+name+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp invoice: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("failed to write invoice: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync invoice: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close invoice: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, a.Path(name)); err != nil {
		return fmt.Errorf("failed to move invoice into place: %w", err)
	}
	committed = true
	return nil
}

// Open opens an archived invoice
func (a *FileArchive) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	f, err := os.Open(a.Path(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotArchived
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

func checkName(name string) error {
	if name == "" || filepath.Base(name) != name || name == "." || name == ".." {
		return fmt.Errorf("invalid invoice name %q", name)
	}
	return nil
}

// S3API is the subset of the S3 client used by S3Archive
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Archive keeps invoices in an S3 bucket
type S3Archive struct {
	client S3API
	bucket string
	prefix string
}

// NewS3Archive wraps an S3 client
func NewS3Archive(client S3API, bucket, prefix string) *S3Archive {
	return &S3Archive{client: client, bucket: bucket, prefix: prefix}
}

// NewS3ArchiveFromEnv loads the default AWS config; endpoint overrides the S3 URL (LocalStack)
func NewS3ArchiveFromEnv(ctx context.Context, bucket, prefix, endpoint string) (*S3Archive, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3Archive(client, bucket, prefix), nil
}

func (a *S3Archive) key(name string) string {
	if a.prefix == "" {
		return name
	}
	return a.prefix + "/" + name
}

// Put uploads the invoice in a single PutObject call
func (a *S3Archive) Put(ctx context.Context, name string, data []byte) error {
	if err := checkName(name); err != nil {
		return err
	}
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(a.key(name)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(ContentType),
	})
	if err != nil {
		return fmt.Errorf("failed to upload invoice: %w", err)
	}
	return nil
}

// Open downloads an archived invoice
func (a *S3Archive) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.key(name)),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, ErrNotArchived
		}
		return nil, fmt.Errorf("failed to download invoice: %w", err)
	}
	return out.Body, nil
}
