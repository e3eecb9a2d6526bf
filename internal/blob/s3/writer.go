package s3blob

import (
	"context"
	"fmt"
	"io"
	"mime"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/alanyoungcy/smtbot/internal/domain"
)

// minPartSize is the S3 minimum part size for multipart uploads (5 MiB).
const minPartSize int64 = 5 * 1024 * 1024

const jsonlContentType = "application/x-ndjson"

// Writer implements domain.BlobWriter on the client's bucket. Every object
// is tagged with the producing process so archives can be told apart from
// manual uploads.
type Writer struct {
	client *s3.Client
	bucket string
}

var _ domain.BlobWriter = (*Writer)(nil)

// NewWriter creates a Writer for c's bucket.
func NewWriter(c *Client) *Writer {
	return &Writer{client: c.S3(), bucket: c.Bucket()}
}

// Put uploads data with a single PutObject. An empty contentType is derived
// from the key's extension.
func (w *Writer) Put(ctx context.Context, key string, data io.Reader, contentType string) error {
	if _, err := w.client.PutObject(ctx, w.input(key, data, contentType)); err != nil {
		return fmt.Errorf("s3blob: put object %s: %w", key, err)
	}
	return nil
}

// PutMultipart streams data through the upload manager in parts of
// partSize bytes, clamped to the S3 minimum.
func (w *Writer) PutMultipart(ctx context.Context, key string, data io.Reader, partSize int64) error {
	partSize = max(partSize, minPartSize)
	uploader := manager.NewUploader(w.client, func(u *manager.Uploader) {
		u.PartSize = partSize
		u.Concurrency = 3
	})
	if _, err := uploader.Upload(ctx, w.input(key, data, "")); err != nil {
		return fmt.Errorf("s3blob: multipart upload %s: %w", key, err)
	}
	return nil
}

func (w *Writer) input(key string, data io.Reader, contentType string) *s3.PutObjectInput {
	return &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(key),
		Body:        data,
		ContentType: aws.String(contentTypeFor(key, contentType)),
		Metadata:    map[string]string{"producer": "smtbot"},
	}
}

// contentTypeFor returns explicit when set, otherwise a type from the key's
// extension.
func contentTypeFor(key, explicit string) string {
	if explicit != "" {
		return explicit
	}
	switch ext := path.Ext(key); ext {
	case ".jsonl", ".ndjson":
		return jsonlContentType
	default:
		if t := mime.TypeByExtension(ext); t != "" {
			return t
		}
	}
	return "application/octet-stream"
}
