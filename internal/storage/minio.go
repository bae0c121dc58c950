package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/lucaslui/hems/media-receiver/internal/model"
)

var ErrEmptyKey = errors.New("storage: empty partition key")

// unknownSizePartSize bounds the multipart buffer when the provider sent no
// Content-Length; minio otherwise sizes parts for a 5 TiB object.
const unknownSizePartSize = 16 << 20

// objectAPI is the subset of *minio.Client the store needs.
type objectAPI interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
}

type Options struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	UseTLS        bool
	Region        string
	Bucket        string
	PublicBaseURL string
}

// Client writes media objects into one bucket. It keeps no per-call state and is
// safe for concurrent use.
type Client struct {
	mc      objectAPI
	bucket  string
	region  string
	baseURL string

	now   func() time.Time
	newID func() string
}

func NewMinIO(o Options) (*Client, error) {
	creds := credentials.NewStaticV4(o.AccessKey, o.SecretKey, "")
	if o.AccessKey == "" {
		creds = credentials.NewChainCredentials([]credentials.Provider{
			&credentials.EnvAWS{},
			&credentials.IAM{Client: &http.Client{Transport: http.DefaultTransport}},
		})
	}
	mc, err := minio.New(o.Endpoint, &minio.Options{
		Creds:  creds,
		Secure: o.UseTLS,
		Region: o.Region,
	})
	if err != nil {
		return nil, err
	}
	return newClient(mc, o), nil
}

func newClient(mc objectAPI, o Options) *Client {
	return &Client{
		mc:      mc,
		bucket:  o.Bucket,
		region:  o.Region,
		baseURL: strings.TrimRight(o.PublicBaseURL, "/"),
		now:     time.Now,
		newID:   NewObjectID,
	}
}

func (c *Client) EnsureBucket(ctx context.Context) error {
	exists, err := c.mc.BucketExists(ctx, c.bucket)
	if err != nil {
		return err
	}
	if !exists {
		return c.mc.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{Region: c.region})
	}
	return nil
}

// Put streams r into {partition}/{yyyy-MM}/{id}{ext} and returns the public locator.
// A negative size means unknown length; the upload then goes multipart.
func (c *Client) Put(ctx context.Context, partition string, kind model.MediaKind, r io.Reader, size int64, contentType string) (string, error) {
	if strings.TrimSpace(partition) == "" {
		return "", ErrEmptyKey
	}
	if contentType == "" {
		contentType = model.DefaultContentType
	}
	opts := minio.PutObjectOptions{ContentType: contentType}
	if size < 0 {
		size = -1
		opts.PartSize = unknownSizePartSize
	}

	key := BuildObjectKey(partition, c.now(), c.newID(), kind.Extension())
	if _, err := c.mc.PutObject(ctx, c.bucket, key, r, size, opts); err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}
	return c.URL(key), nil
}

func (c *Client) URL(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return c.baseURL + "/" + strings.Join(parts, "/")
}

func BuildObjectKey(partition string, t time.Time, id, ext string) string {
	return fmt.Sprintf("%s/%04d-%02d/%s%s", partition, t.UTC().Year(), t.UTC().Month(), id, ext)
}

// NewObjectID returns 32 lowercase hex characters.
func NewObjectID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
