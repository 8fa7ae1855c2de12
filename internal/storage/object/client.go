// internal/storage/object/client.go
package object

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"filegen/internal/config"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Client wraps the object store holding raw input data, template source
// code, and generated output files.
type Client struct {
	mc     *minio.Client
	bucket string
	scheme string
}

func NewClient(cfg config.MinioConfig) (*Client, error) {
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object store client: %w", err)
	}

	exists, err := mc.BucketExists(context.Background(), cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket %q: %w", cfg.Bucket, err)
	}
	if !exists {
		return nil, fmt.Errorf("bucket %q does not exist", cfg.Bucket)
	}

	scheme := "http"
	if cfg.Secure {
		scheme = "https"
	}
	return &Client{mc: mc, bucket: cfg.Bucket, scheme: scheme}, nil
}

// Get downloads the object at ref in full.
func (c *Client) Get(ctx context.Context, ref string) ([]byte, error) {
	obj, err := c.mc.GetObject(ctx, c.bucket, ref, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get object %q: %w", ref, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("failed to read object %q: %w", ref, err)
	}
	return data, nil
}

// Put writes the object at ref, overwriting any previous content. Renders
// are pure functions of their inputs, so overwriting on a re-driven task is
// safe by construction.
func (c *Client) Put(ctx context.Context, ref string, data []byte, contentType string) error {
	_, err := c.mc.PutObject(ctx, c.bucket, ref, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("failed to put object %q: %w", ref, err)
	}
	return nil
}

// ContentHash returns the store-reported hash of the object's current
// content (the ETag). Template caching keys off this, never off the path.
func (c *Client) ContentHash(ctx context.Context, ref string) (string, error) {
	info, err := c.mc.StatObject(ctx, c.bucket, ref, minio.StatObjectOptions{})
	if err != nil {
		return "", fmt.Errorf("failed to stat object %q: %w", ref, err)
	}
	return info.ETag, nil
}

// PublicURL builds the user-facing download URL for a generated file.
func (c *Client) PublicURL(ref string) string {
	return fmt.Sprintf("%s://%s/%s/%s", c.scheme, c.mc.EndpointURL().Host, c.bucket, ref)
}
