// Package s3 lists, uploads and downloads objects on any S3-compatible store
// through minio-go.
package s3

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/bturcanu/opentoolbox/pkg/connectors"
	"github.com/bturcanu/opentoolbox/pkg/transport"
)

const DefaultEndpoint = "s3.amazonaws.com"

// objectStore is the subset of *minio.Client the operations use.
type objectStore interface {
	ListBuckets(ctx context.Context) ([]minio.BucketInfo, error)
	ListObjects(ctx context.Context, bucket string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
	FPutObject(ctx context.Context, bucket, object, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	StatObject(ctx context.Context, bucket, object string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	FGetObject(ctx context.Context, bucket, object, filePath string, opts minio.GetObjectOptions) error
}

type Config struct {
	Endpoint     string // host[:port], no scheme
	AccessKey    string
	SecretKey    string
	SessionToken string
	Region       string
	Secure       bool
}

type Connector struct {
	store objectStore
}

func New(cfg Config) (*Connector, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, cfg.SessionToken),
		Secure: cfg.Secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("s3.New: %w", err)
	}
	return &Connector{store: client}, nil
}

func (c *Connector) Name() string { return "s3" }

func (c *Connector) Operations() []connectors.Operation {
	return []connectors.Operation{
		connectors.ListOp(connectors.Operation{
			Name:        "s3_list_buckets",
			Description: "List buckets visible to the configured credentials.",
			ReadOnly:    true,
		}, c.listBuckets),
		connectors.ListOp(connectors.Operation{
			Name:        "s3_list_objects",
			Description: "List objects in a bucket, optionally under a prefix.",
			ReadOnly:    true,
			Params: []connectors.Param{
				{Name: "bucket", Type: connectors.TypeString, Required: true},
				{Name: "prefix", Type: connectors.TypeString},
				{Name: "max_keys", Type: connectors.TypeInteger, Range: &connectors.Range{Min: 1, Max: 1000}, Default: 100},
			},
		}, c.listObjects),
		connectors.SentinelOp(connectors.Operation{
			Name:        "s3_upload_file",
			Description: "Upload a local file to a bucket.",
			Action:      "uploading file",
			Params: []connectors.Param{
				{Name: "bucket", Type: connectors.TypeString, Required: true},
				{Name: "key", Type: connectors.TypeString, Required: true},
				{Name: "local_path", Type: connectors.TypeString, Required: true},
				{Name: "content_type", Type: connectors.TypeString},
			},
		}, c.uploadFile),
		connectors.SentinelOp(connectors.Operation{
			Name:        "s3_download_file",
			Description: "Download an object to a local path.",
			Action:      "downloading file",
			Params: []connectors.Param{
				{Name: "bucket", Type: connectors.TypeString, Required: true},
				{Name: "key", Type: connectors.TypeString, Required: true},
				{Name: "local_path", Type: connectors.TypeString, Required: true},
			},
		}, c.downloadFile),
	}
}

type Bucket struct {
	Name         string `json:"name"`
	CreationDate string `json:"creation_date"`
}

func (c *Connector) listBuckets(ctx context.Context, _ struct{}) ([]Bucket, error) {
	buckets, err := c.store.ListBuckets(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Bucket, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, Bucket{Name: b.Name, CreationDate: formatTime(b.CreationDate)})
	}
	return out, nil
}

type Object struct {
	Key          string `json:"key"`
	Size         int64  `json:"size"`
	LastModified string `json:"last_modified"`
	ETag         string `json:"etag"`
	StorageClass string `json:"storage_class"`
}

type listObjectsParams struct {
	Bucket  string `json:"bucket"`
	Prefix  string `json:"prefix"`
	MaxKeys int    `json:"max_keys"`
}

func (c *Connector) listObjects(ctx context.Context, p listObjectsParams) ([]Object, error) {
	limit := transport.ClampDefault(p.MaxKeys, 100, 1, 1000)

	// Cancelling stops the lister goroutine once the limit is reached.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	out := []Object{}
	for info := range c.store.ListObjects(ctx, p.Bucket, minio.ListObjectsOptions{
		Prefix:    p.Prefix,
		Recursive: true,
		MaxKeys:   limit,
	}) {
		if info.Err != nil {
			return nil, info.Err
		}
		out = append(out, Object{
			Key:          info.Key,
			Size:         info.Size,
			LastModified: formatTime(info.LastModified),
			ETag:         info.ETag,
			StorageClass: info.StorageClass,
		})
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

type uploadParams struct {
	Bucket      string `json:"bucket"`
	Key         string `json:"key"`
	LocalPath   string `json:"local_path"`
	ContentType string `json:"content_type"`
}

type Upload struct {
	Bucket      string `json:"bucket"`
	Key         string `json:"key"`
	Size        int64  `json:"size"`
	ETag        string `json:"etag"`
	ContentType string `json:"content_type"`
	VersionID   string `json:"version_id"`
}

func (c *Connector) uploadFile(ctx context.Context, p uploadParams) (Upload, error) {
	if err := requireFile(p.LocalPath); err != nil {
		return Upload{}, err
	}
	opts := minio.PutObjectOptions{ContentType: p.ContentType}
	if _, err := c.store.FPutObject(ctx, p.Bucket, p.Key, p.LocalPath, opts); err != nil {
		return Upload{}, err
	}
	info, err := c.store.StatObject(ctx, p.Bucket, p.Key, minio.StatObjectOptions{})
	if err != nil {
		return Upload{}, err
	}
	return Upload{
		Bucket:      p.Bucket,
		Key:         p.Key,
		Size:        info.Size,
		ETag:        info.ETag,
		ContentType: info.ContentType,
		VersionID:   info.VersionID,
	}, nil
}

type downloadParams struct {
	Bucket    string `json:"bucket"`
	Key       string `json:"key"`
	LocalPath string `json:"local_path"`
}

type Download struct {
	Bucket    string `json:"bucket"`
	Key       string `json:"key"`
	LocalPath string `json:"local_path"`
	Size      int64  `json:"size"`
}

func (c *Connector) downloadFile(ctx context.Context, p downloadParams) (Download, error) {
	if err := c.store.FGetObject(ctx, p.Bucket, p.Key, p.LocalPath, minio.GetObjectOptions{}); err != nil {
		return Download{}, err
	}
	out := Download{Bucket: p.Bucket, Key: p.Key, LocalPath: p.LocalPath}
	if fi, err := os.Stat(p.LocalPath); err == nil {
		out.Size = fi.Size()
	}
	return out, nil
}

func requireFile(path string) error {
	fi, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("file not found: %s", path)
	}
	if err != nil {
		return err
	}
	if fi.IsDir() {
		return fmt.Errorf("not a regular file: %s", path)
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
