package s3

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bturcanu/opentoolbox/pkg/connectors/connectortest"
)

// fakeStore keeps objects in memory, keyed by bucket then object key.
type fakeStore struct {
	buckets map[string]map[string][]byte
	err     error
	puts    []minio.PutObjectOptions
}

func newFakeStore() *fakeStore {
	return &fakeStore{buckets: map[string]map[string][]byte{}}
}

func (f *fakeStore) ListBuckets(context.Context) ([]minio.BucketInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []minio.BucketInfo
	for name := range f.buckets {
		out = append(out, minio.BucketInfo{Name: name, CreationDate: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)})
	}
	return out, nil
}

func (f *fakeStore) ListObjects(ctx context.Context, bucket string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo {
	ch := make(chan minio.ObjectInfo)
	go func() {
		defer close(ch)
		objects, ok := f.buckets[bucket]
		if !ok {
			ch <- minio.ObjectInfo{Err: errors.New("The specified bucket does not exist.")}
			return
		}
		for _, key := range sortedKeys(objects) {
			if !strings.HasPrefix(key, opts.Prefix) {
				continue
			}
			select {
			case ch <- minio.ObjectInfo{Key: key, Size: int64(len(objects[key])), ETag: "etag-" + key}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

func (f *fakeStore) FPutObject(_ context.Context, bucket, object, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if f.err != nil {
		return minio.UploadInfo{}, f.err
	}
	b, err := os.ReadFile(filePath)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	if f.buckets[bucket] == nil {
		f.buckets[bucket] = map[string][]byte{}
	}
	f.buckets[bucket][object] = b
	f.puts = append(f.puts, opts)
	return minio.UploadInfo{Bucket: bucket, Key: object, Size: int64(len(b))}, nil
}

func (f *fakeStore) StatObject(_ context.Context, bucket, object string, _ minio.StatObjectOptions) (minio.ObjectInfo, error) {
	b, ok := f.buckets[bucket][object]
	if !ok {
		return minio.ObjectInfo{}, errors.New("The specified key does not exist.")
	}
	return minio.ObjectInfo{Key: object, Size: int64(len(b)), ETag: "etag-" + object, ContentType: "text/plain"}, nil
}

func (f *fakeStore) FGetObject(_ context.Context, bucket, object, filePath string, _ minio.GetObjectOptions) error {
	b, ok := f.buckets[bucket][object]
	if !ok {
		return errors.New("The specified key does not exist.")
	}
	return os.WriteFile(filePath, b, 0o600)
}

func sortedKeys(m map[string][]byte) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func TestContract(t *testing.T) {
	store := newFakeStore()
	store.err = errors.New("connection refused")
	connectortest.RunOperationContract(t, &Connector{store: store})
}

func TestNew(t *testing.T) {
	c, err := New(Config{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "b"})
	require.NoError(t, err)
	assert.Equal(t, "s3", c.Name())
}

func TestListBuckets(t *testing.T) {
	store := newFakeStore()
	store.buckets["logs"] = map[string][]byte{}
	res := connectortest.Invoke(t, &Connector{store: store}, "s3_list_buckets", nil)
	require.True(t, res.OK(), res.Error)
	assert.Equal(t, []Bucket{{Name: "logs", CreationDate: "2024-01-02T03:04:05Z"}}, res.Output)
}

func TestListObjects_ClampsAndStopsAtLimit(t *testing.T) {
	store := newFakeStore()
	store.buckets["b"] = map[string][]byte{}
	for _, k := range []string{"a/1", "a/2", "a/3", "b/1"} {
		store.buckets["b"][k] = []byte("x")
	}
	c := &Connector{store: store}

	res := connectortest.Invoke(t, c, "s3_list_objects", map[string]any{"bucket": "b", "prefix": "a/", "max_keys": -4})
	require.True(t, res.OK(), res.Error)
	assert.Equal(t, []Object{{Key: "a/1", Size: 1, ETag: "etag-a/1"}}, res.Output)

	res = connectortest.Invoke(t, c, "s3_list_objects", map[string]any{"bucket": "b", "max_keys": 5000})
	require.True(t, res.OK(), res.Error)
	assert.Len(t, res.Output, 4)
}

func TestListObjects_MissingBucket(t *testing.T) {
	res := connectortest.Invoke(t, &Connector{store: newFakeStore()}, "s3_list_objects", map[string]any{"bucket": "nope"})
	assert.False(t, res.OK())
	assert.Equal(t, "The specified bucket does not exist.", res.Error)
	assert.Equal(t, []Object{}, res.Output)
}

func TestUploadThenDownload(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "report.txt")
	require.NoError(t, os.WriteFile(src, []byte("hello"), 0o600))

	store := newFakeStore()
	c := &Connector{store: store}

	res := connectortest.Invoke(t, c, "s3_upload_file", map[string]any{"bucket": "b", "key": "r.txt", "local_path": src, "content_type": "text/plain"})
	require.True(t, res.OK(), res.Error)
	assert.Equal(t, Upload{Bucket: "b", Key: "r.txt", Size: 5, ETag: "etag-r.txt", ContentType: "text/plain"}, res.Output)
	require.Len(t, store.puts, 1)
	assert.Equal(t, "text/plain", store.puts[0].ContentType)

	dst := filepath.Join(dir, "copy.txt")
	res = connectortest.Invoke(t, c, "s3_download_file", map[string]any{"bucket": "b", "key": "r.txt", "local_path": dst})
	require.True(t, res.OK(), res.Error)
	assert.Equal(t, Download{Bucket: "b", Key: "r.txt", LocalPath: dst, Size: 5}, res.Output)
	b, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(b))
}

func TestUpload_MissingLocalFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.bin")
	res := connectortest.Invoke(t, &Connector{store: newFakeStore()}, "s3_upload_file", map[string]any{"bucket": "b", "key": "k", "local_path": missing})
	assert.Equal(t, "Error uploading file: file not found: "+missing, res.Output)
}

func TestDownload_MissingKey(t *testing.T) {
	res := connectortest.Invoke(t, &Connector{store: newFakeStore()}, "s3_download_file", map[string]any{"bucket": "b", "key": "k", "local_path": filepath.Join(t.TempDir(), "x")})
	assert.Equal(t, "Error downloading file: The specified key does not exist.", res.Output)
}
