package datastore

import (
	"context"
	"errors"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/guardian/kuberunner/common/errs"
	"github.com/guardian/kuberunner/common/models"
	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func sharedStore(t *testing.T) (*SharedPathStore, string) {
	root := t.TempDir()
	loc, err := models.ParseStoreLocation(root)
	require.NoError(t, err)
	store, openErr := Open(loc, Options{})
	require.NoError(t, openErr)
	return store.(*SharedPathStore), root
}

func TestSharedPathStore_putGet(t *testing.T) {
	store, root := sharedStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "func-abc.cbor", []byte("payload bytes")))

	onDisk, readErr := ioutil.ReadFile(filepath.Join(root, "func-abc.cbor"))
	require.NoError(t, readErr)
	assert.Equal(t, "payload bytes", string(onDisk))

	got, getErr := store.Get(ctx, "func-abc.cbor")
	require.NoError(t, getErr)
	assert.Equal(t, "payload bytes", string(got))

	leftovers, _ := filepath.Glob(filepath.Join(root, ".upload-*"))
	assert.Empty(t, leftovers, "temporary upload files should not be left behind")
}

func TestSharedPathStore_missing(t *testing.T) {
	store, _ := sharedStore(t)

	_, err := store.Get(context.Background(), "result-nothere.cbor")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrNotFound), "expected not found, got %s", err)
}

func TestSharedPathStore_unwritableRoot(t *testing.T) {
	loc, _ := models.ParseStoreLocation(filepath.Join(t.TempDir(), "does", "not", "exist"))
	store, err := NewSharedPathStore(loc, zap.NewNop())
	require.NoError(t, err)

	putErr := store.Put(context.Background(), "func-abc.cbor", []byte("x"))
	require.Error(t, putErr)
	assert.True(t, errors.Is(putErr, errs.ErrTransfer))
}

func TestCache(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "cache")
	cache, err := NewCache(dir)
	require.NoError(t, err)

	path, writeErr := cache.Write("result-1.cbor", []byte{1, 2, 3})
	require.NoError(t, writeErr)
	assert.Equal(t, filepath.Join(dir, "result-1.cbor"), path)
	assert.True(t, cache.Exists("result-1.cbor"))

	content, readErr := cache.Read("result-1.cbor")
	require.NoError(t, readErr)
	assert.Equal(t, []byte{1, 2, 3}, content)

	require.NoError(t, cache.Delete("result-1.cbor"))
	assert.False(t, cache.Exists("result-1.cbor"))
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))

	//deleting twice is fine
	assert.NoError(t, cache.Delete("result-1.cbor"))

	_, missingErr := cache.Read("result-1.cbor")
	assert.True(t, errors.Is(missingErr, errs.ErrNotFound))
}

type objectClientMock struct {
	PutCalledWith []string
	PutContent    []byte
	PutErr        error
	GetErr        error
}

func (m *objectClientMock) PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	m.PutCalledWith = []string{bucketName, objectName}
	if m.PutErr != nil {
		return minio.UploadInfo{}, m.PutErr
	}
	m.PutContent, _ = ioutil.ReadAll(reader)
	return minio.UploadInfo{Bucket: bucketName, Key: objectName, Size: objectSize}, nil
}

func (m *objectClientMock) GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (*minio.Object, error) {
	return nil, m.GetErr
}

func TestObjectStore_put(t *testing.T) {
	loc, _ := models.ParseStoreLocation("s3://exchange/runs")
	mock := &objectClientMock{}
	store := NewObjectStore(loc, mock, zap.NewNop())

	require.NoError(t, store.Put(context.Background(), "func-abc.cbor", []byte("hello")))
	assert.Equal(t, []string{"exchange", "runs/func-abc.cbor"}, mock.PutCalledWith)
	assert.Equal(t, "hello", string(mock.PutContent))
}

func TestObjectStore_errors(t *testing.T) {
	loc, _ := models.ParseStoreLocation("s3://exchange")

	failingPut := &objectClientMock{PutErr: errors.New("connection reset")}
	putErr := NewObjectStore(loc, failingPut, zap.NewNop()).Put(context.Background(), "func-abc.cbor", []byte("x"))
	assert.True(t, errors.Is(putErr, errs.ErrTransfer), "expected transfer error, got %s", putErr)

	noBucketPut := &objectClientMock{PutErr: minio.ErrorResponse{Code: "NoSuchBucket", Message: "The specified bucket does not exist"}}
	noBucketErr := NewObjectStore(loc, noBucketPut, zap.NewNop()).Put(context.Background(), "func-abc.cbor", []byte("x"))
	assert.True(t, errors.Is(noBucketErr, errs.ErrTransfer), "a failed upload should be a transfer error, got %s", noBucketErr)
	assert.False(t, errors.Is(noBucketErr, errs.ErrNotFound))

	missing := &objectClientMock{GetErr: minio.ErrorResponse{Code: "NoSuchKey", Message: "The specified key does not exist."}}
	_, getErr := NewObjectStore(loc, missing, zap.NewNop()).Get(context.Background(), "result-abc.cbor")
	assert.True(t, errors.Is(getErr, errs.ErrNotFound), "expected not found, got %s", getErr)

	denied := &objectClientMock{GetErr: minio.ErrorResponse{Code: "AccessDenied"}}
	_, deniedErr := NewObjectStore(loc, denied, zap.NewNop()).Get(context.Background(), "result-abc.cbor")
	assert.True(t, errors.Is(deniedErr, errs.ErrTransfer), "expected transfer error, got %s", deniedErr)
}
