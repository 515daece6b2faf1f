package datastore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"net"
	"net/http"
	"time"

	"github.com/guardian/kuberunner/common/errs"
	"github.com/guardian/kuberunner/common/models"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

const DefaultEndpoint = "s3.amazonaws.com"

// objectClient is the part of *minio.Client that the store uses.
type objectClient interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (*minio.Object, error)
}

type ObjectStore struct {
	loc    models.StoreLocation
	client objectClient
	logger *zap.Logger
}

func NewObjectStore(loc models.StoreLocation, client objectClient, logger *zap.Logger) *ObjectStore {
	return &ObjectStore{loc: loc, client: client, logger: logger}
}

/**
credentials are looked up the same way the aws tooling does it: environment first, then the shared
credentials file, then the instance/pod role. That way the same code works on a laptop and inside the job
*/
func NewMinIOClient(opts Options) (*minio.Client, error) {
	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}

	creds := credentials.NewChainCredentials([]credentials.Provider{
		&credentials.EnvAWS{},
		&credentials.FileAWSCredentials{},
		&credentials.IAM{Client: &http.Client{Transport: newTransport()}},
	})

	return minio.New(endpoint, &minio.Options{
		Creds:     creds,
		Secure:    !opts.Insecure,
		Region:    opts.Region,
		Transport: newTransport(),
	})
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

func (s *ObjectStore) Location() models.StoreLocation {
	return s.loc
}

func (s *ObjectStore) Put(ctx context.Context, name string, content []byte) error {
	key := s.loc.ObjectKey(name)
	info, putErr := s.client.PutObject(ctx, s.loc.Bucket, key, bytes.NewReader(content), int64(len(content)), minio.PutObjectOptions{
		ContentType: "application/cbor",
	})
	if putErr != nil {
		return errs.Transfer("put "+key, putErr)
	}
	s.logger.Debug("uploaded object", zap.String("bucket", info.Bucket), zap.String("key", info.Key), zap.Int64("bytes", info.Size))
	return nil
}

func (s *ObjectStore) Get(ctx context.Context, name string) ([]byte, error) {
	key := s.loc.ObjectKey(name)
	obj, getErr := s.client.GetObject(ctx, s.loc.Bucket, key, minio.GetObjectOptions{})
	if getErr != nil {
		return nil, classifyObjectError("get "+key, getErr)
	}
	defer obj.Close()

	//GetObject is lazy, a missing key only shows up once we start reading
	content, readErr := ioutil.ReadAll(obj)
	if readErr != nil {
		return nil, classifyObjectError("get "+key, readErr)
	}
	s.logger.Debug("downloaded object", zap.String("bucket", s.loc.Bucket), zap.String("key", key), zap.Int("bytes", len(content)))
	return content, nil
}

/**
maps a failed read. A missing key (or bucket) means the object isn't there; a failed write is always a
TransferError and never comes through here
*/
func classifyObjectError(op string, err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey":
		return errs.NotFound(op, err)
	case "NoSuchBucket":
		return errs.NotFound(op, fmt.Errorf("bucket missing: %w", err))
	default:
		return errs.Transfer(op, err)
	}
}
