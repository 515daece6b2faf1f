/*
Package datastore moves the serialized payload to the cluster and the serialized result back.

Two backends exist: an S3-compatible bucket and a shared filesystem path that is visible both to the
submitting process and (via a hostPath mount) to the job container. No retry happens at this layer.
*/
package datastore

import (
	"context"
	"fmt"

	"github.com/guardian/kuberunner/common/errs"
	"github.com/guardian/kuberunner/common/logging"
	"github.com/guardian/kuberunner/common/models"
	"go.uber.org/zap"
)

type Store interface {
	Put(ctx context.Context, name string, content []byte) error
	Get(ctx context.Context, name string) ([]byte, error)
	Location() models.StoreLocation
}

type Options struct {
	Endpoint string //object storage only, defaults to s3.amazonaws.com
	Region   string
	Insecure bool
	Logger   *zap.Logger
}

/**
opens the store for an already-resolved location
*/
func Open(loc models.StoreLocation, opts Options) (Store, error) {
	logger := logging.OrNop(opts.Logger)

	switch loc.Scheme {
	case models.STORE_SHARED_PATH:
		return NewSharedPathStore(loc, logger)
	case models.STORE_OBJECT_STORAGE:
		client, clientErr := NewMinIOClient(opts)
		if clientErr != nil {
			return nil, errs.Configuration("open object store", clientErr)
		}
		return NewObjectStore(loc, client, logger), nil
	default:
		return nil, errs.Configuration("open store", fmt.Errorf("unsupported store scheme %s", loc.Scheme))
	}
}
