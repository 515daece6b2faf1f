package executor

import (
	"context"

	"github.com/guardian/kuberunner/common/logging"
	"github.com/guardian/kuberunner/common/models"
	"github.com/guardian/kuberunner/datastore"
	"github.com/guardian/kuberunner/packager"
	"go.uber.org/zap"
)

/**
Retriever brings a run's result back from the store via the local cache
*/
type Retriever struct {
	store  datastore.Store
	cache  *datastore.Cache
	logger *zap.Logger
}

func NewRetriever(store datastore.Store, cache *datastore.Cache, logger *zap.Logger) *Retriever {
	return &Retriever{store: store, cache: cache, logger: logging.OrNop(logger)}
}

/**
fetches and decodes the result envelope. the local copy is deleted again whatever happens to the decode;
a missing result is a NotFound error
*/
func (r *Retriever) Retrieve(ctx context.Context, runId models.RunID) (*packager.Envelope, error) {
	name := runId.ResultName()
	content, getErr := r.store.Get(ctx, name)
	if getErr != nil {
		return nil, getErr
	}

	if _, writeErr := r.cache.Write(name, content); writeErr != nil {
		return nil, writeErr
	}
	defer func() {
		if rmErr := r.cache.Delete(name); rmErr != nil {
			r.logger.Warn("could not remove cached result", zap.String("name", name), zap.Error(rmErr))
		}
	}()

	staged, readErr := r.cache.Read(name)
	if readErr != nil {
		return nil, readErr
	}
	return packager.DecodeEnvelope(staged)
}
