/*
Package packager turns a registered function call into a portable payload and back.

Go cannot ship code, so functions are identified by the name they were registered under; the binary
that runs inside the job container is the same binary that submitted the call, so both sides share the
registry. Closures are expressed with Bind, which carries the captured values along in the payload.
*/
package packager

import (
	"context"

	"github.com/guardian/kuberunner/common/logging"
	"github.com/guardian/kuberunner/common/models"
	"github.com/guardian/kuberunner/datastore"
	"go.uber.org/zap"
)

type Packager struct {
	registry *Registry
	cache    *datastore.Cache
	store    datastore.Store
	logger   *zap.Logger
}

func NewPackager(registry *Registry, cache *datastore.Cache, store datastore.Store, logger *zap.Logger) *Packager {
	if registry == nil {
		registry = defaultRegistry
	}
	return &Packager{registry: registry, cache: cache, store: store, logger: logging.OrNop(logger)}
}

func (p *Packager) Registry() *Registry {
	return p.registry
}

/**
serializes the call, stages it in the local cache and then transfers it to the data exchange store under
the run's payload name. Returns that name.
*/
func (p *Packager) Package(ctx context.Context, runId models.RunID, fn Closure, args []interface{}, kwargs map[string]interface{}) (string, error) {
	payload, buildErr := BuildPayload(p.registry, fn, args, kwargs)
	if buildErr != nil {
		return "", buildErr
	}
	content, encErr := EncodePayload(payload)
	if encErr != nil {
		return "", encErr
	}

	name := runId.PayloadName()
	if _, cacheErr := p.cache.Write(name, content); cacheErr != nil {
		return "", cacheErr
	}
	defer func() {
		if rmErr := p.cache.Delete(name); rmErr != nil {
			p.logger.Warn("could not remove staged payload", zap.String("name", name), zap.Error(rmErr))
		}
	}()

	staged, readErr := p.cache.Read(name)
	if readErr != nil {
		return "", readErr
	}
	if putErr := p.store.Put(ctx, name, staged); putErr != nil {
		return "", putErr
	}

	p.logger.Debug("packaged function",
		zap.String("runId", runId.String()),
		zap.String("function", fn.Name),
		zap.Int("captured", len(fn.Captured)),
		zap.Int("args", len(args)),
		zap.Int("kwargs", len(kwargs)),
		zap.Int("bytes", len(staged)),
	)
	return name, nil
}
