/*
Package wrapper is the program that runs inside the job container. It fetches the payload, runs the
function through the packager registry and leaves the result where the submitter will look for it.
*/
package wrapper

import (
	"context"
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/cenkalti/backoff/v4"
	"github.com/guardian/kuberunner/common/errs"
	"github.com/guardian/kuberunner/common/logging"
	"github.com/guardian/kuberunner/common/models"
	"github.com/guardian/kuberunner/datastore"
	"github.com/guardian/kuberunner/packager"
	"go.uber.org/zap"
)

type TaskParams struct {
	WorkDir       string
	PayloadName   string
	ResultName    string
	Store         string //network store location; empty when the store is mounted on WorkDir
	StoreEndpoint string
	StoreRegion   string
	StoreInsecure bool
	MaxRetries    int
}

type StoreOpener func(loc models.StoreLocation, opts datastore.Options) (datastore.Store, error)

type Runner struct {
	registry  *packager.Registry
	openStore StoreOpener
	logger    *zap.Logger
}

func NewRunner(registry *packager.Registry, openStore StoreOpener, logger *zap.Logger) *Runner {
	if registry == nil {
		registry = packager.DefaultRegistry()
	}
	if openStore == nil {
		openStore = datastore.Open
	}
	return &Runner{registry: registry, openStore: openStore, logger: logging.OrNop(logger)}
}

/**
runs one task. An error is returned only if the payload or result could not be moved or decoded; a function
that fails or panics is reported inside the result envelope and counts as success here
*/
func (r *Runner) Run(ctx context.Context, p TaskParams) error {
	if p.PayloadName == "" || p.ResultName == "" {
		return errs.Configuration("task", fmt.Errorf("payload and result names are required"))
	}
	payloadPath := filepath.Join(p.WorkDir, filepath.Base(p.PayloadName))
	resultPath := filepath.Join(p.WorkDir, filepath.Base(p.ResultName))

	store, storeErr := r.remoteStore(p)
	if storeErr != nil {
		return storeErr
	}

	if store != nil {
		if dlErr := r.download(ctx, store, p, payloadPath); dlErr != nil {
			return dlErr
		}
	}

	content, readErr := ioutil.ReadFile(payloadPath)
	if readErr != nil {
		r.logger.Error("could not read payload", zap.String("path", payloadPath), zap.Error(readErr))
		return errs.Transfer("read payload", readErr)
	}

	resultContent, env, execErr := packager.Execute(ctx, r.registry, content)
	if execErr != nil {
		r.logger.Error("could not execute payload", zap.Error(execErr))
		return execErr
	}
	if env.Failed {
		r.logger.Warn("function reported an error", zap.String("function", env.Function), zap.String("error", env.Error))
	} else {
		r.logger.Info("function completed", zap.String("function", env.Function))
	}

	if writeErr := ioutil.WriteFile(resultPath, resultContent, 0644); writeErr != nil {
		return errs.Transfer("write result", writeErr)
	}

	if store != nil {
		return r.withRetries(ctx, p.MaxRetries, "upload result", func() error {
			return store.Put(ctx, p.ResultName, resultContent)
		})
	}
	return nil
}

func (r *Runner) remoteStore(p TaskParams) (datastore.Store, error) {
	if p.Store == "" {
		return nil, nil
	}
	loc, parseErr := models.ParseStoreLocation(p.Store)
	if parseErr != nil {
		return nil, errs.Configuration("task store", parseErr)
	}
	if !loc.IsNetwork() {
		r.logger.Debug("store is a shared path, expecting it to be mounted", zap.String("store", p.Store))
		return nil, nil
	}
	return r.openStore(loc, datastore.Options{
		Endpoint: p.StoreEndpoint,
		Region:   p.StoreRegion,
		Insecure: p.StoreInsecure,
		Logger:   r.logger,
	})
}

func (r *Runner) download(ctx context.Context, store datastore.Store, p TaskParams, target string) error {
	var content []byte
	getErr := r.withRetries(ctx, p.MaxRetries, "download payload", func() error {
		var err error
		content, err = store.Get(ctx, p.PayloadName)
		return err
	})
	if getErr != nil {
		return getErr
	}
	if mkErr := os.MkdirAll(filepath.Dir(target), 0755); mkErr != nil {
		return errs.Transfer("download payload", mkErr)
	}
	if writeErr := ioutil.WriteFile(target, content, 0600); writeErr != nil {
		return errs.Transfer("download payload", writeErr)
	}
	return nil
}

/**
transfers are retried with exponential backoff up to maxRetries extra attempts. A NotFound is permanent
*/
func (r *Runner) withRetries(ctx context.Context, maxRetries int, op string, fn func() error) error {
	if maxRetries < 0 {
		maxRetries = 0
	}
	attempt := 0
	wrapped := func() error {
		attempt++
		err := fn()
		if err == nil {
			return nil
		}
		if errors.Is(err, errs.ErrNotFound) {
			return backoff.Permanent(err)
		}
		r.logger.Warn("transfer attempt failed", zap.String("op", op), zap.Int("attempt", attempt), zap.Error(err))
		return err
	}

	var policy backoff.BackOff = backoff.NewExponentialBackOff()
	policy = backoff.WithContext(backoff.WithMaxRetries(policy, uint64(maxRetries)), ctx)
	return backoff.Retry(wrapped, policy)
}
