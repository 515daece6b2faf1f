package datastore

import (
	"context"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/guardian/kuberunner/common/errs"
	"github.com/guardian/kuberunner/common/logging"
	"github.com/guardian/kuberunner/common/models"
	"go.uber.org/zap"
)

type SharedPathStore struct {
	loc    models.StoreLocation
	logger *zap.Logger
}

func NewSharedPathStore(loc models.StoreLocation, logger *zap.Logger) (*SharedPathStore, error) {
	if loc.Scheme != models.STORE_SHARED_PATH {
		return nil, errs.Configuration("open shared path store", fmt.Errorf("%s is not a shared path", loc))
	}
	return &SharedPathStore{loc: loc, logger: logging.OrNop(logger)}, nil
}

func (s *SharedPathStore) Location() models.StoreLocation {
	return s.loc
}

func (s *SharedPathStore) pathFor(name string) string {
	return filepath.Join(s.loc.Root, filepath.Base(name))
}

/**
writes to a temporary name first and renames, so the job never sees a half-written payload
*/
func (s *SharedPathStore) Put(ctx context.Context, name string, content []byte) error {
	target := s.pathFor(name)
	tmp, createErr := ioutil.TempFile(s.loc.Root, ".upload-*")
	if createErr != nil {
		return errs.Transfer("put "+name, createErr)
	}
	defer os.Remove(tmp.Name())

	if _, writeErr := tmp.Write(content); writeErr != nil {
		tmp.Close()
		return errs.Transfer("put "+name, writeErr)
	}
	if closeErr := tmp.Close(); closeErr != nil {
		return errs.Transfer("put "+name, closeErr)
	}
	//the job container does not necessarily run as our uid
	if chmodErr := os.Chmod(tmp.Name(), 0644); chmodErr != nil {
		return errs.Transfer("put "+name, chmodErr)
	}
	if renameErr := os.Rename(tmp.Name(), target); renameErr != nil {
		return errs.Transfer("put "+name, renameErr)
	}

	s.logger.Debug("stored object", zap.String("path", target), zap.Int("bytes", len(content)))
	return nil
}

func (s *SharedPathStore) Get(ctx context.Context, name string) ([]byte, error) {
	content, readErr := ioutil.ReadFile(s.pathFor(name))
	if readErr != nil {
		if os.IsNotExist(readErr) {
			return nil, errs.NotFound("get "+name, readErr)
		}
		return nil, errs.Transfer("get "+name, readErr)
	}
	return content, nil
}
