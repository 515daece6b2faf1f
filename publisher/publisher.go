/*
Package publisher builds the per-run task image and makes it available to the cluster, either by pushing it
to a registry or by loading it directly into a local cluster.
*/
package publisher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/guardian/kuberunner/common/errs"
	"github.com/guardian/kuberunner/common/logging"
	"github.com/guardian/kuberunner/common/models"
	"github.com/guardian/kuberunner/datastore"
	"github.com/guardian/kuberunner/scriptgen"
	"go.uber.org/zap"
)

type Request struct {
	RunId  models.RunID
	Script string //rendered entry script
}

type Published struct {
	Ref      string
	SkipPull bool //image was loaded straight into the cluster, so the job must not try to pull it
}

type Options struct {
	BaseImage       string
	WorkDir         string
	ImageRepo       string
	RunnerBinary    string
	Mode            models.RegistryMode
	CredentialsFile string

	Engine          ImageEngine
	Loader          ClusterImageLoader
	Exchanger       TokenExchanger
	LoadCredentials CredentialsLoader
	Logger          *zap.Logger
}

type Publisher struct {
	cache *datastore.Cache
	opts  Options
	log   *zap.Logger
}

func NewPublisher(cache *datastore.Cache, opts Options) (*Publisher, error) {
	if opts.Engine == nil {
		return nil, errs.Configuration("create publisher", errors.New("no image engine"))
	}
	if opts.ImageRepo == "" || opts.BaseImage == "" || opts.RunnerBinary == "" {
		return nil, errs.Configuration("create publisher", errors.New("image repo, base image and runner binary are required"))
	}
	logger := logging.OrNop(opts.Logger)
	if opts.Mode.Kind == models.REGISTRY_LOCAL && opts.Loader == nil {
		return nil, errs.Configuration("create publisher", errors.New("a local registry needs a cluster image loader"))
	}
	if opts.Mode.Kind == models.REGISTRY_LOCAL && opts.CredentialsFile != "" {
		logger.Warn("registry credentials file is ignored for a local registry", zap.String("file", opts.CredentialsFile))
	}
	if opts.Exchanger == nil {
		opts.Exchanger = NewECRExchanger(opts.CredentialsFile, logger)
	}
	if opts.LoadCredentials == nil {
		opts.LoadCredentials = LoadCredentialsFile
	}
	if opts.WorkDir == "" {
		opts.WorkDir = scriptgen.DefaultWorkDir
	}
	return &Publisher{cache: cache, opts: opts, log: logger}, nil
}

/**
build, tag and publish the task image for a run. Every failure comes back as a PublishError
*/
func (p *Publisher) Publish(ctx context.Context, req Request) (*Published, error) {
	tag := req.RunId.ImageTag()
	localRef := p.opts.ImageRepo + ":" + tag
	runLog := p.log.With(zap.String("runId", req.RunId.String()))

	if buildErr := p.build(ctx, req, localRef); buildErr != nil {
		return nil, errs.Publish("build image", buildErr)
	}
	runLog.Info("built task image", zap.String("image", localRef))

	ref, auth, resolveErr := p.resolve(ctx, tag)
	if resolveErr != nil {
		return nil, errs.Publish("registry login", resolveErr)
	}

	if ref != localRef {
		if tagErr := p.opts.Engine.Tag(ctx, localRef, ref); tagErr != nil {
			return nil, errs.Publish("tag image", tagErr)
		}
	}

	if p.opts.Mode.Kind == models.REGISTRY_LOCAL {
		if loadErr := p.opts.Loader.Load(ctx, ref); loadErr != nil {
			return nil, errs.Publish("load image into cluster", loadErr)
		}
		runLog.Info("loaded image into local cluster", zap.String("image", ref))
		return &Published{Ref: ref, SkipPull: true}, nil
	}

	if pushErr := p.opts.Engine.Push(ctx, ref, auth); pushErr != nil {
		return nil, errs.Publish("push image", pushErr)
	}
	runLog.Info("pushed image", zap.String("image", ref), zap.Stringer("registry", p.opts.Mode.Kind))
	return &Published{Ref: ref, SkipPull: false}, nil
}

/**
works out the final image reference for the configured registry and logs in where needed
*/
func (p *Publisher) resolve(ctx context.Context, tag string) (string, *RegistryAuth, error) {
	mode := p.opts.Mode
	switch mode.Kind {
	case models.REGISTRY_MANAGED:
		token, exchangeErr := p.opts.Exchanger.Exchange(ctx, mode)
		if exchangeErr != nil {
			return "", nil, exchangeErr
		}
		auth := &RegistryAuth{Username: token.Username, Password: token.Password, ServerAddress: token.Endpoint}
		if loginErr := p.opts.Engine.Login(ctx, *auth); loginErr != nil {
			return "", nil, loginErr
		}
		endpoint := models.RegistryMode{Kind: models.REGISTRY_MANAGED, Host: token.Endpoint}
		return endpoint.Qualify(p.opts.ImageRepo, tag), auth, nil

	case models.REGISTRY_GENERIC:
		if p.opts.CredentialsFile == "" {
			p.log.Debug("no registry credentials configured, pushing anonymously", zap.String("registry", mode.Host))
			return mode.Qualify(p.opts.ImageRepo, tag), nil, nil
		}
		creds, loadErr := p.opts.LoadCredentials(p.opts.CredentialsFile)
		if loadErr != nil {
			return "", nil, loadErr
		}
		auth := &RegistryAuth{Username: creds.Username, Password: creds.Password, ServerAddress: mode.Host}
		if loginErr := p.opts.Engine.Login(ctx, *auth); loginErr != nil {
			return "", nil, loginErr
		}
		return mode.Qualify(p.opts.ImageRepo, tag), auth, nil

	default:
		return mode.Qualify(p.opts.ImageRepo, tag), nil, nil
	}
}

/**
lays out the build context under the cache dir, hands it to the engine and removes it afterwards
*/
func (p *Publisher) build(ctx context.Context, req Request, tag string) error {
	buildDir := p.cache.Path(req.RunId.BuildDirName())
	if mkErr := os.MkdirAll(buildDir, 0755); mkErr != nil {
		return mkErr
	}
	defer func() {
		if rmErr := os.RemoveAll(buildDir); rmErr != nil {
			p.log.Warn("could not remove build directory", zap.String("path", buildDir), zap.Error(rmErr))
		}
	}()

	spec := scriptgen.TaskBuildSpec(p.opts.BaseImage, p.opts.WorkDir, p.opts.RunnerBinary, req.Script)
	dockerfile, renderErr := scriptgen.Dockerfile(spec)
	if renderErr != nil {
		return renderErr
	}

	for _, f := range spec.Files {
		if writeErr := stageFile(buildDir, f); writeErr != nil {
			return writeErr
		}
	}
	if writeErr := ioutil.WriteFile(filepath.Join(buildDir, "Dockerfile"), []byte(dockerfile), 0644); writeErr != nil {
		return writeErr
	}

	return p.opts.Engine.Build(ctx, buildDir, tag)
}

func stageFile(buildDir string, f scriptgen.BuildFile) error {
	target := filepath.Join(buildDir, f.Name)
	mode := os.FileMode(f.Mode)
	if mode == 0 {
		mode = 0644
	}

	if f.Source == "" {
		if err := ioutil.WriteFile(target, f.Content, mode); err != nil {
			return err
		}
		return os.Chmod(target, mode)
	}

	src, openErr := os.Open(f.Source)
	if openErr != nil {
		return fmt.Errorf("could not open %s for the build context: %w", f.Source, openErr)
	}
	defer src.Close()

	dst, createErr := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if createErr != nil {
		return createErr
	}
	if _, copyErr := io.Copy(dst, src); copyErr != nil {
		dst.Close()
		return copyErr
	}
	if closeErr := dst.Close(); closeErr != nil {
		return closeErr
	}
	return os.Chmod(target, mode)
}
