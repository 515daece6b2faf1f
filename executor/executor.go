/*
Package executor runs a registered function on a Kubernetes cluster and hands back its result.

A Run goes through the same stages every time: package the call into the data exchange store, render the
entry script, build and publish an image, submit a job, wait for it, then bring the result back.
*/
package executor

import (
	"context"
	"path"
	"sync"
	"time"

	"github.com/go-redis/redis/v7"
	"github.com/guardian/kuberunner/common/errs"
	"github.com/guardian/kuberunner/common/helpers"
	"github.com/guardian/kuberunner/common/logging"
	"github.com/guardian/kuberunner/common/models"
	"github.com/guardian/kuberunner/datastore"
	"github.com/guardian/kuberunner/jobrunner"
	"github.com/guardian/kuberunner/packager"
	"github.com/guardian/kuberunner/publisher"
	"github.com/guardian/kuberunner/scriptgen"
	"go.uber.org/zap"
	corev1 "k8s.io/client-go/kubernetes/typed/core/v1"
)

type Executor struct {
	conf     *helpers.Config
	registry *packager.Registry
	logger   *zap.Logger

	mutex     sync.Mutex
	store     datastore.Store
	engine    publisher.ImageEngine
	loader    publisher.ClusterImageLoader
	exchanger publisher.TokenExchanger
	jobClient jobrunner.JobClient
	podClient corev1.PodInterface
	redis     redis.Cmdable
	redisDone bool
}

type Option func(e *Executor)

func WithRegistry(r *packager.Registry) Option              { return func(e *Executor) { e.registry = r } }
func WithLogger(l *zap.Logger) Option                       { return func(e *Executor) { e.logger = l } }
func WithStore(s datastore.Store) Option                    { return func(e *Executor) { e.store = s } }
func WithImageEngine(en publisher.ImageEngine) Option       { return func(e *Executor) { e.engine = en } }
func WithImageLoader(l publisher.ClusterImageLoader) Option { return func(e *Executor) { e.loader = l } }
func WithTokenExchanger(x publisher.TokenExchanger) Option  { return func(e *Executor) { e.exchanger = x } }
func WithJobClient(c jobrunner.JobClient) Option            { return func(e *Executor) { e.jobClient = c } }
func WithPodClient(c corev1.PodInterface) Option            { return func(e *Executor) { e.podClient = c } }

func WithRedis(r redis.Cmdable) Option {
	return func(e *Executor) {
		e.redis = r
		e.redisDone = true
	}
}

/**
creates an executor for a validated config. Anything not supplied through an Option is built from the config
the first time it is needed, after the kube context has been checked
*/
func New(conf *helpers.Config, opts ...Option) *Executor {
	e := &Executor{conf: conf}
	for _, opt := range opts {
		opt(e)
	}
	if e.registry == nil {
		e.registry = packager.DefaultRegistry()
	}
	e.logger = logging.OrNop(e.logger)
	return e
}

func (e *Executor) setup() error {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if e.store == nil {
		store, storeErr := datastore.Open(e.conf.Store, datastore.Options{
			Endpoint: e.conf.StoreEndpoint,
			Region:   e.conf.StoreRegion,
			Insecure: e.conf.StoreInsecure,
			Logger:   e.logger,
		})
		if storeErr != nil {
			return storeErr
		}
		e.store = store
	}

	if e.engine == nil {
		engine, engineErr := publisher.NewDockerEngine(e.logger)
		if engineErr != nil {
			return errs.Publish("connect to image engine", engineErr)
		}
		e.engine = engine
	}
	if e.loader == nil && e.conf.RegistryMode.Kind == models.REGISTRY_LOCAL {
		e.loader = publisher.NewCommandLoader(e.conf.LoaderCommand, e.logger)
	}

	if e.jobClient == nil || (e.podClient == nil && e.conf.CollectLogs) {
		clientset, clientErr := jobrunner.ContextClient(e.conf.KubeConfig, e.conf.KubeContext)
		if clientErr != nil {
			return clientErr
		}
		if e.jobClient == nil {
			e.jobClient = clientset.BatchV1().Jobs(e.conf.Namespace)
		}
		if e.podClient == nil {
			e.podClient = clientset.CoreV1().Pods(e.conf.Namespace)
		}
	}

	if !e.redisDone {
		e.redisDone = true
		client, redisErr := e.conf.RedisClient()
		if redisErr != nil {
			e.logger.Warn("run records are disabled, redis is not reachable", zap.Error(redisErr))
		} else if client != nil {
			e.redis = client
		}
	}
	return nil
}

func (e *Executor) saveRecord(rec *models.RunRecord) {
	if e.redis == nil {
		return
	}
	if err := rec.Store(e.redis); err != nil {
		e.logger.Warn("could not save run record", zap.String("runId", rec.RunId), zap.Error(err))
	}
}

func (e *Executor) fail(rec *models.RunRecord, err error) error {
	now := time.Now()
	rec.State = models.RUN_FAILED
	rec.ErrorMessage = err.Error()
	rec.EndTime = &now
	e.saveRecord(rec)
	return err
}

/**
runs fn(captured..., args..., kwargs) on the cluster and waits for the result.

Waiting has no time limit of its own. Cancelling ctx abandons the wait but leaves the job running, and
nothing that was created (payload, image, job) is ever cleaned up. If the function itself returned an error
or panicked, the error is an *errs.RemoteError and the Result is still returned so that any collected logs
can be inspected
*/
func (e *Executor) Run(ctx context.Context, fn packager.Closure, args []interface{}, kwargs map[string]interface{}) (*Result, error) {
	runId := models.NewRunID()
	runLog := e.logger.With(zap.String("runId", runId.String()), zap.String("function", fn.Name))

	if _, ctxErr := jobrunner.ValidateContext(e.conf.KubeConfig, e.conf.KubeContext); ctxErr != nil {
		runLog.Error("kube context is not usable", zap.Error(ctxErr))
		return nil, ctxErr
	}
	cache, cacheErr := datastore.NewCache(e.conf.CacheDir)
	if cacheErr != nil {
		runLog.Error("could not prepare the local cache", zap.Error(cacheErr))
		return nil, cacheErr
	}
	if setupErr := e.setup(); setupErr != nil {
		runLog.Error("could not set up clients", zap.Error(setupErr))
		return nil, setupErr
	}

	record := &models.RunRecord{
		RunId:     runId.String(),
		Function:  fn.Name,
		State:     models.RUN_PACKAGING,
		Namespace: e.conf.Namespace,
		StartTime: time.Now(),
	}
	e.saveRecord(record)

	payloadName, pkgErr := packager.NewPackager(e.registry, cache, e.store, runLog).Package(ctx, runId, fn, args, kwargs)
	if pkgErr != nil {
		runLog.Error("could not package function", zap.Error(pkgErr))
		return nil, e.fail(record, pkgErr)
	}
	runLog.Info("packaged function", zap.String("payload", payloadName), zap.Stringer("store", e.conf.Store))

	script, scriptErr := scriptgen.ExecutionScript(scriptgen.ExecParams{
		RunId:         runId,
		RunnerPath:    path.Join(scriptgen.DefaultInstallDir, scriptgen.RunnerName),
		WorkDir:       scriptgen.DefaultWorkDir,
		PayloadName:   payloadName,
		ResultName:    runId.ResultName(),
		Store:         e.conf.Store,
		StoreEndpoint: e.conf.StoreEndpoint,
		StoreRegion:   e.conf.StoreRegion,
		StoreInsecure: e.conf.StoreInsecure,
	})
	if scriptErr != nil {
		runLog.Error("could not render entry script", zap.Error(scriptErr))
		return nil, e.fail(record, errs.Publish("render entry script", scriptErr))
	}

	pub, pubCreateErr := publisher.NewPublisher(cache, publisher.Options{
		BaseImage:       e.conf.BaseImage,
		WorkDir:         scriptgen.DefaultWorkDir,
		ImageRepo:       e.conf.ImageRepo,
		RunnerBinary:    e.conf.RunnerBinary,
		Mode:            e.conf.RegistryMode,
		CredentialsFile: e.conf.RegistryCredentials,
		Engine:          e.engine,
		Loader:          e.loader,
		Exchanger:       e.exchanger,
		Logger:          runLog,
	})
	if pubCreateErr != nil {
		runLog.Error("could not set up publisher", zap.Error(pubCreateErr))
		return nil, e.fail(record, pubCreateErr)
	}
	published, pubErr := pub.Publish(ctx, publisher.Request{RunId: runId, Script: script})
	if pubErr != nil {
		runLog.Error("could not publish image", zap.Error(pubErr))
		return nil, e.fail(record, pubErr)
	}
	record.ImageRef = published.Ref

	job, buildErr := jobrunner.BuildJob(jobrunner.JobParams{
		RunId:     runId,
		Namespace: e.conf.Namespace,
		Image:     published.Ref,
		SkipPull:  published.SkipPull,
		VCPU:      e.conf.VCPU,
		Memory:    e.conf.Memory,
		WorkDir:   scriptgen.DefaultWorkDir,
		Store:     e.conf.Store,
	})
	if buildErr != nil {
		runLog.Error("could not build job", zap.Error(buildErr))
		return nil, e.fail(record, buildErr)
	}
	if _, submitErr := jobrunner.SubmitJob(ctx, e.jobClient, job); submitErr != nil {
		runLog.Error("could not submit job", zap.String("job", job.Name), zap.Error(submitErr))
		return nil, e.fail(record, submitErr)
	}
	record.State = models.RUN_SUBMITTED
	record.JobName = job.Name
	e.saveRecord(record)
	runLog.Info("submitted job", zap.String("job", job.Name), zap.String("namespace", job.Namespace), zap.String("image", published.Ref))

	poller := jobrunner.NewPoller(e.jobClient, e.conf.PollInterval(), e.conf.FailOnJobFailure, runLog)
	if _, _, waitErr := poller.WaitForCompletion(ctx, job.Name); waitErr != nil {
		runLog.Error("stopped waiting for job", zap.String("job", job.Name), zap.Error(waitErr))
		return nil, e.fail(record, waitErr)
	}

	result := &Result{RunId: runId, ImageRef: published.Ref, JobName: job.Name}
	if e.conf.CollectLogs && e.podClient != nil {
		logs, logErr := jobrunner.CollectLogs(ctx, job.Name, e.podClient, runLog)
		if logErr != nil {
			runLog.Warn("could not collect job logs", zap.Error(logErr))
		} else {
			result.Logs = logs
		}
	}

	env, retrieveErr := NewRetriever(e.store, cache, runLog).Retrieve(ctx, runId)
	if retrieveErr != nil {
		runLog.Error("could not retrieve result", zap.Error(retrieveErr))
		return nil, e.fail(record, retrieveErr)
	}
	result.envelope = env

	if remoteErr := env.Err(); remoteErr != nil {
		runLog.Warn("remote function failed", zap.String("error", env.Error))
		return result, e.fail(record, remoteErr)
	}

	now := time.Now()
	record.State = models.RUN_SUCCEEDED
	record.EndTime = &now
	e.saveRecord(record)
	runLog.Info("run completed")
	return result, nil
}
