package executor

import (
	"context"
	"errors"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis"
	"github.com/go-redis/redis/v7"
	"github.com/guardian/kuberunner/common/errs"
	"github.com/guardian/kuberunner/common/helpers"
	"github.com/guardian/kuberunner/common/models"
	"github.com/guardian/kuberunner/datastore"
	"github.com/guardian/kuberunner/jobrunner"
	"github.com/guardian/kuberunner/packager"
	"github.com/guardian/kuberunner/publisher"
	"github.com/guardian/kuberunner/wrapper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	batchv1 "k8s.io/api/batch/v1"
)

const testKubeConfig = `apiVersion: v1
kind: Config
clusters:
- cluster:
    server: https://127.0.0.1:6443
  name: test-cluster
contexts:
- context:
    cluster: test-cluster
    user: test-user
  name: test
current-context: test
users:
- name: test-user
  user:
    token: abc123
`

type engineMock struct {
	builds int
	pushes int
}

func (e *engineMock) Build(ctx context.Context, contextDir string, tag string) error {
	e.builds++
	return nil
}
func (e *engineMock) Login(ctx context.Context, auth publisher.RegistryAuth) error { return nil }
func (e *engineMock) Tag(ctx context.Context, source string, target string) error  { return nil }
func (e *engineMock) Push(ctx context.Context, ref string, auth *publisher.RegistryAuth) error {
	e.pushes++
	return nil
}

type loaderMock struct {
	loaded []string
}

func (l *loaderMock) Load(ctx context.Context, ref string) error {
	l.loaded = append(l.loaded, ref)
	return nil
}

type fixture struct {
	conf      *helpers.Config
	storeRoot string
	registry  *packager.Registry
	engine    *engineMock
	loader    *loaderMock
	jobs      *jobrunner.JobClientMock
}

func testRegistry(t *testing.T) *packager.Registry {
	r := packager.NewRegistry()
	require.NoError(t, r.Register("add", func(a, b int) int { return a + b }))
	require.NoError(t, r.Register("divide", func(a, b int) (int, error) {
		if b == 0 {
			return 0, errors.New("division by zero")
		}
		return a / b, nil
	}))
	return r
}

func newFixture(t *testing.T, kubeContext string) *fixture {
	dir := t.TempDir()
	kubeConfig := filepath.Join(dir, "kubeconfig")
	require.NoError(t, ioutil.WriteFile(kubeConfig, []byte(testKubeConfig), 0600))
	runner := filepath.Join(dir, "kuberunner")
	require.NoError(t, ioutil.WriteFile(runner, []byte("binary"), 0755))
	storeRoot := filepath.Join(dir, "exchange")
	require.NoError(t, os.MkdirAll(storeRoot, 0755))

	conf := &helpers.Config{
		KubeConfig:   kubeConfig,
		KubeContext:  kubeContext,
		DataStore:    storeRoot,
		Registry:     "localhost",
		CacheDir:     filepath.Join(dir, "cache"),
		RunnerBinary: runner,
		PollFreq:     1,
	}
	require.NoError(t, conf.ApplyDefaults())
	require.NoError(t, conf.Validate())

	f := &fixture{
		conf:      conf,
		storeRoot: storeRoot,
		registry:  testRegistry(t),
		engine:    &engineMock{},
		loader:    &loaderMock{},
	}

	//"running" the job means running the task against the store root, which is what the hostPath mount gives the container
	f.jobs = &jobrunner.JobClientMock{
		StatusSequence: []batchv1.JobStatus{{Succeeded: 1}},
		OnCreate: func(job *batchv1.Job) error {
			runId, parseErr := models.ParseRunID(job.Labels[jobrunner.RunIdLabel])
			if parseErr != nil {
				return parseErr
			}
			return wrapper.NewRunner(f.registry, nil, nil).Run(context.Background(), wrapper.TaskParams{
				WorkDir:     storeRoot,
				PayloadName: runId.PayloadName(),
				ResultName:  runId.ResultName(),
			})
		},
	}
	return f
}

func (f *fixture) executor(extra ...Option) *Executor {
	opts := []Option{
		WithRegistry(f.registry),
		WithImageEngine(f.engine),
		WithImageLoader(f.loader),
		WithJobClient(f.jobs),
		WithRedis(nil),
	}
	return New(f.conf, append(opts, extra...)...)
}

func TestRun_endToEnd(t *testing.T) {
	f := newFixture(t, "test")

	result, err := f.executor().Run(context.Background(), packager.Func("add"), []interface{}{2, 3}, nil)
	require.NoError(t, err)

	var sum int
	require.NoError(t, result.Decode(&sum))
	assert.Equal(t, 5, sum)

	generic, valErr := result.Value()
	require.NoError(t, valErr)
	assert.EqualValues(t, 5, generic)

	assert.Equal(t, "kuberunner-task:"+result.RunId.String(), result.ImageRef)
	assert.Equal(t, []string{result.ImageRef}, f.loader.loaded)
	assert.Equal(t, 0, f.engine.pushes)
	require.Len(t, f.jobs.JobsCreated, 1)
	assert.Equal(t, result.JobName, f.jobs.JobsCreated[0].Name)

	cached, _ := ioutil.ReadDir(f.conf.CacheDir)
	assert.Empty(t, cached, "local copies of payload and result should be gone")
	_, statErr := os.Stat(filepath.Join(f.storeRoot, result.RunId.ResultName()))
	assert.NoError(t, statErr, "the result in the store itself is left alone")
}

func TestRun_missingContextFailsBeforeAnythingElse(t *testing.T) {
	f := newFixture(t, "production")

	_, err := f.executor().Run(context.Background(), packager.Func("add"), []interface{}{2, 3}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrConfiguration))

	assert.Equal(t, 0, f.engine.builds)
	assert.Empty(t, f.loader.loaded)
	assert.Empty(t, f.jobs.JobsCreated)
	stored, _ := ioutil.ReadDir(f.storeRoot)
	assert.Empty(t, stored)
}

func TestRun_serializationFailureSubmitsNothing(t *testing.T) {
	f := newFixture(t, "test")

	_, err := f.executor().Run(context.Background(), packager.Func("add"), []interface{}{make(chan int), 3}, nil)
	assert.True(t, errors.Is(err, errs.ErrSerialization))
	assert.Equal(t, 0, f.engine.builds)
	assert.Empty(t, f.jobs.JobsCreated)
}

func TestRun_remoteError(t *testing.T) {
	f := newFixture(t, "test")

	result, err := f.executor().Run(context.Background(), packager.Func("divide"), []interface{}{1, 0}, nil)
	var remote *errs.RemoteError
	require.True(t, errors.As(err, &remote))
	assert.Equal(t, "divide", remote.Function)
	assert.Equal(t, "division by zero", remote.Message)
	require.NotNil(t, result)
}

func TestRun_failureDetection(t *testing.T) {
	f := newFixture(t, "test")
	f.conf.FailOnJobFailure = true
	f.jobs.OnCreate = nil
	f.jobs.StatusSequence = []batchv1.JobStatus{{Failed: 1}}

	_, err := f.executor().Run(context.Background(), packager.Func("add"), []interface{}{2, 3}, nil)
	assert.True(t, errors.Is(err, errs.ErrJobFailed))
}

func TestRun_missingResult(t *testing.T) {
	f := newFixture(t, "test")
	f.jobs.OnCreate = nil

	_, err := f.executor().Run(context.Background(), packager.Func("add"), []interface{}{2, 3}, nil)
	assert.True(t, errors.Is(err, errs.ErrNotFound))
}

func TestRun_submitFailureGoesToRunLogger(t *testing.T) {
	f := newFixture(t, "test")
	f.jobs.CreateErr = errors.New("jobs.batch is forbidden")
	core, observed := observer.New(zapcore.DebugLevel)

	_, err := f.executor(WithLogger(zap.New(core))).Run(context.Background(), packager.Func("add"), []interface{}{2, 3}, nil)
	require.True(t, errors.Is(err, errs.ErrCluster))

	entries := observed.FilterMessage("could not submit job").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	fields := entries[0].ContextMap()
	assert.NotEmpty(t, fields["runId"])
	assert.Equal(t, "add", fields["function"])
	assert.Contains(t, fields["error"], "forbidden")
}

func TestRun_recordsRunInRedis(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})

	f := newFixture(t, "test")
	result, runErr := f.executor(WithRedis(client)).Run(context.Background(), packager.Func("add"), []interface{}{2, 3}, nil)
	require.NoError(t, runErr)

	rec, getErr := models.RunRecordForId(result.RunId.String(), client)
	require.NoError(t, getErr)
	assert.Equal(t, models.RUN_SUCCEEDED, rec.State)
	assert.Equal(t, "add", rec.Function)
	assert.Equal(t, result.ImageRef, rec.ImageRef)
	assert.Equal(t, result.JobName, rec.JobName)
	assert.NotNil(t, rec.EndTime)
}

func TestRetriever_missingResult(t *testing.T) {
	root := t.TempDir()
	loc, _ := models.ParseStoreLocation(root)
	store, _ := datastore.NewSharedPathStore(loc, nil)
	cache, _ := datastore.NewCache(t.TempDir())

	_, err := NewRetriever(store, cache, nil).Retrieve(context.Background(), models.NewRunID())
	assert.True(t, errors.Is(err, errs.ErrNotFound))
}
