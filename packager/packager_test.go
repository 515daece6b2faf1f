package packager

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"os"
	"reflect"
	"strings"
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/guardian/kuberunner/common/errs"
	"github.com/guardian/kuberunner/common/models"
	"github.com/guardian/kuberunner/datastore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type joinOptions struct {
	Separator string
	Upper     bool
}

func testRegistry(t *testing.T) *Registry {
	r := NewRegistry()
	require.NoError(t, r.Register("add", func(a, b int) int { return a + b }))
	require.NoError(t, r.Register("scale", func(factor float64, values []float64) []float64 {
		out := make([]float64, len(values))
		for i, v := range values {
			out[i] = v * factor
		}
		return out
	}))
	require.NoError(t, r.Register("join", func(words []string, opts joinOptions) (string, error) {
		if len(words) == 0 {
			return "", errors.New("nothing to join")
		}
		sep := opts.Separator
		if sep == "" {
			sep = " "
		}
		out := strings.Join(words, sep)
		if opts.Upper {
			out = strings.ToUpper(out)
		}
		return out, nil
	}))
	require.NoError(t, r.Register("withctx", func(ctx context.Context, name string) string { return "hello " + name }))
	require.NoError(t, r.Register("explode", func(n int) int { panic("kaboom!") }))
	return r
}

func TestRegister_rejectsBadShapes(t *testing.T) {
	r := NewRegistry()
	assert.Error(t, r.Register("notfunc", 42))
	assert.Error(t, r.Register("noreturn", func(a int) {}))
	assert.Error(t, r.Register("onlyerr", func(a int) error { return nil }))
	assert.Error(t, r.Register("badsecond", func(a int) (int, int) { return a, a }))
	assert.Error(t, r.Register("variadic", func(a ...int) int { return 0 }))
	assert.Error(t, r.Register("", func(a int) int { return a }))

	require.NoError(t, r.Register("ok", func(a int) int { return a }))
	assert.Error(t, r.Register("ok", func(a int) int { return a }), "duplicate names should be refused")
}

func runPayload(t *testing.T, r *Registry, fn Closure, args []interface{}, kwargs map[string]interface{}) *Envelope {
	p, err := BuildPayload(r, fn, args, kwargs)
	require.NoError(t, err)
	content, encErr := EncodePayload(p)
	require.NoError(t, encErr)

	resultContent, env, execErr := Execute(context.Background(), r, content)
	require.NoError(t, execErr)

	decoded, decErr := DecodeEnvelope(resultContent)
	require.NoError(t, decErr)
	assert.Equal(t, env.Failed, decoded.Failed)
	assert.Equal(t, env.Error, decoded.Error)
	return decoded
}

func TestExecute_add(t *testing.T) {
	env := runPayload(t, testRegistry(t), Func("add"), []interface{}{2, 3}, nil)

	var out int
	require.NoError(t, env.Decode(&out))
	assert.Equal(t, 5, out)

	generic, genErr := env.Generic()
	require.NoError(t, genErr)
	assert.EqualValues(t, 5, generic)
}

func TestExecute_closureCapturesEnvironment(t *testing.T) {
	factor := 2.5
	env := runPayload(t, testRegistry(t), Bind("scale", factor), []interface{}{[]float64{1, 2, 4}}, nil)

	var out []float64
	require.NoError(t, env.Decode(&out))
	assert.Equal(t, []float64{2.5, 5, 10}, out)
}

func TestExecute_keywordArguments(t *testing.T) {
	env := runPayload(t, testRegistry(t), Func("join"), []interface{}{[]string{"a", "b"}}, map[string]interface{}{
		"separator": "-",
		"upper":     true,
	})

	var out string
	require.NoError(t, env.Decode(&out))
	assert.Equal(t, "A-B", out)
}

func TestExecute_optionsDefaultWhenNoKwargs(t *testing.T) {
	env := runPayload(t, testRegistry(t), Func("join"), []interface{}{[]string{"a", "b"}}, nil)

	var out string
	require.NoError(t, env.Decode(&out))
	assert.Equal(t, "a b", out)
}

func TestExecute_context(t *testing.T) {
	env := runPayload(t, testRegistry(t), Func("withctx"), []interface{}{"world"}, nil)

	var out string
	require.NoError(t, env.Decode(&out))
	assert.Equal(t, "hello world", out)
}

func TestExecute_functionErrorAndPanic(t *testing.T) {
	r := testRegistry(t)

	failed := runPayload(t, r, Func("join"), []interface{}{[]string{}}, nil)
	assert.True(t, failed.Failed)
	var remote *errs.RemoteError
	var out string
	decodeErr := failed.Decode(&out)
	require.True(t, errors.As(decodeErr, &remote), "expected a RemoteError, got %s", spew.Sdump(decodeErr))
	assert.Equal(t, "join", remote.Function)
	assert.Equal(t, "nothing to join", remote.Message)

	panicked := runPayload(t, r, Func("explode"), []interface{}{1}, nil)
	assert.True(t, panicked.Failed)
	assert.Contains(t, panicked.Error, "kaboom!")
}

func TestExecute_unknownFunctionInContainer(t *testing.T) {
	p, err := BuildPayload(testRegistry(t), Func("add"), []interface{}{1, 2}, nil)
	require.NoError(t, err)
	content, _ := EncodePayload(p)

	_, env, execErr := Execute(context.Background(), NewRegistry(), content)
	require.NoError(t, execErr)
	assert.True(t, env.Failed)
	assert.Contains(t, env.Error, "not registered")
}

func TestExecute_garbagePayload(t *testing.T) {
	_, _, err := Execute(context.Background(), testRegistry(t), []byte("this is not cbor"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrSerialization))
}

func TestBuildPayload_serializationErrors(t *testing.T) {
	r := testRegistry(t)
	conn, _ := net.Pipe()
	defer conn.Close()

	type holder struct {
		Out chan int
	}

	tests := map[string]struct {
		fn     Closure
		args   []interface{}
		kwargs map[string]interface{}
	}{
		"unknown function":        {Func("nope"), []interface{}{1}, nil},
		"too few args":            {Func("add"), []interface{}{1}, nil},
		"too many args":           {Func("add"), []interface{}{1, 2, 3}, nil},
		"kwargs without options":  {Func("add"), []interface{}{1, 2}, map[string]interface{}{"x": 1}},
		"channel argument":        {Func("add"), []interface{}{make(chan int), 2}, nil},
		"function argument":       {Func("add"), []interface{}{func() {}, 2}, nil},
		"socket argument":         {Func("add"), []interface{}{conn, 2}, nil},
		"open file captured":      {Bind("add", os.Stdin), []interface{}{2}, nil},
		"nested channel in kwarg": {Func("join"), []interface{}{[]string{"a"}}, map[string]interface{}{"separator": holder{Out: make(chan int)}}},
	}

	for name, tc := range tests {
		_, err := BuildPayload(r, tc.fn, tc.args, tc.kwargs)
		if assert.Error(t, err, name) {
			assert.True(t, errors.Is(err, errs.ErrSerialization), "%s: expected serialization error, got %s", name, err)
		}
	}
}

type spool struct {
	Lines []string
}

func (s *spool) Close() error { return nil }

type plainLines struct {
	Lines []string
}

func TestCheckPortable_closerOnPointer(t *testing.T) {
	err := checkPortable(spool{Lines: []string{"a"}}, "args[0]")
	if assert.Error(t, err) {
		assert.Contains(t, err.Error(), "live resource")
	}
	assert.NoError(t, checkPortable(plainLines{Lines: []string{"a"}}, "args[0]"))
}

func TestPayloadRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 50; i++ {
		blob := make([]byte, rng.Intn(512))
		rng.Read(blob)

		p := &Payload{
			Function: "add",
			Captured: [][]byte{blob},
			Args:     [][]byte{blob, {1, 2, 3}},
			Kwargs:   map[string][]byte{"k": blob},
		}
		content, encErr := EncodePayload(p)
		require.NoError(t, encErr)
		decoded, decErr := DecodePayload(content)
		require.NoError(t, decErr)

		if !reflect.DeepEqual(normalise(p), normalise(decoded)) {
			t.Fatalf("payload did not round-trip: %s", spew.Sdump(p, decoded))
		}
	}
}

// empty byte slices may come back as nil
func normalise(p *Payload) *Payload {
	fix := func(b []byte) []byte {
		if len(b) == 0 {
			return []byte{}
		}
		return b
	}
	out := &Payload{Function: p.Function, Kwargs: map[string][]byte{}}
	for _, b := range p.Captured {
		out.Captured = append(out.Captured, fix(b))
	}
	for _, b := range p.Args {
		out.Args = append(out.Args, fix(b))
	}
	for k, b := range p.Kwargs {
		out.Kwargs[k] = fix(b)
	}
	return out
}

func TestPackage_writesToStore(t *testing.T) {
	root := t.TempDir()
	loc, _ := models.ParseStoreLocation(root)
	store, err := datastore.NewSharedPathStore(loc, zap.NewNop())
	require.NoError(t, err)
	cache, cacheErr := datastore.NewCache(t.TempDir())
	require.NoError(t, cacheErr)

	runId := models.NewRunID()
	p := NewPackager(testRegistry(t), cache, store, nil)
	name, pkgErr := p.Package(context.Background(), runId, Func("add"), []interface{}{2, 3}, nil)
	require.NoError(t, pkgErr)
	assert.Equal(t, runId.PayloadName(), name)

	stored, getErr := store.Get(context.Background(), name)
	require.NoError(t, getErr)
	decoded, decErr := DecodePayload(stored)
	require.NoError(t, decErr)
	assert.Equal(t, "add", decoded.Function)
	assert.Len(t, decoded.Args, 2)

	assert.False(t, cache.Exists(name), "staged payload should be removed from the cache once transferred")
}

func TestPackage_serializationFailureWritesNothing(t *testing.T) {
	root := t.TempDir()
	loc, _ := models.ParseStoreLocation(root)
	store, _ := datastore.NewSharedPathStore(loc, zap.NewNop())
	cache, _ := datastore.NewCache(t.TempDir())

	runId := models.NewRunID()
	p := NewPackager(testRegistry(t), cache, store, nil)
	_, err := p.Package(context.Background(), runId, Func("add"), []interface{}{make(chan int), 3}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrSerialization))

	_, getErr := store.Get(context.Background(), runId.PayloadName())
	assert.True(t, errors.Is(getErr, errs.ErrNotFound))
}
