package packager

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
)

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

/**
Function is a registered Go function that can be shipped to the cluster by name.

Accepted shapes:
	func([ctx context.Context,] p1, p2, ... [, opts OptionsStruct]) T
	func([ctx context.Context,] p1, p2, ... [, opts OptionsStruct]) (T, error)

A trailing struct (or pointer to struct) parameter receives keyword arguments, but only when the call
supplies one positional value fewer than the function has parameters.
*/
type Function struct {
	Name         string
	fn           reflect.Value
	typ          reflect.Type
	wantsContext bool
	returnsError bool
}

type Registry struct {
	mutex sync.RWMutex
	funcs map[string]*Function
}

func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]*Function)}
}

var defaultRegistry = NewRegistry()

// DefaultRegistry is the registry used by Register and by the in-container task runner.
func DefaultRegistry() *Registry {
	return defaultRegistry
}

func Register(name string, fn interface{}) error {
	return defaultRegistry.Register(name, fn)
}

func MustRegister(name string, fn interface{}) {
	if err := defaultRegistry.Register(name, fn); err != nil {
		panic(err)
	}
}

/**
adds fn under name. Parameter types are not checked for portability here; arguments are checked when a
payload is built, and a value is refused if it, or the pointer to it, implements io.Closer. A parameter type
with a Close method on its pointer therefore can never be passed, even by value
*/
func (r *Registry) Register(name string, fn interface{}) error {
	if name == "" {
		return errors.New("function name must not be empty")
	}
	f, err := newFunction(name, fn)
	if err != nil {
		return err
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()
	if _, exists := r.funcs[name]; exists {
		return fmt.Errorf("function %s is already registered", name)
	}
	r.funcs[name] = f
	return nil
}

func (r *Registry) Lookup(name string) (*Function, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	f, found := r.funcs[name]
	return f, found
}

func (r *Registry) Names() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	names := make([]string, 0, len(r.funcs))
	for k := range r.funcs {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func newFunction(name string, fn interface{}) (*Function, error) {
	v := reflect.ValueOf(fn)
	if !v.IsValid() || v.Kind() != reflect.Func || v.IsNil() {
		return nil, fmt.Errorf("%s: expected a function, got %T", name, fn)
	}
	t := v.Type()
	if t.IsVariadic() {
		return nil, fmt.Errorf("%s: variadic functions are not supported", name)
	}

	switch t.NumOut() {
	case 1:
		if t.Out(0) == errorType {
			return nil, fmt.Errorf("%s: a function must return a value, not just an error", name)
		}
	case 2:
		if t.Out(1) != errorType {
			return nil, fmt.Errorf("%s: second return value must be an error", name)
		}
	default:
		return nil, fmt.Errorf("%s: function must return T or (T, error)", name)
	}

	return &Function{
		Name:         name,
		fn:           v,
		typ:          t,
		wantsContext: t.NumIn() > 0 && t.In(0) == contextType,
		returnsError: t.NumOut() == 2,
	}, nil
}

// valueParams returns the parameter types after the optional context.
func (f *Function) valueParams() []reflect.Type {
	start := 0
	if f.wantsContext {
		start = 1
	}
	params := make([]reflect.Type, 0, f.typ.NumIn()-start)
	for i := start; i < f.typ.NumIn(); i++ {
		params = append(params, f.typ.In(i))
	}
	return params
}

func isOptionsType(t reflect.Type) bool {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Kind() == reflect.Struct
}

/**
works out how a call with `positional` values and possibly some keyword arguments maps onto the parameter list.
returns the positional parameter types and the options parameter type (nil if there isn't one)
*/
func (f *Function) bind(positional int, haveKwargs bool) ([]reflect.Type, reflect.Type, error) {
	params := f.valueParams()

	switch {
	case positional == len(params):
		if haveKwargs {
			return nil, nil, fmt.Errorf("%s takes no keyword arguments", f.Name)
		}
		return params, nil, nil
	case positional == len(params)-1 && isOptionsType(params[len(params)-1]):
		return params[:positional], params[positional], nil
	default:
		return nil, nil, fmt.Errorf("%s expects %d positional arguments (including captured values), got %d", f.Name, len(params), positional)
	}
}
