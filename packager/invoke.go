package packager

import (
	"context"
	"fmt"
	"reflect"

	"github.com/guardian/kuberunner/common/errs"
	"github.com/guardian/kuberunner/common/models"
)

/**
decodes the payload values into the parameter types of the registered function and calls it.
a panic inside the function comes back as an error rather than taking the process down
*/
func (f *Function) Call(ctx context.Context, p *Payload) (result interface{}, err error) {
	positional := append(append([][]byte{}, p.Captured...), p.Args...)
	paramTypes, optionsType, bindErr := f.bind(len(positional), len(p.Kwargs) > 0)
	if bindErr != nil {
		return nil, errs.Serialization("bind arguments", bindErr)
	}

	in := make([]reflect.Value, 0, f.typ.NumIn())
	if f.wantsContext {
		in = append(in, reflect.ValueOf(&ctx).Elem())
	}

	for i, raw := range positional {
		target := reflect.New(paramTypes[i])
		if decodeErr := decodeValue(raw, target.Interface()); decodeErr != nil {
			return nil, errs.Serialization("decode argument", fmt.Errorf("argument %d of %s: %w", i, f.Name, decodeErr))
		}
		in = append(in, target.Elem())
	}

	if optionsType != nil {
		opts, optsErr := decodeOptions(p.Kwargs, optionsType)
		if optsErr != nil {
			return nil, errs.Serialization("decode keyword arguments", fmt.Errorf("%s: %w", f.Name, optsErr))
		}
		in = append(in, opts)
	}

	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("%s panicked: %v", f.Name, r)
		}
	}()

	out := f.fn.Call(in)
	if f.returnsError && !out[1].IsNil() {
		return nil, out[1].Interface().(error)
	}
	return out[0].Interface(), nil
}

func decodeOptions(kwargs map[string][]byte, optionsType reflect.Type) (reflect.Value, error) {
	generic := make(map[string]interface{}, len(kwargs))
	for k, raw := range kwargs {
		var v interface{}
		if err := decodeValue(raw, &v); err != nil {
			return reflect.Value{}, fmt.Errorf("keyword %s: %w", k, err)
		}
		generic[k] = v
	}

	structType := optionsType
	if optionsType.Kind() == reflect.Ptr {
		structType = optionsType.Elem()
	}
	target := reflect.New(structType)
	if err := models.CustomisedMapStructureDecode(generic, target.Interface()); err != nil {
		return reflect.Value{}, err
	}

	if optionsType.Kind() == reflect.Ptr {
		return target, nil
	}
	return target.Elem(), nil
}

/**
runs an encoded payload against the registry and returns the encoded result envelope.
only a payload that cannot be decoded at all is returned as an error; everything that goes wrong after
that (unknown function, bad arguments, function error, panic) is reported inside the envelope so the
submitter gets to see it
*/
func Execute(ctx context.Context, registry *Registry, payloadContent []byte) ([]byte, *Envelope, error) {
	p, decodeErr := DecodePayload(payloadContent)
	if decodeErr != nil {
		return nil, nil, decodeErr
	}

	var env *Envelope
	f, found := registry.Lookup(p.Function)
	if !found {
		env = FailedEnvelope(p.Function, fmt.Errorf("function %q is not registered in this binary", p.Function))
	} else {
		value, callErr := f.Call(ctx, p)
		env = NewEnvelope(p.Function, value, callErr)
	}

	content, encErr := EncodeEnvelope(env)
	if encErr != nil {
		return nil, nil, encErr
	}
	return content, env, nil
}
