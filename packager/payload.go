package packager

import (
	"fmt"
	"sort"

	"github.com/guardian/kuberunner/common/errs"
)

/**
Payload is what travels to the container. Each value is encoded on its own so that the receiving side can
decode it straight into the matching parameter type of the registered function
*/
type Payload struct {
	Function string            `codec:"function"`
	Captured [][]byte          `codec:"captured"`
	Args     [][]byte          `codec:"args"`
	Kwargs   map[string][]byte `codec:"kwargs"`
}

/**
validates the call against the registry and encodes every value.
any problem here is a SerializationError, nothing has been written anywhere yet
*/
func BuildPayload(registry *Registry, fn Closure, args []interface{}, kwargs map[string]interface{}) (*Payload, error) {
	f, found := registry.Lookup(fn.Name)
	if !found {
		return nil, errs.Serialization("build payload", fmt.Errorf("function %q is not registered", fn.Name))
	}
	if _, _, bindErr := f.bind(len(fn.Captured)+len(args), len(kwargs) > 0); bindErr != nil {
		return nil, errs.Serialization("build payload", bindErr)
	}

	p := &Payload{
		Function: fn.Name,
		Captured: make([][]byte, 0, len(fn.Captured)),
		Args:     make([][]byte, 0, len(args)),
		Kwargs:   make(map[string][]byte, len(kwargs)),
	}

	for i, v := range fn.Captured {
		encoded, err := encodePortable(v, fmt.Sprintf("captured[%d]", i))
		if err != nil {
			return nil, err
		}
		p.Captured = append(p.Captured, encoded)
	}
	for i, v := range args {
		encoded, err := encodePortable(v, fmt.Sprintf("args[%d]", i))
		if err != nil {
			return nil, err
		}
		p.Args = append(p.Args, encoded)
	}

	keys := make([]string, 0, len(kwargs))
	for k := range kwargs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		encoded, err := encodePortable(kwargs[k], "kwargs."+k)
		if err != nil {
			return nil, err
		}
		p.Kwargs[k] = encoded
	}
	return p, nil
}

func encodePortable(v interface{}, path string) ([]byte, error) {
	if err := checkPortable(v, path); err != nil {
		return nil, errs.Serialization("build payload", err)
	}
	encoded, encErr := encodeValue(v)
	if encErr != nil {
		return nil, errs.Serialization("build payload", fmt.Errorf("%s: %w", path, encErr))
	}
	return encoded, nil
}

func EncodePayload(p *Payload) ([]byte, error) {
	content, err := encodeValue(p)
	if err != nil {
		return nil, errs.Serialization("encode payload", err)
	}
	return content, nil
}

func DecodePayload(content []byte) (*Payload, error) {
	var p Payload
	if err := decodeValue(content, &p); err != nil {
		return nil, errs.Serialization("decode payload", err)
	}
	if p.Function == "" {
		return nil, errs.Serialization("decode payload", fmt.Errorf("payload names no function"))
	}
	return &p, nil
}
