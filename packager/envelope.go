package packager

import (
	"fmt"

	"github.com/guardian/kuberunner/common/errs"
)

// Envelope is the result payload written by the container.
type Envelope struct {
	Function string `codec:"function"`
	Value    []byte `codec:"value"`
	Failed   bool   `codec:"failed"`
	Error    string `codec:"error"`
}

func FailedEnvelope(function string, err error) *Envelope {
	return &Envelope{Function: function, Failed: true, Error: err.Error()}
}

func NewEnvelope(function string, value interface{}, callErr error) *Envelope {
	if callErr != nil {
		return FailedEnvelope(function, callErr)
	}
	encoded, encErr := encodePortable(value, "result")
	if encErr != nil {
		return FailedEnvelope(function, encErr)
	}
	return &Envelope{Function: function, Value: encoded}
}

func EncodeEnvelope(env *Envelope) ([]byte, error) {
	content, err := encodeValue(env)
	if err != nil {
		return nil, errs.Serialization("encode result", err)
	}
	return content, nil
}

func DecodeEnvelope(content []byte) (*Envelope, error) {
	var env Envelope
	if err := decodeValue(content, &env); err != nil {
		return nil, errs.Serialization("decode result", err)
	}
	return &env, nil
}

// Err converts a failed envelope into a RemoteError.
func (e *Envelope) Err() error {
	if !e.Failed {
		return nil
	}
	return &errs.RemoteError{Function: e.Function, Message: e.Error}
}

// Decode unpacks the returned value into out, which must be a pointer.
func (e *Envelope) Decode(out interface{}) error {
	if err := e.Err(); err != nil {
		return err
	}
	if decodeErr := decodeValue(e.Value, out); decodeErr != nil {
		return errs.Serialization("decode result value", fmt.Errorf("%s: %w", e.Function, decodeErr))
	}
	return nil
}

// Generic unpacks the returned value without a target type: integers come back as int64, maps as map[string]interface{}.
func (e *Envelope) Generic() (interface{}, error) {
	var v interface{}
	if err := e.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}
