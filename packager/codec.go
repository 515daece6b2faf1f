package packager

import (
	"reflect"

	"github.com/ugorji/go/codec"
)

var cborHandle = newCborHandle()

func newCborHandle() *codec.CborHandle {
	h := &codec.CborHandle{}
	//generic decodes give string-keyed maps, which is what the options decoder wants
	h.MapType = reflect.TypeOf(map[string]interface{}(nil))
	h.SignedInteger = true
	return h
}

func encodeValue(v interface{}) ([]byte, error) {
	var buf []byte
	err := codec.NewEncoderBytes(&buf, cborHandle).Encode(v)
	return buf, err
}

func decodeValue(content []byte, into interface{}) error {
	return codec.NewDecoderBytes(content, cborHandle).Decode(into)
}
