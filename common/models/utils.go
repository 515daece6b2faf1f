package models

import (
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"
)

/**
convenience function to perform a mapstructure decode using the customised decode hook below,
to handle UUID and timestamp strings. Input is weakly typed so that numbers that went through a generic
decode (int64/uint64/float64) still land in narrower numeric fields
*/
func CustomisedMapStructureDecode(incoming interface{}, outgoing interface{}) error {
	decoder, setupErr := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructureDecodeHook,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           outgoing,
	})
	if setupErr != nil {
		return setupErr
	}
	return decoder.Decode(incoming)
}

/**
this custom decode hook will perform a couple of extra conversions:
- if the input type is string and the output is uuid, then it will attempt to parse the uuid and send the error back
up the chain if it can't
- if the input type is string and the output is time, then it will attempt to parse the time as an RFC 3339 timestamp
and send the error back up the chain if it can't.
*/
func mapstructureDecodeHook(inType reflect.Type, outType reflect.Type, value interface{}) (interface{}, error) {
	if inType == reflect.TypeOf("") && outType == reflect.TypeOf(uuid.UUID{}) {
		return uuid.Parse(value.(string))
	} else if inType == reflect.TypeOf("") && outType == reflect.TypeOf(time.Time{}) {
		return time.Parse(time.RFC3339, value.(string))
	} else {
		return value, nil
	}
}
