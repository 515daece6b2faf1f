package executor

import (
	"github.com/guardian/kuberunner/common/models"
	"github.com/guardian/kuberunner/packager"
)

type Result struct {
	RunId    models.RunID
	ImageRef string
	JobName  string
	Logs     string //pod logs, only when log collection is switched on

	envelope *packager.Envelope
}

// Decode unpacks the function's return value into out, which must be a pointer.
func (r *Result) Decode(out interface{}) error {
	return r.envelope.Decode(out)
}

// Value returns the return value without a target type.
func (r *Result) Value() (interface{}, error) {
	return r.envelope.Generic()
}
