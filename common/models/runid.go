package models

import (
	"fmt"

	"github.com/google/uuid"
)

/**
RunID identifies a single submission. Every per-run resource name (payload, result, image tag,
job, container) is derived from it so that concurrent submissions sharing a store, registry or
cluster can never collide
*/
type RunID uuid.UUID

func NewRunID() RunID {
	return RunID(uuid.New())
}

func ParseRunID(s string) (RunID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return RunID{}, err
	}
	return RunID(id), nil
}

func (r RunID) String() string {
	return uuid.UUID(r).String()
}

func (r RunID) PayloadName() string {
	return fmt.Sprintf("func-%s.cbor", r)
}

func (r RunID) ResultName() string {
	return fmt.Sprintf("result-%s.cbor", r)
}

func (r RunID) ImageTag() string {
	return r.String()
}

func (r RunID) JobName() string {
	return fmt.Sprintf("job-%s", r)
}

func (r RunID) ContainerName() string {
	return fmt.Sprintf("kuberunner-task-%s", r)
}

func (r RunID) BuildDirName() string {
	return fmt.Sprintf("build-%s", r)
}
