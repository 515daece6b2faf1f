package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v7"
)

type RunState string

const (
	RUN_PACKAGING RunState = "packaging"
	RUN_SUBMITTED RunState = "submitted"
	RUN_SUCCEEDED RunState = "succeeded"
	RUN_FAILED    RunState = "failed"
)

/**
audit record of a single submission, kept in redis when it is configured.
it is informational only, nothing in the pipeline reads it back
*/
type RunRecord struct {
	RunId        string     `json:"runId"`
	Function     string     `json:"function"`
	State        RunState   `json:"state"`
	ImageRef     string     `json:"imageRef,omitempty"`
	JobName      string     `json:"jobName,omitempty"`
	Namespace    string     `json:"namespace,omitempty"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
	StartTime    time.Time  `json:"startTime"`
	EndTime      *time.Time `json:"endTime,omitempty"`
}

func keyForRunId(runId string) string {
	return fmt.Sprintf("kuberunner:run:%s", runId)
}

func (r RunRecord) Store(redisClient redis.Cmdable) error {
	content, marshalErr := json.Marshal(r)
	if marshalErr != nil {
		return fmt.Errorf("could not marshal run record %s: %w", r.RunId, marshalErr)
	}

	_, saveErr := redisClient.Set(keyForRunId(r.RunId), string(content), -1).Result()
	return saveErr
}

func RunRecordForId(runId string, redisClient redis.Cmdable) (*RunRecord, error) {
	content, getErr := redisClient.Get(keyForRunId(runId)).Result()
	if getErr != nil {
		return nil, getErr
	}

	var rec RunRecord
	marshalErr := json.Unmarshal([]byte(content), &rec)
	if marshalErr != nil {
		return nil, fmt.Errorf("could not unmarshal run record %s: %w", runId, marshalErr)
	}
	return &rec, nil
}

func RemoveRunRecord(runId string, redisClient redis.Cmdable) error {
	_, err := redisClient.Del(keyForRunId(runId)).Result()
	return err
}
