package jobrunner

import (
	"context"
	"errors"
	"sync"

	batchv1 "k8s.io/api/batch/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

/**
JobClientMock stands in for a cluster. Create records the job and calls OnCreate if set, which is where a
test can "run" the job; Get hands out the entries of StatusSequence in turn, repeating the last one
*/
type JobClientMock struct {
	CreateErr      error
	GetErr         error
	OnCreate       func(job *batchv1.Job) error
	StatusSequence []batchv1.JobStatus

	mutex       sync.Mutex
	JobsCreated []*batchv1.Job
	GetCalls    int
}

func (j *JobClientMock) Create(ctx context.Context, newJob *batchv1.Job, opts metav1.CreateOptions) (*batchv1.Job, error) {
	if j.CreateErr != nil {
		return nil, j.CreateErr
	}
	j.mutex.Lock()
	j.JobsCreated = append(j.JobsCreated, newJob)
	j.mutex.Unlock()

	if j.OnCreate != nil {
		if err := j.OnCreate(newJob); err != nil {
			return nil, err
		}
	}
	return newJob, nil
}

func (j *JobClientMock) Get(ctx context.Context, name string, opts metav1.GetOptions) (*batchv1.Job, error) {
	j.mutex.Lock()
	defer j.mutex.Unlock()
	callNum := j.GetCalls
	j.GetCalls++

	if j.GetErr != nil {
		return nil, j.GetErr
	}
	if len(j.StatusSequence) == 0 {
		return nil, errors.New("JobClientMock has no status to report")
	}
	if callNum >= len(j.StatusSequence) {
		callNum = len(j.StatusSequence) - 1
	}
	return &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{Name: name},
		Status:     j.StatusSequence[callNum],
	}, nil
}
