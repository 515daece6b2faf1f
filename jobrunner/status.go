package jobrunner

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/davecgh/go-spew/spew"
	"github.com/guardian/kuberunner/common/errs"
	"github.com/guardian/kuberunner/common/logging"
	"github.com/guardian/kuberunner/common/models"
	"go.uber.org/zap"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

/**
translates the server's job status into a JobOutcome. Kubernetes omits zero counters, so until the job
controller has written anything at all (a start time, a condition or a counter) every field is left nil
*/
func OutcomeFromJob(job *batchv1.Job) models.JobOutcome {
	if job == nil {
		return models.JobOutcome{}
	}
	st := job.Status

	failedCondition := false
	for _, cond := range st.Conditions {
		if cond.Type == batchv1.JobFailed && cond.Status == corev1.ConditionTrue {
			failedCondition = true
		}
	}

	recorded := st.StartTime != nil || len(st.Conditions) > 0 || st.Succeeded > 0 || st.Active > 0 || st.Failed > 0
	if !recorded {
		return models.JobOutcome{}
	}
	return models.JobOutcome{
		Succeeded:       models.Int32Ptr(st.Succeeded),
		Active:          models.Int32Ptr(st.Active),
		Failed:          models.Int32Ptr(st.Failed),
		FailedCondition: failedCondition,
	}
}

/**
maps an outcome onto a status code. FAILED is only ever returned when detectFailure is set; otherwise a
failed job reads as AMBIGUOUS and polling carries on
*/
func Classify(outcome models.JobOutcome, detectFailure bool) models.JobStatusCode {
	if detectFailure && ((outcome.Failed != nil && *outcome.Failed > 0) || outcome.FailedCondition) {
		return models.STATUS_FAILED
	}
	if outcome.Succeeded == nil {
		return models.STATUS_UNKNOWN
	}
	if *outcome.Succeeded > 0 {
		return models.STATUS_SUCCEEDED
	}
	if outcome.Active != nil && *outcome.Active > 0 {
		return models.STATUS_RUNNING
	}
	return models.STATUS_AMBIGUOUS
}

type Poller struct {
	jobClient     JobClient
	interval      time.Duration
	detectFailure bool
	logger        *zap.Logger
}

func NewPoller(jobClient JobClient, interval time.Duration, detectFailure bool, logger *zap.Logger) *Poller {
	return &Poller{jobClient: jobClient, interval: interval, detectFailure: detectFailure, logger: logging.OrNop(logger)}
}

/**
reads the job status at a fixed interval until it succeeds. There is no upper bound; cancel ctx to stop
waiting (the job itself is left alone). With failure detection switched on, a failed job ends the wait with
a JobFailed error
*/
func (p *Poller) WaitForCompletion(ctx context.Context, name string) (*batchv1.Job, models.JobStatusCode, error) {
	ticker := backoff.WithContext(backoff.NewConstantBackOff(p.interval), ctx)
	jobLog := p.logger.With(zap.String("job", name))
	previous := models.STATUS_UNKNOWN

	for {
		job, getErr := p.jobClient.Get(ctx, name, metav1.GetOptions{})
		if getErr != nil {
			if ctx.Err() != nil {
				return nil, previous, errs.Cluster("wait for job", ctx.Err())
			}
			jobLog.Error("could not read job status", zap.Error(getErr))
			return nil, previous, errs.Cluster("read job", getErr)
		}

		status := Classify(OutcomeFromJob(job), p.detectFailure)
		switch status {
		case models.STATUS_SUCCEEDED:
			jobLog.Info("job completed")
			return job, status, nil
		case models.STATUS_FAILED:
			jobLog.Error("job failed", zap.Int32("failed", job.Status.Failed))
			return job, status, errs.JobFailed("wait for job", fmt.Errorf("%s reported %d failed pod(s)", name, job.Status.Failed))
		case models.STATUS_RUNNING:
			jobLog.Debug("waiting for job completion", zap.Int32("active", job.Status.Active))
		case models.STATUS_AMBIGUOUS:
			jobLog.Warn("job has neither succeeded nor is it running", zap.String("status", spew.Sdump(job.Status)))
		case models.STATUS_UNKNOWN:
			if previous == models.STATUS_AMBIGUOUS {
				jobLog.Warn("job status is no longer recorded")
			}
		}
		previous = status

		wait := ticker.NextBackOff()
		if wait == backoff.Stop {
			return nil, status, errs.Cluster("wait for job", ctx.Err())
		}
		select {
		case <-ctx.Done():
			return nil, status, errs.Cluster("wait for job", ctx.Err())
		case <-time.After(wait):
		}
	}
}
