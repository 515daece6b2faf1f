package jobrunner

import (
	"context"
	"time"

	"github.com/guardian/kuberunner/common/errs"
	"github.com/guardian/kuberunner/common/logging"
	"go.uber.org/zap"
	batchv1 "k8s.io/api/batch/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

type JobReaperClient interface {
	List(ctx context.Context, opts metav1.ListOptions) (*batchv1.JobList, error)
	Delete(ctx context.Context, name string, opts metav1.DeleteOptions) error
}

/**
lists every job that carries a run id label, following continuation tokens
*/
func ListRunJobs(ctx context.Context, jobClient JobReaperClient, pageSize int64) ([]batchv1.Job, error) {
	var out []batchv1.Job
	continueToken := ""

	for {
		result, err := jobClient.List(ctx, metav1.ListOptions{
			LabelSelector: RunIdLabel,
			Limit:         pageSize,
			Continue:      continueToken,
		})
		if err != nil {
			return nil, errs.Cluster("list jobs", err)
		}
		out = append(out, result.Items...)
		if result.Continue == "" {
			return out, nil
		}
		continueToken = result.Continue
	}
}

/**
when the job stopped, or nil if it is still going (or never started)
*/
func finishedAt(job *batchv1.Job) *time.Time {
	if job.Status.Active > 0 {
		return nil
	}
	if job.Status.CompletionTime != nil {
		t := job.Status.CompletionTime.Time
		return &t
	}
	for _, cond := range job.Status.Conditions {
		if cond.Type == batchv1.JobFailed {
			t := cond.LastTransitionTime.Time
			return &t
		}
	}
	return nil
}

/**
Reaper removes run jobs that finished before a cutoff. Submissions never clean up after themselves, so this
is the out-of-band way to do it
*/
type Reaper struct {
	jobClient JobReaperClient
	dryRun    bool
	pageSize  int64
	logger    *zap.Logger
}

func NewReaper(jobClient JobReaperClient, dryRun bool, logger *zap.Logger) *Reaper {
	return &Reaper{jobClient: jobClient, dryRun: dryRun, pageSize: 100, logger: logging.OrNop(logger)}
}

/**
onRemoved is called with the run id of every job that was (or in a dry run, would have been) deleted
*/
func (r *Reaper) Reap(ctx context.Context, cutoff time.Time, onRemoved func(runId string)) (int, error) {
	jobs, listErr := ListRunJobs(ctx, r.jobClient, r.pageSize)
	if listErr != nil {
		return 0, listErr
	}

	removed := 0
	policy := metav1.DeletePropagationBackground
	for i := range jobs {
		job := &jobs[i]
		ended := finishedAt(job)
		if ended == nil {
			r.logger.Debug("job seems to still be active, not removing it", zap.String("job", job.Name))
			continue
		}
		if !ended.Before(cutoff) {
			continue
		}

		jobLog := r.logger.With(zap.String("job", job.Name), zap.Time("finished", *ended))
		if r.dryRun {
			jobLog.Info("would remove job (dry run)")
		} else {
			if delErr := r.jobClient.Delete(ctx, job.Name, metav1.DeleteOptions{PropagationPolicy: &policy}); delErr != nil {
				//not a fatal error
				jobLog.Error("could not delete job", zap.Error(delErr))
				continue
			}
			jobLog.Info("removed job")
		}
		removed++
		if onRemoved != nil {
			onRemoved(job.Labels[RunIdLabel])
		}
	}
	return removed, nil
}
