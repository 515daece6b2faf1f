package jobrunner

import (
	"context"
	"fmt"

	"github.com/guardian/kuberunner/common/errs"
	"github.com/guardian/kuberunner/common/models"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

const (
	RunIdLabel       = "kuberunner.runId"
	exchangeVolume   = "exchange"
	defaultWorkDir   = "/data"
	defaultNamespace = "default"
)

/**
JobClient is the part of the typed batch/v1 JobInterface that we actually use, so a
k8s.io/client-go/kubernetes/typed/batch/v1.JobInterface satisfies it directly
*/
type JobClient interface {
	Create(ctx context.Context, job *batchv1.Job, opts metav1.CreateOptions) (*batchv1.Job, error)
	Get(ctx context.Context, name string, opts metav1.GetOptions) (*batchv1.Job, error)
}

type JobParams struct {
	RunId     models.RunID
	Namespace string
	Image     string
	SkipPull  bool
	VCPU      string
	Memory    string
	WorkDir   string
	Store     models.StoreLocation
}

/**
builds the job description for a run: a single container that runs once and is never retried
*/
func BuildJob(p JobParams) (*batchv1.Job, error) {
	if p.Image == "" {
		return nil, errs.Configuration("build job", fmt.Errorf("no image for run %s", p.RunId))
	}
	cpu, cpuErr := resource.ParseQuantity(p.VCPU)
	if cpuErr != nil {
		return nil, errs.Configuration("build job", fmt.Errorf("bad vcpu %q: %w", p.VCPU, cpuErr))
	}
	mem, memErr := resource.ParseQuantity(p.Memory)
	if memErr != nil {
		return nil, errs.Configuration("build job", fmt.Errorf("bad memory %q: %w", p.Memory, memErr))
	}
	workDir := p.WorkDir
	if workDir == "" {
		workDir = defaultWorkDir
	}
	namespace := p.Namespace
	if namespace == "" {
		namespace = defaultNamespace
	}

	pullPolicy := corev1.PullIfNotPresent
	if p.SkipPull {
		pullPolicy = corev1.PullNever
	}

	container := corev1.Container{
		Name:            p.RunId.ContainerName(),
		Image:           p.Image,
		ImagePullPolicy: pullPolicy,
		WorkingDir:      workDir,
		Resources: corev1.ResourceRequirements{
			Requests: corev1.ResourceList{
				corev1.ResourceCPU:    cpu,
				corev1.ResourceMemory: mem,
			},
		},
	}

	var volumes []corev1.Volume
	if p.Store.Scheme == models.STORE_SHARED_PATH {
		hostPathType := corev1.HostPathDirectoryOrCreate
		volumes = append(volumes, corev1.Volume{
			Name: exchangeVolume,
			VolumeSource: corev1.VolumeSource{
				HostPath: &corev1.HostPathVolumeSource{Path: p.Store.Root, Type: &hostPathType},
			},
		})
		container.VolumeMounts = append(container.VolumeMounts, corev1.VolumeMount{Name: exchangeVolume, MountPath: workDir})
	}

	labels := map[string]string{RunIdLabel: p.RunId.String()}
	var backoffLimit int32 = 0

	return &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:      p.RunId.JobName(),
			Namespace: namespace,
			Labels:    labels,
		},
		Spec: batchv1.JobSpec{
			BackoffLimit: &backoffLimit,
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec: corev1.PodSpec{
					Containers:    []corev1.Container{container},
					Volumes:       volumes,
					RestartPolicy: corev1.RestartPolicyNever,
				},
			},
		},
	}, nil
}

func SubmitJob(ctx context.Context, jobClient JobClient, job *batchv1.Job) (*batchv1.Job, error) {
	created, err := jobClient.Create(ctx, job, metav1.CreateOptions{})
	if err != nil {
		return nil, errs.Cluster(fmt.Sprintf("create job %s in %s", job.Name, job.Namespace), err)
	}
	return created, nil
}
