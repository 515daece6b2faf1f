package jobrunner

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/guardian/kuberunner/common/logging"
	"go.uber.org/zap"
	corev1api "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	corev1 "k8s.io/client-go/kubernetes/typed/core/v1"
)

/**
extract the logs for the given pod and return as a string.
this kinda assumes that the logs are not huge, i.e. not tens/hundreds of megs in size
*/
func extractLogs(ctx context.Context, podInfo *corev1api.Pod, podClient corev1.PodInterface) (string, error) {
	req := podClient.GetLogs(podInfo.Name, &corev1api.PodLogOptions{})
	podLogStream, streamErr := req.Stream(ctx)
	if streamErr != nil {
		return "", streamErr
	}
	defer podLogStream.Close()

	buf := new(bytes.Buffer)
	_, copyErr := io.Copy(buf, podLogStream)
	return buf.String(), copyErr
}

/**
gets the logs for all pods belonging to the named job and concatenates them.
a pod whose logs can't be read is skipped, one whose stream breaks off contributes what was read
*/
func CollectLogs(ctx context.Context, jobName string, podClient corev1.PodInterface, logger *zap.Logger) (string, error) {
	logger = logging.OrNop(logger)
	podList, listErr := podClient.List(ctx, metav1.ListOptions{
		LabelSelector: fmt.Sprintf("job-name=%s", jobName),
	})
	if listErr != nil {
		return "", fmt.Errorf("could not list pods for job %s: %w", jobName, listErr)
	}

	var content string
	for i := range podList.Items {
		podName := podList.Items[i].Name
		logContent, getLogErr := extractLogs(ctx, &podList.Items[i], podClient)
		if getLogErr != nil {
			logger.Warn("could not read pod logs", zap.String("job", jobName), zap.String("pod", podName), zap.Error(getLogErr))
			if logContent == "" {
				continue
			}
		}
		content += logContent
	}
	return content, nil
}
