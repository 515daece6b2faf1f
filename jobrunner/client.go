package jobrunner

import (
	"fmt"

	"github.com/guardian/kuberunner/common/errs"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"
	clientcmdapi "k8s.io/client-go/tools/clientcmd/api"
)

/**
loads the given kubeconfig and makes sure that it has the requested context.
This touches the filesystem only, it makes no network calls
*/
func ValidateContext(kubeConfigPath string, contextName string) (*clientcmdapi.Config, error) {
	kubeConfig, loadErr := clientcmd.LoadFromFile(kubeConfigPath)
	if loadErr != nil {
		return nil, errs.Configuration("load kubeconfig "+kubeConfigPath, loadErr)
	}

	if _, haveContext := kubeConfig.Contexts[contextName]; !haveContext {
		available := make([]string, 0, len(kubeConfig.Contexts))
		for name := range kubeConfig.Contexts {
			available = append(available, name)
		}
		return nil, errs.Configuration("validate kube context",
			fmt.Errorf("context %q is not present in %s (have %v)", contextName, kubeConfigPath, available))
	}
	return kubeConfig, nil
}

/**
initialise a connection to Kubernetes from outside the cluster, using the given context from the kubeconfig
rather than whatever happens to be current
*/
func ContextClient(kubeConfigPath string, contextName string) (*kubernetes.Clientset, error) {
	loadingRules := &clientcmd.ClientConfigLoadingRules{ExplicitPath: kubeConfigPath}
	overrides := &clientcmd.ConfigOverrides{CurrentContext: contextName}

	config, err := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, overrides).ClientConfig()
	if err != nil {
		return nil, errs.Configuration("build cluster config", err)
	}

	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, errs.Cluster("connect to cluster", err)
	}
	return clientset, nil
}
