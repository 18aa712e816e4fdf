// Package kube deletes kubernetes namespaces and persistent volume claims.
package kube

import (
	"context"
	"fmt"

	"github.com/LambdaTest/janitor/config"
	"github.com/LambdaTest/janitor/pkg/core"
	errs "github.com/LambdaTest/janitor/pkg/errors"
	"github.com/LambdaTest/janitor/pkg/lumber"
	"gopkg.in/guregu/null.v4/zero"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

type kubernetesExecutor struct {
	client kubernetes.Interface
	logger lumber.Logger
}

// New returns an executor for the cluster in cfg. The in-cluster config is used
// when no kubeconfig path is set.
func New(cfg *config.Config, logger lumber.Logger) (core.CleanupExecutor, error) {
	restConfig, err := restConfig(cfg.Kubernetes.KubeConfig)
	if err != nil {
		return nil, err
	}
	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, err
	}
	return NewWithClient(clientset, logger), nil
}

// NewWithClient returns an executor using client.
func NewWithClient(client kubernetes.Interface, logger lumber.Logger) core.CleanupExecutor {
	return &kubernetesExecutor{client: client, logger: logger}
}

func restConfig(kubeconfig string) (*rest.Config, error) {
	if kubeconfig == "" {
		return rest.InClusterConfig()
	}
	return clientcmd.BuildConfigFromFlags("", kubeconfig)
}

func (k *kubernetesExecutor) CleanUp(ctx context.Context, identity core.ResourceIdentity, metadata zero.String) core.StepResult {
	var err error
	switch id := identity.(type) {
	case core.KubernetesNamespace:
		k.logger.Debugf("deleting namespace %s", id.Namespace)
		err = k.client.CoreV1().Namespaces().Delete(ctx, id.Namespace, metav1.DeleteOptions{})
	case core.PersistentVolumeClaim:
		k.logger.Debugf("deleting pvc %s in namespace %s", id.Name, id.Namespace)
		err = k.client.CoreV1().PersistentVolumeClaims(id.Namespace).Delete(ctx, id.Name, metav1.DeleteOptions{})
	default:
		return core.StepFailed(fmt.Errorf("%w: kind %s", errs.ErrUnsupportedResource, identity.Kind()))
	}
	return classify(err)
}

func classify(err error) core.StepResult {
	switch {
	case err == nil, apierrors.IsNotFound(err):
		return core.StepSucceeded()
	case apierrors.IsForbidden(err),
		apierrors.IsUnauthorized(err),
		apierrors.IsInvalid(err),
		apierrors.IsBadRequest(err),
		apierrors.IsMethodNotSupported(err):
		return core.StepFailed(fmt.Errorf("%w: %v", errs.ErrPermanentExternal, err))
	default:
		return core.StepRetry(fmt.Errorf("%w: %v", errs.ErrRetryableExternal, err))
	}
}
