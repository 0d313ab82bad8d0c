package executor

import (
	"context"
	"errors"
	"fmt"
	"io"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/tools/remotecommand"
	utilexec "k8s.io/client-go/util/exec"

	"github.com/polarfoxDev/wharf/internal/labels"
)

// Kube runs scripts inside pod containers through the pods/exec subresource
type Kube struct {
	Config    *rest.Config
	Clientset kubernetes.Interface
}

// NewKube builds a Kube backend from a kubeconfig path, or from the
// in-cluster service account when the path is empty.
func NewKube(kubeconfig string) (*Kube, error) {
	var (
		cfg *rest.Config
		err error
	)
	if kubeconfig == "" {
		cfg, err = rest.InClusterConfig()
	} else {
		cfg, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
	}
	if err != nil {
		return nil, fmt.Errorf("load kubernetes config: %w", err)
	}
	cs, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("create kubernetes client: %w", err)
	}
	return &Kube{Config: cfg, Clientset: cs}, nil
}

func (k *Kube) Name() string { return "kubernetes" }

func (k *Kube) Run(ctx context.Context, target Target, script string, stdout, stderr io.Writer) (int, error) {
	req := k.Clientset.CoreV1().RESTClient().Post().
		Resource("pods").
		Name(target.Pod).
		Namespace(target.Namespace).
		SubResource("exec").
		VersionedParams(&corev1.PodExecOptions{
			Container: target.Container,
			Command:   []string{"/bin/sh", "-c", script},
			Stdout:    true,
			Stderr:    true,
		}, scheme.ParameterCodec)

	exec, err := remotecommand.NewSPDYExecutor(k.Config, "POST", req.URL())
	if err != nil {
		return -1, fmt.Errorf("create executor for %s: %w", target, err)
	}

	err = exec.StreamWithContext(ctx, remotecommand.StreamOptions{
		Stdout: stdout,
		Stderr: stderr,
	})
	if err == nil {
		return 0, nil
	}
	var exitErr utilexec.ExitError
	if errors.As(err, &exitErr) && exitErr.Exited() {
		return exitErr.ExitStatus(), nil
	}
	if ctx.Err() != nil {
		return -1, ctx.Err()
	}
	return -1, fmt.Errorf("stream exec on %s: %w", target, err)
}

// FindContainer returns the name of a running pod in namespace labeled as
// the given member of the instance with token, or "" when none is running.
func (k *Kube) FindContainer(ctx context.Context, namespace, token, member string) (string, error) {
	selector := labels.LMember + "=" + member
	if token != "" {
		selector += "," + labels.LToken + "=" + token
	}
	pods, err := k.Clientset.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{
		LabelSelector: selector,
	})
	if err != nil {
		return "", fmt.Errorf("list pods of %s/%s: %w", namespace, member, err)
	}
	for _, p := range pods.Items {
		if p.Status.Phase == corev1.PodRunning && p.DeletionTimestamp == nil {
			return p.Name, nil
		}
	}
	return "", nil
}
