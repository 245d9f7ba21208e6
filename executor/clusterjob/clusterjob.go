// Package clusterjob implements the Cluster-Job Executor: each run is
// a namespace-scoped Kubernetes Job running the pinned runner image,
// with the request written to a ConfigMap mounted into the pod and the
// response read back from the completed pod's logs. Pods run under a
// dedicated ServiceAccount with no token mounted. The Job does not
// reference Config.NetworkPolicyName, and this package creates no
// NetworkPolicy.
package clusterjob

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/google/uuid"

	"github.com/tabularun/tabularun/runnerproto"
	"github.com/tabularun/tabularun/taxonomy"
	"github.com/tabularun/tabularun/types"
)

// Config configures the Cluster-Job Executor.
type Config struct {
	Namespace          string
	ServiceAccountName string
	NetworkPolicyName  string
	RunnerImage        string
	CPULimit           string
	MemoryLimit        string
	// RetentionSeconds sets the Job's TTL-after-finished; the Job and
	// its Pod/ConfigMap are garbage-collected by the cluster after this
	// long, independent of Cleanup being called.
	RetentionSeconds int32
	// PollInterval sets how often Status is polled while a Job runs.
	PollInterval time.Duration
}

// Executor runs requests as Kubernetes Jobs via clientset.
type Executor struct {
	cfg       Config
	clientset kubernetes.Interface

	mu      sync.Mutex
	results map[string]*types.RunnerResponse
}

// New constructs a Cluster-Job Executor over an already-authenticated
// clientset (built by the caller from in-cluster config or a kubeconfig
// file, per the deployment's own discovery rules).
func New(cfg Config, clientset kubernetes.Interface) *Executor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.RetentionSeconds <= 0 {
		cfg.RetentionSeconds = 300
	}
	return &Executor{
		cfg:       cfg,
		clientset: clientset,
		results:   make(map[string]*types.RunnerResponse),
	}
}

// Submit creates a Job for req, waits for it to reach a terminal
// condition, pulls the normalized response from the completed pod's
// logs, and returns.
func (e *Executor) Submit(ctx context.Context, req *types.RunnerRequest) (string, *types.RunnerResponse, error) {
	if err := req.Validate(); err != nil {
		return "", nil, taxonomy.Wrap(taxonomy.ErrValidation, "invalid runner request", err)
	}

	runID := uuid.NewString()
	name := fmt.Sprintf("tabularun-run-%s", runID)

	payload, err := runnerproto.Encode(req)
	if err != nil {
		return runID, nil, err
	}

	cmName, err := e.createRequestConfigMap(ctx, name, payload)
	if err != nil {
		return runID, nil, taxonomy.Wrap(taxonomy.ErrBackendUnavailable, "create request configmap", err)
	}

	if err := e.createJob(ctx, name, cmName, req.TimeoutSeconds); err != nil {
		return runID, nil, taxonomy.Wrap(taxonomy.ErrBackendUnavailable, "create job", err)
	}

	resp, err := e.awaitCompletion(ctx, name, req)
	if err != nil {
		return runID, nil, err
	}

	e.store(runID, resp)
	return runID, resp, nil
}

func (e *Executor) createRequestConfigMap(ctx context.Context, name string, payload []byte) (string, error) {
	cm := &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name + "-request",
			Namespace: e.cfg.Namespace,
		},
		BinaryData: map[string][]byte{"request.json": payload},
	}
	_, err := e.clientset.CoreV1().ConfigMaps(e.cfg.Namespace).Create(ctx, cm, metav1.CreateOptions{})
	if err != nil {
		return "", err
	}
	return cm.Name, nil
}

func (e *Executor) createJob(ctx context.Context, name, requestConfigMap string, timeoutSeconds int) error {
	backoffLimit := int32(0)
	ttl := e.cfg.RetentionSeconds
	activeDeadline := int64(timeoutSeconds)

	resources := corev1.ResourceRequirements{Limits: corev1.ResourceList{}}
	if e.cfg.CPULimit != "" {
		resources.Limits[corev1.ResourceCPU] = resource.MustParse(e.cfg.CPULimit)
	}
	if e.cfg.MemoryLimit != "" {
		resources.Limits[corev1.ResourceMemory] = resource.MustParse(e.cfg.MemoryLimit)
	}

	readOnly := true
	noEscalation := false

	job := &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: e.cfg.Namespace,
			Labels:    map[string]string{"app": "tabularun-runner", "run": name},
		},
		Spec: batchv1.JobSpec{
			BackoffLimit:            &backoffLimit,
			TTLSecondsAfterFinished: &ttl,
			ActiveDeadlineSeconds:   &activeDeadline,
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{
					Labels: map[string]string{"app": "tabularun-runner", "run": name},
				},
				Spec: corev1.PodSpec{
					RestartPolicy:      corev1.RestartPolicyNever,
					ServiceAccountName: e.cfg.ServiceAccountName,
					AutomountServiceAccountToken: boolPtr(false),
					Volumes: []corev1.Volume{
						{
							Name: "request",
							VolumeSource: corev1.VolumeSource{
								ConfigMap: &corev1.ConfigMapVolumeSource{
									LocalObjectReference: corev1.LocalObjectReference{Name: requestConfigMap},
								},
							},
						},
					},
					Containers: []corev1.Container{
						{
							Name:      "runner",
							Image:     e.cfg.RunnerImage,
							Args:      []string{"--request-file", "/var/run/tabularun/request.json"},
							Resources: resources,
							VolumeMounts: []corev1.VolumeMount{
								{Name: "request", MountPath: "/var/run/tabularun", ReadOnly: true},
							},
							SecurityContext: &corev1.SecurityContext{
								ReadOnlyRootFilesystem:   &readOnly,
								AllowPrivilegeEscalation: &noEscalation,
								Capabilities:             &corev1.Capabilities{Drop: []corev1.Capability{"ALL"}},
							},
						},
					},
				},
			},
		},
	}

	_, err := e.clientset.BatchV1().Jobs(e.cfg.Namespace).Create(ctx, job, metav1.CreateOptions{})
	return err
}

func boolPtr(b bool) *bool { return &b }

// awaitCompletion polls the Job's conditions until it reports Complete
// or Failed, then fetches the single pod's logs for the normalized
// response. A context deadline or cancellation while polling is
// surfaced as RUNNER_TIMEOUT, since from the caller's perspective the
// run never produced a result within its bound.
func (e *Executor) awaitCompletion(ctx context.Context, jobName string, req *types.RunnerRequest) (*types.RunnerResponse, error) {
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return types.NewErrorResponse(types.RunnerResultTimeout, "RUNNER_TIMEOUT", "cluster job polling cancelled"), nil
		case <-ticker.C:
			job, err := e.clientset.BatchV1().Jobs(e.cfg.Namespace).Get(ctx, jobName, metav1.GetOptions{})
			if err != nil {
				if apierrors.IsNotFound(err) {
					return types.NewErrorResponse(types.RunnerResultError, "RUNNER_INTERNAL_ERROR", "job disappeared before completion"), nil
				}
				continue
			}
			for _, cond := range job.Status.Conditions {
				if cond.Status != corev1.ConditionTrue {
					continue
				}
				switch cond.Type {
				case batchv1.JobComplete:
					return e.fetchResult(ctx, jobName, req)
				case batchv1.JobFailed:
					return types.NewErrorResponse(types.RunnerResultError, "RUNNER_INTERNAL_ERROR",
						fmt.Sprintf("job failed: %s", cond.Message)), nil
				}
			}
		}
	}
}

func (e *Executor) fetchResult(ctx context.Context, jobName string, req *types.RunnerRequest) (*types.RunnerResponse, error) {
	pods, err := e.clientset.CoreV1().Pods(e.cfg.Namespace).List(ctx, metav1.ListOptions{
		LabelSelector: "run=" + jobName,
	})
	if err != nil || len(pods.Items) == 0 {
		return types.NewErrorResponse(types.RunnerResultError, "RUNNER_INTERNAL_ERROR", "no pod found for completed job"), nil
	}

	req2 := e.clientset.CoreV1().Pods(e.cfg.Namespace).GetLogs(pods.Items[0].Name, &corev1.PodLogOptions{})
	stream, err := req2.Stream(ctx)
	if err != nil {
		return types.NewErrorResponse(types.RunnerResultError, "RUNNER_INTERNAL_ERROR", "failed to stream pod logs: "+err.Error()), nil
	}
	defer stream.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(stream); err != nil {
		return types.NewErrorResponse(types.RunnerResultError, "RUNNER_INTERNAL_ERROR", "failed to read pod logs: "+err.Error()), nil
	}

	resp, err := runnerproto.Decode(lastJSONLine(buf.Bytes()))
	if err != nil {
		resp = types.NewErrorResponse(types.RunnerResultError, "RUNNER_INTERNAL_ERROR", err.Error())
	}
	return runnerproto.ShapeOutput(resp, req), nil
}

// lastJSONLine returns the final non-empty line of log output, since
// the runner process may emit diagnostic lines before its single JSON
// response document.
func lastJSONLine(log []byte) []byte {
	lines := bytes.Split(bytes.TrimRight(log, "\n"), []byte("\n"))
	for i := len(lines) - 1; i >= 0; i-- {
		line := bytes.TrimSpace(lines[i])
		if len(line) > 0 && line[0] == '{' {
			return line
		}
	}
	return log
}

// Status reports Succeeded/Failed/TimedOut once Submit has returned.
func (e *Executor) Status(_ context.Context, runID string) (types.RunnerStatus, error) {
	resp, ok := e.get(runID)
	if !ok {
		return "", fmt.Errorf("clusterjob: unknown run %q", runID)
	}
	switch resp.Status {
	case types.RunnerResultSuccess:
		return types.RunnerStatusSucceeded, nil
	case types.RunnerResultTimeout:
		return types.RunnerStatusTimedOut, nil
	default:
		return types.RunnerStatusFailed, nil
	}
}

// Result returns the normalized response recorded by Submit.
func (e *Executor) Result(_ context.Context, runID string) (*types.RunnerResponse, error) {
	resp, ok := e.get(runID)
	if !ok {
		return nil, fmt.Errorf("clusterjob: unknown run %q", runID)
	}
	return resp, nil
}

// Cancel deletes the Job (and its pod, via foreground propagation) if
// it hasn't finished yet. Best-effort: errors are swallowed since by
// the time a caller observes a runID, Submit has already returned.
func (e *Executor) Cancel(ctx context.Context, runID string) error {
	name := "tabularun-run-" + runID
	policy := metav1.DeletePropagationForeground
	_ = e.clientset.BatchV1().Jobs(e.cfg.Namespace).Delete(ctx, name, metav1.DeleteOptions{
		PropagationPolicy: &policy,
	})
	return nil
}

// Cleanup deletes the Job's backing ConfigMap and drops the cached
// result; the Job/Pod themselves are reclaimed by TTLSecondsAfterFinished.
func (e *Executor) Cleanup(ctx context.Context, runID string) error {
	name := fmt.Sprintf("tabularun-run-%s-request", runID)
	_ = e.clientset.CoreV1().ConfigMaps(e.cfg.Namespace).Delete(ctx, name, metav1.DeleteOptions{})

	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.results, runID)
	return nil
}

func (e *Executor) store(runID string, resp *types.RunnerResponse) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.results[runID] = resp
}

func (e *Executor) get(runID string) (*types.RunnerResponse, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	resp, ok := e.results[runID]
	return resp, ok
}
