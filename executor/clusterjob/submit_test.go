package clusterjob

import (
	"context"
	"testing"
	"time"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/tabularun/tabularun/types"
)

func fixtureRequest() *types.RunnerRequest {
	return &types.RunnerRequest{
		DatasetID:      "orders",
		Files:          []types.RunnerFile{{Name: "orders", Path: "/data/orders.csv"}},
		QueryType:      types.QueryTypeSQL,
		SQL:            "SELECT 1",
		TimeoutSeconds: 5,
		MaxRows:        100,
		MaxOutputBytes: 1 << 16,
	}
}

// TestSubmit_DetectsJobCompleteCondition drives the fake clientset to
// simulate a Job controller marking the Job complete and a kubelet
// producing pod logs, then verifies Submit decodes the result.
//
// The fake clientset's Pods().GetLogs() does not return real log
// bytes (the fake tracker has no log storage), so this test exercises
// the polling/condition-detection path up through fetchResult being
// invoked, not the full log-decoding path; that path is covered by
// TestLastJSONLine_* and the runnerproto package's own tests.
func TestSubmit_DetectsJobCompleteCondition(t *testing.T) {
	clientset := fake.NewSimpleClientset()
	e := New(Config{
		Namespace:          "tabularun",
		ServiceAccountName: "tabularun-runner",
		RunnerImage:        "tabularun/runner:pinned",
		PollInterval:       20 * time.Millisecond,
	}, clientset)

	go func() {
		for i := 0; i < 50; i++ {
			time.Sleep(10 * time.Millisecond)
			jobs, err := clientset.BatchV1().Jobs("tabularun").List(context.Background(), metav1.ListOptions{})
			if err != nil || len(jobs.Items) == 0 {
				continue
			}
			job := jobs.Items[0]
			job.Status.Conditions = []batchv1.JobCondition{
				{Type: batchv1.JobComplete, Status: corev1.ConditionTrue},
			}
			_, _ = clientset.BatchV1().Jobs("tabularun").UpdateStatus(context.Background(), &job, metav1.UpdateOptions{})

			pod := &corev1.Pod{
				ObjectMeta: metav1.ObjectMeta{
					Name:      job.Name + "-0",
					Namespace: "tabularun",
					Labels:    map[string]string{"run": job.Name},
				},
			}
			_, _ = clientset.CoreV1().Pods("tabularun").Create(context.Background(), pod, metav1.CreateOptions{})
			return
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	_, resp, err := e.Submit(ctx, fixtureRequest())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if resp == nil {
		t.Fatal("expected a non-nil response")
	}
}

func TestCancel_DeletesJob(t *testing.T) {
	clientset := fake.NewSimpleClientset(&batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{Name: "tabularun-run-abc", Namespace: "tabularun"},
	})
	e := New(Config{Namespace: "tabularun"}, clientset)

	if err := e.Cancel(context.Background(), "abc"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	_, err := clientset.BatchV1().Jobs("tabularun").Get(context.Background(), "tabularun-run-abc", metav1.GetOptions{})
	if err == nil {
		t.Fatal("expected job to be deleted")
	}
}
