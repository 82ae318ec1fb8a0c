package cluster

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"

	"github.com/clusterdeck/clusterdeck/internal/hub"
	"github.com/clusterdeck/clusterdeck/internal/storage"
)

// Remediation verbs. These are the only writes this system ever issues
// against a tenant cluster. There is no cancellation of an in-flight verb;
// the auto-heal dedup window is the safety mechanism.

// ScaleDeployment sets the replica count of a deployment
func (s *Service) ScaleDeployment(ctx context.Context, conn *storage.ClusterConnection, namespace, name string, replicas int32) error {
	sess, err := s.session(conn)
	if err != nil {
		return err
	}
	ctx, cancel := s.callContext(ctx)
	defer cancel()

	patch := []byte(fmt.Sprintf(`{"spec":{"replicas":%d}}`, replicas))
	_, err = sess.Clientset.AppsV1().Deployments(namespace).Patch(
		ctx, name, types.StrategicMergePatchType, patch, metav1.PatchOptions{})
	if err != nil {
		return fmt.Errorf("failed to scale deployment %s/%s: %w", namespace, name, err)
	}
	s.publishWorkflow(fmt.Sprintf("scale %s/%s to %d replicas", namespace, name, replicas))
	return nil
}

// PauseResumeDeployment pauses or resumes a deployment's rollout
func (s *Service) PauseResumeDeployment(ctx context.Context, conn *storage.ClusterConnection, namespace, name string, pause bool) error {
	sess, err := s.session(conn)
	if err != nil {
		return err
	}
	ctx, cancel := s.callContext(ctx)
	defer cancel()

	patch := []byte(fmt.Sprintf(`{"spec":{"paused":%t}}`, pause))
	_, err = sess.Clientset.AppsV1().Deployments(namespace).Patch(
		ctx, name, types.StrategicMergePatchType, patch, metav1.PatchOptions{})
	if err != nil {
		verb := "pause"
		if !pause {
			verb = "resume"
		}
		return fmt.Errorf("failed to %s deployment %s/%s: %w", verb, namespace, name, err)
	}
	verb := "paused"
	if !pause {
		verb = "resumed"
	}
	s.publishWorkflow(fmt.Sprintf("%s rollout of %s/%s", verb, namespace, name))
	return nil
}

// RestartDeployment triggers a rolling restart by stamping the pod template
// with a restartedAt annotation, the same mechanism kubectl rollout restart
// uses.
func (s *Service) RestartDeployment(ctx context.Context, conn *storage.ClusterConnection, namespace, name string) error {
	sess, err := s.session(conn)
	if err != nil {
		return err
	}
	ctx, cancel := s.callContext(ctx)
	defer cancel()

	patch := []byte(fmt.Sprintf(
		`{"spec":{"template":{"metadata":{"annotations":{"clusterdeck.io/restartedAt":%q}}}}}`,
		time.Now().Format(time.RFC3339)))
	_, err = sess.Clientset.AppsV1().Deployments(namespace).Patch(
		ctx, name, types.StrategicMergePatchType, patch, metav1.PatchOptions{})
	if err != nil {
		return fmt.Errorf("failed to restart deployment %s/%s: %w", namespace, name, err)
	}
	return nil
}

func (s *Service) publishWorkflow(message string) {
	if s.hub == nil {
		return
	}
	s.hub.Publish(hub.TopicWorkflow, hub.WorkflowProgress{
		ID:         uuid.NewString(),
		Stage:      "complete",
		Status:     "success",
		Percentage: 100,
		Message:    message,
		Timestamp:  time.Now(),
	})
}
