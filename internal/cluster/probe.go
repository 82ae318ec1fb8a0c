package cluster

import (
	"context"
	"errors"
	"fmt"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/clusterdeck/clusterdeck/internal/storage"
)

const namespaceProbePageSize = 10

// ProbeDetails is the machine-readable subset of a probe failure. Free-text
// stack traces never end up here.
type ProbeDetails struct {
	Stage      string `json:"stage"`
	StatusCode int    `json:"statusCode,omitempty"`
	Body       string `json:"body,omitempty"`
	Code       string `json:"code,omitempty"`
}

// ProbeResult reports the outcome of a staged reachability check
type ProbeResult struct {
	OK                bool          `json:"ok"`
	ClusterName       string        `json:"clusterName,omitempty"`
	KubernetesVersion string        `json:"kubernetesVersion,omitempty"`
	Error             string        `json:"error,omitempty"`
	Details           *ProbeDetails `json:"details,omitempty"`
}

type stageError struct {
	stage string
	err   error
}

func (e *stageError) Error() string {
	return fmt.Sprintf("%s probe failed: %v", e.stage, e.err)
}

func (e *stageError) Unwrap() error { return e.err }

// Probe verifies a connection in two ordered stages: a version/identity
// check, then a bounded namespace listing. A failure in either stage is
// tagged with the stage name so the final message is always
// "<stage> probe failed: <underlying message>".
func (s *Service) Probe(ctx context.Context, conn *storage.ClusterConnection) ProbeResult {
	sess, err := s.buildSession(conn, s.probeTimeout)
	if err != nil {
		s.metrics.ObserveProbe("failed")
		return ProbeResult{OK: false, Error: err.Error()}
	}

	ctx, cancel := context.WithTimeout(ctx, s.probeTimeout)
	defer cancel()

	version, err := s.probeVersion(sess)
	if err != nil {
		serr := &stageError{stage: "version", err: err}
		s.metrics.ObserveProbe("failed")
		return ProbeResult{OK: false, Error: serr.Error(), Details: probeDetails("version", err)}
	}

	if err := s.probeNamespaces(ctx, sess); err != nil {
		serr := &stageError{stage: "namespaces", err: err}
		s.metrics.ObserveProbe("failed")
		return ProbeResult{OK: false, Error: serr.Error(), Details: probeDetails("namespaces", err)}
	}

	s.metrics.ObserveProbe("ok")
	return ProbeResult{
		OK:                true,
		ClusterName:       conn.Name,
		KubernetesVersion: version,
	}
}

func (s *Service) probeVersion(sess *Session) (string, error) {
	info, err := sess.Clientset.Discovery().ServerVersion()
	if err != nil {
		return "", err
	}
	return info.GitVersion, nil
}

func (s *Service) probeNamespaces(ctx context.Context, sess *Session) error {
	_, err := sess.Clientset.CoreV1().Namespaces().List(ctx, metav1.ListOptions{
		Limit: namespaceProbePageSize,
	})
	return err
}

// probeDetails extracts the machine-readable subset of a cluster error:
// HTTP status, response body, and error code when the error carries an API
// status, just the stage tag otherwise.
func probeDetails(stage string, err error) *ProbeDetails {
	details := &ProbeDetails{Stage: stage}
	var statusErr *apierrors.StatusError
	if errors.As(err, &statusErr) {
		status := statusErr.Status()
		details.StatusCode = int(status.Code)
		details.Body = status.Message
		details.Code = string(status.Reason)
	}
	return details
}
