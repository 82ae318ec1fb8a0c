package cluster

import (
	"context"
	"time"

	"k8s.io/client-go/kubernetes"

	"github.com/clusterdeck/clusterdeck/internal/hub"
	"github.com/clusterdeck/clusterdeck/internal/logging"
	"github.com/clusterdeck/clusterdeck/internal/metrics"
	"github.com/clusterdeck/clusterdeck/internal/storage"
)

// Service performs probes, live reads, telemetry collection, and remediation
// verbs against tenant clusters. Sessions are built per call; there is no
// long-lived connection state.
type Service struct {
	store        *storage.Store
	hub          *hub.Hub
	metrics      *metrics.Metrics
	logger       *logging.Logger
	probeTimeout time.Duration
	callTimeout  time.Duration

	// buildSession is overridable so tests can inject a fake clientset
	buildSession func(*storage.ClusterConnection, time.Duration) (*Session, error)
}

// Options configures a cluster service
type Options struct {
	Store        *storage.Store
	Hub          *hub.Hub
	Metrics      *metrics.Metrics
	ProbeTimeout time.Duration
	CallTimeout  time.Duration

	// SessionBuilder replaces the default credential-based session
	// construction. Used by tests to inject fake clientsets.
	SessionBuilder func(*storage.ClusterConnection, time.Duration) (*Session, error)
}

// NewService creates a cluster service
func NewService(opts Options) *Service {
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 10 * time.Second
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 15 * time.Second
	}
	builder := opts.SessionBuilder
	if builder == nil {
		builder = BuildSession
	}
	return &Service{
		store:        opts.Store,
		hub:          opts.Hub,
		metrics:      opts.Metrics,
		logger:       logging.GetLogger("cluster"),
		probeTimeout: opts.ProbeTimeout,
		callTimeout:  opts.CallTimeout,
		buildSession: builder,
	}
}

// session builds an ephemeral session whose client is bounded by the live
// call timeout. The probe builds its own session with the probe timeout.
func (s *Service) session(conn *storage.ClusterConnection) (*Session, error) {
	return s.buildSession(conn, s.callTimeout)
}

// Clientset builds an ephemeral clientset for the connection. Analyzers use
// it for listings the service does not wrap itself.
func (s *Service) Clientset(conn *storage.ClusterConnection) (kubernetes.Interface, error) {
	sess, err := s.session(conn)
	if err != nil {
		return nil, err
	}
	return sess.Clientset, nil
}

// CallContext bounds an analyzer-issued live call with the service's
// configured call timeout.
func (s *Service) CallContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return s.callContext(ctx)
}

// callContext bounds a live-cluster call with the configured timeout. On
// timeout the call fails like any other read failure and degrades to its
// fallback.
func (s *Service) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.callTimeout)
}

// degrade logs a failed live read and counts it. Callers return their fixed
// fallback payload right after.
func (s *Service) degrade(conn *storage.ClusterConnection, resource string, err error) {
	s.metrics.ObserveDegradedRead(resource)
	s.logger.WarnWithFields("live read degraded to fallback",
		logging.Field("connection_id", conn.ID),
		logging.Field("resource", resource),
		logging.Field("error", err.Error()),
	)
}
