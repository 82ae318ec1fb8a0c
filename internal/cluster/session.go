// Package cluster turns stored connection records into live, short-lived
// Kubernetes API sessions and performs all reads and remediation verbs
// against them. Live reads never propagate errors; they degrade to fixed
// fallback payloads so the caller always gets a report.
package cluster

import (
	"fmt"
	"time"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"

	"github.com/clusterdeck/clusterdeck/internal/storage"
)

// Auth is the tagged credential union for a connection. Exactly one mode is
// populated; authFromConnection validates this exhaustively at construction
// time instead of trusting whichever fields happen to be set.
type Auth interface {
	authMode() string
}

// AuthBearer authenticates with a bearer token
type AuthBearer struct {
	Token string
}

func (AuthBearer) authMode() string { return "bearer" }

// AuthClientCert authenticates with a client certificate and key pair
type AuthClientCert struct {
	Cert string
	Key  string
}

func (AuthClientCert) authMode() string { return "client-cert" }

// SessionError is a structural credential/configuration error caught at
// session-build time, before any network call.
type SessionError struct {
	Reason string
}

// Error returns the error message
func (e *SessionError) Error() string {
	return fmt.Sprintf("invalid connection: %s", e.Reason)
}

func authFromConnection(conn *storage.ClusterConnection) (Auth, error) {
	hasBearer := conn.AuthBearerToken != ""
	hasCert := conn.AuthClientCert != "" || conn.AuthClientKey != ""

	switch {
	case hasBearer && hasCert:
		return nil, &SessionError{Reason: "both bearer token and client certificate configured"}
	case hasBearer:
		return AuthBearer{Token: conn.AuthBearerToken}, nil
	case hasCert:
		if conn.AuthClientCert == "" || conn.AuthClientKey == "" {
			return nil, &SessionError{Reason: "client certificate auth requires both cert and key"}
		}
		return AuthClientCert{Cert: conn.AuthClientCert, Key: conn.AuthClientKey}, nil
	default:
		return nil, &SessionError{Reason: "no credentials configured"}
	}
}

// Session is an ephemeral, in-memory API session for one connection.
// Sessions are cheap to build and are not cached across calls.
type Session struct {
	ConnectionID string
	Name         string
	Clientset    kubernetes.Interface
}

// BuildSession constructs a session from the stored connection. It fails
// fast with a *SessionError when construction is structurally invalid and
// never touches the network. The timeout is baked into the client so every
// request issued through the session is bounded, including calls that take
// no context such as the discovery version check.
func BuildSession(conn *storage.ClusterConnection, timeout time.Duration) (*Session, error) {
	if conn == nil {
		return nil, &SessionError{Reason: "connection is nil"}
	}
	if conn.APIURL == "" {
		return nil, &SessionError{Reason: "api url is empty"}
	}

	auth, err := authFromConnection(conn)
	if err != nil {
		return nil, err
	}

	cfg := &rest.Config{
		Host:    conn.APIURL,
		Timeout: timeout,
	}
	if conn.InsecureTLS {
		cfg.TLSClientConfig.Insecure = true
	} else if conn.CACert != "" {
		cfg.TLSClientConfig.CAData = []byte(conn.CACert)
	}

	switch a := auth.(type) {
	case AuthBearer:
		cfg.BearerToken = a.Token
	case AuthClientCert:
		cfg.TLSClientConfig.CertData = []byte(a.Cert)
		cfg.TLSClientConfig.KeyData = []byte(a.Key)
	}

	clientset, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, &SessionError{Reason: fmt.Sprintf("client construction failed: %v", err)}
	}

	return &Session{
		ConnectionID: conn.ID,
		Name:         conn.Name,
		Clientset:    clientset,
	}, nil
}
