package stsfetcher

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

var ErrClusterNotConfigured = errors.New("cluster is not configured")

// Endpoint describes the credential-issuing service for a single fetch.
// Cluster names the upstream to resolve, URI carries the path and query to
// request on it and Timeout bounds the outbound call.
type Endpoint struct {
	Cluster string
	URI     string
	Timeout time.Duration
}

// ClusterResolver maps a cluster name to the base URL it is served on.
// Resolution happens before any network I/O so an unknown cluster fails a
// fetch synchronously.
type ClusterResolver interface {
	Resolve(cluster string) (*url.URL, error)
}

// StaticResolver resolves clusters from a fixed name to base-URL map.
type StaticResolver map[string]string

func (r StaticResolver) Resolve(cluster string) (*url.URL, error) {
	raw, ok := r[cluster]
	if !ok {
		return nil, fmt.Errorf("no target for %q, %w", cluster, ErrClusterNotConfigured)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("target for %q unparseable: %s, %w", cluster, err, ErrClusterNotConfigured)
	}
	return u, nil
}

// requestURL joins the resolved cluster base with the path and query of the
// endpoint URI. A path prefix on the base is kept in front of the URI path.
func requestURL(base *url.URL, endpointURI string) (*url.URL, error) {
	u, err := url.Parse(endpointURI)
	if err != nil {
		return nil, err
	}
	target := base.JoinPath(u.Path)
	target.RawQuery = u.RawQuery
	return target, nil
}
