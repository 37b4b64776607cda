// Package httpx builds the single shared HTTP client the engine's remote
// collaborators are injected with, instead of each owning its own
// implicit transport.
package httpx

import (
	"net"
	"net/http"
	"time"
)

const (
	// PoolSize bounds idle connections kept per host.
	PoolSize = 5

	connectTimeout = 15 * time.Second
	readTimeout    = 60 * time.Second
)

// New builds the shared *http.Client used by extractors, the mapper, the
// resolver, and the downloaders: HTTP/2 preferred, a small connection
// pool, identity encoding, and redirects followed.
func New() *http.Client {
	transport := &http.Transport{
		MaxIdleConns:        PoolSize,
		MaxIdleConnsPerHost: PoolSize,
		MaxConnsPerHost:     PoolSize,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout: connectTimeout,
		}).DialContext,
		DisableCompression: true, // identity encoding
		ForceAttemptHTTP2:   true,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   readTimeout,
	}
}
