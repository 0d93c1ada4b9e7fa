// Channel cache: tests that share (address, timeout, tls, user-agent) reuse
// one *grpc.ClientConn, guarded by a read-write lock per spec.md §5
// ("Shared-resource policy" — reads non-exclusive, insertions exclusive).
package grpcdial

import (
	"context"
	"fmt"
	"sync"
	"time"

	"google.golang.org/grpc"
)

type cacheKey struct {
	address     string
	timeout     time.Duration
	tlsFingerprint string
	userAgent   string
}

func fingerprint(t TLSConfig) string {
	return fmt.Sprintf("%v|%s|%s|%s|%s|%v", t.Enabled, t.CACert, t.ClientCert, t.ClientKey, t.ServerNameOverride, t.InsecureSkipVerify)
}

// ConnCache shares channels across tests with identical dial parameters.
type ConnCache struct {
	mu    sync.RWMutex
	conns map[cacheKey]*grpc.ClientConn
}

func NewConnCache() *ConnCache {
	return &ConnCache{conns: map[cacheKey]*grpc.ClientConn{}}
}

// Get returns a cached connection for opts, dialing and caching a new one on
// a miss.
func (c *ConnCache) Get(ctx context.Context, opts DialOptions) (*grpc.ClientConn, error) {
	key := cacheKey{
		address:        opts.Address,
		timeout:        opts.ConnectTimeout,
		tlsFingerprint: fingerprint(opts.TLS),
		userAgent:      opts.UserAgent,
	}

	c.mu.RLock()
	cc, ok := c.conns[key]
	c.mu.RUnlock()
	if ok {
		return cc, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if cc, ok := c.conns[key]; ok {
		return cc, nil
	}
	cc, err := Dial(ctx, opts)
	if err != nil {
		return nil, err
	}
	c.conns[key] = cc
	return cc, nil
}

// CloseAll closes every cached connection; used at process shutdown.
func (c *ConnCache) CloseAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, cc := range c.conns {
		_ = cc.Close()
		delete(c.conns, k)
	}
}
