// Package httpclient builds outbound HTTP clients with cached DNS
// resolution, so repeated webhook deliveries to the same host do not
// hammer the resolver.
package httpclient

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/dnscache"
	"github.com/rs/zerolog/log"
)

const resolverRefreshInterval = 5 * time.Minute

var (
	resolver     *dnscache.Resolver
	resolverOnce sync.Once
)

func cachedResolver() *dnscache.Resolver {
	resolverOnce.Do(func() {
		resolver = &dnscache.Resolver{}
		go func() {
			ticker := time.NewTicker(resolverRefreshInterval)
			defer ticker.Stop()
			for range ticker.C {
				resolver.Refresh(true)
				log.Debug().Msg("DNS cache refreshed")
			}
		}()
	})
	return resolver
}

// dialWithCache resolves through the shared cache and dials the first
// returned address.
func dialWithCache(ctx context.Context, network, address string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return nil, err
	}

	ips, err := cachedResolver().LookupHost(ctx, host)
	if err != nil {
		return nil, err
	}
	if len(ips) == 0 {
		return nil, &net.DNSError{Err: "no addresses found", Name: host}
	}

	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return dialer.DialContext(ctx, network, net.JoinHostPort(ips[0], port))
}

// New returns a client with the cached-DNS transport and the given overall
// request timeout.
func New(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialWithCache,
		MaxIdleConns:          20,
		MaxIdleConnsPerHost:   5,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}
