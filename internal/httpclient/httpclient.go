// Package httpclient builds the outbound HTTP clients. Each client talks to
// a single host, so pools are sized per destination.
package httpclient

import (
	"net"
	"net/http"
	"time"
)

// Telegram delivers at most one update per webhook connection and
// setWebhook's max_connections defaults to 40.
const (
	telegramMaxConns  = 40
	telegramIdleConns = 8
)

// One insert per callback, and PostgREST sits behind a connection-limited
// pooler.
const (
	datastoreMaxConns  = 16
	datastoreIdleConns = 4
)

const defaultTimeout = 30 * time.Second

type profile struct {
	maxConns  int
	idleConns int
	idleTTL   time.Duration
}

// Telegram returns the client for Bot API calls.
func Telegram(timeout time.Duration) *http.Client {
	return build(profile{
		maxConns:  telegramMaxConns,
		idleConns: telegramIdleConns,
		idleTTL:   90 * time.Second,
	}, timeout)
}

// Datastore returns the client for the Supabase REST endpoint. Idle
// connections are dropped sooner than Telegram's since the Supabase edge
// closes them after about a minute.
func Datastore(timeout time.Duration) *http.Client {
	return build(profile{
		maxConns:  datastoreMaxConns,
		idleConns: datastoreIdleConns,
		idleTTL:   50 * time.Second,
	}, timeout)
}

func build(p profile, timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		ForceAttemptHTTP2:   true,
		MaxIdleConns:        p.idleConns,
		MaxIdleConnsPerHost: p.idleConns,
		MaxConnsPerHost:     p.maxConns,
		IdleConnTimeout:     p.idleTTL,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
