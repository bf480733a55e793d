// Package httpclient provides the shared HTTP transport for the REST client
// and a WebSocket dialer configured the same way.
//
// Callers MUST close response bodies, even on non-2xx status:
//
//	resp, err := httpclient.Default().Do(req)
//	if err != nil {
//	    return err
//	}
//	defer resp.Body.Close()
//
// Up to 100 idle connections are pooled in total, 10 per host, kept for
// 90 seconds.
package httpclient

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultTimeout bounds a whole request on the Default client.
const DefaultTimeout = 30 * time.Second

var (
	sharedTransport *http.Transport
	sharedDialer    *net.Dialer
	transportOnce   sync.Once

	defaultClient *http.Client
	clientOnce    sync.Once
)

func transport() *http.Transport {
	transportOnce.Do(func() {
		sharedDialer = &net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}
		sharedTransport = &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           sharedDialer.DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			ResponseHeaderTimeout: 30 * time.Second,
		}
	})
	return sharedTransport
}

// Default returns the shared client with a 30-second timeout.
func Default() *http.Client {
	clientOnce.Do(func() {
		defaultClient = &http.Client{
			Transport: transport(),
			Timeout:   DefaultTimeout,
		}
	})
	return defaultClient
}

// WithTimeout returns a client on the shared transport with its own timeout.
// A zero timeout means none; use context cancellation instead.
func WithTimeout(d time.Duration) *http.Client {
	if d == DefaultTimeout {
		return Default()
	}
	return &http.Client{Transport: transport(), Timeout: d}
}

// Dialer returns a WebSocket dialer that uses the shared proxy and TCP
// settings. handshake bounds the HTTP upgrade.
func Dialer(handshake time.Duration) *websocket.Dialer {
	transport()
	return &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		NetDialContext:   sharedDialer.DialContext,
		HandshakeTimeout: handshake,
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
	}
}
