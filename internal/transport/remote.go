package transport

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// RemoteLauncher speaks Streamable-HTTP (or legacy SSE) to a configured
// endpoint (spec §4.1 remote variant), with per-provider connect/read
// timeouts.
//
// Grounded on _examples/codeready-toolchain-tarsy/pkg/mcp/transport.go's
// createHTTPTransport/createSSETransport: &mcp.StreamableClientTransport{
// Endpoint: ...} / &mcp.SSEClientTransport{Endpoint: ...} with an injected
// *http.Client for timeouts, confirmed against the same construct appearing
// across other_examples (mcpany-core, sipeed-picoclaw, amir-the-h-mcp-hub).
type RemoteLauncher struct {
	Name           string
	Endpoint       string
	UseSSE         bool
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration

	alive bool
}

// NewRemoteLauncher builds a launcher for an HTTP(S) MCP endpoint.
func NewRemoteLauncher(name, endpoint string, useSSE bool, connectTimeout, readTimeout time.Duration) *RemoteLauncher {
	return &RemoteLauncher{
		Name:           name,
		Endpoint:       endpoint,
		UseSSE:         useSSE,
		ConnectTimeout: connectTimeout,
		ReadTimeout:    readTimeout,
	}
}

func (l *RemoteLauncher) httpClient() *http.Client {
	base := http.DefaultTransport.(*http.Transport).Clone()
	connectTimeout := l.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}
	base.DialContext = (&net.Dialer{Timeout: connectTimeout}).DialContext

	readTimeout := l.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 30 * time.Second
	}
	return &http.Client{Transport: base, Timeout: readTimeout}
}

func (l *RemoteLauncher) Launch(_ context.Context) (mcp.Transport, error) {
	client := l.httpClient()
	l.alive = true
	if l.UseSSE {
		return &mcp.SSEClientTransport{Endpoint: l.Endpoint, HTTPClient: client}, nil
	}
	return &mcp.StreamableClientTransport{Endpoint: l.Endpoint, HTTPClient: client}, nil
}

func (l *RemoteLauncher) Close(_ context.Context) error {
	l.alive = false
	return nil
}

func (l *RemoteLauncher) Alive() bool {
	return l.alive
}

func (l *RemoteLauncher) Stderr() []string {
	return nil
}
