package mcphost

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nancy-core/nancy/pkg/config"
)

// newTransport builds the MCP SDK transport for one configured content
// processor. Stdio processors are launched as child processes; http and
// sse processors get a client tuned by the same config block.
func newTransport(cfg config.TransportConfig) (mcpsdk.Transport, error) {
	switch cfg.Type {
	case config.TransportTypeStdio:
		if cfg.Command == "" {
			return nil, fmt.Errorf("stdio transport requires command")
		}
		cmd := exec.Command(cfg.Command, cfg.Args...)
		cmd.Env = os.Environ()
		for k, v := range cfg.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
		return &mcpsdk.CommandTransport{Command: cmd}, nil
	case config.TransportTypeHTTP:
		if cfg.URL == "" {
			return nil, fmt.Errorf("http transport requires url")
		}
		return &mcpsdk.StreamableClientTransport{
			Endpoint:   cfg.URL,
			HTTPClient: httpClientFor(cfg),
		}, nil
	case config.TransportTypeSSE:
		if cfg.URL == "" {
			return nil, fmt.Errorf("sse transport requires url")
		}
		return &mcpsdk.SSEClientTransport{
			Endpoint:   cfg.URL,
			HTTPClient: httpClientFor(cfg),
		}, nil
	default:
		return nil, fmt.Errorf("unsupported transport type: %s", cfg.Type)
	}
}

// httpClientFor returns nil when the config carries no client settings, so
// the SDK falls back to its default client.
func httpClientFor(cfg config.TransportConfig) *http.Client {
	if cfg.BearerToken == "" && cfg.VerifySSL == nil && cfg.Timeout <= 0 {
		return nil
	}

	base := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.VerifySSL != nil && !*cfg.VerifySSL {
		base.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: true, //nolint:gosec // user-configured
			MinVersion:         tls.VersionTLS12,
		}
	}

	client := &http.Client{Transport: base}
	if cfg.BearerToken != "" {
		client.Transport = &authRoundTripper{next: client.Transport, token: cfg.BearerToken}
	}
	if cfg.Timeout > 0 {
		client.Timeout = time.Duration(cfg.Timeout) * time.Second
	}
	return client
}

// authRoundTripper stamps a bearer token onto every outgoing request.
type authRoundTripper struct {
	next  http.RoundTripper
	token string
}

func (t *authRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+t.token)
	return t.next.RoundTrip(req)
}
