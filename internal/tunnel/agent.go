package tunnel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultAgentAPIURL is the local API address of a stock ngrok agent.
const DefaultAgentAPIURL = "http://127.0.0.1:4040"

// AgentBackend manages tunnels on a separately running ngrok agent through
// its local REST API.
type AgentBackend struct {
	baseURL string
	client  *http.Client
}

// NewAgent creates a backend for the agent API at baseURL.
func NewAgent(baseURL string, timeout time.Duration) *AgentBackend {
	if baseURL == "" {
		baseURL = DefaultAgentAPIURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &AgentBackend{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type agentTunnel struct {
	Name      string `json:"name"`
	URI       string `json:"uri"`
	PublicURL string `json:"public_url"`
	Proto     string `json:"proto"`
	Config    struct {
		Addr string `json:"addr"`
	} `json:"config"`
}

type agentTunnelList struct {
	Tunnels []agentTunnel `json:"tunnels"`
	URI     string        `json:"uri"`
}

type agentError struct {
	ErrorCode  int    `json:"error_code"`
	StatusCode int    `json:"status_code"`
	Msg        string `json:"msg"`
}

type startTunnelRequest struct {
	Addr  string `json:"addr"`
	Proto string `json:"proto"`
	Name  string `json:"name"`
}

// Open asks the agent to start an HTTP tunnel to addr.
func (a *AgentBackend) Open(ctx context.Context, addr string) (Tunnel, error) {
	body := startTunnelRequest{
		Addr:  addr,
		Proto: "http",
		Name:  "tunnelbot-" + uuid.NewString()[:8],
	}

	var created agentTunnel
	if err := a.do(ctx, http.MethodPost, "/api/tunnels", body, http.StatusCreated, &created); err != nil {
		return Tunnel{}, fmt.Errorf("starting agent tunnel: %w", err)
	}
	return created.toTunnel(), nil
}

// Close stops the agent tunnel whose public URL is publicURL.
func (a *AgentBackend) Close(ctx context.Context, publicURL string) error {
	tunnels, err := a.list(ctx)
	if err != nil {
		return err
	}

	for _, t := range tunnels {
		if t.PublicURL != publicURL {
			continue
		}
		path := "/api/tunnels/" + url.PathEscape(t.Name)
		if err := a.do(ctx, http.MethodDelete, path, nil, http.StatusNoContent, nil); err != nil {
			return fmt.Errorf("stopping agent tunnel %s: %w", t.Name, err)
		}
		return nil
	}

	return fmt.Errorf("agent tunnel %s: %w", publicURL, ErrUnknownTunnel)
}

// List returns every tunnel the agent reports, including ones started by
// other clients.
func (a *AgentBackend) List(ctx context.Context) ([]Tunnel, error) {
	tunnels, err := a.list(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]Tunnel, 0, len(tunnels))
	for _, t := range tunnels {
		out = append(out, t.toTunnel())
	}
	return out, nil
}

func (a *AgentBackend) list(ctx context.Context) ([]agentTunnel, error) {
	var resp agentTunnelList
	if err := a.do(ctx, http.MethodGet, "/api/tunnels", nil, http.StatusOK, &resp); err != nil {
		return nil, fmt.Errorf("listing agent tunnels: %w", err)
	}
	return resp.Tunnels, nil
}

func (a *AgentBackend) do(ctx context.Context, method, path string, in any, want int, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != want {
		var apiErr agentError
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Msg != "" {
			return fmt.Errorf("agent API %s %s: %d: %s", method, path, resp.StatusCode, apiErr.Msg)
		}
		return fmt.Errorf("agent API %s %s: unexpected status %d", method, path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func (t agentTunnel) toTunnel() Tunnel {
	return Tunnel{
		PublicURL: t.PublicURL,
		LocalAddr: strings.TrimPrefix(strings.TrimPrefix(t.Config.Addr, "http://"), "https://"),
	}
}
