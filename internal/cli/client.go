package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

// DefaultCallTimeout bounds a single tool call.
const DefaultCallTimeout = 30 * time.Second

// Client is a thin MCP client for the gitsync tool server.
type Client struct {
	endpoint string
	version  string
	timeout  time.Duration
	client   *client.Client
}

// NewClient creates a client for the streamable HTTP endpoint. Nothing is
// sent before Connect.
func NewClient(endpoint, version string) *Client {
	if version == "" {
		version = "dev"
	}
	return &Client{
		endpoint: endpoint,
		version:  version,
		timeout:  DefaultCallTimeout,
	}
}

// Endpoint returns the URL the client talks to.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Connect starts the transport and performs the MCP handshake. Any failure
// is reported as a *ConnectionError.
func (c *Client) Connect(ctx context.Context) error {
	httpClient, err := client.NewStreamableHttpClient(c.endpoint)
	if err != nil {
		return ClassifyConnectionError(fmt.Errorf("failed to create streamable-http client: %w", err), c.endpoint)
	}
	if err := httpClient.Start(ctx); err != nil {
		return ClassifyConnectionError(fmt.Errorf("failed to start streamable-http client: %w", err), c.endpoint)
	}

	var req mcp.InitializeRequest
	req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcp.Implementation{Name: "gitsync-cli", Version: c.version}
	req.Params.Capabilities = mcp.ClientCapabilities{}

	timeoutCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if _, err := httpClient.Initialize(timeoutCtx, req); err != nil {
		_ = httpClient.Close()
		return ClassifyConnectionError(fmt.Errorf("initialization failed: %w", err), c.endpoint)
	}

	c.client = httpClient
	return nil
}

// Close ends the MCP session.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	return err
}

// CallTool runs a tool and returns its text content. A tool-level failure is
// returned as a *ToolError.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]interface{}) (string, error) {
	if c.client == nil {
		return "", fmt.Errorf("client not connected")
	}

	var req mcp.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args

	timeoutCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	result, err := c.client.CallTool(timeoutCtx, req)
	if err != nil {
		return "", ClassifyConnectionError(fmt.Errorf("tool call %s failed: %w", name, err), c.endpoint)
	}

	var texts []string
	for _, content := range result.Content {
		if textContent, ok := mcp.AsTextContent(content); ok {
			texts = append(texts, textContent.Text)
		}
	}
	text := strings.Join(texts, "\n")

	if result.IsError {
		return "", ParseToolError(name, text)
	}
	return text, nil
}

// CallToolJSON runs a tool and decodes its JSON result into out.
func (c *Client) CallToolJSON(ctx context.Context, name string, args map[string]interface{}, out interface{}) error {
	text, err := c.CallTool(ctx, name, args)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(text), out); err != nil {
		return fmt.Errorf("failed to parse %s result: %w", name, err)
	}
	return nil
}
