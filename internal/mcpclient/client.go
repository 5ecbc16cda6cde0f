// Package mcpclient attaches MCP protocol sessions to the stdio pipes of
// processes the supervisor already owns. It is the only package that
// knows about the wire library.
package mcpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/justDance-everybody/Demo-Echo-Backend/internal/contracts"
	"github.com/justDance-everybody/Demo-Echo-Backend/internal/domain"
)

const (
	clientName    = "echomcp"
	clientVersion = "0.1.0"
)

// StdioDialer dials MCP sessions over existing process pipes.
type StdioDialer struct{}

// NewStdioDialer returns a Dialer for supervised stdio servers.
func NewStdioDialer() *StdioDialer {
	return &StdioDialer{}
}

// Dial wraps the process pipes in an MCP client and performs the
// initialize handshake. The returned session is ready for use.
func (d *StdioDialer) Dial(ctx context.Context, name string, stdin io.WriteCloser, stdout io.Reader) (contracts.ProtocolSession, error) {
	// The supervisor drains stderr itself, nothing to read here.
	t := transport.NewIO(stdout, stdin, io.NopCloser(strings.NewReader("")))

	c := client.NewClient(t)
	if err := c.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start transport for %s: %w", name, err)
	}

	_, err := c.Initialize(ctx, mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			ClientInfo:      mcp.Implementation{Name: clientName, Version: clientVersion},
		},
	})
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to initialize session for %s: %w", name, err)
	}

	return &session{name: name, client: c}, nil
}

// session adapts an mcp-go client to the ProtocolSession contract.
type session struct {
	name   string
	client *client.Client
}

func (s *session) Ping(ctx context.Context) error {
	return s.client.Ping(ctx)
}

func (s *session) ListTools(ctx context.Context) ([]domain.Tool, error) {
	result, err := s.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("failed to list tools for %s: %w", s.name, err)
	}
	if result == nil {
		return nil, fmt.Errorf("failed to list tools for %s: no result", s.name)
	}

	tools := make([]domain.Tool, 0, len(result.Tools))
	for _, tool := range result.Tools {
		schema, err := json.Marshal(tool.InputSchema)
		if err != nil {
			schema = nil
		}
		tools = append(tools, domain.Tool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: schema,
		})
	}

	return tools, nil
}

func (s *session) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	result, err := s.client.CallTool(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	})
	if err != nil {
		return "", fmt.Errorf("tool call failed: %s/%s: %w", s.name, name, err)
	}
	if result == nil {
		return "", fmt.Errorf("tool call failed: %s/%s: no result", s.name, name)
	}

	payload := normalizeContent(result.Content)
	if result.IsError {
		if payload == "" {
			payload = "tool reported an error"
		}
		return "", fmt.Errorf("tool execution failed: %s/%s: %s", s.name, name, payload)
	}

	return payload, nil
}

func (s *session) Close() error {
	return s.client.Close()
}

// normalizeContent flattens heterogeneous result content to one payload
// string. Text parts are joined; anything else is JSON encoded.
func normalizeContent(content []mcp.Content) string {
	var texts []string
	for _, part := range content {
		if textContent, ok := part.(mcp.TextContent); ok {
			texts = append(texts, textContent.Text)
		}
	}
	if len(texts) > 0 {
		return strings.Join(texts, "\n")
	}
	if len(content) == 0 {
		return ""
	}

	encoded, err := json.Marshal(content)
	if err != nil {
		return fmt.Sprintf("%v", content)
	}
	return string(encoded)
}
