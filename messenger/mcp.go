package messenger

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mykhaliev/agent-sim/logger"
	"github.com/mykhaliev/agent-sim/model"
)

const (
	DefaultMCPTool         = "send_message"
	DefaultServerInitDelay = 30 * time.Second
	ProcessStartupDelay    = 300 * time.Millisecond
	MCPClientName          = "agent-sim"
	MCPClientVersion       = "1.0.0"
)

// MCPMessenger delivers messages by calling a send tool exposed by an MCP
// server fronting the messaging system.
type MCPMessenger struct {
	client mcpclient.MCPClient
	tool   string
	mu     sync.Mutex
	closed bool
}

// NewMCPMessenger starts the configured MCP transport and initializes it.
func NewMCPMessenger(ctx context.Context, cfg model.MCPConfig) (*MCPMessenger, error) {
	if err := validateMCPConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid mcp messenger configuration: %w", err)
	}

	cli, err := createMCPClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create MCP client: %w", err)
	}

	initDelay := DefaultServerInitDelay
	if cfg.ServerDelay != "" {
		if d, err := time.ParseDuration(cfg.ServerDelay); err == nil {
			initDelay = d
		} else {
			logger.Logger.Warn("Invalid server delay, using default", "server_delay", cfg.ServerDelay)
		}
	}

	initCtx, cancel := context.WithTimeout(ctx, initDelay)
	defer cancel()

	m, err := NewMCPMessengerFromClient(initCtx, cli, cfg.Tool)
	if err != nil {
		_ = cli.Close()
		return nil, err
	}
	return m, nil
}

// NewMCPMessengerFromClient initializes an already started client.
func NewMCPMessengerFromClient(ctx context.Context, cli mcpclient.MCPClient, tool string) (*MCPMessenger, error) {
	if cli == nil {
		return nil, fmt.Errorf("client is nil")
	}
	if tool == "" {
		tool = DefaultMCPTool
	}

	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcp.Implementation{
		Name:    MCPClientName,
		Version: MCPClientVersion,
	}
	req.Params.Capabilities = mcp.ClientCapabilities{}

	resp, err := cli.Initialize(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("initialize request failed: %w", err)
	}
	if resp == nil {
		return nil, fmt.Errorf("initialize response is nil")
	}

	logger.Logger.Info("MCP messaging gateway initialized",
		"server_info_name", resp.ServerInfo.Name,
		"server_info_version", resp.ServerInfo.Version,
		"protocol_version", resp.ProtocolVersion,
		"tool", tool)

	return &MCPMessenger{client: cli, tool: tool}, nil
}

func validateMCPConfig(cfg model.MCPConfig) error {
	switch cfg.Transport {
	case model.Stdio:
		if strings.TrimSpace(cfg.Command) == "" {
			return fmt.Errorf("command is required for stdio transport")
		}
	case model.SSE, model.Http:
		if cfg.URL == "" {
			return fmt.Errorf("url is required for %s transport", cfg.Transport)
		}
		if strings.TrimSpace(cfg.URL) != cfg.URL {
			return fmt.Errorf("url contains leading or trailing whitespace")
		}
		if !strings.HasPrefix(cfg.URL, "http://") && !strings.HasPrefix(cfg.URL, "https://") {
			return fmt.Errorf("invalid url format: must start with http:// or https://, got: %s", cfg.URL)
		}
		for i, header := range cfg.Headers {
			if !strings.Contains(header, ":") {
				return fmt.Errorf("invalid header format at index %d: must contain ':' separator", i)
			}
		}
	default:
		return fmt.Errorf("unsupported transport: %q (expected: stdio, sse or http)", cfg.Transport)
	}
	return nil
}

func createMCPClient(ctx context.Context, cfg model.MCPConfig) (mcpclient.MCPClient, error) {
	switch cfg.Transport {
	case model.Stdio:
		parts := strings.Fields(cfg.Command)
		cli, err := mcpclient.NewStdioMCPClient(parts[0], nil, parts[1:]...)
		if err != nil {
			return nil, fmt.Errorf("failed to create stdio client: %w", err)
		}
		if err := waitForProcess(ctx, cfg.ProcessDelay); err != nil {
			_ = cli.Close()
			return nil, err
		}
		return cli, nil

	case model.SSE:
		var opts []transport.ClientOption
		if headers := headerMap(cfg.Headers); len(headers) > 0 {
			opts = append(opts, transport.WithHeaders(headers))
		}
		cli, err := mcpclient.NewSSEMCPClient(cfg.URL, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create SSE client: %w", err)
		}
		if err := cli.Start(ctx); err != nil {
			_ = cli.Close()
			return nil, fmt.Errorf("failed to start SSE client: %w", err)
		}
		return cli, nil

	case model.Http:
		var opts []transport.StreamableHTTPCOption
		if headers := headerMap(cfg.Headers); len(headers) > 0 {
			opts = append(opts, transport.WithHTTPHeaders(headers))
		}
		cli, err := mcpclient.NewStreamableHttpClient(cfg.URL, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create streamable HTTP client: %w", err)
		}
		if err := waitForProcess(ctx, cfg.ProcessDelay); err != nil {
			_ = cli.Close()
			return nil, err
		}
		return cli, nil
	}
	return nil, fmt.Errorf("unsupported transport type '%s'", cfg.Transport)
}

func waitForProcess(ctx context.Context, delay string) error {
	d := ProcessStartupDelay
	if delay != "" {
		parsed, err := time.ParseDuration(delay)
		if err != nil {
			return fmt.Errorf("failed to parse process delay: %w", err)
		}
		d = parsed
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func headerMap(raw []string) map[string]string {
	out := make(map[string]string)
	for k, vs := range parseHeaders(raw) {
		if len(vs) > 0 {
			out[k] = vs[0]
		}
	}
	return out
}

func (m *MCPMessenger) Name() string { return string(model.MessengerMCP) }

func (m *MCPMessenger) Send(ctx context.Context, msg *model.Message) (string, error) {
	if err := Validate(msg); err != nil {
		return "", err
	}

	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return "", ErrClosed
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = m.tool
	req.Params.Arguments = map[string]any{
		"from_agent":   msg.From,
		"to_agent":     msg.To,
		"message_type": string(msg.Type),
		"payload":      msg.Payload,
		"priority":     string(msg.Priority),
	}

	result, err := m.client.CallTool(ctx, req)
	if err != nil {
		return "", fmt.Errorf("failed to call MCP tool '%s': %w", m.tool, err)
	}
	if result == nil {
		return "", fmt.Errorf("MCP tool '%s' returned no result", m.tool)
	}

	text := firstText(result.Content)
	if result.IsError {
		if text == "" {
			text = "tool reported an error"
		}
		return "", fmt.Errorf("send to %s failed: %s", msg.To, text)
	}
	if text = strings.TrimSpace(text); text != "" {
		return text, nil
	}
	return msg.ID, nil
}

func firstText(content []mcp.Content) string {
	for _, c := range content {
		switch t := c.(type) {
		case mcp.TextContent:
			return t.Text
		case *mcp.TextContent:
			return t.Text
		}
	}
	return ""
}

func (m *MCPMessenger) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	return m.client.Close()
}
