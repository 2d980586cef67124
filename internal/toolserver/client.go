// Package toolserver 为商品问答 Agent 连接远程 MCP 工具服务。
//
// 每次发现或调用都建立一条短连接（streamable HTTP），用完即关闭。
package toolserver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/wwwzy/ShopAgent/internal/toolspec"
)

const DefaultTimeout = 30 * time.Second

// Config 远程工具服务配置。
type Config struct {
	Servers []string      `mapstructure:"servers"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// Client 实现 agent.RemoteInvoker 与 agent.ToolDiscoverer。
type Client struct {
	timeout time.Duration
	logger  *zap.Logger
	name    string
	version string
}

type Option func(*Client)

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func New(opts ...Option) *Client {
	c := &Client{timeout: DefaultTimeout, logger: zap.NewNop(), name: "shopagent", version: "1.0.0"}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Discover 列出服务上的工具，描述中的 Args 段会补充到参数说明。
func (c *Client) Discover(ctx context.Context, server string) ([]toolspec.Descriptor, error) {
	var descs []toolspec.Descriptor
	err := c.session(ctx, server, func(ctx context.Context, cli *client.Client) error {
		res, err := cli.ListTools(ctx, mcp.ListToolsRequest{})
		if err != nil {
			return fmt.Errorf("list tools: %w", err)
		}
		for _, t := range res.Tools {
			descs = append(descs, toolspec.FromRemote(server, t.Name, t.Description, t.InputSchema.Properties, t.InputSchema.Required))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.logger.Debug("tools discovered", zap.String("server", server), zap.Int("count", len(descs)))
	return descs, nil
}

// CallTool 调用远程工具并返回文本内容。isError 结果作为错误返回。
func (c *Client) CallTool(ctx context.Context, server, name string, args map[string]any) (string, error) {
	var out string
	err := c.session(ctx, server, func(ctx context.Context, cli *client.Client) error {
		req := mcp.CallToolRequest{}
		req.Params.Name = name
		req.Params.Arguments = args

		res, err := cli.CallTool(ctx, req)
		if err != nil {
			return fmt.Errorf("call tool %s: %w", name, err)
		}
		text := textOf(res)
		if res.IsError {
			if text == "" {
				text = "unknown error"
			}
			return fmt.Errorf("tool %s returned error: %s", name, text)
		}
		out = text
		return nil
	})
	if err != nil {
		return "", err
	}
	return out, nil
}

func (c *Client) session(ctx context.Context, server string, fn func(context.Context, *client.Client) error) error {
	server = strings.TrimSpace(server)
	if server == "" {
		return errors.New("tool server url is required")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cli, err := client.NewStreamableHttpClient(server)
	if err != nil {
		return fmt.Errorf("create mcp client for %s: %w", server, err)
	}
	defer func() { _ = cli.Close() }()

	if err := cli.Start(ctx); err != nil {
		return fmt.Errorf("start mcp client for %s: %w", server, err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: c.name, Version: c.version}
	if _, err := cli.Initialize(ctx, initReq); err != nil {
		return fmt.Errorf("initialize mcp session with %s: %w", server, err)
	}

	return fn(ctx, cli)
}

func textOf(res *mcp.CallToolResult) string {
	if res == nil {
		return ""
	}
	var parts []string
	for _, content := range res.Content {
		if tc, ok := content.(mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}
