// Package mcpserve serves synthesized tools over the Model Context Protocol,
// forwarding every call to the live API.
package mcpserve

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/PentesterFlow/apiforge/internal/artifact"
	"github.com/PentesterFlow/apiforge/internal/errors"
	"github.com/PentesterFlow/apiforge/internal/logger"
	"github.com/PentesterFlow/apiforge/internal/probe"
	"github.com/PentesterFlow/apiforge/internal/synth"
)

// Invoker performs one tool call against the live API.
type Invoker interface {
	InvokeTool(ctx context.Context, baseURL string, tool synth.Tool, args map[string]interface{}) (*probe.Result, error)
}

// Config holds server settings.
type Config struct {
	Name    string `json:"name" yaml:"name"`
	Version string `json:"version" yaml:"version"`

	// Base URL of the API the tools call
	BaseURL string `json:"base_url" yaml:"base_url"`

	// Streamable HTTP listen address. Empty serves on stdio.
	Addr string `json:"addr" yaml:"addr"`

	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// DefaultConfig returns a stdio server configuration.
func DefaultConfig() Config {
	return Config{
		Name:            "apiforge",
		Version:         "0.1.0",
		ShutdownTimeout: 5 * time.Second,
	}
}

// Server is an MCP server with one tool per synthesized tool.
type Server struct {
	cfg     Config
	mcp     *server.MCPServer
	invoker Invoker
	log     *logger.Logger
}

// New registers tools on a fresh MCP server. Tools must pass the same checks
// as artifact generation.
func New(cfg Config, tools []synth.Tool, inv Invoker, log *logger.Logger) (*Server, error) {
	def := DefaultConfig()
	if cfg.Name == "" {
		cfg.Name = def.Name
	}
	if cfg.Version == "" {
		cfg.Version = def.Version
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	if log == nil {
		log = logger.Nop()
	}

	if !strings.HasPrefix(cfg.BaseURL, "http://") && !strings.HasPrefix(cfg.BaseURL, "https://") &&
		!strings.HasPrefix(cfg.BaseURL, "ws://") && !strings.HasPrefix(cfg.BaseURL, "wss://") {
		return nil, errors.InvalidInput(cfg.BaseURL, "base URL must be absolute")
	}
	if len(tools) == 0 {
		return nil, errors.InvalidInput("tools", "no tools to serve")
	}
	if err := artifact.Validate(tools); err != nil {
		return nil, err
	}

	s := &Server{
		cfg:     cfg,
		mcp:     server.NewMCPServer(cfg.Name, cfg.Version, server.WithToolCapabilities(false), server.WithRecovery()),
		invoker: inv,
		log:     log.WithComponent("mcpserve"),
	}
	for _, t := range tools {
		s.mcp.AddTool(synth.ToMCP(t), s.handler(t))
	}
	return s, nil
}

// MCP returns the underlying server.
func (s *Server) MCP() *server.MCPServer {
	return s.mcp
}

// Serve blocks until ctx is done or the transport fails.
func (s *Server) Serve(ctx context.Context, stdin io.Reader, stdout io.Writer) error {
	if s.cfg.Addr == "" {
		s.log.Info("serving tools on stdio")
		return server.NewStdioServer(s.mcp).Listen(ctx, stdin, stdout)
	}

	hs := server.NewStreamableHTTPServer(s.mcp)
	errCh := make(chan error, 1)
	go func() {
		errCh <- hs.Start(s.cfg.Addr)
	}()
	s.log.Infof("serving tools on http://%s/mcp", s.cfg.Addr)

	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	return hs.Shutdown(shutdownCtx)
}

func (s *Server) handler(t synth.Tool) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		log := s.log.WithField("tool", t.ID)

		res, err := s.invoker.InvokeTool(ctx, s.cfg.BaseURL, t, args)
		if err != nil {
			log.WithError(err).Warn("tool call failed")
			return mcp.NewToolResultError(err.Error()), nil
		}
		log.Debugf("%s %s -> %d", res.Method, res.URL, res.Status)

		text := format(res)
		if res.Status >= 400 {
			return mcp.NewToolResultError(text), nil
		}
		return mcp.NewToolResultText(text), nil
	}
}

// format renders a result as the status line and body, followed by any
// WebSocket frames as JSON.
func format(res *probe.Result) string {
	var b strings.Builder
	if res.Status > 0 {
		fmt.Fprintf(&b, "HTTP %d\n", res.Status)
	}
	b.WriteString(res.Body)
	if len(res.Messages) > 0 {
		data, _ := json.MarshalIndent(res.Messages, "", "  ")
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.Write(data)
	}
	return b.String()
}
