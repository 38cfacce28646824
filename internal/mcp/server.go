package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"esg-mcp/internal/compliance"
	"esg-mcp/internal/config"
	"esg-mcp/internal/matcher"
	"esg-mcp/internal/pipeline"
	"esg-mcp/internal/units"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog/log"
)

// Deps are the domain services exposed as tools.
type Deps struct {
	Orchestrator    *pipeline.Orchestrator
	Matcher         *matcher.Matcher
	Units           *units.Registry
	Scorer          *compliance.Scorer
	AcceptThreshold float64
}

// Server holds the state for the MCP server.
type Server struct {
	cfg       *config.AppConfig
	orch      *pipeline.Orchestrator
	matcher   *matcher.Matcher
	units     *units.Registry
	scorer    *compliance.Scorer
	threshold float64
}

// NewServer creates a new MCP server.
func NewServer(cfg *config.AppConfig, deps Deps) *Server {
	if cfg == nil {
		cfg = &config.AppConfig{}
	}
	threshold := deps.AcceptThreshold
	if threshold <= 0 {
		threshold = 0.6
	}
	return &Server{
		cfg:       cfg,
		orch:      deps.Orchestrator,
		matcher:   deps.Matcher,
		units:     deps.Units,
		scorer:    deps.Scorer,
		threshold: threshold,
	}
}

// Build registers every tool on a new protocol server.
func (s *Server) Build(version string) (*mcp.Server, error) {
	srv := mcp.NewServer(&mcp.Implementation{Name: "esg-mcp", Version: version}, nil)
	if err := s.registerTools(srv); err != nil {
		return nil, err
	}
	return srv, nil
}

// Serve runs the server over stdio until the client disconnects or ctx is done.
func (s *Server) Serve(ctx context.Context, version string) error {
	srv, err := s.Build(version)
	if err != nil {
		return err
	}
	log.Info().Str("version", version).Msg("MCP server listening on stdio")
	return srv.Run(ctx, &mcp.StdioTransport{})
}

// handler adapts a domain handler to the protocol: the envelope is returned as indented JSON text.
func handler[In any](name string, fn func(context.Context, In) (any, error)) mcp.ToolHandlerFor[In, any] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, in In) (*mcp.CallToolResult, any, error) {
		data, err := fn(ctx, in)
		if err != nil {
			log.Warn().Err(err).Str("tool", name).Msg("Tool call failed")
			return nil, nil, err
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: formatResult(data)}},
		}, nil, nil
	}
}

func formatResult(data any) string {
	out, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("{\"error\": %q}", err.Error())
	}
	return string(out)
}
