package mcp

import (
	"context"
	"encoding/json"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

// registerResources registers read-only MCP resources on the server.
func (s *Server) registerResources() {
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"swarm://status",
			"Swarm Status",
			mcplib.WithResourceDescription("Current swarm snapshot: wave, tasks, workers, locks"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleStatusResource,
	)

	s.mcpServer.AddResource(
		mcplib.NewResource(
			"swarm://wave",
			"Current Wave",
			mcplib.WithResourceDescription("The wave singleton: number, members, status"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleWaveResource,
	)
}

func (s *Server) handleStatusResource(ctx context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	if s.deps.Status == nil {
		return textResource(req.Params.URI, `{"error":"status service not configured"}`), nil
	}
	snap, err := s.deps.Status.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, err
	}
	return textResource(req.Params.URI, string(data)), nil
}

func (s *Server) handleWaveResource(ctx context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	if s.deps.Waves == nil {
		return textResource(req.Params.URI, `{"error":"wave service not configured"}`), nil
	}
	w, err := s.deps.Waves.Status(ctx)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(w)
	if err != nil {
		return nil, err
	}
	return textResource(req.Params.URI, string(data)), nil
}

func textResource(uri, text string) []mcplib.ResourceContents {
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     text,
		},
	}
}
