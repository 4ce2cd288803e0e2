package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

func registerStatsResource(s *server.MCPServer, st Store) {
	resource := mcp.NewResource(
		"botlabel://stats",
		"Labeling Statistics",
		mcp.WithResourceDescription("User, cluster and per-label counts for the botlabel database."),
		mcp.WithMIMEType("application/json"),
	)

	s.AddResource(resource, func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		stats, err := st.Stats(ctx)
		if err != nil {
			return nil, fmt.Errorf("getting stats: %w", err)
		}

		data, _ := json.MarshalIndent(stats, "", "  ")
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(data),
			},
		}, nil
	})
}

func registerUnlabeledResource(s *server.MCPServer, st Store) {
	resource := mcp.NewResource(
		"botlabel://clusters/unlabeled",
		"Unlabeled Clusters",
		mcp.WithResourceDescription("Comma-separated ids of clusters still waiting for review."),
		mcp.WithMIMEType("text/plain"),
	)

	s.AddResource(resource, func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		ids, err := st.UnlabeledClusters(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing unlabeled clusters: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "text/plain",
				Text:     formatClusterIDs(ids),
			},
		}, nil
	})
}
