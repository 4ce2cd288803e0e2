// Package mcp provides a Model Context Protocol server for botlabel.
//
// It exposes the labeling workflow (unlabeled clusters, cluster contents,
// user lookup, annotation propagation, stats) as MCP tools so an agent can
// drive a review session over stdio.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/hurttlocker/botlabel/internal/label"
	"github.com/hurttlocker/botlabel/internal/store"
)

// Store is the storage surface the tools read from.
type Store interface {
	ClusterMembers(ctx context.Context, clusterID int64) ([]*store.UserRecord, error)
	UnlabeledClusters(ctx context.Context) ([]int64, error)
	GetUser(ctx context.Context, userID string) (*store.UserRecord, error)
	UserMemberships(ctx context.Context, userID string) ([]*store.UserRecord, error)
	Stats(ctx context.Context) (*store.Stats, error)
}

// Labeler applies annotation tables.
type Labeler interface {
	LabelUsers(ctx context.Context, anns []label.Annotation) (*label.Result, error)
}

// ServerConfig holds configuration for the MCP server.
type ServerConfig struct {
	Store   Store
	Labeler Labeler
	Version string // reported in server info
	Logger  *zap.Logger
}

// dbMu serializes tool calls that touch the database. mcp-go dispatches
// handlers concurrently and SQLite allows a single writer.
var dbMu sync.Mutex

// NewServer creates a configured MCP server with all botlabel tools and resources.
func NewServer(cfg ServerConfig) *server.MCPServer {
	ver := cfg.Version
	if ver == "" {
		ver = "dev"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := server.NewMCPServer(
		"botlabel",
		ver,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(true, false),
	)

	registerUnlabeledTool(s, cfg.Store)
	registerClusterTool(s, cfg.Store)
	registerUserTool(s, cfg.Store)
	registerLabelTool(s, cfg.Labeler, logger)
	registerStatsTool(s, cfg.Store)

	registerStatsResource(s, cfg.Store)
	registerUnlabeledResource(s, cfg.Store)

	return s
}

// --- Tools ---

func registerUnlabeledTool(s *server.MCPServer, st Store) {
	tool := mcp.NewTool("botlabel_unlabeled",
		mcp.WithDescription("List cluster ids that still have at least one member without a label, ascending."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		ids, err := st.UnlabeledClusters(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("unlabeled error: %v", err)), nil
		}
		return jsonResult(ids), nil
	})
}

// ClusterView is the botlabel_cluster payload. UserIDs and Embeddings are
// parallel by index.
type ClusterView struct {
	ClusterID  int64       `json:"cluster_id"`
	UserIDs    []string    `json:"user_ids"`
	Labels     []string    `json:"labels"`
	Embeddings [][]float32 `json:"embeddings,omitempty"`
}

func registerClusterTool(s *server.MCPServer, st Store) {
	tool := mcp.NewTool("botlabel_cluster",
		mcp.WithDescription("Show the members of a cluster in insertion order with their current labels. Embeddings are included on request."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithNumber("cluster_id",
			mcp.Required(),
			mcp.Description("Cluster id"),
		),
		mcp.WithBoolean("embeddings",
			mcp.Description("Include embedding vectors (default: false)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		idVal, err := req.RequireFloat("cluster_id")
		if err != nil {
			return mcp.NewToolResultError("cluster_id is required"), nil
		}
		clusterID := int64(idVal)
		if float64(clusterID) != idVal || clusterID < 0 {
			return mcp.NewToolResultError("cluster_id must be a non-negative integer"), nil
		}

		members, err := st.ClusterMembers(ctx, clusterID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("cluster error: %v", err)), nil
		}

		withEmb := req.GetBool("embeddings", false)
		view := ClusterView{
			ClusterID: clusterID,
			UserIDs:   make([]string, 0, len(members)),
			Labels:    make([]string, 0, len(members)),
		}
		for _, m := range members {
			view.UserIDs = append(view.UserIDs, m.UserID)
			view.Labels = append(view.Labels, m.Label.String())
			if withEmb {
				view.Embeddings = append(view.Embeddings, m.Embedding)
			}
		}
		return jsonResult(view), nil
	})
}

func registerUserTool(s *server.MCPServer, st Store) {
	tool := mcp.NewTool("botlabel_user",
		mcp.WithDescription("Look up a user by id. Returns the lowest-numbered cluster membership, or every membership when all is set."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("user_id",
			mcp.Required(),
			mcp.Description("User id without the handle prefix"),
		),
		mcp.WithBoolean("all",
			mcp.Description("Return every cluster membership (default: false)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		userID, err := req.RequireString("user_id")
		if err != nil || strings.TrimSpace(userID) == "" {
			return mcp.NewToolResultError("user_id is required"), nil
		}

		if req.GetBool("all", false) {
			recs, err := st.UserMemberships(ctx, userID)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("user error: %v", err)), nil
			}
			if len(recs) == 0 {
				return mcp.NewToolResultError(fmt.Sprintf("user %q not found", userID)), nil
			}
			return jsonResult(recs), nil
		}

		rec, err := st.GetUser(ctx, userID)
		if errors.Is(err, store.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("user %q not found", userID)), nil
		}
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("user error: %v", err)), nil
		}
		return jsonResult(rec), nil
	})
}

func registerLabelTool(s *server.MCPServer, lb Labeler, logger *zap.Logger) {
	tool := mcp.NewTool("botlabel_label",
		mcp.WithDescription(`Apply reviewer annotations. Each annotated cluster gets its majority answer ("Yes" = bot, "No" = not bot, ties go to not bot), then every annotated user keeps their own answer.`),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(true),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithString("annotations",
			mcp.Required(),
			mcp.Description(`JSON array of {"user_id": string, "cluster_id": number, "label": "Yes"|"No"}`),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		raw, err := req.RequireString("annotations")
		if err != nil {
			return mcp.NewToolResultError("annotations is required"), nil
		}
		anns, err := label.ParseJSON(strings.NewReader(raw))
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid annotations: %v", err)), nil
		}
		if len(anns) == 0 {
			return mcp.NewToolResultError("annotations must not be empty"), nil
		}

		res, err := lb.LabelUsers(ctx, anns)
		if err != nil {
			logger.Error("mcp label propagation failed", zap.Error(err))
			committed := 0
			if res != nil {
				committed = len(res.Clusters)
			}
			return mcp.NewToolResultError(fmt.Sprintf("label error after %d committed clusters: %v", committed, err)), nil
		}
		return jsonResult(res), nil
	})
}

func registerStatsTool(s *server.MCPServer, st Store) {
	tool := mcp.NewTool("botlabel_stats",
		mcp.WithDescription("Get botlabel database statistics: users, clusters, unlabeled clusters, per-label counts, embedding width and file size."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		stats, err := st.Stats(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("stats error: %v", err)), nil
		}
		return jsonResult(stats), nil
	})
}

// --- Helpers ---

func jsonResult(v any) *mcp.CallToolResult {
	data, _ := json.MarshalIndent(v, "", "  ")
	return mcp.NewToolResultText(string(data))
}

func formatClusterIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}
