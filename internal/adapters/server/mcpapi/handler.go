// Package mcpapi provides a stateless MCP streamable-HTTP adapter.
package mcpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/hylla/shotboard/internal/adapters/server/common"
	"github.com/hylla/shotboard/internal/domain"
)

// Config captures MCP transport configuration.
type Config struct {
	ServerName    string
	ServerVersion string
	EndpointPath  string
}

// Handler wraps one stateless MCP streamable HTTP handler.
type Handler struct {
	httpHandler http.Handler
}

// NewHandler builds one stateless MCP adapter exposing production-tracking tools.
func NewHandler(cfg Config, service common.ProductionService, logger common.Logger) (*Handler, error) {
	if service == nil {
		return nil, fmt.Errorf("production service is required")
	}
	cfg = normalizeConfig(cfg)

	mcpSrv := mcpserver.NewMCPServer(
		cfg.ServerName,
		cfg.ServerVersion,
		mcpserver.WithToolCapabilities(false),
	)
	tools := toolSet{service: service, logger: logger}
	tools.registerActTools(mcpSrv)
	tools.registerShotTools(mcpSrv)
	tools.registerStatusTools(mcpSrv)

	streamable := mcpserver.NewStreamableHTTPServer(
		mcpSrv,
		mcpserver.WithEndpointPath(cfg.EndpointPath),
		mcpserver.WithStateLess(true),
	)
	return &Handler{httpHandler: streamable}, nil
}

// ServeHTTP handles one MCP streamable HTTP request.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.httpHandler == nil {
		http.Error(w, "mcp handler unavailable", http.StatusServiceUnavailable)
		return
	}
	h.httpHandler.ServeHTTP(w, r)
}

// normalizeConfig applies deterministic defaults to MCP adapter config.
func normalizeConfig(cfg Config) Config {
	cfg.ServerName = strings.TrimSpace(cfg.ServerName)
	if cfg.ServerName == "" {
		cfg.ServerName = "shotboard"
	}
	cfg.ServerVersion = strings.TrimSpace(cfg.ServerVersion)
	if cfg.ServerVersion == "" {
		cfg.ServerVersion = "dev"
	}
	cfg.EndpointPath = strings.TrimSpace(cfg.EndpointPath)
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = "/mcp"
	}
	cfg.EndpointPath = "/" + strings.Trim(cfg.EndpointPath, "/")
	return cfg
}

// toolSet binds tool handlers to one service.
type toolSet struct {
	service common.ProductionService
	logger  common.Logger
}

func enumStrings[T ~string](values []T) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, string(v))
	}
	return out
}

// registerActTools registers act listing, creation, and progress tools.
func (s toolSet) registerActTools(srv *mcpserver.MCPServer) {
	srv.AddTool(
		mcp.NewTool(
			"shotboard.session",
			mcp.WithDescription("Describe the authenticated caller, its capabilities and the active transition policy."),
		),
		func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			session, err := s.service.Session(ctx)
			if err != nil {
				return s.toolResultFromError(ctx, err), nil
			}
			return jsonResult("session", session)
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"shotboard.list_acts",
			mcp.WithDescription("List acts in display order."),
		),
		func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			acts, err := s.service.ListActs(ctx)
			if err != nil {
				return s.toolResultFromError(ctx, err), nil
			}
			return jsonResult("list_acts", map[string]any{"acts": acts})
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"shotboard.create_act",
			mcp.WithDescription("Create an act. Requires manage_productions."),
			mcp.WithString("code", mcp.Required(), mcp.Description("Act code, e.g. act01")),
			mcp.WithString("name", mcp.Required(), mcp.Description("Display name")),
			mcp.WithNumber("sort_order", mcp.Description("Explicit sort order; appended after existing acts when omitted")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			code, err := req.RequireString("code")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			name, err := req.RequireString("name")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			in := common.CreateActRequest{Code: code, Name: name}
			if hasArgument(req, "sort_order") {
				sortOrder := req.GetInt("sort_order", 0)
				in.SortOrder = &sortOrder
			}
			act, err := s.service.CreateAct(ctx, in)
			if err != nil {
				return s.toolResultFromError(ctx, err), nil
			}
			return jsonResult("create_act", act)
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"shotboard.act_stats",
			mcp.WithDescription("Report per-department completion for one act. Only approved rows count as complete; shots without a row for a department are not counted."),
			mcp.WithString("code", mcp.Required(), mcp.Description("Act code")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			code, err := req.RequireString("code")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			stats, err := s.service.ActStats(ctx, code)
			if err != nil {
				return s.toolResultFromError(ctx, err), nil
			}
			return jsonResult("act_stats", stats)
		},
	)
}

// registerShotTools registers shot read tools.
func (s toolSet) registerShotTools(srv *mcpserver.MCPServer) {
	srv.AddTool(
		mcp.NewTool(
			"shotboard.list_shots",
			mcp.WithDescription("List shots with their current department statuses."),
			mcp.WithString("act_code", mcp.Description("Only shots in this act")),
			mcp.WithString("priority", mcp.Description("Priority filter"), mcp.Enum(enumStrings(domain.Priorities())...)),
			mcp.WithString("department", mcp.Description("Department used by the status filter"), mcp.Enum(enumStrings(domain.Departments())...)),
			mcp.WithString("status", mcp.Description("Status filter"), mcp.Enum(enumStrings(domain.Statuses())...)),
			mcp.WithString("search", mcp.Description("Case-insensitive match on the combined shot code")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			shots, err := s.service.ListShots(ctx, common.ListShotsRequest{
				ActCode:    req.GetString("act_code", ""),
				Priority:   req.GetString("priority", ""),
				Department: req.GetString("department", ""),
				Status:     req.GetString("status", ""),
				Search:     req.GetString("search", ""),
			})
			if err != nil {
				return s.toolResultFromError(ctx, err), nil
			}
			return jsonResult("list_shots", map[string]any{"shots": shots})
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"shotboard.create_shot",
			mcp.WithDescription("Create a shot in an existing act, with no department statuses. Requires manage_productions."),
			mcp.WithString("act_code", mcp.Required(), mcp.Description("Act code, e.g. act01")),
			mcp.WithString("code", mcp.Required(), mcp.Description("Shot code, e.g. shot010")),
			mcp.WithNumber("frame_start", mcp.Description("First frame; defaults to 1001")),
			mcp.WithNumber("frame_end", mcp.Description("Last frame; defaults to 1120")),
			mcp.WithString("priority", mcp.Description("Defaults to medium"), mcp.Enum(enumStrings(domain.Priorities())...)),
			mcp.WithString("notes", mcp.Description("Free-form notes")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			actCode, err := req.RequireString("act_code")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			code, err := req.RequireString("code")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			shot, err := s.service.CreateShot(ctx, common.CreateShotRequest{
				ActCode:    actCode,
				Code:       code,
				FrameStart: req.GetInt("frame_start", 0),
				FrameEnd:   req.GetInt("frame_end", 0),
				Priority:   req.GetString("priority", ""),
				Notes:      req.GetString("notes", ""),
			})
			if err != nil {
				return s.toolResultFromError(ctx, err), nil
			}
			return jsonResult("create_shot", shot)
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"shotboard.get_shot",
			mcp.WithDescription("Return one shot with its department statuses."),
			mcp.WithNumber("shot_id", mcp.Required(), mcp.Description("Shot id")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			shotID, err := req.RequireInt("shot_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			shot, err := s.service.GetShot(ctx, int64(shotID))
			if err != nil {
				return s.toolResultFromError(ctx, err), nil
			}
			return jsonResult("get_shot", shot)
		},
	)
}

// registerStatusTools registers status mutation and audit tools.
func (s toolSet) registerStatusTools(srv *mcpserver.MCPServer) {
	srv.AddTool(
		mcp.NewTool(
			"shotboard.set_shot_status",
			mcp.WithDescription("Set one department status on a shot and append an audit entry."),
			mcp.WithNumber("shot_id", mcp.Required(), mcp.Description("Shot id")),
			mcp.WithString("department", mcp.Required(), mcp.Enum(enumStrings(domain.Departments())...)),
			mcp.WithString("status", mcp.Required(), mcp.Enum(enumStrings(domain.Statuses())...)),
			mcp.WithString("assignee", mcp.Description("New assignee; empty clears, omitted keeps the current one")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			shotID, err := req.RequireInt("shot_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			department, err := req.RequireString("department")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			status, err := req.RequireString("status")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			in := common.SetShotStatusRequest{
				ShotID:     int64(shotID),
				Department: department,
				Status:     status,
			}
			if hasArgument(req, "assignee") {
				assignee := req.GetString("assignee", "")
				in.Assignee = &assignee
			}
			row, err := s.service.SetShotStatus(ctx, in)
			if err != nil {
				return s.toolResultFromError(ctx, err), nil
			}
			return jsonResult("set_shot_status", row)
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"shotboard.bulk_set_status",
			mcp.WithDescription("Set one department status on many shots in a single all-or-nothing batch. Unknown shot ids reject the batch."),
			mcp.WithArray("shot_ids", mcp.Required(), mcp.Description("Shot ids"), mcp.Items(map[string]any{"type": "number"})),
			mcp.WithString("department", mcp.Required(), mcp.Enum(enumStrings(domain.Departments())...)),
			mcp.WithString("status", mcp.Required(), mcp.Enum(enumStrings(domain.Statuses())...)),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			ids, err := req.RequireIntSlice("shot_ids")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			department, err := req.RequireString("department")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			status, err := req.RequireString("status")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			shotIDs := make([]int64, 0, len(ids))
			for _, id := range ids {
				shotIDs = append(shotIDs, int64(id))
			}
			updated, err := s.service.BulkSetStatus(ctx, common.BulkSetStatusRequest{
				ShotIDs:    shotIDs,
				Department: department,
				Status:     status,
			})
			if err != nil {
				return s.toolResultFromError(ctx, err), nil
			}
			return jsonResult("bulk_set_status", map[string]any{"updated": updated})
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"shotboard.list_status_history",
			mcp.WithDescription("List audit entries for one shot, newest first."),
			mcp.WithNumber("shot_id", mcp.Required(), mcp.Description("Shot id")),
			mcp.WithString("department", mcp.Description("Only this department"), mcp.Enum(enumStrings(domain.Departments())...)),
			mcp.WithNumber("limit", mcp.Description("Maximum rows to return")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			shotID, err := req.RequireInt("shot_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			entries, err := s.service.ListStatusHistory(ctx, common.StatusHistoryRequest{
				ShotID:     int64(shotID),
				Department: req.GetString("department", ""),
				Limit:      req.GetInt("limit", 0),
			})
			if err != nil {
				return s.toolResultFromError(ctx, err), nil
			}
			return jsonResult("list_status_history", map[string]any{"history": entries})
		},
	)
}

// hasArgument reports whether the caller supplied key at all.
func hasArgument(req mcp.CallToolRequest, key string) bool {
	_, ok := req.GetArguments()[key]
	return ok
}

// jsonResult encodes one structured tool result.
func jsonResult(tool string, payload any) (*mcp.CallToolResult, error) {
	result, err := mcp.NewToolResultJSON(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s result: %w", tool, err)
	}
	return result, nil
}

// toolResultFromError maps service errors into MCP-visible tool errors.
func (s toolSet) toolResultFromError(ctx context.Context, err error) *mcp.CallToolResult {
	switch {
	case err == nil:
		return mcp.NewToolResultError("unknown error")
	case errors.Is(err, common.ErrUnauthenticated):
		return mcp.NewToolResultError("unauthorized: authentication required")
	case errors.Is(err, common.ErrForbidden):
		return mcp.NewToolResultError("forbidden: " + err.Error())
	case errors.Is(err, common.ErrInvalidRequest):
		return mcp.NewToolResultError("invalid_request: " + err.Error())
	case errors.Is(err, common.ErrNotFound):
		return mcp.NewToolResultError("not_found: " + err.Error())
	case errors.Is(err, common.ErrConflict):
		return mcp.NewToolResultError("conflict: " + err.Error())
	default:
		if s.logger != nil {
			s.logger.Error("mcp tool failed", "request_id", common.RequestIDFromContext(ctx), "err", err)
		}
		return mcp.NewToolResultError("internal_error: internal server error")
	}
}
