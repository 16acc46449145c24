package mcpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hylla/shotboard/internal/adapters/server/common"
	"github.com/hylla/shotboard/internal/adapters/storage/memory"
	"github.com/hylla/shotboard/internal/app"
	"github.com/hylla/shotboard/internal/domain"
)

// jsonRPCResponse models minimal JSON-RPC response fields used in MCP adapter tests.
type jsonRPCResponse struct {
	ID     float64        `json:"id"`
	Result map[string]any `json:"result"`
}

// callToolRequest constructs one deterministic tools/call JSON-RPC request payload.
func callToolRequest(id int, toolName string, arguments map[string]any) map[string]any {
	return map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  "tools/call",
		"params": map[string]any{
			"name":      toolName,
			"arguments": arguments,
		},
	}
}

// initializeRequest builds a deterministic MCP initialize request payload.
func initializeRequest() map[string]any {
	return map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "initialize",
		"params": map[string]any{
			"protocolVersion": mcp.LATEST_PROTOCOL_VERSION,
			"clientInfo": map[string]any{
				"name":    "shotboard-test",
				"version": "1.0.0",
			},
		},
	}
}

// postJSONRPC sends one JSON-RPC payload and decodes the response body.
func postJSONRPC(t *testing.T, client *http.Client, url string, payload any) (*http.Response, jsonRPCResponse) {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	var decoded jsonRPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if err := resp.Body.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	return resp, decoded
}

// toolResultText decodes the first text entry from one tool-call result payload.
func toolResultText(t *testing.T, result map[string]any) string {
	t.Helper()
	contentRaw, ok := result["content"].([]any)
	if !ok || len(contentRaw) == 0 {
		t.Fatalf("content missing in tool result: %#v", result)
	}
	first, ok := contentRaw[0].(map[string]any)
	if !ok {
		t.Fatalf("first content entry has unexpected type: %#v", contentRaw[0])
	}
	text, ok := first["text"].(string)
	if !ok {
		t.Fatalf("content text missing in tool result: %#v", first)
	}
	return text
}

// isError reports the tool-call isError flag.
func isError(result map[string]any) bool {
	flag, _ := result["isError"].(bool)
	return flag
}

// newTestServer serves the MCP handler over a seeded in-memory store as actor name/role.
func newTestServer(t *testing.T, name string, role domain.Role) *httptest.Server {
	t.Helper()
	svc := app.NewService(memory.New(), func() time.Time {
		return time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	}, app.ServiceConfig{})
	admin, err := domain.NewActor("setup", domain.RoleAdmin)
	if err != nil {
		t.Fatalf("NewActor() error = %v", err)
	}
	ctx := context.Background()
	if _, err := svc.CreateAct(ctx, admin, app.CreateActInput{Code: "act01", Name: "Opening"}); err != nil {
		t.Fatalf("CreateAct() error = %v", err)
	}
	for _, code := range []string{"shot01", "shot02", "shot03"} {
		if _, err := svc.CreateShot(ctx, admin, domain.ShotInput{ActCode: "act01", Code: code}); err != nil {
			t.Fatalf("CreateShot() error = %v", err)
		}
	}

	handler, err := NewHandler(Config{}, common.NewAppServiceAdapter(svc), nil)
	if err != nil {
		t.Fatalf("NewHandler() error = %v", err)
	}
	actor, err := domain.NewActor(name, role)
	if err != nil {
		t.Fatalf("NewActor() error = %v", err)
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.ServeHTTP(w, r.WithContext(app.WithActor(r.Context(), actor)))
	}))
	t.Cleanup(server.Close)
	return server
}

// TestNewHandlerRequiresService verifies constructor validation.
func TestNewHandlerRequiresService(t *testing.T) {
	if _, err := NewHandler(Config{}, nil, nil); err == nil {
		t.Fatal("NewHandler(nil) error = nil, want error")
	}
}

// TestNormalizeConfig verifies MCP config defaults.
func TestNormalizeConfig(t *testing.T) {
	got := normalizeConfig(Config{EndpointPath: "tools/"})
	if got.ServerName != "shotboard" || got.ServerVersion != "dev" || got.EndpointPath != "/tools" {
		t.Fatalf("unexpected config %#v", got)
	}
}

// TestHandlerUsesStatelessTransport verifies MCP transport does not issue session ids.
func TestHandlerUsesStatelessTransport(t *testing.T) {
	server := newTestServer(t, "alice", domain.RoleAdmin)
	resp, decoded := postJSONRPC(t, server.Client(), server.URL, initializeRequest())
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if decoded.ID != 1 {
		t.Fatalf("id = %v, want 1", decoded.ID)
	}
	if got := resp.Header.Get("Mcp-Session-Id"); got != "" {
		t.Fatalf("Mcp-Session-Id header = %q, want empty (stateless transport)", got)
	}
}

// TestHandlerRegistersTools verifies tool discovery lists every production tool.
func TestHandlerRegistersTools(t *testing.T) {
	server := newTestServer(t, "alice", domain.RoleAdmin)
	_, _ = postJSONRPC(t, server.Client(), server.URL, initializeRequest())
	_, toolsResp := postJSONRPC(t, server.Client(), server.URL, map[string]any{
		"jsonrpc": "2.0",
		"id":      2,
		"method":  "tools/list",
	})
	toolsRaw, ok := toolsResp.Result["tools"].([]any)
	if !ok {
		t.Fatalf("tools list payload missing tools: %#v", toolsResp.Result)
	}
	toolNames := make([]string, 0, len(toolsRaw))
	for _, toolRaw := range toolsRaw {
		toolMap, ok := toolRaw.(map[string]any)
		if !ok {
			continue
		}
		name, _ := toolMap["name"].(string)
		toolNames = append(toolNames, name)
	}
	for _, required := range []string{
		"shotboard.session",
		"shotboard.list_acts",
		"shotboard.create_act",
		"shotboard.act_stats",
		"shotboard.list_shots",
		"shotboard.create_shot",
		"shotboard.get_shot",
		"shotboard.set_shot_status",
		"shotboard.bulk_set_status",
		"shotboard.list_status_history",
	} {
		if !slices.Contains(toolNames, required) {
			t.Fatalf("tool list missing %q: %#v", required, toolNames)
		}
	}
}

// TestHandlerStatusTools verifies single and bulk status tools mutate the store.
func TestHandlerStatusTools(t *testing.T) {
	server := newTestServer(t, "bob", domain.RoleStudent)
	_, _ = postJSONRPC(t, server.Client(), server.URL, initializeRequest())

	_, resp := postJSONRPC(t, server.Client(), server.URL, callToolRequest(2, "shotboard.set_shot_status", map[string]any{
		"shot_id":    1,
		"department": "lighting",
		"status":     "review",
		"assignee":   "alice",
	}))
	if isError(resp.Result) {
		t.Fatalf("set_shot_status returned error: %s", toolResultText(t, resp.Result))
	}
	var row common.DepartmentStatus
	if err := json.Unmarshal([]byte(toolResultText(t, resp.Result)), &row); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if row.Status != "review" || row.UpdatedBy != "bob" || row.Assignee == nil || *row.Assignee != "alice" {
		t.Fatalf("unexpected row %#v", row)
	}

	_, resp = postJSONRPC(t, server.Client(), server.URL, callToolRequest(3, "shotboard.bulk_set_status", map[string]any{
		"shot_ids":   []int{1, 2, 3},
		"department": "comp",
		"status":     "approved",
	}))
	if isError(resp.Result) {
		t.Fatalf("bulk_set_status returned error: %s", toolResultText(t, resp.Result))
	}
	if text := toolResultText(t, resp.Result); !strings.Contains(text, `"updated":3`) {
		t.Fatalf("bulk_set_status result = %s, want updated 3", text)
	}

	_, resp = postJSONRPC(t, server.Client(), server.URL, callToolRequest(4, "shotboard.list_status_history", map[string]any{
		"shot_id": 1,
	}))
	var history struct {
		History []common.AuditEntry `json:"history"`
	}
	if err := json.Unmarshal([]byte(toolResultText(t, resp.Result)), &history); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if len(history.History) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(history.History))
	}
}

// TestHandlerCreateShotTool verifies shot creation applies defaults and rejects duplicates.
func TestHandlerCreateShotTool(t *testing.T) {
	server := newTestServer(t, "alice", domain.RoleManager)
	_, _ = postJSONRPC(t, server.Client(), server.URL, initializeRequest())

	_, resp := postJSONRPC(t, server.Client(), server.URL, callToolRequest(2, "shotboard.create_shot", map[string]any{
		"act_code": "act01",
		"code":     "shot10",
		"priority": "high",
	}))
	if isError(resp.Result) {
		t.Fatalf("create_shot returned error: %s", toolResultText(t, resp.Result))
	}
	var shot common.Shot
	if err := json.Unmarshal([]byte(toolResultText(t, resp.Result)), &shot); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if shot.ID <= 0 || shot.FullCode != "act01_shot10" || shot.Priority != "high" || shot.FrameStart != domain.DefaultFrameStart || len(shot.Departments) != 0 {
		t.Fatalf("unexpected shot %#v", shot)
	}

	_, resp = postJSONRPC(t, server.Client(), server.URL, callToolRequest(3, "shotboard.create_shot", map[string]any{
		"act_code": "act01",
		"code":     "shot10",
	}))
	if text := toolResultText(t, resp.Result); !isError(resp.Result) || !strings.HasPrefix(text, "conflict:") {
		t.Fatalf("duplicate create_shot result = %q, want conflict", text)
	}
}

// TestHandlerToolErrors verifies service failures surface as tool errors.
func TestHandlerToolErrors(t *testing.T) {
	server := newTestServer(t, "sam", domain.RoleStudent)
	_, _ = postJSONRPC(t, server.Client(), server.URL, initializeRequest())

	cases := []struct {
		name   string
		tool   string
		args   map[string]any
		prefix string
	}{
		{name: "forbidden", tool: "shotboard.create_act", args: map[string]any{"code": "act02", "name": "Middle"}, prefix: "forbidden:"},
		{name: "forbidden shot", tool: "shotboard.create_shot", args: map[string]any{"act_code": "act01", "code": "shot09"}, prefix: "forbidden:"},
		{name: "not found", tool: "shotboard.get_shot", args: map[string]any{"shot_id": 42}, prefix: "not_found:"},
		{name: "invalid", tool: "shotboard.set_shot_status", args: map[string]any{"shot_id": 1, "department": "sound", "status": "review"}, prefix: "invalid_request:"},
		{name: "unknown bulk ids", tool: "shotboard.bulk_set_status", args: map[string]any{"shot_ids": []int{1, 99}, "department": "comp", "status": "final"}, prefix: "invalid_request:"},
	}
	for i, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, resp := postJSONRPC(t, server.Client(), server.URL, callToolRequest(10+i, tc.tool, tc.args))
			if !isError(resp.Result) {
				t.Fatalf("expected tool error, got %#v", resp.Result)
			}
			if text := toolResultText(t, resp.Result); !strings.HasPrefix(text, tc.prefix) {
				t.Fatalf("error text = %q, want prefix %q", text, tc.prefix)
			}
		})
	}
}
