package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"temporary-access/backend/internal/auth"
	"temporary-access/backend/internal/services"
	"temporary-access/backend/pkg/models"
)

type Server struct {
	mcpServer *server.MCPServer
	synth     *services.SynthService
}

func NewServer(synth *services.SynthService) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"Temporary Access",
			"1.0.0",
			server.WithToolCapabilities(true),
		),
		synth: synth,
	}

	s.registerTools()
	return s
}

func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"synthesize_stack",
			mcp.WithDescription("Synthesize the temporary access stack and store a template revision if it changed"),
			mcp.WithString("format", mcp.Description("Template format to return: json (default) or yaml")),
		),
		s.handleSynthesize,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"validate_access_request",
			mcp.WithDescription("Validate temporary access parameters and preview the grant and revoke schedules"),
			mcp.WithString("start_time", mcp.Required(), mcp.Description("Access start, YYYY-MM-DDThh:mm:ss")),
			mcp.WithString("end_time", mcp.Required(), mcp.Description("Access end, YYYY-MM-DDThh:mm:ss")),
			mcp.WithString("account_id", mcp.Required(), mcp.Description("12 digit target account ID")),
			mcp.WithString("user_name", mcp.Required(), mcp.Description("Identity Center user name")),
		),
		s.handleValidate,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"render_schedule_payload",
			mcp.WithDescription("Render the input a schedule delivers to the account assignment function"),
			mcp.WithString("account_id", mcp.Required(), mcp.Description("12 digit target account ID")),
			mcp.WithString("user_name", mcp.Required(), mcp.Description("Identity Center user name")),
			mcp.WithString("action", mcp.Required(), mcp.Enum(string(models.ActionCreate), string(models.ActionDelete)), mcp.Description("create grants access, delete revokes it")),
			mcp.WithString("scheduler_arn", mcp.Description("ARN of the firing schedule; defaults to the scheduler placeholder")),
		),
		s.handleRenderPayload,
	)
}

func (s *Server) handleSynthesize(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok && request.Params.Arguments != nil {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}
	format, _ := args["format"].(string)
	if format != "" && format != "json" && format != "yaml" {
		return mcp.NewToolResultError("format must be json or yaml"), nil
	}

	createdBy, ok := auth.RequesterFromContext(ctx)
	if !ok {
		createdBy = "mcp"
	}
	res, err := s.synth.Synthesize(ctx, createdBy)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to synthesize: %v", err)), nil
	}

	body := res.TemplateJSON
	if format == "yaml" {
		body = res.TemplateYAML
	}
	return mcp.NewToolResultText(fmt.Sprintf("revision %d (changed=%t)\n%s", res.Revision.Version, res.Changed, body)), nil
}

func (s *Server) handleValidate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	req := models.AccessRequest{}
	for key, dst := range map[string]*string{
		"start_time": &req.StartTime,
		"end_time":   &req.EndTime,
		"account_id": &req.AccountID,
		"user_name":  &req.UserName,
	} {
		v, ok := args[key].(string)
		if !ok || v == "" {
			return mcp.NewToolResultError("Missing required parameter: " + key), nil
		}
		*dst = v
	}

	plan, err := s.synth.ValidateRequest(ctx, req)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Invalid request: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(plan)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleRenderPayload(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	accountID, _ := args["account_id"].(string)
	userName, _ := args["user_name"].(string)
	action, _ := args["action"].(string)
	schedulerARN, _ := args["scheduler_arn"].(string)

	payload, err := services.RenderPayload(accountID, userName, models.Action(action), schedulerARN)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	jsonBytes, _ := json.Marshal(payload)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func MountHTTPHandlers(mux *http.ServeMux, mcpServer *server.MCPServer) {
	// Use SSE server for /mcp/sse and /mcp/message endpoints
	sseServer := server.NewSSEServer(mcpServer,
		server.WithStaticBasePath("/mcp"),
		server.WithSSEContextFunc(requesterContext),
	)

	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		// Direct POST for tool calls
		if r.Method == http.MethodPost {
			sseServer.ServeHTTP(w, r)
			return
		}
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	// SSE endpoints
	mux.HandleFunc("/mcp/sse", sseServer.ServeHTTP)
	mux.HandleFunc("/mcp/message", sseServer.ServeHTTP)
}

// requesterContext carries the authenticated caller into tool handlers.
func requesterContext(ctx context.Context, r *http.Request) context.Context {
	if email, ok := auth.RequesterFromContext(r.Context()); ok {
		return auth.WithRequester(ctx, email)
	}
	return ctx
}
