package bulkedit

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ListSnapshotsArgument defines snapshot lookup parameters.
type ListSnapshotsArgument struct {
	ContentTypeUID string `json:"contentTypeUid,omitempty" jsonschema_description:"Filter by content type"`
	EntryUID       string `json:"entryUid,omitempty" jsonschema_description:"Filter by entry"`
	Limit          int    `json:"limit,omitempty" jsonschema_description:"Maximum number of snapshots (default 20)"`
}

// ListSnapshotsHandler handles the list_snapshots MCP tool.
type ListSnapshotsHandler struct {
	service *Service
}

// NewListSnapshotsHandler creates a new snapshot list handler.
func NewListSnapshotsHandler(service *Service) *ListSnapshotsHandler {
	return &ListSnapshotsHandler{service: service}
}

// Handle lists snapshots newest first.
func (h *ListSnapshotsHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args ListSnapshotsArgument) (*mcp.CallToolResult, any, error) {
	infos, err := h.service.Snapshots(args.ContentTypeUID, args.EntryUID, args.Limit)
	if err != nil {
		return errorResult("Failed to list snapshots: %s", err), nil, nil
	}

	if len(infos) == 0 {
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: "No snapshots found"},
			},
		}, nil, nil
	}

	return jsonResult(fmt.Sprintf("Found %d snapshot(s)", len(infos)), infos), nil, nil
}

// GetToolDefinition returns the MCP tool definition.
func (h *ListSnapshotsHandler) GetToolDefinition() *mcp.Tool {
	return &mcp.Tool{
		Name:        "list_snapshots",
		Description: "List pre-update snapshots of CMS entries, newest first",
	}
}

// RegisterListSnapshotsTool registers the snapshot list tool with an MCP server.
func RegisterListSnapshotsTool(server *mcp.Server, service *Service) {
	handler := NewListSnapshotsHandler(service)
	mcp.AddTool(server, handler.GetToolDefinition(), handler.Handle)
}
