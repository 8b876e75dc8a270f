package bulkedit

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sha1n/mcp-replace-server/internal/replace"
)

// PreviewArgument defines preview parameters.
type PreviewArgument struct {
	ContentTypeUID string         `json:"contentTypeUid,omitempty" jsonschema_description:"Content type of the entry to preview"`
	EntryUID       string         `json:"entryUid,omitempty" jsonschema_description:"Entry to preview; its latest draft is fetched from the CMS"`
	Document       map[string]any `json:"document,omitempty" jsonschema_description:"Inline document to preview instead of a CMS entry"`
	Rule           RuleArgument   `json:"rule" jsonschema_description:"Replacement rule"`
}

// PreviewHandler handles the preview_replace MCP tool.
type PreviewHandler struct {
	service *Service
}

// NewPreviewHandler creates a new preview handler.
func NewPreviewHandler(service *Service) *PreviewHandler {
	return &PreviewHandler{service: service}
}

// Handle previews the rule without writing anything.
func (h *PreviewHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args PreviewArgument) (*mcp.CallToolResult, any, error) {
	rule := args.Rule.ToRule()

	var (
		preview *replace.Preview
		err     error
	)
	if args.Document != nil {
		preview, err = h.service.PreviewDocument(args.Document, rule)
	} else {
		preview, err = h.service.PreviewEntry(ctx, args.ContentTypeUID, args.EntryUID, rule)
	}
	if err != nil {
		return errorResult("Preview failed: %s", err), nil, nil
	}

	summary := fmt.Sprintf("%d replacement(s) in %d field(s)", preview.TotalReplaced, len(preview.Changes))
	return jsonResult(summary, preview), nil, nil
}

// GetToolDefinition returns the MCP tool definition.
func (h *PreviewHandler) GetToolDefinition() *mcp.Tool {
	return &mcp.Tool{
		Name:        "preview_replace",
		Description: "Preview a find/replace rule on a CMS entry or inline document without saving",
	}
}

// RegisterPreviewTool registers the preview tool with an MCP server.
func RegisterPreviewTool(server *mcp.Server, service *Service) {
	handler := NewPreviewHandler(service)
	mcp.AddTool(server, handler.GetToolDefinition(), handler.Handle)
}
