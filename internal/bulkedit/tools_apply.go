package bulkedit

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sha1n/mcp-replace-server/internal/replace"
)

// ApplyArgument defines apply parameters. Exactly one of Rule and
// Suggestions must be given.
type ApplyArgument struct {
	ContentTypeUID string               `json:"contentTypeUid" jsonschema_description:"Content type of the entry"`
	EntryUID       string               `json:"entryUid" jsonschema_description:"Entry to update"`
	Rule           *RuleArgument        `json:"rule,omitempty" jsonschema_description:"Replacement rule"`
	Suggestions    []replace.Suggestion `json:"suggestions,omitempty" jsonschema_description:"Suggested replacements, applied in order as case-sensitive literals"`
	MinConfidence  float64              `json:"minConfidence,omitempty" jsonschema_description:"Skip suggestions below this confidence (default 0.5)"`
	DryRun         bool                 `json:"dryRun,omitempty" jsonschema_description:"Compute the result without saving"`
}

// ApplyHandler handles the apply_replace MCP tool.
type ApplyHandler struct {
	service *Service
}

// NewApplyHandler creates a new apply handler.
func NewApplyHandler(service *Service) *ApplyHandler {
	return &ApplyHandler{service: service}
}

// Handle applies the rule or suggestions to one entry.
func (h *ApplyHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args ApplyArgument) (*mcp.CallToolResult, any, error) {
	applyReq := ApplyRequest{
		ContentTypeUID: args.ContentTypeUID,
		EntryUID:       args.EntryUID,
		Suggestions:    args.Suggestions,
		MinConfidence:  args.MinConfidence,
		DryRun:         args.DryRun,
	}
	if args.Rule != nil {
		rule := args.Rule.ToRule()
		applyReq.Rule = &rule
	}

	outcome, err := h.service.Apply(ctx, applyReq)
	if err != nil {
		return errorResult("Apply failed: %s", err), nil, nil
	}

	return jsonResult(applySummary(args, outcome), outcome), nil, nil
}

func applySummary(args ApplyArgument, outcome *ApplyOutcome) string {
	entry := fmt.Sprintf("%s/%s", args.ContentTypeUID, args.EntryUID)
	switch {
	case outcome.TotalReplaced == 0:
		return fmt.Sprintf("No matches in %s, nothing saved", entry)
	case !outcome.Committed:
		return fmt.Sprintf("Dry run: %d replacement(s) in %s, nothing saved", outcome.TotalReplaced, entry)
	case outcome.SnapshotID != "":
		return fmt.Sprintf("Saved %d replacement(s) in %s (snapshot %s)", outcome.TotalReplaced, entry, outcome.SnapshotID)
	default:
		return fmt.Sprintf("Saved %d replacement(s) in %s", outcome.TotalReplaced, entry)
	}
}

// GetToolDefinition returns the MCP tool definition.
func (h *ApplyHandler) GetToolDefinition() *mcp.Tool {
	return &mcp.Tool{
		Name:        "apply_replace",
		Description: "Apply a find/replace rule or a list of suggestions to one CMS entry, snapshotting it first",
	}
}

// RegisterApplyTool registers the apply tool with an MCP server.
func RegisterApplyTool(server *mcp.Server, service *Service) {
	handler := NewApplyHandler(service)
	mcp.AddTool(server, handler.GetToolDefinition(), handler.Handle)
}
