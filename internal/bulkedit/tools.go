package bulkedit

import (
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sha1n/mcp-replace-server/internal/domain"
)

// RuleArgument is the replacement rule accepted by the tools.
type RuleArgument struct {
	Find          string `json:"find" jsonschema_description:"Text or regular expression to find"`
	Replace       string `json:"replace,omitempty" jsonschema_description:"Replacement text; in regex mode may reference groups ($1, ${name})"`
	Mode          string `json:"mode,omitempty" jsonschema_description:"literal (default) or regex"`
	CaseSensitive bool   `json:"caseSensitive,omitempty" jsonschema_description:"Match case exactly"`
	WholeWord     bool   `json:"wholeWord,omitempty" jsonschema_description:"Literal mode only: match whole words"`
	PreserveCase  bool   `json:"preserveCase,omitempty" jsonschema_description:"Adapt the replacement to the casing of each match"`
	UpdateURLs    bool   `json:"updateUrls,omitempty" jsonschema_description:"Also rewrite strings containing URLs"`
	UpdateEmails  bool   `json:"updateEmails,omitempty" jsonschema_description:"Also rewrite strings containing email addresses"`
}

// ToRule converts the argument to a ReplacementRule.
func (a RuleArgument) ToRule() domain.ReplacementRule {
	return domain.ReplacementRule{
		Find:          a.Find,
		Replace:       a.Replace,
		Mode:          domain.Mode(a.Mode),
		CaseSensitive: a.CaseSensitive,
		WholeWord:     a.WholeWord,
		PreserveCase:  a.PreserveCase,
		UpdateURLs:    a.UpdateURLs,
		UpdateEmails:  a.UpdateEmails,
	}
}

// RegisterTools registers all bulk-edit tools with an MCP server.
func RegisterTools(server *mcp.Server, service *Service) {
	RegisterPreviewTool(server, service)
	RegisterApplyTool(server, service)
	RegisterSubmitBatchTool(server, service)
	RegisterJobStatusTool(server, service)
	RegisterListSnapshotsTool(server, service)
}

func errorResult(format string, args ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf(format, args...)},
		},
		IsError: true,
	}
}

func jsonResult(summary string, v any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult("Failed to encode result: %s", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf("%s\n\n```json\n%s\n```", summary, data)},
		},
	}
}
