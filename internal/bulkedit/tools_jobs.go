package bulkedit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sha1n/mcp-replace-server/internal/domain"
	"github.com/sha1n/mcp-replace-server/internal/jobs"
)

// SubmitBatchArgument defines batch submission parameters.
type SubmitBatchArgument struct {
	ContentTypeUID string        `json:"contentTypeUid" jsonschema_description:"Content type of all entries in the batch"`
	EntryUIDs      []string      `json:"entryUids" jsonschema_description:"Entries to process, in order"`
	Rule           *RuleArgument `json:"rule" jsonschema_description:"Replacement rule"`
	DryRun         bool          `json:"dryRun,omitempty" jsonschema_description:"Count replacements without saving"`
}

// SubmitBatchHandler handles the submit_batch MCP tool.
type SubmitBatchHandler struct {
	service *Service
}

// NewSubmitBatchHandler creates a new submit handler.
func NewSubmitBatchHandler(service *Service) *SubmitBatchHandler {
	return &SubmitBatchHandler{service: service}
}

// Handle validates and queues the batch.
func (h *SubmitBatchHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args SubmitBatchArgument) (*mcp.CallToolResult, any, error) {
	payload := domain.BatchPayload{
		ContentTypeUID: args.ContentTypeUID,
		EntryUIDs:      args.EntryUIDs,
		DryRun:         args.DryRun,
	}
	if args.Rule != nil {
		rule := args.Rule.ToRule()
		payload.Rule = &rule
	}

	rec, err := h.service.Submit(ctx, payload)
	if err != nil {
		var verr *jobs.ValidationError
		if errors.As(err, &verr) {
			return errorResult("Rejected: %s", verr), nil, nil
		}
		return errorResult("Submit failed: %s", err), nil, nil
	}

	summary := fmt.Sprintf("Job %s queued for %d entries. Use job_status to follow it.", rec.ID, len(rec.Payload.EntryUIDs))
	return jsonResult(summary, rec), nil, nil
}

// GetToolDefinition returns the MCP tool definition.
func (h *SubmitBatchHandler) GetToolDefinition() *mcp.Tool {
	return &mcp.Tool{
		Name:        "submit_batch",
		Description: "Queue a find/replace job over many entries of one content type",
	}
}

// RegisterSubmitBatchTool registers the submit tool with an MCP server.
func RegisterSubmitBatchTool(server *mcp.Server, service *Service) {
	handler := NewSubmitBatchHandler(service)
	mcp.AddTool(server, handler.GetToolDefinition(), handler.Handle)
}

// JobStatusArgument defines job status parameters.
type JobStatusArgument struct {
	JobID string `json:"jobId" jsonschema_description:"Job id returned by submit_batch"`
}

// JobStatusHandler handles the job_status MCP tool.
type JobStatusHandler struct {
	service *Service
}

// NewJobStatusHandler creates a new job status handler.
func NewJobStatusHandler(service *Service) *JobStatusHandler {
	return &JobStatusHandler{service: service}
}

// Handle returns the job record.
func (h *JobStatusHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args JobStatusArgument) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(args.JobID) == "" {
		return errorResult("Job id cannot be empty"), nil, nil
	}

	rec, err := h.service.Job(args.JobID)
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			return errorResult("Job not found: %s", args.JobID), nil, nil
		}
		return errorResult("Failed to read job: %s", err), nil, nil
	}

	summary := fmt.Sprintf("Job %s is %s (%d%%), %d entry error(s)", rec.ID, rec.Status, rec.Progress, len(rec.EntryErrors))
	return jsonResult(summary, rec), nil, nil
}

// GetToolDefinition returns the MCP tool definition.
func (h *JobStatusHandler) GetToolDefinition() *mcp.Tool {
	return &mcp.Tool{
		Name:        "job_status",
		Description: "Show the status, progress and per-entry results of a batch job",
	}
}

// RegisterJobStatusTool registers the job status tool with an MCP server.
func RegisterJobStatusTool(server *mcp.Server, service *Service) {
	handler := NewJobStatusHandler(service)
	mcp.AddTool(server, handler.GetToolDefinition(), handler.Handle)
}
