package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sha1n/mcp-replace-server/internal/app"
	"github.com/sha1n/mcp-replace-server/internal/domain"
	"github.com/sha1n/mcp-replace-server/tests/integration/testkit"
)

// server is a replace-mcp instance running over SSE against a fake CMS.
type server struct {
	baseURL string
	dataDir string
	cms     *testkit.CMSService
	session *mcp.ClientSession
}

func startServer(t *testing.T, backend string) *server {
	t.Helper()

	cms := testkit.NewCMSService()
	cms.Put("blog", "e1", map[string]any{"uid": "e1", "_version": 1, "title": "Gemini launch", "body": "We use gemini daily."})
	cms.Put("blog", "e2", map[string]any{"uid": "e2", "_version": 4, "title": "Release notes", "body": "Gemini and GEMINI."})
	cms.Put("blog", "e3", map[string]any{"uid": "e3", "_version": 1, "title": "Unrelated"})

	env := testkit.NewTestEnv(cms)
	props, err := env.Start()
	if err != nil {
		t.Fatalf("Failed to start test env: %v", err)
	}
	t.Cleanup(func() { _ = env.Stop() })

	dataDir := t.TempDir()
	port := testkit.MustGetFreePort(t)
	flags := testkit.NewTestFlags(t, &testkit.FlagOptions{
		Port:        port,
		Host:        "127.0.0.1",
		DataDir:     dataDir,
		CMSBaseURL:  props[testkit.CMSURLProperty].(string),
		CMSAPIKey:   "test-key",
		JobsBackend: backend,
		QueuePath:   filepath.Join(dataDir, "queue", "jobs.db"),
	})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- app.RunWithDeps(ctx, app.DefaultRunParams(), flags, "test")
	}()

	s := &server{baseURL: fmt.Sprintf("http://127.0.0.1:%d", port), dataDir: dataDir, cms: cms}
	waitForHealth(t, s.baseURL)

	client := mcp.NewClient(&mcp.Implementation{Name: "integration", Version: "1.0.0"}, nil)
	session, err := client.Connect(ctx, &mcp.SSEClientTransport{Endpoint: s.baseURL + "/sse"}, nil)
	if err != nil {
		cancel()
		t.Fatalf("Failed to connect MCP client: %v", err)
	}
	s.session = session

	t.Cleanup(func() {
		_ = session.Close()
		cancel()
		select {
		case err := <-errCh:
			if err != nil {
				t.Errorf("Server exited with error: %v", err)
			}
		case <-time.After(15 * time.Second):
			t.Error("Server did not shut down")
		}
	})
	return s
}

func waitForHealth(t *testing.T, baseURL string) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(baseURL + "/health")
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("Server did not become healthy")
}

func (s *server) callTool(t *testing.T, name string, args map[string]any) string {
	t.Helper()
	result, err := s.session.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("CallTool(%s) failed: %v", name, err)
	}
	if len(result.Content) == 0 {
		t.Fatalf("CallTool(%s) returned no content", name)
	}
	text, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("CallTool(%s) returned %T", name, result.Content[0])
	}
	if result.IsError {
		t.Fatalf("CallTool(%s) returned error: %s", name, text.Text)
	}
	return text.Text
}

func decodeJSONBlock(t *testing.T, text string, v any) {
	t.Helper()
	start := strings.Index(text, "```json\n")
	end := strings.LastIndex(text, "\n```")
	if start < 0 || end <= start {
		t.Fatalf("No JSON block in %q", text)
	}
	if err := json.Unmarshal([]byte(text[start+len("```json\n"):end]), v); err != nil {
		t.Fatalf("Failed to decode JSON block: %v", err)
	}
}

// waitForJob polls the HTTP job endpoint until the job is terminal.
func (s *server) waitForJob(t *testing.T, id string) *domain.JobRecord {
	t.Helper()
	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(s.baseURL + "/jobs/" + id)
		if err != nil {
			t.Fatalf("GET /jobs/%s failed: %v", id, err)
		}
		var rec domain.JobRecord
		decodeErr := json.NewDecoder(resp.Body).Decode(&rec)
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("GET /jobs/%s returned %d", id, resp.StatusCode)
		}
		if decodeErr != nil {
			t.Fatalf("Failed to decode job: %v", decodeErr)
		}
		if rec.Status.IsTerminal() {
			return &rec
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("Job %s did not finish", id)
	return nil
}

func geminiRule() map[string]any {
	return map[string]any{"find": "gemini", "replace": "claude", "preserveCase": true}
}

func TestPreviewDoesNotWrite(t *testing.T) {
	s := startServer(t, "memory")

	text := s.callTool(t, "preview_replace", map[string]any{
		"contentTypeUid": "blog",
		"entryUid":       "e1",
		"rule":           geminiRule(),
	})
	if !strings.HasPrefix(text, "2 replacement(s) in 2 field(s)") {
		t.Errorf("Unexpected preview %q", text)
	}
	if !strings.Contains(text, "Claude launch") {
		t.Errorf("Expected rewritten title in preview %q", text)
	}
	if updates := s.cms.Updates(); len(updates) != 0 {
		t.Errorf("Preview must not update entries, got %v", updates)
	}
}

func TestApplySnapshotsAndCommits(t *testing.T) {
	s := startServer(t, "memory")

	text := s.callTool(t, "apply_replace", map[string]any{
		"contentTypeUid": "blog",
		"entryUid":       "e1",
		"rule":           geminiRule(),
	})
	if !strings.HasPrefix(text, "Saved 2 replacement(s) in blog/e1 (snapshot ") {
		t.Fatalf("Unexpected apply result %q", text)
	}

	entry, _ := s.cms.Entry("blog", "e1")
	if entry["title"] != "Claude launch" || entry["body"] != "We use claude daily." {
		t.Errorf("Unexpected entry after apply: %v", entry)
	}

	text = s.callTool(t, "list_snapshots", map[string]any{"contentTypeUid": "blog", "entryUid": "e1"})
	var snapshots []struct {
		ID      string `json:"id"`
		Version int    `json:"version"`
	}
	decodeJSONBlock(t, text, &snapshots)
	if len(snapshots) != 1 || snapshots[0].Version != 1 {
		t.Fatalf("Unexpected snapshots %+v", snapshots)
	}

	data, err := os.ReadFile(filepath.Join(s.dataDir, "snapshots", snapshots[0].ID+".json"))
	if err != nil {
		t.Fatalf("Failed to read snapshot file: %v", err)
	}
	if !strings.Contains(string(data), "Gemini launch") {
		t.Errorf("Snapshot does not hold the original entry: %s", data)
	}
}

func TestBatchJob(t *testing.T) {
	for _, backend := range []string{"memory", "queue"} {
		t.Run(backend, func(t *testing.T) {
			s := startServer(t, backend)

			text := s.callTool(t, "submit_batch", map[string]any{
				"contentTypeUid": "blog",
				"entryUids":      []string{"e1", "e2", "e3", "missing"},
				"rule":           geminiRule(),
			})
			var submitted domain.JobRecord
			decodeJSONBlock(t, text, &submitted)
			if submitted.ID == "" {
				t.Fatalf("Expected a job id in %q", text)
			}

			rec := s.waitForJob(t, submitted.ID)
			if rec.Status != domain.StatusCompleted || rec.Progress != 100 {
				t.Fatalf("Unexpected job state %s (%d%%): %s", rec.Status, rec.Progress, rec.Error)
			}
			if rec.Result == nil || rec.Result.TotalReplaced != 4 || rec.Result.Processed != 4 {
				t.Errorf("Unexpected result %+v", rec.Result)
			}
			if len(rec.EntryErrors) != 1 || rec.EntryErrors[0].EntryUID != "missing" || rec.EntryErrors[0].Stage != domain.StageFetch {
				t.Errorf("Unexpected entry errors %+v", rec.EntryErrors)
			}

			updates := s.cms.Updates()
			if len(updates) != 2 || updates[0] != "blog/e1" || updates[1] != "blog/e2" {
				t.Errorf("Expected updates to e1 then e2, got %v", updates)
			}
			entry, _ := s.cms.Entry("blog", "e2")
			if entry["body"] != "Claude and CLAUDE." {
				t.Errorf("Unexpected e2 body %v", entry["body"])
			}

			text = s.callTool(t, "job_status", map[string]any{"jobId": submitted.ID})
			if !strings.HasPrefix(text, "Job "+submitted.ID+" is completed (100%), 1 entry error(s)") {
				t.Errorf("Unexpected job status %q", text)
			}
		})
	}
}

func TestBatchJobRejectsInvalidRule(t *testing.T) {
	s := startServer(t, "memory")

	result, err := s.session.CallTool(context.Background(), &mcp.CallToolParams{
		Name: "submit_batch",
		Arguments: map[string]any{
			"contentTypeUid": "blog",
			"entryUids":      []string{"e1"},
			"rule":           map[string]any{"find": "(", "replace": "x", "mode": "regex"},
		},
	})
	if err != nil {
		t.Fatalf("CallTool failed: %v", err)
	}
	if !result.IsError {
		t.Error("Expected an invalid regex to be rejected")
	}
	if updates := s.cms.Updates(); len(updates) != 0 {
		t.Errorf("Rejected batch must not update entries, got %v", updates)
	}
}

func TestJobEndpointNotFound(t *testing.T) {
	s := startServer(t, "memory")

	resp, err := http.Get(s.baseURL + "/jobs/unknown")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", resp.StatusCode)
	}
}
