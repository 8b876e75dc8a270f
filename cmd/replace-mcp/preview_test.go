package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sha1n/mcp-replace-server/internal/domain"
)

func TestRunPreview(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		opts      previewOptions
		wantLines []string
		wantAfter map[string]any
	}{
		{
			name:  "json",
			input: `{"title": "Gemini launch", "body": "We use gemini daily.", "views": 3}`,
			opts: previewOptions{
				document: "-",
				rule:     domain.ReplacementRule{Find: "gemini", Replace: "claude", PreserveCase: true},
				maxLen:   512,
			},
			wantLines: []string{"2 replacement(s) in 2 field(s)", "  body: 1", "  title: 1"},
			wantAfter: map[string]any{"title": "Claude launch", "body": "We use claude daily.", "views": float64(3)},
		},
		{
			name:  "yaml regex",
			input: "title: v1 and v2\n",
			opts: previewOptions{
				document: "-",
				rule:     domain.ReplacementRule{Find: `v(\d)`, Replace: "version $1"},
				regex:    true,
				maxLen:   512,
			},
			wantLines: []string{"2 replacement(s) in 1 field(s)", "  title: 2"},
			wantAfter: map[string]any{"title": "version 1 and version 2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			if err := runPreview(strings.NewReader(tt.input), &out, &tt.opts); err != nil {
				t.Fatalf("runPreview failed: %v", err)
			}

			summary, body, ok := strings.Cut(out.String(), "\n\n")
			if !ok {
				t.Fatalf("Expected summary and document, got %q", out.String())
			}
			lines := strings.Split(summary, "\n")
			if len(lines) != len(tt.wantLines) {
				t.Fatalf("summary = %q, want %q", lines, tt.wantLines)
			}
			for i := range lines {
				if lines[i] != tt.wantLines[i] {
					t.Errorf("line %d = %q, want %q", i, lines[i], tt.wantLines[i])
				}
			}

			var after map[string]any
			if err := json.Unmarshal([]byte(body), &after); err != nil {
				t.Fatalf("Failed to decode document: %v", err)
			}
			for k, v := range tt.wantAfter {
				if after[k] != v {
					t.Errorf("after[%q] = %v, want %v", k, after[k], v)
				}
			}
		})
	}
}

func TestRunPreview_NoMatches(t *testing.T) {
	var out bytes.Buffer
	opts := &previewOptions{document: "-", rule: domain.ReplacementRule{Find: "openai", Replace: "x"}, maxLen: 512}
	if err := runPreview(strings.NewReader(`{"title": "Gemini"}`), &out, opts); err != nil {
		t.Fatalf("runPreview failed: %v", err)
	}
	if out.String() != "No matches\n" {
		t.Errorf("output = %q", out.String())
	}
}

func TestRunPreview_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "entry.json")
	if err := os.WriteFile(path, []byte(`{"title": "gemini"}`), 0644); err != nil {
		t.Fatalf("Failed to write document: %v", err)
	}

	var out bytes.Buffer
	opts := &previewOptions{document: path, rule: domain.ReplacementRule{Find: "gemini", Replace: "claude"}, maxLen: 512}
	if err := runPreview(strings.NewReader(""), &out, opts); err != nil {
		t.Fatalf("runPreview failed: %v", err)
	}
	if !strings.Contains(out.String(), `"title": "claude"`) {
		t.Errorf("output = %q", out.String())
	}
}

func TestRunPreview_Errors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		opts    previewOptions
		wantErr string
	}{
		{
			name:    "pattern too long",
			input:   `{"title": "x"}`,
			opts:    previewOptions{document: "-", rule: domain.ReplacementRule{Find: "abcdef"}, maxLen: 3},
			wantErr: "too long",
		},
		{
			name:    "invalid regex",
			input:   `{"title": "x"}`,
			opts:    previewOptions{document: "-", rule: domain.ReplacementRule{Find: "("}, regex: true, maxLen: 512},
			wantErr: "invalid",
		},
		{
			name:    "empty document",
			input:   "",
			opts:    previewOptions{document: "-", rule: domain.ReplacementRule{Find: "x"}, maxLen: 512},
			wantErr: "empty",
		},
		{
			name:    "not an object",
			input:   "- a\n- b\n",
			opts:    previewOptions{document: "-", rule: domain.ReplacementRule{Find: "x"}, maxLen: 512},
			wantErr: "failed to parse document",
		},
		{
			name:    "missing file",
			opts:    previewOptions{document: "/nonexistent/entry.json", rule: domain.ReplacementRule{Find: "x"}, maxLen: 512},
			wantErr: "failed to read document",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := runPreview(strings.NewReader(tt.input), &bytes.Buffer{}, &tt.opts)
			if err == nil {
				t.Fatalf("Expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got %q", tt.wantErr, err.Error())
			}
		})
	}
}

func TestExecute_PreviewRequiresFind(t *testing.T) {
	err := Execute("1.0.0", "abc123", "replace-mcp", []string{"preview", "-f", "-"})
	if err == nil || !strings.Contains(err.Error(), "find") {
		t.Errorf("Expected required flag error for --find, got %v", err)
	}
}
