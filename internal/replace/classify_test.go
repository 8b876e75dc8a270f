package replace

import (
	"encoding/json"
	"testing"
	"time"
)

func TestClassify_DecisionTable(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  FieldKind
	}{
		{"nil", nil, KindNull},
		{"string", "hello", KindString},
		{"bool", true, KindScalar},
		{"int", 3, KindScalar},
		{"int64", int64(3), KindScalar},
		{"float", 1.5, KindScalar},
		{"json number", json.Number("42"), KindScalar},
		{"time", time.Now(), KindScalar},
		{"empty array", []any{}, KindArray},
		{"string array", []any{"a", "b"}, KindArray},
		{"component group", []any{map[string]any{"_content_type_uid": "hero"}}, KindGroup},
		{"group decided by first element", []any{"a", map[string]any{"_content_type_uid": "hero"}}, KindArray},
		{"rte by nodeType", map[string]any{"nodeType": "document"}, KindRichText},
		{"rte by children", map[string]any{"type": "doc", "children": []any{}}, KindRichText},
		{"rte by content", map[string]any{"content": []any{}}, KindRichText},
		{"string content is not rte", map[string]any{"content": "text"}, KindJSON},
		{"rte wins over table", map[string]any{"children": []any{}, "rows": []any{}}, KindRichText},
		{"table", map[string]any{"rows": []any{}}, KindTable},
		{"malformed table is still a table", map[string]any{"rows": "oops"}, KindTable},
		{"table wins over component", map[string]any{"rows": []any{}, "_content_type_uid": "t"}, KindTable},
		{"component", map[string]any{"_content_type_uid": "hero", "title": "x"}, KindComponent},
		{"component wins over reference", map[string]any{"_content_type_uid": "page", "uid": "blt1"}, KindComponent},
		{"file by filename", map[string]any{"uid": "blt1", "filename": "a.png"}, KindFile},
		{"file by url", map[string]any{"url": "https://cdn/a.png", "title": "A"}, KindFile},
		{"reference", map[string]any{"uid": "blt1", "title": "Page"}, KindReference},
		{"plain object", map[string]any{"title": "x"}, KindJSON},
		{"empty object", map[string]any{}, KindJSON},
		{"opaque", struct{}{}, KindOpaque},
		{"unsupported numeric", uint8(1), KindOpaque},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.value); got != tt.want {
				t.Errorf("Classify() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestFieldKind_String(t *testing.T) {
	if KindRichText.String() != "rich_text" {
		t.Errorf("Unexpected name %q", KindRichText.String())
	}
	if FieldKind(99).String() != "unknown" {
		t.Errorf("Unexpected name %q", FieldKind(99).String())
	}
}
