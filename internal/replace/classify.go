package replace

import (
	"encoding/json"
	"time"
)

// FieldKind is the structural kind of a value inside a content document.
type FieldKind int

// Field kinds, in classification priority order.
const (
	KindNull FieldKind = iota
	KindString
	KindScalar
	KindArray
	KindGroup
	KindRichText
	KindTable
	KindComponent
	KindFile
	KindReference
	KindJSON
	KindOpaque
)

var kindNames = map[FieldKind]string{
	KindNull:      "null",
	KindString:    "string",
	KindScalar:    "scalar",
	KindArray:     "array",
	KindGroup:     "group",
	KindRichText:  "rich_text",
	KindTable:     "table",
	KindComponent: "component",
	KindFile:      "file",
	KindReference: "reference",
	KindJSON:      "json",
	KindOpaque:    "opaque",
}

// String returns the kind name.
func (k FieldKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Structural markers used for classification.
const (
	keyContentTypeUID = "_content_type_uid"
	keyNodeType       = "nodeType"
	keyContent        = "content"
	keyChildren       = "children"
	keyRows           = "rows"
	keyCells          = "cells"
	keyValue          = "value"
	keyUID            = "uid"
	keyURL            = "url"
	keyFilename       = "filename"
	keyText           = "text"
	keyAttrs          = "attrs"
	keyHref           = "href"
)

// Classify returns the kind of v. It is pure and total: every value maps to
// exactly one kind and the first matching rule wins.
//
//	| # | rule                                                          | kind      |
//	|---|---------------------------------------------------------------|-----------|
//	| 0 | nil                                                           | null      |
//	| 1 | string                                                        | string    |
//	| 2 | bool, int, int64, float64, json.Number, time.Time             | scalar    |
//	| 3 | []any whose first element has _content_type_uid               | group     |
//	| 3 | any other []any                                               | array     |
//	| 4 | map with nodeType, or content/children holding an array       | rich_text |
//	| 5 | map with rows                                                 | table     |
//	| 6 | map with _content_type_uid                                    | component |
//	| 7 | map with filename or url                                      | file      |
//	| 7 | map with uid                                                  | reference |
//	| 8 | any other map[string]any                                      | json      |
//	| - | anything else                                                 | opaque    |
func Classify(v any) FieldKind {
	switch x := v.(type) {
	case nil:
		return KindNull
	case string:
		return KindString
	case bool, int, int64, float64, json.Number, time.Time:
		return KindScalar
	case []any:
		if len(x) > 0 && isComponent(x[0]) {
			return KindGroup
		}
		return KindArray
	case map[string]any:
		return classifyObject(x)
	default:
		return KindOpaque
	}
}

func classifyObject(m map[string]any) FieldKind {
	if isRichTextNode(m) {
		return KindRichText
	}
	if _, ok := m[keyRows]; ok {
		return KindTable
	}
	if _, ok := m[keyContentTypeUID]; ok {
		return KindComponent
	}
	if hasAny(m, keyFilename, keyURL) {
		return KindFile
	}
	if _, ok := m[keyUID]; ok {
		return KindReference
	}
	return KindJSON
}

func isRichTextNode(m map[string]any) bool {
	if _, ok := m[keyNodeType]; ok {
		return true
	}
	if _, ok := m[keyContent].([]any); ok {
		return true
	}
	_, ok := m[keyChildren].([]any)
	return ok
}

func isComponent(v any) bool {
	m, ok := v.(map[string]any)
	if !ok {
		return false
	}
	_, ok = m[keyContentTypeUID]
	return ok
}

func hasAny(m map[string]any, keys ...string) bool {
	for _, k := range keys {
		if _, ok := m[k]; ok {
			return true
		}
	}
	return false
}
