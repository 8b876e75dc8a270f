package replace

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Options controls which strings the walker may rewrite.
type Options struct {
	UpdateURLs   bool
	UpdateEmails bool
	PreserveCase bool
}

// Result is the outcome of a rewrite.
type Result struct {
	// Value is a new document tree; the input is never modified.
	Value any
	// Count is the number of textual occurrences replaced.
	Count int
}

// systemKeys are CMS bookkeeping fields that are never rewritten.
var systemKeys = map[string]bool{
	"uid":             true,
	"created_at":      true,
	"updated_at":      true,
	"created_by":      true,
	"updated_by":      true,
	"locale":          true,
	"ACL":             true,
	"publish_details": true,
}

// isMetadataKey reports whether a field holds identity or bookkeeping data.
func isMetadataKey(key string) bool {
	return systemKeys[key] || strings.HasPrefix(key, "_")
}

// Rewrite replaces every match of m in doc with replacement.
//
// A map at the root is treated as the entry itself: its non-metadata fields
// are classified and rewritten one by one. Nested values are dispatched by
// Classify. Malformed subtrees are copied unchanged.
func Rewrite(doc any, m *Matcher, replacement string, opts Options) Result {
	w := newWalker(m, replacement, opts)
	if root, ok := doc.(map[string]any); ok {
		out, n := w.walkRoot(root, nil)
		return Result{Value: out, Count: n}
	}
	out, n := w.walk(doc)
	return Result{Value: out, Count: n}
}

type walker struct {
	replacer *Replacer
	opts     Options
}

func newWalker(m *Matcher, replacement string, opts Options) *walker {
	return &walker{
		replacer: NewReplacer(m, replacement, opts.PreserveCase),
		opts:     opts,
	}
}

// walkRoot rewrites the fields of an entry in key order, reporting the count
// of each changed field to onField when it is not nil.
func (w *walker) walkRoot(root map[string]any, onField func(field string, count int)) (map[string]any, int) {
	keys := make([]string, 0, len(root))
	for k := range root {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]any, len(root))
	total := 0
	for _, k := range keys {
		if isMetadataKey(k) {
			out[k] = deepClone(root[k])
			continue
		}
		v, n := w.walk(root[k])
		out[k] = v
		total += n
		if n > 0 && onField != nil {
			onField(k, n)
		}
	}
	return out, total
}

// walk dispatches v to the rewriter for its kind.
func (w *walker) walk(v any) (any, int) {
	switch Classify(v) {
	case KindNull:
		return nil, 0
	case KindString:
		return w.rewriteString(v.(string))
	case KindScalar:
		return w.rewriteScalar(v)
	case KindArray, KindGroup:
		return w.rewriteArray(v.([]any))
	case KindRichText:
		return w.rewriteRichText(v.(map[string]any))
	case KindTable:
		return w.rewriteTable(v.(map[string]any))
	case KindComponent, KindJSON:
		return w.rewriteObject(v.(map[string]any))
	case KindFile:
		return w.rewriteFile(v.(map[string]any))
	case KindReference:
		return w.rewriteReference(v.(map[string]any))
	default:
		return deepClone(v), 0
	}
}

// rewriteString rewrites a text value. HTML fragments are rewritten node by
// node; plain strings are skipped entirely when they contain a URL or email
// the options do not allow touching.
func (w *walker) rewriteString(s string) (string, int) {
	if looksLikeHTML(s) {
		if out, n, ok := w.rewriteHTML(s); ok {
			return out, n
		}
	}
	return w.rewritePlain(s)
}

func (w *walker) rewritePlain(s string) (string, int) {
	hasURL := containsURL(s)
	if hasURL && !w.opts.UpdateURLs {
		return s, 0
	}
	if !w.opts.UpdateEmails && containsEmail(s) {
		return s, 0
	}

	out, n := w.replacer.Replace(s)
	if n > 0 && hasURL {
		out = canonicalizeURLs(s, out)
	}
	return out, n
}

// rewriteScalar matches against the string form of a scalar and converts the
// result back to the original type. Results that no longer parse stay strings.
func (w *walker) rewriteScalar(v any) (any, int) {
	switch x := v.(type) {
	case bool:
		out, n := w.replacer.Replace(strconv.FormatBool(x))
		if n == 0 {
			return x, 0
		}
		if b, err := strconv.ParseBool(out); err == nil {
			return b, n
		}
		return out, n
	case int:
		out, n := w.replacer.Replace(strconv.Itoa(x))
		if n == 0 {
			return x, 0
		}
		if i, err := strconv.Atoi(out); err == nil {
			return i, n
		}
		return out, n
	case int64:
		out, n := w.replacer.Replace(strconv.FormatInt(x, 10))
		if n == 0 {
			return x, 0
		}
		if i, err := strconv.ParseInt(out, 10, 64); err == nil {
			return i, n
		}
		return out, n
	case float64:
		out, n := w.replacer.Replace(strconv.FormatFloat(x, 'f', -1, 64))
		if n == 0 {
			return x, 0
		}
		if f, err := strconv.ParseFloat(out, 64); err == nil {
			return f, n
		}
		return out, n
	case json.Number:
		out, n := w.replacer.Replace(x.String())
		if n == 0 {
			return x, 0
		}
		if _, err := strconv.ParseFloat(out, 64); err == nil {
			return json.Number(out), n
		}
		return out, n
	case time.Time:
		out, n := w.replacer.Replace(x.Format(time.RFC3339Nano))
		if n == 0 {
			return x, 0
		}
		if t, err := time.Parse(time.RFC3339Nano, out); err == nil {
			return t, n
		}
		return out, n
	default:
		return v, 0
	}
}

func (w *walker) rewriteArray(arr []any) ([]any, int) {
	out := make([]any, len(arr))
	total := 0
	for i, e := range arr {
		v, n := w.walk(e)
		out[i] = v
		total += n
	}
	return out, total
}

// rewriteObject handles components and plain JSON objects: every
// non-metadata field goes through the same dispatch.
func (w *walker) rewriteObject(obj map[string]any) (map[string]any, int) {
	out := make(map[string]any, len(obj))
	total := 0
	for k, v := range obj {
		if isMetadataKey(k) {
			out[k] = deepClone(v)
			continue
		}
		nv, n := w.walk(v)
		out[k] = nv
		total += n
	}
	return out, total
}
