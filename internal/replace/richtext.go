package replace

import (
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// linkAttrKeys are the attrs entries of a rich-text node that hold link targets.
var linkAttrKeys = []string{keyHref, keyURL}

// rewriteRichText walks a JSON rich-text tree. Text leaves and link targets
// are rewritten independently and each contributes to the count. Every other
// property is copied unchanged.
func (w *walker) rewriteRichText(node map[string]any) (map[string]any, int) {
	out := make(map[string]any, len(node))
	total := 0
	for k, v := range node {
		switch k {
		case keyText:
			if s, ok := v.(string); ok {
				ns, n := w.rewriteString(s)
				out[k] = ns
				total += n
				continue
			}
		case keyAttrs:
			if attrs, ok := v.(map[string]any); ok {
				na, n := w.rewriteLinkAttrs(attrs)
				out[k] = na
				total += n
				continue
			}
		case keyContent, keyChildren:
			if children, ok := v.([]any); ok {
				nc, n := w.rewriteRichTextChildren(children)
				out[k] = nc
				total += n
				continue
			}
		}
		out[k] = deepClone(v)
	}
	return out, total
}

// rewriteRichTextChildren treats every object child as a rich-text node,
// including leaves that carry only text and marks.
func (w *walker) rewriteRichTextChildren(children []any) ([]any, int) {
	out := make([]any, len(children))
	total := 0
	for i, child := range children {
		switch c := child.(type) {
		case map[string]any:
			nc, n := w.rewriteRichText(c)
			out[i] = nc
			total += n
		case string:
			ns, n := w.rewriteString(c)
			out[i] = ns
			total += n
		default:
			out[i] = deepClone(child)
		}
	}
	return out, total
}

func (w *walker) rewriteLinkAttrs(attrs map[string]any) (map[string]any, int) {
	out := cloneMap(attrs)
	total := 0
	for _, k := range linkAttrKeys {
		if s, ok := attrs[k].(string); ok {
			ns, n := w.rewritePlain(s)
			out[k] = ns
			total += n
		}
	}
	return out, total
}

// voidElements never have a close tag, so one occurrence marks a string as HTML.
var voidElements = map[atom.Atom]bool{
	atom.Area: true, atom.Base: true, atom.Br: true, atom.Col: true,
	atom.Embed: true, atom.Hr: true, atom.Img: true, atom.Input: true,
	atom.Link: true, atom.Meta: true, atom.Source: true, atom.Track: true,
	atom.Wbr: true,
}

// looksLikeHTML reports whether s contains a real element: a void HTML
// element or a start tag closed later by a matching end tag. Text such as
// "<Gemini>" or "a<b and c>d" stays plain.
func looksLikeHTML(s string) bool {
	if strings.IndexByte(s, '<') < 0 {
		return false
	}
	z := html.NewTokenizer(strings.NewReader(s))
	open := make(map[string]bool)
	for {
		switch z.Next() {
		case html.ErrorToken:
			return false
		case html.StartTagToken:
			name, _ := z.TagName()
			if voidElements[atom.Lookup(name)] {
				return true
			}
			open[string(name)] = true
		case html.SelfClosingTagToken:
			name, _ := z.TagName()
			if atom.Lookup(name) != 0 {
				return true
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			if open[string(name)] {
				return true
			}
		}
	}
}

// rewriteHTML rewrites the text and href attribute values of an HTML
// fragment in place. Every other byte, including entities and tag spelling,
// is copied verbatim. ok is false when the tokenizer fails.
func (w *walker) rewriteHTML(s string) (string, int, bool) {
	z := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	b.Grow(len(s))
	consumed := 0
	total := 0
	rawText := false

	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			if z.Err() != io.EOF {
				return "", 0, false
			}
			b.WriteString(s[consumed:])
			break
		}
		raw := string(z.Raw())
		consumed += len(raw)

		switch tt {
		case html.TextToken:
			if rawText {
				b.WriteString(raw)
				continue
			}
			out, n := w.rewritePlain(raw)
			b.WriteString(out)
			total += n
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			a := atom.Lookup(name)
			rawText = tt == html.StartTagToken && (a == atom.Script || a == atom.Style)
			if !hasAttr {
				b.WriteString(raw)
				continue
			}
			out, n := w.rewriteTagHrefs(raw)
			b.WriteString(out)
			total += n
		case html.EndTagToken:
			rawText = false
			b.WriteString(raw)
		default:
			b.WriteString(raw)
		}
	}

	if total == 0 {
		return s, 0, true
	}
	return b.String(), total, true
}

// rewriteTagHrefs rewrites the href values inside the raw bytes of a start
// tag, leaving names, quoting and other attributes untouched.
func (w *walker) rewriteTagHrefs(tag string) (string, int) {
	var b strings.Builder
	last := 0
	total := 0
	for _, span := range attrValueSpans(tag, keyHref) {
		out, n := w.rewritePlain(tag[span.start:span.end])
		if n == 0 {
			continue
		}
		if !span.quoted && strings.ContainsAny(out, " \t\n\f\r\"'=<>`") {
			out = `"` + strings.ReplaceAll(out, `"`, "&quot;") + `"`
		}
		b.WriteString(tag[last:span.start])
		b.WriteString(out)
		last = span.end
		total += n
	}
	if total == 0 {
		return tag, 0
	}
	b.WriteString(tag[last:])
	return b.String(), total
}

type valueSpan struct {
	start, end int
	quoted     bool
}

// attrValueSpans scans the raw bytes of a start tag and returns the value
// ranges of every attribute named key, compared case-insensitively.
func attrValueSpans(tag, key string) []valueSpan {
	isSpace := func(c byte) bool {
		return c == ' ' || c == '\t' || c == '\n' || c == '\f' || c == '\r'
	}

	i := 1
	for i < len(tag) && !isSpace(tag[i]) && tag[i] != '/' && tag[i] != '>' {
		i++
	}

	var spans []valueSpan
	for i < len(tag) {
		c := tag[i]
		if c == '>' {
			break
		}
		if isSpace(c) || c == '/' {
			i++
			continue
		}

		nameStart := i
		for i < len(tag) && !isSpace(tag[i]) && tag[i] != '=' && tag[i] != '>' && tag[i] != '/' {
			i++
		}
		name := tag[nameStart:i]
		for i < len(tag) && isSpace(tag[i]) {
			i++
		}
		if i >= len(tag) || tag[i] != '=' {
			continue
		}
		i++
		for i < len(tag) && isSpace(tag[i]) {
			i++
		}
		if i >= len(tag) {
			break
		}

		var span valueSpan
		if q := tag[i]; q == '"' || q == '\'' {
			i++
			span = valueSpan{start: i, quoted: true}
			for i < len(tag) && tag[i] != q {
				i++
			}
			span.end = i
			if i < len(tag) {
				i++
			}
		} else {
			span = valueSpan{start: i}
			for i < len(tag) && !isSpace(tag[i]) && tag[i] != '>' {
				i++
			}
			span.end = i
		}
		if strings.EqualFold(name, key) {
			spans = append(spans, span)
		}
	}
	return spans
}
