package replace

import (
	"github.com/sha1n/mcp-replace-server/internal/domain"
)

// FieldChange is the number of replacements made in one top-level field.
type FieldChange struct {
	Field string `json:"field"`
	Count int    `json:"count"`
}

// Preview shows the effect of a rule on a document without committing it.
type Preview struct {
	Before        any           `json:"before"`
	After         any           `json:"after"`
	Changes       []FieldChange `json:"changes"`
	TotalReplaced int           `json:"totalReplaced"`
}

// Suggestion is an externally produced replacement proposal, e.g. from a
// brand-compliance check.
type Suggestion struct {
	OriginalText string  `json:"originalText" yaml:"originalText"`
	Suggested    string  `json:"suggested" yaml:"suggested"`
	Confidence   float64 `json:"confidence" yaml:"confidence"`
}

// SuggestionSummary reports how often one suggestion (or rule) was applied.
type SuggestionSummary struct {
	OriginalText  string  `json:"originalText"`
	Suggested     string  `json:"suggested"`
	Confidence    float64 `json:"confidence"`
	ReplacedCount int     `json:"replacedCount"`
}

// ApplyResult is the outcome of applying a rule or suggestions to a document.
type ApplyResult struct {
	Before        any                 `json:"before"`
	After         any                 `json:"after"`
	Summary       []SuggestionSummary `json:"summary"`
	TotalReplaced int                 `json:"totalReplaced"`
}

// OptionsForRule returns the walker options carried by a rule.
func OptionsForRule(rule domain.ReplacementRule) Options {
	return Options{
		UpdateURLs:   rule.UpdateURLs,
		UpdateEmails: rule.UpdateEmails,
		PreserveCase: rule.PreserveCase,
	}
}

// PreviewReplace applies rule to a copy of target and reports per-field counts.
func PreviewReplace(target any, rule domain.ReplacementRule) (*Preview, error) {
	m, err := MatcherForRule(rule, 0)
	if err != nil {
		return nil, err
	}

	preview := &Preview{
		Before:  deepClone(target),
		Changes: []FieldChange{},
	}

	w := newWalker(m, rule.Replace, OptionsForRule(rule))
	if root, ok := target.(map[string]any); ok {
		after, total := w.walkRoot(root, func(field string, count int) {
			preview.Changes = append(preview.Changes, FieldChange{Field: field, Count: count})
		})
		preview.After = after
		preview.TotalReplaced = total
		return preview, nil
	}

	after, total := w.walk(target)
	preview.After = after
	preview.TotalReplaced = total
	if total > 0 {
		preview.Changes = append(preview.Changes, FieldChange{Field: "$", Count: total})
	}
	return preview, nil
}

// ApplyRule applies a single rule and summarizes it as one row with full confidence.
func ApplyRule(target any, rule domain.ReplacementRule) (*ApplyResult, error) {
	m, err := MatcherForRule(rule, 0)
	if err != nil {
		return nil, err
	}

	res := Rewrite(target, m, rule.Replace, OptionsForRule(rule))
	return &ApplyResult{
		Before: deepClone(target),
		After:  res.Value,
		Summary: []SuggestionSummary{{
			OriginalText:  rule.Find,
			Suggested:     rule.Replace,
			Confidence:    1,
			ReplacedCount: res.Count,
		}},
		TotalReplaced: res.Count,
	}, nil
}

// ApplySuggestions applies suggestions in order, each as a case-sensitive
// literal replacement on the output of the previous one. Suggestions with an
// empty original text or a confidence below minConfidence are reported with
// a zero count and not applied.
func ApplySuggestions(target any, suggestions []Suggestion, minConfidence float64) *ApplyResult {
	result := &ApplyResult{
		Before:  deepClone(target),
		Summary: make([]SuggestionSummary, 0, len(suggestions)),
	}

	current := deepClone(target)
	for _, s := range suggestions {
		summary := SuggestionSummary{
			OriginalText: s.OriginalText,
			Suggested:    s.Suggested,
			Confidence:   s.Confidence,
		}

		if s.OriginalText != "" && s.Confidence >= minConfidence {
			m, err := BuildMatcher(s.OriginalText, domain.ModeLiteral, MatchOptions{CaseSensitive: true})
			if err == nil {
				res := Rewrite(current, m, s.Suggested, Options{})
				current = res.Value
				summary.ReplacedCount = res.Count
				result.TotalReplaced += res.Count
			}
		}
		result.Summary = append(result.Summary, summary)
	}

	result.After = current
	return result
}
