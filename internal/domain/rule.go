package domain

// Mode selects how ReplacementRule.Find is interpreted.
type Mode string

// Matching modes
const (
	ModeLiteral Mode = "literal"
	ModeRegex   Mode = "regex"
)

// ReplacementRule is a user-specified find/replace instruction.
// It is the unit submitted with a batch, stored with every snapshot and
// accepted by the preview and apply tools.
type ReplacementRule struct {
	// Find is the literal text or, in regex mode, the regular expression source.
	Find string `json:"find" yaml:"find" validate:"required"`

	// Replace is inserted for every match. In regex mode it may reference
	// capture groups ($1, ${name}).
	Replace string `json:"replace" yaml:"replace"`

	// Mode is ModeLiteral or ModeRegex. Empty means ModeLiteral.
	Mode Mode `json:"mode,omitempty" yaml:"mode,omitempty" validate:"omitempty,oneof=literal regex"`

	CaseSensitive bool `json:"caseSensitive" yaml:"caseSensitive"`
	WholeWord     bool `json:"wholeWord" yaml:"wholeWord"`
	PreserveCase  bool `json:"preserveCase" yaml:"preserveCase"`

	// UpdateURLs allows rewriting strings that contain absolute URLs.
	UpdateURLs bool `json:"updateUrls" yaml:"updateUrls"`

	// UpdateEmails allows rewriting strings that contain email addresses.
	UpdateEmails bool `json:"updateEmails" yaml:"updateEmails"`
}

// EffectiveMode returns the rule mode, defaulting to ModeLiteral.
func (r ReplacementRule) EffectiveMode() Mode {
	if r.Mode == "" {
		return ModeLiteral
	}
	return r.Mode
}
