package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/sha1n/mcp-replace-server/internal/domain"
	"github.com/sha1n/mcp-replace-server/internal/replace"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type previewOptions struct {
	document string
	rule     domain.ReplacementRule
	regex    bool
	maxLen   int
}

// newPreviewCommand previews a rule against a local JSON or YAML document.
func newPreviewCommand() *cobra.Command {
	opts := &previewOptions{}

	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Preview a replacement against a local document",
		Long:  "Preview a replacement rule against a JSON or YAML entry document read from a file or stdin (-). Nothing is written.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPreview(cmd.InOrStdin(), cmd.OutOrStdout(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.document, "document", "f", "-", "Entry document to preview, JSON or YAML (- for stdin)")
	flags.StringVar(&opts.rule.Find, "find", "", "Text or pattern to find")
	flags.StringVar(&opts.rule.Replace, "replace", "", "Replacement text")
	flags.BoolVar(&opts.regex, "regex", false, "Treat --find as a regular expression")
	flags.BoolVar(&opts.rule.CaseSensitive, "case-sensitive", false, "Match case exactly")
	flags.BoolVar(&opts.rule.WholeWord, "whole-word", false, "Match whole words only")
	flags.BoolVar(&opts.rule.PreserveCase, "preserve-case", false, "Carry the case of each match over to the replacement")
	flags.BoolVar(&opts.rule.UpdateURLs, "update-urls", false, "Also replace inside URLs")
	flags.BoolVar(&opts.rule.UpdateEmails, "update-emails", false, "Also replace inside email addresses")
	flags.IntVar(&opts.maxLen, "max-pattern-length", replace.DefaultMaxPatternLength, "Maximum length of --find")
	_ = cmd.MarkFlagRequired("find")

	return cmd
}

func runPreview(stdin io.Reader, out io.Writer, opts *previewOptions) error {
	rule := opts.rule
	rule.Mode = domain.ModeLiteral
	if opts.regex {
		rule.Mode = domain.ModeRegex
	}
	if _, err := replace.MatcherForRule(rule, opts.maxLen); err != nil {
		return err
	}

	doc, err := readDocument(stdin, opts.document)
	if err != nil {
		return err
	}

	preview, err := replace.PreviewReplace(doc, rule)
	if err != nil {
		return err
	}

	if preview.TotalReplaced == 0 {
		_, err := fmt.Fprintln(out, "No matches")
		return err
	}

	fmt.Fprintf(out, "%d replacement(s) in %d field(s)\n", preview.TotalReplaced, len(preview.Changes))
	for _, c := range preview.Changes {
		fmt.Fprintf(out, "  %s: %d\n", c.Field, c.Count)
	}
	fmt.Fprintln(out)

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(preview.After)
}

// readDocument decodes a JSON or YAML document. YAML is a superset of JSON
// so both go through the YAML decoder.
func readDocument(stdin io.Reader, path string) (map[string]any, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}

	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}
	if doc == nil {
		return nil, fmt.Errorf("document %s is empty", path)
	}
	return doc, nil
}
