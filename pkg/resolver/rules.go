package resolver

import (
	"fmt"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Rule is a parsed path rule of the form
//
//	[+:|-:]pattern[!archivePattern][ => target]
//
// Patterns use forward slashes and support *, ? and **.
type Rule struct {
	Include bool
	Pattern string
	// Inner selects entries inside a matched archive.
	Inner  string
	Target string
}

func ParseRule(s string) (Rule, error) {
	raw := strings.TrimSpace(s)
	r := Rule{Include: true}
	switch {
	case strings.HasPrefix(raw, "-:"):
		r.Include = false
		raw = raw[2:]
	case strings.HasPrefix(raw, "+:"):
		raw = raw[2:]
	}

	if left, right, ok := strings.Cut(raw, "=>"); ok {
		raw = left
		r.Target = strings.Trim(strings.TrimSpace(right), "/")
		if r.Target == "" {
			r.Target = "."
		}
	}
	raw = strings.TrimSpace(raw)

	if outer, inner, ok := strings.Cut(raw, "!"); ok {
		raw = strings.TrimSpace(outer)
		r.Inner = strings.TrimLeft(strings.TrimSpace(inner), "/")
		if r.Inner == "" {
			r.Inner = "**"
		}
	}
	r.Pattern = strings.TrimLeft(filepathToSlash(raw), "/")

	if r.Pattern == "" {
		return Rule{}, fmt.Errorf("path rule %q has no pattern", s)
	}
	if !doublestar.ValidatePattern(r.Pattern) {
		return Rule{}, fmt.Errorf("path rule %q has an invalid pattern", s)
	}
	if r.Inner != "" && !doublestar.ValidatePattern(r.Inner) {
		return Rule{}, fmt.Errorf("path rule %q has an invalid archive pattern", s)
	}
	return r, nil
}

func ParseRules(rules []string) ([]Rule, error) {
	out := make([]Rule, 0, len(rules))
	for _, s := range rules {
		if strings.TrimSpace(s) == "" {
			continue
		}
		r, err := ParseRule(s)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func filepathToSlash(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}

func (r Rule) Match(relPath string) bool {
	ok, err := doublestar.Match(r.Pattern, relPath)
	return err == nil && ok
}

// staticPrefix is the directory part of the pattern before the first
// segment holding a wildcard.
func (r Rule) staticPrefix() string {
	segments := strings.Split(r.Pattern, "/")
	var prefix []string
	for _, s := range segments[:len(segments)-1] {
		if strings.ContainsAny(s, "*?[{") {
			break
		}
		prefix = append(prefix, s)
	}
	return strings.Join(prefix, "/")
}

// Destination returns where a matched artifact lands, relative to the
// working directory.
func (r Rule) Destination(relPath string) string {
	rel := relPath
	if prefix := r.staticPrefix(); prefix != "" {
		rel = strings.TrimPrefix(rel, prefix+"/")
	}
	return path.Join(r.Target, rel)
}

// selection is the outcome of applying a template's rules to one listing
// entry.
type selection struct {
	Dest    string
	Include []string
	Exclude []string
}

// selectArtifact decides whether relPath is fetched and, if so, where it
// goes and which archive entries are extracted.
func selectArtifact(rules []Rule, relPath string) (selection, bool) {
	var chosen *Rule
	for i := range rules {
		r := rules[i]
		if !r.Include && r.Inner == "" && r.Match(relPath) {
			return selection{}, false
		}
		if chosen == nil && r.Include && r.Match(relPath) {
			chosen = &rules[i]
		}
	}
	if chosen == nil {
		return selection{}, false
	}

	sel := selection{Dest: chosen.Destination(relPath)}
	all := false
	for _, r := range rules {
		if !r.Match(relPath) {
			continue
		}
		if r.Include && r.Target == chosen.Target {
			if r.Inner == "" {
				all = true
			} else {
				sel.Include = append(sel.Include, r.Inner)
			}
		} else if !r.Include && r.Inner != "" {
			sel.Exclude = append(sel.Exclude, r.Inner)
		}
	}
	if all {
		sel.Include = nil
	}
	return sel, true
}
