package parser

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/therealutkarshpriyadarshi/livemon/pkg/types"
)

// Special capture group names
const (
	GroupJSON     = "json"
	GroupKeyValue = "kv"

	FieldLine    = "line"
	FieldPattern = "pattern"
)

// RuleKind selects how the capture groups of a matched line are post-processed
type RuleKind string

const (
	RuleKindRegex    RuleKind = "regex"
	RuleKindKeyValue RuleKind = "kv"
)

// groupProcessor rewrites the captured groups of one match in place
type groupProcessor func(groups types.Document) error

// processors is the closed set of rule kinds and the processing each applies,
// in order, to the captured groups.
var processors = map[RuleKind][]groupProcessor{
	RuleKindRegex:    {expandJSON},
	RuleKindKeyValue: {expandKeyValue, expandJSON},
}

// Rule is an immutable named list of patterns. Patterns are tried in
// declaration order and the first one that matches produces the result.
type Rule struct {
	name     string
	kind     RuleKind
	matchers []*regexp.Regexp
}

// NewRule compiles a rule. An empty kind defaults to RuleKindRegex.
func NewRule(name string, kind RuleKind, patterns []string) (*Rule, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: rule name is required", types.ErrConfiguration)
	}

	if kind == "" {
		kind = RuleKindRegex
	}
	if _, ok := processors[kind]; !ok {
		return nil, fmt.Errorf("%w: rule %q has unknown kind %q", types.ErrConfiguration, name, kind)
	}

	if len(patterns) == 0 {
		return nil, fmt.Errorf("%w: rule %q has no patterns", types.ErrConfiguration, name)
	}

	matchers := make([]*regexp.Regexp, 0, len(patterns))
	for i, pattern := range patterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: rule %q pattern %d: %v", types.ErrConfiguration, name, i, err)
		}
		matchers = append(matchers, re)
	}

	return &Rule{
		name:     name,
		kind:     kind,
		matchers: matchers,
	}, nil
}

// MustRule is like NewRule but panics on error
func MustRule(name string, kind RuleKind, patterns ...string) *Rule {
	r, err := NewRule(name, kind, patterns)
	if err != nil {
		panic(err)
	}
	return r
}

// Name returns the rule name
func (r *Rule) Name() string {
	return r.name
}

// Kind returns the rule kind
func (r *Rule) Kind() RuleKind {
	return r.kind
}

// Patterns returns the source patterns in declaration order
func (r *Rule) Patterns() []string {
	out := make([]string, len(r.matchers))
	for i, m := range r.matchers {
		out[i] = m.String()
	}
	return out
}

// Match returns the document for the first pattern matching line, or nil if
// no pattern matches. The returned error wraps types.ErrMalformedEventData.
func (r *Rule) Match(line string) (types.Document, error) {
	text := trimDelimiter(line)

	for _, m := range r.matchers {
		loc := m.FindStringSubmatchIndex(text)
		if loc == nil {
			continue
		}

		groups := namedGroups(m, text, loc)
		for _, process := range processors[r.kind] {
			if err := process(groups); err != nil {
				return nil, fmt.Errorf("rule %q: %w", r.name, err)
			}
		}

		groups[FieldLine] = line
		groups[FieldPattern] = m.String()
		return groups, nil
	}

	return nil, nil
}

// trimDelimiter drops the trailing newline so that "$" anchors at end of line
func trimDelimiter(line string) string {
	line = strings.TrimSuffix(line, "\n")
	return strings.TrimSuffix(line, "\r")
}

// namedGroups collects the named groups of a match. Groups that did not take
// part in the match are present with a nil value.
func namedGroups(m *regexp.Regexp, text string, loc []int) types.Document {
	groups := make(types.Document)
	for i, name := range m.SubexpNames() {
		if i == 0 || name == "" {
			continue
		}

		start, end := loc[2*i], loc[2*i+1]
		if start < 0 {
			if _, seen := groups[name]; !seen {
				groups[name] = nil
			}
			continue
		}
		groups[name] = text[start:end]
	}
	return groups
}

// expandJSON replaces the json group with the keys of the object it holds
func expandJSON(groups types.Document) error {
	raw, _ := groups[GroupJSON].(string)
	delete(groups, GroupJSON)

	if strings.TrimSpace(raw) == "" {
		return nil
	}

	var fields map[string]any
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return fmt.Errorf("%w: json group: %v", types.ErrMalformedEventData, err)
	}
	if fields == nil {
		return fmt.Errorf("%w: json group is not an object", types.ErrMalformedEventData)
	}

	for k, v := range fields {
		groups[k] = v
	}
	return nil
}

// expandKeyValue replaces the kv group with the whitespace separated
// key=value pairs it holds. Tokens without '=' are ignored.
func expandKeyValue(groups types.Document) error {
	raw, _ := groups[GroupKeyValue].(string)
	delete(groups, GroupKeyValue)

	for _, pair := range strings.Fields(raw) {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			continue
		}

		key := strings.TrimSpace(kv[0])
		if key == "" {
			continue
		}
		groups[key] = strings.Trim(strings.TrimSpace(kv[1]), `"'`)
	}
	return nil
}
