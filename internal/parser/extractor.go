package parser

import "github.com/therealutkarshpriyadarshi/livemon/pkg/types"

// Match is the outcome of a successful extraction
type Match struct {
	// Rule is the rule that matched
	Rule *Rule

	// Index is the position of Rule in the extractor
	Index int

	// Document is nil when the rule matched but its groups could not be parsed
	Document types.Document
}

// Extractor applies an ordered list of rules to a line. At most one rule
// produces an event for a given line.
type Extractor struct {
	rules []*Rule
}

// NewExtractor creates an extractor over rules in the given order
func NewExtractor(rules ...*Rule) *Extractor {
	return &Extractor{rules: rules}
}

// Rules returns the rules in evaluation order
func (e *Extractor) Rules() []*Rule {
	return e.rules
}

// Extract runs the rules against line and returns the first match, or nil if
// no rule matches. When the matching rule fails to parse its groups, the
// returned Match names the rule and the error wraps types.ErrMalformedEventData.
func (e *Extractor) Extract(line string) (*Match, error) {
	for i, rule := range e.rules {
		doc, err := rule.Match(line)
		if err != nil {
			return &Match{Rule: rule, Index: i}, err
		}
		if doc != nil {
			return &Match{Rule: rule, Index: i, Document: doc}, nil
		}
	}
	return nil, nil
}
