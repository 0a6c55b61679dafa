// Package classify turns raw store error text into a structured
// Classification that drives schema remediation.
//
// A Classifier walks an ordered list of matchers and returns the first one
// that fits. Order matters: narrower signatures (for example a missing
// column of a named relation) must precede broader ones that would also
// match the same text. Text matching no signature is Unrecoverable.
package classify

import (
	"regexp"
	"strings"
)

// Kind is the structural defect reported by the store.
type Kind int

const (
	// Unrecoverable errors abort the write.
	Unrecoverable Kind = iota
	// UnknownColumn means the statement named a column the table lacks.
	UnknownColumn
	// MissingTable means the target table does not exist.
	MissingTable
	// ValueTooLong means a value exceeded the declared column size.
	ValueTooLong
	// ValueTruncated means the store truncated a value and refused it.
	ValueTruncated
	// MissingConflictTarget means no unique index covers the upsert key.
	MissingConflictTarget
)

var kindNames = map[Kind]string{
	Unrecoverable:         "unrecoverable",
	UnknownColumn:         "unknown_column",
	MissingTable:          "missing_table",
	ValueTooLong:          "value_too_long",
	ValueTruncated:        "value_truncated",
	MissingConflictTarget: "missing_conflict_target",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Classification is the structured form of one store error.
type Classification struct {
	Kind   Kind
	Column string
	Table  string
	Code   string
	Raw    string
}

// Recoverable reports whether a remediation exists for this classification.
func (c Classification) Recoverable() bool {
	return c.Kind != Unrecoverable
}

// Matcher recognises one store error signature. Column and Table are
// submatch indexes into Pattern; zero means the signature carries none.
type Matcher struct {
	Kind    Kind
	Code    string
	Pattern *regexp.Regexp
	Column  int
	Table   int
}

// Classifier applies an ordered matcher list.
type Classifier struct {
	matchers []Matcher
	applied  []*regexp.Regexp
}

// NewClassifier builds a classifier. applied lists the signatures of DDL
// that failed only because the change already exists.
func NewClassifier(matchers []Matcher, applied []*regexp.Regexp) *Classifier {
	return &Classifier{matchers: matchers, applied: applied}
}

// Classify returns the first matching classification for raw. It never
// reports more than one defect per message.
func (c *Classifier) Classify(raw string) Classification {
	for _, m := range c.matchers {
		sub := m.Pattern.FindStringSubmatch(raw)
		if sub == nil {
			continue
		}
		cl := Classification{Kind: m.Kind, Code: m.Code, Raw: raw}
		if m.Column > 0 && m.Column < len(sub) {
			cl.Column = sub[m.Column]
		}
		if m.Table > 0 && m.Table < len(sub) {
			cl.Table = StripSchema(sub[m.Table])
		}
		return cl
	}
	return Classification{Kind: Unrecoverable, Raw: raw}
}

// ClassifyError classifies err.Error(); a nil error is Unrecoverable with
// empty text.
func (c *Classifier) ClassifyError(err error) Classification {
	if err == nil {
		return Classification{Kind: Unrecoverable}
	}
	return c.Classify(err.Error())
}

// AlreadyApplied reports whether raw is a duplicate-column, duplicate-table
// or duplicate-index failure, meaning a concurrent writer got there first.
func (c *Classifier) AlreadyApplied(raw string) bool {
	for _, re := range c.applied {
		if re.MatchString(raw) {
			return true
		}
	}
	return false
}

// StripSchema drops a schema or database qualifier from a table name.
func StripSchema(name string) string {
	if i := strings.LastIndex(name, "."); i >= 0 {
		return name[i+1:]
	}
	return name
}
