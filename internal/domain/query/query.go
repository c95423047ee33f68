// Package query parses the search query language: whitespace separated clauses that must
// all hold. A clause is `term`, `field:term`, a "quoted phrase", or `*`; a leading `-`
// negates it.
package query

import (
	"strings"
	"unicode"

	"github.com/kailas-cloud/splitsearch/internal/domain"
)

// MatchAllToken matches every document.
const MatchAllToken = "*"

// Clause is one conjunct of a query.
type Clause struct {
	// Field restricts the clause to one field; empty means the default search fields.
	Field   string
	Text    string
	Phrase  bool
	Negated bool
}

// Query is a parsed query. A query with no positive clause matches all documents
// (minus the negated ones).
type Query struct {
	Clauses []Clause
	raw     string
}

// String returns the query text as given.
func (q *Query) String() string { return q.raw }

// MatchAll reports whether the query has no positive clause.
func (q *Query) MatchAll() bool {
	for _, c := range q.Clauses {
		if !c.Negated {
			return false
		}
	}
	return true
}

// RequiredTerms returns the texts of positive clauses bound to field.
func (q *Query) RequiredTerms(field string) []string {
	var out []string
	for _, c := range q.Clauses {
		if !c.Negated && c.Field == field {
			out = append(out, c.Text)
		}
	}
	return out
}

// Fields returns the fields named explicitly in the query.
func (q *Query) Fields() []string {
	seen := map[string]struct{}{}
	var out []string
	for _, c := range q.Clauses {
		if c.Field == "" {
			continue
		}
		if _, ok := seen[c.Field]; !ok {
			seen[c.Field] = struct{}{}
			out = append(out, c.Field)
		}
	}
	return out
}

// Parse parses s. Errors wrap domain.ErrInvalidRequest.
func Parse(s string) (*Query, error) {
	q := &Query{raw: s}
	rs := []rune(s)
	i := 0
	for {
		for i < len(rs) && unicode.IsSpace(rs[i]) {
			i++
		}
		if i >= len(rs) {
			break
		}

		var c Clause
		if rs[i] == '-' {
			c.Negated = true
			i++
			if i >= len(rs) || unicode.IsSpace(rs[i]) {
				return nil, domain.InvalidRequestf("dangling '-' at position %d", i)
			}
		}

		start := i
		for i < len(rs) && !unicode.IsSpace(rs[i]) && rs[i] != ':' && rs[i] != '"' {
			i++
		}
		if i < len(rs) && rs[i] == ':' {
			c.Field = string(rs[start:i])
			if c.Field == "" {
				return nil, domain.InvalidRequestf("empty field name at position %d", start)
			}
			i++
			start = i
		} else {
			i = start
		}

		if i < len(rs) && rs[i] == '"' {
			end := i + 1
			for end < len(rs) && rs[end] != '"' {
				end++
			}
			if end >= len(rs) {
				return nil, domain.InvalidRequestf("unterminated phrase at position %d", i)
			}
			c.Text = strings.TrimSpace(string(rs[i+1 : end]))
			c.Phrase = true
			i = end + 1
			if c.Text == "" {
				return nil, domain.InvalidRequestf("empty phrase at position %d", start)
			}
		} else {
			for i < len(rs) && !unicode.IsSpace(rs[i]) {
				if rs[i] == '"' {
					return nil, domain.InvalidRequestf("unexpected quote at position %d", i)
				}
				i++
			}
			c.Text = string(rs[start:i])
			if c.Text == "" {
				return nil, domain.InvalidRequestf("missing term after %q", c.Field)
			}
		}

		if c.Text == MatchAllToken && c.Field == "" && !c.Phrase {
			if c.Negated {
				return nil, domain.InvalidRequestf("cannot negate %q", MatchAllToken)
			}
			continue
		}
		q.Clauses = append(q.Clauses, c)
	}
	return q, nil
}
