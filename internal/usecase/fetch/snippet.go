package fetch

import (
	"encoding/json"
	"slices"
	"strings"
	"unicode"

	"github.com/kailas-cloud/splitsearch/internal/docmapper"
	"github.com/kailas-cloud/splitsearch/internal/domain/query"
)

// Snippet limits.
const (
	snippetContext = 60
	maxFragments   = 3
	fragmentSep    = " … "
	highlightOpen  = "<b>"
	highlightClose = "</b>"
)

// snippeter highlights the positive query terms in the snippet fields of a document.
type snippeter struct {
	mapper docmapper.DocMapper
	fields []string
	terms  map[string]map[string]struct{} // field -> tokens
}

func newSnippeter(q *query.Query, mapper docmapper.DocMapper, fields, defaultFields []string) *snippeter {
	s := &snippeter{mapper: mapper, fields: fields, terms: map[string]map[string]struct{}{}}
	for _, c := range q.Clauses {
		if c.Negated {
			continue
		}
		targets := defaultFields
		if c.Field != "" {
			targets = []string{c.Field}
		}
		for _, f := range targets {
			if !slices.Contains(fields, f) {
				continue
			}
			if s.terms[f] == nil {
				s.terms[f] = map[string]struct{}{}
			}
			for _, tok := range mapper.Tokenize(f, c.Text) {
				s.terms[f][tok] = struct{}{}
			}
		}
	}
	return s
}

// snippet returns highlighted fragments of engineJSON, or nil when no term occurs.
func (s *snippeter) snippet(engineJSON []byte) *string {
	if len(s.terms) == 0 {
		return nil
	}
	var doc map[string][]any
	if err := json.Unmarshal(engineJSON, &doc); err != nil {
		return nil
	}
	var fragments []string
	for _, f := range s.fields {
		terms := s.terms[f]
		if len(terms) == 0 {
			continue
		}
		for _, v := range doc[f] {
			text, ok := v.(string)
			if !ok {
				continue
			}
			if frag, ok := s.highlight(f, text, terms); ok {
				fragments = append(fragments, frag)
			}
			if len(fragments) == maxFragments {
				break
			}
		}
	}
	if len(fragments) == 0 {
		return nil
	}
	out := strings.Join(fragments, fragmentSep)
	return &out
}

func (s *snippeter) highlight(field, text string, terms map[string]struct{}) (string, bool) {
	if toks := s.mapper.Tokenize(field, text); len(toks) == 1 && toks[0] == text {
		if _, ok := terms[text]; ok {
			return highlightOpen + text + highlightClose, true
		}
		if !strings.ContainsFunc(text, isSeparator) {
			return "", false
		}
	}

	var b strings.Builder
	first := -1
	rs := []rune(text)
	for i := 0; i < len(rs); {
		if isSeparator(rs[i]) {
			b.WriteRune(rs[i])
			i++
			continue
		}
		j := i
		for j < len(rs) && !isSeparator(rs[j]) {
			j++
		}
		word := string(rs[i:j])
		if _, ok := terms[strings.ToLower(word)]; ok {
			if first < 0 {
				first = b.Len()
			}
			b.WriteString(highlightOpen + word + highlightClose)
		} else {
			b.WriteString(word)
		}
		i = j
	}
	if first < 0 {
		return "", false
	}
	return window(b.String(), first), true
}

// window cuts the text around the first highlight, never inside a highlighted word or
// a multi-byte rune.
func window(text string, at int) string {
	start := max(0, at-snippetContext)
	for start > 0 && !utf8Start(text[start]) {
		start--
	}
	end := min(len(text), at+2*snippetContext)
	if o := strings.LastIndex(text[:min(len(text), end+len(highlightOpen)-1)], highlightOpen); o >= 0 && o < end {
		if c := strings.Index(text[o:], highlightClose); c >= 0 && o+c+len(highlightClose) > end {
			end = o + c + len(highlightClose)
		}
	}
	for end < len(text) && !utf8Start(text[end]) {
		end++
	}
	out := text[start:end]
	if start > 0 {
		out = "…" + out
	}
	if end < len(text) {
		out += "…"
	}
	return out
}

func utf8Start(b byte) bool { return b&0xC0 != 0x80 }

func isSeparator(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}
