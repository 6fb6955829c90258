// Package highlight classifies source text into a lossless stream of
// non-overlapping tokens for syntax colouring.
//
// Strings and comments are resolved first so that keyword and number rules
// only ever fire in the plain-text gaps between them. The output is advisory:
// ambiguous input (nested quotes, unterminated literals) is tolerated as long
// as the concatenated token text reproduces the source.
package highlight

import (
	"sort"
)

// Kind classifies a token.
type Kind int

const (
	Text Kind = iota
	String
	Comment
	Keyword
	Number
)

func (k Kind) String() string {
	switch k {
	case Text:
		return "text"
	case String:
		return "string"
	case Comment:
		return "comment"
	case Keyword:
		return "keyword"
	case Number:
		return "number"
	default:
		return "unknown"
	}
}

// Token is a classified span of the source. Start and End are byte offsets,
// half-open, and Text is always source[Start:End].
type Token struct {
	Kind  Kind
	Start int
	End   int
	Text  string
}

// span is a match candidate before overlap resolution.
type span struct {
	kind       Kind
	start, end int
}

// Tokenize splits source into tokens for the given language tag. Unknown tags
// get string and comment highlighting but no keywords.
func Tokenize(source, language string) []Token {
	if source == "" {
		return nil
	}
	rs := rulesFor(language)

	specials := scanSpecials(source, rs.specials)

	var out []Token
	pos := 0
	for _, sp := range specials {
		if sp.start > pos {
			out = appendGap(out, source, pos, sp.start, rs)
		}
		out = append(out, Token{Kind: sp.kind, Start: sp.start, End: sp.end, Text: source[sp.start:sp.end]})
		pos = sp.end
	}
	if pos < len(source) {
		out = appendGap(out, source, pos, len(source), rs)
	}
	return out
}

// scanSpecials finds string and comment spans. The earliest-starting match
// wins, ties going to the rule listed first. After a span is accepted every
// rule resumes searching at its end, so a candidate that began inside an
// accepted span cannot hide a later match of the same rule.
//
// This differs from collecting each rule's non-overlapping matches over the
// whole source and dropping the ones that overlap an accepted span. In C,
// the only whole-source single-quote match in "a'b" 'c' is 'b" ', which
// overlaps the double-quoted string and would leave 'c' as text. Rescanning
// from the end of "a'b" highlights 'c' as a string.
func scanSpecials(source string, rules []rule) []span {
	// next[i] is rule i's next match at or after pos; nil means search again,
	// an empty slice means the rule is exhausted.
	next := make([][]int, len(rules))

	var out []span
	pos := 0
	for pos < len(source) {
		best := -1
		for i, r := range rules {
			loc := next[i]
			if loc == nil || (len(loc) == 2 && loc[0] < pos) {
				loc = r.re.FindStringIndex(source[pos:])
				if loc == nil {
					loc = []int{}
				} else {
					loc = []int{pos + loc[0], pos + loc[1]}
				}
				next[i] = loc
			}
			if len(loc) == 2 && (best < 0 || loc[0] < next[best][0]) {
				best = i
			}
		}
		if best < 0 {
			break
		}
		loc := next[best]
		out = append(out, span{kind: rules[best].kind, start: loc[0], end: loc[1]})
		pos = loc[1]
	}
	return out
}

// appendGap tokenizes the plain-text region source[from:to], picking out
// numbers and keywords. Matching runs on the gap alone, so word boundaries are
// judged against the gap edges.
func appendGap(out []Token, source string, from, to int, rs *ruleSet) []Token {
	gap := source[from:to]

	// Numbers go in first so they win a tie with a keyword at the same offset.
	var candidates []span
	for _, loc := range numberPattern.FindAllStringIndex(gap, -1) {
		candidates = append(candidates, span{kind: Number, start: loc[0], end: loc[1]})
	}
	if rs.keywords != nil {
		for _, loc := range rs.keywords.FindAllStringIndex(gap, -1) {
			candidates = append(candidates, span{kind: Keyword, start: loc[0], end: loc[1]})
		}
	}

	pos := 0
	for _, sp := range resolve(candidates) {
		if sp.start > pos {
			out = append(out, Token{Kind: Text, Start: from + pos, End: from + sp.start, Text: gap[pos:sp.start]})
		}
		out = append(out, Token{Kind: sp.kind, Start: from + sp.start, End: from + sp.end, Text: gap[sp.start:sp.end]})
		pos = sp.end
	}
	if pos < len(gap) {
		out = append(out, Token{Kind: Text, Start: from + pos, End: to, Text: gap[pos:]})
	}
	return out
}

// resolve orders candidates by start offset and drops any candidate that
// begins before the previously accepted one ends. The sort is stable, so on
// equal starts the candidate queued first wins.
func resolve(candidates []span) []span {
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].start < candidates[j].start
	})

	accepted := candidates[:0]
	last := 0
	for _, c := range candidates {
		if c.start < last || c.end <= c.start {
			continue
		}
		accepted = append(accepted, c)
		last = c.end
	}
	return accepted
}
