package highlight

import (
	_ "embed"
	"fmt"
	"regexp"
	"slices"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed languages.yaml
var languagesYAML []byte

// Delimiters bound a block comment.
type Delimiters struct {
	Open  string `yaml:"open"`
	Close string `yaml:"close"`
}

// Language is the static highlighting configuration for one language tag.
type Language struct {
	Name          string       `yaml:"name"`
	Keywords      []string     `yaml:"keywords"`
	LineComments  []string     `yaml:"line_comments"`
	BlockComments []Delimiters `yaml:"block_comments"`
	Quotes        []string     `yaml:"quotes"`
}

type languageFile struct {
	Default   Language   `yaml:"default"`
	Languages []Language `yaml:"languages"`
}

// rule is a compiled special-span scanner.
type rule struct {
	kind Kind
	re   *regexp.Regexp
}

// ruleSet holds everything Tokenize needs for one language.
type ruleSet struct {
	lang     Language
	specials []rule
	keywords *regexp.Regexp // nil when the language has no keywords
}

var (
	fallback *ruleSet
	registry map[string]*ruleSet
)

// numberPattern matches integer and decimal literals on word boundaries.
var numberPattern = regexp.MustCompile(`\b(?:\d+\.?\d*|\.\d+)\b`)

func init() {
	def, langs, err := loadLanguages(languagesYAML)
	if err != nil {
		panic(fmt.Sprintf("highlight: %v", err))
	}
	fallback = def
	registry = langs
}

func loadLanguages(data []byte) (*ruleSet, map[string]*ruleSet, error) {
	var file languageFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, nil, fmt.Errorf("parse language table: %w", err)
	}

	def, err := compile(file.Default)
	if err != nil {
		return nil, nil, fmt.Errorf("default language: %w", err)
	}

	langs := make(map[string]*ruleSet, len(file.Languages))
	for _, l := range file.Languages {
		if l.Name == "" {
			return nil, nil, fmt.Errorf("language entry without a name")
		}
		if _, dup := langs[l.Name]; dup {
			return nil, nil, fmt.Errorf("duplicate language %q", l.Name)
		}
		rs, err := compile(l)
		if err != nil {
			return nil, nil, fmt.Errorf("language %q: %w", l.Name, err)
		}
		langs[l.Name] = rs
	}
	return def, langs, nil
}

// compile builds the special-span rules in scan order: quotes, line
// comments, then block comments.
func compile(l Language) (*ruleSet, error) {
	rs := &ruleSet{lang: l}

	for _, q := range l.Quotes {
		if len(q) != 1 {
			return nil, fmt.Errorf("quote %q must be a single character", q)
		}
		m := regexp.QuoteMeta(q)
		// q, then any run of non-quote/non-backslash chars or escapes, then q.
		re, err := regexp.Compile(m + `(?:[^` + m + `\\]|\\.)*` + m)
		if err != nil {
			return nil, err
		}
		rs.specials = append(rs.specials, rule{kind: String, re: re})
	}

	for _, marker := range l.LineComments {
		if marker == "" {
			return nil, fmt.Errorf("empty line comment marker")
		}
		rs.specials = append(rs.specials, rule{kind: Comment, re: regexp.MustCompile(regexp.QuoteMeta(marker) + `.*`)})
	}

	for _, d := range l.BlockComments {
		if d.Open == "" || d.Close == "" {
			return nil, fmt.Errorf("block comment needs open and close delimiters")
		}
		re := regexp.MustCompile(regexp.QuoteMeta(d.Open) + `(?s:.*?)` + regexp.QuoteMeta(d.Close))
		rs.specials = append(rs.specials, rule{kind: Comment, re: re})
	}

	if len(l.Keywords) > 0 {
		quoted := make([]string, len(l.Keywords))
		for i, kw := range l.Keywords {
			quoted[i] = regexp.QuoteMeta(kw)
		}
		re, err := regexp.Compile(`\b(?:` + strings.Join(quoted, "|") + `)\b`)
		if err != nil {
			return nil, err
		}
		rs.keywords = re
	}
	return rs, nil
}

// Lookup returns the configuration registered for tag.
func Lookup(tag string) (Language, bool) {
	rs, ok := registry[tag]
	if !ok {
		return Language{}, false
	}
	l := rs.lang
	l.Keywords = slices.Clone(l.Keywords)
	l.LineComments = slices.Clone(l.LineComments)
	l.BlockComments = slices.Clone(l.BlockComments)
	l.Quotes = slices.Clone(l.Quotes)
	return l, true
}

// Languages lists the supported language tags in sorted order.
func Languages() []string {
	tags := make([]string, 0, len(registry))
	for tag := range registry {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

func rulesFor(tag string) *ruleSet {
	if rs, ok := registry[tag]; ok {
		return rs
	}
	return fallback
}
