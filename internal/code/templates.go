package code

import (
	"embed"
	"sort"
)

//go:embed templates
var templateFS embed.FS

var templateFiles = map[string]string{
	"C":      "templates/main.c",
	"C++":    "templates/main.cpp",
	"Java":   "templates/Main.java",
	"Python": "templates/main.py",
}

// Template returns the starter program for a language tag.
func Template(language string) (string, bool) {
	name, ok := templateFiles[language]
	if !ok {
		return "", false
	}
	b, err := templateFS.ReadFile(name)
	if err != nil {
		return "", false
	}
	return string(b), true
}

// Languages returns the language tags that have a template, sorted.
func Languages() []string {
	out := make([]string, 0, len(templateFiles))
	for tag := range templateFiles {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}
