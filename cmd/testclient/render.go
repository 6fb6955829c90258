package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/gookit/color"

	"github.com/gsarma/coderunner/internal/highlight"
	"github.com/gsarma/coderunner/internal/session"
	coderunner "github.com/gsarma/coderunner/sdk"
)

var tokenColors = map[highlight.Kind]color.Color{
	highlight.String:  color.FgGreen,
	highlight.Comment: color.FgGray,
	highlight.Keyword: color.FgMagenta,
	highlight.Number:  color.FgCyan,
}

// renderSource writes source with every classified token coloured.
func renderSource(w io.Writer, source, language string) {
	var b strings.Builder
	for _, tok := range highlight.Tokenize(source, language) {
		if c, ok := tokenColors[tok.Kind]; ok {
			b.WriteString(c.Sprint(tok.Text))
			continue
		}
		b.WriteString(tok.Text)
	}
	if !strings.HasSuffix(source, "\n") {
		b.WriteByte('\n')
	}
	fmt.Fprint(w, b.String())
}

var statusStyles = map[session.Status]color.Style{
	session.Submitting:     color.New(color.FgYellow),
	session.Running:        color.New(color.FgBlue),
	session.Finished:       color.New(color.FgGreen, color.OpBold),
	session.Cancelled:      color.New(color.FgYellow, color.OpBold),
	session.TransportError: color.New(color.FgRed, color.OpBold),
}

func renderStatus(s session.Status) string {
	if st, ok := statusStyles[s]; ok {
		return st.Sprint(s.String())
	}
	return s.String()
}

// renderResult writes the outcome of a terminal session.
func renderResult(w io.Writer, snap session.Snapshot) {
	fmt.Fprintf(w, "\n%s  %s\n", renderStatus(snap.Status), snap.Message())
	if snap.Result == nil {
		return
	}
	r := snap.Result
	fmt.Fprintf(w, "runtime: %.0f ms\n", r.RuntimeMs)
	if r.Output != "" {
		fmt.Fprintf(w, "%s\n%s", color.FgGray.Sprint("--- output ---"), ensureNewline(r.Output))
	}
	if r.ErrorText != "" {
		fmt.Fprintf(w, "%s\n%s", color.FgRed.Sprint("--- error ---"), ensureNewline(r.ErrorText))
	}
}

// renderTrial writes the verdict of a problem run, one line per test case.
func renderTrial(w io.Writer, t *coderunner.TrialResult) {
	if t.Status != coderunner.StatusFinished {
		fmt.Fprintf(w, "\n%s  verdict not ready, check execution %s\n", renderStatus(session.Running), t.ID)
		return
	}
	style := statusStyles[session.Finished]
	if !t.Success {
		style = statusStyles[session.TransportError]
	}
	passed := 0
	for _, r := range t.Results {
		if r.Passed {
			passed++
		}
	}
	fmt.Fprintf(w, "\n%s  %d/%d test cases passed\n", style.Sprint(t.ExitStatus), passed, len(t.Results))
	for i, r := range t.Results {
		mark := color.FgGreen.Sprint("pass")
		if !r.Passed {
			mark = color.FgRed.Sprint("FAIL")
		}
		fmt.Fprintf(w, "%s case %d  %s (%.0f ms)\n", mark, i+1, r.ExitStatus, r.Runtime)
		if r.Passed {
			continue
		}
		fmt.Fprintf(w, "  input:    %q\n  expected: %q\n  got:      %q\n", r.Input, r.Expected, r.Output)
		if r.Error != "" {
			fmt.Fprintf(w, "  error:    %s", ensureNewline(r.Error))
		}
	}
}

// renderReply writes the code helper's answer.
func renderReply(w io.Writer, reply string) {
	fmt.Fprintf(w, "%s\n%s", color.FgCyan.Sprint("--- code helper ---"), ensureNewline(reply))
}

func ensureNewline(s string) string {
	if strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}
