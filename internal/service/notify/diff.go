package notify

import (
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

const (
	DefaultDiffWindow   = 2
	DefaultDiffMaxLines = 50

	gapMarker = "..."
)

// DiffOptions bounds ExtractDiff output. A nil Window and a non-positive
// MaxLines select the defaults; a Window of 0 emits changed lines only.
type DiffOptions struct {
	Window   *int
	MaxLines int
}

type diffLine struct {
	op   byte // ' ', '+', '-'
	text string
}

// ExtractDiff renders the changed lines between old and new with Window
// lines of context on each side. Non-adjacent runs are separated by "...",
// blank lines are skipped, and output over MaxLines is cut with a remainder
// marker. It returns "" when no non-blank line changed.
func ExtractDiff(oldText, newText string, opts DiffOptions) string {
	if oldText == newText {
		return ""
	}
	window := DefaultDiffWindow
	if opts.Window != nil {
		window = max(0, *opts.Window)
	}
	maxLines := opts.MaxLines
	if maxLines <= 0 {
		maxLines = DefaultDiffMaxLines
	}

	lines := lineDiff(splitLines(oldText), splitLines(newText))
	keep := make([]bool, len(lines))
	changed := false
	for i, l := range lines {
		if l.op == ' ' || strings.TrimSpace(l.text) == "" {
			continue
		}
		changed = true
		lo, hi := max(0, i-window), min(len(lines)-1, i+window)
		for j := lo; j <= hi; j++ {
			keep[j] = true
		}
	}
	if !changed {
		return ""
	}

	var out []string
	last := -1
	for i, l := range lines {
		if !keep[i] {
			continue
		}
		if last >= 0 && i != last+1 && len(out) > 0 && out[len(out)-1] != gapMarker {
			out = append(out, gapMarker)
		}
		last = i
		if strings.TrimSpace(l.text) == "" {
			continue
		}
		out = append(out, string(l.op)+l.text)
	}
	out = trimGap(out)
	if len(out) > maxLines {
		omitted := 0
		for _, l := range out[maxLines:] {
			if l != gapMarker {
				omitted++
			}
		}
		out = append(trimGap(out[:maxLines:maxLines]), fmt.Sprintf("… %d more lines omitted", omitted))
	}
	return strings.Join(out, "\n")
}

func trimGap(out []string) []string {
	if n := len(out); n > 0 && out[n-1] == gapMarker {
		return out[:n-1]
	}
	return out
}

func splitLines(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.Split(s, "\n")
}

// lineDiff flattens difflib opcodes into one sequence, deletions before
// insertions inside a replaced block.
func lineDiff(a, b []string) []diffLine {
	var lines []diffLine
	for _, op := range difflib.NewMatcher(a, b).GetOpCodes() {
		switch op.Tag {
		case 'e':
			for _, s := range a[op.I1:op.I2] {
				lines = append(lines, diffLine{' ', s})
			}
		case 'd':
			for _, s := range a[op.I1:op.I2] {
				lines = append(lines, diffLine{'-', s})
			}
		case 'i':
			for _, s := range b[op.J1:op.J2] {
				lines = append(lines, diffLine{'+', s})
			}
		case 'r':
			for _, s := range a[op.I1:op.I2] {
				lines = append(lines, diffLine{'-', s})
			}
			for _, s := range b[op.J1:op.J2] {
				lines = append(lines, diffLine{'+', s})
			}
		}
	}
	return lines
}
