package notify

import (
	"fmt"
	"strings"
	"testing"
)

func TestExtractDiffReflexive(t *testing.T) {
	for _, text := range []string{"", "one", "a\nb\nc", "\n\n", "x\r\ny"} {
		if got := ExtractDiff(text, text, DiffOptions{}); got != "" {
			t.Fatalf("ExtractDiff(%q, same) = %q, want empty", text, got)
		}
	}
}

func TestExtractDiffWindow(t *testing.T) {
	old := "l1\nl2\nl3\nl4\nl5\nl6\nl7\nl8\nl9\nl10"
	updated := "l1\nl2\nl3\nl4\nL5\nl6\nl7\nl8\nl9\nl10"
	one := 1
	got := ExtractDiff(old, updated, DiffOptions{Window: &one})
	want := " l4\n-l5\n+L5\n l6"
	if got != want {
		t.Fatalf("got\n%s\nwant\n%s", got, want)
	}

	zero := 0
	if got := ExtractDiff(old, updated, DiffOptions{Window: &zero}); got != "-l5\n+L5" {
		t.Fatalf("zero window should emit changed lines only, got\n%s", got)
	}
}

func TestExtractDiffSeparatesRuns(t *testing.T) {
	var a, b []string
	for i := 1; i <= 20; i++ {
		a = append(a, fmt.Sprintf("line %d", i))
		b = append(b, fmt.Sprintf("line %d", i))
	}
	b[1] = "changed 2"
	b[17] = "changed 18"
	got := ExtractDiff(strings.Join(a, "\n"), strings.Join(b, "\n"), DiffOptions{})
	lines := strings.Split(got, "\n")
	gaps := 0
	for _, l := range lines {
		if l == "..." {
			gaps++
		}
	}
	if gaps != 1 {
		t.Fatalf("expected one gap marker, got %d in\n%s", gaps, got)
	}
	if lines[0] != " line 1" || lines[len(lines)-1] != " line 20" {
		t.Fatalf("unexpected bounds in\n%s", got)
	}
}

func TestExtractDiffSkipsBlankLines(t *testing.T) {
	got := ExtractDiff("a\n\nb", "a\n\nb\n\nc", DiffOptions{})
	for _, l := range strings.Split(got, "\n") {
		if strings.TrimSpace(l[1:]) == "" && l != "..." {
			t.Fatalf("blank line emitted in\n%q", got)
		}
	}
	if !strings.Contains(got, "+c") {
		t.Fatalf("missing insertion in %q", got)
	}
	if ExtractDiff("a\nb", "a\n\nb", DiffOptions{}) != "" {
		t.Fatal("blank-only changes should produce no diff")
	}
}

func TestExtractDiffTruncates(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 80; i++ {
		fmt.Fprintf(&b, "new line %d\n", i)
	}
	got := ExtractDiff("", b.String(), DiffOptions{MaxLines: 10})
	lines := strings.Split(got, "\n")
	if len(lines) != 11 {
		t.Fatalf("expected 11 lines, got %d", len(lines))
	}
	if lines[10] != "… 70 more lines omitted" {
		t.Fatalf("unexpected marker %q", lines[10])
	}
}

func TestExtractDiffTruncationDropsTrailingGap(t *testing.T) {
	var a, b []string
	for i := 1; i <= 30; i++ {
		a = append(a, fmt.Sprintf("line %d", i))
		b = append(b, fmt.Sprintf("line %d", i))
	}
	b[4] = "changed 5"
	b[14] = "changed 15"
	b[24] = "changed 25"
	zero := 0
	// -5 +5 ... -15 +15 ... -25 +25: a cut after three lines ends on a gap
	got := ExtractDiff(strings.Join(a, "\n"), strings.Join(b, "\n"), DiffOptions{Window: &zero, MaxLines: 3})
	want := "-line 5\n+changed 5\n… 4 more lines omitted"
	if got != want {
		t.Fatalf("got\n%s\nwant\n%s", got, want)
	}
}

func TestExtractDiffDeterministic(t *testing.T) {
	old := "alpha\nbeta\ngamma\ndelta"
	updated := "alpha\nBETA\ngamma\nepsilon\ndelta"
	first := ExtractDiff(old, updated, DiffOptions{})
	for i := 0; i < 10; i++ {
		if got := ExtractDiff(old, updated, DiffOptions{}); got != first {
			t.Fatalf("run %d differs:\n%s\nvs\n%s", i, got, first)
		}
	}
}
