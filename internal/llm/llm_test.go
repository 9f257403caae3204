package llm

import (
	"strings"
	"testing"
)

func TestBuildPromptSkipsEmptySections(t *testing.T) {
	got := BuildPrompt(
		Section{Title: "Holdings", Lines: []string{"HBAR 100"}},
		Section{Title: "Empty"},
		Section{Title: "News", Lines: []string{"a", "b"}},
	)
	want := "## Holdings\nHBAR 100\n\n## News\na\nb\n"
	if got != want {
		t.Fatalf("unexpected prompt:\n%q", got)
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("  短文本  ", 10); got != "短文本" {
		t.Fatalf("unexpected %q", got)
	}
	long := strings.Repeat("链", 20)
	if got := Truncate(long, 5); got != "链链链链链..." {
		t.Fatalf("unexpected %q", got)
	}
}
