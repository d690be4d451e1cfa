package generator

import (
	"strings"
	"testing"
)

func Test_BuildPrompt_IncludesContextsInOrder(t *testing.T) {
	t.Parallel()

	prompt := BuildPrompt("What is Docker?", []string{"first context", "second context"})

	firstAt := strings.Index(prompt, "first context")
	secondAt := strings.Index(prompt, "second context")
	if firstAt < 0 || secondAt < 0 {
		t.Fatalf("prompt is missing contexts: %q", prompt)
	}
	if firstAt > secondAt {
		t.Fatal("contexts must keep retrieval order")
	}
	if !strings.Contains(prompt, "QUESTION: What is Docker?") {
		t.Fatalf("prompt is missing the question: %q", prompt)
	}
}

func Test_BuildPrompt_SkipsBlankContexts(t *testing.T) {
	t.Parallel()

	prompt := BuildPrompt("q", []string{"", "  ", "real context"})
	if strings.Contains(prompt, "CONTEXT:\n\n") && !strings.Contains(prompt, "real context") {
		t.Fatalf("blank contexts should be skipped: %q", prompt)
	}
	if !strings.Contains(prompt, "real context") {
		t.Fatalf("real context missing: %q", prompt)
	}
}

func Test_New_NilModelRejected(t *testing.T) {
	t.Parallel()

	if _, err := New(nil); err == nil {
		t.Fatal("expected error for nil model")
	}
}
