package engine

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestTruncateClean(t *testing.T) {
	s := "hello world this is a test string"
	result := truncateClean(s, 15)
	if len(result) > 15 {
		t.Errorf("truncateClean result too long: %d", len(result))
	}
	// Should cut at word boundary
	if strings.HasSuffix(result, " ") {
		t.Error("truncated result has trailing space")
	}
	if result != "hello world" {
		t.Errorf("truncateClean = %q, want %q", result, "hello world")
	}
}

func TestTruncateCleanShort(t *testing.T) {
	if got := truncateClean("  short  ", 100); got != "short" {
		t.Errorf("truncateClean = %q, want %q", got, "short")
	}
}

func TestTruncateCleanMultibyte(t *testing.T) {
	s := strings.Repeat("é", 50) // 100 bytes, no spaces
	got := truncateClean(s, 11)
	if !utf8.ValidString(got) {
		t.Fatalf("truncateClean split a rune: %q", got)
	}
	if len(got) > 11 {
		t.Errorf("len = %d, want <= 11", len(got))
	}
}

func TestKeywords(t *testing.T) {
	got := Keywords("The Deploy pipeline broke; the deploy is blocked by a flaky test.", 0)
	want := []string{"deploy", "pipeline", "broke", "blocked", "flaky", "test"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("Keywords = %v, want %v", got, want)
	}

	limited := Keywords("alpha beta gamma delta", 2)
	if len(limited) != 2 || limited[0] != "alpha" {
		t.Errorf("Keywords limited = %v", limited)
	}

	if k := Keywords("is it a go?", 0); len(k) != 0 {
		t.Errorf("Keywords of stop words = %v, want empty", k)
	}
}
