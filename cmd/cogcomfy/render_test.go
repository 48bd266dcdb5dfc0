package main

import (
	"strings"
	"testing"
)

func TestTableSpecRendersRowsAndFooter(t *testing.T) {
	out := tableSpec{
		headers:    []string{"File", "Size"},
		rows:       [][]string{{"a.webp", "1.2 kB"}, {"b.webp"}},
		footer:     []string{"2 files", "1.2 kB"},
		rightAlign: []int{1, 7},
	}.render()
	for _, want := range []string{"FILE", "SIZE", "a.webp", "b.webp", "2 files", "1.2 kB"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in table:\n%s", want, out)
		}
	}
	if strings.Contains(out, "1.2 KB") || strings.Contains(out, "2 FILES") {
		t.Fatalf("footer should keep its original case:\n%s", out)
	}
	if (tableSpec{}).render() != "" {
		t.Fatal("expected empty output without headers")
	}
}

func TestColorStatus(t *testing.T) {
	if got := colorStatus(true, false); got != "OK" {
		t.Fatalf("unexpected plain status %q", got)
	}
	if got := colorStatus(false, false); got != "FAIL" {
		t.Fatalf("unexpected plain status %q", got)
	}
	if got := colorStatus(false, true); !strings.Contains(got, "FAIL") {
		t.Fatalf("expected status label in coloured output, got %q", got)
	}
}
