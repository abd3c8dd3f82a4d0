package policy_test

import (
	"strings"
	"testing"

	"codesandbox/internal/sandbox/policy"
)

func TestScannerDefaultBlacklist(t *testing.T) {
	s := policy.NewScanner(policy.DefaultBlacklist)
	tests := []struct {
		name   string
		source string
		want   string
		offset int
		found  bool
	}{
		{"clean", "public class Main { public static void main(String[] a) { System.out.println(1); } }", "", 0, false},
		{"files api", "import java.nio.file.Files;", "Files", 21, true},
		{"runtime exec", "Runtime.getRuntime().exec(\"rm -rf /\");", "exec", 21, true},
		{"leftmost wins", "exec then Files", "exec", 0, true},
		{"case sensitive", "FILES EXEC", "", 0, false},
		{"empty source", "", "", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, ok := s.Scan(tt.source)
			if ok != tt.found {
				t.Fatalf("expected found=%v, got %v (%+v)", tt.found, ok, m)
			}
			if !ok {
				return
			}
			if m.Word != tt.want || m.Offset != tt.offset {
				t.Fatalf("expected %q at %d, got %q at %d", tt.want, tt.offset, m.Word, m.Offset)
			}
		})
	}
}

func TestScannerOverlappingWords(t *testing.T) {
	s := policy.NewScanner([]string{"he", "she", "hers", "processbuilder", "cess"})
	tests := []struct {
		source string
		want   string
		offset int
	}{
		{"ushers", "she", 1},
		{"xxhers", "he", 2},
		{"new processbuilder()", "processbuilder", 4},
		{"success", "cess", 3},
	}
	for _, tt := range tests {
		m, ok := s.Scan(tt.source)
		if !ok {
			t.Fatalf("%q: expected a match", tt.source)
		}
		if m.Offset != tt.offset || !strings.HasPrefix(tt.source[m.Offset:], m.Word) {
			t.Fatalf("%q: expected offset %d, got %+v", tt.source, tt.offset, m)
		}
		if m.Word != tt.want {
			t.Fatalf("%q: expected %q, got %q", tt.source, tt.want, m.Word)
		}
	}
}

func TestScannerEmptyDictionary(t *testing.T) {
	s := policy.NewScanner([]string{"", "  "})
	if _, ok := s.Scan("anything at all"); ok {
		t.Fatalf("expected no match with empty dictionary")
	}
	var nilScanner *policy.Scanner
	if _, ok := nilScanner.Scan("exec"); ok {
		t.Fatalf("expected nil scanner to match nothing")
	}
}

func TestScannerLongSourceLinear(t *testing.T) {
	words := make([]string, 0, 500)
	for i := 0; i < 500; i++ {
		words = append(words, "forbidden"+strings.Repeat("x", i%17)+string(rune('a'+i%26)))
	}
	s := policy.NewScanner(words)
	source := strings.Repeat("int a = 1;\n", 20000) + "forbiddenxa"
	m, ok := s.Scan(source)
	if !ok {
		t.Fatalf("expected match at tail")
	}
	if m.Offset != len(source)-len("forbiddenxa") {
		t.Fatalf("unexpected offset %d", m.Offset)
	}
}

func TestScannerSameOffsetPrefersConfiguredOrder(t *testing.T) {
	source := "x = Runtime.getRuntime();"
	tests := []struct {
		words []string
		want  string
	}{
		{[]string{"Runtime", "Run", "Runtime"}, "Runtime"},
		{[]string{"Run", "Runtime"}, "Run"},
	}
	for _, tt := range tests {
		m, ok := policy.NewScanner(tt.words).Scan(source)
		if !ok {
			t.Fatalf("%v: expected a match", tt.words)
		}
		if m.Word != tt.want || m.Offset != 4 {
			t.Fatalf("%v: expected %q at 4, got %+v", tt.words, tt.want, m)
		}
	}
}
