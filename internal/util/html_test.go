package util

import (
	"strings"
	"testing"
)

func TestVisibleText(t *testing.T) {
	doc := `<html><head><title>T</title><style>p{color:red}</style></head>
<body><script>var x = 1;</script><h1>Vaccines</h1><p>Reduce   hospitalization<br/>by 90%.</p>
<noscript>enable js</noscript><div>Source: CDC</div></body></html>`

	got := VisibleText(strings.NewReader(doc))
	want := "Vaccines Reduce hospitalization by 90%. Source: CDC"
	if got != want {
		t.Errorf("VisibleText() = %q, want %q", got, want)
	}
}

func TestVisibleText_Fragment(t *testing.T) {
	got := VisibleText(strings.NewReader("plain <b>bold</b> text"))
	if got != "plain bold text" {
		t.Errorf("VisibleText() = %q", got)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"the quick brown fox jumps", 12, "the quick"},
		{"abcdefghij", 4, "abcd"},
		{"anything", 0, "anything"},
	}
	for _, tt := range tests {
		if got := Truncate(tt.in, tt.n); got != tt.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}
