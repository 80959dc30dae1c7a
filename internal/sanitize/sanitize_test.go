package sanitize

import (
	"strings"
	"testing"
)

func TestContentStripsScriptTags(t *testing.T) {
	got := Content("<script>alert(1)</script>hello")
	if got != "hello" {
		t.Fatalf("expected %q, got %q", "hello", got)
	}
}

func TestContentStripsEventAttributes(t *testing.T) {
	got := Content(`<img src=x onerror="alert(1)">hi`)
	if strings.Contains(got, "onerror") {
		t.Fatalf("expected onerror attribute stripped, got %q", got)
	}
}

func TestContentEscapesEntities(t *testing.T) {
	got := Content(`5 < 10 & "quoted" 'single'`)
	want := `5 &lt; 10 &amp; &quot;quoted&quot; &#39;single&#39;`
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestContentIsIdempotent(t *testing.T) {
	once := Content(`<script>x</script>a & b < c`)
	twice := Content(once)
	if once != twice {
		t.Fatalf("sanitize not idempotent: once=%q twice=%q", once, twice)
	}
}

func TestContentNeverLeavesScriptSubstring(t *testing.T) {
	inputs := []string{
		`<SCRIPT>evil()</SCRIPT>`,
		`<script src="x.js"></script>after`,
	}
	for _, in := range inputs {
		got := strings.ToLower(Content(in))
		if strings.Contains(got, "<script") {
			t.Fatalf("sanitized output still contains <script: %q", got)
		}
	}
}
