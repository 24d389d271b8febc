package coordinator

import (
	"testing"

	"harvestd/internal/model"
)

func TestRenderPolicyOrDefault(t *testing.T) {
	if got := renderPolicyOrDefault(""); got != model.RenderAuto {
		t.Fatalf("expected default to be RenderAuto, got %v", got)
	}
	if got := renderPolicyOrDefault(model.RenderAlways); got != model.RenderAlways {
		t.Fatalf("expected explicit policy to pass through, got %v", got)
	}
}

func TestHostSchemePathFromCanonical(t *testing.T) {
	canonical := "https://example.com/a/b?x=1"
	if got := hostFromCanonical(canonical); got != "example.com" {
		t.Fatalf("hostFromCanonical = %q", got)
	}
	if got := schemeFromCanonical(canonical); got != "https" {
		t.Fatalf("schemeFromCanonical = %q", got)
	}
	if got := pathFromCanonical(canonical); got != "/a/b" {
		t.Fatalf("pathFromCanonical = %q", got)
	}
}

func TestPathFromCanonicalDefaultsToRoot(t *testing.T) {
	if got := pathFromCanonical("https://example.com"); got != "/" {
		t.Fatalf("expected root path for bare host, got %q", got)
	}
}

func TestSchemeFromCanonicalInvalidURL(t *testing.T) {
	if got := schemeFromCanonical("://not a url"); got != "https" {
		t.Fatalf("expected https fallback for unparsable url, got %q", got)
	}
}
