package scrapeutil

import "testing"

func TestToString(t *testing.T) {
	if got := ToString(nil); got != "" {
		t.Fatalf("ToString(nil) = %q, want empty string", got)
	}
	if got := ToString("hello"); got != "hello" {
		t.Fatalf("ToString(\"hello\") = %q, want \"hello\"", got)
	}
	if got := ToString(123); got != "" {
		t.Fatalf("ToString(123) = %q, want empty string for non-string", got)
	}
}

func TestFilterLinks(t *testing.T) {
	links := []string{
		"https://example.com/a",
		"https://example.com/b",
		"https://other.com/x",
		"",
	}

	// sameDomainOnly=true should keep only example.com links.
	filtered := FilterLinks(links, "https://example.com/base", true, 0)
	if len(filtered) != 2 {
		t.Fatalf("expected 2 filtered links, got %d (%v)", len(filtered), filtered)
	}
	for _, l := range filtered {
		if l[:19] != "https://example.com" {
			t.Fatalf("expected same-domain link, got %q", l)
		}
	}

	// maxPerDocument should cap the number of returned links.
	filtered = FilterLinks(links, "https://example.com/base", false, 1)
	if len(filtered) != 1 {
		t.Fatalf("expected 1 filtered link with maxPerDocument=1, got %d", len(filtered))
	}
}

func TestWantsFormat(t *testing.T) {
	formats := StringsToFormats([]string{"markdown", "links"})
	if !WantsFormat(formats, "links") {
		t.Fatalf("expected links format to be requested")
	}
	if WantsFormat(formats, "screenshot") {
		t.Fatalf("did not expect screenshot format to be requested")
	}
}

func TestGetJSONFormatConfig(t *testing.T) {
	formats := []interface{}{
		map[string]interface{}{"type": "json", "prompt": "extract price", "schema": map[string]interface{}{"type": "object"}},
	}
	wants, prompt, schema := GetJSONFormatConfig(formats)
	if !wants || prompt != "extract price" || schema == nil {
		t.Fatalf("expected json format config to be parsed, got wants=%v prompt=%q schema=%v", wants, prompt, schema)
	}

	wants, _, _ = GetJSONFormatConfig(StringsToFormats([]string{"markdown"}))
	if wants {
		t.Fatalf("did not expect json format to be requested")
	}
}
