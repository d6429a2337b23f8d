package store

import (
	"strings"
	"testing"
)

func TestBodyTextRoundTrip(t *testing.T) {
	b := TextBody("hello there")
	if b.Encode() != "hello there" {
		t.Errorf("text body encoded as %q", b.Encode())
	}
	got := DecodeBody(b.Encode())
	if got.Kind != "text" || got.Text != "hello there" {
		t.Errorf("decode = %+v", got)
	}
}

func TestBodyMediaRoundTrip(t *testing.T) {
	b := Body{
		Kind:          "media",
		Text:          "see attached",
		MediaURL:      "/media/doc_abc.pdf",
		MediaMime:     "application/pdf",
		MediaFilename: "doc_abc.pdf",
		MediaType:     "document",
	}
	raw := b.Encode()
	if !strings.HasPrefix(raw, "{") {
		t.Fatalf("media body not an envelope: %q", raw)
	}
	if !strings.Contains(raw, `"mediaUrl"`) || !strings.Contains(raw, `"messageType"`) {
		t.Errorf("envelope missing legacy keys: %s", raw)
	}
	got := DecodeBody(raw)
	if got != b {
		t.Errorf("round trip = %+v, want %+v", got, b)
	}
}

func TestDecodeBodyPlainJSONText(t *testing.T) {
	// A text message that happens to look like JSON is not an envelope
	// unless it carries a media URL.
	raw := `{"just": "some json someone sent"}`
	got := DecodeBody(raw)
	if got.Kind != "text" || got.Text != raw {
		t.Errorf("decode = %+v, want verbatim text", got)
	}
}

func TestDecodeBodyMalformed(t *testing.T) {
	raw := `{"mediaUrl": truncated`
	got := DecodeBody(raw)
	if got.Kind != "text" || got.Text != raw {
		t.Errorf("decode = %+v, want verbatim text", got)
	}
}
