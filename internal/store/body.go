package store

import (
	"encoding/json"
	"strings"
)

// Body is the tagged-union form of a message body: either plain text or a
// media attachment with an optional caption. The persistence boundary
// serializes the media variant into a JSON envelope inside the single body
// column, preserving the legacy storage encoding.
type Body struct {
	Kind          string // "text" or "media"
	Text          string
	MediaURL      string
	MediaMime     string
	MediaFilename string
	// MediaType is the coarse classification: image, audio, video, document.
	MediaType string
}

// TextBody returns a plain-text body.
func TextBody(text string) Body {
	return Body{Kind: "text", Text: text}
}

// mediaEnvelope is the legacy wire shape stored in the body column for
// messages carrying an attachment.
type mediaEnvelope struct {
	Text          string `json:"text"`
	MediaURL      string `json:"mediaUrl"`
	MediaMime     string `json:"mediaMime"`
	MediaFilename string `json:"mediaFilename"`
	MessageType   string `json:"messageType"`
}

// Encode serializes the body for storage. Text bodies store as-is; media
// bodies store the JSON envelope.
func (b Body) Encode() string {
	if b.Kind != "media" {
		return b.Text
	}
	raw, err := json.Marshal(mediaEnvelope{
		Text:          b.Text,
		MediaURL:      b.MediaURL,
		MediaMime:     b.MediaMime,
		MediaFilename: b.MediaFilename,
		MessageType:   b.MediaType,
	})
	if err != nil {
		return b.Text
	}
	return string(raw)
}

// DecodeBody parses a stored body column back into the tagged union. A
// column that is not a media envelope is a text body verbatim.
func DecodeBody(raw string) Body {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "{") {
		return TextBody(raw)
	}
	var env mediaEnvelope
	if err := json.Unmarshal([]byte(trimmed), &env); err != nil || env.MediaURL == "" {
		return TextBody(raw)
	}
	return Body{
		Kind:          "media",
		Text:          env.Text,
		MediaURL:      env.MediaURL,
		MediaMime:     env.MediaMime,
		MediaFilename: env.MediaFilename,
		MediaType:     env.MessageType,
	}
}
