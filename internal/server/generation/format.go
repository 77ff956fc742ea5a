package generation

import (
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/dmitrijs2005/chatkeeper/internal/server/models"
)

// StripDataURL returns the payload of a data URL and leaves anything else
// untouched.
func StripDataURL(s string) string {
	if !strings.HasPrefix(s, "data:") {
		return s
	}
	if i := strings.IndexByte(s, ','); i >= 0 {
		return s[i+1:]
	}
	return s
}

// dataURLMime extracts the media type of a data URL, "" when s is not one.
func dataURLMime(s string) string {
	if !strings.HasPrefix(s, "data:") {
		return ""
	}
	meta := s[len("data:"):]
	if i := strings.IndexByte(meta, ','); i >= 0 {
		meta = meta[:i]
	}
	if i := strings.IndexByte(meta, ';'); i >= 0 {
		meta = meta[:i]
	}
	return meta
}

// FormatMessages returns a copy of msgs normalized for a backend. With
// stripDataURLs set, image parts holding a data URL keep only the payload.
// The input is never modified.
func FormatMessages(msgs []models.Message, stripDataURLs bool) []models.Message {
	out := make([]models.Message, len(msgs))
	for i, m := range msgs {
		out[i] = m
		if !m.Content.IsMultipart() {
			continue
		}
		parts := make([]models.Part, len(m.Content.Parts))
		copy(parts, m.Content.Parts)
		if stripDataURLs {
			for j := range parts {
				if parts[j].Type == models.PartImage {
					parts[j].Image = StripDataURL(parts[j].Image)
				}
			}
		}
		out[i].Content = models.PartsContent(parts...)
	}
	return out
}

// decodeInline turns an inline payload (data URL or bare base64) into bytes
// and a media type. ok is false when the payload is not base64.
func decodeInline(payload, mimeType string) (data []byte, mt string, ok bool) {
	if mimeType == "" {
		mimeType = dataURLMime(payload)
	}
	raw := StripDataURL(payload)
	if raw == "" {
		return nil, "", false
	}
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, "", false
	}
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
		if i := strings.IndexByte(mimeType, ';'); i >= 0 {
			mimeType = mimeType[:i]
		}
	}
	return data, mimeType, true
}

// fileText renders a file part for text-only channels. Text files are
// inlined, anything else is referenced by name.
func fileText(p models.Part) string {
	name := p.Filename
	if name == "" {
		name = "attachment"
	}
	if data, mt, ok := decodeInline(p.Data, p.MimeType); ok && strings.HasPrefix(mt, "text/") {
		return "File " + name + ":\n" + string(data)
	}
	return "[file: " + name + "]"
}
