package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Sender identifies who produced a message.
type Sender string

const (
	SenderUser Sender = "user"
	SenderAI   Sender = "ai"
)

// Valid reports whether s is one of the known senders.
func (s Sender) Valid() bool {
	return s == SenderUser || s == SenderAI
}

// PartType is the kind of a typed content part.
type PartType string

const (
	PartText  PartType = "text"
	PartImage PartType = "image"
	PartFile  PartType = "file"
)

// Part is one element of multimodal message content. Image holds either a
// URL or a data URL; Data holds file contents in the same forms.
type Part struct {
	Type     PartType `json:"type"`
	Text     string   `json:"text,omitempty"`
	Image    string   `json:"image,omitempty"`
	Data     string   `json:"data,omitempty"`
	MimeType string   `json:"mimeType,omitempty"`
	Filename string   `json:"filename,omitempty"`
}

// Content is either plain text or an ordered list of typed parts. It is
// encoded as a JSON string in the first case and a JSON array in the second.
type Content struct {
	Text  string
	Parts []Part
}

// TextContent builds plain-text content.
func TextContent(s string) Content {
	return Content{Text: s}
}

// PartsContent builds multimodal content.
func PartsContent(parts ...Part) Content {
	if parts == nil {
		parts = []Part{}
	}
	return Content{Parts: parts}
}

// IsMultipart reports whether the content is a list of parts.
func (c Content) IsMultipart() bool {
	return c.Parts != nil
}

// PlainText returns the text of the content, joining text parts with a
// newline for multipart content.
func (c Content) PlainText() string {
	if !c.IsMultipart() {
		return c.Text
	}
	var buf bytes.Buffer
	for _, p := range c.Parts {
		if p.Type != PartText || p.Text == "" {
			continue
		}
		if buf.Len() > 0 {
			buf.WriteByte('\n')
		}
		buf.WriteString(p.Text)
	}
	return buf.String()
}

func (c Content) MarshalJSON() ([]byte, error) {
	if c.IsMultipart() {
		return json.Marshal(c.Parts)
	}
	return json.Marshal(c.Text)
}

func (c *Content) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || bytes.Equal(b, []byte("null")):
		*c = Content{}
		return nil
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*c = Content{Text: s}
		return nil
	case b[0] == '[':
		parts := []Part{}
		if err := json.Unmarshal(b, &parts); err != nil {
			return err
		}
		*c = Content{Parts: parts}
		return nil
	default:
		return fmt.Errorf("content must be a string or an array of parts, got %s", b[:1])
	}
}

// Message is one entry of a transcript blob. ID is derived from the
// message position within its conversation and is not globally unique.
type Message struct {
	ID        string    `json:"id"`
	Content   Content   `json:"content"`
	Sender    Sender    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
	Model     string    `json:"model,omitempty"`
}

// MessageID derives the id of the message at 1-based position pos.
func MessageID(conversationID string, pos int) string {
	return fmt.Sprintf("%s-%d", conversationID, pos)
}
