package generation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dmitrijs2005/chatkeeper/internal/server/models"
	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

var DefaultGeminiModels = []string{
	"gemini-1.5-flash",
	"gemini-1.5-pro",
	"gemini-2.0-flash",
	"gemini-2.5-flash",
	"gemini-2.5-pro",
}

var newGenaiClient = func(ctx context.Context, apiKey string) (*genai.Client, error) {
	return genai.NewClient(ctx, option.WithAPIKey(apiKey))
}

// GeminiBackend serves the gemini family. Inline images must arrive as bare
// base64, so data URLs are stripped before Stream.
type GeminiBackend struct {
	apiKey string
	models []string
}

func NewGeminiBackend(apiKey string, allowed []string) *GeminiBackend {
	if len(allowed) == 0 {
		allowed = DefaultGeminiModels
	}
	return &GeminiBackend{apiKey: apiKey, models: allowed}
}

func (b *GeminiBackend) Family() string           { return "gemini" }
func (b *GeminiBackend) Models() []string         { return b.models }
func (b *GeminiBackend) StripDataURLImages() bool { return true }

func (b *GeminiBackend) Stream(ctx context.Context, msgs []models.Message, model string) (TokenStream, error) {
	if len(msgs) == 0 {
		return nil, errEmptyConversation
	}

	client, err := newGenaiClient(ctx, b.apiKey)
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}

	history := toGeminiContents(msgs)
	last := history[len(history)-1]

	cs := client.GenerativeModel(model).StartChat()
	cs.History = history[:len(history)-1]

	return &geminiStream{
		it:     cs.SendMessageStream(ctx, last.Parts...),
		client: client,
	}, nil
}

type geminiStream struct {
	it     *genai.GenerateContentResponseIterator
	client *genai.Client
}

func (g *geminiStream) Recv() (string, error) {
	resp, err := g.it.Next()
	if errors.Is(err, iterator.Done) {
		return "", io.EOF
	}
	if err != nil {
		return "", fmt.Errorf("gemini stream: %w", err)
	}
	return geminiText(resp), nil
}

func (g *geminiStream) Close() error {
	return g.client.Close()
}

func geminiText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if t, ok := p.(genai.Text); ok {
			sb.WriteString(string(t))
		}
	}
	return sb.String()
}

func geminiRole(s models.Sender) string {
	if s == models.SenderAI {
		return "model"
	}
	return "user"
}

func toGeminiContents(msgs []models.Message) []*genai.Content {
	out := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		c := &genai.Content{Role: geminiRole(m.Sender)}
		if !m.Content.IsMultipart() {
			c.Parts = []genai.Part{genai.Text(m.Content.Text)}
			out = append(out, c)
			continue
		}
		for _, p := range m.Content.Parts {
			if part := geminiPart(p); part != nil {
				c.Parts = append(c.Parts, part)
			}
		}
		if len(c.Parts) == 0 {
			c.Parts = []genai.Part{genai.Text("")}
		}
		out = append(out, c)
	}
	return out
}

func geminiPart(p models.Part) genai.Part {
	switch p.Type {
	case models.PartText:
		return genai.Text(p.Text)
	case models.PartImage:
		if isRemote(p.Image) {
			mt := p.MimeType
			if mt == "" {
				mt = "image/jpeg"
			}
			return genai.FileData{MIMEType: mt, URI: p.Image}
		}
		if data, mt, ok := decodeInline(p.Image, p.MimeType); ok {
			return genai.Blob{MIMEType: mt, Data: data}
		}
		return nil
	case models.PartFile:
		if data, mt, ok := decodeInline(p.Data, p.MimeType); ok && !strings.HasPrefix(mt, "text/") {
			return genai.Blob{MIMEType: mt, Data: data}
		}
		return genai.Text(fileText(p))
	}
	return nil
}

func isRemote(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "gs://")
}
