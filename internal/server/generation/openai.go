package generation

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/chatkeeper/internal/server/models"
	"github.com/sashabaranov/go-openai"
)

// DefaultOpenAIModels is the gpt allow-list used when none is configured.
var DefaultOpenAIModels = []string{
	"gpt-3.5-turbo",
	"gpt-4",
	"gpt-4-turbo",
	"gpt-4.1",
	"gpt-4.1-mini",
	"gpt-4o",
	"gpt-4o-mini",
}

type OpenAIBackend struct {
	client *openai.Client
	models []string
}

// NewOpenAIBackend builds the gpt family. baseURL may point at any
// OpenAI-compatible endpoint.
func NewOpenAIBackend(apiKey, baseURL string, allowed []string) *OpenAIBackend {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	if len(allowed) == 0 {
		allowed = DefaultOpenAIModels
	}
	return &OpenAIBackend{client: openai.NewClientWithConfig(config), models: allowed}
}

func (b *OpenAIBackend) Family() string           { return "gpt" }
func (b *OpenAIBackend) Models() []string         { return b.models }
func (b *OpenAIBackend) StripDataURLImages() bool { return false }

func (b *OpenAIBackend) Stream(ctx context.Context, msgs []models.Message, model string) (TokenStream, error) {
	if len(msgs) == 0 {
		return nil, errEmptyConversation
	}

	stream, err := b.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    model,
		Messages: toOpenAIMessages(msgs),
		Stream:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("openai stream: %w", err)
	}
	return &openAIStream{s: stream}, nil
}

type openAIStream struct {
	s *openai.ChatCompletionStream
}

func (o *openAIStream) Recv() (string, error) {
	resp, err := o.s.Recv()
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Delta.Content, nil
}

func (o *openAIStream) Close() error {
	return o.s.Close()
}

func openAIRole(s models.Sender) string {
	if s == models.SenderAI {
		return openai.ChatMessageRoleAssistant
	}
	return openai.ChatMessageRoleUser
}

func toOpenAIMessages(msgs []models.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		msg := openai.ChatCompletionMessage{Role: openAIRole(m.Sender)}
		if !m.Content.IsMultipart() {
			msg.Content = m.Content.Text
			out = append(out, msg)
			continue
		}
		for _, p := range m.Content.Parts {
			switch p.Type {
			case models.PartText:
				msg.MultiContent = append(msg.MultiContent, openai.ChatMessagePart{
					Type: openai.ChatMessagePartTypeText,
					Text: p.Text,
				})
			case models.PartImage:
				msg.MultiContent = append(msg.MultiContent, openai.ChatMessagePart{
					Type:     openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{URL: p.Image},
				})
			case models.PartFile:
				msg.MultiContent = append(msg.MultiContent, openai.ChatMessagePart{
					Type: openai.ChatMessagePartTypeText,
					Text: fileText(p),
				})
			}
		}
		out = append(out, msg)
	}
	return out
}
