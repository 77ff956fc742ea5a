package generation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/Morwran/yagpt"
	"github.com/dmitrijs2005/chatkeeper/internal/server/models"
)

var DefaultYandexModels = []string{"yandexgpt-lite"}

// IAM tokens live 12h; refresh well before that.
const yandexIAMRefresh = time.Hour

type yandexCompleteFunc func(ctx context.Context, msgs []yagpt.Message) (string, error)

// YandexBackend serves the yandexgpt family. The API has no streaming mode,
// so each request produces a single token.
type YandexBackend struct {
	oauthToken string
	folderID   string
	models     []string

	mu       sync.Mutex
	complete yandexCompleteFunc
	issuedAt time.Time
	now      func() time.Time
}

func NewYandexBackend(oauthToken, folderID string, allowed []string) *YandexBackend {
	if len(allowed) == 0 {
		allowed = DefaultYandexModels
	}
	return &YandexBackend{oauthToken: oauthToken, folderID: folderID, models: allowed, now: time.Now}
}

func (b *YandexBackend) Family() string           { return "yandexgpt" }
func (b *YandexBackend) Models() []string         { return b.models }
func (b *YandexBackend) StripDataURLImages() bool { return false }

func (b *YandexBackend) Stream(ctx context.Context, msgs []models.Message, _ string) (TokenStream, error) {
	if len(msgs) == 0 {
		return nil, errEmptyConversation
	}

	complete, err := b.completer()
	if err != nil {
		return nil, err
	}

	text, err := complete(ctx, toYandexMessages(msgs))
	if err != nil {
		return nil, err
	}
	return &singleStream{text: text}, nil
}

// completer returns a completion func, exchanging the OAuth token for a
// fresh IAM token when the cached one is stale.
func (b *YandexBackend) completer() (yandexCompleteFunc, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.complete != nil && (b.issuedAt.IsZero() || b.now().Sub(b.issuedAt) < yandexIAMRefresh) {
		return b.complete, nil
	}

	iam, err := yagpt.NewYaIam(b.oauthToken)
	if err != nil {
		return nil, fmt.Errorf("failed to init yandex iam: %w", err)
	}
	resp, err := iam.Create()
	if err != nil {
		return nil, fmt.Errorf("failed to create iam token: %w", err)
	}
	ya, err := yagpt.NewYagpt(b.folderID)
	if err != nil {
		return nil, fmt.Errorf("failed to init yagpt: %w", err)
	}

	iamToken := resp.IamToken
	b.complete = func(ctx context.Context, msgs []yagpt.Message) (string, error) {
		out, err := ya.CompletionWithCtx(ctx, iamToken, msgs)
		if err != nil {
			return "", fmt.Errorf("yagpt completion failed: %w", err)
		}
		if out == nil || len(out.Alternatives) == 0 {
			return "", errors.New("yagpt returned empty response")
		}
		return out.Alternatives[0].Message.Content, nil
	}
	b.issuedAt = b.now()
	return b.complete, nil
}

func toYandexMessages(msgs []models.Message) []yagpt.Message {
	out := make([]yagpt.Message, 0, len(msgs))
	for _, m := range msgs {
		text := yandexText(m.Content)
		if m.Sender == models.SenderAI {
			out = append(out, yagpt.Message{Role: "assistant", Content: text})
		} else {
			out = append(out, yagpt.Message{Role: "user", Content: text})
		}
	}
	return out
}

// yandexText flattens content; the API is text only.
func yandexText(c models.Content) string {
	if !c.IsMultipart() {
		return c.Text
	}
	var lines []string
	for _, p := range c.Parts {
		switch p.Type {
		case models.PartText:
			if p.Text != "" {
				lines = append(lines, p.Text)
			}
		case models.PartImage:
			lines = append(lines, "[image]")
		case models.PartFile:
			lines = append(lines, fileText(p))
		}
	}
	return strings.Join(lines, "\n")
}

type singleStream struct {
	text string
	done bool
}

func (s *singleStream) Recv() (string, error) {
	if s.done {
		return "", io.EOF
	}
	s.done = true
	return s.text, nil
}

func (s *singleStream) Close() error { return nil }
