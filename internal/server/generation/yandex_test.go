package generation

import (
	"context"
	"errors"
	"testing"

	"github.com/Morwran/yagpt"
	"github.com/dmitrijs2005/chatkeeper/internal/logging"
	"github.com/dmitrijs2005/chatkeeper/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestYandexBackend_SingleFragment(t *testing.T) {
	b := NewYandexBackend("oauth", "folder", nil)
	var sent []yagpt.Message
	b.complete = func(_ context.Context, msgs []yagpt.Message) (string, error) {
		sent = msgs
		return "Привет!", nil
	}

	r := NewRegistry("gpt-4o", logging.Nop(), b)
	var frags []Fragment
	for f := range r.Generate(context.Background(), []models.Message{
		{Sender: models.SenderUser, Content: models.TextContent("hi")},
		{Sender: models.SenderAI, Content: models.TextContent("hello")},
		{Sender: models.SenderUser, Content: models.PartsContent(
			models.Part{Type: models.PartText, Text: "see"},
			models.Part{Type: models.PartImage, Image: "https://x/y.png"},
		)},
	}, "yandexgpt-lite") {
		frags = append(frags, f)
	}

	require.Equal(t, []Fragment{Token("Привет!")}, frags)
	require.Len(t, sent, 3)
	assert.EqualValues(t, "user", sent[0].Role)
	assert.EqualValues(t, "assistant", sent[1].Role)
	assert.EqualValues(t, "see\n[image]", sent[2].Content)
}

func TestYandexBackend_CompletionError(t *testing.T) {
	b := NewYandexBackend("oauth", "folder", nil)
	b.complete = func(context.Context, []yagpt.Message) (string, error) {
		return "", errors.New("yagpt completion failed: 401")
	}

	r := NewRegistry("yandexgpt-lite", logging.Nop(), b)
	out, err := Collect(r.Generate(context.Background(), userText("hi"), ""))
	assert.Empty(t, out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestSingleStream(t *testing.T) {
	s := &singleStream{text: "x"}
	tok, err := s.Recv()
	require.NoError(t, err)
	assert.Equal(t, "x", tok)
	_, err = s.Recv()
	assert.Error(t, err)
	assert.NoError(t, s.Close())
}
