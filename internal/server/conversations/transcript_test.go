package conversations

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/chatkeeper/internal/common"
	"github.com/dmitrijs2005/chatkeeper/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitTranscript_Malformed(t *testing.T) {
	tests := []struct {
		name string
		data string
		want error
	}{
		{"not json", "<html>oops</html>", errNotJSON},
		{"empty", "", errNotJSON},
		{"object", `{"messages": []}`, errNotArray},
		{"string", `"hello"`, errNotArray},
		{"null", `null`, errNotArray},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, err := splitTranscript([]byte(tt.data))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, common.ErrParse)
			assert.NotNil(t, tr)
			assert.Empty(t, tr)
		})
	}
}

func TestTranscriptMessages_SkipsBadElements(t *testing.T) {
	tr, err := splitTranscript([]byte(`[
		{"id":"c-1","content":"hi","sender":"user","timestamp":"2024-05-01T12:00:00Z"},
		{"id":"c-2","content":"late","sender":"ai","timestamp":1714557600000},
		{"id":"c-3","content":{"kind":"card"},"sender":"ai","timestamp":"2024-05-01T12:00:02Z"},
		null,
		7,
		{"id":"c-6","content":"bye","sender":"user","timestamp":"2024-05-01T12:00:05Z"}
	]`))
	require.NoError(t, err)
	require.Len(t, tr, 6)

	msgs, bad := tr.messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "c-1", msgs[0].ID)
	assert.Equal(t, "c-6", msgs[1].ID)

	require.Len(t, bad, 4)
	for _, e := range bad {
		assert.ErrorIs(t, e, errBadMessage)
		assert.ErrorIs(t, e, common.ErrParse)
	}
	assert.Contains(t, bad[0].Error(), "malformed message 2")
	assert.Contains(t, bad[2].Error(), "not an object")
}

func TestTranscript_EncodeKeepsElementBytes(t *testing.T) {
	in := `[{"id":"c-1", "content":"a <b>","sender":"user","timestamp":"2024-05-01T12:00:00.000Z","attachments":[1,2]},` +
		`{"id":"c-2","content":[{"type":"text","text":"look"}],"sender":"user","timestamp":"2024-05-01T12:00:02.5Z"}]`

	tr, err := splitTranscript([]byte(in))
	require.NoError(t, err)
	assert.Equal(t, in, string(tr.encode()))

	tr, err = tr.with(models.Message{
		ID: "c-3", Sender: models.SenderAI, Model: "gpt-4o", Content: models.TextContent("ok"),
		Timestamp: time.Date(2024, 5, 1, 12, 0, 3, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t,
		strings.TrimSuffix(in, "]")+`,{"id":"c-3","content":"ok","sender":"ai","timestamp":"2024-05-01T12:00:03Z","model":"gpt-4o"}]`,
		string(tr.encode()))

	assert.Equal(t, "[]", string(transcript{}.encode()))
}

func TestEncodeTranscript_RoundTrip(t *testing.T) {
	in := `[
		{"id":"c-1","content":"hi","sender":"user","timestamp":"2024-05-01T12:00:00Z"},
		{"id":"c-2","content":"hello","sender":"ai","timestamp":"2024-05-01T12:00:01Z","model":"gpt-4o"},
		{"id":"c-3","content":[{"type":"text","text":"look"},{"type":"image","image":"data:image/png;base64,AAAA"}],"sender":"user","timestamp":"2024-05-01T12:00:02.5Z"},
		{"id":"c-4","content":[],"sender":"user","timestamp":"2024-05-01T12:00:03Z"}
	]`

	tr, err := splitTranscript([]byte(in))
	require.NoError(t, err)
	msgs, bad := tr.messages()
	require.Empty(t, bad)
	require.Len(t, msgs, 4)
	assert.Equal(t, "gpt-4o", msgs[1].Model)
	assert.True(t, msgs[2].Content.IsMultipart())

	out, err := encodeTranscript(msgs)
	require.NoError(t, err)
	assert.JSONEq(t, in, string(out))
}

func TestEncodeTranscript_NilIsEmptyArray(t *testing.T) {
	out, err := encodeTranscript(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(out))
}

func TestEncodeTranscript_TimestampsAreRFC3339(t *testing.T) {
	out, err := encodeTranscript([]models.Message{{
		ID: "c-1", Sender: models.SenderUser, Content: models.TextContent("x"),
		Timestamp: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}})
	require.NoError(t, err)
	var raw []map[string]any
	require.NoError(t, json.Unmarshal(out, &raw))
	assert.Equal(t, "2024-05-01T12:00:00Z", raw[0]["timestamp"])
	_, hasModel := raw[0]["model"]
	assert.False(t, hasModel)
}
