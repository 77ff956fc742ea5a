package conversations

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/chatkeeper/internal/common"
	"github.com/dmitrijs2005/chatkeeper/internal/server/models"
)

var (
	errNotJSON    = fmt.Errorf("%w: transcript is not valid JSON", common.ErrParse)
	errNotArray   = fmt.Errorf("%w: structural integrity: transcript is not an array", common.ErrParse)
	errBadMessage = fmt.Errorf("%w: malformed message", common.ErrParse)
)

const warnBlobNotFound = "transcript blob not found"

// transcript is a blob split into its elements. Each element keeps the bytes
// it was stored with, so appending never rewrites earlier messages.
type transcript []json.RawMessage

// splitTranscript parses the outer array of a blob. On error the returned
// transcript is empty, never nil, so callers can keep going.
func splitTranscript(data []byte) (transcript, error) {
	trimmed := bytes.TrimSpace(data)
	if !json.Valid(trimmed) {
		return transcript{}, errNotJSON
	}
	if trimmed[0] != '[' {
		return transcript{}, errNotArray
	}

	t := transcript{}
	if err := json.Unmarshal(trimmed, &t); err != nil {
		return transcript{}, fmt.Errorf("%w: %v", errNotJSON, err)
	}
	return t, nil
}

// messages decodes every element on its own. Elements that do not decode are
// skipped and reported; the rest keep their order.
func (t transcript) messages() ([]models.Message, []error) {
	msgs := make([]models.Message, 0, len(t))
	var bad []error
	for i, el := range t {
		m, err := decodeMessage(el)
		if err != nil {
			bad = append(bad, fmt.Errorf("%w %d: %v", errBadMessage, i+1, err))
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs, bad
}

func decodeMessage(el json.RawMessage) (models.Message, error) {
	var m models.Message
	if len(el) == 0 || el[0] != '{' {
		return m, errors.New("not an object")
	}
	if err := json.Unmarshal(el, &m); err != nil {
		return m, err
	}
	return m, nil
}

// with returns t extended by m.
func (t transcript) with(m models.Message) (transcript, error) {
	el, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return append(t, el), nil
}

// encode joins the elements back into an array without touching them.
func (t transcript) encode() []byte {
	var b bytes.Buffer
	b.WriteByte('[')
	for i, el := range t {
		if i > 0 {
			b.WriteByte(',')
		}
		b.Write(el)
	}
	b.WriteByte(']')
	return b.Bytes()
}

func encodeTranscript(msgs []models.Message) ([]byte, error) {
	if msgs == nil {
		msgs = []models.Message{}
	}
	b, err := json.Marshal(msgs)
	if err != nil {
		return nil, fmt.Errorf("encode transcript: %w", err)
	}
	return b, nil
}

// readTranscript fetches and splits a blob. A missing blob, or one that is
// not a JSON array, gives an empty transcript and a warning; only other
// storage failures are returned as errors.
func (s *Service) readTranscript(ctx context.Context, ref models.BlobRef) (transcript, string, error) {
	data, err := s.store.Get(ctx, ref.Bucket, ref.Key)
	if err != nil {
		if errors.Is(err, common.ErrBlobNotFound) {
			return transcript{}, warnBlobNotFound, nil
		}
		return nil, "", err
	}

	t, err := splitTranscript(data)
	if err != nil {
		return t, err.Error(), nil
	}
	return t, "", nil
}
