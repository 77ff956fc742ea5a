// Package generation dispatches chat transcripts to language-model backends
// and streams their output as a lazy sequence of fragments.
//
// Failures never escape as errors: an invalid model or a backend fault shows
// up as a single terminal error fragment.
package generation

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"iter"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/dmitrijs2005/chatkeeper/internal/common"
	"github.com/dmitrijs2005/chatkeeper/internal/logging"
	"github.com/dmitrijs2005/chatkeeper/internal/server/models"
)

// TokenStream yields text until it returns io.EOF.
type TokenStream interface {
	Recv() (string, error)
	Close() error
}

// Backend is one provider family.
type Backend interface {
	// Family is the model id prefix served, e.g. "gpt".
	Family() string
	// Models is the allow-list of model ids.
	Models() []string
	// StripDataURLImages reports whether image data URLs must be reduced to
	// their base64 payload before Stream sees them.
	StripDataURLImages() bool
	Stream(ctx context.Context, msgs []models.Message, model string) (TokenStream, error)
}

// Registry resolves model ids to backends.
type Registry struct {
	backends       map[string]Backend
	defaultModel   string
	maxContentSize int
	log            logging.Logger
}

func NewRegistry(defaultModel string, log logging.Logger, backends ...Backend) *Registry {
	if log == nil {
		log = logging.Nop()
	}
	r := &Registry{
		backends:       make(map[string]Backend, len(backends)),
		defaultModel:   defaultModel,
		maxContentSize: common.MaxMessageContentSize,
		log:            log,
	}
	for _, b := range backends {
		r.backends[b.Family()] = b
	}
	return r
}

// Family is the part of modelID before the first "-".
func Family(modelID string) string {
	if i := strings.IndexByte(modelID, '-'); i >= 0 {
		return modelID[:i]
	}
	return modelID
}

func (r *Registry) DefaultModel() string { return r.defaultModel }

// AllowedModels lists every valid model id, sorted.
func (r *Registry) AllowedModels() []string {
	var out []string
	for _, b := range r.backends {
		out = append(out, b.Models()...)
	}
	slices.Sort(out)
	return out
}

func (r *Registry) IsAllowed(modelID string) bool {
	b, ok := r.backends[Family(modelID)]
	return ok && slices.Contains(b.Models(), modelID)
}

// resolve maps a model id to its backend; unknown families fall back to the
// default model's backend, which then rejects the id.
func (r *Registry) resolve(modelID string) Backend {
	if b, ok := r.backends[Family(modelID)]; ok {
		return b
	}
	return r.backends[Family(r.defaultModel)]
}

// Generate returns the output of modelID for msgs. Nothing happens until the
// sequence is ranged over, and it can be ranged over only once; later
// iterations yield nothing. Stopping early closes the backend stream.
func (r *Registry) Generate(ctx context.Context, msgs []models.Message, modelID string) iter.Seq[Fragment] {
	var used atomic.Bool
	return func(yield func(Fragment) bool) {
		if used.Swap(true) {
			return
		}
		r.generate(ctx, msgs, modelID, yield)
	}
}

func (r *Registry) generate(ctx context.Context, msgs []models.Message, modelID string, yield func(Fragment) bool) {
	if modelID == "" {
		modelID = r.defaultModel
	}

	b := r.resolve(modelID)
	if b == nil || !slices.Contains(b.Models(), modelID) {
		r.log.Warn(ctx, "invalid model requested", "model", modelID)
		yield(Errorf("Invalid model name: %q. Valid models are: %s", modelID, strings.Join(r.AllowedModels(), ", ")))
		return
	}

	formatted := FormatMessages(msgs, b.StripDataURLImages())
	r.checkSizes(ctx, formatted)

	stream, err := b.Stream(ctx, formatted, modelID)
	if err != nil {
		r.log.Error(ctx, "generation failed to start", "model", modelID, "error", err)
		yield(Errorf("%v", err))
		return
	}
	defer func() {
		if err := stream.Close(); err != nil {
			r.log.Debug(ctx, "closing generation stream", "model", modelID, "error", err)
		}
	}()

	for {
		tok, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			r.log.Error(ctx, "generation stream failed", "model", modelID, "error", err)
			yield(Errorf("%v", err))
			return
		}
		if tok == "" {
			continue
		}
		if !yield(Token(tok)) {
			return
		}
	}
}

func (r *Registry) checkSizes(ctx context.Context, msgs []models.Message) {
	for i, m := range msgs {
		b, err := json.Marshal(m.Content)
		if err != nil {
			continue
		}
		if len(b) > r.maxContentSize {
			r.log.Warn(ctx, "oversized message content",
				"index", i, "size", len(b), "limit", r.maxContentSize)
		}
	}
}

// errEmptyConversation is returned by backends asked to continue nothing.
var errEmptyConversation = errors.New("no messages to send")
