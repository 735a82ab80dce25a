package chat

import (
	"io"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/DreamCats/pdfchat/internal/llm"
)

// modelRef counts the asks using a chat model. A retired model is closed
// once its last user releases it.
type modelRef struct {
	model llm.ChatModel
	log   logrus.FieldLogger

	mu      sync.Mutex
	users   int
	retired bool
}

func newModelRef(model llm.ChatModel, log logrus.FieldLogger) *modelRef {
	return &modelRef{model: model, log: log}
}

func (r *modelRef) acquire() {
	r.mu.Lock()
	r.users++
	r.mu.Unlock()
}

func (r *modelRef) release() {
	r.mu.Lock()
	r.users--
	idle := r.retired && r.users == 0
	r.mu.Unlock()
	if idle {
		r.close()
	}
}

// retire marks the model as replaced. It must be called at most once.
func (r *modelRef) retire() {
	r.mu.Lock()
	r.retired = true
	idle := r.users == 0
	r.mu.Unlock()
	if idle {
		r.close()
	}
}

func (r *modelRef) close() {
	c, ok := r.model.(io.Closer)
	if !ok {
		return
	}
	if err := c.Close(); err != nil {
		r.log.WithError(err).Warn("failed to close chat model")
	}
}
