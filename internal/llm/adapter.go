package llm

import (
	"context"
	"encoding/json"

	"github.com/loqalabs/loqa-chat/internal/protocol"
)

// Adapter turns a backend's raw chunk stream into non-empty text increments.
type Adapter struct {
	backend Backend
}

func NewAdapter(backend Backend) *Adapter {
	return &Adapter{backend: backend}
}

// Stream calls yield once per non-empty increment, in backend order.
func (a *Adapter) Stream(ctx context.Context, model string, history []protocol.ChatMessage, yield func(string) error) error {
	return a.backend.StreamChat(ctx, model, history, func(raw json.RawMessage) error {
		chunk, err := Normalize(raw)
		if err != nil {
			return err
		}
		switch chunk.Kind {
		case ChunkText:
			return yield(chunk.Text)
		default:
			return nil
		}
	})
}
