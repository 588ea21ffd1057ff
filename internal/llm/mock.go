package llm

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/loqalabs/loqa-chat/internal/protocol"
)

type mockBackend struct{}

func NewMockBackend() Backend { return &mockBackend{} }

func (m *mockBackend) StreamChat(ctx context.Context, _ string, messages []protocol.ChatMessage, consumer func(json.RawMessage) error) error {
	prompt := ""
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == protocol.RoleUser {
			prompt = messages[i].Content
			break
		}
	}
	reply := "mock completion for " + strings.TrimSpace(prompt)
	for i, word := range strings.Fields(reply) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
		if i > 0 {
			word = " " + word
		}
		var raw []byte
		if i%2 == 0 {
			raw, _ = json.Marshal(map[string]any{"message": map[string]string{"role": "assistant", "content": word}})
		} else {
			raw, _ = json.Marshal(word)
		}
		if err := consumer(raw); err != nil {
			return err
		}
	}
	return consumer(json.RawMessage(`{"done":true}`))
}

// StaticCatalog serves a fixed model list.
type StaticCatalog []string

func (c StaticCatalog) Models(context.Context) ([]string, error) {
	return append([]string(nil), c...), nil
}
