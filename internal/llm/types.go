package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/loqalabs/loqa-chat/internal/protocol"
)

// Backend streams raw chunks from a chat model. Chunk shapes vary by backend:
// an object with nested message.content, a bare JSON string, or anything else.
type Backend interface {
	StreamChat(ctx context.Context, model string, messages []protocol.ChatMessage, consumer func(json.RawMessage) error) error
}

// Catalog lists the models a backend can serve.
type Catalog interface {
	Models(ctx context.Context) ([]string, error)
}

// ChunkKind tags a normalized chunk.
type ChunkKind int

const (
	ChunkEmpty ChunkKind = iota
	ChunkText
)

// Chunk is the normalized form of one backend chunk.
type Chunk struct {
	Kind ChunkKind
	Text string
}

// TextChunk returns a text chunk, or an empty chunk when s is empty.
func TextChunk(s string) Chunk {
	if s == "" {
		return Chunk{Kind: ChunkEmpty}
	}
	return Chunk{Kind: ChunkText, Text: s}
}

// ErrBackend reports an error chunk emitted by the backend mid-stream.
var ErrBackend = errors.New("model backend error")

type objectChunk struct {
	Message *struct {
		Content string `json:"content"`
	} `json:"message"`
	Error string `json:"error"`
}

// Normalize maps a raw chunk onto Chunk. It fails only for malformed JSON
// or for an explicit {"error": ...} object.
func Normalize(raw json.RawMessage) (Chunk, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return Chunk{Kind: ChunkEmpty}, nil
	}
	switch trimmed[0] {
	case '{':
		var obj objectChunk
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return Chunk{}, fmt.Errorf("decode chunk: %w", err)
		}
		if obj.Error != "" {
			return Chunk{}, fmt.Errorf("%w: %s", ErrBackend, obj.Error)
		}
		if obj.Message == nil {
			return Chunk{Kind: ChunkEmpty}, nil
		}
		return TextChunk(obj.Message.Content), nil
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return Chunk{}, fmt.Errorf("decode chunk: %w", err)
		}
		return TextChunk(s), nil
	default:
		return Chunk{Kind: ChunkEmpty}, nil
	}
}

// backendRole maps chat roles onto the role names chat models expect.
func backendRole(role protocol.Role) string {
	if role == protocol.RoleAI {
		return "assistant"
	}
	return string(role)
}
