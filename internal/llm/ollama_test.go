package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/loqalabs/loqa-chat/internal/protocol"
)

func TestOllamaStreamChat(t *testing.T) {
	var received ollamaChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode request: %v", err)
		}
		fmt.Fprintln(w, `{"model":"m1","message":{"role":"assistant","content":"Hi"},"done":false}`)
		fmt.Fprintln(w)
		fmt.Fprintln(w, `{"model":"m1","message":{"role":"assistant","content":" there"},"done":false}`)
		fmt.Fprintln(w, `{"model":"m1","message":{"role":"assistant","content":""},"done":true,"eval_count":2}`)
	}))
	defer srv.Close()

	backend := NewOllamaBackend(srv.URL+"/", srv.Client())
	history := []protocol.ChatMessage{
		{Role: protocol.RoleSystem, Content: "sys"},
		{Role: protocol.RoleUser, Content: "Hello"},
		{Role: protocol.RoleAI, Content: "Hey"},
	}
	var sb strings.Builder
	err := NewAdapter(backend).Stream(context.Background(), "m1", history, func(s string) error {
		sb.WriteString(s)
		return nil
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if sb.String() != "Hi there" {
		t.Fatalf("unexpected reply %q", sb.String())
	}
	if !received.Stream || received.Model != "m1" || len(received.Messages) != 3 {
		t.Fatalf("unexpected request %+v", received)
	}
	if received.Messages[2].Role != "assistant" {
		t.Fatalf("ai role should map to assistant, got %q", received.Messages[2].Role)
	}
}

func TestOllamaStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model 'x' not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	err := NewOllamaBackend(srv.URL, nil).StreamChat(context.Background(), "x", nil, func(json.RawMessage) error { return nil })
	if err == nil {
		t.Fatal("expected status error")
	}
}

func TestOllamaModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `{"models":[{"name":"llama3.2:latest"},{"model":"qwen2.5:7b"}]}`)
	}))
	defer srv.Close()

	models, err := NewOllamaBackend(srv.URL, srv.Client()).Models(context.Background())
	if err != nil {
		t.Fatalf("models: %v", err)
	}
	if len(models) != 2 || models[0] != "llama3.2:latest" || models[1] != "qwen2.5:7b" {
		t.Fatalf("unexpected models %v", models)
	}
}
