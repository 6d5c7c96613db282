package llmgateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestGateway_Query_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := chatResponse{Model: "test-model"}
		resp.Choices = []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		}{{Message: struct {
			Content string `json:"content"`
		}{Content: "hello back"}}}
		resp.Usage.TotalTokens = 42
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	g := New(DefaultConfig(srv.URL, "test-model"))
	defer g.Stop()

	res, err := g.Query(context.Background(), "hi", Options{Priority: PriorityCritical, Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Text != "hello back" {
		t.Errorf("expected 'hello back', got %q", res.Text)
	}
	if res.Tokens != 42 {
		t.Errorf("expected 42 tokens, got %d", res.Tokens)
	}
}

func TestGateway_Query_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	g := New(DefaultConfig(srv.URL, "test-model"))
	defer g.Stop()

	_, err := g.Query(context.Background(), "hi", Options{Priority: PriorityCritical, Timeout: 2 * time.Second})
	if err == nil {
		t.Fatal("expected error for upstream 500")
	}
}

func TestGateway_Query_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		json.NewEncoder(w).Encode(chatResponse{})
	}))
	defer srv.Close()

	g := New(DefaultConfig(srv.URL, "test-model"))
	defer g.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := g.Query(ctx, "hi", Options{Priority: PriorityCritical, Timeout: time.Second})
	if err == nil {
		t.Fatal("expected context deadline error")
	}
}
