package openai

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tronrun/tron/internal/providers"
	"github.com/tronrun/tron/internal/tokens"
)

func TestNewRequiresAPIKey(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error when APIKey is empty")
	}
}

func TestNewDefaultsModel(t *testing.T) {
	p, err := New(Config{APIKey: "sk-test"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.model("") != "gpt-4o" {
		t.Fatalf("expected default model, got %q", p.model(""))
	}
	if p.model("gpt-4-turbo") != "gpt-4-turbo" {
		t.Fatal("expected explicit model to override default")
	}
}

func TestKindIsDirect(t *testing.T) {
	p, _ := New(Config{APIKey: "sk-test"})
	if p.Kind() != tokens.ProviderDirect {
		t.Fatalf("expected Direct, got %v", p.Kind())
	}
}

func TestModelsNonEmpty(t *testing.T) {
	p, _ := New(Config{APIKey: "sk-test"})
	if len(p.Models()) == 0 {
		t.Fatal("expected at least one model")
	}
}

// TestStreamEmitsWellNestedEvents drives Stream against a fake SSE server
// emitting OpenAI's flatter delta format and checks the resulting
// StreamEvent sequence synthesizes well-nested Start/TextStart/TextEnd/Done
// framing around it.
func TestStreamEmitsWellNestedEvents(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		bw := bufio.NewWriter(w)
		chunks := []string{
			`{"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"role":"assistant"},"finish_reason":null}]}`,
			`{"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":"Hello"},"finish_reason":null}]}`,
			`{"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
		}
		for _, c := range chunks {
			fmt.Fprintf(bw, "data: %s\n\n", c)
		}
		fmt.Fprint(bw, "data: [DONE]\n\n")
		bw.Flush()
	}))
	defer server.Close()

	p, err := New(Config{APIKey: "sk-test", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ch, err := p.Stream(context.Background(), providers.Context{
		Messages: []providers.Message{{Role: "user"}},
	}, providers.Options{})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	var kinds []providers.StreamEventKind
	for e := range ch {
		kinds = append(kinds, e.Kind)
	}

	if len(kinds) == 0 || kinds[0] != providers.EventStart {
		t.Fatalf("expected stream to open with Start, got %v", kinds)
	}
	last := kinds[len(kinds)-1]
	if last != providers.EventDone && last != providers.EventError {
		t.Fatalf("expected stream to close with Done or Error, got %v", last)
	}

	var openText bool
	for _, k := range kinds {
		switch k {
		case providers.EventTextStart:
			if openText {
				t.Fatal("text block started twice without closing")
			}
			openText = true
		case providers.EventTextEnd:
			if !openText {
				t.Fatal("text block closed without starting")
			}
			openText = false
		}
	}
	if openText {
		t.Fatal("text block left open at stream end")
	}
}
