package nl2sql

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestOpenAIGeneratorUsesTierModel(t *testing.T) {
	var gotModel, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		var body struct {
			Model    string    `json:"model"`
			Messages []Message `json:"messages"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotModel = body.Model
		writeCompletion(w, `{"sql":"SELECT 1","ask_clarification":false,"clarification":null,"explanation":"one"}`)
	}))
	defer srv.Close()

	generator, err := NewOpenAIGenerator(OpenAIConfig{BaseURL: srv.URL + "/", APIKey: "secret", LowModel: "small", HighModel: "large"})
	if err != nil {
		t.Fatalf("NewOpenAIGenerator() error = %v", err)
	}
	plan, err := generator.Generate(context.Background(), Request{Question: "hello", Tier: TierHigh})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if _, ok := plan.(SQLPlan); !ok {
		t.Fatalf("plan = %#v", plan)
	}
	if gotModel != "large" {
		t.Fatalf("model = %q", gotModel)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("authorization = %q", gotAuth)
	}
	if generator.Model(TierLow) != "small" {
		t.Fatalf("Model(TierLow) = %q", generator.Model(TierLow))
	}
}

func TestOpenAIGeneratorTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	generator, err := NewOpenAIGenerator(OpenAIConfig{BaseURL: srv.URL, APIKey: "k", Timeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewOpenAIGenerator() error = %v", err)
	}
	_, err = generator.Generate(context.Background(), Request{Question: "q", Tier: TierLow})
	if !errors.Is(err, ErrModelTimeout) {
		t.Fatalf("Generate() error = %v, want ErrModelTimeout", err)
	}
}

func TestOpenAIGeneratorStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	generator, err := NewOpenAIGenerator(OpenAIConfig{BaseURL: srv.URL, APIKey: "k"})
	if err != nil {
		t.Fatalf("NewOpenAIGenerator() error = %v", err)
	}
	_, err = generator.Generate(context.Background(), Request{Question: "q"})
	var genErr *GenerationError
	if !errors.As(err, &genErr) {
		t.Fatalf("Generate() error = %v, want GenerationError", err)
	}
	if genErr.Model != "gpt-4o-mini" {
		t.Fatalf("Model = %q", genErr.Model)
	}
}

func TestOpenAIGeneratorMalformedReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeCompletion(w, "SELECT 1")
	}))
	defer srv.Close()

	generator, err := NewOpenAIGenerator(OpenAIConfig{BaseURL: srv.URL, APIKey: "k"})
	if err != nil {
		t.Fatalf("NewOpenAIGenerator() error = %v", err)
	}
	_, err = generator.Generate(context.Background(), Request{Question: "q"})
	var malformed *MalformedResponseError
	if !errors.As(err, &malformed) {
		t.Fatalf("Generate() error = %v, want MalformedResponseError", err)
	}
	if malformed.Raw != "SELECT 1" {
		t.Fatalf("Raw = %q", malformed.Raw)
	}
}

func TestNewOpenAIGeneratorRequiresKey(t *testing.T) {
	if _, err := NewOpenAIGenerator(OpenAIConfig{BaseURL: "http://x"}); err == nil {
		t.Fatal("expected error for missing api key")
	}
}

func writeCompletion(w http.ResponseWriter, content string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": content}}},
	})
}
