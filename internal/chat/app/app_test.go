package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/wjt2018/chromachat/internal/chat/config"
	"github.com/wjt2018/chromachat/internal/chat/llm"
	"github.com/wjt2018/chromachat/internal/chat/store"
)

func newTestApp(t *testing.T) *App {
	t.Helper()
	cfg := &config.Config{
		DBPath:    filepath.Join(t.TempDir(), "app-test.db"),
		LogLevel:  "error",
		LogFormat: "text",
	}
	cfg.LLM.Timeout = config.DefaultLLMTimeout

	a, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestNew_WiresSubsystems(t *testing.T) {
	a := newTestApp(t)
	if a.Store() == nil || a.Pipeline() == nil || a.Summarizer() == nil {
		t.Fatal("subsystems must be wired")
	}

	// The store is usable through the facade.
	thread, err := a.Store().CreateContact(context.Background(), &store.Contact{Name: "Aria"})
	if err != nil {
		t.Fatalf("CreateContact through facade: %v", err)
	}
	if thread.Title != "Aria 的对话" {
		t.Errorf("thread title: got %q", thread.Title)
	}
}

func TestSettingsClient_ReadsStoreOnEachCall(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	var gotAuth string
	var gotMaxTokens float64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		gotMaxTokens, _ = body["max_tokens"].(float64)
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": "好的。"}},
			},
		})
	}))
	defer srv.Close()

	for k, v := range map[string]string{
		store.SettingAPIKey:  "sk-first",
		store.SettingBaseURL: srv.URL + "/v1",
		store.SettingModel:   "test-model",
	} {
		if err := a.Store().SetSetting(ctx, k, v); err != nil {
			t.Fatalf("SetSetting: %v", err)
		}
	}

	fallback := a.cfg.LLM
	fallback.MaxTokens = 256
	client := &settingsClient{store: a.Store(), fallback: fallback}
	req := llm.CompletionRequest{Messages: []llm.ChatMessage{{Role: llm.RoleUser, Content: "hi"}}}

	if _, err := client.Complete(ctx, req); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if gotAuth != "Bearer sk-first" {
		t.Errorf("auth header: got %q", gotAuth)
	}
	if gotMaxTokens != 256 {
		t.Errorf("max_tokens: got %v, want 256", gotMaxTokens)
	}

	// A key change takes effect on the very next call.
	if err := a.Store().SetSetting(ctx, store.SettingAPIKey, "sk-second"); err != nil {
		t.Fatalf("SetSetting: %v", err)
	}
	if _, err := client.Complete(ctx, req); err != nil {
		t.Fatalf("Complete after key change: %v", err)
	}
	if gotAuth != "Bearer sk-second" {
		t.Errorf("auth header after change: got %q", gotAuth)
	}
}

func TestSettingsClient_FallbackConfig(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	// No settings at all: the resolved client has no API key and must fail
	// with the sentinel instead of dialing out.
	client := &settingsClient{store: a.Store(), fallback: a.cfg.LLM}
	_, err := client.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.ChatMessage{{Role: llm.RoleUser, Content: "hi"}},
	})
	if !errors.Is(err, llm.ErrNoAPIKey) {
		t.Fatalf("expected ErrNoAPIKey, got %v", err)
	}
}

func TestClose_Idempotent(t *testing.T) {
	cfg := &config.Config{
		DBPath:    filepath.Join(t.TempDir(), "close-test.db"),
		LogLevel:  "error",
		LogFormat: "text",
	}
	a, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
