// Package llm provides the client for the remote OpenAI-compatible chat
// completion API.
//
// The client is the only network collaborator of the core: given a list of
// role-tagged messages it returns one completion string or fails with a
// transport/HTTP error. Cancellation is threaded through context.Context;
// there is no retry or backoff — every failure surfaces to the caller.
package llm

import (
	"context"
	"errors"
)

// Chat roles as sent on the wire.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrNoAPIKey is returned when a request is attempted without a configured
// API key. Callers should surface a "missing credentials" message instead of
// dispatching the request.
var ErrNoAPIKey = errors.New("llm: no API key configured")

// ErrEmptyCompletion is returned when the API responds successfully but the
// completion content is missing or empty.
var ErrEmptyCompletion = errors.New("llm: empty completion returned")

// ChatMessage is one role-tagged message in a completion request.
type ChatMessage struct {
	Role    string
	Content string
}

// CompletionRequest is the input to a single chat completion call.
type CompletionRequest struct {
	// Model overrides the client's configured model when non-empty.
	Model string
	// Messages is the full ordered context, system message first.
	Messages []ChatMessage
	// Temperature is the sampling temperature. Zero means the API default.
	Temperature float32
}

// Client is the LLM collaborator interface. The pipeline and the long-memory
// summarizer depend on this so tests can substitute fakes.
type Client interface {
	// Complete sends the messages and returns the completion text.
	Complete(ctx context.Context, req CompletionRequest) (string, error)

	// ListModels returns the lexicographically sorted model IDs available at
	// the endpoint. Returns an empty slice when the backend reports none.
	ListModels(ctx context.Context) ([]string, error)
}
