// Package memory maintains each contact's long-term memory: a short,
// periodically regenerated first-person summary of the whole conversation,
// injected into every subsequent prompt by the context assembler.
package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/wjt2018/chromachat/internal/chat/llm"
	"github.com/wjt2018/chromachat/internal/chat/store"
)

// ErrNoHistory is returned when the contact's thread has no messages to
// summarize.
var ErrNoHistory = errors.New("memory: thread has no messages to summarize")

// emptySentinel is the literal the instruction prompt asks for when nothing
// is worth remembering. A reply equal to it clears the stored memory.
const emptySentinel = "无"

// instructionPrompt steers the summarization call. First person keeps the
// memory usable verbatim inside the character's system prompt.
const instructionPrompt = `你是角色本人。请把下面的对话记录连同已有的长期记忆，压缩成一段新的长期记忆。
只保留值得长期延续的事实、人物关系和约定计划；用第一人称书写；不要复述对话过程。
如果没有任何值得记住的内容，只回复：` + emptySentinel

// Summarizer compresses a thread's full history into the contact's long
// memory via one LLM call. Failures surface to the caller; nothing is
// retried.
type Summarizer struct {
	store  *store.Store
	client llm.Client
	logger *slog.Logger
}

// New creates a Summarizer. logger may be nil.
func New(s *store.Store, client llm.Client, logger *slog.Logger) *Summarizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Summarizer{store: s, client: client, logger: logger}
}

// Refresh regenerates and persists the contact's long memory from the full
// thread transcript plus the existing memory. Returns the new memory text
// (empty when the model reported nothing salient, which clears the field).
func (m *Summarizer) Refresh(ctx context.Context, contactID string) (string, error) {
	apiKey, err := m.store.GetSettingOr(ctx, store.SettingAPIKey, "")
	if err != nil {
		return "", err
	}
	if apiKey == "" {
		return "", llm.ErrNoAPIKey
	}

	contact, err := m.store.GetContact(ctx, contactID)
	if err != nil {
		return "", err
	}
	thread, err := m.store.ThreadByContact(ctx, contactID)
	if err != nil {
		return "", err
	}
	messages, err := m.store.ListMessages(ctx, thread.ID)
	if err != nil {
		return "", err
	}
	if len(messages) == 0 {
		return "", ErrNoHistory
	}

	userName, err := m.store.GetSettingOr(ctx, store.SettingUserName, "user")
	if err != nil {
		return "", err
	}
	if contact.UserName.Valid && strings.TrimSpace(contact.UserName.String) != "" {
		userName = contact.UserName.String
	}

	model, err := m.store.GetSettingOr(ctx, store.SettingModel, "")
	if err != nil {
		return "", err
	}

	completion, err := m.client.Complete(ctx, llm.CompletionRequest{
		Model: model,
		Messages: []llm.ChatMessage{
			{Role: llm.RoleSystem, Content: instructionPrompt},
			{Role: llm.RoleUser, Content: buildTranscript(contact, userName, messages)},
		},
	})
	if err != nil {
		return "", err
	}

	result := strings.TrimSpace(completion)
	if result == emptySentinel {
		result = ""
	}

	if err := m.store.UpdateLongMemory(ctx, contactID, result); err != nil {
		return "", err
	}

	m.logger.Info("long memory refreshed",
		"contact_id", contactID,
		"memory_len", len(result),
		"messages", len(messages),
	)
	return result, nil
}

// buildTranscript renders the existing memory block and the speaker-labeled
// conversation log the summarization call reads.
func buildTranscript(contact *store.Contact, userName string, messages []*store.Message) string {
	var b strings.Builder

	if contact.LongMemory.Valid && strings.TrimSpace(contact.LongMemory.String) != "" {
		b.WriteString("【已有的长期记忆】\n")
		b.WriteString(strings.TrimSpace(contact.LongMemory.String))
		b.WriteString("\n\n")
	}

	b.WriteString("【对话记录】\n")
	for _, msg := range messages {
		speaker := contact.Name
		if msg.Role == store.RoleUser {
			speaker = userName
		}
		fmt.Fprintf(&b, "%s：%s\n", speaker, msg.Content)
	}
	return b.String()
}
