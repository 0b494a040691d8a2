// Package prompt assembles the bounded-size message context for one LLM
// request: the synthesized system preamble plus the maximal suffix of the
// message history that fits the token budget.
//
// Everything here is pure and stateless — the UI recomputes assemblies
// freely for the live token-usage display.
package prompt

import (
	"strconv"
	"strings"

	"github.com/wjt2018/chromachat/internal/chat/llm"
	"github.com/wjt2018/chromachat/internal/chat/store"
	"github.com/wjt2018/chromachat/internal/chat/token"
)

const (
	// DefaultLimit is the context-window token budget used when neither an
	// explicit override nor a per-contact limit is set.
	DefaultLimit = 16000

	// MinLimit and MaxLimit clamp any configured budget.
	MinLimit = 500
	MaxLimit = 128000

	// DefaultSystemPrompt is used when no global system prompt is configured.
	DefaultSystemPrompt = "你是一个沉浸式角色扮演伙伴。请始终以角色身份回应，保持人设一致，不要跳出角色。"

	// sectionSeparator divides the base prompt from the character sheet.
	sectionSeparator = "\n\n---\n\n"

	// placeholder stands in for blank contact fields so the prompt is
	// always well-formed text.
	placeholder = "未提供"

	// fallbackUserName is used when neither the contact-local nor the
	// global user name is set.
	fallbackUserName = "user"
)

// Settings is the slice of global configuration the assembler reads: the
// system prompt, the user's default identity, and the global token limit.
type Settings struct {
	SystemPrompt string
	UserName     string
	UserPersona  string
	// TokenLimit is the global budget from the settings bag (see ParseLimit);
	// 0 means unset. Contact-level limits take precedence over it.
	TokenLimit int
}

// Context is an assembled request: the ordered messages (system first), the
// total estimated token cost, and the resolved budget. TotalTokens may
// exceed Limit when the forced-include rule fired.
type Context struct {
	Messages    []llm.ChatMessage
	TotalTokens int
	Limit       int
}

// ResolveLimit determines the effective token budget: explicit override →
// contact's stored limit → global settings limit → DefaultLimit, clamped to
// [MinLimit, MaxLimit]. Non-positive values fall through to the next link of
// the chain.
func ResolveLimit(override int, contact *store.Contact, global int) int {
	if override > 0 {
		return clampLimit(override)
	}
	if contact != nil && contact.TokenLimit.Valid && contact.TokenLimit.Int64 > 0 {
		return clampLimit(int(contact.TokenLimit.Int64))
	}
	if global > 0 {
		return clampLimit(global)
	}
	return DefaultLimit
}

func clampLimit(limit int) int {
	if limit < MinLimit {
		return MinLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// BuildSystem produces the system message content: base prompt, character
// sheet, optional long-memory block, and the effective user identity.
// Blank fields are replaced with placeholders so the result is always
// well-formed.
func BuildSystem(contact *store.Contact, settings Settings) string {
	base := settings.SystemPrompt
	if strings.TrimSpace(base) == "" {
		base = DefaultSystemPrompt
	}

	var b strings.Builder
	b.WriteString(base)
	b.WriteString(sectionSeparator)
	b.WriteString("角色名称：")
	b.WriteString(contact.Name)
	b.WriteString("\n角色设定：")
	b.WriteString(orPlaceholder(contact.Persona))
	b.WriteString("\n世界观：")
	b.WriteString(orPlaceholder(contact.WorldInfo))

	if contact.LongMemory.Valid && strings.TrimSpace(contact.LongMemory.String) != "" {
		b.WriteString("\n\n【长期记忆】\n")
		b.WriteString(strings.TrimSpace(contact.LongMemory.String))
	}

	b.WriteString("\n\n用户名称：")
	b.WriteString(effectiveUserName(contact, settings))
	b.WriteString("\n用户设定：")
	b.WriteString(effectiveUserPersona(contact, settings))

	return b.String()
}

// effectiveUserName resolves the displayed user name: contact-local override
// → global setting → literal fallback.
func effectiveUserName(contact *store.Contact, settings Settings) string {
	if contact.UserName.Valid && strings.TrimSpace(contact.UserName.String) != "" {
		return contact.UserName.String
	}
	if strings.TrimSpace(settings.UserName) != "" {
		return settings.UserName
	}
	return fallbackUserName
}

// effectiveUserPersona resolves the user persona through the same chain,
// with the placeholder when both are blank.
func effectiveUserPersona(contact *store.Contact, settings Settings) string {
	if contact.UserPersona.Valid && strings.TrimSpace(contact.UserPersona.String) != "" {
		return contact.UserPersona.String
	}
	return orPlaceholder(settings.UserPersona)
}

func orPlaceholder(s string) string {
	if strings.TrimSpace(s) == "" {
		return placeholder
	}
	return s
}

// Assemble builds the message list for one request. It walks the history
// from the most recent message backward, greedily selecting messages while
// they fit the budget. The newest message is force-included even when its
// cost alone exceeds the limit, so a non-empty history never produces a
// context without user content. The selection is always a contiguous suffix
// of the history.
func Assemble(contact *store.Contact, settings Settings, history []*store.Message, limitOverride int) Context {
	limit := ResolveLimit(limitOverride, contact, settings.TokenLimit)
	system := BuildSystem(contact, settings)
	running := token.EstimateSystem(system)

	selected := make([]llm.ChatMessage, 0, len(history))
	for i := len(history) - 1; i >= 0; i-- {
		msg := history[i]
		cost := token.EstimateMessage(msg.Content)
		if running+cost > limit {
			if len(selected) == 0 {
				selected = append(selected, llm.ChatMessage{Role: msg.Role, Content: msg.Content})
				running += cost
			}
			break
		}
		selected = append(selected, llm.ChatMessage{Role: msg.Role, Content: msg.Content})
		running += cost
	}

	// Selection happened newest-first; reverse back to chronological order.
	for i, j := 0, len(selected)-1; i < j; i, j = i+1, j-1 {
		selected[i], selected[j] = selected[j], selected[i]
	}

	messages := make([]llm.ChatMessage, 0, len(selected)+1)
	messages = append(messages, llm.ChatMessage{Role: llm.RoleSystem, Content: system})
	messages = append(messages, selected...)

	return Context{
		Messages:    messages,
		TotalTokens: running,
		Limit:       limit,
	}
}

// ParseLimit converts a stored string limit (e.g. from the settings bag) to
// an int, returning 0 (no override) for blank or malformed values.
func ParseLimit(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0
	}
	return n
}
