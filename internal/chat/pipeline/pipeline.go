// Package pipeline orchestrates one chat turn: persist the user's input,
// assemble the bounded context, call the LLM, split the reply into
// display-sized segments and persist each as its own assistant message, with
// optional delayed auto-reply.
//
// Every operation fails fast and bubbles the error to the caller; nothing is
// retried. The one documented non-atomic spot: when persisting a
// multi-segment reply fails mid-batch, already-persisted segments are kept.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/wjt2018/chromachat/common/trace"
	"github.com/wjt2018/chromachat/internal/chat/llm"
	"github.com/wjt2018/chromachat/internal/chat/observability"
	"github.com/wjt2018/chromachat/internal/chat/prompt"
	"github.com/wjt2018/chromachat/internal/chat/store"
)

// ErrEmptyInput is returned when a send or edit carries no content after
// trimming.
var ErrEmptyInput = errors.New("pipeline: empty message content")

// ErrNothingPending is returned by RequestReply when the thread does not end
// in an unanswered user message.
var ErrNothingPending = errors.New("pipeline: no pending user message to answer")

// ErrNotTrailingAssistant is returned by Regenerate when the target message
// is not part of the thread's trailing assistant run.
var ErrNotTrailingAssistant = errors.New("pipeline: message is not part of the latest reply")

// ErrNoMessageID marks an edit/delete against a message that was never
// persisted. This is a logic error in the caller, not a user condition.
var ErrNoMessageID = errors.New("pipeline: message has no persisted id")

// Pipeline wires the store, the context assembler and the LLM client into
// the turn-taking operations the UI invokes.
type Pipeline struct {
	store     *store.Store
	client    llm.Client
	scheduler *Scheduler
	logger    *slog.Logger

	// notifyMu guards notify: auto-reply timer callbacks read it from their
	// own goroutines while the UI may swap it at any time.
	notifyMu sync.RWMutex
	// notify is invoked with the thread ID after every successful write, so
	// the UI can re-read. May be nil.
	notify func(threadID string)
}

// New creates a Pipeline. logger may be nil (the default slog logger is
// used).
func New(s *store.Store, client llm.Client, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		store:     s,
		client:    client,
		scheduler: NewScheduler(),
		logger:    logger,
	}
}

// SetNotifier registers the change callback invoked after every successful
// write. Pass nil to disable. Safe to call while timers are armed.
func (p *Pipeline) SetNotifier(fn func(threadID string)) {
	p.notifyMu.Lock()
	p.notify = fn
	p.notifyMu.Unlock()
}

// Scheduler exposes the auto-reply scheduler for lifecycle management
// (thread switches, unmount).
func (p *Pipeline) Scheduler() *Scheduler {
	return p.scheduler
}

// Shutdown cancels all pending auto-reply timers.
func (p *Pipeline) Shutdown() {
	p.scheduler.CancelAll()
}

// Send validates and persists one user message without requesting a reply,
// then re-arms the contact's auto-reply timer when applicable.
func (p *Pipeline) Send(ctx context.Context, threadID, text string) (*store.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyInput
	}

	msg, err := p.store.AppendMessage(ctx, threadID, store.RoleUser, text)
	if err != nil {
		return nil, err
	}
	p.changed(threadID)

	if err := p.ReconcileAutoReply(ctx, threadID); err != nil {
		p.logger.Warn("auto-reply reconcile failed", "thread_id", threadID, "err", err)
	}
	return msg, nil
}

// SendAndReply persists the user message and immediately requests a reply.
// The returned slice holds the persisted assistant segments.
func (p *Pipeline) SendAndReply(ctx context.Context, threadID, text string) ([]*store.Message, error) {
	if _, err := p.Send(ctx, threadID, text); err != nil {
		return nil, err
	}
	return p.RequestReply(ctx, threadID)
}

// RequestReply answers the thread's pending user input: it assembles the
// bounded context, calls the LLM, splits the completion into sentence
// segments and persists each as a separate assistant message.
//
// Preconditions: the thread must end in an unanswered user message
// (ErrNothingPending) and an API key must be configured (llm.ErrNoAPIKey).
func (p *Pipeline) RequestReply(ctx context.Context, threadID string) ([]*store.Message, error) {
	ctx = trace.WithTurnID(ctx, trace.NewTurnID())
	logger := observability.WithTrace(ctx).With("thread_id", threadID)

	thread, err := p.store.GetThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	contact, err := p.store.GetContact(ctx, thread.ContactID)
	if err != nil {
		return nil, err
	}

	history, err := p.store.ListMessages(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if len(history) == 0 || history[len(history)-1].Role != store.RoleUser {
		return nil, ErrNothingPending
	}

	settings, err := p.loadChatSettings(ctx)
	if err != nil {
		return nil, err
	}
	if settings.APIKey == "" {
		return nil, llm.ErrNoAPIKey
	}

	assembled := prompt.Assemble(contact, settings.Prompt, history, 0)
	logger.Debug("context assembled",
		"messages", len(assembled.Messages),
		"tokens", assembled.TotalTokens,
		"limit", assembled.Limit,
	)

	completion, err := p.client.Complete(ctx, llm.CompletionRequest{
		Model:       settings.Model,
		Messages:    assembled.Messages,
		Temperature: settings.Temperature,
	})
	if err != nil {
		logger.Warn("completion failed",
			"err", observability.RedactSecrets(err.Error(), settings.APIKey))
		return nil, err
	}

	segments := SplitReply(completion)
	persisted := make([]*store.Message, 0, len(segments))
	for _, segment := range segments {
		msg, err := p.store.AppendMessage(ctx, threadID, store.RoleAssistant, segment)
		if err != nil {
			// Mid-batch failure: keep what succeeded, surface the error.
			if len(persisted) > 0 {
				p.changed(threadID)
			}
			return persisted, fmt.Errorf("failed to persist reply segment %d of %d: %w",
				len(persisted)+1, len(segments), err)
		}
		persisted = append(persisted, msg)
	}

	logger.Info("reply persisted", "segments", len(persisted))
	p.changed(threadID)

	// Input has been answered — disarm any pending auto-reply timer.
	p.scheduler.Cancel(threadID)
	return persisted, nil
}

// Regenerate deletes the thread's trailing assistant run (which must contain
// the target message) and re-runs the reply logic against the shortened
// history.
func (p *Pipeline) Regenerate(ctx context.Context, messageID int64) ([]*store.Message, error) {
	if messageID <= 0 {
		return nil, ErrNoMessageID
	}
	msg, err := p.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.Role != store.RoleAssistant {
		return nil, ErrNotTrailingAssistant
	}

	history, err := p.store.ListMessages(ctx, msg.ThreadID)
	if err != nil {
		return nil, err
	}

	// Locate the trailing contiguous assistant run.
	runStart := int64(-1)
	for i := len(history) - 1; i >= 0 && history[i].Role == store.RoleAssistant; i-- {
		runStart = history[i].ID
	}
	if runStart == -1 || messageID < runStart {
		return nil, ErrNotTrailingAssistant
	}

	if err := p.store.DeleteMessagesFrom(ctx, msg.ThreadID, runStart); err != nil {
		return nil, err
	}
	p.changed(msg.ThreadID)

	return p.RequestReply(ctx, msg.ThreadID)
}

// EditMessage replaces a persisted message's content. Editing to empty
// content is rejected.
func (p *Pipeline) EditMessage(ctx context.Context, messageID int64, content string) error {
	if messageID <= 0 {
		return ErrNoMessageID
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return ErrEmptyInput
	}

	msg, err := p.store.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if err := p.store.UpdateMessageContent(ctx, messageID, content); err != nil {
		return err
	}
	p.changed(msg.ThreadID)
	return nil
}

// DeleteMessage removes one persisted message.
func (p *Pipeline) DeleteMessage(ctx context.Context, messageID int64) error {
	if messageID <= 0 {
		return ErrNoMessageID
	}

	msg, err := p.store.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if err := p.store.DeleteMessage(ctx, messageID); err != nil {
		return err
	}
	p.changed(msg.ThreadID)

	if err := p.ReconcileAutoReply(ctx, msg.ThreadID); err != nil {
		p.logger.Warn("auto-reply reconcile failed", "thread_id", msg.ThreadID, "err", err)
	}
	return nil
}

// ReconcileAutoReply arms the thread's auto-reply timer when the contact has
// auto-reply enabled and the thread ends in an unanswered user message, and
// cancels it otherwise. At most one timer is ever outstanding per thread.
func (p *Pipeline) ReconcileAutoReply(ctx context.Context, threadID string) error {
	thread, err := p.store.GetThread(ctx, threadID)
	if err != nil {
		return err
	}
	contact, err := p.store.GetContact(ctx, thread.ContactID)
	if err != nil {
		return err
	}

	last, err := p.store.LastMessage(ctx, threadID)
	if err != nil {
		return err
	}

	if !contact.AutoReply || last == nil || last.Role != store.RoleUser {
		p.scheduler.Cancel(threadID)
		return nil
	}

	delay := NormalizeDelay(int(contact.AutoReplyDelay.Int64))
	p.scheduler.Arm(threadID, time.Duration(delay)*time.Minute, func() {
		// Timer callbacks run outside any caller's lifetime; use a fresh
		// background context so an unmounted UI does not cancel the turn.
		if _, err := p.RequestReply(context.Background(), threadID); err != nil {
			p.logger.Warn("auto-reply failed", "thread_id", threadID, "err", err)
		}
	})
	return nil
}

// chatSettings is the snapshot of global settings one turn reads.
type chatSettings struct {
	APIKey      string
	Model       string
	Temperature float32
	Prompt      prompt.Settings
}

func (p *Pipeline) loadChatSettings(ctx context.Context) (chatSettings, error) {
	var cs chatSettings

	all, err := p.store.AllSettings(ctx)
	if err != nil {
		return cs, err
	}

	cs.APIKey = all[store.SettingAPIKey]
	cs.Model = all[store.SettingModel]
	cs.Prompt = prompt.Settings{
		SystemPrompt: all[store.SettingSystemPrompt],
		UserName:     all[store.SettingUserName],
		UserPersona:  all[store.SettingUserPersona],
		TokenLimit:   prompt.ParseLimit(all[store.SettingTokenLimit]),
	}
	if raw := all[store.SettingTemperature]; raw != "" {
		if f, err := strconv.ParseFloat(raw, 32); err == nil && f >= 0 {
			cs.Temperature = float32(f)
		}
	}
	return cs, nil
}

func (p *Pipeline) changed(threadID string) {
	p.notifyMu.RLock()
	fn := p.notify
	p.notifyMu.RUnlock()
	if fn != nil {
		fn(threadID)
	}
}
