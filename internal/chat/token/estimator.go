// Package token estimates LLM token costs for prompt budgeting.
//
// The estimator is a character-class heuristic, not a real tokenizer: Latin
// text averages ~4 characters per token on GPT-style vocabularies, while CJK
// tokenizers assign most characters a token of their own. Separators cost a
// little extra on top. Mismatches against any specific tokenizer are expected
// and fine — the counts only drive context-window budgeting, never billing.
package token

import (
	"math"
	"strings"
	"unicode"
)

const (
	// ASCIICharsPerToken is the assumed average number of ASCII characters
	// per token. Heuristic tuning value, no exact derivation.
	ASCIICharsPerToken = 4

	// WhitespaceRunWeight is the fractional token cost charged per maximal
	// run of whitespace.
	WhitespaceRunWeight = 0.3

	// PunctuationWeight is the fractional token cost charged per
	// punctuation or symbol rune.
	PunctuationWeight = 0.2

	// MessageOverhead is the fixed per-message token cost charged by chat
	// APIs for the message envelope (role tag, delimiters).
	MessageOverhead = 4

	// SystemOverhead is the fixed token cost charged for the system prompt
	// envelope.
	SystemOverhead = 12
)

// Estimate returns an approximate token count for text. It returns 0 only
// for empty or whitespace-only input and at least 1 otherwise. The function
// is pure and deterministic.
func Estimate(text string) int {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.TrimSpace(text)
	if text == "" {
		return 0
	}

	var (
		asciiCount int
		cjkCount   int
		punctCount int
		wsRuns     int
		inRun      bool
	)
	for _, r := range text {
		if r < 128 {
			asciiCount++
		} else {
			cjkCount++
		}
		if unicode.IsSpace(r) {
			if !inRun {
				wsRuns++
				inRun = true
			}
		} else {
			inRun = false
		}
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			punctCount++
		}
	}

	total := float64(asciiCount)/ASCIICharsPerToken +
		float64(cjkCount) +
		WhitespaceRunWeight*float64(wsRuns) +
		PunctuationWeight*float64(punctCount)

	n := int(math.Ceil(total))
	if n < 1 {
		n = 1
	}
	return n
}

// EstimateMessage returns the budget cost of one history message: the
// content estimate plus the fixed per-message envelope overhead.
func EstimateMessage(content string) int {
	return Estimate(content) + MessageOverhead
}

// EstimateSystem returns the budget cost of the system prompt: the content
// estimate plus the fixed system envelope overhead.
func EstimateSystem(content string) int {
	return Estimate(content) + SystemOverhead
}

// Usage breaks down the token cost of a full request. The UI consumes this
// for the live token-usage display; recomputing it is side-effect free.
type Usage struct {
	// System is the system prompt cost including SystemOverhead.
	System int
	// PerMessage holds the cost of each history message, in input order,
	// including MessageOverhead.
	PerMessage []int
	// Total is System plus the sum of PerMessage.
	Total int
}

// EstimateConversation computes the cost of a system prompt plus a list of
// message contents.
func EstimateConversation(system string, contents []string) Usage {
	u := Usage{
		System:     EstimateSystem(system),
		PerMessage: make([]int, len(contents)),
	}
	u.Total = u.System
	for i, c := range contents {
		u.PerMessage[i] = EstimateMessage(c)
		u.Total += u.PerMessage[i]
	}
	return u
}
