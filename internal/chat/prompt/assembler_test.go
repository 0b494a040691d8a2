package prompt

import (
	"database/sql"
	"strings"
	"testing"

	"github.com/wjt2018/chromachat/internal/chat/llm"
	"github.com/wjt2018/chromachat/internal/chat/store"
	"github.com/wjt2018/chromachat/internal/chat/token"
)

func testContact() *store.Contact {
	return &store.Contact{
		ID:        "c1",
		Name:      "Aria",
		Persona:   "开朗活泼的旅行者",
		WorldInfo: "现代都市",
	}
}

// history builds alternating user/assistant messages with the given contents.
func history(contents ...string) []*store.Message {
	msgs := make([]*store.Message, len(contents))
	for i, c := range contents {
		role := store.RoleUser
		if i%2 == 1 {
			role = store.RoleAssistant
		}
		msgs[i] = &store.Message{ID: int64(i + 1), ThreadID: "t1", Role: role, Content: c}
	}
	return msgs
}

func TestResolveLimit_Chain(t *testing.T) {
	contact := testContact()

	if got := ResolveLimit(0, contact, 0); got != DefaultLimit {
		t.Errorf("no override, no contact limit: got %d, want %d", got, DefaultLimit)
	}

	if got := ResolveLimit(0, contact, 6000); got != 6000 {
		t.Errorf("global settings limit: got %d, want 6000", got)
	}

	contact.TokenLimit = sql.NullInt64{Int64: 8000, Valid: true}
	if got := ResolveLimit(0, contact, 6000); got != 8000 {
		t.Errorf("contact limit beats the global one: got %d, want 8000", got)
	}

	if got := ResolveLimit(4000, contact, 6000); got != 4000 {
		t.Errorf("explicit override wins: got %d, want 4000", got)
	}

	if got := ResolveLimit(1, contact, 0); got != MinLimit {
		t.Errorf("clamp below MinLimit: got %d, want %d", got, MinLimit)
	}
	if got := ResolveLimit(99_999_999, contact, 0); got != MaxLimit {
		t.Errorf("clamp above MaxLimit: got %d, want %d", got, MaxLimit)
	}

	contact.TokenLimit = sql.NullInt64{Int64: -5, Valid: true}
	if got := ResolveLimit(0, contact, 0); got != DefaultLimit {
		t.Errorf("non-positive contact limit falls through: got %d, want %d", got, DefaultLimit)
	}
}

func TestBuildSystem_Placeholders(t *testing.T) {
	contact := &store.Contact{Name: "Blank"}
	system := BuildSystem(contact, Settings{})

	if !strings.Contains(system, DefaultSystemPrompt) {
		t.Error("default system prompt missing when no global prompt is set")
	}
	if !strings.Contains(system, "Blank") {
		t.Error("contact name missing from system prompt")
	}
	if !strings.Contains(system, "未提供") {
		t.Error("blank fields should render the placeholder")
	}
	if !strings.Contains(system, "用户名称：user") {
		t.Error("user name should fall back to the literal \"user\"")
	}
	if strings.Contains(system, "【长期记忆】") {
		t.Error("long-memory block must be omitted when empty")
	}
}

func TestBuildSystem_LongMemoryAndOverrides(t *testing.T) {
	contact := testContact()
	contact.LongMemory = sql.NullString{String: "我们在春天去过京都。", Valid: true}
	contact.UserName = sql.NullString{String: "小明", Valid: true}

	system := BuildSystem(contact, Settings{
		SystemPrompt: "自定义基础提示",
		UserName:     "全局用户",
		UserPersona:  "全局设定",
	})

	if !strings.Contains(system, "自定义基础提示") {
		t.Error("configured system prompt not used")
	}
	if !strings.Contains(system, "【长期记忆】\n我们在春天去过京都。") {
		t.Error("long-memory block missing or mislabeled")
	}
	if !strings.Contains(system, "用户名称：小明") {
		t.Error("contact-local user name override should win over the global one")
	}
	if !strings.Contains(system, "用户设定：全局设定") {
		t.Error("global user persona should be used when no contact override exists")
	}
}

func TestAssemble_EmptyHistory(t *testing.T) {
	ctx := Assemble(testContact(), Settings{}, nil, 0)

	if len(ctx.Messages) != 1 {
		t.Fatalf("expected only the system message, got %d messages", len(ctx.Messages))
	}
	if ctx.Messages[0].Role != llm.RoleSystem {
		t.Errorf("first message role: got %q, want system", ctx.Messages[0].Role)
	}
	if ctx.TotalTokens != token.EstimateSystem(ctx.Messages[0].Content) {
		t.Errorf("total for empty history should equal the system cost")
	}
}

func TestAssemble_SelectsRecentSuffix(t *testing.T) {
	// Five messages of identical, known cost (400 ASCII chars → 100 tokens
	// content + 4 overhead = 104 each).
	content := strings.Repeat("a", 400)
	msgs := history(content, content, content, content, content)
	contact := testContact()

	cost := token.EstimateMessage(content)
	systemCost := token.EstimateSystem(BuildSystem(contact, Settings{}))

	// Room for exactly two messages plus half of a third.
	limit := systemCost + 2*cost + cost/2
	ctx := Assemble(contact, Settings{}, msgs, limit)

	if got := len(ctx.Messages) - 1; got != 2 {
		t.Fatalf("selected %d messages, want 2", got)
	}
	// Must be the two most recent, in chronological order.
	if ctx.Messages[1].Role != msgs[3].Role || ctx.Messages[2].Role != msgs[4].Role {
		t.Error("selected messages are not the most recent suffix in order")
	}
	if want := systemCost + 2*cost; ctx.TotalTokens != want {
		t.Errorf("TotalTokens: got %d, want %d", ctx.TotalTokens, want)
	}
}

func TestAssemble_ForcedIncludeOverBudget(t *testing.T) {
	// A single message whose cost alone exceeds the minimum budget.
	content := strings.Repeat("a", 4000) // 1000 content tokens + 4 overhead
	msgs := history(content)
	contact := testContact()

	ctx := Assemble(contact, Settings{}, msgs, MinLimit)

	if got := len(ctx.Messages) - 1; got != 1 {
		t.Fatalf("forced include: selected %d messages, want 1", got)
	}
	if ctx.TotalTokens <= ctx.Limit {
		t.Errorf("reported total %d should exceed the limit %d", ctx.TotalTokens, ctx.Limit)
	}
}

func TestAssemble_SuffixProperty(t *testing.T) {
	contents := []string{
		strings.Repeat("x", 800),
		"短消息。",
		strings.Repeat("y", 1200),
		"中等长度的一条消息，包含标点！",
		strings.Repeat("z", 300),
		"最后一条。",
	}
	msgs := history(contents...)
	contact := testContact()

	for limit := MinLimit; limit <= 3000; limit += 100 {
		ctx := Assemble(contact, Settings{}, msgs, limit)
		selected := ctx.Messages[1:]

		// The selection must equal the history suffix of the same length.
		offset := len(msgs) - len(selected)
		for i, m := range selected {
			if m.Content != msgs[offset+i].Content {
				t.Fatalf("limit %d: selection is not a contiguous suffix", limit)
			}
		}
	}
}

func TestAssemble_BudgetMonotonicity(t *testing.T) {
	contents := make([]string, 8)
	for i := range contents {
		contents[i] = strings.Repeat("m", 200*(i+1))
	}
	msgs := history(contents...)
	contact := testContact()

	prev := -1
	for limit := MinLimit; limit <= 5000; limit += 250 {
		ctx := Assemble(contact, Settings{}, msgs, limit)
		count := len(ctx.Messages) - 1
		if count < prev {
			t.Fatalf("raising the limit to %d reduced the selection from %d to %d", limit, prev, count)
		}
		prev = count
	}
}

func TestAssemble_NonEmptyGuarantee(t *testing.T) {
	msgs := history(strings.Repeat("q", 100_000))
	ctx := Assemble(testContact(), Settings{}, msgs, MinLimit)

	nonSystem := 0
	for _, m := range ctx.Messages {
		if m.Role != llm.RoleSystem {
			nonSystem++
		}
	}
	if nonSystem == 0 {
		t.Error("non-empty history must always contribute at least one message")
	}
}

func TestAssemble_GlobalSettingsLimit(t *testing.T) {
	msgs := history(strings.Repeat("g", 4000), strings.Repeat("g", 4000))

	ctx := Assemble(testContact(), Settings{TokenLimit: MinLimit}, msgs, 0)
	if ctx.Limit != MinLimit {
		t.Errorf("global settings limit not applied: got %d, want %d", ctx.Limit, MinLimit)
	}
	if got := len(ctx.Messages) - 1; got != 1 {
		t.Errorf("selected %d messages under the global limit, want 1", got)
	}
}

func TestParseLimit(t *testing.T) {
	cases := map[string]int{
		"":      0,
		"  ":    0,
		"abc":   0,
		"-3":    0,
		"0":     0,
		"12000": 12000,
		" 700 ": 700,
	}
	for in, want := range cases {
		if got := ParseLimit(in); got != want {
			t.Errorf("ParseLimit(%q): got %d, want %d", in, got, want)
		}
	}
}
