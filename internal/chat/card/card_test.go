package card

import (
	"database/sql"
	"encoding/json"
	"errors"
	"testing"

	"github.com/wjt2018/chromachat/internal/chat/store"
)

func TestImport_FullCard(t *testing.T) {
	raw := []byte(`{
		"version": 1,
		"name": "Aria",
		"persona": "冷静的图书管理员",
		"world_info": "架空的近未来城市",
		"avatar": {"color": "#3a7bd5", "icon": "book"},
		"user": {"name": "小明", "persona": "好奇的学生"},
		"token_limit": 8000,
		"auto_reply": {"enabled": true, "delay_minutes": 5}
	}`)

	contact, err := Import(raw)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if contact.Name != "Aria" {
		t.Errorf("name: got %q", contact.Name)
	}
	if contact.Persona != "冷静的图书管理员" {
		t.Errorf("persona: got %q", contact.Persona)
	}
	if contact.AvatarColor != "#3a7bd5" {
		t.Errorf("avatar color: got %q", contact.AvatarColor)
	}
	if !contact.AvatarIcon.Valid || contact.AvatarIcon.String != "book" {
		t.Errorf("avatar icon: got %+v", contact.AvatarIcon)
	}
	if !contact.UserName.Valid || contact.UserName.String != "小明" {
		t.Errorf("user name: got %+v", contact.UserName)
	}
	if !contact.TokenLimit.Valid || contact.TokenLimit.Int64 != 8000 {
		t.Errorf("token limit: got %+v", contact.TokenLimit)
	}
	if !contact.AutoReply {
		t.Error("auto reply should be enabled")
	}
	if !contact.AutoReplyDelay.Valid || contact.AutoReplyDelay.Int64 != 5 {
		t.Errorf("auto reply delay: got %+v", contact.AutoReplyDelay)
	}
	if contact.ID != "" {
		t.Errorf("imported contact must not carry an id, got %q", contact.ID)
	}
}

func TestImport_MinimalCard(t *testing.T) {
	contact, err := Import([]byte(`{"version": 1, "name": "Bea"}`))
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if contact.Name != "Bea" {
		t.Errorf("name: got %q", contact.Name)
	}
	if contact.TokenLimit.Valid || contact.AutoReply {
		t.Error("unset optional fields should stay zero")
	}
}

func TestImport_Rejections(t *testing.T) {
	cases := map[string]string{
		"not json":            `{"version": 1,`,
		"missing name":        `{"version": 1}`,
		"empty name":          `{"version": 1, "name": ""}`,
		"wrong version":       `{"version": 2, "name": "X"}`,
		"unknown field":       `{"version": 1, "name": "X", "long_memory": "secret"}`,
		"bad avatar color":    `{"version": 1, "name": "X", "avatar": {"color": "blue"}}`,
		"bad delay":           `{"version": 1, "name": "X", "auto_reply": {"enabled": true, "delay_minutes": 7}}`,
		"token limit too low": `{"version": 1, "name": "X", "token_limit": 100}`,
		"name wrong type":     `{"version": 1, "name": 42}`,
		"array instead":       `[]`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Import([]byte(raw)); !errors.Is(err, ErrInvalidCard) {
				t.Errorf("expected ErrInvalidCard, got %v", err)
			}
		})
	}
}

func TestExport_RoundTrip(t *testing.T) {
	original := &store.Contact{
		ID:             "ignored-on-export",
		Name:           "Aria",
		AvatarColor:    "#3a7bd5",
		Persona:        "冷静的图书管理员",
		WorldInfo:      "架空的近未来城市",
		LongMemory:     sql.NullString{String: "私密记忆", Valid: true},
		UserName:       sql.NullString{String: "小明", Valid: true},
		TokenLimit:     sql.NullInt64{Int64: 8000, Valid: true},
		AutoReply:      true,
		AutoReplyDelay: sql.NullInt64{Int64: 10, Valid: true},
	}

	raw, err := Export(original)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}

	// Long memory never leaves the database.
	var asMap map[string]any
	if err := json.Unmarshal(raw, &asMap); err != nil {
		t.Fatalf("exported card is not valid JSON: %v", err)
	}
	if _, ok := asMap["long_memory"]; ok {
		t.Error("exported card must not contain long memory")
	}
	if asMap["version"] != float64(Version) {
		t.Errorf("version: got %v", asMap["version"])
	}

	// An exported card always re-imports cleanly.
	imported, err := Import(raw)
	if err != nil {
		t.Fatalf("re-import of exported card failed: %v", err)
	}
	if imported.Name != original.Name || imported.Persona != original.Persona {
		t.Errorf("round trip lost fields: %+v", imported)
	}
	if imported.LongMemory.Valid {
		t.Error("round trip must not resurrect long memory")
	}
	if !imported.TokenLimit.Valid || imported.TokenLimit.Int64 != 8000 {
		t.Errorf("token limit after round trip: %+v", imported.TokenLimit)
	}
	if !imported.AutoReply || imported.AutoReplyDelay.Int64 != 10 {
		t.Errorf("auto reply after round trip: enabled=%v delay=%+v",
			imported.AutoReply, imported.AutoReplyDelay)
	}
}

func TestExport_NoName(t *testing.T) {
	if _, err := Export(&store.Contact{}); !errors.Is(err, ErrInvalidCard) {
		t.Errorf("expected ErrInvalidCard, got %v", err)
	}
	if _, err := Export(nil); !errors.Is(err, ErrInvalidCard) {
		t.Errorf("expected ErrInvalidCard for nil, got %v", err)
	}
}
