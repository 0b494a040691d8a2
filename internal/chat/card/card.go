// Package card implements import and export of contacts as portable JSON
// character cards. Imported cards are validated against an embedded JSON
// schema before any field is read.
package card

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	_ "embed"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/wjt2018/chromachat/internal/chat/store"
)

//go:embed schema.json
var schemaJSON string

// ErrInvalidCard wraps schema and decode failures so callers can distinguish
// a malformed card from storage errors.
var ErrInvalidCard = errors.New("card: invalid character card")

// Version is the card format version this package reads and writes.
const Version = 1

var schema = jsonschema.MustCompileString("card/schema.json", schemaJSON)

// Card is the wire format of an exported character.
type Card struct {
	Version   int        `json:"version"`
	Name      string     `json:"name"`
	Persona   string     `json:"persona,omitempty"`
	WorldInfo string     `json:"world_info,omitempty"`
	Avatar    *Avatar    `json:"avatar,omitempty"`
	User      *UserInfo  `json:"user,omitempty"`
	TokenLim  int64      `json:"token_limit,omitempty"`
	AutoReply *AutoReply `json:"auto_reply,omitempty"`
}

type Avatar struct {
	Color string `json:"color,omitempty"`
	Icon  string `json:"icon,omitempty"`
	URL   string `json:"url,omitempty"`
}

type UserInfo struct {
	Name    string `json:"name,omitempty"`
	Avatar  string `json:"avatar,omitempty"`
	Persona string `json:"persona,omitempty"`
}

type AutoReply struct {
	Enabled      bool `json:"enabled"`
	DelayMinutes int  `json:"delay_minutes,omitempty"`
}

// Import validates raw card JSON and converts it into a Contact ready for
// store.CreateContact. Long memory and ids never travel in a card; the
// returned contact is always new.
func Import(raw []byte) (*store.Contact, error) {
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCard, err)
	}
	if err := schema.Validate(decoded); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCard, err)
	}

	var c Card
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCard, err)
	}
	if strings.TrimSpace(c.Name) == "" {
		return nil, fmt.Errorf("%w: name is blank", ErrInvalidCard)
	}

	contact := &store.Contact{
		Name:      strings.TrimSpace(c.Name),
		Persona:   c.Persona,
		WorldInfo: c.WorldInfo,
	}
	if c.Avatar != nil {
		contact.AvatarColor = c.Avatar.Color
		contact.AvatarIcon = nullString(c.Avatar.Icon)
		contact.AvatarURL = nullString(c.Avatar.URL)
	}
	if c.User != nil {
		contact.UserName = nullString(c.User.Name)
		contact.UserAvatar = nullString(c.User.Avatar)
		contact.UserPersona = nullString(c.User.Persona)
	}
	if c.TokenLim > 0 {
		contact.TokenLimit = sql.NullInt64{Int64: c.TokenLim, Valid: true}
	}
	if c.AutoReply != nil {
		contact.AutoReply = c.AutoReply.Enabled
		if c.AutoReply.DelayMinutes > 0 {
			contact.AutoReplyDelay = sql.NullInt64{Int64: int64(c.AutoReply.DelayMinutes), Valid: true}
		}
	}
	return contact, nil
}

// Export serializes a contact as an indented card. Long memory is deliberately
// excluded: it belongs to one conversation, not the character.
func Export(contact *store.Contact) ([]byte, error) {
	if contact == nil || strings.TrimSpace(contact.Name) == "" {
		return nil, fmt.Errorf("%w: contact has no name", ErrInvalidCard)
	}

	c := Card{
		Version:   Version,
		Name:      contact.Name,
		Persona:   contact.Persona,
		WorldInfo: contact.WorldInfo,
	}
	if contact.AvatarColor != "" || contact.AvatarIcon.Valid || contact.AvatarURL.Valid {
		c.Avatar = &Avatar{
			Color: contact.AvatarColor,
			Icon:  contact.AvatarIcon.String,
			URL:   contact.AvatarURL.String,
		}
	}
	if contact.UserName.Valid || contact.UserAvatar.Valid || contact.UserPersona.Valid {
		c.User = &UserInfo{
			Name:    contact.UserName.String,
			Avatar:  contact.UserAvatar.String,
			Persona: contact.UserPersona.String,
		}
	}
	if contact.TokenLimit.Valid {
		c.TokenLim = contact.TokenLimit.Int64
	}
	if contact.AutoReply || contact.AutoReplyDelay.Valid {
		c.AutoReply = &AutoReply{
			Enabled:      contact.AutoReply,
			DelayMinutes: int(contact.AutoReplyDelay.Int64),
		}
	}

	out, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal card: %w", err)
	}
	return out, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
