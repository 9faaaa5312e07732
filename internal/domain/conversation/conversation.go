// Package conversation defines chats, their messages and the normalized
// turn request produced by request validation.
package conversation

import (
	"strings"
	"time"
	"unicode/utf8"
)

// Visibility controls who may read a conversation.
type Visibility string

const (
	VisibilityPrivate Visibility = "private"
	VisibilityPublic  Visibility = "public"
)

// Conversation is a chat thread owned by one identity.
type Conversation struct {
	ID         string     `json:"id"`
	OwnerID    string     `json:"owner_id"`
	Title      string     `json:"title"`
	Visibility Visibility `json:"visibility"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// OwnedBy reports whether userID owns the conversation.
func (c *Conversation) OwnedBy(userID string) bool {
	return c.OwnerID != "" && c.OwnerID == userID
}

// ReadableBy reports whether userID may read or resume the conversation.
func (c *Conversation) ReadableBy(userID string) bool {
	return c.OwnedBy(userID) || c.Visibility == VisibilityPublic
}

// StreamSession is a durable pointer to the event stream of one turn.
type StreamSession struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	CreatedAt      time.Time `json:"created_at"`
}

const maxTitleRunes = 80

// TitleFrom derives a conversation title from the first user message:
// its first non-empty text line, cut to a bounded number of runes.
func TitleFrom(m Message) string {
	for _, p := range m.Parts {
		if p.Type != PartText {
			continue
		}
		for _, line := range strings.Split(p.Text, "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if utf8.RuneCountInString(line) > maxTitleRunes {
				r := []rune(line)
				line = strings.TrimSpace(string(r[:maxTitleRunes])) + "…"
			}
			return line
		}
	}
	return "New chat"
}
