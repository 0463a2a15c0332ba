package domain

import "time"

// Conversation is a chat history root: a sequence of Messages in
// chronological order, optionally pinned to a model.
type Conversation struct {
	ID           int64
	Title        string
	SystemPrompt *string
	ModelID      *int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Message is a single turn within a Conversation. Deleting a message
// deletes every chronologically-later message in the same conversation
// (enforced by the repository, not by this type).
type Message struct {
	ID             int64
	ConversationID int64
	Role           string // "system" | "user" | "assistant" | "tool"
	Content        string
	ToolCallsJSON  *string
	Position       int
}
