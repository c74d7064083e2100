package services

import "mycobot-backend/internal/models"

// Conversation is a bounded in-memory history for clients that do not keep
// their own, such as a WebSocket connection.
type Conversation struct {
	turns      []models.Turn
	maxRecords int
}

func NewConversation(maxRecords int) *Conversation {
	if maxRecords < 0 {
		maxRecords = 0
	}
	return &Conversation{turns: make([]models.Turn, 0, maxRecords), maxRecords: maxRecords}
}

// Append records a turn, dropping the oldest beyond maxRecords.
func (c *Conversation) Append(user, assistant string) {
	if c.maxRecords == 0 {
		return
	}
	c.turns = append(c.turns, models.Turn{User: user, Assistant: assistant})
	if len(c.turns) > c.maxRecords {
		c.turns = c.turns[len(c.turns)-c.maxRecords:]
	}
}

// History returns a copy of the retained turns, oldest first.
func (c *Conversation) History() []models.Turn {
	out := make([]models.Turn, len(c.turns))
	copy(out, c.turns)
	return out
}
