package model

import (
	"time"

	"github.com/google/uuid"
)

type ConversationID string

// NewConversationID generates a new unique ConversationID
func NewConversationID() ConversationID {
	return ConversationID(uuid.New().String())
}

// Query is a received user message. It is not modified after it is received.
type Query struct {
	ConversationID ConversationID
	Text           string
	ReceivedAt     time.Time
}

// Turn is one query/answer exchange within a conversation
type Turn struct {
	Index     int       `json:"index"`
	Query     string    `json:"query"`
	Domain    Domain    `json:"domain"`
	Answer    string    `json:"answer"`
	CreatedAt time.Time `json:"created_at"`
}

// GroundingContext is the budget-bounded context rendered for one request
type GroundingContext struct {
	Passages []ScoredPassage
	Turns    []Turn
	Text     string
}

// Reply is the answer returned to the inbound request surface
type Reply struct {
	ConversationID ConversationID
	Answer         string
	Domain         Domain
	ErrorCode      ErrorCode
	Sources        []PassageID
	TurnIndex      int
}
