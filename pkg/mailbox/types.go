package mailbox

import (
	"time"
)

// Message collections kept per role. Insertion order is delivery order.
const (
	CollectionInbox        = "inbox"
	CollectionOutbox       = "outbox"
	CollectionConversation = "conversation"
)

// Question states
const (
	StateCreated  = "created"
	StateAnswered = "answered"
	StateExpired  = "expired"
)

// Message is one entry in a role's ordered collections
type Message struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Content   string    `json:"content"`
	Type      string    `json:"type"`
	Processed bool      `json:"processed"`
}

// Question is a suspension point: a running task emits one and pauses
// until it is answered, expired, or cancelled.
type Question struct {
	ID         string     `json:"id"`
	Timestamp  time.Time  `json:"timestamp"`
	From       string     `json:"from"`
	Text       string     `json:"text"`
	Options    []string   `json:"options,omitempty"`
	Context    string     `json:"context,omitempty"`
	State      string     `json:"state"`
	Answered   bool       `json:"answered"`
	Answer     *string    `json:"answer,omitempty"`
	AnsweredAt *time.Time `json:"answered_at,omitempty"`
}

// RoleStatus is the per-role status record
type RoleStatus struct {
	Name               string    `json:"name"`
	Status             string    `json:"status"`
	Capabilities       []string  `json:"capabilities,omitempty"`
	LastActivity       time.Time `json:"last_activity"`
	WaitingForResponse bool      `json:"waiting_for_response"`
}

// Answer is the outcome a suspended task resumes with
type AnswerResult struct {
	Value   string `json:"value"`
	Expired bool   `json:"expired"`
}
