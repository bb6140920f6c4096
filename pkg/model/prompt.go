package model

import "strings"

type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Message is a single entry of a structured prompt
type Message struct {
	Role Role
	Text string
}

// PromptPayload is the fully rendered request for the completion service
type PromptPayload struct {
	Domain   Domain
	System   string
	Messages []Message
}

// Size returns the number of characters in the payload
func (p *PromptPayload) Size() int {
	n := len([]rune(p.System))
	for _, m := range p.Messages {
		n += len([]rune(m.Text))
	}
	return n
}

// String renders the payload as plain text
func (p *PromptPayload) String() string {
	var b strings.Builder
	b.WriteString(p.System)
	for _, m := range p.Messages {
		b.WriteString("\n\n")
		b.WriteString(string(m.Role))
		b.WriteString(": ")
		b.WriteString(m.Text)
	}
	return b.String()
}
