// Package model holds the conversation context types and the client for the
// OpenAI-compatible vision-language inference endpoint.
package model

import "fmt"

// Role of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of a run's conversation context. At most one image
// may be attached; the orchestrator strips it once the model has responded
// so the context stays bounded.
type Message struct {
	Role    Role
	Content string
	// ImageBase64 is a base64-encoded PNG, present only on user messages
	// that carry a fresh screenshot.
	ImageBase64 string
}

// SystemMessage builds the system-prompt entry.
func SystemMessage(prompt string) Message {
	return Message{Role: RoleSystem, Content: prompt}
}

// UserMessage builds a user entry, optionally carrying a screenshot.
func UserMessage(text, imageBase64 string) Message {
	return Message{Role: RoleUser, Content: text, ImageBase64: imageBase64}
}

// AssistantMessage builds an assistant entry recording a model turn.
func AssistantMessage(text string) Message {
	return Message{Role: RoleAssistant, Content: text}
}

// StripImage returns the message without its image payload.
func StripImage(m Message) Message {
	m.ImageBase64 = ""
	return m
}

// ScreenInfo renders the screen-state line appended to every user message.
func ScreenInfo(currentApp string) string {
	return fmt.Sprintf("Current App: %s", currentApp)
}
