// ABOUTME: Conversation data model: messages, image attachments, and persisted records
// ABOUTME: Derived display fields (title, summary, date) are computed, never stored

package conversation

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Role identifies who authored a message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Category records which live experience produced a conversation
type Category string

const (
	CategoryLiveAI        Category = "liveAI"
	CategoryLiveTranslate Category = "liveTranslate"
	CategoryLiveChat      Category = "liveChat"
)

// ParseCategory maps a config string to a Category, defaulting to liveAI
func ParseCategory(s string) Category {
	switch Category(s) {
	case CategoryLiveTranslate, CategoryLiveChat:
		return Category(s)
	default:
		return CategoryLiveAI
	}
}

// DefaultModel is the realtime model recorded on new conversations
const DefaultModel = "qwen3-omni-flash-realtime"

// Attachment references a persisted image. OriginalFileName is empty when only
// the preview variant could be stored.
type Attachment struct {
	ID               string `json:"id"`
	FileName         string `json:"fileName"`
	OriginalFileName string `json:"originalFileName,omitempty"`
}

// FileNames returns every blob file the attachment references
func (a Attachment) FileNames() []string {
	if a.OriginalFileName == "" {
		return []string{a.FileName}
	}
	return []string{a.FileName, a.OriginalFileName}
}

// Message is a single utterance in a conversation
type Message struct {
	ID               string       `json:"id"`
	Role             Role         `json:"role"`
	Content          string       `json:"content"`
	Timestamp        time.Time    `json:"timestamp"`
	ImageAttachments []Attachment `json:"imageAttachments,omitempty"`
}

// NewMessage creates a message with a fresh identity
func NewMessage(role Role, content string) Message {
	return Message{
		ID:        uuid.New().String(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// UnmarshalJSON treats any role other than "user" as assistant
func (m *Message) UnmarshalJSON(data []byte) error {
	type alias Message
	var raw alias
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Role != RoleUser {
		raw.Role = RoleAssistant
	}
	*m = Message(raw)
	return nil
}

// Record is one completed session, oldest message first
type Record struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Messages  []Message `json:"messages"`
	AIModel   string    `json:"aiModel"`
	Language  string    `json:"language"`
	Category  Category  `json:"category"`
}

// NewRecord snapshots messages into a record with a fresh identity
func NewRecord(messages []Message, model, language string, category Category) Record {
	if model == "" {
		model = DefaultModel
	}
	if language == "" {
		language = "zh-CN"
	}
	return Record{
		ID:        uuid.New().String(),
		Timestamp: time.Now(),
		Messages:  append([]Message(nil), messages...),
		AIModel:   model,
		Language:  language,
		Category:  category,
	}
}

// UnmarshalJSON defaults a missing category to liveAI
func (r *Record) UnmarshalJSON(data []byte) error {
	type alias Record
	var raw alias
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Category == "" {
		raw.Category = CategoryLiveAI
	}
	*r = Record(raw)
	return nil
}

// Attachments returns every attachment across all messages
func (r Record) Attachments() []Attachment {
	var out []Attachment
	for _, m := range r.Messages {
		out = append(out, m.ImageAttachments...)
	}
	return out
}

// Title is the first user utterance, truncated
func (r Record) Title() string {
	for _, m := range r.Messages {
		if m.Role == RoleUser {
			return truncate(m.Content, 30)
		}
	}
	return "AI 对话"
}

// Summary is the last message, truncated
func (r Record) Summary() string {
	if len(r.Messages) == 0 {
		return ""
	}
	return truncate(r.Messages[len(r.Messages)-1].Content, 50)
}

// MessageCount returns the number of messages
func (r Record) MessageCount() int {
	return len(r.Messages)
}

// FormattedDate renders the timestamp relative to now
func (r Record) FormattedDate(now time.Time) string {
	ts := r.Timestamp.In(now.Location())
	y1, m1, d1 := ts.Date()
	y2, m2, d2 := now.Date()
	yesterday := now.AddDate(0, 0, -1)
	y3, m3, d3 := yesterday.Date()

	switch {
	case y1 == y2 && m1 == m2 && d1 == d2:
		return "今天 " + ts.Format("15:04")
	case y1 == y3 && m1 == m3 && d1 == d3:
		return "昨天 " + ts.Format("15:04")
	}

	wy1, w1 := ts.ISOWeek()
	wy2, w2 := now.ISOWeek()
	if wy1 == wy2 && w1 == w2 {
		return ts.Format("Monday 15:04")
	}
	return ts.Format("01-02 15:04")
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}

// MovieRecord is the persisted artifact of one single-shot capture-and-analyze run
type MovieRecord struct {
	ID              string      `json:"id"`
	Timestamp       time.Time   `json:"timestamp"`
	Headline        string      `json:"headline"`
	Narration       string      `json:"narration"`
	RawText         string      `json:"rawText"`
	ImageAttachment *Attachment `json:"imageAttachment,omitempty"`
}

// Attachments returns the record's attachment, if any
func (r MovieRecord) Attachments() []Attachment {
	if r.ImageAttachment == nil {
		return nil
	}
	return []Attachment{*r.ImageAttachment}
}
