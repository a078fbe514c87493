package session

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/docker/agentloop/pkg/chat"
)

// Session is a persisted conversation.
type Session struct {
	ID        string         `json:"id"`
	Title     string         `json:"title"`
	CreatedAt time.Time      `json:"created_at"`
	Messages  []chat.Message `json:"messages"`
}

const maxTitleLength = 50

// Summary describes a session without loading its messages.
type Summary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"created_at"`
	MessageCount int       `json:"message_count"`
	InputTokens  int64     `json:"input_tokens"`
	OutputTokens int64     `json:"output_tokens"`
}

type Opt func(*Session)

func WithID(id string) Opt {
	return func(s *Session) {
		s.ID = id
	}
}

func WithTitle(title string) Opt {
	return func(s *Session) {
		s.Title = title
	}
}

func WithMessages(msgs ...chat.Message) Opt {
	return func(s *Session) {
		s.Messages = append(s.Messages, msgs...)
	}
}

func New(opts ...Opt) *Session {
	s := &Session{
		ID:        uuid.NewString(),
		CreatedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Usage sums the token usage of every assistant message.
func (s *Session) Usage() chat.Usage {
	var total chat.Usage
	for i := range s.Messages {
		total.Add(s.Messages[i].Usage)
	}
	return total
}

// Summary returns the summary of s.
func (s *Session) Summary() Summary {
	usage := s.Usage()
	return Summary{
		ID:           s.ID,
		Title:        s.Title,
		CreatedAt:    s.CreatedAt,
		MessageCount: len(s.Messages),
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
	}
}

// TitleFrom derives a session title from the first line of a message.
func TitleFrom(message string) string {
	title, _, _ := strings.Cut(strings.TrimSpace(message), "\n")
	if r := []rune(title); len(r) > maxTitleLength {
		title = string(r[:maxTitleLength]) + "..."
	}
	return title
}
