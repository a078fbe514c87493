package api

import (
	"time"

	"github.com/docker/agentloop/pkg/chat"
	"github.com/docker/agentloop/pkg/session"
	"github.com/docker/agentloop/pkg/stream"
)

// RunRequest starts a run on a session with a new user message.
type RunRequest struct {
	Message string `json:"message"`
	// Title names the session when the run creates it.
	Title string `json:"title,omitempty"`
}

// SessionsResponse lists stored sessions, newest first.
type SessionsResponse struct {
	Sessions []session.Summary `json:"sessions"`
}

// SessionResponse is one page of a session's messages.
type SessionResponse struct {
	ID           string             `json:"id"`
	Title        string             `json:"title"`
	CreatedAt    time.Time          `json:"created_at"`
	Messages     []chat.Message     `json:"messages"`
	InputTokens  int64              `json:"input_tokens"`
	OutputTokens int64              `json:"output_tokens"`
	Pagination   PaginationMetadata `json:"pagination"`
	// Streaming is the assistant message being generated, if a run is in
	// progress.
	Streaming *stream.StreamingState `json:"streaming,omitempty"`
}

type PaginationMetadata struct {
	TotalMessages int    `json:"total_messages"`
	Limit         int    `json:"limit"`
	PrevCursor    string `json:"prev_cursor,omitempty"`
}

// WSRequest is a run request sent over the WebSocket.
type WSRequest struct {
	SessionID string `json:"session_id"`
	RunRequest
}

// WSEvent wraps an event pushed over the WebSocket.
type WSEvent struct {
	SessionID string `json:"session_id"`
	Event     any    `json:"event"`
}
