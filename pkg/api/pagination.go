package api

import (
	"fmt"
	"time"

	"github.com/docker/agentloop/pkg/chat"
)

type PaginationParams struct {
	Limit  int
	Before string
}

const DefaultLimit = 50

const MaxLimit = 200

// PaginateMessages returns the newest page of messages older than the
// Before cursor. Pages are walked from the end of the conversation.
func PaginateMessages(messages []chat.Message, params PaginationParams) ([]chat.Message, *PaginationMetadata, error) {
	totalCount := len(messages)

	limit := params.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	limit = min(limit, MaxLimit)

	endIdx := totalCount
	if params.Before != "" {
		cursor, err := DecodeCursor(params.Before)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid before cursor: %w", err)
		}
		if cursor.Index < 0 || cursor.Index > totalCount {
			return nil, nil, fmt.Errorf("invalid before cursor: index %d out of range", cursor.Index)
		}
		endIdx = cursor.Index
	}

	startIdx := max(endIdx-limit, 0)
	page := messages[startIdx:endIdx]

	metadata := &PaginationMetadata{
		TotalMessages: totalCount,
		Limit:         len(page),
	}

	// Only set cursor if there are more (older) messages available
	if len(page) > 0 && startIdx > 0 {
		cursor, err := EncodeCursor(MessageCursor{
			Timestamp: messages[startIdx].CreatedAt.Format(time.RFC3339),
			Index:     startIdx,
		})
		if err != nil {
			return nil, nil, err
		}
		metadata.PrevCursor = cursor
	}

	return page, metadata, nil
}
