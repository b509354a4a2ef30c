package domain

import (
	"strings"
	"time"
)

const MaxMessageLength = 2000

// Message 用户之间关于某条广告的私信
type Message struct {
	ID         int64
	SenderID   int64
	ReceiverID int64
	AdID       *int64
	Content    string
	IsRead     bool
	CreatedAt  time.Time
}

func NewMessage(senderID, receiverID int64, adID *int64, content string, now time.Time) (*Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, NewValidationError("content", "message must not be empty")
	}
	if len([]rune(content)) > MaxMessageLength {
		return nil, NewValidationError("content", "message is too long")
	}
	if senderID == receiverID {
		return nil, NewValidationError("receiver", "you cannot message yourself")
	}
	return &Message{
		SenderID:   senderID,
		ReceiverID: receiverID,
		AdID:       adID,
		Content:    content,
		CreatedAt:  now,
	}, nil
}
