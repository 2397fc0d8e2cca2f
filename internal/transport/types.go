package transport

import "context"

// ChatTarget addresses a chat (and optional forum topic) by numeric id.
type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

// MessageRef identifies a delivered message.
type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	Silent         bool
}

// TextSender is the minimal port used by the log sink.
type TextSender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}
