// Package publish delivers a composed message to a channel and pins it.
package publish

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"sheetcast/internal/post"
	kit "sheetcast/internal/transport"
	"sheetcast/pkg/logx"
)

// Messenger is the outbound messaging service.
type Messenger interface {
	SendImage(ctx context.Context, channel string, image []byte, name, caption string) (kit.MessageRef, error)
	Pin(ctx context.Context, ref kit.MessageRef) error
}

type Publisher struct {
	msg Messenger
	log logx.Logger
}

func New(m Messenger, log logx.Logger) *Publisher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Publisher{msg: m, log: log}
}

// Publish sends msg to dest.Channel once and pins it. Nothing is retried.
//
// A pin failure leaves the post delivered: the outcome is a degraded success
// with Kind PIN_FAILED.
func (p *Publisher) Publish(ctx context.Context, dest post.Destination, msg post.Message) post.Outcome {
	out := post.Outcome{Destination: dest}

	image, err := os.ReadFile(msg.ImagePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			err = fmt.Errorf("image %s not found: %w", msg.ImagePath, err)
		}
		return fail(out, post.E(post.KindAssetNotFound, "read image", dest.Source, err))
	}

	ref, err := p.msg.SendImage(ctx, dest.Channel, image, filepath.Base(msg.ImagePath), msg.Caption)
	if err != nil {
		return fail(out, post.E(post.KindDeliveryFailed, "send", dest.Source, err))
	}
	out.MessageID = ref.MessageID
	out.Success = true

	if err := p.msg.Pin(ctx, ref); err != nil {
		perr := post.E(post.KindPinFailed, "pin", dest.Source, err)
		p.log.Warn("message sent but pin failed",
			logx.String("source", dest.Source),
			logx.String("channel", dest.Channel),
			logx.Int("message_id", ref.MessageID),
			logx.Err(err),
		)
		out.Degraded = true
		out.Kind = post.KindPinFailed
		out.Err = perr.Error()
	}
	return out
}

func fail(out post.Outcome, err *post.Error) post.Outcome {
	out.Success = false
	out.Kind = err.Kind
	out.Err = err.Error()
	return out
}
