package adapter

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	tele "gopkg.in/telebot.v4"

	kit "sheetcast/internal/transport"
	logx "sheetcast/pkg/logx"
)

// Adapter is the outbound Telegram client. It never polls for updates.
type Adapter struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot
}

// New validates the token with getMe and returns a ready adapter.
func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  strings.TrimSpace(cfg.Token),
		URL:    strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/"),
		Client: &http.Client{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log, bot: b}
	if b.Me != nil {
		a.log.Info("telegram bot ready", logx.String("username", b.Me.Username))
	}
	return a, nil
}

// chatRecipient addresses a public chat by "@username".
type chatRecipient string

func (c chatRecipient) Recipient() string { return string(c) }

// recipient maps a channel string to a telebot recipient.
// Numeric strings are chat ids; anything else is a username, "@" added if missing.
func recipient(channel string) (tele.Recipient, error) {
	ch := strings.TrimSpace(channel)
	if ch == "" {
		return nil, errors.New("empty channel")
	}
	if id, err := strconv.ParseInt(ch, 10, 64); err == nil {
		return tele.ChatID(id), nil
	}
	if !strings.HasPrefix(ch, "@") {
		ch = "@" + ch
	}
	return chatRecipient(ch), nil
}

const (
	telegramTextLimit    = 4000
	telegramCaptionLimit = 1024
)

// SendImage uploads image as a photo with caption: exactly one message.
// Captions over the photo caption limit are clipped at a line boundary.
func (a *Adapter) SendImage(ctx context.Context, channel string, image []byte, name, caption string) (kit.MessageRef, error) {
	to, err := recipient(channel)
	if err != nil {
		return kit.MessageRef{}, err
	}
	if err := ctx.Err(); err != nil {
		return kit.MessageRef{}, err
	}

	text, clipped := clipCaption(caption, telegramCaptionLimit)
	if clipped {
		a.log.Warn("caption clipped to the photo caption limit",
			logx.String("channel", channel),
			logx.Int("runes", utf8.RuneCountInString(caption)),
			logx.Int("limit", telegramCaptionLimit),
		)
	}

	photo := &tele.Photo{File: tele.FromReader(bytes.NewReader(image)), Caption: text}
	msg, err := a.bot.Send(to, photo)
	if err != nil {
		return kit.MessageRef{}, err
	}
	ref := kit.MessageRef{MessageID: msg.ID}
	if msg.Chat != nil {
		ref.ChatID = msg.Chat.ID
	}
	a.log.Debug("photo sent", logx.String("channel", channel), logx.String("file", name), logx.Int("message_id", msg.ID))
	return ref, nil
}

// clipCaption cuts s to at most limit runes, ending on the last line break in
// the second half of the window when there is one, and marks the cut with "…".
func clipCaption(s string, limit int) (string, bool) {
	rs := []rune(s)
	if len(rs) <= limit {
		return s, false
	}
	cut := limit - 1
	for i := cut - 1; i >= limit/2; i-- {
		if rs[i] == '\n' {
			cut = i
			break
		}
	}
	return strings.TrimRight(string(rs[:cut]), "\n") + "…", true
}

// Pin pins ref silently.
func (a *Adapter) Pin(ctx context.Context, ref kit.MessageRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m := tele.StoredMessage{MessageID: strconv.Itoa(ref.MessageID), ChatID: ref.ChatID}
	return a.bot.Pin(m, tele.Silent)
}

// splitTelegramText splits long messages into chunks that are safe to send to Telegram.
// It prefers newline boundaries and (best-effort) avoids splitting inside HTML tags when ParseMode is HTML.
func splitTelegramText(s string, limit int, parseMode string) []string {
	if limit <= 0 {
		limit = telegramTextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))

		// Prefer splitting on a newline near the end of the window.
		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}

		if strings.EqualFold(parseMode, "HTML") && end < len(rs) {
			lastOpen, lastClose := -1, -1
			for i := start; i < end; i++ {
				switch rs[i] {
				case '<':
					lastOpen = i
				case '>':
					lastClose = i
				}
			}
			if lastOpen > lastClose && lastOpen > start+1 {
				end = lastOpen
			}
		}

		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}

// SendText feeds the operator log sink.
func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	chat := &tele.Chat{ID: to.ChatID}

	var first kit.MessageRef
	for i, chunk := range splitTelegramText(text, telegramTextLimit, opt.ParseMode) {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		msg, err := a.bot.Send(chat, chunk, &tele.SendOptions{
			ParseMode:             opt.ParseMode,
			DisableWebPagePreview: opt.DisablePreview,
			DisableNotification:   opt.Silent,
			ThreadID:              to.ThreadID,
		})
		if err != nil {
			return first, err
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}
		}
	}
	return first, nil
}
