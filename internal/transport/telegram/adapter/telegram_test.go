package adapter

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	kit "sheetcast/internal/transport"
	logx "sheetcast/pkg/logx"
)

func TestRecipient(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{in: "@science_daily", want: "@science_daily"},
		{in: "science_daily", want: "@science_daily"},
		{in: "-1001234567890", want: "-1001234567890"},
		{in: " 42 ", want: "42"},
	}
	for _, tt := range tests {
		r, err := recipient(tt.in)
		require.NoError(t, err, tt.in)
		require.Equal(t, tt.want, r.Recipient(), tt.in)
	}
	_, err := recipient("  ")
	require.Error(t, err)

	r, _ := recipient("-100")
	_, isID := r.(tele.ChatID)
	require.True(t, isID, "numeric channels use chat ids")
}

func TestSplitTelegramText(t *testing.T) {
	t.Parallel()

	require.Equal(t, []string{"short"}, splitTelegramText("short", 10, ""))

	long := strings.Repeat("a", 8) + "\n" + strings.Repeat("b", 8)
	got := splitTelegramText(long, 10, "")
	require.Equal(t, []string{strings.Repeat("a", 8), strings.Repeat("b", 8)}, got)

	for _, c := range splitTelegramText(strings.Repeat("x", 25), 10, "") {
		require.LessOrEqual(t, len(c), 10)
	}
}

type fakeBotAPI struct {
	mu       sync.Mutex
	methods  []string
	bodies   map[string]string
	failText bool
}

func (f *fakeBotAPI) handler(w http.ResponseWriter, r *http.Request) {
	method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
	body, _ := io.ReadAll(r.Body)

	f.mu.Lock()
	f.methods = append(f.methods, method)
	if f.bodies == nil {
		f.bodies = map[string]string{}
	}
	f.bodies[method] = string(body)
	failText := f.failText
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch method {
	case "getMe":
		_, _ = io.WriteString(w, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"sheetcast","username":"sheetcast_bot"}}`)
	case "sendPhoto":
		_, _ = io.WriteString(w, `{"ok":true,"result":{"message_id":42,"date":1700000000,"chat":{"id":-100123,"type":"channel","title":"c"},"photo":[{"file_id":"f","file_unique_id":"u","width":1,"height":1}]}}`)
	case "sendMessage":
		if failText {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = io.WriteString(w, `{"ok":false,"error_code":429,"description":"Too Many Requests: retry after 5","parameters":{"retry_after":5}}`)
			return
		}
		_, _ = io.WriteString(w, `{"ok":true,"result":{"message_id":42,"date":1700000000,"chat":{"id":-100123,"type":"channel","title":"c"},"text":"t"}}`)
	case "pinChatMessage":
		_, _ = io.WriteString(w, `{"ok":true,"result":true}`)
	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"ok":false,"error_code":404,"description":"Not Found"}`)
	}
}

func (f *fakeBotAPI) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.methods...)
}

func newTestAdapter(t *testing.T) (*Adapter, *fakeBotAPI) {
	t.Helper()

	api := &fakeBotAPI{}
	srv := httptest.NewServer(http.HandlerFunc(api.handler))
	t.Cleanup(srv.Close)

	a, err := New(Config{Token: "123:abc", APIURL: srv.URL}, logx.Nop())
	require.NoError(t, err)
	return a, api
}

func TestSendImageAndPin(t *testing.T) {
	t.Parallel()

	a, api := newTestAdapter(t)
	ctx := context.Background()

	ref, err := a.SendImage(ctx, "@science_daily", []byte("\x89PNG fake"), "monday.png", "Subject: Math")
	require.NoError(t, err)
	require.Equal(t, 42, ref.MessageID)
	require.EqualValues(t, -100123, ref.ChatID)

	require.NoError(t, a.Pin(ctx, ref))
	require.Equal(t, []string{"getMe", "sendPhoto", "pinChatMessage"}, api.calls())

	api.mu.Lock()
	defer api.mu.Unlock()
	require.Contains(t, api.bodies["sendPhoto"], "@science_daily")
	require.Contains(t, api.bodies["sendPhoto"], "Subject: Math")
	require.Contains(t, api.bodies["pinChatMessage"], "42")
}

func TestSendImageLongCaptionIsOneMessage(t *testing.T) {
	t.Parallel()

	a, api := newTestAdapter(t)
	api.mu.Lock()
	api.failText = true
	api.mu.Unlock()
	ctx := context.Background()

	var lines []string
	for i := 0; i < 12; i++ {
		lines = append(lines, fmt.Sprintf("row %02d: %s", i, strings.Repeat("x", 120)))
	}
	caption := strings.Join(lines, "\n")
	require.Greater(t, len(caption), telegramCaptionLimit)

	ref, err := a.SendImage(ctx, "@science_daily", []byte("\x89PNG fake"), "monday.png", caption)
	require.NoError(t, err)
	require.Equal(t, 42, ref.MessageID)
	require.NoError(t, a.Pin(ctx, ref))

	require.Equal(t, []string{"getMe", "sendPhoto", "pinChatMessage"}, api.calls())
	api.mu.Lock()
	defer api.mu.Unlock()
	require.Contains(t, api.bodies["sendPhoto"], "row 00:")
	require.NotContains(t, api.bodies["sendPhoto"], "row 11:")
}

func TestClipCaption(t *testing.T) {
	t.Parallel()

	got, clipped := clipCaption("short", 10)
	require.False(t, clipped)
	require.Equal(t, "short", got)

	got, clipped = clipCaption("aaaaaaa\nbbbbbbb", 10)
	require.True(t, clipped)
	require.Equal(t, "aaaaaaa…", got)

	got, clipped = clipCaption(strings.Repeat("é", 30), 10)
	require.True(t, clipped)
	require.Equal(t, 10, utf8.RuneCountInString(got))
	require.True(t, strings.HasSuffix(got, "…"))
}

func TestSendText(t *testing.T) {
	t.Parallel()

	a, api := newTestAdapter(t)
	ref, err := a.SendText(context.Background(), kit.ChatTarget{ChatID: -100123}, "run failed", nil)
	require.NoError(t, err)
	require.Equal(t, 42, ref.MessageID)
	require.Equal(t, []string{"getMe", "sendMessage"}, api.calls())
}

func TestNewRejectsEmptyToken(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Token: " "}, logx.Nop())
	require.Error(t, err)
}
