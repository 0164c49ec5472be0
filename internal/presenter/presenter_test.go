package presenter

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pushbridge/internal/eventbus"
	logx "pushbridge/pkg/logx"
)

func TestContentOf(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    Content
	}{
		{name: "envelope", payload: `{"data":{"title":"Hi","body":"there"},"owner":"exp"}`, want: Content{Title: "Hi", Body: "there"}},
		{name: "bare object", payload: `{"title":"Hi","message":"msg"}`, want: Content{Title: "Hi", Body: "msg"}},
		{name: "unknown fields", payload: `{"data":{"x":1}}`, want: Content{Body: `{"x":1}`}},
		{name: "not an object", payload: `"plain"`, want: Content{Body: `"plain"`}},
		{name: "empty", payload: ``, want: Content{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ContentOf(json.RawMessage(tt.payload)))
		})
	}
}

func TestLogPresenterPublishes(t *testing.T) {
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(4)
	defer unsub()

	p := NewLog(logx.NewWriter(io.Discard, "debug"), bus)
	n := Notification{ScheduleID: "s1", Owner: "exp", FiredAt: time.UnixMilli(5000)}
	require.NoError(t, p.Present(context.Background(), n))

	select {
	case e := <-ch:
		assert.Equal(t, EventPresented, e.Type)
		assert.Equal(t, n, e.Data)
	case <-time.After(time.Second):
		t.Fatal("no event published")
	}
}

func TestRateLimitedBoundsWait(t *testing.T) {
	var calls atomic.Int32
	inner := Func(func(ctx context.Context, n Notification) error {
		calls.Add(1)
		return nil
	})
	p := NewRateLimited(inner, 0.001, 1, 20*time.Millisecond)

	require.NoError(t, p.Present(context.Background(), Notification{}))
	err := p.Present(context.Background(), Notification{})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())

	p.SetLimit(1000, 10)
	require.NoError(t, p.Present(context.Background(), Notification{}))
	assert.Equal(t, int32(2), calls.Load())
}

func TestOpenUnlimitedCanBeThrottledLater(t *testing.T) {
	p, err := Open(Config{MaxWait: 20 * time.Millisecond}, logx.Nop(), nil)
	require.NoError(t, err)
	rl := p.(*RateLimited)

	for range 5 {
		require.NoError(t, rl.Present(context.Background(), Notification{}))
	}

	rl.SetLimit(0.001, 1)
	require.NoError(t, rl.Present(context.Background(), Notification{}))
	require.Error(t, rl.Present(context.Background(), Notification{}))
}

func TestTelegramSendsMessage(t *testing.T) {
	var got sendParams
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/sendMessage") {
			http.NotFound(w, r)
			return
		}
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":42,"type":"private"}}}`)
	}))
	defer srv.Close()

	p, err := NewTelegram(TelegramConfig{Token: "123:abc", ChatID: 42, APIURL: srv.URL}, logx.Nop())
	require.NoError(t, err)

	n := Notification{ScheduleID: "s1", Payload: json.RawMessage(`{"data":{"title":"Standup","body":"in 5 minutes"}}`)}
	require.NoError(t, p.Present(context.Background(), n))
	assert.Equal(t, "<b>Standup</b>\nin 5 minutes", got["text"])
	assert.Equal(t, "HTML", got["parse_mode"])
	assert.Equal(t, "42", got["chat_id"])
}

func TestFormatHTML(t *testing.T) {
	assert.Equal(t, "<b>a &lt;b&gt;</b>\nx &amp; y", FormatHTML(Content{Title: "a <b>", Body: "x & y"}))
	assert.Equal(t, "<b>t</b>", FormatHTML(Content{Title: "t"}))
	assert.Equal(t, "(empty notification)", FormatHTML(Content{}))
	assert.Equal(t, "t\nb", FormatText(Content{Title: "t", Body: "b"}))

	long := FormatHTML(Content{Title: "t", Body: strings.Repeat("<", 5000)})
	assert.LessOrEqual(t, utf8.RuneCountInString(long), maxMessageRunes)
	assert.True(t, strings.HasSuffix(long, "…"))
	assert.True(t, strings.HasPrefix(long, "<b>t</b>\n&lt;"))

	assert.Equal(t, "ab…", truncRunes("abc", 2))
	assert.Equal(t, "abc", truncRunes("abc", 3))
}

// sendParams is the flat string map the Bot API client posts as JSON.
type sendParams map[string]string

func TestOpen(t *testing.T) {
	p, err := Open(Config{}, logx.Nop(), nil)
	require.NoError(t, err)
	require.IsType(t, &RateLimited{}, p)
	assert.IsType(t, &Log{}, p.(*RateLimited).Unwrap())

	p, err = Open(Config{RatePerSec: 5}, logx.Nop(), nil)
	require.NoError(t, err)
	assert.IsType(t, &RateLimited{}, p)

	_, err = Open(Config{Driver: "telegram"}, logx.Nop(), nil)
	require.Error(t, err)

	_, err = Open(Config{Driver: "carrier-pigeon"}, logx.Nop(), nil)
	require.Error(t, err)
}
