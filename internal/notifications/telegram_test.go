package notifications

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/crypto-risk-engine/internal/safety"
)

func TestTelegramNotifierPostsMessage(t *testing.T) {
	var gotPath, gotChat, gotText string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotPath = r.URL.Path
		gotChat = r.PostForm.Get("chat_id")
		gotText = r.PostForm.Get("text")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewTelegramNotifier("tok", "42", WithBaseURL(srv.URL))
	require.NoError(t, n.SendAlert(context.Background(), LevelWarning, "BTCUSDT risk HIGH"))

	assert.Equal(t, "/bottok/sendMessage", gotPath)
	assert.Equal(t, "42", gotChat)
	assert.Contains(t, gotText, "⚠️")
	assert.Contains(t, gotText, "BTCUSDT risk HIGH")
}

func TestTelegramNotifierRetriesServerErrors(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	fast := safety.Backoff{MaxAttempts: 3, BaseDelay: time.Millisecond, Multiplier: 1}
	n := NewTelegramNotifier("tok", "42", WithBaseURL(srv.URL), WithRetry(fast), WithLogger(zerolog.Nop()))
	require.NoError(t, n.SendAlert(context.Background(), LevelError, "failed"))
	assert.Equal(t, 3, calls)
}

func TestTelegramNotifierRejectsClientErrors(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	n := NewTelegramNotifier("bad", "42", WithBaseURL(srv.URL))
	err := n.SendAlert(context.Background(), LevelInfo, "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
	assert.Equal(t, 1, calls)
}

func TestNewFallsBackToNop(t *testing.T) {
	assert.IsType(t, Nop{}, New(Config{TelegramToken: "tok"}, zerolog.Nop()))
	assert.IsType(t, &TelegramNotifier{}, New(Config{TelegramToken: "tok", TelegramChatID: "1"}, zerolog.Nop()))
	assert.NoError(t, Nop{}.SendAlert(context.Background(), LevelInfo, "x"))
}
