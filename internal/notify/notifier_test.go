package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTelegramNotifierSendsSummary(t *testing.T) {
	var (
		path     string
		received map[string]string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL+"/", time.Second, zerolog.Nop())
	note := Notification{
		Report:     "daily_burn_rate",
		Path:       "out/daily_burn_rate_2025-01-11_05-00-00.json",
		Network:    "mainnet",
		Highlights: []string{"total burned: 12.5 LAVA"},
		Partial:    true,
		FinishedAt: time.Date(2025, 1, 11, 5, 0, 0, 0, time.UTC),
	}
	require.NoError(t, notifier.Notify(context.Background(), note))

	assert.Equal(t, "/bottoken/sendMessage", path)
	assert.Equal(t, "chat", received["chat_id"])
	text := received["text"]
	assert.Contains(t, text, "[lava report] mainnet daily_burn_rate")
	assert.Contains(t, text, "Finished: 2025-01-11T05:00:00Z UTC")
	assert.Contains(t, text, "partial")
	assert.Contains(t, text, "- total burned: 12.5 LAVA")
	assert.Contains(t, text, "File: out/daily_burn_rate_2025-01-11_05-00-00.json")
}

func TestTelegramNotifierErrors(t *testing.T) {
	rejected := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "description": "chat not found"})
	}))
	defer rejected.Close()
	err := NewTelegramNotifier("token", "chat", rejected.URL, time.Second, zerolog.Nop()).
		Notify(context.Background(), Notification{Report: "blocks"})
	assert.ErrorContains(t, err, "chat not found")

	unauthorized := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer unauthorized.Close()
	err = NewTelegramNotifier("token", "chat", unauthorized.URL, time.Second, zerolog.Nop()).
		Notify(context.Background(), Notification{Report: "blocks"})
	assert.ErrorContains(t, err, "status 401")
}

func TestRenderMinimal(t *testing.T) {
	text := Render(Notification{Report: "blocks", Network: "testnet"})
	assert.Equal(t, "[lava report] testnet blocks\n", text)
}
