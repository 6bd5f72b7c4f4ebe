package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/newthinker/stratsync/internal/notifier"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RequiresURL(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestWebhook_Name(t *testing.T) {
	w, err := New(Config{URL: "http://example.com/hook"})
	require.NoError(t, err)
	assert.Equal(t, "webhook", w.Name())

	w, err = New(Config{Name: "ops", URL: "http://example.com/hook"})
	require.NoError(t, err)
	assert.Equal(t, "ops", w.Name())
}

func TestWebhook_Notify(t *testing.T) {
	var received payload
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	w, err := New(Config{URL: server.URL, Headers: map[string]string{"Authorization": "Bearer hook"}})
	require.NoError(t, err)

	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	events := []notifier.Event{
		{Type: notifier.EventOptOut, StrategyID: "s1", CombinationName: "Alpha", TradeCount: 25, ProfitFactor: 0.667, At: at},
		{Type: notifier.EventOptOut, StrategyID: "s2", CombinationName: "Gamma", TradeCount: 40, ProfitFactor: 0.5, At: at},
	}
	require.NoError(t, w.Notify(context.Background(), events))

	assert.Equal(t, "Bearer hook", auth)
	assert.Equal(t, 2, received.Count)
	require.Len(t, received.Events, 2)
	assert.Equal(t, "Alpha", received.Events[0].CombinationName)
	assert.True(t, received.Events[0].At.Equal(at))
}

func TestWebhook_NotifyEmpty(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	w, _ := New(Config{URL: server.URL})
	require.NoError(t, w.Notify(context.Background(), nil))
	assert.False(t, called)
}

func TestWebhook_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	w, _ := New(Config{URL: server.URL})
	err := w.Notify(context.Background(), []notifier.Event{{StrategyID: "s1"}})
	assert.ErrorContains(t, err, "server returned 500")
}
