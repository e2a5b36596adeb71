package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookPostsPayload(t *testing.T) {
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewWebhook(srv.URL, time.Second)
	require.NoError(t, n.Send(context.Background(), "alice", "🔻 ETH is below 3000 USD! (Current: 2990)"))
	assert.Equal(t, "alice", got.Recipient)
	assert.Equal(t, "🔻 ETH is below 3000 USD! (Current: 2990)", got.Text)
	assert.False(t, got.SentAt.IsZero())
}

func TestWebhookSurfacesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhook(srv.URL, time.Second).Send(context.Background(), "alice", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestLogNeverFails(t *testing.T) {
	assert.NoError(t, NewLog(nil).Send(context.Background(), "alice", "x"))
}
