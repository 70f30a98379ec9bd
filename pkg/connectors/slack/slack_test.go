package slack

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bturcanu/opentoolbox/pkg/connectors/connectortest"
	"github.com/bturcanu/opentoolbox/pkg/types"
)

func newTestConnector(t *testing.T, h http.HandlerFunc) *Connector {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL, BotToken: "xoxb-1"})
}

func TestContract(t *testing.T) {
	connectortest.RunOperationContract(t, New(Config{BaseURL: connectortest.DeadURL(t)}))
}

func TestPostMessage(t *testing.T) {
	c := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat.postMessage", r.URL.Path)
		assert.Equal(t, "Bearer xoxb-1", r.Header.Get("Authorization"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, map[string]string{"channel": "C1", "text": "deploy done", "thread_ts": "1.2"}, body)
		w.Write([]byte(`{"ok":true,"channel":"C1","ts":"1.3","message":{"text":"deploy done","thread_ts":"1.2"}}`))
	})
	res := connectortest.Invoke(t, c, "slack_post_message", map[string]string{"channel": "C1", "text": "deploy done", "thread_ts": "1.2"})
	require.True(t, res.OK(), res.Error)
	assert.Equal(t, PostedMessage{Channel: "C1", TS: "1.3", ThreadTS: "1.2", Text: "deploy done"}, res.Output)
}

func TestPostMessage_OkFalseOn200(t *testing.T) {
	c := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":false,"error":"channel_not_found"}`))
	})
	res := connectortest.Invoke(t, c, "slack_post_message", map[string]string{"channel": "C404", "text": "x"})
	assert.Equal(t, types.StatusError, res.Status)
	assert.Equal(t, "Error posting message: channel_not_found", res.Output)
}

func TestPostMessage_OkFalseWithoutError(t *testing.T) {
	c := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":false}`))
	})
	res := connectortest.Invoke(t, c, "slack_post_message", map[string]string{"channel": "C1", "text": "x"})
	assert.Equal(t, "Error posting message: Unknown error", res.Output)
}

func TestListChannels(t *testing.T) {
	c := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/conversations.list", r.URL.Path)
		assert.Equal(t, "100", r.URL.Query().Get("limit"))
		w.Write([]byte(`{"ok":true,"channels":[{"id":"C1","name":"ops","is_private":false,"num_members":12,"topic":{"value":"incidents"},"purpose":{"value":""}}]}`))
	})
	res := connectortest.Invoke(t, c, "slack_list_channels", nil)
	require.True(t, res.OK(), res.Error)
	assert.Equal(t, []Channel{{ID: "C1", Name: "ops", NumMembers: 12, Topic: "incidents"}}, res.Output)
}

func TestListChannels_RateLimited(t *testing.T) {
	c := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"ok":false,"error":"ratelimited"}`))
	})
	res := connectortest.Invoke(t, c, "slack_list_channels", map[string]int{"limit": 5})
	assert.Equal(t, "ratelimited", res.Error)
	assert.Equal(t, []Channel{}, res.Output)
}
