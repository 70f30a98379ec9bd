package twitter

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bturcanu/opentoolbox/pkg/connectors/connectortest"
)

func newTestConnector(t *testing.T, h http.HandlerFunc) *Connector {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL, BearerToken: "AAA"})
}

func TestContract(t *testing.T) {
	connectortest.RunOperationContract(t, New(Config{BaseURL: connectortest.DeadURL(t)}))
}

func TestSearch_MapsMetrics(t *testing.T) {
	c := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/2/tweets/search/recent", r.URL.Path)
		assert.Equal(t, "golang", r.URL.Query().Get("query"))
		assert.Equal(t, "10", r.URL.Query().Get("max_results"))
		assert.Equal(t, "Bearer AAA", r.Header.Get("Authorization"))
		w.Write([]byte(`{"data":[
			{"id":"1","text":"hi","author_id":"9","created_at":"2024-01-01T00:00:00.000Z","public_metrics":{"retweet_count":1,"reply_count":2,"like_count":3,"quote_count":4}},
			{"id":"2","text":"bare"}
		]}`))
	})
	res := connectortest.Invoke(t, c, "twitter_search", map[string]any{"query": "golang", "max_results": 3})
	require.True(t, res.OK(), res.Error)
	assert.Equal(t, []Tweet{
		{ID: "1", Text: "hi", AuthorID: "9", CreatedAt: "2024-01-01T00:00:00.000Z", RetweetCount: 1, ReplyCount: 2, LikeCount: 3, QuoteCount: 4},
		{ID: "2", Text: "bare"},
	}, res.Output)
}

func TestSearch_NoResults(t *testing.T) {
	c := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"meta":{"result_count":0}}`))
	})
	res := connectortest.Invoke(t, c, "twitter_search", map[string]string{"query": "zzz"})
	require.True(t, res.OK(), res.Error)
	assert.Equal(t, "[]", string(res.OutputJSON()))
}

func TestSearch_TransportFailureIsEmpty(t *testing.T) {
	c := New(Config{BaseURL: connectortest.DeadURL(t)})
	res := connectortest.Invoke(t, c, "twitter_search", map[string]string{"query": "x"})
	assert.False(t, res.OK())
	assert.Equal(t, []Tweet{}, res.Output)
}

func TestGetTweet_ErrorsOn200(t *testing.T) {
	c := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/2/tweets/123", r.URL.Path)
		w.Write([]byte(`{"errors":[{"value":"123","detail":"Could not find tweet with id: [123].","title":"Not Found Error"}]}`))
	})
	res := connectortest.Invoke(t, c, "twitter_get_tweet", map[string]string{"id": "123"})
	assert.Equal(t, "Error getting tweet: Could not find tweet with id: [123].", res.Output)
}

func TestPostTweet_Reply(t *testing.T) {
	c := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "hello", body["text"])
		assert.Equal(t, map[string]any{"in_reply_to_tweet_id": "5"}, body["reply"])
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"data":{"id":"6","text":"hello"}}`))
	})
	res := connectortest.Invoke(t, c, "twitter_post_tweet", map[string]string{"text": "hello", "reply_to": "5"})
	assert.Equal(t, Posted{ID: "6", Text: "hello"}, res.Output)
}

func TestPostTweet_Unauthorized(t *testing.T) {
	c := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"title":"Unauthorized","type":"about:blank","status":401,"detail":"Unauthorized"}`))
	})
	res := connectortest.Invoke(t, c, "twitter_post_tweet", map[string]string{"text": "x"})
	assert.Equal(t, "Error posting tweet: Unauthorized", res.Output)
}
