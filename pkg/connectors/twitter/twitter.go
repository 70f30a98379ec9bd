// Package twitter searches, reads and posts tweets with the X (Twitter) API v2.
package twitter

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/bturcanu/opentoolbox/pkg/connectors"
	"github.com/bturcanu/opentoolbox/pkg/transport"
)

const (
	DefaultBaseURL = "https://api.twitter.com"
	tweetFields    = "created_at,author_id,public_metrics"
)

type Config struct {
	BaseURL     string
	BearerToken string
	Headers     map[string]string
	Query       map[string]string
	Timeout     time.Duration
	HTTPClient  *http.Client
}

type Connector struct {
	client *transport.Client
}

func New(cfg Config) *Connector {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	return &Connector{client: transport.New(transport.Config{
		Name:       "twitter",
		BaseURL:    cfg.BaseURL,
		Auth:       transport.Bearer(cfg.BearerToken),
		Headers:    cfg.Headers,
		Query:      cfg.Query,
		Timeout:    cfg.Timeout,
		HTTPClient: cfg.HTTPClient,
		Classifier: transport.Chain(transport.StatusClassifier, partialErrors),
	})}
}

// partialErrors fails a 200 response that carries errors but no data, which
// is how v2 reports a missing or protected tweet.
var partialErrors = transport.ClassifierFunc(func(resp *transport.Response) error {
	obj := transport.BodyObject(resp.Body)
	if obj == nil {
		return nil
	}
	if _, hasData := obj["data"]; hasData {
		return nil
	}
	if list, ok := obj["errors"].([]any); ok && len(list) > 0 {
		return &transport.Error{StatusCode: resp.StatusCode, Message: transport.MessageFromObject(obj)}
	}
	return nil
})

func (c *Connector) Name() string { return "twitter" }

func (c *Connector) Operations() []connectors.Operation {
	return []connectors.Operation{
		connectors.ListOp(connectors.Operation{
			Name:        "twitter_search",
			Description: "Search tweets from the last seven days.",
			ReadOnly:    true,
			Params: []connectors.Param{
				{Name: "query", Type: connectors.TypeString, Description: "Search query", Required: true},
				{Name: "max_results", Type: connectors.TypeInteger, Range: &connectors.Range{Min: 10, Max: 100}, Default: 10},
			},
		}, c.search),
		connectors.SentinelOp(connectors.Operation{
			Name:        "twitter_get_tweet",
			Description: "Get a tweet by ID.",
			Action:      "getting tweet",
			ReadOnly:    true,
			Params: []connectors.Param{
				{Name: "id", Type: connectors.TypeString, Required: true},
			},
		}, c.getTweet),
		connectors.SentinelOp(connectors.Operation{
			Name:        "twitter_post_tweet",
			Description: "Post a tweet, optionally as a reply.",
			Action:      "posting tweet",
			Params: []connectors.Param{
				{Name: "text", Type: connectors.TypeString, Required: true},
				{Name: "reply_to", Type: connectors.TypeString, Description: "Tweet ID to reply to"},
			},
		}, c.postTweet),
	}
}

type Tweet struct {
	ID           string `json:"id"`
	Text         string `json:"text"`
	AuthorID     string `json:"author_id"`
	CreatedAt    string `json:"created_at"`
	RetweetCount int    `json:"retweet_count"`
	ReplyCount   int    `json:"reply_count"`
	LikeCount    int    `json:"like_count"`
	QuoteCount   int    `json:"quote_count"`
}

type apiTweet struct {
	ID            string `json:"id"`
	Text          string `json:"text"`
	AuthorID      string `json:"author_id"`
	CreatedAt     string `json:"created_at"`
	PublicMetrics struct {
		RetweetCount int `json:"retweet_count"`
		ReplyCount   int `json:"reply_count"`
		LikeCount    int `json:"like_count"`
		QuoteCount   int `json:"quote_count"`
	} `json:"public_metrics"`
}

func (t apiTweet) toTweet() Tweet {
	return Tweet{
		ID:           t.ID,
		Text:         t.Text,
		AuthorID:     t.AuthorID,
		CreatedAt:    t.CreatedAt,
		RetweetCount: t.PublicMetrics.RetweetCount,
		ReplyCount:   t.PublicMetrics.ReplyCount,
		LikeCount:    t.PublicMetrics.LikeCount,
		QuoteCount:   t.PublicMetrics.QuoteCount,
	}
}

type searchParams struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

func (c *Connector) search(ctx context.Context, p searchParams) ([]Tweet, error) {
	q := url.Values{}
	q.Set("query", p.Query)
	q.Set("max_results", strconv.Itoa(transport.ClampDefault(p.MaxResults, 10, 10, 100)))
	q.Set("tweet.fields", tweetFields)

	var out struct {
		Data []apiTweet `json:"data"`
	}
	if _, err := c.client.JSON(ctx, transport.Request{Path: "/2/tweets/search/recent", Query: q}, &out); err != nil {
		return nil, err
	}
	tweets := make([]Tweet, 0, len(out.Data))
	for _, t := range out.Data {
		tweets = append(tweets, t.toTweet())
	}
	return tweets, nil
}

type idParams struct {
	ID string `json:"id"`
}

func (c *Connector) getTweet(ctx context.Context, p idParams) (Tweet, error) {
	var out struct {
		Data apiTweet `json:"data"`
	}
	req := transport.Request{
		Path:  transport.PathEscape("/2/tweets/%s", p.ID),
		Query: url.Values{"tweet.fields": {tweetFields}},
	}
	if _, err := c.client.JSON(ctx, req, &out); err != nil {
		return Tweet{}, err
	}
	return out.Data.toTweet(), nil
}

type postParams struct {
	Text    string `json:"text"`
	ReplyTo string `json:"reply_to"`
}

type Posted struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

func (c *Connector) postTweet(ctx context.Context, p postParams) (Posted, error) {
	body := map[string]any{"text": p.Text}
	if p.ReplyTo != "" {
		body["reply"] = map[string]string{"in_reply_to_tweet_id": p.ReplyTo}
	}
	var out struct {
		Data Posted `json:"data"`
	}
	if _, err := c.client.JSON(ctx, transport.Request{Method: http.MethodPost, Path: "/2/tweets", JSON: body}, &out); err != nil {
		return Posted{}, err
	}
	return out.Data, nil
}
