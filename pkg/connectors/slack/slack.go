// Package slack posts messages and lists channels through the Slack Web API.
// Slack reports most failures as HTTP 200 with {"ok":false,"error":"..."}.
package slack

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/bturcanu/opentoolbox/pkg/connectors"
	"github.com/bturcanu/opentoolbox/pkg/transport"
)

const DefaultBaseURL = "https://slack.com/api"

type Config struct {
	BaseURL    string
	BotToken   string
	Headers    map[string]string
	Query      map[string]string
	Timeout    time.Duration
	HTTPClient *http.Client
}

type Connector struct {
	client *transport.Client
}

func New(cfg Config) *Connector {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	return &Connector{client: transport.New(transport.Config{
		Name:       "slack",
		BaseURL:    cfg.BaseURL,
		Auth:       transport.Bearer(cfg.BotToken),
		Headers:    cfg.Headers,
		Query:      cfg.Query,
		Timeout:    cfg.Timeout,
		HTTPClient: cfg.HTTPClient,
		Classifier: transport.Chain(transport.StatusClassifier, okFalse),
	})}
}

var okFalse = transport.ClassifierFunc(func(resp *transport.Response) error {
	obj := transport.BodyObject(resp.Body)
	if ok, _ := obj["ok"].(bool); ok {
		return nil
	}
	code := transport.String(obj, "error")
	return &transport.Error{StatusCode: resp.StatusCode, Code: code, Message: code}
})

func (c *Connector) Name() string { return "slack" }

func (c *Connector) Operations() []connectors.Operation {
	return []connectors.Operation{
		connectors.SentinelOp(connectors.Operation{
			Name:        "slack_post_message",
			Description: "Post a message to a channel, optionally as a thread reply.",
			Action:      "posting message",
			Params: []connectors.Param{
				{Name: "channel", Type: connectors.TypeString, Description: "Channel ID or name", Required: true},
				{Name: "text", Type: connectors.TypeString, Required: true},
				{Name: "thread_ts", Type: connectors.TypeString, Description: "Parent message ts to reply in a thread"},
			},
		}, c.postMessage),
		connectors.ListOp(connectors.Operation{
			Name:        "slack_list_channels",
			Description: "List public and private channels the bot can see.",
			ReadOnly:    true,
			Params: []connectors.Param{
				{Name: "limit", Type: connectors.TypeInteger, Range: &connectors.Range{Min: 1, Max: 1000}, Default: 100},
			},
		}, c.listChannels),
	}
}

type postParams struct {
	Channel  string `json:"channel"`
	Text     string `json:"text"`
	ThreadTS string `json:"thread_ts"`
}

type PostedMessage struct {
	Channel  string `json:"channel"`
	TS       string `json:"ts"`
	ThreadTS string `json:"thread_ts"`
	Text     string `json:"text"`
}

func (c *Connector) postMessage(ctx context.Context, p postParams) (PostedMessage, error) {
	body := map[string]string{"channel": p.Channel, "text": p.Text}
	if p.ThreadTS != "" {
		body["thread_ts"] = p.ThreadTS
	}
	var out struct {
		Channel string `json:"channel"`
		TS      string `json:"ts"`
		Message struct {
			Text     string `json:"text"`
			ThreadTS string `json:"thread_ts"`
		} `json:"message"`
	}
	req := transport.Request{Method: http.MethodPost, Path: "/chat.postMessage", JSON: body}
	if _, err := c.client.JSON(ctx, req, &out); err != nil {
		return PostedMessage{}, err
	}
	return PostedMessage{Channel: out.Channel, TS: out.TS, ThreadTS: out.Message.ThreadTS, Text: out.Message.Text}, nil
}

type Channel struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	IsPrivate  bool   `json:"is_private"`
	IsArchived bool   `json:"is_archived"`
	NumMembers int    `json:"num_members"`
	Topic      string `json:"topic"`
	Purpose    string `json:"purpose"`
}

type listParams struct {
	Limit int `json:"limit"`
}

func (c *Connector) listChannels(ctx context.Context, p listParams) ([]Channel, error) {
	q := url.Values{
		"limit":            {strconv.Itoa(transport.ClampDefault(p.Limit, 100, 1, 1000))},
		"exclude_archived": {"true"},
		"types":            {"public_channel,private_channel"},
	}
	var out struct {
		Channels []struct {
			ID         string `json:"id"`
			Name       string `json:"name"`
			IsPrivate  bool   `json:"is_private"`
			IsArchived bool   `json:"is_archived"`
			NumMembers int    `json:"num_members"`
			Topic      struct {
				Value string `json:"value"`
			} `json:"topic"`
			Purpose struct {
				Value string `json:"value"`
			} `json:"purpose"`
		} `json:"channels"`
	}
	if _, err := c.client.JSON(ctx, transport.Request{Path: "/conversations.list", Query: q}, &out); err != nil {
		return nil, err
	}
	channels := make([]Channel, 0, len(out.Channels))
	for _, ch := range out.Channels {
		channels = append(channels, Channel{
			ID:         ch.ID,
			Name:       ch.Name,
			IsPrivate:  ch.IsPrivate,
			IsArchived: ch.IsArchived,
			NumMembers: ch.NumMembers,
			Topic:      ch.Topic.Value,
			Purpose:    ch.Purpose.Value,
		})
	}
	return channels, nil
}
