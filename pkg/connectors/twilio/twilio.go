// Package twilio sends SMS and lists messages through the Twilio REST API.
// Requests are form-encoded and authorised with the account SID and auth
// token.
package twilio

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/bturcanu/opentoolbox/pkg/connectors"
	"github.com/bturcanu/opentoolbox/pkg/transport"
)

const DefaultBaseURL = "https://api.twilio.com"

type Config struct {
	BaseURL    string
	AccountSID string
	AuthToken  string
	// From is the sender used when twilio_send_sms omits one.
	From       string
	Headers    map[string]string
	Query      map[string]string
	Timeout    time.Duration
	HTTPClient *http.Client
}

type Connector struct {
	client *transport.Client
	sid    string
	from   string
}

func New(cfg Config) *Connector {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	return &Connector{
		sid:  cfg.AccountSID,
		from: cfg.From,
		client: transport.New(transport.Config{
			Name:       "twilio",
			BaseURL:    cfg.BaseURL,
			APIVersion: "2010-04-01",
			Auth:       transport.Basic(cfg.AccountSID, cfg.AuthToken),
			Headers:    cfg.Headers,
			Query:      cfg.Query,
			Timeout:    cfg.Timeout,
			HTTPClient: cfg.HTTPClient,
			Classifier: classifier,
		}),
	}
}

// classifier: {"code":21211,"message":"The 'To' number ... is not valid.","status":400}
var classifier = transport.ClassifierFunc(func(resp *transport.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	obj := transport.BodyObject(resp.Body)
	e := &transport.Error{StatusCode: resp.StatusCode, Message: transport.MessageFromBody(resp.Body)}
	if code, ok := obj["code"]; ok && code != nil {
		e.Code = fmt.Sprint(code)
	}
	return e
})

func (c *Connector) Name() string { return "twilio" }

func (c *Connector) Operations() []connectors.Operation {
	return []connectors.Operation{
		connectors.SentinelOp(connectors.Operation{
			Name:        "twilio_send_sms",
			Description: "Send an SMS message.",
			Action:      "sending SMS",
			Params: []connectors.Param{
				{Name: "to", Type: connectors.TypeString, Description: "E.164 destination number", Required: true},
				{Name: "body", Type: connectors.TypeString, Required: true},
				{Name: "from", Type: connectors.TypeString, Description: "Sender; defaults to the configured number"},
			},
		}, c.sendSMS),
		connectors.ListOp(connectors.Operation{
			Name:        "twilio_list_messages",
			Description: "List recent messages, optionally filtered by sender or recipient.",
			ReadOnly:    true,
			Params: []connectors.Param{
				{Name: "to", Type: connectors.TypeString},
				{Name: "from", Type: connectors.TypeString},
				{Name: "page_size", Type: connectors.TypeInteger, Range: &connectors.Range{Min: 1, Max: 1000}, Default: 20},
			},
		}, c.listMessages),
	}
}

type Message struct {
	SID          string `json:"sid"`
	Status       string `json:"status"`
	To           string `json:"to"`
	From         string `json:"from"`
	Body         string `json:"body"`
	Direction    string `json:"direction"`
	NumSegments  string `json:"num_segments"`
	Price        string `json:"price"`
	DateCreated  string `json:"date_created"`
	ErrorCode    int    `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

type apiMessage struct {
	SID          string  `json:"sid"`
	Status       string  `json:"status"`
	To           string  `json:"to"`
	From         string  `json:"from"`
	Body         string  `json:"body"`
	Direction    string  `json:"direction"`
	NumSegments  string  `json:"num_segments"`
	Price        *string `json:"price"`
	DateCreated  string  `json:"date_created"`
	ErrorCode    *int    `json:"error_code"`
	ErrorMessage *string `json:"error_message"`
}

func (m apiMessage) toMessage() Message {
	out := Message{
		SID:         m.SID,
		Status:      m.Status,
		To:          m.To,
		From:        m.From,
		Body:        m.Body,
		Direction:   m.Direction,
		NumSegments: m.NumSegments,
		DateCreated: m.DateCreated,
	}
	if m.Price != nil {
		out.Price = *m.Price
	}
	if m.ErrorCode != nil {
		out.ErrorCode = *m.ErrorCode
	}
	if m.ErrorMessage != nil {
		out.ErrorMessage = *m.ErrorMessage
	}
	return out
}

func (c *Connector) messagesPath() string {
	return transport.PathEscape("/2010-04-01/Accounts/%s/Messages.json", c.sid)
}

type sendParams struct {
	To   string `json:"to"`
	Body string `json:"body"`
	From string `json:"from"`
}

func (c *Connector) sendSMS(ctx context.Context, p sendParams) (Message, error) {
	from := p.From
	if from == "" {
		from = c.from
	}
	if from == "" {
		return Message{}, errors.New("from number is required")
	}
	form := url.Values{"To": {p.To}, "From": {from}, "Body": {p.Body}}
	var out apiMessage
	if _, err := c.client.JSON(ctx, transport.Request{Method: http.MethodPost, Path: c.messagesPath(), Form: form}, &out); err != nil {
		return Message{}, err
	}
	return out.toMessage(), nil
}

type listParams struct {
	To       string `json:"to"`
	From     string `json:"from"`
	PageSize int    `json:"page_size"`
}

func (c *Connector) listMessages(ctx context.Context, p listParams) ([]Message, error) {
	q := url.Values{"PageSize": {strconv.Itoa(transport.ClampDefault(p.PageSize, 20, 1, 1000))}}
	if p.To != "" {
		q.Set("To", p.To)
	}
	if p.From != "" {
		q.Set("From", p.From)
	}
	var out struct {
		Messages []apiMessage `json:"messages"`
	}
	if _, err := c.client.JSON(ctx, transport.Request{Path: c.messagesPath(), Query: q}, &out); err != nil {
		return nil, err
	}
	messages := make([]Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		messages = append(messages, m.toMessage())
	}
	return messages, nil
}
