// Package searchapi runs web searches through searchapi.io.
package searchapi

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
	DefaultBaseURL = "https://www.searchapi.io"
	DefaultEngine  = "google"
)

type Config struct {
	BaseURL    string
	APIKey     string
	Engine     string
	Headers    map[string]string
	Query      map[string]string // e.g. {"gl":"us"} applied to every search
	Timeout    time.Duration
	HTTPClient *http.Client
}

type Connector struct {
	client *transport.Client
	engine string
}

func New(cfg Config) *Connector {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Engine == "" {
		cfg.Engine = DefaultEngine
	}
	return &Connector{
		engine: cfg.Engine,
		client: transport.New(transport.Config{
			Name:       "searchapi",
			BaseURL:    cfg.BaseURL,
			Auth:       transport.QueryKey("api_key", cfg.APIKey),
			Headers:    cfg.Headers,
			Query:      cfg.Query,
			Timeout:    cfg.Timeout,
			HTTPClient: cfg.HTTPClient,
			Classifier: classifier,
		}),
	}
}

// classifier: searchapi returns {"error":"..."} with either a 4xx or a 200.
var classifier = transport.ClassifierFunc(func(resp *transport.Response) error {
	obj := transport.BodyObject(resp.Body)
	if msg, ok := obj["error"].(string); ok && msg != "" {
		return &transport.Error{StatusCode: resp.StatusCode, Message: msg}
	}
	return transport.StatusClassifier(resp)
})

func (c *Connector) Name() string { return "searchapi" }

func (c *Connector) Operations() []connectors.Operation {
	return []connectors.Operation{
		connectors.ListOp(connectors.Operation{
			Name:        "searchapi_search",
			Description: "Search the web and return organic results.",
			ReadOnly:    true,
			Params: []connectors.Param{
				{Name: "q", Type: connectors.TypeString, Description: "Search query", Required: true},
				{Name: "num", Type: connectors.TypeInteger, Description: "Number of results", Range: &connectors.Range{Min: 1, Max: 100}, Default: 10},
				{Name: "engine", Type: connectors.TypeString, Default: DefaultEngine},
				{Name: "location", Type: connectors.TypeString},
				{Name: "gl", Type: connectors.TypeString, Description: "Country code"},
				{Name: "hl", Type: connectors.TypeString, Description: "Interface language"},
			},
		}, c.search),
	}
}

type searchParams struct {
	Q        string `json:"q"`
	Num      int    `json:"num"`
	Engine   string `json:"engine"`
	Location string `json:"location"`
	GL       string `json:"gl"`
	HL       string `json:"hl"`
}

type Result struct {
	Position int    `json:"position"`
	Title    string `json:"title"`
	Link     string `json:"link"`
	Snippet  string `json:"snippet"`
	Source   string `json:"source"`
	Date     string `json:"date"`
}

func (c *Connector) search(ctx context.Context, p searchParams) ([]Result, error) {
	engine := p.Engine
	if engine == "" {
		engine = c.engine
	}
	q := url.Values{}
	q.Set("engine", engine)
	q.Set("q", p.Q)
	q.Set("num", strconv.Itoa(transport.ClampDefault(p.Num, 10, 1, 100)))
	for k, v := range map[string]string{"location": p.Location, "gl": p.GL, "hl": p.HL} {
		if v != "" {
			q.Set(k, v)
		}
	}

	var out struct {
		OrganicResults []Result `json:"organic_results"`
	}
	if _, err := c.client.JSON(ctx, transport.Request{Path: "/api/v1/search", Query: q}, &out); err != nil {
		return nil, err
	}
	return out.OrganicResults, nil
}
