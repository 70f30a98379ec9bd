// Package stripe exposes payment intents, customers and refunds from the
// Stripe REST API. Requests are form-encoded; errors arrive as
// {"error":{"type","code","message"}}.
package stripe

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/bturcanu/opentoolbox/pkg/connectors"
	"github.com/bturcanu/opentoolbox/pkg/transport"
)

const DefaultBaseURL = "https://api.stripe.com"

type Config struct {
	BaseURL    string
	SecretKey  string
	APIVersion string // sent as Stripe-Version
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
	headers := map[string]string{}
	if cfg.APIVersion != "" {
		headers["Stripe-Version"] = cfg.APIVersion
	}
	for k, v := range cfg.Headers {
		headers[k] = v
	}
	return &Connector{client: transport.New(transport.Config{
		Name:       "stripe",
		BaseURL:    cfg.BaseURL,
		APIVersion: cfg.APIVersion,
		Auth:       transport.Bearer(cfg.SecretKey),
		Headers:    headers,
		Query:      cfg.Query,
		Timeout:    cfg.Timeout,
		HTTPClient: cfg.HTTPClient,
		Classifier: classifier,
	})}
}

// classifier keeps Stripe's error code alongside the message.
var classifier = transport.ClassifierFunc(func(resp *transport.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	e := &transport.Error{StatusCode: resp.StatusCode, Message: transport.MessageFromBody(resp.Body)}
	if obj := transport.BodyObject(resp.Body); obj != nil {
		if inner, ok := obj["error"].(map[string]any); ok {
			e.Code = transport.String(inner, "code")
		}
	}
	return e
})

func (c *Connector) Name() string { return "stripe" }

func (c *Connector) Operations() []connectors.Operation {
	return []connectors.Operation{
		connectors.SentinelOp(connectors.Operation{
			Name:        "stripe_create_payment_intent",
			Description: "Create a Stripe payment intent for an amount in the currency's smallest unit.",
			Action:      "creating payment intent",
			Params: []connectors.Param{
				{Name: "amount", Type: connectors.TypeInteger, Description: "Amount in the smallest currency unit (e.g. cents)", Required: true},
				{Name: "currency", Type: connectors.TypeString, Description: "Three-letter ISO currency code", Required: true},
				{Name: "customer", Type: connectors.TypeString, Description: "Customer ID"},
				{Name: "description", Type: connectors.TypeString},
				{Name: "metadata", Type: connectors.TypeObject, Description: "String key/value pairs"},
			},
		}, c.createPaymentIntent),
		connectors.SentinelOp(connectors.Operation{
			Name:        "stripe_retrieve_payment_intent",
			Description: "Retrieve a payment intent by ID.",
			Action:      "retrieving payment intent",
			ReadOnly:    true,
			Params: []connectors.Param{
				{Name: "id", Type: connectors.TypeString, Description: "Payment intent ID (pi_...)", Required: true},
			},
		}, c.retrievePaymentIntent),
		connectors.ListOp(connectors.Operation{
			Name:        "stripe_list_customers",
			Description: "List customers, optionally filtered by email.",
			ReadOnly:    true,
			Params: []connectors.Param{
				{Name: "limit", Type: connectors.TypeInteger, Range: &connectors.Range{Min: 1, Max: 100}, Default: 10},
				{Name: "email", Type: connectors.TypeString},
			},
		}, c.listCustomers),
		connectors.SentinelOp(connectors.Operation{
			Name:        "stripe_create_refund",
			Description: "Refund a payment intent in full or in part.",
			Action:      "creating refund",
			Params: []connectors.Param{
				{Name: "payment_intent", Type: connectors.TypeString, Required: true},
				{Name: "amount", Type: connectors.TypeInteger, Description: "Partial amount; omit for a full refund"},
				{Name: "reason", Type: connectors.TypeString, Enum: []string{"duplicate", "fraudulent", "requested_by_customer"}},
			},
		}, c.createRefund),
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Payment intents
// ──────────────────────────────────────────────────────────────────────────────

type createPaymentIntentParams struct {
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency"`
	Customer    string            `json:"customer"`
	Description string            `json:"description"`
	Metadata    map[string]string `json:"metadata"`
}

// PaymentIntent keeps customer and description nullable as Stripe does.
type PaymentIntent struct {
	ID           string            `json:"id"`
	Amount       int64             `json:"amount"`
	Currency     string            `json:"currency"`
	Status       string            `json:"status"`
	ClientSecret string            `json:"client_secret"`
	Created      int64             `json:"created"`
	Customer     *string           `json:"customer"`
	Description  *string           `json:"description"`
	Metadata     map[string]string `json:"metadata"`
}

type apiPaymentIntent struct {
	ID           string            `json:"id"`
	Amount       int64             `json:"amount"`
	Currency     string            `json:"currency"`
	Status       string            `json:"status"`
	ClientSecret string            `json:"client_secret"`
	Created      int64             `json:"created"`
	Customer     any               `json:"customer"` // ID or expanded object
	Description  *string           `json:"description"`
	Metadata     map[string]string `json:"metadata"`
}

func (c *Connector) createPaymentIntent(ctx context.Context, p createPaymentIntentParams) (PaymentIntent, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(p.Amount, 10))
	form.Set("currency", p.Currency)
	if p.Customer != "" {
		form.Set("customer", p.Customer)
	}
	if p.Description != "" {
		form.Set("description", p.Description)
	}
	for k, v := range p.Metadata {
		form.Set("metadata["+k+"]", v)
	}

	var out apiPaymentIntent
	if _, err := c.client.JSON(ctx, transport.Request{Method: http.MethodPost, Path: "/v1/payment_intents", Form: form}, &out); err != nil {
		return PaymentIntent{}, err
	}
	return mapPaymentIntent(out), nil
}

type idParams struct {
	ID string `json:"id"`
}

func (c *Connector) retrievePaymentIntent(ctx context.Context, p idParams) (PaymentIntent, error) {
	var out apiPaymentIntent
	if _, err := c.client.JSON(ctx, transport.Request{Path: transport.PathEscape("/v1/payment_intents/%s", p.ID)}, &out); err != nil {
		return PaymentIntent{}, err
	}
	return mapPaymentIntent(out), nil
}

func mapPaymentIntent(in apiPaymentIntent) PaymentIntent {
	pi := PaymentIntent{
		ID:           in.ID,
		Amount:       in.Amount,
		Currency:     in.Currency,
		Status:       in.Status,
		ClientSecret: in.ClientSecret,
		Created:      in.Created,
		Description:  in.Description,
		Metadata:     in.Metadata,
	}
	switch cust := in.Customer.(type) {
	case string:
		pi.Customer = &cust
	case map[string]any:
		if id, ok := cust["id"].(string); ok {
			pi.Customer = &id
		}
	}
	if pi.Metadata == nil {
		pi.Metadata = map[string]string{}
	}
	return pi
}

// ──────────────────────────────────────────────────────────────────────────────
// Customers
// ──────────────────────────────────────────────────────────────────────────────

type listCustomersParams struct {
	Limit int    `json:"limit"`
	Email string `json:"email"`
}

type Customer struct {
	ID         string            `json:"id"`
	Email      string            `json:"email"`
	Name       string            `json:"name"`
	Created    int64             `json:"created"`
	Currency   string            `json:"currency"`
	Delinquent bool              `json:"delinquent"`
	Metadata   map[string]string `json:"metadata"`
}

func (c *Connector) listCustomers(ctx context.Context, p listCustomersParams) ([]Customer, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(transport.ClampDefault(p.Limit, 10, 1, 100)))
	if p.Email != "" {
		q.Set("email", p.Email)
	}

	var out struct {
		Data []struct {
			ID         string            `json:"id"`
			Email      *string           `json:"email"`
			Name       *string           `json:"name"`
			Created    int64             `json:"created"`
			Currency   *string           `json:"currency"`
			Delinquent *bool             `json:"delinquent"`
			Metadata   map[string]string `json:"metadata"`
		} `json:"data"`
	}
	if _, err := c.client.JSON(ctx, transport.Request{Path: "/v1/customers", Query: q}, &out); err != nil {
		return nil, err
	}

	customers := make([]Customer, 0, len(out.Data))
	for _, d := range out.Data {
		cust := Customer{
			ID:         d.ID,
			Email:      deref(d.Email),
			Name:       deref(d.Name),
			Created:    d.Created,
			Currency:   deref(d.Currency),
			Delinquent: d.Delinquent != nil && *d.Delinquent,
			Metadata:   d.Metadata,
		}
		if cust.Metadata == nil {
			cust.Metadata = map[string]string{}
		}
		customers = append(customers, cust)
	}
	return customers, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Refunds
// ──────────────────────────────────────────────────────────────────────────────

type createRefundParams struct {
	PaymentIntent string `json:"payment_intent"`
	Amount        int64  `json:"amount"`
	Reason        string `json:"reason"`
}

type Refund struct {
	ID            string `json:"id"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	Status        string `json:"status"`
	PaymentIntent string `json:"payment_intent"`
	Created       int64  `json:"created"`
	Reason        string `json:"reason"`
}

func (c *Connector) createRefund(ctx context.Context, p createRefundParams) (Refund, error) {
	form := url.Values{}
	form.Set("payment_intent", p.PaymentIntent)
	if p.Amount > 0 {
		form.Set("amount", strconv.FormatInt(p.Amount, 10))
	}
	if p.Reason != "" {
		form.Set("reason", p.Reason)
	}

	var out struct {
		ID            string  `json:"id"`
		Amount        int64   `json:"amount"`
		Currency      string  `json:"currency"`
		Status        *string `json:"status"`
		PaymentIntent *string `json:"payment_intent"`
		Created       int64   `json:"created"`
		Reason        *string `json:"reason"`
	}
	if _, err := c.client.JSON(ctx, transport.Request{Method: http.MethodPost, Path: "/v1/refunds", Form: form}, &out); err != nil {
		return Refund{}, err
	}
	return Refund{
		ID:            out.ID,
		Amount:        out.Amount,
		Currency:      out.Currency,
		Status:        deref(out.Status),
		PaymentIntent: deref(out.PaymentIntent),
		Created:       out.Created,
		Reason:        deref(out.Reason),
	}, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
