// Package hubspot searches and creates CRM contacts.
package hubspot

import (
	"context"
	"net/http"
	"time"

	"github.com/bturcanu/opentoolbox/pkg/connectors"
	"github.com/bturcanu/opentoolbox/pkg/transport"
)

const DefaultBaseURL = "https://api.hubapi.com"

var contactProperties = []string{"email", "firstname", "lastname", "company", "phone"}

type Config struct {
	BaseURL     string
	AccessToken string // private app token
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
		Name:       "hubspot",
		BaseURL:    cfg.BaseURL,
		Auth:       transport.Bearer(cfg.AccessToken),
		Headers:    cfg.Headers,
		Query:      cfg.Query,
		Timeout:    cfg.Timeout,
		HTTPClient: cfg.HTTPClient,
		Classifier: classifier,
	})}
}

// classifier: {"status":"error","message":"...","category":"CONFLICT"}
var classifier = transport.ClassifierFunc(func(resp *transport.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return &transport.Error{
		StatusCode: resp.StatusCode,
		Code:       transport.String(transport.BodyObject(resp.Body), "category"),
		Message:    transport.MessageFromBody(resp.Body),
	}
})

func (c *Connector) Name() string { return "hubspot" }

func (c *Connector) Operations() []connectors.Operation {
	return []connectors.Operation{
		connectors.ListOp(connectors.Operation{
			Name:        "hubspot_search_contacts",
			Description: "Full-text search over contacts (name, email, phone, company).",
			ReadOnly:    true,
			Params: []connectors.Param{
				{Name: "query", Type: connectors.TypeString, Required: true},
				{Name: "limit", Type: connectors.TypeInteger, Range: &connectors.Range{Min: 1, Max: 100}, Default: 10},
			},
		}, c.searchContacts),
		connectors.SentinelOp(connectors.Operation{
			Name:        "hubspot_create_contact",
			Description: "Create a contact.",
			Action:      "creating contact",
			Params: []connectors.Param{
				{Name: "email", Type: connectors.TypeString, Required: true},
				{Name: "firstname", Type: connectors.TypeString},
				{Name: "lastname", Type: connectors.TypeString},
				{Name: "company", Type: connectors.TypeString},
				{Name: "phone", Type: connectors.TypeString},
			},
		}, c.createContact),
	}
}

type Contact struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"firstname"`
	LastName  string `json:"lastname"`
	Company   string `json:"company"`
	Phone     string `json:"phone"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

type apiContact struct {
	ID         string             `json:"id"`
	Properties map[string]*string `json:"properties"`
	CreatedAt  string             `json:"createdAt"`
	UpdatedAt  string             `json:"updatedAt"`
}

func (a apiContact) toContact() Contact {
	prop := func(k string) string {
		if v := a.Properties[k]; v != nil {
			return *v
		}
		return ""
	}
	return Contact{
		ID:        a.ID,
		Email:     prop("email"),
		FirstName: prop("firstname"),
		LastName:  prop("lastname"),
		Company:   prop("company"),
		Phone:     prop("phone"),
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}

type searchParams struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

func (c *Connector) searchContacts(ctx context.Context, p searchParams) ([]Contact, error) {
	body := map[string]any{
		"query":      p.Query,
		"limit":      transport.ClampDefault(p.Limit, 10, 1, 100),
		"properties": contactProperties,
	}
	var out struct {
		Results []apiContact `json:"results"`
	}
	req := transport.Request{Method: http.MethodPost, Path: "/crm/v3/objects/contacts/search", JSON: body}
	if _, err := c.client.JSON(ctx, req, &out); err != nil {
		return nil, err
	}
	contacts := make([]Contact, 0, len(out.Results))
	for _, r := range out.Results {
		contacts = append(contacts, r.toContact())
	}
	return contacts, nil
}

type createParams struct {
	Email     string `json:"email"`
	FirstName string `json:"firstname"`
	LastName  string `json:"lastname"`
	Company   string `json:"company"`
	Phone     string `json:"phone"`
}

func (c *Connector) createContact(ctx context.Context, p createParams) (Contact, error) {
	props := map[string]string{"email": p.Email}
	for k, v := range map[string]string{"firstname": p.FirstName, "lastname": p.LastName, "company": p.Company, "phone": p.Phone} {
		if v != "" {
			props[k] = v
		}
	}
	var out apiContact
	req := transport.Request{Method: http.MethodPost, Path: "/crm/v3/objects/contacts", JSON: map[string]any{"properties": props}}
	if _, err := c.client.JSON(ctx, req, &out); err != nil {
		return Contact{}, err
	}
	return out.toContact(), nil
}
