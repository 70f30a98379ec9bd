// Package vercel lists, inspects and cancels Vercel deployments.
package vercel

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/bturcanu/opentoolbox/pkg/connectors"
	"github.com/bturcanu/opentoolbox/pkg/transport"
)

const DefaultBaseURL = "https://api.vercel.com"

type Config struct {
	BaseURL string
	Token   string
	// TeamID is sent as the teamId query parameter on every request.
	TeamID     string
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
	query := map[string]string{}
	if cfg.TeamID != "" {
		query["teamId"] = cfg.TeamID
	}
	for k, v := range cfg.Query {
		query[k] = v
	}
	return &Connector{client: transport.New(transport.Config{
		Name:       "vercel",
		BaseURL:    cfg.BaseURL,
		Auth:       transport.Bearer(cfg.Token),
		Headers:    cfg.Headers,
		Query:      query,
		Timeout:    cfg.Timeout,
		HTTPClient: cfg.HTTPClient,
		Classifier: classifier,
	})}
}

// classifier: {"error":{"code":"not_found","message":"..."}}
var classifier = transport.ClassifierFunc(func(resp *transport.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	e := &transport.Error{StatusCode: resp.StatusCode, Message: transport.MessageFromBody(resp.Body)}
	if inner, ok := transport.BodyObject(resp.Body)["error"].(map[string]any); ok {
		e.Code = transport.String(inner, "code")
	}
	return e
})

func (c *Connector) Name() string { return "vercel" }

func (c *Connector) Operations() []connectors.Operation {
	idParam := []connectors.Param{
		{Name: "id", Type: connectors.TypeString, Description: "Deployment ID (dpl_...) or URL", Required: true},
	}
	return []connectors.Operation{
		connectors.ListOp(connectors.Operation{
			Name:        "vercel_list_deployments",
			Description: "List recent deployments, optionally for one project or state.",
			ReadOnly:    true,
			Params: []connectors.Param{
				{Name: "project_id", Type: connectors.TypeString},
				{Name: "state", Type: connectors.TypeString, Enum: []string{"BUILDING", "ERROR", "INITIALIZING", "QUEUED", "READY", "CANCELED"}},
				{Name: "limit", Type: connectors.TypeInteger, Range: &connectors.Range{Min: 1, Max: 100}, Default: 20},
			},
		}, c.listDeployments),
		connectors.SentinelOp(connectors.Operation{
			Name:        "vercel_get_deployment",
			Description: "Get a deployment by ID or URL.",
			Action:      "getting deployment",
			ReadOnly:    true,
			Params:      idParam,
		}, c.getDeployment),
		connectors.SentinelOp(connectors.Operation{
			Name:        "vercel_cancel_deployment",
			Description: "Cancel a deployment that is still building.",
			Action:      "cancelling deployment",
			Params:      idParam,
		}, c.cancelDeployment),
	}
}

type Deployment struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	URL       string   `json:"url"`
	State     string   `json:"state"`
	Target    string   `json:"target"`
	CreatedAt int64    `json:"created_at"`
	Creator   string   `json:"creator"`
	Branch    string   `json:"branch"`
	Aliases   []string `json:"aliases"`
	Error     string   `json:"error_message"`
}

// apiDeployment covers both the list shape (uid, state, created) and the
// single-deployment shape (id, readyState, createdAt).
type apiDeployment struct {
	UID          string   `json:"uid"`
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	URL          string   `json:"url"`
	State        string   `json:"state"`
	ReadyState   string   `json:"readyState"`
	Target       *string  `json:"target"`
	Created      int64    `json:"created"`
	CreatedAt    int64    `json:"createdAt"`
	Alias        []string `json:"alias"`
	ErrorMessage string   `json:"errorMessage"`
	Creator      struct {
		Username string `json:"username"`
	} `json:"creator"`
	Meta map[string]any `json:"meta"`
}

func (d apiDeployment) toDeployment() Deployment {
	out := Deployment{
		ID:        firstNonEmpty(d.UID, d.ID),
		Name:      d.Name,
		URL:       d.URL,
		State:     firstNonEmpty(d.ReadyState, d.State),
		CreatedAt: d.CreatedAt,
		Creator:   d.Creator.Username,
		Aliases:   d.Alias,
		Error:     d.ErrorMessage,
	}
	if out.CreatedAt == 0 {
		out.CreatedAt = d.Created
	}
	if d.Target != nil {
		out.Target = *d.Target
	}
	if ref, ok := d.Meta["githubCommitRef"].(string); ok {
		out.Branch = ref
	}
	if out.Aliases == nil {
		out.Aliases = []string{}
	}
	return out
}

type listParams struct {
	ProjectID string `json:"project_id"`
	State     string `json:"state"`
	Limit     int    `json:"limit"`
}

func (c *Connector) listDeployments(ctx context.Context, p listParams) ([]Deployment, error) {
	q := url.Values{"limit": {strconv.Itoa(transport.ClampDefault(p.Limit, 20, 1, 100))}}
	if p.ProjectID != "" {
		q.Set("projectId", p.ProjectID)
	}
	if p.State != "" {
		q.Set("state", p.State)
	}
	var out struct {
		Deployments []apiDeployment `json:"deployments"`
	}
	if _, err := c.client.JSON(ctx, transport.Request{Path: "/v6/deployments", Query: q}, &out); err != nil {
		return nil, err
	}
	deployments := make([]Deployment, 0, len(out.Deployments))
	for _, d := range out.Deployments {
		deployments = append(deployments, d.toDeployment())
	}
	return deployments, nil
}

type idParams struct {
	ID string `json:"id"`
}

func (c *Connector) getDeployment(ctx context.Context, p idParams) (Deployment, error) {
	var out apiDeployment
	if _, err := c.client.JSON(ctx, transport.Request{Path: transport.PathEscape("/v13/deployments/%s", p.ID)}, &out); err != nil {
		return Deployment{}, err
	}
	return out.toDeployment(), nil
}

func (c *Connector) cancelDeployment(ctx context.Context, p idParams) (Deployment, error) {
	var out apiDeployment
	req := transport.Request{Method: http.MethodPatch, Path: transport.PathEscape("/v12/deployments/%s/cancel", p.ID)}
	if _, err := c.client.JSON(ctx, req, &out); err != nil {
		return Deployment{}, err
	}
	return out.toDeployment(), nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
