// Package digitalocean lists droplets and runs droplet actions.
package digitalocean

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/bturcanu/opentoolbox/pkg/connectors"
	"github.com/bturcanu/opentoolbox/pkg/transport"
)

const DefaultBaseURL = "https://api.digitalocean.com"

// ActionTypes are the droplet actions digitalocean_droplet_action accepts.
var ActionTypes = []string{
	"reboot", "power_cycle", "shutdown", "power_off", "power_on",
	"enable_backups", "disable_backups", "enable_ipv6", "password_reset",
}

type Config struct {
	BaseURL    string
	Token      string
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
		Name:       "digitalocean",
		BaseURL:    cfg.BaseURL,
		Auth:       transport.Bearer(cfg.Token),
		Headers:    cfg.Headers,
		Query:      cfg.Query,
		Timeout:    cfg.Timeout,
		HTTPClient: cfg.HTTPClient,
		Classifier: classifier,
	})}
}

// classifier: {"id":"not_found","message":"The resource you were accessing could not be found."}
var classifier = transport.ClassifierFunc(func(resp *transport.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	obj := transport.BodyObject(resp.Body)
	return &transport.Error{
		StatusCode: resp.StatusCode,
		Code:       transport.String(obj, "id"),
		Message:    transport.MessageFromBody(resp.Body),
	}
})

func (c *Connector) Name() string { return "digitalocean" }

func (c *Connector) Operations() []connectors.Operation {
	return []connectors.Operation{
		connectors.ListOp(connectors.Operation{
			Name:        "digitalocean_list_droplets",
			Description: "List droplets, optionally filtered by tag.",
			ReadOnly:    true,
			Params: []connectors.Param{
				{Name: "tag", Type: connectors.TypeString},
				{Name: "per_page", Type: connectors.TypeInteger, Range: &connectors.Range{Min: 1, Max: 200}, Default: 20},
			},
		}, c.listDroplets),
		connectors.SentinelOp(connectors.Operation{
			Name:        "digitalocean_get_droplet",
			Description: "Get a droplet by ID.",
			Action:      "getting droplet",
			ReadOnly:    true,
			Params: []connectors.Param{
				{Name: "id", Type: connectors.TypeInteger, Required: true},
			},
		}, c.getDroplet),
		connectors.SentinelOp(connectors.Operation{
			Name:        "digitalocean_droplet_action",
			Description: "Run a power or maintenance action on a droplet.",
			Action:      "performing droplet action",
			Params: []connectors.Param{
				{Name: "id", Type: connectors.TypeInteger, Required: true},
				{Name: "type", Type: connectors.TypeString, Required: true, Enum: ActionTypes},
			},
		}, c.dropletAction),
	}
}

type Droplet struct {
	ID        int64    `json:"id"`
	Name      string   `json:"name"`
	Status    string   `json:"status"`
	Memory    int      `json:"memory"`
	VCPUs     int      `json:"vcpus"`
	Disk      int      `json:"disk"`
	Region    string   `json:"region"`
	SizeSlug  string   `json:"size_slug"`
	Image     string   `json:"image"`
	PublicIP  string   `json:"public_ip"`
	PrivateIP string   `json:"private_ip"`
	Tags      []string `json:"tags"`
	CreatedAt string   `json:"created_at"`
}

type apiDroplet struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Status   string `json:"status"`
	Memory   int    `json:"memory"`
	VCPUs    int    `json:"vcpus"`
	Disk     int    `json:"disk"`
	SizeSlug string `json:"size_slug"`
	Region   struct {
		Slug string `json:"slug"`
	} `json:"region"`
	Image struct {
		Slug         string `json:"slug"`
		Distribution string `json:"distribution"`
		Name         string `json:"name"`
	} `json:"image"`
	Networks struct {
		V4 []struct {
			IPAddress string `json:"ip_address"`
			Type      string `json:"type"`
		} `json:"v4"`
	} `json:"networks"`
	Tags      []string `json:"tags"`
	CreatedAt string   `json:"created_at"`
}

func (d apiDroplet) toDroplet() Droplet {
	out := Droplet{
		ID:        d.ID,
		Name:      d.Name,
		Status:    d.Status,
		Memory:    d.Memory,
		VCPUs:     d.VCPUs,
		Disk:      d.Disk,
		Region:    d.Region.Slug,
		SizeSlug:  d.SizeSlug,
		Image:     d.Image.Slug,
		Tags:      d.Tags,
		CreatedAt: d.CreatedAt,
	}
	if out.Image == "" && d.Image.Distribution != "" {
		out.Image = d.Image.Distribution + " " + d.Image.Name
	}
	if out.Tags == nil {
		out.Tags = []string{}
	}
	for _, n := range d.Networks.V4 {
		switch n.Type {
		case "public":
			if out.PublicIP == "" {
				out.PublicIP = n.IPAddress
			}
		case "private":
			if out.PrivateIP == "" {
				out.PrivateIP = n.IPAddress
			}
		}
	}
	return out
}

type listParams struct {
	Tag     string `json:"tag"`
	PerPage int    `json:"per_page"`
}

func (c *Connector) listDroplets(ctx context.Context, p listParams) ([]Droplet, error) {
	q := url.Values{"per_page": {strconv.Itoa(transport.ClampDefault(p.PerPage, 20, 1, 200))}}
	if p.Tag != "" {
		q.Set("tag_name", p.Tag)
	}
	var out struct {
		Droplets []apiDroplet `json:"droplets"`
	}
	if _, err := c.client.JSON(ctx, transport.Request{Path: "/v2/droplets", Query: q}, &out); err != nil {
		return nil, err
	}
	droplets := make([]Droplet, 0, len(out.Droplets))
	for _, d := range out.Droplets {
		droplets = append(droplets, d.toDroplet())
	}
	return droplets, nil
}

type idParams struct {
	ID int64 `json:"id"`
}

func (c *Connector) getDroplet(ctx context.Context, p idParams) (Droplet, error) {
	var out struct {
		Droplet apiDroplet `json:"droplet"`
	}
	path := transport.PathEscape("/v2/droplets/%s", strconv.FormatInt(p.ID, 10))
	if _, err := c.client.JSON(ctx, transport.Request{Path: path}, &out); err != nil {
		return Droplet{}, err
	}
	return out.Droplet.toDroplet(), nil
}

type actionParams struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

type Action struct {
	ID           int64  `json:"id"`
	Status       string `json:"status"`
	Type         string `json:"type"`
	StartedAt    string `json:"started_at"`
	CompletedAt  string `json:"completed_at"`
	ResourceID   int64  `json:"resource_id"`
	ResourceType string `json:"resource_type"`
	Region       string `json:"region"`
}

func (c *Connector) dropletAction(ctx context.Context, p actionParams) (Action, error) {
	var out struct {
		Action struct {
			ID           int64   `json:"id"`
			Status       string  `json:"status"`
			Type         string  `json:"type"`
			StartedAt    string  `json:"started_at"`
			CompletedAt  *string `json:"completed_at"`
			ResourceID   int64   `json:"resource_id"`
			ResourceType string  `json:"resource_type"`
			RegionSlug   string  `json:"region_slug"`
		} `json:"action"`
	}
	path := transport.PathEscape("/v2/droplets/%s/actions", strconv.FormatInt(p.ID, 10))
	req := transport.Request{Method: http.MethodPost, Path: path, JSON: map[string]string{"type": p.Type}}
	if _, err := c.client.JSON(ctx, req, &out); err != nil {
		return Action{}, err
	}
	a := out.Action
	action := Action{
		ID:           a.ID,
		Status:       a.Status,
		Type:         a.Type,
		StartedAt:    a.StartedAt,
		ResourceID:   a.ResourceID,
		ResourceType: a.ResourceType,
		Region:       a.RegionSlug,
	}
	if a.CompletedAt != nil {
		action.CompletedAt = *a.CompletedAt
	}
	return action, nil
}
