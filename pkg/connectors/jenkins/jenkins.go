// Package jenkins lists jobs, reads builds and triggers builds through the
// Jenkins JSON API.
package jenkins

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bturcanu/opentoolbox/pkg/connectors"
	"github.com/bturcanu/opentoolbox/pkg/transport"
)

type Config struct {
	BaseURL    string
	Username   string
	APIToken   string
	Headers    map[string]string
	Query      map[string]string
	Timeout    time.Duration
	HTTPClient *http.Client
}

type Connector struct {
	client *transport.Client
}

func New(cfg Config) *Connector {
	return &Connector{client: transport.New(transport.Config{
		Name:       "jenkins",
		BaseURL:    cfg.BaseURL,
		Auth:       transport.Basic(cfg.Username, cfg.APIToken),
		Headers:    cfg.Headers,
		Query:      cfg.Query,
		Timeout:    cfg.Timeout,
		HTTPClient: cfg.HTTPClient,
	})}
}

func (c *Connector) Name() string { return "jenkins" }

func (c *Connector) Operations() []connectors.Operation {
	jobParam := connectors.Param{Name: "job", Type: connectors.TypeString, Description: "Job name; folders separated by '/'", Required: true}
	return []connectors.Operation{
		connectors.ListOp(connectors.Operation{
			Name:        "jenkins_list_jobs",
			Description: "List Jenkins jobs at the root or inside a folder.",
			ReadOnly:    true,
			Params: []connectors.Param{
				{Name: "folder", Type: connectors.TypeString, Description: "Folder path; empty for the root"},
			},
		}, c.listJobs),
		connectors.SentinelOp(connectors.Operation{
			Name:        "jenkins_get_build",
			Description: "Get the status of a build.",
			Action:      "getting build",
			ReadOnly:    true,
			Params: []connectors.Param{
				jobParam,
				{Name: "build", Type: connectors.TypeString, Description: "Build number or alias such as lastBuild", Default: "lastBuild"},
			},
		}, c.getBuild),
		connectors.SentinelOp(connectors.Operation{
			Name:        "jenkins_trigger_build",
			Description: "Queue a build, with parameters if given.",
			Action:      "triggering build",
			Params: []connectors.Param{
				jobParam,
				{Name: "parameters", Type: connectors.TypeObject, Description: "Build parameters"},
			},
		}, c.triggerBuild),
	}
}

// jobPath turns "team/service" into "/job/team/job/service". A "." or ".."
// segment is percent-encoded, which the transport then refuses.
func jobPath(job string) string {
	var b strings.Builder
	for _, seg := range strings.Split(job, "/") {
		if seg == "" {
			continue
		}
		b.WriteString(transport.PathEscape("/job/%s", seg))
	}
	return b.String()
}

type Job struct {
	Name  string `json:"name"`
	URL   string `json:"url"`
	Color string `json:"color"`
}

type listJobsParams struct {
	Folder string `json:"folder"`
}

func (c *Connector) listJobs(ctx context.Context, p listJobsParams) ([]Job, error) {
	var out struct {
		Jobs []Job `json:"jobs"`
	}
	req := transport.Request{
		Path:  jobPath(p.Folder) + "/api/json",
		Query: url.Values{"tree": {"jobs[name,url,color]"}},
	}
	if _, err := c.client.JSON(ctx, req, &out); err != nil {
		return nil, err
	}
	return out.Jobs, nil
}

type getBuildParams struct {
	Job   string `json:"job"`
	Build string `json:"build"`
}

type Build struct {
	Number      int    `json:"number"`
	Result      string `json:"result"`
	Building    bool   `json:"building"`
	Duration    int64  `json:"duration"`
	Timestamp   int64  `json:"timestamp"`
	URL         string `json:"url"`
	DisplayName string `json:"display_name"`
}

func (c *Connector) getBuild(ctx context.Context, p getBuildParams) (Build, error) {
	build := p.Build
	if build == "" {
		build = "lastBuild"
	}
	var out struct {
		Number      int     `json:"number"`
		Result      *string `json:"result"` // null while building
		Building    bool    `json:"building"`
		Duration    int64   `json:"duration"`
		Timestamp   int64   `json:"timestamp"`
		URL         string  `json:"url"`
		DisplayName string  `json:"displayName"`
	}
	path := jobPath(p.Job) + transport.PathEscape("/%s/api/json", build)
	if _, err := c.client.JSON(ctx, transport.Request{Path: path}, &out); err != nil {
		return Build{}, err
	}
	b := Build{
		Number:      out.Number,
		Building:    out.Building,
		Duration:    out.Duration,
		Timestamp:   out.Timestamp,
		URL:         out.URL,
		DisplayName: out.DisplayName,
	}
	if out.Result != nil {
		b.Result = *out.Result
	}
	return b, nil
}

type triggerBuildParams struct {
	Job        string            `json:"job"`
	Parameters map[string]string `json:"parameters"`
}

type Trigger struct {
	Job      string `json:"job"`
	QueueURL string `json:"queue_url"`
	Queued   bool   `json:"queued"`
}

func (c *Connector) triggerBuild(ctx context.Context, p triggerBuildParams) (Trigger, error) {
	req := transport.Request{Method: http.MethodPost, Path: jobPath(p.Job) + "/build"}
	if len(p.Parameters) > 0 {
		form := url.Values{}
		for k, v := range p.Parameters {
			form.Set(k, v)
		}
		req.Path = jobPath(p.Job) + "/buildWithParameters"
		req.Form = form
	}
	resp, err := c.client.Do(ctx, req)
	if err != nil {
		return Trigger{}, err
	}
	return Trigger{Job: p.Job, QueueURL: resp.Header.Get("Location"), Queued: true}, nil
}
