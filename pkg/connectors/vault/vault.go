// Package vault reads and writes secrets in a HashiCorp Vault KV v2 mount.
package vault

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bturcanu/opentoolbox/pkg/connectors"
	"github.com/bturcanu/opentoolbox/pkg/transport"
)

const DefaultMount = "secret"

type Config struct {
	Address    string
	Token      string
	Mount      string // KV v2 mount, default "secret"
	Namespace  string // Vault Enterprise namespace
	Headers    map[string]string
	Query      map[string]string
	Timeout    time.Duration
	HTTPClient *http.Client
}

type Connector struct {
	client *transport.Client
	mount  string
}

func New(cfg Config) *Connector {
	mount := strings.Trim(cfg.Mount, "/")
	if mount == "" {
		mount = DefaultMount
	}
	headers := map[string]string{}
	for k, v := range cfg.Headers {
		headers[k] = v
	}
	if cfg.Namespace != "" {
		headers["X-Vault-Namespace"] = cfg.Namespace
	}
	return &Connector{
		mount: mount,
		client: transport.New(transport.Config{
			Name:       "vault",
			BaseURL:    cfg.Address,
			Auth:       transport.Header("X-Vault-Token", cfg.Token),
			Headers:    headers,
			Query:      cfg.Query,
			Timeout:    cfg.Timeout,
			HTTPClient: cfg.HTTPClient,
			Classifier: classifier,
		}),
	}
}

// classifier joins Vault's {"errors":[...]} strings.
var classifier = transport.ClassifierFunc(func(resp *transport.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	e := &transport.Error{StatusCode: resp.StatusCode}
	if obj := transport.BodyObject(resp.Body); obj != nil {
		if list, ok := obj["errors"].([]any); ok {
			msgs := make([]string, 0, len(list))
			for _, item := range list {
				if s, ok := item.(string); ok && s != "" {
					msgs = append(msgs, s)
				}
			}
			e.Message = strings.Join(msgs, "; ")
		}
	}
	if e.Message == "" && resp.StatusCode == http.StatusNotFound {
		e.Message = "secret not found"
	}
	return e
})

func (c *Connector) Name() string { return "vault" }

func (c *Connector) Operations() []connectors.Operation {
	pathParam := connectors.Param{Name: "path", Type: connectors.TypeString, Description: "Secret path inside the mount, e.g. app/db", Required: true}
	return []connectors.Operation{
		connectors.SentinelOp(connectors.Operation{
			Name:        "vault_read_secret",
			Description: "Read a KV v2 secret, optionally at a specific version.",
			Action:      "reading secret",
			ReadOnly:    true,
			Params: []connectors.Param{
				pathParam,
				{Name: "version", Type: connectors.TypeInteger, Description: "Version to read; 0 for latest"},
			},
		}, c.readSecret),
		connectors.SentinelOp(connectors.Operation{
			Name:        "vault_write_secret",
			Description: "Write a new version of a KV v2 secret.",
			Action:      "writing secret",
			Params: []connectors.Param{
				pathParam,
				{Name: "data", Type: connectors.TypeObject, Description: "Key/value pairs to store", Required: true},
				{Name: "cas", Type: connectors.TypeInteger, Description: "Check-and-set version"},
			},
		}, c.writeSecret),
		connectors.ListOp(connectors.Operation{
			Name:        "vault_list_secrets",
			Description: "List secret keys under a path. Keys ending in '/' are folders.",
			ReadOnly:    true,
			Params: []connectors.Param{
				{Name: "path", Type: connectors.TypeString, Description: "Folder path; empty for the mount root"},
			},
		}, c.listSecrets),
		connectors.SentinelOp(connectors.Operation{
			Name:        "vault_delete_secret",
			Description: "Soft-delete the latest version of a secret.",
			Action:      "deleting secret",
			Params:      []connectors.Param{pathParam},
		}, c.deleteSecret),
	}
}

func (c *Connector) dataPath(secret string) string {
	return transport.PathEscape("/v1/%s/data/", c.mount) + transport.JoinSegments(secret)
}

func (c *Connector) metadataPath(secret string) string {
	return transport.PathEscape("/v1/%s/metadata/", c.mount) + transport.JoinSegments(secret)
}

type readParams struct {
	Path    string `json:"path"`
	Version int    `json:"version"`
}

type Secret struct {
	Path         string         `json:"path"`
	Data         map[string]any `json:"data"`
	Version      int            `json:"version"`
	CreatedTime  string         `json:"created_time"`
	DeletionTime string         `json:"deletion_time"`
	Destroyed    bool           `json:"destroyed"`
}

func (c *Connector) readSecret(ctx context.Context, p readParams) (Secret, error) {
	req := transport.Request{Path: c.dataPath(p.Path)}
	if p.Version > 0 {
		req.Query = url.Values{"version": {strconv.Itoa(p.Version)}}
	}
	var out struct {
		Data struct {
			Data     map[string]any `json:"data"`
			Metadata struct {
				CreatedTime  string `json:"created_time"`
				DeletionTime string `json:"deletion_time"`
				Destroyed    bool   `json:"destroyed"`
				Version      int    `json:"version"`
			} `json:"metadata"`
		} `json:"data"`
	}
	if _, err := c.client.JSON(ctx, req, &out); err != nil {
		return Secret{}, err
	}
	s := Secret{
		Path:         p.Path,
		Data:         out.Data.Data,
		Version:      out.Data.Metadata.Version,
		CreatedTime:  out.Data.Metadata.CreatedTime,
		DeletionTime: out.Data.Metadata.DeletionTime,
		Destroyed:    out.Data.Metadata.Destroyed,
	}
	if s.Data == nil {
		s.Data = map[string]any{}
	}
	return s, nil
}

type writeParams struct {
	Path string         `json:"path"`
	Data map[string]any `json:"data"`
	CAS  *int           `json:"cas"`
}

type WriteResult struct {
	Path        string `json:"path"`
	Version     int    `json:"version"`
	CreatedTime string `json:"created_time"`
}

func (c *Connector) writeSecret(ctx context.Context, p writeParams) (WriteResult, error) {
	body := map[string]any{"data": p.Data}
	if p.CAS != nil {
		body["options"] = map[string]any{"cas": *p.CAS}
	}
	var out struct {
		Data struct {
			CreatedTime string `json:"created_time"`
			Version     int    `json:"version"`
		} `json:"data"`
	}
	if _, err := c.client.JSON(ctx, transport.Request{Method: http.MethodPost, Path: c.dataPath(p.Path), JSON: body}, &out); err != nil {
		return WriteResult{}, err
	}
	return WriteResult{Path: p.Path, Version: out.Data.Version, CreatedTime: out.Data.CreatedTime}, nil
}

type listParams struct {
	Path string `json:"path"`
}

func (c *Connector) listSecrets(ctx context.Context, p listParams) ([]string, error) {
	var out struct {
		Data struct {
			Keys []string `json:"keys"`
		} `json:"data"`
	}
	if _, err := c.client.JSON(ctx, transport.Request{Method: "LIST", Path: c.metadataPath(p.Path)}, &out); err != nil {
		return nil, err
	}
	return out.Data.Keys, nil
}

type deleteParams struct {
	Path string `json:"path"`
}

func (c *Connector) deleteSecret(ctx context.Context, p deleteParams) (string, error) {
	if _, err := c.client.Do(ctx, transport.Request{Method: http.MethodDelete, Path: c.dataPath(p.Path)}); err != nil {
		return "", err
	}
	return "Deleted secret " + p.Path, nil
}
