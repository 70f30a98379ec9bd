// Package linkedin reads the member profile and shares posts with the
// LinkedIn REST API.
package linkedin

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bturcanu/opentoolbox/pkg/connectors"
	"github.com/bturcanu/opentoolbox/pkg/transport"
)

const DefaultBaseURL = "https://api.linkedin.com"

type Config struct {
	BaseURL     string
	AccessToken string
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
	headers := map[string]string{"X-Restli-Protocol-Version": "2.0.0"}
	for k, v := range cfg.Headers {
		headers[k] = v
	}
	return &Connector{client: transport.New(transport.Config{
		Name:       "linkedin",
		BaseURL:    cfg.BaseURL,
		Auth:       transport.Bearer(cfg.AccessToken),
		Headers:    headers,
		Query:      cfg.Query,
		Timeout:    cfg.Timeout,
		HTTPClient: cfg.HTTPClient,
		Classifier: classifier,
	})}
}

// classifier recognises {"serviceErrorCode":N,"message":"..."} envelopes.
var classifier = transport.ClassifierFunc(func(resp *transport.Response) error {
	obj := transport.BodyObject(resp.Body)
	if code, ok := obj["serviceErrorCode"]; ok {
		return &transport.Error{
			StatusCode: resp.StatusCode,
			Code:       fmt.Sprint(code),
			Message:    transport.String(obj, "message"),
		}
	}
	return transport.StatusClassifier(resp)
})

func (c *Connector) Name() string { return "linkedin" }

func (c *Connector) Operations() []connectors.Operation {
	return []connectors.Operation{
		connectors.SentinelOp(connectors.Operation{
			Name:        "linkedin_get_profile",
			Description: "Get the authenticated member's profile.",
			Action:      "getting profile",
			ReadOnly:    true,
		}, c.getProfile),
		connectors.SentinelOp(connectors.Operation{
			Name:        "linkedin_share_post",
			Description: "Share a text post as the authenticated member or the given author URN.",
			Action:      "sharing post",
			Params: []connectors.Param{
				{Name: "text", Type: connectors.TypeString, Required: true},
				{Name: "author", Type: connectors.TypeString, Description: "Author URN; defaults to the authenticated member"},
				{Name: "visibility", Type: connectors.TypeString, Enum: []string{"PUBLIC", "CONNECTIONS"}, Default: "PUBLIC"},
			},
		}, c.sharePost),
	}
}

type Profile struct {
	Sub           string `json:"sub"`
	Name          string `json:"name"`
	GivenName     string `json:"given_name"`
	FamilyName    string `json:"family_name"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Picture       string `json:"picture"`
	Locale        string `json:"locale"`
}

func (c *Connector) getProfile(ctx context.Context, _ struct{}) (Profile, error) {
	var out struct {
		Sub           string `json:"sub"`
		Name          string `json:"name"`
		GivenName     string `json:"given_name"`
		FamilyName    string `json:"family_name"`
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		Picture       string `json:"picture"`
		Locale        any    `json:"locale"` // "en_US" or {"language":"en","country":"US"}
	}
	if _, err := c.client.JSON(ctx, transport.Request{Path: "/v2/userinfo"}, &out); err != nil {
		return Profile{}, err
	}
	return Profile{
		Sub:           out.Sub,
		Name:          out.Name,
		GivenName:     out.GivenName,
		FamilyName:    out.FamilyName,
		Email:         out.Email,
		EmailVerified: out.EmailVerified,
		Picture:       out.Picture,
		Locale:        locale(out.Locale),
	}, nil
}

func locale(v any) string {
	switch l := v.(type) {
	case string:
		return l
	case map[string]any:
		lang, _ := l["language"].(string)
		country, _ := l["country"].(string)
		if country == "" {
			return lang
		}
		return lang + "_" + country
	}
	return ""
}

type shareParams struct {
	Text       string `json:"text"`
	Author     string `json:"author"`
	Visibility string `json:"visibility"`
}

type Share struct {
	ID string `json:"id"`
}

func (c *Connector) sharePost(ctx context.Context, p shareParams) (Share, error) {
	author := p.Author
	if author == "" {
		profile, err := c.getProfile(ctx, struct{}{})
		if err != nil {
			return Share{}, err
		}
		author = "urn:li:person:" + profile.Sub
	}
	visibility := strings.ToUpper(p.Visibility)
	if visibility == "" {
		visibility = "PUBLIC"
	}

	body := map[string]any{
		"author":         author,
		"lifecycleState": "PUBLISHED",
		"specificContent": map[string]any{
			"com.linkedin.ugc.ShareContent": map[string]any{
				"shareCommentary":    map[string]string{"text": p.Text},
				"shareMediaCategory": "NONE",
			},
		},
		"visibility": map[string]string{"com.linkedin.ugc.MemberNetworkVisibility": visibility},
	}
	var out struct {
		ID string `json:"id"`
	}
	resp, err := c.client.JSON(ctx, transport.Request{Method: http.MethodPost, Path: "/v2/ugcPosts", JSON: body}, &out)
	if err != nil {
		return Share{}, err
	}
	id := resp.Header.Get("X-Restli-Id")
	if id == "" {
		id = out.ID
	}
	return Share{ID: id}, nil
}
