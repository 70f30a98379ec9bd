// Package transport is the outbound HTTP port shared by every adapter. A
// Client is configured once (base URL, credentials, default headers and
// query) and classifies each response with the adapter's Classifier.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	maxResponseBytes = 4 << 20
	defaultTimeout   = 15 * time.Second
	instrumentation  = "github.com/bturcanu/opentoolbox/pkg/transport"
)

// Config is the construction-time configuration of a Client.
type Config struct {
	// Name labels spans and metrics, e.g. "stripe".
	Name       string
	BaseURL    string
	APIVersion string
	Auth       Auth
	// Headers and Query are merged into every request; request values win.
	Headers    map[string]string
	Query      map[string]string
	Timeout    time.Duration
	HTTPClient *http.Client
	// Classifier defaults to StatusClassifier.
	Classifier Classifier
	UserAgent  string
}

// Part is one multipart/form-data section. A Part with FileName set is sent
// as a file.
type Part struct {
	FieldName   string
	FileName    string
	ContentType string
	Content     io.Reader
}

// Request describes one outbound call. At most one of JSON, Form, Multipart
// or Body is used, in that order of precedence.
type Request struct {
	Method      string
	Path        string
	Query       url.Values
	Header      http.Header
	JSON        any
	Form        url.Values
	Multipart   []Part
	Body        io.Reader
	ContentType string
}

// Response is a fully-read upstream response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Decode unmarshals the body into out. An empty body leaves out untouched.
func (r *Response) Decode(out any) error {
	if len(bytes.TrimSpace(r.Body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Body, out); err != nil {
		return fmt.Errorf("transport.Response decode: %w", err)
	}
	return nil
}

// Client is immutable after New and safe for concurrent use.
type Client struct {
	cfg        Config
	httpClient *http.Client
	classifier Classifier
	tracer     trace.Tracer
	requests   metric.Int64Counter
	duration   metric.Float64Histogram
}

// New builds a Client. Header and query maps are copied.
func New(cfg Config) *Client {
	cfg.Headers = copyMap(cfg.Headers)
	cfg.Query = copyMap(cfg.Query)
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	classifier := cfg.Classifier
	if classifier == nil {
		classifier = StatusClassifier
	}

	meter := otel.Meter(instrumentation)
	requests, _ := meter.Int64Counter("toolbox.transport.requests",
		metric.WithDescription("Outbound adapter requests by vendor and outcome"))
	duration, _ := meter.Float64Histogram("toolbox.transport.duration",
		metric.WithDescription("Outbound adapter request latency"),
		metric.WithUnit("ms"))

	return &Client{
		cfg:        cfg,
		httpClient: hc,
		classifier: classifier,
		tracer:     otel.Tracer(instrumentation),
		requests:   requests,
		duration:   duration,
	}
}

// APIVersion returns the configured API version string.
func (c *Client) APIVersion() string { return c.cfg.APIVersion }

// BaseURL returns the configured base URL without a trailing slash.
func (c *Client) BaseURL() string { return c.cfg.BaseURL }

// Do performs req, reads at most 4 MB of the body and classifies the
// response. Transport failures and classified upstream failures are both
// returned as errors; classified failures are *Error.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	ctx, span := c.tracer.Start(ctx, "transport "+method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("toolbox.vendor", c.cfg.Name),
			attribute.String("http.request.method", method),
		))
	defer span.End()

	start := time.Now()
	resp, err := c.do(ctx, method, req)

	status := "ok"
	code := 0
	if resp != nil {
		code = resp.StatusCode
	}
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.Int("http.response.status_code", code))

	attrs := metric.WithAttributes(
		attribute.String("vendor", c.cfg.Name),
		attribute.String("status", status),
		attribute.String("code", strconv.Itoa(code)),
	)
	if c.requests != nil {
		c.requests.Add(ctx, 1, attrs)
	}
	if c.duration != nil {
		c.duration.Record(ctx, float64(time.Since(start).Microseconds())/1000, attrs)
	}
	return resp, err
}

// JSON is Do followed by decoding the body into out (nil skips decoding).
func (c *Client) JSON(ctx context.Context, req Request, out any) (*Response, error) {
	resp, err := c.Do(ctx, req)
	if err != nil {
		return resp, err
	}
	if out != nil {
		if err := resp.Decode(out); err != nil {
			return resp, err
		}
	}
	return resp, nil
}

func (c *Client) do(ctx context.Context, method string, req Request) (*Response, error) {
	u, err := c.resolve(req.Path)
	if err != nil {
		return nil, err
	}

	q := u.Query()
	for k, v := range c.cfg.Query {
		q.Set(k, v)
	}
	for k, vs := range req.Query {
		q.Del(k)
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()

	body, contentType, err := encodeBody(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("transport.Do new request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if c.cfg.UserAgent != "" {
		httpReq.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	for k, v := range c.cfg.Headers {
		httpReq.Header.Set(k, v)
	}
	for k, vs := range req.Header {
		httpReq.Header.Del(k)
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if c.cfg.Auth != nil {
		c.cfg.Auth.Apply(httpReq)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("transport.Do read response: %w", err)
	}

	resp := &Response{StatusCode: httpResp.StatusCode, Header: httpResp.Header, Body: raw}
	if err := c.classifier.Classify(resp); err != nil {
		return resp, err
	}
	return resp, nil
}

// resolve joins the base URL and an already-escaped path, refusing dot
// segments. An absolute URL is used as-is.
func (c *Client) resolve(path string) (*url.URL, error) {
	full := path
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		if path != "" && !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
		if err := checkSegments(path); err != nil {
			return nil, err
		}
		full = c.cfg.BaseURL + path
	}
	u, err := url.Parse(full)
	if err != nil {
		return nil, fmt.Errorf("transport.Do parse url: %w", err)
	}
	return u, nil
}

func encodeBody(req Request) (io.Reader, string, error) {
	switch {
	case req.JSON != nil:
		b, err := json.Marshal(req.JSON)
		if err != nil {
			return nil, "", fmt.Errorf("transport.Do marshal: %w", err)
		}
		return bytes.NewReader(b), "application/json", nil
	case req.Form != nil:
		return strings.NewReader(req.Form.Encode()), "application/x-www-form-urlencoded", nil
	case len(req.Multipart) > 0:
		return encodeMultipart(req.Multipart)
	case req.Body != nil:
		return req.Body, req.ContentType, nil
	}
	return nil, "", nil
}

func encodeMultipart(parts []Part) (io.Reader, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, p := range parts {
		h := make(textproto.MIMEHeader)
		disposition := fmt.Sprintf(`form-data; name=%q`, p.FieldName)
		if p.FileName != "" {
			disposition += fmt.Sprintf(`; filename=%q`, p.FileName)
		}
		h.Set("Content-Disposition", disposition)
		if p.ContentType != "" {
			h.Set("Content-Type", p.ContentType)
		} else if p.FileName != "" {
			h.Set("Content-Type", "application/octet-stream")
		}
		w, err := mw.CreatePart(h)
		if err != nil {
			return nil, "", fmt.Errorf("transport.Do multipart part: %w", err)
		}
		if p.Content != nil {
			if _, err := io.Copy(w, p.Content); err != nil {
				return nil, "", fmt.Errorf("transport.Do multipart copy: %w", err)
			}
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("transport.Do multipart close: %w", err)
	}
	return &buf, mw.FormDataContentType(), nil
}

func copyMap(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
