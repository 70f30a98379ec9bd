// Package googlesheets reads and appends spreadsheet values through the
// Google Sheets v4 API. Requests are authorised by an oauth2.TokenSource;
// failures are reported as records with success=false.
package googlesheets

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"

	"github.com/bturcanu/opentoolbox/pkg/connectors"
	"github.com/bturcanu/opentoolbox/pkg/transport"
)

const DefaultBaseURL = "https://sheets.googleapis.com"

var valueInputOptions = []string{"USER_ENTERED", "RAW"}

type Config struct {
	BaseURL string
	// AccessToken is used as a static token when TokenSource is nil.
	AccessToken string
	TokenSource oauth2.TokenSource
	Headers     map[string]string
	Query       map[string]string
	Timeout     time.Duration
	// HTTPClient is the base client the oauth2 transport wraps.
	HTTPClient *http.Client
}

type Connector struct {
	client *transport.Client
}

func New(cfg Config) *Connector {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	ts := cfg.TokenSource
	if ts == nil {
		ts = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.AccessToken, TokenType: "Bearer"})
	}
	ctx := context.Background()
	if cfg.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, cfg.HTTPClient)
	}
	hc := oauth2.NewClient(ctx, ts)
	hc.Timeout = cfg.Timeout
	if hc.Timeout <= 0 {
		hc.Timeout = 15 * time.Second
	}
	return &Connector{client: transport.New(transport.Config{
		Name:       "googlesheets",
		BaseURL:    cfg.BaseURL,
		Headers:    cfg.Headers,
		Query:      cfg.Query,
		HTTPClient: hc,
		Classifier: classifier,
	})}
}

// classifier: {"error":{"code":400,"message":"...","status":"INVALID_ARGUMENT"}}
var classifier = transport.ClassifierFunc(func(resp *transport.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	e := &transport.Error{StatusCode: resp.StatusCode, Message: transport.MessageFromBody(resp.Body)}
	if inner, ok := transport.BodyObject(resp.Body)["error"].(map[string]any); ok {
		e.Code = transport.String(inner, "status")
	}
	return e
})

func (c *Connector) Name() string { return "sheets" }

func (c *Connector) Operations() []connectors.Operation {
	spreadsheetID := connectors.Param{Name: "spreadsheet_id", Type: connectors.TypeString, Required: true}
	rng := connectors.Param{Name: "range", Type: connectors.TypeString, Description: "A1 notation, e.g. Sheet1!A1:D10", Required: true}
	return []connectors.Operation{
		connectors.RecordOp(connectors.Operation{
			Name:        "sheets_get_spreadsheet",
			Description: "Get spreadsheet metadata and its sheets.",
			ReadOnly:    true,
			Params:      []connectors.Param{spreadsheetID},
		}, c.getSpreadsheet, failedSpreadsheet),
		connectors.RecordOp(connectors.Operation{
			Name:        "sheets_read_range",
			Description: "Read the values in a range.",
			ReadOnly:    true,
			Params: []connectors.Param{
				spreadsheetID, rng,
				{Name: "major_dimension", Type: connectors.TypeString, Enum: []string{"ROWS", "COLUMNS"}, Default: "ROWS"},
			},
		}, c.readRange, failedRange),
		connectors.RecordOp(connectors.Operation{
			Name:        "sheets_append_values",
			Description: "Append rows after the last row of a table in a range.",
			Params: []connectors.Param{
				spreadsheetID, rng,
				{Name: "values", Type: connectors.TypeArray, Items: connectors.TypeArray, Description: "Rows of cell values", Required: true},
				{Name: "value_input_option", Type: connectors.TypeString, Enum: valueInputOptions, Default: "USER_ENTERED"},
			},
		}, c.appendValues, failedAppend),
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Spreadsheet metadata
// ──────────────────────────────────────────────────────────────────────────────

type Sheet struct {
	SheetID     int64  `json:"sheet_id"`
	Title       string `json:"title"`
	Index       int    `json:"index"`
	RowCount    int    `json:"row_count"`
	ColumnCount int    `json:"column_count"`
}

type Spreadsheet struct {
	Success       bool    `json:"success"`
	SpreadsheetID string  `json:"spreadsheet_id"`
	Title         string  `json:"title"`
	Locale        string  `json:"locale"`
	TimeZone      string  `json:"time_zone"`
	URL           string  `json:"url"`
	Sheets        []Sheet `json:"sheets"`
	Error         string  `json:"error"`
}

func failedSpreadsheet(msg string) Spreadsheet {
	return Spreadsheet{Sheets: []Sheet{}, Error: msg}
}

type spreadsheetParams struct {
	SpreadsheetID string `json:"spreadsheet_id"`
}

func (c *Connector) getSpreadsheet(ctx context.Context, p spreadsheetParams) (Spreadsheet, error) {
	var out struct {
		SpreadsheetID  string `json:"spreadsheetId"`
		SpreadsheetURL string `json:"spreadsheetUrl"`
		Properties     struct {
			Title    string `json:"title"`
			Locale   string `json:"locale"`
			TimeZone string `json:"timeZone"`
		} `json:"properties"`
		Sheets []struct {
			Properties struct {
				SheetID        int64  `json:"sheetId"`
				Title          string `json:"title"`
				Index          int    `json:"index"`
				GridProperties struct {
					RowCount    int `json:"rowCount"`
					ColumnCount int `json:"columnCount"`
				} `json:"gridProperties"`
			} `json:"properties"`
		} `json:"sheets"`
	}
	req := transport.Request{
		Path:  transport.PathEscape("/v4/spreadsheets/%s", p.SpreadsheetID),
		Query: url.Values{"fields": {"spreadsheetId,spreadsheetUrl,properties(title,locale,timeZone),sheets.properties"}},
	}
	if _, err := c.client.JSON(ctx, req, &out); err != nil {
		return Spreadsheet{}, err
	}
	res := Spreadsheet{
		Success:       true,
		SpreadsheetID: out.SpreadsheetID,
		Title:         out.Properties.Title,
		Locale:        out.Properties.Locale,
		TimeZone:      out.Properties.TimeZone,
		URL:           out.SpreadsheetURL,
		Sheets:        make([]Sheet, 0, len(out.Sheets)),
	}
	for _, s := range out.Sheets {
		res.Sheets = append(res.Sheets, Sheet{
			SheetID:     s.Properties.SheetID,
			Title:       s.Properties.Title,
			Index:       s.Properties.Index,
			RowCount:    s.Properties.GridProperties.RowCount,
			ColumnCount: s.Properties.GridProperties.ColumnCount,
		})
	}
	return res, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Values
// ──────────────────────────────────────────────────────────────────────────────

type ValueRange struct {
	Success        bool    `json:"success"`
	Range          string  `json:"range"`
	MajorDimension string  `json:"major_dimension"`
	Values         [][]any `json:"values"`
	Error          string  `json:"error"`
}

func failedRange(msg string) ValueRange {
	return ValueRange{Values: [][]any{}, Error: msg}
}

type readParams struct {
	SpreadsheetID  string `json:"spreadsheet_id"`
	Range          string `json:"range"`
	MajorDimension string `json:"major_dimension"`
}

func (c *Connector) readRange(ctx context.Context, p readParams) (ValueRange, error) {
	dim := p.MajorDimension
	if dim == "" {
		dim = "ROWS"
	}
	var out struct {
		Range          string  `json:"range"`
		MajorDimension string  `json:"majorDimension"`
		Values         [][]any `json:"values"`
	}
	req := transport.Request{
		Path:  transport.PathEscape("/v4/spreadsheets/%s/values/%s", p.SpreadsheetID, p.Range),
		Query: url.Values{"majorDimension": {dim}},
	}
	if _, err := c.client.JSON(ctx, req, &out); err != nil {
		return ValueRange{}, err
	}
	res := ValueRange{Success: true, Range: out.Range, MajorDimension: out.MajorDimension, Values: out.Values}
	if res.MajorDimension == "" {
		res.MajorDimension = dim
	}
	// Sheets omits values entirely for an empty range.
	if res.Values == nil {
		res.Values = [][]any{}
	}
	return res, nil
}

type appendParams struct {
	SpreadsheetID    string  `json:"spreadsheet_id"`
	Range            string  `json:"range"`
	Values           [][]any `json:"values"`
	ValueInputOption string  `json:"value_input_option"`
}

type AppendResult struct {
	Success        bool   `json:"success"`
	TableRange     string `json:"table_range"`
	UpdatedRange   string `json:"updated_range"`
	UpdatedRows    int    `json:"updated_rows"`
	UpdatedColumns int    `json:"updated_columns"`
	UpdatedCells   int    `json:"updated_cells"`
	Error          string `json:"error"`
}

func failedAppend(msg string) AppendResult {
	return AppendResult{Error: msg}
}

func (c *Connector) appendValues(ctx context.Context, p appendParams) (AppendResult, error) {
	if len(p.Values) == 0 {
		return AppendResult{}, errors.New("values must contain at least one row")
	}
	option := p.ValueInputOption
	if option == "" {
		option = "USER_ENTERED"
	}
	var out struct {
		TableRange string `json:"tableRange"`
		Updates    struct {
			UpdatedRange   string `json:"updatedRange"`
			UpdatedRows    int    `json:"updatedRows"`
			UpdatedColumns int    `json:"updatedColumns"`
			UpdatedCells   int    `json:"updatedCells"`
		} `json:"updates"`
	}
	req := transport.Request{
		Method: http.MethodPost,
		Path:   transport.PathEscape("/v4/spreadsheets/%s/values/%s", p.SpreadsheetID, p.Range) + ":append",
		Query:  url.Values{"valueInputOption": {option}, "insertDataOption": {"INSERT_ROWS"}},
		JSON:   map[string]any{"majorDimension": "ROWS", "values": p.Values},
	}
	if _, err := c.client.JSON(ctx, req, &out); err != nil {
		return AppendResult{}, err
	}
	return AppendResult{
		Success:        true,
		TableRange:     out.TableRange,
		UpdatedRange:   out.Updates.UpdatedRange,
		UpdatedRows:    out.Updates.UpdatedRows,
		UpdatedColumns: out.Updates.UpdatedColumns,
		UpdatedCells:   out.Updates.UpdatedCells,
	}, nil
}
