// Package sparksql runs queries through the local spark-sql CLI.
package sparksql

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bturcanu/opentoolbox/pkg/connectors"
	"github.com/bturcanu/opentoolbox/pkg/process"
	"github.com/bturcanu/opentoolbox/pkg/transport"
)

const DefaultBinary = "spark-sql"

type Config struct {
	Runner   process.Runner
	Binary   string
	Master   string            // --master, e.g. local[*]
	Database string            // used when a call omits database
	Conf     map[string]string // passed as --conf k=v
	Logger   *slog.Logger
}

type Connector struct {
	runner   process.Runner
	binary   string
	master   string
	database string
	conf     []string
	log      *slog.Logger
}

func New(cfg Config) *Connector {
	if cfg.Runner == nil {
		cfg.Runner = process.ExecRunner{}
	}
	if cfg.Binary == "" {
		cfg.Binary = DefaultBinary
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	conf := make([]string, 0, len(cfg.Conf))
	for k, v := range cfg.Conf {
		conf = append(conf, k+"="+v)
	}
	sort.Strings(conf)
	return &Connector{
		runner:   cfg.Runner,
		binary:   cfg.Binary,
		master:   cfg.Master,
		database: cfg.Database,
		conf:     conf,
		log:      cfg.Logger,
	}
}

func (c *Connector) Name() string { return "spark" }

func (c *Connector) Operations() []connectors.Operation {
	return []connectors.Operation{
		connectors.RecordOp(connectors.Operation{
			Name:        "spark_sql_query",
			Description: "Run a Spark SQL statement and return columns and rows.",
			Params: []connectors.Param{
				{Name: "query", Type: connectors.TypeString, Description: "SQL statement", Required: true},
				{Name: "database", Type: connectors.TypeString, Description: "Database to run against"},
				{Name: "timeout", Type: connectors.TypeInteger, Description: "Timeout in seconds", Range: &connectors.Range{Min: 1, Max: 3600}, Default: 300},
			},
		}, c.query, failedQuery),
		connectors.ListOp(connectors.Operation{
			Name:        "spark_sql_list_tables",
			Description: "List tables in a Spark database.",
			ReadOnly:    true,
			Params: []connectors.Param{
				{Name: "database", Type: connectors.TypeString},
			},
		}, c.listTables),
	}
}

// QueryResult is the record returned by spark_sql_query.
type QueryResult struct {
	Success  bool       `json:"success"`
	QueryID  string     `json:"query_id"`
	Database string     `json:"database"`
	Columns  []string   `json:"columns"`
	Rows     [][]string `json:"rows"`
	RowCount int        `json:"row_count"`
	Error    string     `json:"error"`
}

func failedQuery(msg string) QueryResult {
	return QueryResult{Columns: []string{}, Rows: [][]string{}, Error: msg}
}

type queryParams struct {
	Query    string `json:"query"`
	Database string `json:"database"`
	Timeout  int    `json:"timeout"`
}

func (c *Connector) query(ctx context.Context, p queryParams) (QueryResult, error) {
	db, err := c.resolveDatabase(p.Database)
	if err != nil {
		return QueryResult{}, err
	}
	timeout := time.Duration(transport.ClampDefault(p.Timeout, 300, 1, 3600)) * time.Second

	queryID := uuid.NewString()
	columns, rows, err := c.run(ctx, db, p.Query, timeout)
	if err != nil {
		c.log.Warn("spark-sql query failed", "query_id", queryID, "database", db, "error", err)
		return QueryResult{}, err
	}
	return QueryResult{
		Success:  true,
		QueryID:  queryID,
		Database: db,
		Columns:  columns,
		Rows:     rows,
		RowCount: len(rows),
	}, nil
}

type Table struct {
	Database    string `json:"database"`
	Name        string `json:"name"`
	IsTemporary bool   `json:"is_temporary"`
}

type listTablesParams struct {
	Database string `json:"database"`
}

func (c *Connector) listTables(ctx context.Context, p listTablesParams) ([]Table, error) {
	db, err := c.resolveDatabase(p.Database)
	if err != nil {
		return nil, err
	}
	columns, rows, err := c.run(ctx, db, "SHOW TABLES IN "+quoteIdent(db), 5*time.Minute)
	if err != nil {
		return nil, err
	}

	idx := map[string]int{}
	for i, col := range columns {
		idx[strings.ToLower(col)] = i
	}
	cell := func(row []string, names ...string) string {
		for _, n := range names {
			if i, ok := idx[n]; ok && i < len(row) {
				return row[i]
			}
		}
		return ""
	}

	tables := make([]Table, 0, len(rows))
	for _, row := range rows {
		t := Table{
			Database:    cell(row, "namespace", "database"),
			Name:        cell(row, "tablename"),
			IsTemporary: strings.EqualFold(cell(row, "istemporary"), "true"),
		}
		if t.Database == "" {
			t.Database = db
		}
		tables = append(tables, t)
	}
	return tables, nil
}

func (c *Connector) resolveDatabase(db string) (string, error) {
	db = strings.TrimSpace(db)
	if db == "" {
		db = c.database
	}
	if db == "" {
		return "", errors.New("database name is required")
	}
	return db, nil
}

// run executes one statement with headers enabled and splits the
// tab-separated output into a header row and data rows.
func (c *Connector) run(ctx context.Context, db, statement string, timeout time.Duration) ([]string, [][]string, error) {
	args := []string{"-S", "--hiveconf", "hive.cli.print.header=true", "--database", db}
	if c.master != "" {
		args = append(args, "--master", c.master)
	}
	for _, kv := range c.conf {
		args = append(args, "--conf", kv)
	}
	args = append(args, "-e", statement)

	cmd := process.Command{Name: c.binary, Args: args, Timeout: timeout}
	c.log.Debug("running spark-sql", "command", cmd.String())

	out, err := c.runner.Run(ctx, cmd)
	if err != nil {
		return nil, nil, err
	}
	if out.TimedOut {
		return nil, nil, fmt.Errorf("spark-sql timed out after %v", timeout)
	}
	if out.ExitCode != 0 {
		msg := strings.TrimSpace(out.Stderr)
		if msg == "" {
			msg = fmt.Sprintf("spark-sql exited with code %d", out.ExitCode)
		}
		return nil, nil, errors.New(msg)
	}
	columns, rows := parseTabular(out.Stdout)
	return columns, rows, nil
}

func parseTabular(stdout string) ([]string, [][]string) {
	columns := []string{}
	rows := [][]string{}
	for _, line := range strings.Split(strings.TrimRight(stdout, "\n"), "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(columns) == 0 {
			columns = fields
			continue
		}
		rows = append(rows, fields)
	}
	return columns, rows
}

func quoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}
