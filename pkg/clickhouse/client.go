package clickhouse

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/ethpandaops/gridstat/pkg/observability"
	"github.com/sirupsen/logrus"
)

// Define static errors
var (
	ErrDataMustBeSlice    = errors.New("data must be a slice")
	ErrClickHouseResponse = errors.New("clickhouse error")
)

// clickhouseResponse represents the JSON response from ClickHouse HTTP interface.
type clickhouseResponse struct {
	Data []json.RawMessage `json:"data"`
	Rows int               `json:"rows"`
}

// ClientInterface defines the methods for interacting with ClickHouse
type ClientInterface interface {
	// QueryOne executes a query and decodes the first row into dest
	QueryOne(ctx context.Context, query string, dest interface{}) error
	// Execute runs a query and returns the raw response body
	Execute(ctx context.Context, query string) ([]byte, error)
	// BulkInsert inserts a slice of rows as JSONEachRow
	BulkInsert(ctx context.Context, table string, data interface{}) error
	// Start checks connectivity
	Start(ctx context.Context) error
	// Stop closes idle connections
	Stop() error
}

// client implements the ClientInterface using HTTP
type client struct {
	log           logrus.FieldLogger
	httpClient    *http.Client
	baseURL       string
	debug         bool
	queryTimeout  time.Duration
	insertTimeout time.Duration
}

// NewClient creates a new HTTP-based ClickHouse client
func NewClient(log logrus.FieldLogger, cfg *Config) (ClientInterface, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("invalid config: %w", ErrURLRequired)
	}

	cfg.SetDefaults()

	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     cfg.KeepAlive,
	}

	return &client{
		log:           log.WithField("component", "clickhouse-http"),
		httpClient:    &http.Client{Transport: transport},
		baseURL:       strings.TrimRight(cfg.URL, "/"),
		debug:         cfg.Debug,
		queryTimeout:  cfg.QueryTimeout,
		insertTimeout: cfg.InsertTimeout,
	}, nil
}

func (c *client) Start(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := c.Execute(ctx, "SELECT 1"); err != nil {
		return fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	c.log.Info("Connected to ClickHouse HTTP interface")

	return nil
}

func (c *client) Stop() error {
	c.httpClient.CloseIdleConnections()

	c.log.Info("Closed ClickHouse HTTP client")

	return nil
}

func (c *client) QueryOne(ctx context.Context, query string, dest interface{}) error {
	resp, err := c.do(ctx, "select", query+" FORMAT JSON", c.timeout(ctx, c.queryTimeout))
	if err != nil {
		return fmt.Errorf("query execution failed: %w", err)
	}

	var result clickhouseResponse
	if err := json.Unmarshal(resp, &result); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if len(result.Data) == 0 {
		return nil
	}

	if err := json.Unmarshal(result.Data[0], dest); err != nil {
		return fmt.Errorf("failed to unmarshal result: %w", err)
	}

	return nil
}

func (c *client) Execute(ctx context.Context, query string) ([]byte, error) {
	body, err := c.do(ctx, "execute", query, c.timeout(ctx, c.queryTimeout))
	if err != nil {
		return nil, fmt.Errorf("execution failed: %w", err)
	}

	return body, nil
}

func (c *client) BulkInsert(ctx context.Context, table string, data interface{}) error {
	rows := reflect.ValueOf(data)
	if rows.Kind() != reflect.Slice {
		return ErrDataMustBeSlice
	}

	if rows.Len() == 0 {
		return nil
	}

	var buf bytes.Buffer

	fmt.Fprintf(&buf, "INSERT INTO %s FORMAT JSONEachRow\n", table)

	for i := 0; i < rows.Len(); i++ {
		line, err := json.Marshal(rows.Index(i).Interface())
		if err != nil {
			return fmt.Errorf("failed to marshal row %d: %w", i, err)
		}

		buf.Write(line)
		buf.WriteByte('\n')
	}

	if _, err := c.do(ctx, "insert", buf.String(), c.timeout(ctx, c.insertTimeout)); err != nil {
		return fmt.Errorf("bulk insert failed: %w", err)
	}

	return nil
}

func (c *client) do(ctx context.Context, kind, query string, timeout time.Duration) (body []byte, err error) {
	start := time.Now()

	defer func() {
		status := "success"
		if err != nil {
			status = "error"
		}

		observability.RecordClickHouseQuery(kind, status, time.Since(start).Seconds())
	}()

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL, strings.NewReader(query))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "text/plain")

	if c.debug {
		c.log.WithField("query", truncateQuery(query)).Debug("Executing ClickHouse query")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.log.WithError(closeErr).Debug("Failed to close response body")
		}
	}()

	body, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errorResp struct {
			Exception string `json:"exception"`
		}

		if jsonErr := json.Unmarshal(body, &errorResp); jsonErr == nil && errorResp.Exception != "" {
			return nil, fmt.Errorf("%w (status %d): %s", ErrClickHouseResponse, resp.StatusCode, errorResp.Exception)
		}

		return nil, fmt.Errorf("%w (status %d): %s", ErrClickHouseResponse, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return body, nil
}

// timeout prefers the caller's deadline over the configured default
func (c *client) timeout(ctx context.Context, fallback time.Duration) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		return time.Until(deadline)
	}

	return fallback
}

// truncateQuery shortens long queries (mostly inserts) for debug logs
func truncateQuery(query string) string {
	const limit = 500

	if len(query) <= limit {
		return query
	}

	return query[:limit] + "..."
}
