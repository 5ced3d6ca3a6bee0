package query

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"opspulse.app/reporter/common/logger"
	"opspulse.app/reporter/internal/model"
)

// LogsClient executes a raw query against one workspace and returns the
// normalized result table. Implementations classify failures via QueryError.
type LogsClient interface {
	Query(ctx context.Context, workspaceID, query string, start, end time.Time) (model.QueryResult, error)
}

// TokenProvider supplies the bearer token for the logs API. Credential
// acquisition itself (managed identity, client secrets) lives outside this
// service; the default provider hands back a statically configured token.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// StaticTokenProvider returns a fixed token from configuration.
type StaticTokenProvider string

func (p StaticTokenProvider) Token(_ context.Context) (string, error) {
	if p == "" {
		return "", fmt.Errorf("logs API token is not configured")
	}
	return string(p), nil
}

// HTTPLogsClient talks to the log-analytics query REST API
// (POST {base}/v1/workspaces/{id}/query).
type HTTPLogsClient struct {
	baseURL string
	tokens  TokenProvider
	client  *http.Client
}

func NewHTTPLogsClient(baseURL string, tokens TokenProvider, client *http.Client) *HTTPLogsClient {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &HTTPLogsClient{
		baseURL: baseURL,
		tokens:  tokens,
		client:  client,
	}
}

type queryRequest struct {
	Query    string `json:"query"`
	Timespan string `json:"timespan"`
}

type queryResponse struct {
	Tables []struct {
		Name    string `json:"name"`
		Columns []struct {
			Name string `json:"name"`
			Type string `json:"type"`
		} `json:"columns"`
		Rows [][]any `json:"rows"`
	} `json:"tables"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *HTTPLogsClient) Query(ctx context.Context, workspaceID, query string, start, end time.Time) (model.QueryResult, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component:   "reporter.query.logs_client",
		WorkspaceID: logger.Ptr(workspaceID),
	})

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return model.QueryResult{}, Permanent(workspaceID, fmt.Errorf("acquiring token: %w", err))
	}

	body, err := json.Marshal(queryRequest{
		Query:    query,
		Timespan: fmt.Sprintf("%s/%s", start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339)),
	})
	if err != nil {
		return model.QueryResult{}, Permanent(workspaceID, fmt.Errorf("encoding request: %w", err))
	}

	url := fmt.Sprintf("%s/v1/workspaces/%s/query", c.baseURL, workspaceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return model.QueryResult{}, Permanent(workspaceID, fmt.Errorf("building request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		// Network-level failures are worth retrying.
		return model.QueryResult{}, Transient(workspaceID, fmt.Errorf("executing request: %w", err))
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return model.QueryResult{}, Transient(workspaceID, fmt.Errorf("reading response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("logs API returned %d: %s", resp.StatusCode, logger.Truncate(string(payload), 512))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return model.QueryResult{}, Transient(workspaceID, err)
		}
		return model.QueryResult{}, Permanent(workspaceID, err)
	}

	var parsed queryResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return model.QueryResult{}, Permanent(workspaceID, fmt.Errorf("decoding response: %w", err))
	}

	if parsed.Error != nil {
		return model.QueryResult{}, Permanent(workspaceID, fmt.Errorf("logs API error %s: %s", parsed.Error.Code, parsed.Error.Message))
	}

	if len(parsed.Tables) == 0 {
		return model.QueryResult{}, Permanent(workspaceID, fmt.Errorf("logs API returned no tables"))
	}

	// The query API returns the primary result as the first table.
	table := parsed.Tables[0]
	if len(table.Columns) == 0 {
		return model.QueryResult{}, Permanent(workspaceID, fmt.Errorf("logs API returned table %q with no columns", table.Name))
	}

	columns := make([]model.Column, 0, len(table.Columns))
	for _, col := range table.Columns {
		columns = append(columns, model.Column{Name: col.Name, Type: col.Type})
	}

	slog.DebugContext(ctx, "query returned rows", "rows", len(table.Rows), "columns", len(columns))

	return model.QueryResult{
		Columns:   columns,
		Rows:      table.Rows,
		FetchedAt: time.Now().UTC(),
	}, nil
}
