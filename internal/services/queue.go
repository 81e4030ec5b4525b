package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Riboost-Studio/print-queue-agent/internal/model"
)

const (
	queuePath          = "/functions/v1/printer-queue"
	defaultHTTPTimeout = 10 * time.Second
	maxResponseBytes   = 8 << 20
)

// --- Remote Queue API ---

// QueueClient talks to the remote printer-queue function for one organization.
type QueueClient struct {
	endpoint   string
	orgID      string
	token      string
	httpClient *http.Client
	log        *zap.Logger
}

// NewQueueClient builds a client whose connect and read phases are each
// bounded by the poller timeouts.
func NewQueueClient(cfg model.AgentConfig, poller model.PollerConfig, log *zap.Logger) *QueueClient {
	connectTimeout := poller.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = defaultHTTPTimeout
	}
	readTimeout := poller.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = defaultHTTPTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: connectTimeout}).DialContext,
		TLSHandshakeTimeout:   connectTimeout,
		ResponseHeaderTimeout: readTimeout,
		MaxIdleConns:          4,
		IdleConnTimeout:       90 * time.Second,
	}

	return &QueueClient{
		endpoint: strings.TrimSuffix(cfg.BaseURL, "/") + queuePath,
		orgID:    cfg.OrgID,
		token:    cfg.AuthToken,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   connectTimeout + readTimeout,
		},
		log: log,
	}
}

// jobRecord mirrors one queue row; pointers tell absent fields from empty ones.
type jobRecord struct {
	ID      *string `json:"id"`
	Content *string `json:"conteudo_txt"`
}

// FetchPending lists the organization's pending jobs in queue order. Any
// malformed record fails the whole fetch.
func (c *QueueClient) FetchPending(ctx context.Context) ([]model.PrintJob, error) {
	u := c.endpoint + "?" + url.Values{"org_id": {c.orgID}}.Encode()
	req, err := c.newRequest(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRemoteUnreachable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrRemoteUnreachable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %d: %s", ErrRemoteBadStatus, resp.StatusCode, truncate(body, 200))
	}

	var records []json.RawMessage
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	jobs := make([]model.PrintJob, 0, len(records))
	for i, raw := range records {
		var rec jobRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("%w: record %d: %v", ErrMalformedResponse, i, err)
		}
		if rec.ID == nil || *rec.ID == "" {
			return nil, fmt.Errorf("%w: record %d: missing id", ErrMalformedResponse, i)
		}
		if rec.Content == nil {
			return nil, fmt.Errorf("%w: record %d: missing conteudo_txt", ErrMalformedResponse, i)
		}
		jobs = append(jobs, model.PrintJob{ID: *rec.ID, Content: *rec.Content})
	}
	return jobs, nil
}

// MarkPrinted acknowledges a job. Only a 200 counts as acknowledged.
func (c *QueueClient) MarkPrinted(ctx context.Context, jobID string) error {
	payload, err := json.Marshal(model.MarkPrintedRequest{ID: jobID})
	if err != nil {
		return err
	}
	req, err := c.newRequest(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRemoteUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%w: %d: %s", ErrRemoteBadStatus, resp.StatusCode, truncate(body, 200))
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
	return nil
}

func (c *QueueClient) newRequest(ctx context.Context, method, u string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "print-queue-agent/"+model.AppVersionFromContext(ctx))
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if runID := model.RunIDFromContext(ctx); runID != "" {
		req.Header.Set("X-Agent-Run-ID", runID)
	}
	return req, nil
}

func truncate(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
