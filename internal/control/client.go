package control

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Riboost-Studio/print-queue-agent/internal/model"
	"github.com/Riboost-Studio/print-queue-agent/internal/services"
)

const watchRetryDelay = 5 * time.Second

// Client calls a running agent's control API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        *zap.Logger
}

// NewClient accepts "host:port" or a full http URL.
func NewClient(addr string, log *zap.Logger) *Client {
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		addr = "http://" + addr
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		baseURL:    strings.TrimSuffix(addr, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
		log:        log,
	}
}

func (c *Client) Status(ctx context.Context) (services.Status, error) {
	var st services.Status
	err := c.call(ctx, http.MethodGet, "/status", nil, &st)
	return st, err
}

func (c *Client) Start(ctx context.Context, cfg model.AgentConfig) (services.Status, error) {
	var st services.Status
	err := c.call(ctx, http.MethodPost, "/start", cfg, &st)
	return st, err
}

func (c *Client) Stop(ctx context.Context) (services.Status, error) {
	var st services.Status
	err := c.call(ctx, http.MethodPost, "/stop", nil, &st)
	return st, err
}

// Preview returns the PNG rendering of content.
func (c *Client) Preview(ctx context.Context, content string) ([]byte, error) {
	resp, err := c.do(ctx, http.MethodPost, "/preview", previewRequest{Content: content})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp.StatusCode, body)
	}
	return body, nil
}

// Watch streams events to handle until ctx is done, redialing after the
// stream drops.
func (c *Client) Watch(ctx context.Context, handle func(model.Event)) error {
	wsURL := "ws" + strings.TrimPrefix(c.baseURL, "http") + "/events"
	for {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Warn("event stream dial failed, retrying", zap.Duration("retry_in", watchRetryDelay), zap.Error(err))
		} else {
			c.readEvents(ctx, conn, handle)
			conn.Close()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Info("event stream closed, reconnecting", zap.Duration("retry_in", watchRetryDelay))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(watchRetryDelay):
		}
	}
}

func (c *Client) readEvents(ctx context.Context, conn *websocket.Conn, handle func(model.Event)) {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	for {
		var evt model.Event
		if err := conn.ReadJSON(&evt); err != nil {
			c.log.Debug("event stream read", zap.Error(err))
			return
		}
		handle(evt)
	}
}

func (c *Client) call(ctx context.Context, method, path string, in, out any) error {
	resp, err := c.do(ctx, method, path, in)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return apiError(resp.StatusCode, body)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(body, out)
}

func (c *Client) do(ctx context.Context, method, path string, in any) (*http.Response, error) {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("control API unreachable at %s: %w", c.baseURL, err)
	}
	return resp, nil
}

func apiError(status int, body []byte) error {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return fmt.Errorf("API Error %d: %s", status, e.Error)
	}
	return fmt.Errorf("API Error %d: %s", status, strings.TrimSpace(string(body)))
}
