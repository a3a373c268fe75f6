package messenger

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/mykhaliev/agent-sim/logger"
	"github.com/mykhaliev/agent-sim/model"
	"github.com/yalp/jsonpath"
)

const (
	DefaultHTTPTimeout = 30 * time.Second
	maxErrorBody       = 512
)

// HTTPMessenger posts each message to the messaging gateway as JSON.
type HTTPMessenger struct {
	baseURL   string
	client    *http.Client
	headers   http.Header
	ackPath   string
	endpoints map[string]string
}

func NewHTTPMessenger(cfg model.HTTPConfig, agents []model.Agent) (*HTTPMessenger, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("http messenger requires base_url")
	}
	if strings.TrimSpace(cfg.BaseURL) != cfg.BaseURL {
		return nil, fmt.Errorf("base_url contains leading or trailing whitespace")
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("invalid base_url: must start with http:// or https://, got: %s", cfg.BaseURL)
	}

	timeout := DefaultHTTPTimeout
	if cfg.Timeout != "" {
		d, err := time.ParseDuration(cfg.Timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid http timeout %q: %w", cfg.Timeout, err)
		}
		timeout = d
	}

	endpoints := make(map[string]string)
	for _, a := range agents {
		if a.Endpoint != "" {
			endpoints[a.Name] = a.Endpoint
		}
	}

	return &HTTPMessenger{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		client:    &http.Client{Timeout: timeout},
		headers:   parseHeaders(cfg.Headers),
		ackPath:   cfg.AckPath,
		endpoints: endpoints,
	}, nil
}

func (h *HTTPMessenger) Name() string { return string(model.MessengerHTTP) }

func (h *HTTPMessenger) endpoint(agent string) string {
	if p, ok := h.endpoints[agent]; ok {
		if strings.HasPrefix(p, "http://") || strings.HasPrefix(p, "https://") {
			return p
		}
		return h.baseURL + "/" + strings.TrimLeft(p, "/")
	}
	return h.baseURL + "/agents/" + url.PathEscape(agent) + "/messages"
}

func (h *HTTPMessenger) Send(ctx context.Context, msg *model.Message) (string, error) {
	if err := Validate(msg); err != nil {
		return "", err
	}

	body, err := sonic.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint(msg.To), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	for k, vs := range h.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("post to %s: %w", msg.To, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response from %s: %w", msg.To, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable:
		return "", &BusyError{
			RetryAfter: RetryAfter(resp.Header),
			Reason:     fmt.Sprintf("status %d from %s", resp.StatusCode, msg.To),
		}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return "", fmt.Errorf("agent %s returned status %d: %s", msg.To, resp.StatusCode, truncate(string(respBody), maxErrorBody))
	}

	if h.ackPath == "" || len(respBody) == 0 {
		return msg.ID, nil
	}
	return h.extractAck(respBody, msg.ID), nil
}

// extractAck reads the server-assigned id; it falls back to the local id.
func (h *HTTPMessenger) extractAck(body []byte, fallback string) string {
	var data interface{}
	if err := sonic.Unmarshal(body, &data); err != nil {
		logger.Logger.Warn("Failed to parse ack body", "error", err)
		return fallback
	}
	v, err := jsonpath.Read(data, h.ackPath)
	if err != nil {
		logger.Logger.Warn("Ack path not found", "path", h.ackPath, "error", err)
		return fallback
	}
	id := fmt.Sprint(v)
	if id == "" || id == "<nil>" {
		return fallback
	}
	return id
}

func (h *HTTPMessenger) Close() error {
	h.client.CloseIdleConnections()
	return nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
