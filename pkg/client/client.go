// Package client talks to a running "updatr serve" over its HTTP API.
package client

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/loykin/updatr/internal/activity"
	"github.com/loykin/updatr/internal/gitprobe"
	"github.com/loykin/updatr/internal/installer"
)

// Client provides HTTP client functionality to communicate with the updatr server
type Client struct {
	baseURL string
	client  *http.Client
	stream  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL  string
	Timeout  time.Duration
	Logger   *slog.Logger // Optional logger for client operations
	CACert   string       // CA certificate file for https base URLs
	Insecure bool         // Skip TLS verification
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://127.0.0.1:8089",
		Timeout: 10 * time.Second,
	}
}

// New creates a new updatr API client
func New(config Config) *Client {
	def := DefaultConfig()
	if config.BaseURL == "" {
		config.BaseURL = def.BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = def.Timeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	transport := &http.Transport{}
	if config.CACert != "" || config.Insecure {
		tlsConfig, err := setupClientTLS(config)
		if err != nil {
			config.Logger.Error("TLS setup failed", "error", err)
		} else {
			transport.TLSClientConfig = tlsConfig
		}
	}

	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		logger:  config.Logger,
		client:  &http.Client{Timeout: config.Timeout, Transport: transport},
		// the event stream stays open; only the request context ends it
		stream: &http.Client{Transport: transport},
	}
}

// IsReachable checks if the server is running and reachable
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/settings", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("server unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// Status returns the server's last status; refresh makes it probe first.
func (c *Client) Status(ctx context.Context, refresh bool) (gitprobe.RepoStatus, error) {
	var st gitprobe.RepoStatus
	path := "/status"
	if refresh {
		path += "?refresh=1"
	}
	err := c.getJSON(ctx, path, &st)
	return st, err
}

// Commits lists the commits the server would pull.
func (c *Client) Commits(ctx context.Context) ([]gitprobe.Commit, error) {
	var out []gitprobe.Commit
	err := c.getJSON(ctx, "/commits", &out)
	return out, err
}

// Update starts an update on the server.
func (c *Client) Update(ctx context.Context) error {
	return c.doRequest(ctx, http.MethodPost, c.baseURL+"/update", nil, nil)
}

// Install starts the installer steps on the server.
func (c *Client) Install(ctx context.Context) error {
	return c.doRequest(ctx, http.MethodPost, c.baseURL+"/install", nil, nil)
}

// Report returns the last finished operation, or nil when there is none.
func (c *Client) Report(ctx context.Context) (*installer.Report, error) {
	var rep installer.Report
	err := c.getJSON(ctx, "/report", &rep)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rep, nil
}

// Send writes text to the server's running child.
func (c *Client) Send(ctx context.Context, text string) error {
	body, err := json.Marshal(InputRequest{Text: text})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	return c.doRequest(ctx, http.MethodPost, c.baseURL+"/input", body, nil)
}

// Interrupt sends SIGINT to the server's running child.
func (c *Client) Interrupt(ctx context.Context) error {
	return c.doRequest(ctx, http.MethodPost, c.baseURL+"/interrupt", nil, nil)
}

// Activity returns session activity after the entry with id since ("" for all).
func (c *Client) Activity(ctx context.Context, since string) ([]activity.Entry, error) {
	var out []activity.Entry
	path := "/activity"
	if since != "" {
		path += "?since=" + url.QueryEscape(since)
	}
	err := c.getJSON(ctx, path, &out)
	return out, err
}

// Events follows GET /events and calls fn for each event until fn returns
// false, the stream ends or ctx is done.
func (c *Client) Events(ctx context.Context, fn func(Event) bool) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/events", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.stream.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return c.handleErrorResponse(resp)
	}
	return readEvents(resp.Body, fn)
}

// readEvents parses a text/event-stream body. Only data lines matter; the
// envelope carries its own kind.
func readEvents(r io.Reader, fn func(Event) bool) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	var data strings.Builder
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		case line == "":
			if data.Len() == 0 {
				continue
			}
			var ev Event
			err := json.Unmarshal([]byte(data.String()), &ev)
			data.Reset()
			if err != nil {
				continue
			}
			if !fn(ev) {
				return nil
			}
		}
	}
	if err := sc.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// setupClientTLS configures TLS settings for HTTP client
func setupClientTLS(config Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	if config.Insecure {
		// #nosec G402
		tlsConfig.InsecureSkipVerify = true
		return tlsConfig, nil
	}
	if err := loadCACert(tlsConfig, config.CACert); err != nil {
		return nil, fmt.Errorf("failed to load CA certificate: %w", err)
	}
	return tlsConfig, nil
}

// loadCACert loads CA certificate from file and adds it to TLS config
func loadCACert(tlsConfig *tls.Config, caCertPath string) error {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return fmt.Errorf("failed to read CA certificate file: %w", err)
	}
	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return fmt.Errorf("failed to parse CA certificate")
	}
	tlsConfig.RootCAs = caCertPool
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	return c.doRequest(ctx, http.MethodGet, c.baseURL+path, nil, out)
}

// doRequest performs HTTP request with common error handling and decodes a
// successful body into out when it is not nil.
func (c *Client) doRequest(ctx context.Context, method, url string, body []byte, out any) error {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("HTTP request failed", "error", err, "url", url)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := c.handleErrorResponse(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// handleErrorResponse turns non-2xx responses into *APIError
func (c *Client) handleErrorResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	var errorResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errorResp); err != nil {
		return &APIError{Status: resp.StatusCode}
	}
	c.logger.Debug("API request failed", "error", errorResp.Error, "status", resp.StatusCode)
	return &APIError{Status: resp.StatusCode, Message: errorResp.Error}
}
