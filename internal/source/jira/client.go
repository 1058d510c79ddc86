package jira

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/nhle/jira-transitions/internal/source"
)

// defaultTimeout bounds a single request when ClientConfig leaves it unset.
const defaultTimeout = 30 * time.Second

// ClientConfig holds everything needed to build an HTTP session against a
// Jira instance. It replaces any process-wide session state.
type ClientConfig struct {
	// BaseURL is the root URL of the Jira instance
	// (e.g., https://jira.corp.example.com).
	BaseURL string

	// Username and Token are sent as HTTP Basic credentials.
	Username string
	Token    string

	// CAPath optionally names a PEM file whose certificates are trusted in
	// addition to the system roots.
	CAPath string

	Timeout   time.Duration
	UserAgent string
}

// Client is a thin HTTP client for the Jira REST API v2.
// It handles Basic authentication, JSON marshaling and error
// classification. It does not retry.
type Client struct {
	baseURL    string
	username   string
	token      string
	userAgent  string
	httpClient *http.Client
}

// NewClient creates a new Jira HTTP client from cfg.
func NewClient(cfg ClientConfig) (*Client, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.CAPath != "" {
		pool, err := loadCertPool(cfg.CAPath)
		if err != nil {
			return nil, err
		}
		transport.TLSClientConfig = &tls.Config{
			RootCAs:    pool,
			MinVersion: tls.VersionTLS12,
		}
	}

	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		username:  cfg.Username,
		token:     cfg.Token,
		userAgent: cfg.UserAgent,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
	}, nil
}

// loadCertPool returns the system pool extended with the certificates in
// the PEM file at path.
func loadCertPool(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading CA file: %w", err)
	}

	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no PEM certificates found in %s", path)
	}
	return pool, nil
}

// Get performs an HTTP GET request and unmarshals the JSON response.
func (c *Client) Get(
	ctx context.Context,
	path string,
	result interface{},
) error {
	return c.do(ctx, http.MethodGet, path, nil, result)
}

// Post performs an HTTP POST request with a JSON body and unmarshals
// the JSON response.
func (c *Client) Post(
	ctx context.Context,
	path string,
	body interface{},
	result interface{},
) error {
	return c.do(ctx, http.MethodPost, path, body, result)
}

// do builds the request, applies auth and classifies the response.
func (c *Client) do(
	ctx context.Context,
	method string,
	path string,
	body interface{},
	result interface{},
) error {
	url := c.baseURL + path

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.SetBasicAuth(c.username, c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &source.TransportError{Method: method, Path: path, Err: err}
	}

	respBody, readErr := io.ReadAll(resp.Body)
	resp.Body.Close()
	if readErr != nil {
		return &source.TransportError{Method: method, Path: path, Err: readErr}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.statusError(method, path, resp.StatusCode, respBody)
	}

	// No content to parse (e.g. 204).
	if result == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf(
			"unmarshaling response from %s %s: %w",
			method, path, err,
		)
	}

	return nil
}

// statusError maps a non-2xx response to the matching source error type.
func (c *Client) statusError(method, path string, status int, body []byte) error {
	messages := errorMessages(body)

	switch status {
	case http.StatusUnauthorized:
		return &source.AuthError{
			StatusCode: status,
			Message: fmt.Sprintf(
				"authentication failed: check the username and API token for %s", c.baseURL,
			),
		}
	case http.StatusForbidden:
		msg := "access denied"
		if len(messages) > 0 {
			msg = strings.Join(messages, "; ")
		}
		return &source.AuthError{StatusCode: status, Message: msg}
	}

	text := strings.TrimSpace(string(body))
	if len(messages) > 0 {
		text = strings.Join(messages, "; ")
	}
	return &source.StatusError{
		Method:     method,
		Path:       path,
		StatusCode: status,
		Body:       text,
	}
}

// errorMessages extracts the messages of a standard Jira error body.
func errorMessages(body []byte) []string {
	var jiraErr ErrorResponse
	if json.Unmarshal(body, &jiraErr) != nil {
		return nil
	}

	messages := append([]string(nil), jiraErr.ErrorMessages...)
	for _, field := range slices.Sorted(maps.Keys(jiraErr.Errors)) {
		messages = append(messages, field+": "+jiraErr.Errors[field])
	}
	return messages
}

// asQueryError converts a 400 response to a search into a QueryError.
func asQueryError(err error, jql string) error {
	var statusErr *source.StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusBadRequest {
		return &source.QueryError{Query: jql, Messages: []string{statusErr.Body}}
	}
	return err
}
