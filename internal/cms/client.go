// Package cms is the HTTP client for the content management API the bulk
// editor reads entries from and writes them back to.
package cms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sha1n/mcp-replace-server/internal/domain"
)

const (
	// DefaultBaseURL is the management API endpoint
	DefaultBaseURL = "https://api.contentstack.io"

	// DefaultTimeout bounds a single API call
	DefaultTimeout = 30 * time.Second

	// maxErrorBody limits how much of an error response is read
	maxErrorBody = 64 * 1024
)

var (
	// ErrNotFound indicates the entry or content type does not exist
	ErrNotFound = errors.New("entry not found")

	// ErrVersionConflict indicates the entry changed since it was fetched
	ErrVersionConflict = errors.New("entry version conflict")

	// ErrMissingCredentials indicates the client has no API key
	ErrMissingCredentials = errors.New("cms api key is required")
)

// APIError is a non-success response from the API.
type APIError struct {
	StatusCode int
	Code       int
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("cms api error %d (code %d): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("cms api error %d: %s", e.StatusCode, e.Message)
}

// Is maps status codes onto the package sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrVersionConflict:
		return e.StatusCode == http.StatusConflict || e.StatusCode == http.StatusPreconditionFailed
	}
	return false
}

// Config holds client settings.
type Config struct {
	BaseURL         string
	APIKey          string
	ManagementToken string
	Branch          string
	Locale          string
	Timeout         time.Duration

	// HTTPClient overrides the default client; Timeout is ignored when set.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client reads and writes entries through the management API.
type Client struct {
	baseURL *url.URL
	cfg     Config
	http    *http.Client
	logger  *slog.Logger
}

// NewClient validates cfg and creates a client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingCredentials
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	base, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid cms base url %q", cfg.BaseURL)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{baseURL: base, cfg: cfg, http: httpClient, logger: logger}, nil
}

type entryEnvelope struct {
	Entry map[string]any `json:"entry"`
}

type errorBody struct {
	ErrorMessage string `json:"error_message"`
	ErrorCode    int    `json:"error_code"`
	Message      string `json:"message"`
}

// FetchEntryDraft returns the latest (unpublished) version of an entry.
// Numbers are decoded as json.Number so they round-trip unchanged.
func (c *Client) FetchEntryDraft(ctx context.Context, contentTypeUID, entryUID string) (map[string]any, error) {
	var env entryEnvelope
	if err := c.do(ctx, http.MethodGet, c.entryURL(contentTypeUID, entryUID), nil, &env); err != nil {
		return nil, fmt.Errorf("fetch entry %s/%s: %w", contentTypeUID, entryUID, err)
	}
	if env.Entry == nil {
		return nil, fmt.Errorf("fetch entry %s/%s: response has no entry", contentTypeUID, entryUID)
	}
	return env.Entry, nil
}

// UpdateEntry saves entry. Its _version field, when present, lets the API
// reject the write if the entry changed since it was fetched.
func (c *Client) UpdateEntry(ctx context.Context, contentTypeUID, entryUID string, entry map[string]any) (*domain.EntryRef, error) {
	body, err := json.Marshal(entryEnvelope{Entry: entry})
	if err != nil {
		return nil, fmt.Errorf("failed to encode entry: %w", err)
	}

	var env entryEnvelope
	if err := c.do(ctx, http.MethodPut, c.entryURL(contentTypeUID, entryUID), body, &env); err != nil {
		return nil, fmt.Errorf("update entry %s/%s: %w", contentTypeUID, entryUID, err)
	}

	ref := &domain.EntryRef{UID: entryUID}
	if env.Entry != nil {
		if uid, ok := env.Entry["uid"].(string); ok && uid != "" {
			ref.UID = uid
		}
		if v, ok := domain.EntryVersion(env.Entry); ok {
			ref.Version = v
		}
	}
	return ref, nil
}

func (c *Client) entryURL(contentTypeUID, entryUID string) string {
	u := *c.baseURL
	prefix := u.EscapedPath()
	u.Path = u.Path + "/v3/content_types/" + contentTypeUID + "/entries/" + entryUID
	u.RawPath = prefix + "/v3/content_types/" + url.PathEscape(contentTypeUID) + "/entries/" + url.PathEscape(entryUID)
	if c.cfg.Locale != "" {
		u.RawQuery = url.Values{"locale": {c.cfg.Locale}}.Encode()
	}
	return u.String()
}

func (c *Client) do(ctx context.Context, method, target string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("api_key", c.cfg.APIKey)
	if c.cfg.ManagementToken != "" {
		req.Header.Set("authorization", c.cfg.ManagementToken)
	}
	if c.cfg.Branch != "" {
		req.Header.Set("branch", c.cfg.Branch)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	c.logger.Debug("CMS request", "method", method, "url", target, "status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return readAPIError(resp)
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func readAPIError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	apiErr := &APIError{StatusCode: resp.StatusCode}

	var eb errorBody
	if json.Unmarshal(data, &eb) == nil {
		apiErr.Code = eb.ErrorCode
		apiErr.Message = eb.ErrorMessage
		if apiErr.Message == "" {
			apiErr.Message = eb.Message
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(data))
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}
