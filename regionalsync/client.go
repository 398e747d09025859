package regionalsync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/seplag/regional_sync/models"
	"github.com/sirupsen/logrus"
)

const maxResponseBytes = 8 << 20

// Source yields the current list of regional names from the external system.
type Source interface {
	FetchCurrent(ctx context.Context) (FetchResult, error)
}

type ClientConfig struct {
	URL          string
	APIKey       string
	APIKeyHeader string
	Timeout      time.Duration
	// HTTPClient overrides the default client; Timeout still bounds each request.
	HTTPClient *http.Client
}

// Client reads the regional list over HTTP.
type Client struct {
	url       string
	apiKey    string
	apiKeyHdr string
	timeout   time.Duration
	http      *http.Client
	logger    logrus.FieldLogger
}

func NewClient(cfg ClientConfig, logger logrus.FieldLogger) (*Client, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, errors.New("regional source url is empty")
	}
	hdr := strings.TrimSpace(cfg.APIKeyHeader)
	if hdr == "" {
		hdr = "X-API-Key"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Client{
		url:       url,
		apiKey:    cfg.APIKey,
		apiKeyHdr: hdr,
		timeout:   timeout,
		http:      hc,
		logger:    logger,
	}, nil
}

// FetchCurrent performs one GET against the source and returns the valid names it lists.
// Any failure is a *FetchError.
func (c *Client) FetchCurrent(ctx context.Context) (FetchResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return FetchResult{}, &FetchError{Kind: FetchErrorTransport, Err: err}
	}
	if c.apiKey != "" {
		req.Header.Set(c.apiKeyHdr, c.apiKey)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return FetchResult{}, &FetchError{Kind: FetchErrorTransport, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return FetchResult{}, &FetchError{Kind: FetchErrorTransport, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return FetchResult{}, &FetchError{
			Kind:       FetchErrorStatus,
			StatusCode: resp.StatusCode,
			Err:        errors.New(truncate(strings.TrimSpace(string(body)), 256)),
		}
	}

	result, err := parseRegionals(body, c.logger)
	if err != nil {
		return FetchResult{}, &FetchError{Kind: FetchErrorDecode, Err: err}
	}
	return result, nil
}

// parseRegionals decodes a JSON array of objects carrying "name" (or the legacy "nome").
// Records without a usable string name are discarded, never fatal.
func parseRegionals(body []byte, logger logrus.FieldLogger) (FetchResult, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return FetchResult{}, errors.New("response body is not a JSON array")
	}
	var records []json.RawMessage
	if err := json.Unmarshal(trimmed, &records); err != nil {
		return FetchResult{}, fmt.Errorf("decode regional list: %w", err)
	}

	result := FetchResult{Names: make([]string, 0, len(records)), Received: len(records)}
	for i, raw := range records {
		name, reason := recordName(raw)
		if reason != "" {
			result.Discarded++
			logger.WithFields(logrus.Fields{"index": i, "reason": reason}).Debug("discarding external regional record")
			continue
		}
		result.Names = append(result.Names, name)
	}
	return result, nil
}

func recordName(raw json.RawMessage) (string, string) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return "", "not an object"
	}
	value, ok := fields["name"]
	if !ok {
		value, ok = fields["nome"]
	}
	if !ok {
		return "", "missing name"
	}
	var name *string
	if err := json.Unmarshal(value, &name); err != nil {
		return "", "name is not a string"
	}
	if name == nil {
		return "", "name is null"
	}
	n := strings.TrimSpace(*name)
	if n == "" {
		return "", "name is empty"
	}
	if len([]rune(n)) > models.RegionalNameMaxLength {
		return "", "name too long"
	}
	return n, ""
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
