// Package tracker talks to the Jira server that holds the nightly changelog
// and the fix versions stamped on delivered issues.
package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// basicAuthTransport adds the configured credentials to every request.
type basicAuthTransport struct {
	user, password string
	base           http.RoundTripper
}

func (t *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.SetBasicAuth(t.user, t.password)
	return t.base.RoundTrip(r)
}

// NewHTTPClient returns an http.Client authenticating as user.
func NewHTTPClient(user, password string, timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: &basicAuthTransport{user: user, password: password, base: http.DefaultTransport},
	}
}

// Client is a minimal Jira REST v2 client.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, httpClient *http.Client) *Client {
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}
}

type Comment struct {
	ID   string `json:"id"`
	Body string `json:"body"`
}

type commentPage struct {
	StartAt    int       `json:"startAt"`
	MaxResults int       `json:"maxResults"`
	Total      int       `json:"total"`
	Comments   []Comment `json:"comments"`
}

// Version is the body of POST /rest/api/2/version.
type Version struct {
	Name        string `json:"name"`
	Project     string `json:"project"`
	Released    bool   `json:"released"`
	StartDate   string `json:"startDate,omitempty"`
	ReleaseDate string `json:"releaseDate,omitempty"`
}

// LastComment returns the newest comment on issueKey, or nil if there are
// none.
func (c *Client) LastComment(ctx context.Context, issueKey string) (*Comment, error) {
	endpoint := fmt.Sprintf("%s/rest/api/2/issue/%s/comment", c.baseURL, url.PathEscape(issueKey))

	var page commentPage
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &page, http.StatusOK); err != nil {
		return nil, err
	}
	if page.Total > page.StartAt+len(page.Comments) {
		q := url.Values{"startAt": {strconv.Itoa(page.Total - 1)}, "maxResults": {"1"}}
		page = commentPage{}
		if err := c.do(ctx, http.MethodGet, endpoint+"?"+q.Encode(), nil, &page, http.StatusOK); err != nil {
			return nil, err
		}
	}
	if len(page.Comments) == 0 {
		return nil, nil
	}
	last := page.Comments[len(page.Comments)-1]
	return &last, nil
}

func (c *Client) CreateVersion(ctx context.Context, v Version) error {
	endpoint := fmt.Sprintf("%s/rest/api/2/version", c.baseURL)
	return c.do(ctx, http.MethodPost, endpoint, v, nil, http.StatusCreated, http.StatusOK)
}

// AddFixVersion appends version to the issue's fixVersions, keeping the
// existing ones.
func (c *Client) AddFixVersion(ctx context.Context, issueKey, version string) error {
	endpoint := fmt.Sprintf("%s/rest/api/2/issue/%s", c.baseURL, url.PathEscape(issueKey))
	update := map[string]any{
		"update": map[string]any{
			"fixVersions": []any{
				map[string]any{"add": map[string]string{"name": version}},
			},
		},
	}
	return c.do(ctx, http.MethodPut, endpoint, update, nil, http.StatusNoContent, http.StatusOK)
}

func (c *Client) do(ctx context.Context, method, endpoint string, in, out any, okStatus ...int) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	ok := false
	for _, s := range okStatus {
		ok = ok || resp.StatusCode == s
	}
	if !ok {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: API error (status %d): %s", method, endpoint, resp.StatusCode, string(msg))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
