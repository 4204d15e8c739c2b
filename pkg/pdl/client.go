// Package pdl is a client for the People Data Labs company API.
package pdl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

const defaultBaseURL = "https://api.peopledatalabs.com"

// Client fetches company firmographics.
type Client interface {
	// Enrich looks a company up by name on the enrichment endpoint.
	Enrich(ctx context.Context, name string) (*Company, error)
	// SearchByName runs a one-row SQL search for an exact name match. It
	// returns nil when the search succeeds with no rows.
	SearchByName(ctx context.Context, name string) (*Company, error)
}

// Company is the subset of a PDL company record used here. Enrich responses
// carry EmployeeCount; search rows carry Size.
type Company struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Type          string `json:"type"`
	Industry      string `json:"industry"`
	EmployeeCount *int   `json:"employee_count"`
	Size          string `json:"size"`
	Website       string `json:"website"`
}

// SearchRequest is the request body for POST /v5/company/search.
type SearchRequest struct {
	Dataset string `json:"dataset"`
	SQL     string `json:"sql"`
	Size    int    `json:"size"`
}

type searchResponse struct {
	Status int       `json:"status"`
	Data   []Company `json:"data"`
	Total  int       `json:"total"`
}

// APIError is returned for a non-success status, whether reported on the
// HTTP response or in the search response body.
type APIError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200]
	}
	return fmt.Sprintf("pdl: %s: unexpected status %d: %s", e.Endpoint, e.StatusCode, body)
}

// HTTPStatus returns the upstream status code.
func (e *APIError) HTTPStatus() int {
	return e.StatusCode
}

// SearchSQL builds the single-row exact-name query, doubling single quotes.
func SearchSQL(name string) string {
	return fmt.Sprintf("SELECT * FROM company WHERE (name = '%s')", strings.ReplaceAll(name, "'", "''"))
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = u
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a PDL API client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) Enrich(ctx context.Context, name string) (*Company, error) {
	q := url.Values{}
	q.Set("name", name)
	q.Set("pretty", "true")
	q.Set("api_key", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v5/company/enrich?"+q.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "pdl: enrich: create request")
	}

	body, status, err := c.do(req)
	if err != nil {
		return nil, eris.Wrap(err, "pdl: enrich")
	}
	if status != http.StatusOK {
		return nil, &APIError{Endpoint: "enrich", StatusCode: status, Body: string(body)}
	}

	var company Company
	if err := json.Unmarshal(body, &company); err != nil {
		return nil, eris.Wrap(err, "pdl: enrich: unmarshal response")
	}
	return &company, nil
}

func (c *httpClient) SearchByName(ctx context.Context, name string) (*Company, error) {
	payload, err := json.Marshal(SearchRequest{Dataset: "all", SQL: SearchSQL(name), Size: 1})
	if err != nil {
		return nil, eris.Wrap(err, "pdl: search: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v5/company/search", bytes.NewReader(payload))
	if err != nil {
		return nil, eris.Wrap(err, "pdl: search: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", c.apiKey)

	body, status, err := c.do(req)
	if err != nil {
		return nil, eris.Wrap(err, "pdl: search")
	}
	if status != http.StatusOK {
		return nil, &APIError{Endpoint: "search", StatusCode: status, Body: string(body)}
	}

	var result searchResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "pdl: search: unmarshal response")
	}
	if result.Status != http.StatusOK {
		return nil, &APIError{Endpoint: "search", StatusCode: result.Status, Body: string(body)}
	}
	if len(result.Data) == 0 {
		return nil, nil
	}
	return &result.Data[0], nil
}

func (c *httpClient) do(req *http.Request) ([]byte, int, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, eris.Wrap(err, "send request")
	}
	defer resp.Body.Close() //nolint

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, eris.Wrap(err, "read response")
	}
	return body, resp.StatusCode, nil
}
