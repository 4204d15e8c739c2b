// Package gleif is a client for the GLEIF LEI records API.
package gleif

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
)

const defaultBaseURL = "https://api.gleif.org/api/v1"

// Client looks up legal entities by name.
type Client interface {
	// LookupByLegalName returns the first record whose legal name matches
	// name, or nil when the registry has no match.
	LookupByLegalName(ctx context.Context, name string) (*Record, error)
}

// Record is one LEI record.
type Record struct {
	ID         string     `json:"id"`
	Type       string     `json:"type"`
	Attributes Attributes `json:"attributes"`
}

// Attributes holds the fields of an LEI record used here.
type Attributes struct {
	LEI    string `json:"lei"`
	Entity Entity `json:"entity"`
}

// Entity is the legal entity section of a record.
type Entity struct {
	LegalName    LocalizedName `json:"legalName"`
	Jurisdiction string        `json:"jurisdiction"`
	Status       string        `json:"status"`
}

// LocalizedName is a name with its language tag.
type LocalizedName struct {
	Name     string `json:"name"`
	Language string `json:"language"`
}

type recordsResponse struct {
	Data []Record `json:"data"`
}

// APIError is returned for any non-200 response.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200]
	}
	return fmt.Sprintf("gleif: unexpected status %d: %s", e.StatusCode, body)
}

// HTTPStatus returns the response status code.
func (e *APIError) HTTPStatus() int {
	return e.StatusCode
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
	baseURL string
	http    *http.Client
}

// NewClient creates a GLEIF API client. The API is unauthenticated.
func NewClient(opts ...Option) Client {
	c := &httpClient{
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

func (c *httpClient) LookupByLegalName(ctx context.Context, name string) (*Record, error) {
	q := url.Values{}
	q.Set("filter[entity.legalName]", name)
	q.Set("page[size]", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/lei-records?"+q.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "gleif: create request")
	}
	req.Header.Set("Accept", "application/vnd.api+json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "gleif: send request")
	}
	defer resp.Body.Close() //nolint

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "gleif: read response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var result recordsResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "gleif: unmarshal response")
	}
	if len(result.Data) == 0 {
		return nil, nil
	}
	return &result.Data[0], nil
}
