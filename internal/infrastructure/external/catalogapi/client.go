package catalogapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/alem-hub/engagement-core/internal/domain/catalog"
	"github.com/alem-hub/engagement-core/internal/domain/shared"
	"github.com/alem-hub/engagement-core/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// ClientConfig contains configuration for the catalog client.
type ClientConfig struct {
	// BaseURL is the catalog service base URL
	BaseURL string

	// APIKey is sent as a bearer token when set
	APIKey string

	// Timeout is the HTTP request timeout
	Timeout time.Duration

	// RateLimit caps outgoing requests per second; Burst is the bucket size
	RateLimit float64
	Burst     int

	// PerPage is the page size for required-item listings
	PerPage int

	// HTTPClient overrides the default client, mainly for tests
	HTTPClient *http.Client

	Logger *logger.Logger
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig(baseURL string) ClientConfig {
	return ClientConfig{
		BaseURL:   baseURL,
		Timeout:   5 * time.Second,
		RateLimit: 50,
		Burst:     10,
		PerPage:   200,
	}
}

// maxErrorBody bounds how much of an error response is read.
const maxErrorBody = 64 << 10

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client reads content items from the catalog service. It performs single
// attempts; retries and circuit breaking belong to service.CatalogAdapter.
type Client struct {
	config     ClientConfig
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *logger.Logger
}

var _ catalog.Catalog = (*Client)(nil)

// NewClient creates a catalog client.
func NewClient(config ClientConfig) (*Client, error) {
	u, err := url.Parse(config.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("catalog api: invalid base URL %q", config.BaseURL)
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	if config.PerPage <= 0 {
		config.PerPage = 200
	}
	if config.Logger == nil {
		config.Logger = logger.Nop()
	}

	limit := rate.Inf
	if config.RateLimit > 0 {
		limit = rate.Limit(config.RateLimit)
	}
	burst := config.Burst
	if burst < 1 {
		burst = 1
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.Timeout}
	}

	return &Client{
		config:     config,
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		httpClient: httpClient,
		limiter:    rate.NewLimiter(limit, burst),
		logger:     config.Logger.With(logger.Component("catalog_api")),
	}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// CATALOG OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// Lookup fetches a single content item.
func (c *Client) Lookup(ctx context.Context, id shared.ContentID) (*catalog.Item, error) {
	path := "/api/v1/content/" + url.PathEscape(id.String())

	var response APIResponse[ItemDTO]
	if err := c.doRequest(ctx, path, &response); err != nil {
		var apiErr *APIErrorDTO
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			return nil, shared.ErrContentNotFound
		}
		return nil, fmt.Errorf("lookup content %s: %w", id, err)
	}
	if !response.Success {
		return nil, fmt.Errorf("lookup content %s: api error: %s", id, response.Error)
	}

	item, err := response.Data.ToDomain()
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// ListRequired fetches every required item of a course, following
// pagination. An unknown course has no required items.
func (c *Client) ListRequired(ctx context.Context, course shared.CourseID) ([]catalog.Item, error) {
	var items []catalog.Item
	page := 1

	for {
		params := url.Values{}
		params.Set("required", "true")
		params.Set("page", strconv.Itoa(page))
		params.Set("per_page", strconv.Itoa(c.config.PerPage))
		path := fmt.Sprintf("/api/v1/courses/%s/items?%s", url.PathEscape(course.String()), params.Encode())

		var response APIResponse[[]ItemDTO]
		if err := c.doRequest(ctx, path, &response); err != nil {
			var apiErr *APIErrorDTO
			if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
				return nil, nil
			}
			return nil, fmt.Errorf("list required items of %s page %d: %w", course, page, err)
		}
		if !response.Success {
			return nil, fmt.Errorf("list required items of %s: api error: %s", course, response.Error)
		}

		for _, dto := range response.Data {
			item, err := dto.ToDomain()
			if err != nil {
				return nil, err
			}
			if item.IsRequired {
				items = append(items, item)
			}
		}

		if len(response.Data) < c.config.PerPage || (response.Meta != nil && page >= response.Meta.TotalPages) {
			break
		}
		page++
	}

	catalog.SortByCatalogOrder(items)
	return items, nil
}

// Ping checks that the catalog service answers its health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	return c.doRequest(ctx, "/health", nil)
}

// ══════════════════════════════════════════════════════════════════════════════
// HTTP REQUEST HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// doRequest performs one rate-limited GET and decodes the body into result.
func (c *Client) doRequest(ctx context.Context, path string, result any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	c.logger.Debug("catalog api request",
		logger.String("path", path),
		logger.Int("status", resp.StatusCode),
		logger.Latency(time.Since(started)),
	)

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := time.Minute
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil {
				retryAfter = time.Duration(seconds) * time.Second
			}
		}
		return &RateLimitError{RetryAfter: retryAfter}
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIErrorDTO{Status: resp.StatusCode}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		_ = json.Unmarshal(body, apiErr)
		apiErr.Status = resp.StatusCode
		return apiErr
	}

	if result == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
