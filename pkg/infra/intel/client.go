package intel

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

	"github.com/sirupsen/logrus"

	"github.com/vigilsec/vigil/pkg/infra/httpx"
	"github.com/vigilsec/vigil/pkg/ratelimit"
)

const (
	indicatorsPath = "/v1/indicators"
	taxonomyPath   = "/v1/taxonomy"

	defaultTimeout  = 10 * time.Second
	defaultPageSize = 200
	maxPages        = 50
)

var ErrIntelServiceCall = errors.New("threat intelligence service call failed")

//go:generate mockery --name=Client --dir=. --output=./mocks --filename=client_mock.go --case=underscore --with-expecter
type Client interface {
	FetchIndicators(ctx context.Context, query IndicatorQuery) ([]Indicator, error)
	FetchTaxonomy(ctx context.Context) ([]Category, error)
}

type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type httpClient struct {
	cfg            Config
	client         *http.Client
	logger         *logrus.Logger
	circuitBreaker httpx.CircuitBreaker
	limiter        *ratelimit.Limiter
}

// NewHTTPClient builds the threat-intelligence client. Missing credentials
// are a configuration error and fail fast. The limiter is optional; when
// present every outbound request is paced through it.
func NewHTTPClient(
	cfg Config,
	logger *logrus.Logger,
	circuitBreaker httpx.CircuitBreaker,
	limiter *ratelimit.Limiter,
) (Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("intel client requires a base URL")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("intel client requires an API key")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &httpClient{
		cfg:            cfg,
		client:         &http.Client{Timeout: cfg.Timeout},
		logger:         logger,
		circuitBreaker: circuitBreaker,
		limiter:        limiter,
	}, nil
}

func (c *httpClient) FetchIndicators(ctx context.Context, query IndicatorQuery) ([]Indicator, error) {
	pageSize := query.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	var all []Indicator
	page := 1
	for i := 0; i < maxPages; i++ {
		params := url.Values{}
		params.Set("page", strconv.Itoa(page))
		params.Set("limit", strconv.Itoa(pageSize))
		if len(query.Severities) > 0 {
			values := make([]string, len(query.Severities))
			for j, s := range query.Severities {
				values[j] = string(s)
			}
			params.Set("severity", strings.Join(values, ","))
		}
		if len(query.Categories) > 0 {
			params.Set("category", strings.Join(query.Categories, ","))
		}

		var resp indicatorsResponse
		if err := c.get(ctx, indicatorsPath+"?"+params.Encode(), &resp); err != nil {
			return nil, err
		}
		all = append(all, resp.Indicators...)

		if resp.NextPage == 0 {
			return all, nil
		}
		page = resp.NextPage
	}
	c.logger.WithField("pages", maxPages).Warn("indicator pagination truncated")
	return all, nil
}

func (c *httpClient) FetchTaxonomy(ctx context.Context) ([]Category, error) {
	var resp taxonomyResponse
	if err := c.get(ctx, taxonomyPath, &resp); err != nil {
		return nil, err
	}
	return resp.Categories, nil
}

func (c *httpClient) get(ctx context.Context, path string, out interface{}) error {
	call := func(ctx context.Context) error {
		return c.circuitBreaker.Execute(func() error {
			return c.executeGet(ctx, path, out)
		})
	}
	if c.limiter != nil {
		return c.limiter.Do(ctx, call)
	}
	return call(ctx)
}

func (c *httpClient) executeGet(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create intel request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-API-Key", c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			c.logger.WithError(err).Error("failed to call threat intelligence service")
		}
		return fmt.Errorf("failed to call threat intelligence service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.WithField("status_code", resp.StatusCode).Error("threat intelligence service returned non-200 status")
		return fmt.Errorf("%w: status %d", ErrIntelServiceCall, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("intel response read error: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("invalid intel response: %w", err)
	}
	return nil
}
