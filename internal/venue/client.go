// Package venue talks to the trading gateway that fronts the leveraged
// market venue.
package venue

import (
	"bytes"
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

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/alanyoungcy/meanrevbot/internal/crypto"
	"github.com/alanyoungcy/meanrevbot/internal/domain"
)

var (
	_ domain.MarketData         = (*Client)(nil)
	_ domain.PriceHistory       = (*Client)(nil)
	_ domain.Executor           = (*Client)(nil)
	_ domain.PositionReconciler = (*Client)(nil)
)

// Client is the REST client for the trading gateway. Every request is paced
// by a token bucket and, when credentials are configured, HMAC signed.
type Client struct {
	baseURL    string
	httpClient *http.Client
	auth       *crypto.HMACAuth
	limiter    *rate.Limiter
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithAuth signs every request with the given credentials.
func WithAuth(auth *crypto.HMACAuth) Option {
	return func(c *Client) { c.auth = auth }
}

// WithRateLimit paces requests to rps with the given burst. A non-positive
// rps disables pacing.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// NewClient creates a gateway client.
//
// baseURL is the gateway root, e.g. "https://gateway.example.com".
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// apiPosition is the gateway's view of one open position.
type apiPosition struct {
	MarketID  string           `json:"market_id"`
	Direction domain.Direction `json:"direction"`
}

// apiHistory is the response of the history endpoint.
type apiHistory struct {
	Prices []float64 `json:"prices"`
}

// apiError is the body the gateway sends with a rejected request.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// FetchMarkets returns the latest price of every tradable market.
func (c *Client) FetchMarkets(ctx context.Context) ([]domain.MarketSnapshot, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/markets", nil)
	if err != nil {
		return nil, fmt.Errorf("venue: fetch markets: %w: %w", domain.ErrDataUnavailable, err)
	}

	var snaps []domain.MarketSnapshot
	if err := json.Unmarshal(body, &snaps); err != nil {
		return nil, fmt.Errorf("venue: decode markets: %w: %w", domain.ErrDataUnavailable, err)
	}
	return snaps, nil
}

// FetchMaxLeverages returns the per-market leverage ceiling.
func (c *Client) FetchMaxLeverages(ctx context.Context) (domain.LeverageTable, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/leverages", nil)
	if err != nil {
		return nil, fmt.Errorf("venue: fetch leverages: %w: %w", domain.ErrDataUnavailable, err)
	}

	var table map[string]decimal.Decimal
	if err := json.Unmarshal(body, &table); err != nil {
		return nil, fmt.Errorf("venue: decode leverages: %w: %w", domain.ErrDataUnavailable, err)
	}
	if table == nil {
		table = map[string]decimal.Decimal{}
	}
	return domain.LeverageTable(table), nil
}

// FetchPriceHistory returns up to minLength of the most recent prices,
// oldest first. A market the gateway has no history for yields
// ErrInsufficientData. A request the gateway rejects for the market itself
// is returned as a plain error; transport, auth, throttling and server
// failures wrap ErrDataUnavailable.
func (c *Client) FetchPriceHistory(ctx context.Context, marketID string, minLength int) ([]float64, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(minLength))
	path := fmt.Sprintf("/markets/%s/history?%s", url.PathEscape(marketID), params.Encode())

	body, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		var rej *rejection
		switch {
		case errors.Is(err, domain.ErrNotFound):
			return nil, fmt.Errorf("venue: history %s: %w", marketID, domain.ErrInsufficientData)
		case errors.As(err, &rej):
			return nil, fmt.Errorf("venue: history %s rejected: %w", marketID, err)
		}
		return nil, fmt.Errorf("venue: history %s: %w: %w", marketID, domain.ErrDataUnavailable, err)
	}

	var hist apiHistory
	if err := json.Unmarshal(body, &hist); err != nil {
		return nil, fmt.Errorf("venue: decode history %s: %w: %w", marketID, domain.ErrDataUnavailable, err)
	}
	return hist.Prices, nil
}

// OpenPosition submits an open request.
func (c *Client) OpenPosition(ctx context.Context, req domain.OpenRequest) (domain.ExecutionResult, error) {
	return c.execute(ctx, "/positions/open", req)
}

// ClosePosition submits a close request.
func (c *Client) ClosePosition(ctx context.Context, req domain.CloseRequest) (domain.ExecutionResult, error) {
	return c.execute(ctx, "/positions/close", req)
}

// OpenPositions returns the positions the gateway reports as open.
func (c *Client) OpenPositions(ctx context.Context) (map[string]domain.Direction, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/positions", nil)
	if err != nil {
		return nil, fmt.Errorf("venue: list positions: %w", err)
	}

	var positions []apiPosition
	if err := json.Unmarshal(body, &positions); err != nil {
		return nil, fmt.Errorf("venue: decode positions: %w", err)
	}
	out := make(map[string]domain.Direction, len(positions))
	for _, p := range positions {
		out[p.MarketID] = p.Direction
	}
	return out, nil
}

// execute posts an execution request. A 4xx rejection other than auth or
// throttling is a definitive answer and comes back as an unconfirmed result.
func (c *Client) execute(ctx context.Context, path string, payload any) (domain.ExecutionResult, error) {
	body, err := c.doRequest(ctx, http.MethodPost, path, payload)
	if err != nil {
		var rej *rejection
		if errors.As(err, &rej) {
			return domain.ExecutionResult{Confirmed: false, Error: rej.message}, nil
		}
		return domain.ExecutionResult{}, fmt.Errorf("venue: post %s: %w", path, err)
	}

	var res domain.ExecutionResult
	if err := json.Unmarshal(body, &res); err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("venue: decode %s response: %w", path, err)
	}
	return res, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// rejection is a client error the gateway explained in its response body.
type rejection struct {
	status  int
	message string
}

func (r *rejection) Error() string {
	return fmt.Sprintf("HTTP %d: %s", r.status, r.message)
}

// doRequest builds, signs, paces, sends, and reads a gateway request. It
// returns the raw response body.
func (c *Client) doRequest(ctx context.Context, method, path string, body any) ([]byte, error) {
	var bodyReader io.Reader
	var bodyStr string

	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyStr = string(jsonBody)
		bodyReader = bytes.NewReader(jsonBody)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.auth != nil {
		for k, v := range c.auth.Headers(method, path, bodyStr) {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}

	return respBody, nil
}

// checkHTTPStatus maps non-2xx status codes to appropriate domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := strings.TrimSpace(string(body))
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	}

	if statusCode >= 400 && statusCode < 500 {
		var apiErr apiError
		if err := json.Unmarshal(body, &apiErr); err == nil {
			msg := apiErr.Error
			if msg == "" {
				msg = apiErr.Message
			}
			return &rejection{status: statusCode, message: msg}
		}
		return &rejection{status: statusCode, message: bodyStr}
	}
	return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
}
