// Package torn is the HTTP client for the Torn City market API.
package torn

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"

	"golang.org/x/time/rate"

	"tornwatch/pkg/logx"
)

const defaultBaseURL = "https://api.torn.com"

type Config struct {
	BaseURL    string
	RatePerSec int
	RetryMax   int
	Timeout    time.Duration
}

// Client fetches market listings with rate limiting and bounded retries.
type Client struct {
	http     *http.Client
	base     string
	limiter  *rate.Limiter
	retryMax int
	log      logx.Logger
}

func NewClient(cfg Config, log logx.Logger) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 5
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	retryMax := cfg.RetryMax
	if retryMax < 0 {
		retryMax = 0
	}
	return &Client{
		http:     &http.Client{Timeout: timeout},
		base:     base,
		limiter:  rate.NewLimiter(rate.Limit(rps), rps),
		retryMax: retryMax,
		log:      log,
	}
}

// apiError is Torn's in-band error envelope: the API answers 200 with an
// {"error": {...}} body for bad keys, unknown items, and throttling.
type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"error"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("torn api error %d: %s", e.Code, e.Message)
}

// MarketListing fetches the current bazaar offers for one item.
func (c *Client) MarketListing(ctx context.Context, itemID int64, apiKey string) (Listing, error) {
	u := fmt.Sprintf("%s/market/%d?selections=bazaar&key=%s",
		c.base, itemID, url.QueryEscape(apiKey))

	var body []byte
	attempts := 1 + c.retryMax
	for attempt := 0; attempt < attempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return Listing{}, fmt.Errorf("rate limiter: %w", err)
		}

		b, retryable, err := c.get(ctx, u)
		if err == nil {
			body = b
			break
		}
		if !retryable || attempt == attempts-1 {
			return Listing{}, err
		}
		c.log.Debug("market fetch retrying",
			logx.Int64("item_id", itemID), logx.Int("attempt", attempt+1), logx.Err(err))
		if err := sleep(ctx, backoff(attempt)); err != nil {
			return Listing{}, err
		}
	}

	prices, err := parseBazaar(body)
	if err != nil {
		return Listing{}, err
	}
	return Listing{ItemID: itemID, Prices: prices, FetchedAt: time.Now()}, nil
}

// get performs one request. retryable marks transport and server-side
// failures worth another attempt.
func (c *Client) get(ctx context.Context, u string) (body []byte, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("market request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, true, fmt.Errorf("market request: status %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return nil, false, fmt.Errorf("market request: status %d", resp.StatusCode)
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("read response: %w", err)
	}
	return b, false, nil
}

// parseBazaar extracts the offered prices. The API returns the bazaar
// selection as an object keyed by listing id for most items and as an array
// for some; both carry a "cost" per entry.
func parseBazaar(body []byte) ([]int64, error) {
	var envelope struct {
		Error  *apiError       `json:"error"`
		Bazaar json.RawMessage `json:"bazaar"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if envelope.Error != nil {
		return nil, envelope.Error
	}
	if len(envelope.Bazaar) == 0 || string(envelope.Bazaar) == "null" {
		return nil, nil
	}

	type entry struct {
		Cost     int64 `json:"cost"`
		Quantity int64 `json:"quantity"`
	}

	var prices []int64
	var asMap map[string]entry
	if err := json.Unmarshal(envelope.Bazaar, &asMap); err == nil {
		keys := make([]string, 0, len(asMap))
		for k := range asMap {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			prices = append(prices, asMap[k].Cost)
		}
		return prices, nil
	}

	var asList []entry
	if err := json.Unmarshal(envelope.Bazaar, &asList); err != nil {
		return nil, fmt.Errorf("decode bazaar: %w", err)
	}
	for _, e := range asList {
		prices = append(prices, e.Cost)
	}
	return prices, nil
}

func backoff(attempt int) time.Duration {
	d := 500 * time.Millisecond
	for i := 0; i < attempt; i++ {
		d *= 2
	}
	if d > 5*time.Second {
		d = 5 * time.Second
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
