package torn

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tornwatch/pkg/logx"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, retryMax int) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient(Config{
		BaseURL:    srv.URL,
		RatePerSec: 100,
		RetryMax:   retryMax,
		Timeout:    2 * time.Second,
	}, logx.Nop())
	return c, srv
}

func TestMarketListingBazaarObject(t *testing.T) {
	var gotPath, gotQuery string
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`{"bazaar":{"12":{"cost":830000,"quantity":3},"7":{"cost":820000,"quantity":1}}}`))
	}, 0)

	l, err := c.MarketListing(context.Background(), 206, "secret")
	if err != nil {
		t.Fatalf("MarketListing failed: %v", err)
	}
	if gotPath != "/market/206" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotQuery != "selections=bazaar&key=secret" {
		t.Fatalf("query = %q", gotQuery)
	}
	if len(l.Prices) != 2 {
		t.Fatalf("prices = %v", l.Prices)
	}
	if min, ok := l.Min(); !ok || min != 820000 {
		t.Fatalf("min = %d, %v", min, ok)
	}
}

func TestMarketListingBazaarArray(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"bazaar":[{"cost":100,"quantity":1},{"cost":90,"quantity":2}]}`))
	}, 0)

	l, err := c.MarketListing(context.Background(), 1, "k")
	if err != nil {
		t.Fatalf("MarketListing failed: %v", err)
	}
	if min, ok := l.Min(); !ok || min != 90 {
		t.Fatalf("min = %d, %v", min, ok)
	}
}

func TestMarketListingEmptyBazaar(t *testing.T) {
	for _, body := range []string{`{"bazaar":null}`, `{}`, `{"bazaar":{}}`} {
		c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(body))
		}, 0)
		l, err := c.MarketListing(context.Background(), 1, "k")
		if err != nil {
			t.Fatalf("body %q: MarketListing failed: %v", body, err)
		}
		if _, ok := l.Min(); ok {
			t.Fatalf("body %q: empty bazaar should have no minimum", body)
		}
	}
}

func TestMarketListingErrorEnvelope(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		// Torn answers 200 even for errors.
		w.Write([]byte(`{"error":{"code":2,"error":"Incorrect key"}}`))
	}, 0)

	_, err := c.MarketListing(context.Background(), 1, "bad")
	var ae *apiError
	if !errors.As(err, &ae) {
		t.Fatalf("err = %v, want apiError", err)
	}
	if ae.Code != 2 || ae.Message != "Incorrect key" {
		t.Fatalf("apiError = %+v", ae)
	}
}

func TestMarketListingRetriesServerErrors(t *testing.T) {
	calls := 0
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"bazaar":[{"cost":5,"quantity":1}]}`))
	}, 3)

	l, err := c.MarketListing(context.Background(), 1, "k")
	if err != nil {
		t.Fatalf("MarketListing failed after retries: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
	if min, _ := l.Min(); min != 5 {
		t.Fatalf("min = %d", min)
	}
}

func TestMarketListingDoesNotRetryClientErrors(t *testing.T) {
	calls := 0
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusForbidden)
	}, 3)

	if _, err := c.MarketListing(context.Background(), 1, "k"); err == nil {
		t.Fatalf("expected error for 403")
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestBackoffIsCapped(t *testing.T) {
	if d := backoff(0); d != 500*time.Millisecond {
		t.Fatalf("backoff(0) = %v", d)
	}
	if d := backoff(10); d != 5*time.Second {
		t.Fatalf("backoff(10) = %v, want cap", d)
	}
}
