package scraper

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/company-registry/internal/resilience"
)

func TestHTTPClient_Lookup(t *testing.T) {
	var gotReq LookupRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/scraper/lookup", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		confidence := 0.95
		resp := LookupResponse{
			Companies: []ScraperResult{{
				ScraperName: "company-data",
				Companies: []FoundCompany{{
					Company:    ScrapedCompany{CompanyName: "Acme AB", Country: "SE", TaxID: "tax-1"},
					Confidence: &confidence,
				}},
			}},
			Message: "1 company found by scraper company-data.",
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	resp, err := c.Lookup(context.Background(), LookupRequest{Country: "SE", TaxID: "tax-1"})
	require.NoError(t, err)
	assert.Equal(t, LookupRequest{Country: "SE", TaxID: "tax-1"}, gotReq)
	require.Len(t, resp.Companies, 1)
	assert.Equal(t, "company-data", resp.Companies[0].ScraperName)
	assert.Equal(t, "Acme AB", resp.Companies[0].Companies[0].Company.CompanyName)
}

func TestHTTPClient_NonOKBecomesStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotImplemented)
		_, _ = w.Write([]byte(`{"statusCode":501,"message":"No suitable scrapers for the request"}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	_, err := c.Lookup(context.Background(), LookupRequest{Country: "SE", TaxID: "tax-1"})

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotImplemented, statusErr.StatusCode)
	assert.Equal(t, "No suitable scrapers for the request", statusErr.Message)
}

func TestHTTPClient_NonJSONErrorBodyKeptVerbatim(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	_, err := c.Lookup(context.Background(), LookupRequest{TaxID: "tax-1"})

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusBadGateway, statusErr.StatusCode)
	assert.Equal(t, "upstream exploded", statusErr.Message)
}

func TestHTTPClient_UnreachableIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // nothing listens anymore

	c := NewHTTPClient(srv.URL, WithRetry(resilience.RetryConfig{
		MaxAttempts:    2,
		InitialBackoff: time.Millisecond,
	}))
	_, err := c.Lookup(context.Background(), LookupRequest{TaxID: "tax-1"})
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestHTTPClient_UndecodableSuccessIsParseError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	_, err := c.Lookup(context.Background(), LookupRequest{TaxID: "tax-1"})
	require.ErrorIs(t, err, ErrParse)
}

func TestHTTPClient_RetriesUnavailable(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			// Kill the connection so the client sees a transport error.
			hj, ok := w.(http.Hijacker)
			require.True(t, ok)
			conn, _, err := hj.Hijack()
			require.NoError(t, err)
			conn.Close()
			return
		}
		require.NoError(t, json.NewEncoder(w).Encode(LookupResponse{Message: "ok"}))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, WithRetry(resilience.RetryConfig{
		MaxAttempts:    2,
		InitialBackoff: time.Millisecond,
	}))
	resp, err := c.Lookup(context.Background(), LookupRequest{TaxID: "tax-1"})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Message)
	assert.Equal(t, 2, attempts)
}

func TestHTTPClient_StatusErrorNotRetried(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusNotImplemented)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, WithRetry(resilience.RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
	}))
	_, err := c.Lookup(context.Background(), LookupRequest{TaxID: "tax-1"})

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, 1, attempts)
}

func TestHTTPClient_RetriesTransientStatus(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		require.NoError(t, json.NewEncoder(w).Encode(LookupResponse{Message: "ok"}))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, WithRetry(resilience.RetryConfig{
		MaxAttempts:    2,
		InitialBackoff: time.Millisecond,
	}))
	resp, err := c.Lookup(context.Background(), LookupRequest{TaxID: "tax-1"})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Message)
	assert.Equal(t, 2, attempts)
}

func TestHTTPClient_TransientStatusSurfacesWhenRetriesRunOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"statusCode":503,"message":"scrapers are restarting"}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, WithRetry(resilience.RetryConfig{
		MaxAttempts:    2,
		InitialBackoff: time.Millisecond,
	}))
	_, err := c.Lookup(context.Background(), LookupRequest{TaxID: "tax-1"})

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
	assert.Equal(t, "scrapers are restarting", statusErr.Message)
}

func TestHTTPClient_OpenBreakerReportsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("request must not reach the upstream while the circuit is open")
	}))
	defer srv.Close()

	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     time.Hour,
	})
	// Trip the breaker.
	_ = cb.Execute(context.Background(), func(ctx context.Context) error {
		return ErrUnavailable
	})

	c := NewHTTPClient(srv.URL, WithBreaker(cb), WithRetry(resilience.RetryConfig{
		MaxAttempts:    2,
		InitialBackoff: time.Millisecond,
	}))
	_, err := c.Lookup(context.Background(), LookupRequest{TaxID: "tax-1"})
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestNewHTTPClient_AddressNormalization(t *testing.T) {
	assert.Equal(t, "http://localhost:3000", NewHTTPClient("localhost:3000").baseURL)
	assert.Equal(t, "https://scrapers.internal", NewHTTPClient("https://scrapers.internal/").baseURL)
	assert.Equal(t, "scraper-service", NewHTTPClient("localhost:3000").Name())
	assert.Equal(t, "bolags-scraper", NewHTTPClient("localhost:3000", WithName("bolags-scraper")).Name())
}
