// Package scraper talks to external scraper services that can look up
// company metadata on demand when the local repository has no match.
package scraper

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
)

// Client looks up companies in an external scraper service.
type Client interface {
	// Name identifies the client in log output and applicability messages.
	Name() string

	// Lookup asks the scraper service for companies matching the request.
	Lookup(ctx context.Context, req LookupRequest) (*LookupResponse, error)
}

// LookupRequest is the body for POST /scraper/lookup. It carries the
// same fields as a search query; atTime is absent because scrapers only
// know the present.
type LookupRequest struct {
	Country     string `json:"country"`
	TaxID       string `json:"taxId,omitempty"`
	OrgNbr      string `json:"orgNbr,omitempty"`
	CompanyName string `json:"companyName,omitempty"`
}

// ScrapedCompany is the company metadata a scraper returns.
type ScrapedCompany struct {
	CompanyName string `json:"companyName"`
	ISIC        string `json:"isic"`
	Country     string `json:"country"`
	TaxID       string `json:"taxId,omitempty"`
	OrgNbr      string `json:"orgNbr,omitempty"`
}

// FoundCompany pairs scraped metadata with the scraper's own confidence
// that it matches the request, as a value between 0.0 and 1.0.
type FoundCompany struct {
	Company    ScrapedCompany `json:"company"`
	Confidence *float64       `json:"confidence"`
}

// ScraperResult groups the companies found by a single named scraper.
type ScraperResult struct {
	ScraperName string         `json:"scraperName"`
	Companies   []FoundCompany `json:"companies"`
}

// LookupResponse is the response from POST /scraper/lookup. When no
// companies were found, Message describes the reason.
type LookupResponse struct {
	Companies []ScraperResult `json:"companies"`
	Message   string          `json:"message"`
}

// ErrUnavailable means the scraper service could not be contacted at all.
var ErrUnavailable = eris.New("scraper service unavailable")

// ErrParse means the scraper service responded with a body this client
// could not decode.
var ErrParse = eris.New("cannot parse scraper service response")

// StatusError is returned when the scraper service responds with a non-2xx
// status. Message carries the upstream's own explanation, e.g.
// "No suitable scrapers for the request".
type StatusError struct {
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("scraper: HTTP %d: %s", e.StatusCode, e.Message)
}
