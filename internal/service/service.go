// Package service implements the business logic of the company registry:
// reconciling incoming records against known companies and searching with
// an external-scraper fallback.
package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sells-group/company-registry/internal/model"
	"github.com/sells-group/company-registry/internal/repo"
	"github.com/sells-group/company-registry/internal/scraper"
)

// Service exposes the registry operations on top of a repository and an
// optional scraper client.
type Service struct {
	repo    repo.Repository
	scraper scraper.Client // nil disables the external-lookup fallback
}

// New creates a Service. Pass a nil scraper client to run repository-only.
func New(r repo.Repository, sc scraper.Client) *Service {
	return &Service{repo: r, scraper: sc}
}

// Migrate creates the backing schema if needed.
func (s *Service) Migrate(ctx context.Context) error {
	return s.repo.Migrate(ctx)
}

// CountCompanies counts the companies currently visible (most recent
// version, not deleted) that match the query fields. An empty query counts
// every company.
func (s *Service) CountCompanies(ctx context.Context, q model.SearchQuery) (int, error) {
	var matchers []repo.FieldMatcher
	m := repo.FieldMatcher{
		TaxID:       q.TaxID,
		OrgNbr:      q.OrgNbr,
		Country:     q.Country,
		CompanyName: q.CompanyName,
	}
	if !m.IsZero() {
		matchers = append(matchers, m)
	}
	return s.repo.CountCompanies(ctx, matchers)
}

// ListAll returns every stored record version, oldest first.
func (s *Service) ListAll(ctx context.Context) ([]model.Company, error) {
	return s.repo.ListAll(ctx)
}

// ListIncomingRequests returns the audit log of write requests, oldest first.
func (s *Service) ListIncomingRequests(ctx context.Context) ([]model.IncomingRequest, error) {
	return s.repo.ListIncomingRequests(ctx)
}

func pretty(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%+v", v)
	}
	return string(raw)
}
