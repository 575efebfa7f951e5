package service

import (
	"context"
	"errors"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/company-registry/internal/model"
	"github.com/sells-group/company-registry/internal/repo"
	"github.com/sells-group/company-registry/internal/scraper"
)

// Confidence values by the way a match was found. Chosen intuitively:
// a taxId match is near-certain, an orgNbr+country match slightly less so,
// a name match is only a hint.
const (
	confidenceByTaxID            = 0.9
	confidenceByOrgNbrAndCountry = 0.8
	confidenceByName             = 0.7
)

const (
	foundByTaxID            = "Repository by taxId"
	foundByOrgNbrAndCountry = "Repository by orgNbr and country"
	foundByName             = "Repository by name"
)

const (
	msgFoundInRepository = "Companies were found in repository"
	// Prefix of the message when the scraper service was not contacted;
	// the full message carries the reason.
	msgScrapersNotContactedPrefix = "No companies found; request not sent to the scraper service because"
)

// Search looks for companies matching the query, first in the repository
// and then, when nothing matched, in the external scraper service.
// Companies the scrapers find are persisted before being returned, so the
// next search hits the repository directly. Results are ordered by
// confidence (highest first) and deduplicated by record id.
//
// When atTime is set the query asks about the past, so the scraper
// fallback is skipped: scrapers only know the present.
func (s *Service) Search(ctx context.Context, q model.SearchQuery) ([]model.Match, string, error) {
	if q.IsEmpty() {
		return nil, "", eris.Wrap(ErrValidation, "search request cannot be empty")
	}

	results, message, err := s.searchEverywhere(ctx, q)
	if err != nil {
		return nil, "", err
	}
	if len(results) == 0 {
		zap.L().Debug("could not find company anywhere", zap.String("query", pretty(q)))
	}
	return rank(results), message, nil
}

func (s *Service) searchEverywhere(ctx context.Context, q model.SearchQuery) ([]model.Match, string, error) {
	results, err := s.findInRepo(ctx, q)
	if err != nil {
		return nil, "", err
	}
	if len(results) != 0 {
		return results, msgFoundInRepository, nil
	}

	zap.L().Debug("could not find company in the repository", zap.String("query", pretty(q)))
	if q.AtTime != nil {
		message := msgScrapersNotContactedPrefix + ` "atTime" was set`
		return results, message, nil
	}
	if s.scraper == nil {
		message := msgScrapersNotContactedPrefix + " no scraper service is configured"
		return results, message, nil
	}
	return s.findInScraperService(ctx, q)
}

// findInRepo runs one find per identifier group present in the query, all
// concurrently, and concatenates the results in a fixed order. Callers
// should not assume the concatenation is ordered by confidence.
func (s *Service) findInRepo(ctx context.Context, q model.SearchQuery) ([]model.Match, error) {
	type group struct {
		matcher    repo.FieldMatcher
		confidence float64
		foundBy    string
	}

	var groups []group
	if q.TaxID != "" {
		groups = append(groups, group{repo.FieldMatcher{TaxID: q.TaxID}, confidenceByTaxID, foundByTaxID})
	}
	if q.OrgNbr != "" && q.Country != "" {
		groups = append(groups, group{repo.FieldMatcher{OrgNbr: q.OrgNbr, Country: q.Country}, confidenceByOrgNbrAndCountry, foundByOrgNbrAndCountry})
	}
	if q.CompanyName != "" {
		groups = append(groups, group{repo.FieldMatcher{CompanyName: q.CompanyName}, confidenceByName, foundByName})
	}

	found := make([][]model.Match, len(groups))
	g, gCtx := errgroup.WithContext(ctx)
	for i, grp := range groups {
		g.Go(func() error {
			companies, err := s.repo.Find(gCtx, []repo.FieldMatcher{grp.matcher}, q.AtTime)
			if err != nil {
				return err
			}
			matches := make([]model.Match, 0, len(companies))
			for _, c := range companies {
				confidence := grp.confidence
				matches = append(matches, model.Match{
					Company:    c,
					Confidence: &confidence,
					FoundBy:    grp.foundBy,
				})
			}
			found[i] = matches
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var results []model.Match
	for _, matches := range found {
		results = append(results, matches...)
	}
	return results, nil
}

// findInScraperService asks the scraper service for the company and
// persists whatever it found, so the records gain ids and future searches
// are answered locally.
func (s *Service) findInScraperService(ctx context.Context, q model.SearchQuery) ([]model.Match, string, error) {
	resp, err := s.scraper.Lookup(ctx, scraper.LookupRequest{
		Country:     q.Country,
		TaxID:       q.TaxID,
		OrgNbr:      q.OrgNbr,
		CompanyName: q.CompanyName,
	})
	if err != nil {
		var statusErr *scraper.StatusError
		switch {
		case errors.As(err, &statusErr):
			// e.g. {"statusCode":501,"message":"No suitable scrapers for the request"}
			return nil, "", eris.Wrapf(ErrScraperFailed, "request to the scraper service failed: %s", statusErr.Message)
		case errors.Is(err, scraper.ErrParse):
			return nil, "", eris.Wrapf(ErrScraperParse, "error parsing response from the scraper service: %s", err.Error())
		default:
			return nil, "", eris.Wrapf(ErrScraperUnavailable, "cannot contact the scraper service, is the service available? %s", err.Error())
		}
	}

	results, err := s.ingestScraped(ctx, resp)
	if err != nil {
		return nil, "", eris.Wrapf(ErrScraperParse, "error parsing response from the scraper service: %s", err.Error())
	}
	return results, resp.Message, nil
}

// ingestScraped writes each scraped company through the reconciliation
// path. If a scraper returns multiple slightly different records for the
// same company, all of them are persisted; the ranking later dedups exact
// duplicates by record id.
func (s *Service) ingestScraped(ctx context.Context, resp *scraper.LookupResponse) ([]model.Match, error) {
	var results []model.Match
	for _, group := range resp.Companies {
		for _, found := range group.Companies {
			company, _, err := s.InsertOrUpdate(ctx, model.InsertOrUpdateRequest{
				CompanyName: found.Company.CompanyName,
				ISIC:        found.Company.ISIC,
				Country:     found.Company.Country,
				TaxID:       found.Company.TaxID,
				OrgNbr:      found.Company.OrgNbr,
				DataSource:  group.ScraperName,
			})
			if err != nil {
				return nil, err
			}
			foundBy := ""
			if group.ScraperName != "" {
				foundBy = "Scraper " + group.ScraperName
			}
			results = append(results, model.Match{
				Company:    company,
				Confidence: found.Confidence,
				FoundBy:    foundBy,
			})
		}
	}
	return results, nil
}

// rank orders matches by confidence, highest first, with unknown
// confidence last, and keeps the first match for each record id.
func rank(matches []model.Match) []model.Match {
	sort.SliceStable(matches, func(i, j int) bool {
		ci, cj := matches[i].Confidence, matches[j].Confidence
		switch {
		case ci == nil:
			return false
		case cj == nil:
			return true
		default:
			return *ci > *cj
		}
	})

	seen := make(map[string]bool, len(matches))
	deduped := matches[:0]
	for _, m := range matches {
		if seen[m.Company.ID] {
			continue
		}
		seen[m.Company.ID] = true
		deduped = append(deduped, m)
	}
	return deduped
}
