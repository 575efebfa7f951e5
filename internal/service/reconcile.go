package service

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/company-registry/internal/model"
	"github.com/sells-group/company-registry/internal/repo"
)

// InsertOrUpdate reconciles an incoming record with the companies already
// in the repository and appends it as a new version. There are three
// outcomes:
//
//	INSERT: no known company matches the record's identifiers; a new
//	        company lineage is started.
//	UPDATE: exactly one known company matches; the record becomes that
//	        company's newest version.
//	ERROR:  the record's identifiers span multiple companies, or the
//	        record would change an identifier a company already has.
//
// The whole operation runs in one transaction so a concurrent writer
// cannot slip a matching company in between the lookup and the write.
func (s *Service) InsertOrUpdate(ctx context.Context, req model.InsertOrUpdateRequest) (model.Company, string, error) {
	ids := requestIdentifiers(req)
	if len(ids) == 0 {
		return model.Company{}, "", eris.Wrapf(ErrValidation,
			"invalid insertOrUpdate request %s, not enough identifiers: checked [taxId, orgNbr+country]", pretty(req))
	}

	var (
		company model.Company
		msg     string
	)
	err := s.repo.WithTransaction(ctx, func(ctx context.Context, tx repo.Repository) error {
		existing, err := findExistingCompany(ctx, tx, req, ids)
		if err != nil {
			return err
		}

		companyID := model.NewCompanyID()
		if existing != nil {
			companyID = existing.CompanyID
		}
		candidate := model.NewCompany(req, companyID)

		if existing != nil {
			if same, reason := candidate.SameEntityAs(*existing); !same {
				return eris.Wrapf(ErrConflict, "cannot add record %s for existing company %s: %s",
					pretty(candidate), pretty(*existing), reason)
			}
		}

		company, msg, err = tx.InsertOrUpdate(ctx, model.NewInsertOrUpdateAudit(req), candidate, existing)
		return err
	})
	if err != nil {
		return model.Company{}, "", err
	}
	zap.L().Debug(msg, zap.String("company_id", company.CompanyID))
	return company, msg, nil
}

// MarkDeleted appends a deletion marker as the newest version of the
// company, hiding it from search without losing its history.
func (s *Service) MarkDeleted(ctx context.Context, req model.MarkDeletedRequest) (model.Company, string, error) {
	if req.CompanyID == "" {
		return model.Company{}, "", eris.Wrap(ErrValidation, "markDeleted request has no companyId")
	}

	var (
		company model.Company
		msg     string
	)
	err := s.repo.WithTransaction(ctx, func(ctx context.Context, tx repo.Repository) error {
		mostRecent, err := tx.GetMostRecentCompany(ctx, req.CompanyID)
		if err != nil {
			return err
		}
		if mostRecent == nil {
			return eris.Wrapf(ErrNotFound, "cannot find company to delete, unknown company: %s", pretty(req))
		}
		company, msg, err = tx.MarkDeleted(ctx, model.NewMarkDeletedAudit(req), *mostRecent)
		return err
	})
	if err != nil {
		return model.Company{}, "", err
	}
	zap.L().Debug(msg, zap.String("company_id", company.CompanyID))
	return company, msg, nil
}

// requestIdentifiers extracts the identifiers present in the request.
// taxId identifies a company on its own; orgNbr only together with country.
func requestIdentifiers(req model.InsertOrUpdateRequest) []repo.FieldMatcher {
	var ids []repo.FieldMatcher
	if req.TaxID != "" {
		ids = append(ids, repo.FieldMatcher{TaxID: req.TaxID})
	}
	if req.OrgNbr != "" && req.Country != "" {
		ids = append(ids, repo.FieldMatcher{OrgNbr: req.OrgNbr, Country: req.Country})
	}
	return ids
}

// mergeIdentifiers combines identifiers into a single matcher requiring all
// of them at once.
func mergeIdentifiers(ids []repo.FieldMatcher) repo.FieldMatcher {
	var merged repo.FieldMatcher
	for _, id := range ids {
		if id.TaxID != "" {
			merged.TaxID = id.TaxID
		}
		if id.OrgNbr != "" {
			merged.OrgNbr = id.OrgNbr
		}
		if id.Country != "" {
			merged.Country = id.Country
		}
		if id.CompanyName != "" {
			merged.CompanyName = id.CompanyName
		}
	}
	return merged
}

// findExistingCompany decides which known company, if any, the incoming
// record belongs to.
//
// First pass: find companies matching all identifiers at once. More than
// one match means the data is already inconsistent, which is an error.
// Exactly one match wins.
//
// Second pass, only when the first pass found nothing and the request
// carries more than one identifier: find companies matching each
// identifier separately (findByEach dedups lineages). The record could be
// a truly new company, or it could be adding a new kind of identifier to a
// company known under another one. Matches from two or more different
// companies mean the request mixes identifiers of distinct companies,
// which is an error. A single match wins; whether that match can legally
// absorb the record's remaining identifiers is checked by the caller via
// SameEntityAs.
func findExistingCompany(ctx context.Context, tx repo.Repository, req model.InsertOrUpdateRequest, ids []repo.FieldMatcher) (*model.Company, error) {
	existing, err := tx.Find(ctx, []repo.FieldMatcher{mergeIdentifiers(ids)}, nil)
	if err != nil {
		return nil, err
	}
	zap.L().Debug("existing companies matching request",
		zap.String("request", pretty(req)),
		zap.Int("matches", len(existing)),
	)

	if len(existing) > 1 {
		return nil, eris.Wrapf(ErrConflict, "multiple companies match the identifiers in %s", pretty(req))
	}
	if len(existing) == 1 {
		return &existing[0], nil
	}

	if len(ids) > 1 {
		byEach, err := tx.Find(ctx, ids, nil)
		if err != nil {
			return nil, err
		}
		if len(byEach) > 1 {
			return nil, eris.Wrapf(ErrConflict, "multiple companies match the identifiers %s", pretty(ids))
		}
		if len(byEach) == 1 {
			only := byEach[0]
			zap.L().Debug("single company matches an individual identifier", zap.String("company", pretty(only)))
			return &only, nil
		}
	}
	return nil, nil
}
