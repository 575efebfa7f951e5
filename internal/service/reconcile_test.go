package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/company-registry/internal/model"
	"github.com/sells-group/company-registry/internal/repo"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	return New(repo.NewMemory(), nil)
}

func TestInsertOrUpdate_StartsNewCompany(t *testing.T) {
	svc := newTestService(t)

	company, msg, err := svc.InsertOrUpdate(context.Background(), model.InsertOrUpdateRequest{
		CompanyName: "Acme AB",
		TaxID:       "tax-1",
		Country:     "SE",
		DataSource:  "test",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, company.ID)
	assert.NotEmpty(t, company.CompanyID)
	assert.Equal(t, "tax-1", company.TaxID)
	assert.Contains(t, msg, "Inserted")
}

func TestInsertOrUpdate_AppendsVersionToMatchingCompany(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	first, _, err := svc.InsertOrUpdate(ctx, model.InsertOrUpdateRequest{
		CompanyName: "Acme AB",
		TaxID:       "tax-1",
		Country:     "SE",
		DataSource:  "test",
	})
	require.NoError(t, err)

	second, msg, err := svc.InsertOrUpdate(ctx, model.InsertOrUpdateRequest{
		CompanyName: "Acme Aktiebolag",
		TaxID:       "tax-1",
		Country:     "SE",
		DataSource:  "test",
	})
	require.NoError(t, err)
	assert.Equal(t, first.CompanyID, second.CompanyID, "same taxId joins the same company")
	assert.NotEqual(t, first.ID, second.ID, "changed metadata appends a new version")
	assert.Contains(t, msg, "Updated")
}

func TestInsertOrUpdate_IdenticalMetadataMarksUpToDate(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	req := model.InsertOrUpdateRequest{
		CompanyName: "Acme AB",
		TaxID:       "tax-1",
		Country:     "SE",
		DataSource:  "test",
	}

	first, _, err := svc.InsertOrUpdate(ctx, req)
	require.NoError(t, err)

	second, msg, err := svc.InsertOrUpdate(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Contains(t, msg, "up-to-date")

	all, err := svc.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1, "no new version for identical metadata")
}

func TestInsertOrUpdate_FillsMissingIdentifier(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	// Known only by taxId.
	first, _, err := svc.InsertOrUpdate(ctx, model.InsertOrUpdateRequest{
		CompanyName: "Acme AB",
		TaxID:       "tax-1",
		DataSource:  "test",
	})
	require.NoError(t, err)

	// Same taxId plus a fresh orgNbr. The combined lookup finds nothing,
	// the per-identifier lookup resolves the company by taxId, and the
	// empty orgNbr may be filled.
	second, msg, err := svc.InsertOrUpdate(ctx, model.InsertOrUpdateRequest{
		CompanyName: "Acme AB",
		TaxID:       "tax-1",
		OrgNbr:      "556000-1234",
		Country:     "SE",
		DataSource:  "test",
	})
	require.NoError(t, err)
	assert.Equal(t, first.CompanyID, second.CompanyID)
	assert.Equal(t, "556000-1234", second.OrgNbr)
	assert.Contains(t, msg, "Updated")
}

func TestInsertOrUpdate_IdentifiersSpanningCompaniesConflict(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, _, err := svc.InsertOrUpdate(ctx, model.InsertOrUpdateRequest{
		CompanyName: "Acme AB",
		TaxID:       "tax-1",
		DataSource:  "test",
	})
	require.NoError(t, err)

	_, _, err = svc.InsertOrUpdate(ctx, model.InsertOrUpdateRequest{
		CompanyName: "Beta AB",
		OrgNbr:      "556000-9999",
		Country:     "SE",
		DataSource:  "test",
	})
	require.NoError(t, err)

	// taxId belongs to Acme, orgNbr to Beta.
	_, _, err = svc.InsertOrUpdate(ctx, model.InsertOrUpdateRequest{
		CompanyName: "Chimera AB",
		TaxID:       "tax-1",
		OrgNbr:      "556000-9999",
		Country:     "SE",
		DataSource:  "test",
	})
	require.ErrorIs(t, err, ErrConflict)
}

func TestInsertOrUpdate_ChangingEstablishedIdentifierConflicts(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, _, err := svc.InsertOrUpdate(ctx, model.InsertOrUpdateRequest{
		CompanyName: "Acme AB",
		TaxID:       "tax-1",
		OrgNbr:      "556000-1234",
		Country:     "SE",
		DataSource:  "test",
	})
	require.NoError(t, err)

	// Same taxId but a different orgNbr: the record resolves to the
	// known company, yet may not overwrite its established orgNbr.
	_, _, err = svc.InsertOrUpdate(ctx, model.InsertOrUpdateRequest{
		CompanyName: "Acme AB",
		TaxID:       "tax-1",
		OrgNbr:      "556000-0000",
		Country:     "SE",
		DataSource:  "test",
	})
	require.ErrorIs(t, err, ErrConflict)
}

func TestInsertOrUpdate_NoIdentifiersIsInvalid(t *testing.T) {
	svc := newTestService(t)

	_, _, err := svc.InsertOrUpdate(context.Background(), model.InsertOrUpdateRequest{
		CompanyName: "Nameless AB",
		DataSource:  "test",
	})
	require.ErrorIs(t, err, ErrValidation)

	// orgNbr without a country does not identify a company either.
	_, _, err = svc.InsertOrUpdate(context.Background(), model.InsertOrUpdateRequest{
		CompanyName: "Nameless AB",
		OrgNbr:      "556000-1234",
		DataSource:  "test",
	})
	require.ErrorIs(t, err, ErrValidation)
}

func TestMarkDeleted_AppendsTombstone(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	company, _, err := svc.InsertOrUpdate(ctx, model.InsertOrUpdateRequest{
		CompanyName: "Acme AB",
		TaxID:       "tax-1",
		Country:     "SE",
		DataSource:  "test",
	})
	require.NoError(t, err)

	tomb, msg, err := svc.MarkDeleted(ctx, model.MarkDeletedRequest{CompanyID: company.CompanyID})
	require.NoError(t, err)
	assert.True(t, tomb.IsDeleted)
	assert.Equal(t, company.CompanyID, tomb.CompanyID)
	assert.Contains(t, msg, "Marked as deleted")

	count, err := svc.CountCompanies(ctx, model.SearchQuery{})
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestMarkDeleted_UnknownCompany(t *testing.T) {
	svc := newTestService(t)

	_, _, err := svc.MarkDeleted(context.Background(), model.MarkDeletedRequest{CompanyID: "no-such"})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMarkDeleted_MissingCompanyID(t *testing.T) {
	svc := newTestService(t)

	_, _, err := svc.MarkDeleted(context.Background(), model.MarkDeletedRequest{})
	require.ErrorIs(t, err, ErrValidation)
}

func TestPretty(t *testing.T) {
	assert.Equal(t, `{"companyId":"cid-1"}`, pretty(model.MarkDeletedRequest{CompanyID: "cid-1"}))

	ch := make(chan int)
	assert.Equal(t, fmt.Sprintf("%+v", ch), pretty(ch), "unencodable values fall back to their Go representation")
}

func TestCountCompanies_FiltersByQuery(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	for _, req := range []model.InsertOrUpdateRequest{
		{CompanyName: "Acme AB", TaxID: "tax-1", Country: "SE", DataSource: "test"},
		{CompanyName: "Beta AS", TaxID: "tax-2", Country: "NO", DataSource: "test"},
	} {
		_, _, err := svc.InsertOrUpdate(ctx, req)
		require.NoError(t, err)
	}

	count, err := svc.CountCompanies(ctx, model.SearchQuery{})
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = svc.CountCompanies(ctx, model.SearchQuery{Country: "SE"})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
