// Package model defines the versioned company record and the request
// types that flow through the registry.
package model

import (
	"time"

	"github.com/google/uuid"
)

// Company is one immutable version of a company's metadata. Versions of
// the same logical company share a CompanyID; the record ID is unique
// per version. Once written, a record's metadata never changes: a
// content-changing write produces a new record, a content-identical
// write bumps LastUpdated on the latest one.
type Company struct {
	ID          string    `json:"id" db:"id"`
	CompanyID   string    `json:"companyId" db:"company_id"`
	CompanyName string    `json:"companyName,omitempty" db:"company_name"`
	ISIC        string    `json:"isic,omitempty" db:"isic"`
	DataSource  string    `json:"dataSource,omitempty" db:"data_source"`
	TaxID       string    `json:"taxId,omitempty" db:"tax_id"`
	OrgNbr      string    `json:"orgNbr,omitempty" db:"org_nbr"`
	Country     string    `json:"country,omitempty" db:"country"`
	IsDeleted   bool      `json:"isDeleted,omitempty" db:"is_deleted"`
	Created     time.Time `json:"created" db:"created"`
	LastUpdated time.Time `json:"lastUpdated" db:"last_updated"`
}

// InsertOrUpdateRequest carries the metadata of an inbound write. At
// least one identifier (taxId, or orgNbr+country) must be present.
type InsertOrUpdateRequest struct {
	CompanyName string `json:"companyName,omitempty"`
	ISIC        string `json:"isic,omitempty"`
	DataSource  string `json:"dataSource,omitempty"`
	TaxID       string `json:"taxId,omitempty"`
	OrgNbr      string `json:"orgNbr,omitempty"`
	Country     string `json:"country,omitempty"`
}

// MarkDeletedRequest identifies the company lineage to tombstone.
type MarkDeletedRequest struct {
	CompanyID string `json:"companyId"`
}

// NewCompanyID allocates a logical company identifier.
func NewCompanyID() string {
	return uuid.NewString()
}

// NewCompany builds a candidate record from a write request. The record
// gets a fresh ID and Created/LastUpdated set to now; the caller decides
// whether it is persisted as a first record or as a new version.
func NewCompany(req InsertOrUpdateRequest, companyID string) Company {
	now := time.Now().UTC()
	return Company{
		ID:          uuid.NewString(),
		CompanyID:   companyID,
		CompanyName: req.CompanyName,
		ISIC:        req.ISIC,
		DataSource:  req.DataSource,
		TaxID:       req.TaxID,
		OrgNbr:      req.OrgNbr,
		Country:     req.Country,
		Created:     now,
		LastUpdated: now,
	}
}

// NewTombstone builds a deletion marker for an existing lineage. Only
// the country is carried over; descriptive fields stay empty so the
// tombstone never shadows real metadata.
func NewTombstone(mostRecent Company) Company {
	now := time.Now().UTC()
	return Company{
		ID:          uuid.NewString(),
		CompanyID:   mostRecent.CompanyID,
		Country:     mostRecent.Country,
		IsDeleted:   true,
		Created:     now,
		LastUpdated: now,
	}
}

// MetadataEquals reports whether two records carry the same metadata,
// ignoring the per-version fields ID, Created and LastUpdated.
func (c Company) MetadataEquals(o Company) bool {
	return c.CompanyID == o.CompanyID &&
		c.CompanyName == o.CompanyName &&
		c.ISIC == o.ISIC &&
		c.DataSource == o.DataSource &&
		c.TaxID == o.TaxID &&
		c.OrgNbr == o.OrgNbr &&
		c.Country == o.Country &&
		c.IsDeleted == o.IsDeleted
}

// SameEntityAs checks that a candidate record does not change any
// identifier already set on the existing company. Filling an identifier
// that was empty is allowed; replacing a set identifier with a
// different value is not. Returns false with the conflicting field.
func (c Company) SameEntityAs(existing Company) (bool, string) {
	if existing.TaxID != "" && c.TaxID != "" && c.TaxID != existing.TaxID {
		return false, "taxId"
	}
	if existing.OrgNbr != "" && c.OrgNbr != "" && c.OrgNbr != existing.OrgNbr {
		return false, "orgNbr"
	}
	if existing.Country != "" && c.Country != "" && c.Country != existing.Country {
		return false, "country"
	}
	return true, ""
}
