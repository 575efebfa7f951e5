package model

import "time"

// RequestType tags an audit entry with the operation that produced it.
type RequestType string

// Audit entry request types.
const (
	RequestInsertOrUpdate RequestType = "insert_or_update"
	RequestMarkDeleted    RequestType = "mark_deleted"
)

// IncomingRequest is a verbatim audit copy of an inbound write. Entries
// are append-only: the application never mutates or deletes them.
type IncomingRequest struct {
	RequestType RequestType `json:"requestType" db:"request_type"`
	CompanyID   string      `json:"companyId,omitempty" db:"company_id"`
	CompanyName string      `json:"companyName,omitempty" db:"company_name"`
	ISIC        string      `json:"isic,omitempty" db:"isic"`
	DataSource  string      `json:"dataSource,omitempty" db:"data_source"`
	TaxID       string      `json:"taxId,omitempty" db:"tax_id"`
	OrgNbr      string      `json:"orgNbr,omitempty" db:"org_nbr"`
	Country     string      `json:"country,omitempty" db:"country"`
	Created     time.Time   `json:"created" db:"created"`
}

// NewInsertOrUpdateAudit records an insert/update request for the audit log.
func NewInsertOrUpdateAudit(req InsertOrUpdateRequest) IncomingRequest {
	return IncomingRequest{
		RequestType: RequestInsertOrUpdate,
		CompanyName: req.CompanyName,
		ISIC:        req.ISIC,
		DataSource:  req.DataSource,
		TaxID:       req.TaxID,
		OrgNbr:      req.OrgNbr,
		Country:     req.Country,
		Created:     time.Now().UTC(),
	}
}

// NewMarkDeletedAudit records a delete request for the audit log.
func NewMarkDeletedAudit(req MarkDeletedRequest) IncomingRequest {
	return IncomingRequest{
		RequestType: RequestMarkDeleted,
		CompanyID:   req.CompanyID,
		Created:     time.Now().UTC(),
	}
}
