package model

import "time"

// SearchQuery is a partial-match lookup. Any combination of fields may
// be set; an entirely empty query is invalid. AtTime, when set, scopes
// the search to the state of the store at that instant.
type SearchQuery struct {
	TaxID       string     `json:"taxId,omitempty"`
	OrgNbr      string     `json:"orgNbr,omitempty"`
	Country     string     `json:"country,omitempty"`
	CompanyName string     `json:"companyName,omitempty"`
	AtTime      *time.Time `json:"atTime,omitempty"`
}

// IsEmpty reports whether the query carries no search fields at all.
// AtTime alone does not make a query non-empty.
func (q SearchQuery) IsEmpty() bool {
	return q.TaxID == "" && q.OrgNbr == "" && q.Country == "" && q.CompanyName == ""
}

// Match is one search result: a record plus how it was found and with
// what confidence. A nil confidence means the source did not rate the
// match; such results rank below every rated one.
type Match struct {
	Company    Company  `json:"company"`
	Confidence *float64 `json:"confidence,omitempty"`
	FoundBy    string   `json:"foundBy,omitempty"`
}
