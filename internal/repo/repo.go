// Package repo defines the persistence capability for versioned company
// records and provides postgres, sqlite and in-memory implementations.
package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/sells-group/company-registry/internal/model"
)

// FieldMatcher is a conjunction of field equalities: every set field
// must match. A list of matchers passed to Find is a disjunction.
type FieldMatcher struct {
	TaxID       string
	OrgNbr      string
	Country     string
	CompanyName string
}

// IsZero reports whether no field of the matcher is set.
func (m FieldMatcher) IsZero() bool {
	return m == FieldMatcher{}
}

// Repository is the storage capability for company records and the
// incoming-request audit log.
//
// Find returns the current (or as-of-atTime) version of every company
// lineage with a version matching any of the matchers, excluding
// lineages whose version at that time is a tombstone. Results are
// ordered by ascending creation time. A nil atTime means "now".
//
// InsertOrUpdate and MarkDeleted must be called inside WithTransaction;
// both append an audit entry and return the persisted record plus a
// human-readable outcome message.
type Repository interface {
	Find(ctx context.Context, matchers []FieldMatcher, atTime *time.Time) ([]model.Company, error)

	// InsertOrUpdate persists the candidate:
	//   no existing record        -> fresh insert
	//   identical metadata        -> LastUpdated bump on the existing record
	//   changed metadata          -> new version in the same lineage
	InsertOrUpdate(ctx context.Context, audit model.IncomingRequest, candidate model.Company, existing *model.Company) (model.Company, string, error)

	// MarkDeleted appends a tombstone version, or bumps LastUpdated if
	// the most recent version is already a tombstone.
	MarkDeleted(ctx context.Context, audit model.IncomingRequest, mostRecent model.Company) (model.Company, string, error)

	// GetMostRecentCompany returns the latest version of a lineage,
	// tombstones included, or nil when the lineage does not exist.
	GetMostRecentCompany(ctx context.Context, companyID string) (*model.Company, error)

	// WithTransaction runs fn atomically. The Repository handed to fn is
	// scoped to the transaction; writes become visible together on
	// commit or not at all. Writes touching overlapping identifiers are
	// serialized (serializable isolation or an equivalent write lock).
	WithTransaction(ctx context.Context, fn func(ctx context.Context, tx Repository) error) error

	// CountCompanies counts the current non-deleted lineages matching
	// the matchers. An empty matcher list counts all lineages.
	CountCompanies(ctx context.Context, matchers []FieldMatcher) (int, error)

	// ListAll returns every record version. Administrative/testing only.
	ListAll(ctx context.Context) ([]model.Company, error)

	// ListIncomingRequests returns the full audit log. Administrative/
	// testing only.
	ListIncomingRequests(ctx context.Context) ([]model.IncomingRequest, error)

	Migrate(ctx context.Context) error
	Close() error
}

// Outcome messages share fixed markers so callers and tests can key on
// them regardless of the appended request detail.
func msgInserted(c model.Company) string {
	return fmt.Sprintf("Inserted an initial record for company: %s", pretty(c))
}

func msgUpdated(c model.Company) string {
	return fmt.Sprintf("Updated metadata for company: %s", pretty(c))
}

func msgUpToDate(audit model.IncomingRequest) string {
	return fmt.Sprintf("Marked as up-to-date; metadata is equal to the most recent record: %s", pretty(audit))
}

func msgDeleted(audit model.IncomingRequest) string {
	return fmt.Sprintf("Marked as deleted: %s", pretty(audit))
}

func msgAlreadyDeleted(audit model.IncomingRequest) string {
	return fmt.Sprintf("Marked as up-to-date; company already marked as deleted: %s", pretty(audit))
}

func pretty(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%+v", v)
	}
	return string(b)
}

// latestAsOf picks, from the versions of one lineage sorted in any
// order, the version with the greatest Created not after atTime. A nil
// atTime selects the overall latest version. Returns nil when the
// lineage has no version at that time.
func latestAsOf(versions []model.Company, atTime *time.Time) *model.Company {
	var best *model.Company
	for i := range versions {
		v := &versions[i]
		if atTime != nil && v.Created.After(*atTime) {
			continue
		}
		if best == nil || v.Created.After(best.Created) {
			best = v
		}
	}
	return best
}

// matches reports whether a record satisfies a single matcher's
// conjunction of field equalities. Zero matchers match nothing.
func matches(c model.Company, m FieldMatcher) bool {
	if m.IsZero() {
		return false
	}
	if m.TaxID != "" && c.TaxID != m.TaxID {
		return false
	}
	if m.OrgNbr != "" && c.OrgNbr != m.OrgNbr {
		return false
	}
	if m.Country != "" && c.Country != m.Country {
		return false
	}
	if m.CompanyName != "" && c.CompanyName != m.CompanyName {
		return false
	}
	return true
}

func placeholderf(format string, n int) string {
	return fmt.Sprintf(format, n)
}

func sortByCreated(cs []model.Company) {
	sort.SliceStable(cs, func(i, j int) bool { return cs[i].Created.Before(cs[j].Created) })
}

// matchesAny reports whether a record satisfies at least one matcher.
// An empty list matches everything (used by CountCompanies).
func matchesAny(c model.Company, matchers []FieldMatcher) bool {
	if len(matchers) == 0 {
		return true
	}
	for _, m := range matchers {
		if matches(c, m) {
			return true
		}
	}
	return false
}
