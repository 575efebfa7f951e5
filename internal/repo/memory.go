package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sells-group/company-registry/internal/model"
)

// MemoryRepo is an in-memory Repository for tests and the `memory`
// store driver. A single mutex serializes transactions, which trivially
// satisfies the overlapping-identifier ordering guarantee; transactions
// run against a copy of the state so a failed body leaves nothing
// behind.
type MemoryRepo struct {
	mu sync.Mutex
	st memState
}

type memState struct {
	records  []model.Company
	requests []model.IncomingRequest
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *MemoryRepo {
	return &MemoryRepo{}
}

func (r *MemoryRepo) Find(ctx context.Context, matchers []FieldMatcher, atTime *time.Time) ([]model.Company, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.st.find(matchers, atTime), nil
}

func (r *MemoryRepo) InsertOrUpdate(ctx context.Context, audit model.IncomingRequest, candidate model.Company, existing *model.Company) (model.Company, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.st.insertOrUpdate(audit, candidate, existing)
}

func (r *MemoryRepo) MarkDeleted(ctx context.Context, audit model.IncomingRequest, mostRecent model.Company) (model.Company, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.st.markDeleted(audit, mostRecent)
}

func (r *MemoryRepo) GetMostRecentCompany(ctx context.Context, companyID string) (*model.Company, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.st.mostRecent(companyID), nil
}

// WithTransaction runs fn against a copy of the state under the global
// lock; the copy replaces the live state only when fn succeeds.
func (r *MemoryRepo) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx Repository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	staged := r.st.clone()
	if err := fn(ctx, &memTx{st: &staged}); err != nil {
		return err
	}
	r.st = staged
	return nil
}

func (r *MemoryRepo) CountCompanies(ctx context.Context, matchers []FieldMatcher) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.st.find(matchers, nil)), nil
}

func (r *MemoryRepo) ListAll(ctx context.Context) ([]model.Company, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Company, len(r.st.records))
	copy(out, r.st.records)
	return out, nil
}

func (r *MemoryRepo) ListIncomingRequests(ctx context.Context) ([]model.IncomingRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.IncomingRequest, len(r.st.requests))
	copy(out, r.st.requests)
	return out, nil
}

func (r *MemoryRepo) Migrate(ctx context.Context) error { return nil }

func (r *MemoryRepo) Close() error { return nil }

// memTx is the transaction view over staged state. The caller holds the
// repository lock for the whole transaction, so no further locking is
// needed here.
type memTx struct {
	st *memState
}

func (t *memTx) Find(ctx context.Context, matchers []FieldMatcher, atTime *time.Time) ([]model.Company, error) {
	return t.st.find(matchers, atTime), nil
}

func (t *memTx) InsertOrUpdate(ctx context.Context, audit model.IncomingRequest, candidate model.Company, existing *model.Company) (model.Company, string, error) {
	return t.st.insertOrUpdate(audit, candidate, existing)
}

func (t *memTx) MarkDeleted(ctx context.Context, audit model.IncomingRequest, mostRecent model.Company) (model.Company, string, error) {
	return t.st.markDeleted(audit, mostRecent)
}

func (t *memTx) GetMostRecentCompany(ctx context.Context, companyID string) (*model.Company, error) {
	return t.st.mostRecent(companyID), nil
}

func (t *memTx) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx Repository) error) error {
	return fn(ctx, t)
}

func (t *memTx) CountCompanies(ctx context.Context, matchers []FieldMatcher) (int, error) {
	return len(t.st.find(matchers, nil)), nil
}

func (t *memTx) ListAll(ctx context.Context) ([]model.Company, error) {
	out := make([]model.Company, len(t.st.records))
	copy(out, t.st.records)
	return out, nil
}

func (t *memTx) ListIncomingRequests(ctx context.Context) ([]model.IncomingRequest, error) {
	out := make([]model.IncomingRequest, len(t.st.requests))
	copy(out, t.st.requests)
	return out, nil
}

func (t *memTx) Migrate(ctx context.Context) error { return nil }

func (t *memTx) Close() error { return nil }

func (s *memState) clone() memState {
	out := memState{
		records:  make([]model.Company, len(s.records)),
		requests: make([]model.IncomingRequest, len(s.requests)),
	}
	copy(out.records, s.records)
	copy(out.requests, s.requests)
	return out
}

// find returns the version-as-of-atTime of every lineage with a
// matching version, skipping tombstoned lineages, ordered by ascending
// creation time. An empty matcher list matches every lineage.
func (s *memState) find(matchers []FieldMatcher, atTime *time.Time) []model.Company {
	seen := map[string]bool{}
	var ids []string
	for _, rec := range s.records {
		if atTime != nil && rec.Created.After(*atTime) {
			continue
		}
		if !matchesAny(rec, matchers) {
			continue
		}
		if !seen[rec.CompanyID] {
			seen[rec.CompanyID] = true
			ids = append(ids, rec.CompanyID)
		}
	}

	var out []model.Company
	for _, id := range ids {
		cur := latestAsOf(s.versions(id), atTime)
		if cur == nil || cur.IsDeleted {
			continue
		}
		out = append(out, *cur)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Created.Before(out[j].Created) })
	return out
}

func (s *memState) versions(companyID string) []model.Company {
	var out []model.Company
	for _, rec := range s.records {
		if rec.CompanyID == companyID {
			out = append(out, rec)
		}
	}
	return out
}

func (s *memState) mostRecent(companyID string) *model.Company {
	return latestAsOf(s.versions(companyID), nil)
}

func (s *memState) insertOrUpdate(audit model.IncomingRequest, candidate model.Company, existing *model.Company) (model.Company, string, error) {
	s.requests = append(s.requests, audit)

	if existing == nil {
		s.records = append(s.records, candidate)
		return candidate, msgInserted(candidate), nil
	}

	if candidate.MetadataEquals(*existing) {
		return s.bump(existing.ID), msgUpToDate(audit), nil
	}

	s.records = append(s.records, candidate)
	return candidate, msgUpdated(candidate), nil
}

func (s *memState) markDeleted(audit model.IncomingRequest, mostRecent model.Company) (model.Company, string, error) {
	s.requests = append(s.requests, audit)

	if mostRecent.IsDeleted {
		return s.bump(mostRecent.ID), msgAlreadyDeleted(audit), nil
	}

	tombstone := model.NewTombstone(mostRecent)
	s.records = append(s.records, tombstone)
	return tombstone, msgDeleted(audit), nil
}

func (s *memState) bump(recordID string) model.Company {
	for i := range s.records {
		if s.records[i].ID == recordID {
			s.records[i].LastUpdated = time.Now().UTC()
			return s.records[i]
		}
	}
	return model.Company{}
}
