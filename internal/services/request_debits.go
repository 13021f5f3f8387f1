package services

import (
	"sort"

	"github.com/openbank/ledger/internal/models"
)

// RequestDebitRegistry stores request debits by reference and keeps a derived
// status index in step with every transition. A status bucket exists once a
// debit has entered that status, even if it has since moved on.
type RequestDebitRegistry struct {
	byReference map[uint64]*models.RequestDebit
	byStatus    map[models.RequestDebitStatus]map[uint64]struct{}
}

func NewRequestDebitRegistry() *RequestDebitRegistry {
	return &RequestDebitRegistry{
		byReference: make(map[uint64]*models.RequestDebit),
		byStatus:    make(map[models.RequestDebitStatus]map[uint64]struct{}),
	}
}

func (r *RequestDebitRegistry) Insert(rd models.RequestDebit) {
	stored := rd
	r.byReference[rd.Reference] = &stored
	r.bucket(rd.Status)[rd.Reference] = struct{}{}
}

func (r *RequestDebitRegistry) bucket(status models.RequestDebitStatus) map[uint64]struct{} {
	b, ok := r.byStatus[status]
	if !ok {
		b = make(map[uint64]struct{})
		r.byStatus[status] = b
	}
	return b
}

func (r *RequestDebitRegistry) Find(op string, ref uint64) (models.RequestDebit, error) {
	rd, ok := r.byReference[ref]
	if !ok {
		return models.RequestDebit{}, newError(op, ErrNotFound, "request debit %d", ref)
	}
	return *rd, nil
}

// FindByStatus returns the debits in a status, ordered by creation date.
func (r *RequestDebitRegistry) FindByStatus(op string, status models.RequestDebitStatus) ([]models.RequestDebit, error) {
	b, ok := r.byStatus[status]
	if !ok {
		return nil, newError(op, ErrNotFound, "no request debits with status %s", status)
	}
	out := make([]models.RequestDebit, 0, len(b))
	for ref := range b {
		out = append(out, *r.byReference[ref])
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreationDate.Equal(out[j].CreationDate) {
			return out[i].Reference < out[j].Reference
		}
		return out[i].CreationDate.Before(out[j].CreationDate)
	})
	return out, nil
}

// Transition moves a debit to a new status in both indexes.
func (r *RequestDebitRegistry) Transition(op string, ref uint64, to models.RequestDebitStatus, mutate func(*models.RequestDebit)) (models.RequestDebit, error) {
	rd, ok := r.byReference[ref]
	if !ok {
		return models.RequestDebit{}, newError(op, ErrNotFound, "request debit %d", ref)
	}
	from := rd.Status
	if mutate != nil {
		mutate(rd)
	}
	rd.Status = to
	if from != to {
		delete(r.bucket(from), ref)
		r.bucket(to)[ref] = struct{}{}
	}
	return *rd, nil
}

// Update replaces the mutable fields of a debit without changing its status.
func (r *RequestDebitRegistry) Update(op string, ref uint64, mutate func(*models.RequestDebit)) (models.RequestDebit, error) {
	rd, ok := r.byReference[ref]
	if !ok {
		return models.RequestDebit{}, newError(op, ErrNotFound, "request debit %d", ref)
	}
	status := rd.Status
	mutate(rd)
	rd.Status = status
	return *rd, nil
}

func (r *RequestDebitRegistry) snapshot() ([]models.RequestDebit, map[models.RequestDebitStatus][]uint64) {
	debits := make([]models.RequestDebit, 0, len(r.byReference))
	for _, rd := range r.byReference {
		debits = append(debits, *rd)
	}
	sort.Slice(debits, func(i, j int) bool { return debits[i].Reference < debits[j].Reference })

	index := make(map[models.RequestDebitStatus][]uint64, len(r.byStatus))
	for status, b := range r.byStatus {
		refs := make([]uint64, 0, len(b))
		for ref := range b {
			refs = append(refs, ref)
		}
		sort.Slice(refs, func(i, j int) bool { return refs[i] < refs[j] })
		index[status] = refs
	}
	return debits, index
}

// restore rebuilds both indexes. The status index is derived from the stored
// debits; buckets listed in index are kept so empty ones survive a reload.
func (r *RequestDebitRegistry) restore(debits []models.RequestDebit, index map[models.RequestDebitStatus][]uint64) {
	r.byReference = make(map[uint64]*models.RequestDebit, len(debits))
	r.byStatus = make(map[models.RequestDebitStatus]map[uint64]struct{}, len(index))
	for status := range index {
		r.bucket(status)
	}
	for _, rd := range debits {
		r.Insert(rd)
	}
}
