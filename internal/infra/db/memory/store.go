// Package memory keeps every repository in process memory. It backs the
// "memory" database driver for local runs and serves as the test store.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bryanwahyu/metro-bim/internal/domain/analysis"
	"github.com/bryanwahyu/metro-bim/internal/domain/bim"
	"github.com/bryanwahyu/metro-bim/internal/domain/evidence"
	"github.com/bryanwahyu/metro-bim/internal/domain/failures"
)

// Store holds all tables behind one mutex. Values are copied on the way in and out.
type Store struct {
	mu sync.RWMutex

	runs        map[analysis.RunID]*analysis.Run
	documents   map[bim.DocumentID]*bim.Document
	elements    map[bim.DocumentID][]bim.Element
	comparisons map[bim.DocumentID][]bim.Comparison
	evidence    map[evidence.ID]*evidence.Evidence
	issues      map[evidence.ID][]evidence.Issue
	failures    []*failures.Entry
	failureSeq  int64
}

func New() *Store {
	return &Store{
		runs:        make(map[analysis.RunID]*analysis.Run),
		documents:   make(map[bim.DocumentID]*bim.Document),
		elements:    make(map[bim.DocumentID][]bim.Element),
		comparisons: make(map[bim.DocumentID][]bim.Comparison),
		evidence:    make(map[evidence.ID]*evidence.Evidence),
		issues:      make(map[evidence.ID][]evidence.Issue),
	}
}

// Runs, Documents, Evidence and Failures expose the store through each port.
func (s *Store) Runs() *RunRepository           { return &RunRepository{s} }
func (s *Store) Documents() *DocumentRepository { return &DocumentRepository{s} }
func (s *Store) Evidence() *EvidenceRepository  { return &EvidenceRepository{s} }
func (s *Store) Failures() *FailureRepository   { return &FailureRepository{s} }

// RunRepository implements analysis.Repository.
type RunRepository struct{ s *Store }

func (r *RunRepository) Create(_ context.Context, run *analysis.Run) (*analysis.Run, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.runs[run.ID]; ok {
		return nil, fmt.Errorf("%w: duplicate run id %s", analysis.ErrInvalidInput, run.ID)
	}
	r.s.runs[run.ID] = copyRun(run)
	return run, nil
}

func (r *RunRepository) Update(_ context.Context, run *analysis.Run) (*analysis.Run, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.runs[run.ID]; !ok {
		return nil, fmt.Errorf("%w: %s", analysis.ErrNotFound, run.ID)
	}
	r.s.runs[run.ID] = copyRun(run)
	return run, nil
}

func (r *RunRepository) GetByID(_ context.Context, id analysis.RunID) (*analysis.Run, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	run, ok := r.s.runs[id]
	if !ok {
		return nil, nil
	}
	return copyRun(run), nil
}

func (r *RunRepository) ListRecent(_ context.Context, limit int) ([]*analysis.Run, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]*analysis.Run, 0, len(r.s.runs))
	for _, run := range r.s.runs {
		out = append(out, copyRun(run))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Delete drops a run with its sub-results. Not part of the port; used by tests
// to simulate a run disappearing mid-execution.
func (r *RunRepository) Delete(id analysis.RunID) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.runs, id)
}

func copyRun(in *analysis.Run) *analysis.Run {
	out := *in
	out.Bim = copyResult(in.Bim)
	out.Image = copyResult(in.Image)
	if in.Comparison != nil {
		c := *in.Comparison
		c.Mismatches = append([]string{}, in.Comparison.Mismatches...)
		out.Comparison = &c
	}
	return &out
}

func copyResult(in *analysis.Result) *analysis.Result {
	if in == nil {
		return nil
	}
	out := *in
	out.Issues = append([]analysis.DetectedIssue{}, in.Issues...)
	if in.CompletedAt != nil {
		t := *in.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}

// DocumentRepository implements bim.Repository.
type DocumentRepository struct{ s *Store }

func (r *DocumentRepository) ReplaceForProject(_ context.Context, doc *bim.Document) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for id, d := range r.s.documents {
		if d.ProjectID == doc.ProjectID {
			r.s.deleteDocument(id)
		}
	}
	d := *doc
	r.s.documents[doc.ID] = &d
	return nil
}

func (r *DocumentRepository) Get(_ context.Context, id bim.DocumentID) (*bim.Document, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	d, ok := r.s.documents[id]
	if !ok {
		return nil, nil
	}
	out := *d
	return &out, nil
}

func (r *DocumentRepository) GetByProject(_ context.Context, projectID string) (*bim.Document, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var latest *bim.Document
	for _, d := range r.s.documents {
		if d.ProjectID == projectID && (latest == nil || d.UploadedAt.After(latest.UploadedAt)) {
			latest = d
		}
	}
	if latest == nil {
		return nil, nil
	}
	out := *latest
	return &out, nil
}

func (r *DocumentRepository) Update(_ context.Context, doc *bim.Document) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.documents[doc.ID]; !ok {
		return fmt.Errorf("%w: %s", bim.ErrNotFound, doc.ID)
	}
	d := *doc
	r.s.documents[doc.ID] = &d
	return nil
}

func (r *DocumentRepository) ReplaceElements(_ context.Context, id bim.DocumentID, elements []bim.Element) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	seen := make(map[string]struct{}, len(elements))
	out := make([]bim.Element, 0, len(elements))
	for _, e := range elements {
		if _, dup := seen[e.ExternalID]; dup {
			return fmt.Errorf("duplicate element %s in document %s", e.ExternalID, id)
		}
		seen[e.ExternalID] = struct{}{}
		e.DocumentID = id
		out = append(out, e)
	}
	r.s.elements[id] = out
	return nil
}

func (r *DocumentRepository) ReplaceComparisons(_ context.Context, id bim.DocumentID, comparisons []bim.Comparison) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]bim.Comparison, 0, len(comparisons))
	for _, c := range comparisons {
		c.DocumentID = id
		out = append(out, c)
	}
	r.s.comparisons[id] = out
	return nil
}

func (r *DocumentRepository) ListElements(_ context.Context, id bim.DocumentID) ([]bim.Element, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return append([]bim.Element{}, r.s.elements[id]...), nil
}

func (r *DocumentRepository) ListComparisons(_ context.Context, id bim.DocumentID) ([]bim.Comparison, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return append([]bim.Comparison{}, r.s.comparisons[id]...), nil
}

func (r *DocumentRepository) Delete(_ context.Context, id bim.DocumentID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.deleteDocument(id)
	return nil
}

// deleteDocument cascades; caller holds the lock.
func (s *Store) deleteDocument(id bim.DocumentID) {
	delete(s.documents, id)
	delete(s.elements, id)
	delete(s.comparisons, id)
}

// EvidenceRepository implements evidence.Repository.
type EvidenceRepository struct{ s *Store }

func (r *EvidenceRepository) Create(_ context.Context, e *evidence.Evidence) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.evidence[e.ID] = copyEvidence(e)
	return nil
}

func (r *EvidenceRepository) Get(_ context.Context, id evidence.ID) (*evidence.Evidence, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	e, ok := r.s.evidence[id]
	if !ok {
		return nil, nil
	}
	return copyEvidence(e), nil
}

func (r *EvidenceRepository) UpdateStatus(_ context.Context, e *evidence.Evidence) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.evidence[e.ID]
	if !ok {
		return fmt.Errorf("%w: %s", evidence.ErrNotFound, e.ID)
	}
	upd := copyEvidence(cur)
	upd.Status = e.Status
	upd.ProcessingStartedAt = copyTime(e.ProcessingStartedAt)
	upd.AnalyzedAt = copyTime(e.AnalyzedAt)
	r.s.evidence[e.ID] = upd
	return nil
}

func (r *EvidenceRepository) ReplaceIssues(_ context.Context, id evidence.ID, issues []evidence.Issue) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]evidence.Issue, 0, len(issues))
	for _, is := range issues {
		is.EvidenceID = id
		out = append(out, is)
	}
	r.s.issues[id] = out
	return nil
}

func (r *EvidenceRepository) ListIssues(_ context.Context, id evidence.ID) ([]evidence.Issue, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return append([]evidence.Issue{}, r.s.issues[id]...), nil
}

func (r *EvidenceRepository) ListProcessingSince(_ context.Context, cutoff time.Time) ([]*evidence.Evidence, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*evidence.Evidence
	for _, e := range r.s.evidence {
		if e.Status != evidence.StatusProcessing {
			continue
		}
		if e.ProcessingStartedAt == nil || e.ProcessingStartedAt.Before(cutoff) {
			out = append(out, copyEvidence(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UploadedAt.Before(out[j].UploadedAt) })
	return out, nil
}

func (r *EvidenceRepository) Delete(_ context.Context, id evidence.ID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.evidence, id)
	delete(r.s.issues, id)
	return nil
}

func copyEvidence(in *evidence.Evidence) *evidence.Evidence {
	out := *in
	out.ProcessingStartedAt = copyTime(in.ProcessingStartedAt)
	out.AnalyzedAt = copyTime(in.AnalyzedAt)
	return &out
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// FailureRepository implements failures.Repository.
type FailureRepository struct{ s *Store }

func (r *FailureRepository) Save(_ context.Context, e *failures.Entry) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.failureSeq++
	cp := *e
	cp.ID = r.s.failureSeq
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	e.ID = cp.ID
	r.s.failures = append(r.s.failures, &cp)
	return nil
}

func (r *FailureRepository) ListByEntity(_ context.Context, entityID string, limit int) ([]*failures.Entry, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if limit <= 0 {
		limit = 20
	}
	var out []*failures.Entry
	for i := len(r.s.failures) - 1; i >= 0 && len(out) < limit; i-- {
		if f := r.s.failures[i]; f.EntityID == entityID {
			cp := *f
			out = append(out, &cp)
		}
	}
	return out, nil
}
