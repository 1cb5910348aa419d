package dedup

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"horse.fit/curation/internal/fingerprint"
	"horse.fit/curation/internal/lifecycle"
)

// Arena is an in-memory Store keyed by article_id with one band map per
// band position. It backs tests and offline dry runs.
type Arena struct {
	mu      sync.RWMutex
	records map[string]Record
	bands   [fingerprint.BandCount]map[uint16]map[string]struct{}
}

var _ Store = (*Arena)(nil)

func NewArena() *Arena {
	a := &Arena{records: make(map[string]Record)}
	for i := range a.bands {
		a.bands[i] = make(map[uint16]map[string]struct{})
	}
	return a
}

// Put inserts or replaces a record and re-indexes its bands.
func (a *Arena) Put(r Record) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if old, ok := a.records[r.ArticleID]; ok {
		a.unindex(old)
	}
	a.records[r.ArticleID] = r
	for i, band := range r.Bands() {
		bucket, ok := a.bands[i][band]
		if !ok {
			bucket = make(map[string]struct{})
			a.bands[i][band] = bucket
		}
		bucket[r.ArticleID] = struct{}{}
	}
}

func (a *Arena) unindex(r Record) {
	for i, band := range r.Bands() {
		delete(a.bands[i][band], r.ArticleID)
	}
}

func (a *Arena) Records() []Record {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]Record, 0, len(a.records))
	for _, r := range a.records {
		out = append(out, r)
	}
	sortRecords(out)
	return out
}

func (a *Arena) Get(_ context.Context, articleID string) (Record, bool, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	r, ok := a.records[articleID]
	return r, ok, nil
}

func (a *Arena) ListHashed(_ context.Context, limit int) ([]Record, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]Record, 0)
	for _, r := range a.records {
		if r.Status == lifecycle.StatusHashed {
			out = append(out, r)
		}
	}
	sortRecords(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (a *Arena) BandCandidates(_ context.Context, r Record) ([]Record, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	seen := make(map[string]struct{})
	var out []Record
	for i, band := range r.Bands() {
		for id := range a.bands[i][band] {
			if id == r.ArticleID {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			candidate := a.records[id]
			if !candidate.Status.IsResolved() && candidate.Status != lifecycle.StatusHashed {
				continue
			}
			out = append(out, candidate)
		}
	}
	sortRecords(out)
	return out, nil
}

func (a *Arena) Members(_ context.Context, primaryID string) ([]Record, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var out []Record
	for _, r := range a.records {
		if r.Status == lifecycle.StatusDuplicate && r.PrimaryArticleID == primaryID {
			out = append(out, r)
		}
	}
	sortRecords(out)
	return out, nil
}

func (a *Arena) Apply(_ context.Context, res Resolution) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	next := make(map[string]Record, len(res.Assignments))
	for _, as := range res.Assignments {
		current, ok := a.records[as.ArticleID]
		if !ok {
			return fmt.Errorf("apply resolution: article_id=%s not found", as.ArticleID)
		}
		current.Status = as.Status
		current.PrimaryArticleID = as.PrimaryArticleID
		next[as.ArticleID] = current
	}

	for _, as := range res.Assignments {
		if as.Status != lifecycle.StatusDuplicate {
			continue
		}
		target, ok := next[as.PrimaryArticleID]
		if !ok {
			target, ok = a.records[as.PrimaryArticleID]
		}
		if !ok || !target.Status.IsClusterRoot() || as.PrimaryArticleID == as.ArticleID {
			return fmt.Errorf("%w: %s -> %s", ErrChain, as.ArticleID, as.PrimaryArticleID)
		}
	}

	for id, r := range a.records {
		if _, reassigned := next[id]; reassigned || r.Status != lifecycle.StatusDuplicate {
			continue
		}
		if target, demoted := next[r.PrimaryArticleID]; demoted && !target.Status.IsClusterRoot() {
			return fmt.Errorf("%w: %s left pointing at demoted %s", ErrChain, id, r.PrimaryArticleID)
		}
	}

	for id, r := range next {
		a.records[id] = r
	}
	return nil
}

func sortRecords(records []Record) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].Before(records[j])
	})
}
