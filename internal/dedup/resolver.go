// Package dedup resolves fingerprinted records into near-duplicate clusters
// with exactly one primary each.
package dedup

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"horse.fit/curation/internal/fingerprint"
	"horse.fit/curation/internal/lifecycle"
)

const DefaultMaxDistance = 3

// Store is the lifecycle store as seen by the resolver. Apply must be atomic
// and must reject any duplicate assignment whose target is not a cluster root
// once the resolution is applied.
type Store interface {
	Get(ctx context.Context, articleID string) (Record, bool, error)
	ListHashed(ctx context.Context, limit int) ([]Record, error)
	BandCandidates(ctx context.Context, r Record) ([]Record, error)
	Members(ctx context.Context, primaryID string) ([]Record, error)
	Apply(ctx context.Context, res Resolution) error
}

// Observer receives each applied decision. Metrics hang off it.
type Observer interface {
	ObserveDecision(decision Decision)
}

type Options struct {
	MaxDistance int
	Observer    Observer
}

type Result struct {
	Processed   int
	NewClusters int
	Joined      int
	Takeovers   int
	Duplicates  int
	Skipped     int
}

// Resolver drives one single-writer resolution pass. Concurrent calls on the
// same Resolver are serialized.
type Resolver struct {
	mu          sync.Mutex
	store       Store
	logger      zerolog.Logger
	maxDistance int
	observer    Observer
}

func NewResolver(store Store, logger zerolog.Logger, opts Options) *Resolver {
	maxDistance := opts.MaxDistance
	if maxDistance < 0 {
		maxDistance = DefaultMaxDistance
	}
	return &Resolver{
		store:       store,
		logger:      logger,
		maxDistance: maxDistance,
		observer:    opts.Observer,
	}
}

// ResolvePending resolves up to limit hashed records, oldest first. A record
// claimed by an earlier resolution in the same pass is skipped. The pass stops
// between records when ctx is cancelled; applied resolutions stay committed.
func (r *Resolver) ResolvePending(ctx context.Context, limit int) (Result, error) {
	if r == nil || r.store == nil {
		return Result{}, fmt.Errorf("resolver is not initialized")
	}
	if limit <= 0 {
		return Result{}, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	batch, err := r.store.ListHashed(ctx, limit)
	if err != nil {
		return Result{}, fmt.Errorf("list hashed records: %w", err)
	}

	var result Result
	for _, queued := range batch {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		current, found, err := r.store.Get(ctx, queued.ArticleID)
		if err != nil {
			return result, fmt.Errorf("reload article_id=%s: %w", queued.ArticleID, err)
		}
		if !found || current.Status != lifecycle.StatusHashed {
			result.Skipped++
			continue
		}

		res, err := r.plan(ctx, current)
		if err != nil {
			return result, err
		}
		if err := r.store.Apply(ctx, res); err != nil {
			return result, fmt.Errorf("apply resolution article_id=%s: %w", current.ArticleID, err)
		}

		result.Processed++
		for _, as := range res.Assignments {
			if as.Status == lifecycle.StatusDuplicate {
				result.Duplicates++
			}
		}
		switch res.Decision {
		case DecisionNewCluster:
			result.NewClusters++
		case DecisionJoined:
			result.Joined++
		case DecisionTakeover:
			result.Takeovers++
		}
		if r.observer != nil {
			r.observer.ObserveDecision(res.Decision)
		}

		r.logger.Debug().
			Str("article_id", current.ArticleID).
			Str("primary_article_id", res.PrimaryID).
			Str("decision", string(res.Decision)).
			Int("assignments", len(res.Assignments)).
			Msg("dedup resolved")
	}

	return result, nil
}

// Resolve plans and applies a resolution for one hashed record.
func (r *Resolver) Resolve(ctx context.Context, articleID string) (Resolution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, found, err := r.store.Get(ctx, articleID)
	if err != nil {
		return Resolution{}, err
	}
	if !found || current.Status != lifecycle.StatusHashed {
		return Resolution{ArticleID: articleID, Decision: DecisionSkipped}, nil
	}
	res, err := r.plan(ctx, current)
	if err != nil {
		return Resolution{}, err
	}
	if err := r.store.Apply(ctx, res); err != nil {
		return Resolution{}, err
	}
	return res, nil
}

func (r *Resolver) plan(ctx context.Context, rec Record) (Resolution, error) {
	candidates, err := r.store.BandCandidates(ctx, rec)
	if err != nil {
		return Resolution{}, fmt.Errorf("band candidates article_id=%s: %w", rec.ArticleID, err)
	}

	var (
		roots      = make(map[string]Record)
		unresolved []Record
		exactRoot  *Record
	)
	for _, c := range candidates {
		if !r.confirm(rec, c) {
			continue
		}

		var root Record
		switch {
		case c.Status.IsClusterRoot():
			root = c
		case c.Status == lifecycle.StatusDuplicate:
			primary, ok, err := r.store.Get(ctx, c.PrimaryArticleID)
			if err != nil {
				return Resolution{}, fmt.Errorf("load primary %s of %s: %w", c.PrimaryArticleID, c.ArticleID, err)
			}
			if !ok || !primary.Status.IsClusterRoot() {
				r.logger.Warn().
					Str("article_id", c.ArticleID).
					Str("primary_article_id", c.PrimaryArticleID).
					Msg("candidate duplicate has a broken primary pointer; ignoring")
				continue
			}
			root = primary
		case c.Status == lifecycle.StatusHashed:
			unresolved = append(unresolved, c)
			continue
		default:
			continue
		}

		roots[root.ArticleID] = root
		if rec.exactMatch(c) && (exactRoot == nil || root.Before(*exactRoot)) {
			picked := root
			exactRoot = &picked
		}
	}

	if len(roots) == 0 {
		return planFreshCluster(rec, unresolved), nil
	}

	target := earliest(roots)
	if exactRoot != nil {
		target = *exactRoot
		if rec.Before(target) {
			members, err := r.store.Members(ctx, target.ArticleID)
			if err != nil {
				return Resolution{}, fmt.Errorf("members of %s: %w", target.ArticleID, err)
			}
			return planTakeover(rec, target, members, unresolved), nil
		}
	}

	assignments := []Assignment{{ArticleID: rec.ArticleID, Status: lifecycle.StatusDuplicate, PrimaryArticleID: target.ArticleID}}
	for _, u := range unresolved {
		assignments = append(assignments, Assignment{ArticleID: u.ArticleID, Status: lifecycle.StatusDuplicate, PrimaryArticleID: target.ArticleID})
	}
	return Resolution{
		ArticleID:   rec.ArticleID,
		PrimaryID:   target.ArticleID,
		Decision:    DecisionJoined,
		Assignments: assignments,
	}, nil
}

// confirm is the full-signature check behind the band pre-filter.
func (r *Resolver) confirm(rec, candidate Record) bool {
	if rec.exactMatch(candidate) {
		return true
	}
	return fingerprint.HammingDistance(rec.Simhash, candidate.Simhash) <= r.maxDistance
}

// planFreshCluster handles a record with no resolved neighbours: the earliest
// of it and its unresolved matches becomes primary.
func planFreshCluster(rec Record, unresolved []Record) Resolution {
	primary := rec
	for _, u := range unresolved {
		if u.Before(primary) {
			primary = u
		}
	}

	assignments := []Assignment{{ArticleID: primary.ArticleID, Status: lifecycle.StatusPrimary}}
	if primary.ArticleID != rec.ArticleID {
		assignments = append(assignments, Assignment{ArticleID: rec.ArticleID, Status: lifecycle.StatusDuplicate, PrimaryArticleID: primary.ArticleID})
	}
	for _, u := range unresolved {
		if u.ArticleID == primary.ArticleID {
			continue
		}
		assignments = append(assignments, Assignment{ArticleID: u.ArticleID, Status: lifecycle.StatusDuplicate, PrimaryArticleID: primary.ArticleID})
	}

	decision := DecisionNewCluster
	if primary.ArticleID != rec.ArticleID {
		decision = DecisionJoined
	}
	return Resolution{
		ArticleID:   rec.ArticleID,
		PrimaryID:   primary.ArticleID,
		Decision:    decision,
		Assignments: assignments,
	}
}

// planTakeover moves a whole cluster under an earlier-inserted exact
// duplicate of its root. Members are repointed so no chain forms.
func planTakeover(rec, oldRoot Record, members, unresolved []Record) Resolution {
	assignments := []Assignment{
		{ArticleID: rec.ArticleID, Status: lifecycle.StatusPrimary},
		{ArticleID: oldRoot.ArticleID, Status: lifecycle.StatusDuplicate, PrimaryArticleID: rec.ArticleID},
	}
	for _, m := range members {
		assignments = append(assignments, Assignment{ArticleID: m.ArticleID, Status: lifecycle.StatusDuplicate, PrimaryArticleID: rec.ArticleID})
	}
	for _, u := range unresolved {
		assignments = append(assignments, Assignment{ArticleID: u.ArticleID, Status: lifecycle.StatusDuplicate, PrimaryArticleID: rec.ArticleID})
	}
	return Resolution{
		ArticleID:   rec.ArticleID,
		PrimaryID:   rec.ArticleID,
		Decision:    DecisionTakeover,
		Assignments: assignments,
	}
}

func earliest(records map[string]Record) Record {
	var (
		best  Record
		found bool
	)
	for _, r := range records {
		if !found || r.Before(best) {
			best = r
			found = true
		}
	}
	return best
}
