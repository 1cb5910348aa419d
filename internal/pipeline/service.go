// Package pipeline drives the batch steps between ingestion and review:
// keyword filter, fingerprinting, dedup resolution, scoring, promotion and
// the maintenance sweep. Every step commits per item and is safe to rerun.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/curation/internal/db"
	"horse.fit/curation/internal/dedup"
	"horse.fit/curation/internal/fingerprint"
	"horse.fit/curation/internal/globaltime"
	"horse.fit/curation/internal/lifecycle"
	"horse.fit/curation/internal/metrics"
	"horse.fit/curation/internal/scoring"
	"horse.fit/curation/internal/workerpool"
)

const DefaultBatchLimit = 1000

// Scorer is the scoring collaborator. *scoring.Client implements it.
type Scorer interface {
	Score(ctx context.Context, req scoring.Request) (scoring.Result, error)
}

type Options struct {
	Keywords          []string
	MaxDistance       int
	DefaultReportType string
	Workers           int
	Metrics           *metrics.Metrics
}

type Service struct {
	pool       *db.Pool
	logger     zerolog.Logger
	metrics    *metrics.Metrics
	resolver   *dedup.Resolver
	store      *db.DedupStore
	keywords   []string
	reportType string
	workers    int
}

type FilterResult struct {
	Processed  int
	Inserted   int
	Backfilled int
	Skipped    int
	Failed     int
}

type FingerprintResult struct {
	Processed    int
	Hashed       int
	Reused       int
	SkippedEmpty int
	Failed       int
}

type ScoreResult struct {
	Processed int
	Scored    int
	Failed    int
}

type SweepOptions struct {
	ResetFailed bool
	ForceRehash bool
	ArticleIDs  []string
}

type SweepResult struct {
	Requeued    []string
	ResetFailed int
	Rehashed    int
	Violations  []dedup.Violation
}

type ProcessResult struct {
	Filter      FilterResult
	Fingerprint FingerprintResult
	Dedup       dedup.Result
	Promote     db.PromoteResult
}

func NewService(pool *db.Pool, logger zerolog.Logger, opts Options) *Service {
	keywords := make([]string, 0, len(opts.Keywords))
	for _, k := range opts.Keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			keywords = append(keywords, k)
		}
	}
	reportType := strings.TrimSpace(opts.DefaultReportType)
	if reportType == "" {
		reportType = "general"
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = 5
	}

	store := db.NewDedupStore(pool)
	var observer dedup.Observer
	if opts.Metrics != nil {
		observer = opts.Metrics
	}
	return &Service{
		pool:    pool,
		logger:  logger,
		metrics: opts.Metrics,
		store:   store,
		resolver: dedup.NewResolver(store, logger.With().Str("step", "dedup").Logger(), dedup.Options{
			MaxDistance: opts.MaxDistance,
			Observer:    observer,
		}),
		keywords:   keywords,
		reportType: reportType,
		workers:    workers,
	}
}

// FilterPending copies qualifying articles into curation_records and
// backfills content on rows that were copied before their content arrived.
func (s *Service) FilterPending(ctx context.Context, limit int) (FilterResult, error) {
	if s == nil || s.pool == nil {
		return FilterResult{}, fmt.Errorf("pipeline service is not initialized")
	}

	articles, err := s.pool.ListFilterCandidates(ctx, limit)
	if err != nil {
		return FilterResult{}, err
	}

	var result FilterResult
	for _, article := range articles {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Processed++

		if errors.Is(lifecycle.ValidateArticleID(article.ArticleID), lifecycle.ErrMissingArticleID) {
			s.logger.Warn().Msg("article without article_id skipped")
			result.Skipped++
			continue
		}
		if !s.qualifies(article) {
			result.Skipped++
			continue
		}

		now := globaltime.UTC()
		inserted, err := s.pool.InsertCurationRecord(ctx, db.NewCurationRecord(article, now))
		if err != nil {
			return result, err
		}
		if !inserted {
			filled, err := s.pool.BackfillCurationContent(ctx, article.ArticleID, article.Content, now)
			if err != nil {
				return result, err
			}
			if filled {
				result.Backfilled++
				s.logger.Debug().Str("article_id", article.ArticleID).Msg("curation content backfilled")
			}
			continue
		}
		result.Inserted++

		if err := lifecycle.ValidateArticleID(article.ArticleID); err != nil {
			if err := s.pool.MarkFailed(ctx, article.ArticleID, err.Error(), now); err != nil {
				return result, err
			}
			s.logger.Warn().Err(err).Str("article_id", article.ArticleID).Msg("curation record marked failed")
			result.Failed++
		}
	}

	s.metrics.ObserveStep("filter", metrics.OutcomeOK, result.Inserted+result.Backfilled)
	s.metrics.ObserveStep("filter", metrics.OutcomeSkipped, result.Skipped)
	s.metrics.ObserveStep("filter", metrics.OutcomeFailed, result.Failed)
	return result, nil
}

func (s *Service) qualifies(article db.Article) bool {
	if len(s.keywords) == 0 {
		return true
	}
	haystack := strings.ToLower(article.Title + "\n" + article.Content)
	for _, keyword := range s.keywords {
		if strings.Contains(haystack, keyword) {
			return true
		}
	}
	return false
}

// FingerprintPending hashes pending rows. Rows that already carry a complete
// fingerprint keep it unless force is set. Empty content leaves the row
// pending for a later run.
func (s *Service) FingerprintPending(ctx context.Context, limit int, force bool) (FingerprintResult, error) {
	if s == nil || s.pool == nil {
		return FingerprintResult{}, fmt.Errorf("pipeline service is not initialized")
	}

	queue, err := s.pool.ListFingerprintQueue(ctx, limit)
	if err != nil {
		return FingerprintResult{}, err
	}

	var result FingerprintResult
	for _, rec := range queue {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Processed++
		now := globaltime.UTC()

		if err := lifecycle.ValidateArticleID(rec.ArticleID); err != nil {
			if errors.Is(err, lifecycle.ErrMalformedArticleID) {
				if err := s.pool.MarkFailed(ctx, rec.ArticleID, err.Error(), now); err != nil {
					return result, err
				}
				result.Failed++
			}
			s.logger.Warn().Err(err).Str("article_id", rec.ArticleID).Msg("fingerprint skipped invalid article_id")
			continue
		}

		fp, complete := rec.Fingerprint()
		if complete && !force {
			result.Reused++
		} else {
			fp, err = fingerprint.Compute(rec.Content)
			if errors.Is(err, fingerprint.ErrEmptyContent) {
				result.SkippedEmpty++
				s.logger.Debug().Str("article_id", rec.ArticleID).Msg("fingerprint skipped empty content")
				continue
			}
			if err != nil {
				return result, fmt.Errorf("fingerprint article_id=%s: %w", rec.ArticleID, err)
			}
		}

		saved, err := s.pool.SaveFingerprint(ctx, rec.ArticleID, fp, now)
		if err != nil {
			return result, err
		}
		if saved {
			result.Hashed++
		}
	}

	s.metrics.ObserveStep("fingerprint", metrics.OutcomeOK, result.Hashed)
	s.metrics.ObserveStep("fingerprint", metrics.OutcomeSkipped, result.SkippedEmpty)
	s.metrics.ObserveStep("fingerprint", metrics.OutcomeFailed, result.Failed)
	return result, nil
}

// ResolvePending runs one single-writer dedup pass over hashed rows.
func (s *Service) ResolvePending(ctx context.Context, limit int) (dedup.Result, error) {
	if s == nil || s.resolver == nil {
		return dedup.Result{}, fmt.Errorf("pipeline service is not initialized")
	}
	if limit <= 0 {
		limit = DefaultBatchLimit
	}
	result, err := s.resolver.ResolvePending(ctx, limit)
	s.metrics.ObserveStep("dedup", metrics.OutcomeOK, result.Processed)
	s.metrics.ObserveStep("dedup", metrics.OutcomeSkipped, result.Skipped)
	return result, err
}

// ScorePending scores unscored primaries on a bounded worker pool. A failed
// call leaves its row untouched for the next run and does not stop the others.
func (s *Service) ScorePending(ctx context.Context, scorer Scorer, limit int) (ScoreResult, error) {
	if s == nil || s.pool == nil {
		return ScoreResult{}, fmt.Errorf("pipeline service is not initialized")
	}
	if scorer == nil {
		return ScoreResult{}, fmt.Errorf("scorer is required")
	}

	queue, err := s.pool.ListScoreQueue(ctx, limit)
	if err != nil {
		return ScoreResult{}, err
	}

	var (
		mu     sync.Mutex
		result ScoreResult
	)
	workers := workerpool.New(s.workers, s.workers*2, func(err error) {
		mu.Lock()
		result.Failed++
		mu.Unlock()
		s.logger.Error().Err(err).Msg("score job failed")
	})
	workers.Start(ctx)

	var submitErr error
	for _, rec := range queue {
		mu.Lock()
		result.Processed++
		mu.Unlock()

		err := workers.Submit(ctx, func(ctx context.Context) error {
			return s.scoreOne(ctx, scorer, rec, &mu, &result)
		})
		if err != nil {
			mu.Lock()
			result.Processed--
			mu.Unlock()
			submitErr = err
			break
		}
	}
	workers.Close()

	s.metrics.ObserveStep("score", metrics.OutcomeOK, result.Scored)
	s.metrics.ObserveStep("score", metrics.OutcomeFailed, result.Failed)
	if submitErr != nil {
		return result, submitErr
	}
	return result, ctx.Err()
}

func (s *Service) scoreOne(ctx context.Context, scorer Scorer, rec db.CurationRecord, mu *sync.Mutex, result *ScoreResult) error {
	started := time.Now()
	res, err := scorer.Score(ctx, scoring.Request{
		ArticleID:   rec.ArticleID,
		Title:       rec.Title,
		Content:     rec.Content,
		Source:      rec.Source,
		PublishTime: rec.PublishTime,
	})
	if err != nil {
		s.metrics.ObserveScoreCall(metrics.OutcomeFailed, time.Since(started))
		return fmt.Errorf("score article_id=%s: %w", rec.ArticleID, err)
	}
	s.metrics.ObserveScoreCall(metrics.OutcomeOK, time.Since(started))

	if err := s.pool.SaveScore(ctx, db.ScoreUpdate{
		ArticleID:      rec.ArticleID,
		Score:          res.Score,
		Importance:     res.Importance,
		Sentiment:      res.Sentiment,
		BeijingRelated: res.BeijingRelated,
	}, globaltime.UTC()); err != nil {
		return err
	}

	mu.Lock()
	result.Scored++
	mu.Unlock()
	s.logger.Debug().Str("article_id", rec.ArticleID).Float64("score", res.Score).Msg("article scored")
	return nil
}

// SetScore records a score for one article directly, bypassing the scorer.
func (s *Service) SetScore(ctx context.Context, articleID string, score float64) error {
	if err := lifecycle.ValidateArticleID(articleID); err != nil {
		return err
	}
	return s.pool.SaveScore(ctx, db.ScoreUpdate{ArticleID: articleID, Score: score}, globaltime.UTC())
}

// PromoteScored moves scored rows to ready_for_export and enqueues their
// review rows under the default report type.
func (s *Service) PromoteScored(ctx context.Context, limit int) (db.PromoteResult, error) {
	if s == nil || s.pool == nil {
		return db.PromoteResult{}, fmt.Errorf("pipeline service is not initialized")
	}
	result, err := s.pool.PromoteScored(ctx, s.reportType, limit, globaltime.UTC())
	s.metrics.ObserveStep("promote", metrics.OutcomeOK, result.Promoted)
	return result, err
}

// Sweep repairs lifecycle state: integrity mismatches are always requeued,
// failed rows and fingerprints are reset on request, and the chain invariant
// is checked last.
func (s *Service) Sweep(ctx context.Context, opts SweepOptions) (SweepResult, error) {
	if s == nil || s.pool == nil {
		return SweepResult{}, fmt.Errorf("pipeline service is not initialized")
	}

	var (
		result SweepResult
		err    error
	)
	now := globaltime.UTC()

	result.Requeued, err = s.pool.RequeueIntegrityMismatches(ctx, now)
	if err != nil {
		return result, err
	}
	for _, id := range result.Requeued {
		s.logger.Warn().Str("article_id", id).Msg("ready_for_export record without fingerprint requeued")
	}

	if opts.ResetFailed {
		if result.ResetFailed, err = s.pool.ResetFailed(ctx, now); err != nil {
			return result, err
		}
	}
	if opts.ForceRehash {
		if result.Rehashed, err = s.pool.ForceRehash(ctx, opts.ArticleIDs, now); err != nil {
			return result, err
		}
	}

	records, err := s.store.AllDedupRecords(ctx)
	if err != nil {
		return result, err
	}
	result.Violations = dedup.CheckChains(records)
	for _, v := range result.Violations {
		s.logger.Error().
			Str("article_id", v.ArticleID).
			Str("primary_article_id", v.PrimaryArticleID).
			Str("reason", v.Reason).
			Msg("cluster chain violation")
	}
	return result, nil
}

// Process runs filter, fingerprint, dedup and promote in order.
func (s *Service) Process(ctx context.Context, limit int) (ProcessResult, error) {
	var (
		result ProcessResult
		err    error
	)
	if result.Filter, err = s.FilterPending(ctx, limit); err != nil {
		return result, fmt.Errorf("filter: %w", err)
	}
	if result.Fingerprint, err = s.FingerprintPending(ctx, limit, false); err != nil {
		return result, fmt.Errorf("fingerprint: %w", err)
	}
	if result.Dedup, err = s.ResolvePending(ctx, limit); err != nil {
		return result, fmt.Errorf("dedup: %w", err)
	}
	if result.Promote, err = s.PromoteScored(ctx, limit); err != nil {
		return result, fmt.Errorf("promote: %w", err)
	}
	return result, nil
}
