// Package review is the curator queue over manual_reviews: enqueueing
// ready_for_export articles, listing them in a stable order and recording
// curator decisions.
package review

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"horse.fit/curation/internal/db"
	"horse.fit/curation/internal/globaltime"
	"horse.fit/curation/internal/lifecycle"
)

var (
	ErrNotEligible   = errors.New("article is not ready for export")
	ErrInvalidStatus = errors.New("invalid review status")
)

var listStatuses = map[string]struct{}{
	db.ReviewStatusPending:   {},
	db.ReviewStatusSelected:  {},
	db.ReviewStatusBackup:    {},
	db.ReviewStatusDiscarded: {},
	db.ReviewStatusExported:  {},
}

// Curators move reviews into these; pending goes through ResetToPending and
// exported is set by the export recorder.
var decisionStatuses = map[string]struct{}{
	db.ReviewStatusSelected:  {},
	db.ReviewStatusBackup:    {},
	db.ReviewStatusDiscarded: {},
}

type Queue struct {
	pool              *db.Pool
	logger            zerolog.Logger
	defaultReportType string
}

func NewQueue(pool *db.Pool, logger zerolog.Logger, defaultReportType string) *Queue {
	reportType := strings.TrimSpace(defaultReportType)
	if reportType == "" {
		reportType = "general"
	}
	return &Queue{pool: pool, logger: logger, defaultReportType: reportType}
}

func (q *Queue) DefaultReportType() string {
	return q.defaultReportType
}

// Enqueue creates a pending review for a ready_for_export article. It is a
// no-op returning created=false when the review already exists.
func (q *Queue) Enqueue(ctx context.Context, articleID, reportType string) (bool, error) {
	articleID = strings.TrimSpace(articleID)
	if err := lifecycle.ValidateArticleID(articleID); err != nil {
		return false, err
	}

	rec, found, err := q.pool.GetCurationRecord(ctx, articleID)
	if err != nil {
		return false, err
	}
	if !found || lifecycle.Status(rec.Status) != lifecycle.StatusReadyForExport {
		return false, fmt.Errorf("article_id=%s: %w", articleID, ErrNotEligible)
	}

	reportType = strings.TrimSpace(reportType)
	if reportType == "" {
		reportType = q.defaultReportType
	}
	created, err := q.pool.InsertReview(ctx, articleID, reportType, globaltime.UTC())
	if err != nil {
		return false, err
	}
	if created {
		q.logger.Info().Str("article_id", articleID).Str("report_type", reportType).Msg("review enqueued")
	}
	return created, nil
}

func (q *Queue) List(ctx context.Context, filter db.ReviewFilter) ([]db.ReviewItem, error) {
	filter.Status = strings.ToLower(strings.TrimSpace(filter.Status))
	if filter.Status != "" {
		if _, ok := listStatuses[filter.Status]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, filter.Status)
		}
	}
	return q.pool.ListReviews(ctx, filter)
}

// UpdateStatuses applies curator decisions as one batch. Either every
// decision is recorded or none is.
func (q *Queue) UpdateStatuses(ctx context.Context, decisions []db.ReviewDecision, actor string) ([]db.ManualReview, error) {
	if len(decisions) == 0 {
		return nil, nil
	}
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return nil, fmt.Errorf("actor is required")
	}

	normalized := make([]db.ReviewDecision, 0, len(decisions))
	seen := make(map[string]struct{}, len(decisions))
	for _, d := range decisions {
		d.ArticleID = strings.TrimSpace(d.ArticleID)
		d.Status = strings.ToLower(strings.TrimSpace(d.Status))
		if d.ArticleID == "" {
			return nil, lifecycle.ErrMissingArticleID
		}
		if _, ok := decisionStatuses[d.Status]; !ok {
			return nil, fmt.Errorf("%w: %q for article_id=%s", ErrInvalidStatus, d.Status, d.ArticleID)
		}
		if _, dup := seen[d.ArticleID]; dup {
			return nil, fmt.Errorf("article_id=%s appears twice in one batch", d.ArticleID)
		}
		seen[d.ArticleID] = struct{}{}
		normalized = append(normalized, d)
	}

	updated, err := q.pool.UpdateReviewStatuses(ctx, normalized, actor, globaltime.UTC())
	if err != nil {
		return nil, err
	}
	q.logger.Info().Int("count", len(updated)).Str("actor", actor).Msg("review statuses updated")
	return updated, nil
}

// ResetToPending undoes curator decisions. History in review_events stays.
func (q *Queue) ResetToPending(ctx context.Context, articleIDs []string, actor string) (int, error) {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return 0, fmt.Errorf("actor is required")
	}
	ids := make([]string, 0, len(articleIDs))
	for _, id := range articleIDs {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			ids = append(ids, trimmed)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}

	n, err := q.pool.ResetReviews(ctx, ids, actor, globaltime.UTC())
	if err != nil {
		return 0, err
	}
	q.logger.Info().Int("count", n).Str("actor", actor).Msg("reviews reset to pending")
	return n, nil
}

// EditSummary merges curator overrides; fields left nil are kept.
func (q *Queue) EditSummary(ctx context.Context, articleID string, overrides db.ReviewOverrides) (db.ManualReview, error) {
	articleID = strings.TrimSpace(articleID)
	if articleID == "" {
		return db.ManualReview{}, lifecycle.ErrMissingArticleID
	}
	if overrides.Summary == nil && overrides.Notes == nil && overrides.Score == nil {
		return db.ManualReview{}, fmt.Errorf("at least one override field is required")
	}
	return q.pool.EditReview(ctx, articleID, overrides, globaltime.UTC())
}
