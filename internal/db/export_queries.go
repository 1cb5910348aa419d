package db

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"horse.fit/curation/internal/lifecycle"
)

// ExportCandidate is one row eligible for a report.
type ExportCandidate struct {
	ArticleID string
	Title     string
	Content   string
	Source    string
	Summary   *string
	Score     float64
	CreatedAt time.Time
}

var clusterRootStatuses = []string{
	string(lifecycle.StatusPrimary),
	string(lifecycle.StatusScored),
	string(lifecycle.StatusReadyForExport),
}

// ListExportCandidates returns cluster roots scoring at least minScore, best
// first, then in insertion order.
func (p *Pool) ListExportCandidates(ctx context.Context, minScore float64) ([]ExportCandidate, error) {
	var rows []ExportCandidate
	err := p.GORM().WithContext(ctx).
		Model(&CurationRecord{}).
		Select("article_id, title, content, source, score, created_at").
		Where("status IN ? AND primary_article_id IS NULL", clusterRootStatuses).
		Where("score IS NOT NULL AND score >= ?", minScore).
		Order("score DESC, created_at ASC, article_id ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list export candidates: %w", err)
	}
	return rows, nil
}

// ListSelectedForExport returns curator-selected reviews scoring at least
// minScore, by curator rank then score. Reviews already exported under
// reportTag are included so the caller can count them as skipped. Curator
// overrides win over the stored summary and score.
func (p *Pool) ListSelectedForExport(ctx context.Context, minScore float64, reportTag string) ([]ExportCandidate, error) {
	const q = `
SELECT
	mr.article_id,
	c.title,
	c.content,
	c.source,
	mr.summary,
	COALESCE(mr.score_override, c.score) AS score,
	c.created_at
FROM manual_reviews mr
JOIN curation_records c
	ON c.article_id = mr.article_id
WHERE (
		mr.status = ?
		OR (mr.status = ? AND EXISTS (
			SELECT 1 FROM export_records er
			WHERE er.article_id = mr.article_id AND er.report_tag = ?
		))
	)
	AND c.status = ?
	AND COALESCE(mr.score_override, c.score) >= ?
ORDER BY
	CASE WHEN mr.rank IS NULL THEN 1 ELSE 0 END,
	mr.rank ASC,
	COALESCE(mr.score_override, c.score) DESC,
	c.created_at ASC,
	mr.article_id ASC
`
	var rows []ExportCandidate
	err := p.GORM().WithContext(ctx).
		Raw(q, ReviewStatusSelected, ReviewStatusExported, reportTag, string(lifecycle.StatusReadyForExport), minScore).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list selected reviews: %w", err)
	}
	return rows, nil
}

// ExportedArticleIDs returns the ids recorded under reportTag, or under any
// tag when reportTag is empty.
func (p *Pool) ExportedArticleIDs(ctx context.Context, reportTag string) (map[string]struct{}, error) {
	query := p.GORM().WithContext(ctx).Model(&ExportRecord{}).Distinct("article_id")
	if reportTag != "" {
		query = query.Where("report_tag = ?", reportTag)
	}
	var ids []string
	if err := query.Pluck("article_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("list exported article ids: %w", err)
	}
	out := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out, nil
}

// RecordExports inserts export history rows, ignoring pairs already recorded.
// With markReviews the matching review rows move to exported. It returns the
// number of new history rows.
func (p *Pool) RecordExports(ctx context.Context, records []ExportRecord, markReviews bool, actor string, now time.Time) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	var inserted int
	err := p.Transaction(ctx, func(tx *gorm.DB) error {
		for i := range records {
			rec := records[i]
			res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rec)
			if res.Error != nil {
				return fmt.Errorf("insert export record article_id=%s tag=%s: %w", rec.ArticleID, rec.ReportTag, res.Error)
			}
			inserted += int(res.RowsAffected)

			if !markReviews {
				continue
			}
			review, err := loadReview(tx, rec.ArticleID)
			if err != nil {
				return err
			}
			if review.Status == ReviewStatusExported {
				continue
			}
			if err := tx.Model(&ManualReview{}).
				Where("article_id = ?", rec.ArticleID).
				Updates(map[string]any{"status": ReviewStatusExported, "updated_at": now}).Error; err != nil {
				return fmt.Errorf("mark review exported article_id=%s: %w", rec.ArticleID, err)
			}
			if err := appendReviewEvent(tx, rec.ArticleID, review.Status, ReviewStatusExported, actor, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

func (p *Pool) CountExportRecords(ctx context.Context, reportTag string) (int64, error) {
	var n int64
	query := p.GORM().WithContext(ctx).Model(&ExportRecord{})
	if reportTag != "" {
		query = query.Where("report_tag = ?", reportTag)
	}
	if err := query.Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count export records: %w", err)
	}
	return n, nil
}
