package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"horse.fit/curation/internal/fingerprint"
	"horse.fit/curation/internal/lifecycle"
)

var ErrNotScorable = errors.New("only cluster roots can be scored")

// NewCurationRecord maps an ingested article onto a fresh pending curation
// row. The article's ingestion time is kept as the insertion order used for
// primary selection.
func NewCurationRecord(a Article, now time.Time) CurationRecord {
	createdAt := a.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	return CurationRecord{
		ArticleID:   a.ArticleID,
		Title:       a.Title,
		Content:     a.Content,
		Source:      a.Source,
		PublishTime: a.PublishTime,
		Status:      string(lifecycle.StatusPending),
		CreatedAt:   createdAt.UTC(),
		UpdatedAt:   now,
	}
}

// Fingerprint rebuilds the stored fingerprint. ok is false while any of the
// fingerprint columns is still NULL.
func (c CurationRecord) Fingerprint() (fingerprint.Fingerprint, bool) {
	if c.ContentHash == nil || c.Simhash == nil ||
		c.SimhashBand1 == nil || c.SimhashBand2 == nil || c.SimhashBand3 == nil || c.SimhashBand4 == nil {
		return fingerprint.Fingerprint{}, false
	}
	simhash := uint64(*c.Simhash)
	return fingerprint.Fingerprint{
		ContentHash: *c.ContentHash,
		Simhash:     simhash,
		Bands:       fingerprint.SplitBands(simhash),
	}, true
}

// InsertCurationRecord inserts rec unless a row for the article already
// exists. The conflict case reports inserted=false and no error.
func (p *Pool) InsertCurationRecord(ctx context.Context, rec CurationRecord) (bool, error) {
	res := p.GORM().WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rec)
	if res.Error != nil {
		return false, fmt.Errorf("insert curation article_id=%s: %w", rec.ArticleID, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// BackfillCurationContent fills content on a row that is still empty. Rows
// with content are left alone.
func (p *Pool) BackfillCurationContent(ctx context.Context, articleID, content string, now time.Time) (bool, error) {
	if strings.TrimSpace(content) == "" {
		return false, nil
	}
	res := p.GORM().WithContext(ctx).
		Model(&CurationRecord{}).
		Where("article_id = ? AND content = ''", articleID).
		Updates(map[string]any{"content": content, "updated_at": now})
	if res.Error != nil {
		return false, fmt.Errorf("backfill content article_id=%s: %w", articleID, res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (p *Pool) GetCurationRecord(ctx context.Context, articleID string) (CurationRecord, bool, error) {
	var rows []CurationRecord
	if err := p.GORM().WithContext(ctx).Where("article_id = ?", articleID).Limit(1).Find(&rows).Error; err != nil {
		return CurationRecord{}, false, fmt.Errorf("load curation article_id=%s: %w", articleID, err)
	}
	if len(rows) == 0 {
		return CurationRecord{}, false, nil
	}
	return rows[0], true, nil
}

// ListFingerprintQueue returns pending rows, oldest first.
func (p *Pool) ListFingerprintQueue(ctx context.Context, limit int) ([]CurationRecord, error) {
	query := p.GORM().WithContext(ctx).
		Where("status = ?", string(lifecycle.StatusPending)).
		Order("created_at ASC, article_id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var rows []CurationRecord
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list fingerprint queue: %w", err)
	}
	return rows, nil
}

// SaveFingerprint writes all fingerprint columns and advances a pending row to
// hashed. It returns false when the row is no longer pending.
func (p *Pool) SaveFingerprint(ctx context.Context, articleID string, fp fingerprint.Fingerprint, now time.Time) (bool, error) {
	res := p.GORM().WithContext(ctx).
		Model(&CurationRecord{}).
		Where("article_id = ? AND status = ?", articleID, string(lifecycle.StatusPending)).
		Updates(map[string]any{
			"content_hash":       fp.ContentHash,
			"simhash":            int64(fp.Simhash),
			"simhash_band1":      int(fp.Bands[0]),
			"simhash_band2":      int(fp.Bands[1]),
			"simhash_band3":      int(fp.Bands[2]),
			"simhash_band4":      int(fp.Bands[3]),
			"status":             string(lifecycle.StatusHashed),
			"primary_article_id": nil,
			"fingerprinted_at":   now,
			"updated_at":         now,
		})
	if res.Error != nil {
		return false, fmt.Errorf("save fingerprint article_id=%s: %w", articleID, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// MarkFailed moves a row to the terminal failed status.
func (p *Pool) MarkFailed(ctx context.Context, articleID, reason string, now time.Time) error {
	res := p.GORM().WithContext(ctx).
		Model(&CurationRecord{}).
		Where("article_id = ?", articleID).
		Updates(map[string]any{
			"status":         string(lifecycle.StatusFailed),
			"failure_reason": reason,
			"updated_at":     now,
		})
	if res.Error != nil {
		return fmt.Errorf("mark failed article_id=%s: %w", articleID, res.Error)
	}
	return nil
}

// ListScoreQueue returns primary rows without a score, oldest first.
func (p *Pool) ListScoreQueue(ctx context.Context, limit int) ([]CurationRecord, error) {
	query := p.GORM().WithContext(ctx).
		Where("status = ? AND score IS NULL", string(lifecycle.StatusPrimary)).
		Order("created_at ASC, article_id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var rows []CurationRecord
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list score queue: %w", err)
	}
	return rows, nil
}

// ScoreUpdate is one result from the scoring collaborator. Nil signal fields
// leave the stored value untouched.
type ScoreUpdate struct {
	ArticleID      string
	Score          float64
	Importance     *float64
	Sentiment      *string
	BeijingRelated *bool
}

// SaveScore writes the score on a cluster root, advancing primary to scored,
// and merges the signals into article_signals.
func (p *Pool) SaveScore(ctx context.Context, upd ScoreUpdate, now time.Time) error {
	return p.Transaction(ctx, func(tx *gorm.DB) error {
		var rows []CurationRecord
		if err := tx.Select("article_id", "status").Where("article_id = ?", upd.ArticleID).Limit(1).Find(&rows).Error; err != nil {
			return fmt.Errorf("load curation article_id=%s: %w", upd.ArticleID, err)
		}
		if len(rows) == 0 {
			return fmt.Errorf("score article_id=%s: %w", upd.ArticleID, ErrNoRows)
		}

		status := lifecycle.Status(rows[0].Status)
		if !status.IsClusterRoot() {
			return fmt.Errorf("score article_id=%s status=%s: %w", upd.ArticleID, status, ErrNotScorable)
		}
		next := status
		if status == lifecycle.StatusPrimary {
			next = lifecycle.StatusScored
		}

		if err := tx.Model(&CurationRecord{}).
			Where("article_id = ?", upd.ArticleID).
			Updates(map[string]any{
				"score":      upd.Score,
				"status":     string(next),
				"updated_at": now,
			}).Error; err != nil {
			return fmt.Errorf("save score article_id=%s: %w", upd.ArticleID, err)
		}

		return mergeSignals(tx, upd, now)
	})
}

func mergeSignals(tx *gorm.DB, upd ScoreUpdate, now time.Time) error {
	if upd.Importance == nil && upd.Sentiment == nil && upd.BeijingRelated == nil {
		return nil
	}

	var existing []ArticleSignal
	if err := tx.Where("article_id = ?", upd.ArticleID).Limit(1).Find(&existing).Error; err != nil {
		return fmt.Errorf("load signals article_id=%s: %w", upd.ArticleID, err)
	}

	signal := ArticleSignal{ArticleID: upd.ArticleID}
	if len(existing) > 0 {
		signal = existing[0]
	}
	if upd.Importance != nil {
		signal.ImportanceScore = upd.Importance
	}
	if upd.Sentiment != nil {
		sentiment := strings.ToLower(strings.TrimSpace(*upd.Sentiment))
		signal.Sentiment = &sentiment
	}
	if upd.BeijingRelated != nil {
		signal.BeijingRelated = upd.BeijingRelated
	}
	signal.UpdatedAt = now

	if err := tx.Save(&signal).Error; err != nil {
		return fmt.Errorf("save signals article_id=%s: %w", upd.ArticleID, err)
	}
	return nil
}

// PromoteResult counts one promotion pass. Rescored counts primaries that
// already carried a score, typically rows requeued by the sweep.
type PromoteResult struct {
	Promoted int
	Enqueued int
	Rescored int
}

// PromoteScored advances scored rows with a complete fingerprint to
// ready_for_export and enqueues a review row for each. A primary that already
// has a score is moved to scored first. Each row commits on its own.
func (p *Pool) PromoteScored(ctx context.Context, reportType string, limit int, now time.Time) (PromoteResult, error) {
	query := p.GORM().WithContext(ctx).
		Model(&CurationRecord{}).
		Select("article_id", "status").
		Where("status IN ? AND score IS NOT NULL", []string{string(lifecycle.StatusPrimary), string(lifecycle.StatusScored)}).
		Where(completeFingerprintSQL).
		Order("created_at ASC, article_id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var rows []CurationRecord
	if err := query.Find(&rows).Error; err != nil {
		return PromoteResult{}, fmt.Errorf("list promotable records: %w", err)
	}

	var result PromoteResult
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		id := row.ArticleID
		err := p.Transaction(ctx, func(tx *gorm.DB) error {
			rescored := false
			if lifecycle.Status(row.Status) == lifecycle.StatusPrimary {
				res := tx.Model(&CurationRecord{}).
					Where("article_id = ? AND status = ? AND score IS NOT NULL", id, string(lifecycle.StatusPrimary)).
					Updates(map[string]any{"status": string(lifecycle.StatusScored), "updated_at": now})
				if res.Error != nil {
					return res.Error
				}
				rescored = res.RowsAffected > 0
			}

			res := tx.Model(&CurationRecord{}).
				Where("article_id = ? AND status = ?", id, string(lifecycle.StatusScored)).
				Updates(map[string]any{"status": string(lifecycle.StatusReadyForExport), "updated_at": now})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return nil
			}
			result.Promoted++
			if rescored {
				result.Rescored++
			}

			created, err := insertReview(tx, id, reportType, now)
			if err != nil {
				return err
			}
			if created {
				result.Enqueued++
			}
			return nil
		})
		if err != nil {
			return result, fmt.Errorf("promote article_id=%s: %w", id, err)
		}
	}
	return result, nil
}

const completeFingerprintSQL = "content_hash IS NOT NULL AND simhash IS NOT NULL AND simhash_band1 IS NOT NULL AND simhash_band2 IS NOT NULL AND simhash_band3 IS NOT NULL AND simhash_band4 IS NOT NULL"

func insertReview(tx *gorm.DB, articleID, reportType string, now time.Time) (bool, error) {
	row := ManualReview{
		ArticleID:  articleID,
		ReviewUUID: uuid.NewString(),
		Status:     ReviewStatusPending,
		ReportType: reportType,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return false, fmt.Errorf("insert review article_id=%s: %w", articleID, res.Error)
	}
	return res.RowsAffected > 0, nil
}

type StatusCount struct {
	Status string `json:"status"`
	Count  int64  `json:"count"`
}

func (p *Pool) CurationStatusCounts(ctx context.Context) ([]StatusCount, error) {
	var rows []StatusCount
	err := p.GORM().WithContext(ctx).
		Model(&CurationRecord{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Order("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("count curation statuses: %w", err)
	}
	return rows, nil
}

func (p *Pool) ReviewStatusCounts(ctx context.Context) ([]StatusCount, error) {
	var rows []StatusCount
	err := p.GORM().WithContext(ctx).
		Model(&ManualReview{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Order("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("count review statuses: %w", err)
	}
	return rows, nil
}
