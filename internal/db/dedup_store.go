package db

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"horse.fit/curation/internal/dedup"
	"horse.fit/curation/internal/globaltime"
	"horse.fit/curation/internal/lifecycle"
)

const dedupColumns = "article_id, content_hash, simhash, status, primary_article_id, created_at"

var candidateStatuses = []string{
	string(lifecycle.StatusHashed),
	string(lifecycle.StatusPrimary),
	string(lifecycle.StatusDuplicate),
	string(lifecycle.StatusScored),
	string(lifecycle.StatusReadyForExport),
}

// DedupStore exposes curation_records to the dedup resolver. Band lookups go
// through the four indexed band columns.
type DedupStore struct {
	pool *Pool
}

var _ dedup.Store = (*DedupStore)(nil)

func NewDedupStore(pool *Pool) *DedupStore {
	return &DedupStore{pool: pool}
}

func (s *DedupStore) Get(ctx context.Context, articleID string) (dedup.Record, bool, error) {
	var rows []CurationRecord
	if err := s.pool.GORM().WithContext(ctx).
		Select(dedupColumns).
		Where("article_id = ?", articleID).
		Limit(1).
		Find(&rows).Error; err != nil {
		return dedup.Record{}, false, fmt.Errorf("load dedup record article_id=%s: %w", articleID, err)
	}
	if len(rows) == 0 {
		return dedup.Record{}, false, nil
	}
	return toDedupRecord(rows[0]), true, nil
}

func (s *DedupStore) ListHashed(ctx context.Context, limit int) ([]dedup.Record, error) {
	query := s.pool.GORM().WithContext(ctx).
		Select(dedupColumns).
		Where("status = ? AND simhash IS NOT NULL", string(lifecycle.StatusHashed)).
		Order("created_at ASC, article_id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var rows []CurationRecord
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list hashed records: %w", err)
	}
	return toDedupRecords(rows), nil
}

func (s *DedupStore) BandCandidates(ctx context.Context, r dedup.Record) ([]dedup.Record, error) {
	bands := r.Bands()
	var rows []CurationRecord
	err := s.pool.GORM().WithContext(ctx).
		Select(dedupColumns).
		Where("article_id <> ?", r.ArticleID).
		Where("simhash IS NOT NULL AND status IN ?", candidateStatuses).
		Where("(simhash_band1 = ? OR simhash_band2 = ? OR simhash_band3 = ? OR simhash_band4 = ?)",
			int(bands[0]), int(bands[1]), int(bands[2]), int(bands[3])).
		Order("created_at ASC, article_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("band candidates article_id=%s: %w", r.ArticleID, err)
	}
	return toDedupRecords(rows), nil
}

func (s *DedupStore) Members(ctx context.Context, primaryID string) ([]dedup.Record, error) {
	var rows []CurationRecord
	err := s.pool.GORM().WithContext(ctx).
		Select(dedupColumns).
		Where("status = ? AND primary_article_id = ?", string(lifecycle.StatusDuplicate), primaryID).
		Order("created_at ASC, article_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("cluster members of %s: %w", primaryID, err)
	}
	return toDedupRecords(rows), nil
}

// Apply writes a resolution in one transaction. Every status change is checked
// against the lifecycle, and the transaction rolls back with dedup.ErrChain
// when a duplicate would end up behind anything other than a cluster root. A
// demoted root's open review is discarded with a dedup event.
func (s *DedupStore) Apply(ctx context.Context, res dedup.Resolution) error {
	now := globaltime.UTC()
	return s.pool.Transaction(ctx, func(tx *gorm.DB) error {
		next := make(map[string]lifecycle.Status, len(res.Assignments))
		for _, as := range res.Assignments {
			current, err := loadStatus(tx, as.ArticleID)
			if err != nil {
				return err
			}
			if err := lifecycle.CheckTransition(current, as.Status); err != nil {
				return fmt.Errorf("article_id=%s: %w", as.ArticleID, err)
			}

			var primary any
			if as.Status == lifecycle.StatusDuplicate {
				primary = as.PrimaryArticleID
			}
			if err := tx.Model(&CurationRecord{}).
				Where("article_id = ?", as.ArticleID).
				Updates(map[string]any{
					"status":             string(as.Status),
					"primary_article_id": primary,
					"updated_at":         now,
				}).Error; err != nil {
				return fmt.Errorf("update article_id=%s: %w", as.ArticleID, err)
			}
			next[as.ArticleID] = as.Status

			if current.IsClusterRoot() && as.Status == lifecycle.StatusDuplicate {
				if err := discardDemotedReview(tx, as.ArticleID, as.PrimaryArticleID, now); err != nil {
					return err
				}
			}
		}

		for _, as := range res.Assignments {
			if as.Status != lifecycle.StatusDuplicate {
				continue
			}
			if as.PrimaryArticleID == "" || as.PrimaryArticleID == as.ArticleID {
				return fmt.Errorf("%w: %s -> %q", dedup.ErrChain, as.ArticleID, as.PrimaryArticleID)
			}
			target, ok := next[as.PrimaryArticleID]
			if !ok {
				var err error
				if target, err = loadStatus(tx, as.PrimaryArticleID); err != nil {
					return err
				}
			}
			if !target.IsClusterRoot() {
				return fmt.Errorf("%w: %s -> %s (%s)", dedup.ErrChain, as.ArticleID, as.PrimaryArticleID, target)
			}
		}

		for id, status := range next {
			if status.IsClusterRoot() {
				continue
			}
			var stranded int64
			if err := tx.Model(&CurationRecord{}).
				Where("status = ? AND primary_article_id = ?", string(lifecycle.StatusDuplicate), id).
				Count(&stranded).Error; err != nil {
				return fmt.Errorf("count members of %s: %w", id, err)
			}
			if stranded > 0 {
				return fmt.Errorf("%w: %d duplicates left pointing at %s", dedup.ErrChain, stranded, id)
			}
		}
		return nil
	})
}

// AllDedupRecords loads every fingerprinted or resolved row for chain checks.
func (s *DedupStore) AllDedupRecords(ctx context.Context) ([]dedup.Record, error) {
	var rows []CurationRecord
	if err := s.pool.GORM().WithContext(ctx).
		Select(dedupColumns).
		Order("created_at ASC, article_id ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load dedup records: %w", err)
	}
	return toDedupRecords(rows), nil
}

func loadStatus(tx *gorm.DB, articleID string) (lifecycle.Status, error) {
	var rows []CurationRecord
	if err := tx.Select("article_id", "status").Where("article_id = ?", articleID).Limit(1).Find(&rows).Error; err != nil {
		return "", fmt.Errorf("load status article_id=%s: %w", articleID, err)
	}
	if len(rows) == 0 {
		return "", fmt.Errorf("article_id=%s: %w", articleID, ErrNoRows)
	}
	return lifecycle.Parse(rows[0].Status)
}

func toDedupRecord(row CurationRecord) dedup.Record {
	r := dedup.Record{
		ArticleID: row.ArticleID,
		Status:    lifecycle.Status(row.Status),
		CreatedAt: row.CreatedAt.In(time.UTC),
	}
	if row.ContentHash != nil {
		r.ContentHash = *row.ContentHash
	}
	if row.Simhash != nil {
		r.Simhash = uint64(*row.Simhash)
	}
	if row.PrimaryArticleID != nil {
		r.PrimaryArticleID = *row.PrimaryArticleID
	}
	return r
}

func toDedupRecords(rows []CurationRecord) []dedup.Record {
	out := make([]dedup.Record, 0, len(rows))
	for _, row := range rows {
		out = append(out, toDedupRecord(row))
	}
	return out
}
