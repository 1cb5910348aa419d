package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"gorm.io/gorm"

	"horse.fit/curation/internal/lifecycle"
)

const (
	ReviewStatusPending   = "pending"
	ReviewStatusSelected  = "selected"
	ReviewStatusBackup    = "backup"
	ReviewStatusDiscarded = "discarded"
	ReviewStatusExported  = "exported"
)

var ErrReviewNotFound = errors.New("review not found")

// InsertReview enqueues a pending review row; an existing row is kept as is.
func (p *Pool) InsertReview(ctx context.Context, articleID, reportType string, now time.Time) (bool, error) {
	return insertReview(p.GORM().WithContext(ctx), articleID, reportType, now)
}

func (p *Pool) GetReview(ctx context.Context, articleID string) (ManualReview, bool, error) {
	var rows []ManualReview
	if err := p.GORM().WithContext(ctx).Where("article_id = ?", articleID).Limit(1).Find(&rows).Error; err != nil {
		return ManualReview{}, false, fmt.Errorf("load review article_id=%s: %w", articleID, err)
	}
	if len(rows) == 0 {
		return ManualReview{}, false, nil
	}
	return rows[0], true, nil
}

// ReviewFilter narrows the review list. Empty fields do not filter.
type ReviewFilter struct {
	Status     string
	ReportType string
	Region     string
	Sentiment  string
	Page       int
	PageSize   int
}

// ReviewItem is one review row joined with its curation and signal data.
type ReviewItem struct {
	ArticleID       string     `json:"article_id"`
	Status          string     `json:"status"`
	ReportType      string     `json:"report_type"`
	Rank            *float64   `json:"rank,omitempty"`
	Summary         *string    `json:"summary,omitempty"`
	Notes           *string    `json:"notes,omitempty"`
	DecidedBy       *string    `json:"decided_by,omitempty"`
	DecidedAt       *time.Time `json:"decided_at,omitempty"`
	Title           string     `json:"title"`
	Source          string     `json:"source"`
	PublishTime     *time.Time `json:"publish_time,omitempty"`
	Score           *float64   `json:"score,omitempty"`
	ImportanceScore *float64   `json:"importance_score,omitempty"`
	Sentiment       *string    `json:"sentiment,omitempty"`
	BeijingRelated  *bool      `json:"beijing_related,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

const (
	RegionBeijing = "beijing"
	RegionOther   = "other"

	defaultReviewPageSize = 50
	maxReviewPageSize     = 500
)

// ListReviews returns reviewable rows ordered by importance, curator rank,
// effective score, recency and article_id. Rows whose curation record is no
// longer ready_for_export are hidden.
func (p *Pool) ListReviews(ctx context.Context, filter ReviewFilter) ([]ReviewItem, error) {
	query, args, err := buildReviewListQuery(filter)
	if err != nil {
		return nil, err
	}

	rows, err := p.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query reviews: %w", err)
	}
	defer rows.Close()

	items := make([]ReviewItem, 0, 16)
	for rows.Next() {
		var (
			item     ReviewItem
			beijing  *bool
			decided  *time.Time
			publish  *time.Time
			creation time.Time
		)
		if err := rows.Scan(
			&item.ArticleID,
			&item.Status,
			&item.ReportType,
			&item.Rank,
			&item.Summary,
			&item.Notes,
			&item.DecidedBy,
			&decided,
			&item.Title,
			&item.Source,
			&publish,
			&item.Score,
			&item.ImportanceScore,
			&item.Sentiment,
			&beijing,
			&creation,
		); err != nil {
			return nil, fmt.Errorf("scan review row: %w", err)
		}
		item.DecidedAt = decided
		item.PublishTime = publish
		item.BeijingRelated = beijing
		item.CreatedAt = creation
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate review rows: %w", err)
	}
	return items, nil
}

func buildReviewListQuery(filter ReviewFilter) (string, []any, error) {
	builder := sq.Select(
		"mr.article_id",
		"mr.status",
		"mr.report_type",
		"mr.rank",
		"mr.summary",
		"mr.notes",
		"mr.decided_by",
		"mr.decided_at",
		"c.title",
		"c.source",
		"c.publish_time",
		"COALESCE(mr.score_override, c.score) AS effective_score",
		"s.importance_score",
		"s.sentiment",
		"s.beijing_related",
		"c.created_at",
	).
		From("manual_reviews mr").
		Join("curation_records c ON c.article_id = mr.article_id").
		LeftJoin("article_signals s ON s.article_id = mr.article_id").
		Where(sq.Eq{"c.status": string(lifecycle.StatusReadyForExport)})

	if status := strings.TrimSpace(filter.Status); status != "" {
		builder = builder.Where(sq.Eq{"mr.status": status})
	}
	if reportType := strings.TrimSpace(filter.ReportType); reportType != "" {
		builder = builder.Where(sq.Eq{"mr.report_type": reportType})
	}
	switch strings.ToLower(strings.TrimSpace(filter.Region)) {
	case "":
	case RegionBeijing:
		builder = builder.Where(sq.Eq{"s.beijing_related": true})
	case RegionOther:
		builder = builder.Where(sq.Or{sq.Eq{"s.beijing_related": nil}, sq.Eq{"s.beijing_related": false}})
	default:
		return "", nil, fmt.Errorf("unknown region filter %q", filter.Region)
	}
	if sentiment := strings.ToLower(strings.TrimSpace(filter.Sentiment)); sentiment != "" {
		builder = builder.Where(sq.Eq{"s.sentiment": sentiment})
	}

	builder = builder.OrderBy(
		"CASE WHEN s.importance_score IS NULL THEN 1 ELSE 0 END",
		"s.importance_score DESC",
		"CASE WHEN mr.rank IS NULL THEN 1 ELSE 0 END",
		"mr.rank ASC",
		"CASE WHEN COALESCE(mr.score_override, c.score) IS NULL THEN 1 ELSE 0 END",
		"COALESCE(mr.score_override, c.score) DESC",
		"CASE WHEN c.publish_time IS NULL THEN 1 ELSE 0 END",
		"c.publish_time DESC",
		"c.created_at DESC",
		"mr.article_id ASC",
	)

	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = defaultReviewPageSize
	}
	if pageSize > maxReviewPageSize {
		pageSize = maxReviewPageSize
	}
	page := max(filter.Page, 1)
	builder = builder.Limit(uint64(pageSize)).Offset(uint64((page - 1) * pageSize))

	query, args, err := builder.ToSql()
	if err != nil {
		return "", nil, fmt.Errorf("build review list query: %w", err)
	}
	return query, args, nil
}

// ReviewDecision is one curator status change. A nil Rank on selected or
// backup takes the next rank in the target bucket.
type ReviewDecision struct {
	ArticleID string
	Status    string
	Rank      *float64
}

// UpdateReviewStatuses applies a batch of decisions in one transaction and
// appends an audit event per changed row.
func (p *Pool) UpdateReviewStatuses(ctx context.Context, decisions []ReviewDecision, actor string, now time.Time) ([]ManualReview, error) {
	updated := make([]ManualReview, 0, len(decisions))
	err := p.Transaction(ctx, func(tx *gorm.DB) error {
		for _, d := range decisions {
			review, err := loadReview(tx, d.ArticleID)
			if err != nil {
				return err
			}

			rank := d.Rank
			if rank == nil && (d.Status == ReviewStatusSelected || d.Status == ReviewStatusBackup) {
				if review.Status == d.Status && review.Rank != nil {
					rank = review.Rank
				} else {
					next, err := nextRank(tx, review.ReportType, d.Status)
					if err != nil {
						return err
					}
					rank = &next
				}
			}

			decidedBy := actor
			decidedAt := now
			if err := tx.Model(&ManualReview{}).
				Where("article_id = ?", d.ArticleID).
				Updates(map[string]any{
					"status":     d.Status,
					"rank":       rank,
					"decided_by": decidedBy,
					"decided_at": decidedAt,
					"updated_at": now,
				}).Error; err != nil {
				return fmt.Errorf("update review article_id=%s: %w", d.ArticleID, err)
			}
			if err := appendReviewEvent(tx, d.ArticleID, review.Status, d.Status, actor, now); err != nil {
				return err
			}

			review.Status = d.Status
			review.Rank = rank
			review.DecidedBy = &decidedBy
			review.DecidedAt = &decidedAt
			review.UpdatedAt = now
			updated = append(updated, review)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ResetReviews puts reviews back to pending with no rank, recording who reset
// them.
func (p *Pool) ResetReviews(ctx context.Context, articleIDs []string, actor string, now time.Time) (int, error) {
	var reset int
	err := p.Transaction(ctx, func(tx *gorm.DB) error {
		for _, id := range articleIDs {
			review, err := loadReview(tx, id)
			if err != nil {
				return err
			}
			if err := tx.Model(&ManualReview{}).
				Where("article_id = ?", id).
				Updates(map[string]any{
					"status":     ReviewStatusPending,
					"rank":       nil,
					"decided_by": actor,
					"decided_at": now,
					"updated_at": now,
				}).Error; err != nil {
				return fmt.Errorf("reset review article_id=%s: %w", id, err)
			}
			if err := appendReviewEvent(tx, id, review.Status, ReviewStatusPending, actor, now); err != nil {
				return err
			}
			reset++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return reset, nil
}

// ReviewOverrides carries curator edits. Nil fields keep the stored value.
type ReviewOverrides struct {
	Summary *string
	Notes   *string
	Score   *float64
}

// EditReview merges overrides into the stored review.
func (p *Pool) EditReview(ctx context.Context, articleID string, overrides ReviewOverrides, now time.Time) (ManualReview, error) {
	var merged ManualReview
	err := p.Transaction(ctx, func(tx *gorm.DB) error {
		review, err := loadReview(tx, articleID)
		if err != nil {
			return err
		}
		if overrides.Summary != nil {
			review.Summary = overrides.Summary
		}
		if overrides.Notes != nil {
			review.Notes = overrides.Notes
		}
		if overrides.Score != nil {
			review.ScoreOverride = overrides.Score
		}
		review.UpdatedAt = now
		if err := tx.Save(&review).Error; err != nil {
			return fmt.Errorf("save review article_id=%s: %w", articleID, err)
		}
		merged = review
		return nil
	})
	if err != nil {
		return ManualReview{}, err
	}
	return merged, nil
}

func (p *Pool) ListReviewEvents(ctx context.Context, articleID string) ([]ReviewEvent, error) {
	var events []ReviewEvent
	if err := p.GORM().WithContext(ctx).
		Where("article_id = ?", articleID).
		Order("event_id ASC").
		Find(&events).Error; err != nil {
		return nil, fmt.Errorf("list review events article_id=%s: %w", articleID, err)
	}
	return events, nil
}

func loadReview(tx *gorm.DB, articleID string) (ManualReview, error) {
	var rows []ManualReview
	if err := tx.Where("article_id = ?", articleID).Limit(1).Find(&rows).Error; err != nil {
		return ManualReview{}, fmt.Errorf("load review article_id=%s: %w", articleID, err)
	}
	if len(rows) == 0 {
		return ManualReview{}, fmt.Errorf("article_id=%s: %w", articleID, ErrReviewNotFound)
	}
	return rows[0], nil
}

func nextRank(tx *gorm.DB, reportType, status string) (float64, error) {
	var current sql.NullFloat64
	if err := tx.Model(&ManualReview{}).
		Select("MAX(rank)").
		Where("report_type = ? AND status = ?", reportType, status).
		Row().
		Scan(&current); err != nil {
		return 0, fmt.Errorf("max rank %s/%s: %w", reportType, status, err)
	}
	if !current.Valid {
		return 1, nil
	}
	return current.Float64 + 1, nil
}

func appendReviewEvent(tx *gorm.DB, articleID, from, to, actor string, now time.Time) error {
	event := ReviewEvent{
		ArticleID:  articleID,
		FromStatus: from,
		ToStatus:   to,
		Actor:      actor,
		At:         now,
	}
	if err := tx.Create(&event).Error; err != nil {
		return fmt.Errorf("append review event article_id=%s: %w", articleID, err)
	}
	return nil
}

// DedupActor is recorded on review events written when dedup demotes a
// reviewed article to a duplicate.
const DedupActor = "dedup"

// discardDemotedReview marks the review of an article that just became a
// duplicate as discarded. Exported and already discarded reviews are kept as
// they are.
func discardDemotedReview(tx *gorm.DB, articleID, primaryID string, now time.Time) error {
	var rows []ManualReview
	if err := tx.Where("article_id = ?", articleID).Limit(1).Find(&rows).Error; err != nil {
		return fmt.Errorf("load review article_id=%s: %w", articleID, err)
	}
	if len(rows) == 0 {
		return nil
	}
	review := rows[0]
	if review.Status == ReviewStatusExported || review.Status == ReviewStatusDiscarded {
		return nil
	}

	note := fmt.Sprintf("duplicate of %s", primaryID)
	if err := tx.Model(&ManualReview{}).
		Where("article_id = ?", articleID).
		Updates(map[string]any{
			"status":     ReviewStatusDiscarded,
			"rank":       nil,
			"notes":      gorm.Expr("COALESCE(notes, ?)", note),
			"decided_by": DedupActor,
			"decided_at": now,
			"updated_at": now,
		}).Error; err != nil {
		return fmt.Errorf("discard review article_id=%s: %w", articleID, err)
	}
	return appendReviewEvent(tx, articleID, review.Status, ReviewStatusDiscarded, DedupActor, now)
}
