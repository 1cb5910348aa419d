package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"horse.fit/curation/internal/lifecycle"
)

// ArticleInput is one article as delivered by ingestion.
type ArticleInput struct {
	ArticleID   string
	Title       string
	Content     string
	Source      string
	PublishTime *time.Time
}

type UpsertOutcome string

const (
	UpsertInserted  UpsertOutcome = "inserted"
	UpsertUpdated   UpsertOutcome = "updated"
	UpsertUnchanged UpsertOutcome = "unchanged"
)

// UpsertArticle reads the existing row, merges the input into it and writes
// it back in one transaction.
func (p *Pool) UpsertArticle(ctx context.Context, in ArticleInput, now time.Time) (UpsertOutcome, error) {
	articleID := strings.TrimSpace(in.ArticleID)
	if articleID == "" {
		return "", lifecycle.ErrMissingArticleID
	}
	in.ArticleID = articleID

	var outcome UpsertOutcome
	err := p.Transaction(ctx, func(tx *gorm.DB) error {
		var existing []Article
		if err := tx.Where("article_id = ?", articleID).Limit(1).Find(&existing).Error; err != nil {
			return fmt.Errorf("load article_id=%s: %w", articleID, err)
		}

		if len(existing) == 0 {
			row := Article{
				ArticleID:   articleID,
				Title:       strings.TrimSpace(in.Title),
				Content:     in.Content,
				Source:      strings.TrimSpace(in.Source),
				PublishTime: utcPtr(in.PublishTime),
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
			if res.Error != nil {
				return fmt.Errorf("insert article_id=%s: %w", articleID, res.Error)
			}
			outcome = UpsertInserted
			if res.RowsAffected == 0 {
				outcome = UpsertUnchanged
			}
			return nil
		}

		merged, changed := MergeArticle(existing[0], in)
		if !changed {
			outcome = UpsertUnchanged
			return nil
		}
		merged.UpdatedAt = now
		if err := tx.Save(&merged).Error; err != nil {
			return fmt.Errorf("update article_id=%s: %w", articleID, err)
		}
		outcome = UpsertUpdated
		return nil
	})
	if err != nil {
		return "", err
	}
	return outcome, nil
}

// MergeArticle applies the ingestion merge policy: content is kept once it is
// non-empty, the other fields take the incoming value when it is non-empty.
func MergeArticle(existing Article, in ArticleInput) (Article, bool) {
	merged := existing
	if strings.TrimSpace(existing.Content) == "" && strings.TrimSpace(in.Content) != "" {
		merged.Content = in.Content
	}
	if title := strings.TrimSpace(in.Title); title != "" {
		merged.Title = title
	}
	if source := strings.TrimSpace(in.Source); source != "" {
		merged.Source = source
	}
	if in.PublishTime != nil {
		merged.PublishTime = utcPtr(in.PublishTime)
	}

	changed := merged.Content != existing.Content ||
		merged.Title != existing.Title ||
		merged.Source != existing.Source ||
		!timePtrEqual(merged.PublishTime, existing.PublishTime)
	return merged, changed
}

// ListFilterCandidates returns articles that have no curation row yet, plus
// articles whose curation row is still waiting for content.
func (p *Pool) ListFilterCandidates(ctx context.Context, limit int) ([]Article, error) {
	const q = `
SELECT a.article_id, a.title, a.content, a.source, a.publish_time, a.created_at, a.updated_at
FROM articles a
LEFT JOIN curation_records c
	ON c.article_id = a.article_id
WHERE c.article_id IS NULL
	OR (c.content = '' AND a.content <> '')
ORDER BY a.created_at ASC, a.article_id ASC
`
	query := p.GORM().WithContext(ctx).Raw(q)
	if limit > 0 {
		query = p.GORM().WithContext(ctx).Raw(q+" LIMIT ?", limit)
	}

	var items []Article
	if err := query.Scan(&items).Error; err != nil {
		return nil, fmt.Errorf("query filter candidates: %w", err)
	}
	return items, nil
}

func (p *Pool) GetArticle(ctx context.Context, articleID string) (Article, bool, error) {
	var rows []Article
	if err := p.GORM().WithContext(ctx).Where("article_id = ?", articleID).Limit(1).Find(&rows).Error; err != nil {
		return Article{}, false, fmt.Errorf("load article_id=%s: %w", articleID, err)
	}
	if len(rows) == 0 {
		return Article{}, false, nil
	}
	return rows[0], true, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	v := t.UTC()
	return &v
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
