package db

import (
	"time"
)

// Article maps articles, the ingested raw record.
type Article struct {
	ArticleID   string     `gorm:"column:article_id;primaryKey;size:256"`
	Title       string     `gorm:"column:title;type:text;not null;default:''"`
	Content     string     `gorm:"column:content;type:text;not null;default:''"`
	Source      string     `gorm:"column:source;type:text;not null;default:''"`
	PublishTime *time.Time `gorm:"column:publish_time"`
	CreatedAt   time.Time  `gorm:"column:created_at;not null"`
	UpdatedAt   time.Time  `gorm:"column:updated_at;not null"`
}

func (Article) TableName() string { return "articles" }

// CurationRecord maps curation_records, the working copy that carries the
// fingerprint, cluster and lifecycle fields.
type CurationRecord struct {
	ArticleID        string     `gorm:"column:article_id;primaryKey;size:256"`
	Title            string     `gorm:"column:title;type:text;not null;default:''"`
	Content          string     `gorm:"column:content;type:text;not null;default:''"`
	Source           string     `gorm:"column:source;type:text;not null;default:''"`
	PublishTime      *time.Time `gorm:"column:publish_time"`
	ContentHash      *string    `gorm:"column:content_hash;size:64;index:idx_curation_content_hash"`
	Simhash          *int64     `gorm:"column:simhash"`
	SimhashBand1     *int       `gorm:"column:simhash_band1;index:idx_curation_band1"`
	SimhashBand2     *int       `gorm:"column:simhash_band2;index:idx_curation_band2"`
	SimhashBand3     *int       `gorm:"column:simhash_band3;index:idx_curation_band3"`
	SimhashBand4     *int       `gorm:"column:simhash_band4;index:idx_curation_band4"`
	PrimaryArticleID *string    `gorm:"column:primary_article_id;size:256;index:idx_curation_primary"`
	Status           string     `gorm:"column:status;size:32;not null;default:pending;index:idx_curation_status_created,priority:1"`
	Score            *float64   `gorm:"column:score"`
	FailureReason    *string    `gorm:"column:failure_reason;type:text"`
	FingerprintedAt  *time.Time `gorm:"column:fingerprinted_at"`
	CreatedAt        time.Time  `gorm:"column:created_at;not null;index:idx_curation_status_created,priority:2"`
	UpdatedAt        time.Time  `gorm:"column:updated_at;not null"`
}

func (CurationRecord) TableName() string { return "curation_records" }

// ArticleSignal maps article_signals, the review-ordering signals written by
// the scoring collaborator.
type ArticleSignal struct {
	ArticleID       string    `gorm:"column:article_id;primaryKey;size:256"`
	ImportanceScore *float64  `gorm:"column:importance_score"`
	Sentiment       *string   `gorm:"column:sentiment;size:32"`
	BeijingRelated  *bool     `gorm:"column:beijing_related"`
	UpdatedAt       time.Time `gorm:"column:updated_at;not null"`
}

func (ArticleSignal) TableName() string { return "article_signals" }

// ManualReview maps manual_reviews. Rows are never deleted.
type ManualReview struct {
	ArticleID     string     `gorm:"column:article_id;primaryKey;size:256"`
	ReviewUUID    string     `gorm:"column:review_uuid;size:36;not null;uniqueIndex"`
	Status        string     `gorm:"column:status;size:32;not null;default:pending;index:idx_review_bucket,priority:2"`
	ReportType    string     `gorm:"column:report_type;size:64;not null;index:idx_review_bucket,priority:1"`
	Rank          *float64   `gorm:"column:rank"`
	Summary       *string    `gorm:"column:summary;type:text"`
	Notes         *string    `gorm:"column:notes;type:text"`
	ScoreOverride *float64   `gorm:"column:score_override"`
	DecidedBy     *string    `gorm:"column:decided_by;size:128"`
	DecidedAt     *time.Time `gorm:"column:decided_at"`
	CreatedAt     time.Time  `gorm:"column:created_at;not null"`
	UpdatedAt     time.Time  `gorm:"column:updated_at;not null"`
}

func (ManualReview) TableName() string { return "manual_reviews" }

// ReviewEvent maps review_events, the append-only audit trail of review
// status changes.
type ReviewEvent struct {
	EventID    int64     `gorm:"column:event_id;primaryKey;autoIncrement"`
	ArticleID  string    `gorm:"column:article_id;size:256;not null;index"`
	FromStatus string    `gorm:"column:from_status;size:32;not null"`
	ToStatus   string    `gorm:"column:to_status;size:32;not null"`
	Actor      string    `gorm:"column:actor;size:128;not null;default:''"`
	At         time.Time `gorm:"column:occurred_at;not null"`
}

func (ReviewEvent) TableName() string { return "review_events" }

// ExportRecord maps export_records. A row exists exactly when the article
// was exported under the tag.
type ExportRecord struct {
	ArticleID   string    `gorm:"column:article_id;primaryKey;size:256"`
	ReportTag   string    `gorm:"column:report_tag;primaryKey;size:128"`
	ExportRunID string    `gorm:"column:export_run_id;size:36;not null;index"`
	Category    string    `gorm:"column:category;size:128;not null"`
	Score       *float64  `gorm:"column:score"`
	ExportedAt  time.Time `gorm:"column:exported_at;not null"`
}

func (ExportRecord) TableName() string { return "export_records" }

func autoMigrateModels() []any {
	return []any{
		&Article{},
		&CurationRecord{},
		&ArticleSignal{},
		&ManualReview{},
		&ReviewEvent{},
		&ExportRecord{},
	}
}
