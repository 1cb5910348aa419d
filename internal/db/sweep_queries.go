package db

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"horse.fit/curation/internal/lifecycle"
)

// ResetToPending puts the given rows back to pending and clears their cluster
// pointer. Duplicates pointing at any of them are reset too so no duplicate is
// left behind a non-root. With clearFingerprint the fingerprint columns of the
// given rows are nulled so the generator recomputes them.
func (p *Pool) ResetToPending(ctx context.Context, articleIDs []string, clearFingerprint bool, now time.Time) (int, error) {
	if len(articleIDs) == 0 {
		return 0, nil
	}

	var affected int
	err := p.Transaction(ctx, func(tx *gorm.DB) error {
		n, err := resetToPendingTx(tx, articleIDs, clearFingerprint, now)
		affected = n
		return err
	})
	if err != nil {
		return 0, err
	}
	return affected, nil
}

func resetToPendingTx(tx *gorm.DB, articleIDs []string, clearFingerprint bool, now time.Time) (int, error) {
	var members []string
	if err := tx.Model(&CurationRecord{}).
		Where("status = ? AND primary_article_id IN ?", string(lifecycle.StatusDuplicate), articleIDs).
		Where("article_id NOT IN ?", articleIDs).
		Pluck("article_id", &members).Error; err != nil {
		return 0, fmt.Errorf("list cluster members: %w", err)
	}

	base := map[string]any{
		"status":             string(lifecycle.StatusPending),
		"primary_article_id": nil,
		"failure_reason":     nil,
		"updated_at":         now,
	}
	targets := base
	if clearFingerprint {
		targets = map[string]any{
			"content_hash":     nil,
			"simhash":          nil,
			"simhash_band1":    nil,
			"simhash_band2":    nil,
			"simhash_band3":    nil,
			"simhash_band4":    nil,
			"fingerprinted_at": nil,
		}
		for k, v := range base {
			targets[k] = v
		}
	}

	res := tx.Model(&CurationRecord{}).Where("article_id IN ?", articleIDs).Updates(targets)
	if res.Error != nil {
		return 0, fmt.Errorf("reset records to pending: %w", res.Error)
	}
	affected := int(res.RowsAffected)

	if len(members) > 0 {
		res = tx.Model(&CurationRecord{}).Where("article_id IN ?", members).Updates(base)
		if res.Error != nil {
			return 0, fmt.Errorf("reset cluster members to pending: %w", res.Error)
		}
		affected += int(res.RowsAffected)
	}
	return affected, nil
}

// RequeueIntegrityMismatches sends ready_for_export rows with missing
// fingerprint columns back to pending for re-fingerprinting.
func (p *Pool) RequeueIntegrityMismatches(ctx context.Context, now time.Time) ([]string, error) {
	var ids []string
	err := p.GORM().WithContext(ctx).
		Model(&CurationRecord{}).
		Where("status = ?", string(lifecycle.StatusReadyForExport)).
		Where("NOT (" + completeFingerprintSQL + ")").
		Order("created_at ASC, article_id ASC").
		Pluck("article_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("list integrity mismatches: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	if _, err := p.ResetToPending(ctx, ids, true, now); err != nil {
		return nil, err
	}
	return ids, nil
}

// ResetFailed moves every failed row back to pending.
func (p *Pool) ResetFailed(ctx context.Context, now time.Time) (int, error) {
	var ids []string
	if err := p.GORM().WithContext(ctx).
		Model(&CurationRecord{}).
		Where("status = ?", string(lifecycle.StatusFailed)).
		Pluck("article_id", &ids).Error; err != nil {
		return 0, fmt.Errorf("list failed records: %w", err)
	}
	return p.ResetToPending(ctx, ids, false, now)
}

// ForceRehash clears fingerprints of the given rows, or of every non-failed
// row when articleIDs is empty.
func (p *Pool) ForceRehash(ctx context.Context, articleIDs []string, now time.Time) (int, error) {
	ids := articleIDs
	if len(ids) == 0 {
		if err := p.GORM().WithContext(ctx).
			Model(&CurationRecord{}).
			Where("status <> ?", string(lifecycle.StatusFailed)).
			Pluck("article_id", &ids).Error; err != nil {
			return 0, fmt.Errorf("list records to rehash: %w", err)
		}
	}
	return p.ResetToPending(ctx, ids, true, now)
}
